package fault

import "errors"

// Expected, recoverable failure conditions surfaced by the coordination core.
// Handlers translate these into response codes; domain packages wrap them
// with operation context.
var (
	// ErrNotFound indicates the referenced entity does not exist.
	ErrNotFound = errors.New("entity not found")
	// ErrNotAuthorized indicates the actor lacks permission for the entity's current state.
	ErrNotAuthorized = errors.New("not authorized")
	// ErrAlreadyExists indicates a uniqueness violation for the requested creation.
	ErrAlreadyExists = errors.New("already exists")
	// ErrAlreadyProcessed indicates the targeted state transition has already happened.
	ErrAlreadyProcessed = errors.New("already processed")
	// ErrInvalidOperation indicates a structurally disallowed transition.
	ErrInvalidOperation = errors.New("invalid operation")
	// ErrInvalidThread indicates malformed comment ancestry.
	ErrInvalidThread = errors.New("invalid thread ancestry")
	// ErrSelfReference indicates an operation targeting the acting user itself.
	ErrSelfReference = errors.New("self reference")
	// ErrCallFull indicates the call session is at participant capacity.
	ErrCallFull = errors.New("call full")
	// ErrCallEnded indicates the call session has already ended.
	ErrCallEnded = errors.New("call ended")
	// ErrCallNotJoinable indicates the participant may not join the session.
	ErrCallNotJoinable = errors.New("call not joinable")
)
