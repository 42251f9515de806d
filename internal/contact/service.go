package contact

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/commonshq/commons-backend/internal/event"
	"github.com/commonshq/commons-backend/internal/fault"
	"github.com/commonshq/commons-backend/internal/ident"
)

// RespondAction enumerates the answers a recipient may give to a pending request.
type RespondAction string

const (
	// ActionAccept turns a pending request into a mutual contact.
	ActionAccept RespondAction = "accept"
	// ActionDecline rejects a pending request.
	ActionDecline RespondAction = "decline"
	// ActionBlock rejects a pending request and blocks the requester.
	ActionBlock RespondAction = "block"
)

const (
	opRequest  = "contact.request"
	opRespond  = "contact.respond"
	opBlock    = "contact.block"
	opUnblock  = "contact.unblock"
	opRemove   = "contact.remove"
	opStatusOf = "contact.status_of"
	opList     = "contact.list"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps a contact failure with a dotted operation.reason code.
type ServiceError struct {
	code string
	err  error
}

func (e *ServiceError) Error() string {
	if e.err == nil {
		return e.code
	}
	return fmt.Sprintf("%s: %v", e.code, e.err)
}

func (e *ServiceError) Unwrap() error {
	return e.err
}

// Code returns the dotted operation.reason code.
func (e *ServiceError) Code() string {
	return e.code
}

func newServiceError(operation, reason string, cause error) error {
	return &ServiceError{code: fmt.Sprintf("%s.%s", operation, reason), err: cause}
}

// ServiceConfig describes the dependencies of the contact graph.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ident.Provider
	Events     event.Publisher
	Logger     *zap.Logger
}

// Service maintains the pairwise relationship state machine.
type Service struct {
	db     *gorm.DB
	clock  func() time.Time
	ids    ident.Provider
	events event.Publisher
	logger *zap.Logger
}

// NewService constructs the contact graph service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError("contact.service.new", "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError("contact.service.new", "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Service{
		db:     cfg.Database,
		clock:  clock,
		ids:    cfg.IDProvider,
		events: cfg.Events,
		logger: logger,
	}, nil
}

// Request creates a pending contact request from requester to recipient.
func (s *Service) Request(ctx context.Context, requesterID, recipientID, note string) (*Contact, error) {
	requesterID = strings.TrimSpace(requesterID)
	recipientID = strings.TrimSpace(recipientID)
	if requesterID == "" || recipientID == "" {
		return nil, newServiceError(opRequest, "missing_user", fault.ErrNotFound)
	}
	if requesterID == recipientID {
		return nil, newServiceError(opRequest, "self_request", fault.ErrSelfReference)
	}

	low, high := normalizePair(requesterID, recipientID)
	now := s.clock().UTC()
	row := Contact{
		UserLow:            low,
		UserHigh:           high,
		Status:             StatusPending,
		InitiatorID:        requesterID,
		Note:               strings.TrimSpace(note),
		RequestedAtSeconds: now.Unix(),
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing Contact
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_low = ? AND user_high = ?", low, high).
			Take(&existing).Error
		if err == nil {
			return newServiceError(opRequest, "pair_"+string(existing.Status), fault.ErrAlreadyExists)
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opRequest, "pair_select_failed", err)
		}
		contactID, err := s.ids.NewID()
		if err != nil {
			return newServiceError(opRequest, "id_generation_failed", err)
		}
		row.ContactID = contactID
		if err := tx.Create(&row).Error; err != nil {
			return newServiceError(opRequest, "insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logFailure(opRequest, txErr, requesterID, recipientID)
		return nil, txErr
	}

	s.publish(ctx, event.Event{
		Type:          event.TypeContactRequested,
		TargetUserID:  recipientID,
		ActorID:       requesterID,
		NotifyUserIDs: []string{recipientID},
		Payload:       map[string]string{"contact_id": row.ContactID},
	})
	return &row, nil
}

// Respond answers a pending request. Only the recipient of the request may
// respond, and only while the row is still pending.
func (s *Service) Respond(ctx context.Context, contactID, responderID string, action RespondAction) (*Contact, error) {
	var row Contact
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("contact_id = ?", contactID).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opRespond, "contact_missing", fault.ErrNotFound)
		}
		if err != nil {
			return newServiceError(opRespond, "contact_select_failed", err)
		}
		if !row.Involves(responderID) || responderID == row.InitiatorID {
			return newServiceError(opRespond, "not_recipient", fault.ErrNotAuthorized)
		}
		if row.Status != StatusPending {
			return newServiceError(opRespond, "status_"+string(row.Status), fault.ErrAlreadyProcessed)
		}

		switch action {
		case ActionAccept:
			row.Status = StatusAccepted
		case ActionDecline:
			row.Status = StatusDeclined
		case ActionBlock:
			row.Status = StatusBlocked
			row.BlockedByID = responderID
		default:
			return newServiceError(opRespond, "unknown_action", fault.ErrInvalidOperation)
		}
		row.RespondedAtSeconds = s.clock().UTC().Unix()
		if err := tx.Save(&row).Error; err != nil {
			return newServiceError(opRespond, "update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logFailure(opRespond, txErr, responderID, contactID)
		return nil, txErr
	}

	if row.Status == StatusAccepted {
		s.publish(ctx, event.Event{
			Type:          event.TypeContactAccepted,
			TargetUserID:  row.InitiatorID,
			ActorID:       responderID,
			NotifyUserIDs: []string{row.InitiatorID},
			Payload:       map[string]string{"contact_id": row.ContactID},
		})
	}
	return &row, nil
}

// Block moves the pair into the blocked state regardless of prior state,
// creating the row when absent. Repeating the call is not an error.
func (s *Service) Block(ctx context.Context, actorID, targetID string) (*Contact, error) {
	actorID = strings.TrimSpace(actorID)
	targetID = strings.TrimSpace(targetID)
	if actorID == targetID {
		return nil, newServiceError(opBlock, "self_block", fault.ErrSelfReference)
	}
	low, high := normalizePair(actorID, targetID)
	now := s.clock().UTC()

	var row Contact
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_low = ? AND user_high = ?", low, high).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			contactID, idErr := s.ids.NewID()
			if idErr != nil {
				return newServiceError(opBlock, "id_generation_failed", idErr)
			}
			row = Contact{
				ContactID:          contactID,
				UserLow:            low,
				UserHigh:           high,
				Status:             StatusBlocked,
				InitiatorID:        actorID,
				BlockedByID:        actorID,
				RequestedAtSeconds: now.Unix(),
				RespondedAtSeconds: now.Unix(),
			}
			if err := tx.Create(&row).Error; err != nil {
				return newServiceError(opBlock, "insert_failed", err)
			}
			return nil
		}
		if err != nil {
			return newServiceError(opBlock, "pair_select_failed", err)
		}
		if row.Status == StatusBlocked {
			// Idempotent, and a block by the peer stays theirs to clear.
			return nil
		}
		row.Status = StatusBlocked
		row.BlockedByID = actorID
		row.RespondedAtSeconds = now.Unix()
		if err := tx.Save(&row).Error; err != nil {
			return newServiceError(opBlock, "update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logFailure(opBlock, txErr, actorID, targetID)
		return nil, txErr
	}
	return &row, nil
}

// Unblock clears a block and removes the relationship row entirely. Only the
// original blocker may unblock.
func (s *Service) Unblock(ctx context.Context, actorID, targetID string) error {
	low, high := normalizePair(actorID, targetID)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Contact
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_low = ? AND user_high = ?", low, high).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opUnblock, "pair_missing", fault.ErrNotFound)
		}
		if err != nil {
			return newServiceError(opUnblock, "pair_select_failed", err)
		}
		if row.Status != StatusBlocked {
			return newServiceError(opUnblock, "not_blocked", fault.ErrInvalidOperation)
		}
		if row.BlockedByID != actorID {
			return newServiceError(opUnblock, "not_blocker", fault.ErrNotAuthorized)
		}
		if err := tx.Delete(&Contact{}, "contact_id = ?", row.ContactID).Error; err != nil {
			return newServiceError(opUnblock, "delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logFailure(opUnblock, txErr, actorID, targetID)
	}
	return txErr
}

// Remove deletes a non-blocked relationship row. Either member may remove;
// blocked rows are cleared through Unblock only.
func (s *Service) Remove(ctx context.Context, actorID, targetID string) error {
	low, high := normalizePair(actorID, targetID)
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Contact
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("user_low = ? AND user_high = ?", low, high).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opRemove, "pair_missing", fault.ErrNotFound)
		}
		if err != nil {
			return newServiceError(opRemove, "pair_select_failed", err)
		}
		if !row.Involves(actorID) {
			return newServiceError(opRemove, "not_member", fault.ErrNotAuthorized)
		}
		if row.Status == StatusBlocked {
			return newServiceError(opRemove, "blocked_pair", fault.ErrNotAuthorized)
		}
		if err := tx.Delete(&Contact{}, "contact_id = ?", row.ContactID).Error; err != nil {
			return newServiceError(opRemove, "delete_failed", err)
		}
		return nil
	})
	if txErr != nil {
		s.logFailure(opRemove, txErr, actorID, targetID)
	}
	return txErr
}

// StatusOf reports the relationship state for a pair, symmetric in its
// arguments.
func (s *Service) StatusOf(ctx context.Context, userA, userB string) (Status, error) {
	if userA == userB {
		return StatusNone, newServiceError(opStatusOf, "self_pair", fault.ErrSelfReference)
	}
	low, high := normalizePair(userA, userB)
	var row Contact
	err := s.db.WithContext(ctx).
		Where("user_low = ? AND user_high = ?", low, high).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return StatusNone, nil
	}
	if err != nil {
		return StatusNone, newServiceError(opStatusOf, "pair_select_failed", err)
	}
	return row.Status, nil
}

// ListContacts returns the user's relationship rows filtered by status.
// An empty status returns every row involving the user.
func (s *Service) ListContacts(ctx context.Context, userID string, status Status, page, pageSize int) ([]Contact, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	query := s.db.WithContext(ctx).
		Where("user_low = ? OR user_high = ?", userID, userID)
	if status != "" && status != StatusNone {
		query = query.Where("status = ?", status)
	}
	var rows []Contact
	err := query.
		Order("requested_at_s DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, newServiceError(opList, "query_failed", err)
	}
	return rows, nil
}

func (s *Service) publish(ctx context.Context, evt event.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, evt)
}

func (s *Service) logFailure(operation string, err error, subjectID, objectID string) {
	s.logger.Warn("contact operation failed",
		zap.String("operation", operation),
		zap.String("subject_id", subjectID),
		zap.String("object_id", objectID),
		zap.Error(err))
}
