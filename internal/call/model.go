package call

// Scope identifies what a call session is attached to.
type Scope string

const (
	// ScopeWall is a call on a wall; the target id is the wall id.
	ScopeWall Scope = "wall"
	// ScopePrivate is a one-to-one call; the target id is the peer user id.
	ScopePrivate Scope = "private"
	// ScopeGroup is a call inside a group channel; the target id is the channel id.
	ScopeGroup Scope = "group"
)

// SessionStatus is the session lifecycle: pending until the first
// non-initiator joins, then active, then ended (terminal).
type SessionStatus string

const (
	// StatusPending means only the initiator has joined so far.
	StatusPending SessionStatus = "pending"
	// StatusActive means at least one invitee has joined.
	StatusActive SessionStatus = "active"
	// StatusEnded is terminal.
	StatusEnded SessionStatus = "ended"
)

// ParticipantStatus is the per-participant sub-state machine:
// invited -> joined -> left (re-joinable while the session lives) or
// invited -> declined (terminal).
type ParticipantStatus string

const (
	// ParticipantInvited means the user has not answered yet.
	ParticipantInvited ParticipantStatus = "invited"
	// ParticipantJoined means the user is currently in the call.
	ParticipantJoined ParticipantStatus = "joined"
	// ParticipantLeft means the user left but may re-join.
	ParticipantLeft ParticipantStatus = "left"
	// ParticipantDeclined is terminal; no re-invitation.
	ParticipantDeclined ParticipantStatus = "declined"
)

// Session is one multi-party call, persisted for its whole lifecycle.
type Session struct {
	SessionID        string        `gorm:"column:session_id;primaryKey;size:190;not null"`
	Scope            Scope         `gorm:"column:scope;size:16;not null"`
	ScopeTargetID    string        `gorm:"column:scope_target_id;size:190;not null;index"`
	InitiatorID      string        `gorm:"column:initiator_id;size:190;not null"`
	Status           SessionStatus `gorm:"column:status;size:16;not null;index"`
	MaxParticipants  int           `gorm:"column:max_participants;not null"`
	Video            bool          `gorm:"column:video;not null;default:true"`
	Audio            bool          `gorm:"column:audio;not null;default:true"`
	ScreenShare      bool          `gorm:"column:screen_share;not null;default:false"`
	Recording        bool          `gorm:"column:recording;not null;default:false"`
	WaitingRoom      bool          `gorm:"column:waiting_room;not null;default:false"`
	ParticipantCount int           `gorm:"column:participant_count;not null;default:0"`
	PeakParticipants int           `gorm:"column:peak_participants;not null;default:0"`
	DurationSeconds  int64         `gorm:"column:duration_s;not null;default:0"`
	CreatedAtSeconds int64         `gorm:"column:created_at_s;not null"`
	StartedAtSeconds int64         `gorm:"column:started_at_s;not null;default:0"`
	EndedAtSeconds   int64         `gorm:"column:ended_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Session) TableName() string {
	return "call_sessions"
}

// Room names the transport room carrying this session's events.
func (s Session) Room() string {
	return "call:" + s.SessionID
}

// Participant is one user's state within one session.
type Participant struct {
	SessionID        string            `gorm:"column:session_id;primaryKey;size:190;not null"`
	UserID           string            `gorm:"column:user_id;primaryKey;size:190;not null"`
	Status           ParticipantStatus `gorm:"column:status;size:16;not null"`
	InvitedAtSeconds int64             `gorm:"column:invited_at_s;not null"`
	JoinedAtSeconds  int64             `gorm:"column:joined_at_s;not null;default:0"`
	LeftAtSeconds    int64             `gorm:"column:left_at_s;not null;default:0"`
}

// TableName provides the explicit table binding for GORM.
func (Participant) TableName() string {
	return "call_participants"
}

// Settings carries the adjustable per-session options.
type Settings struct {
	Video       bool `json:"video"`
	Audio       bool `json:"audio"`
	ScreenShare bool `json:"screen_share"`
	Recording   bool `json:"recording"`
	WaitingRoom bool `json:"waiting_room"`
}

// DefaultSettings enables audio and video only.
func DefaultSettings() Settings {
	return Settings{Video: true, Audio: true}
}
