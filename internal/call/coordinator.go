package call

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/commonshq/commons-backend/internal/chat"
	"github.com/commonshq/commons-backend/internal/contact"
	"github.com/commonshq/commons-backend/internal/event"
	"github.com/commonshq/commons-backend/internal/fault"
	"github.com/commonshq/commons-backend/internal/ident"
	"github.com/commonshq/commons-backend/internal/wall"
)

const (
	opStart   = "call.start"
	opJoin    = "call.join"
	opDecline = "call.decline"
	opLeave   = "call.leave"
	opEnd     = "call.end"
	opRelay   = "call.relay"
	opGet     = "call.get"

	privateCapacity    = 2
	defaultCapacity    = 50
	maxSignalBodyBytes = 64 << 10
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps a call failure with a dotted operation.reason code.
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

// Contacts answers relationship questions for private call authorization.
type Contacts interface {
	StatusOf(ctx context.Context, userA, userB string) (contact.Status, error)
}

// Channels answers membership and settings questions for group call
// authorization.
type Channels interface {
	Get(ctx context.Context, channelID string) (*chat.Channel, error)
	IsParticipant(ctx context.Context, channelID, userID string) (bool, error)
	Participants(ctx context.Context, channelID string) ([]chat.Member, error)
}

// Walls answers membership questions for wall call authorization.
type Walls interface {
	Get(ctx context.Context, wallID string) (*wall.Wall, error)
	IsMember(ctx context.Context, wallID, userID string) (bool, error)
	IsModerator(ctx context.Context, wallID, userID string) (bool, error)
}

// CoordinatorConfig describes the dependencies of the call coordinator.
type CoordinatorConfig struct {
	Database        *gorm.DB
	Clock           func() time.Time
	IDProvider      ident.Provider
	Contacts        Contacts
	Channels        Channels
	Walls           Walls
	Events          event.Publisher
	Logger          *zap.Logger
	DefaultCapacity int
}

// Coordinator drives the call session lifecycle and relays signaling
// payloads between participants. It owns session and participant rows
// exclusively.
type Coordinator struct {
	db       *gorm.DB
	clock    func() time.Time
	ids      ident.Provider
	contacts Contacts
	channels Channels
	walls    Walls
	events   event.Publisher
	logger   *zap.Logger
	capacity int
}

// NewCoordinator constructs the call coordinator.
func NewCoordinator(cfg CoordinatorConfig) (*Coordinator, error) {
	if cfg.Database == nil {
		return nil, newServiceError("call.coordinator.new", "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError("call.coordinator.new", "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	capacity := cfg.DefaultCapacity
	if capacity < 2 {
		capacity = defaultCapacity
	}
	return &Coordinator{
		db:       cfg.Database,
		clock:    clock,
		ids:      cfg.IDProvider,
		contacts: cfg.Contacts,
		channels: cfg.Channels,
		walls:    cfg.Walls,
		events:   cfg.Events,
		logger:   logger,
		capacity: capacity,
	}, nil
}

// Start opens a call session. Authorization depends on the scope; the
// initiator is joined immediately and the session stays pending until the
// first invitee joins.
func (c *Coordinator) Start(ctx context.Context, initiatorID string, scope Scope, scopeTargetID string, invitees []string, settings *Settings) (*Session, error) {
	initiatorID = strings.TrimSpace(initiatorID)
	scopeTargetID = strings.TrimSpace(scopeTargetID)
	if initiatorID == "" || scopeTargetID == "" {
		return nil, newServiceError(opStart, "missing_argument", fault.ErrInvalidOperation)
	}

	capacity := c.capacity
	switch scope {
	case ScopePrivate:
		peerID := scopeTargetID
		if peerID == initiatorID {
			return nil, newServiceError(opStart, "self_call", fault.ErrSelfReference)
		}
		if c.contacts != nil {
			status, err := c.contacts.StatusOf(ctx, initiatorID, peerID)
			if err != nil {
				return nil, newServiceError(opStart, "contact_check_failed", err)
			}
			if status != contact.StatusAccepted {
				return nil, newServiceError(opStart, "not_contacts", fault.ErrNotAuthorized)
			}
		}
		capacity = privateCapacity
		invitees = []string{peerID}
	case ScopeGroup:
		if c.channels == nil {
			return nil, newServiceError(opStart, "channels_unavailable", fault.ErrInvalidOperation)
		}
		channel, err := c.channels.Get(ctx, scopeTargetID)
		if err != nil {
			return nil, newServiceError(opStart, "channel_lookup_failed", err)
		}
		if !channel.AllowCalls {
			return nil, newServiceError(opStart, "calls_disabled", fault.ErrNotAuthorized)
		}
		isParticipant, err := c.channels.IsParticipant(ctx, scopeTargetID, initiatorID)
		if err != nil {
			return nil, newServiceError(opStart, "participant_check_failed", err)
		}
		if !isParticipant {
			return nil, newServiceError(opStart, "not_participant", fault.ErrNotAuthorized)
		}
		if len(invitees) == 0 {
			members, err := c.channels.Participants(ctx, scopeTargetID)
			if err != nil {
				return nil, newServiceError(opStart, "participants_lookup_failed", err)
			}
			for _, member := range members {
				if member.UserID != initiatorID {
					invitees = append(invitees, member.UserID)
				}
			}
		}
	case ScopeWall:
		if c.walls == nil {
			return nil, newServiceError(opStart, "walls_unavailable", fault.ErrInvalidOperation)
		}
		target, err := c.walls.Get(ctx, scopeTargetID)
		if err != nil {
			return nil, newServiceError(opStart, "wall_lookup_failed", err)
		}
		isMember, err := c.walls.IsMember(ctx, scopeTargetID, initiatorID)
		if err != nil {
			return nil, newServiceError(opStart, "member_check_failed", err)
		}
		if !isMember {
			return nil, newServiceError(opStart, "not_member", fault.ErrNotAuthorized)
		}
		if !target.AllowMemberCalls {
			isModerator, err := c.walls.IsModerator(ctx, scopeTargetID, initiatorID)
			if err != nil {
				return nil, newServiceError(opStart, "moderator_check_failed", err)
			}
			if !isModerator {
				return nil, newServiceError(opStart, "member_calls_disabled", fault.ErrNotAuthorized)
			}
		}
	default:
		return nil, newServiceError(opStart, "unknown_scope", fault.ErrInvalidOperation)
	}

	sessionID, err := c.ids.NewID()
	if err != nil {
		return nil, newServiceError(opStart, "id_generation_failed", err)
	}
	applied := DefaultSettings()
	if settings != nil {
		applied = *settings
	}
	now := c.clock().UTC().Unix()
	session := Session{
		SessionID:        sessionID,
		Scope:            scope,
		ScopeTargetID:    scopeTargetID,
		InitiatorID:      initiatorID,
		Status:           StatusPending,
		MaxParticipants:  capacity,
		Video:            applied.Video,
		Audio:            applied.Audio,
		ScreenShare:      applied.ScreenShare,
		Recording:        applied.Recording,
		WaitingRoom:      applied.WaitingRoom,
		ParticipantCount: 1,
		PeakParticipants: 1,
		CreatedAtSeconds: now,
	}

	participants := make([]Participant, 0, len(invitees)+1)
	participants = append(participants, Participant{
		SessionID:        sessionID,
		UserID:           initiatorID,
		Status:           ParticipantJoined,
		InvitedAtSeconds: now,
		JoinedAtSeconds:  now,
	})
	seen := map[string]struct{}{initiatorID: {}}
	notified := make([]string, 0, len(invitees))
	for _, inviteeID := range invitees {
		inviteeID = strings.TrimSpace(inviteeID)
		if inviteeID == "" {
			continue
		}
		if _, ok := seen[inviteeID]; ok {
			continue
		}
		seen[inviteeID] = struct{}{}
		participants = append(participants, Participant{
			SessionID:        sessionID,
			UserID:           inviteeID,
			Status:           ParticipantInvited,
			InvitedAtSeconds: now,
		})
		notified = append(notified, inviteeID)
	}

	txErr := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&session).Error; err != nil {
			return newServiceError(opStart, "insert_failed", err)
		}
		if err := tx.Create(&participants).Error; err != nil {
			return newServiceError(opStart, "participants_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	c.publish(ctx, event.Event{
		Type:          event.TypeCallStarted,
		Room:          session.Room(),
		ActorID:       initiatorID,
		NotifyUserIDs: notified,
		Payload: map[string]string{
			"session_id":      sessionID,
			"scope":           string(scope),
			"scope_target_id": scopeTargetID,
		},
	})
	return &session, nil
}

// Join admits a participant. Joining twice is a no-op, a prior decline makes
// the session unjoinable for that user, and a prior leave may re-join while
// the session lives.
func (c *Coordinator) Join(ctx context.Context, sessionID, userID string) (*Session, error) {
	var session Session
	var activated bool
	txErr := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := c.lockSession(tx, opJoin, sessionID)
		if err != nil {
			return err
		}
		session = *loaded
		if session.Status == StatusEnded {
			return newServiceError(opJoin, "session_ended", fault.ErrCallEnded)
		}

		var participant Participant
		invited := true
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ? AND user_id = ?", sessionID, userID).
			Take(&participant).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			invited = false
		} else if err != nil {
			return newServiceError(opJoin, "participant_select_failed", err)
		}
		if invited {
			switch participant.Status {
			case ParticipantJoined:
				return nil
			case ParticipantDeclined:
				return newServiceError(opJoin, "declined_earlier", fault.ErrCallNotJoinable)
			}
		}

		// A full session turns everyone away, invited or not.
		joined, err := c.joinedCount(tx, sessionID)
		if err != nil {
			return newServiceError(opJoin, "joined_count_failed", err)
		}
		if int(joined) >= session.MaxParticipants {
			return newServiceError(opJoin, "at_capacity", fault.ErrCallFull)
		}
		if !invited {
			return newServiceError(opJoin, "not_invited", fault.ErrNotAuthorized)
		}

		now := c.clock().UTC().Unix()
		err = tx.Model(&Participant{}).
			Where("session_id = ? AND user_id = ?", sessionID, userID).
			Updates(map[string]any{
				"status":      ParticipantJoined,
				"joined_at_s": now,
				"left_at_s":   0,
			}).Error
		if err != nil {
			return newServiceError(opJoin, "participant_update_failed", err)
		}

		updates := map[string]any{
			"participant_count": joined + 1,
		}
		if int(joined)+1 > session.PeakParticipants {
			updates["peak_participants"] = joined + 1
			session.PeakParticipants = int(joined) + 1
		}
		if session.Status == StatusPending && userID != session.InitiatorID {
			updates["status"] = StatusActive
			updates["started_at_s"] = now
			session.Status = StatusActive
			session.StartedAtSeconds = now
			activated = true
		}
		if err := tx.Model(&Session{}).
			Where("session_id = ?", sessionID).
			Updates(updates).Error; err != nil {
			return newServiceError(opJoin, "session_update_failed", err)
		}
		session.ParticipantCount = int(joined) + 1
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	c.publish(ctx, event.Event{
		Type:    event.TypeUserJoinedCall,
		Room:    session.Room(),
		ActorID: userID,
		Payload: map[string]string{
			"session_id": sessionID,
			"activated":  fmt.Sprintf("%t", activated),
		},
	})
	return &session, nil
}

// Decline marks an invited participant as declined, a terminal sub-state.
func (c *Coordinator) Decline(ctx context.Context, sessionID, userID string) error {
	return c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		session, err := c.lockSession(tx, opDecline, sessionID)
		if err != nil {
			return err
		}
		if session.Status == StatusEnded {
			return newServiceError(opDecline, "session_ended", fault.ErrCallEnded)
		}
		var participant Participant
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ? AND user_id = ?", sessionID, userID).
			Take(&participant).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opDecline, "not_invited", fault.ErrNotFound)
		}
		if err != nil {
			return newServiceError(opDecline, "participant_select_failed", err)
		}
		if participant.Status == ParticipantDeclined {
			return nil
		}
		if participant.Status != ParticipantInvited {
			return newServiceError(opDecline, "status_"+string(participant.Status), fault.ErrAlreadyProcessed)
		}
		return tx.Model(&Participant{}).
			Where("session_id = ? AND user_id = ?", sessionID, userID).
			UpdateColumn("status", ParticipantDeclined).Error
	})
}

// Leave marks a joined participant as left. When the last joined participant
// leaves, the session cascades to ended.
func (c *Coordinator) Leave(ctx context.Context, sessionID, userID string) error {
	var session Session
	var cascaded bool
	txErr := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := c.lockSession(tx, opLeave, sessionID)
		if err != nil {
			return err
		}
		session = *loaded
		if session.Status == StatusEnded {
			return newServiceError(opLeave, "session_ended", fault.ErrCallEnded)
		}

		var participant Participant
		err = tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("session_id = ? AND user_id = ?", sessionID, userID).
			Take(&participant).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opLeave, "not_participant", fault.ErrNotFound)
		}
		if err != nil {
			return newServiceError(opLeave, "participant_select_failed", err)
		}
		if participant.Status != ParticipantJoined {
			return nil
		}

		now := c.clock().UTC().Unix()
		err = tx.Model(&Participant{}).
			Where("session_id = ? AND user_id = ?", sessionID, userID).
			Updates(map[string]any{
				"status":    ParticipantLeft,
				"left_at_s": now,
			}).Error
		if err != nil {
			return newServiceError(opLeave, "participant_update_failed", err)
		}

		joined, err := c.joinedCount(tx, sessionID)
		if err != nil {
			return newServiceError(opLeave, "joined_count_failed", err)
		}
		updates := map[string]any{"participant_count": joined}
		if joined == 0 {
			updates["status"] = StatusEnded
			updates["ended_at_s"] = now
			updates["duration_s"] = durationSeconds(session.StartedAtSeconds, now)
			cascaded = true
		}
		if err := tx.Model(&Session{}).
			Where("session_id = ?", sessionID).
			Updates(updates).Error; err != nil {
			return newServiceError(opLeave, "session_update_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return txErr
	}

	c.publish(ctx, event.Event{
		Type:    event.TypeUserLeftCall,
		Room:    session.Room(),
		ActorID: userID,
		Payload: map[string]string{"session_id": sessionID},
	})
	if cascaded {
		c.publish(ctx, event.Event{
			Type:    event.TypeCallEnded,
			Room:    session.Room(),
			ActorID: userID,
			Payload: map[string]string{"session_id": sessionID, "reason": "abandoned"},
		})
	}
	return nil
}

// End force-ends the session. Initiator only; every joined participant is
// marked left and the duration is computed.
func (c *Coordinator) End(ctx context.Context, sessionID, actorID string) (*Session, error) {
	var session Session
	txErr := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		loaded, err := c.lockSession(tx, opEnd, sessionID)
		if err != nil {
			return err
		}
		session = *loaded
		if session.Status == StatusEnded {
			return newServiceError(opEnd, "session_ended", fault.ErrCallEnded)
		}
		if session.InitiatorID != actorID {
			return newServiceError(opEnd, "not_initiator", fault.ErrNotAuthorized)
		}

		now := c.clock().UTC().Unix()
		err = tx.Model(&Participant{}).
			Where("session_id = ? AND status = ?", sessionID, ParticipantJoined).
			Updates(map[string]any{
				"status":    ParticipantLeft,
				"left_at_s": now,
			}).Error
		if err != nil {
			return newServiceError(opEnd, "participants_update_failed", err)
		}

		duration := durationSeconds(session.StartedAtSeconds, now)
		err = tx.Model(&Session{}).
			Where("session_id = ?", sessionID).
			Updates(map[string]any{
				"status":            StatusEnded,
				"ended_at_s":        now,
				"duration_s":        duration,
				"participant_count": 0,
			}).Error
		if err != nil {
			return newServiceError(opEnd, "session_update_failed", err)
		}
		session.Status = StatusEnded
		session.EndedAtSeconds = now
		session.DurationSeconds = duration
		session.ParticipantCount = 0
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}

	c.publish(ctx, event.Event{
		Type:    event.TypeCallEnded,
		Room:    session.Room(),
		ActorID: actorID,
		Payload: map[string]string{"session_id": sessionID, "reason": "ended_by_initiator"},
	})
	return &session, nil
}

// Relay forwards an opaque signaling payload (offer/answer/ICE) to one
// participant or the whole session room. The payload is never interpreted;
// the only checks are that the session is active and the sender is
// currently joined.
func (c *Coordinator) Relay(ctx context.Context, sessionID, fromUserID string, signal json.RawMessage, toUserID string) error {
	if len(signal) == 0 {
		return newServiceError(opRelay, "empty_signal", fault.ErrInvalidOperation)
	}
	if len(signal) > maxSignalBodyBytes {
		return newServiceError(opRelay, "signal_too_large", fault.ErrInvalidOperation)
	}

	var session Session
	err := c.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opRelay, "session_missing", fault.ErrNotFound)
	}
	if err != nil {
		return newServiceError(opRelay, "session_select_failed", err)
	}
	if session.Status == StatusEnded {
		return newServiceError(opRelay, "session_ended", fault.ErrCallEnded)
	}
	if session.Status != StatusActive {
		return newServiceError(opRelay, "session_not_active", fault.ErrInvalidOperation)
	}

	var participant Participant
	err = c.db.WithContext(ctx).
		Where("session_id = ? AND user_id = ?", sessionID, fromUserID).
		Take(&participant).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opRelay, "not_participant", fault.ErrNotAuthorized)
	}
	if err != nil {
		return newServiceError(opRelay, "participant_select_failed", err)
	}
	if participant.Status != ParticipantJoined {
		return newServiceError(opRelay, "not_joined", fault.ErrNotAuthorized)
	}

	evt := event.Event{
		Type:    event.TypeCallSignal,
		ActorID: fromUserID,
		Payload: map[string]string{
			"session_id": sessionID,
			"from_user":  fromUserID,
			"signal":     string(signal),
		},
	}
	if toUserID != "" {
		evt.TargetUserID = toUserID
	} else {
		evt.Room = session.Room()
	}
	c.publish(ctx, evt)
	return nil
}

// Get loads one session with its participants.
func (c *Coordinator) Get(ctx context.Context, sessionID string) (*Session, []Participant, error) {
	var session Session
	err := c.db.WithContext(ctx).Where("session_id = ?", sessionID).Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, newServiceError(opGet, "session_missing", fault.ErrNotFound)
	}
	if err != nil {
		return nil, nil, newServiceError(opGet, "session_select_failed", err)
	}
	var participants []Participant
	err = c.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("invited_at_s ASC, user_id ASC").
		Find(&participants).Error
	if err != nil {
		return nil, nil, newServiceError(opGet, "participants_query_failed", err)
	}
	return &session, participants, nil
}

// LeaveAll applies an implicit leave for every live session the user is
// joined to. The transport layer calls this when a connection drops.
func (c *Coordinator) LeaveAll(ctx context.Context, userID string) {
	var sessionIDs []string
	err := c.db.WithContext(ctx).
		Model(&Participant{}).
		Joins("JOIN call_sessions ON call_sessions.session_id = call_participants.session_id").
		Where("call_participants.user_id = ? AND call_participants.status = ?", userID, ParticipantJoined).
		Where("call_sessions.status <> ?", StatusEnded).
		Pluck("call_participants.session_id", &sessionIDs).Error
	if err != nil {
		c.logger.Warn("implicit leave lookup failed",
			zap.String("user_id", userID),
			zap.Error(err))
		return
	}
	for _, sessionID := range sessionIDs {
		if err := c.Leave(ctx, sessionID, userID); err != nil {
			c.logger.Warn("implicit leave failed",
				zap.String("session_id", sessionID),
				zap.String("user_id", userID),
				zap.Error(err))
		}
	}
}

func (c *Coordinator) lockSession(tx *gorm.DB, operation, sessionID string) (*Session, error) {
	var session Session
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("session_id = ?", sessionID).
		Take(&session).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(operation, "session_missing", fault.ErrNotFound)
	}
	if err != nil {
		return nil, newServiceError(operation, "session_select_failed", err)
	}
	return &session, nil
}

func (c *Coordinator) joinedCount(tx *gorm.DB, sessionID string) (int64, error) {
	var count int64
	err := tx.Model(&Participant{}).
		Where("session_id = ? AND status = ?", sessionID, ParticipantJoined).
		Count(&count).Error
	return count, err
}

func durationSeconds(startedAt, endedAt int64) int64 {
	if startedAt == 0 || endedAt < startedAt {
		return 0
	}
	return endedAt - startedAt
}

func (c *Coordinator) publish(ctx context.Context, evt event.Event) {
	if c.events == nil {
		return
	}
	c.events.Publish(ctx, evt)
}
