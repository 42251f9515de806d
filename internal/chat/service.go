package chat

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

const (
	opGetOrCreatePrivate = "chat.get_or_create_private"
	opCreateGroup        = "chat.create_group"
	opSend               = "chat.send"
	opMarkRead           = "chat.mark_read"
	opUnreadCount        = "chat.unread_count"
	opAddParticipants    = "chat.add_participants"
	opLeave              = "chat.leave"
	opListChannels       = "chat.list_channels"
	opListMessages       = "chat.list_messages"
	opDeleteMessage      = "chat.delete_message"

	defaultGroupLimit = 256
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps a chat failure with a dotted operation.reason code.
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

// Directory resolves which of the given user ids are not active accounts.
type Directory interface {
	ResolveActive(ctx context.Context, userIDs []string) ([]string, error)
}

// ServiceConfig describes the dependencies of the channel store.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ident.Provider
	Directory  Directory
	Events     event.Publisher
	Logger     *zap.Logger
	GroupLimit int
}

// Service owns private and group channels, their ordered message logs and
// per-message read receipts.
type Service struct {
	db         *gorm.DB
	clock      func() time.Time
	ids        ident.Provider
	directory  Directory
	events     event.Publisher
	logger     *zap.Logger
	groupLimit int
}

// NewService constructs the channel store.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, newServiceError("chat.service.new", "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError("chat.service.new", "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	groupLimit := cfg.GroupLimit
	if groupLimit < 2 {
		groupLimit = defaultGroupLimit
	}
	return &Service{
		db:         cfg.Database,
		clock:      clock,
		ids:        cfg.IDProvider,
		directory:  cfg.Directory,
		events:     cfg.Events,
		logger:     logger,
		groupLimit: groupLimit,
	}, nil
}

// GetOrCreatePrivate returns the private channel for the pair, creating it on
// first use. Calling it twice for the same pair yields the same channel.
func (s *Service) GetOrCreatePrivate(ctx context.Context, userA, userB string) (*Channel, error) {
	userA = strings.TrimSpace(userA)
	userB = strings.TrimSpace(userB)
	if userA == "" || userB == "" {
		return nil, newServiceError(opGetOrCreatePrivate, "missing_user", fault.ErrNotFound)
	}
	if userA == userB {
		return nil, newServiceError(opGetOrCreatePrivate, "self_chat", fault.ErrSelfReference)
	}
	if err := s.requireActive(ctx, opGetOrCreatePrivate, []string{userA, userB}); err != nil {
		return nil, err
	}

	low, high := normalizePair(userA, userB)
	pairKey := privatePairKey(low, high)
	now := s.clock().UTC().Unix()

	var row Channel
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("pair_key = ?", pairKey).
			Take(&row).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opGetOrCreatePrivate, "pair_select_failed", err)
		}

		channelID, idErr := s.ids.NewID()
		if idErr != nil {
			return newServiceError(opGetOrCreatePrivate, "id_generation_failed", idErr)
		}
		row = Channel{
			ChannelID:           channelID,
			Kind:                KindPrivate,
			CreatorID:           userA,
			PairKey:             pairKey,
			MaxParticipants:     2,
			AllowFileSharing:    true,
			AllowCalls:          true,
			IsActive:            true,
			LastActivitySeconds: now,
			CreatedAtSeconds:    now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return newServiceError(opGetOrCreatePrivate, "insert_failed", err)
		}
		members := []Member{
			{ChannelID: channelID, UserID: low, Role: RoleMember, JoinedAtSeconds: now},
			{ChannelID: channelID, UserID: high, Role: RoleMember, JoinedAtSeconds: now},
		}
		if err := tx.Create(&members).Error; err != nil {
			return newServiceError(opGetOrCreatePrivate, "members_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return &row, nil
}

// CreateGroup creates a group channel. The participant list is de-duplicated
// and always includes the creator, who is also an admin.
func (s *Service) CreateGroup(ctx context.Context, creatorID, name string, participantIDs []string, settings *Settings) (*Channel, error) {
	creatorID = strings.TrimSpace(creatorID)
	if creatorID == "" {
		return nil, newServiceError(opCreateGroup, "missing_creator", fault.ErrNotFound)
	}

	unique := make([]string, 0, len(participantIDs)+1)
	seen := map[string]struct{}{creatorID: {}}
	unique = append(unique, creatorID)
	for _, id := range participantIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		unique = append(unique, id)
	}

	limit := s.groupLimit
	if settings != nil && settings.MaxParticipants > 0 && settings.MaxParticipants < limit {
		limit = settings.MaxParticipants
	}
	if len(unique) > limit {
		return nil, newServiceError(opCreateGroup, "participant_limit", fault.ErrInvalidOperation)
	}
	if err := s.requireActive(ctx, opCreateGroup, unique); err != nil {
		return nil, err
	}

	channelID, err := s.ids.NewID()
	if err != nil {
		return nil, newServiceError(opCreateGroup, "id_generation_failed", err)
	}
	now := s.clock().UTC().Unix()
	row := Channel{
		ChannelID:           channelID,
		Kind:                KindGroup,
		Name:                strings.TrimSpace(name),
		CreatorID:           creatorID,
		PairKey:             channelID,
		MaxParticipants:     limit,
		AllowFileSharing:    true,
		AllowCalls:          true,
		IsActive:            true,
		LastActivitySeconds: now,
		CreatedAtSeconds:    now,
	}
	if settings != nil {
		row.AllowFileSharing = settings.AllowFileSharing
		row.AllowCalls = settings.AllowCalls
	}

	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&row).Error; err != nil {
			return newServiceError(opCreateGroup, "insert_failed", err)
		}
		members := make([]Member, 0, len(unique))
		for _, id := range unique {
			role := RoleMember
			if id == creatorID {
				role = RoleAdmin
			}
			members = append(members, Member{
				ChannelID:       channelID,
				UserID:          id,
				Role:            role,
				JoinedAtSeconds: now,
			})
		}
		if err := tx.Create(&members).Error; err != nil {
			return newServiceError(opCreateGroup, "members_insert_failed", err)
		}
		return nil
	})
	if txErr != nil {
		return nil, txErr
	}
	return &row, nil
}

// Send appends a message to the channel log. The author's own read receipt is
// written with the message so unread counts never include own messages.
func (s *Service) Send(ctx context.Context, channelID, authorID, body string, attachments []string) (*Message, error) {
	if strings.TrimSpace(body) == "" && len(attachments) == 0 {
		return nil, newServiceError(opSend, "empty_body", fault.ErrInvalidOperation)
	}

	var row Message
	var recipients []string
	txErr := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		channel, err := s.lockActiveChannel(tx, opSend, channelID)
		if err != nil {
			return err
		}
		members, err := s.channelMembers(tx, channel.ChannelID)
		if err != nil {
			return newServiceError(opSend, "members_query_failed", err)
		}
		if !memberSetContains(members, authorID) {
			return newServiceError(opSend, "not_participant", fault.ErrNotAuthorized)
		}

		messageID, err := s.ids.NewID()
		if err != nil {
			return newServiceError(opSend, "id_generation_failed", err)
		}
		now := s.clock().UTC().Unix()
		row = Message{
			MessageID:        messageID,
			ChannelID:        channel.ChannelID,
			AuthorID:         authorID,
			Body:             body,
			AttachmentsJSON:  encodeAttachments(attachments),
			CreatedAtSeconds: now,
		}
		if err := tx.Create(&row).Error; err != nil {
			return newServiceError(opSend, "insert_failed", err)
		}
		receipt := ReadReceipt{
			MessageID:     messageID,
			UserID:        authorID,
			ChannelID:     channel.ChannelID,
			ReadAtSeconds: now,
		}
		if err := tx.Create(&receipt).Error; err != nil {
			return newServiceError(opSend, "receipt_insert_failed", err)
		}
		if err := tx.Model(&Channel{}).
			Where("channel_id = ?", channel.ChannelID).
			UpdateColumn("last_activity_s", now).Error; err != nil {
			return newServiceError(opSend, "activity_update_failed", err)
		}

		for _, member := range members {
			if member.UserID != authorID {
				recipients = append(recipients, member.UserID)
			}
		}
		return nil
	})
	if txErr != nil {
		s.logger.Warn("message send failed",
			zap.String("channel_id", channelID),
			zap.String("author_id", authorID),
			zap.Error(txErr))
		return nil, txErr
	}

	s.publish(ctx, event.Event{
		Type:          event.TypeMessageSent,
		Room:          Channel{ChannelID: channelID}.Room(),
		ActorID:       authorID,
		NotifyUserIDs: recipients,
		Payload: map[string]string{
			"channel_id": channelID,
			"message_id": row.MessageID,
		},
	})
	return &row, nil
}

// MarkRead records read receipts for the user: one message when messageID is
// given, otherwise every message in the channel. Re-reading is a no-op.
func (s *Service) MarkRead(ctx context.Context, channelID, userID, messageID string) error {
	isMember, err := s.IsParticipant(ctx, channelID, userID)
	if err != nil {
		return newServiceError(opMarkRead, "member_check_failed", err)
	}
	if !isMember {
		return newServiceError(opMarkRead, "not_participant", fault.ErrNotAuthorized)
	}

	now := s.clock().UTC().Unix()
	query := s.db.WithContext(ctx).Model(&Message{}).Where("channel_id = ?", channelID)
	if messageID != "" {
		query = query.Where("message_id = ?", messageID)
	}
	var messageIDs []string
	if err := query.Pluck("message_id", &messageIDs).Error; err != nil {
		return newServiceError(opMarkRead, "messages_query_failed", err)
	}
	if messageID != "" && len(messageIDs) == 0 {
		return newServiceError(opMarkRead, "message_missing", fault.ErrNotFound)
	}
	if len(messageIDs) == 0 {
		return nil
	}

	receipts := make([]ReadReceipt, 0, len(messageIDs))
	for _, id := range messageIDs {
		receipts = append(receipts, ReadReceipt{
			MessageID:     id,
			UserID:        userID,
			ChannelID:     channelID,
			ReadAtSeconds: now,
		})
	}
	err = s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&receipts).Error
	if err != nil {
		return newServiceError(opMarkRead, "receipt_insert_failed", err)
	}
	return nil
}

// UnreadCount counts live messages authored by others that the user has no
// read receipt for.
func (s *Service) UnreadCount(ctx context.Context, channelID, userID string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Message{}).
		Where("channel_id = ? AND author_id <> ? AND is_deleted = ?", channelID, userID, false).
		Where("message_id NOT IN (?)",
			s.db.Model(&ReadReceipt{}).
				Select("message_id").
				Where("channel_id = ? AND user_id = ?", channelID, userID)).
		Count(&count).Error
	if err != nil {
		return 0, newServiceError(opUnreadCount, "query_failed", err)
	}
	return count, nil
}

// AddParticipants enrolls users into a group channel. Admin only; private
// channel membership never changes.
func (s *Service) AddParticipants(ctx context.Context, channelID, actorID string, userIDs []string) error {
	if len(userIDs) == 0 {
		return nil
	}
	if err := s.requireActive(ctx, opAddParticipants, userIDs); err != nil {
		return err
	}

	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		channel, err := s.lockActiveChannel(tx, opAddParticipants, channelID)
		if err != nil {
			return err
		}
		if channel.Kind == KindPrivate {
			return newServiceError(opAddParticipants, "private_channel", fault.ErrInvalidOperation)
		}
		members, err := s.channelMembers(tx, channelID)
		if err != nil {
			return newServiceError(opAddParticipants, "members_query_failed", err)
		}
		if !memberSetHasAdmin(members, actorID) {
			return newServiceError(opAddParticipants, "not_admin", fault.ErrNotAuthorized)
		}

		existing := make(map[string]struct{}, len(members))
		for _, member := range members {
			existing[member.UserID] = struct{}{}
		}
		now := s.clock().UTC().Unix()
		added := make([]Member, 0, len(userIDs))
		for _, id := range userIDs {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := existing[id]; ok {
				continue
			}
			existing[id] = struct{}{}
			added = append(added, Member{
				ChannelID:       channelID,
				UserID:          id,
				Role:            RoleMember,
				JoinedAtSeconds: now,
			})
		}
		if len(added) == 0 {
			return nil
		}
		if channel.MaxParticipants > 0 && len(existing) > channel.MaxParticipants {
			return newServiceError(opAddParticipants, "participant_limit", fault.ErrInvalidOperation)
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&added).Error; err != nil {
			return newServiceError(opAddParticipants, "members_insert_failed", err)
		}
		return nil
	})
}

// Leave removes the user from a group channel. Private channels are immutable
// in membership. When the creator leaves, ownership transfers to another
// admin, else the longest-standing member is promoted; an emptied channel is
// deactivated.
func (s *Service) Leave(ctx context.Context, channelID, userID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		channel, err := s.lockActiveChannel(tx, opLeave, channelID)
		if err != nil {
			return err
		}
		if channel.Kind == KindPrivate {
			return newServiceError(opLeave, "private_channel", fault.ErrInvalidOperation)
		}
		members, err := s.channelMembers(tx, channelID)
		if err != nil {
			return newServiceError(opLeave, "members_query_failed", err)
		}
		if !memberSetContains(members, userID) {
			return newServiceError(opLeave, "not_participant", fault.ErrNotFound)
		}

		if err := tx.Delete(&Member{}, "channel_id = ? AND user_id = ?", channelID, userID).Error; err != nil {
			return newServiceError(opLeave, "member_delete_failed", err)
		}

		remaining := make([]Member, 0, len(members)-1)
		for _, member := range members {
			if member.UserID != userID {
				remaining = append(remaining, member)
			}
		}
		if len(remaining) == 0 {
			if err := tx.Model(&Channel{}).
				Where("channel_id = ?", channelID).
				UpdateColumn("is_active", false).Error; err != nil {
				return newServiceError(opLeave, "deactivate_failed", err)
			}
			return nil
		}
		if channel.CreatorID != userID {
			return nil
		}

		// Ownership transfer: prefer an existing admin, else promote the
		// longest-standing member.
		var successor *Member
		for i := range remaining {
			if remaining[i].Role == RoleAdmin {
				successor = &remaining[i]
				break
			}
		}
		if successor == nil {
			successor = &remaining[0]
			if err := tx.Model(&Member{}).
				Where("channel_id = ? AND user_id = ?", channelID, successor.UserID).
				UpdateColumn("role", RoleAdmin).Error; err != nil {
				return newServiceError(opLeave, "promote_failed", err)
			}
		}
		if err := tx.Model(&Channel{}).
			Where("channel_id = ?", channelID).
			UpdateColumn("creator_id", successor.UserID).Error; err != nil {
			return newServiceError(opLeave, "transfer_failed", err)
		}
		return nil
	})
}

// DeleteMessage soft-deletes a message. Allowed for the author or a channel
// admin.
func (s *Service) DeleteMessage(ctx context.Context, messageID, actorID string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var message Message
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("message_id = ?", messageID).
			Take(&message).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return newServiceError(opDeleteMessage, "message_missing", fault.ErrNotFound)
		}
		if err != nil {
			return newServiceError(opDeleteMessage, "message_select_failed", err)
		}
		if message.IsDeleted {
			return nil
		}
		if message.AuthorID != actorID {
			members, err := s.channelMembers(tx, message.ChannelID)
			if err != nil {
				return newServiceError(opDeleteMessage, "members_query_failed", err)
			}
			if !memberSetHasAdmin(members, actorID) {
				return newServiceError(opDeleteMessage, "not_author_or_admin", fault.ErrNotAuthorized)
			}
		}
		return tx.Model(&Message{}).
			Where("message_id = ?", messageID).
			Updates(map[string]any{
				"is_deleted":   true,
				"deleted_at_s": s.clock().UTC().Unix(),
			}).Error
	})
}

// Get loads a channel by id.
func (s *Service) Get(ctx context.Context, channelID string) (*Channel, error) {
	var row Channel
	err := s.db.WithContext(ctx).Where("channel_id = ?", channelID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(opListChannels, "channel_missing", fault.ErrNotFound)
	}
	if err != nil {
		return nil, newServiceError(opListChannels, "channel_select_failed", err)
	}
	return &row, nil
}

// IsParticipant reports whether the user belongs to the channel.
func (s *Service) IsParticipant(ctx context.Context, channelID, userID string) (bool, error) {
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Member{}).
		Where("channel_id = ? AND user_id = ?", channelID, userID).
		Count(&count).Error
	return count > 0, err
}

// Participants lists the channel's members ordered by join time.
func (s *Service) Participants(ctx context.Context, channelID string) ([]Member, error) {
	return s.channelMembers(s.db.WithContext(ctx), channelID)
}

// ListChannels returns the user's active channels, most recently active first.
func (s *Service) ListChannels(ctx context.Context, userID string) ([]Channel, error) {
	var channels []Channel
	err := s.db.WithContext(ctx).
		Joins("JOIN chat_members ON chat_members.channel_id = chat_channels.channel_id").
		Where("chat_members.user_id = ? AND chat_channels.is_active = ?", userID, true).
		Order("chat_channels.last_activity_s DESC").
		Find(&channels).Error
	if err != nil {
		return nil, newServiceError(opListChannels, "query_failed", err)
	}
	return channels, nil
}

// ListMessages returns a page of the channel log, oldest first. Participant
// only.
func (s *Service) ListMessages(ctx context.Context, channelID, viewerID string, page, pageSize int) ([]Message, error) {
	isMember, err := s.IsParticipant(ctx, channelID, viewerID)
	if err != nil {
		return nil, newServiceError(opListMessages, "member_check_failed", err)
	}
	if !isMember {
		return nil, newServiceError(opListMessages, "not_participant", fault.ErrNotAuthorized)
	}
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 50
	}
	var messages []Message
	err = s.db.WithContext(ctx).
		Where("channel_id = ?", channelID).
		Order("created_at_s ASC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&messages).Error
	if err != nil {
		return nil, newServiceError(opListMessages, "query_failed", err)
	}
	for i := range messages {
		if messages[i].IsDeleted {
			messages[i].Body = ""
			messages[i].AttachmentsJSON = "[]"
		}
	}
	return messages, nil
}

func (s *Service) lockActiveChannel(tx *gorm.DB, operation, channelID string) (*Channel, error) {
	var channel Channel
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("channel_id = ?", channelID).
		Take(&channel).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, newServiceError(operation, "channel_missing", fault.ErrNotFound)
	}
	if err != nil {
		return nil, newServiceError(operation, "channel_select_failed", err)
	}
	if !channel.IsActive {
		return nil, newServiceError(operation, "channel_inactive", fault.ErrInvalidOperation)
	}
	return &channel, nil
}

func (s *Service) channelMembers(tx *gorm.DB, channelID string) ([]Member, error) {
	var members []Member
	err := tx.Where("channel_id = ?", channelID).
		Order("joined_at_s ASC, user_id ASC").
		Find(&members).Error
	return members, err
}

func (s *Service) requireActive(ctx context.Context, operation string, userIDs []string) error {
	if s.directory == nil {
		return nil
	}
	missing, err := s.directory.ResolveActive(ctx, userIDs)
	if err != nil {
		return newServiceError(operation, "directory_failed", err)
	}
	if len(missing) > 0 {
		return newServiceError(operation, "participants_missing", fault.ErrNotFound)
	}
	return nil
}

func memberSetContains(members []Member, userID string) bool {
	for _, member := range members {
		if member.UserID == userID {
			return true
		}
	}
	return false
}

func memberSetHasAdmin(members []Member, userID string) bool {
	for _, member := range members {
		if member.UserID == userID && member.Role == RoleAdmin {
			return true
		}
	}
	return false
}

func (s *Service) publish(ctx context.Context, evt event.Event) {
	if s.events == nil {
		return
	}
	s.events.Publish(ctx, evt)
}
