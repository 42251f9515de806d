package notification

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/commonshq/commons-backend/internal/event"
	"github.com/commonshq/commons-backend/internal/fault"
	"github.com/commonshq/commons-backend/internal/ident"
)

const (
	opDispatch    = "notification.dispatch"
	opMarkRead    = "notification.mark_read"
	opMarkAllRead = "notification.mark_all_read"
	opUnreadCount = "notification.unread_count"
	opListFor     = "notification.list_for"
	opPreferences = "notification.preferences"
)

var (
	errMissingDatabase   = errors.New("database handle is required")
	errMissingIDProvider = errors.New("id provider is required")
	noOpLogger           = zap.NewNop()
)

// ServiceError wraps a notification failure with a dotted operation.reason code.
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

// Transport is the point-to-point delivery contract the hub pushes through.
// The returned flag reports whether at least one live connection took the
// event.
type Transport interface {
	SendToUser(userID string, evt event.Event) bool
}

// HubConfig describes the dependencies of the notification hub.
type HubConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ident.Provider
	Transport  Transport
	Logger     *zap.Logger
}

// Hub persists and delivers per-user notifications fanned out from domain
// events. It never mutates the entities that triggered them.
type Hub struct {
	db        *gorm.DB
	clock     func() time.Time
	ids       ident.Provider
	transport Transport
	logger    *zap.Logger
}

// NewHub constructs the notification hub.
func NewHub(cfg HubConfig) (*Hub, error) {
	if cfg.Database == nil {
		return nil, newServiceError("notification.hub.new", "missing_database", errMissingDatabase)
	}
	if cfg.IDProvider == nil {
		return nil, newServiceError("notification.hub.new", "missing_id_provider", errMissingIDProvider)
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	return &Hub{
		db:        cfg.Database,
		clock:     clock,
		ids:       cfg.IDProvider,
		transport: cfg.Transport,
		logger:    logger,
	}, nil
}

// DispatchRequest describes one notification to persist and deliver.
type DispatchRequest struct {
	RecipientID string
	SenderID    string
	Type        string
	Title       string
	Message     string
	Payload     map[string]string
	Priority    Priority
	ExpiresAt   time.Time
}

// Dispatch persists the notification and attempts realtime delivery. The
// user's in-app preference can suppress it entirely; delivery failure never
// rolls back persistence.
func (h *Hub) Dispatch(ctx context.Context, req DispatchRequest) (*Notification, error) {
	if req.RecipientID == "" || req.Type == "" {
		return nil, newServiceError(opDispatch, "missing_argument", fault.ErrInvalidOperation)
	}
	wantsInApp, err := h.inAppEnabled(ctx, req.RecipientID, req.Type)
	if err != nil {
		return nil, newServiceError(opDispatch, "preference_check_failed", err)
	}
	if !wantsInApp {
		return nil, nil
	}

	notificationID, err := h.ids.NewID()
	if err != nil {
		return nil, newServiceError(opDispatch, "id_generation_failed", err)
	}
	priority := req.Priority
	if priority == "" {
		priority = PriorityNormal
	}
	now := h.clock().UTC()
	row := Notification{
		NotificationID:   notificationID,
		RecipientID:      req.RecipientID,
		SenderID:         req.SenderID,
		Type:             req.Type,
		Title:            req.Title,
		Message:          req.Message,
		PayloadJSON:      encodePayload(req.Payload),
		Priority:         priority,
		CreatedAtSeconds: now.Unix(),
	}
	if !req.ExpiresAt.IsZero() {
		row.ExpiresAtSeconds = req.ExpiresAt.UTC().Unix()
	}
	if err := h.db.WithContext(ctx).Create(&row).Error; err != nil {
		return nil, newServiceError(opDispatch, "insert_failed", err)
	}

	if h.transport != nil {
		delivered := h.transport.SendToUser(req.RecipientID, event.Event{
			Type:         event.TypeNewNotification,
			TargetUserID: req.RecipientID,
			ActorID:      req.SenderID,
			Payload: map[string]string{
				"notification_id": row.NotificationID,
				"type":            row.Type,
			},
			OccurredAt: now,
		})
		if delivered {
			deliveredAt := h.clock().UTC().Unix()
			err := h.db.WithContext(ctx).Model(&Notification{}).
				Where("notification_id = ?", row.NotificationID).
				Updates(map[string]any{
					"is_delivered":   true,
					"delivered_at_s": deliveredAt,
				}).Error
			if err != nil {
				h.logger.Warn("delivery mark failed",
					zap.String("notification_id", row.NotificationID),
					zap.Error(err))
			} else {
				row.IsDelivered = true
				row.DeliveredAtSeconds = deliveredAt
			}
		}
	}
	return &row, nil
}

// MarkRead marks one notification read for its recipient.
func (h *Hub) MarkRead(ctx context.Context, notificationID, userID string) error {
	var row Notification
	err := h.db.WithContext(ctx).
		Where("notification_id = ?", notificationID).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return newServiceError(opMarkRead, "notification_missing", fault.ErrNotFound)
	}
	if err != nil {
		return newServiceError(opMarkRead, "select_failed", err)
	}
	if row.RecipientID != userID {
		return newServiceError(opMarkRead, "not_recipient", fault.ErrNotAuthorized)
	}
	if row.IsRead {
		return nil
	}
	return h.db.WithContext(ctx).Model(&Notification{}).
		Where("notification_id = ?", notificationID).
		Updates(map[string]any{
			"is_read":   true,
			"read_at_s": h.clock().UTC().Unix(),
		}).Error
}

// MarkAllRead marks every unread notification read for the user.
func (h *Hub) MarkAllRead(ctx context.Context, userID string) error {
	err := h.db.WithContext(ctx).Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Updates(map[string]any{
			"is_read":   true,
			"read_at_s": h.clock().UTC().Unix(),
		}).Error
	if err != nil {
		return newServiceError(opMarkAllRead, "update_failed", err)
	}
	return nil
}

// UnreadCount counts the user's unread, unexpired notifications.
func (h *Hub) UnreadCount(ctx context.Context, userID string) (int64, error) {
	var count int64
	err := h.db.WithContext(ctx).Model(&Notification{}).
		Where("recipient_id = ? AND is_read = ?", userID, false).
		Where("expires_at_s = 0 OR expires_at_s > ?", h.clock().UTC().Unix()).
		Count(&count).Error
	if err != nil {
		return 0, newServiceError(opUnreadCount, "query_failed", err)
	}
	return count, nil
}

// ListFilters narrows ListFor results. Nil fields are ignored.
type ListFilters struct {
	Type     *string
	IsRead   *bool
	Priority *Priority
}

// ListFor returns a page of the user's unexpired notifications, newest first.
func (h *Hub) ListFor(ctx context.Context, userID string, filters ListFilters, page, pageSize int) ([]Notification, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = 20
	}
	query := h.db.WithContext(ctx).
		Where("recipient_id = ?", userID).
		Where("expires_at_s = 0 OR expires_at_s > ?", h.clock().UTC().Unix())
	if filters.Type != nil {
		query = query.Where("type = ?", *filters.Type)
	}
	if filters.IsRead != nil {
		query = query.Where("is_read = ?", *filters.IsRead)
	}
	if filters.Priority != nil {
		query = query.Where("priority = ?", *filters.Priority)
	}
	var rows []Notification
	err := query.
		Order("created_at_s DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&rows).Error
	if err != nil {
		return nil, newServiceError(opListFor, "query_failed", err)
	}
	return rows, nil
}

// SetPreference writes one cell of the user's delivery matrix.
func (h *Hub) SetPreference(ctx context.Context, pref Preference) error {
	if pref.UserID == "" || pref.EventType == "" {
		return newServiceError(opPreferences, "missing_argument", fault.ErrInvalidOperation)
	}
	return h.db.WithContext(ctx).Save(&pref).Error
}

// PreferencesFor lists the user's explicitly configured preference rows.
func (h *Hub) PreferencesFor(ctx context.Context, userID string) ([]Preference, error) {
	var rows []Preference
	err := h.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("event_type ASC").
		Find(&rows).Error
	if err != nil {
		return nil, newServiceError(opPreferences, "query_failed", err)
	}
	return rows, nil
}

func (h *Hub) inAppEnabled(ctx context.Context, userID, eventType string) (bool, error) {
	var pref Preference
	err := h.db.WithContext(ctx).
		Where("user_id = ? AND event_type = ?", userID, eventType).
		Take(&pref).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return pref.InApp, nil
}

func encodePayload(payload map[string]string) string {
	if len(payload) == 0 {
		return "{}"
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return "{}"
	}
	return string(encoded)
}
