package notification

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/commonshq/commons-backend/internal/event"
	"github.com/commonshq/commons-backend/internal/fault"
)

type staticIDGenerator struct {
	prefix string
	next   int
}

func (g *staticIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%03d", g.prefix, g.next), nil
}

// stubTransport records pushed events and reports a configurable delivery
// outcome.
type stubTransport struct {
	mu        sync.Mutex
	connected map[string]bool
	sent      []event.Event
}

func (t *stubTransport) SendToUser(userID string, evt event.Event) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, evt)
	return t.connected[userID]
}

func (t *stubTransport) recorded() []event.Event {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]event.Event(nil), t.sent...)
}

func newTestHub(t *testing.T) (*Hub, *stubTransport, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:notification_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Notification{}, &Preference{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	transport := &stubTransport{connected: map[string]bool{}}
	hub, err := NewHub(HubConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1760000000, 0).UTC() },
		IDProvider: &staticIDGenerator{prefix: "notif"},
		Transport:  transport,
	})
	if err != nil {
		t.Fatalf("failed to construct hub: %v", err)
	}
	return hub, transport, db
}

func mustDispatch(t *testing.T, hub *Hub, recipientID, eventType string) *Notification {
	t.Helper()
	row, err := hub.Dispatch(context.Background(), DispatchRequest{
		RecipientID: recipientID,
		SenderID:    "user-sender",
		Type:        eventType,
		Title:       "title",
		Message:     "message",
	})
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}
	return row
}

func TestDispatchPersistsAndMarksDelivery(t *testing.T) {
	hub, transport, db := newTestHub(t)
	transport.connected["user-online"] = true

	row := mustDispatch(t, hub, "user-online", event.TypeMessageSent)
	if row == nil {
		t.Fatalf("expected a notification row")
	}
	if !row.IsDelivered || row.DeliveredAtSeconds == 0 {
		t.Fatalf("expected delivered notification, got %+v", row)
	}
	if row.Priority != PriorityNormal {
		t.Fatalf("expected default priority, got %q", row.Priority)
	}

	offline := mustDispatch(t, hub, "user-offline", event.TypeMessageSent)
	if offline.IsDelivered {
		t.Fatalf("offline recipient should not be marked delivered")
	}
	var persisted Notification
	if err := db.Where("notification_id = ?", offline.NotificationID).Take(&persisted).Error; err != nil {
		t.Fatalf("offline notification should still be persisted: %v", err)
	}

	pushes := transport.recorded()
	if len(pushes) != 2 {
		t.Fatalf("expected 2 transport pushes, got %d", len(pushes))
	}
	if pushes[0].Type != event.TypeNewNotification || pushes[0].TargetUserID != "user-online" {
		t.Fatalf("unexpected push: %+v", pushes[0])
	}
}

func TestDispatchSuppressedByInAppPreference(t *testing.T) {
	hub, transport, db := newTestHub(t)

	err := hub.SetPreference(context.Background(), Preference{
		UserID:    "user-quiet",
		EventType: event.TypeMessageSent,
		Email:     true,
		Push:      true,
		InApp:     false,
	})
	if err != nil {
		t.Fatalf("unexpected preference error: %v", err)
	}

	row, err := hub.Dispatch(context.Background(), DispatchRequest{
		RecipientID: "user-quiet",
		Type:        event.TypeMessageSent,
		Title:       "title",
	})
	if err != nil {
		t.Fatalf("suppression should not be an error: %v", err)
	}
	if row != nil {
		t.Fatalf("expected suppressed notification, got %+v", row)
	}
	var count int64
	if err := db.Model(&Notification{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no persisted rows, got %d", count)
	}
	if len(transport.recorded()) != 0 {
		t.Fatalf("expected no transport pushes")
	}

	// The preference keys on event type; other types still fan out.
	if row := mustDispatch(t, hub, "user-quiet", event.TypeContactRequested); row == nil {
		t.Fatalf("unrelated event type should not be suppressed")
	}
}

func TestDispatchRequiresRecipientAndType(t *testing.T) {
	hub, _, _ := newTestHub(t)

	_, err := hub.Dispatch(context.Background(), DispatchRequest{Type: event.TypeMessageSent})
	if !errors.Is(err, fault.ErrInvalidOperation) {
		t.Fatalf("expected invalid operation for missing recipient, got %v", err)
	}
	_, err = hub.Dispatch(context.Background(), DispatchRequest{RecipientID: "user-a"})
	if !errors.Is(err, fault.ErrInvalidOperation) {
		t.Fatalf("expected invalid operation for missing type, got %v", err)
	}
}

func TestMarkReadRecipientOnly(t *testing.T) {
	hub, _, db := newTestHub(t)
	row := mustDispatch(t, hub, "user-bob", event.TypeMessageSent)

	err := hub.MarkRead(context.Background(), row.NotificationID, "user-mallory")
	if !errors.Is(err, fault.ErrNotAuthorized) {
		t.Fatalf("expected not authorized error, got %v", err)
	}
	if err := hub.MarkRead(context.Background(), row.NotificationID, "user-bob"); err != nil {
		t.Fatalf("unexpected mark read error: %v", err)
	}
	// Second read is a no-op.
	if err := hub.MarkRead(context.Background(), row.NotificationID, "user-bob"); err != nil {
		t.Fatalf("expected idempotent mark read, got %v", err)
	}

	var persisted Notification
	if err := db.Where("notification_id = ?", row.NotificationID).Take(&persisted).Error; err != nil {
		t.Fatalf("failed to load notification: %v", err)
	}
	if !persisted.IsRead || persisted.ReadAtSeconds == 0 {
		t.Fatalf("expected read flags set, got %+v", persisted)
	}

	err = hub.MarkRead(context.Background(), "no-such-id", "user-bob")
	if !errors.Is(err, fault.ErrNotFound) {
		t.Fatalf("expected not found error, got %v", err)
	}
}

func TestUnreadCountSkipsExpired(t *testing.T) {
	hub, _, _ := newTestHub(t)
	clock := time.Unix(1760000000, 0).UTC()

	mustDispatch(t, hub, "user-bob", event.TypeMessageSent)
	_, err := hub.Dispatch(context.Background(), DispatchRequest{
		RecipientID: "user-bob",
		Type:        event.TypeCallStarted,
		Title:       "Incoming call",
		ExpiresAt:   clock.Add(-time.Minute),
	})
	if err != nil {
		t.Fatalf("unexpected dispatch error: %v", err)
	}

	count, err := hub.UnreadCount(context.Background(), "user-bob")
	if err != nil {
		t.Fatalf("unexpected count error: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 unread, got %d", count)
	}

	if err := hub.MarkAllRead(context.Background(), "user-bob"); err != nil {
		t.Fatalf("unexpected mark all error: %v", err)
	}
	count, _ = hub.UnreadCount(context.Background(), "user-bob")
	if count != 0 {
		t.Fatalf("expected 0 unread after mark-all, got %d", count)
	}
}

func TestListForAppliesFilters(t *testing.T) {
	hub, _, _ := newTestHub(t)
	mustDispatch(t, hub, "user-bob", event.TypeMessageSent)
	read := mustDispatch(t, hub, "user-bob", event.TypeContactRequested)
	mustDispatch(t, hub, "user-carol", event.TypeMessageSent)
	if err := hub.MarkRead(context.Background(), read.NotificationID, "user-bob"); err != nil {
		t.Fatalf("unexpected mark read error: %v", err)
	}

	rows, err := hub.ListFor(context.Background(), "user-bob", ListFilters{}, 1, 20)
	if err != nil {
		t.Fatalf("unexpected list error: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(rows))
	}

	unread := false
	rows, err = hub.ListFor(context.Background(), "user-bob", ListFilters{IsRead: &unread}, 1, 20)
	if err != nil {
		t.Fatalf("unexpected filtered list error: %v", err)
	}
	if len(rows) != 1 || rows[0].Type != event.TypeMessageSent {
		t.Fatalf("expected one unread message notification, got %+v", rows)
	}

	contactType := event.TypeContactRequested
	rows, err = hub.ListFor(context.Background(), "user-bob", ListFilters{Type: &contactType}, 1, 20)
	if err != nil {
		t.Fatalf("unexpected typed list error: %v", err)
	}
	if len(rows) != 1 || !rows[0].IsRead {
		t.Fatalf("expected the read contact notification, got %+v", rows)
	}
}

func TestHandleEventFansOutSkippingActor(t *testing.T) {
	hub, _, db := newTestHub(t)

	err := hub.HandleEvent(context.Background(), event.Event{
		Type:          event.TypeMessageSent,
		ActorID:       "user-alice",
		NotifyUserIDs: []string{"user-bob", "user-alice", "", "user-carol"},
		Payload:       map[string]string{"channel_id": "chan-1"},
	})
	if err != nil {
		t.Fatalf("unexpected handle error: %v", err)
	}

	var rows []Notification
	if err := db.Order("recipient_id ASC").Find(&rows).Error; err != nil {
		t.Fatalf("failed to load notifications: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 notifications, got %d", len(rows))
	}
	if rows[0].RecipientID != "user-bob" || rows[1].RecipientID != "user-carol" {
		t.Fatalf("unexpected recipients: %q, %q", rows[0].RecipientID, rows[1].RecipientID)
	}
	if rows[0].SenderID != "user-alice" || rows[0].Title != "New message" {
		t.Fatalf("unexpected template application: %+v", rows[0])
	}
}

func TestHandleEventIgnoresUntemplatedTypes(t *testing.T) {
	hub, _, db := newTestHub(t)

	err := hub.HandleEvent(context.Background(), event.Event{
		Type:          event.TypeUserLeftCall,
		ActorID:       "user-alice",
		NotifyUserIDs: []string{"user-bob"},
	})
	if err != nil {
		t.Fatalf("unexpected handle error: %v", err)
	}
	var count int64
	if err := db.Model(&Notification{}).Count(&count).Error; err != nil {
		t.Fatalf("failed to count: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected no notifications for untemplated event, got %d", count)
	}
}
