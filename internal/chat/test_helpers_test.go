package chat

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/commonshq/commons-backend/internal/event"
)

type staticIDGenerator struct {
	prefix string
	next   int
}

func (g *staticIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%03d", g.prefix, g.next), nil
}

type staticDirectory struct {
	missing map[string]bool
}

func (d *staticDirectory) ResolveActive(_ context.Context, userIDs []string) ([]string, error) {
	var missing []string
	for _, id := range userIDs {
		if d.missing[id] {
			missing = append(missing, id)
		}
	}
	return missing, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
}

func (p *recordingPublisher) Publish(_ context.Context, evt event.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) recorded() []event.Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]event.Event(nil), p.events...)
}

// steppingClock advances one second per reading so activity timestamps stay
// distinct and orderable.
type steppingClock struct {
	now time.Time
}

func (c *steppingClock) Now() time.Time {
	current := c.now
	c.now = c.now.Add(time.Second)
	return current
}

func newTestService(t *testing.T) (*Service, *recordingPublisher, *staticDirectory, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:chat_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Channel{}, &Member{}, &Message{}, &ReadReceipt{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	publisher := &recordingPublisher{}
	directory := &staticDirectory{missing: map[string]bool{}}
	clock := &steppingClock{now: time.Unix(1760000000, 0).UTC()}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      clock.Now,
		IDProvider: &staticIDGenerator{prefix: "chat"},
		Directory:  directory,
		Events:     publisher,
		GroupLimit: 8,
	})
	if err != nil {
		t.Fatalf("failed to construct chat service: %v", err)
	}
	return service, publisher, directory, db
}

func mustPrivate(t *testing.T, service *Service, userA, userB string) *Channel {
	t.Helper()
	channel, err := service.GetOrCreatePrivate(context.Background(), userA, userB)
	if err != nil {
		t.Fatalf("unexpected private channel error: %v", err)
	}
	return channel
}

func mustGroup(t *testing.T, service *Service, creatorID, name string, participantIDs []string) *Channel {
	t.Helper()
	channel, err := service.CreateGroup(context.Background(), creatorID, name, participantIDs, nil)
	if err != nil {
		t.Fatalf("unexpected group channel error: %v", err)
	}
	return channel
}

func mustSend(t *testing.T, service *Service, channelID, authorID, body string) *Message {
	t.Helper()
	message, err := service.Send(context.Background(), channelID, authorID, body, nil)
	if err != nil {
		t.Fatalf("unexpected send error: %v", err)
	}
	return message
}

func loadMembers(t *testing.T, db *gorm.DB, channelID string) []Member {
	t.Helper()
	var members []Member
	if err := db.Where("channel_id = ?", channelID).Order("joined_at_s ASC, user_id ASC").Find(&members).Error; err != nil {
		t.Fatalf("failed to load members: %v", err)
	}
	return members
}

func loadChannel(t *testing.T, db *gorm.DB, channelID string) Channel {
	t.Helper()
	var channel Channel
	if err := db.Where("channel_id = ?", channelID).Take(&channel).Error; err != nil {
		t.Fatalf("failed to load channel: %v", err)
	}
	return channel
}
