package contact

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
)

type staticIDGenerator struct {
	ids   []string
	index int
}

func (g *staticIDGenerator) NewID() (string, error) {
	if g.index >= len(g.ids) {
		return "", errors.New("exhausted ids")
	}
	id := g.ids[g.index]
	g.index++
	return id, nil
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

func newTestService(t *testing.T, ids []string) (*Service, *recordingPublisher, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:contact_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Contact{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	publisher := &recordingPublisher{}
	service, err := NewService(ServiceConfig{
		Database:   db,
		Clock:      func() time.Time { return time.Unix(1760000000, 0).UTC() },
		IDProvider: &staticIDGenerator{ids: ids},
		Events:     publisher,
	})
	if err != nil {
		t.Fatalf("failed to construct contact service: %v", err)
	}
	return service, publisher, db
}

func mustRequest(t *testing.T, service *Service, requesterID, recipientID string) *Contact {
	t.Helper()
	row, err := service.Request(context.Background(), requesterID, recipientID, "")
	if err != nil {
		t.Fatalf("unexpected request error: %v", err)
	}
	return row
}
