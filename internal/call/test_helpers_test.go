package call

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"

	"github.com/commonshq/commons-backend/internal/chat"
	"github.com/commonshq/commons-backend/internal/contact"
	"github.com/commonshq/commons-backend/internal/event"
	"github.com/commonshq/commons-backend/internal/wall"
)

type staticIDGenerator struct {
	prefix string
	next   int
}

func (g *staticIDGenerator) NewID() (string, error) {
	g.next++
	return fmt.Sprintf("%s-%03d", g.prefix, g.next), nil
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

// stubContacts keys pair statuses on the unordered "low|high" user pair.
type stubContacts struct {
	statuses map[string]contact.Status
}

func pairKey(userA, userB string) string {
	if userA > userB {
		userA, userB = userB, userA
	}
	return userA + "|" + userB
}

func (s *stubContacts) accept(userA, userB string) {
	s.statuses[pairKey(userA, userB)] = contact.StatusAccepted
}

func (s *stubContacts) StatusOf(_ context.Context, userA, userB string) (contact.Status, error) {
	status, ok := s.statuses[pairKey(userA, userB)]
	if !ok {
		return contact.StatusNone, nil
	}
	return status, nil
}

type stubChannels struct {
	channels map[string]*chat.Channel
	members  map[string][]chat.Member
}

func (s *stubChannels) Get(_ context.Context, channelID string) (*chat.Channel, error) {
	channel, ok := s.channels[channelID]
	if !ok {
		return nil, errors.New("channel missing")
	}
	return channel, nil
}

func (s *stubChannels) IsParticipant(_ context.Context, channelID, userID string) (bool, error) {
	for _, member := range s.members[channelID] {
		if member.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *stubChannels) Participants(_ context.Context, channelID string) ([]chat.Member, error) {
	return s.members[channelID], nil
}

type stubWalls struct {
	walls      map[string]*wall.Wall
	members    map[string]map[string]bool
	moderators map[string]map[string]bool
}

func (s *stubWalls) Get(_ context.Context, wallID string) (*wall.Wall, error) {
	target, ok := s.walls[wallID]
	if !ok {
		return nil, errors.New("wall missing")
	}
	return target, nil
}

func (s *stubWalls) IsMember(_ context.Context, wallID, userID string) (bool, error) {
	return s.members[wallID][userID], nil
}

func (s *stubWalls) IsModerator(_ context.Context, wallID, userID string) (bool, error) {
	return s.moderators[wallID][userID], nil
}

type testFixture struct {
	coordinator *Coordinator
	publisher   *recordingPublisher
	contacts    *stubContacts
	channels    *stubChannels
	walls       *stubWalls
	db          *gorm.DB
}

func newTestCoordinator(t *testing.T) *testFixture {
	t.Helper()

	dsn := fmt.Sprintf("file:call_test_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&Session{}, &Participant{}); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	fixture := &testFixture{
		publisher: &recordingPublisher{},
		contacts:  &stubContacts{statuses: map[string]contact.Status{}},
		channels:  &stubChannels{channels: map[string]*chat.Channel{}, members: map[string][]chat.Member{}},
		walls:     &stubWalls{walls: map[string]*wall.Wall{}, members: map[string]map[string]bool{}, moderators: map[string]map[string]bool{}},
		db:        db,
	}
	coordinator, err := NewCoordinator(CoordinatorConfig{
		Database:        db,
		Clock:           func() time.Time { return time.Unix(1760000000, 0).UTC() },
		IDProvider:      &staticIDGenerator{prefix: "call"},
		Contacts:        fixture.contacts,
		Channels:        fixture.channels,
		Walls:           fixture.walls,
		Events:          fixture.publisher,
		DefaultCapacity: 8,
	})
	if err != nil {
		t.Fatalf("failed to construct coordinator: %v", err)
	}
	fixture.coordinator = coordinator
	return fixture
}

func mustStartPrivate(t *testing.T, fixture *testFixture, initiatorID, peerID string) *Session {
	t.Helper()
	fixture.contacts.accept(initiatorID, peerID)
	session, err := fixture.coordinator.Start(context.Background(), initiatorID, ScopePrivate, peerID, nil, nil)
	if err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	return session
}

func mustJoin(t *testing.T, fixture *testFixture, sessionID, userID string) *Session {
	t.Helper()
	session, err := fixture.coordinator.Join(context.Background(), sessionID, userID)
	if err != nil {
		t.Fatalf("unexpected join error: %v", err)
	}
	return session
}

func loadParticipant(t *testing.T, db *gorm.DB, sessionID, userID string) Participant {
	t.Helper()
	var participant Participant
	if err := db.Where("session_id = ? AND user_id = ?", sessionID, userID).Take(&participant).Error; err != nil {
		t.Fatalf("failed to load participant: %v", err)
	}
	return participant
}

func loadSession(t *testing.T, db *gorm.DB, sessionID string) Session {
	t.Helper()
	var session Session
	if err := db.Where("session_id = ?", sessionID).Take(&session).Error; err != nil {
		t.Fatalf("failed to load session: %v", err)
	}
	return session
}
