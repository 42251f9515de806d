// Package realtime fans events out to connected clients. Delivery is
// best-effort in-process: a subscriber with a full buffer misses the
// message rather than blocking the publisher.
package realtime

import (
	"context"
	"sync"

	"github.com/commonshq/commons-backend/internal/event"
)

const subscriberBufferSize = 32

// Hub routes events to per-user subscribers and to named rooms.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[string]map[int64]*subscriber
	rooms       map[string]map[string]struct{}
	memberships map[string]map[string]struct{}
	nextID      int64
}

type subscriber struct {
	id     int64
	stream chan event.Event
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]map[int64]*subscriber),
		rooms:       make(map[string]map[string]struct{}),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Subscribe opens a stream for one user connection. The returned cleanup
// detaches the stream; it also runs when ctx is cancelled.
func (h *Hub) Subscribe(ctx context.Context, userID string) (<-chan event.Event, func()) {
	if userID == "" {
		ch := make(chan event.Event)
		close(ch)
		return ch, func() {}
	}
	sub := &subscriber{
		id:     h.nextSequence(),
		stream: make(chan event.Event, subscriberBufferSize),
	}
	h.register(userID, sub)
	cleanup := func() {
		h.unregister(userID, sub.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return sub.stream, cleanup
}

// JoinRoom adds the user to a room. Events published to the room reach
// every stream the user holds.
func (h *Hub) JoinRoom(roomID, userID string) {
	if roomID == "" || userID == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.rooms[roomID]; !ok {
		h.rooms[roomID] = make(map[string]struct{})
	}
	h.rooms[roomID][userID] = struct{}{}
	if _, ok := h.memberships[userID]; !ok {
		h.memberships[userID] = make(map[string]struct{})
	}
	h.memberships[userID][roomID] = struct{}{}
}

// LeaveRoom removes the user from a room.
func (h *Hub) LeaveRoom(roomID, userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.dropMembership(roomID, userID)
}

// LeaveAllRooms removes the user from every room, used on disconnect.
func (h *Hub) LeaveAllRooms(userID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for roomID := range h.memberships[userID] {
		h.dropMembership(roomID, userID)
	}
}

// RoomsOf returns the rooms the user currently belongs to.
func (h *Hub) RoomsOf(userID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	rooms := make([]string, 0, len(h.memberships[userID]))
	for roomID := range h.memberships[userID] {
		rooms = append(rooms, roomID)
	}
	return rooms
}

// SendToUser delivers the event to every stream the user holds. Returns
// true when at least one stream accepted it.
func (h *Hub) SendToUser(userID string, evt event.Event) bool {
	h.mu.RLock()
	targets := h.copySubscribers(userID)
	h.mu.RUnlock()
	delivered := false
	for _, sub := range targets {
		select {
		case sub.stream <- evt:
			delivered = true
		default:
		}
	}
	return delivered
}

// PublishToRoom delivers the event to every member of the room.
func (h *Hub) PublishToRoom(roomID string, evt event.Event) {
	h.mu.RLock()
	members := make([]string, 0, len(h.rooms[roomID]))
	for userID := range h.rooms[roomID] {
		members = append(members, userID)
	}
	h.mu.RUnlock()
	for _, userID := range members {
		h.SendToUser(userID, evt)
	}
}

func (h *Hub) copySubscribers(userID string) []*subscriber {
	subs := h.subscribers[userID]
	if len(subs) == 0 {
		return nil
	}
	copies := make([]*subscriber, 0, len(subs))
	for _, sub := range subs {
		copies = append(copies, sub)
	}
	return copies
}

func (h *Hub) nextSequence() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.nextID++
	return h.nextID
}

func (h *Hub) register(userID string, sub *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subscribers[userID]; !ok {
		h.subscribers[userID] = make(map[int64]*subscriber)
	}
	h.subscribers[userID][sub.id] = sub
}

func (h *Hub) unregister(userID string, subscriberID int64) {
	h.mu.Lock()
	subs := h.subscribers[userID]
	if subs != nil {
		delete(subs, subscriberID)
		if len(subs) == 0 {
			delete(h.subscribers, userID)
		}
	}
	h.mu.Unlock()
}

func (h *Hub) dropMembership(roomID, userID string) {
	if members, ok := h.rooms[roomID]; ok {
		delete(members, userID)
		if len(members) == 0 {
			delete(h.rooms, roomID)
		}
	}
	if rooms, ok := h.memberships[userID]; ok {
		delete(rooms, roomID)
		if len(rooms) == 0 {
			delete(h.memberships, userID)
		}
	}
}
