package realtime

import (
	"context"

	"github.com/commonshq/commons-backend/internal/event"
)

// Bridge forwards bus events into the hub. Room events fan out to room
// members, targeted events go to the one user, and both dimensions are
// honored when an event carries both.
type Bridge struct {
	hub *Hub
}

// NewBridge constructs a bridge in front of the given hub.
func NewBridge(hub *Hub) *Bridge {
	return &Bridge{hub: hub}
}

// HandleEvent implements event.Subscriber.
func (b *Bridge) HandleEvent(_ context.Context, evt event.Event) error {
	if evt.TargetUserID != "" {
		b.hub.SendToUser(evt.TargetUserID, evt)
		return nil
	}
	if evt.Room != "" {
		b.hub.PublishToRoom(evt.Room, evt)
	}
	return nil
}
