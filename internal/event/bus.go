package event

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Event types emitted by the coordination core. Payloads carry identifiers
// only; consumers re-fetch full state from the owning store.
const (
	TypeContactRequested = "contact-requested"
	TypeContactAccepted  = "contact-accepted"
	TypeMessageSent      = "message-sent"
	TypeReplyAdded       = "reply-added"
	TypeReactionChanged  = "reaction-changed"
	TypeCallStarted      = "call-started"
	TypeUserJoinedCall   = "call-user-joined"
	TypeUserLeftCall     = "call-user-left"
	TypeCallEnded        = "call-ended"
	TypeCallSignal       = "call-signal"
	TypeNewNotification  = "notification-new"
)

// Event is one domain occurrence published after its triggering write has
// committed. Room targets a transport room; TargetUserID targets a single
// user. Either may be empty.
type Event struct {
	Type         string
	Room         string
	TargetUserID string
	ActorID      string
	// NotifyUserIDs names the users the notification hub should fan this
	// event out to, independent of transport targeting.
	NotifyUserIDs []string
	Payload       map[string]string
	OccurredAt    time.Time
}

// Subscriber consumes published events. Errors are logged by the bus and
// never reach the publisher.
type Subscriber interface {
	HandleEvent(ctx context.Context, evt Event) error
}

// SubscriberFunc adapts a function to the Subscriber interface.
type SubscriberFunc func(ctx context.Context, evt Event) error

// HandleEvent invokes the wrapped function.
func (f SubscriberFunc) HandleEvent(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}

// Bus delivers events from the domain stores to every registered subscriber.
// Delivery is synchronous and isolated: a panicking or failing subscriber
// cannot abort the triggering operation or starve later subscribers.
type Bus struct {
	mu          sync.RWMutex
	subscribers []Subscriber
	logger      *zap.Logger
}

// NewBus constructs an event bus. A nil logger falls back to a no-op logger.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{logger: logger}
}

// Subscribe registers a subscriber for all future events.
func (b *Bus) Subscribe(subscriber Subscriber) {
	if subscriber == nil {
		return
	}
	b.mu.Lock()
	b.subscribers = append(b.subscribers, subscriber)
	b.mu.Unlock()
}

// Publish fans the event out to every subscriber.
func (b *Bus) Publish(ctx context.Context, evt Event) {
	if evt.Type == "" {
		return
	}
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = time.Now().UTC()
	}
	b.mu.RLock()
	subscribers := make([]Subscriber, len(b.subscribers))
	copy(subscribers, b.subscribers)
	b.mu.RUnlock()

	for _, subscriber := range subscribers {
		b.deliver(ctx, subscriber, evt)
	}
}

func (b *Bus) deliver(ctx context.Context, subscriber Subscriber, evt Event) {
	defer func() {
		if recovered := recover(); recovered != nil {
			b.logger.Error("event subscriber panicked",
				zap.String("event_type", evt.Type),
				zap.Any("panic", recovered))
		}
	}()
	if err := subscriber.HandleEvent(ctx, evt); err != nil {
		b.logger.Warn("event subscriber failed",
			zap.String("event_type", evt.Type),
			zap.Error(err))
	}
}

// Publisher is the write-side contract the domain stores depend on.
type Publisher interface {
	Publish(ctx context.Context, evt Event)
}
