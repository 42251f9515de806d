package event

import (
	"context"
	"errors"
	"testing"
)

type recordingSubscriber struct {
	events []Event
	err    error
}

func (s *recordingSubscriber) HandleEvent(_ context.Context, evt Event) error {
	s.events = append(s.events, evt)
	return s.err
}

func TestPublishDeliversToAllSubscribers(t *testing.T) {
	bus := NewBus(nil)
	first := &recordingSubscriber{}
	second := &recordingSubscriber{}
	bus.Subscribe(first)
	bus.Subscribe(second)

	bus.Publish(context.Background(), Event{Type: TypeMessageSent, Room: "channel:c1"})

	if len(first.events) != 1 || len(second.events) != 1 {
		t.Fatalf("expected delivery to both subscribers, got %d and %d", len(first.events), len(second.events))
	}
	if first.events[0].OccurredAt.IsZero() {
		t.Fatalf("expected occurred-at to be stamped")
	}
}

func TestPublishIgnoresUntypedEvents(t *testing.T) {
	bus := NewBus(nil)
	subscriber := &recordingSubscriber{}
	bus.Subscribe(subscriber)

	bus.Publish(context.Background(), Event{Room: "channel:c1"})

	if len(subscriber.events) != 0 {
		t.Fatalf("expected no delivery for an untyped event, got %d", len(subscriber.events))
	}
}

func TestPublishIsolatesFailingSubscribers(t *testing.T) {
	bus := NewBus(nil)
	failing := &recordingSubscriber{err: errors.New("boom")}
	panicking := SubscriberFunc(func(context.Context, Event) error { panic("subscriber gone wrong") })
	healthy := &recordingSubscriber{}
	bus.Subscribe(failing)
	bus.Subscribe(panicking)
	bus.Subscribe(healthy)

	bus.Publish(context.Background(), Event{Type: TypeReactionChanged})

	if len(healthy.events) != 1 {
		t.Fatalf("expected the healthy subscriber to still receive the event, got %d", len(healthy.events))
	}
}

func TestSubscribeIgnoresNil(t *testing.T) {
	bus := NewBus(nil)
	bus.Subscribe(nil)
	bus.Publish(context.Background(), Event{Type: TypeMessageSent})
}
