package eventbus

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBus_DeliversInOrder(t *testing.T) {
	bus := New(Options{})
	var got []string

	bus.Subscribe(TopicRunCompleted, func(_ context.Context, e Event) error {
		got = append(got, "a:"+e.Payload.(string))
		return nil
	})
	bus.Subscribe(TopicRunCompleted, func(_ context.Context, e Event) error {
		got = append(got, "b:"+e.Payload.(string))
		return nil
	})
	bus.Subscribe("other", func(context.Context, Event) error {
		t.Error("handler on another topic was called")
		return nil
	})

	n := bus.Publish(context.Background(), Event{Topic: TopicRunCompleted, Payload: "x"})
	if n != 2 {
		t.Errorf("expected 2 deliveries, got %d", n)
	}
	if len(got) != 2 || got[0] != "a:x" || got[1] != "b:x" {
		t.Errorf("unexpected delivery order: %v", got)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := New(Options{})
	calls := 0

	unsubscribe := bus.Subscribe(TopicRunCompleted, func(context.Context, Event) error {
		calls++
		return nil
	})
	bus.Publish(context.Background(), Event{Topic: TopicRunCompleted})
	unsubscribe()
	unsubscribe()
	bus.Publish(context.Background(), Event{Topic: TopicRunCompleted})

	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if bus.Subscribers(TopicRunCompleted) != 0 {
		t.Errorf("expected no subscribers left")
	}
}

func TestBus_HandlerFailuresAreIsolated(t *testing.T) {
	bus := New(Options{})
	reached := false

	bus.Subscribe(TopicRunCompleted, func(context.Context, Event) error { panic("boom") })
	bus.Subscribe(TopicRunCompleted, func(context.Context, Event) error { return errors.New("failed") })
	bus.Subscribe(TopicRunCompleted, func(context.Context, Event) error {
		reached = true
		return nil
	})

	if n := bus.Publish(context.Background(), Event{Topic: TopicRunCompleted}); n != 1 {
		t.Errorf("expected 1 successful delivery, got %d", n)
	}
	if !reached {
		t.Error("handler after a panicking handler was not called")
	}
}

func TestBus_StampsTime(t *testing.T) {
	fixed := time.Date(2024, 5, 1, 9, 0, 0, 0, time.UTC)
	bus := New(Options{Clock: func() time.Time { return fixed }})

	var seen time.Time
	bus.Subscribe(TopicBreakerTripped, func(_ context.Context, e Event) error {
		seen = e.Time
		return nil
	})
	bus.Publish(context.Background(), Event{Topic: TopicBreakerTripped})

	if !seen.Equal(fixed) {
		t.Errorf("expected stamped time %v, got %v", fixed, seen)
	}
}

func TestBus_HandlerMayUnsubscribeItself(t *testing.T) {
	bus := New(Options{})
	var unsubscribe func()
	calls := 0
	unsubscribe = bus.Subscribe(TopicRunCompleted, func(context.Context, Event) error {
		calls++
		unsubscribe()
		return nil
	})

	bus.Publish(context.Background(), Event{Topic: TopicRunCompleted})
	bus.Publish(context.Background(), Event{Topic: TopicRunCompleted})
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}

	bus.Subscribe(TopicRunCompleted, func(context.Context, Event) error { return nil })
	bus.Clear()
	if bus.Subscribers(TopicRunCompleted) != 0 {
		t.Error("Clear left subscribers")
	}
}
