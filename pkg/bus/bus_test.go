package bus

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestEventFanout(t *testing.T) {
	b := New()
	t.Cleanup(b.Close)

	ctx := context.Background()
	eventsA, unsubA := b.Subscribe(ctx, 1)
	defer unsubA()
	eventsB, unsubB := b.Subscribe(ctx, 1)
	defer unsubB()

	event := Event{Type: EventTurnStarted, TurnID: "turn-1"}
	if ok := b.Publish(ctx, event); !ok {
		t.Fatal("expected event publish to succeed")
	}

	for name, events := range map[string]<-chan Event{"A": eventsA, "B": eventsB} {
		select {
		case got := <-events:
			if got.Type != EventTurnStarted || got.TurnID != "turn-1" {
				t.Fatalf("subscriber %s got %+v", name, got)
			}
			if got.At.IsZero() {
				t.Fatalf("subscriber %s got event without timestamp", name)
			}
		case <-time.After(500 * time.Millisecond):
			t.Fatalf("subscriber %s did not receive event", name)
		}
	}
}

func TestSlowSubscriberDoesNotBlockPublish(t *testing.T) {
	b := New()
	t.Cleanup(b.Close)

	ctx := context.Background()
	events, unsubscribe := b.Subscribe(ctx, 1)
	defer unsubscribe()

	if ok := b.Publish(ctx, Event{Type: EventTurnStarted}); !ok {
		t.Fatal("expected first event publish to succeed")
	}

	start := time.Now()
	if ok := b.Publish(ctx, Event{Type: EventTurnCompleted}); !ok {
		t.Fatal("expected second event publish to succeed")
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("publish blocked on slow subscriber")
	}

	select {
	case <-events:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected at least one event")
	}
}

func TestUnsubscribeStopsEvents(t *testing.T) {
	b := New()
	t.Cleanup(b.Close)

	ctx := context.Background()
	events, unsubscribe := b.Subscribe(ctx, 1)
	unsubscribe()
	unsubscribe()

	if ok := b.Publish(ctx, Event{Type: EventTurnStarted}); !ok {
		t.Fatal("expected event publish to succeed")
	}

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("expected event channel close after unsubscribe")
	}
}

func TestSubscriptionEndsWithContext(t *testing.T) {
	b := New()
	t.Cleanup(b.Close)

	ctx, cancel := context.WithCancel(context.Background())
	events, _ := b.Subscribe(ctx, 1)
	cancel()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected closed event channel")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("subscription did not end with its context")
	}
}

func TestCloseStopsBus(t *testing.T) {
	b := New()

	events, _ := b.Subscribe(context.Background(), 1)
	b.Close()
	b.Close()

	select {
	case _, ok := <-events:
		if ok {
			t.Fatal("expected event channel to be closed")
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatal("event subscription did not unblock after close")
	}

	if ok := b.Publish(context.Background(), Event{Type: EventTurnStarted}); ok {
		t.Fatal("expected publish to fail after close")
	}

	late, _ := b.Subscribe(context.Background(), 1)
	if _, ok := <-late; ok {
		t.Fatal("expected subscription on closed bus to be closed")
	}
}

func TestPublishOnNilBus(t *testing.T) {
	var b *Bus
	if b.Publish(context.Background(), Event{Type: EventTurnStarted}) {
		t.Fatal("expected publish on nil bus to report false")
	}
}

func TestObserveLogsEvents(t *testing.T) {
	b := New()
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))

	done := make(chan struct{})
	go func() {
		defer close(done)
		Observe(context.Background(), b, log)
	}()

	// Give the observer time to subscribe before publishing.
	deadline := time.Now().Add(time.Second)
	for {
		b.mu.RLock()
		subscribed := len(b.subscribers) > 0
		b.mu.RUnlock()
		if subscribed || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	b.Publish(context.Background(), Event{Type: EventTurnFailed, TurnID: "turn-9", Error: "boom"})
	b.Publish(context.Background(), Event{Type: EventSentenceEmitted, TurnID: "turn-9"})
	time.Sleep(20 * time.Millisecond)
	b.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("observer did not stop after close")
	}

	out := buf.String()
	for _, want := range []string{"turn_failed", "turn-9", "error=boom", "sentence_emitted", "component=bus.events"} {
		if !strings.Contains(out, want) {
			t.Fatalf("log output missing %q:\n%s", want, out)
		}
	}
}
