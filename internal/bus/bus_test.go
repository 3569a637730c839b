package bus

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/advisord/advisord/pkg/models"
)

func TestPublishFansOutAndAudits(t *testing.T) {
	dir := t.TempDir()
	b := New(dir, true)

	var mu sync.Mutex
	var exact, wildcard int
	b.Subscribe(models.EventSignalProposed, func(ctx context.Context, ev models.Event) {
		mu.Lock()
		exact++
		mu.Unlock()
	})
	b.Subscribe(Wildcard, func(ctx context.Context, ev models.Event) {
		mu.Lock()
		wildcard++
		mu.Unlock()
	})

	ev := models.NewEvent(models.EventSignalProposed, "test", map[string]any{"ticker": "NVDA"})
	if err := b.Publish(context.Background(), ev); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if err := b.Publish(context.Background(), models.NewEvent(models.EventAlertTriggered, "test", nil)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if exact != 1 {
		t.Errorf("exact subscriber fired %d times, want 1", exact)
	}
	if wildcard != 2 {
		t.Errorf("wildcard subscriber fired %d times, want 2", wildcard)
	}

	day := time.Now().UTC()
	count, err := CountEvents(dir, day, models.EventSignalProposed)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 1 {
		t.Errorf("audit count = %d, want 1", count)
	}

	events, err := ReadDay(dir, day)
	if err != nil {
		t.Fatalf("read day failed: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("audit has %d events, want 2", len(events))
	}
	if events[0].ID != ev.ID {
		t.Errorf("first audited event id = %q, want %q", events[0].ID, ev.ID)
	}
	if events[0].Payload["ticker"] != "NVDA" {
		t.Errorf("payload lost in audit: %v", events[0].Payload)
	}
}

func TestAuditDisabled(t *testing.T) {
	dir := t.TempDir()
	b := New(dir, false)

	if err := b.Publish(context.Background(), models.NewEvent("x.y", "test", nil)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	count, err := CountEvents(dir, time.Now().UTC(), "x.y")
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if count != 0 {
		t.Errorf("audit should be empty, got %d events", count)
	}
}

func TestSubscriberPanicIsolated(t *testing.T) {
	b := New(t.TempDir(), false)

	var mu sync.Mutex
	delivered := false
	b.Subscribe("boom", func(ctx context.Context, ev models.Event) {
		panic("handler exploded")
	})
	b.Subscribe("boom", func(ctx context.Context, ev models.Event) {
		mu.Lock()
		delivered = true
		mu.Unlock()
	})

	if err := b.Publish(context.Background(), models.NewEvent("boom", "test", nil)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !delivered {
		t.Error("healthy subscriber starved by panicking one")
	}
}

func TestUnsubscribeRemovesExactRegistration(t *testing.T) {
	b := New(t.TempDir(), false)

	var mu sync.Mutex
	var first, second int
	sub := b.Subscribe("tick", func(ctx context.Context, ev models.Event) {
		mu.Lock()
		first++
		mu.Unlock()
	})
	b.Subscribe("tick", func(ctx context.Context, ev models.Event) {
		mu.Lock()
		second++
		mu.Unlock()
	})

	if err := b.Publish(context.Background(), models.NewEvent("tick", "test", nil)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	b.Unsubscribe(sub)
	b.Unsubscribe(sub) // second removal is a no-op

	if err := b.Publish(context.Background(), models.NewEvent("tick", "test", nil)); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if first != 1 {
		t.Errorf("removed subscriber fired %d times, want 1", first)
	}
	if second != 2 {
		t.Errorf("remaining subscriber fired %d times, want 2", second)
	}
}

func TestCountEventsMissingDay(t *testing.T) {
	count, err := CountEvents(t.TempDir(), time.Now().UTC(), "anything")
	if err != nil {
		t.Fatalf("missing audit file should not error: %v", err)
	}
	if count != 0 {
		t.Errorf("got %d, want 0", count)
	}

	events, err := ReadDay(t.TempDir(), time.Now().UTC())
	if err != nil {
		t.Fatalf("read of missing day failed: %v", err)
	}
	if events != nil {
		t.Errorf("expected nil events, got %d", len(events))
	}
}
