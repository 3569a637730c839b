package delivery

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/advisord/advisord/internal/bus"
	"github.com/advisord/advisord/internal/plugin"
	"github.com/advisord/advisord/internal/registry"
	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/models"
)

type sentText struct {
	channelID string
	text      string
}

type fakeOutput struct {
	name string
	fail bool

	mu    sync.Mutex
	sends int
	texts []sentText
}

func (f *fakeOutput) Name() string { return f.name }

func (f *fakeOutput) Send(ctx context.Context, signal *models.Signal, memo *models.InvestmentMemo) plugin.DeliveryResult {
	f.mu.Lock()
	f.sends++
	f.mu.Unlock()
	if f.fail {
		return plugin.DeliveryResult{Success: false, Adapter: f.name, Message: "connection refused"}
	}
	return plugin.DeliveryResult{Success: true, Adapter: f.name}
}

func (f *fakeOutput) SendText(ctx context.Context, channelID, text string) plugin.DeliveryResult {
	f.mu.Lock()
	f.texts = append(f.texts, sentText{channelID: channelID, text: text})
	f.mu.Unlock()
	if f.fail {
		return plugin.DeliveryResult{Success: false, Adapter: f.name, Message: "connection refused"}
	}
	return plugin.DeliveryResult{Success: true, Adapter: f.name}
}

func (f *fakeOutput) sentTexts() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentText{}, f.texts...)
}

func newTestEnv(t *testing.T) (*store.Store, *bus.Bus, *registry.Registry) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	return st, bus.New(t.TempDir(), false), registry.New()
}

func capture(b *bus.Bus, eventType string) func() []models.Event {
	var mu sync.Mutex
	var events []models.Event
	b.Subscribe(eventType, func(ctx context.Context, ev models.Event) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})
	return func() []models.Event {
		mu.Lock()
		defer mu.Unlock()
		return append([]models.Event{}, events...)
	}
}

func approvedSignal(t *testing.T, st *store.Store) *models.Signal {
	t.Helper()
	sig := models.NewSignal("NVDA", "buy", "earnings", 0.85)
	sig.Status = models.SignalApproved
	if err := st.SaveSignal(sig); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	return sig
}

func TestDeliveryOneSuccessIsEnough(t *testing.T) {
	st, b, reg := newTestEnv(t)
	ctx := context.Background()

	ok := &fakeOutput{name: "telegram"}
	broken := &fakeOutput{name: "webhook", fail: true}
	reg.Register(plugin.KindOutput, ok.name, ok)
	reg.Register(plugin.KindOutput, broken.name, broken)

	New(b, st, reg, time.Hour)
	delivered := capture(b, models.EventSignalDelivered)

	sig := approvedSignal(t, st)
	before := time.Now().UTC()
	if err := b.Publish(ctx, models.NewEvent(models.EventSignalApproved, "risk_engine", models.ToPayload(sig))); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if len(delivered()) != 1 {
		t.Fatalf("signal.delivered published %d times, want 1", len(delivered()))
	}

	stored, err := st.LoadSignal(sig.ID)
	if err != nil || stored == nil {
		t.Fatalf("signal not persisted: (%v, %v)", stored, err)
	}
	if stored.Status != models.SignalDelivered {
		t.Errorf("status = %q, want delivered", stored.Status)
	}
	if stored.DeliveredVia != "telegram" {
		t.Errorf("delivered_via = %q", stored.DeliveredVia)
	}
	if stored.ConfirmationStatus != models.ConfirmationPending {
		t.Errorf("confirmation status = %q", stored.ConfirmationStatus)
	}
	if stored.ConfirmationDueAt == nil {
		t.Fatal("confirmation deadline not set")
	}
	due := *stored.ConfirmationDueAt
	if due.Before(before.Add(59*time.Minute)) || due.After(before.Add(61*time.Minute)) {
		t.Errorf("deadline %v not ~1h after delivery", due)
	}
	if len(stored.DeliveryErrors) != 1 || !strings.Contains(stored.DeliveryErrors[0], "webhook") {
		t.Errorf("partial failures not recorded: %v", stored.DeliveryErrors)
	}
}

func TestDeliveryTotalFailureRaisesAlert(t *testing.T) {
	st, b, reg := newTestEnv(t)
	ctx := context.Background()

	broken := &fakeOutput{name: "telegram", fail: true}
	reg.Register(plugin.KindOutput, broken.name, broken)

	New(b, st, reg, time.Hour)
	alerts := capture(b, models.EventAlertTriggered)
	delivered := capture(b, models.EventSignalDelivered)

	sig := approvedSignal(t, st)
	if err := b.Publish(ctx, models.NewEvent(models.EventSignalApproved, "risk_engine", models.ToPayload(sig))); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if len(delivered()) != 0 {
		t.Error("total failure must not announce delivery")
	}
	events := alerts()
	if len(events) != 1 {
		t.Fatalf("alert.triggered published %d times, want 1", len(events))
	}
	if events[0].PayloadString("level") != "error" {
		t.Errorf("alert level = %q", events[0].PayloadString("level"))
	}

	stored, _ := st.LoadSignal(sig.ID)
	if stored.Status != models.SignalApproved {
		t.Errorf("failed delivery should keep status approved, got %q", stored.Status)
	}
	if len(stored.DeliveryErrors) == 0 {
		t.Error("delivery errors not recorded")
	}
}

func TestDeliveryWithoutAdapters(t *testing.T) {
	st, b, reg := newTestEnv(t)
	ctx := context.Background()

	New(b, st, reg, time.Hour)
	alerts := capture(b, models.EventAlertTriggered)

	sig := approvedSignal(t, st)
	if err := b.Publish(ctx, models.NewEvent(models.EventSignalApproved, "risk_engine", models.ToPayload(sig))); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if len(alerts()) != 1 {
		t.Fatal("missing adapters should alert")
	}
	stored, _ := st.LoadSignal(sig.ID)
	if len(stored.DeliveryErrors) != 1 || stored.DeliveryErrors[0] != "No output adapters configured" {
		t.Errorf("unexpected errors: %v", stored.DeliveryErrors)
	}
}

func TestWatcherRemindsExactlyOnce(t *testing.T) {
	st, b, _ := newTestEnv(t)
	ctx := context.Background()

	now := time.Now().UTC()
	deliveredAt := now.Add(-5 * time.Hour)
	dueAt := now.Add(-time.Hour)
	sig := models.NewSignal("NVDA", "buy", "earnings", 0.85)
	sig.Status = models.SignalDelivered
	sig.DeliveredAt = &deliveredAt
	sig.ConfirmationStatus = models.ConfirmationPending
	sig.ConfirmationDueAt = &dueAt
	if err := st.SaveSignal(sig); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reminders := capture(b, models.EventIntegrationOutput)
	w := NewWatcher(b, st)

	w.ScanOnce(ctx, now)
	w.ScanOnce(ctx, now.Add(time.Minute))

	events := reminders()
	if len(events) != 1 {
		t.Fatalf("reminder sent %d times, want exactly 1", len(events))
	}
	text := events[0].PayloadString("text")
	if !strings.Contains(text, sig.ID) {
		t.Errorf("reminder does not name the signal: %q", text)
	}
	if !strings.Contains(text, "confirm signal") || !strings.Contains(text, "skip signal") {
		t.Errorf("reminder missing confirm/skip guidance: %q", text)
	}

	stored, _ := st.LoadSignal(sig.ID)
	if stored.ReminderSentAt == nil {
		t.Error("reminder timestamp not recorded")
	}
}

func TestWatcherIgnoresNotYetDue(t *testing.T) {
	st, b, _ := newTestEnv(t)
	ctx := context.Background()

	now := time.Now().UTC()
	dueAt := now.Add(time.Hour)
	sig := models.NewSignal("AAPL", "buy", "", 0.7)
	sig.Status = models.SignalDelivered
	sig.ConfirmationStatus = models.ConfirmationPending
	sig.ConfirmationDueAt = &dueAt
	if err := st.SaveSignal(sig); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	reminders := capture(b, models.EventIntegrationOutput)
	NewWatcher(b, st).ScanOnce(ctx, now)

	if len(reminders()) != 0 {
		t.Error("reminder fired before the deadline")
	}
}

func TestDispatcherRoutesByAdapter(t *testing.T) {
	_, b, reg := newTestEnv(t)
	ctx := context.Background()

	alpha := &fakeOutput{name: "alpha"}
	beta := &fakeOutput{name: "beta"}
	reg.Register(plugin.KindOutput, alpha.name, alpha)
	reg.Register(plugin.KindOutput, beta.name, beta)

	NewDispatcher(b, reg)

	if err := b.Publish(ctx, models.NewEvent(models.EventIntegrationOutput, "interface", map[string]any{
		"text":       "hello",
		"channel_id": "c1",
		"adapter":    "beta",
	})); err != nil {
		t.Fatalf("publish failed: %v", err)
	}

	if n := len(alpha.sentTexts()); n != 0 {
		t.Errorf("alpha received %d texts despite adapter filter", n)
	}
	got := beta.sentTexts()
	if len(got) != 1 {
		t.Fatalf("beta received %d texts, want 1", len(got))
	}
	if got[0].channelID != "c1" || got[0].text != "hello" {
		t.Errorf("unexpected dispatch: %+v", got[0])
	}

	// Without an adapter hint everyone gets the text
	if err := b.Publish(ctx, models.NewEvent(models.EventIntegrationOutput, "interface", map[string]any{
		"text": "broadcast",
	})); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(alpha.sentTexts()) != 1 || len(beta.sentTexts()) != 2 {
		t.Errorf("broadcast not fanned out: alpha=%d beta=%d", len(alpha.sentTexts()), len(beta.sentTexts()))
	}

	// Empty text is dropped
	if err := b.Publish(ctx, models.NewEvent(models.EventIntegrationOutput, "interface", map[string]any{
		"text": "   ",
	})); err != nil {
		t.Fatalf("publish failed: %v", err)
	}
	if len(alpha.sentTexts()) != 1 {
		t.Error("blank text should be ignored")
	}
}
