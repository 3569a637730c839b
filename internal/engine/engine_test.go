package engine

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/advisord/advisord/internal/bus"
	"github.com/advisord/advisord/internal/plugin"
	"github.com/advisord/advisord/internal/portfolio"
	"github.com/advisord/advisord/internal/registry"
	"github.com/advisord/advisord/internal/scheduler"
	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/models"
)

func newTestInterface(t *testing.T) (*Interface, *store.Store, *bus.Bus, *registry.Registry) {
	t.Helper()
	st, err := store.Open(t.TempDir())
	if err != nil {
		t.Fatalf("failed to open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	b := bus.New(t.TempDir(), false)
	reg := registry.New()
	pf := portfolio.New(st)
	sched := scheduler.New(st, b, reg, time.Minute, time.UTC)
	return New(b, st, reg, pf, sched, ""), st, b, reg
}

func TestArgHelpers(t *testing.T) {
	args := map[string]any{
		"ticker": "NVDA",
		"price":  123.45,
		"count":  7,
		"quoted": "99.5",
		"junk":   []string{"x"},
	}

	if got := argString(args, "ticker"); got != "NVDA" {
		t.Errorf("argString = %q", got)
	}
	if got := argString(args, "price"); got != "" {
		t.Errorf("non-string should read empty, got %q", got)
	}

	if v, ok := argFloat(args, "price"); !ok || v != 123.45 {
		t.Errorf("argFloat float = (%g, %v)", v, ok)
	}
	if v, ok := argFloat(args, "count"); !ok || v != 7 {
		t.Errorf("argFloat int = (%g, %v)", v, ok)
	}
	if v, ok := argFloat(args, "quoted"); !ok || v != 99.5 {
		t.Errorf("argFloat string = (%g, %v)", v, ok)
	}
	if _, ok := argFloat(args, "junk"); ok {
		t.Error("argFloat should reject non-numeric values")
	}

	if got := argInt(args, "count", 0); got != 7 {
		t.Errorf("argInt = %d", got)
	}
	if got := argInt(args, "missing", 10); got != 10 {
		t.Errorf("argInt fallback = %d", got)
	}
}

func TestStripDataURLs(t *testing.T) {
	plain := "nothing to strip here"
	if got := stripDataURLs(plain); got != plain {
		t.Errorf("plain text altered: %q", got)
	}

	inline := "chart: data:image/png;base64,iVBORw0KGgoAAAANSUhEUg== end"
	got := stripDataURLs(inline)
	if strings.Contains(got, "base64") {
		t.Errorf("payload survived: %q", got)
	}
	if !strings.Contains(got, "[inline image removed]") || !strings.Contains(got, "end") {
		t.Errorf("unexpected result: %q", got)
	}
}

type fakeToolProvider struct{}

func (fakeToolProvider) GetTools() []plugin.ToolDef {
	return []plugin.ToolDef{
		{Name: "get_price", Description: "shadows a builtin"},
		{Name: "fetch_filings", Description: "plugin-only tool"},
	}
}

func (fakeToolProvider) CallTool(ctx context.Context, name string, args map[string]any) (string, bool, error) {
	if name == "fetch_filings" {
		return "10-K retrieved", true, nil
	}
	return "", false, nil
}

func (fakeToolProvider) GetPromptInstructions() string { return "Use fetch_filings for SEC data." }

// fakeProviderLLM satisfies KindLLM registration so the tool provider hook
// has a carrier plugin.
type fakeProviderLLM struct {
	fakeToolProvider
}

func (fakeProviderLLM) Name() string { return "fake" }
func (fakeProviderLLM) Complete(ctx context.Context, messages []plugin.ChatMessage) (string, error) {
	return "ok", nil
}
func (fakeProviderLLM) ToolCall(ctx context.Context, messages []plugin.ChatMessage, tools []plugin.ToolDef) (plugin.ToolCallResult, error) {
	return plugin.ToolCallResult{Text: "ok"}, nil
}

func TestToolSetDeduplicatesPluginTools(t *testing.T) {
	i, _, _, reg := newTestInterface(t)
	reg.Register(plugin.KindLLM, "fake", fakeProviderLLM{})

	tools := i.toolSet()

	counts := map[string]int{}
	for _, tool := range tools {
		counts[tool.Name]++
	}
	if counts["get_price"] != 1 {
		t.Errorf("get_price appears %d times, builtin must win", counts["get_price"])
	}
	if counts["fetch_filings"] != 1 {
		t.Error("plugin-only tool missing from the set")
	}
	if len(tools) != len(builtinTools)+1 {
		t.Errorf("tool set size = %d, want %d", len(tools), len(builtinTools)+1)
	}

	if instr := i.promptInstructions(); !strings.Contains(instr, "fetch_filings") {
		t.Errorf("plugin instructions not collected: %q", instr)
	}
}

func TestExecuteToolFallsThroughToPlugins(t *testing.T) {
	i, _, _, reg := newTestInterface(t)
	reg.Register(plugin.KindLLM, "fake", fakeProviderLLM{})
	ctx := context.Background()

	if got := i.executeTool(ctx, "fetch_filings", nil, "test", "c1"); got != "10-K retrieved" {
		t.Errorf("plugin tool result = %q", got)
	}
	if got := i.executeTool(ctx, "bogus_tool", nil, "test", "c1"); got != "Unknown tool: bogus_tool" {
		t.Errorf("unknown tool result = %q", got)
	}
}

func TestLatestActionableSignal(t *testing.T) {
	i, st, _, _ := newTestInterface(t)

	old := models.NewSignal("NVDA", "buy", "", 0.7)
	old.Status = models.SignalApproved
	old.CreatedAt = time.Now().UTC().Add(-2 * time.Hour)

	newer := models.NewSignal("NVDA", "buy", "", 0.8)
	newer.Status = models.SignalDelivered
	newer.CreatedAt = time.Now().UTC().Add(-time.Hour)

	rejected := models.NewSignal("NVDA", "buy", "", 0.9)
	rejected.Status = models.SignalRejected

	other := models.NewSignal("AAPL", "buy", "", 0.9)
	other.Status = models.SignalApproved

	for _, s := range []*models.Signal{old, newer, rejected, other} {
		if err := st.SaveSignal(s); err != nil {
			t.Fatalf("save failed: %v", err)
		}
	}

	match := i.latestActionableSignal("NVDA")
	if match == nil || match.ID != newer.ID {
		t.Errorf("got %+v, want the most recent actionable signal", match)
	}
	if i.latestActionableSignal("TSLA") != nil {
		t.Error("no signal should match an unknown ticker")
	}
}

func TestConfirmTradeRecordsHumanPosition(t *testing.T) {
	i, st, _, _ := newTestInterface(t)
	ctx := context.Background()

	sig := models.NewSignal("NVDA", "buy", "earnings", 0.8)
	sig.Status = models.SignalDelivered
	if err := st.SaveSignal(sig); err != nil {
		t.Fatalf("save failed: %v", err)
	}

	out, handled := i.executeBuiltin(ctx, "confirm_trade", map[string]any{
		"ticker":      "nvda",
		"entry_price": 95.5,
	}, "telegram", "c1")
	if !handled {
		t.Fatal("confirm_trade is a builtin")
	}
	if out != "Confirmed: NVDA position opened at $95.50" {
		t.Errorf("output = %q", out)
	}

	pos, err := st.LoadPosition(models.PortfolioHuman, "NVDA")
	if err != nil || pos == nil {
		t.Fatalf("human position not recorded: (%v, %v)", pos, err)
	}
	if pos.SignalID != sig.ID || pos.EntryPrice != 95.5 {
		t.Errorf("unexpected position: %+v", pos)
	}
	if pos.ConfirmedVia != "telegram" {
		t.Errorf("confirmed_via = %q", pos.ConfirmedVia)
	}
}

func TestConfirmTradeWithoutSignalDegradesToUserInitiated(t *testing.T) {
	i, st, _, _ := newTestInterface(t)
	ctx := context.Background()

	out, _ := i.executeBuiltin(ctx, "confirm_trade", map[string]any{
		"ticker":      "GME",
		"entry_price": 30.0,
	}, "telegram", "c1")
	if !strings.HasPrefix(out, "Recorded: long GME at $30.00") {
		t.Errorf("output = %q", out)
	}

	pos, err := st.LoadPosition(models.PortfolioHuman, "GME")
	if err != nil || pos == nil {
		t.Fatalf("position not recorded: (%v, %v)", pos, err)
	}
	if pos.SignalID != "" {
		t.Errorf("user-initiated trade must not claim a signal: %q", pos.SignalID)
	}
}

func TestSkipTradeWithoutSignal(t *testing.T) {
	i, _, _, _ := newTestInterface(t)

	out, _ := i.executeBuiltin(context.Background(), "skip_trade", map[string]any{"ticker": "TSLA"}, "telegram", "c1")
	if out != "No pending signal found for TSLA." {
		t.Errorf("output = %q", out)
	}
}

type namedHandler struct{ name string }

func (h namedHandler) Name() string { return h.name }
func (h namedHandler) Run(ctx context.Context, params map[string]any) (models.TaskResult, error) {
	return models.TaskResult{Status: models.TaskStatusSuccess}, nil
}

func TestCreateTaskValidatesHandlerAndPrompt(t *testing.T) {
	i, st, _, reg := newTestInterface(t)
	ctx := context.Background()

	out, _ := i.executeBuiltin(ctx, "create_task", map[string]any{
		"name": "x", "handler": "nope.handler", "cron_expression": "0 9 * * *",
	}, "telegram", "c1")
	if !strings.HasPrefix(out, `Unknown handler "nope.handler"`) {
		t.Errorf("output = %q", out)
	}

	reg.Register(plugin.KindTaskHandler, "ai.run_prompt", namedHandler{name: "ai.run_prompt"})

	out, _ = i.executeBuiltin(ctx, "create_task", map[string]any{
		"name": "empty prompt", "handler": "ai.run_prompt", "cron_expression": "0 9 * * *",
	}, "telegram", "c1")
	if out != "Handler ai.run_prompt requires a non-empty params.prompt." {
		t.Errorf("output = %q", out)
	}

	out, _ = i.executeBuiltin(ctx, "create_task", map[string]any{
		"name":            "Morning brief",
		"handler":         "ai.run_prompt",
		"cron_expression": "0 9 * * *",
		"params":          map[string]any{"prompt": "Summarize the portfolio."},
	}, "telegram", "telegram:main")
	if out != "Created task: Morning brief (recurring, handler: ai.run_prompt)" {
		t.Fatalf("output = %q", out)
	}

	tasks, err := st.ListTasks()
	if err != nil || len(tasks) != 1 {
		t.Fatalf("persisted %d tasks (%v), want 1", len(tasks), err)
	}
	task := tasks[0]
	if task.CreatedBy != "ai" {
		t.Errorf("created_by = %q", task.CreatedBy)
	}
	if task.Params["channel_id"] != "telegram:main" {
		t.Errorf("channel default not applied: %v", task.Params)
	}
}

func TestRunAnalysisPublishesRequest(t *testing.T) {
	i, _, b, _ := newTestInterface(t)
	ctx := context.Background()

	var mu sync.Mutex
	var requests []models.Event
	b.Subscribe(models.EventIntegrationInput, func(ctx context.Context, ev models.Event) {
		if ev.Source != "interface" {
			return
		}
		mu.Lock()
		requests = append(requests, ev)
		mu.Unlock()
	})

	out, _ := i.executeBuiltin(ctx, "run_analysis", map[string]any{"topic": "nvda"}, "telegram", "c1")
	if out != "Analysis requested for: nvda. Results will be delivered when ready." {
		t.Errorf("output = %q", out)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(requests) != 1 {
		t.Fatalf("integration.input published %d times, want 1", len(requests))
	}
	if requests[0].PayloadString("ticker") != "NVDA" {
		t.Errorf("short topic should hint the ticker: %v", requests[0].Payload)
	}
	if requests[0].PayloadString("text") != "Analyze: nvda" {
		t.Errorf("text = %q", requests[0].PayloadString("text"))
	}
}

func TestHandleMessageWithoutProvider(t *testing.T) {
	i, _, _, _ := newTestInterface(t)
	if got := i.HandleMessage(context.Background(), "hello", "c1", "test"); got != noProviderMessage {
		t.Errorf("got %q", got)
	}
}

func TestGetPortfolioEmptyBooks(t *testing.T) {
	i, _, _, _ := newTestInterface(t)
	out, _ := i.executeBuiltin(context.Background(), "get_portfolio", map[string]any{}, "test", "c1")
	if !strings.Contains(out, "AI Portfolio: 0 positions") || !strings.Contains(out, "Human Portfolio: 0 positions") {
		t.Errorf("output = %q", out)
	}
}
