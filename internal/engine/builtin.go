package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/models"
)

func argString(args map[string]any, key string) string {
	if v, ok := args[key]; ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

func argFloat(args map[string]any, key string) (float64, bool) {
	switch v := args[key].(type) {
	case float64:
		return v, true
	case int:
		return float64(v), true
	case string:
		var f float64
		if _, err := fmt.Sscanf(v, "%f", &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

func argInt(args map[string]any, key string, fallback int) int {
	if f, ok := argFloat(args, key); ok {
		return int(f)
	}
	return fallback
}

func argMap(args map[string]any, key string) map[string]any {
	if v, ok := args[key].(map[string]any); ok {
		return v
	}
	return map[string]any{}
}

// executeBuiltin dispatches the built-in tool set. The second return is
// false when the name is not a built-in, so plugin dispatch can run.
func (i *Interface) executeBuiltin(ctx context.Context, name string, args map[string]any, source, channelID string) (string, bool) {
	switch name {
	case "confirm_trade":
		return i.toolConfirmTrade(ctx, args, source), true
	case "skip_trade":
		return i.toolSkipTrade(ctx, args, source), true
	case "close_position":
		return i.toolClosePosition(ctx, args, source), true
	case "user_initiated_trade":
		return i.toolUserInitiated(ctx, args, source), true
	case "get_portfolio":
		return i.toolGetPortfolio(args), true
	case "get_price":
		return i.toolGetPrice(ctx, args), true
	case "list_tasks":
		return i.toolListTasks(), true
	case "list_task_handlers":
		return i.toolListTaskHandlers(), true
	case "create_task":
		return i.toolCreateTask(ctx, args, source, channelID), true
	case "delete_task":
		return i.toolDeleteTask(args), true
	case "delete_task_by_name":
		return i.toolDeleteTaskByName(args), true
	case "get_memories":
		return i.toolGetMemories(args), true
	case "get_signals":
		return i.toolGetSignals(args), true
	case "run_analysis":
		return i.toolRunAnalysis(ctx, args), true
	}
	return "", false
}

// latestActionableSignal returns the most recent approved or delivered
// signal for the ticker, or nil.
func (i *Interface) latestActionableSignal(ticker string) *models.Signal {
	signals, err := i.store.ListSignals()
	if err != nil {
		i.log.Error("failed to list signals", zap.Error(err))
		return nil
	}
	var match *models.Signal
	for _, s := range signals {
		if s.Ticker != ticker {
			continue
		}
		if s.Status != models.SignalApproved && s.Status != models.SignalDelivered {
			continue
		}
		if match == nil || s.CreatedAt.After(match.CreatedAt) {
			match = s
		}
	}
	return match
}

func (i *Interface) toolConfirmTrade(ctx context.Context, args map[string]any, source string) string {
	ticker := strings.ToUpper(argString(args, "ticker"))
	price, ok := argFloat(args, "entry_price")
	if ticker == "" || !ok {
		return "confirm_trade requires ticker and entry_price."
	}
	var size *float64
	if v, ok := argFloat(args, "size"); ok {
		size = &v
	}

	signal := i.latestActionableSignal(ticker)
	if signal == nil {
		// No matching signal; record as user-initiated instead.
		return i.toolUserInitiated(ctx, map[string]any{
			"ticker":      ticker,
			"direction":   "long",
			"entry_price": price,
			"size":        args["size"],
		}, source)
	}

	if _, err := i.portfolio.HumanConfirmPosition(signal, price, size, source, ""); err != nil {
		return fmt.Sprintf("Error confirming %s: %v", ticker, err)
	}
	i.bus.Publish(ctx, models.NewEvent(models.EventPositionConfirmed, "interface", map[string]any{
		"ticker":    ticker,
		"price":     price,
		"portfolio": models.PortfolioHuman,
	}))

	out := fmt.Sprintf("Confirmed: %s position opened at $%.2f", ticker, price)
	if size != nil {
		out += fmt.Sprintf(" (%g units)", *size)
	}
	return out
}

func (i *Interface) toolSkipTrade(ctx context.Context, args map[string]any, source string) string {
	ticker := strings.ToUpper(argString(args, "ticker"))
	if ticker == "" {
		return "skip_trade requires ticker."
	}
	reason := argString(args, "reason")

	signal := i.latestActionableSignal(ticker)
	if signal == nil {
		return fmt.Sprintf("No pending signal found for %s.", ticker)
	}

	if _, err := i.portfolio.HumanSkipPosition(signal, source, reason); err != nil {
		return fmt.Sprintf("Error skipping %s: %v", ticker, err)
	}
	i.bus.Publish(ctx, models.NewEvent(models.EventPositionSkipped, "interface", map[string]any{
		"ticker": ticker,
		"reason": reason,
	}))

	out := fmt.Sprintf("Skipped: %s signal.", ticker)
	if reason != "" {
		out += " Reason: " + reason
	}
	return out
}

func (i *Interface) toolClosePosition(ctx context.Context, args map[string]any, source string) string {
	ticker := strings.ToUpper(argString(args, "ticker"))
	closePrice, ok := argFloat(args, "close_price")
	if ticker == "" || !ok {
		return "close_position requires ticker and close_price."
	}

	pos, err := i.portfolio.HumanClosePosition(ticker, closePrice, source)
	if err != nil {
		return fmt.Sprintf("Error closing %s: %v", ticker, err)
	}
	if pos == nil {
		return fmt.Sprintf("No open position found for %s in human portfolio.", ticker)
	}

	var pnl, pct float64
	if pos.RealizedPnL != nil {
		pnl = *pos.RealizedPnL
	}
	if pos.RealizedPnLPercent != nil {
		pct = *pos.RealizedPnLPercent
	}
	i.bus.Publish(ctx, models.NewEvent(models.EventPositionUpdated, "interface", map[string]any{
		"ticker": ticker,
		"action": "closed",
		"price":  closePrice,
	}))
	return fmt.Sprintf("Closed: %s at $%.2f. P&L: $%.2f (%+.1f%%)", ticker, closePrice, pnl, pct)
}

func (i *Interface) toolUserInitiated(ctx context.Context, args map[string]any, source string) string {
	ticker := strings.ToUpper(argString(args, "ticker"))
	price, ok := argFloat(args, "entry_price")
	if ticker == "" || !ok {
		return "user_initiated_trade requires ticker and entry_price."
	}
	direction := argString(args, "direction")
	if direction == "" {
		direction = "long"
	}
	var size *float64
	if v, ok := argFloat(args, "size"); ok {
		size = &v
	}
	reason := argString(args, "reason")
	if reason == "" {
		reason = "User-initiated trade"
	}

	if _, err := i.portfolio.HumanInitiatedTrade(ticker, direction, price, size, source, reason); err != nil {
		return fmt.Sprintf("Error recording %s trade: %v", ticker, err)
	}
	i.bus.Publish(ctx, models.NewEvent(models.EventPositionConfirmed, "interface", map[string]any{
		"ticker":         ticker,
		"price":          price,
		"user_initiated": true,
	}))

	out := fmt.Sprintf("Recorded: %s %s at $%.2f", direction, ticker, price)
	if size != nil {
		out += fmt.Sprintf(" (%g units)", *size)
	}
	return out + ". Reason: " + reason
}

func (i *Interface) toolGetPortfolio(args map[string]any) string {
	portfolioType := argString(args, "portfolio_type")
	if portfolioType == "" {
		portfolioType = "both"
	}

	var parts []string
	describe := func(book, label string) {
		summary, err := i.portfolio.GetSummary(book)
		if err != nil {
			parts = append(parts, fmt.Sprintf("%s Portfolio: error: %v", label, err))
			return
		}
		parts = append(parts, fmt.Sprintf("%s Portfolio: %d positions, P&L: %+.1f%%",
			label, len(summary.Positions), summary.TotalPnLPercent))
		for _, p := range summary.Positions {
			pnlStr := ""
			if p.PnLPercent != nil {
				pnlStr = fmt.Sprintf(" P&L: %+.1f%%", *p.PnLPercent)
			}
			parts = append(parts, fmt.Sprintf("  %s %s @ $%.2f%s [%s]",
				p.Direction, p.Ticker, p.EntryPrice, pnlStr, p.Status))
		}
	}

	if portfolioType == models.PortfolioAI || portfolioType == "both" {
		describe(models.PortfolioAI, "AI")
	}
	if portfolioType == models.PortfolioHuman || portfolioType == "both" {
		describe(models.PortfolioHuman, "Human")
	}
	if len(parts) == 0 {
		return "No positions in either portfolio."
	}
	return strings.Join(parts, "\n")
}

func (i *Interface) toolGetPrice(ctx context.Context, args map[string]any) string {
	ticker := strings.ToUpper(argString(args, "ticker"))
	if ticker == "" {
		return "get_price requires ticker."
	}

	price, err := i.store.Index().LatestPrice(ticker, nil)
	if err != nil {
		i.log.Error("price lookup failed", zap.String("ticker", ticker), zap.Error(err))
	}
	if price != nil {
		return fmt.Sprintf("%s: $%.2f", ticker, *price)
	}

	// Cache is empty; try a live fetch from the market data providers.
	now := time.Now().UTC()
	start := now.AddDate(0, 0, -7)

	candidates := []string{ticker}
	if !strings.Contains(ticker, "-") && !strings.Contains(ticker, "=") && !strings.HasPrefix(ticker, "^") {
		candidates = append(candidates, ticker+"-USD", ticker+"=X")
	}

	for _, provider := range i.registry.MarketDataProviders() {
		for _, candidate := range candidates {
			if !provider.Supports(candidate) {
				continue
			}
			rows, err := provider.Fetch(ctx, []string{candidate}, start, now)
			if err != nil {
				i.log.Warn("live price fetch failed",
					zap.String("ticker", candidate),
					zap.String("provider", provider.Name()),
					zap.Error(err))
				continue
			}
			if len(rows) == 0 {
				continue
			}

			if _, err := i.store.Index().SaveMarketData(rows, models.ProductionTime()); err != nil {
				i.log.Warn("failed to cache fetched rows", zap.Error(err))
			}
			latest := rows[0]
			for _, row := range rows[1:] {
				if row.Timestamp.After(latest.Timestamp) {
					latest = row
				}
			}
			return fmt.Sprintf("%s: $%.2f", latest.Ticker, latest.Close)
		}
	}

	return fmt.Sprintf("No price data available for %s. No live quote returned from configured market data providers.", ticker)
}

func (i *Interface) toolListTasks() string {
	tasks, err := i.scheduler.ListTasks()
	if err != nil {
		return fmt.Sprintf("Error listing tasks: %v", err)
	}
	if len(tasks) == 0 {
		return "No scheduled tasks."
	}

	var parts []string
	for _, t := range tasks {
		status := "enabled"
		if !t.Enabled {
			status = "disabled"
		}
		schedule := t.CronExpression
		if schedule == "" {
			if t.RunAt != nil {
				schedule = t.RunAt.Format(time.RFC3339)
			} else {
				schedule = "immediate"
			}
		}
		parts = append(parts, fmt.Sprintf("  [%s] %s (%s, %s) schedule: %s by: %s",
			t.ID, t.Name, t.Type, status, schedule, t.CreatedBy))
	}
	return fmt.Sprintf("%d tasks:\n%s", len(tasks), strings.Join(parts, "\n"))
}

func (i *Interface) toolListTaskHandlers() string {
	names := i.registry.TaskHandlerNames()
	if len(names) == 0 {
		return "No task handlers registered."
	}
	return "Available handlers: " + strings.Join(names, ", ")
}

func (i *Interface) toolCreateTask(ctx context.Context, args map[string]any, source, channelID string) string {
	handler := argString(args, "handler")
	if handler == "" {
		return "create_task requires a handler."
	}
	if _, ok := i.registry.TaskHandler(handler); !ok {
		return fmt.Sprintf("Unknown handler %q. Available: %s",
			handler, strings.Join(i.registry.TaskHandlerNames(), ", "))
	}

	params := argMap(args, "params")
	if handler == "ai.run_prompt" {
		prompt, _ := params["prompt"].(string)
		if strings.TrimSpace(prompt) == "" {
			return "Handler ai.run_prompt requires a non-empty params.prompt."
		}
	}
	if _, ok := params["channel_id"]; !ok && channelID != "" {
		params["channel_id"] = channelID
	}
	if _, ok := params["adapter"]; !ok {
		if _, known := i.registry.OutputAdapter(source); known {
			params["adapter"] = source
		}
	}

	taskType := argString(args, "type")
	if taskType == "" {
		taskType = models.TaskRecurring
	}

	task := models.NewTask(argString(args, "name"), taskType, handler, params)
	task.CreatedBy = "ai"
	task.CronExpression = argString(args, "cron_expression")
	if runAt := argString(args, "run_at"); runAt != "" {
		t, err := time.Parse(time.RFC3339, runAt)
		if err != nil {
			return fmt.Sprintf("Invalid run_at %q: use RFC3339.", runAt)
		}
		task.RunAt = &t
	}

	created, err := i.scheduler.CreateTask(ctx, task)
	if err != nil {
		return fmt.Sprintf("Error creating task: %v", err)
	}
	return fmt.Sprintf("Created task: %s (%s, handler: %s)", created.Name, created.Type, created.Handler)
}

func (i *Interface) toolDeleteTask(args map[string]any) string {
	taskID := argString(args, "task_id")
	if taskID == "" {
		return "delete_task requires task_id."
	}
	deleted, err := i.scheduler.DeleteTask(taskID)
	if err != nil {
		return fmt.Sprintf("Error deleting task %s: %v", taskID, err)
	}
	if deleted {
		return "Deleted task " + taskID
	}
	return fmt.Sprintf("Task %s not found", taskID)
}

func (i *Interface) toolDeleteTaskByName(args map[string]any) string {
	name := argString(args, "name")
	if name == "" {
		return "delete_task_by_name requires name."
	}
	tasks, err := i.scheduler.ListTasks()
	if err != nil {
		return fmt.Sprintf("Error listing tasks: %v", err)
	}
	for _, t := range tasks {
		if !strings.EqualFold(t.Name, name) {
			continue
		}
		deleted, err := i.scheduler.DeleteTask(t.ID)
		if err != nil {
			return fmt.Sprintf("Error deleting task %s: %v", t.ID, err)
		}
		if deleted {
			return fmt.Sprintf("Deleted task %q (%s)", t.Name, t.ID)
		}
	}
	return fmt.Sprintf("No task named %q", name)
}

func (i *Interface) toolGetMemories(args map[string]any) string {
	ids, err := i.store.Index().SearchMemories(store.MemoryQuery{
		Ticker: strings.ToUpper(argString(args, "ticker")),
		Limit:  argInt(args, "limit", 10),
	})
	if err != nil {
		return fmt.Sprintf("Error searching memories: %v", err)
	}
	if len(ids) == 0 {
		return "No memories found."
	}

	var parts []string
	for _, id := range ids {
		mem, err := i.store.LoadMemory(id)
		if err != nil || mem == nil {
			continue
		}
		lesson := mem.Lesson
		if len(lesson) > 150 {
			lesson = lesson[:150]
		}
		parts = append(parts, fmt.Sprintf("  [%s was right] %s vs %s\n    Lesson: %s",
			mem.WhoWasRight, mem.AIAction, mem.HumanAction, lesson))
	}
	return fmt.Sprintf("%d memories:\n%s", len(parts), strings.Join(parts, "\n"))
}

func (i *Interface) toolGetSignals(args map[string]any) string {
	signals, err := i.store.ListSignals()
	if err != nil {
		return fmt.Sprintf("Error listing signals: %v", err)
	}

	statusFilter := argString(args, "status")
	limit := argInt(args, "limit", 10)

	var filtered []*models.Signal
	for _, s := range signals {
		if statusFilter != "" && s.Status != statusFilter {
			continue
		}
		filtered = append(filtered, s)
	}
	if len(filtered) > limit {
		filtered = filtered[len(filtered)-limit:]
	}
	if len(filtered) == 0 {
		return "No signals found."
	}

	var parts []string
	for _, s := range filtered {
		parts = append(parts, fmt.Sprintf("  [%s] %s %s conf=%.0f%% (%s)",
			s.Status, strings.ToUpper(s.Direction), s.Ticker,
			s.Confidence*100, s.CreatedAt.Format("2006-01-02")))
	}
	return fmt.Sprintf("%d signals:\n%s", len(parts), strings.Join(parts, "\n"))
}

func (i *Interface) toolRunAnalysis(ctx context.Context, args map[string]any) string {
	topic := argString(args, "topic")
	if topic == "" {
		return "run_analysis requires a topic."
	}

	payload := map[string]any{
		"text":         "Analyze: " + topic,
		"priority":     "high",
		"requested_by": "user",
	}
	if len(topic) <= 10 {
		payload["ticker"] = strings.ToUpper(topic)
	}
	i.bus.Publish(ctx, models.NewEvent(models.EventIntegrationInput, "interface", payload))
	return fmt.Sprintf("Analysis requested for: %s. Results will be delivered when ready.", topic)
}
