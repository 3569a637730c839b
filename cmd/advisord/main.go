package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/advisord/advisord/internal/adapters/ai"
	"github.com/advisord/advisord/internal/adapters/config"
	"github.com/advisord/advisord/internal/adapters/market"
	"github.com/advisord/advisord/internal/adapters/telegram"
	"github.com/advisord/advisord/internal/agents"
	"github.com/advisord/advisord/internal/bus"
	"github.com/advisord/advisord/internal/delivery"
	"github.com/advisord/advisord/internal/engine"
	"github.com/advisord/advisord/internal/handlers"
	"github.com/advisord/advisord/internal/orchestrator"
	"github.com/advisord/advisord/internal/plugin"
	"github.com/advisord/advisord/internal/portfolio"
	"github.com/advisord/advisord/internal/registry"
	"github.com/advisord/advisord/internal/risk"
	"github.com/advisord/advisord/internal/scheduler"
	"github.com/advisord/advisord/internal/store"
	"github.com/advisord/advisord/pkg/logger"
	"github.com/advisord/advisord/pkg/models"
	"github.com/advisord/advisord/pkg/worker"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default: $ADVISOR_HOME/config.yaml)")
	flag.Parse()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		fmt.Println("\nReceived interrupt signal, shutting down...")
		cancel()
	}()

	if err := run(ctx, *configPath); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if err := logger.Init(cfg.Logging.Level, filepath.Join(cfg.HomeDir, "advisord.log")); err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("advisord starting", zap.String("home", cfg.HomeDir))

	st, err := store.Open(cfg.HomeDir)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	b := bus.New(filepath.Join(cfg.HomeDir, "events"), cfg.Logging.AuditEvents)
	reg := registry.New()

	loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
	if err != nil {
		logger.Warn("invalid scheduler timezone, falling back to UTC",
			zap.String("timezone", cfg.Scheduler.Timezone))
		loc = time.UTC
	}
	checkInterval := config.MustParseDuration(cfg.Scheduler.CheckInterval, time.Minute)

	sched := scheduler.New(st, b, reg, checkInterval, loc)
	pf := portfolio.New(st)
	iface := engine.New(b, st, reg, pf, sched, cfg.AI.DefaultProvider)

	registerLLMProviders(cfg, reg)
	if err := ensureLLMConfigured(reg); err != nil {
		return err
	}
	watchlist := registerMarketProviders(cfg, reg)
	registerAgents(cfg, reg, st)
	registerRiskRules(cfg, reg, b)
	registerTaskHandlers(cfg, reg, b, st, iface, watchlist)

	tg, err := startIntegrations(ctx, cfg, b, reg)
	if err != nil {
		return err
	}
	logger.Info("plugin registry ready", zap.Any("summary", reg.Summary()))

	// Lifecycle services. Construction subscribes them to the bus.
	risk.New(b, st, reg, pf)
	confirmationTimeout := config.MustParseDuration(cfg.PositionTracking.ConfirmationTimeout, 4*time.Hour)
	delivery.New(b, st, reg, confirmationTimeout)
	watcher := delivery.NewWatcher(b, st)
	delivery.NewDispatcher(b, reg)

	memoryWindow := config.MustParseDuration(cfg.Learning.MemoryRelevanceWindow, 90*24*time.Hour)
	retriever := orchestrator.NewMemoryRetriever(st, cfg.Learning.MaxMemoriesInContext, memoryWindow)
	orch := orchestrator.New(b, st, reg, pf, retriever, watchlist)

	// Analysis requests raised by the AI interface feed the orchestrator.
	b.Subscribe(models.EventIntegrationInput, func(ctx context.Context, event models.Event) {
		if event.Source != "interface" {
			return
		}
		if _, _, err := orch.Analyze(ctx, event, models.ProductionTime()); err != nil {
			logger.Error("analysis failed", zap.Error(err))
		}
	})

	sched.Start(ctx)
	watcherRunner := worker.RunBackground(ctx, watcher, time.Minute)
	seedDefaultTasks(ctx, cfg, sched)

	logger.Info("advisord running", zap.String("state_dir", cfg.HomeDir))
	<-ctx.Done()

	logger.Info("shutting down")
	watcherRunner.Stop(5 * time.Second)
	sched.Stop(10 * time.Second)
	if tg != nil {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := tg.Stop(stopCtx); err != nil {
			logger.Error("error stopping telegram", zap.Error(err))
		}
		stopCancel()
	}
	logger.Info("shutdown complete")
	return nil
}

func registerLLMProviders(cfg *config.Config, reg *registry.Registry) {
	for name, pc := range cfg.AI.Providers {
		if pc.APIKey == "" {
			logger.Warn("skipping llm provider without api key", zap.String("provider", name))
			continue
		}
		opts := ai.Options{
			APIKey:      pc.APIKey,
			Model:       pc.Model,
			MaxTokens:   pc.MaxTokens,
			Temperature: pc.Temperature,
		}
		var provider plugin.LLMProvider
		switch name {
		case "openai":
			provider = ai.NewOpenAI(opts)
		case "anthropic":
			provider = ai.NewAnthropic(opts)
		case "openrouter":
			provider = ai.NewOpenRouter(opts)
		default:
			logger.Warn("unknown llm provider", zap.String("provider", name))
			continue
		}
		reg.Register(plugin.KindLLM, provider.Name(), provider)
	}
}

// ensureLLMConfigured refuses startup when no LLM provider survived
// registration. The daemon is useless without one, so this is fatal
// rather than a runtime notice.
func ensureLLMConfigured(reg *registry.Registry) error {
	if len(reg.LLMs()) > 0 {
		return nil
	}
	return fmt.Errorf("no LLM provider configured: add an entry under ai.providers in config.yaml " +
		"(openai, anthropic, or openrouter) with an api_key, or reference it via ${...} from an " +
		"environment variable such as OPENAI_API_KEY in .env")
}

// registerMarketProviders wires the configured market data providers and
// returns the combined watchlist.
func registerMarketProviders(cfg *config.Config, reg *registry.Registry) []string {
	seen := map[string]bool{}
	var watchlist []string
	addTickers := func(tickers []string) {
		for _, t := range tickers {
			upper := strings.ToUpper(t)
			if !seen[upper] {
				seen[upper] = true
				watchlist = append(watchlist, upper)
			}
		}
	}

	for name, pc := range cfg.MarketData.Providers {
		if !pc.Enabled {
			continue
		}
		switch name {
		case "yahoo_finance":
			reg.Register(plugin.KindMarketData, name, market.NewYahoo(pc.Tickers))
			addTickers(pc.Tickers)
		case "coingecko":
			apiKey, _ := pc.Extra["api_key"].(string)
			reg.Register(plugin.KindMarketData, name, market.NewCoinGecko(apiKey))
			addTickers(pc.Tickers)
		default:
			logger.Warn("unknown market data provider", zap.String("provider", name))
		}
	}
	return watchlist
}

func registerAgents(cfg *config.Config, reg *registry.Registry, st *store.Store) {
	enabled := func(name string) bool {
		agentCfg, ok := cfg.AI.Agents[name]
		if !ok {
			return true
		}
		if v, ok := agentCfg["enabled"].(bool); ok {
			return v
		}
		return true
	}

	if enabled("macro") {
		if llms := reg.LLMs(); len(llms) > 0 {
			macro := agents.NewMacro(llms[0])
			reg.Register(plugin.KindAgent, macro.Name(), macro)
		} else {
			logger.Warn("macro agent disabled: no llm provider")
		}
	}
	if enabled("technical") {
		technical := agents.NewTechnical(st)
		reg.Register(plugin.KindAgent, technical.Name(), technical)
	}
}

func registerRiskRules(cfg *config.Config, reg *registry.Registry, b *bus.Bus) {
	rules := cfg.Risk.Rules
	confidence := risk.NewConfidenceRule(floatParam(rules.Confidence, "min_confidence"))
	concentration := risk.NewConcentrationRule(floatParam(rules.Concentration, "max_single_position"))
	frequency := risk.NewFrequencyRule(intParam(rules.Frequency, "max_signals_per_day"), b.Dir())
	drawdown := risk.NewDrawdownRule(floatParam(rules.Drawdown, "max_portfolio_drawdown"))

	reg.Register(plugin.KindRiskRule, confidence.Name(), confidence)
	reg.Register(plugin.KindRiskRule, concentration.Name(), concentration)
	reg.Register(plugin.KindRiskRule, frequency.Name(), frequency)
	reg.Register(plugin.KindRiskRule, drawdown.Name(), drawdown)
}

func registerTaskHandlers(cfg *config.Config, reg *registry.Registry, b *bus.Bus, st *store.Store, iface *engine.Interface, watchlist []string) {
	minOutcome := config.MustParseDuration(cfg.Learning.MinOutcomePeriod, 7*24*time.Hour)
	historyDepth := config.MustParseDuration(cfg.MarketData.HistoryDepth, 730*24*time.Hour)

	airunner := handlers.NewAIRunner(iface, b)
	notifications := handlers.NewNotifications(b)
	comparison := handlers.NewComparison(st, b, reg, minOutcome)
	marketSync := handlers.NewMarketSync(st, reg, watchlist, historyDepth)

	reg.Register(plugin.KindTaskHandler, airunner.Name(), airunner)
	reg.Register(plugin.KindTaskHandler, notifications.Name(), notifications)
	reg.Register(plugin.KindTaskHandler, comparison.Name(), comparison)
	reg.Register(plugin.KindTaskHandler, marketSync.Name(), marketSync)
}

// startIntegrations wires the configured chat integrations. Incoming
// messages are published as integration.input; the AI interface picks
// them up from the bus.
func startIntegrations(ctx context.Context, cfg *config.Config, b *bus.Bus, reg *registry.Registry) (*telegram.Adapter, error) {
	tgCfg, ok := cfg.Integrations["telegram"]
	if !ok {
		logger.Warn("no telegram integration configured")
		return nil, nil
	}
	botToken, _ := tgCfg["bot_token"].(string)
	if botToken == "" {
		logger.Warn("telegram integration missing bot_token, skipping")
		return nil, nil
	}

	channels := parseTelegramChannels(tgCfg["channels"])
	tg, err := telegram.New(botToken, channels)
	if err != nil {
		return nil, fmt.Errorf("telegram setup: %w", err)
	}

	tg.OnMessage(func(ctx context.Context, payload map[string]any) {
		b.Publish(ctx, models.NewEvent(models.EventIntegrationInput, "telegram", payload))
	})

	reg.Register(plugin.KindInput, tg.Name(), tg)
	reg.Register(plugin.KindOutput, tg.Name(), tg)

	if err := tg.Start(ctx); err != nil {
		return nil, fmt.Errorf("telegram start: %w", err)
	}
	return tg, nil
}

func parseTelegramChannels(raw any) []telegram.Channel {
	items, ok := raw.([]any)
	if !ok {
		return nil
	}
	var channels []telegram.Channel
	for _, item := range items {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		ch := telegram.Channel{Direction: "both"}
		if id, ok := m["id"].(string); ok {
			ch.ID = id
		}
		if dir, ok := m["direction"].(string); ok && dir != "" {
			ch.Direction = dir
		}
		switch v := m["chat_id"].(type) {
		case int:
			ch.ChatID = int64(v)
		case int64:
			ch.ChatID = v
		case float64:
			ch.ChatID = int64(v)
		case string:
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil {
				ch.ChatID = parsed
			}
		}
		if ch.ChatID != 0 {
			channels = append(channels, ch)
		}
	}
	return channels
}

// seedDefaultTasks creates the configured default tasks plus the weekly
// comparison run, skipping any task name that already exists.
func seedDefaultTasks(ctx context.Context, cfg *config.Config, sched *scheduler.Scheduler) {
	existing := map[string]bool{}
	if tasks, err := sched.ListTasks(); err == nil {
		for _, t := range tasks {
			existing[t.Name] = true
		}
	}

	create := func(task *models.Task) {
		if existing[task.Name] {
			return
		}
		if _, err := sched.CreateTask(ctx, task); err != nil {
			logger.Error("failed to seed default task",
				zap.String("name", task.Name), zap.Error(err))
			return
		}
		existing[task.Name] = true
	}

	for _, raw := range cfg.Scheduler.DefaultTasks {
		name, _ := raw["name"].(string)
		handler, _ := raw["handler"].(string)
		if name == "" || handler == "" {
			continue
		}
		taskType, _ := raw["type"].(string)
		if taskType == "" {
			taskType = models.TaskRecurring
		}
		params, _ := raw["params"].(map[string]any)
		task := models.NewTask(name, taskType, handler, params)
		if cron, ok := raw["cron_expression"].(string); ok {
			task.CronExpression = cron
		}
		create(task)
	}

	comparison := models.NewTask("Weekly portfolio comparison", models.TaskComparison, "comparison.weekly", nil)
	comparison.CronExpression = cfg.Learning.ComparisonSchedule
	create(comparison)

	pollMinutes := int(config.MustParseDuration(cfg.MarketData.PollInterval, 5*time.Minute).Minutes())
	if pollMinutes < 1 {
		pollMinutes = 1
	}
	sync := models.NewTask("Market data sync", models.TaskRecurring, "market.sync", nil)
	if pollMinutes > 59 {
		sync.CronExpression = "0 * * * *"
	} else {
		sync.CronExpression = fmt.Sprintf("*/%d * * * *", pollMinutes)
	}
	create(sync)
}

func floatParam(params map[string]any, key string) float64 {
	switch v := params[key].(type) {
	case float64:
		return v
	case int:
		return float64(v)
	}
	return 0
}

func intParam(params map[string]any, key string) int {
	switch v := params[key].(type) {
	case int:
		return v
	case float64:
		return int(v)
	}
	return 0
}
