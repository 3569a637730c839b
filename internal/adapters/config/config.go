// Package config loads the application configuration from config.yaml and
// .env in the advisor home directory. ${ENV_VAR} references in YAML values
// are resolved from the environment; a small set of process-level overrides
// is read with envconfig under the ADVISOR prefix.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/advisord/advisord/pkg/logger"
)

// EnvOverrides are process-level settings read from the environment.
type EnvOverrides struct {
	Home     string `envconfig:"HOME"`      // ADVISOR_HOME
	LogLevel string `envconfig:"LOG_LEVEL"` // ADVISOR_LOG_LEVEL
}

// ServerConfig holds the (currently unused) admin listener settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// MarketDataProviderConfig configures one market data provider.
type MarketDataProviderConfig struct {
	Enabled bool           `yaml:"enabled"`
	Tickers []string       `yaml:"tickers"`
	Extra   map[string]any `yaml:"extra"`
}

// MarketDataConfig configures market data polling.
type MarketDataConfig struct {
	PollInterval string                              `yaml:"poll_interval"`
	HistoryDepth string                              `yaml:"history_depth"`
	Providers    map[string]MarketDataProviderConfig `yaml:"providers"`
}

// RiskRulesConfig carries the per-rule parameter maps.
type RiskRulesConfig struct {
	Confidence    map[string]any `yaml:"confidence"`
	Concentration map[string]any `yaml:"concentration"`
	Frequency     map[string]any `yaml:"frequency"`
	Drawdown      map[string]any `yaml:"drawdown"`
}

// RiskConfig configures the risk engine.
type RiskConfig struct {
	Rules RiskRulesConfig `yaml:"rules"`
}

// PositionTrackingConfig configures confirmation behavior.
type PositionTrackingConfig struct {
	ConfirmationTimeout string `yaml:"confirmation_timeout"`
	AllowUserInitiated  bool   `yaml:"allow_user_initiated"`
}

// AIProviderConfig configures one LLM provider.
type AIProviderConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	Temperature float64 `yaml:"temperature"`
}

// AIConfig configures LLM routing and agents.
type AIConfig struct {
	DefaultProvider string                      `yaml:"default_provider"`
	Providers       map[string]AIProviderConfig `yaml:"providers"`
	TaskRouting     map[string]string           `yaml:"task_routing"`
	Agents          map[string]map[string]any   `yaml:"agents"`
}

// LearningConfig configures the divergence learning loop.
type LearningConfig struct {
	ComparisonSchedule   string `yaml:"comparison_schedule"`
	MinOutcomePeriod     string `yaml:"min_outcome_period"`
	MaxMemoriesInContext int    `yaml:"max_memories_in_context"`
	MemoryRelevanceWindow string `yaml:"memory_relevance_window"`
}

// SchedulerConfig configures the task scheduler.
type SchedulerConfig struct {
	Timezone      string           `yaml:"timezone"`
	CheckInterval string           `yaml:"check_interval"`
	DefaultTasks  []map[string]any `yaml:"default_tasks"`
}

// LoggingConfig configures logging and auditing.
type LoggingConfig struct {
	Level       string `yaml:"level"`
	AuditEvents bool   `yaml:"audit_events"`
	LLMCalls    bool   `yaml:"llm_calls"`
}

// Config is the top-level application configuration.
type Config struct {
	HomeDir          string                    `yaml:"home_dir"`
	Server           ServerConfig              `yaml:"server"`
	Integrations     map[string]map[string]any `yaml:"integrations"`
	MarketData       MarketDataConfig          `yaml:"market_data"`
	Risk             RiskConfig                `yaml:"risk"`
	PositionTracking PositionTrackingConfig    `yaml:"position_tracking"`
	AI               AIConfig                  `yaml:"ai"`
	Learning         LearningConfig            `yaml:"learning"`
	Scheduler        SchedulerConfig           `yaml:"scheduler"`
	Logging          LoggingConfig             `yaml:"logging"`
}

// DefaultHome returns the default advisor home directory (~/.advisord).
func DefaultHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".advisord"
	}
	return filepath.Join(home, ".advisord")
}

func defaults() Config {
	return Config{
		HomeDir: DefaultHome(),
		Server:  ServerConfig{Host: "127.0.0.1", Port: 8321},
		MarketData: MarketDataConfig{
			PollInterval: "5m",
			HistoryDepth: "2y",
		},
		Risk: RiskConfig{Rules: RiskRulesConfig{
			Confidence:    map[string]any{"min_confidence": 0.6},
			Concentration: map[string]any{"max_single_position": 0.15, "max_sector_exposure": 0.30},
			Frequency:     map[string]any{"max_signals_per_day": 5},
			Drawdown:      map[string]any{"max_portfolio_drawdown": 0.15},
		}},
		PositionTracking: PositionTrackingConfig{
			ConfirmationTimeout: "4h",
			AllowUserInitiated:  true,
		},
		AI: AIConfig{DefaultProvider: "anthropic"},
		Learning: LearningConfig{
			ComparisonSchedule:    "0 9 * * 0",
			MinOutcomePeriod:      "7d",
			MaxMemoriesInContext:  10,
			MemoryRelevanceWindow: "90d",
		},
		Scheduler: SchedulerConfig{
			Timezone:      "America/New_York",
			CheckInterval: "60s",
		},
		Logging: LoggingConfig{Level: "INFO", AuditEvents: true, LLMCalls: true},
	}
}

var envVarRe = regexp.MustCompile(`\$\{(\w+)\}`)

func resolveEnvVars(data []byte, log *zap.Logger) []byte {
	return envVarRe.ReplaceAllFunc(data, func(match []byte) []byte {
		name := string(envVarRe.FindSubmatch(match)[1])
		if value, ok := os.LookupEnv(name); ok {
			return []byte(value)
		}
		log.Warn("environment variable not set", zap.String("name", name))
		return match
	})
}

// Load reads .env and config.yaml from the advisor home, resolves
// ${ENV_VAR} references, applies defaults and env overrides, and creates
// the home directory structure.
func Load(configPath string) (*Config, error) {
	log := logger.Named("config")

	var env EnvOverrides
	if err := envconfig.Process("advisor", &env); err != nil {
		return nil, fmt.Errorf("read env overrides: %w", err)
	}

	home := env.Home
	if home == "" {
		home = DefaultHome()
	}

	envPath := filepath.Join(home, ".env")
	if _, err := os.Stat(envPath); err == nil {
		if err := godotenv.Load(envPath); err != nil {
			return nil, fmt.Errorf("load %s: %w", envPath, err)
		}
		log.Info("loaded environment", zap.String("path", envPath))
	}

	if configPath == "" {
		configPath = filepath.Join(home, "config.yaml")
	}

	cfg := defaults()
	raw, err := os.ReadFile(configPath)
	switch {
	case err == nil:
		resolved := resolveEnvVars(raw, log)
		if err := yaml.Unmarshal(resolved, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", configPath, err)
		}
		log.Info("loaded config", zap.String("path", configPath))
	case os.IsNotExist(err):
		log.Warn("no config file, using defaults", zap.String("path", configPath))
	default:
		return nil, fmt.Errorf("read %s: %w", configPath, err)
	}

	if env.Home != "" {
		cfg.HomeDir = env.Home
	}
	if cfg.HomeDir == "" {
		cfg.HomeDir = home
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}

	if err := EnsureDirectories(cfg.HomeDir); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// EnsureDirectories creates the on-disk state layout under home.
func EnsureDirectories(home string) error {
	dirs := []string{
		home,
		filepath.Join(home, "events"),
		filepath.Join(home, "memos"),
		filepath.Join(home, "signals"),
		filepath.Join(home, "positions", "ai"),
		filepath.Join(home, "positions", "human"),
		filepath.Join(home, "memories"),
		filepath.Join(home, "tasks"),
		filepath.Join(home, "market"),
		filepath.Join(home, "simulations"),
	}
	for _, d := range dirs {
		if err := os.MkdirAll(d, 0755); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
