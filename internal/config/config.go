package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"

	StreamRedis     = "redis"
	StreamWebSocket = "websocket"
	StreamNone      = "none"
)

type Config struct {
	Database struct {
		Driver string `yaml:"driver"`
		URL    string `yaml:"url"`
	} `yaml:"database"`
	Redis struct {
		Host string `yaml:"host"`
		Port int    `yaml:"port"`
	} `yaml:"redis"`
	LiveStream struct {
		Kind         string `yaml:"kind"`
		WebSocketURL string `yaml:"websocket_url"`
	} `yaml:"live_stream"`
	Venue struct {
		PredictAccountURL    string `yaml:"predict_account_url"`
		PolymarketAccountURL string `yaml:"polymarket_account_url"`
		AccountID            string `yaml:"account_id"`
	} `yaml:"venue"`
	Analysis struct {
		CompletionURL  string `yaml:"completion_url"`
		RatePerMinute  int    `yaml:"rate_per_minute"`
		TimeoutSeconds int    `yaml:"timeout_seconds"`
	} `yaml:"analysis"`
	Orchestrator struct {
		MaxConcurrency int `yaml:"max_concurrency"`
	} `yaml:"orchestrator"`
	Paper struct {
		BankrollUSD float64 `yaml:"bankroll_usd"`
		SlippageBps int     `yaml:"slippage_bps"`
	} `yaml:"paper"`
	Workflow struct {
		Path     string `yaml:"path"`
		Schedule string `yaml:"schedule"`
		UserID   string `yaml:"user_id"`
		DataDir  string `yaml:"data_dir"`
	} `yaml:"workflow"`
	LogLevel string `yaml:"log_level"`
	DryRun   bool   `yaml:"dry_run"`
}

// Load reads the optional YAML file at path, applies environment overrides,
// then fills defaults. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if len(data) > 0 {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		}
	}

	cfg.Database.Driver = getEnv("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.URL = getEnv("DATABASE_URL", cfg.Database.URL)
	if cfg.Database.URL == "" {
		if v := os.Getenv("POSTGRES_URL"); v != "" {
			cfg.Database.Driver = DriverPostgres
			cfg.Database.URL = v
		}
	}
	cfg.Redis.Host = getEnv("REDIS_HOST", cfg.Redis.Host)
	cfg.Redis.Port = getEnvInt("REDIS_PORT", cfg.Redis.Port)
	cfg.LiveStream.Kind = getEnv("LIVE_STREAM_KIND", cfg.LiveStream.Kind)
	cfg.LiveStream.WebSocketURL = getEnv("LIVE_STREAM_WS_URL", cfg.LiveStream.WebSocketURL)
	cfg.Venue.PredictAccountURL = getEnv("PREDICT_ACCOUNT_URL", cfg.Venue.PredictAccountURL)
	cfg.Venue.PolymarketAccountURL = getEnv("POLYMARKET_ACCOUNT_URL", cfg.Venue.PolymarketAccountURL)
	cfg.Venue.AccountID = getEnv("VENUE_ACCOUNT_ID", cfg.Venue.AccountID)
	cfg.Analysis.CompletionURL = getEnv("ANALYSIS_COMPLETION_URL", cfg.Analysis.CompletionURL)
	cfg.Analysis.RatePerMinute = getEnvInt("ANALYSIS_RATE_PER_MINUTE", cfg.Analysis.RatePerMinute)
	cfg.Analysis.TimeoutSeconds = getEnvInt("ANALYSIS_TIMEOUT_SECONDS", cfg.Analysis.TimeoutSeconds)
	cfg.Orchestrator.MaxConcurrency = getEnvInt("ORCHESTRATOR_MAX_CONCURRENCY", cfg.Orchestrator.MaxConcurrency)
	cfg.Paper.BankrollUSD = getEnvFloat("PAPER_BANKROLL_USD", cfg.Paper.BankrollUSD)
	cfg.Paper.SlippageBps = getEnvInt("PAPER_SLIPPAGE_BPS", cfg.Paper.SlippageBps)
	cfg.Workflow.Path = getEnv("WORKFLOW_PATH", cfg.Workflow.Path)
	cfg.Workflow.Schedule = getEnv("WORKFLOW_SCHEDULE", cfg.Workflow.Schedule)
	cfg.Workflow.UserID = getEnv("WORKFLOW_USER_ID", cfg.Workflow.UserID)
	cfg.Workflow.DataDir = getEnv("WORKFLOW_DATA_DIR", cfg.Workflow.DataDir)
	cfg.LogLevel = getEnv("WORKFLOW_LOG_LEVEL", cfg.LogLevel)
	cfg.DryRun = getEnvBool("WORKFLOW_DRY_RUN", cfg.DryRun)

	// Defaults
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = DriverSQLite
	}
	if cfg.Database.URL == "" {
		if cfg.Database.Driver == DriverPostgres {
			cfg.Database.URL = buildPostgresURL()
		} else {
			cfg.Database.URL = "data/workflow_engine.db"
		}
	}
	if cfg.Redis.Host == "" {
		cfg.Redis.Host = "redis"
	}
	if cfg.Redis.Port == 0 {
		cfg.Redis.Port = 6379
	}
	if cfg.LiveStream.Kind == "" {
		cfg.LiveStream.Kind = StreamRedis
	}
	if cfg.Analysis.RatePerMinute == 0 {
		cfg.Analysis.RatePerMinute = 30
	}
	if cfg.Analysis.TimeoutSeconds == 0 {
		cfg.Analysis.TimeoutSeconds = 60
	}
	if cfg.Orchestrator.MaxConcurrency == 0 {
		cfg.Orchestrator.MaxConcurrency = 4
	}
	if cfg.Paper.BankrollUSD == 0 {
		cfg.Paper.BankrollUSD = 10000
	}
	if cfg.Paper.SlippageBps == 0 {
		cfg.Paper.SlippageBps = 50
	}
	if cfg.Workflow.Path == "" {
		cfg.Workflow.Path = "workflows/strategy.yaml"
	}
	if cfg.Workflow.Schedule == "" {
		cfg.Workflow.Schedule = "@every 5m"
	}
	if cfg.Workflow.DataDir == "" {
		cfg.Workflow.DataDir = "data"
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}

	cfg.Database.Driver = strings.ToLower(cfg.Database.Driver)
	cfg.LiveStream.Kind = strings.ToLower(cfg.LiveStream.Kind)
	return cfg, nil
}

// Validate rejects settings the runner cannot start with.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case DriverPostgres, DriverSQLite:
	default:
		return fmt.Errorf("database.driver %q is not supported", c.Database.Driver)
	}
	switch c.LiveStream.Kind {
	case StreamRedis, StreamNone:
	case StreamWebSocket:
		if c.LiveStream.WebSocketURL == "" {
			return fmt.Errorf("live_stream.websocket_url is required for the websocket stream")
		}
	default:
		return fmt.Errorf("live_stream.kind %q is not supported", c.LiveStream.Kind)
	}
	if c.Analysis.CompletionURL == "" {
		return fmt.Errorf("analysis.completion_url is required")
	}
	if c.Analysis.RatePerMinute < 0 || c.Analysis.TimeoutSeconds < 0 || c.Orchestrator.MaxConcurrency < 0 {
		return fmt.Errorf("analysis and orchestrator limits must not be negative")
	}
	if c.Paper.BankrollUSD <= 0 {
		return fmt.Errorf("paper.bankroll_usd must be positive")
	}
	if c.Paper.SlippageBps < 0 {
		return fmt.Errorf("paper.slippage_bps must not be negative")
	}
	return nil
}

func buildPostgresURL() string {
	host := getEnv("POSTGRES_HOST", "postgres")
	db := getEnv("POSTGRES_DB", "trading_system")
	user := getEnv("POSTGRES_USER", "trading")
	pass := getEnv("POSTGRES_PASSWORD", "changeme123")

	return fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable", user, pass, host, db)
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}
