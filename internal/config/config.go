package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"PriceKeeper/internal/model"
)

// Provider names.
const (
	ProviderAlphaVantage = "alphavantage"
	ProviderMock         = "mock"
)

// SymbolConfig is a symbol tracked at startup.
type SymbolConfig struct {
	Symbol string `yaml:"symbol"`
	Name   string `yaml:"name"`
}

// Config holds all application configuration.
type Config struct {
	Database struct {
		Driver          string        `yaml:"driver"`
		DSN             string        `yaml:"dsn"`
		MaxOpenConns    int           `yaml:"max_open_conns"`
		MaxIdleConns    int           `yaml:"max_idle_conns"`
		ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	} `yaml:"database"`
	Provider struct {
		Name        string        `yaml:"name"`
		BaseURL     string        `yaml:"base_url"`
		APIKey      string        `yaml:"api_key"`
		MinInterval time.Duration `yaml:"min_interval"`
		Timeout     time.Duration `yaml:"timeout"`
		DailyBudget int           `yaml:"daily_budget"`
		BudgetFile  string        `yaml:"budget_file"`
	} `yaml:"provider"`
	Symbols  []SymbolConfig     `yaml:"symbols"`
	Splits   []model.SplitEvent `yaml:"splits"`
	Schedule struct {
		DailyCron  string `yaml:"daily_cron"`
		RunOnStart bool   `yaml:"run_on_start"`
	} `yaml:"schedule"`
	Query struct {
		Concurrency  int `yaml:"concurrency"`
		DefaultLimit int `yaml:"default_limit"`
	} `yaml:"query"`
	PriceService struct {
		BaseURL string `yaml:"base_url"`
	} `yaml:"price_service"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("ALPHAVANTAGE_API_KEY"); v != "" {
		cfg.Provider.APIKey = v
	}
	if v := os.Getenv("ALPHAVANTAGE_BASE_URL"); v != "" {
		cfg.Provider.BaseURL = v
	}
	if v := os.Getenv("ALPHAVANTAGE_DAILY_BUDGET"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Provider.DailyBudget = n
		}
	}
	if v := os.Getenv("DATABASE_DRIVER"); v != "" {
		cfg.Database.Driver = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("TRACKED_SYMBOLS"); v != "" {
		cfg.Symbols = cfg.Symbols[:0]
		for _, s := range strings.Split(v, ",") {
			if s = model.NormalizeSymbol(s); s != "" {
				cfg.Symbols = append(cfg.Symbols, SymbolConfig{Symbol: s})
			}
		}
	}
	if v := os.Getenv("CRON_DAILY"); v != "" {
		cfg.Schedule.DailyCron = v
	}
	if v := os.Getenv("RUN_ON_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Schedule.RunOnStart = b
		}
	}
	if v := os.Getenv("PRICE_SERVICE_URL"); v != "" {
		cfg.PriceService.BaseURL = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.BotToken = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		cfg.Telegram.ChatID = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}

	// Defaults
	if cfg.Database.Driver == "" {
		cfg.Database.Driver = "sqlite"
	}
	if cfg.Database.DSN == "" && cfg.Database.Driver == "sqlite" {
		cfg.Database.DSN = "data/pricekeeper.db"
	}
	if cfg.Provider.Name == "" {
		cfg.Provider.Name = ProviderAlphaVantage
	}
	if cfg.Provider.MinInterval == 0 {
		// free tier: 5 calls per minute
		cfg.Provider.MinInterval = 12 * time.Second
	}
	if cfg.Provider.Timeout == 0 {
		cfg.Provider.Timeout = 30 * time.Second
	}
	if cfg.Provider.BudgetFile == "" {
		cfg.Provider.BudgetFile = "data/quota.json"
	}
	if cfg.Schedule.DailyCron == "" {
		cfg.Schedule.DailyCron = "0 30 22 * * 1-5"
	}
	if cfg.Query.Concurrency == 0 {
		cfg.Query.Concurrency = 4
	}
	if cfg.Query.DefaultLimit == 0 {
		cfg.Query.DefaultLimit = 5000
	}
	for i := range cfg.Symbols {
		cfg.Symbols[i].Symbol = model.NormalizeSymbol(cfg.Symbols[i].Symbol)
	}
	for i := range cfg.Splits {
		cfg.Splits[i].Symbol = model.NormalizeSymbol(cfg.Splits[i].Symbol)
	}

	return cfg, nil
}

// Validate checks that all fields are consistent.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("database.driver must be sqlite or postgres, got %q", c.Database.Driver)
	}
	if c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required")
	}
	switch c.Provider.Name {
	case ProviderAlphaVantage, ProviderMock:
	default:
		return fmt.Errorf("provider.name must be %s or %s, got %q", ProviderAlphaVantage, ProviderMock, c.Provider.Name)
	}
	if c.Provider.MinInterval < 0 {
		return fmt.Errorf("provider.min_interval must not be negative")
	}
	if c.Provider.DailyBudget < 0 {
		return fmt.Errorf("provider.daily_budget must not be negative")
	}
	if c.Query.Concurrency < 0 {
		return fmt.Errorf("query.concurrency must not be negative")
	}
	for _, s := range c.Symbols {
		if s.Symbol == "" {
			return fmt.Errorf("symbols: empty symbol")
		}
	}
	for _, sp := range c.Splits {
		if sp.Symbol == "" || sp.EffectiveDate.IsZero() {
			return fmt.Errorf("splits: symbol and effective_date are required")
		}
		if !(sp.Ratio > 0) {
			return fmt.Errorf("splits: %s %s ratio must be positive", sp.Symbol, sp.EffectiveDate)
		}
	}
	return nil
}

// RequireProvider checks the settings needed to call the upstream provider.
func (c *Config) RequireProvider() error {
	if c.Provider.Name == ProviderAlphaVantage && c.Provider.APIKey == "" {
		return fmt.Errorf("provider.api_key is required (or set ALPHAVANTAGE_API_KEY)")
	}
	return nil
}
