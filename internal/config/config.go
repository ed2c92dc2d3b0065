// Package config loads the bot host configuration from yaml, .env and the
// process environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/vitos/strategy_bot/internal/domain"
	"github.com/vitos/strategy_bot/internal/infrastructure/broker"
	"github.com/vitos/strategy_bot/internal/usecase"
	"gopkg.in/yaml.v3"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"

	DefaultPath = "config/config.yaml"
)

type Config struct {
	Env string `yaml:"env"`

	Logging struct {
		Level       string   `yaml:"level"`
		Encoding    string   `yaml:"encoding"`
		OutputPaths []string `yaml:"output_paths"`
	} `yaml:"logging"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Alpaca struct {
		APIKey     string `yaml:"api_key"`
		APISecret  string `yaml:"api_secret"`
		Feed       string `yaml:"feed"`
		StreamURL  string `yaml:"stream_url"`
		TradingURL string `yaml:"trading_url"`
	} `yaml:"alpaca"`

	// Bot is the session started at launch and the template for recovered
	// sessions. Sessions are only started when AutoStart is set.
	AutoStart bool                   `yaml:"auto_start"`
	Bot       usecase.BotConfig      `yaml:"bot"`
	Backtest  usecase.BacktestConfig `yaml:"backtest"`
}

// Load reads .env (when present), the yaml file at path and then the
// environment, in increasing priority.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := defaults()
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}

	cfg.applyEnv()
	cfg.fill()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	cfg := &Config{Env: EnvDevelopment}
	cfg.Logging.Level = "info"
	cfg.Database.Path = "bot.db"
	cfg.Bot.Risk = domain.DefaultRiskSettings()
	cfg.Backtest.Risk = domain.DefaultRiskSettings()
	return cfg
}

func (c *Config) applyEnv() {
	set := func(dst *string, key string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	set(&c.Env, "APP_ENV")
	set(&c.Logging.Level, "LOG_LEVEL")
	set(&c.Database.Path, "DB_PATH")
	set(&c.Alpaca.APIKey, "ALPACA_API_KEY")
	set(&c.Alpaca.APISecret, "ALPACA_API_SECRET")
}

func (c *Config) fill() {
	c.Env = strings.ToLower(strings.TrimSpace(c.Env))
	if c.Alpaca.TradingURL == "" {
		c.Alpaca.TradingURL = broker.PaperURL
		if c.Env == EnvProduction {
			c.Alpaca.TradingURL = broker.LiveURL
		}
	}
	if c.Backtest.InitialCash == 0 {
		c.Backtest.InitialCash = c.Bot.InitialCash
	}
}

// IsProduction reports whether live orders may be routed to the broker.
func (c *Config) IsProduction() bool { return c.Env == EnvProduction }

// Validate checks the host settings and, when a session is started at
// launch, the bot section.
func (c *Config) Validate() error {
	var problems []string
	switch c.Env {
	case EnvDevelopment, EnvProduction:
	default:
		problems = append(problems, fmt.Sprintf("unknown env %q", c.Env))
	}
	if c.Database.Path == "" {
		problems = append(problems, "database path is required")
	}
	if c.Alpaca.APIKey == "" || c.Alpaca.APISecret == "" {
		problems = append(problems, "alpaca api key and secret are required")
	}
	if c.AutoStart {
		problems = append(problems, c.Bot.Validate()...)
	}
	if len(problems) > 0 {
		return &domain.ConfigError{Problems: problems}
	}
	return nil
}
