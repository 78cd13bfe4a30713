/*
config.go - Runtime configuration

PURPOSE:
  Loads settings from defaults, an optional config file, PAYROLL_* env vars
  and CLI flags (bound by cmd/payroll), in increasing precedence.

KEYS:
  port               HTTP port (PAYROLL_PORT, default 8080)
  db                 SQLite path (PAYROLL_DB, default payroll.db)
  currency           Default run currency (PAYROLL_CURRENCY, default USD)
  log_level          debug | info | warn | error
  log_format         json | text
  auto_run_enabled   Refresh the current month's run on a schedule
  auto_run_schedule  Standard 5-field cron expression
  cors_origins       Comma-separated allowed origins

SEE ALSO:
  - cmd/payroll/main.go: Flag bindings
  - api/scheduler.go: Uses the auto-run settings
*/
package config

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

// EnvPrefix namespaces environment variables.
const EnvPrefix = "PAYROLL"

// Config holds all runtime settings.
type Config struct {
	Port            int      `mapstructure:"port"`
	DBPath          string   `mapstructure:"db"`
	Currency        string   `mapstructure:"currency"`
	LogLevel        string   `mapstructure:"log_level"`
	LogFormat       string   `mapstructure:"log_format"`
	AutoRunEnabled  bool     `mapstructure:"auto_run_enabled"`
	AutoRunSchedule string   `mapstructure:"auto_run_schedule"`
	CORSOrigins     []string `mapstructure:"cors_origins"`
}

var keys = []string{
	"port", "db", "currency", "log_level", "log_format",
	"auto_run_enabled", "auto_run_schedule", "cors_origins",
}

// Load reads configuration from the global viper instance.
func Load() (*Config, error) {
	viper.SetDefault("port", 8080)
	viper.SetDefault("db", "payroll.db")
	viper.SetDefault("currency", "USD")
	viper.SetDefault("log_level", "info")
	viper.SetDefault("log_format", "json")
	viper.SetDefault("auto_run_enabled", false)
	viper.SetDefault("auto_run_schedule", "0 3 * * *") // 03:00 daily
	viper.SetDefault("cors_origins", []string{"http://localhost:5173", "http://localhost:8080"})

	viper.SetEnvPrefix(EnvPrefix)
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	viper.AutomaticEnv()
	for _, k := range keys {
		_ = viper.BindEnv(k)
	}

	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %s: %w", file, err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	cfg.Currency = strings.ToUpper(strings.TrimSpace(cfg.Currency))
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate rejects settings the server cannot start with.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Port)
	}
	if strings.TrimSpace(c.DBPath) == "" {
		return fmt.Errorf("db path is required")
	}
	if c.Currency == "" {
		return fmt.Errorf("currency is required")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		return err
	}
	switch strings.ToLower(c.LogFormat) {
	case "json", "text":
	default:
		return fmt.Errorf("invalid log format %q", c.LogFormat)
	}
	if c.AutoRunEnabled {
		if _, err := cron.ParseStandard(c.AutoRunSchedule); err != nil {
			return fmt.Errorf("invalid auto_run_schedule %q: %w", c.AutoRunSchedule, err)
		}
	}
	return nil
}

// NewLogger builds the slog logger described by the config.
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := parseLevel(c.LogLevel)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}
	if strings.EqualFold(c.LogFormat, "text") {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return level, fmt.Errorf("invalid log level %q", s)
	}
	return level, nil
}
