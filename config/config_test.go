package config

import (
	"bytes"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Port)
	assert.Equal(t, "payroll.db", cfg.DBPath)
	assert.Equal(t, "USD", cfg.Currency)
	assert.False(t, cfg.AutoRunEnabled)
	assert.Equal(t, []string{"http://localhost:5173", "http://localhost:8080"}, cfg.CORSOrigins)
}

func TestLoad_EnvOverrides(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("PAYROLL_PORT", "9090")
	t.Setenv("PAYROLL_DB", ":memory:")
	t.Setenv("PAYROLL_CURRENCY", "eur")
	t.Setenv("PAYROLL_AUTO_RUN_ENABLED", "true")
	t.Setenv("PAYROLL_AUTO_RUN_SCHEDULE", "0 4 1 * *")
	t.Setenv("PAYROLL_CORS_ORIGINS", "https://a.example,https://b.example")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	assert.Equal(t, 9090, cfg.Port)
	assert.Equal(t, ":memory:", cfg.DBPath)
	assert.Equal(t, "EUR", cfg.Currency)
	assert.True(t, cfg.AutoRunEnabled)
	assert.Equal(t, "0 4 1 * *", cfg.AutoRunSchedule)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
}

func TestLoad_RejectsBadCronWhenEnabled(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	t.Setenv("PAYROLL_AUTO_RUN_ENABLED", "true")
	t.Setenv("PAYROLL_AUTO_RUN_SCHEDULE", "every tuesday")

	_, err := Load()
	if err == nil {
		t.Fatal("expected invalid schedule error")
	}
	if !strings.Contains(err.Error(), "auto_run_schedule") {
		t.Fatalf("expected error to mention auto_run_schedule, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	base := Config{Port: 8080, DBPath: "x.db", Currency: "USD", LogLevel: "info", LogFormat: "json"}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"port zero", func(c *Config) { c.Port = 0 }, true},
		{"empty db", func(c *Config) { c.DBPath = " " }, true},
		{"empty currency", func(c *Config) { c.Currency = "" }, true},
		{"bad level", func(c *Config) { c.LogLevel = "loud" }, true},
		{"bad format", func(c *Config) { c.LogFormat = "xml" }, true},
		{"disabled schedule not checked", func(c *Config) { c.AutoRunSchedule = "nonsense" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestNewLogger_TextFormat(t *testing.T) {
	cfg := Config{LogLevel: "warn", LogFormat: "text"}
	var buf bytes.Buffer
	logger := cfg.NewLogger(&buf)

	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	out := buf.String()
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "msg=shown")
	assert.Contains(t, out, "k=v")
}
