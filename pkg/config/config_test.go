package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 0.35, cfg.Scoring.SkillWeight)
	assert.Equal(t, 0.5, cfg.Scoring.MinConfidence)
	assert.Equal(t, 0.05, cfg.Scoring.TieWindow)
	assert.Equal(t, 30*24*time.Hour, cfg.Scoring.PerformanceWindow)
	assert.Equal(t, 5, cfg.Resilience.MaxConsecutiveFailures)
	assert.Equal(t, 60*time.Second, cfg.Resilience.HealthCheckInterval)
	assert.Equal(t, "@every 60s", cfg.Resilience.RecoverySchedule)
	assert.Equal(t, 3, cfg.Resilience.MaxRecoveryAttempts)
	assert.Equal(t, 10*time.Minute, cfg.Resilience.RecoveryWindow)
	assert.Equal(t, 300*time.Second, cfg.Resilience.ProcedureBudget)
	assert.Equal(t, "exponential", cfg.Resilience.Retry.Strategy)
	assert.True(t, cfg.Resilience.Retry.Jitter)
	assert.Equal(t, "memory", cfg.Store.Backend)
	assert.Equal(t, "localhost:6379", cfg.RedisAddr())
}

func TestLoad_EnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("RETRY_STRATEGY=fibonacci\nAGENT_COUNT=3\n"), 0o600))
	t.Setenv("ENV_FILE", path)
	t.Cleanup(func() {
		os.Unsetenv("RETRY_STRATEGY")
		os.Unsetenv("AGENT_COUNT")
	})

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "fibonacci", cfg.Resilience.Retry.Strategy)
	assert.Equal(t, 3, cfg.Agent.Count)
}

func TestLoad_RejectsBadWeights(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))
	t.Setenv("SCORING_SKILL_WEIGHT", "0.5")

	_, err := Load()
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "sum to 1.0")
}

func TestConfig_Validate(t *testing.T) {
	t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"unknown strategy", func(c *Config) { c.Resilience.Retry.Strategy = "random" }, "unknown retry strategy"},
		{"zero failures", func(c *Config) { c.Resilience.MaxConsecutiveFailures = 0 }, "max consecutive failures"},
		{"external without password", func(c *Config) { c.Store.Backend = "external" }, "database password"},
		{"unknown backend", func(c *Config) { c.Store.Backend = "sqlite" }, "unknown store backend"},
		{"confidence out of range", func(c *Config) { c.Scoring.MinConfidence = 1.5 }, "min confidence"},
		{"negative weight", func(c *Config) {
			c.Scoring.SkillWeight = -0.1
			c.Scoring.WorkloadWeight = 0.7
		}, "non-negative"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)

			tt.mutate(cfg)
			err = cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.errMsg)
		})
	}
}

func TestConfig_DatabaseURL(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{
		Host: "db", Port: 5432, Name: "triage", User: "u", Password: "p", SSLMode: "disable",
	}}
	assert.Equal(t, "postgres://u:p@db:5432/triage?sslmode=disable", cfg.DatabaseURL())
}
