package config

import (
	"fmt"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

// Config holds the application configuration
type Config struct {
	Server     ServerConfig     `json:"server"`
	Database   DatabaseConfig   `json:"database"`
	Redis      RedisConfig      `json:"redis"`
	Store      StoreConfig      `json:"store"`
	Scoring    ScoringConfig    `json:"scoring"`
	Resilience ResilienceConfig `json:"resilience"`
	Agent      AgentConfig      `json:"agent"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Tracing    TracingConfig    `json:"tracing"`
}

// ServerConfig contains the ops HTTP server configuration
type ServerConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host            string `json:"host"`
	Port            int    `json:"port"`
	Password        string `json:"password"`
	DB              int    `json:"db"`
	PoolSize        int    `json:"pool_size"`
	StatusKey       string `json:"status_key"`
	IntakeQueue     string `json:"intake_queue"`
	DeadLetterQueue string `json:"dead_letter_queue"`
}

// StoreConfig selects where developer snapshots come from
type StoreConfig struct {
	// Backend is "memory" or "external" (Postgres directory and feedback, Redis status)
	Backend    string `json:"backend"`
	RosterFile string `json:"roster_file"`
}

// ScoringConfig holds the assignment scoring constants
type ScoringConfig struct {
	SkillWeight        float64       `json:"skill_weight"`
	WorkloadWeight     float64       `json:"workload_weight"`
	PerformanceWeight  float64       `json:"performance_weight"`
	AvailabilityWeight float64       `json:"availability_weight"`
	MinConfidence      float64       `json:"min_confidence"`
	TieWindow          float64       `json:"tie_window"`
	PerformanceWindow  time.Duration `json:"performance_window"`
	FeedbackSaturation int           `json:"feedback_saturation"`
}

// RetryConfig holds the retry policy for the assignment path
type RetryConfig struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Multiplier  float64       `json:"multiplier"`
	Strategy    string        `json:"strategy"`
	Jitter      bool          `json:"jitter"`
}

// ResilienceConfig holds degradation and recovery settings
type ResilienceConfig struct {
	MaxConsecutiveFailures int           `json:"max_consecutive_failures"`
	HealthCheckInterval    time.Duration `json:"health_check_interval"`
	HealthCheckTimeout     time.Duration `json:"health_check_timeout"`
	RecoverySchedule       string        `json:"recovery_schedule"`
	RecoverySettleDelay    time.Duration `json:"recovery_settle_delay"`
	RecoveryWindow         time.Duration `json:"recovery_window"`
	MaxRecoveryAttempts    int           `json:"max_recovery_attempts"`
	ProcedureBudget        time.Duration `json:"procedure_budget"`
	StepTimeout            time.Duration `json:"step_timeout"`
	ProceduresFile         string        `json:"procedures_file"`
	Retry                  RetryConfig   `json:"retry"`
}

// AgentConfig holds assignment worker settings
type AgentConfig struct {
	Count            int           `json:"count"`
	IDPrefix         string        `json:"id_prefix"`
	PollInterval     time.Duration `json:"poll_interval"`
	EscalateToManual bool          `json:"escalate_to_manual"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig contains Prometheus configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
	Environment    string  `json:"environment"`
}

var retryStrategies = map[string]bool{
	"exponential": true,
	"linear":      true,
	"fixed":       true,
	"fibonacci":   true,
}

// Load loads configuration from environment variables, reading a .env file
// first when one exists.
func Load() (*Config, error) {
	envFile := getEnvString("ENV_FILE", ".env")
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, errors.NewConfigError("failed to load env file").WithCause(err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Host:         getEnvString("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 120*time.Second),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "bug_triage"),
			User:            getEnvString("DB_USER", "bug_triage"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:            getEnvString("REDIS_HOST", "localhost"),
			Port:            getEnvInt("REDIS_PORT", 6379),
			Password:        getEnvString("REDIS_PASSWORD", ""),
			DB:              getEnvInt("REDIS_DB", 0),
			PoolSize:        getEnvInt("REDIS_POOL_SIZE", 10),
			StatusKey:       getEnvString("REDIS_STATUS_KEY", "triage:developer_status"),
			IntakeQueue:     getEnvString("REDIS_INTAKE_QUEUE", "triage:categorized_bugs"),
			DeadLetterQueue: getEnvString("REDIS_DEAD_LETTER_QUEUE", "triage:categorized_bugs:dead"),
		},
		Store: StoreConfig{
			Backend:    getEnvString("STORE_BACKEND", "memory"),
			RosterFile: getEnvString("ROSTER_FILE", ""),
		},
		Scoring: ScoringConfig{
			SkillWeight:        getEnvFloat("SCORING_SKILL_WEIGHT", 0.35),
			WorkloadWeight:     getEnvFloat("SCORING_WORKLOAD_WEIGHT", 0.25),
			PerformanceWeight:  getEnvFloat("SCORING_PERFORMANCE_WEIGHT", 0.25),
			AvailabilityWeight: getEnvFloat("SCORING_AVAILABILITY_WEIGHT", 0.15),
			MinConfidence:      getEnvFloat("SCORING_MIN_CONFIDENCE", 0.5),
			TieWindow:          getEnvFloat("SCORING_TIE_WINDOW", 0.05),
			PerformanceWindow:  getEnvDuration("SCORING_PERFORMANCE_WINDOW", 30*24*time.Hour),
			FeedbackSaturation: getEnvInt("SCORING_FEEDBACK_SATURATION", 10),
		},
		Resilience: ResilienceConfig{
			MaxConsecutiveFailures: getEnvInt("RESILIENCE_MAX_CONSECUTIVE_FAILURES", 5),
			HealthCheckInterval:    getEnvDuration("RESILIENCE_HEALTH_CHECK_INTERVAL", 60*time.Second),
			HealthCheckTimeout:     getEnvDuration("RESILIENCE_HEALTH_CHECK_TIMEOUT", 5*time.Second),
			RecoverySchedule:       getEnvString("RESILIENCE_RECOVERY_SCHEDULE", "@every 60s"),
			RecoverySettleDelay:    getEnvDuration("RESILIENCE_RECOVERY_SETTLE_DELAY", 2*time.Second),
			RecoveryWindow:         getEnvDuration("RESILIENCE_RECOVERY_WINDOW", 10*time.Minute),
			MaxRecoveryAttempts:    getEnvInt("RESILIENCE_MAX_RECOVERY_ATTEMPTS", 3),
			ProcedureBudget:        getEnvDuration("RESILIENCE_PROCEDURE_BUDGET", 300*time.Second),
			StepTimeout:            getEnvDuration("RESILIENCE_STEP_TIMEOUT", 30*time.Second),
			ProceduresFile:         getEnvString("RESILIENCE_PROCEDURES_FILE", ""),
			Retry: RetryConfig{
				MaxAttempts: getEnvInt("RETRY_MAX_ATTEMPTS", 3),
				BaseDelay:   getEnvDuration("RETRY_BASE_DELAY", time.Second),
				MaxDelay:    getEnvDuration("RETRY_MAX_DELAY", 60*time.Second),
				Multiplier:  getEnvFloat("RETRY_MULTIPLIER", 2.0),
				Strategy:    strings.ToLower(getEnvString("RETRY_STRATEGY", "exponential")),
				Jitter:      getEnvBool("RETRY_JITTER", true),
			},
		},
		Agent: AgentConfig{
			Count:            getEnvInt("AGENT_COUNT", 1),
			IDPrefix:         getEnvString("AGENT_ID_PREFIX", "assignment"),
			PollInterval:     getEnvDuration("AGENT_POLL_INTERVAL", 5*time.Second),
			EscalateToManual: getEnvBool("AGENT_ESCALATE_TO_MANUAL", true),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("METRICS_ENABLED", true),
			Namespace: getEnvString("METRICS_NAMESPACE", "bug_triage"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			JaegerEndpoint: getEnvString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
			Environment:    getEnvString("ENVIRONMENT", "development"),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if err := c.Scoring.Validate(); err != nil {
		return err
	}

	r := c.Resilience
	if r.MaxConsecutiveFailures <= 0 {
		return errors.NewConfigError("max consecutive failures must be positive")
	}
	if r.MaxRecoveryAttempts <= 0 || r.RecoveryWindow <= 0 {
		return errors.NewConfigError("recovery rate limit must be positive")
	}
	if r.ProcedureBudget <= 0 || r.StepTimeout <= 0 {
		return errors.NewConfigError("recovery timeouts must be positive")
	}
	if r.Retry.MaxAttempts <= 0 {
		return errors.NewConfigError("retry max attempts must be positive")
	}
	if !retryStrategies[r.Retry.Strategy] {
		return errors.NewConfigError(fmt.Sprintf("unknown retry strategy: %s", r.Retry.Strategy))
	}

	switch c.Store.Backend {
	case "memory":
	case "external":
		if c.Database.Password == "" {
			return errors.NewConfigError("database password is required for the external store")
		}
	default:
		return errors.NewConfigError(fmt.Sprintf("unknown store backend: %s", c.Store.Backend))
	}

	if c.Agent.Count <= 0 {
		return errors.NewConfigError("agent count must be positive")
	}

	return nil
}

// Validate checks that the scoring weights form a convex blend and the
// thresholds are in range.
func (s ScoringConfig) Validate() error {
	weights := []float64{s.SkillWeight, s.WorkloadWeight, s.PerformanceWeight, s.AvailabilityWeight}
	sum := 0.0
	for _, w := range weights {
		if w < 0 {
			return errors.NewConfigError("scoring weights must be non-negative")
		}
		sum += w
	}
	if math.Abs(sum-1.0) > 1e-9 {
		return errors.NewConfigError(fmt.Sprintf("scoring weights must sum to 1.0, got %.4f", sum))
	}
	if s.MinConfidence < 0 || s.MinConfidence > 1 {
		return errors.NewConfigError("min confidence must be within [0,1]")
	}
	if s.TieWindow < 0 {
		return errors.NewConfigError("tie window must be non-negative")
	}
	if s.PerformanceWindow <= 0 || s.FeedbackSaturation <= 0 {
		return errors.NewConfigError("performance window and feedback saturation must be positive")
	}
	return nil
}

// DatabaseURL returns the database connection URL
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.Database.User,
		c.Database.Password,
		c.Database.Host,
		c.Database.Port,
		c.Database.Name,
		c.Database.SSLMode,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// ServerAddr returns the ops server listen address
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
