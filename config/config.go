// Package config loads runtime configuration for the progression engine
// from environment variables and the achievement catalog from YAML.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment represents the application environment.
type Environment string

const (
	EnvDevelopment Environment = "development"
	EnvStaging     Environment = "staging"
	EnvProduction  Environment = "production"
)

// Config holds all application configuration.
type Config struct {
	App            AppConfig
	Database       DatabaseConfig
	Redis          RedisConfig
	Progression    ProgressionConfig
	Reconciliation ReconciliationConfig
	Ranking        RankingConfig
	Executor       ExecutorConfig
	HTTP           HTTPConfig
	Features       *FeatureFlags
}

// AppConfig holds general application settings.
type AppConfig struct {
	Name        string
	Environment Environment
	Version     string
	LogLevel    string // debug, info, warn, error
	LogFormat   string // json, text

	// Timezone is used when a user has no timezone of their own.
	Timezone string
	Location *time.Location

	ShutdownTimeout time.Duration

	// CatalogPath points at the achievement catalog file. Empty means the
	// catalog already stored in the database is used as is.
	CatalogPath string
}

// DatabaseConfig holds PostgreSQL settings.
type DatabaseConfig struct {
	// URL is the pgx connection string. Empty selects the in-memory store.
	URL string

	MaxConns          int
	MinConns          int
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
	QueryTimeout      time.Duration
	AutoMigrate       bool
}

// RedisConfig holds Redis settings.
type RedisConfig struct {
	Host         string
	Port         int
	Password     string
	DB           int
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	LockTTL      time.Duration

	// Disabled selects the in-process rank index, locker and hub.
	Disabled bool
}

// ProgressionConfig holds reward tunables.
type ProgressionConfig struct {
	ChallengeBaseReward int
	PerformanceFloor    float64

	// Streak milestone bonuses.
	StreakBonusThirdDay int
	StreakBonusWeekly   int
	StreakBonusMonthly  int
}

// ReconciliationConfig holds background repair settings.
type ReconciliationConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAge       time.Duration
	MaxAttempts  int
}

// RankingConfig holds rank index settings.
type RankingConfig struct {
	// RecomputeInterval is the period of the full recompute job and the
	// minimum spacing between staleness-triggered recomputes.
	RecomputeInterval time.Duration

	// StalenessBudget is how old a full recompute may get before an
	// operation triggers a new one. Zero disables the trigger.
	StalenessBudget time.Duration

	// Metrics are kept up to date by the coordinator and the recompute job.
	Metrics []string

	RecomputeTimeout time.Duration
}

// ExecutorConfig holds background task executor settings.
type ExecutorConfig struct {
	QueueSize int
	Workers   int
	Policy    string // drop-oldest, reject
}

// HTTPConfig holds settings for the worker's ops endpoint.
type HTTPConfig struct {
	Enabled      bool
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Load loads configuration from environment variables. A local .env file
// is read first when present.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	cfg := &Config{
		App:            loadAppConfig(),
		Database:       loadDatabaseConfig(),
		Redis:          loadRedisConfig(),
		Progression:    loadProgressionConfig(),
		Reconciliation: loadReconciliationConfig(),
		Ranking:        loadRankingConfig(),
		Executor:       loadExecutorConfig(),
		HTTP:           loadHTTPConfig(),
		Features:       LoadFeatureFlags(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func loadHTTPConfig() HTTPConfig {
	return HTTPConfig{
		Enabled:      getEnvBool("HTTP_ENABLED", true),
		Host:         getEnv("HTTP_HOST", "0.0.0.0"),
		Port:         getEnvInt("HTTP_PORT", 8080),
		ReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
	}
}

func loadAppConfig() AppConfig {
	env := Environment(getEnv("APP_ENV", "development"))
	timezone := getEnv("APP_TIMEZONE", "UTC")

	loc, err := time.LoadLocation(timezone)
	if err != nil {
		loc = nil
	}

	logFormat := "text"
	if env == EnvProduction {
		logFormat = "json"
	}

	return AppConfig{
		Name:            getEnv("APP_NAME", "progression-engine"),
		Environment:     env,
		Version:         getEnv("APP_VERSION", "0.1.0"),
		LogLevel:        getEnv("LOG_LEVEL", "info"),
		LogFormat:       getEnv("LOG_FORMAT", logFormat),
		Timezone:        timezone,
		Location:        loc,
		ShutdownTimeout: getEnvDuration("APP_SHUTDOWN_TIMEOUT", 30*time.Second),
		CatalogPath:     getEnv("CATALOG_PATH", ""),
	}
}

func loadDatabaseConfig() DatabaseConfig {
	url := getEnv("DATABASE_URL", "")
	if url == "" {
		host := getEnv("DB_HOST", "")
		port := getEnv("DB_PORT", "5432")
		user := getEnv("DB_USER", "")
		pass := getEnv("DB_PASSWORD", "")
		name := getEnv("DB_NAME", "progression")
		sslmode := getEnv("DB_SSLMODE", "disable")

		if host != "" && user != "" {
			url = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
				user, pass, host, port, name, sslmode)
		}
	}

	return DatabaseConfig{
		URL:               url,
		MaxConns:          getEnvInt("DB_MAX_CONNS", 25),
		MinConns:          getEnvInt("DB_MIN_CONNS", 5),
		MaxConnLifetime:   getEnvDuration("DB_CONN_MAX_LIFETIME", time.Hour),
		MaxConnIdleTime:   getEnvDuration("DB_CONN_MAX_IDLE_TIME", 30*time.Minute),
		HealthCheckPeriod: getEnvDuration("DB_HEALTH_CHECK_PERIOD", time.Minute),
		QueryTimeout:      getEnvDuration("DB_QUERY_TIMEOUT", 30*time.Second),
		AutoMigrate:       getEnvBool("DB_AUTO_MIGRATE", false),
	}
}

func loadRedisConfig() RedisConfig {
	return RedisConfig{
		Host:         getEnv("REDIS_HOST", "localhost"),
		Port:         getEnvInt("REDIS_PORT", 6379),
		Password:     getEnv("REDIS_PASSWORD", ""),
		DB:           getEnvInt("REDIS_DB", 0),
		PoolSize:     getEnvInt("REDIS_POOL_SIZE", 10),
		MinIdleConns: getEnvInt("REDIS_MIN_IDLE_CONNS", 2),
		DialTimeout:  getEnvDuration("REDIS_DIAL_TIMEOUT", 5*time.Second),
		ReadTimeout:  getEnvDuration("REDIS_READ_TIMEOUT", 3*time.Second),
		WriteTimeout: getEnvDuration("REDIS_WRITE_TIMEOUT", 3*time.Second),
		LockTTL:      getEnvDuration("REDIS_LOCK_TTL", 30*time.Second),
		Disabled:     getEnvBool("REDIS_DISABLED", false),
	}
}

func loadProgressionConfig() ProgressionConfig {
	return ProgressionConfig{
		ChallengeBaseReward: getEnvInt("PROGRESSION_CHALLENGE_BASE_REWARD", 100),
		PerformanceFloor:    getEnvFloat("PROGRESSION_PERFORMANCE_FLOOR", 0.1),
		StreakBonusThirdDay: getEnvInt("PROGRESSION_STREAK_BONUS_THIRD_DAY", 10),
		StreakBonusWeekly:   getEnvInt("PROGRESSION_STREAK_BONUS_WEEKLY", 25),
		StreakBonusMonthly:  getEnvInt("PROGRESSION_STREAK_BONUS_MONTHLY", 100),
	}
}

func loadReconciliationConfig() ReconciliationConfig {
	return ReconciliationConfig{
		PollInterval: getEnvDuration("RECONCILE_POLL_INTERVAL", 5*time.Second),
		BatchSize:    getEnvInt("RECONCILE_BATCH_SIZE", 10),
		MaxAge:       getEnvDuration("RECONCILE_MAX_AGE", time.Hour),
		MaxAttempts:  getEnvInt("RECONCILE_MAX_ATTEMPTS", 5),
	}
}

func loadRankingConfig() RankingConfig {
	return RankingConfig{
		RecomputeInterval: getEnvDuration("RANK_RECOMPUTE_INTERVAL", time.Minute),
		StalenessBudget:   getEnvDuration("RANK_STALENESS_BUDGET", 5*time.Minute),
		Metrics:           getEnvStringSlice("RANK_METRICS", []string{"xp"}),
		RecomputeTimeout:  getEnvDuration("RANK_RECOMPUTE_TIMEOUT", 5*time.Minute),
	}
}

func loadExecutorConfig() ExecutorConfig {
	return ExecutorConfig{
		QueueSize: getEnvInt("EXECUTOR_QUEUE_SIZE", 256),
		Workers:   getEnvInt("EXECUTOR_WORKERS", 4),
		Policy:    getEnv("EXECUTOR_POLICY", "drop-oldest"),
	}
}

// Validate checks if the configuration is valid.
func (c *Config) Validate() error {
	var errs []string

	if c.App.Location == nil {
		errs = append(errs, fmt.Sprintf("APP_TIMEZONE %q is not a known timezone", c.App.Timezone))
	}

	switch strings.ToLower(c.App.LogLevel) {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "LOG_LEVEL must be one of debug, info, warn, error")
	}

	// The in-memory store loses everything on restart.
	if c.App.Environment == EnvProduction && c.Database.URL == "" {
		errs = append(errs, "DATABASE_URL is required in production")
	}

	if c.Progression.ChallengeBaseReward <= 0 {
		errs = append(errs, "PROGRESSION_CHALLENGE_BASE_REWARD must be positive")
	}
	if c.Progression.PerformanceFloor <= 0 || c.Progression.PerformanceFloor > 1 {
		errs = append(errs, "PROGRESSION_PERFORMANCE_FLOOR must be in (0, 1]")
	}
	if c.Progression.StreakBonusThirdDay < 0 || c.Progression.StreakBonusWeekly < 0 || c.Progression.StreakBonusMonthly < 0 {
		errs = append(errs, "streak bonuses must be non-negative")
	}

	if c.Reconciliation.PollInterval <= 0 {
		errs = append(errs, "RECONCILE_POLL_INTERVAL must be positive")
	}
	if c.Reconciliation.BatchSize <= 0 {
		errs = append(errs, "RECONCILE_BATCH_SIZE must be positive")
	}
	if c.Reconciliation.MaxAge <= 0 {
		errs = append(errs, "RECONCILE_MAX_AGE must be positive")
	}
	if c.Reconciliation.MaxAttempts <= 0 {
		errs = append(errs, "RECONCILE_MAX_ATTEMPTS must be positive")
	}

	if c.Ranking.RecomputeInterval <= 0 {
		errs = append(errs, "RANK_RECOMPUTE_INTERVAL must be positive")
	}
	if c.Ranking.StalenessBudget < 0 {
		errs = append(errs, "RANK_STALENESS_BUDGET must not be negative")
	}
	if len(c.Ranking.Metrics) == 0 {
		errs = append(errs, "RANK_METRICS must name at least one metric")
	}
	for _, m := range c.Ranking.Metrics {
		switch m {
		case "xp", "level", "streak":
		default:
			errs = append(errs, fmt.Sprintf("RANK_METRICS: unknown metric %q", m))
		}
	}

	if c.Executor.QueueSize <= 0 {
		errs = append(errs, "EXECUTOR_QUEUE_SIZE must be positive")
	}
	if c.Executor.Workers <= 0 {
		errs = append(errs, "EXECUTOR_WORKERS must be positive")
	}
	if c.Executor.Policy != "drop-oldest" && c.Executor.Policy != "reject" {
		errs = append(errs, "EXECUTOR_POLICY must be drop-oldest or reject")
	}

	if c.HTTP.Enabled && (c.HTTP.Port <= 0 || c.HTTP.Port > 65535) {
		errs = append(errs, "HTTP_PORT must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors:\n  - %s", strings.Join(errs, "\n  - "))
	}

	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.App.Environment == EnvDevelopment
}

// IsProduction returns true if running in production mode.
func (c *Config) IsProduction() bool {
	return c.App.Environment == EnvProduction
}

// UseMemoryStore reports whether no database is configured.
func (c *Config) UseMemoryStore() bool {
	return c.Database.URL == ""
}

// --- Helper functions for environment variable parsing ---

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return defaultVal
	}
	return b
}

func getEnvInt(key string, defaultVal int) int {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvFloat(key string, defaultVal float64) float64 {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(val, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return defaultVal
	}
	return d
}

func getEnvStringSlice(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}

	parts := strings.Split(val, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		result = append(result, strings.ToLower(p))
	}
	return result
}
