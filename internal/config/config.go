package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/liamashdown/insiderlens/internal/secrets"
)

// Config holds all application configuration
type Config struct {
	// Environment
	Environment string
	LogLevel    string

	// Database
	DatabaseDSN         string
	DatabaseMaxConns    int
	DatabaseMaxIdleTime time.Duration
	AutoMigrate         bool
	SeedPatterns        bool

	// Baselines
	BaselineMinSamples        int // Below this a (category, metric) pair is skipped
	BaselineMinInsiderSamples int
	BaselineChunkSize         int

	// Scoring
	ScoringBatchSize int
	ScoringWorkers   int

	// Discovery
	DiscoveryAnomalyThreshold     float64
	DiscoveryProbabilityThreshold float64
	DiscoveryMinProfit            float64 // 0 disables the profit filter
	DiscoveryLimit                int

	// Feedback loop
	FeedbackRescore            bool
	SignificantSeparationDelta float64
	SignificantF1Delta         float64
	ModerateSeparationDelta    float64
	ModerateF1Delta            float64
	RegressionTolerance        float64

	// Schedules
	BaselineUpdateIntervalMins int
	FeedbackIntervalHours      int
	WalletRecomputeHours       int

	// Alerts
	AlertMode          string // log, discord (comma-separated)
	DiscordWebhookURLs []string
	DiscordRPS         float64

	// HTTP (API + health + metrics)
	HTTPPort int
}

// Load reads configuration from environment variables, falling back to a .env file
func Load() (*Config, error) {
	// A missing .env file is fine; real deployments use the environment
	_ = godotenv.Load()

	cfg := &Config{
		Environment:                   getEnv("ENVIRONMENT", "production"),
		LogLevel:                      getEnv("LOG_LEVEL", "info"),
		DatabaseMaxConns:              getEnvInt("DATABASE_MAX_CONNS", 25),
		DatabaseMaxIdleTime:           time.Duration(getEnvInt("DATABASE_MAX_IDLE_TIME_MINS", 5)) * time.Minute,
		AutoMigrate:                   getEnvBool("AUTO_MIGRATE", true),
		SeedPatterns:                  getEnvBool("SEED_PATTERNS", true),
		BaselineMinSamples:            getEnvInt("BASELINE_MIN_SAMPLES", 10),
		BaselineMinInsiderSamples:     getEnvInt("BASELINE_MIN_INSIDER_SAMPLES", 3),
		BaselineChunkSize:             getEnvInt("BASELINE_CHUNK_SIZE", 5000),
		ScoringBatchSize:              getEnvInt("SCORING_BATCH_SIZE", 500),
		ScoringWorkers:                getEnvInt("SCORING_WORKERS", 4),
		DiscoveryAnomalyThreshold:     getEnvFloat("DISCOVERY_ANOMALY_THRESHOLD", 0.5),
		DiscoveryProbabilityThreshold: getEnvFloat("DISCOVERY_PROBABILITY_THRESHOLD", 0.5),
		DiscoveryMinProfit:            getEnvFloat("DISCOVERY_MIN_PROFIT", 0),
		DiscoveryLimit:                getEnvInt("DISCOVERY_LIMIT", 100),
		FeedbackRescore:               getEnvBool("FEEDBACK_RESCORE", false),
		SignificantSeparationDelta:    getEnvFloat("FEEDBACK_SIGNIFICANT_SEPARATION_DELTA", 0.2),
		SignificantF1Delta:            getEnvFloat("FEEDBACK_SIGNIFICANT_F1_DELTA", 0.1),
		ModerateSeparationDelta:       getEnvFloat("FEEDBACK_MODERATE_SEPARATION_DELTA", 0.05),
		ModerateF1Delta:               getEnvFloat("FEEDBACK_MODERATE_F1_DELTA", 0.03),
		RegressionTolerance:           getEnvFloat("FEEDBACK_REGRESSION_TOLERANCE", 0.01),
		BaselineUpdateIntervalMins:    getEnvInt("BASELINE_UPDATE_INTERVAL_MINS", 60),
		FeedbackIntervalHours:         getEnvInt("FEEDBACK_INTERVAL_HOURS", 24),
		WalletRecomputeHours:          getEnvInt("WALLET_RECOMPUTE_HOURS", 24),
		AlertMode:                     getEnv("ALERT_MODE", "log"),
		DiscordRPS:                    getEnvFloat("DISCORD_RPS", 0.5),
		HTTPPort:                      getEnvInt("HTTP_PORT", 8080),
	}

	// Secrets may come from docker secret files; an unreadable file is fatal
	dsn, err := secrets.GetSecret("DATABASE_DSN", "insiderlens:insiderlens@tcp(mysql:3306)/insiderlens?parseTime=true")
	if err != nil {
		return nil, err
	}
	cfg.DatabaseDSN = dsn

	// DISCORD_WEBHOOK_URLS is comma-separated
	urls, err := secrets.GetSecret("DISCORD_WEBHOOK_URLS", "")
	if err != nil {
		return nil, err
	}
	cfg.DiscordWebhookURLs = parseCSV(urls)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks configuration for errors
func (c *Config) Validate() error {
	if c.DatabaseDSN == "" {
		return fmt.Errorf("DATABASE_DSN is required")
	}

	if c.BaselineMinSamples < 2 {
		return fmt.Errorf("BASELINE_MIN_SAMPLES must be at least 2")
	}
	if c.BaselineMinInsiderSamples < 2 {
		return fmt.Errorf("BASELINE_MIN_INSIDER_SAMPLES must be at least 2")
	}
	if c.BaselineChunkSize < 1 || c.ScoringBatchSize < 1 {
		return fmt.Errorf("BASELINE_CHUNK_SIZE and SCORING_BATCH_SIZE must be positive")
	}
	if c.ScoringWorkers < 1 {
		return fmt.Errorf("SCORING_WORKERS must be at least 1")
	}

	for name, v := range map[string]float64{
		"DISCOVERY_ANOMALY_THRESHOLD":     c.DiscoveryAnomalyThreshold,
		"DISCOVERY_PROBABILITY_THRESHOLD": c.DiscoveryProbabilityThreshold,
	} {
		if v < 0 || v > 1 {
			return fmt.Errorf("%s must be between 0 and 1, got %v", name, v)
		}
	}
	if c.DiscoveryLimit < 1 {
		return fmt.Errorf("DISCOVERY_LIMIT must be at least 1")
	}

	// Validate alert mode (comma-separated list)
	for _, mode := range strings.Split(c.AlertMode, ",") {
		switch strings.TrimSpace(mode) {
		case "log":
		case "discord":
			if len(c.DiscordWebhookURLs) == 0 {
				return fmt.Errorf("DISCORD_WEBHOOK_URLS is required when discord is in ALERT_MODE")
			}
		default:
			return fmt.Errorf("invalid ALERT_MODE value: %s (valid values: log, discord)", mode)
		}
	}

	if c.HTTPPort < 1 || c.HTTPPort > 65535 {
		return fmt.Errorf("HTTP_PORT must be between 1 and 65535")
	}

	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolVal, err := strconv.ParseBool(value); err == nil {
			return boolVal
		}
	}
	return defaultValue
}

func parseCSV(s string) []string {
	var result []string
	for _, item := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
