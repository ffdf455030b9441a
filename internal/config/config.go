package config

import (
	"time"

	"github.com/spf13/viper"
)

// Config holds all runtime configuration for the finguard service
type Config struct {
	ListenAddr string
	LogLevel   string

	Database struct {
		DSN             string
		MaxOpenConns    int
		MaxIdleConns    int
		ConnMaxLifetime int // seconds
	}

	// Financial policy
	MaxTransactionAmount int64 // minor units, per-transaction ceiling
	IdempotencyTTL       time.Duration
	BalanceLockTTL       time.Duration

	// Security monitoring
	EventHistoryLimit  int
	ThrottleIPTTL      time.Duration
	ThrottleUserTTL    time.Duration
	ThreatFeedURL      string
	RateLimitPerMinute int

	// Background maintenance intervals
	MetricsInterval     time.Duration
	ThreatIntelInterval time.Duration
	CleanupInterval     time.Duration

	// Optional external backends
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KafkaBrokers  []string
	KafkaTopic    string

	// Alert channels
	AlertWebhookURL string
	AlertEmailTo    string
	AlertChatURL    string

	// Identity
	JWTSecret  string
	TOTPIssuer string
}

// LoadConfig reads configuration from the environment (and .env if present)
func LoadConfig() (*Config, error) {
	viper.SetConfigFile(".env")
	viper.AutomaticEnv()
	_ = viper.ReadInConfig()

	viper.SetDefault("LISTEN_ADDR", ":8080")
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("DB_MAX_OPEN_CONNS", 25)
	viper.SetDefault("DB_MAX_IDLE_CONNS", 5)
	viper.SetDefault("DB_CONN_MAX_LIFETIME", 300)
	viper.SetDefault("MAX_TRANSACTION_AMOUNT", int64(100_000_00))
	viper.SetDefault("IDEMPOTENCY_TTL", "24h")
	viper.SetDefault("BALANCE_LOCK_TTL", "5m")
	viper.SetDefault("EVENT_HISTORY_LIMIT", 1000)
	viper.SetDefault("THROTTLE_IP_TTL", "15m")
	viper.SetDefault("THROTTLE_USER_TTL", "30m")
	viper.SetDefault("RATE_LIMIT_PER_MINUTE", 300)
	viper.SetDefault("METRICS_INTERVAL", "30s")
	viper.SetDefault("THREAT_INTEL_INTERVAL", "1h")
	viper.SetDefault("CLEANUP_INTERVAL", "1m")
	viper.SetDefault("KAFKA_TOPIC", "finguard.audit")
	viper.SetDefault("TOTP_ISSUER", "finguard")

	cfg := &Config{
		ListenAddr:           viper.GetString("LISTEN_ADDR"),
		LogLevel:             viper.GetString("LOG_LEVEL"),
		MaxTransactionAmount: viper.GetInt64("MAX_TRANSACTION_AMOUNT"),
		IdempotencyTTL:       viper.GetDuration("IDEMPOTENCY_TTL"),
		BalanceLockTTL:       viper.GetDuration("BALANCE_LOCK_TTL"),
		EventHistoryLimit:    viper.GetInt("EVENT_HISTORY_LIMIT"),
		ThrottleIPTTL:        viper.GetDuration("THROTTLE_IP_TTL"),
		ThrottleUserTTL:      viper.GetDuration("THROTTLE_USER_TTL"),
		ThreatFeedURL:        viper.GetString("THREAT_FEED_URL"),
		RateLimitPerMinute:   viper.GetInt("RATE_LIMIT_PER_MINUTE"),
		MetricsInterval:      viper.GetDuration("METRICS_INTERVAL"),
		ThreatIntelInterval:  viper.GetDuration("THREAT_INTEL_INTERVAL"),
		CleanupInterval:      viper.GetDuration("CLEANUP_INTERVAL"),
		RedisAddr:            viper.GetString("REDIS_ADDR"),
		RedisPassword:        viper.GetString("REDIS_PASSWORD"),
		RedisDB:              viper.GetInt("REDIS_DB"),
		KafkaBrokers:         viper.GetStringSlice("KAFKA_BROKERS"),
		KafkaTopic:           viper.GetString("KAFKA_TOPIC"),
		AlertWebhookURL:      viper.GetString("ALERT_WEBHOOK_URL"),
		AlertEmailTo:         viper.GetString("ALERT_EMAIL_TO"),
		AlertChatURL:         viper.GetString("ALERT_CHAT_URL"),
		JWTSecret:            viper.GetString("JWT_SECRET"),
		TOTPIssuer:           viper.GetString("TOTP_ISSUER"),
	}
	cfg.Database.DSN = viper.GetString("DB_DSN")
	cfg.Database.MaxOpenConns = viper.GetInt("DB_MAX_OPEN_CONNS")
	cfg.Database.MaxIdleConns = viper.GetInt("DB_MAX_IDLE_CONNS")
	cfg.Database.ConnMaxLifetime = viper.GetInt("DB_CONN_MAX_LIFETIME")

	return cfg, nil
}
