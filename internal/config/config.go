package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all configuration for the application.
type Config struct {
	Server     ServerConfig
	DB         DBConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Issuer     IssuerConfig
	Consumer   ConsumerConfig
	Reconciler ReconcilerConfig
	Log        LogConfig
}

// ServerConfig holds server-related configuration.
type ServerConfig struct {
	Port            string `envconfig:"SERVER_PORT" default:"8000"`
	ShutdownTimeout int    `envconfig:"SHUTDOWN_TIMEOUT" default:"30"` // seconds
	RequestTimeout  int    `envconfig:"REQUEST_TIMEOUT" default:"1"`   // seconds, end-to-end issuance deadline
}

// DBConfig holds database-related configuration.
// WARNING: Default password is for local development only.
// In production, always set DB_PASSWORD via environment variable.
// In production, set DB_SSLMODE to "require" or "verify-full".
type DBConfig struct {
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"5432"`
	User     string `envconfig:"DB_USER" default:"postgres"`
	Password string `envconfig:"DB_PASSWORD" default:"postgres"` // CHANGE IN PRODUCTION
	Name     string `envconfig:"DB_NAME" default:"coupon_db"`
	SSLMode  string `envconfig:"DB_SSLMODE" default:"disable"` // Use "require" in production
	MaxConns int    `envconfig:"DB_MAX_CONNS" default:"25"`
	MinConns int    `envconfig:"DB_MIN_CONNS" default:"5"`
	// ConnectRetries bounds the startup connection attempts; with the
	// 1s/2s/4s/... backoff the default gives up after roughly 15 seconds.
	ConnectRetries int `envconfig:"DB_CONNECT_RETRIES" default:"5"`
}

// DSN returns the PostgreSQL connection string.
func (c DBConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s&pool_max_conns=%d&pool_min_conns=%d",
		c.User, c.Password, c.Host, c.Port, c.Name, c.SSLMode, c.MaxConns, c.MinConns)
}

// RedisConfig holds in-memory store configuration. Addrs takes a comma
// separated list; more than one address enables cluster mode.
type RedisConfig struct {
	Addrs       string `envconfig:"REDIS_ADDRS" default:"localhost:6379"`
	Password    string `envconfig:"REDIS_PASSWORD" default:""`
	DialTimeout int    `envconfig:"REDIS_DIAL_TIMEOUT" default:"10"` // seconds
	ReadTimeout int    `envconfig:"REDIS_READ_TIMEOUT" default:"1"`  // seconds
	PoolSize    int    `envconfig:"REDIS_POOL_SIZE" default:"50"`
	MaxRetries  int    `envconfig:"REDIS_MAX_RETRIES" default:"3"` // idempotent reads only
}

// AddrList splits Addrs into individual host:port entries.
func (c RedisConfig) AddrList() []string {
	return splitList(c.Addrs)
}

// KafkaConfig holds event-log configuration.
type KafkaConfig struct {
	Brokers       string `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	Topic         string `envconfig:"KAFKA_TOPIC" default:"coupon-events"`
	DeadLetter    string `envconfig:"KAFKA_DLQ_TOPIC" default:"coupon-events-dlq"`
	ConsumerGroup string `envconfig:"KAFKA_CONSUMER_GROUP" default:"coupon-writer"`
}

// BrokerList splits Brokers into individual host:port entries.
func (c KafkaConfig) BrokerList() []string {
	return splitList(c.Brokers)
}

// IssuerConfig tunes the synchronous issuance path.
type IssuerConfig struct {
	CouponTTL       int `envconfig:"ISSUER_COUPON_TTL" default:"3600"`       // seconds, participant set + user cache slot
	PublishBudgetMS int `envconfig:"ISSUER_PUBLISH_BUDGET_MS" default:"100"` // total publish retry budget
	PublishAttempts int `envconfig:"ISSUER_PUBLISH_ATTEMPTS" default:"3"`
}

// PublishBudget returns the publish retry budget as a duration.
func (c IssuerConfig) PublishBudget() time.Duration {
	return time.Duration(c.PublishBudgetMS) * time.Millisecond
}

// ConsumerConfig tunes the durable writer.
type ConsumerConfig struct {
	MaxAttempts   int `envconfig:"CONSUMER_MAX_ATTEMPTS" default:"5"`
	BackoffBaseMS int `envconfig:"CONSUMER_BACKOFF_BASE_MS" default:"1000"`
	BackoffCapMS  int `envconfig:"CONSUMER_BACKOFF_CAP_MS" default:"30000"`
}

// BackoffBase returns the base retry delay.
func (c ConsumerConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseMS) * time.Millisecond
}

// BackoffCap returns the maximum retry delay.
func (c ConsumerConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapMS) * time.Millisecond
}

// ReconcilerConfig tunes the reconciliation job.
type ReconcilerConfig struct {
	Interval int `envconfig:"RECONCILER_INTERVAL" default:"60"` // seconds
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level  string `envconfig:"LOG_LEVEL" default:"info"`
	Pretty bool   `envconfig:"LOG_PRETTY" default:"false"`
}

// Load parses environment variables into the Config struct.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
