package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	App       AppConfig
	DB        DBConfig
	Redis     RedisConfig
	JWT       JWTConfig
	CORS      CORSConfig
	SMTP      SMTPConfig
	FCM       FCMConfig
	Twilio    TwilioConfig
	Presence  PresenceConfig
	RateLimit RateLimitConfig
	Queue     QueueConfig
}

type AppConfig struct {
	Env  string
	Port string
}

type DBConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Name     string
	SSLMode  string
}

// DSN returns the PostgreSQL connection string
func (d DBConfig) DSN() string {
	return "host=" + d.Host +
		" user=" + d.User +
		" password=" + d.Password +
		" dbname=" + d.Name +
		" port=" + d.Port +
		" sslmode=" + d.SSLMode +
		" TimeZone=UTC"
}

// URL returns the PostgreSQL connection URL (for golang-migrate)
func (d DBConfig) URL() string {
	return "postgres://" + d.User + ":" + d.Password +
		"@" + d.Host + ":" + d.Port +
		"/" + d.Name + "?sslmode=" + d.SSLMode
}

type RedisConfig struct {
	Host     string
	Port     string
	Password string
}

// Addr returns the Redis address
func (r RedisConfig) Addr() string {
	return r.Host + ":" + r.Port
}

type JWTConfig struct {
	Secret string
	Expiry time.Duration
}

type CORSConfig struct {
	Origins []string
}

type SMTPConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type FCMConfig struct {
	CredentialsFile string
}

type TwilioConfig struct {
	AccountSID string
	AuthToken  string
	FromNumber string
}

// PresenceConfig controls the inactivity sweep thresholds
type PresenceConfig struct {
	InactiveThreshold time.Duration // ONLINE -> AWAY after this much idle time
	OfflineThreshold  time.Duration // -> OFFLINE after this much idle time
	SweepInterval     time.Duration
	SessionTTL        time.Duration
}

// EventQuota is a fixed-window rate-limit quota for one event name
type EventQuota struct {
	MaxRequests int
	Window      time.Duration
}

// RateLimitConfig carries per-event quotas plus the fallback default
type RateLimitConfig struct {
	Default EventQuota
	Events  map[string]EventQuota
}

// Quota returns the quota for an event name, falling back to the default
func (r RateLimitConfig) Quota(event string) EventQuota {
	if q, ok := r.Events[event]; ok {
		return q
	}
	return r.Default
}

// ChannelPolicy is the retry policy for one delivery channel
type ChannelPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	Timeout    time.Duration
}

// QueueConfig controls the delivery worker pool
type QueueConfig struct {
	DeliveryConcurrency int
	CleanupConcurrency  int
	StalledGracePeriod  time.Duration
	RetentionWindow     time.Duration
	Channels            map[string]ChannelPolicy // keyed by model.Channel string
}

// Policy returns the retry policy for a channel, with a safe fallback
func (q QueueConfig) Policy(channel string) ChannelPolicy {
	if p, ok := q.Channels[channel]; ok {
		return p
	}
	return ChannelPolicy{MaxRetries: 3, BaseDelay: 30 * time.Second, Timeout: 30 * time.Second}
}

// Load reads configuration from .env file and environment variables
func Load() *Config {
	// Load .env file (ignore error if not exists - e.g. in Docker)
	if err := godotenv.Load(); err != nil {
		log.Println("⚠️  No .env file found, reading from environment variables")
	}

	return &Config{
		App: AppConfig{
			Env:  getEnv("APP_ENV", "development"),
			Port: getEnv("APP_PORT", "8080"),
		},
		DB: DBConfig{
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "fixly"),
			Password: getEnv("DB_PASSWORD", "fixly"),
			Name:     getEnv("DB_NAME", "fixly"),
			SSLMode:  getEnv("DB_SSLMODE", "disable"),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnv("REDIS_PORT", "6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
		},
		JWT: JWTConfig{
			Secret: getEnv("JWT_SECRET", "default-secret"),
			Expiry: getDuration("JWT_EXPIRY", 24*time.Hour),
		},
		CORS: CORSConfig{
			Origins: strings.Split(getEnv("CORS_ORIGINS", "http://localhost:3000"), ","),
		},
		SMTP: SMTPConfig{
			Host:     getEnv("SMTP_HOST", "mailpit"),
			Port:     getEnv("SMTP_PORT", "1025"),
			Username: getEnv("SMTP_USERNAME", ""),
			Password: getEnv("SMTP_PASSWORD", ""),
			From:     getEnv("SMTP_FROM", "noreply@fixly.local"),
			FromName: getEnv("SMTP_FROM_NAME", "Fixly"),
		},
		FCM: FCMConfig{
			CredentialsFile: getEnv("FCM_CREDENTIALS_FILE", ""),
		},
		Twilio: TwilioConfig{
			AccountSID: getEnv("TWILIO_ACCOUNT_SID", ""),
			AuthToken:  getEnv("TWILIO_AUTH_TOKEN", ""),
			FromNumber: getEnv("TWILIO_FROM_NUMBER", ""),
		},
		Presence: PresenceConfig{
			InactiveThreshold: getDuration("PRESENCE_INACTIVE_THRESHOLD", 5*time.Minute),
			OfflineThreshold:  getDuration("PRESENCE_OFFLINE_THRESHOLD", 15*time.Minute),
			SweepInterval:     getDuration("PRESENCE_SWEEP_INTERVAL", time.Minute),
			SessionTTL:        getDuration("SESSION_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Default: EventQuota{
				MaxRequests: getInt("RATELIMIT_DEFAULT_MAX", 60),
				Window:      getDuration("RATELIMIT_DEFAULT_WINDOW", time.Minute),
			},
			Events: map[string]EventQuota{
				"presence:heartbeat":     {MaxRequests: getInt("RATELIMIT_HEARTBEAT_MAX", 6), Window: time.Minute},
				"presence:update_status": {MaxRequests: 10, Window: time.Minute},
				"presence:subscribe":     {MaxRequests: 20, Window: time.Minute},
				"notification:send":      {MaxRequests: getInt("RATELIMIT_NOTIFY_MAX", 30), Window: time.Minute},
			},
		},
		Queue: QueueConfig{
			DeliveryConcurrency: getInt("QUEUE_DELIVERY_CONCURRENCY", 10),
			CleanupConcurrency:  1, // serialized to limit database pressure during bulk deletes
			StalledGracePeriod:  getDuration("QUEUE_STALLED_GRACE", 5*time.Minute),
			RetentionWindow:     getDuration("NOTIFICATION_RETENTION", 30*24*time.Hour),
			Channels: map[string]ChannelPolicy{
				"IN_APP": {MaxRetries: 2, BaseDelay: 5 * time.Second, Timeout: 10 * time.Second},
				"PUSH":   {MaxRetries: 3, BaseDelay: 30 * time.Second, Timeout: 30 * time.Second},
				"EMAIL":  {MaxRetries: 5, BaseDelay: time.Minute, Timeout: time.Minute},
				"SMS":    {MaxRetries: 3, BaseDelay: time.Minute, Timeout: 30 * time.Second},
			},
		},
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) int {
	if value, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	if value, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
