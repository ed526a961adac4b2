package config // package config loads application configuration from environment variables

import (
	"log"     // log is used to report configuration errors and halt execution
	"os"      // os provides access to environment variables
	"strconv" // strconv converts strings to other types
	"time"
)

// Config holds all runtime configuration values.  Each field corresponds to
// an environment variable.  Required values are enforced at start-up; the
// rest fall back to defaults that suit a single-node deployment.
type Config struct {
	Env       string // application environment (e.g. "dev", "prod")
	Port      string // HTTP port to listen on
	DBUser    string // database username
	DBPass    string // database password (optional)
	DBHost    string // database host address
	DBPort    string // database port number
	DBName    string // database name
	JWTSecret string // secret used to verify bearer tokens

	AverageMealCost       int64         // flat per-meal price used for credits and savings
	NotifyConcurrency     int           // max notification sends in flight per broadcast
	NotifyRatePerSec      float64       // global notification send rate, 0 = unlimited
	ReminderLead          time.Duration // how long before a leave starts the reminder goes out
	ReminderCheckInterval time.Duration // reminder scheduler tick
	MessCacheTTL          time.Duration // owner to mess resolution cache lifetime
	AutoMigrate           bool          // create tables on start-up

	LogLevel  string // zerolog level name
	LogFormat string // "console" or "json"

	Queue QueueConfig
	SMTP  SMTPConfig
}

// QueueConfig describes the notification broker.
type QueueConfig struct {
	URL                 string // AMQP URL; empty disables the broker and notifications are logged only
	Name                string // durable queue carrying notifications
	Prefetch            int    // consumer QoS
	NotificationLogPath string // rotating delivery log written by the consumer
}

// SMTPConfig enables the email channel when Host is set.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// Enabled reports whether email delivery is configured.
func (s SMTPConfig) Enabled() bool { return s.Host != "" && s.From != "" }

// Load reads configuration values from environment variables and returns a
// Config.  Required variables are enforced by must() and missing values
// cause the program to exit with a fatal log message.
func Load() Config {
	return Config{
		Env:       must("APP_ENV"),      // environment (dev/test/prod)
		Port:      must("APP_PORT"),     // port to bind the HTTP server
		DBUser:    must("DB_USER"),      // database user
		DBPass:    os.Getenv("DB_PASS"), // database password (empty allowed)
		DBHost:    must("DB_HOST"),      // database host
		DBPort:    must("DB_PORT"),      // database port
		DBName:    must("DB_NAME"),      // database name
		JWTSecret: must("JWT_SECRET"),   // secret used for verifying JWTs

		AverageMealCost:       int64(positiveInt("AVERAGE_MEAL_COST", 50)),
		NotifyConcurrency:     positiveInt("NOTIFY_CONCURRENCY", 8),
		NotifyRatePerSec:      envFloat("NOTIFY_RATE_PER_SEC", 50),
		ReminderLead:          envDur("REMINDER_LEAD", 24*time.Hour),
		ReminderCheckInterval: envDur("REMINDER_CHECK_INTERVAL", time.Minute),
		MessCacheTTL:          envDur("MESS_CACHE_TTL", 5*time.Minute),
		AutoMigrate:           envBool("DB_AUTO_MIGRATE", false),

		LogLevel:  envStr("LOG_LEVEL", "info"),
		LogFormat: envStr("LOG_FORMAT", "console"),

		Queue: QueueConfig{
			URL:                 rabbitURL(),
			Name:                envStr("NOTIFY_QUEUE", "mess.notifications"),
			Prefetch:            positiveInt("NOTIFY_PREFETCH", 50),
			NotificationLogPath: envStr("NOTIFICATION_LOG_PATH", "logs/notifications.log"),
		},
		SMTP: SMTPConfig{
			Host:     os.Getenv("SMTP_HOST"),
			Port:     envInt("SMTP_PORT", 587),
			Username: os.Getenv("SMTP_USER"),
			Password: os.Getenv("SMTP_PASS"),
			From:     os.Getenv("SMTP_FROM"),
		},
	}
}

// rabbitURL accepts the legacy AMQP_URL name as well.
func rabbitURL() string {
	if v := os.Getenv("RABBITMQ_URL"); v != "" {
		return v
	}
	return os.Getenv("AMQP_URL")
}

// must retrieves the value of a required environment variable.  If the
// variable is unset or empty, the application logs a fatal error and exits.
func must(key string) string {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		log.Fatalf("missing required env var: %s", key)
	}
	return v
}

// positiveInt reads an optional integer that must be at least 1.  Invalid
// values are fatal so that a typo never silently becomes the default.
func positiveInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		log.Fatalf("invalid positive int for %s: %q", key, s)
	}
	return n
}

func envFloat(k string, d float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return d
	}
	if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 {
		return f
	}
	return d
}
