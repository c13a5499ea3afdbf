package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr         string
	PostgresURL      string
	NSQDAddress      string
	NSQDHTTPAddress  string
	NSQChangeTopic   string
	NSQChangeChannel string
	NSQMaxInFlight   int
	NSQConcurrency   int
	RunWorkers       bool

	ChangeBatchSize     int
	ChangeFlushInterval time.Duration

	RedisAddr     string
	RedisPassword string
	RedisDB       int

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string
	SMTPFrom     string

	SlackBotToken string
	SlackAPIURL   string

	BudgetEqualsEpsilon   float64
	DeliveryRatePerMinute int
	DigestTick            time.Duration

	ChangeRetentionDays   int
	DeliveryRetentionDays int
	CleanupInterval       time.Duration

	LogLevel        string
	LogFormat       string
	MaintenanceMode bool
}

// LoadDotenv reads KEY=VALUE pairs from path into the process environment
// without overriding variables that are already set. A missing file is not
// an error.
func LoadDotenv(path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		path = ".env"
	}
	if _, err := os.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

func FromEnv() (Config, error) {
	cfg := Config{
		HTTPAddr:         getenvDefault("HTTP_ADDR", ":8080"),
		PostgresURL:      strings.TrimSpace(os.Getenv("POSTGRES_URL")),
		NSQDAddress:      getenvDefault("NSQD_ADDRESS", "127.0.0.1:4150"),
		NSQDHTTPAddress:  strings.TrimSpace(os.Getenv("NSQD_HTTP_ADDRESS")),
		NSQChangeTopic:   getenvDefault("NSQ_CHANGE_TOPIC", "ad-changes"),
		NSQChangeChannel: getenvDefault("NSQ_CHANGE_CHANNEL", "rule-engine"),
		NSQMaxInFlight:   parsePositiveIntDefault(os.Getenv("NSQ_MAX_IN_FLIGHT"), 200),
		NSQConcurrency:   parsePositiveIntDefault(os.Getenv("NSQ_CONCURRENCY"), 4),
		RunWorkers:       parseBoolDefault(getenvDefault("RUN_WORKERS", "true"), true),

		ChangeBatchSize:     parsePositiveIntDefault(os.Getenv("CHANGE_BATCH_SIZE"), 200),
		ChangeFlushInterval: parseDurationDefault(getenvDefault("CHANGE_FLUSH_INTERVAL", "50ms"), 50*time.Millisecond),

		RedisAddr:     strings.TrimSpace(os.Getenv("REDIS_ADDR")),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       parseIntDefault(getenvDefault("REDIS_DB", "0"), 0),

		SMTPHost:     strings.TrimSpace(os.Getenv("SMTP_HOST")),
		SMTPPort:     parsePositiveIntDefault(os.Getenv("SMTP_PORT"), 587),
		SMTPUsername: strings.TrimSpace(os.Getenv("SMTP_USERNAME")),
		SMTPPassword: os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:     strings.TrimSpace(os.Getenv("SMTP_FROM")),

		SlackBotToken: strings.TrimSpace(os.Getenv("SLACK_BOT_TOKEN")),
		SlackAPIURL:   strings.TrimRight(getenvDefault("SLACK_API_URL", "https://slack.com/api"), "/"),

		DeliveryRatePerMinute: parsePositiveIntDefault(os.Getenv("DELIVERY_RATE_PER_MINUTE"), 60),
		DigestTick:            parseDurationDefault(getenvDefault("DIGEST_TICK", "30s"), 30*time.Second),

		ChangeRetentionDays:   parsePositiveIntDefault(os.Getenv("CHANGE_RETENTION_DAYS"), 30),
		DeliveryRetentionDays: parsePositiveIntDefault(os.Getenv("DELIVERY_RETENTION_DAYS"), 14),
		CleanupInterval:       parseDurationDefault(getenvDefault("CLEANUP_INTERVAL", "1h"), time.Hour),

		LogLevel:        strings.ToLower(getenvDefault("LOG_LEVEL", "info")),
		LogFormat:       strings.ToLower(getenvDefault("LOG_FORMAT", "json")),
		MaintenanceMode: parseBoolDefault(getenvDefault("MAINTENANCE_MODE", "false"), false),
	}

	eps, err := parseNonNegativeFloat(os.Getenv("BUDGET_EQUALS_EPSILON"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid BUDGET_EQUALS_EPSILON: %w", err)
	}
	cfg.BudgetEqualsEpsilon = eps

	if cfg.LogFormat != "json" && cfg.LogFormat != "console" {
		return Config{}, fmt.Errorf("invalid LOG_FORMAT=%q (want json or console)", cfg.LogFormat)
	}
	if strings.TrimSpace(cfg.NSQDAddress) == "" {
		return Config{}, errors.New("NSQD_ADDRESS is required")
	}
	if cfg.RunWorkers && cfg.PostgresURL == "" {
		return Config{}, errors.New("POSTGRES_URL is required when RUN_WORKERS=true")
	}
	return cfg, nil
}

func getenvDefault(key, defaultValue string) string {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return defaultValue
	}
	return value
}

func parseBoolDefault(value string, defaultValue bool) bool {
	parsed, err := strconv.ParseBool(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parseIntDefault(value string, defaultValue int) int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return defaultValue
	}
	return parsed
}

func parsePositiveIntDefault(value string, defaultValue int) int {
	parsed := parseIntDefault(value, defaultValue)
	if parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func parseDurationDefault(value string, defaultValue time.Duration) time.Duration {
	parsed, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil || parsed <= 0 {
		return defaultValue
	}
	return parsed
}

func parseNonNegativeFloat(value string) (float64, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, err
	}
	if f < 0 || f != f {
		return 0, fmt.Errorf("must be >= 0, got %s", value)
	}
	return f, nil
}

func (c Config) String() string {
	return fmt.Sprintf(
		"http=%s nsqd=%s topic=%s channel=%s workers=%v pg=%s redis=%s smtp=%v slack=%v epsilon=%g rate=%d/min digest_tick=%s retention(changes=%dd deliveries=%dd) log=%s/%s maintenance=%v",
		c.HTTPAddr,
		c.NSQDAddress,
		c.NSQChangeTopic,
		c.NSQChangeChannel,
		c.RunWorkers,
		redactPostgresURL(c.PostgresURL),
		redactRedis(c.RedisAddr),
		c.SMTPHost != "",
		c.SlackBotToken != "",
		c.BudgetEqualsEpsilon,
		c.DeliveryRatePerMinute,
		c.DigestTick,
		c.ChangeRetentionDays,
		c.DeliveryRetentionDays,
		c.LogLevel,
		c.LogFormat,
		c.MaintenanceMode,
	)
}

func redactPostgresURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "<none>"
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "<set>"
	}
	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	host := u.Host
	db := strings.TrimPrefix(u.Path, "/")
	if user == "" && host == "" && db == "" {
		return "<set>"
	}
	if user == "" {
		user = "?"
	}
	if host == "" {
		host = "?"
	}
	if db == "" {
		db = "?"
	}
	return fmt.Sprintf("%s@%s/%s", user, host, db)
}

func redactRedis(addr string) string {
	addr = strings.TrimSpace(addr)
	if addr == "" {
		return "<none>"
	}
	return addr
}
