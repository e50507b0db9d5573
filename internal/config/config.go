package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Ledger backends
const (
	LedgerNone  = "none"
	LedgerAzure = "azure"
	LedgerRedis = "redis"
)

var channelIDPattern = regexp.MustCompile(`^[CGD][A-Z0-9]{6,}$`)

// ConfigError reports a missing or invalid configuration value. It is fatal
// and always surfaced before any API call is made.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// Config holds all configuration for the application
type Config struct {
	// Server configuration
	Port  string
	Debug bool

	// Schedule configuration
	ReportSchedule string // cron expression with a seconds field
	ScheduleWeeks  int
	TimeZone       string
	WeekStart      string

	// Slack configuration
	SlackBotToken        string
	SourceChannelID      string
	DestinationChannelID string
	HistoryPageSize      int

	// Resolution policy
	ResolutionEmojis     []string
	CountSelfResolutions bool
	ExcludeBotMessages   bool

	// Retry policy for Slack API calls
	RetryMaxAttempts int
	RetryBaseDelay   time.Duration
	RetryMultiplier  float64
	RetryJitter      float64
	RetryMaxDelay    time.Duration

	// Optional publish ledger
	LedgerBackend    string
	StorageAccount   string
	StorageContainer string
	RedisAddr        string

	// Run summary notifications
	TeamsWebhookURL   string
	NotificationEmail string
	SMTPHost          string
	SMTPPort          int
	SMTPUsername      string
	SMTPPassword      string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:           getEnv("PORT", "8080"),
		Debug:          getBoolEnv("DEBUG", false),
		ReportSchedule: getEnv("REPORT_SCHEDULE", "0 0 9 * * MON"),
		ScheduleWeeks:  getIntEnv("SCHEDULE_WEEKS", 1),
		TimeZone:       getEnv("TIMEZONE", "UTC"),
		WeekStart:      getEnv("WEEK_START", "monday"),

		SlackBotToken:        getEnv("SLACK_BOT_TOKEN", ""),
		SourceChannelID:      getEnv("SOURCE_CHANNEL_ID", ""),
		DestinationChannelID: getEnv("DESTINATION_CHANNEL_ID", ""),
		HistoryPageSize:      getIntEnv("HISTORY_PAGE_SIZE", 200),

		ResolutionEmojis: getSliceEnv("RESOLUTION_EMOJIS", []string{
			"white_check_mark",
			"heavy_check_mark",
		}),
		CountSelfResolutions: getBoolEnv("COUNT_SELF_RESOLUTIONS", true),
		ExcludeBotMessages:   getBoolEnv("EXCLUDE_BOT_MESSAGES", true),

		RetryMaxAttempts: getIntEnv("RETRY_MAX_ATTEMPTS", 6),
		RetryBaseDelay:   getDurationEnv("RETRY_BASE_DELAY", time.Second),
		RetryMultiplier:  getFloatEnv("RETRY_MULTIPLIER", 2.0),
		RetryJitter:      getFloatEnv("RETRY_JITTER", 0.2),
		RetryMaxDelay:    getDurationEnv("RETRY_MAX_DELAY", 30*time.Second),

		LedgerBackend:    strings.ToLower(getEnv("LEDGER_BACKEND", LedgerNone)),
		StorageAccount:   getEnv("AZURE_STORAGE_ACCOUNT", ""),
		StorageContainer: getEnv("AZURE_STORAGE_CONTAINER", "leaderboards"),
		RedisAddr:        getEnv("REDIS_ADDR", ""),

		TeamsWebhookURL:   getEnv("TEAMS_WEBHOOK_URL", ""),
		NotificationEmail: getEnv("NOTIFICATION_EMAIL", ""),
		SMTPHost:          getEnv("SMTP_HOST", ""),
		SMTPPort:          getIntEnv("SMTP_PORT", 587),
		SMTPUsername:      getEnv("SMTP_USERNAME", ""),
		SMTPPassword:      getEnv("SMTP_PASSWORD", ""),
	}

	if cfg.DestinationChannelID == "" {
		cfg.DestinationChannelID = cfg.SourceChannelID
	}

	// Validate required configuration
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func (c *Config) validate() error {
	if c.SlackBotToken == "" {
		return &ConfigError{Field: "SLACK_BOT_TOKEN", Reason: "is required"}
	}
	if !strings.HasPrefix(c.SlackBotToken, "xox") {
		return &ConfigError{Field: "SLACK_BOT_TOKEN", Reason: "is not a Slack token"}
	}

	if c.SourceChannelID == "" {
		return &ConfigError{Field: "SOURCE_CHANNEL_ID", Reason: "is required"}
	}
	if !channelIDPattern.MatchString(c.SourceChannelID) {
		return &ConfigError{Field: "SOURCE_CHANNEL_ID", Reason: fmt.Sprintf("%q is not a channel id", c.SourceChannelID)}
	}
	if !channelIDPattern.MatchString(c.DestinationChannelID) {
		return &ConfigError{Field: "DESTINATION_CHANNEL_ID", Reason: fmt.Sprintf("%q is not a channel id", c.DestinationChannelID)}
	}

	if len(c.ResolutionEmojis) == 0 {
		return &ConfigError{Field: "RESOLUTION_EMOJIS", Reason: "at least one emoji is required"}
	}

	if _, err := c.Location(); err != nil {
		return &ConfigError{Field: "TIMEZONE", Reason: err.Error()}
	}
	if _, err := c.StartWeekday(); err != nil {
		return &ConfigError{Field: "WEEK_START", Reason: err.Error()}
	}

	if c.HistoryPageSize < 1 || c.HistoryPageSize > 1000 {
		return &ConfigError{Field: "HISTORY_PAGE_SIZE", Reason: "must be between 1 and 1000"}
	}
	if c.ScheduleWeeks < 1 {
		return &ConfigError{Field: "SCHEDULE_WEEKS", Reason: "must be at least 1"}
	}

	if c.RetryMaxAttempts < 1 {
		return &ConfigError{Field: "RETRY_MAX_ATTEMPTS", Reason: "must be at least 1"}
	}
	if c.RetryMultiplier < 1 {
		return &ConfigError{Field: "RETRY_MULTIPLIER", Reason: "must be at least 1"}
	}
	if c.RetryJitter < 0 || c.RetryJitter >= 1 {
		return &ConfigError{Field: "RETRY_JITTER", Reason: "must be in [0, 1)"}
	}
	if c.RetryBaseDelay <= 0 || c.RetryMaxDelay < c.RetryBaseDelay {
		return &ConfigError{Field: "RETRY_MAX_DELAY", Reason: "must be positive and not below RETRY_BASE_DELAY"}
	}

	switch c.LedgerBackend {
	case LedgerNone:
	case LedgerAzure:
		if c.StorageAccount == "" {
			return &ConfigError{Field: "AZURE_STORAGE_ACCOUNT", Reason: "is required when LEDGER_BACKEND=azure"}
		}
	case LedgerRedis:
		if c.RedisAddr == "" {
			return &ConfigError{Field: "REDIS_ADDR", Reason: "is required when LEDGER_BACKEND=redis"}
		}
	default:
		return &ConfigError{Field: "LEDGER_BACKEND", Reason: "must be 'none', 'azure' or 'redis'"}
	}

	if c.NotificationEmail != "" {
		if c.SMTPHost == "" || c.SMTPUsername == "" || c.SMTPPassword == "" {
			return &ConfigError{Field: "SMTP_HOST", Reason: "SMTP configuration is required when NOTIFICATION_EMAIL is set"}
		}
	}

	return nil
}

// Location returns the time zone weeks are aligned in
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.TimeZone)
}

// StartWeekday returns the weekday a week starts on
func (c *Config) StartWeekday() (time.Weekday, error) {
	for d := time.Sunday; d <= time.Saturday; d++ {
		if strings.EqualFold(d.String(), c.WeekStart) {
			return d, nil
		}
	}
	return time.Monday, fmt.Errorf("unknown weekday %q", c.WeekStart)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getSliceEnv(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var items []string
		for _, item := range strings.Split(value, ",") {
			if item = strings.TrimSpace(item); item != "" {
				items = append(items, item)
			}
		}
		return items
	}
	return defaultValue
}
