package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
)

// Config holds all configuration for the report filing bot
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port string

	// Telegram configuration
	TelegramBotToken string

	// LLM configuration
	LLMProvider  string
	GeminiAPIKey string
	GeminiModel  string
	OpenAIAPIKey string
	OpenAIModel  string

	// Outbound mail (SendGrid)
	SendGridAPIKey string
	SenderName     string
	SenderEmail    string

	// Inbound mail (IMAP)
	IMAPAddr     string
	IMAPUser     string
	IMAPPassword string
	IMAPMailbox  string

	// Report configuration
	DefaultRecipientEmail string
	SubjectTemplate       string

	// Follow-up configuration
	FollowUpPeriod   time.Duration
	FollowUpInterval time.Duration
	MaxFollowUps     int

	// Reply reconciliation configuration
	ReplyPollInterval time.Duration
	MaxReplyBatch     int
	ReplyMaxLength    int
	MaxReplyAttempts  int

	// Retention configuration; a zero period disables purging
	RetentionPeriod   time.Duration
	RetentionInterval time.Duration

	// RabbitMQ configuration
	RabbitMQ RabbitMQConfig

	// Logging
	LogLevel string
}

// RabbitMQConfig holds the lifecycle event publisher settings
type RabbitMQConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Exchange string

	ReportEventsRoutingKey string
}

// Enabled reports whether a broker host is configured
func (r RabbitMQConfig) Enabled() bool {
	return r.Host != ""
}

// GetAMQPURL returns the AMQP connection URL
func (r RabbitMQConfig) GetAMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s", r.User, r.Password, r.Host, r.Port)
}

// DefaultSubjectTemplate is the subject line used when SUBJECT_TEMPLATE is unset.
// {name} is replaced with the reported business or person.
const DefaultSubjectTemplate = "Urgent Report Regarding Illegitimate Business Operation: {name}"

// Load loads configuration from environment variables
func Load() *Config {
	senderEmail := getEnv("SENDER_EMAIL", "")

	config := &Config{
		// Database defaults
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret"),
		DBName:     getEnv("DB_NAME", "reports"),

		// Server defaults
		Port: getEnv("PORT", "8080"),

		TelegramBotToken: getEnv("TELEGRAM_BOT_TOKEN", ""),

		// LLM defaults
		LLMProvider:  strings.ToLower(getEnv("LLM_PROVIDER", "gemini")),
		GeminiAPIKey: getEnv("GOOGLE_API_KEY", ""),
		GeminiModel:  getEnv("GEMINI_MODEL", "gemini-1.5-flash"),
		OpenAIAPIKey: getEnv("OPENAI_API_KEY", ""),
		OpenAIModel:  getEnv("OPENAI_MODEL", "gpt-4o"),

		// Mail defaults
		SendGridAPIKey: getEnv("SENDGRID_API_KEY", ""),
		SenderName:     getEnv("SENDER_NAME", "Report Filing Bot"),
		SenderEmail:    senderEmail,
		IMAPAddr:       getEnv("IMAP_ADDR", "imap.gmail.com:993"),
		IMAPUser:       getEnv("IMAP_USER", senderEmail),
		IMAPPassword:   getEnv("IMAP_PASSWORD", getEnv("SENDER_APP_PASSWORD", "")),
		IMAPMailbox:    getEnv("IMAP_MAILBOX", "INBOX"),

		DefaultRecipientEmail: getEnv("DEFAULT_RECIPIENT_EMAIL", ""),
		SubjectTemplate:       getEnv("SUBJECT_TEMPLATE", DefaultSubjectTemplate),

		// Follow-up defaults (3 days between follow-ups, checked hourly)
		FollowUpPeriod:   getDurationEnv("FOLLOW_UP_PERIOD", 72*time.Hour),
		FollowUpInterval: getDurationEnv("FOLLOW_UP_INTERVAL", time.Hour),
		MaxFollowUps:     getIntEnv("MAX_FOLLOW_UPS", 3),

		// Reply defaults
		ReplyPollInterval: getDurationEnv("REPLY_POLL_INTERVAL", 5*time.Minute),
		MaxReplyBatch:     getIntEnv("MAX_REPLY_BATCH", 50),
		ReplyMaxLength:    getIntEnv("REPLY_MAX_LENGTH", 1000),
		MaxReplyAttempts:  getIntEnv("MAX_REPLY_ATTEMPTS", 5),

		// Retention defaults
		RetentionPeriod:   getDurationEnv("RETENTION_PERIOD", 0),
		RetentionInterval: getDurationEnv("RETENTION_INTERVAL", 24*time.Hour),

		RabbitMQ: RabbitMQConfig{
			Host:                   getEnv("RABBITMQ_HOST", ""),
			Port:                   getEnv("RABBITMQ_PORT", "5672"),
			User:                   getEnv("RABBITMQ_USER", "guest"),
			Password:               getEnv("RABBITMQ_PASSWORD", "guest"),
			Exchange:               getEnv("RABBITMQ_EXCHANGE", "reports"),
			ReportEventsRoutingKey: getEnv("RABBITMQ_REPORT_EVENTS_ROUTING_KEY", "report.status"),
		},

		// Logging defaults
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}

	return config
}

// Validate checks that the values required to run the bot are present
func (c *Config) Validate() error {
	var errs []error
	if c.TelegramBotToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	switch c.LLMProvider {
	case "gemini":
		if c.GeminiAPIKey == "" {
			errs = append(errs, errors.New("GOOGLE_API_KEY is required for the gemini provider"))
		}
	case "openai":
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	case "stub":
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}
	if c.SendGridAPIKey == "" || c.SenderEmail == "" {
		errs = append(errs, errors.New("SENDGRID_API_KEY and SENDER_EMAIL are required"))
	}
	if c.FollowUpPeriod <= 0 {
		errs = append(errs, errors.New("FOLLOW_UP_PERIOD must be positive"))
	}
	if c.FollowUpInterval <= 0 || c.ReplyPollInterval <= 0 {
		errs = append(errs, errors.New("sweep intervals must be positive"))
	}
	if !strings.Contains(c.SubjectTemplate, "{name}") {
		errs = append(errs, errors.New("SUBJECT_TEMPLATE must contain {name}"))
	}
	return errors.Join(errs...)
}

// InboxEnabled reports whether IMAP credentials are configured
func (c *Config) InboxEnabled() bool {
	return c.IMAPUser != "" && c.IMAPPassword != ""
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value.
// Malformed values are logged and replaced by the default.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		duration, err := ParseDuration(value)
		if err == nil {
			return duration
		}
		log.WithError(err).WithField("key", key).Warnf("Invalid duration %q, using %s", value, defaultValue)
	}
	return defaultValue
}

// ParseDuration parses a Go duration string and also accepts whole days such as "3d"
func ParseDuration(value string) (time.Duration, error) {
	if days, ok := strings.CutSuffix(value, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day count %q", value)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	return time.ParseDuration(value)
}

// getIntEnv gets an integer environment variable or returns a default value.
// Malformed values are logged and replaced by the default.
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		intValue, err := strconv.Atoi(value)
		if err == nil {
			return intValue
		}
		log.WithError(err).WithField("key", key).Warnf("Invalid integer %q, using %d", value, defaultValue)
	}
	return defaultValue
}
