package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	BackendMemory = "memory"
	BackendDynamo = "dynamo"
	BackendSQLite = "sqlite"
)

type Config struct {
	Server struct {
		Port                string
		LogLevel            string
		CORSOrigin          string
		ShutdownGracePeriod time.Duration
	}
	AWS struct {
		Region string
	}
	Cognito struct {
		UserPoolID string
	}
	Store struct {
		Backend          string
		SQLitePath       string
		MessagesTable    string
		MessagesIndex    string
		EnrollmentsTable string
	}
	Chat struct {
		HistoryLimit     int
		MaxMessageLength int
		DevModeFailOpen  bool
		OutboxSize       int
		// Enrollments seeds the memory enrollment source as
		// enrollment_id=influencer_id pairs.
		Enrollments map[string]string
	}
	Telemetry struct {
		OTLPEndpoint string
	}
}

// Issuer is the canonical Cognito issuer URL for the configured user pool.
// Empty when no pool is configured.
func (c Config) Issuer() string {
	if c.Cognito.UserPoolID == "" {
		return ""
	}
	return fmt.Sprintf("https://cognito-idp.%s.amazonaws.com/%s", c.AWS.Region, c.Cognito.UserPoolID)
}

// Validate reports configuration that the server cannot start with.
func (c Config) Validate() error {
	switch c.Store.Backend {
	case BackendMemory, BackendDynamo, BackendSQLite:
	default:
		return fmt.Errorf("unknown store backend %q", c.Store.Backend)
	}
	if c.Chat.HistoryLimit <= 0 {
		return fmt.Errorf("chat.history_limit must be positive, got %d", c.Chat.HistoryLimit)
	}
	if c.Chat.OutboxSize <= 0 {
		return fmt.Errorf("chat.outbox_size must be positive, got %d", c.Chat.OutboxSize)
	}
	if c.Chat.MaxMessageLength < 0 {
		return fmt.Errorf("chat.max_message_length must not be negative, got %d", c.Chat.MaxMessageLength)
	}
	return nil
}

func Load() (Config, error) {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Defaults
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.cors_origin", "*")
	v.SetDefault("server.shutdown_grace_period", "10s")

	v.SetDefault("aws.region", "us-east-1")

	v.SetDefault("store.backend", BackendMemory)
	v.SetDefault("store.sqlite_path", "chat.db")
	v.SetDefault("store.messages_table", "uppy_chat_messages")
	v.SetDefault("store.messages_index", "conversation_id-index")
	v.SetDefault("store.enrollments_table", "uppy_enrollment")

	v.SetDefault("chat.history_limit", 50)
	v.SetDefault("chat.max_message_length", 4000)
	v.SetDefault("chat.dev_mode_fail_open", false)
	v.SetDefault("chat.outbox_size", 64)
	v.SetDefault("chat.enrollments", "")

	// Map envs
	v.BindEnv("server.port", "PORT")
	v.BindEnv("server.log_level", "LOG_LEVEL")
	v.BindEnv("server.cors_origin", "CORS_ORIGIN")
	v.BindEnv("server.shutdown_grace_period", "SHUTDOWN_GRACE_PERIOD")

	v.BindEnv("aws.region", "AWS_REGION")
	v.BindEnv("cognito.user_pool_id", "COGNITO_USER_POOL_ID")

	v.BindEnv("store.backend", "STORE_BACKEND")
	v.BindEnv("store.sqlite_path", "STORE_SQLITE_PATH")
	v.BindEnv("store.messages_table", "DYNAMO_MESSAGES_TABLE")
	v.BindEnv("store.messages_index", "DYNAMO_MESSAGES_INDEX")
	v.BindEnv("store.enrollments_table", "DYNAMO_ENROLLMENTS_TABLE")

	v.BindEnv("chat.history_limit", "CHAT_HISTORY_LIMIT")
	v.BindEnv("chat.max_message_length", "CHAT_MAX_MESSAGE_LENGTH")
	v.BindEnv("chat.dev_mode_fail_open", "CHAT_DEV_MODE_FAIL_OPEN")
	v.BindEnv("chat.outbox_size", "CHAT_OUTBOX_SIZE")
	v.BindEnv("chat.enrollments", "CHAT_ENROLLMENTS")

	v.BindEnv("telemetry.otlp_endpoint", "OTEL_EXPORTER_OTLP_ENDPOINT")

	var c Config
	c.Server.Port = toString(v.Get("server.port"))
	c.Server.LogLevel = v.GetString("server.log_level")
	c.Server.CORSOrigin = v.GetString("server.cors_origin")

	c.AWS.Region = v.GetString("aws.region")
	c.Cognito.UserPoolID = v.GetString("cognito.user_pool_id")

	c.Store.Backend = strings.ToLower(v.GetString("store.backend"))
	c.Store.SQLitePath = v.GetString("store.sqlite_path")
	c.Store.MessagesTable = v.GetString("store.messages_table")
	c.Store.MessagesIndex = v.GetString("store.messages_index")
	c.Store.EnrollmentsTable = v.GetString("store.enrollments_table")

	c.Chat.HistoryLimit = v.GetInt("chat.history_limit")
	c.Chat.MaxMessageLength = v.GetInt("chat.max_message_length")
	c.Chat.DevModeFailOpen = v.GetBool("chat.dev_mode_fail_open")
	c.Chat.OutboxSize = v.GetInt("chat.outbox_size")

	enrollments, err := parsePairs(v.GetString("chat.enrollments"))
	if err != nil {
		return Config{}, fmt.Errorf("invalid chat.enrollments: %w", err)
	}
	c.Chat.Enrollments = enrollments

	c.Telemetry.OTLPEndpoint = v.GetString("telemetry.otlp_endpoint")

	// Viper leaves durations as strings when they come from the environment.
	if c.Server.ShutdownGracePeriod, err = parseDuration(v, "server.shutdown_grace_period"); err != nil {
		return Config{}, err
	}

	if err := c.Validate(); err != nil {
		return Config{}, err
	}
	return c, nil
}

func parseDuration(v *viper.Viper, key string) (time.Duration, error) {
	d, err := time.ParseDuration(v.GetString(key))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}

// parsePairs reads "a=1,b=2" into a map.
func parsePairs(raw string) (map[string]string, error) {
	out := make(map[string]string)
	for _, item := range strings.Split(raw, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, val, ok := strings.Cut(item, "=")
		if !ok || k == "" || val == "" {
			return nil, fmt.Errorf("malformed pair %q", item)
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(val)
	}
	return out, nil
}

func toString(v any) string { return fmt.Sprint(v) }
