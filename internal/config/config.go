// Package config loads service configuration from the environment and an
// optional config file
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/baely/abd/internal/common/errors"
)

// Keys double as environment variable names once upper-cased
const (
	keySlackBotToken         = "slack_bot_token"
	keySlackSigningSecret    = "slack_signing_secret"
	keySlackLogChannel       = "slack_log_channel"
	keySlackUserID           = "slack_user_id"
	keySlackHeartbeatChannel = "slack_heartbeat_channel"
	keyMonzoClientID         = "monzo_client_id"
	keyMonzoClientSecret     = "monzo_client_secret"
	keyMonzoAccountID        = "monzo_account_id"
	keyDomain                = "domain"
	keyWebhookVerif          = "webhook_verif"
	keyEnvironment           = "environment"
	keyPort                  = "port"
	keyLogging               = "logging"
	keyLogLevel              = "log_level"
	keyLogFormat             = "log_format"
	keyWatchdogInterval      = "watchdog_interval"
	keyWatchdogRetry         = "watchdog_retry_interval"
	keyEventWorkers          = "event_workers"
)

var required = []string{
	keySlackBotToken,
	keySlackSigningSecret,
	keySlackLogChannel,
	keySlackUserID,
	keyMonzoClientID,
	keyMonzoClientSecret,
	keyDomain,
	keyWebhookVerif,
}

// Defaults
const (
	DefaultPort                  = 3000
	DefaultEnvironment           = "development"
	DefaultWatchdogInterval      = 20 * time.Minute
	DefaultWatchdogRetryInterval = 100 * time.Second
	DefaultEventWorkers          = 4
)

// Config is the full service configuration
type Config struct {
	Environment string
	Port        int
	Domain      string // public base URL, e.g. https://abd.example.com

	LogLevel  string
	LogFormat string

	Slack    SlackConfig
	Monzo    MonzoConfig
	Watchdog WatchdogConfig

	EventWorkers int
}

// SlackConfig holds the bot credentials and destinations
type SlackConfig struct {
	BotToken      string
	SigningSecret string
	LogChannel    string // transaction notifications
	UserID        string // operator, receives auth alerts by DM

	HeartbeatChannel string
	Heartbeat        bool
}

// MonzoConfig holds the OAuth client and webhook secret
type MonzoConfig struct {
	ClientID      string
	ClientSecret  string
	AccountID     string
	WebhookSecret string
}

// WatchdogConfig controls the background authentication check
type WatchdogConfig struct {
	Interval      time.Duration
	RetryInterval time.Duration
}

// Production reports whether the service runs in production
func (c Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Addr is the listen address
func (c Config) Addr() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Load reads configuration from the environment, and from configFile when
// it is not empty. Every missing required value is reported in one error.
func Load(configFile string) (Config, error) {
	v := viper.New()

	v.SetDefault(keyEnvironment, DefaultEnvironment)
	v.SetDefault(keyPort, DefaultPort)
	v.SetDefault(keyLogFormat, "json")
	v.SetDefault(keyWatchdogInterval, DefaultWatchdogInterval)
	v.SetDefault(keyWatchdogRetry, DefaultWatchdogRetryInterval)
	v.SetDefault(keyEventWorkers, DefaultEventWorkers)

	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, errors.Wrap(err, "read config file %s", configFile)
		}
	}

	var missing []string
	for _, key := range required {
		if strings.TrimSpace(v.GetString(key)) == "" {
			missing = append(missing, strings.ToUpper(key))
		}
	}
	if len(missing) > 0 {
		return Config{}, errors.Wrap(errors.ErrMissingConfig, "missing environment variables: %s", strings.Join(missing, ", "))
	}

	cfg := Config{
		Environment: v.GetString(keyEnvironment),
		Port:        v.GetInt(keyPort),
		Domain:      strings.TrimRight(v.GetString(keyDomain), "/"),
		LogLevel:    v.GetString(keyLogLevel),
		LogFormat:   v.GetString(keyLogFormat),
		Slack: SlackConfig{
			BotToken:         v.GetString(keySlackBotToken),
			SigningSecret:    v.GetString(keySlackSigningSecret),
			LogChannel:       v.GetString(keySlackLogChannel),
			UserID:           v.GetString(keySlackUserID),
			HeartbeatChannel: v.GetString(keySlackHeartbeatChannel),
			Heartbeat:        enabled(v.GetString(keyLogging)),
		},
		Monzo: MonzoConfig{
			ClientID:      v.GetString(keyMonzoClientID),
			ClientSecret:  v.GetString(keyMonzoClientSecret),
			AccountID:     v.GetString(keyMonzoAccountID),
			WebhookSecret: v.GetString(keyWebhookVerif),
		},
		Watchdog: WatchdogConfig{
			Interval:      v.GetDuration(keyWatchdogInterval),
			RetryInterval: v.GetDuration(keyWatchdogRetry),
		},
		EventWorkers: v.GetInt(keyEventWorkers),
	}

	if cfg.Port <= 0 {
		return Config{}, errors.Wrap(errors.ErrInvalidInput, "port must be positive, got %d", cfg.Port)
	}
	if cfg.Watchdog.Interval <= 0 {
		cfg.Watchdog.Interval = DefaultWatchdogInterval
	}
	if cfg.Watchdog.RetryInterval <= 0 {
		cfg.Watchdog.RetryInterval = DefaultWatchdogRetryInterval
	}
	if cfg.EventWorkers < 1 {
		cfg.EventWorkers = DefaultEventWorkers
	}
	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = "info"
		if cfg.Production() {
			cfg.LogLevel = "warn"
		}
	}

	return cfg, nil
}

// enabled treats any value as on except the usual spellings of off
func enabled(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}
