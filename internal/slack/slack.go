// Package slack posts bridge notifications and operator heartbeats to Slack
package slack

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	goslack "github.com/slack-go/slack"

	"github.com/baely/abd/internal/common/errors"
)

// Message is a single chat.postMessage call
type Message struct {
	Channel  string
	Text     string
	Username string // overrides the bot's display name when set
	IconURL  string
	ThreadTS string // reply in this thread when set
}

// Config contains configuration for the Client
type Config struct {
	Token string

	// HeartbeatChannel receives operator heartbeats. Heartbeats are dropped
	// unless HeartbeatEnabled is set.
	HeartbeatChannel string
	HeartbeatEnabled bool

	APIURL     string // must end with a slash; defaults to Slack's API
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client wraps the Slack Web API for the handful of calls the bridge makes
type Client struct {
	api              *goslack.Client
	heartbeatChannel string
	heartbeatEnabled bool
	logger           *slog.Logger
}

// NewClient creates a new Slack client
func NewClient(cfg Config) *Client {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	var opts []goslack.Option
	if cfg.APIURL != "" {
		apiURL := cfg.APIURL
		if !strings.HasSuffix(apiURL, "/") {
			apiURL += "/"
		}
		opts = append(opts, goslack.OptionAPIURL(apiURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, goslack.OptionHTTPClient(cfg.HTTPClient))
	}

	return &Client{
		api:              goslack.New(cfg.Token, opts...),
		heartbeatChannel: cfg.HeartbeatChannel,
		heartbeatEnabled: cfg.HeartbeatEnabled && cfg.HeartbeatChannel != "",
		logger:           log,
	}
}

// Post sends a message and returns its timestamp, which identifies the
// message for thread replies
func (c *Client) Post(ctx context.Context, msg Message) (string, error) {
	if msg.Channel == "" {
		return "", errors.Wrap(errors.ErrInvalidInput, "slack message has no channel")
	}

	opts := []goslack.MsgOption{
		goslack.MsgOptionText(msg.Text, false),
	}
	if msg.Username != "" {
		opts = append(opts, goslack.MsgOptionUsername(msg.Username))
	}
	if msg.IconURL != "" {
		opts = append(opts, goslack.MsgOptionIconURL(msg.IconURL))
	}
	if msg.ThreadTS != "" {
		opts = append(opts, goslack.MsgOptionTS(msg.ThreadTS))
	}

	_, ts, err := c.api.PostMessageContext(ctx, msg.Channel, opts...)
	if err != nil {
		c.logger.Error("Failed to post Slack message", "channel", msg.Channel, "error", err)
		return "", errors.Wrap(err, "post message to %s", msg.Channel)
	}
	return ts, nil
}

// Healthy reports whether the bot token is accepted
func (c *Client) Healthy(ctx context.Context) bool {
	if _, err := c.api.AuthTestContext(ctx); err != nil {
		c.logger.Warn("Slack auth test failed", "error", err)
		return false
	}
	return true
}
