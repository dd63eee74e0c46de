package bridge

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/baely/abd/internal/common/errors"
	"github.com/baely/abd/internal/slack"
)

const (
	authFailedFormat = ":x: Monzo authentication failed. Please re-authenticate <%s|here>."
	authRecovered    = ":white_check_mark: Authenticated successfully"
)

// Authenticator is the part of the Monzo client the watchdog drives
type Authenticator interface {
	AuthorizationURL() string
	TestAuthentication(ctx context.Context) bool
	CheckWebhookRegistration(ctx context.Context) bool
}

// Poster sends a Slack message
type Poster interface {
	Post(ctx context.Context, msg slack.Message) (string, error)
}

// WatchdogConfig contains configuration for the Watchdog
type WatchdogConfig struct {
	Monzo Authenticator
	Slack Poster

	UserID        string // operator receiving direct messages
	Interval      time.Duration
	RetryInterval time.Duration
	Logger        *slog.Logger
}

// Watchdog periodically checks the Monzo session and webhook registration,
// asking the operator to re-authenticate when the session is gone
type Watchdog struct {
	monzo         Authenticator
	slack         Poster
	userID        string
	interval      time.Duration
	retryInterval time.Duration
	logger        *slog.Logger
	wait          func(context.Context, time.Duration) error

	failing bool
}

// NewWatchdog creates a new Watchdog
func NewWatchdog(cfg WatchdogConfig) *Watchdog {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = 20 * time.Minute
	}
	retry := cfg.RetryInterval
	if retry <= 0 {
		retry = 100 * time.Second
	}

	return &Watchdog{
		monzo:         cfg.Monzo,
		slack:         cfg.Slack,
		userID:        cfg.UserID,
		interval:      interval,
		retryInterval: retry,
		logger:        log,
		wait:          wait,
	}
}

// Run checks immediately and then after every pause until ctx ends
func (w *Watchdog) Run(ctx context.Context) error {
	w.logger.Info("Starting watchdog", "interval", w.interval.String(), "retry_interval", w.retryInterval.String())
	for {
		next := w.check(ctx)
		if err := w.wait(ctx, next); err != nil {
			w.logger.Info("Watchdog stopped")
			return err
		}
	}
}

// check runs one iteration and returns how long to pause before the next
func (w *Watchdog) check(ctx context.Context) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			err := errors.Recovered(r)
			w.logger.Error("Watchdog check panicked", "error", err)
			w.notify(ctx, fmt.Sprintf(":warning: Watchdog check failed: %v", err))
			next = w.retryInterval
		}
	}()

	if !w.monzo.TestAuthentication(ctx) {
		w.logger.Warn("Monzo authentication failed")
		w.failing = true
		w.notify(ctx, fmt.Sprintf(authFailedFormat, w.monzo.AuthorizationURL()))
		return w.retryInterval
	}

	// Registration retries until it succeeds, so it gets at most one polling interval
	checkCtx, cancel := context.WithTimeout(ctx, w.interval)
	defer cancel()

	registered := w.monzo.CheckWebhookRegistration(checkCtx)
	if !registered {
		w.logger.Warn("Webhook registration could not be confirmed")
	}

	if w.failing && registered {
		w.failing = false
		w.logger.Info("Monzo authentication recovered")
		w.notify(ctx, authRecovered)
	}
	return w.interval
}

func (w *Watchdog) notify(ctx context.Context, text string) {
	if _, err := w.slack.Post(ctx, slack.Message{
		Channel: w.userID,
		Text:    text,
	}); err != nil {
		w.logger.Error("Failed to notify operator", "error", err)
	}
}

func wait(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
