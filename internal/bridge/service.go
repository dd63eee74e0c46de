// Package bridge receives Monzo webhooks and relays them to Slack
package bridge

import (
	"context"
	"log/slog"
	"sync"

	"github.com/go-chi/chi/v5"

	commonHttp "github.com/baely/abd/internal/common/http"
	"github.com/baely/abd/internal/monzo"
	"github.com/baely/abd/internal/notification"
	"github.com/baely/abd/internal/slack"
)

const (
	defaultWorkers   = 4
	defaultQueueSize = 100
)

// Monzo is the part of the Monzo client the HTTP boundary uses
type Monzo interface {
	ValidateState(state string) bool
	ExchangeCode(ctx context.Context, code string) bool
	TestAuthentication(ctx context.Context) bool
}

// Messenger delivers messages to Slack
type Messenger interface {
	Post(ctx context.Context, msg slack.Message) (string, error)
	Heartbeat(ctx context.Context, text string, details ...string) error
	Healthy(ctx context.Context) bool
}

// Classifier renders a transaction into a notification
type Classifier interface {
	Classify(ctx context.Context, tx monzo.Transaction) notification.Notification
}

// Config contains configuration for the Service
type Config struct {
	Monzo      Monzo
	Slack      Messenger
	Classifier Classifier

	WebhookSecret string // expected value of the verif query parameter
	SigningSecret string // Slack request signing secret
	LogChannel    string // where transaction notifications go

	Workers   int
	QueueSize int
	Logger    *slog.Logger
}

// Service is the HTTP boundary of the bridge. Webhook deliveries are
// acknowledged immediately and processed by a pool of workers.
type Service struct {
	monzo         Monzo
	slack         Messenger
	classifier    Classifier
	webhookSecret string
	signingSecret string
	logChannel    string
	workers       int
	logger        *slog.Logger

	router chi.Router

	mu      sync.RWMutex // guards started, closed and sends on events
	started bool
	closed  bool
	events  chan event
	wg      sync.WaitGroup
}

// New creates a new Service. Call Start to begin processing queued events.
func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	workers := cfg.Workers
	if workers < 1 {
		workers = defaultWorkers
	}
	queueSize := cfg.QueueSize
	if queueSize < 1 {
		queueSize = defaultQueueSize
	}

	s := &Service{
		monzo:         cfg.Monzo,
		slack:         cfg.Slack,
		classifier:    cfg.Classifier,
		webhookSecret: cfg.WebhookSecret,
		signingSecret: cfg.SigningSecret,
		logChannel:    cfg.LogChannel,
		workers:       workers,
		logger:        log,
		events:        make(chan event, queueSize),
	}

	r := commonHttp.NewRouter(log)

	r.Post("/monzo/webhook", s.handleWebhook)
	r.Post("/webhook", s.handleWebhook)
	r.With(commonHttp.RateLimit(commonHttp.StrictLimit)).Get("/monzo/callback", s.handleCallback)
	r.Get("/health", s.handleHealth)
	r.Post("/slack/events", s.handleSlackEvents)

	s.router = r
	return s
}

// Chi returns the router for this service
func (s *Service) Chi() chi.Router {
	return s.router
}
