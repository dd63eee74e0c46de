package bridge

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/baely/abd/internal/common/errors"
	commonHttp "github.com/baely/abd/internal/common/http"
	"github.com/baely/abd/internal/common/logger"
	"github.com/baely/abd/internal/monzo"
	"github.com/baely/abd/internal/notification"
	"github.com/baely/abd/internal/slack"
)

const maxWebhookBody = 1 << 20

var errQueueClosed = errors.New("event queue closed")

// event is a verified webhook delivery waiting for a worker
type event struct {
	id      string
	payload monzo.WebhookEvent
}

// handleWebhook verifies and queues a Monzo webhook delivery. Monzo retries
// non-2xx responses, so every outcome is answered with 200.
func (s *Service) handleWebhook(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		log.Error("Failed to read request body", "error", err)
		commonHttp.Acknowledge(w, errors.Wrap(err, "failed to read request body"))
		return
	}

	verif := r.URL.Query().Get("verif")
	if !s.verify(verif) {
		log.Warn("Invalid webhook verification code")
		s.heartbeat(r.Context(), log, "Invalid verification code", fmt.Sprintf("Code: `%s`\n```%s```", verif, body))
		commonHttp.Acknowledge(w, errors.Wrap(errors.ErrUnauthorized, "invalid verification code"))
		return
	}

	var payload monzo.WebhookEvent
	if err := json.Unmarshal(body, &payload); err != nil {
		log.Warn("Unreadable webhook payload", "error", err)
		s.heartbeat(r.Context(), log, "Unreadable webhook payload", fmt.Sprintf("```%s```", body))
		commonHttp.Acknowledge(w, errors.Wrap(errors.ErrInvalidInput, "invalid webhook payload"))
		return
	}

	ev := event{
		id:      uuid.NewString(),
		payload: payload,
	}
	if err := s.enqueue(r.Context(), ev); err != nil {
		log.Error("Failed to queue webhook event", "event_id", ev.id, "error", err)
		commonHttp.Acknowledge(w, err)
		return
	}

	log.Info("Webhook event queued", "event_id", ev.id, "type", payload.Type)
	commonHttp.Message(w, "Request successfully received")
}

func (s *Service) verify(verif string) bool {
	if s.webhookSecret == "" || verif == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(verif), []byte(s.webhookSecret)) == 1
}

// Start launches the event workers. They run until Close drains the queue;
// ctx is used for the calls they make.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started || s.closed {
		return
	}
	s.started = true

	s.logger.Info("Starting webhook event workers", "workers", s.workers)
	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			for ev := range s.events {
				s.processEvent(ctx, ev)
			}
		}()
	}
}

// Close stops accepting events and waits for queued ones to finish
func (s *Service) Close() {
	s.mu.Lock()
	if !s.closed {
		s.closed = true
		close(s.events)
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Service) enqueue(ctx context.Context, ev event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errQueueClosed
	}

	select {
	case s.events <- ev:
		return nil
	case <-ctx.Done():
		return errors.Wrap(ctx.Err(), "queue event %s", ev.id)
	}
}

// processEvent relays one transaction to Slack and mirrors it to the
// operator heartbeat
func (s *Service) processEvent(ctx context.Context, ev event) {
	log := s.logger.With("event_id", ev.id, "type", ev.payload.Type)
	defer func() {
		if r := recover(); r != nil {
			log.Error("Panic while processing webhook event", "error", errors.Recovered(r))
		}
	}()

	tx := ev.payload.Data
	dump := fmt.Sprintf("```%s```", tx)

	if ev.payload.Type != monzo.EventTransactionCreated {
		log.Info("Ignoring unhandled webhook type")
		s.heartbeat(ctx, log, fmt.Sprintf("Unhandled webhook type: %s", ev.payload.Type), dump)
		return
	}

	if notice, skip := notification.Screen(tx); skip {
		log.Info("Transaction not published", "transaction_id", tx.ID, "reason", notice)
		s.heartbeat(ctx, log, notice, dump)
		return
	}

	n := s.classifier.Classify(ctx, tx)
	if _, err := s.slack.Post(ctx, slack.Message{
		Channel:  s.logChannel,
		Text:     n.Sentence,
		Username: n.Name,
		IconURL:  n.Icon,
	}); err != nil {
		log.Error("Failed to post transaction", "transaction_id", tx.ID, "error", err)
	}
	s.heartbeat(ctx, log, n.Sentence, dump)

	log.Info("Transaction relayed", "transaction_id", tx.ID, "scheme", n.Scheme)
}

func (s *Service) heartbeat(ctx context.Context, log *slog.Logger, text string, details ...string) {
	if err := s.slack.Heartbeat(ctx, text, details...); err != nil {
		log.Warn("Failed to send heartbeat", "error", err)
	}
}
