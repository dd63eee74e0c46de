package bridge

import (
	"encoding/json"
	"net/http"

	"github.com/slack-go/slack/slackevents"

	"github.com/baely/abd/internal/common/errors"
	commonHttp "github.com/baely/abd/internal/common/http"
	"github.com/baely/abd/internal/common/logger"
	"github.com/baely/abd/internal/slack"
)

// handleCallback completes the OAuth flow started by the watchdog's alert
func (s *Service) handleCallback(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())
	q := r.URL.Query()

	if !s.monzo.ValidateState(q.Get("state")) {
		log.Warn("OAuth callback with invalid state")
		commonHttp.Error(w, errors.ErrInvalidState, http.StatusBadRequest)
		return
	}

	code := q.Get("code")
	if code == "" {
		commonHttp.Error(w, errors.Wrap(errors.ErrInvalidInput, "missing code"), http.StatusBadRequest)
		return
	}

	if !s.monzo.ExchangeCode(r.Context(), code) {
		commonHttp.Error(w, errors.New("failed to exchange code"), http.StatusBadGateway)
		return
	}

	log.Info("Monzo authorised")
	commonHttp.Message(w, "Authorised")
}

type healthResponse struct {
	Healthy bool `json:"healthy"`
	Monzo   bool `json:"monzo"`
	Slack   bool `json:"slack"`
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	res := healthResponse{
		Monzo: s.monzo.TestAuthentication(r.Context()),
		Slack: s.slack.Healthy(r.Context()),
	}
	res.Healthy = res.Monzo && res.Slack

	commonHttp.JSON(w, http.StatusOK, res)
}

// handleSlackEvents answers Slack's Events API. Only the URL verification
// handshake needs a real answer; other callbacks are acknowledged.
func (s *Service) handleSlackEvents(w http.ResponseWriter, r *http.Request) {
	log := logger.FromContext(r.Context())

	body, err := slack.VerifyRequest(r, s.signingSecret)
	if err != nil {
		log.Warn("Rejected Slack request", "error", err)
		commonHttp.HandleError(w, err)
		return
	}

	ev, err := slackevents.ParseEvent(json.RawMessage(body), slackevents.OptionNoVerifyToken())
	if err != nil {
		commonHttp.Error(w, errors.Wrap(errors.ErrInvalidInput, "parse slack event: %v", err), http.StatusBadRequest)
		return
	}

	switch ev.Type {
	case slackevents.URLVerification:
		var challenge slackevents.ChallengeResponse
		if err := json.Unmarshal(body, &challenge); err != nil {
			commonHttp.Error(w, errors.Wrap(errors.ErrInvalidInput, "parse challenge: %v", err), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte(challenge.Challenge))
	default:
		log.Info("Slack event acknowledged", "type", ev.Type, "inner_type", ev.InnerEvent.Type)
		commonHttp.Success(w, map[string]string{"type": ev.Type})
	}
}
