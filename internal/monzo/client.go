package monzo

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/oauth2"

	"github.com/baely/abd/internal/common/errors"
)

const (
	// DefaultBaseURL is the Monzo API root
	DefaultBaseURL = "https://api.monzo.com"

	// DefaultAuthURL is where the account owner grants access
	DefaultAuthURL = "https://auth.monzo.com/"

	defaultRetryAfter   = 5 * time.Second
	maxRetryAfter       = time.Hour
	webhookRetryBackoff = 5 * time.Second
)

// Config contains configuration for the Client
type Config struct {
	ClientID      string
	ClientSecret  string
	Domain        string // public base URL of this deployment
	WebhookSecret string

	// AccountID pins the account to operate on. When empty the account named
	// by the token response is used.
	AccountID string

	BaseURL    string
	AuthURL    string
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Client handles authenticated API interactions with Monzo for one account.
// It owns the OAuth state and the token session; only ExchangeCode and
// RefreshAccessToken replace the session.
type Client struct {
	baseURL       string
	domain        string
	webhookSecret string
	accountID     string
	oauth         *oauth2.Config
	httpClient    *http.Client
	tokenClient   *http.Client
	logger        *slog.Logger
	sleep         func(context.Context, time.Duration) error

	stateMu sync.Mutex
	state   string

	session atomic.Pointer[Session]
}

// NewClient creates a new client for the Monzo API
func NewClient(cfg Config) *Client {
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	authURL := cfg.AuthURL
	if authURL == "" {
		authURL = DefaultAuthURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{
			Timeout: 10 * time.Second,
		}
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	domain := strings.TrimRight(cfg.Domain, "/")
	if cfg.AccountID == "" {
		log.Warn("MONZO_ACCOUNT_ID is not set, falling back to the id named by the token response")
	}

	return &Client{
		baseURL:       baseURL,
		domain:        domain,
		webhookSecret: cfg.WebhookSecret,
		accountID:     cfg.AccountID,
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  domain + "/monzo/callback",
			Endpoint: oauth2.Endpoint{
				AuthURL:   authURL,
				TokenURL:  baseURL + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		httpClient:  httpClient,
		tokenClient: newTokenClient(httpClient),
		logger:      log,
		sleep:       sleepContext,
	}
}

// RedirectURI is the OAuth callback registered with Monzo
func (c *Client) RedirectURI() string {
	return c.oauth.RedirectURL
}

// WebhookURL is the delivery URL this deployment registers. The shared
// secret is embedded so foreign or stale registrations never match.
func (c *Client) WebhookURL() string {
	return fmt.Sprintf("%s/monzo/webhook?verif=%s", c.domain, url.QueryEscape(c.webhookSecret))
}

// Session returns a snapshot of the current token set
func (c *Client) Session() (Session, bool) {
	s := c.session.Load()
	if s == nil {
		return Session{}, false
	}
	return *s, true
}

// Response is the raw outcome of an API call
type Response struct {
	Status int
	Header http.Header
	Body   json.RawMessage
}

// Decode unmarshals the response body into v
func (r Response) Decode(v interface{}) error {
	if len(r.Body) == 0 {
		return errors.Wrap(errors.ErrServer, "empty response body")
	}
	return json.Unmarshal(r.Body, v)
}

// Request performs an API call against the Monzo API.
//
// A 401 triggers one token refresh and exactly one re-issue. A 429 sleeps for
// the provider's Retry-After (default 5s) and re-issues for as long as the
// provider keeps limiting. A 403 returns ErrForbidden. Transport faults and
// malformed bodies return ErrServer with a 500 status. Anything else is
// returned verbatim with a nil error.
func (c *Client) Request(ctx context.Context, method, path string, payload url.Values, requiresAuth bool) (Response, error) {
	refreshed := false
	for {
		resp, err := c.do(ctx, method, path, payload, requiresAuth)
		if err != nil {
			c.logger.Error("Monzo request failed", "method", method, "path", path, "error", err)
			return Response{Status: http.StatusInternalServerError}, errors.Wrap(errors.ErrServer, "%s %s", method, path)
		}

		switch resp.Status {
		case http.StatusUnauthorized:
			if !requiresAuth || refreshed {
				return resp, nil
			}
			refreshed = true
			if !c.RefreshAccessToken(ctx) {
				c.logger.Warn("Token refresh failed, retrying with current token", "path", path)
			}
			continue

		case http.StatusTooManyRequests:
			wait := retryAfter(resp.Header)
			c.logger.Warn("Rate limited by Monzo", "path", path, "retry_after", wait.String())
			if err := c.sleep(ctx, wait); err != nil {
				return resp, errors.Wrap(err, "waiting out rate limit")
			}
			continue

		case http.StatusForbidden:
			c.logger.Warn("Monzo refused request", "method", method, "path", path)
			return resp, errors.Wrap(errors.ErrForbidden, "%s %s", method, path)
		}

		if len(bytes.TrimSpace(resp.Body)) > 0 && !json.Valid(resp.Body) {
			c.logger.Error("Malformed Monzo response", "method", method, "path", path, "status", resp.Status)
			return Response{Status: http.StatusInternalServerError}, errors.Wrap(errors.ErrServer, "malformed body from %s %s", method, path)
		}

		return resp, nil
	}
}

// do issues a single HTTP request
func (c *Client) do(ctx context.Context, method, path string, payload url.Values, requiresAuth bool) (Response, error) {
	uri := fmt.Sprintf("%s/%s", c.baseURL, strings.TrimPrefix(path, "/"))

	var body io.Reader
	if len(payload) > 0 {
		switch method {
		case http.MethodGet, http.MethodDelete:
			uri = uri + "?" + payload.Encode()
		default:
			body = strings.NewReader(payload.Encode())
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, uri, body)
	if err != nil {
		return Response{}, errors.Wrap(err, "failed to create request")
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if requiresAuth {
		if s := c.session.Load(); s != nil {
			req.Header.Set("Authorization", "Bearer "+s.AccessToken)
		}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Response{}, errors.Wrap(err, "failed to execute request")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, errors.Wrap(err, "failed to read response")
	}

	return Response{
		Status: resp.StatusCode,
		Header: resp.Header,
		Body:   raw,
	}, nil
}

// retryAfter reads the Retry-After header as whole seconds, capped at
// maxRetryAfter. Anything else means defaultRetryAfter.
func retryAfter(h http.Header) time.Duration {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return defaultRetryAfter
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return defaultRetryAfter
	}
	if secs > int(maxRetryAfter/time.Second) {
		return maxRetryAfter
	}
	return time.Duration(secs) * time.Second
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
