package monzo

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"

	"golang.org/x/oauth2"

	"github.com/baely/abd/internal/common/errors"
)

const stateSize = 32

// AuthorizationURL issues a fresh OAuth state and returns the Monzo consent
// URL carrying it. Any previously issued URL stops being accepted.
func (c *Client) AuthorizationURL() string {
	state := newState()

	c.stateMu.Lock()
	c.state = state
	c.stateMu.Unlock()

	return c.oauth.AuthCodeURL(state)
}

// ValidateState reports whether state matches the most recently issued one.
// A matching state is consumed.
func (c *Client) ValidateState(state string) bool {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	if c.state == "" || state == "" {
		return false
	}
	if subtle.ConstantTimeCompare([]byte(c.state), []byte(state)) != 1 {
		return false
	}
	c.state = ""
	return true
}

// ExchangeCode trades an authorization code for a token set. Failures,
// including rate limiting, are not retried so the callback never blocks.
func (c *Client) ExchangeCode(ctx context.Context, code string) bool {
	tok, err := c.oauth.Exchange(c.oauthContext(ctx), code)
	if err != nil {
		c.logger.Error("Failed to exchange authorization code", "error", err)
		return false
	}

	c.storeToken(tok)
	c.logger.Info("Monzo session established", "expiry", tok.Expiry)
	return true
}

// RefreshAccessToken replaces the session using the current refresh token.
// On failure the previous session stays in place.
func (c *Client) RefreshAccessToken(ctx context.Context) bool {
	current := c.session.Load()
	if current == nil || current.RefreshToken == "" {
		c.logger.Warn("No refresh token available")
		return false
	}

	ts := c.oauth.TokenSource(c.oauthContext(ctx), &oauth2.Token{
		RefreshToken: current.RefreshToken,
	})
	tok, err := ts.Token()
	if err != nil {
		c.logger.Error("Failed to refresh access token", "error", err)
		return false
	}

	c.storeToken(tok)
	c.logger.Info("Monzo access token refreshed", "expiry", tok.Expiry)
	return true
}

// storeToken swaps in a complete new session
func (c *Client) storeToken(tok *oauth2.Token) {
	accountID := c.accountID
	if accountID == "" {
		accountID = extraString(tok, "account_id", "user_id")
	}
	if accountID == "" {
		if prev := c.session.Load(); prev != nil {
			accountID = prev.AccountID
		}
	}

	c.session.Store(&Session{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		Expiry:       tok.Expiry,
		AccountID:    accountID,
	})
}

func (c *Client) oauthContext(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, c.tokenClient)
}

// tokenTransport only lets a 200 token response through to oauth2, which
// would otherwise accept any 2xx.
type tokenTransport struct {
	base http.RoundTripper
}

func (t tokenTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, errors.Wrap(errors.ErrServer, "token endpoint returned %d", resp.StatusCode)
	}
	return resp, nil
}

func newTokenClient(hc *http.Client) *http.Client {
	base := hc.Transport
	if base == nil {
		base = http.DefaultTransport
	}
	tc := *hc
	tc.Transport = tokenTransport{base: base}
	return &tc
}

func extraString(tok *oauth2.Token, keys ...string) string {
	for _, key := range keys {
		if v, ok := tok.Extra(key).(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func newState() string {
	buf := make([]byte, stateSize)
	if _, err := rand.Read(buf); err != nil {
		errors.Must(errors.Wrap(err, "failed to generate oauth state"))
	}
	return hex.EncodeToString(buf)
}
