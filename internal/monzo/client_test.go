package monzo

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/baely/abd/internal/common/errors"
	"github.com/baely/abd/internal/common/logger"
)

// fakeMonzo is an httptest-backed stand-in for the Monzo API
type fakeMonzo struct {
	*httptest.Server

	mu       sync.Mutex
	handlers map[string]http.HandlerFunc
	calls    map[string]*atomic.Int32
	forms    map[string][]url.Values
}

func newFakeMonzo(t *testing.T) *fakeMonzo {
	t.Helper()

	f := &fakeMonzo{
		handlers: make(map[string]http.HandlerFunc),
		calls:    make(map[string]*atomic.Int32),
		forms:    make(map[string][]url.Values),
	}
	f.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Method + " " + r.URL.Path
		_ = r.ParseForm()

		f.mu.Lock()
		h, ok := f.handlers[key]
		counter := f.counter(key)
		f.forms[key] = append(f.forms[key], r.Form)
		f.mu.Unlock()

		counter.Add(1)
		if !ok {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.Close)
	return f
}

func (f *fakeMonzo) handle(method, path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[method+" "+path] = h
}

// counter must be called with mu held
func (f *fakeMonzo) counter(key string) *atomic.Int32 {
	c, ok := f.calls[key]
	if !ok {
		c = &atomic.Int32{}
		f.calls[key] = c
	}
	return c
}

func (f *fakeMonzo) count(method, path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int(f.counter(method + " " + path).Load())
}

func (f *fakeMonzo) formsFor(method, path string) []url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.forms[method+" "+path]
}

func jsonHandler(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

func tokenHandler(access, refresh string) http.HandlerFunc {
	return jsonHandler(http.StatusOK, fmt.Sprintf(
		`{"access_token":%q,"refresh_token":%q,"expires_in":21600,"token_type":"Bearer","user_id":"user_1"}`,
		access, refresh))
}

// sleepRecorder replaces the client's sleep so tests never wait
type sleepRecorder struct {
	mu    sync.Mutex
	waits []time.Duration
}

func (s *sleepRecorder) sleep(ctx context.Context, d time.Duration) error {
	s.mu.Lock()
	s.waits = append(s.waits, d)
	s.mu.Unlock()
	return ctx.Err()
}

func (s *sleepRecorder) recorded() []time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]time.Duration(nil), s.waits...)
}

func newTestClient(t *testing.T, f *fakeMonzo) (*Client, *sleepRecorder) {
	t.Helper()

	c := NewClient(Config{
		ClientID:      "oauth2client_1",
		ClientSecret:  "secret",
		Domain:        "https://abd.example.com/",
		WebhookSecret: "s3cret",
		BaseURL:       f.URL,
		Logger:        logger.Discard(),
	})
	rec := &sleepRecorder{}
	c.sleep = rec.sleep
	return c, rec
}

func withSession(c *Client, access, refresh string) {
	c.session.Store(&Session{
		AccessToken:  access,
		RefreshToken: refresh,
		AccountID:    "acc_1",
	})
}

func TestAuthorizationURL(t *testing.T) {
	f := newFakeMonzo(t)
	c, _ := newTestClient(t, f)

	raw := c.AuthorizationURL()
	u, err := url.Parse(raw)
	require.NoError(t, err)

	assert.Equal(t, "auth.monzo.com", u.Host)
	q := u.Query()
	assert.Equal(t, "oauth2client_1", q.Get("client_id"))
	assert.Equal(t, "https://abd.example.com/monzo/callback", q.Get("redirect_uri"))
	assert.Equal(t, "code", q.Get("response_type"))
	assert.Len(t, q.Get("state"), stateSize*2)
}

func TestAuthorizationURL_NewStateInvalidatesPrevious(t *testing.T) {
	f := newFakeMonzo(t)
	c, _ := newTestClient(t, f)

	first := stateOf(t, c.AuthorizationURL())
	second := stateOf(t, c.AuthorizationURL())
	require.NotEqual(t, first, second)

	assert.False(t, c.ValidateState(first), "superseded state must be rejected")
	assert.True(t, c.ValidateState(second))
	assert.False(t, c.ValidateState(second), "state is consumed on use")
}

func TestValidateState_NothingIssued(t *testing.T) {
	f := newFakeMonzo(t)
	c, _ := newTestClient(t, f)

	assert.False(t, c.ValidateState(""))
	assert.False(t, c.ValidateState("anything"))
}

func stateOf(t *testing.T, raw string) string {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u.Query().Get("state")
}

func TestExchangeCode(t *testing.T) {
	f := newFakeMonzo(t)
	f.handle(http.MethodPost, "/oauth2/token", tokenHandler("access_1", "refresh_1"))
	c, _ := newTestClient(t, f)

	_, ok := c.Session()
	require.False(t, ok)

	require.True(t, c.ExchangeCode(context.Background(), "code_1"))

	s, ok := c.Session()
	require.True(t, ok)
	assert.Equal(t, "access_1", s.AccessToken)
	assert.Equal(t, "refresh_1", s.RefreshToken)
	assert.Equal(t, "user_1", s.AccountID)
	assert.WithinDuration(t, time.Now().Add(6*time.Hour), s.Expiry, time.Minute)

	forms := f.formsFor(http.MethodPost, "/oauth2/token")
	require.Len(t, forms, 1)
	assert.Equal(t, "authorization_code", forms[0].Get("grant_type"))
	assert.Equal(t, "code_1", forms[0].Get("code"))
	assert.Equal(t, "oauth2client_1", forms[0].Get("client_id"))
	assert.Equal(t, "secret", forms[0].Get("client_secret"))
	assert.Equal(t, "https://abd.example.com/monzo/callback", forms[0].Get("redirect_uri"))
}

func TestExchangeCode_RateLimitedIsNotRetried(t *testing.T) {
	f := newFakeMonzo(t)
	f.handle(http.MethodPost, "/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "1")
		jsonHandler(http.StatusTooManyRequests, `{"code":"too_many_requests"}`)(w, r)
	})
	c, rec := newTestClient(t, f)

	assert.False(t, c.ExchangeCode(context.Background(), "code_1"))
	assert.Equal(t, 1, f.count(http.MethodPost, "/oauth2/token"))
	assert.Empty(t, rec.recorded())

	_, ok := c.Session()
	assert.False(t, ok)
}

func TestExchangeCode_RequiresStatusOK(t *testing.T) {
	f := newFakeMonzo(t)
	f.handle(http.MethodPost, "/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		body := `{"access_token":"access_1","refresh_token":"refresh_1","expires_in":21600,"token_type":"Bearer"}`
		jsonHandler(http.StatusCreated, body)(w, r)
	})
	c, _ := newTestClient(t, f)

	assert.False(t, c.ExchangeCode(context.Background(), "code_1"))
	_, ok := c.Session()
	assert.False(t, ok)

	withSession(c, "access_old", "refresh_old")
	assert.False(t, c.RefreshAccessToken(context.Background()))
	s, _ := c.Session()
	assert.Equal(t, "access_old", s.AccessToken)
}

func TestNewClient_WarnsWithoutAccountID(t *testing.T) {
	var buf bytes.Buffer
	NewClient(Config{Logger: logger.New(logger.WithOutput(&buf))})
	assert.Contains(t, buf.String(), "MONZO_ACCOUNT_ID is not set")

	buf.Reset()
	NewClient(Config{AccountID: "acc_1", Logger: logger.New(logger.WithOutput(&buf))})
	assert.Empty(t, buf.String())
}

func TestExchangeThenRefreshReplacesWholeSession(t *testing.T) {
	f := newFakeMonzo(t)
	generation := atomic.Int32{}
	f.handle(http.MethodPost, "/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		n := generation.Add(1)
		tokenHandler(fmt.Sprintf("access_%d", n), fmt.Sprintf("refresh_%d", n))(w, r)
	})
	c, _ := newTestClient(t, f)

	require.True(t, c.ExchangeCode(context.Background(), "code_1"))
	require.True(t, c.RefreshAccessToken(context.Background()))

	s, _ := c.Session()
	assert.Equal(t, "access_2", s.AccessToken)
	assert.Equal(t, "refresh_2", s.RefreshToken)

	forms := f.formsFor(http.MethodPost, "/oauth2/token")
	require.Len(t, forms, 2)
	assert.Equal(t, "refresh_token", forms[1].Get("grant_type"))
	assert.Equal(t, "refresh_1", forms[1].Get("refresh_token"))
}

func TestRefreshAccessToken_FailureKeepsSession(t *testing.T) {
	f := newFakeMonzo(t)
	f.handle(http.MethodPost, "/oauth2/token", jsonHandler(http.StatusBadRequest, `{"error":"invalid_grant"}`))
	c, _ := newTestClient(t, f)
	withSession(c, "access_old", "refresh_old")

	assert.False(t, c.RefreshAccessToken(context.Background()))

	s, ok := c.Session()
	require.True(t, ok)
	assert.Equal(t, "access_old", s.AccessToken)
	assert.Equal(t, "refresh_old", s.RefreshToken)
	assert.Equal(t, "acc_1", s.AccountID)
}

func TestRefreshAccessToken_NoSession(t *testing.T) {
	f := newFakeMonzo(t)
	c, _ := newTestClient(t, f)

	assert.False(t, c.RefreshAccessToken(context.Background()))
	assert.Equal(t, 0, f.count(http.MethodPost, "/oauth2/token"))
}

func TestRequest_AttachesBearer(t *testing.T) {
	f := newFakeMonzo(t)
	var auth atomic.Value
	f.handle(http.MethodGet, "/ping/whoami", func(w http.ResponseWriter, r *http.Request) {
		auth.Store(r.Header.Get("Authorization"))
		jsonHandler(http.StatusOK, `{"authenticated":true}`)(w, r)
	})
	c, _ := newTestClient(t, f)
	withSession(c, "access_1", "refresh_1")

	resp, err := c.Request(context.Background(), http.MethodGet, "ping/whoami", nil, true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, "Bearer access_1", auth.Load())
	assert.JSONEq(t, `{"authenticated":true}`, string(resp.Body))
}

func TestRequest_UnauthorizedRetriesOnceAfterRefresh(t *testing.T) {
	f := newFakeMonzo(t)
	f.handle(http.MethodGet, "/ping/whoami", jsonHandler(http.StatusUnauthorized, `{"code":"unauthorized"}`))
	f.handle(http.MethodPost, "/oauth2/token", tokenHandler("access_2", "refresh_2"))
	c, _ := newTestClient(t, f)
	withSession(c, "access_1", "refresh_1")

	resp, err := c.Request(context.Background(), http.MethodGet, "ping/whoami", nil, true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, 2, f.count(http.MethodGet, "/ping/whoami"))
	assert.Equal(t, 1, f.count(http.MethodPost, "/oauth2/token"))
}

func TestRequest_UnauthorizedThenSuccessUsesNewToken(t *testing.T) {
	f := newFakeMonzo(t)
	f.handle(http.MethodGet, "/ping/whoami", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer access_2" {
			jsonHandler(http.StatusUnauthorized, `{}`)(w, r)
			return
		}
		jsonHandler(http.StatusOK, `{"authenticated":true}`)(w, r)
	})
	f.handle(http.MethodPost, "/oauth2/token", tokenHandler("access_2", "refresh_2"))
	c, _ := newTestClient(t, f)
	withSession(c, "access_1", "refresh_1")

	assert.True(t, c.TestAuthentication(context.Background()))
	assert.Equal(t, 2, f.count(http.MethodGet, "/ping/whoami"))
}

func TestRequest_UnauthenticatedCallIsNotRefreshed(t *testing.T) {
	f := newFakeMonzo(t)
	f.handle(http.MethodGet, "/ping/whoami", jsonHandler(http.StatusUnauthorized, `{}`))
	c, _ := newTestClient(t, f)
	withSession(c, "access_1", "refresh_1")

	resp, err := c.Request(context.Background(), http.MethodGet, "ping/whoami", nil, false)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, resp.Status)
	assert.Equal(t, 1, f.count(http.MethodGet, "/ping/whoami"))
	assert.Equal(t, 0, f.count(http.MethodPost, "/oauth2/token"))
}

func TestRequest_RateLimitRetriesUntilClear(t *testing.T) {
	f := newFakeMonzo(t)
	remaining := atomic.Int32{}
	remaining.Store(3)
	f.handle(http.MethodGet, "/pots", func(w http.ResponseWriter, r *http.Request) {
		if remaining.Add(-1) >= 0 {
			w.Header().Set("Retry-After", "2")
			jsonHandler(http.StatusTooManyRequests, `{}`)(w, r)
			return
		}
		jsonHandler(http.StatusOK, `{"pots":[]}`)(w, r)
	})
	c, rec := newTestClient(t, f)
	withSession(c, "access_1", "refresh_1")

	resp, err := c.Request(context.Background(), http.MethodGet, "pots", nil, true)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.Status)
	assert.Equal(t, 4, f.count(http.MethodGet, "/pots"))
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second, 2 * time.Second}, rec.recorded())
}

func TestRequest_RateLimitDefaultsToFiveSeconds(t *testing.T) {
	f := newFakeMonzo(t)
	limited := atomic.Bool{}
	f.handle(http.MethodGet, "/ping/whoami", func(w http.ResponseWriter, r *http.Request) {
		if limited.CompareAndSwap(false, true) {
			jsonHandler(http.StatusTooManyRequests, `{}`)(w, r)
			return
		}
		jsonHandler(http.StatusOK, `{}`)(w, r)
	})
	c, rec := newTestClient(t, f)
	withSession(c, "access_1", "refresh_1")

	assert.True(t, c.TestAuthentication(context.Background()))
	assert.Equal(t, []time.Duration{5 * time.Second}, rec.recorded())
}

func TestRequest_RateLimitStopsWhenContextEnds(t *testing.T) {
	f := newFakeMonzo(t)
	f.handle(http.MethodGet, "/ping/whoami", jsonHandler(http.StatusTooManyRequests, `{}`))
	c, _ := newTestClient(t, f)
	withSession(c, "access_1", "refresh_1")
	c.sleep = func(context.Context, time.Duration) error { return context.Canceled }

	resp, err := c.Request(context.Background(), http.MethodGet, "ping/whoami", nil, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, http.StatusTooManyRequests, resp.Status)
	assert.Equal(t, 1, f.count(http.MethodGet, "/ping/whoami"))
}

func TestRequest_ForbiddenIsNotRetried(t *testing.T) {
	f := newFakeMonzo(t)
	f.handle(http.MethodGet, "/webhooks", jsonHandler(http.StatusForbidden, `{"code":"forbidden.insufficient_permissions"}`))
	c, _ := newTestClient(t, f)
	withSession(c, "access_1", "refresh_1")

	resp, err := c.Request(context.Background(), http.MethodGet, "webhooks", nil, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrForbidden))
	assert.Equal(t, http.StatusForbidden, resp.Status)
	assert.Equal(t, 1, f.count(http.MethodGet, "/webhooks"))
	assert.Equal(t, 0, f.count(http.MethodPost, "/oauth2/token"))
}

func TestRequest_TransportFault(t *testing.T) {
	f := newFakeMonzo(t)
	c, _ := newTestClient(t, f)
	withSession(c, "access_1", "refresh_1")
	f.Close()

	resp, err := c.Request(context.Background(), http.MethodGet, "ping/whoami", nil, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServer))
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.False(t, c.TestAuthentication(context.Background()))
}

func TestRequest_MalformedBody(t *testing.T) {
	f := newFakeMonzo(t)
	f.handle(http.MethodGet, "/ping/whoami", jsonHandler(http.StatusOK, `<html>oops`))
	c, _ := newTestClient(t, f)
	withSession(c, "access_1", "refresh_1")

	resp, err := c.Request(context.Background(), http.MethodGet, "ping/whoami", nil, true)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrServer))
	assert.Equal(t, http.StatusInternalServerError, resp.Status)
	assert.Equal(t, 1, f.count(http.MethodGet, "/ping/whoami"))
}

func TestRetryAfter(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   time.Duration
	}{
		{name: "absent", header: "", want: 5 * time.Second},
		{name: "whole seconds", header: "3", want: 3 * time.Second},
		{name: "fractional", header: "1.5", want: 5 * time.Second},
		{name: "garbage", header: "soon", want: 5 * time.Second},
		{name: "zero", header: "0", want: 5 * time.Second},
		{name: "negative", header: "-3", want: 5 * time.Second},
		{name: "infinity", header: "Inf", want: 5 * time.Second},
		{name: "not a number", header: "NaN", want: 5 * time.Second},
		{name: "exponent", header: "1e300", want: 5 * time.Second},
		{name: "tiny fraction", header: "0.0000000001", want: 5 * time.Second},
		{name: "http date", header: "Wed, 21 Oct 2015 07:28:00 GMT", want: 5 * time.Second},
		{name: "capped", header: "86400", want: time.Hour},
		{name: "overflowing", header: "99999999999999999999", want: 5 * time.Second},
		{name: "huge but parseable", header: "9223372036", want: time.Hour},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := http.Header{}
			if tt.header != "" {
				h.Set("Retry-After", tt.header)
			}
			assert.Equal(t, tt.want, retryAfter(h))
		})
	}
}

func TestConcurrentRefreshNeverTearsSession(t *testing.T) {
	f := newFakeMonzo(t)
	generation := atomic.Int32{}
	f.handle(http.MethodPost, "/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		n := generation.Add(1)
		tokenHandler(fmt.Sprintf("access_%d", n), fmt.Sprintf("refresh_%d", n))(w, r)
	})
	c, _ := newTestClient(t, f)
	withSession(c, "access_0", "refresh_0")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.RefreshAccessToken(context.Background())
		}()
	}
	wg.Wait()

	s, _ := c.Session()
	var n int
	_, err := fmt.Sscanf(s.AccessToken, "access_%d", &n)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("refresh_%d", n), s.RefreshToken)
}
