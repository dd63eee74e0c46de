package http

import (
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/baely/abd/internal/common/errors"
	"github.com/baely/abd/internal/common/logger"
)

// RateLimitConfig defines the rate limiting parameters
type RateLimitConfig struct {
	// RequestsPerWindow is the number of requests allowed in the window
	RequestsPerWindow int
	// Window is the time window for rate limiting
	Window time.Duration
	// Burst allows for temporary bursts above the rate
	Burst int
}

// StrictLimit suits endpoints that accept credentials, such as OAuth callbacks
var StrictLimit = RateLimitConfig{
	RequestsPerWindow: 5,
	Window:            time.Minute,
	Burst:             5,
}

// ClientIP returns the request's remote IP. chi's RealIP middleware has
// already folded forwarding headers into RemoteAddr.
func ClientIP(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

const cleanupInterval = 5 * time.Minute

type rateLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex // guards lastCleanup
	lastCleanup time.Time
	now         func() time.Time
}

func newRateLimiter(cfg RateLimitConfig) *rateLimiter {
	return &rateLimiter{
		rate:        rate.Limit(float64(cfg.RequestsPerWindow) / cfg.Window.Seconds()),
		burst:       cfg.Burst,
		lastCleanup: time.Now(),
		now:         time.Now,
	}
}

func (rl *rateLimiter) limiter(key string) *rate.Limiter {
	rl.maybeCleanup()

	if l, ok := rl.limiters.Load(key); ok {
		return l.(*rate.Limiter)
	}
	l, _ := rl.limiters.LoadOrStore(key, rate.NewLimiter(rl.rate, rl.burst))
	return l.(*rate.Limiter)
}

// maybeCleanup drops limiters whose bucket has refilled, at most once per
// cleanupInterval. A full bucket behaves exactly like a fresh limiter.
func (rl *rateLimiter) maybeCleanup() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastCleanup) < cleanupInterval {
		return
	}
	rl.lastCleanup = now

	rl.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).TokensAt(now) >= float64(rl.burst) {
			rl.limiters.Delete(key)
		}
		return true
	})
}

// RateLimit limits requests per client IP, answering 429 with Retry-After
// once the bucket is empty
func RateLimit(cfg RateLimitConfig) func(http.Handler) http.Handler {
	rl := newRateLimiter(cfg)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			l := rl.limiter(ClientIP(r))
			if l.Allow() {
				next.ServeHTTP(w, r)
				return
			}

			reservation := l.Reserve()
			delay := reservation.Delay()
			reservation.Cancel()

			logger.FromContext(r.Context()).Warn("Rate limit exceeded", "ip", ClientIP(r))
			w.Header().Set("Retry-After", strconv.Itoa(max(int(delay.Seconds()), 1)))
			Error(w, errors.New("rate limit exceeded"), http.StatusTooManyRequests)
		})
	}
}
