package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"

	"github.com/vetcare/vetcare/internal/platform/auth"
)

type RateLimitConfig struct {
	RequestsPerSecond float64
	BurstSize         int
	// IdleTTL drops limiters that have not been used for this long.
	IdleTTL time.Duration
}

func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		RequestsPerSecond: 100,
		BurstSize:         200,
		IdleTTL:           10 * time.Minute,
	}
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// limiterStore holds one token bucket per caller key.
type limiterStore struct {
	mu       sync.Mutex
	visitors map[string]*visitor
	cfg      RateLimitConfig
	lastGC   time.Time
}

func newLimiterStore(cfg RateLimitConfig) *limiterStore {
	return &limiterStore{visitors: make(map[string]*visitor), cfg: cfg, lastGC: time.Now()}
}

func (s *limiterStore) get(key string, now time.Time) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.IdleTTL > 0 && now.Sub(s.lastGC) > s.cfg.IdleTTL {
		for k, v := range s.visitors {
			if now.Sub(v.lastSeen) > s.cfg.IdleTTL {
				delete(s.visitors, k)
			}
		}
		s.lastGC = now
	}

	v, ok := s.visitors[key]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(rate.Limit(s.cfg.RequestsPerSecond), s.cfg.BurstSize)}
		s.visitors[key] = v
	}
	v.lastSeen = now
	return v.limiter
}

// RateLimit throttles per authenticated user, falling back to the client IP.
func RateLimit(cfg RateLimitConfig) echo.MiddlewareFunc {
	store := newLimiterStore(cfg)
	limit := strconv.FormatFloat(cfg.RequestsPerSecond, 'f', 0, 64)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			key := "ip:" + c.RealIP()
			if uid := auth.UserIDFromContext(c.Request().Context()); uid != "" {
				key = "user:" + uid
			}

			now := time.Now()
			r := store.get(key, now).ReserveN(now, 1)
			h := c.Response().Header()
			h.Set("X-RateLimit-Limit", limit)
			if !r.OK() || r.DelayFrom(now) > 0 {
				retry := 1
				if r.OK() {
					retry = int(math.Ceil(r.DelayFrom(now).Seconds()))
					r.CancelAt(now)
				}
				h.Set("Retry-After", strconv.Itoa(retry))
				h.Set("X-RateLimit-Remaining", "0")
				return httpError(http.StatusTooManyRequests, "rate_limited", "rate limit exceeded")
			}
			return next(c)
		}
	}
}
