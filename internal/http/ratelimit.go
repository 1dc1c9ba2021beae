package http

import (
	"net/http"
	"sync"

	"github.com/labstack/echo/v4"
	"golang.org/x/time/rate"
)

// validateLimiter throttles validation requests per client address.
// Validation fans out to every signal producer under a timeout budget,
// so unthrottled clients could starve the producer pool.
type validateLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func newValidateLimiter(rps float64, burst int) *validateLimiter {
	if rps <= 0 {
		rps = 2
	}
	if burst <= 0 {
		burst = 5
	}
	return &validateLimiter{
		limiters: make(map[string]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (v *validateLimiter) limiter(client string) *rate.Limiter {
	v.mu.Lock()
	defer v.mu.Unlock()
	l, ok := v.limiters[client]
	if !ok {
		l = rate.NewLimiter(v.rps, v.burst)
		v.limiters[client] = l
	}
	return l
}

func (v *validateLimiter) middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if !v.limiter(c.RealIP()).Allow() {
				return echo.NewHTTPError(http.StatusTooManyRequests, "validation rate limit exceeded")
			}
			return next(c)
		}
	}
}
