package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"github.com/premiumcollect/premiumcollect/internal/apperr"
)

// KeyRateLimiter holds one token bucket per API key.
type KeyRateLimiter struct {
	mu       sync.Mutex
	limiters map[uuid.UUID]*rate.Limiter
	rps      rate.Limit
	burst    int
}

func NewKeyRateLimiter(rps float64, burst int) *KeyRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &KeyRateLimiter{
		limiters: make(map[uuid.UUID]*rate.Limiter),
		rps:      rate.Limit(rps),
		burst:    burst,
	}
}

func (l *KeyRateLimiter) limiter(id uuid.UUID) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[id]
	if !ok {
		lim = rate.NewLimiter(l.rps, l.burst)
		l.limiters[id] = lim
	}
	return lim
}

// Middleware answers 429 RATE_LIMITED once a key exhausts its bucket. It
// must run after APIKeyAuth; a non-positive rate disables it.
func (l *KeyRateLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := GetPrincipal(c)
		if p == nil || l.rps <= 0 {
			c.Next()
			return
		}

		res := l.limiter(p.KeyID).Reserve()
		if delay := res.Delay(); delay > 0 {
			res.Cancel()
			c.Header("Retry-After", strconv.Itoa(int(math.Ceil(delay.Seconds()))))
			c.AbortWithStatusJSON(apperr.Render(apperr.New(http.StatusTooManyRequests, apperr.CodeRateLimited,
				"Rate limit exceeded; retry after "+delay.Round(time.Millisecond).String())))
			return
		}
		c.Next()
	}
}
