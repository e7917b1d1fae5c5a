package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/vyrodovalexey/avarfc/internal/config"
	"github.com/vyrodovalexey/avarfc/internal/observability"
)

const clientIdleTTL = 10 * time.Minute

// RateLimitRecorder counts rejected requests.
type RateLimitRecorder interface {
	RecordRateLimitHit()
}

// RateLimiter is a token bucket, global or per client IP.
type RateLimiter struct {
	limit     rate.Limit
	burst     int
	perClient bool
	global    *rate.Limiter

	mu        sync.Mutex
	clients   map[string]*clientLimiter
	lastSweep time.Time
	now       func() time.Time
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a limiter from cfg.
func NewRateLimiter(cfg config.RateLimitConfig) *RateLimiter {
	l := &RateLimiter{
		limit:     rate.Limit(cfg.RequestsPerSecond),
		burst:     cfg.Burst,
		perClient: cfg.PerClient,
		clients:   make(map[string]*clientLimiter),
		now:       time.Now,
	}
	l.global = rate.NewLimiter(l.limit, l.burst)
	l.lastSweep = l.now()
	return l
}

// Allow reports whether a request from client may proceed now, and if not
// how long to wait.
func (l *RateLimiter) Allow(client string) (bool, time.Duration) {
	limiter := l.global
	if l.perClient {
		limiter = l.clientLimiter(client)
	}

	now := l.now()
	r := limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.DelayFrom(now); delay > 0 {
		r.CancelAt(now)
		return false, delay
	}
	return true, 0
}

func (l *RateLimiter) clientLimiter(client string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastSweep) > clientIdleTTL {
		for key, c := range l.clients {
			if now.Sub(c.lastSeen) > clientIdleTTL {
				delete(l.clients, key)
			}
		}
		l.lastSweep = now
	}

	c, ok := l.clients[client]
	if !ok {
		c = &clientLimiter{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.clients[client] = c
	}
	c.lastSeen = now
	return c.limiter
}

// Clients returns the number of tracked clients.
func (l *RateLimiter) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// RateLimit rejects requests over the limit with 429.
func RateLimit(limiter *RateLimiter, recorder RateLimitRecorder, logger observability.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = observability.NopLogger()
	}

	return func(c *gin.Context) {
		client := c.ClientIP()
		ok, wait := limiter.Allow(client)
		if ok {
			c.Next()
			return
		}

		if recorder != nil {
			recorder.RecordRateLimitHit()
		}
		logger.WithContext(c.Request.Context()).Debug("rate limit exceeded",
			observability.String("client_ip", client),
		)

		c.Header("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		AbortWithEnvelope(c, http.StatusTooManyRequests, "Rate limit exceeded.",
			"too many requests, retry after "+wait.Round(time.Millisecond).String())
	}
}
