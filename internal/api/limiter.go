package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"decision-flip/backend/internal/metrics"
)

const limiterResetInterval = time.Hour

// userLimiter hands out one token bucket per user for oracle-backed routes.
type userLimiter struct {
	mu          sync.Mutex
	limit       rate.Limit
	burst       int
	limiters    map[string]*rate.Limiter
	lastCleanup time.Time
}

// newUserLimiter returns nil when rps is not positive, which disables limiting.
func newUserLimiter(rps float64, burst int) *userLimiter {
	if rps <= 0 {
		return nil
	}
	if burst < 1 {
		burst = 1
	}
	return &userLimiter{
		limit:       rate.Limit(rps),
		burst:       burst,
		limiters:    make(map[string]*rate.Limiter),
		lastCleanup: time.Now(),
	}
}

func (l *userLimiter) get(userID string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	// Idle buckets are dropped wholesale once an hour.
	if time.Since(l.lastCleanup) > limiterResetInterval {
		l.limiters = make(map[string]*rate.Limiter)
		l.lastCleanup = time.Now()
	}
	limiter, ok := l.limiters[userID]
	if !ok {
		limiter = rate.NewLimiter(l.limit, l.burst)
		l.limiters[userID] = limiter
	}
	return limiter
}

func (l *userLimiter) allow(userID string) bool {
	if l == nil {
		return true
	}
	return l.get(userID).Allow()
}

// rateLimited rejects oracle-backed requests once the caller's bucket is empty.
func (s *Server) rateLimited() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID := currentUser(c)
		if s.limiter.allow(userID) {
			c.Next()
			return
		}
		metrics.Get().RateLimitedTotal.Inc()
		logrus.WithFields(logrus.Fields{
			"user_id": userID,
			"path":    c.FullPath(),
		}).Warn("oracle request rate limited")
		c.Header("Retry-After", "1")
		s.renderMessage(c, http.StatusTooManyRequests, "Too many requests, please slow down")
		c.Abort()
	}
}
