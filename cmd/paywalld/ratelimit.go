package main

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	httppaywall "github.com/mark3labs/paywall-go/http"
)

// paymentLimiter throttles payment submissions per client IP. Requests
// without a payment header are never limited: each submission costs an RPC
// round trip, reading a page does not.
type paymentLimiter struct {
	limiters sync.Map // map[string]*rate.Limiter
	rate     rate.Limit
	burst    int

	mu          sync.Mutex
	lastCleanup time.Time
}

func newPaymentLimiter(perSecond float64, burst int) *paymentLimiter {
	return &paymentLimiter{
		rate:        rate.Limit(perSecond),
		burst:       burst,
		lastCleanup: time.Now(),
	}
}

func (l *paymentLimiter) limiter(key string) *rate.Limiter {
	if v, ok := l.limiters.Load(key); ok {
		return v.(*rate.Limiter)
	}
	v, _ := l.limiters.LoadOrStore(key, rate.NewLimiter(l.rate, l.burst))
	l.maybeCleanup()
	return v.(*rate.Limiter)
}

// maybeCleanup drops limiters with a full bucket, at most every five minutes.
func (l *paymentLimiter) maybeCleanup() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if time.Since(l.lastCleanup) < 5*time.Minute {
		return
	}
	l.lastCleanup = time.Now()
	l.limiters.Range(func(key, value any) bool {
		if value.(*rate.Limiter).Tokens() >= float64(l.burst) {
			l.limiters.Delete(key)
		}
		return true
	})
}

func (l *paymentLimiter) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.GetHeader(httppaywall.HeaderPayment) == "" {
			c.Next()
			return
		}
		if !l.limiter(c.ClientIP()).Allow() {
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, httppaywall.ErrorResponse{
				Error: "too many payment submissions",
			})
			return
		}
		c.Next()
	}
}
