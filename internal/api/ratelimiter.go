package api

import (
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/eugenenazirov/trainconf/internal/metrics"
)

// rateLimiter admits a request, or rejects it together with the time the
// client should wait before retrying.
type rateLimiter interface {
	Allow() (bool, time.Duration)
}

type tokenBucket struct {
	limiter *rate.Limiter
}

// newTokenBucketLimiter returns nil, meaning no limit, unless both rps and
// burst are positive.
func newTokenBucketLimiter(rps float64, burst int) rateLimiter {
	if rps <= 0 || burst <= 0 {
		return nil
	}
	return &tokenBucket{limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (b *tokenBucket) Allow() (bool, time.Duration) {
	r := b.limiter.Reserve()
	if !r.OK() {
		return false, time.Second
	}
	if delay := r.Delay(); delay > 0 {
		r.Cancel()
		return false, delay
	}
	return true, 0
}

func rateLimitMiddleware(limiter rateLimiter, logger *zap.Logger, next http.Handler) http.Handler {
	if limiter == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, wait := limiter.Allow()
		if ok {
			next.ServeHTTP(w, r)
			return
		}

		retryAfter := retryAfterSeconds(wait)
		metrics.RateLimitedTotal.Inc()
		logger.Warn("request rate limited",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("retry_after_seconds", retryAfter),
			zap.String("request_id", requestIDFromContext(r.Context())),
		)

		w.Header().Set("Retry-After", strconv.Itoa(retryAfter))
		writeError(w, http.StatusTooManyRequests, "Too many requests",
			fmt.Sprintf("rate limit exceeded, retry in %ds", retryAfter))
	})
}

// retryAfterSeconds rounds wait up to whole seconds, at least one.
func retryAfterSeconds(wait time.Duration) int {
	secs := int(math.Ceil(wait.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}
