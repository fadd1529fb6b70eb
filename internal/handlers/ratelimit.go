package handlers

import (
	"net/http"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/getsentry/sentry-go/attribute"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/vitrineapp/vitrine/internal/observability"
)

// rateLimiterCacheSize bounds tracked client IPs; the LRU evicts the
// quietest ones first.
const rateLimiterCacheSize = 4096

type tokenBucket struct {
	mu     sync.Mutex
	tokens float64
	last   time.Time
}

// ipRateLimiter keeps one token bucket per client IP. Buckets refill at rps
// tokens per second up to burst.
type ipRateLimiter struct {
	rps     float64
	burst   float64
	buckets *lru.Cache[string, *tokenBucket]
	now     func() time.Time
}

func newIPRateLimiter(rps float64, burst int) *ipRateLimiter {
	buckets, err := lru.New[string, *tokenBucket](rateLimiterCacheSize)
	if err != nil {
		// Only reachable with a non-positive size constant.
		panic(err)
	}
	return &ipRateLimiter{
		rps:     rps,
		burst:   float64(burst),
		buckets: buckets,
		now:     time.Now,
	}
}

func (l *ipRateLimiter) allow(ip string) bool {
	bucket, ok := l.buckets.Get(ip)
	if !ok {
		bucket = &tokenBucket{tokens: l.burst, last: l.now()}
		// Another request may have raced the insert; reuse the winner.
		if previous, existed, _ := l.buckets.PeekOrAdd(ip, bucket); existed {
			bucket = previous
		}
	}

	bucket.mu.Lock()
	defer bucket.mu.Unlock()

	now := l.now()
	elapsed := now.Sub(bucket.last).Seconds()
	bucket.last = now
	bucket.tokens += elapsed * l.rps
	if bucket.tokens > l.burst {
		bucket.tokens = l.burst
	}
	if bucket.tokens < 1 {
		return false
	}
	bucket.tokens--
	return true
}

// WebhookRateLimit bounds replay and flood exposure on webhook routes.
func (h *Handlers) WebhookRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := clientIP(r)
		if !h.webhookLimiter.allow(ip) {
			meter := observability.MeterFromContext(r.Context())
			meter.Count("webhook.rate_limited", 1, sentry.WithAttributes(
				attribute.String("remote_ip", ip),
			))
			h.loggerFromContext(r.Context()).Warn("webhook rate limit exceeded", "remote_ip", ip)
			http.Error(w, "Too Many Requests", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}
