package api

import (
	"context"
	"math"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// RateLimit configures per-client token buckets.
type RateLimit struct {
	// RPS and Burst apply to every request.
	RPS   float64
	Burst int
	// HeavyPerMinute is a second, smaller budget for multipart uploads and
	// server-side verification, which hash whole recordings. Zero disables it.
	HeavyPerMinute int
}

const bucketIdle = 10 * time.Minute

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// buckets is a set of per-key limiters sharing one configuration.
type buckets struct {
	mu    sync.Mutex
	m     map[string]*bucket
	limit rate.Limit
	burst int
}

func newBuckets(limit rate.Limit, burst int) *buckets {
	return &buckets{m: make(map[string]*bucket), limit: limit, burst: burst}
}

// take consumes one token for key. When none is available it reports how long
// until one will be.
func (b *buckets) take(key string, now time.Time) (bool, time.Duration) {
	b.mu.Lock()
	bk, ok := b.m[key]
	if !ok {
		bk = &bucket{limiter: rate.NewLimiter(b.limit, b.burst)}
		b.m[key] = bk
	}
	bk.lastSeen = now
	b.mu.Unlock()

	r := bk.limiter.ReserveN(now, 1)
	if !r.OK() {
		return false, time.Second
	}
	if d := r.DelayFrom(now); d > 0 {
		r.CancelAt(now)
		return false, d
	}
	return true, 0
}

func (b *buckets) evict(now time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for key, bk := range b.m {
		if now.Sub(bk.lastSeen) > bucketIdle {
			delete(b.m, key)
		}
	}
}

// RateLimiter returns a Gin middleware enforcing per-IP limits. Requests over
// budget get 429 with Retry-After set to the wait in whole seconds. Idle
// buckets are evicted every 5 minutes until ctx is done.
func RateLimiter(ctx context.Context, cfg RateLimit) gin.HandlerFunc {
	all := newBuckets(rate.Limit(cfg.RPS), cfg.Burst)
	var heavy *buckets
	if cfg.HeavyPerMinute > 0 {
		heavy = newBuckets(rate.Every(time.Minute/time.Duration(cfg.HeavyPerMinute)), cfg.HeavyPerMinute)
	}

	go func() {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case now := <-ticker.C:
				all.evict(now)
				if heavy != nil {
					heavy.evict(now)
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	return func(c *gin.Context) {
		ip := c.ClientIP()
		now := time.Now()

		ok, wait := all.take(ip, now)
		if ok && heavy != nil && isHeavy(c) {
			ok, wait = heavy.take(ip, now)
		}
		if !ok {
			c.Header("Retry-After", strconv.Itoa(int(math.Max(1, math.Ceil(wait.Seconds())))))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error": "rate limit exceeded",
			})
			return
		}
		c.Next()
	}
}

func isHeavy(c *gin.Context) bool {
	if c.Request.Method != http.MethodPost {
		return false
	}
	p := c.FullPath()
	return strings.HasSuffix(p, "/recordings") || strings.HasSuffix(p, "/verify")
}
