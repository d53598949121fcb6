// Package limiter throttles inbound submission requests: a global budget,
// a per-client budget (checked against both the per-minute and per-hour
// allowances from configuration, approximating the original's Redis
// fixed-window counters with in-memory token buckets), and a concurrency
// cap on rate-limited requests in flight at once.
package limiter

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/itstheanurag/executioner/internal/config"
	"github.com/itstheanurag/executioner/internal/metrics"
	"golang.org/x/time/rate"
)

type perClientLimiters struct {
	minute *rate.Limiter
	hour   *rate.Limiter
}

type RateLimiter struct {
	enabled       bool
	globalLimiter *rate.Limiter
	perMinuteRate rate.Limit
	perMinuteBurst int
	perHourRate   rate.Limit
	perHourBurst  int
	clients       sync.Map // string -> *perClientLimiters
	maxConcurrent int64
	currentConc   int64
	mu            sync.Mutex
}

// NewFromConfig builds a rate limiter from the judge's rate-limit
// configuration. maxConcurrent bounds the number of requests allowed to be
// in flight through Middleware at once (held from Allow until Done),
// independent of the request-rate budget; it does not track sandbox runs.
func NewFromConfig(cfg config.RateLimitConfig, maxConcurrent int) *RateLimiter {
	perMinute := rate.Limit(float64(cfg.PerMinute) / 60.0)
	perHour := rate.Limit(float64(cfg.PerHour) / 3600.0)

	return &RateLimiter{
		enabled:        cfg.Enabled,
		globalLimiter:  rate.NewLimiter(perMinute*4, cfg.PerMinute*4),
		perMinuteRate:  perMinute,
		perMinuteBurst: cfg.PerMinute,
		perHourRate:    perHour,
		perHourBurst:   cfg.PerHour,
		maxConcurrent:  int64(maxConcurrent),
	}
}

func (rl *RateLimiter) getClientLimiters(id string) *perClientLimiters {
	if v, ok := rl.clients.Load(id); ok {
		return v.(*perClientLimiters)
	}
	cl := &perClientLimiters{
		minute: rate.NewLimiter(rl.perMinuteRate, rl.perMinuteBurst),
		hour:   rate.NewLimiter(rl.perHourRate, rl.perHourBurst),
	}
	actual, _ := rl.clients.LoadOrStore(id, cl)
	return actual.(*perClientLimiters)
}

// Allow reports whether a request from identifier (typically the client IP)
// may proceed, consuming one unit of the concurrency budget on success; the
// caller must call Done when the request finishes.
func (rl *RateLimiter) Allow(identifier string) bool {
	if !rl.enabled {
		return true
	}

	if !rl.globalLimiter.Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}

	cl := rl.getClientLimiters(identifier)
	if !cl.minute.Allow() || !cl.hour.Allow() {
		metrics.RateLimitHits.Inc()
		return false
	}

	rl.mu.Lock()
	if rl.maxConcurrent > 0 && rl.currentConc >= rl.maxConcurrent {
		rl.mu.Unlock()
		metrics.RateLimitHits.Inc()
		return false
	}
	rl.currentConc++
	rl.mu.Unlock()

	return true
}

func (rl *RateLimiter) Done() {
	rl.mu.Lock()
	if rl.currentConc > 0 {
		rl.currentConc--
	}
	rl.mu.Unlock()
}

func (rl *RateLimiter) Middleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !rl.enabled {
			next(w, r)
			return
		}

		ip := r.RemoteAddr
		if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
			ip = forwarded
		}

		if !rl.Allow(ip) {
			http.Error(w, "Too many requests", http.StatusTooManyRequests)
			return
		}
		defer rl.Done()

		next(w, r)
	}
}

// StartCleanup periodically drops per-client limiters so memory doesn't grow
// unbounded with one-off clients; a more precise implementation would track
// last-access time per client instead of clearing everything.
func (rl *RateLimiter) StartCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.clients.Range(func(key, _ any) bool {
					rl.clients.Delete(key)
					return true
				})
			case <-ctx.Done():
				return
			}
		}
	}()
}
