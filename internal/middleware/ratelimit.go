package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// DefaultWritesPerMinute is the default per-client budget for state-changing requests.
	DefaultWritesPerMinute = 600

	// DefaultMaxTrackedClients bounds the number of remote addresses tracked.
	DefaultMaxTrackedClients = 10000

	cleanupInterval = time.Minute
	staleThreshold  = 5 * time.Minute
)

type clientEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimiter hands out a token bucket per remote address. Every command
// rewrites the whole state blob, so writes are throttled per client.
type RateLimiter struct {
	mu                sync.Mutex
	entries           map[string]*clientEntry
	perMinute         int
	maxTrackedClients int
	cancel            context.CancelFunc
}

// NewRateLimiter creates a limiter allowing perMinute requests per client with
// an equal burst. Pass 0 to use DefaultWritesPerMinute.
func NewRateLimiter(ctx context.Context, perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = DefaultWritesPerMinute
	}
	ctx, cancel := context.WithCancel(ctx)
	rl := &RateLimiter{
		entries:           make(map[string]*clientEntry),
		perMinute:         perMinute,
		maxTrackedClients: DefaultMaxTrackedClients,
		cancel:            cancel,
	}
	go rl.cleanup(ctx)
	return rl
}

// Allow consumes a token for client and reports whether one was available.
func (rl *RateLimiter) Allow(client string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	return rl.entryLocked(client, time.Now()).limiter.Allow()
}

// RetryAfter estimates how long client must wait for the next token.
func (rl *RateLimiter) RetryAfter(client string) time.Duration {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	e, ok := rl.entries[client]
	if !ok {
		return 0
	}
	r := e.limiter.Reserve()
	defer r.Cancel()
	return r.Delay()
}

func (rl *RateLimiter) entryLocked(client string, now time.Time) *clientEntry {
	e, ok := rl.entries[client]
	if !ok {
		if len(rl.entries) >= rl.maxTrackedClients {
			rl.evictOldestLocked()
		}
		e = &clientEntry{
			limiter: rate.NewLimiter(rate.Limit(float64(rl.perMinute)/60.0), rl.perMinute),
		}
		rl.entries[client] = e
	}
	e.lastSeen = now
	return e
}

// Stop cancels the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	rl.cancel()
}

func (rl *RateLimiter) cleanup(ctx context.Context) {
	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rl.removeStale(time.Now())
		}
	}
}

func (rl *RateLimiter) removeStale(now time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	for client, e := range rl.entries {
		if now.Sub(e.lastSeen) > staleThreshold {
			delete(rl.entries, client)
		}
	}
}

func (rl *RateLimiter) evictOldestLocked() {
	var oldest string
	var oldestTime time.Time
	first := true
	for client, e := range rl.entries {
		if first || e.lastSeen.Before(oldestTime) {
			oldest = client
			oldestTime = e.lastSeen
			first = false
		}
	}
	if oldest != "" {
		delete(rl.entries, oldest)
	}
}

// LimitWrites throttles requests whose method can change state. Reads pass
// through untouched. A nil limiter disables throttling.
func LimitWrites(rl *RateLimiter) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if rl == nil {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			switch r.Method {
			case http.MethodGet, http.MethodHead, http.MethodOptions:
				next.ServeHTTP(w, r)
				return
			}

			client := ExtractIP(r.RemoteAddr)
			if !rl.Allow(client) {
				retry := max(1, int(rl.RetryAfter(client).Round(time.Second)/time.Second))
				LoggerFromContext(r.Context()).Warn("write rate limited", "client", client)
				w.Header().Set("Content-Type", "application/json")
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{"error": "too many requests"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// ExtractIP extracts the IP address from a RemoteAddr string, stripping the port.
func ExtractIP(remoteAddr string) string {
	host, _, err := net.SplitHostPort(remoteAddr)
	if err != nil {
		return remoteAddr
	}
	return host
}
