package middleware

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	burstCapacityMultiplier    = 2
	defaultMaxKeys             = 1000
	defaultGlobalRPS           = 100
	defaultKeyRPS              = 20
	defaultUnAuthRPS           = 5
	keyWarningRatio            = 0.8
	rateLimiterCleanupInterval = 5 * time.Minute
	rateLimiterIdleTimeout     = time.Hour
)

// RateLimiter decides whether a request may proceed. keyID is empty for
// unauthenticated callers.
type RateLimiter interface {
	Allow(keyID string) bool
}

// InMemoryRateLimiter is a token-bucket limiter with three tiers: a global bucket,
// one bucket per API key, and a shared bucket for unauthenticated requests. Buckets
// of keys idle longer than the idle timeout are dropped by a background sweep.
type InMemoryRateLimiter struct {
	global          *rate.Limiter
	unauthenticated *rate.Limiter

	mu     sync.RWMutex
	perKey map[string]*keyLimiter

	keyRPS          int
	keyBurst        int
	cleanupInterval time.Duration
	idleTimeout     time.Duration
	maxKeys         int
	logger          *slog.Logger

	stop      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
}

type keyLimiter struct {
	limiter *rate.Limiter

	mu         sync.Mutex
	lastAccess time.Time
}

// NewInMemoryRateLimiter creates the limiter and starts its cleanup goroutine.
// Call Close to stop it.
func NewInMemoryRateLimiter(cfg *Config, logger *slog.Logger) *InMemoryRateLimiter {
	if logger == nil {
		logger = slog.Default()
	}

	rl := &InMemoryRateLimiter{
		global:          rate.NewLimiter(rate.Limit(cfg.GlobalRPS), computeBurstCapacity(cfg.GlobalRPS, cfg.GlobalBurst)),
		unauthenticated: rate.NewLimiter(rate.Limit(cfg.UnAuthRPS), computeBurstCapacity(cfg.UnAuthRPS, cfg.UnAuthBurst)),
		perKey:          make(map[string]*keyLimiter),
		keyRPS:          cfg.KeyRPS,
		keyBurst:        computeBurstCapacity(cfg.KeyRPS, cfg.KeyBurst),
		cleanupInterval: orDefault(cfg.CleanupInterval, rateLimiterCleanupInterval),
		idleTimeout:     orDefault(cfg.IdleTimeout, rateLimiterIdleTimeout),
		maxKeys:         cfg.MaxKeys,
		logger:          logger,
		stop:            make(chan struct{}),
		done:            make(chan struct{}),
	}

	if rl.maxKeys <= 0 {
		rl.maxKeys = defaultMaxKeys
	}

	go rl.cleanupLoop()

	return rl
}

// computeBurstCapacity returns the override when set, else twice the rate.
func computeBurstCapacity(rps, burstOverride int) int {
	if burstOverride > 0 {
		return burstOverride
	}

	return rps * burstCapacityMultiplier
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}

	return d
}

// Allow checks the global bucket first, then the caller's own bucket.
func (rl *InMemoryRateLimiter) Allow(keyID string) bool {
	if !rl.global.Allow() {
		return false
	}

	if keyID == "" {
		return rl.unauthenticated.Allow()
	}

	kl := rl.limiterFor(keyID)

	kl.mu.Lock()
	kl.lastAccess = time.Now()
	kl.mu.Unlock()

	return kl.limiter.Allow()
}

func (rl *InMemoryRateLimiter) limiterFor(keyID string) *keyLimiter {
	rl.mu.RLock()
	kl, ok := rl.perKey[keyID]
	rl.mu.RUnlock()

	if ok {
		return kl
	}

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if kl, ok = rl.perKey[keyID]; ok {
		return kl
	}

	kl = &keyLimiter{
		limiter:    rate.NewLimiter(rate.Limit(rl.keyRPS), rl.keyBurst),
		lastAccess: time.Now(),
	}
	rl.perKey[keyID] = kl

	if count := len(rl.perKey); count >= int(float64(rl.maxKeys)*keyWarningRatio) {
		rl.logger.Warn("Rate limiter approaching max tracked keys",
			slog.Int("current_keys", count),
			slog.Int("max_keys", rl.maxKeys))
	}

	return kl
}

// Close stops the cleanup goroutine. It is safe to call more than once.
func (rl *InMemoryRateLimiter) Close() error {
	rl.closeOnce.Do(func() {
		close(rl.stop)
		<-rl.done
	})

	return nil
}

func (rl *InMemoryRateLimiter) cleanupLoop() {
	defer close(rl.done)

	ticker := time.NewTicker(rl.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stop:
			return
		}
	}
}

// cleanup drops buckets idle for longer than the idle timeout.
func (rl *InMemoryRateLimiter) cleanup(now time.Time) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0

	for keyID, kl := range rl.perKey {
		kl.mu.Lock()
		idle := now.Sub(kl.lastAccess)
		kl.mu.Unlock()

		if idle > rl.idleTimeout {
			delete(rl.perKey, keyID)

			removed++
		}
	}

	return removed
}

func (rl *InMemoryRateLimiter) trackedKeys() int {
	rl.mu.RLock()
	defer rl.mu.RUnlock()

	return len(rl.perKey)
}

// RateLimit answers 429 when limiter refuses the request. It must run after
// Authenticate so authenticated callers get their own bucket.
func RateLimit(limiter RateLimiter, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			keyID := ""
			if p, ok := GetPrincipal(r.Context()); ok {
				keyID = p.KeyID
			}

			if !limiter.Allow(keyID) {
				w.Header().Set("Retry-After", "1")

				if err := writeProblem(w, r, http.StatusTooManyRequests,
					"Rate limit exceeded. Please retry after some time."); err != nil {
					logger.Error("Failed to write problem response",
						slog.String("correlation_id", GetCorrelationID(r.Context())),
						slog.String("error", err.Error()))
				}

				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
