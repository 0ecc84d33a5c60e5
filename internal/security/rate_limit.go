package security

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/duckgate/duckgate/internal/config"
	"github.com/duckgate/duckgate/internal/guardrail"
)

// CounterStore increments a client's fixed-window request counter and
// returns the count for the current window. Implemented by the Redis store
// for multi-instance deployments.
type CounterStore interface {
	Incr(ctx context.Context, clientKey string) (int64, error)
}

// clientLimiter pairs a token bucket with its last-use time so idle clients
// can be evicted.
type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// RateLimit throttles requests per client key during pre_request. With a
// CounterStore it enforces a shared fixed window across instances; without
// one it keeps per-client token buckets in memory.
type RateLimit struct {
	requestsPerMin int
	priority       int
	store          CounterStore
	logger         *zap.Logger

	mu       sync.Mutex
	limiters map[string]*clientLimiter
}

// NewRateLimit builds the module. The store is optional.
func NewRateLimit(cfg config.RateLimitConfig, store CounterStore, logger *zap.Logger) (*RateLimit, error) {
	if cfg.RequestsPerMin <= 0 {
		return nil, fmt.Errorf("rate limit requires requests_per_min > 0, got %d", cfg.RequestsPerMin)
	}

	return &RateLimit{
		requestsPerMin: cfg.RequestsPerMin,
		priority:       cfg.Priority,
		store:          store,
		logger:         logger,
		limiters:       make(map[string]*clientLimiter),
	}, nil
}

func (r *RateLimit) Name() string { return "rate_limit" }

func (r *RateLimit) Priority() int { return r.priority }

func (r *RateLimit) Phases() []guardrail.Phase {
	return []guardrail.Phase{guardrail.PhasePreRequest}
}

func (r *RateLimit) Execute(ctx context.Context, phase guardrail.Phase, req *guardrail.Context) (guardrail.Outcome, error) {
	if phase != guardrail.PhasePreRequest {
		return guardrail.Allow(), nil
	}

	key := req.ClientKey
	if key == "" {
		key = "anonymous"
	}

	if r.store != nil {
		n, err := r.store.Incr(ctx, key)
		if err == nil {
			if n > int64(r.requestsPerMin) {
				return r.blocked(req, key), nil
			}
			return guardrail.Allow(), nil
		}
		// A counter store outage must not take the gateway down with it;
		// fall back to the local buckets.
		r.logger.Warn("Rate counter store unavailable, using local limiter",
			zap.String("request_id", req.RequestID),
			zap.Error(err),
		)
	}

	if !r.allowLocal(key) {
		return r.blocked(req, key), nil
	}
	return guardrail.Allow(), nil
}

func (r *RateLimit) blocked(req *guardrail.Context, key string) guardrail.Outcome {
	r.logger.Info("Client over rate limit",
		zap.String("request_id", req.RequestID),
		zap.String("client_key", key),
	)
	return guardrail.Block("rate limit exceeded")
}

// allowLocal consumes one token from the client's bucket, creating the
// bucket on first sight with a full burst.
func (r *RateLimit) allowLocal(key string) bool {
	r.mu.Lock()
	cl, ok := r.limiters[key]
	if !ok {
		cl = &clientLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(r.requestsPerMin)/60.0), r.requestsPerMin),
		}
		r.limiters[key] = cl
	}
	cl.lastSeen = time.Now()
	r.mu.Unlock()

	return cl.limiter.Allow()
}

// StartCleanup evicts idle client buckets periodically until ctx is done.
func (r *RateLimit) StartCleanup(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(30 * time.Minute)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.evictIdle(time.Hour)
			}
		}
	}()
}

func (r *RateLimit) evictIdle(idle time.Duration) {
	cutoff := time.Now().Add(-idle)

	r.mu.Lock()
	defer r.mu.Unlock()
	for key, cl := range r.limiters {
		if cl.lastSeen.Before(cutoff) {
			delete(r.limiters, key)
		}
	}
}
