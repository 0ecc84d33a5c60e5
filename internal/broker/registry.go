package broker

import (
	"context"
	"sync"
	"time"

	"github.com/duckgate/duckgate/internal/guardrail"
)

const (
	defaultRegistryTTL  = 5 * time.Minute
	registrySweepPeriod = time.Minute
)

// Registry holds in-flight request contexts between guard calls so the tool
// phases of a request operate on the same context (and substitution table)
// as its pre_request. Entries expire after a TTL in case a caller never
// finishes the round trip.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*registryEntry
	ttl     time.Duration
}

type registryEntry struct {
	req     *guardrail.Context
	expires time.Time
}

// NewRegistry creates a registry with the given TTL; zero means the default.
func NewRegistry(ttl time.Duration) *Registry {
	if ttl <= 0 {
		ttl = defaultRegistryTTL
	}
	return &Registry{
		entries: make(map[string]*registryEntry),
		ttl:     ttl,
	}
}

// Put stores a request context, refreshing its expiry.
func (r *Registry) Put(req *guardrail.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[req.RequestID] = &registryEntry{
		req:     req,
		expires: time.Now().Add(r.ttl),
	}
}

// Get returns the live context for a request id. Expired entries are treated
// as absent.
func (r *Registry) Get(requestID string) (*guardrail.Context, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[requestID]
	if !ok {
		return nil, false
	}
	if time.Now().After(e.expires) {
		delete(r.entries, requestID)
		return nil, false
	}
	e.expires = time.Now().Add(r.ttl)
	return e.req, true
}

// Remove drops a finished request.
func (r *Registry) Remove(requestID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, requestID)
}

// Len returns the number of live entries.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// StartSweeper evicts expired entries periodically until ctx is done.
func (r *Registry) StartSweeper(ctx context.Context) {
	go func() {
		ticker := time.NewTicker(registrySweepPeriod)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				r.sweep()
			}
		}
	}()
}

func (r *Registry) sweep() {
	now := time.Now()

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, e := range r.entries {
		if now.After(e.expires) {
			delete(r.entries, id)
		}
	}
}
