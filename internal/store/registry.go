package store

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/velocore/cart-service/internal/repository"
)

// Registry hands out one Store per cart owner, rehydrating it from the
// repository on first use. Stores idle for longer than the configured TTL are
// flushed and evicted; a later request simply reopens them from the snapshot.
type Registry struct {
	repo    repository.CartRepository
	policy  Policy
	idleTTL time.Duration
	logger  *slog.Logger

	mu      sync.Mutex
	entries map[string]*registryEntry

	done chan struct{}
	wg   sync.WaitGroup
}

type registryEntry struct {
	store    *Store
	lastUsed time.Time
}

// NewRegistry creates a registry and starts its eviction loop.
func NewRegistry(repo repository.CartRepository, policy Policy, idleTTL time.Duration, logger *slog.Logger) *Registry {
	r := &Registry{
		repo:    repo,
		policy:  policy,
		idleTTL: idleTTL,
		logger:  logger,
		entries: make(map[string]*registryEntry),
		done:    make(chan struct{}),
	}
	r.wg.Add(1)
	go r.evictLoop()
	return r
}

// Get returns the store for the given owner, opening it if necessary.
func (r *Registry) Get(ctx context.Context, ownerID string) *Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[ownerID]; ok {
		e.lastUsed = time.Now()
		return e.store
	}

	s := Open(ctx, ownerID, r.repo, r.policy, r.logger)
	r.entries[ownerID] = &registryEntry{store: s, lastUsed: time.Now()}
	return s
}

// Close stops the eviction loop and closes every live store, flushing their
// final snapshots.
func (r *Registry) Close(ctx context.Context) error {
	close(r.done)
	r.wg.Wait()

	r.mu.Lock()
	entries := r.entries
	r.entries = make(map[string]*registryEntry)
	r.mu.Unlock()

	var firstErr error
	for ownerID, e := range entries {
		if err := e.store.Close(ctx); err != nil {
			r.logger.Warn("cart store close failed",
				slog.String("owner_id", ownerID),
				slog.String("error", err.Error()),
			)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (r *Registry) evictLoop() {
	defer r.wg.Done()

	interval := r.idleTTL / 2
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.evictIdle()
		case <-r.done:
			return
		}
	}
}

func (r *Registry) evictIdle() {
	cutoff := time.Now().Add(-r.idleTTL)

	r.mu.Lock()
	var idle []*registryEntry
	for ownerID, e := range r.entries {
		if e.lastUsed.Before(cutoff) {
			idle = append(idle, e)
			delete(r.entries, ownerID)
		}
	}
	r.mu.Unlock()

	for _, e := range idle {
		ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		if err := e.store.Close(ctx); err != nil {
			r.logger.Warn("idle cart store eviction flush failed",
				slog.String("owner_id", e.store.OwnerID()),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}
