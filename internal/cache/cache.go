// Package cache provides a small generic LRU with expiry, used to memoize
// derived views.
package cache

import (
	"context"
	"time"

	"spesync/internal/log"
)

// Cache is the contract shared by cache implementations.
type Cache[K comparable, V any] interface {
	Get(key K) (V, bool)
	Set(key K, value V)
	Delete(key K)
	Purge()
	Len() int
}

// Cleaner is implemented by caches whose entries expire.
type Cleaner interface {
	CleanExpired() int
}

// Sweeper periodically removes expired entries from registered caches.
type Sweeper struct {
	caches []Cleaner
	logger *log.Logger
}

func NewSweeper(logger *log.Logger, caches ...Cleaner) *Sweeper {
	if logger == nil {
		logger = log.Discard()
	}
	return &Sweeper{caches: caches, logger: logger.WithComponent(log.ComponentDashboard)}
}

// Sweep runs one pass and returns how many entries were dropped.
func (s *Sweeper) Sweep() int {
	total := 0
	for _, c := range s.caches {
		total += c.CleanExpired()
	}
	return total
}

// Run sweeps every interval until ctx is done.
func (s *Sweeper) Run(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.DebugContext(ctx, "Expired cache entries removed", log.FieldCount, n)
			}
		}
	}
}
