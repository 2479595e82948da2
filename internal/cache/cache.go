// Package cache holds resolved answers keyed by fingerprint. Errors from
// a cache are advisory: callers treat them as a miss.
package cache

import (
	"context"
	"time"

	"github.com/sells-group/ocs-answerer/internal/fingerprint"
	"github.com/sells-group/ocs-answerer/internal/model"
)

// DefaultTTL applies when Set is called with a non-positive TTL.
const DefaultTTL = 24 * time.Hour

// Cache is a TTL-bounded answer cache.
type Cache interface {
	// Get returns the cached result, or ok=false on miss or expiry.
	Get(ctx context.Context, fp fingerprint.Fingerprint) (res *model.Result, ok bool, err error)
	// Set stores res; a later Set for the same fingerprint overwrites it.
	Set(ctx context.Context, fp fingerprint.Fingerprint, res *model.Result, ttl time.Duration) error
	// InvalidateAll drops every entry owned by this cache.
	InvalidateAll(ctx context.Context) error
	// Name identifies the backend in logs and status output.
	Name() string
}

// Stats contains cache performance statistics.
type Stats struct {
	Backend    string  `json:"backend"`
	Entries    int     `json:"entries"`
	MaxEntries int     `json:"max_entries,omitempty"`
	Hits       int64   `json:"hits"`
	Misses     int64   `json:"misses"`
	HitRate    float64 `json:"hit_rate"`
}

// StatsReporter is implemented by caches that track hit rates.
type StatsReporter interface {
	Stats(ctx context.Context) Stats
}

func hitRate(hits, misses int64) float64 {
	if total := hits + misses; total > 0 {
		return float64(hits) / float64(total)
	}
	return 0
}
