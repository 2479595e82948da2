package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/sells-group/ocs-answerer/internal/fingerprint"
	"github.com/sells-group/ocs-answerer/internal/model"
)

// Tiered prefers a primary (networked) cache and falls back to a local
// one whenever the primary errors. Writes go to both.
type Tiered struct {
	primary  Cache
	fallback Cache
}

// NewTiered returns a Tiered cache.
func NewTiered(primary, fallback Cache) *Tiered {
	return &Tiered{primary: primary, fallback: fallback}
}

// Name implements Cache.
func (t *Tiered) Name() string { return t.primary.Name() + "+" + t.fallback.Name() }

// Get implements Cache.
func (t *Tiered) Get(ctx context.Context, fp fingerprint.Fingerprint) (*model.Result, bool, error) {
	res, ok, err := t.primary.Get(ctx, fp)
	if err == nil {
		return res, ok, nil
	}
	zap.L().Warn("cache: primary get failed, using fallback",
		zap.String("backend", t.primary.Name()),
		zap.Error(err),
	)
	return t.fallback.Get(ctx, fp)
}

// Set implements Cache. A fallback write succeeding is enough.
func (t *Tiered) Set(ctx context.Context, fp fingerprint.Fingerprint, res *model.Result, ttl time.Duration) error {
	ferr := t.fallback.Set(ctx, fp, res, ttl)
	if err := t.primary.Set(ctx, fp, res, ttl); err != nil {
		zap.L().Warn("cache: primary set failed",
			zap.String("backend", t.primary.Name()),
			zap.Error(err),
		)
		return ferr
	}
	return nil
}

// InvalidateAll implements Cache.
func (t *Tiered) InvalidateAll(ctx context.Context) error {
	ferr := t.fallback.InvalidateAll(ctx)
	if err := t.primary.InvalidateAll(ctx); err != nil {
		return err
	}
	return ferr
}

// Stats implements StatsReporter using the primary's view when available.
func (t *Tiered) Stats(ctx context.Context) Stats {
	if sr, ok := t.primary.(StatsReporter); ok {
		s := sr.Stats(ctx)
		s.Backend = t.Name()
		return s
	}
	return Stats{Backend: t.Name()}
}
