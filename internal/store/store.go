// Package store persists resolved answers so they survive restarts.
package store

import (
	"context"

	"github.com/sells-group/ocs-answerer/internal/fingerprint"
	"github.com/sells-group/ocs-answerer/internal/model"
)

// AnswerStore is the durable answer table keyed by fingerprint.
type AnswerStore interface {
	// Find returns the stored result, or nil with no error when absent.
	Find(ctx context.Context, fp fingerprint.Fingerprint) (*model.Result, error)
	// Save inserts or overwrites the answer for fp.
	Save(ctx context.Context, fp fingerprint.Fingerprint, res *model.Result) error
	// Count returns the number of stored answers.
	Count(ctx context.Context) (int, error)

	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}
