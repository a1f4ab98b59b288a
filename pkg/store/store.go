// Package store defines the completion store contract shared by the
// SQLite and Postgres backends.
package store

import (
	"context"

	"github.com/binarymax/llm-primitives/pkg/models"
)

// Store persists completed model calls and answers cache lookups. Both
// backends implement the same contract; they differ only in engine.
//
// Lookup semantics:
//   - A nil error with an empty result is a genuine miss. A non-nil
//     error means the storage layer was unavailable; callers decide
//     whether to treat that as a miss.
//   - Results are ordered by id ascending. Duplicate live rows for one
//     key are legal (concurrent misses race, see Create) and the first
//     row is the canonical hit.
//   - Soft-deleted rows are never returned or aggregated.
type Store interface {
	// FindExact matches the full serialized prompt rather than its
	// hash. An empty groupID matches only ungrouped rows.
	FindExact(ctx context.Context, prompt any, groupID string) ([]models.CompletionRecord, error)

	// FindByHash matches on (model, fingerprint). An empty groupID is
	// a wildcard; a non-empty one constrains the match.
	FindByHash(ctx context.Context, model string, prompt any, groupID string) ([]models.CompletionRecord, error)

	// Create persists a completed call and returns the new row id. The
	// write is transactional: on error no partial row is visible.
	// Create takes no key-level lock, so two racing writers for the
	// same key both succeed and readers resolve the duplicate.
	// An empty groupID is stored as NULL.
	Create(ctx context.Context, model string, prompt, response any, tookMs int64, cost float64, groupID string) (int64, error)

	// CostSummary aggregates live rows server-side per the filter,
	// ordered by bucket ascending. The filter is validated before any
	// query runs.
	CostSummary(ctx context.Context, f models.CostFilter) ([]models.CostBucket, error)

	// Close releases the underlying pool or file handle.
	Close() error
}

// ReadyState tracks whether a handle has run its schema setup. Schema
// creation is lazy: the first operation moves the handle from
// Uninitialized to Ready, and later operations skip the DDL.
type ReadyState int

const (
	Uninitialized ReadyState = iota
	Ready
)
