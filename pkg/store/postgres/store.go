// Package postgres implements the completion store on PostgreSQL.
// Prompt, response, and gold are native JSONB columns, so the engine
// can index and query into them directly.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/binarymax/llm-primitives/pkg/fingerprint"
	"github.com/binarymax/llm-primitives/pkg/models"
	"github.com/binarymax/llm-primitives/pkg/store"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS completions (
	id          SERIAL PRIMARY KEY,
	model       TEXT     NOT NULL,
	prompt_hash TEXT     NOT NULL,
	prompt      JSONB    NOT NULL,
	response    JSONB    NOT NULL,
	gold        JSONB,
	label       TEXT     DEFAULT 'new',
	took        INTEGER,
	cost        NUMERIC,
	groupid     TEXT,
	created     TIMESTAMPTZ DEFAULT NOW(),
	updated     TIMESTAMPTZ,
	isdeleted   BOOLEAN  DEFAULT FALSE
);
`

const selectColumns = `id, model, prompt_hash, prompt, response, gold, label, took, cost, groupid, created, updated`

// Store is the networked completion store. It shares the pool it is
// given; callers size the pool, the store only acquires and releases.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	state store.ReadyState
}

var _ store.Store = (*Store)(nil)

// New wraps an existing connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Open connects with the given DSN and wraps the resulting pool.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open completions db: %w", err)
	}
	return New(db), nil
}

// ensureReady runs the idempotent schema setup once per handle.
func (s *Store) ensureReady(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == store.Ready {
		return nil
	}
	if _, err := s.db.ExecContext(ctx, createTableSQL); err != nil {
		return fmt.Errorf("migrate completions db: %w", err)
	}
	s.state = store.Ready
	return nil
}

// FindExact matches the prompt as a JSONB value, so key order inside
// the stored document does not affect equality. An empty groupID
// matches only rows with no group.
func (s *Store) FindExact(ctx context.Context, prompt any, groupID string) ([]models.CompletionRecord, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	data, err := json.Marshal(prompt)
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}

	query := `SELECT ` + selectColumns + ` FROM completions WHERE prompt = $1::jsonb AND isdeleted = FALSE`
	args := []any{string(data)}
	if groupID == "" {
		query += ` AND groupid IS NULL`
	} else {
		query += ` AND groupid = $2`
		args = append(args, groupID)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find by prompt: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// FindByHash matches on (model, fingerprint). An empty groupID is a
// wildcard across groups.
func (s *Store) FindByHash(ctx context.Context, model string, prompt any, groupID string) ([]models.CompletionRecord, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	hash, err := fingerprint.Hash(prompt)
	if err != nil {
		return nil, err
	}

	query := `SELECT ` + selectColumns + ` FROM completions WHERE model = $1 AND prompt_hash = $2 AND isdeleted = FALSE`
	args := []any{model, hash}
	if groupID != "" {
		query += ` AND groupid = $3`
		args = append(args, groupID)
	}
	query += ` ORDER BY id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("find by prompt hash: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Create inserts a completed call inside a transaction and returns the
// id from RETURNING. Racing writers for the same key both insert;
// readers pick the lowest id.
func (s *Store) Create(ctx context.Context, model string, prompt, response any, tookMs int64, cost float64, groupID string) (int64, error) {
	if err := s.ensureReady(ctx); err != nil {
		return 0, err
	}
	promptData, err := json.Marshal(prompt)
	if err != nil {
		return 0, fmt.Errorf("encode prompt: %w", err)
	}
	responseData, err := json.Marshal(response)
	if err != nil {
		return 0, fmt.Errorf("encode response: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin create: %w", err)
	}
	defer tx.Rollback()

	var id int64
	err = tx.QueryRowContext(ctx,
		`INSERT INTO completions (model, prompt_hash, prompt, response, label, took, cost, groupid)
		 VALUES ($1, $2, $3::jsonb, $4::jsonb, $5, $6, $7, $8)
		 RETURNING id`,
		model, fingerprint.Sum(promptData), string(promptData), string(responseData),
		models.LabelNew, tookMs, cost, nullable(groupID),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("create completion: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create: %w", err)
	}
	return id, nil
}

// CostSummary aggregates live rows server-side. Interval buckets are
// rendered with to_char in the same text shapes the SQLite backend
// produces, so summaries stay comparable across engines.
func (s *Store) CostSummary(ctx context.Context, f models.CostFilter) ([]models.CostBucket, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}

	filters := []string{"isdeleted = FALSE"}
	var args []any
	idx := 1
	if f.GroupID != "" {
		filters = append(filters, fmt.Sprintf("groupid = $%d", idx))
		args = append(args, f.GroupID)
		idx++
	}
	if !f.Start.IsZero() {
		filters = append(filters, fmt.Sprintf("created >= $%d", idx))
		args = append(args, f.Start.UTC())
		idx++
	}
	if !f.End.IsZero() {
		filters = append(filters, fmt.Sprintf("created < $%d", idx))
		args = append(args, f.End.UTC())
		idx++
	}

	groupExpr := `COALESCE(groupid, '')`
	switch f.Interval {
	case models.IntervalDay:
		groupExpr = `to_char(date_trunc('day', created), 'YYYY-MM-DD')`
	case models.IntervalHour:
		groupExpr = `to_char(date_trunc('hour', created), 'YYYY-MM-DD HH24:00:00')`
	}

	query := `SELECT ` + groupExpr + ` AS bucket, COUNT(*), SUM(cost), AVG(cost)
		 FROM completions
		 WHERE ` + strings.Join(filters, " AND ") + `
		 GROUP BY bucket
		 ORDER BY bucket ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("cost summary: %w", err)
	}
	defer rows.Close()

	var buckets []models.CostBucket
	for rows.Next() {
		var b models.CostBucket
		var total, avg sql.NullFloat64
		if err := rows.Scan(&b.Bucket, &b.Count, &total, &avg); err != nil {
			return nil, fmt.Errorf("scan cost bucket: %w", err)
		}
		b.TotalCost = total.Float64
		b.AvgCost = avg.Float64
		buckets = append(buckets, b)
	}
	return buckets, rows.Err()
}

// Close releases the connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanRecords(rows *sql.Rows) ([]models.CompletionRecord, error) {
	var records []models.CompletionRecord
	for rows.Next() {
		var (
			rec          models.CompletionRecord
			prompt, resp []byte
			gold         []byte
			label        sql.NullString
			took         sql.NullInt64
			cost         sql.NullFloat64
			groupID      sql.NullString
			updated      sql.NullTime
		)
		if err := rows.Scan(&rec.ID, &rec.Model, &rec.PromptHash, &prompt, &resp, &gold,
			&label, &took, &cost, &groupID, &rec.Created, &updated); err != nil {
			return nil, fmt.Errorf("scan completion: %w", err)
		}
		rec.Prompt = validJSON(rec.ID, "prompt", prompt)
		rec.Response = validJSON(rec.ID, "response", resp)
		if gold != nil {
			rec.Gold = validJSON(rec.ID, "gold", gold)
		}
		rec.Label = label.String
		if took.Valid {
			rec.Took = &took.Int64
		}
		if cost.Valid {
			rec.Cost = &cost.Float64
		}
		if groupID.Valid {
			rec.GroupID = &groupID.String
		}
		if updated.Valid {
			rec.Updated = &updated.Time
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// validJSON hands back the stored bytes as raw JSON, or nil for a
// corrupt value. JSONB should make corruption impossible, but the read
// path degrades the same way the text backend does.
func validJSON(id int64, column string, data []byte) json.RawMessage {
	raw := json.RawMessage(data)
	if !json.Valid(raw) {
		log.Warn().Int64("id", id).Str("column", column).Msg("completion row holds malformed JSON")
		return nil
	}
	return raw
}
