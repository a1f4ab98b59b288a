// Package sqlite implements the completion store on an embedded
// single-file SQLite database. JSON values are stored as text and
// decoded at the store boundary.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"github.com/binarymax/llm-primitives/pkg/fingerprint"
	"github.com/binarymax/llm-primitives/pkg/models"
	"github.com/binarymax/llm-primitives/pkg/store"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS completions (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	model       TEXT NOT NULL,
	prompt_hash TEXT NOT NULL,
	prompt      TEXT NOT NULL,
	response    TEXT NOT NULL,
	gold        TEXT,
	label       TEXT DEFAULT 'new',
	took        INTEGER,
	cost        NUMERIC,
	groupid     TEXT,
	created     DATETIME DEFAULT CURRENT_TIMESTAMP,
	updated     DATETIME,
	isdeleted   BOOLEAN DEFAULT 0
);
`

const selectColumns = `id, model, prompt_hash, prompt, response, gold, label, took, cost, groupid, created, updated`

// Store is the embedded-file completion store.
type Store struct {
	db *sql.DB

	mu    sync.Mutex
	state store.ReadyState
}

var _ store.Store = (*Store)(nil)

// Open creates a Store backed by the SQLite file at path. The schema is
// created lazily on first use, not here.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open completions db: %w", err)
	}
	// One writer on the embedded file; operations serialize here.
	db.SetMaxOpenConns(1)
	return &Store{db: db}, nil
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

// FindExact matches the serialized prompt text verbatim. An empty
// groupID matches only rows with no group.
func (s *Store) FindExact(ctx context.Context, prompt any, groupID string) ([]models.CompletionRecord, error) {
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}
	data, err := json.Marshal(prompt)
	if err != nil {
		return nil, fmt.Errorf("encode prompt: %w", err)
	}

	query := `SELECT ` + selectColumns + ` FROM completions WHERE prompt = ? AND isdeleted = 0`
	args := []any{string(data)}
	if groupID == "" {
		query += ` AND groupid IS NULL`
	} else {
		query += ` AND groupid = ?`
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

	query := `SELECT ` + selectColumns + ` FROM completions WHERE model = ? AND prompt_hash = ? AND isdeleted = 0`
	args := []any{model, hash}
	if groupID != "" {
		query += ` AND groupid = ?`
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
// new row id. There is no key-level lock: racing writers for the same
// key both insert, and readers pick the lowest id.
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

	res, err := tx.ExecContext(ctx,
		`INSERT INTO completions (model, prompt_hash, prompt, response, label, took, cost, groupid)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		model, fingerprint.Sum(promptData), string(promptData), string(responseData),
		models.LabelNew, tookMs, cost, nullable(groupID),
	)
	if err != nil {
		return 0, fmt.Errorf("create completion: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("completion id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit create: %w", err)
	}
	return id, nil
}

// CostSummary aggregates live rows with COUNT/SUM/AVG pushed down to
// the engine. Buckets are group ids, or truncated timestamps when an
// interval is requested.
func (s *Store) CostSummary(ctx context.Context, f models.CostFilter) ([]models.CostBucket, error) {
	if err := f.Validate(); err != nil {
		return nil, err
	}
	if err := s.ensureReady(ctx); err != nil {
		return nil, err
	}

	filters := []string{"isdeleted = 0"}
	var args []any
	if f.GroupID != "" {
		filters = append(filters, "groupid = ?")
		args = append(args, f.GroupID)
	}
	if !f.Start.IsZero() {
		filters = append(filters, "created >= ?")
		args = append(args, f.Start.UTC().Format(timeLayout))
	}
	if !f.End.IsZero() {
		filters = append(filters, "created < ?")
		args = append(args, f.End.UTC().Format(timeLayout))
	}

	groupExpr := `COALESCE(groupid, '')`
	switch f.Interval {
	case models.IntervalDay:
		groupExpr = `strftime('%Y-%m-%d', created)`
	case models.IntervalHour:
		groupExpr = `strftime('%Y-%m-%d %H:00:00', created)`
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

// Close releases the database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// timeLayout matches the text form CURRENT_TIMESTAMP writes, so range
// filters compare lexicographically against stored values.
const timeLayout = "2006-01-02 15:04:05"

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
			prompt, resp string
			gold, label  sql.NullString
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
		if gold.Valid {
			rec.Gold = validJSON(rec.ID, "gold", gold.String)
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

// validJSON returns the stored text as raw JSON, or nil for a corrupt
// value. A bad field degrades to null instead of failing the read.
func validJSON(id int64, column, text string) json.RawMessage {
	raw := json.RawMessage(text)
	if !json.Valid(raw) {
		log.Warn().Int64("id", id).Str("column", column).Msg("completion row holds malformed JSON")
		return nil
	}
	return raw
}
