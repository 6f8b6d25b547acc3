package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"time"

	"courseflow/internal/entity"
	"courseflow/internal/platform/metrics"
	dErrors "courseflow/pkg/errors"
)

// latestRawSQL picks, per (source, natural key), the newest raw row for a
// kind. Ties on extracted_at break toward the later insert. Rows without a
// natural key never reach staging.
const latestRawSQL = `
SELECT DISTINCT ON (source_id, natural_key)
       source_id, natural_key, payload, extracted_at
FROM raw_records
WHERE entity_kind = $1 AND natural_key IS NOT NULL
ORDER BY source_id, natural_key, extracted_at DESC, id DESC`

// Result reports a transform run outcome.
type Result struct {
	Upserted int
	Skipped  int
}

// Engine merges the latest raw state into typed staging tables.
type Engine struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type EngineOption func(*Engine)

func WithMetrics(m *metrics.Metrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

func NewEngine(db *sql.DB, logger *slog.Logger, opts ...EngineOption) *Engine {
	e := &Engine{db: db, logger: logger}
	for _, opt := range opts {
		opt(e)
	}
	if e.logger == nil {
		e.logger = slog.Default()
	}
	return e
}

// Transform projects the latest raw records of one kind into its staging
// table. The whole run is one transaction; a record that fails field
// extraction is skipped and logged without aborting its peers. Re-running
// with no new raw data rewrites the same values.
func (e *Engine) Transform(ctx context.Context, kind entity.Kind) (Result, error) {
	schema, err := SchemaFor(kind)
	if err != nil {
		return Result{}, err
	}

	rows, err := e.db.QueryContext(ctx, latestRawSQL, string(kind))
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodePersistence, "query latest raw records")
	}
	defer rows.Close()

	type candidate struct {
		sourceID    string
		naturalKey  string
		payload     []byte
		extractedAt time.Time
	}
	var candidates []candidate
	for rows.Next() {
		var c candidate
		if err := rows.Scan(&c.sourceID, &c.naturalKey, &c.payload, &c.extractedAt); err != nil {
			return Result{}, dErrors.Wrap(err, dErrors.CodePersistence, "scan raw record")
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodePersistence, "iterate raw records")
	}

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodePersistence, "begin transform transaction")
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, schema.upsertSQL())
	if err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodePersistence, "prepare staging upsert")
	}
	defer stmt.Close()

	var result Result
	for _, c := range candidates {
		var doc entity.Document
		if err := json.Unmarshal(c.payload, &doc); err != nil {
			result.Skipped++
			e.logger.WarnContext(ctx, "skipping undecodable payload",
				"entity", string(kind), "source", c.sourceID, "key", c.naturalKey, "error", err.Error())
			continue
		}

		row, err := schema.Extract(doc)
		if err != nil {
			result.Skipped++
			e.logger.WarnContext(ctx, "skipping record, extraction failed",
				"entity", string(kind), "source", c.sourceID, "key", c.naturalKey, "error", err.Error())
			continue
		}

		args := make([]any, 0, len(row.Key)+len(row.Values)+2)
		args = append(args, c.sourceID)
		args = append(args, row.Key...)
		args = append(args, row.Values...)
		args = append(args, c.extractedAt)
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return Result{}, dErrors.Wrap(err, dErrors.CodePersistence, "upsert staging row")
		}
		result.Upserted++
	}

	if err := tx.Commit(); err != nil {
		return Result{}, dErrors.Wrap(err, dErrors.CodePersistence, "commit transform")
	}

	if e.metrics != nil {
		e.metrics.RowsStaged.WithLabelValues(string(kind)).Add(float64(result.Upserted))
		e.metrics.RecordsSkipped.WithLabelValues(string(kind)).Add(float64(result.Skipped))
	}
	e.logger.InfoContext(ctx, "transform complete",
		"entity", string(kind), "upserted", result.Upserted, "skipped", result.Skipped)
	return result, nil
}
