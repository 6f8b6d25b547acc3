package landing

import (
	"context"
	"database/sql"
	"log/slog"

	"courseflow/internal/platform/metrics"
	dErrors "courseflow/pkg/errors"
)

const insertSQL = `
INSERT INTO raw_records (source_id, entity_kind, natural_key, payload, extracted_at, content_hash)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (source_id, entity_kind, natural_key, extracted_at) DO NOTHING`

// Result reports a landing batch outcome: processed minus skipped, never a
// silent undercount.
type Result struct {
	Landed  int
	Deduped int
	Invalid int
}

// Store appends raw records in one transaction per batch.
type Store struct {
	db      *sql.DB
	cache   *Cache
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// StoreOption configures optional collaborators.
type StoreOption func(*Store)

func WithCache(cache *Cache) StoreOption {
	return func(s *Store) { s.cache = cache }
}

func WithMetrics(m *metrics.Metrics) StoreOption {
	return func(s *Store) { s.metrics = m }
}

func NewStore(db *sql.DB, logger *slog.Logger, opts ...StoreOption) *Store {
	s := &Store{db: db, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	return s
}

// Append lands a batch atomically. Conflicting rows (same source, entity,
// natural key, and extract time) are no-ops; any insert failure rolls the
// whole batch back. An empty batch logs a warning and reports zero.
func (s *Store) Append(ctx context.Context, records []RawRecord) (Result, error) {
	if len(records) == 0 {
		s.logger.WarnContext(ctx, "no records to land")
		return Result{}, nil
	}

	sourceID := records[0].SourceID
	kind := string(records[0].EntityKind)

	// The cache is a cheap pre-filter, never authoritative: a record whose
	// content still matches the last landed state for its identity is
	// skipped before touching postgres. Cache errors fall through to the
	// insert.
	toInsert := records
	cacheSkipped := 0
	if s.cache != nil {
		toInsert = make([]RawRecord, 0, len(records))
		for _, r := range records {
			if s.cache.Seen(ctx, r) {
				cacheSkipped++
				continue
			}
			toInsert = append(toInsert, r)
		}
	}

	result := Result{Deduped: cacheSkipped}
	if len(toInsert) > 0 {
		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return Result{}, dErrors.Wrap(err, dErrors.CodePersistence, "begin landing transaction")
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, insertSQL)
		if err != nil {
			return Result{}, dErrors.Wrap(err, dErrors.CodePersistence, "prepare landing insert")
		}
		defer stmt.Close()

		for _, r := range toInsert {
			res, err := stmt.ExecContext(ctx,
				r.SourceID, string(r.EntityKind), r.NaturalKey, r.Payload, r.ExtractedAt, r.ContentHash)
			if err != nil {
				return Result{}, dErrors.Wrap(err, dErrors.CodePersistence, "insert raw record")
			}
			affected, err := res.RowsAffected()
			if err != nil {
				return Result{}, dErrors.Wrap(err, dErrors.CodePersistence, "read rows affected")
			}
			if affected == 0 {
				result.Deduped++
			} else {
				result.Landed++
			}
		}

		if err := tx.Commit(); err != nil {
			return Result{}, dErrors.Wrap(err, dErrors.CodePersistence, "commit landing batch")
		}
	}

	if s.cache != nil {
		s.cache.Mark(ctx, toInsert)
	}
	if s.metrics != nil {
		s.metrics.RecordsLanded.WithLabelValues(sourceID, kind).Add(float64(result.Landed))
		s.metrics.RecordsDeduped.WithLabelValues(sourceID, kind).Add(float64(result.Deduped))
	}

	s.logger.InfoContext(ctx, "landed batch",
		"source", sourceID,
		"entity", kind,
		"landed", result.Landed,
		"deduped", result.Deduped,
	)
	return result, nil
}
