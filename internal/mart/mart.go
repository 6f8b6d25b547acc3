// Package mart rebuilds the denormalized course performance projection.
// The mart is disposable state: every rebuild replaces it wholesale from
// staging, so a rebuild after identical transforms yields identical rows.
package mart

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"courseflow/internal/platform/metrics"
	dErrors "courseflow/pkg/errors"
)

// rebuildSQL repopulates the mart from staging. The fact grain is one row
// per (source, course, user): enrolments drive the row set, so a student
// with zero grade items still appears, with null performance. Items with a
// zero or null maximum are excluded from the average rather than divided.
// Completion states 1 and 2 both mean complete upstream.
const rebuildSQL = `
INSERT INTO mart_course_performance (
    source_id, course_id, course_name, user_id, user_name, role_shortname,
    grade_item_count, graded_item_count, avg_performance, completed, rebuilt_at
)
SELECT
    e.source_id,
    e.course_id,
    c.fullname,
    e.user_id,
    TRIM(COALESCE(u.firstname, '') || ' ' || COALESCE(u.lastname, '')),
    COALESCE(e.role_shortname, r.shortname),
    COUNT(DISTINCT gi.item_id),
    COUNT(DISTINCT g.item_id) FILTER (WHERE g.final_grade IS NOT NULL),
    AVG(CASE WHEN g.grade_max > 0 THEN g.final_grade / g.grade_max * 100 END),
    COALESCE(BOOL_OR(cp.completion_state IN (1, 2)), FALSE),
    $1
FROM stg_enrolments e
JOIN stg_courses c
    ON c.source_id = e.source_id AND c.course_id = e.course_id
JOIN stg_users u
    ON u.source_id = e.source_id AND u.user_id = e.user_id
LEFT JOIN stg_roles r
    ON r.source_id = e.source_id AND r.role_id = e.role_id
LEFT JOIN stg_grade_items gi
    ON gi.source_id = e.source_id AND gi.course_id = e.course_id
LEFT JOIN stg_grades g
    ON g.source_id = e.source_id
   AND g.user_id = e.user_id
   AND g.item_id = gi.item_id
LEFT JOIN stg_completions cp
    ON cp.source_id = e.source_id
   AND cp.course_id = e.course_id
   AND cp.user_id = e.user_id
GROUP BY
    e.source_id, e.course_id, c.fullname, e.user_id,
    u.firstname, u.lastname, e.role_shortname, r.shortname
ORDER BY e.source_id, e.course_id, e.user_id`

// Builder rebuilds the mart from staging state.
type Builder struct {
	db      *sql.DB
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type BuilderOption func(*Builder)

func WithMetrics(m *metrics.Metrics) BuilderOption {
	return func(b *Builder) { b.metrics = m }
}

func NewBuilder(db *sql.DB, logger *slog.Logger, opts ...BuilderOption) *Builder {
	b := &Builder{db: db, logger: logger}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = slog.Default()
	}
	return b
}

// Rebuild truncates and repopulates the mart in one transaction, so readers
// never observe a partially built projection. Returns the row count.
func (b *Builder) Rebuild(ctx context.Context) (int64, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodePersistence, "begin mart rebuild")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `TRUNCATE mart_course_performance`); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodePersistence, "truncate mart")
	}

	// rebuilt_at is operational metadata; fact columns and row order are
	// fully determined by staging content.
	res, err := tx.ExecContext(ctx, rebuildSQL, time.Now().UTC())
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodePersistence, "populate mart")
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodePersistence, "count mart rows")
	}

	if err := tx.Commit(); err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodePersistence, "commit mart rebuild")
	}

	if b.metrics != nil {
		b.metrics.MartRows.Set(float64(rows))
	}
	b.logger.InfoContext(ctx, "mart rebuilt", "rows", rows)
	return rows, nil
}
