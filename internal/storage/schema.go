// Package storage owns the relational schema: the append-only raw landing
// log, one typed staging table per entity kind, and the mart. The DDL is
// idempotent so every process can apply it at startup.
package storage

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaDDL = `
CREATE TABLE IF NOT EXISTS raw_records (
    id            BIGSERIAL PRIMARY KEY,
    source_id     TEXT        NOT NULL,
    entity_kind   TEXT        NOT NULL,
    natural_key   TEXT,
    payload       JSONB       NOT NULL,
    extracted_at  TIMESTAMPTZ NOT NULL,
    content_hash  BYTEA       NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS raw_records_identity
    ON raw_records (source_id, entity_kind, natural_key, extracted_at)
    NULLS NOT DISTINCT;

CREATE INDEX IF NOT EXISTS raw_records_latest
    ON raw_records (entity_kind, source_id, natural_key, extracted_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS stg_users (
    source_id         TEXT        NOT NULL,
    user_id           BIGINT      NOT NULL,
    username          TEXT        NOT NULL,
    firstname         TEXT,
    lastname          TEXT,
    email             TEXT,
    last_extracted_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (source_id, user_id)
);

CREATE TABLE IF NOT EXISTS stg_courses (
    source_id         TEXT        NOT NULL,
    course_id         BIGINT      NOT NULL,
    shortname         TEXT,
    fullname          TEXT        NOT NULL,
    category_id       BIGINT,
    visible           BOOLEAN,
    start_date        TIMESTAMPTZ,
    end_date          TIMESTAMPTZ,
    last_extracted_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (source_id, course_id)
);

CREATE TABLE IF NOT EXISTS stg_roles (
    source_id         TEXT        NOT NULL,
    role_id           BIGINT      NOT NULL,
    shortname         TEXT        NOT NULL,
    name              TEXT,
    sortorder         BIGINT,
    last_extracted_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (source_id, role_id)
);

CREATE TABLE IF NOT EXISTS stg_enrolments (
    source_id         TEXT        NOT NULL,
    course_id         BIGINT      NOT NULL,
    user_id           BIGINT      NOT NULL,
    role_id           BIGINT,
    role_shortname    TEXT,
    first_access      TIMESTAMPTZ,
    last_access       TIMESTAMPTZ,
    last_extracted_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (source_id, course_id, user_id)
);

CREATE TABLE IF NOT EXISTS stg_enrolment_methods (
    source_id         TEXT        NOT NULL,
    course_id         BIGINT      NOT NULL,
    method_id         BIGINT      NOT NULL,
    type              TEXT,
    status            BOOLEAN,
    last_extracted_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (source_id, course_id, method_id)
);

CREATE TABLE IF NOT EXISTS stg_grade_items (
    source_id         TEXT        NOT NULL,
    item_id           BIGINT      NOT NULL,
    course_id         BIGINT,
    item_name         TEXT,
    item_type         TEXT,
    grade_min         DOUBLE PRECISION,
    grade_max         DOUBLE PRECISION,
    last_extracted_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (source_id, item_id)
);

CREATE TABLE IF NOT EXISTS stg_grades (
    source_id         TEXT        NOT NULL,
    user_id           BIGINT      NOT NULL,
    item_id           BIGINT      NOT NULL,
    course_id         BIGINT,
    final_grade       DOUBLE PRECISION,
    grade_max         DOUBLE PRECISION,
    last_extracted_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (source_id, user_id, item_id)
);

CREATE TABLE IF NOT EXISTS stg_completions (
    source_id         TEXT        NOT NULL,
    course_id         BIGINT      NOT NULL,
    user_id           BIGINT      NOT NULL,
    completion_state  BIGINT,
    time_completed    TIMESTAMPTZ,
    last_extracted_at TIMESTAMPTZ NOT NULL,
    PRIMARY KEY (source_id, course_id, user_id)
);

CREATE TABLE IF NOT EXISTS mart_course_performance (
    source_id         TEXT        NOT NULL,
    course_id         BIGINT      NOT NULL,
    course_name       TEXT,
    user_id           BIGINT      NOT NULL,
    user_name         TEXT,
    role_shortname    TEXT,
    grade_item_count  BIGINT      NOT NULL,
    graded_item_count BIGINT      NOT NULL,
    avg_performance   DOUBLE PRECISION,
    completed         BOOLEAN     NOT NULL,
    rebuilt_at        TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS mart_course_performance_source
    ON mart_course_performance (source_id, course_id, user_id);
`

// EnsureSchema applies the engine schema. Safe to run on every startup.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schemaDDL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}
