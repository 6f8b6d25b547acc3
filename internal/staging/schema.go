// Package staging projects the latest raw payload per natural key into
// typed staging rows, one table per entity kind. Upserts are last-write-wins
// on the full value column set.
package staging

import (
	"fmt"
	"strings"

	"github.com/lib/pq"

	"courseflow/internal/entity"
)

// Row is one extracted staging row: natural key parts and value columns,
// positionally matching the schema's column lists.
type Row struct {
	Key    []any
	Values []any
}

// Schema describes one staging table: where rows go, which columns identify
// them, and how to extract them from a raw payload.
type Schema struct {
	Kind         entity.Kind
	Table        string
	KeyColumns   []string
	ValueColumns []string
	Extract      func(doc entity.Document) (Row, error)
}

// upsertSQL builds the parameterized insert for the schema. Parameter order
// is source_id, key columns, value columns, last_extracted_at. Conflicts on
// the primary key overwrite every value column unconditionally.
func (s Schema) upsertSQL() string {
	cols := make([]string, 0, len(s.KeyColumns)+len(s.ValueColumns)+2)
	cols = append(cols, "source_id")
	cols = append(cols, s.KeyColumns...)
	cols = append(cols, s.ValueColumns...)
	cols = append(cols, "last_extracted_at")

	quoted := make([]string, len(cols))
	placeholders := make([]string, len(cols))
	for i, col := range cols {
		quoted[i] = pq.QuoteIdentifier(col)
		placeholders[i] = fmt.Sprintf("$%d", i+1)
	}

	conflict := make([]string, 0, len(s.KeyColumns)+1)
	conflict = append(conflict, pq.QuoteIdentifier("source_id"))
	for _, col := range s.KeyColumns {
		conflict = append(conflict, pq.QuoteIdentifier(col))
	}

	updates := make([]string, 0, len(s.ValueColumns)+1)
	for _, col := range s.ValueColumns {
		q := pq.QuoteIdentifier(col)
		updates = append(updates, fmt.Sprintf("%s = EXCLUDED.%s", q, q))
	}
	updates = append(updates, `last_extracted_at = EXCLUDED.last_extracted_at`)

	return fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s",
		pq.QuoteIdentifier(s.Table),
		strings.Join(quoted, ", "),
		strings.Join(placeholders, ", "),
		strings.Join(conflict, ", "),
		strings.Join(updates, ", "),
	)
}
