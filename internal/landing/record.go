// Package landing appends raw payloads durably, deduplicated by content.
// The landing log is append-only: rows are never mutated after insert.
package landing

import (
	"log/slog"
	"time"

	"courseflow/internal/entity"
	"courseflow/pkg/canonical"
	dErrors "courseflow/pkg/errors"
)

// RawRecord is one immutable landing row.
type RawRecord struct {
	SourceID    string
	EntityKind  entity.Kind
	NaturalKey  *string
	Payload     []byte
	ExtractedAt time.Time
	ContentHash []byte
}

// Prepare turns extracted documents into landing rows: canonical payload,
// content hash, derived natural key, and a batch-wide extraction stamp.
// Documents failing the per-kind schema check are still landed (the raw log
// keeps everything the source said) but the count is reported so the caller
// can log it.
func Prepare(sourceID string, kind entity.Kind, docs []entity.Document, logger *slog.Logger) ([]RawRecord, int, error) {
	extractedAt := time.Now().UTC()
	records := make([]RawRecord, 0, len(docs))
	invalid := 0

	for _, doc := range docs {
		if err := entity.Validate(kind, doc); err != nil {
			invalid++
			if logger != nil {
				logger.Warn("schema validation failed, landing anyway",
					"source", sourceID,
					"entity", string(kind),
					"error", err.Error(),
				)
			}
		}

		payload, err := canonical.Marshal(map[string]any(doc))
		if err != nil {
			return nil, invalid, dErrors.Wrap(err, dErrors.CodeValidation, "serialize payload")
		}
		hash, err := canonical.Hash(map[string]any(doc))
		if err != nil {
			return nil, invalid, dErrors.Wrap(err, dErrors.CodeValidation, "hash payload")
		}

		record := RawRecord{
			SourceID:    sourceID,
			EntityKind:  kind,
			Payload:     payload,
			ExtractedAt: extractedAt,
			ContentHash: hash,
		}
		if key, ok := entity.NaturalKey(kind, doc); ok {
			record.NaturalKey = &key
		}
		records = append(records, record)
	}

	return records, invalid, nil
}
