package landing

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseflow/internal/entity"
)

func TestPrepareBatchStamp(t *testing.T) {
	docs := []entity.Document{
		{"id": float64(1), "username": "alice"},
		{"id": float64(2), "username": "bob"},
	}

	records, invalid, err := Prepare("source1", entity.KindUser, docs, nil)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, 0, invalid)

	// All rows from one extraction share the same stamp.
	assert.Equal(t, records[0].ExtractedAt, records[1].ExtractedAt)
	assert.Equal(t, records[0].ExtractedAt.UTC(), records[0].ExtractedAt)
}

func TestPrepareNaturalKey(t *testing.T) {
	records, _, err := Prepare("source1", entity.KindUser, []entity.Document{
		{"id": float64(42), "username": "alice"},
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, records[0].NaturalKey)
	assert.Equal(t, "42", *records[0].NaturalKey)
}

func TestPrepareHashIgnoresKeyOrder(t *testing.T) {
	a, _, err := Prepare("source1", entity.KindUser, []entity.Document{
		{"id": float64(1), "username": "alice", "email": "a@example.org"},
	}, nil)
	require.NoError(t, err)
	b, _, err := Prepare("source1", entity.KindUser, []entity.Document{
		{"email": "a@example.org", "username": "alice", "id": float64(1)},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, a[0].ContentHash, b[0].ContentHash)
	assert.Equal(t, a[0].Payload, b[0].Payload)
}

func TestPrepareHashChangesWithContent(t *testing.T) {
	a, _, err := Prepare("source1", entity.KindUser, []entity.Document{
		{"id": float64(1), "username": "alice"},
	}, nil)
	require.NoError(t, err)
	b, _, err := Prepare("source1", entity.KindUser, []entity.Document{
		{"id": float64(1), "username": "alice2"},
	}, nil)
	require.NoError(t, err)

	assert.NotEqual(t, a[0].ContentHash, b[0].ContentHash)
}

func TestPrepareLandsInvalidDocuments(t *testing.T) {
	records, invalid, err := Prepare("source1", entity.KindUser, []entity.Document{
		{"id": float64(1), "username": "alice"},
		{"username": "no-id"},
	}, nil)
	require.NoError(t, err)

	assert.Equal(t, 1, invalid)
	assert.Len(t, records, 2)
	assert.Nil(t, records[1].NaturalKey)
}

func TestPrepareEmptyBatch(t *testing.T) {
	records, invalid, err := Prepare("source1", entity.KindCourse, nil, nil)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.Equal(t, 0, invalid)
}
