package staging

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"courseflow/internal/entity"
	dErrors "courseflow/pkg/errors"
)

func TestSchemaForUnknownKind(t *testing.T) {
	_, err := SchemaFor(entity.Kind("widget"))
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeBadRequest, dErrors.CodeOf(err))
}

func TestExtractUser(t *testing.T) {
	row, err := extractUser(entity.Document{
		"id":        float64(7),
		"username":  "alice",
		"firstname": "Alice",
		"email":     "alice@example.org",
	})
	require.NoError(t, err)

	assert.Equal(t, []any{int64(7)}, row.Key)
	require.Len(t, row.Values, 4)
	assert.Equal(t, "alice", row.Values[0])
	assert.Equal(t, "Alice", *row.Values[1].(*string))
	assert.Nil(t, row.Values[2].(*string))
	assert.Equal(t, "alice@example.org", *row.Values[3].(*string))
}

func TestExtractUserMissingRequiredField(t *testing.T) {
	_, err := extractUser(entity.Document{"id": float64(7)})
	require.Error(t, err)
	assert.Equal(t, dErrors.CodeValidation, dErrors.CodeOf(err))
}

func TestExtractCourseTimestamps(t *testing.T) {
	row, err := extractCourse(entity.Document{
		"id":        float64(3),
		"fullname":  "Linear Algebra",
		"visible":   float64(1),
		"startdate": float64(1700000000),
		"enddate":   float64(0),
	})
	require.NoError(t, err)

	start := row.Values[4].(*time.Time)
	require.NotNil(t, start)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), *start)
	// Zero epoch means "not set" upstream.
	assert.Nil(t, row.Values[5].(*time.Time))
	assert.True(t, *row.Values[3].(*bool))
}

func TestExtractEnrolmentPicksLowestRoleID(t *testing.T) {
	row, err := extractEnrolment(entity.Document{
		"id":        float64(11),
		"course_id": float64(3),
		"roles": []any{
			map[string]any{"roleid": float64(5), "shortname": "student"},
			map[string]any{"roleid": float64(3), "shortname": "teacher"},
		},
	})
	require.NoError(t, err)

	assert.Equal(t, []any{int64(3), int64(11)}, row.Key)
	assert.Equal(t, int64(3), *row.Values[0].(*int64))
	assert.Equal(t, "teacher", *row.Values[1].(*string))
}

func TestExtractEnrolmentNoRoles(t *testing.T) {
	row, err := extractEnrolment(entity.Document{
		"id":        float64(11),
		"course_id": float64(3),
	})
	require.NoError(t, err)
	assert.Nil(t, row.Values[0].(*int64))
	assert.Nil(t, row.Values[1].(*string))
}

func TestExtractGrade(t *testing.T) {
	row, err := extractGrade(entity.Document{
		"userid":     float64(11),
		"itemid":     float64(42),
		"course_id":  float64(3),
		"finalgrade": float64(85),
		"grademax":   float64(100),
	})
	require.NoError(t, err)

	assert.Equal(t, []any{int64(11), int64(42)}, row.Key)
	assert.Equal(t, float64(85), *row.Values[1].(*float64))
	assert.Equal(t, float64(100), *row.Values[2].(*float64))
}

func TestExtractGradeNullFinal(t *testing.T) {
	row, err := extractGrade(entity.Document{
		"userid": float64(11),
		"itemid": float64(42),
	})
	require.NoError(t, err)
	assert.Nil(t, row.Values[1].(*float64))
}

func TestExtractCompletion(t *testing.T) {
	row, err := extractCompletion(entity.Document{
		"course_id":       float64(3),
		"userid":          float64(11),
		"completionstate": float64(2),
		"timecompleted":   float64(1700000500),
	})
	require.NoError(t, err)

	assert.Equal(t, []any{int64(3), int64(11)}, row.Key)
	assert.Equal(t, int64(2), *row.Values[0].(*int64))
	require.NotNil(t, row.Values[1].(*time.Time))
}

func TestExtractEnrolmentMethodStatusEncodings(t *testing.T) {
	byNumber, err := extractEnrolmentMethod(entity.Document{
		"id": float64(1), "course_id": float64(3), "type": "manual", "status": float64(1),
	})
	require.NoError(t, err)
	assert.True(t, *byNumber.Values[1].(*bool))

	byBool, err := extractEnrolmentMethod(entity.Document{
		"id": float64(1), "course_id": float64(3), "status": false,
	})
	require.NoError(t, err)
	assert.False(t, *byBool.Values[1].(*bool))
}
