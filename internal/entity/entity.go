// Package entity fixes the categories of data the engine extracts and the
// per-kind rules shared by every stage: required payload fields and natural
// key derivation.
package entity

import (
	"fmt"
	"strings"

	dErrors "courseflow/pkg/errors"
)

// Kind is one of the fixed entity categories.
type Kind string

const (
	KindUser            Kind = "user"
	KindCourse          Kind = "course"
	KindRole            Kind = "role"
	KindEnrolment       Kind = "enrolment"
	KindEnrolmentMethod Kind = "enrolment_method"
	KindGradeItem       Kind = "grade_item"
	KindGrade           Kind = "grade"
	KindCompletion      Kind = "completion"
)

// All returns every kind in pipeline order: independent kinds first, then
// the course-dependent ones, then the enrolment-dependent one.
func All() []Kind {
	return []Kind{
		KindUser, KindCourse, KindRole,
		KindEnrolment, KindEnrolmentMethod, KindGradeItem, KindGrade,
		KindCompletion,
	}
}

// Parse maps an external kind name onto a Kind.
func Parse(s string) (Kind, error) {
	k := Kind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range All() {
		if k == known {
			return k, nil
		}
	}
	return "", dErrors.Newf(dErrors.CodeBadRequest, "unknown entity kind %q", s)
}

// Document is one semi-structured record as decoded from a source response.
type Document map[string]any

// Int64 reads an integral field. JSON numbers decode as float64, so both
// representations are accepted.
func (d Document) Int64(key string) (int64, bool) {
	switch v := d[key].(type) {
	case float64:
		return int64(v), true
	case int64:
		return v, true
	case int:
		return int64(v), true
	default:
		return 0, false
	}
}

// Float64 reads a numeric field.
func (d Document) Float64(key string) (float64, bool) {
	switch v := d[key].(type) {
	case float64:
		return v, true
	case int64:
		return float64(v), true
	case int:
		return float64(v), true
	default:
		return 0, false
	}
}

// String reads a string field.
func (d Document) String(key string) (string, bool) {
	s, ok := d[key].(string)
	return s, ok
}

// requiredFields lists the payload fields a document must carry to be
// meaningful for its kind. Matches the source API's response contracts.
var requiredFields = map[Kind][]string{
	KindUser:            {"id", "username"},
	KindCourse:          {"id", "fullname"},
	KindRole:            {"id", "shortname"},
	KindEnrolment:       {"id", "course_id"},
	KindEnrolmentMethod: {"id", "course_id"},
	KindGradeItem:       {"id", "itemname"},
	KindGrade:           {"userid", "itemid"},
	KindCompletion:      {"userid", "completionstate"},
}

// Validate checks the required fields for the kind.
func Validate(kind Kind, doc Document) error {
	for _, field := range requiredFields[kind] {
		if _, ok := doc[field]; !ok {
			return dErrors.Newf(dErrors.CodeValidation,
				"missing required field %q for entity %q", field, kind)
		}
	}
	return nil
}

// NaturalKey derives the key that identifies doc within its kind and
// source. Composite keys join their parts with a colon. The second return
// is false when any key field is absent; such documents still land (with a
// null key) but never reach staging.
func NaturalKey(kind Kind, doc Document) (string, bool) {
	switch kind {
	case KindUser, KindCourse, KindRole, KindGradeItem:
		id, ok := doc.Int64("id")
		if !ok {
			return "", false
		}
		return fmt.Sprintf("%d", id), true
	case KindEnrolment, KindEnrolmentMethod:
		courseID, ok1 := doc.Int64("course_id")
		id, ok2 := doc.Int64("id")
		if !ok1 || !ok2 {
			return "", false
		}
		return fmt.Sprintf("%d:%d", courseID, id), true
	case KindGrade:
		userID, ok1 := doc.Int64("userid")
		itemID, ok2 := doc.Int64("itemid")
		if !ok1 || !ok2 {
			return "", false
		}
		return fmt.Sprintf("%d:%d", userID, itemID), true
	case KindCompletion:
		courseID, ok1 := doc.Int64("course_id")
		userID, ok2 := doc.Int64("userid")
		if !ok1 || !ok2 {
			return "", false
		}
		return fmt.Sprintf("%d:%d", courseID, userID), true
	default:
		return "", false
	}
}
