package staging

import (
	"time"

	"courseflow/internal/entity"
	dErrors "courseflow/pkg/errors"
)

// schemas fixes the staging projection per entity kind. Column order here
// is positional: Extract results line up with KeyColumns then ValueColumns.
var schemas = map[entity.Kind]Schema{
	entity.KindUser: {
		Kind:         entity.KindUser,
		Table:        "stg_users",
		KeyColumns:   []string{"user_id"},
		ValueColumns: []string{"username", "firstname", "lastname", "email"},
		Extract:      extractUser,
	},
	entity.KindCourse: {
		Kind:         entity.KindCourse,
		Table:        "stg_courses",
		KeyColumns:   []string{"course_id"},
		ValueColumns: []string{"shortname", "fullname", "category_id", "visible", "start_date", "end_date"},
		Extract:      extractCourse,
	},
	entity.KindRole: {
		Kind:         entity.KindRole,
		Table:        "stg_roles",
		KeyColumns:   []string{"role_id"},
		ValueColumns: []string{"shortname", "name", "sortorder"},
		Extract:      extractRole,
	},
	entity.KindEnrolment: {
		Kind:         entity.KindEnrolment,
		Table:        "stg_enrolments",
		KeyColumns:   []string{"course_id", "user_id"},
		ValueColumns: []string{"role_id", "role_shortname", "first_access", "last_access"},
		Extract:      extractEnrolment,
	},
	entity.KindEnrolmentMethod: {
		Kind:         entity.KindEnrolmentMethod,
		Table:        "stg_enrolment_methods",
		KeyColumns:   []string{"course_id", "method_id"},
		ValueColumns: []string{"type", "status"},
		Extract:      extractEnrolmentMethod,
	},
	entity.KindGradeItem: {
		Kind:         entity.KindGradeItem,
		Table:        "stg_grade_items",
		KeyColumns:   []string{"item_id"},
		ValueColumns: []string{"course_id", "item_name", "item_type", "grade_min", "grade_max"},
		Extract:      extractGradeItem,
	},
	entity.KindGrade: {
		Kind:         entity.KindGrade,
		Table:        "stg_grades",
		KeyColumns:   []string{"user_id", "item_id"},
		ValueColumns: []string{"course_id", "final_grade", "grade_max"},
		Extract:      extractGrade,
	},
	entity.KindCompletion: {
		Kind:         entity.KindCompletion,
		Table:        "stg_completions",
		KeyColumns:   []string{"course_id", "user_id"},
		ValueColumns: []string{"completion_state", "time_completed"},
		Extract:      extractCompletion,
	},
}

// SchemaFor returns the staging schema for a kind.
func SchemaFor(kind entity.Kind) (Schema, error) {
	s, ok := schemas[kind]
	if !ok {
		return Schema{}, dErrors.Newf(dErrors.CodeBadRequest, "no staging schema for entity kind %q", kind)
	}
	return s, nil
}

func extractUser(doc entity.Document) (Row, error) {
	id, err := requireInt64(doc, "id")
	if err != nil {
		return Row{}, err
	}
	username, err := requireString(doc, "username")
	if err != nil {
		return Row{}, err
	}
	return Row{
		Key:    []any{id},
		Values: []any{username, optString(doc, "firstname"), optString(doc, "lastname"), optString(doc, "email")},
	}, nil
}

func extractCourse(doc entity.Document) (Row, error) {
	id, err := requireInt64(doc, "id")
	if err != nil {
		return Row{}, err
	}
	fullname, err := requireString(doc, "fullname")
	if err != nil {
		return Row{}, err
	}
	return Row{
		Key: []any{id},
		Values: []any{
			optString(doc, "shortname"),
			fullname,
			optInt64(doc, "categoryid"),
			optBool(doc, "visible"),
			unixTime(doc, "startdate"),
			unixTime(doc, "enddate"),
		},
	}, nil
}

func extractRole(doc entity.Document) (Row, error) {
	id, err := requireInt64(doc, "id")
	if err != nil {
		return Row{}, err
	}
	shortname, err := requireString(doc, "shortname")
	if err != nil {
		return Row{}, err
	}
	return Row{
		Key:    []any{id},
		Values: []any{shortname, optString(doc, "name"), optInt64(doc, "sortorder")},
	}, nil
}

func extractEnrolment(doc entity.Document) (Row, error) {
	courseID, err := requireInt64(doc, "course_id")
	if err != nil {
		return Row{}, err
	}
	userID, err := requireInt64(doc, "id")
	if err != nil {
		return Row{}, err
	}
	roleID, roleShortname := primaryRole(doc)
	return Row{
		Key:    []any{courseID, userID},
		Values: []any{roleID, roleShortname, unixTime(doc, "firstaccess"), unixTime(doc, "lastaccess")},
	}, nil
}

// primaryRole picks the lowest role id from the enrolment's role list.
// Users can hold several roles in one course; the lowest id is the most
// privileged in a stock role table, and the pick is deterministic either way.
func primaryRole(doc entity.Document) (*int64, *string) {
	roles, ok := doc["roles"].([]any)
	if !ok {
		return nil, nil
	}
	var bestID *int64
	var bestName *string
	for _, r := range roles {
		role, ok := r.(map[string]any)
		if !ok {
			continue
		}
		id, ok := entity.Document(role).Int64("roleid")
		if !ok {
			continue
		}
		if bestID == nil || id < *bestID {
			idCopy := id
			bestID = &idCopy
			bestName = nil
			if name, ok := entity.Document(role).String("shortname"); ok {
				bestName = &name
			}
		}
	}
	return bestID, bestName
}

func extractEnrolmentMethod(doc entity.Document) (Row, error) {
	courseID, err := requireInt64(doc, "course_id")
	if err != nil {
		return Row{}, err
	}
	methodID, err := requireInt64(doc, "id")
	if err != nil {
		return Row{}, err
	}
	return Row{
		Key:    []any{courseID, methodID},
		Values: []any{optString(doc, "type"), optBool(doc, "status")},
	}, nil
}

func extractGradeItem(doc entity.Document) (Row, error) {
	id, err := requireInt64(doc, "id")
	if err != nil {
		return Row{}, err
	}
	return Row{
		Key: []any{id},
		Values: []any{
			optInt64(doc, "course_id"),
			optString(doc, "itemname"),
			optString(doc, "itemtype"),
			optFloat64(doc, "grademin"),
			optFloat64(doc, "grademax"),
		},
	}, nil
}

func extractGrade(doc entity.Document) (Row, error) {
	userID, err := requireInt64(doc, "userid")
	if err != nil {
		return Row{}, err
	}
	itemID, err := requireInt64(doc, "itemid")
	if err != nil {
		return Row{}, err
	}
	return Row{
		Key: []any{userID, itemID},
		Values: []any{
			optInt64(doc, "course_id"),
			optFloat64(doc, "finalgrade"),
			optFloat64(doc, "grademax"),
		},
	}, nil
}

func extractCompletion(doc entity.Document) (Row, error) {
	courseID, err := requireInt64(doc, "course_id")
	if err != nil {
		return Row{}, err
	}
	userID, err := requireInt64(doc, "userid")
	if err != nil {
		return Row{}, err
	}
	return Row{
		Key:    []any{courseID, userID},
		Values: []any{optInt64(doc, "completionstate"), unixTime(doc, "timecompleted")},
	}, nil
}

func requireInt64(doc entity.Document, key string) (int64, error) {
	v, ok := doc.Int64(key)
	if !ok {
		return 0, dErrors.Newf(dErrors.CodeValidation, "field %q missing or not numeric", key)
	}
	return v, nil
}

func requireString(doc entity.Document, key string) (string, error) {
	v, ok := doc.String(key)
	if !ok {
		return "", dErrors.Newf(dErrors.CodeValidation, "field %q missing or not a string", key)
	}
	return v, nil
}

func optString(doc entity.Document, key string) *string {
	if v, ok := doc.String(key); ok {
		return &v
	}
	return nil
}

func optInt64(doc entity.Document, key string) *int64 {
	if v, ok := doc.Int64(key); ok {
		return &v
	}
	return nil
}

func optFloat64(doc entity.Document, key string) *float64 {
	if v, ok := doc.Float64(key); ok {
		return &v
	}
	return nil
}

// optBool accepts native booleans and the numeric 0/1 encoding.
func optBool(doc entity.Document, key string) *bool {
	switch v := doc[key].(type) {
	case bool:
		return &v
	case float64:
		b := v != 0
		return &b
	case int:
		b := v != 0
		return &b
	default:
		return nil
	}
}

// unixTime maps an epoch-seconds field to a timestamp. Zero means "never"
// upstream and becomes NULL.
func unixTime(doc entity.Document, key string) *time.Time {
	secs, ok := doc.Int64(key)
	if !ok || secs == 0 {
		return nil
	}
	t := time.Unix(secs, 0).UTC()
	return &t
}
