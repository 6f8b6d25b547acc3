package fetch

import (
	"context"
	"fmt"
	"net/url"

	"courseflow/internal/entity"
)

// Typed wrappers over Call, one per web-service function the pipeline
// consumes. Fan-out context (course_id) is injected by the pipeline, not
// here, so these stay pure transport.

func (c *Client) Users(ctx context.Context) ([]entity.Document, error) {
	res, err := c.Call(ctx, "core_user_get_users", nil)
	if err != nil {
		return nil, err
	}
	return res.Documents, nil
}

func (c *Client) Courses(ctx context.Context) ([]entity.Document, error) {
	res, err := c.Call(ctx, "core_course_get_courses", nil)
	if err != nil {
		return nil, err
	}
	return res.Documents, nil
}

func (c *Client) Roles(ctx context.Context) ([]entity.Document, error) {
	res, err := c.Call(ctx, "core_role_get_all_roles", nil)
	if err != nil {
		return nil, err
	}
	return res.Documents, nil
}

func (c *Client) EnrolledUsers(ctx context.Context, courseID int64) ([]entity.Document, error) {
	res, err := c.Call(ctx, "core_enrol_get_enrolled_users", courseParams(courseID))
	if err != nil {
		return nil, err
	}
	return res.Documents, nil
}

func (c *Client) EnrolmentMethods(ctx context.Context, courseID int64) ([]entity.Document, error) {
	res, err := c.Call(ctx, "core_enrol_get_course_enrolment_methods", courseParams(courseID))
	if err != nil {
		return nil, err
	}
	return res.Documents, nil
}

// GradeReport returns the per-user grade report for a course, one document
// per enrolled user with the embedded grade item list. Both grade items and
// individual grades are projected from this single response downstream.
func (c *Client) GradeReport(ctx context.Context, courseID int64) ([]entity.Document, error) {
	res, err := c.Call(ctx, "gradereport_user_get_grade_items", courseParams(courseID))
	if err != nil {
		return nil, err
	}
	return res.Documents, nil
}

// CourseCompletion returns the completion status document for one
// user+course pair, or nil when the source has none.
func (c *Client) CourseCompletion(ctx context.Context, courseID, userID int64) (entity.Document, error) {
	params := courseParams(courseID)
	params.Set("userid", fmt.Sprintf("%d", userID))

	res, err := c.Call(ctx, "core_completion_get_course_completion_status", params)
	if err != nil {
		return nil, err
	}
	if len(res.Documents) == 0 {
		return nil, nil
	}
	return res.Documents[0], nil
}

func courseParams(courseID int64) url.Values {
	params := url.Values{}
	params.Set("courseid", fmt.Sprintf("%d", courseID))
	return params
}
