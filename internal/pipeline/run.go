package pipeline

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"courseflow/internal/entity"
	"courseflow/internal/fetch"
	"courseflow/internal/landing"
	dErrors "courseflow/pkg/errors"
)

type enrolmentPair struct {
	courseID int64
	userID   int64
}

// Report carries the outcome of one full source run. A failed entity kind
// records its error here without aborting sibling kinds.
type Report struct {
	RunID    string
	SourceID string
	Landed   map[entity.Kind]landing.Result
	Errors   map[entity.Kind]error
	MartRows int64
}

// Failed reports whether any entity kind failed during the run.
func (r *Report) Failed() bool {
	return len(r.Errors) > 0
}

// Run executes the full pipeline for one source: the two-level extraction
// DAG (users, courses, roles concurrently; course-scoped kinds after
// courses; completions after enrolments), then transforms every kind, then
// rebuilds the mart. Fan-out goes through a bounded worker pool; pacing is
// the client's job, not the pool's.
func (s *Service) Run(ctx context.Context, sourceID string) (*Report, error) {
	client, err := s.Client(sourceID)
	if err != nil {
		return nil, err
	}

	report := &Report{
		RunID:    NewRunID(),
		SourceID: sourceID,
		Landed:   make(map[entity.Kind]landing.Result),
		Errors:   make(map[entity.Kind]error),
	}
	logger := s.logger.With("run_id", report.RunID, "source", sourceID)
	logger.InfoContext(ctx, "pipeline run started")
	start := time.Now()

	var (
		mu         sync.Mutex
		courseDocs []entity.Document
		enrolDocs  []entity.Document
	)
	record := func(kind entity.Kind, res landing.Result, err error) {
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			report.Errors[kind] = err
			logger.ErrorContext(ctx, "entity pipeline failed",
				"entity", string(kind), "error", err.Error())
			return
		}
		report.Landed[kind] = res
	}
	fetchAndLand := func(kind entity.Kind, docs []entity.Document, err error) {
		if err != nil {
			record(kind, landing.Result{}, err)
			return
		}
		res, err := s.Land(ctx, report.RunID, sourceID, kind, docs)
		record(kind, res, err)
	}

	// Level one: independent kinds.
	level1, l1ctx := errgroup.WithContext(ctx)
	level1.Go(func() error {
		docs, err := client.Users(l1ctx)
		fetchAndLand(entity.KindUser, docs, err)
		return nil
	})
	level1.Go(func() error {
		docs, err := client.Courses(l1ctx)
		if err == nil {
			mu.Lock()
			courseDocs = docs
			mu.Unlock()
		}
		fetchAndLand(entity.KindCourse, docs, err)
		return nil
	})
	level1.Go(func() error {
		docs, err := client.Roles(l1ctx)
		fetchAndLand(entity.KindRole, docs, err)
		return nil
	})
	_ = level1.Wait()
	if err := ctx.Err(); err != nil {
		return report, err
	}

	// Level two: course-scoped kinds, only when the course list arrived.
	if _, failed := report.Errors[entity.KindCourse]; !failed {
		courseIDs := courseIDsOf(courseDocs)

		enrols, err := s.extractForCourses(ctx, client, entity.KindEnrolment, courseIDs)
		if err == nil {
			enrolDocs = enrols
		}
		fetchAndLand(entity.KindEnrolment, enrols, err)

		methods, err := s.extractForCourses(ctx, client, entity.KindEnrolmentMethod, courseIDs)
		fetchAndLand(entity.KindEnrolmentMethod, methods, err)

		// One grade report call per course feeds both grade kinds.
		items, grades, err := s.extractGradeReports(ctx, client, courseIDs)
		fetchAndLand(entity.KindGradeItem, items, err)
		fetchAndLand(entity.KindGrade, grades, err)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	// Level three: completions need the enrolment list.
	if _, failed := report.Errors[entity.KindEnrolment]; !failed {
		docs, err := s.extractCompletions(ctx, client, enrolmentPairsOf(enrolDocs))
		fetchAndLand(entity.KindCompletion, docs, err)
	}
	if err := ctx.Err(); err != nil {
		return report, err
	}

	for _, kind := range entity.All() {
		if _, failed := report.Errors[kind]; failed {
			continue
		}
		if _, err := s.Transform(ctx, report.RunID, kind); err != nil {
			report.Errors[kind] = err
		}
	}

	rows, err := s.Aggregate(ctx, report.RunID)
	if err != nil {
		return report, err
	}
	report.MartRows = rows

	logger.InfoContext(ctx, "pipeline run finished",
		"duration", time.Since(start).String(),
		"mart_rows", rows,
		"failed_entities", len(report.Errors),
	)
	return report, nil
}

// extractForCourses fans one call per course through a bounded pool. A
// course whose call fails is logged and skipped so one broken course does
// not lose the rest; cancellation still aborts the fan-out.
func (s *Service) extractForCourses(ctx context.Context, client *fetch.Client, kind entity.Kind, courseIDs []int64) ([]entity.Document, error) {
	var (
		mu   sync.Mutex
		docs []entity.Document
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, courseID := range courseIDs {
		g.Go(func() error {
			fetched, err := s.fetchCourseKind(gctx, client, kind, courseID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.WarnContext(gctx, "course fan-out item failed",
					"entity", string(kind), "course_id", courseID, "error", err.Error())
				return nil
			}
			mu.Lock()
			docs = append(docs, fetched...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (s *Service) fetchCourseKind(ctx context.Context, client *fetch.Client, kind entity.Kind, courseID int64) ([]entity.Document, error) {
	switch kind {
	case entity.KindEnrolment:
		docs, err := client.EnrolledUsers(ctx, courseID)
		return injectCourseID(docs, courseID), err
	case entity.KindEnrolmentMethod:
		docs, err := client.EnrolmentMethods(ctx, courseID)
		return injectCourseID(docs, courseID), err
	default:
		return nil, dErrors.Newf(dErrors.CodeBadRequest, "entity kind %q is not course scoped", kind)
	}
}

// extractGradeReports fans one grade report call per course and flattens
// each response into grade item and grade documents, so both kinds share a
// single paced call per course. A course whose call fails is logged and
// skipped like the other fan-outs; items repeated across courses are kept
// once.
func (s *Service) extractGradeReports(ctx context.Context, client *fetch.Client, courseIDs []int64) ([]entity.Document, []entity.Document, error) {
	var (
		mu     sync.Mutex
		items  []entity.Document
		grades []entity.Document
	)
	seen := make(map[int64]bool)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, courseID := range courseIDs {
		g.Go(func() error {
			reports, err := client.GradeReport(gctx, courseID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.WarnContext(gctx, "course fan-out item failed",
					"entity", "grade_report", "course_id", courseID, "error", err.Error())
				return nil
			}
			courseItems, courseGrades := flattenGradeReport(courseID, reports)
			mu.Lock()
			items = append(items, dedupeItems(courseItems, seen)...)
			grades = append(grades, courseGrades...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, err
	}
	return items, grades, nil
}

// extractCompletions fetches the completion status per enrolment pair. A
// source reports "no completion configured" as an error envelope for some
// courses; those pairs are skipped quietly.
func (s *Service) extractCompletions(ctx context.Context, client *fetch.Client, pairs []enrolmentPair) ([]entity.Document, error) {
	var (
		mu   sync.Mutex
		docs []entity.Document
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for _, pair := range pairs {
		g.Go(func() error {
			doc, err := client.CourseCompletion(gctx, pair.courseID, pair.userID)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				s.logger.DebugContext(gctx, "completion unavailable",
					"course_id", pair.courseID, "user_id", pair.userID, "error", err.Error())
				return nil
			}
			if doc == nil {
				return nil
			}
			doc["course_id"] = pair.courseID
			doc["userid"] = pair.userID
			mu.Lock()
			docs = append(docs, doc)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return docs, nil
}

// flattenGradeReport splits the per-user grade report into grade item
// documents (one per item) and grade documents (one per user and item).
func flattenGradeReport(courseID int64, reports []entity.Document) (items, grades []entity.Document) {
	seen := make(map[int64]bool)
	for _, report := range reports {
		userID, ok := report.Int64("userid")
		if !ok {
			continue
		}
		rawItems, ok := report["gradeitems"].([]any)
		if !ok {
			continue
		}
		for _, raw := range rawItems {
			item, ok := raw.(map[string]any)
			if !ok {
				continue
			}
			itemDoc := entity.Document(item)
			itemID, ok := itemDoc.Int64("id")
			if !ok {
				continue
			}

			if !seen[itemID] {
				seen[itemID] = true
				out := entity.Document{"course_id": courseID}
				for _, key := range []string{"id", "itemname", "itemtype", "grademin", "grademax"} {
					if v, exists := item[key]; exists {
						out[key] = v
					}
				}
				items = append(items, out)
			}

			grade := entity.Document{
				"userid":    userID,
				"itemid":    itemID,
				"course_id": courseID,
			}
			if v, exists := item["graderaw"]; exists {
				grade["finalgrade"] = v
			}
			if v, exists := item["grademax"]; exists {
				grade["grademax"] = v
			}
			grades = append(grades, grade)
		}
	}
	return items, grades
}

func injectCourseID(docs []entity.Document, courseID int64) []entity.Document {
	for _, doc := range docs {
		doc["course_id"] = courseID
	}
	return docs
}

func courseIDsOf(docs []entity.Document) []int64 {
	ids := make([]int64, 0, len(docs))
	for _, doc := range docs {
		if id, ok := doc.Int64("id"); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

func enrolmentPairsOf(docs []entity.Document) []enrolmentPair {
	pairs := make([]enrolmentPair, 0, len(docs))
	for _, doc := range docs {
		courseID, ok1 := doc.Int64("course_id")
		userID, ok2 := doc.Int64("id")
		if ok1 && ok2 {
			pairs = append(pairs, enrolmentPair{courseID: courseID, userID: userID})
		}
	}
	return pairs
}

// dedupeItems drops grade items already collected from another user's
// report in a different course batch. Must be called under the caller's
// lock.
func dedupeItems(items []entity.Document, seen map[int64]bool) []entity.Document {
	out := items[:0]
	for _, item := range items {
		id, ok := item.Int64("id")
		if !ok {
			continue
		}
		if seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, item)
	}
	return out
}
