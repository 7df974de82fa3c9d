package alert

import (
	"context"
	stderrors "errors"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"
	"golang.org/x/sync/errgroup"

	"github.com/trezcool/tahadhari/core"
)

type TaskKind string

const (
	TaskMarksUpdated        TaskKind = "marks_updated"
	TaskAttendanceUpdated   TaskKind = "attendance_updated"
	TaskPredictionGenerated TaskKind = "prediction_generated"
)

// Task asks for alert generation after a successful write. Value is optional: generators
// re-read the current value from the Directory when it is null (prediction: ask the Predictor).
type Task struct {
	ID         string       `json:"id"`
	Kind       TaskKind     `json:"kind"`
	StudentID  int          `json:"student_id"`
	CourseID   int          `json:"course_id"`
	Assessment string       `json:"assessment,omitempty"`
	Value      null.Float64 `json:"value"`
	CreatedAt  time.Time    `json:"created_at"`
}

func NewTask(kind TaskKind, studentID, courseID int) Task {
	return Task{
		ID:        uuid.NewString(),
		Kind:      kind,
		StudentID: studentID,
		CourseID:  courseID,
		CreatedAt: core.NowFunc(),
	}
}

type (
	// TaskQueue decouples alert generation from the write that triggered it.
	TaskQueue interface {
		Enqueue(ctx context.Context, t Task) error
	}

	TaskHandler func(ctx context.Context, t Task) error
)

// inlineQueue handles tasks synchronously; used when no queue is configured.
type inlineQueue struct {
	svc *Service
}

func (q inlineQueue) Enqueue(ctx context.Context, t Task) error {
	if err := q.svc.HandleTask(ctx, t); err != nil {
		q.svc.logger.Error("handling alert task", err, map[string]interface{}{"task_id": t.ID, "kind": t.Kind})
	}
	return nil
}

// HandleTask runs the generators a task asks for.
func (svc *Service) HandleTask(ctx context.Context, t Task) error {
	switch t.Kind {
	case TaskMarksUpdated:
		if t.Assessment == "" {
			return svc.processMarks(ctx, t.StudentID, t.CourseID)
		}
		v := t.Value
		if !v.Valid {
			marks, err := svc.dir.Marks(ctx, t.StudentID, t.CourseID)
			if err != nil {
				return errors.Wrap(err, "reading marks")
			}
			v, _ = marks.Get(t.Assessment)
		}
		_, err := svc.generateAssessment(ctx, t.StudentID, t.CourseID, t.Assessment, v)
		return err

	case TaskAttendanceUpdated:
		v := t.Value
		if !v.Valid {
			var err error
			if v, err = svc.dir.Attendance(ctx, t.StudentID, t.CourseID); err != nil {
				return errors.Wrap(err, "reading attendance")
			}
		}
		_, err := svc.GenerateAttendance(ctx, t.StudentID, t.CourseID, v)
		return err

	case TaskPredictionGenerated:
		v := t.Value
		if !v.Valid {
			if p, ok := svc.predictor.Predict(ctx, t.StudentID, t.CourseID); ok {
				v = null.Float64From(p)
			}
		}
		_, err := svc.ProcessPrediction(ctx, t.StudentID, t.CourseID, v)
		return err
	}
	return errors.Wrapf(ErrUnknownTask, "%q", t.Kind)
}

// generateAssessment routes one of core.Assessments to its generator.
func (svc *Service) generateAssessment(ctx context.Context, studentID, courseID int, assessment string, v null.Float64) (*Alert, error) {
	switch {
	case assessment == "midterm":
		return svc.GenerateMidterm(ctx, studentID, courseID, v)
	case strings.HasPrefix(assessment, "quiz"):
		if n, err := strconv.Atoi(strings.TrimPrefix(assessment, "quiz")); err == nil {
			return svc.GenerateQuiz(ctx, studentID, courseID, n, v)
		}
	case strings.HasPrefix(assessment, "assignment"):
		if n, err := strconv.Atoi(strings.TrimPrefix(assessment, "assignment")); err == nil {
			return svc.GenerateAssignment(ctx, studentID, courseID, n, v)
		}
	}
	return nil, errors.Wrapf(ErrUnknownAssessment, "%q", assessment)
}

func (svc *Service) processMarks(ctx context.Context, studentID, courseID int) error {
	marks, err := svc.dir.Marks(ctx, studentID, courseID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return nil
		}
		return errors.Wrap(err, "reading marks")
	}
	var errs []error
	for _, assessment := range core.Assessments {
		v, _ := marks.Get(assessment)
		if _, err := svc.generateAssessment(ctx, studentID, courseID, assessment, v); err != nil {
			errs = append(errs, errors.Wrap(err, assessment))
		}
	}
	return stderrors.Join(errs...)
}

// ProcessEnrollment runs every generator for one enrollment: attendance, marks, prediction,
// then, with the configured probability, a motivational alert. Each signal is independent:
// the first failures do not prevent the others from running.
func (svc *Service) ProcessEnrollment(ctx context.Context, e Enrollment) error {
	var errs []error

	att, err := svc.dir.Attendance(ctx, e.StudentID, e.CourseID)
	if err != nil && errors.Cause(err) != ErrNotFound {
		errs = append(errs, errors.Wrap(err, "reading attendance"))
	} else if _, err := svc.GenerateAttendance(ctx, e.StudentID, e.CourseID, att); err != nil {
		errs = append(errs, errors.Wrap(err, "attendance"))
	}

	if err := svc.processMarks(ctx, e.StudentID, e.CourseID); err != nil {
		errs = append(errs, err)
	}

	if p, ok := svc.predictor.Predict(ctx, e.StudentID, e.CourseID); ok {
		if _, err := svc.ProcessPrediction(ctx, e.StudentID, e.CourseID, null.Float64From(p)); err != nil {
			errs = append(errs, errors.Wrap(err, "prediction"))
		}
	}

	if svc.opts.MotivationalChance > 0 && svc.chance() < svc.opts.MotivationalChance {
		if _, err := svc.GenerateMotivational(ctx, e.StudentID, e.CourseID); err != nil {
			errs = append(errs, errors.Wrap(err, "motivational"))
		}
	}

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	return stderrors.Join(errs...)
}

// TriggerProcessing is the manual re-run for one (student, course).
func (svc *Service) TriggerProcessing(ctx context.Context, studentID, courseID int) error {
	subj, ok, err := svc.lookup(ctx, studentID, courseID)
	if err != nil {
		return err
	}
	if !ok {
		return errors.Wrapf(ErrNotFound, "student %d / course %d", studentID, courseID)
	}
	return svc.ProcessEnrollment(ctx, Enrollment{
		StudentID:   studentID,
		CourseID:    courseID,
		StudentName: subj.student.Name,
		CourseName:  subj.courseName,
	})
}

type SweepOptions struct {
	Concurrency       int
	EnrollmentTimeout time.Duration
	CourseID          null.Int
}

type SweepReport struct {
	StartedAt   time.Time     `json:"started_at"`
	Duration    time.Duration `json:"duration"`
	Enrollments int           `json:"enrollments"`
	Succeeded   int           `json:"succeeded"`
	Failed      int           `json:"failed"`
	TimedOut    int           `json:"timed_out"`
}

// ProcessAll sweeps every active enrollment with bounded concurrency. A failing or slow
// enrollment is logged and counted, it never stops the sweep.
// The error is only set when enrollments cannot be listed.
func (svc *Service) ProcessAll(ctx context.Context, opts SweepOptions) (SweepReport, error) {
	report := SweepReport{StartedAt: core.NowFunc()}
	start := time.Now()

	enrollments, err := svc.dir.ListActiveEnrollments(ctx, opts.CourseID)
	if err != nil {
		report.Duration = time.Since(start)
		return report, errors.Wrap(err, "listing active enrollments")
	}
	report.Enrollments = len(enrollments)

	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	results := make(chan error, len(enrollments))

	var g errgroup.Group
	g.SetLimit(opts.Concurrency)
	for _, e := range enrollments {
		e := e
		g.Go(func() error {
			ectx, cancel := ctx, context.CancelFunc(func() {})
			if opts.EnrollmentTimeout > 0 {
				ectx, cancel = context.WithTimeout(ctx, opts.EnrollmentTimeout)
			}
			defer cancel()

			err := svc.ProcessEnrollment(ectx, e)
			if err != nil {
				svc.logger.Error("processing enrollment", err, map[string]interface{}{
					"student_id": e.StudentID, "course_id": e.CourseID,
				})
			}
			results <- err
			return nil // never cancel siblings
		})
	}
	_ = g.Wait()
	close(results)

	for err := range results {
		switch {
		case err == nil:
			report.Succeeded++
		case stderrors.Is(err, context.DeadlineExceeded):
			report.TimedOut++
			report.Failed++
		default:
			report.Failed++
		}
	}
	report.Duration = time.Since(start)
	return report, nil
}

// RecordMarks stores a mark then enqueues alert generation for it.
func (svc *Service) RecordMarks(ctx context.Context, studentID, courseID int, assessment string, v null.Float64) error {
	assessment = core.CleanString(assessment, true)
	if _, ok := (Marks{}).Get(assessment); !ok {
		return core.NewValidationError(
			errors.Wrapf(ErrUnknownAssessment, "%q", assessment),
			core.FieldError{Field: "assessment", Error: core.OneOf(assessment, core.Assessments)},
		)
	}
	if err := svc.dir.UpsertMarks(ctx, studentID, courseID, assessment, v); err != nil {
		return errors.Wrap(err, "saving marks")
	}
	t := NewTask(TaskMarksUpdated, studentID, courseID)
	t.Assessment, t.Value = assessment, v
	svc.enqueue(ctx, t)
	return nil
}

func (svc *Service) RecordAttendance(ctx context.Context, studentID, courseID int, v null.Float64) error {
	if err := svc.dir.UpsertAttendance(ctx, studentID, courseID, v); err != nil {
		return errors.Wrap(err, "saving attendance")
	}
	t := NewTask(TaskAttendanceUpdated, studentID, courseID)
	t.Value = v
	svc.enqueue(ctx, t)
	return nil
}

// RecordPrediction announces a computed prediction; a null value lets the task ask the Predictor.
func (svc *Service) RecordPrediction(ctx context.Context, studentID, courseID int, v null.Float64) {
	t := NewTask(TaskPredictionGenerated, studentID, courseID)
	t.Value = v
	svc.enqueue(ctx, t)
}

// enqueue never fails the triggering write: the task is detached from the caller's
// cancellation and enqueue errors are logged.
func (svc *Service) enqueue(ctx context.Context, t Task) {
	if err := svc.queue.Enqueue(context.WithoutCancel(ctx), t); err != nil {
		svc.logger.Error("enqueuing alert task", err, map[string]interface{}{"task_id": t.ID, "kind": t.Kind})
	}
}
