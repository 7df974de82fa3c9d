package alert

import (
	"context"
	"fmt"
	"net/mail"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tahadhari/core"
)

// subject is the resolved (student, course) pair an alert talks about.
type subject struct {
	student    Person
	courseID   int
	courseName string
}

// lookup returns ok=false when the student or the course is unknown: no alert can be worded for them.
func (svc *Service) lookup(ctx context.Context, studentID, courseID int) (subject, bool, error) {
	student, err := svc.dir.Student(ctx, studentID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return subject{}, false, nil
		}
		return subject{}, false, errors.Wrap(err, "looking up student")
	}
	course, err := svc.dir.CourseName(ctx, courseID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return subject{}, false, nil
		}
		return subject{}, false, errors.Wrap(err, "looking up course")
	}
	if student.Name == "" || course == "" {
		return subject{}, false, nil
	}
	return subject{student: student, courseID: courseID, courseName: course}, true, nil
}

// resolved is false for the zero subject returned before or instead of a lookup.
func (s subject) resolved() bool { return s.courseName != "" }

func (s subject) data(label string, p float64) MessageData {
	return MessageData{
		Student: s.student.Name,
		Course:  s.courseName,
		Label:   label,
		Percent: FormatPercent(p),
		Grade:   LetterGrade(p),
	}
}

// emission is one alert write; a non-empty key puts it behind the ledger.
type emission struct {
	key   string
	value float64
	alert Alert
}

// emit runs ledger check, alert insert and ledger record for one key while holding its lock.
// The insert and the record share a transaction. A nil alert means the ledger suppressed it.
func (svc *Service) emit(ctx context.Context, em emission) (*Alert, error) {
	a := em.alert
	if em.key != "" {
		unlock, err := svc.locker.Lock(ctx, lockKey(a.StudentID, a.CourseID, em.key))
		if err != nil {
			svc.logger.Warn("alert lock unavailable, continuing unlocked", err, map[string]interface{}{"key": em.key})
		} else {
			defer unlock()
		}

		if !svc.ledger.ShouldEmit(ctx, a.StudentID, a.CourseID, em.key, em.value) {
			svc.recorder.AlertSuppressed(em.key)
			return nil, nil
		}
	}

	now := core.NowFunc()
	a.CreatedAt, a.UpdatedAt = now, now

	var created Alert
	err := svc.repo.Transact(ctx, func(tx Repository) error {
		var err error
		if created, err = tx.CreateAlert(ctx, a); err != nil {
			return err
		}
		if em.key != "" {
			return svc.ledger.Record(ctx, tx, a.StudentID, a.CourseID, em.key, em.value)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "creating alert")
	}
	svc.recorder.AlertEmitted(created)
	return &created, nil
}

// notify emails the recipient of an urgent alert when their preferences allow it. Best effort.
func (svc *Service) notify(ctx context.Context, to Person, a Alert) {
	if !a.Severity.IsUrgent() || svc.notifier == nil {
		return
	}
	if !svc.preferencesFor(ctx, to.ID).EmailNotifications {
		return
	}
	svc.notifier.Send(mail.Address{Name: to.Name, Address: to.Email}, a.Title, a.Message, a.Severity)
}

type rawSignal struct {
	table Table
	key   string
	label string
}

func (svc *Service) generateRaw(ctx context.Context, studentID, courseID int, sig rawSignal, v null.Float64) (*Alert, Band, subject, error) {
	if !v.Valid {
		return nil, Band{}, subject{}, nil
	}
	p := Normalize(v.Float64)
	band, ok := sig.table.Classify(p)
	if !ok {
		return nil, band, subject{}, nil
	}
	subj, ok, err := svc.lookup(ctx, studentID, courseID)
	if err != nil || !ok {
		return nil, band, subj, err
	}

	title, msg, err := band.render(subj.data(sig.label, p))
	if err != nil {
		return nil, band, subj, err
	}
	a, err := svc.emit(ctx, emission{
		key:   sig.key,
		value: p,
		alert: Alert{
			StudentID:     studentID,
			CourseID:      courseID,
			RecipientType: RecipientStudent,
			RecipientID:   studentID,
			Type:          band.Type,
			Severity:      band.Severity,
			Title:         title,
			Message:       msg,
			Marks:         null.Float64From(p),
		},
	})
	if err != nil || a == nil {
		return a, band, subj, err
	}
	svc.notify(ctx, subj.student, *a)
	return a, band, subj, nil
}

// GenerateQuiz classifies a quiz mark. A null mark (not graded yet) writes nothing.
func (svc *Service) GenerateQuiz(ctx context.Context, studentID, courseID, number int, v null.Float64) (*Alert, error) {
	a, _, _, err := svc.generateRaw(ctx, studentID, courseID, rawSignal{
		table: svc.opts.Thresholds.Quiz,
		key:   quizKey(number),
		label: fmt.Sprintf("Quiz %d", number),
	}, v)
	return a, err
}

func (svc *Service) GenerateAssignment(ctx context.Context, studentID, courseID, number int, v null.Float64) (*Alert, error) {
	a, _, _, err := svc.generateRaw(ctx, studentID, courseID, rawSignal{
		table: svc.opts.Thresholds.Assignment,
		key:   assignmentKey(number),
		label: fmt.Sprintf("Assignment %d", number),
	}, v)
	return a, err
}

func (svc *Service) GenerateMidterm(ctx context.Context, studentID, courseID int, v null.Float64) (*Alert, error) {
	a, _, _, err := svc.generateRaw(ctx, studentID, courseID, rawSignal{
		table: svc.opts.Thresholds.Midterm,
		key:   midtermKey,
		label: "Midterm",
	}, v)
	return a, err
}

// GenerateAttendance also warns the course lecturer when attendance is below the attendance lecturer threshold.
// The lecturer copy has its own ledger key: it is considered even when the student alert was suppressed.
func (svc *Service) GenerateAttendance(ctx context.Context, studentID, courseID int, v null.Float64) (*Alert, error) {
	a, band, subj, err := svc.generateRaw(ctx, studentID, courseID, rawSignal{
		table: svc.opts.Thresholds.Attendance,
		key:   attendanceKey,
		label: "Attendance",
	}, v)
	if err != nil || !subj.resolved() {
		return a, err
	}

	p := Normalize(v.Float64)
	if p < svc.opts.AttendanceLecturerThreshold {
		if _, err := svc.fanOut(ctx, fanOut{
			subj:  subj,
			band:  band,
			data:  subj.data("Attendance", p),
			typ:   TypeLowClassAttendance,
			key:   lecturerKey(TypeLowClassAttendance),
			value: p,
			fill:  func(la *Alert) { la.Marks = null.Float64From(p) },
		}); err != nil {
			return a, errors.Wrap(err, "alerting lecturer")
		}
	}
	return a, nil
}

// GeneratePrediction is the ledger-backed prediction path. The ledger key is the classified alert type.
// Below the lecturer threshold (strict), the course lecturer gets a third-person copy.
func (svc *Service) GeneratePrediction(ctx context.Context, studentID, courseID int, v null.Float64) (*Alert, error) {
	if !v.Valid {
		return nil, nil
	}
	c := classifyPrediction(svc.opts.Thresholds.Prediction, v.Float64)
	if !c.band.Emits() {
		return nil, nil
	}
	subj, ok, err := svc.lookup(ctx, studentID, courseID)
	if err != nil || !ok {
		return nil, err
	}
	if c, err = c.Describe(subj.courseName); err != nil {
		return nil, err
	}

	a, err := svc.emit(ctx, emission{
		key:   string(c.Type),
		value: c.Percentage,
		alert: predictionAlert(subj, c),
	})
	if err != nil || a == nil {
		return a, err
	}
	svc.notify(ctx, subj.student, *a)

	if c.Percentage < svc.opts.LecturerThreshold {
		if _, err := svc.fanOut(ctx, fanOut{
			subj:  subj,
			band:  c.band,
			data:  subj.data("", c.Percentage),
			typ:   TypeStudentAtRisk,
			key:   lecturerKey(c.Type),
			value: c.Percentage,
			fill:  func(la *Alert) { fillPrediction(la, c) },
		}); err != nil {
			return a, errors.Wrap(err, "alerting lecturer")
		}
	}
	return a, nil
}

func predictionAlert(subj subject, c Classification) Alert {
	a := Alert{
		StudentID:     subj.student.ID,
		CourseID:      subj.courseID,
		RecipientType: RecipientStudent,
		RecipientID:   subj.student.ID,
		Type:          c.Type,
		Severity:      c.Severity,
		Title:         c.Title,
		Message:       c.Message,
	}
	fillPrediction(&a, c)
	return a
}

func fillPrediction(a *Alert, c Classification) {
	a.PredictedGrade = null.StringFrom(c.LetterGrade)
	a.PredictedPercentage = null.Float64From(c.Percentage)
}

// ProcessPrediction dispatches a new prediction to the configured strategy.
func (svc *Service) ProcessPrediction(ctx context.Context, studentID, courseID int, v null.Float64) ([]Alert, error) {
	if !v.Valid {
		return nil, nil
	}
	if svc.opts.Strategy == StrategyReplace {
		return svc.GenerateRealTimeAlerts(ctx, studentID, courseID, v.Float64)
	}
	a, err := svc.GeneratePrediction(ctx, studentID, courseID, v)
	if a == nil {
		return nil, err
	}
	return []Alert{*a}, err
}

// GenerateMotivational emits a low-severity encouragement, at most once per motivational window
// per (student, course), unless the student opted out.
func (svc *Service) GenerateMotivational(ctx context.Context, studentID, courseID int) (*Alert, error) {
	subj, ok, err := svc.lookup(ctx, studentID, courseID)
	if err != nil || !ok {
		return nil, err
	}
	if !svc.preferencesFor(ctx, studentID).MotivationalAlerts {
		return nil, nil
	}

	unlock, err := svc.locker.Lock(ctx, lockKey(studentID, courseID, string(TypeMotivational)))
	if err != nil {
		svc.logger.Warn("alert lock unavailable, continuing unlocked", err, map[string]interface{}{"key": TypeMotivational})
	} else {
		defer unlock()
	}

	since := core.NowFunc().Add(-svc.opts.MotivationalWindow)
	exists, err := svc.repo.HasAlertSince(ctx, studentID, courseID, TypeMotivational, since)
	if err != nil {
		svc.logger.Error("checking recent motivational alert failed", err, map[string]interface{}{
			"student_id": studentID, "course_id": courseID,
		})
	}
	if exists {
		svc.recorder.AlertSuppressed(string(TypeMotivational))
		return nil, nil
	}

	return svc.emit(ctx, emission{alert: Alert{
		StudentID:     studentID,
		CourseID:      courseID,
		RecipientType: RecipientStudent,
		RecipientID:   studentID,
		Type:          TypeMotivational,
		Severity:      SeverityLow,
		Title:         motivationalTitle,
		Message:       svc.pickMotivational(subj.courseName),
	}})
}
