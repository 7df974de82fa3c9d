package alert

import (
	"context"

	"github.com/pkg/errors"
)

type fanOut struct {
	subj  subject
	band  Band
	data  MessageData
	typ   Type
	key   string // ledger key, lecturer_<type>
	value float64
	fill  func(*Alert)
}

// lecturerAlert builds the lecturer copy of a student alert. ok is false when the course has no lecturer.
func (svc *Service) lecturerAlert(ctx context.Context, fo fanOut) (Alert, Person, bool, error) {
	lecturer, err := svc.dir.LecturerForCourse(ctx, fo.subj.courseID)
	if err != nil {
		if c := errors.Cause(err); c == ErrNoLecturer || c == ErrNotFound {
			return Alert{}, Person{}, false, nil
		}
		return Alert{}, Person{}, false, errors.Wrap(err, "looking up course lecturer")
	}

	title, msg, err := fo.band.renderLecturer(fo.data)
	if err != nil {
		return Alert{}, Person{}, false, err
	}
	a := Alert{
		StudentID:      fo.subj.student.ID,
		CourseID:       fo.subj.courseID,
		RecipientType:  RecipientLecturer,
		RecipientID:    lecturer.ID,
		Type:           fo.typ,
		Severity:       fo.band.Severity,
		Title:          title,
		Message:        msg,
		ActionRequired: fo.band.Severity.IsUrgent(),
	}
	if fo.fill != nil {
		fo.fill(&a)
	}
	return a, lecturer, true, nil
}

// fanOut emits the lecturer copy behind its own ledger key, independent of the student cooldown.
// A course without lecturer is a no-op.
func (svc *Service) fanOut(ctx context.Context, fo fanOut) (*Alert, error) {
	a, _, ok, err := svc.lecturerAlert(ctx, fo)
	if err != nil || !ok {
		return nil, err
	}
	return svc.emit(ctx, emission{key: fo.key, value: fo.value, alert: a})
}
