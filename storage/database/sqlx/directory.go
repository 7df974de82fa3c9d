package sqlxrepos

import (
	"context"
	"database/sql"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
)

// marksColumns maps core.Assessments to lecturer_marks columns.
var marksColumns = map[string]string{
	"quiz1":       "quiz1",
	"quiz2":       "quiz2",
	"assignment1": "assignment1",
	"assignment2": "assignment2",
	"midterm":     "midterm_marks",
}

type directory struct {
	db *sqlx.DB
}

var _ alert.Directory = (*directory)(nil) // interface compliance check

func NewDirectory(db *sqlx.DB) alert.Directory {
	return &directory{db: db}
}

func (dir *directory) getPerson(ctx context.Context, q string, args ...interface{}) (alert.Person, error) {
	var p alert.Person
	if err := dir.db.GetContext(ctx, &p, q, args...); err != nil {
		if err == sql.ErrNoRows {
			return alert.Person{}, core.ErrNotFound
		}
		return alert.Person{}, errors.Wrap(err, "selecting user")
	}
	return p, nil
}

func (dir *directory) Student(ctx context.Context, id int) (alert.Person, error) {
	return dir.getPerson(ctx, "SELECT id, full_name, email FROM users WHERE id = $1 AND role = $2", id, core.RoleStudent)
}

func (dir *directory) CourseName(ctx context.Context, id int) (string, error) {
	var name string
	if err := dir.db.GetContext(ctx, &name, "SELECT course_name FROM courses WHERE id = $1", id); err != nil {
		if err == sql.ErrNoRows {
			return "", core.ErrNotFound
		}
		return "", errors.Wrap(err, "selecting course")
	}
	return name, nil
}

func (dir *directory) LecturerForCourse(ctx context.Context, courseID int) (alert.Person, error) {
	p, err := dir.getPerson(ctx, `SELECT u.id, u.full_name, u.email
FROM lecturer_courses lc JOIN users u ON u.id = lc.lecturer_id
WHERE lc.course_id = $1`, courseID)
	if errors.Cause(err) == core.ErrNotFound {
		return alert.Person{}, alert.ErrNoLecturer
	}
	return p, err
}

func (dir *directory) ListActiveEnrollments(ctx context.Context, courseID null.Int) ([]alert.Enrollment, error) {
	q := `SELECT se.student_id, se.course_id, u.full_name AS student_name, c.course_name
FROM student_enrollments se
JOIN users u ON u.id = se.student_id
JOIN courses c ON c.id = se.course_id
WHERE se.status = 'active' AND ($1::INTEGER IS NULL OR se.course_id = $1)
ORDER BY se.course_id, se.student_id`

	enrollments := make([]alert.Enrollment, 0)
	if err := dir.db.SelectContext(ctx, &enrollments, q, courseID); err != nil {
		return nil, errors.Wrap(err, "selecting enrollments")
	}
	return enrollments, nil
}

func (dir *directory) Marks(ctx context.Context, studentID, courseID int) (alert.Marks, error) {
	var m alert.Marks
	q := `SELECT quiz1, quiz2, assignment1, assignment2, midterm_marks
FROM lecturer_marks WHERE student_id = $1 AND course_id = $2`
	if err := dir.db.GetContext(ctx, &m, q, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return alert.Marks{}, core.ErrNotFound
		}
		return alert.Marks{}, errors.Wrap(err, "selecting marks")
	}
	return m, nil
}

func (dir *directory) Attendance(ctx context.Context, studentID, courseID int) (null.Float64, error) {
	var v null.Float64
	q := "SELECT attendance FROM admin_inputs WHERE student_id = $1 AND course_id = $2"
	if err := dir.db.GetContext(ctx, &v, q, studentID, courseID); err != nil {
		if err == sql.ErrNoRows {
			return null.Float64{}, core.ErrNotFound
		}
		return null.Float64{}, errors.Wrap(err, "selecting attendance")
	}
	return v, nil
}

func (dir *directory) UpsertMarks(ctx context.Context, studentID, courseID int, assessment string, value null.Float64) error {
	col, ok := marksColumns[assessment]
	if !ok {
		return errors.Wrapf(alert.ErrUnknownAssessment, "%q", assessment)
	}
	q := `INSERT INTO lecturer_marks (student_id, course_id, ` + col + `, updated_at) VALUES ($1, $2, $3, NOW())
ON CONFLICT (student_id, course_id) DO UPDATE SET ` + col + ` = EXCLUDED.` + col + `, updated_at = EXCLUDED.updated_at`
	_, err := dir.db.ExecContext(ctx, q, studentID, courseID, value)
	return errors.Wrap(err, "upserting marks")
}

func (dir *directory) UpsertAttendance(ctx context.Context, studentID, courseID int, value null.Float64) error {
	q := `INSERT INTO admin_inputs (student_id, course_id, attendance, updated_at) VALUES ($1, $2, $3, NOW())
ON CONFLICT (student_id, course_id) DO UPDATE SET attendance = EXCLUDED.attendance, updated_at = EXCLUDED.updated_at`
	_, err := dir.db.ExecContext(ctx, q, studentID, courseID, value)
	return errors.Wrap(err, "upserting attendance")
}
