package dummydb

import (
	"context"
	"sort"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
)

type directory struct {
	db *DB
}

var _ alert.Directory = (*directory)(nil) // interface compliance check

func NewDirectory(db *DB) alert.Directory {
	return &directory{db: db}
}

// AddUser stores a user with one of the core.Role* roles.
func (db *DB) AddUser(name, email, role string) alert.Person {
	t := db.user
	t.Lock()
	defer t.Unlock()

	t.pkCount++
	row := &userRow{Person: alert.Person{ID: t.pkCount, Name: name, Email: email}, Role: role}
	t.table[row.ID] = row
	return row.Person
}

func (db *DB) AddCourse(code, name string) int {
	t := db.course
	t.Lock()
	defer t.Unlock()

	t.pkCount++
	t.table[t.pkCount] = &courseRow{ID: t.pkCount, Code: code, Name: name}
	return t.pkCount
}

func (db *DB) AssignLecturer(courseID, lecturerID int) {
	t := db.course
	t.Lock()
	defer t.Unlock()
	if c, ok := t.table[courseID]; ok {
		c.LecturerID = null.IntFrom(lecturerID)
	}
}

// Enroll adds an active enrollment.
func (db *DB) Enroll(studentID, courseID int) {
	db.setEnrollmentStatus(studentID, courseID, "active")
}

func (db *DB) setEnrollmentStatus(studentID, courseID int, status string) {
	t := db.enrollment
	t.Lock()
	defer t.Unlock()
	row := t.row(studentID, courseID)
	row.Status = status
}

func (db *DB) Unenroll(studentID, courseID int) {
	db.setEnrollmentStatus(studentID, courseID, "inactive")
}

// row must be called with the table write-locked.
func (t *enrollmentTable) row(studentID, courseID int) *enrollmentRow {
	k := enrollmentKey{studentID, courseID}
	row, ok := t.table[k]
	if !ok {
		row = &enrollmentRow{}
		t.table[k] = row
	}
	return row
}

func (dir *directory) Student(_ context.Context, id int) (alert.Person, error) {
	t := dir.db.user
	t.RLock()
	defer t.RUnlock()

	if u, ok := t.table[id]; ok && u.Role == core.RoleStudent {
		return u.Person, nil
	}
	return alert.Person{}, core.ErrNotFound
}

func (dir *directory) CourseName(_ context.Context, id int) (string, error) {
	t := dir.db.course
	t.RLock()
	defer t.RUnlock()

	if c, ok := t.table[id]; ok {
		return c.Name, nil
	}
	return "", core.ErrNotFound
}

func (dir *directory) LecturerForCourse(_ context.Context, courseID int) (alert.Person, error) {
	dir.db.course.RLock()
	c, ok := dir.db.course.table[courseID]
	var lecturerID null.Int
	if ok {
		lecturerID = c.LecturerID
	}
	dir.db.course.RUnlock()
	if !lecturerID.Valid {
		return alert.Person{}, alert.ErrNoLecturer
	}

	dir.db.user.RLock()
	defer dir.db.user.RUnlock()
	if u, ok := dir.db.user.table[lecturerID.Int]; ok {
		return u.Person, nil
	}
	return alert.Person{}, alert.ErrNoLecturer
}

func (dir *directory) ListActiveEnrollments(_ context.Context, courseID null.Int) ([]alert.Enrollment, error) {
	if err := dir.db.fault(func(f Faults) error { return f.ListEnrollments }); err != nil {
		return nil, err
	}
	dir.db.enrollment.RLock()
	keys := make([]enrollmentKey, 0, len(dir.db.enrollment.table))
	for k, row := range dir.db.enrollment.table {
		if row.Status == "active" && (!courseID.Valid || k.courseID == courseID.Int) {
			keys = append(keys, k)
		}
	}
	dir.db.enrollment.RUnlock()

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].courseID != keys[j].courseID {
			return keys[i].courseID < keys[j].courseID
		}
		return keys[i].studentID < keys[j].studentID
	})

	dir.db.user.RLock()
	dir.db.course.RLock()
	defer dir.db.user.RUnlock()
	defer dir.db.course.RUnlock()

	enrollments := make([]alert.Enrollment, 0, len(keys))
	for _, k := range keys {
		u, uok := dir.db.user.table[k.studentID]
		c, cok := dir.db.course.table[k.courseID]
		if !uok || !cok || u.Role != core.RoleStudent {
			continue
		}
		enrollments = append(enrollments, alert.Enrollment{
			StudentID:   k.studentID,
			CourseID:    k.courseID,
			StudentName: u.Name,
			CourseName:  c.Name,
		})
	}
	return enrollments, nil
}

func (dir *directory) Marks(_ context.Context, studentID, courseID int) (alert.Marks, error) {
	if err := dir.db.fault(func(f Faults) error { return f.Marks }); err != nil {
		return alert.Marks{}, err
	}
	t := dir.db.enrollment
	t.RLock()
	defer t.RUnlock()

	if row, ok := t.table[enrollmentKey{studentID, courseID}]; ok && row.HasMarks {
		return row.Marks, nil
	}
	return alert.Marks{}, core.ErrNotFound
}

func (dir *directory) Attendance(_ context.Context, studentID, courseID int) (null.Float64, error) {
	if err := dir.db.fault(func(f Faults) error { return f.Attendance }); err != nil {
		return null.Float64{}, err
	}
	t := dir.db.enrollment
	t.RLock()
	defer t.RUnlock()

	if row, ok := t.table[enrollmentKey{studentID, courseID}]; ok && row.HasInput {
		return row.Attendance, nil
	}
	return null.Float64{}, core.ErrNotFound
}

func (dir *directory) UpsertMarks(_ context.Context, studentID, courseID int, assessment string, v null.Float64) error {
	t := dir.db.enrollment
	t.Lock()
	defer t.Unlock()

	row := t.row(studentID, courseID)
	switch assessment {
	case "quiz1":
		row.Marks.Quiz1 = v
	case "quiz2":
		row.Marks.Quiz2 = v
	case "assignment1":
		row.Marks.Assignment1 = v
	case "assignment2":
		row.Marks.Assignment2 = v
	case "midterm":
		row.Marks.Midterm = v
	default:
		return alert.ErrUnknownAssessment
	}
	row.HasMarks = true
	return nil
}

func (dir *directory) UpsertAttendance(_ context.Context, studentID, courseID int, v null.Float64) error {
	t := dir.db.enrollment
	t.Lock()
	defer t.Unlock()

	row := t.row(studentID, courseID)
	row.Attendance = v
	row.HasInput = true
	return nil
}

// Seed fills an empty DB with a small demo dataset for local runs.
func (db *DB) Seed() {
	lecturer := db.AddUser("Grace Wanjiru", "grace@example.com", core.RoleLecturer)
	alice := db.AddUser("Alice Mwangi", "alice@example.com", core.RoleStudent)
	brian := db.AddUser("Brian Otieno", "brian@example.com", core.RoleStudent)
	db.AddUser("Admin", "admin@example.com", core.RoleAdmin)

	algo := db.AddCourse("CS201", "Algorithms")
	nets := db.AddCourse("CS305", "Computer Networks")
	db.AssignLecturer(algo, lecturer.ID)

	for _, sid := range []int{alice.ID, brian.ID} {
		db.Enroll(sid, algo)
		db.Enroll(sid, nets)
	}
	ctx := context.Background()
	dir := NewDirectory(db)
	_ = dir.UpsertMarks(ctx, alice.ID, algo, "quiz1", null.Float64From(32))
	_ = dir.UpsertMarks(ctx, alice.ID, algo, "midterm", null.Float64From(48))
	_ = dir.UpsertAttendance(ctx, alice.ID, algo, null.Float64From(58))
	_ = dir.UpsertMarks(ctx, brian.ID, nets, "assignment1", null.Float64From(91))
	_ = dir.UpsertAttendance(ctx, brian.ID, nets, null.Float64From(97))
}
