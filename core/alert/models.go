package alert

import (
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tahadhari/core"
)

// Severity tiers, totally ordered: low < medium < high < critical.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var severityRanks = map[Severity]int{
	SeverityLow:      1,
	SeverityMedium:   2,
	SeverityHigh:     3,
	SeverityCritical: 4,
}

// Rank is 1 (low) to 4 (critical), 0 for unknown values.
func (s Severity) Rank() int { return severityRanks[s] }

func (s Severity) AtLeast(o Severity) bool { return s.Rank() >= o.Rank() }

// IsUrgent reports whether s is high or critical: these send emails and require lecturer action.
func (s Severity) IsUrgent() bool { return s.AtLeast(SeverityHigh) }

func (s Severity) Valid() bool { return s.Rank() > 0 }

func (s *Severity) UnmarshalText(text []byte) error {
	sev := Severity(core.CleanString(string(text), true))
	if !sev.Valid() {
		return errors.Errorf("invalid severity: %q", text)
	}
	*s = sev
	return nil
}

type RecipientType string

const (
	RecipientStudent  RecipientType = "student"
	RecipientLecturer RecipientType = "lecturer"
)

func (rt RecipientType) Valid() bool { return rt == RecipientStudent || rt == RecipientLecturer }

// Type tags the signal behind an alert, independently of its severity.
type Type string

const (
	TypeExcellent           Type = "excellent"
	TypePerformance         Type = "performance"
	TypeImprovement         Type = "improvement"
	TypeWarning             Type = "warning"
	TypeAtRisk              Type = "at_risk"
	TypeAverage             Type = "average"
	TypePoorQuiz            Type = "poor_quiz"
	TypePoorAssignment      Type = "poor_assignment"
	TypePoorMidterm         Type = "poor_midterm"
	TypeLowAttendance       Type = "low_attendance"
	TypeModerateAttendance  Type = "moderate_attendance"
	TypeExcellentAttendance Type = "excellent_attendance"
	TypeMotivational        Type = "motivational"
	TypeStudentAtRisk       Type = "student_at_risk"
	TypeLowClassAttendance  Type = "low_class_attendance"
)

type Alert struct {
	ID                  int           `json:"id" db:"id"`
	StudentID           int           `json:"student_id" db:"student_id"`
	CourseID            int           `json:"course_id" db:"course_id"`
	RecipientType       RecipientType `json:"recipient_type" db:"recipient_type"`
	RecipientID         int           `json:"recipient_id" db:"recipient_id"`
	Type                Type          `json:"alert_type" db:"alert_type"`
	Severity            Severity      `json:"severity" db:"severity"`
	Title               string        `json:"title" db:"title"`
	Message             string        `json:"message" db:"message"`
	PredictedGrade      null.String   `json:"predicted_grade" db:"predicted_grade"`
	PredictedPercentage null.Float64  `json:"predicted_percentage" db:"predicted_percentage"`
	Marks               null.Float64  `json:"marks" db:"marks"`
	ActionRequired      bool          `json:"action_required" db:"action_required"`
	IsRead              bool          `json:"is_read" db:"is_read"`
	IsResolved          bool          `json:"is_resolved" db:"is_resolved"`
	IsDismissed         bool          `json:"is_dismissed" db:"is_dismissed"`
	CreatedAt           time.Time     `json:"created_at" db:"created_at"` // UTC
	UpdatedAt           time.Time     `json:"updated_at" db:"updated_at"` // UTC

	// joined on listing
	CourseName  string `json:"course_name,omitempty" db:"course_name"`
	StudentName string `json:"student_name,omitempty" db:"student_name"`
}

// GenerationLog is a deduplication ledger row, unique per (StudentID, CourseID, Key).
type GenerationLog struct {
	StudentID       int          `db:"student_id"`
	CourseID        int          `db:"course_id"`
	Key             string       `db:"alert_key"`
	LastGeneratedAt time.Time    `db:"last_generated_at"`
	LastValue       null.Float64 `db:"last_value"`
}

type Frequency string

const (
	FrequencyImmediate Frequency = "immediate"
	FrequencyDaily     Frequency = "daily"
	FrequencyWeekly    Frequency = "weekly"
)

type Preferences struct {
	UserID                int       `json:"user_id" db:"user_id"`
	EmailNotifications    bool      `json:"email_notifications" db:"email_notifications"`
	PushNotifications     bool      `json:"push_notifications" db:"push_notifications"`
	AtRiskAlerts          bool      `json:"at_risk_alerts" db:"at_risk_alerts"`
	PerformanceAlerts     bool      `json:"performance_alerts" db:"performance_alerts"`
	AttendanceAlerts      bool      `json:"attendance_alerts" db:"attendance_alerts"`
	GradePredictionAlerts bool      `json:"grade_prediction_alerts" db:"grade_prediction_alerts"`
	MotivationalAlerts    bool      `json:"motivational_alerts" db:"motivational_alerts"`
	Frequency             Frequency `json:"alert_frequency" db:"alert_frequency"`
}

// DefaultPreferences applies when a user never saved any: everything enabled, immediate delivery.
func DefaultPreferences(userID int) Preferences {
	return Preferences{
		UserID:                userID,
		EmailNotifications:    true,
		PushNotifications:     true,
		AtRiskAlerts:          true,
		PerformanceAlerts:     true,
		AttendanceAlerts:      true,
		GradePredictionAlerts: true,
		MotivationalAlerts:    true,
		Frequency:             FrequencyImmediate,
	}
}

// UpdatePreferences defines what may be changed on Preferences; nil fields are left untouched.
type UpdatePreferences struct {
	EmailNotifications    *bool  `json:"email_notifications"`
	PushNotifications     *bool  `json:"push_notifications"`
	AtRiskAlerts          *bool  `json:"at_risk_alerts"`
	PerformanceAlerts     *bool  `json:"performance_alerts"`
	AttendanceAlerts      *bool  `json:"attendance_alerts"`
	GradePredictionAlerts *bool  `json:"grade_prediction_alerts"`
	MotivationalAlerts    *bool  `json:"motivational_alerts"`
	Frequency             string `json:"alert_frequency" validate:"omitempty,oneof=immediate daily weekly"`
}

func (up UpdatePreferences) apply(p Preferences) Preferences {
	set := func(dst *bool, src *bool) {
		if src != nil {
			*dst = *src
		}
	}
	set(&p.EmailNotifications, up.EmailNotifications)
	set(&p.PushNotifications, up.PushNotifications)
	set(&p.AtRiskAlerts, up.AtRiskAlerts)
	set(&p.PerformanceAlerts, up.PerformanceAlerts)
	set(&p.AttendanceAlerts, up.AttendanceAlerts)
	set(&p.GradePredictionAlerts, up.GradePredictionAlerts)
	set(&p.MotivationalAlerts, up.MotivationalAlerts)
	if f := core.CleanString(up.Frequency, true); f != "" {
		p.Frequency = Frequency(f)
	}
	return p
}

// Person is a student or a lecturer, as known by the Directory.
type Person struct {
	ID    int    `json:"id" db:"id"`
	Name  string `json:"name" db:"full_name"`
	Email string `json:"email" db:"email"`
}

type Enrollment struct {
	StudentID   int    `json:"student_id" db:"student_id"`
	CourseID    int    `json:"course_id" db:"course_id"`
	StudentName string `json:"student_name" db:"student_name"`
	CourseName  string `json:"course_name" db:"course_name"`
}

// Marks holds the raw assessment marks of a student in a course; a null mark is not graded yet.
type Marks struct {
	Quiz1       null.Float64 `json:"quiz1" db:"quiz1"`
	Quiz2       null.Float64 `json:"quiz2" db:"quiz2"`
	Assignment1 null.Float64 `json:"assignment1" db:"assignment1"`
	Assignment2 null.Float64 `json:"assignment2" db:"assignment2"`
	Midterm     null.Float64 `json:"midterm" db:"midterm_marks"`
}

// Get returns the mark for one of core.Assessments.
func (m Marks) Get(assessment string) (null.Float64, bool) {
	switch assessment {
	case "quiz1":
		return m.Quiz1, true
	case "quiz2":
		return m.Quiz2, true
	case "assignment1":
		return m.Assignment1, true
	case "assignment2":
		return m.Assignment2, true
	case "midterm":
		return m.Midterm, true
	}
	return null.Float64{}, false
}

// Filter narrows ListAlerts; dismissed alerts are always excluded.
type Filter struct {
	CourseID           null.Int
	UnreadOnly         bool
	ActionRequiredOnly bool
	Ordering           []core.DBOrdering
	Limit              int
}

// OrderingFields are the accepted Filter.Ordering fields.
var OrderingFields = []string{"created_at", "severity"}

type ListResult struct {
	Alerts      []Alert `json:"alerts"`
	UnreadCount int     `json:"unread_count"`
}

// AtRiskCourse groups a lecturer's open alerts for one course, lowest predicted percentage first.
type AtRiskCourse struct {
	CourseID   int     `json:"course_id"`
	CourseName string  `json:"course_name"`
	Students   int     `json:"students"` // distinct students
	Alerts     []Alert `json:"alerts"`
}

type AtRiskReport struct {
	TotalAtRisk int            `json:"total_at_risk"`
	Courses     []AtRiskCourse `json:"courses"`
}

// Statistics covers the rolling window of the caller's own alerts.
// For students AtRisk counts high/critical alerts, for lecturers it counts student_at_risk alerts.
type Statistics struct {
	Total          int `json:"total"`
	Unread         int `json:"unread"`
	Critical       int `json:"critical"`
	High           int `json:"high"`
	ActionRequired int `json:"action_required"`
	AtRisk         int `json:"at_risk"`
	Excellent      int `json:"excellent"`
}

type (
	TrendPoint struct {
		Date     string   `json:"date"` // YYYY-MM-DD
		Type     Type     `json:"alert_type"`
		Severity Severity `json:"severity"`
		Count    int      `json:"count"`
	}

	TypeCount struct {
		Type        Type    `json:"alert_type"`
		Count       int     `json:"count"`
		AvgSeverity float64 `json:"avg_severity"`
	}

	CourseCount struct {
		CourseID      int    `json:"course_id"`
		CourseName    string `json:"course_name"`
		Count         int    `json:"count"`
		CriticalCount int    `json:"critical_count"`
	}

	Analytics struct {
		PeriodDays int           `json:"period_days"`
		Trends     []TrendPoint  `json:"trends"`
		Types      []TypeCount   `json:"types"`
		Courses    []CourseCount `json:"courses"`
	}
)

// Scope restricts AlertsSince to one recipient; the zero Scope means all alerts.
type Scope struct {
	RecipientType RecipientType
	RecipientID   int
}
