package alert

import (
	"os"
	"sort"

	"github.com/pkg/errors"
	"github.com/spf13/viper"

	"github.com/trezcool/tahadhari/core"
)

// Band maps every value >= Min (and below the previous band's Min) to an alert.
// An empty Type means the band emits nothing.
// Titles and messages are text/templates over MessageData; Lecturer* are the third-person variants.
type Band struct {
	Min             float64  `mapstructure:"min" json:"min"`
	Type            Type     `mapstructure:"type" json:"type,omitempty"`
	Severity        Severity `mapstructure:"severity" json:"severity,omitempty"`
	Title           string   `mapstructure:"title" json:"title,omitempty"`
	Message         string   `mapstructure:"message" json:"message,omitempty"`
	LecturerTitle   string   `mapstructure:"lecturertitle" json:"lecturer_title,omitempty"`
	LecturerMessage string   `mapstructure:"lecturermessage" json:"lecturer_message,omitempty"`
}

func (b Band) Emits() bool { return b.Type != "" }

// Table is evaluated high-to-low; the first band whose Min is reached wins.
type Table []Band

// Classify returns the band for p. ok is false when p falls in a silent band or below every band.
func (t Table) Classify(p float64) (band Band, ok bool) {
	p = Normalize(p)
	for _, b := range t {
		if p >= b.Min {
			return b, b.Emits()
		}
	}
	return Band{}, false
}

func (t Table) sorted() Table {
	out := make(Table, len(t))
	copy(out, t)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Min > out[j].Min })
	return out
}

func (t Table) validate(name string) []core.FieldError {
	var flds []core.FieldError
	if len(t) == 0 {
		return append(flds, core.FieldError{Field: name, Error: "must have at least one band"})
	}
	for i, b := range t {
		if !b.Emits() {
			continue
		}
		if !b.Severity.Valid() {
			flds = append(flds, core.FieldError{Field: name, Error: "invalid severity: " + string(b.Severity)})
		}
		for _, tmpl := range []string{b.Title, b.Message, b.LecturerTitle, b.LecturerMessage} {
			if _, err := parseMessage(tmpl); err != nil {
				flds = append(flds, core.FieldError{Field: name, Error: errors.Wrapf(err, "band %d", i).Error()})
			}
		}
	}
	return flds
}

// Thresholds holds one table per signal. Raw-score tables are coarser than the prediction one.
type Thresholds struct {
	Prediction Table `mapstructure:"prediction"`
	Quiz       Table `mapstructure:"quiz"`
	Assignment Table `mapstructure:"assignment"`
	Midterm    Table `mapstructure:"midterm"`
	Attendance Table `mapstructure:"attendance"`
}

func (th Thresholds) sorted() Thresholds {
	return Thresholds{
		Prediction: th.Prediction.sorted(),
		Quiz:       th.Quiz.sorted(),
		Assignment: th.Assignment.sorted(),
		Midterm:    th.Midterm.sorted(),
		Attendance: th.Attendance.sorted(),
	}
}

func (th Thresholds) Validate() error {
	var flds []core.FieldError
	flds = append(flds, th.Prediction.validate("prediction")...)
	flds = append(flds, th.Quiz.validate("quiz")...)
	flds = append(flds, th.Assignment.validate("assignment")...)
	flds = append(flds, th.Midterm.validate("midterm")...)
	flds = append(flds, th.Attendance.validate("attendance")...)
	if len(flds) > 0 {
		return core.NewValidationError(errors.New("invalid alert thresholds"), flds...)
	}
	return nil
}

// LoadThresholds reads table overrides under the `thresholds` key of a YAML/JSON/TOML file.
// Tables absent from the file keep their defaults; a missing file yields the defaults.
func LoadThresholds(file string) (Thresholds, error) {
	th := DefaultThresholds()
	if file == "" {
		return th, nil
	}
	if _, err := os.Stat(file); os.IsNotExist(err) {
		return th, nil
	}

	v := viper.New()
	v.SetConfigFile(file)
	if err := v.ReadInConfig(); err != nil {
		return Thresholds{}, errors.Wrapf(err, "reading %s", file)
	}
	// decoded into empty tables: mapstructure merges slice elements into existing ones
	var custom Thresholds
	if err := v.UnmarshalKey("thresholds", &custom); err != nil {
		return Thresholds{}, errors.Wrapf(err, "decoding %s", file)
	}
	for _, t := range []struct{ dst, src *Table }{
		{&th.Prediction, &custom.Prediction},
		{&th.Quiz, &custom.Quiz},
		{&th.Assignment, &custom.Assignment},
		{&th.Midterm, &custom.Midterm},
		{&th.Attendance, &custom.Attendance},
	} {
		if *t.src != nil {
			*t.dst = *t.src
		}
	}
	th = th.sorted()
	if err := th.Validate(); err != nil {
		return Thresholds{}, err
	}
	return th, nil
}

const (
	studentNeedsSupport = "Student Alert: {{.Student}} needs support in {{.Course}}"
	studentAtCritical   = "Student Alert: {{.Student}} is at critical risk in {{.Course}}"
	studentOnTrack      = "Student Alert: {{.Student}} is on track in {{.Course}}"
	lecturerPrediction  = "{{.Student}} is predicted to achieve {{article .Grade}} {{.Grade}} grade ({{.Percent}}%) in {{.Course}}."
)

// DefaultThresholds returns the stock tables.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Prediction: Table{
			{
				Min: 85, Type: TypeExcellent, Severity: SeverityLow,
				Title:           "Outstanding Performance!",
				Message:         "Your performance in {{.Course}} is predicted to achieve {{article .Grade}} {{.Grade}} grade ({{.Percent}}%). Keep up the excellent work!",
				LecturerTitle:   studentOnTrack,
				LecturerMessage: lecturerPrediction + " No action is needed.",
			},
			{
				Min: 70, Type: TypePerformance, Severity: SeverityLow,
				Title:           "Strong Performance",
				Message:         "Your performance in {{.Course}} is predicted to achieve {{article .Grade}} {{.Grade}} grade ({{.Percent}}%). You are on track, stay consistent!",
				LecturerTitle:   studentOnTrack,
				LecturerMessage: lecturerPrediction + " No action is needed.",
			},
			{
				Min: 65, Type: TypePerformance, Severity: SeverityLow,
				Title:           "Strong Performance",
				Message:         "Your performance in {{.Course}} is predicted to achieve {{article .Grade}} {{.Grade}} grade ({{.Percent}}%). A little more effort can lift you to the next grade.",
				LecturerTitle:   studentOnTrack,
				LecturerMessage: lecturerPrediction + " No action is needed.",
			},
			{
				Min: 60, Type: TypeImprovement, Severity: SeverityMedium,
				Title:           "Room for Improvement",
				Message:         "Your performance in {{.Course}} is predicted to achieve {{article .Grade}} {{.Grade}} grade ({{.Percent}}%). Focus on your weaker topics to improve your result.",
				LecturerTitle:   studentNeedsSupport,
				LecturerMessage: lecturerPrediction + " Their results could improve with some guidance.",
			},
			{
				Min: 55, Type: TypeWarning, Severity: SeverityMedium,
				Title:           "Room for Improvement",
				Message:         "Your performance in {{.Course}} is predicted to achieve {{article .Grade}} {{.Grade}} grade ({{.Percent}}%). Review the course material and ask your lecturer about difficult topics.",
				LecturerTitle:   studentNeedsSupport,
				LecturerMessage: lecturerPrediction + " Consider checking in with them.",
			},
			{
				Min: 50, Type: TypeWarning, Severity: SeverityHigh,
				Title:           "At Risk - Action Needed",
				Message:         "Your performance in {{.Course}} is predicted to achieve {{article .Grade}} {{.Grade}} grade ({{.Percent}}%). You are at risk: schedule a meeting with your lecturer as soon as possible.",
				LecturerTitle:   studentNeedsSupport,
				LecturerMessage: lecturerPrediction + " They are at risk and should be contacted.",
			},
			{
				Min: 40, Type: TypeWarning, Severity: SeverityHigh,
				Title:           "At Risk - Action Needed",
				Message:         "Your performance in {{.Course}} is predicted to achieve {{article .Grade}} {{.Grade}} grade ({{.Percent}}%). You are at risk of failing: seek help from your lecturer and consider extra tutoring.",
				LecturerTitle:   studentNeedsSupport,
				LecturerMessage: lecturerPrediction + " They are at risk of failing and should be contacted.",
			},
			{
				Min: 0, Type: TypeWarning, Severity: SeverityCritical,
				Title:           "Critical - Immediate Support Required",
				Message:         "Your performance in {{.Course}} is predicted to achieve {{article .Grade}} {{.Grade}} grade ({{.Percent}}%). Meet with your lecturer and academic advisor immediately to plan your recovery.",
				LecturerTitle:   studentAtCritical,
				LecturerMessage: lecturerPrediction + " Immediate intervention is required.",
			},
		},

		Quiz: Table{
			{
				Min: 85, Type: TypeExcellent, Severity: SeverityLow,
				Title:   "Quiz Success: Excellent performance in {{.Label}}",
				Message: "Congratulations! You scored {{.Percent}}% in {{.Label}} for {{.Course}}. Keep up the excellent work!",
			},
			{Min: 55},
			{
				Min: 40, Type: TypePoorQuiz, Severity: SeverityHigh,
				Title:   "Quiz Alert: Below average performance in {{.Label}}",
				Message: "You scored {{.Percent}}% in {{.Label}} for {{.Course}}. Consider reviewing the topics covered and preparing better for future assessments.",
			},
			{
				Min: 0, Type: TypePoorQuiz, Severity: SeverityCritical,
				Title:   "Critical Quiz Alert: Poor performance in {{.Label}}",
				Message: "You scored {{.Percent}}% in {{.Label}} for {{.Course}}. This is below the passing threshold. Please review the material and seek help from your lecturer or study groups.",
			},
		},

		Assignment: Table{
			{
				Min: 85, Type: TypeExcellent, Severity: SeverityLow,
				Title:   "Assignment Success: Outstanding work on {{.Label}}",
				Message: "Excellent work! You scored {{.Percent}}% in {{.Label}} for {{.Course}}. Your dedication and hard work are paying off!",
			},
			{Min: 55},
			{
				Min: 40, Type: TypePoorAssignment, Severity: SeverityHigh,
				Title:   "Assignment Alert: Below average performance in {{.Label}}",
				Message: "You scored {{.Percent}}% in {{.Label}} for {{.Course}}. Ask your lecturer for feedback and improve your approach for future assignments.",
			},
			{
				Min: 0, Type: TypePoorAssignment, Severity: SeverityCritical,
				Title:   "Critical Assignment Alert: Poor performance in {{.Label}}",
				Message: "You scored {{.Percent}}% in {{.Label}} for {{.Course}}. This requires immediate attention: meet with your lecturer to discuss improvement strategies.",
			},
		},

		Midterm: Table{
			{
				Min: 85, Type: TypeExcellent, Severity: SeverityLow,
				Title:   "Midterm Excellence: Outstanding midterm performance",
				Message: "Congratulations! You scored {{.Percent}}% in the midterm exam for {{.Course}}. Keep this level of preparation for the final exam.",
			},
			{Min: 70},
			{
				Min: 55, Type: TypeAverage, Severity: SeverityMedium,
				Title:   "Midterm Update: Average performance with room for improvement",
				Message: "You scored {{.Percent}}% in the midterm exam for {{.Course}}. With focused effort and better preparation you can improve your final grade.",
			},
			{
				Min: 40, Type: TypePoorMidterm, Severity: SeverityHigh,
				Title:   "Midterm Alert: Poor performance requires action",
				Message: "You scored {{.Percent}}% in the midterm exam for {{.Course}}. You need to significantly improve your preparation for the final exam. Seek help from your lecturer.",
			},
			{
				Min: 0, Type: TypePoorMidterm, Severity: SeverityCritical,
				Title:   "Critical Midterm Alert: Immediate attention needed",
				Message: "You scored {{.Percent}}% in the midterm exam for {{.Course}}. Schedule an urgent meeting with your lecturer and academic advisor to plan your recovery before the final exam.",
			},
		},

		Attendance: Table{
			{
				Min: 95, Type: TypeExcellentAttendance, Severity: SeverityLow,
				Title:   "Excellent Attendance: Keep up the great work!",
				Message: "Outstanding! You have {{.Percent}}% attendance in {{.Course}}. Your consistent presence in class is contributing to your success.",
			},
			{Min: 75},
			{
				Min: 65, Type: TypeModerateAttendance, Severity: SeverityMedium,
				Title:           "Attendance Notice: Improvement needed",
				Message:         "Your attendance in {{.Course}} is {{.Percent}}%. While above the minimum, better attendance will help you perform better in exams.",
				LecturerTitle:   "Student Alert: Low attendance for {{.Student}} in {{.Course}}",
				LecturerMessage: "{{.Student}} has {{.Percent}}% attendance in {{.Course}}. Consider reaching out to the student.",
			},
			{
				Min: 50, Type: TypeLowAttendance, Severity: SeverityHigh,
				Title:           "Attendance Warning: Below the minimum requirement",
				Message:         "Your attendance in {{.Course}} is {{.Percent}}%, which is below the minimum requirement. You risk being barred from the final exam.",
				LecturerTitle:   "Student Alert: Low attendance for {{.Student}} in {{.Course}}",
				LecturerMessage: "{{.Student}} has {{.Percent}}% attendance in {{.Course}}, below the minimum requirement. Please contact the student.",
			},
			{
				Min: 0, Type: TypeLowAttendance, Severity: SeverityCritical,
				Title:           "Critical Attendance Alert: Immediate attention required",
				Message:         "Your attendance in {{.Course}} is critically low at {{.Percent}}%. This may bar you from the final exam. Contact your lecturer immediately.",
				LecturerTitle:   "Student Alert: Critically low attendance for {{.Student}} in {{.Course}}",
				LecturerMessage: "{{.Student}} has {{.Percent}}% attendance in {{.Course}} and may be barred from the final exam. Immediate follow-up is required.",
			},
		},
	}
}
