package alert

import (
	"context"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tahadhari/core"
)

var (
	// errors
	ErrNotFound          = core.ErrNotFound
	ErrNoLecturer        = errors.New("course has no lecturer")
	ErrUnknownTask       = errors.New("unknown task kind")
	ErrInvalidRecipient  = errors.New("invalid recipient type")
	ErrUnknownAssessment = errors.New("unknown assessment")
)

// Flag is one of the recipient-controlled booleans of an Alert.
type Flag string

const (
	FlagRead      Flag = "is_read"
	FlagResolved  Flag = "is_resolved"
	FlagDismissed Flag = "is_dismissed"
)

type (
	Repository interface {
		// Transact runs fn in a single transaction; the Repository given to fn is bound to it.
		Transact(ctx context.Context, fn func(tx Repository) error) error

		CreateAlert(ctx context.Context, a Alert) (Alert, error)
		GetAlert(ctx context.Context, id int) (Alert, error)
		// ListAlerts excludes dismissed alerts.
		ListAlerts(ctx context.Context, scope Scope, filter Filter) ([]Alert, error)
		CountUnread(ctx context.Context, scope Scope) (int, error)
		// SetFlag is a no-op (false, nil) when the alert does not belong to scope.
		SetFlag(ctx context.Context, id int, scope Scope, flag Flag) (bool, error)
		// DeletePredictionAlerts removes the prediction alerts of (student, course) of both recipient
		// types: those carrying a predicted percentage. Raw-score and motivational alerts stay.
		DeletePredictionAlerts(ctx context.Context, studentID, courseID int) (int, error)
		HasAlertSince(ctx context.Context, studentID, courseID int, typ Type, since time.Time) (bool, error)
		// AlertsSince includes dismissed alerts.
		AlertsSince(ctx context.Context, since time.Time, scope Scope) ([]Alert, error)

		GetGenerationLog(ctx context.Context, studentID, courseID int, key string) (GenerationLog, error)
		UpsertGenerationLog(ctx context.Context, entry GenerationLog) error

		GetPreferences(ctx context.Context, userID int) (Preferences, error)
		UpsertPreferences(ctx context.Context, p Preferences) (Preferences, error)
	}

	// Directory is the read/write boundary to users, courses, enrollments, marks and attendance.
	Directory interface {
		Student(ctx context.Context, id int) (Person, error)
		CourseName(ctx context.Context, id int) (string, error)
		// LecturerForCourse returns ErrNoLecturer when the course has none.
		LecturerForCourse(ctx context.Context, courseID int) (Person, error)
		ListActiveEnrollments(ctx context.Context, courseID null.Int) ([]Enrollment, error)
		Marks(ctx context.Context, studentID, courseID int) (Marks, error)
		Attendance(ctx context.Context, studentID, courseID int) (null.Float64, error)
		UpsertMarks(ctx context.Context, studentID, courseID int, assessment string, value null.Float64) error
		UpsertAttendance(ctx context.Context, studentID, courseID int, value null.Float64) error
	}

	// Predictor returns ok=false when no prediction is available.
	Predictor interface {
		Predict(ctx context.Context, studentID, courseID int) (float64, bool)
	}

	Recorder interface {
		AlertEmitted(a Alert)
		AlertSuppressed(key string)
	}
)

type nopRecorder struct{}

func (nopRecorder) AlertEmitted(Alert)      {}
func (nopRecorder) AlertSuppressed(string) {}

type noPredictor struct{}

func (noPredictor) Predict(context.Context, int, int) (float64, bool) { return 0, false }

type Strategy string

const (
	StrategyCooldown Strategy = "cooldown"
	StrategyReplace  Strategy = "replace"
)

type Options struct {
	Thresholds                  Thresholds
	Strategy                    Strategy
	Cooldown                    time.Duration
	ValueDelta                  float64
	LecturerThreshold           float64
	ReplaceLecturerThreshold    float64
	AttendanceLecturerThreshold float64
	MotivationalWindow          time.Duration
	MotivationalChance          float64
	StatisticsWindow            time.Duration
}

func DefaultOptions() Options {
	return Options{
		Thresholds:                  DefaultThresholds(),
		Strategy:                    StrategyCooldown,
		Cooldown:                    24 * time.Hour,
		ValueDelta:                  5,
		LecturerThreshold:           65,
		ReplaceLecturerThreshold:    50,
		AttendanceLecturerThreshold: 75,
		MotivationalWindow:          7 * 24 * time.Hour,
		MotivationalChance:          0.1,
		StatisticsWindow:            30 * 24 * time.Hour,
	}
}

func OptionsFromConfig(conf core.AlertsConfig, th Thresholds) Options {
	return Options{
		Thresholds:                  th,
		Strategy:                    Strategy(conf.Strategy),
		Cooldown:                    conf.Cooldown,
		ValueDelta:                  conf.ValueDelta,
		LecturerThreshold:           conf.LecturerThreshold,
		ReplaceLecturerThreshold:    conf.ReplaceLecturerThreshold,
		AttendanceLecturerThreshold: conf.AttendanceLecturerThreshold,
		MotivationalWindow:          conf.MotivationalWindow,
		MotivationalChance:          conf.MotivationalChance,
		StatisticsWindow:            conf.StatisticsWindow,
	}
}

type Service struct {
	repo      Repository
	dir       Directory
	ledger    *Ledger
	notifier  *Notifier
	logger    core.Logger
	opts      Options
	locker    Locker
	predictor Predictor
	queue     TaskQueue
	recorder  Recorder

	rndMu sync.Mutex
	rnd   *rand.Rand
}

type ServiceOption func(*Service)

func WithLocker(l Locker) ServiceOption { return func(svc *Service) { svc.locker = l } }
func WithPredictor(p Predictor) ServiceOption { return func(svc *Service) { svc.predictor = p } }
func WithQueue(q TaskQueue) ServiceOption { return func(svc *Service) { svc.queue = q } }
func WithRecorder(r Recorder) ServiceOption { return func(svc *Service) { svc.recorder = r } }
func WithRand(r *rand.Rand) ServiceOption { return func(svc *Service) { svc.rnd = r } }

func NewService(repo Repository, dir Directory, notifier *Notifier, logger core.Logger, opts Options, options ...ServiceOption) *Service {
	opts.Thresholds = opts.Thresholds.sorted()
	svc := &Service{
		repo:      repo,
		dir:       dir,
		ledger:    NewLedger(repo, opts.Cooldown, opts.ValueDelta, logger),
		notifier:  notifier,
		logger:    logger,
		opts:      opts,
		locker:    NewLocalLocker(),
		predictor: noPredictor{},
		recorder:  nopRecorder{},
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range options {
		opt(svc)
	}
	if svc.queue == nil {
		svc.queue = inlineQueue{svc: svc}
	}
	return svc
}

func (svc *Service) Options() Options { return svc.opts }

func (svc *Service) chance() float64 {
	svc.rndMu.Lock()
	defer svc.rndMu.Unlock()
	return svc.rnd.Float64()
}

func (svc *Service) pickMotivational(course string) string {
	svc.rndMu.Lock()
	defer svc.rndMu.Unlock()
	return motivationalMessage(svc.rnd, course)
}

func checkScope(rt RecipientType, userID int) (Scope, error) {
	if !rt.Valid() {
		return Scope{}, core.NewValidationError(ErrInvalidRecipient, core.FieldError{
			Field: "user_type", Error: "must be one of: student, lecturer",
		})
	}
	return Scope{RecipientType: rt, RecipientID: userID}, nil
}

// ListAlerts returns the recipient's non-dismissed alerts, newest first unless filter orders otherwise.
func (svc *Service) ListAlerts(ctx context.Context, rt RecipientType, userID int, filter Filter) (ListResult, error) {
	scope, err := checkScope(rt, userID)
	if err != nil {
		return ListResult{}, err
	}
	if len(filter.Ordering) == 0 {
		filter.Ordering = []core.DBOrdering{{Field: "created_at"}}
	}

	alerts, err := svc.repo.ListAlerts(ctx, scope, filter)
	if err != nil {
		return ListResult{}, errors.Wrap(err, "listing alerts")
	}
	unread, err := svc.repo.CountUnread(ctx, scope)
	if err != nil {
		return ListResult{}, errors.Wrap(err, "counting unread alerts")
	}
	if alerts == nil {
		alerts = []Alert{}
	}
	return ListResult{Alerts: alerts, UnreadCount: unread}, nil
}

func (svc *Service) setFlag(ctx context.Context, alertID int, rt RecipientType, userID int, flag Flag) error {
	scope, err := checkScope(rt, userID)
	if err != nil {
		return err
	}
	if _, err := svc.repo.SetFlag(ctx, alertID, scope, flag); err != nil {
		return errors.Wrapf(err, "setting %s", flag)
	}
	return nil
}

// MarkRead, MarkResolved and Dismiss silently ignore alerts that do not belong to the caller.
func (svc *Service) MarkRead(ctx context.Context, alertID int, rt RecipientType, userID int) error {
	return svc.setFlag(ctx, alertID, rt, userID, FlagRead)
}

func (svc *Service) MarkResolved(ctx context.Context, alertID int, rt RecipientType, userID int) error {
	return svc.setFlag(ctx, alertID, rt, userID, FlagResolved)
}

func (svc *Service) Dismiss(ctx context.Context, alertID int, rt RecipientType, userID int) error {
	return svc.setFlag(ctx, alertID, rt, userID, FlagDismissed)
}

func (svc *Service) GetStatistics(ctx context.Context, rt RecipientType, userID int) (Statistics, error) {
	scope, err := checkScope(rt, userID)
	if err != nil {
		return Statistics{}, err
	}
	alerts, err := svc.repo.AlertsSince(ctx, core.NowFunc().Add(-svc.opts.StatisticsWindow), scope)
	if err != nil {
		return Statistics{}, errors.Wrap(err, "querying alert statistics")
	}
	return computeStatistics(rt, alerts), nil
}

// AtRiskStudents lists the lecturer's non-dismissed alerts grouped by course, courses by name.
// Within a course, alerts are ordered by predicted percentage (unknown last), then newest first.
// A valid courseID restricts the report to that course.
func (svc *Service) AtRiskStudents(ctx context.Context, lecturerID int, courseID null.Int) (AtRiskReport, error) {
	alerts, err := svc.repo.ListAlerts(ctx, Scope{RecipientType: RecipientLecturer, RecipientID: lecturerID}, Filter{
		CourseID: courseID,
		Ordering: []core.DBOrdering{{Field: "created_at"}},
	})
	if err != nil {
		return AtRiskReport{}, errors.Wrap(err, "listing lecturer alerts")
	}

	sort.SliceStable(alerts, func(i, j int) bool {
		a, b := alerts[i], alerts[j]
		if a.CourseName != b.CourseName {
			return a.CourseName < b.CourseName
		}
		if a.CourseID != b.CourseID {
			return a.CourseID < b.CourseID
		}
		pa, pb := a.PredictedPercentage, b.PredictedPercentage
		switch {
		case pa.Valid && pb.Valid && pa.Float64 != pb.Float64:
			return pa.Float64 < pb.Float64
		case pa.Valid != pb.Valid:
			return pa.Valid
		}
		return false // keep the newest-first listing order
	})

	report := AtRiskReport{TotalAtRisk: len(alerts), Courses: []AtRiskCourse{}}
	var students map[int]struct{}
	for _, a := range alerts {
		n := len(report.Courses)
		if n == 0 || report.Courses[n-1].CourseID != a.CourseID {
			report.Courses = append(report.Courses, AtRiskCourse{CourseID: a.CourseID, CourseName: a.CourseName})
			students = make(map[int]struct{})
			n++
		}
		c := &report.Courses[n-1]
		c.Alerts = append(c.Alerts, a)
		if _, seen := students[a.StudentID]; !seen {
			students[a.StudentID] = struct{}{}
			c.Students++
		}
	}
	return report, nil
}

func computeStatistics(rt RecipientType, alerts []Alert) Statistics {
	var st Statistics
	for _, a := range alerts {
		st.Total++
		if !a.IsRead {
			st.Unread++
		}
		switch a.Severity {
		case SeverityCritical:
			st.Critical++
		case SeverityHigh:
			st.High++
		}
		if a.ActionRequired && !a.IsResolved {
			st.ActionRequired++
		}
		switch rt {
		case RecipientLecturer:
			if a.Type == TypeStudentAtRisk {
				st.AtRisk++
			}
		default:
			if a.Severity.IsUrgent() {
				st.AtRisk++
			}
		}
		if a.Type == TypeExcellent || a.Type == TypeExcellentAttendance {
			st.Excellent++
		}
	}
	return st
}

const defaultAnalyticsDays = 7

// GetAnalytics aggregates every alert created in the last `days` days (7 when days <= 0).
func (svc *Service) GetAnalytics(ctx context.Context, days int) (Analytics, error) {
	if days <= 0 {
		days = defaultAnalyticsDays
	}
	since := core.NowFunc().Add(-time.Duration(days) * 24 * time.Hour)
	alerts, err := svc.repo.AlertsSince(ctx, since, Scope{})
	if err != nil {
		return Analytics{}, errors.Wrap(err, "querying alert analytics")
	}
	return buildAnalytics(days, alerts), nil
}

func buildAnalytics(days int, alerts []Alert) Analytics {
	type trendKey struct {
		date string
		typ  Type
		sev  Severity
	}
	trends := make(map[trendKey]int)
	types := make(map[Type]*TypeCount)
	sevSums := make(map[Type]int)
	courses := make(map[int]*CourseCount)

	for _, a := range alerts {
		trends[trendKey{a.CreatedAt.UTC().Format("2006-01-02"), a.Type, a.Severity}]++

		tc, ok := types[a.Type]
		if !ok {
			tc = &TypeCount{Type: a.Type}
			types[a.Type] = tc
		}
		tc.Count++
		sevSums[a.Type] += a.Severity.Rank()

		cc, ok := courses[a.CourseID]
		if !ok {
			cc = &CourseCount{CourseID: a.CourseID, CourseName: a.CourseName}
			courses[a.CourseID] = cc
		}
		cc.Count++
		if a.Severity == SeverityCritical {
			cc.CriticalCount++
		}
	}

	an := Analytics{
		PeriodDays: days,
		Trends:     make([]TrendPoint, 0, len(trends)),
		Types:      make([]TypeCount, 0, len(types)),
		Courses:    make([]CourseCount, 0, len(courses)),
	}
	for k, n := range trends {
		an.Trends = append(an.Trends, TrendPoint{Date: k.date, Type: k.typ, Severity: k.sev, Count: n})
	}
	sort.Slice(an.Trends, func(i, j int) bool {
		ti, tj := an.Trends[i], an.Trends[j]
		if ti.Date != tj.Date {
			return ti.Date > tj.Date
		}
		if ti.Type != tj.Type {
			return ti.Type < tj.Type
		}
		return ti.Severity.Rank() > tj.Severity.Rank()
	})

	for t, tc := range types {
		tc.AvgSeverity = core.Round2(float64(sevSums[t]) / float64(tc.Count))
		an.Types = append(an.Types, *tc)
	}
	sort.Slice(an.Types, func(i, j int) bool {
		if an.Types[i].Count != an.Types[j].Count {
			return an.Types[i].Count > an.Types[j].Count
		}
		return an.Types[i].Type < an.Types[j].Type
	})

	for _, cc := range courses {
		an.Courses = append(an.Courses, *cc)
	}
	sort.Slice(an.Courses, func(i, j int) bool {
		if an.Courses[i].Count != an.Courses[j].Count {
			return an.Courses[i].Count > an.Courses[j].Count
		}
		return an.Courses[i].CourseID < an.Courses[j].CourseID
	})
	return an
}

// GetPreferences returns the stored preferences, or the defaults when the user has none.
func (svc *Service) GetPreferences(ctx context.Context, userID int) (Preferences, error) {
	p, err := svc.repo.GetPreferences(ctx, userID)
	if err != nil {
		if errors.Cause(err) == ErrNotFound {
			return DefaultPreferences(userID), nil
		}
		return Preferences{}, errors.Wrap(err, "getting preferences")
	}
	return p, nil
}

func (svc *Service) UpdatePreferences(ctx context.Context, userID int, up UpdatePreferences) (Preferences, error) {
	switch Frequency(core.CleanString(up.Frequency, true)) {
	case "", FrequencyImmediate, FrequencyDaily, FrequencyWeekly:
	default:
		return Preferences{}, core.NewValidationError(
			errors.Errorf("invalid alert frequency: %q", up.Frequency),
			core.FieldError{Field: "alert_frequency", Error: "must be one of: immediate, daily, weekly"},
		)
	}

	p, err := svc.GetPreferences(ctx, userID)
	if err != nil {
		return Preferences{}, err
	}
	p, err = svc.repo.UpsertPreferences(ctx, up.apply(p))
	if err != nil {
		return Preferences{}, errors.Wrap(err, "saving preferences")
	}
	return p, nil
}

// preferencesFor is used by generators: read errors fail open to the defaults.
func (svc *Service) preferencesFor(ctx context.Context, userID int) Preferences {
	p, err := svc.GetPreferences(ctx, userID)
	if err != nil {
		svc.logger.Error("reading alert preferences failed, using defaults", err, map[string]interface{}{"user_id": userID})
		return DefaultPreferences(userID)
	}
	return p
}
