package sqlxrepos

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/pkg/errors"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
)

const (
	alertColumns = `a.id, a.student_id, a.course_id, a.recipient_type, a.recipient_id, a.alert_type, a.severity,
	a.title, a.message, a.predicted_grade, a.predicted_percentage, a.marks, a.action_required,
	a.is_read, a.is_resolved, a.is_dismissed, a.created_at, a.updated_at,
	COALESCE(c.course_name, '') AS course_name, COALESCE(u.full_name, '') AS student_name`

	alertFrom = `FROM alerts a
	LEFT JOIN courses c ON c.id = a.course_id
	LEFT JOIN users u ON u.id = a.student_id`

	insertAlertQuery = `INSERT INTO alerts (
	student_id, course_id, recipient_type, recipient_id, alert_type, severity, title, message,
	predicted_grade, predicted_percentage, marks, action_required, is_read, is_resolved, is_dismissed,
	created_at, updated_at
) VALUES (
	:student_id, :course_id, :recipient_type, :recipient_id, :alert_type, :severity, :title, :message,
	:predicted_grade, :predicted_percentage, :marks, :action_required, :is_read, :is_resolved, :is_dismissed,
	:created_at, :updated_at
) RETURNING id`

	upsertGenLogQuery = `INSERT INTO alert_generation_log (student_id, course_id, alert_key, last_generated_at, last_value)
VALUES (:student_id, :course_id, :alert_key, :last_generated_at, :last_value)
ON CONFLICT (student_id, course_id, alert_key)
DO UPDATE SET last_generated_at = EXCLUDED.last_generated_at, last_value = EXCLUDED.last_value`

	prefColumns = `user_id, email_notifications, push_notifications, at_risk_alerts, performance_alerts,
	attendance_alerts, grade_prediction_alerts, motivational_alerts, alert_frequency`

	upsertPrefQuery = `INSERT INTO alert_preferences (
	user_id, email_notifications, push_notifications, at_risk_alerts, performance_alerts,
	attendance_alerts, grade_prediction_alerts, motivational_alerts, alert_frequency, updated_at
) VALUES (
	:user_id, :email_notifications, :push_notifications, :at_risk_alerts, :performance_alerts,
	:attendance_alerts, :grade_prediction_alerts, :motivational_alerts, :alert_frequency, NOW()
)
ON CONFLICT (user_id) DO UPDATE SET
	email_notifications = EXCLUDED.email_notifications,
	push_notifications = EXCLUDED.push_notifications,
	at_risk_alerts = EXCLUDED.at_risk_alerts,
	performance_alerts = EXCLUDED.performance_alerts,
	attendance_alerts = EXCLUDED.attendance_alerts,
	grade_prediction_alerts = EXCLUDED.grade_prediction_alerts,
	motivational_alerts = EXCLUDED.motivational_alerts,
	alert_frequency = EXCLUDED.alert_frequency,
	updated_at = EXCLUDED.updated_at
RETURNING ` + prefColumns

	severityRankExpr = `CASE a.severity WHEN 'critical' THEN 4 WHEN 'high' THEN 3 WHEN 'medium' THEN 2 ELSE 1 END`
)

// orderExprs whitelists the sortable columns.
var orderExprs = map[string]string{
	"created_at": "a.created_at",
	"severity":   severityRankExpr,
}

// flagColumns whitelists the columns SetFlag may touch.
var flagColumns = map[alert.Flag]string{
	alert.FlagRead:      "is_read",
	alert.FlagResolved:  "is_resolved",
	alert.FlagDismissed: "is_dismissed",
}

type alertRepository struct {
	db  *sqlx.DB
	ext sqlx.ExtContext // db, or the ongoing *sqlx.Tx
}

var _ alert.Repository = (*alertRepository)(nil) // interface compliance check

func NewAlertRepository(db *sqlx.DB) alert.Repository {
	return &alertRepository{db: db, ext: db}
}

func (repo *alertRepository) Transact(ctx context.Context, fn func(tx alert.Repository) error) error {
	if _, ok := repo.ext.(*sqlx.Tx); ok {
		return fn(repo)
	}

	tx, err := repo.db.BeginTxx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	if err := fn(&alertRepository{db: repo.db, ext: tx}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Wrapf(err, "rolling back: %v", rbErr)
		}
		return err
	}
	return errors.Wrap(tx.Commit(), "committing transaction")
}

func (repo *alertRepository) CreateAlert(ctx context.Context, a alert.Alert) (alert.Alert, error) {
	q, args, err := repo.ext.BindNamed(insertAlertQuery, a)
	if err != nil {
		return alert.Alert{}, errors.Wrap(err, "binding alert")
	}
	if err := repo.ext.QueryRowxContext(ctx, q, args...).Scan(&a.ID); err != nil {
		return alert.Alert{}, errors.Wrap(err, "inserting alert")
	}
	return a, nil
}

func (repo *alertRepository) GetAlert(ctx context.Context, id int) (alert.Alert, error) {
	var a alert.Alert
	q := "SELECT " + alertColumns + " " + alertFrom + " WHERE a.id = $1"
	if err := sqlx.GetContext(ctx, repo.ext, &a, q, id); err != nil {
		if err == sql.ErrNoRows {
			return alert.Alert{}, core.ErrNotFound
		}
		return alert.Alert{}, errors.Wrap(err, "selecting alert")
	}
	return a, nil
}

// where accumulates conditions with positional args.
type where struct {
	conds []string
	args  []interface{}
}

func (w *where) add(cond string, args ...interface{}) {
	for _, arg := range args {
		w.args = append(w.args, arg)
		cond = strings.Replace(cond, "?", "$"+strconv.Itoa(len(w.args)), 1)
	}
	w.conds = append(w.conds, cond)
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func (w *where) scope(scope alert.Scope) {
	if scope.RecipientType != "" {
		w.add("a.recipient_type = ?", scope.RecipientType)
		w.add("a.recipient_id = ?", scope.RecipientID)
	}
}

func orderBy(orderings []core.DBOrdering) string {
	parts := make([]string, 0, len(orderings)+1)
	for _, ord := range orderings {
		expr, ok := orderExprs[ord.Field]
		if !ok {
			continue
		}
		parts = append(parts, core.DBOrdering{Field: expr, Ascending: ord.Ascending}.String())
	}
	parts = append(parts, "a.id DESC")
	return " ORDER BY " + strings.Join(parts, ", ")
}

func (repo *alertRepository) ListAlerts(ctx context.Context, scope alert.Scope, f alert.Filter) ([]alert.Alert, error) {
	var w where
	w.scope(scope)
	w.add("NOT a.is_dismissed")
	if f.CourseID.Valid {
		w.add("a.course_id = ?", f.CourseID.Int)
	}
	if f.UnreadOnly {
		w.add("NOT a.is_read")
	}
	if f.ActionRequiredOnly {
		w.add("a.action_required")
	}

	q := "SELECT " + alertColumns + " " + alertFrom + w.String() + orderBy(f.Ordering)
	if f.Limit > 0 {
		q += " LIMIT " + strconv.Itoa(f.Limit)
	}

	alerts := make([]alert.Alert, 0)
	if err := sqlx.SelectContext(ctx, repo.ext, &alerts, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "selecting alerts")
	}
	return alerts, nil
}

func (repo *alertRepository) CountUnread(ctx context.Context, scope alert.Scope) (int, error) {
	var w where
	w.scope(scope)
	w.add("NOT a.is_dismissed")
	w.add("NOT a.is_read")

	var n int
	if err := sqlx.GetContext(ctx, repo.ext, &n, "SELECT COUNT(*) FROM alerts a"+w.String(), w.args...); err != nil {
		return 0, errors.Wrap(err, "counting unread alerts")
	}
	return n, nil
}

func (repo *alertRepository) SetFlag(ctx context.Context, id int, scope alert.Scope, flag alert.Flag) (bool, error) {
	col, ok := flagColumns[flag]
	if !ok {
		return false, errors.Errorf("unknown alert flag: %q", flag)
	}
	res, err := repo.ext.ExecContext(ctx,
		"UPDATE alerts SET "+col+" = TRUE, updated_at = $1 WHERE id = $2 AND recipient_type = $3 AND recipient_id = $4",
		core.NowFunc(), id, scope.RecipientType, scope.RecipientID,
	)
	if err != nil {
		return false, errors.Wrap(err, "updating alert")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "updating alert")
	}
	return n > 0, nil
}

func (repo *alertRepository) DeletePredictionAlerts(ctx context.Context, studentID, courseID int) (int, error) {
	q := "DELETE FROM alerts WHERE student_id = $1 AND course_id = $2 AND predicted_percentage IS NOT NULL"
	res, err := repo.ext.ExecContext(ctx, q, studentID, courseID)
	if err != nil {
		return 0, errors.Wrap(err, "deleting alerts")
	}
	n, err := res.RowsAffected()
	return int(n), errors.Wrap(err, "deleting alerts")
}

func (repo *alertRepository) HasAlertSince(ctx context.Context, studentID, courseID int, typ alert.Type, since time.Time) (bool, error) {
	var exists bool
	q := `SELECT EXISTS (
	SELECT 1 FROM alerts WHERE student_id = $1 AND course_id = $2 AND alert_type = $3 AND created_at >= $4
)`
	if err := sqlx.GetContext(ctx, repo.ext, &exists, q, studentID, courseID, typ, since); err != nil {
		return false, errors.Wrap(err, "checking recent alerts")
	}
	return exists, nil
}

func (repo *alertRepository) AlertsSince(ctx context.Context, since time.Time, scope alert.Scope) ([]alert.Alert, error) {
	var w where
	w.add("a.created_at >= ?", since)
	w.scope(scope)

	alerts := make([]alert.Alert, 0)
	q := "SELECT " + alertColumns + " " + alertFrom + w.String() + " ORDER BY a.id DESC"
	if err := sqlx.SelectContext(ctx, repo.ext, &alerts, q, w.args...); err != nil {
		return nil, errors.Wrap(err, "selecting alerts")
	}
	return alerts, nil
}

func (repo *alertRepository) GetGenerationLog(ctx context.Context, studentID, courseID int, key string) (alert.GenerationLog, error) {
	var e alert.GenerationLog
	q := `SELECT student_id, course_id, alert_key, last_generated_at, last_value
FROM alert_generation_log WHERE student_id = $1 AND course_id = $2 AND alert_key = $3`
	if err := sqlx.GetContext(ctx, repo.ext, &e, q, studentID, courseID, key); err != nil {
		if err == sql.ErrNoRows {
			return alert.GenerationLog{}, core.ErrNotFound
		}
		return alert.GenerationLog{}, errors.Wrap(err, "selecting generation log")
	}
	return e, nil
}

// UpsertGenerationLog is a single conditional write: concurrent callers cannot create two rows per key.
func (repo *alertRepository) UpsertGenerationLog(ctx context.Context, e alert.GenerationLog) error {
	q, args, err := repo.ext.BindNamed(upsertGenLogQuery, e)
	if err != nil {
		return errors.Wrap(err, "binding generation log")
	}
	_, err = repo.ext.ExecContext(ctx, q, args...)
	return errors.Wrap(err, "upserting generation log")
}

func (repo *alertRepository) GetPreferences(ctx context.Context, userID int) (alert.Preferences, error) {
	var p alert.Preferences
	q := "SELECT " + prefColumns + " FROM alert_preferences WHERE user_id = $1"
	if err := sqlx.GetContext(ctx, repo.ext, &p, q, userID); err != nil {
		if err == sql.ErrNoRows {
			return alert.Preferences{}, core.ErrNotFound
		}
		return alert.Preferences{}, errors.Wrap(err, "selecting preferences")
	}
	return p, nil
}

func (repo *alertRepository) UpsertPreferences(ctx context.Context, p alert.Preferences) (alert.Preferences, error) {
	q, args, err := repo.ext.BindNamed(upsertPrefQuery, p)
	if err != nil {
		return alert.Preferences{}, errors.Wrap(err, "binding preferences")
	}
	var saved alert.Preferences
	if err := repo.ext.QueryRowxContext(ctx, q, args...).StructScan(&saved); err != nil {
		return alert.Preferences{}, errors.Wrap(err, "upserting preferences")
	}
	return saved, nil
}
