package dummydb

import (
	"context"
	"sort"
	"time"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
)

type alertRepository struct {
	db   *DB
	inTx bool
}

var _ alert.Repository = (*alertRepository)(nil) // interface compliance check

func NewAlertRepository(db *DB) alert.Repository {
	return &alertRepository{db: db}
}

// Transact restores the alert and ledger tables when fn fails or ctx ends before the commit.
func (repo *alertRepository) Transact(ctx context.Context, fn func(tx alert.Repository) error) error {
	if repo.inTx {
		return fn(repo)
	}
	repo.db.txMu.Lock()
	defer repo.db.txMu.Unlock()

	snap := repo.db.snapshot()
	err := fn(&alertRepository{db: repo.db, inTx: true})
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		repo.db.restore(snap)
	}
	return err
}

func (repo *alertRepository) CreateAlert(_ context.Context, a alert.Alert) (alert.Alert, error) {
	if err := repo.db.fault(func(f Faults) error { return f.CreateAlert }); err != nil {
		return alert.Alert{}, err
	}
	t := repo.db.alert
	t.Lock()
	defer t.Unlock()

	t.pkCount++
	a.ID = t.pkCount
	if a.CreatedAt.IsZero() {
		a.CreatedAt = core.NowFunc()
	}
	if a.UpdatedAt.IsZero() {
		a.UpdatedAt = a.CreatedAt
	}
	t.table[a.ID] = &a
	return repo.decorate(a), nil
}

// decorate fills the joined names, as the sql repository does.
func (repo *alertRepository) decorate(a alert.Alert) alert.Alert {
	repo.db.course.RLock()
	if c, ok := repo.db.course.table[a.CourseID]; ok {
		a.CourseName = c.Name
	}
	repo.db.course.RUnlock()

	repo.db.user.RLock()
	if u, ok := repo.db.user.table[a.StudentID]; ok {
		a.StudentName = u.Name
	}
	repo.db.user.RUnlock()
	return a
}

func (repo *alertRepository) GetAlert(_ context.Context, id int) (alert.Alert, error) {
	t := repo.db.alert
	t.RLock()
	a, ok := t.table[id]
	t.RUnlock()
	if !ok {
		return alert.Alert{}, core.ErrNotFound
	}
	return repo.decorate(*a), nil
}

func inScope(a *alert.Alert, scope alert.Scope) bool {
	if scope.RecipientType == "" {
		return true
	}
	return a.RecipientType == scope.RecipientType && a.RecipientID == scope.RecipientID
}

func (repo *alertRepository) query(keep func(*alert.Alert) bool) []alert.Alert {
	t := repo.db.alert
	t.RLock()
	alerts := make([]alert.Alert, 0)
	for _, a := range t.table {
		if keep(a) {
			alerts = append(alerts, *a)
		}
	}
	t.RUnlock()

	for i := range alerts {
		alerts[i] = repo.decorate(alerts[i])
	}
	return alerts
}

func (repo *alertRepository) ListAlerts(_ context.Context, scope alert.Scope, f alert.Filter) ([]alert.Alert, error) {
	alerts := repo.query(func(a *alert.Alert) bool {
		switch {
		case !inScope(a, scope), a.IsDismissed:
			return false
		case f.CourseID.Valid && a.CourseID != f.CourseID.Int:
			return false
		case f.UnreadOnly && a.IsRead:
			return false
		case f.ActionRequiredOnly && !a.ActionRequired:
			return false
		}
		return true
	})

	sort.SliceStable(alerts, func(i, j int) bool { return less(alerts[i], alerts[j], f.Ordering) })
	if f.Limit > 0 && len(alerts) > f.Limit {
		alerts = alerts[:f.Limit]
	}
	return alerts, nil
}

// less applies orderings in turn, ties broken by id (newest first).
func less(a, b alert.Alert, orderings []core.DBOrdering) bool {
	for _, ord := range orderings {
		var cmp int
		switch ord.Field {
		case "severity":
			cmp = a.Severity.Rank() - b.Severity.Rank()
		case "created_at":
			switch {
			case a.CreatedAt.Before(b.CreatedAt):
				cmp = -1
			case a.CreatedAt.After(b.CreatedAt):
				cmp = 1
			}
		}
		if cmp == 0 {
			continue
		}
		if ord.Ascending {
			return cmp < 0
		}
		return cmp > 0
	}
	return a.ID > b.ID
}

func (repo *alertRepository) CountUnread(_ context.Context, scope alert.Scope) (int, error) {
	return len(repo.query(func(a *alert.Alert) bool {
		return inScope(a, scope) && !a.IsDismissed && !a.IsRead
	})), nil
}

func (repo *alertRepository) SetFlag(_ context.Context, id int, scope alert.Scope, flag alert.Flag) (bool, error) {
	t := repo.db.alert
	t.Lock()
	defer t.Unlock()

	a, ok := t.table[id]
	if !ok || !inScope(a, scope) {
		return false, nil
	}
	switch flag {
	case alert.FlagRead:
		a.IsRead = true
	case alert.FlagResolved:
		a.IsResolved = true
	case alert.FlagDismissed:
		a.IsDismissed = true
	default:
		return false, nil
	}
	a.UpdatedAt = core.NowFunc()
	return true, nil
}

func (repo *alertRepository) DeletePredictionAlerts(_ context.Context, studentID, courseID int) (int, error) {
	if err := repo.db.fault(func(f Faults) error { return f.DeleteAlerts }); err != nil {
		return 0, err
	}
	t := repo.db.alert
	t.Lock()
	defer t.Unlock()

	var n int
	for id, a := range t.table {
		if a.StudentID == studentID && a.CourseID == courseID && a.PredictedPercentage.Valid {
			delete(t.table, id)
			n++
		}
	}
	return n, nil
}

func (repo *alertRepository) HasAlertSince(_ context.Context, studentID, courseID int, typ alert.Type, since time.Time) (bool, error) {
	if err := repo.db.fault(func(f Faults) error { return f.HasAlertSince }); err != nil {
		return false, err
	}
	return len(repo.query(func(a *alert.Alert) bool {
		return a.StudentID == studentID && a.CourseID == courseID && a.Type == typ && !a.CreatedAt.Before(since)
	})) > 0, nil
}

func (repo *alertRepository) AlertsSince(_ context.Context, since time.Time, scope alert.Scope) ([]alert.Alert, error) {
	alerts := repo.query(func(a *alert.Alert) bool {
		return inScope(a, scope) && !a.CreatedAt.Before(since)
	})
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID > alerts[j].ID })
	return alerts, nil
}

func (repo *alertRepository) GetGenerationLog(_ context.Context, studentID, courseID int, key string) (alert.GenerationLog, error) {
	if err := repo.db.fault(func(f Faults) error { return f.GetGenerationLog }); err != nil {
		return alert.GenerationLog{}, err
	}
	t := repo.db.genLog
	t.RLock()
	defer t.RUnlock()

	if e, ok := t.table[genLogKey{studentID, courseID, key}]; ok {
		return e, nil
	}
	return alert.GenerationLog{}, core.ErrNotFound
}

func (repo *alertRepository) UpsertGenerationLog(_ context.Context, e alert.GenerationLog) error {
	if err := repo.db.fault(func(f Faults) error { return f.UpsertGenerationLog }); err != nil {
		return err
	}
	t := repo.db.genLog
	t.Lock()
	t.table[genLogKey{e.StudentID, e.CourseID, e.Key}] = e
	t.Unlock()
	return nil
}

// GenerationLogs lists ledger rows, for assertions in tests.
func (db *DB) GenerationLogs() []alert.GenerationLog {
	db.genLog.RLock()
	defer db.genLog.RUnlock()
	logs := make([]alert.GenerationLog, 0, len(db.genLog.table))
	for _, e := range db.genLog.table {
		logs = append(logs, e)
	}
	return logs
}

// Alerts lists every stored alert by id, dismissed included, for assertions in tests.
func (db *DB) Alerts() []alert.Alert {
	db.alert.RLock()
	defer db.alert.RUnlock()
	alerts := make([]alert.Alert, 0, len(db.alert.table))
	for _, a := range db.alert.table {
		alerts = append(alerts, *a)
	}
	sort.Slice(alerts, func(i, j int) bool { return alerts[i].ID < alerts[j].ID })
	return alerts
}

func (repo *alertRepository) GetPreferences(_ context.Context, userID int) (alert.Preferences, error) {
	if err := repo.db.fault(func(f Faults) error { return f.GetPreferences }); err != nil {
		return alert.Preferences{}, err
	}
	t := repo.db.pref
	t.RLock()
	defer t.RUnlock()

	if p, ok := t.table[userID]; ok {
		return p, nil
	}
	return alert.Preferences{}, core.ErrNotFound
}

func (repo *alertRepository) UpsertPreferences(_ context.Context, p alert.Preferences) (alert.Preferences, error) {
	t := repo.db.pref
	t.Lock()
	t.table[p.UserID] = p
	t.Unlock()
	return p, nil
}
