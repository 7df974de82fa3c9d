// Package dummydb is an in-memory implementation of the alert repositories, used by tests and local runs.
package dummydb

import (
	"sync"

	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tahadhari/core/alert"
)

type (
	DB struct {
		txMu sync.Mutex // serializes Transact calls

		alert      *alertTable
		genLog     *genLogTable
		pref       *prefTable
		user       *userTable
		course     *courseTable
		enrollment *enrollmentTable

		faultsMu sync.RWMutex
		faults   Faults
	}

	alertTable struct {
		sync.RWMutex
		pkCount int
		table   map[int]*alert.Alert
	}

	genLogKey struct {
		studentID, courseID int
		key                 string
	}

	genLogTable struct {
		sync.RWMutex
		table map[genLogKey]alert.GenerationLog
	}

	prefTable struct {
		sync.RWMutex
		table map[int]alert.Preferences
	}

	userRow struct {
		alert.Person
		Role string
	}

	userTable struct {
		sync.RWMutex
		pkCount int
		table   map[int]*userRow
	}

	courseRow struct {
		ID         int
		Code       string
		Name       string
		LecturerID null.Int
	}

	courseTable struct {
		sync.RWMutex
		pkCount int
		table   map[int]*courseRow
	}

	enrollmentKey struct {
		studentID, courseID int
	}

	enrollmentRow struct {
		Status     string
		HasMarks   bool
		Marks      alert.Marks
		HasInput   bool
		Attendance null.Float64
	}

	enrollmentTable struct {
		sync.RWMutex
		table map[enrollmentKey]*enrollmentRow
	}
)

// Faults makes the next matching calls fail, to exercise error paths.
type Faults struct {
	CreateAlert         error
	DeleteAlerts        error
	GetGenerationLog    error
	UpsertGenerationLog error
	GetPreferences      error
	HasAlertSince       error
	Marks               error
	Attendance          error
	ListEnrollments     error
}

func Open() (*DB, error) {
	db := &DB{
		alert:      &alertTable{table: make(map[int]*alert.Alert)},
		genLog:     &genLogTable{table: make(map[genLogKey]alert.GenerationLog)},
		pref:       &prefTable{table: make(map[int]alert.Preferences)},
		user:       &userTable{table: make(map[int]*userRow)},
		course:     &courseTable{table: make(map[int]*courseRow)},
		enrollment: &enrollmentTable{table: make(map[enrollmentKey]*enrollmentRow)},
	}
	return db, nil
}

func (db *DB) SetFaults(f Faults) {
	db.faultsMu.Lock()
	db.faults = f
	db.faultsMu.Unlock()
}

func (db *DB) fault(pick func(Faults) error) error {
	db.faultsMu.RLock()
	defer db.faultsMu.RUnlock()
	return pick(db.faults)
}

// snapshot copies the tables written by alert transactions.
type snapshot struct {
	alertPK int
	alerts  map[int]alert.Alert
	genLogs map[genLogKey]alert.GenerationLog
}

func (db *DB) snapshot() snapshot {
	db.alert.RLock()
	snap := snapshot{alertPK: db.alert.pkCount, alerts: make(map[int]alert.Alert, len(db.alert.table))}
	for id, a := range db.alert.table {
		snap.alerts[id] = *a
	}
	db.alert.RUnlock()

	db.genLog.RLock()
	snap.genLogs = make(map[genLogKey]alert.GenerationLog, len(db.genLog.table))
	for k, e := range db.genLog.table {
		snap.genLogs[k] = e
	}
	db.genLog.RUnlock()
	return snap
}

func (db *DB) restore(snap snapshot) {
	db.alert.Lock()
	db.alert.pkCount = snap.alertPK
	db.alert.table = make(map[int]*alert.Alert, len(snap.alerts))
	for id, a := range snap.alerts {
		a := a
		db.alert.table[id] = &a
	}
	db.alert.Unlock()

	db.genLog.Lock()
	db.genLog.table = snap.genLogs
	db.genLog.Unlock()
}
