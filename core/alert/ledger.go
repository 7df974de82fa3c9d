package alert

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/trezcool/tahadhari/core"
)

// Ledger suppresses re-notification of an alert key inside a cooldown window,
// unless the underlying value moved by at least the configured delta.
type Ledger struct {
	repo     Repository
	cooldown time.Duration
	delta    float64
	logger   core.Logger
}

func NewLedger(repo Repository, cooldown time.Duration, delta float64, logger core.Logger) *Ledger {
	return &Ledger{repo: repo, cooldown: cooldown, delta: delta, logger: logger}
}

// ShouldEmit fails open: a lookup error is logged and reported as "emit".
func (l *Ledger) ShouldEmit(ctx context.Context, studentID, courseID int, key string, value float64) bool {
	entry, err := l.repo.GetGenerationLog(ctx, studentID, courseID, key)
	if err != nil {
		if errors.Cause(err) != core.ErrNotFound {
			l.logger.Error("alert ledger lookup failed", err, map[string]interface{}{
				"student_id": studentID, "course_id": courseID, "key": key,
			})
		}
		return true
	}

	if core.NowFunc().Sub(entry.LastGeneratedAt) >= l.cooldown {
		return true
	}
	if !entry.LastValue.Valid {
		return true
	}
	return math.Abs(value-entry.LastValue.Float64) >= l.delta
}

// Record upserts the ledger row through repo, which should be the transaction that wrote the alert.
func (l *Ledger) Record(ctx context.Context, repo Repository, studentID, courseID int, key string, value float64) error {
	err := repo.UpsertGenerationLog(ctx, GenerationLog{
		StudentID:       studentID,
		CourseID:        courseID,
		Key:             key,
		LastGeneratedAt: core.NowFunc(),
		LastValue:       null.Float64From(value),
	})
	return errors.Wrap(err, "recording alert generation")
}

func quizKey(n int) string       { return fmt.Sprintf("quiz_%d", n) }
func assignmentKey(n int) string { return fmt.Sprintf("assignment_%d", n) }
func lecturerKey(t Type) string  { return "lecturer_" + string(t) }

const (
	midtermKey    = "midterm"
	attendanceKey = "attendance"
)
