package alert

import (
	"context"

	"github.com/pkg/errors"

	"github.com/trezcool/tahadhari/core"
)

const replaceLockKey = "replace"

// GenerateRealTimeAlerts replaces the prediction alerts of (student, course) with one fresh student
// alert and, below the replace-mode lecturer threshold, one lecturer alert. Delete and inserts share
// a transaction so readers never see zero or duplicate alerts. The ledger is not used.
// Raw-score alerts of the same pair keep their ledger-driven lifecycle.
func (svc *Service) GenerateRealTimeAlerts(ctx context.Context, studentID, courseID int, p float64) ([]Alert, error) {
	c := classifyPrediction(svc.opts.Thresholds.Prediction, p)
	if !c.band.Emits() {
		return nil, nil
	}
	subj, ok, err := svc.lookup(ctx, studentID, courseID)
	if err != nil || !ok {
		return nil, err
	}
	if c, err = c.Describe(subj.courseName); err != nil {
		return nil, err
	}

	toCreate := []Alert{predictionAlert(subj, c)}
	if c.Percentage < svc.opts.ReplaceLecturerThreshold {
		la, _, ok, err := svc.lecturerAlert(ctx, fanOut{
			subj: subj,
			band: c.band,
			data: subj.data("", c.Percentage),
			typ:  TypeStudentAtRisk,
			fill: func(la *Alert) { fillPrediction(la, c) },
		})
		if err != nil {
			return nil, errors.Wrap(err, "preparing lecturer alert")
		}
		if ok {
			toCreate = append(toCreate, la)
		}
	}

	unlock, err := svc.locker.Lock(ctx, lockKey(studentID, courseID, replaceLockKey))
	if err != nil {
		svc.logger.Warn("alert lock unavailable, continuing unlocked", err, map[string]interface{}{"key": replaceLockKey})
	} else {
		defer unlock()
	}

	now := core.NowFunc()
	created := make([]Alert, 0, len(toCreate))
	err = svc.repo.Transact(ctx, func(tx Repository) error {
		if _, err := tx.DeletePredictionAlerts(ctx, studentID, courseID); err != nil {
			return errors.Wrap(err, "deleting previous alerts")
		}
		for _, a := range toCreate {
			a.CreatedAt, a.UpdatedAt = now, now
			ca, err := tx.CreateAlert(ctx, a)
			if err != nil {
				return errors.Wrap(err, "creating alert")
			}
			created = append(created, ca)
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "replacing alerts")
	}

	for _, a := range created {
		svc.recorder.AlertEmitted(a)
	}
	svc.notify(ctx, subj.student, created[0])
	return created, nil
}
