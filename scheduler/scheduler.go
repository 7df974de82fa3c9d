// Package scheduler runs the periodic alert sweep over every active enrollment.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
)

var (
	ErrAlreadyRunning  = errors.New("scheduler already running")
	ErrNotRunning      = errors.New("scheduler not running")
	ErrSweepInProgress = errors.New("a sweep is already in progress")
)

type (
	Sweeper interface {
		ProcessAll(ctx context.Context, opts alert.SweepOptions) (alert.SweepReport, error)
	}

	// Observer is told about every finished sweep (metrics).
	Observer interface {
		ObserveSweep(r alert.SweepReport)
	}
)

type Status struct {
	Running    bool               `json:"running"`
	Spec       string             `json:"spec"`
	LastRun    *time.Time         `json:"last_run"`
	NextRun    *time.Time         `json:"next_run"`
	LastReport *alert.SweepReport `json:"last_report"`
	LastError  string             `json:"last_error,omitempty"`
}

// Scheduler owns the cron loop. It is created stopped; the process entry point starts and stops it.
type Scheduler struct {
	conf     core.SchedulerConfig
	sweeper  Sweeper
	observer Observer
	logger   core.Logger

	cron    *cron.Cron
	entryID cron.EntryID

	mu         sync.Mutex
	running    bool
	cancel     context.CancelFunc // cancels in-flight sweeps on Stop
	ctx        context.Context
	lastRun    *time.Time
	lastReport *alert.SweepReport
	lastErr    error

	sweeping sync.Mutex
	wg       sync.WaitGroup
}

// New validates the cron spec. Both 5-field and 6-field (with seconds) specs, and descriptors
// such as "@every 1h" or "@daily", are accepted.
func New(conf core.SchedulerConfig, sweeper Sweeper, logger core.Logger, observer Observer) (*Scheduler, error) {
	s := &Scheduler{
		conf:     conf,
		sweeper:  sweeper,
		observer: observer,
		logger:   logger,
	}

	cl := cronLogger{logger: logger}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	s.cron = cron.New(
		cron.WithParser(parser),
		cron.WithLocation(time.UTC),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	id, err := s.cron.AddFunc(conf.Spec, func() { _, _ = s.sweep() })
	if err != nil {
		return nil, errors.Wrapf(err, "invalid scheduler spec %q", conf.Spec)
	}
	s.entryID = id
	return s, nil
}

func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return ErrAlreadyRunning
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.cron.Start()
	s.logger.Info("alert scheduler started", map[string]interface{}{"spec": s.conf.Spec})

	if s.conf.RunOnStart {
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			_, _ = s.sweep()
		}()
	}
	return nil
}

// Stop cancels any in-flight sweep and waits for it to return.
func (s *Scheduler) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrNotRunning
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()

	<-s.cron.Stop().Done()
	s.wg.Wait()
	s.logger.Info("alert scheduler stopped")
	return nil
}

func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()

	st := Status{
		Running:    s.running,
		Spec:       s.conf.Spec,
		LastRun:    s.lastRun,
		LastReport: s.lastReport,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	if s.running {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			st.NextRun = &next
		}
	}
	return st
}

// RunNow sweeps immediately, whether the scheduler is running or not.
func (s *Scheduler) RunNow(ctx context.Context) (alert.SweepReport, error) {
	return s.run(ctx)
}

func (s *Scheduler) sweep() (alert.SweepReport, error) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	return s.run(ctx)
}

func (s *Scheduler) run(ctx context.Context) (alert.SweepReport, error) {
	if !s.sweeping.TryLock() {
		s.logger.Info("alert sweep skipped: previous sweep still running")
		return alert.SweepReport{}, ErrSweepInProgress
	}
	defer s.sweeping.Unlock()

	report, err := s.sweeper.ProcessAll(ctx, alert.SweepOptions{
		Concurrency:       s.conf.Concurrency,
		EnrollmentTimeout: s.conf.EnrollmentTimeout,
	})

	s.mu.Lock()
	started := report.StartedAt
	s.lastRun, s.lastReport, s.lastErr = &started, &report, err
	s.mu.Unlock()

	if s.observer != nil {
		s.observer.ObserveSweep(report)
	}
	if err != nil {
		s.logger.Error("alert sweep failed", err)
		return report, err
	}
	s.logger.Info("alert sweep finished", map[string]interface{}{
		"enrollments": report.Enrollments,
		"succeeded":   report.Succeeded,
		"failed":      report.Failed,
		"timed_out":   report.TimedOut,
		"duration":    report.Duration.String(),
	})
	return report, nil
}

// cronLogger adapts core.Logger to cron.Logger.
type cronLogger struct {
	logger core.Logger
}

func kvMap(keysAndValues []interface{}) map[string]interface{} {
	m := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		m[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return m
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug("cron: "+msg, kvMap(keysAndValues))
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error("cron: "+msg, err, kvMap(keysAndValues))
}
