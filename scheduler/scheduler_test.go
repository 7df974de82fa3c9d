package scheduler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/tahadhari/core"
	"github.com/trezcool/tahadhari/core/alert"
	"github.com/trezcool/tahadhari/services/logger"
)

type fakeSweeper struct {
	mu    sync.Mutex
	calls int
	opts  alert.SweepOptions
	block chan struct{} // when set, sweeps wait on it or ctx
	ran   chan struct{}
}

func (f *fakeSweeper) ProcessAll(ctx context.Context, opts alert.SweepOptions) (alert.SweepReport, error) {
	f.mu.Lock()
	f.calls++
	f.opts = opts
	f.mu.Unlock()
	if f.ran != nil {
		f.ran <- struct{}{}
	}
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return alert.SweepReport{StartedAt: core.NowFunc()}, ctx.Err()
		}
	}
	return alert.SweepReport{StartedAt: core.NowFunc(), Enrollments: 2, Succeeded: 2}, nil
}

type fakeObserver struct {
	mu      sync.Mutex
	reports []alert.SweepReport
}

func (o *fakeObserver) ObserveSweep(r alert.SweepReport) {
	o.mu.Lock()
	o.reports = append(o.reports, r)
	o.mu.Unlock()
}

func newScheduler(t *testing.T, conf core.SchedulerConfig, sw Sweeper, obs Observer) *Scheduler {
	t.Helper()
	s, err := New(conf, sw, logsvc.NewNopLogger(), obs)
	require.NoError(t, err)
	return s
}

func TestNew_InvalidSpec(t *testing.T) {
	_, err := New(core.SchedulerConfig{Spec: "every now and then"}, &fakeSweeper{}, logsvc.NewNopLogger(), nil)
	assert.Error(t, err)
}

func TestScheduler_Lifecycle(t *testing.T) {
	s := newScheduler(t, core.SchedulerConfig{Spec: "0 0 8 * * *"}, &fakeSweeper{}, nil)

	st := s.Status()
	assert.False(t, st.Running)
	assert.Nil(t, st.NextRun)
	assert.Equal(t, ErrNotRunning, s.Stop())

	require.NoError(t, s.Start())
	assert.Equal(t, ErrAlreadyRunning, s.Start())
	st = s.Status()
	assert.True(t, st.Running)
	require.NotNil(t, st.NextRun)
	assert.Equal(t, 8, st.NextRun.Hour())

	require.NoError(t, s.Stop())
	assert.False(t, s.Status().Running)

	// stopped → running again
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
}

func TestScheduler_RunOnStart(t *testing.T) {
	sw := &fakeSweeper{ran: make(chan struct{}, 1)}
	obs := &fakeObserver{}
	s := newScheduler(t, core.SchedulerConfig{
		Spec:              "@every 1h",
		RunOnStart:        true,
		Concurrency:       3,
		EnrollmentTimeout: 5 * time.Second,
	}, sw, obs)

	require.NoError(t, s.Start())
	select {
	case <-sw.ran:
	case <-time.After(5 * time.Second):
		t.Fatal("sweep did not run on start")
	}
	require.NoError(t, s.Stop())

	assert.Equal(t, 3, sw.opts.Concurrency)
	assert.Equal(t, 5*time.Second, sw.opts.EnrollmentTimeout)
	st := s.Status()
	require.NotNil(t, st.LastReport)
	assert.Equal(t, 2, st.LastReport.Succeeded)
	assert.NotNil(t, st.LastRun)
	assert.Len(t, obs.reports, 1)
}

func TestScheduler_StopCancelsSweep(t *testing.T) {
	sw := &fakeSweeper{ran: make(chan struct{}, 1), block: make(chan struct{})}
	s := newScheduler(t, core.SchedulerConfig{Spec: "@every 1h", RunOnStart: true}, sw, nil)

	require.NoError(t, s.Start())
	<-sw.ran

	done := make(chan struct{})
	go func() {
		_ = s.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not cancel the running sweep")
	}
	assert.Equal(t, context.Canceled.Error(), s.Status().LastError)
}

func TestScheduler_RunNowSkipsOverlap(t *testing.T) {
	sw := &fakeSweeper{ran: make(chan struct{}, 2), block: make(chan struct{})}
	s := newScheduler(t, core.SchedulerConfig{Spec: "@every 1h"}, sw, nil)

	go func() { _, _ = s.RunNow(context.Background()) }()
	<-sw.ran

	_, err := s.RunNow(context.Background())
	assert.Equal(t, ErrSweepInProgress, err)
	close(sw.block)
}
