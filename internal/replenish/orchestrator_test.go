package replenish

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hochfrequenz/sim-topup/internal/device"
	"github.com/hochfrequenz/sim-topup/internal/domain"
	"github.com/hochfrequenz/sim-topup/internal/events"
	"github.com/hochfrequenz/sim-topup/internal/jobstore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

var fastPolling = OrchestratorConfig{DevicePollInterval: time.Millisecond, JobPollInterval: time.Millisecond}

func verifyNoLeaks(t *testing.T) {
	goleak.VerifyNone(t, goleak.IgnoreTopFunction("database/sql.(*DB).connectionOpener"))
}

type executorFunc func(ctx context.Context, dev device.Device) (*domain.Job, error)

func (f executorFunc) ExecuteOnce(ctx context.Context, dev device.Device) (*domain.Job, error) {
	return f(ctx, dev)
}

func devices(n int) []device.Device {
	out := make([]device.Device, n)
	for i := range out {
		out[i] = &fakeDevice{serial: fmt.Sprintf("emulator-%d", 5554+2*i)}
	}
	return out
}

func runAsync(ctx context.Context, o *Orchestrator) <-chan error {
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	return done
}

func TestOrchestrator_EveryJobRunsOnce(t *testing.T) {
	defer verifyNoLeaks(t)

	h := newHarness(t, nil)
	const jobs = 12
	for i := 0; i < jobs; i++ {
		h.add(t, jobstore.NewJob{Number: fmt.Sprintf("+38067%07d", i)})
	}

	mgr := &fakeManager{devices: devices(3), emptyPolls: 2}
	o := NewOrchestrator(mgr, h.service, h.hub, fastPolling, zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := runAsync(ctx, o)

	require.Eventually(t, func() bool {
		counts, err := h.store.CountByStatus(context.Background())
		return err == nil && counts[domain.StatusSuccess] == jobs
	}, 10*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}

	seen := map[int64]string{}
	for serial, ids := range h.scenario.calls {
		for _, id := range ids {
			prev, dup := seen[id]
			assert.False(t, dup, "job %d ran on %s and %s", id, prev, serial)
			seen[id] = serial
		}
	}
	assert.Len(t, seen, jobs)
	assert.GreaterOrEqual(t, mgr.polls.Load(), int32(3))

	started := 0
	for _, e := range h.hub.Recent() {
		if e.Kind == events.WorkerStarted {
			started++
		}
	}
	assert.Equal(t, 3, started)
}

func TestOrchestrator_CancelledBeforeDevices(t *testing.T) {
	defer verifyNoLeaks(t)

	mgr := &fakeManager{emptyPolls: 1 << 30}
	o := NewOrchestrator(mgr, executorFunc(func(ctx context.Context, dev device.Device) (*domain.Job, error) {
		t.Error("no device, nothing to execute")
		return nil, nil
	}), nil, fastPolling, zaptest.NewLogger(t))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.NoError(t, o.Run(ctx))
	assert.Positive(t, mgr.polls.Load())
}

func TestOrchestrator_DiscoveryError(t *testing.T) {
	mgr := &fakeManager{err: domain.ErrTransport}
	o := NewOrchestrator(mgr, executorFunc(func(ctx context.Context, dev device.Device) (*domain.Job, error) {
		return nil, nil
	}), nil, fastPolling, zaptest.NewLogger(t))

	err := o.Run(context.Background())
	assert.ErrorIs(t, err, domain.ErrTransport)
}

func TestOrchestrator_WorkerSurvivesErrors(t *testing.T) {
	defer verifyNoLeaks(t)

	var calls atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	exec := executorFunc(func(ctx context.Context, dev device.Device) (*domain.Job, error) {
		n := calls.Add(1)
		switch {
		case n == 2:
			panic("scenario bug")
		case n >= 5:
			cancel()
		}
		return nil, errors.New("storage unavailable")
	})
	hub := events.NewHub(0)
	o := NewOrchestrator(&fakeManager{devices: devices(1)}, exec, hub, fastPolling, zaptest.NewLogger(t))

	select {
	case err := <-runAsync(ctx, o):
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("orchestrator did not stop")
	}

	assert.GreaterOrEqual(t, calls.Load(), int32(5))
	workerErrors := 0
	for _, e := range hub.Recent() {
		if e.Kind == events.WorkerError {
			workerErrors++
		}
	}
	assert.GreaterOrEqual(t, workerErrors, 4)
}

func TestOrchestrator_SlowDeviceDoesNotBlockOthers(t *testing.T) {
	defer verifyNoLeaks(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var fast atomic.Int32
	exec := executorFunc(func(ctx context.Context, dev device.Device) (*domain.Job, error) {
		if dev.Serial() == "emulator-5554" {
			<-ctx.Done()
			return nil, nil
		}
		fast.Add(1)
		return nil, nil
	})
	o := NewOrchestrator(&fakeManager{devices: devices(2)}, exec, nil, fastPolling, zaptest.NewLogger(t))
	done := runAsync(ctx, o)

	require.Eventually(t, func() bool { return fast.Load() >= 10 }, 5*time.Second, time.Millisecond)
	cancel()
	require.NoError(t, <-done)
}

func TestSupervise_RestartsUntilCancelled(t *testing.T) {
	defer verifyNoLeaks(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var runs atomic.Int32
	Supervise(ctx, zaptest.NewLogger(t), time.Millisecond, func(ctx context.Context) error {
		switch runs.Add(1) {
		case 1:
			return errors.New("adb devices: exit status 1")
		case 2:
			panic("boom")
		case 3:
			return nil
		default:
			cancel()
			return ctx.Err()
		}
	})

	assert.Equal(t, int32(4), runs.Load())
}

func TestWait(t *testing.T) {
	assert.NoError(t, wait(context.Background(), 0))
	assert.NoError(t, wait(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, wait(ctx, time.Hour), context.Canceled)
}
