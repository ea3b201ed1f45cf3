package replenish

import (
	"context"
	"fmt"
	"time"

	"github.com/hochfrequenz/sim-topup/internal/device"
	"github.com/hochfrequenz/sim-topup/internal/domain"
	"github.com/hochfrequenz/sim-topup/internal/events"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultDevicePollInterval = 10 * time.Second
	DefaultJobPollInterval    = 3 * time.Second
	DefaultRestartDelay       = time.Minute
)

// Executor runs a single job iteration on a device
type Executor interface {
	ExecuteOnce(ctx context.Context, dev device.Device) (*domain.Job, error)
}

// OrchestratorConfig holds the polling intervals
type OrchestratorConfig struct {
	DevicePollInterval time.Duration
	JobPollInterval    time.Duration
}

// Orchestrator discovers devices and runs one worker loop per device
type Orchestrator struct {
	devices  device.Manager
	executor Executor
	events   events.Sink
	log      *zap.Logger
	config   OrchestratorConfig
}

func NewOrchestrator(devices device.Manager, executor Executor, sink events.Sink, config OrchestratorConfig, log *zap.Logger) *Orchestrator {
	if config.DevicePollInterval <= 0 {
		config.DevicePollInterval = DefaultDevicePollInterval
	}
	if config.JobPollInterval <= 0 {
		config.JobPollInterval = DefaultJobPollInterval
	}
	if sink == nil {
		sink = events.Nop{}
	}
	return &Orchestrator{
		devices:  devices,
		executor: executor,
		events:   sink,
		log:      log.Named("orchestrator"),
		config:   config,
	}
}

// Run waits for devices and then blocks until every worker loop has exited.
// Cancellation is not an error.
func (o *Orchestrator) Run(ctx context.Context) error {
	devices, err := o.discover(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		o.log.Info("cancelled before any device was found")
		return nil
	}

	serials := make([]string, 0, len(devices))
	for _, dev := range devices {
		serials = append(serials, dev.Serial())
	}
	o.log.Info("connected devices found", zap.Int("count", len(devices)), zap.Strings("devices", serials))
	o.events.Publish(events.Event{Kind: events.DevicesFound, Message: fmt.Sprintf("%d devices", len(devices))})

	g, gctx := errgroup.WithContext(ctx)
	for _, dev := range devices {
		g.Go(func() error {
			o.work(gctx, dev)
			return nil
		})
	}
	return g.Wait()
}

// discover polls until at least one device is connected. It returns
// no devices and no error when ctx ends first.
func (o *Orchestrator) discover(ctx context.Context) ([]device.Device, error) {
	for {
		if ctx.Err() != nil {
			return nil, nil
		}

		devices, err := o.devices.ListConnectedDevices(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil
			}
			return nil, fmt.Errorf("listing devices: %w", err)
		}
		if len(devices) > 0 {
			return devices, nil
		}

		o.log.Warn("no connected devices found, retrying", zap.Duration("delay", o.config.DevicePollInterval))
		if err := wait(ctx, o.config.DevicePollInterval); err != nil {
			return nil, nil
		}
	}
}

// work is the per-device loop: execute, sleep, repeat until ctx is done
func (o *Orchestrator) work(ctx context.Context, dev device.Device) {
	serial := dev.Serial()
	log := o.log.With(zap.String("device", serial))

	log.Info("worker started")
	o.events.Publish(events.Event{Kind: events.WorkerStarted, Device: serial})
	defer func() {
		log.Info("worker stopped")
		o.events.Publish(events.Event{Kind: events.WorkerStopped, Device: serial})
	}()

	for ctx.Err() == nil {
		if err := o.runOnce(ctx, dev); err != nil {
			log.Error("replenishment iteration failed", zap.Error(err))
			o.events.Publish(events.Event{Kind: events.WorkerError, Device: serial, Message: err.Error()})
		}
		if err := wait(ctx, o.config.JobPollInterval); err != nil {
			return
		}
	}
}

// runOnce executes one iteration, converting a panic into an error
func (o *Orchestrator) runOnce(ctx context.Context, dev device.Device) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	_, err = o.executor.ExecuteOnce(ctx, dev)
	return err
}

// Supervise calls run until ctx is done, pausing restartDelay after each
// return. Errors and panics are logged.
func Supervise(ctx context.Context, log *zap.Logger, restartDelay time.Duration, run func(context.Context) error) {
	log = log.Named("supervisor")
	log.Info("replenish worker started")

	for ctx.Err() == nil {
		if err := protect(ctx, run); err != nil {
			log.Error("orchestrator stopped", zap.Error(err))
		}
		if err := wait(ctx, restartDelay); err != nil {
			log.Info("replenish worker stopped")
			return
		}
		log.Info("restarting orchestrator")
	}
}

func protect(ctx context.Context, run func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return run(ctx)
}

// wait sleeps for d or until ctx is done
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
