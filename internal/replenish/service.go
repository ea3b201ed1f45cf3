// Package replenish runs top-up jobs on connected devices.
package replenish

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/hochfrequenz/sim-topup/internal/device"
	"github.com/hochfrequenz/sim-topup/internal/domain"
	"github.com/hochfrequenz/sim-topup/internal/events"
	"github.com/hochfrequenz/sim-topup/internal/jobstore"
	"github.com/hochfrequenz/sim-topup/internal/notify"
	"github.com/hochfrequenz/sim-topup/internal/scenario"
	"go.uber.org/zap"
)

// JobStore is the part of the job store a worker needs
type JobStore interface {
	LeaseNextJob(ctx context.Context) (*domain.Job, error)
	Commit(ctx context.Context, job *domain.Job, status domain.JobStatus) error
	RenewLease(ctx context.Context, job *domain.Job) error
}

// ScenarioLookup resolves the scenario for a bank
type ScenarioLookup interface {
	Lookup(bank domain.Bank) (scenario.Scenario, error)
}

// DefaultLeaseRenewInterval is how often a running job refreshes its lease
const DefaultLeaseRenewInterval = time.Minute

// ServiceConfig wires a Service. Notifier, Events and Logger are optional.
type ServiceConfig struct {
	Store       JobStore
	Scenarios   ScenarioLookup
	Diagnostics *scenario.Diagnostics
	Notifier    notify.Notifier
	Events      events.Sink
	Logger      *zap.Logger

	// LeaseRenewInterval must stay well below the stale lease cutoff
	LeaseRenewInterval time.Duration
}

// Service executes one job at a time on a given device
type Service struct {
	store       JobStore
	scenarios   ScenarioLookup
	diagnostics *scenario.Diagnostics
	notifier    notify.Notifier
	events      events.Sink
	log         *zap.Logger
	renewEvery  time.Duration
}

func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		store:       cfg.Store,
		scenarios:   cfg.Scenarios,
		diagnostics: cfg.Diagnostics,
		notifier:    cfg.Notifier,
		events:      cfg.Events,
		log:         cfg.Logger,
		renewEvery:  cfg.LeaseRenewInterval,
	}
	if s.renewEvery <= 0 {
		s.renewEvery = DefaultLeaseRenewInterval
	}
	if s.notifier == nil {
		s.notifier = notify.NoopNotifier{}
	}
	if s.events == nil {
		s.events = events.Nop{}
	}
	if s.log == nil {
		s.log = zap.NewNop()
	}
	s.log = s.log.Named("replenish")
	return s
}

// ExecuteOnce leases the next job and drives it to a final status on dev.
// It returns the leased job, or nil when the queue is empty.
//
// Classified failures are committed and do not produce an error. Other
// failures are committed too and then returned. A scenario that reports
// success is committed as success even when ctx was cancelled meanwhile.
// A failure seen after cancellation commits nothing and the job stays
// processing. The lease is renewed while the scenario runs.
func (s *Service) ExecuteOnce(ctx context.Context, dev device.Device) (*domain.Job, error) {
	job, err := s.store.LeaseNextJob(ctx)
	if err != nil {
		if errors.Is(err, jobstore.ErrLeaseConflict) {
			s.log.Debug("lease lost to another worker", zap.String("device", dev.Serial()))
			return nil, nil
		}
		return nil, fmt.Errorf("leasing job: %w", err)
	}
	if job == nil {
		return nil, nil
	}

	log := s.log.With(
		zap.String("device", dev.Serial()),
		zap.Int64("job", job.ID),
		zap.String("number", job.Phone.Number),
	)
	log.Info("job leased", zap.String("bank", string(job.Bank)))
	s.events.Publish(events.Event{Kind: events.JobLeased, Device: dev.Serial(), JobID: job.ID, Number: job.Phone.Number})

	if err := job.Prepare(); err != nil {
		return job, s.fail(ctx, log, dev, job, err)
	}

	sc, err := s.scenarios.Lookup(job.Bank)
	if err != nil {
		return job, s.fail(ctx, log, dev, job, err)
	}

	runErr := s.run(ctx, log, sc, dev, job)
	if runErr == nil {
		// The payment went through; persist it even if shutdown starts now
		return job, s.succeed(context.WithoutCancel(ctx), log, dev, job)
	}
	if ctx.Err() != nil {
		log.Warn("cancelled while processing, lease left for expiry", zap.NamedError("cause", runErr))
		s.events.Publish(events.Event{Kind: events.JobAbandoned, Device: dev.Serial(), JobID: job.ID, Number: job.Phone.Number})
		return job, nil
	}
	return job, s.fail(ctx, log, dev, job, runErr)
}

// run drives the scenario while a heartbeat keeps the lease fresh
func (s *Service) run(ctx context.Context, log *zap.Logger, sc scenario.Scenario, dev device.Device, job *domain.Job) error {
	hbCtx, stop := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.keepLease(hbCtx, log, job)
	}()
	defer func() {
		stop()
		wg.Wait()
	}()
	return sc.Replenish(ctx, dev, job)
}

func (s *Service) keepLease(ctx context.Context, log *zap.Logger, job *domain.Job) {
	ticker := time.NewTicker(s.renewEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.store.RenewLease(ctx, job); err != nil && ctx.Err() == nil {
				log.Warn("renewing lease failed", zap.Error(err))
			}
		}
	}
}

func (s *Service) succeed(ctx context.Context, log *zap.Logger, dev device.Device, job *domain.Job) error {
	if err := s.store.Commit(ctx, job, domain.StatusSuccess); err != nil {
		return fmt.Errorf("committing success for job %d: %w", job.ID, err)
	}

	log.Info("job succeeded",
		zap.Int("amount", job.AmountValue()),
		zap.String("provider", string(job.ProviderValue())),
	)
	s.events.Publish(events.Event{Kind: events.JobSucceeded, Device: dev.Serial(), JobID: job.ID, Number: job.Phone.Number})
	s.send(ctx, log, notify.JobSucceeded(job, dev.Serial()))
	return nil
}

func (s *Service) fail(ctx context.Context, log *zap.Logger, dev device.Device, job *domain.Job, cause error) error {
	var ple *domain.PageLoadError
	if errors.As(cause, &ple) {
		log.Error("page did not load", zap.Stringer("page", ple.Expected))
		if len(ple.Dump) > 0 && s.diagnostics != nil {
			if path, err := s.diagnostics.Write(job.Phone.Number, ple.Expected, ple.Dump); err != nil {
				log.Warn("writing diagnostic dump failed", zap.Error(err))
			} else {
				log.Info("diagnostic dump written", zap.String("path", path))
			}
		}
	}

	if err := s.store.Commit(ctx, job, domain.StatusFailure); err != nil {
		return errors.Join(cause, fmt.Errorf("committing failure for job %d: %w", job.ID, err))
	}

	s.events.Publish(events.Event{
		Kind:    events.JobFailed,
		Device:  dev.Serial(),
		JobID:   job.ID,
		Number:  job.Phone.Number,
		Message: cause.Error(),
	})
	s.send(ctx, log, notify.JobFailed(job, dev.Serial(), cause))

	if domain.IsClassified(cause) {
		log.Warn("job failed", zap.Error(cause))
		return nil
	}
	log.Error("job failed with unexpected error", zap.Error(cause))
	return fmt.Errorf("job %d: %w", job.ID, cause)
}

func (s *Service) send(ctx context.Context, log *zap.Logger, n notify.Notification) {
	if err := s.notifier.Send(ctx, n); err != nil {
		log.Warn("sending notification failed", zap.Error(err))
	}
}
