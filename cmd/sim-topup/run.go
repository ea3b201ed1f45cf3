package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hochfrequenz/sim-topup/internal/config"
	"github.com/hochfrequenz/sim-topup/internal/events"
	"github.com/hochfrequenz/sim-topup/internal/importer"
	"github.com/hochfrequenz/sim-topup/internal/maintenance"
	"github.com/hochfrequenz/sim-topup/internal/notify"
	"github.com/hochfrequenz/sim-topup/internal/ocr"
	"github.com/hochfrequenz/sim-topup/internal/replenish"
	"github.com/hochfrequenz/sim-topup/internal/scenario"
	"github.com/hochfrequenz/sim-topup/web/api"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const schedulerTick = 30 * time.Second

var (
	runWithWeb bool
	runWithTUI bool
)

func init() {
	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a worker on every connected device",
		Long: `Run discovers the connected devices and processes queued jobs on each of
them until interrupted. Housekeeping tasks and the job inbox run alongside.`,
		RunE: runRun,
	}
	runCmd.Flags().BoolVar(&runWithWeb, "web", false, "also serve the HTTP API")
	runCmd.Flags().BoolVar(&runWithTUI, "tui", false, "show the dashboard while running")
	rootCmd.AddCommand(runCmd)
}

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func timingsFromConfig(tc config.TimingsConfig) scenario.Timings {
	return scenario.Timings{
		Short:       tc.Short.Duration,
		Middle:      tc.Middle.Duration,
		Long:        tc.Long.Duration,
		StepPadding: tc.StepPadding.Duration,
	}
}

// buildNotifier combines the configured notification channels
func buildNotifier(nc config.NotificationsConfig) (notify.Notifier, error) {
	var notifiers []notify.Notifier
	if nc.SlackWebhook != "" {
		level, err := notify.ParseLevel(nc.SlackMinLevel)
		if err != nil {
			return nil, err
		}
		notifiers = append(notifiers, notify.NewSlackNotifier(nc.SlackWebhook, level))
	}
	if nc.Desktop {
		notifiers = append(notifiers, notify.NewDesktopNotifier(true))
	}

	switch len(notifiers) {
	case 0:
		return notify.NoopNotifier{}, nil
	case 1:
		return notifiers[0], nil
	}
	return notify.NewMultiNotifier(notifiers...), nil
}

func maintenanceTasks(c *config.Config, expirer maintenance.Expirer, sink events.Sink, log *zap.Logger) []maintenance.Task {
	m := c.Maintenance
	tasks := []maintenance.Task{
		maintenance.StaleLeaseSweep(expirer, m.SweepCron, m.StaleAfter.Duration, sink, log),
	}
	if m.DumpRetention.Duration > 0 && m.PruneCron != "" {
		tasks = append(tasks, maintenance.PruneDumps(c.General.DiagnosticsDir, m.PruneCron, m.DumpRetention.Duration, log))
	}
	return tasks
}

func runRun(cmd *cobra.Command, args []string) error {
	ctx, stop := signalContext(cmd.Context())
	defer stop()

	log := logger
	if runWithTUI {
		// The dashboard owns the terminal
		log = log.WithOptions(zap.IncreaseLevel(zap.ErrorLevel))
	}

	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	notifier, err := buildNotifier(cfg.Notifications)
	if err != nil {
		return err
	}

	hub := events.NewHub(0)
	devices := newDeviceManager()
	recognizer := ocr.NewTesseract(ocr.TesseractConfig{Binary: cfg.OCR.Binary, Language: cfg.OCR.Language})
	scenarios := scenario.NewRegistry(scenario.NewRaif(recognizer, timingsFromConfig(cfg.Timings), log))

	svc := replenish.NewService(replenish.ServiceConfig{
		Store:              store,
		Scenarios:          scenarios,
		Diagnostics:        scenario.NewDiagnostics(cfg.General.DiagnosticsDir),
		Notifier:           notifier,
		Events:             hub,
		Logger:             log,
		LeaseRenewInterval: cfg.Worker.LeaseRenewInterval.Duration,
	})
	orch := replenish.NewOrchestrator(devices, svc, hub, replenish.OrchestratorConfig{
		DevicePollInterval: cfg.Worker.DevicePollInterval.Duration,
		JobPollInterval:    cfg.Worker.JobPollInterval.Duration,
	}, log)

	sched, err := maintenance.NewScheduler(maintenanceTasks(cfg, store, hub, log), log)
	if err != nil {
		return err
	}

	var watcher *importer.Watcher
	if cfg.Import.Enabled {
		watcher, err = importer.NewWatcher(importer.New(store, hub, log), cfg.Import.InboxDir, log)
		if err != nil {
			return fmt.Errorf("watching inbox: %w", err)
		}
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		replenish.Supervise(ctx, log, cfg.Worker.RestartDelay.Duration, orch.Run)
		return nil
	})

	g.Go(func() error {
		sched.Start(ctx, schedulerTick)
		return nil
	})

	if watcher != nil {
		watcher.Start(ctx)
		g.Go(func() error {
			<-ctx.Done()
			watcher.Stop()
			return nil
		})
	}

	if runWithWeb {
		server := api.NewServer(store, devices, hub, webAddr(0), log)
		g.Go(func() error {
			return server.Start(ctx)
		})
	}

	if runWithTUI {
		g.Go(func() error {
			// Quitting the dashboard stops the workers
			defer stop()
			return runDashboard(store, devices, hub)
		})
	}

	log.Info("sim-topup running", zap.String("database", cfg.General.DatabasePath), zap.Strings("banks", bankNames(scenarios)))
	return g.Wait()
}

func bankNames(r *scenario.Registry) []string {
	var names []string
	for _, b := range r.Banks() {
		names = append(names, string(b))
	}
	return names
}
