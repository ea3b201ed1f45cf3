package main

import (
	"testing"
	"time"

	"github.com/hochfrequenz/sim-topup/internal/config"
	"github.com/hochfrequenz/sim-topup/internal/notify"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewLogger(t *testing.T) {
	tests := []struct {
		name    string
		lc      config.LogConfig
		verbose bool
		want    zapcore.Level
		wantErr bool
	}{
		{"console info", config.LogConfig{Level: "info", Format: "console"}, false, zapcore.InfoLevel, false},
		{"json warn", config.LogConfig{Level: "warn", Format: "json"}, false, zapcore.WarnLevel, false},
		{"verbose wins", config.LogConfig{Level: "error"}, true, zapcore.DebugLevel, false},
		{"empty level", config.LogConfig{}, false, zapcore.InfoLevel, false},
		{"bad level", config.LogConfig{Level: "chatty"}, false, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := newLogger(tt.lc, tt.verbose)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if !log.Core().Enabled(tt.want) {
				t.Errorf("level %s should be enabled", tt.want)
			}
			if tt.want > zapcore.DebugLevel && log.Core().Enabled(tt.want-1) {
				t.Errorf("level %s should be disabled", tt.want-1)
			}
		})
	}
}

func TestBuildNotifier(t *testing.T) {
	n, err := buildNotifier(config.NotificationsConfig{})
	if err != nil {
		t.Fatalf("buildNotifier() error = %v", err)
	}
	if _, ok := n.(notify.NoopNotifier); !ok {
		t.Errorf("no channels should give NoopNotifier, got %T", n)
	}

	n, err = buildNotifier(config.NotificationsConfig{SlackWebhook: "https://hooks.example.com/x", SlackMinLevel: "error"})
	if err != nil {
		t.Fatalf("buildNotifier() error = %v", err)
	}
	if _, ok := n.(*notify.SlackNotifier); !ok {
		t.Errorf("slack only should give SlackNotifier, got %T", n)
	}

	n, err = buildNotifier(config.NotificationsConfig{SlackWebhook: "https://hooks.example.com/x", Desktop: true})
	if err != nil {
		t.Fatalf("buildNotifier() error = %v", err)
	}
	if _, ok := n.(*notify.MultiNotifier); !ok {
		t.Errorf("two channels should give MultiNotifier, got %T", n)
	}

	if _, err := buildNotifier(config.NotificationsConfig{SlackWebhook: "https://hooks.example.com/x", SlackMinLevel: "loud"}); err == nil {
		t.Error("unknown level should fail")
	}
}

func TestMaintenanceTasks(t *testing.T) {
	c := config.Default()
	tasks := maintenanceTasks(c, nil, nil, zap.NewNop())
	if len(tasks) != 2 {
		t.Fatalf("tasks = %d, want 2", len(tasks))
	}
	for _, task := range tasks {
		if err := task.Validate(); err != nil {
			t.Errorf("task %s: %v", task.Name, err)
		}
	}

	c.Maintenance.DumpRetention = config.Duration{}
	if got := maintenanceTasks(c, nil, nil, zap.NewNop()); len(got) != 1 {
		t.Errorf("without retention tasks = %d, want 1", len(got))
	}
}

func TestTimingsFromConfig(t *testing.T) {
	tc := config.TimingsConfig{
		Short:       config.Duration{Duration: time.Second},
		Middle:      config.Duration{Duration: 2 * time.Second},
		Long:        config.Duration{Duration: 3 * time.Second},
		StepPadding: config.Duration{Duration: 4 * time.Second},
	}
	got := timingsFromConfig(tc)
	if got.Short != time.Second || got.Middle != 2*time.Second || got.Long != 3*time.Second || got.StepPadding != 4*time.Second {
		t.Errorf("timings = %+v", got)
	}
}
