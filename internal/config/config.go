package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	ADB           ADBConfig           `toml:"adb"`
	OCR           OCRConfig           `toml:"ocr"`
	Worker        WorkerConfig        `toml:"worker"`
	Timings       TimingsConfig       `toml:"timings"`
	Maintenance   MaintenanceConfig   `toml:"maintenance"`
	Import        ImportConfig        `toml:"import"`
	Notifications NotificationsConfig `toml:"notifications"`
	Web           WebConfig           `toml:"web"`
	Log           LogConfig           `toml:"log"`
}

// GeneralConfig holds storage locations
type GeneralConfig struct {
	DatabasePath   string `toml:"database_path"`
	DiagnosticsDir string `toml:"diagnostics_dir"`
}

// ADBConfig locates the adb binary
type ADBConfig struct {
	Binary string `toml:"binary"`
	Debug  bool   `toml:"debug"`
}

// OCRConfig configures tesseract
type OCRConfig struct {
	Binary   string `toml:"binary"`
	Language string `toml:"language"`
}

// WorkerConfig holds orchestrator polling intervals
type WorkerConfig struct {
	DevicePollInterval Duration `toml:"device_poll_interval"`
	JobPollInterval    Duration `toml:"job_poll_interval"`
	RestartDelay       Duration `toml:"restart_delay"`
	LeaseRenewInterval Duration `toml:"lease_renew_interval"`
}

// TimingsConfig holds the waits between bank app steps
type TimingsConfig struct {
	Short       Duration `toml:"short"`
	Middle      Duration `toml:"middle"`
	Long        Duration `toml:"long"`
	StepPadding Duration `toml:"step_padding"`
}

// MaintenanceConfig holds housekeeping schedules
type MaintenanceConfig struct {
	StaleAfter    Duration `toml:"stale_after"`
	SweepCron     string   `toml:"sweep_cron"`
	DumpRetention Duration `toml:"dump_retention"`
	PruneCron     string   `toml:"prune_cron"`
}

// ImportConfig holds the job inbox settings
type ImportConfig struct {
	Enabled  bool   `toml:"enabled"`
	InboxDir string `toml:"inbox_dir"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
	// SlackMinLevel is one of info, success, warning, error
	SlackMinLevel string `toml:"slack_min_level"`
}

// WebConfig holds API server settings
type WebConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

// LogConfig holds logger settings
type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"` // console or json
}

// Duration is a time.Duration written as "10s" or "5m" in TOML
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func dur(d time.Duration) Duration { return Duration{d} }

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	base := filepath.Join(home, ".sim-topup")
	return &Config{
		General: GeneralConfig{
			DatabasePath:   filepath.Join(base, "jobs.db"),
			DiagnosticsDir: filepath.Join(base, "ErrorDumps"),
		},
		ADB: ADBConfig{
			Binary: "adb",
		},
		OCR: OCRConfig{
			Binary:   "tesseract",
			Language: "ukr",
		},
		Worker: WorkerConfig{
			DevicePollInterval: dur(10 * time.Second),
			JobPollInterval:    dur(3 * time.Second),
			RestartDelay:       dur(time.Minute),
			LeaseRenewInterval: dur(time.Minute),
		},
		Timings: TimingsConfig{
			Short:       dur(2 * time.Second),
			Middle:      dur(4 * time.Second),
			Long:        dur(7 * time.Second),
			StepPadding: dur(2 * time.Second),
		},
		Maintenance: MaintenanceConfig{
			StaleAfter:    dur(30 * time.Minute),
			SweepCron:     "*/10 * * * *",
			DumpRetention: dur(14 * 24 * time.Hour),
			PruneCron:     "0 4 * * *",
		},
		Import: ImportConfig{
			Enabled:  true,
			InboxDir: filepath.Join(base, "inbox"),
		},
		Notifications: NotificationsConfig{
			SlackMinLevel: "warning",
		},
		Web: WebConfig{
			Port: 8080,
			Host: "127.0.0.1",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.DiagnosticsDir = ExpandPath(cfg.General.DiagnosticsDir)
	cfg.Import.InboxDir = ExpandPath(cfg.Import.InboxDir)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects settings the workers cannot run with
func (c *Config) Validate() error {
	if c.General.DatabasePath == "" {
		return fmt.Errorf("general.database_path is required")
	}
	if c.Worker.DevicePollInterval.Duration <= 0 || c.Worker.JobPollInterval.Duration <= 0 {
		return fmt.Errorf("worker poll intervals must be positive")
	}
	if c.Maintenance.StaleAfter.Duration <= 0 {
		return fmt.Errorf("maintenance.stale_after must be positive")
	}
	if r := c.Worker.LeaseRenewInterval.Duration; r <= 0 || r >= c.Maintenance.StaleAfter.Duration {
		return fmt.Errorf("worker.lease_renew_interval must be positive and below maintenance.stale_after")
	}
	switch strings.ToLower(c.Log.Format) {
	case "console", "json":
	default:
		return fmt.Errorf("log.format must be console or json, got %q", c.Log.Format)
	}
	switch strings.ToLower(c.Notifications.SlackMinLevel) {
	case "", "info", "success", "warning", "error":
	default:
		return fmt.Errorf("notifications.slack_min_level %q is not a level", c.Notifications.SlackMinLevel)
	}
	return nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "sim-topup", "config.toml")
}
