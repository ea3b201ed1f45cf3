package device

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"

	"github.com/hochfrequenz/sim-topup/internal/domain"
	"go.uber.org/zap"
)

const uiDumpPath = "/sdcard/window_dump.xml"

// ADBConfig configures access to the adb binary
type ADBConfig struct {
	Binary string
	Debug  bool
}

// ADBManager lists devices known to the local adb server
type ADBManager struct {
	config ADBConfig
	log    *zap.Logger
}

// NewADBManager creates a manager using the given adb binary
func NewADBManager(config ADBConfig, log *zap.Logger) *ADBManager {
	if config.Binary == "" {
		config.Binary = "adb"
	}
	return &ADBManager{config: config, log: log.Named("adb")}
}

// ListConnectedDevices returns every device adb reports in the "device" state
func (m *ADBManager) ListConnectedDevices(ctx context.Context) ([]Device, error) {
	out, err := exec.CommandContext(ctx, m.config.Binary, "devices").Output()
	if err != nil {
		return nil, fmt.Errorf("%w: adb devices: %v", domain.ErrTransport, err)
	}

	serials := parseDevices(out)
	devices := make([]Device, 0, len(serials))
	for _, serial := range serials {
		devices = append(devices, NewADBDevice(m.config, serial, m.log))
	}
	return devices, nil
}

// parseDevices extracts ready serials from `adb devices` output.
// Offline and unauthorized devices are skipped.
func parseDevices(out []byte) []string {
	var serials []string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "List of devices") || strings.HasPrefix(line, "*") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) >= 2 && fields[1] == "device" {
			serials = append(serials, fields[0])
		}
	}
	return serials
}

// ADBDevice drives one device through the adb binary
type ADBDevice struct {
	config ADBConfig
	serial string
	log    *zap.Logger
}

// NewADBDevice creates a device handle for the given serial
func NewADBDevice(config ADBConfig, serial string, log *zap.Logger) *ADBDevice {
	if config.Binary == "" {
		config.Binary = "adb"
	}
	return &ADBDevice{config: config, serial: serial, log: log.With(zap.String("device", serial))}
}

func (d *ADBDevice) Serial() string {
	return d.serial
}

func (d *ADBDevice) run(ctx context.Context, args ...string) ([]byte, error) {
	full := append([]string{"-s", d.serial}, args...)
	if d.config.Debug {
		d.log.Debug("adb", zap.Strings("args", args))
	}

	cmd := exec.CommandContext(ctx, d.config.Binary, full...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: adb %s: %v: %s", domain.ErrTransport, strings.Join(args, " "), err, strings.TrimSpace(stderr.String()))
	}
	return out, nil
}

// Shell runs a command in the device shell and returns its output
func (d *ADBDevice) Shell(ctx context.Context, command string) (string, error) {
	out, err := d.run(ctx, "shell", command)
	return string(out), err
}

// UIDump asks uiautomator for the current hierarchy and reads it back
func (d *ADBDevice) UIDump(ctx context.Context) (*UITree, error) {
	out, err := d.Shell(ctx, "uiautomator dump "+uiDumpPath)
	if err != nil {
		return nil, err
	}
	if strings.Contains(out, "ERROR") || !strings.Contains(out, "dumped to") {
		return nil, fmt.Errorf("%w: uiautomator dump: %s", domain.ErrTransport, strings.TrimSpace(out))
	}

	xml, err := d.Shell(ctx, "cat "+uiDumpPath)
	if err != nil {
		return nil, err
	}
	return ParseUITree([]byte(xml))
}

// Tap taps a random point inside r
func (d *ADBDevice) Tap(ctx context.Context, r Rect) error {
	x, y := r.RandomPoint()
	_, err := d.Shell(ctx, fmt.Sprintf("input tap %d %d", x, y))
	return err
}

// InputText types text into the focused field
func (d *ADBDevice) InputText(ctx context.Context, text string) error {
	_, err := d.Shell(ctx, "input text "+escapeInputText(text))
	return err
}

// escapeInputText encodes spaces the way `input text` expects them
func escapeInputText(text string) string {
	return strings.ReplaceAll(text, " ", "%s")
}

// GoHome presses the home key
func (d *ADBDevice) GoHome(ctx context.Context) error {
	_, err := d.Shell(ctx, "input keyevent 3")
	return err
}

// OpenApp launches the app's launcher activity
func (d *ADBDevice) OpenApp(ctx context.Context, pkg string) error {
	_, err := d.Shell(ctx, fmt.Sprintf("monkey -p %s -c android.intent.category.LAUNCHER 1", pkg))
	return err
}

// CloseApp force-stops the app
func (d *ADBDevice) CloseApp(ctx context.Context, pkg string) error {
	_, err := d.Shell(ctx, "am force-stop "+pkg)
	return err
}

// Screenshot captures the screen as PNG
func (d *ADBDevice) Screenshot(ctx context.Context) ([]byte, error) {
	out, err := d.run(ctx, "exec-out", "screencap", "-p")
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("%w: empty screenshot", domain.ErrTransport)
	}
	return out, nil
}
