package notify

import (
	"context"
	"os/exec"
	"runtime"
)

// DesktopNotifier pops up notifications on the operator's machine
type DesktopNotifier struct {
	enabled bool
}

func NewDesktopNotifier(enabled bool) *DesktopNotifier {
	return &DesktopNotifier{enabled: enabled}
}

// Send shows warnings and errors only
func (d *DesktopNotifier) Send(ctx context.Context, n Notification) error {
	if !d.enabled || n.Level < LevelWarning {
		return nil
	}

	switch runtime.GOOS {
	case "darwin":
		script := `display notification "` + n.Message + `" with title "` + n.Title + `"`
		return exec.CommandContext(ctx, "osascript", "-e", script).Run()
	case "linux":
		return exec.CommandContext(ctx, "notify-send", "--icon", IconForLevel(n.Level), n.Title, n.Message).Run()
	default:
		return nil
	}
}

// IconForLevel returns a freedesktop icon name
func IconForLevel(l Level) string {
	switch l {
	case LevelSuccess:
		return "dialog-positive"
	case LevelWarning:
		return "dialog-warning"
	case LevelError:
		return "dialog-error"
	default:
		return "dialog-information"
	}
}
