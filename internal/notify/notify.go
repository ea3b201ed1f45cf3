// Package notify tells operators about finished and failed top-ups.
package notify

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/hochfrequenz/sim-topup/internal/domain"
)

// Level is the severity of a notification
type Level int

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelWarning
	LevelError
)

// ParseLevel maps a config name to a Level. An empty name is LevelWarning.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "info":
		return LevelInfo, nil
	case "success":
		return LevelSuccess, nil
	case "", "warning":
		return LevelWarning, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown notification level %q", s)
}

// Notification describes one job outcome or orchestrator event
type Notification struct {
	Title   string
	Message string
	Level   Level
	JobID   int64  // 0 when not tied to a job
	Number  string // Optional phone number
	Device  string // Optional device serial
}

// Notifier delivers notifications
type Notifier interface {
	Send(ctx context.Context, n Notification) error
}

// MultiNotifier fans out to several notifiers
type MultiNotifier struct {
	notifiers []Notifier
}

func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Send delivers to every notifier and joins their errors
func (m *MultiNotifier) Send(ctx context.Context, n Notification) error {
	var errs []error
	for _, notifier := range m.notifiers {
		if err := notifier.Send(ctx, n); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// NoopNotifier drops everything
type NoopNotifier struct{}

func (NoopNotifier) Send(ctx context.Context, n Notification) error { return nil }

// JobFailed builds the notification for a job committed as failure
func JobFailed(job *domain.Job, serial string, cause error) Notification {
	return Notification{
		Title:   fmt.Sprintf("Top-up failed for %s", job.Phone.Number),
		Message: cause.Error(),
		Level:   LevelError,
		JobID:   job.ID,
		Number:  job.Phone.Number,
		Device:  serial,
	}
}

// JobSucceeded builds the notification for a job committed as success
func JobSucceeded(job *domain.Job, serial string) Notification {
	return Notification{
		Title:   fmt.Sprintf("Topped up %s", job.Phone.Number),
		Message: fmt.Sprintf("%d UAH via %s (%s)", job.AmountValue(), job.Bank, job.ProviderValue()),
		Level:   LevelSuccess,
		JobID:   job.ID,
		Number:  job.Phone.Number,
		Device:  serial,
	}
}
