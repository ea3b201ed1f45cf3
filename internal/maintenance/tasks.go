package maintenance

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/hochfrequenz/sim-topup/internal/events"
	"go.uber.org/zap"
)

// Expirer fails processing jobs leased before a cutoff
type Expirer interface {
	ExpireStale(ctx context.Context, cutoff time.Time) ([]int64, error)
}

// StaleLeaseSweep fails jobs that stayed processing longer than staleAfter,
// typically because their worker was shut down mid-job
func StaleLeaseSweep(store Expirer, schedule string, staleAfter time.Duration, sink events.Sink, log *zap.Logger) Task {
	if sink == nil {
		sink = events.Nop{}
	}
	return Task{
		Name: "expire-stale-leases",
		Cron: schedule,
		Run: func(ctx context.Context) error {
			ids, err := store.ExpireStale(ctx, time.Now().Add(-staleAfter))
			if err != nil {
				return fmt.Errorf("expiring stale leases: %w", err)
			}
			if len(ids) > 0 {
				log.Warn("expired stale leases", zap.Int64s("jobs", ids))
				sink.Publish(events.Event{Kind: events.LeasesExpired, Message: fmt.Sprintf("%d jobs", len(ids))})
			}
			return nil
		},
	}
}

// PruneDumps removes diagnostic dumps older than maxAge from dir
func PruneDumps(dir, schedule string, maxAge time.Duration, log *zap.Logger) Task {
	return Task{
		Name: "prune-diagnostics",
		Cron: schedule,
		Run: func(ctx context.Context) error {
			removed, err := pruneDir(dir, time.Now().Add(-maxAge))
			if removed > 0 {
				log.Info("pruned diagnostic dumps", zap.Int("removed", removed), zap.String("dir", dir))
			}
			return err
		},
	}
}

func pruneDir(dir string, cutoff time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".xml") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil {
				return removed, err
			}
			removed++
		}
	}
	return removed, nil
}
