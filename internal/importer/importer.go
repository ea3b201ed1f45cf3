package importer

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/hochfrequenz/sim-topup/internal/domain"
	"github.com/hochfrequenz/sim-topup/internal/events"
	"github.com/hochfrequenz/sim-topup/internal/jobstore"
	"go.uber.org/zap"
)

const (
	processedDir = "processed"
	failedDir    = "failed"
)

// JobAdder stores new jobs
type JobAdder interface {
	AddJob(ctx context.Context, nj jobstore.NewJob) (*domain.Job, error)
}

// Importer turns job files into queued jobs
type Importer struct {
	store  JobAdder
	events events.Sink
	log    *zap.Logger
}

func New(store JobAdder, sink events.Sink, log *zap.Logger) *Importer {
	if sink == nil {
		sink = events.Nop{}
	}
	return &Importer{store: store, events: sink, log: log.Named("importer")}
}

// ImportFile parses path and queues every job in it. A file is all or
// nothing at parse time; storage errors stop at the first failing job.
func (im *Importer) ImportFile(ctx context.Context, path string) ([]*domain.Job, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	entries, err := Parse(path, data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}

	jobs := make([]*domain.Job, 0, len(entries))
	for _, nj := range entries {
		job, err := im.store.AddJob(ctx, nj)
		if err != nil {
			return jobs, fmt.Errorf("%s: adding %s: %w", filepath.Base(path), nj.Number, err)
		}
		jobs = append(jobs, job)
	}

	im.log.Info("jobs imported", zap.String("file", path), zap.Int("count", len(jobs)))
	im.events.Publish(events.Event{
		Kind:    events.JobsImported,
		Message: fmt.Sprintf("%d jobs from %s", len(jobs), filepath.Base(path)),
	})
	return jobs, nil
}

// ImportInbox imports a file from the inbox and moves it to processed/
// or failed/ so it is never imported twice
func (im *Importer) ImportInbox(ctx context.Context, path string) error {
	_, err := im.ImportFile(ctx, path)

	target := processedDir
	if err != nil {
		im.log.Error("import failed", zap.String("file", path), zap.Error(err))
		target = failedDir
	}
	if moveErr := moveInto(path, target); moveErr != nil {
		im.log.Warn("moving imported file failed", zap.String("file", path), zap.Error(moveErr))
		if err == nil {
			err = moveErr
		}
	}
	return err
}

// ScanInbox imports files already present in dir, oldest name first
func (im *Importer) ScanInbox(ctx context.Context, dir string) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && Supported(e.Name()) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		im.ImportInbox(ctx, filepath.Join(dir, name))
	}
	return nil
}

func moveInto(path, sub string) error {
	dir := filepath.Join(filepath.Dir(path), sub)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	return os.Rename(path, filepath.Join(dir, filepath.Base(path)))
}
