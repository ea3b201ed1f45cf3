// Package scenario drives a bank app through a top-up on one device.
package scenario

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hochfrequenz/sim-topup/internal/device"
	"github.com/hochfrequenz/sim-topup/internal/domain"
)

// Scenario tops up one job's number on one device
type Scenario interface {
	Bank() domain.Bank
	Replenish(ctx context.Context, dev device.Device, job *domain.Job) error
}

// Registry resolves scenarios by bank
type Registry struct {
	mu        sync.RWMutex
	scenarios map[domain.Bank]Scenario
}

// NewRegistry creates a registry holding the given scenarios
func NewRegistry(scenarios ...Scenario) *Registry {
	r := &Registry{scenarios: make(map[domain.Bank]Scenario)}
	for _, s := range scenarios {
		r.Register(s)
	}
	return r
}

// Register adds or replaces the scenario for its bank
func (r *Registry) Register(s Scenario) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scenarios[s.Bank()] = s
}

// Lookup returns the scenario for bank
func (r *Registry) Lookup(bank domain.Bank) (Scenario, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.scenarios[bank]
	if !ok {
		return nil, fmt.Errorf("%w: %q", domain.ErrNoScenarioForBank, bank)
	}
	return s, nil
}

// Banks returns the registered bank ids
func (r *Registry) Banks() []domain.Bank {
	r.mu.RLock()
	defer r.mu.RUnlock()
	banks := make([]domain.Bank, 0, len(r.scenarios))
	for b := range r.scenarios {
		banks = append(banks, b)
	}
	return banks
}

// Timings holds the waits between device steps
type Timings struct {
	Short       time.Duration
	Middle      time.Duration
	Long        time.Duration
	StepPadding time.Duration
}

// DefaultTimings returns delays tuned for emulators under load
func DefaultTimings() Timings {
	return Timings{
		Short:       2 * time.Second,
		Middle:      4 * time.Second,
		Long:        7 * time.Second,
		StepPadding: 2 * time.Second,
	}
}

type delay int

const (
	delayShort delay = iota
	delayMiddle
	delayLong
)

func (t Timings) of(d delay) time.Duration {
	switch d {
	case delayMiddle:
		return t.Middle
	case delayLong:
		return t.Long
	default:
		return t.Short
	}
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
