package replenish

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/hochfrequenz/sim-topup/internal/device"
	"github.com/hochfrequenz/sim-topup/internal/domain"
	"github.com/hochfrequenz/sim-topup/internal/notify"
)

type fakeDevice struct {
	serial string
}

func (d *fakeDevice) Serial() string { return d.serial }
func (d *fakeDevice) UIDump(ctx context.Context) (*device.UITree, error) { return nil, domain.ErrTransport }
func (d *fakeDevice) Tap(ctx context.Context, r device.Rect) error { return nil }
func (d *fakeDevice) InputText(ctx context.Context, text string) error { return nil }
func (d *fakeDevice) GoHome(ctx context.Context) error { return nil }
func (d *fakeDevice) OpenApp(ctx context.Context, pkg string) error { return nil }
func (d *fakeDevice) CloseApp(ctx context.Context, pkg string) error { return nil }
func (d *fakeDevice) Screenshot(ctx context.Context) ([]byte, error) { return nil, domain.ErrTransport }
func (d *fakeDevice) Shell(ctx context.Context, cmd string) (string, error) { return "", nil }

// fakeScenario records which jobs ran on which device
type fakeScenario struct {
	bank domain.Bank
	run  func(ctx context.Context, dev device.Device, job *domain.Job) error

	mu    sync.Mutex
	calls map[string][]int64
}

func newFakeScenario(run func(ctx context.Context, dev device.Device, job *domain.Job) error) *fakeScenario {
	return &fakeScenario{bank: domain.BankRaif, run: run, calls: map[string][]int64{}}
}

func (s *fakeScenario) Bank() domain.Bank { return s.bank }

func (s *fakeScenario) Replenish(ctx context.Context, dev device.Device, job *domain.Job) error {
	s.mu.Lock()
	s.calls[dev.Serial()] = append(s.calls[dev.Serial()], job.ID)
	s.mu.Unlock()
	if s.run == nil {
		return nil
	}
	return s.run(ctx, dev, job)
}

func (s *fakeScenario) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, ids := range s.calls {
		n += len(ids)
	}
	return n
}

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notify.Notification
}

func (r *recordingNotifier) Send(ctx context.Context, n notify.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sent = append(r.sent, n)
	return nil
}

// fakeManager reports no devices for the first emptyPolls calls
type fakeManager struct {
	devices    []device.Device
	emptyPolls int32
	err        error
	polls      atomic.Int32
}

func (m *fakeManager) ListConnectedDevices(ctx context.Context) ([]device.Device, error) {
	n := m.polls.Add(1)
	if m.err != nil {
		return nil, m.err
	}
	if n <= m.emptyPolls {
		return nil, nil
	}
	return m.devices, nil
}
