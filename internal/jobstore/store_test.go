package jobstore

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/hochfrequenz/sim-topup/internal/domain"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStore_AddAndGetJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	amount := 25
	job, err := store.AddJob(ctx, NewJob{Number: "+380671234567", Amount: &amount})
	if err != nil {
		t.Fatal(err)
	}

	got, err := store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Phone.Number != "+380671234567" {
		t.Errorf("Number = %q, want +380671234567", got.Phone.Number)
	}
	if got.Status != domain.StatusNew {
		t.Errorf("Status = %q, want new", got.Status)
	}
	if got.Bank != domain.BankRaif {
		t.Errorf("Bank = %q, want raif", got.Bank)
	}
	if got.Provider != nil {
		t.Errorf("Provider = %v, want nil", *got.Provider)
	}
	if got.AmountValue() != 25 {
		t.Errorf("Amount = %d, want 25", got.AmountValue())
	}
	if got.CompletedAt != nil {
		t.Error("CompletedAt should be unset for a new job")
	}
}

func TestStore_AddJobReusesPhoneNumber(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, err := store.AddJob(ctx, NewJob{Number: "+380501234567"})
	if err != nil {
		t.Fatal(err)
	}
	second, err := store.AddJob(ctx, NewJob{Number: "+380501234567"})
	if err != nil {
		t.Fatal(err)
	}
	if first.Phone.ID != second.Phone.ID {
		t.Errorf("phone ids differ: %d vs %d", first.Phone.ID, second.Phone.ID)
	}
	if first.ID == second.ID {
		t.Error("job ids should differ")
	}
}

func TestStore_GetJobNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetJob(context.Background(), 404)
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestStore_LeaseNextJob(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	first, _ := store.AddJob(ctx, NewJob{Number: "+380671111111"})
	second, _ := store.AddJob(ctx, NewJob{Number: "+380672222222"})

	job, err := store.LeaseNextJob(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.ID != first.ID {
		t.Fatalf("leased %v, want oldest job %d", job, first.ID)
	}
	if job.Status != domain.StatusProcessing {
		t.Errorf("Status = %q, want processing", job.Status)
	}
	if job.LeaseID == "" || job.LeasedAt == nil {
		t.Error("lease should carry an id and timestamp")
	}

	job, err = store.LeaseNextJob(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job == nil || job.ID != second.ID {
		t.Fatalf("leased %v, want job %d", job, second.ID)
	}

	job, err = store.LeaseNextJob(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if job != nil {
		t.Errorf("leased %d from an empty queue", job.ID)
	}
}

func TestStore_Commit(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.AddJob(ctx, NewJob{Number: "+380631234567"})
	job, err := store.LeaseNextJob(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := job.Prepare(); err != nil {
		t.Fatal(err)
	}

	if err := store.Commit(ctx, job, domain.StatusSuccess); err != nil {
		t.Fatal(err)
	}

	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != domain.StatusSuccess {
		t.Errorf("Status = %q, want success", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("CompletedAt should be set on success")
	}
	if got.ProviderValue() != domain.CarrierLifecell {
		t.Errorf("Provider = %q, want lifecell", got.ProviderValue())
	}
	if got.AmountValue() != 10 {
		t.Errorf("Amount = %d, want 10", got.AmountValue())
	}

	// A committed job has left processing
	if err := store.Commit(ctx, job, domain.StatusFailure); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("second commit err = %v, want ErrLeaseLost", err)
	}
}

func TestStore_CommitRejectsNonTerminal(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.AddJob(ctx, NewJob{Number: "+380631234567"})
	job, _ := store.LeaseNextJob(ctx)

	if err := store.Commit(ctx, job, domain.StatusNew); err == nil {
		t.Error("commit back to new should fail")
	}
}

func TestStore_CommitWrongLease(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.AddJob(ctx, NewJob{Number: "+380631234567"})
	job, _ := store.LeaseNextJob(ctx)
	job.LeaseID = "someone-else"

	if err := store.Commit(ctx, job, domain.StatusSuccess); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("err = %v, want ErrLeaseLost", err)
	}
}

func TestStore_ListAndCount(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, n := range []string{"+380671111111", "+380672222222", "+380673333333"} {
		if _, err := store.AddJob(ctx, NewJob{Number: n}); err != nil {
			t.Fatal(err)
		}
	}
	job, _ := store.LeaseNextJob(ctx)
	store.Commit(ctx, job, domain.StatusFailure)

	all, err := store.ListJobs(ctx, ListOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Errorf("All jobs count = %d, want 3", len(all))
	}

	newJobs, err := store.ListJobs(ctx, ListOptions{Status: domain.StatusNew})
	if err != nil {
		t.Fatal(err)
	}
	if len(newJobs) != 2 {
		t.Errorf("New jobs count = %d, want 2", len(newJobs))
	}

	limited, _ := store.ListJobs(ctx, ListOptions{Limit: 1})
	if len(limited) != 1 {
		t.Errorf("Limited count = %d, want 1", len(limited))
	}

	counts, err := store.CountByStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts[domain.StatusNew] != 2 || counts[domain.StatusFailure] != 1 {
		t.Errorf("counts = %v", counts)
	}
}

func TestStore_ExpireStale(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	store.AddJob(ctx, NewJob{Number: "+380671111111"})
	store.AddJob(ctx, NewJob{Number: "+380672222222"})
	old, _ := store.LeaseNextJob(ctx)

	store.now = func() time.Time { return base.Add(2 * time.Hour) }
	fresh, _ := store.LeaseNextJob(ctx)

	expired, err := store.ExpireStale(ctx, base.Add(time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 1 || expired[0] != old.ID {
		t.Fatalf("expired = %v, want [%d]", expired, old.ID)
	}

	got, _ := store.GetJob(ctx, old.ID)
	if got.Status != domain.StatusFailure || got.CompletedAt == nil {
		t.Errorf("stale job = %s completed=%v, want failure with completion time", got.Status, got.CompletedAt)
	}
	got, _ = store.GetJob(ctx, fresh.ID)
	if got.Status != domain.StatusProcessing {
		t.Errorf("fresh job status = %s, want processing", got.Status)
	}
}

func TestStore_RenewedLeaseSurvivesExpiry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return base }

	store.AddJob(ctx, NewJob{Number: "+380671111111"})
	job, _ := store.LeaseNextJob(ctx)

	// The worker is still running an hour later and keeps its lease alive
	store.now = func() time.Time { return base.Add(time.Hour) }
	if err := store.RenewLease(ctx, job); err != nil {
		t.Fatalf("RenewLease: %v", err)
	}
	if !job.LeasedAt.Equal(base.Add(time.Hour)) {
		t.Errorf("LeasedAt = %v, want %v", job.LeasedAt, base.Add(time.Hour))
	}

	expired, err := store.ExpireStale(ctx, base.Add(time.Minute))
	if err != nil {
		t.Fatal(err)
	}
	if len(expired) != 0 {
		t.Fatalf("expired = %v, want none", expired)
	}

	if err := store.Commit(ctx, job, domain.StatusSuccess); err != nil {
		t.Fatalf("Commit after renewal: %v", err)
	}
	got, _ := store.GetJob(ctx, job.ID)
	if got.Status != domain.StatusSuccess {
		t.Errorf("status = %s, want success", got.Status)
	}
}

func TestStore_RenewLeaseLost(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	store.AddJob(ctx, NewJob{Number: "+380671111111"})
	job, _ := store.LeaseNextJob(ctx)

	if _, err := store.ExpireStale(ctx, time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := store.RenewLease(ctx, job); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("RenewLease after expiry = %v, want ErrLeaseLost", err)
	}

	other := *job
	other.LeaseID = "someone-else"
	if err := store.RenewLease(ctx, &other); !errors.Is(err, ErrLeaseLost) {
		t.Errorf("RenewLease with foreign lease = %v, want ErrLeaseLost", err)
	}
}

func TestStore_ConcurrentLeases(t *testing.T) {
	store, err := New(filepath.Join(t.TempDir(), "jobs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := context.Background()

	const jobCount = 30
	for i := 0; i < jobCount; i++ {
		if _, err := store.AddJob(ctx, NewJob{Number: fmt.Sprintf("+38067%07d", i)}); err != nil {
			t.Fatal(err)
		}
	}

	const workers = 6
	var mu sync.Mutex
	seen := make(map[int64]int)
	var wg sync.WaitGroup

	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				job, err := store.LeaseNextJob(ctx)
				if errors.Is(err, ErrLeaseConflict) {
					continue
				}
				if err != nil {
					t.Errorf("lease: %v", err)
					return
				}
				if job == nil {
					return
				}
				mu.Lock()
				seen[job.ID]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if len(seen) != jobCount {
		t.Errorf("leased %d distinct jobs, want %d", len(seen), jobCount)
	}
	for id, n := range seen {
		if n != 1 {
			t.Errorf("job %d leased %d times", id, n)
		}
	}
}
