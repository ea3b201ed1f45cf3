package jobstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hochfrequenz/sim-topup/internal/domain"
	_ "modernc.org/sqlite"
)

var (
	// ErrLeaseConflict means another caller claimed the job between select and update.
	// The caller should retry on its next polling cycle.
	ErrLeaseConflict = errors.New("job lease conflict")
	// ErrLeaseLost means the job is no longer processing under the caller's lease
	ErrLeaseLost = errors.New("job lease lost")
	// ErrNotFound is returned when a job does not exist
	ErrNotFound = errors.New("job not found")
)

// Store provides SQLite-backed job persistence with lease semantics
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// New creates a new Store with the given database path.
// Write transactions take the database lock up front so concurrent
// leases serialize instead of upgrading a read lock mid-transaction.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_txlock=immediate"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Every connection to :memory: is a separate database
	if dbPath == ":memory:" {
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

const selectJob = `
	SELECT j.id, p.id, p.number, j.status, j.bank, j.provider, j.amount, j.lease_id, j.created_at, j.leased_at, j.completed_at
	FROM jobs j JOIN phone_numbers p ON p.id = j.phone_id`

// LeaseNextJob claims the oldest new job and marks it processing.
// It returns nil, nil when no new job exists.
func (s *Store) LeaseNextJob(ctx context.Context) (*domain.Job, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin lease: %w", err)
	}
	defer tx.Rollback()

	job, err := scanJob(tx.QueryRowContext(ctx, selectJob+` WHERE j.status = ? ORDER BY j.id LIMIT 1`,
		string(domain.StatusNew)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	leaseID := uuid.NewString()
	now := s.now().UTC()
	res, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, lease_id = ?, leased_at = ? WHERE id = ? AND status = ?`,
		string(domain.StatusProcessing), leaseID, now, job.ID, string(domain.StatusNew))
	if err != nil {
		return nil, fmt.Errorf("claiming job %d: %w", job.ID, err)
	}
	if n, err := res.RowsAffected(); err != nil {
		return nil, err
	} else if n != 1 {
		return nil, fmt.Errorf("claiming job %d: %w", job.ID, ErrLeaseConflict)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease: %w", err)
	}

	job.Status = domain.StatusProcessing
	job.LeaseID = leaseID
	job.LeasedAt = &now
	return job, nil
}

// Commit persists the terminal status of a leased job together with the
// resolved carrier and amount
func (s *Store) Commit(ctx context.Context, job *domain.Job, status domain.JobStatus) error {
	if !domain.CanTransition(domain.StatusProcessing, status) {
		return fmt.Errorf("invalid final status %q", status)
	}

	var provider sql.NullString
	if job.Provider != nil {
		provider = sql.NullString{String: string(*job.Provider), Valid: true}
	}
	var amount sql.NullInt64
	if job.Amount != nil {
		amount = sql.NullInt64{Int64: int64(*job.Amount), Valid: true}
	}

	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, provider = ?, amount = ?, completed_at = ?
		WHERE id = ? AND status = ? AND lease_id = ?
	`, string(status), provider, amount, now, job.ID, string(domain.StatusProcessing), job.LeaseID)
	if err != nil {
		return fmt.Errorf("committing job %d: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("committing job %d: %w", job.ID, ErrLeaseLost)
	}

	job.Status = status
	job.CompletedAt = &now
	return nil
}

// RenewLease moves leased_at of a processing job to now so ExpireStale
// treats the lease as live
func (s *Store) RenewLease(ctx context.Context, job *domain.Job) error {
	now := s.now().UTC()
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET leased_at = ? WHERE id = ? AND status = ? AND lease_id = ?`,
		now, job.ID, string(domain.StatusProcessing), job.LeaseID)
	if err != nil {
		return fmt.Errorf("renewing lease of job %d: %w", job.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n != 1 {
		return fmt.Errorf("renewing lease of job %d: %w", job.ID, ErrLeaseLost)
	}
	job.LeasedAt = &now
	return nil
}

// NewJob describes a job entered by an operator
type NewJob struct {
	Number   string
	Bank     domain.Bank
	Provider *domain.Carrier
	Amount   *int
}

// AddJob inserts a new job, creating the phone number record if needed
func (s *Store) AddJob(ctx context.Context, nj NewJob) (*domain.Job, error) {
	number := strings.TrimSpace(nj.Number)
	if number == "" {
		return nil, fmt.Errorf("phone number is required")
	}
	bank := nj.Bank
	if bank == "" {
		bank = domain.DefaultBank
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `INSERT INTO phone_numbers (number) VALUES (?) ON CONFLICT(number) DO NOTHING`, number); err != nil {
		return nil, fmt.Errorf("inserting phone number: %w", err)
	}
	var phoneID int64
	if err := tx.QueryRowContext(ctx, `SELECT id FROM phone_numbers WHERE number = ?`, number).Scan(&phoneID); err != nil {
		return nil, fmt.Errorf("looking up phone number: %w", err)
	}

	var provider sql.NullString
	if nj.Provider != nil {
		provider = sql.NullString{String: string(*nj.Provider), Valid: true}
	}
	var amount sql.NullInt64
	if nj.Amount != nil {
		amount = sql.NullInt64{Int64: int64(*nj.Amount), Valid: true}
	}

	now := s.now().UTC()
	res, err := tx.ExecContext(ctx, `
		INSERT INTO jobs (phone_id, status, bank, provider, amount, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, phoneID, string(domain.StatusNew), string(bank), provider, amount, now)
	if err != nil {
		return nil, fmt.Errorf("inserting job: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}

	return &domain.Job{
		ID:        id,
		Phone:     domain.PhoneNumber{ID: phoneID, Number: number},
		Status:    domain.StatusNew,
		Bank:      bank,
		Provider:  nj.Provider,
		Amount:    nj.Amount,
		CreatedAt: now,
	}, nil
}

// GetJob retrieves a job by ID
func (s *Store) GetJob(ctx context.Context, id int64) (*domain.Job, error) {
	job, err := scanJob(s.db.QueryRowContext(ctx, selectJob+` WHERE j.id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	return job, err
}

// ListOptions specifies filters for listing jobs
type ListOptions struct {
	Status domain.JobStatus
	Limit  int
}

// ListJobs returns jobs matching the given options, newest first
func (s *Store) ListJobs(ctx context.Context, opts ListOptions) ([]*domain.Job, error) {
	query := selectJob + ` WHERE 1=1`
	var args []interface{}

	if opts.Status != "" {
		query += " AND j.status = ?"
		args = append(args, string(opts.Status))
	}

	query += " ORDER BY j.id DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []*domain.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// CountByStatus returns the number of jobs per status
func (s *Store) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[domain.JobStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[domain.JobStatus(status)] = n
	}
	return counts, rows.Err()
}

// ExpireStale fails processing jobs whose lease started before cutoff.
// Jobs never return to new once claimed, so an abandoned lease can only end as a failure.
func (s *Store) ExpireStale(ctx context.Context, cutoff time.Time) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, `SELECT id, leased_at FROM jobs WHERE status = ?`, string(domain.StatusProcessing))
	if err != nil {
		return nil, err
	}
	var stale []int64
	for rows.Next() {
		var id int64
		var leasedAt sql.NullTime
		if err := rows.Scan(&id, &leasedAt); err != nil {
			rows.Close()
			return nil, err
		}
		if !leasedAt.Valid || leasedAt.Time.Before(cutoff) {
			stale = append(stale, id)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	now := s.now().UTC()
	for _, id := range stale {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
			string(domain.StatusFailure), now, id, string(domain.StatusProcessing)); err != nil {
			return nil, fmt.Errorf("expiring job %d: %w", id, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return stale, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(row scanner) (*domain.Job, error) {
	var job domain.Job
	var status, bank string
	var provider, leaseID sql.NullString
	var amount sql.NullInt64
	var createdAt, leasedAt, completedAt sql.NullTime

	err := row.Scan(&job.ID, &job.Phone.ID, &job.Phone.Number, &status, &bank, &provider, &amount, &leaseID,
		&createdAt, &leasedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	job.Status = domain.JobStatus(status)
	job.Bank = domain.Bank(bank)
	if provider.Valid {
		c := domain.Carrier(provider.String)
		job.Provider = &c
	}
	if amount.Valid {
		a := int(amount.Int64)
		job.Amount = &a
	}
	if leaseID.Valid {
		job.LeaseID = leaseID.String
	}
	if createdAt.Valid {
		job.CreatedAt = createdAt.Time
	}
	if leasedAt.Valid {
		t := leasedAt.Time
		job.LeasedAt = &t
	}
	if completedAt.Valid {
		t := completedAt.Time
		job.CompletedAt = &t
	}
	return &job, nil
}
