package domain

import (
	"fmt"
	"time"
)

// PhoneNumber is a SIM number record owned by the data-entry side
type PhoneNumber struct {
	ID     int64
	Number string
}

// Job is a single top-up request for a phone number
type Job struct {
	ID          int64
	Phone       PhoneNumber
	Status      JobStatus
	Bank        Bank
	Provider    *Carrier
	Amount      *int
	LeaseID     string
	CreatedAt   time.Time
	LeasedAt    *time.Time
	CompletedAt *time.Time
}

// Prepare fills in the carrier and amount when they were not set at data entry.
// Explicit values always win over the prefix table.
func (j *Job) Prepare() error {
	if j.Phone.Number == "" {
		return fmt.Errorf("%w: job %d has no phone number", ErrUnresolvedCarrier, j.ID)
	}

	if j.Provider == nil {
		c, err := ResolveCarrier(j.Phone.Number)
		if err != nil {
			return err
		}
		j.Provider = &c
	}

	if j.Amount == nil {
		amount, err := DefaultAmount(*j.Provider)
		if err != nil {
			return err
		}
		j.Amount = &amount
	}
	return nil
}

// AmountValue returns the resolved amount, or 0 before Prepare
func (j *Job) AmountValue() int {
	if j.Amount == nil {
		return 0
	}
	return *j.Amount
}

// ProviderValue returns the resolved carrier, or "" before Prepare
func (j *Job) ProviderValue() Carrier {
	if j.Provider == nil {
		return ""
	}
	return *j.Provider
}
