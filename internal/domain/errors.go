package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnresolvedCarrier is returned when a number matches no known prefix
	ErrUnresolvedCarrier = errors.New("unresolved carrier")
	// ErrNoScenarioForBank is returned when no scenario is registered for the job's bank
	ErrNoScenarioForBank = errors.New("no scenario for bank")
	// ErrTechnicalFailure is returned once the bank reported a technical problem too often
	ErrTechnicalFailure = errors.New("technical failure")
	// ErrTransport wraps device I/O failures and malformed device output
	ErrTransport = errors.New("device transport failure")
)

// PageLoadError reports that a required page could not be reached or confirmed.
// Dump holds the UI-tree XML captured when the scenario gave up, if the device answered.
type PageLoadError struct {
	Expected Page
	Dump     []byte
}

func (e *PageLoadError) Error() string {
	return fmt.Sprintf("page %s did not load", e.Expected)
}

// IsClassified reports whether err belongs to the known failure taxonomy
func IsClassified(err error) bool {
	var ple *PageLoadError
	return errors.As(err, &ple) ||
		errors.Is(err, ErrUnresolvedCarrier) ||
		errors.Is(err, ErrNoScenarioForBank) ||
		errors.Is(err, ErrTechnicalFailure)
}
