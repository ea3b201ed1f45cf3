package domain

// JobStatus represents the lifecycle state of a top-up job
type JobStatus string

const (
	StatusNew        JobStatus = "new"
	StatusProcessing JobStatus = "processing"
	StatusSuccess    JobStatus = "success"
	StatusFailure    JobStatus = "failure"
)

// IsTerminal reports whether no further transitions are allowed
func (s JobStatus) IsTerminal() bool {
	return s == StatusSuccess || s == StatusFailure
}

// Valid reports whether s is a known status
func (s JobStatus) Valid() bool {
	switch s {
	case StatusNew, StatusProcessing, StatusSuccess, StatusFailure:
		return true
	}
	return false
}

// CanTransition reports whether a job may move from one status to another.
// Status only moves forward: new -> processing -> {success, failure}.
func CanTransition(from, to JobStatus) bool {
	switch from {
	case StatusNew:
		return to == StatusProcessing
	case StatusProcessing:
		return to.IsTerminal()
	default:
		return false
	}
}

// Bank identifies the banking app a job is executed in
type Bank string

const (
	BankRaif Bank = "raif"
)

// DefaultBank is assigned to jobs created without an explicit bank
const DefaultBank = BankRaif

// Carrier is a mobile network operator
type Carrier string

const (
	CarrierKyivstar Carrier = "kyivstar"
	CarrierLifecell Carrier = "lifecell"
	CarrierVodafone Carrier = "vodafone"
)
