package domain

import (
	"errors"
	"testing"
)

func TestResolveCarrier(t *testing.T) {
	tests := []struct {
		number  string
		want    Carrier
		wantErr bool
	}{
		{"+380671234567", CarrierKyivstar, false},
		{"380981234567", CarrierKyivstar, false},
		{"+380631234567", CarrierLifecell, false},
		{"+380731234567", CarrierLifecell, false},
		{"+380501234567", CarrierVodafone, false},
		{"+380991234567", CarrierVodafone, false},
		{"+380111234567", "", true},
		{"", "", true},
		{"+", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.number, func(t *testing.T) {
			got, err := ResolveCarrier(tt.number)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ResolveCarrier(%q) error = %v, wantErr %v", tt.number, err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrUnresolvedCarrier) {
				t.Errorf("error = %v, want ErrUnresolvedCarrier", err)
			}
			if got != tt.want {
				t.Errorf("ResolveCarrier(%q) = %q, want %q", tt.number, got, tt.want)
			}
		})
	}
}

func TestJob_Prepare(t *testing.T) {
	tests := []struct {
		number      string
		wantCarrier Carrier
		wantAmount  int
	}{
		{"+380671234567", CarrierKyivstar, 1},
		{"+380631234567", CarrierLifecell, 10},
		{"+380501234567", CarrierVodafone, 5},
	}

	for _, tt := range tests {
		job := &Job{ID: 1, Phone: PhoneNumber{Number: tt.number}}
		if err := job.Prepare(); err != nil {
			t.Fatalf("Prepare(%q): %v", tt.number, err)
		}
		if job.ProviderValue() != tt.wantCarrier {
			t.Errorf("Provider = %q, want %q", job.ProviderValue(), tt.wantCarrier)
		}
		if job.AmountValue() != tt.wantAmount {
			t.Errorf("Amount = %d, want %d", job.AmountValue(), tt.wantAmount)
		}
	}
}

func TestJob_PrepareKeepsExplicitValues(t *testing.T) {
	carrier := CarrierVodafone
	amount := 42
	job := &Job{Phone: PhoneNumber{Number: "+380671234567"}, Provider: &carrier, Amount: &amount}

	if err := job.Prepare(); err != nil {
		t.Fatal(err)
	}
	if job.ProviderValue() != CarrierVodafone {
		t.Errorf("Provider = %q, want vodafone", job.ProviderValue())
	}
	if job.AmountValue() != 42 {
		t.Errorf("Amount = %d, want 42", job.AmountValue())
	}
}

func TestJob_PrepareUnresolved(t *testing.T) {
	job := &Job{Phone: PhoneNumber{Number: "+380111234567"}}
	err := job.Prepare()
	if !errors.Is(err, ErrUnresolvedCarrier) {
		t.Fatalf("Prepare error = %v, want ErrUnresolvedCarrier", err)
	}
	if job.Provider != nil || job.Amount != nil {
		t.Error("unresolved job should stay unfilled")
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		want     bool
	}{
		{StatusNew, StatusProcessing, true},
		{StatusNew, StatusSuccess, false},
		{StatusProcessing, StatusSuccess, true},
		{StatusProcessing, StatusFailure, true},
		{StatusProcessing, StatusNew, false},
		{StatusSuccess, StatusNew, false},
		{StatusFailure, StatusProcessing, false},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestPage_String(t *testing.T) {
	if got := PageAmountSelection.String(); got != "AmountSelection" {
		t.Errorf("String() = %q, want AmountSelection", got)
	}
	if got := Page(99).String(); got != "Invalid" {
		t.Errorf("String() = %q, want Invalid", got)
	}
}

func TestIsClassified(t *testing.T) {
	if !IsClassified(&PageLoadError{Expected: PageMain}) {
		t.Error("PageLoadError should be classified")
	}
	if !IsClassified(ErrTechnicalFailure) {
		t.Error("ErrTechnicalFailure should be classified")
	}
	if IsClassified(errors.New("boom")) {
		t.Error("plain error should not be classified")
	}
}
