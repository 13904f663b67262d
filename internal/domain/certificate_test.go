package domain

import (
	"errors"
	"testing"
)

func TestParseStatusFromString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		input   string
		want    Status
		wantErr bool
	}{
		{name: "valid uppercase", input: "REVOKED", want: StatusRevoked},
		{name: "valid lowercase with spaces", input: " reactivated ", want: StatusReactivated},
		{name: "numeric code", input: "2", want: StatusRenewed},
		{name: "numeric out of range", input: "7", wantErr: true},
		{name: "invalid", input: "unknown", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			got, err := ParseStatusFromString(tt.input)
			if tt.wantErr {
				if !errors.Is(err, ErrValidation) {
					t.Fatalf("ParseStatusFromString() error = %v, want ErrValidation", err)
				}
				return
			}

			if err != nil {
				t.Fatalf("ParseStatusFromString() unexpected error = %v", err)
			}
			if got != tt.want {
				t.Fatalf("ParseStatusFromString() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestCanTransition(t *testing.T) {
	t.Parallel()

	tests := []struct {
		from Status
		to   Status
		want bool
	}{
		{from: StatusIssued, to: StatusRevoked, want: true},
		{from: StatusIssued, to: StatusRenewed, want: true},
		{from: StatusIssued, to: StatusReactivated, want: false},
		{from: StatusRevoked, to: StatusReactivated, want: true},
		{from: StatusRevoked, to: StatusRenewed, want: false},
		{from: StatusRevoked, to: StatusRevoked, want: false},
		{from: StatusReactivated, to: StatusRevoked, want: true},
		{from: StatusRenewed, to: StatusRenewed, want: true},
	}

	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Fatalf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStatusIsActive(t *testing.T) {
	t.Parallel()

	if StatusRevoked.IsActive() {
		t.Fatal("revoked status should not be active")
	}
	if !StatusReactivated.IsActive() {
		t.Fatal("reactivated status should be active")
	}
	if Status(0).IsActive() {
		t.Fatal("zero status should not be active")
	}
}

func TestOutcomeString(t *testing.T) {
	t.Parallel()

	if got := OutcomeExpired.String(); got != "EXPIRED" {
		t.Fatalf("OutcomeExpired.String() = %s, want EXPIRED", got)
	}
	if Outcome(9).IsValid() {
		t.Fatal("outcome 9 should be invalid")
	}
}

func TestNumberRows(t *testing.T) {
	t.Parallel()

	records := []CandidateRecord{{}, {Row: 7}, {}}
	NumberRows(records)

	want := []int{1, 7, 3}
	for i, r := range records {
		if r.Row != want[i] {
			t.Fatalf("records[%d].Row = %d, want %d", i, r.Row, want[i])
		}
	}
}
