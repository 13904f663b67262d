package validation

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/kursadbilgin/certanchor/internal/domain"
)

type fakeExistenceChecker struct {
	existingFn func(ctx context.Context, ids []string) (map[string]bool, error)
	calls      int
}

func (f *fakeExistenceChecker) ExistingIdentifiers(ctx context.Context, ids []string) (map[string]bool, error) {
	f.calls++
	if f.existingFn != nil {
		return f.existingFn(ctx, ids)
	}
	return map[string]bool{}, nil
}

func validRecord(row int, id string) domain.CandidateRecord {
	return domain.CandidateRecord{
		Row:            row,
		Identifier:     id,
		HolderName:     "Ada Lovelace",
		DocumentLabel:  "Applied Blockchain Fundamentals",
		GrantDate:      "01/15/2024",
		ExpirationDate: "01/15/2026",
	}
}

func TestValidatorAcceptsValidBatch(t *testing.T) {
	t.Parallel()

	store := &fakeExistenceChecker{}
	v := NewValidator(store)

	result, err := v.Validate(context.Background(), []domain.CandidateRecord{
		validRecord(1, "CERT000001"),
		validRecord(2, "CERT000002"),
	})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if !result.OK {
		t.Fatalf("Validate() failures = %+v, want none", result.Failures)
	}
	if result.Err() != nil {
		t.Fatalf("Result.Err() = %v, want nil", result.Err())
	}
	if store.calls != 1 {
		t.Fatalf("store calls = %d, want 1", store.calls)
	}
}

func TestValidatorRuleViolations(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		mutate   func(r *domain.CandidateRecord)
		wantRule string
	}{
		{
			name:     "missing holder name",
			mutate:   func(r *domain.CandidateRecord) { r.HolderName = "  " },
			wantRule: RuleRequiredFields,
		},
		{
			name:     "identifier too short",
			mutate:   func(r *domain.CandidateRecord) { r.Identifier = "AB12" },
			wantRule: RuleIdentifierFormat,
		},
		{
			name:     "identifier too long",
			mutate:   func(r *domain.CandidateRecord) { r.Identifier = strings.Repeat("A", MaxIdentifierLength+1) },
			wantRule: RuleIdentifierFormat,
		},
		{
			name:     "identifier special characters",
			mutate:   func(r *domain.CandidateRecord) { r.Identifier = "CERT-0001" },
			wantRule: RuleIdentifierFormat,
		},
		{
			name:     "holder name digits",
			mutate:   func(r *domain.CandidateRecord) { r.HolderName = "R2D2" },
			wantRule: RuleHolderNameFormat,
		},
		{
			name:     "document label too long",
			mutate:   func(r *domain.CandidateRecord) { r.DocumentLabel = strings.Repeat("a", MaxDocumentLabelLength+1) },
			wantRule: RuleDocumentLabelFormat,
		},
		{
			name:     "document label invalid character",
			mutate:   func(r *domain.CandidateRecord) { r.DocumentLabel = "Course <script>" },
			wantRule: RuleDocumentLabelFormat,
		},
		{
			name:     "custom field empty key",
			mutate:   func(r *domain.CandidateRecord) { r.CustomFields = map[string]string{" ": "x"} },
			wantRule: RuleCustomFields,
		},
		{
			name:     "grant date wrong shape",
			mutate:   func(r *domain.CandidateRecord) { r.GrantDate = "2024-01-15" },
			wantRule: RuleDateFormat,
		},
		{
			name:     "february 30 in non-leap year",
			mutate:   func(r *domain.CandidateRecord) { r.ExpirationDate = "02/30/2025" },
			wantRule: RuleDateFormat,
		},
		{
			name: "grant after expiration",
			mutate: func(r *domain.CandidateRecord) {
				r.GrantDate = "12/25/2024"
				r.ExpirationDate = "01/01/2024"
			},
			wantRule: RuleDateOrder,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			bad := validRecord(2, "CERT000002")
			tt.mutate(&bad)

			store := &fakeExistenceChecker{}
			v := NewValidator(store)
			result, err := v.Validate(context.Background(), []domain.CandidateRecord{
				validRecord(1, "CERT000001"),
				bad,
			})
			if err != nil {
				t.Fatalf("Validate() error = %v", err)
			}
			if result.OK {
				t.Fatal("Validate() should reject the batch")
			}
			if len(result.Failures) != 1 {
				t.Fatalf("failures = %+v, want exactly 1", result.Failures)
			}
			got := result.Failures[0]
			if got.Rule != tt.wantRule {
				t.Fatalf("rule = %s, want %s", got.Rule, tt.wantRule)
			}
			if !reflect.DeepEqual(got.Rows, []int{2}) {
				t.Fatalf("rows = %v, want [2]", got.Rows)
			}
			if !errors.Is(result.Err(), domain.ErrValidation) {
				t.Fatalf("Result.Err() = %v, want ErrValidation", result.Err())
			}
			if store.calls != 0 {
				t.Fatal("store should not be consulted when structural rules fail")
			}
		})
	}
}

func TestValidatorDateOrderScenario(t *testing.T) {
	t.Parallel()

	record := validRecord(4, "CERT000004")
	record.GrantDate = "12/25/2024"
	record.ExpirationDate = "01/01/2024"

	result := NewValidator(nil).Check([]domain.CandidateRecord{record})
	if result.OK {
		t.Fatal("grant date after expiration date should be rejected")
	}
	if !strings.Contains(result.Failures[0].Message, "row 4") {
		t.Fatalf("message = %q, want it to cite row 4", result.Failures[0].Message)
	}
}

func TestValidatorNoExpirationSentinel(t *testing.T) {
	t.Parallel()

	record := validRecord(1, "CERT000001")
	record.ExpirationDate = domain.NoExpiration

	result := NewValidator(nil).Check([]domain.CandidateRecord{record})
	if !result.OK {
		t.Fatalf("sentinel expiration should be accepted, failures = %+v", result.Failures)
	}
}

func TestValidatorLeapDay(t *testing.T) {
	t.Parallel()

	record := validRecord(1, "CERT000001")
	record.GrantDate = "02/29/2024"

	result := NewValidator(nil).Check([]domain.CandidateRecord{record})
	if !result.OK {
		t.Fatalf("leap day should be accepted, failures = %+v", result.Failures)
	}
}

func TestValidatorDuplicateIdentifiersNameAllRows(t *testing.T) {
	t.Parallel()

	records := []domain.CandidateRecord{
		validRecord(1, "CERT000001"),
		validRecord(2, "CERT000002"),
		validRecord(3, "CERT000001"),
		validRecord(4, "cert000001"),
	}

	result := NewValidator(nil).Check(records)
	if result.OK {
		t.Fatal("duplicate identifiers should be rejected")
	}
	if len(result.Failures) != 1 {
		t.Fatalf("failures = %+v, want 1 (identifiers are case-sensitive)", result.Failures)
	}

	got := result.Failures[0]
	if got.Kind != KindDuplicate {
		t.Fatalf("kind = %s, want %s", got.Kind, KindDuplicate)
	}
	if !reflect.DeepEqual(got.Rows, []int{1, 3}) {
		t.Fatalf("rows = %v, want [1 3]", got.Rows)
	}
	if !errors.Is(result.Err(), domain.ErrDuplicate) {
		t.Fatalf("Result.Err() = %v, want ErrDuplicate", result.Err())
	}
}

func TestValidatorDuplicateAcrossChunkBoundaries(t *testing.T) {
	t.Parallel()

	records := make([]domain.CandidateRecord, 0, 120)
	for i := 1; i <= 120; i++ {
		records = append(records, validRecord(i, fmt.Sprintf("CERT%06d", i)))
	}
	// Rows 10 and 110 would land in different chunks of 50.
	records[109].Identifier = records[9].Identifier

	result := NewValidator(nil).Check(records)
	if result.OK {
		t.Fatal("duplicate across chunk boundary should be rejected")
	}
	if !reflect.DeepEqual(result.Failures[0].Rows, []int{10, 110}) {
		t.Fatalf("rows = %v, want [10 110]", result.Failures[0].Rows)
	}
}

func TestValidatorExistingIdentifiers(t *testing.T) {
	t.Parallel()

	store := &fakeExistenceChecker{
		existingFn: func(ctx context.Context, ids []string) (map[string]bool, error) {
			return map[string]bool{"CERT000002": true}, nil
		},
	}

	result, err := NewValidator(store).Validate(context.Background(), []domain.CandidateRecord{
		validRecord(1, "CERT000001"),
		validRecord(2, "CERT000002"),
	})
	if err != nil {
		t.Fatalf("Validate() error = %v", err)
	}
	if result.OK {
		t.Fatal("existing identifier should be rejected")
	}
	got := result.Failures[0]
	if got.Rule != RuleExistingIdentifier || got.Kind != KindDuplicate {
		t.Fatalf("failure = %+v, want existing identifier duplicate", got)
	}
}

func TestValidatorStoreError(t *testing.T) {
	t.Parallel()

	store := &fakeExistenceChecker{
		existingFn: func(ctx context.Context, ids []string) (map[string]bool, error) {
			return nil, errors.New("connection reset")
		},
	}

	_, err := NewValidator(store).Validate(context.Background(), []domain.CandidateRecord{validRecord(1, "CERT000001")})
	if err == nil {
		t.Fatal("Validate() expected store error")
	}
}

func TestValidatorEmptyBatch(t *testing.T) {
	t.Parallel()

	result := NewValidator(nil).Check(nil)
	if result.OK {
		t.Fatal("empty batch should be rejected")
	}
	if result.Failures[0].Rule != RuleEmptyBatch {
		t.Fatalf("rule = %s, want %s", result.Failures[0].Rule, RuleEmptyBatch)
	}
}

func TestValidatorReportsInRuleOrder(t *testing.T) {
	t.Parallel()

	badDate := validRecord(1, "CERT000001")
	badDate.GrantDate = "13/01/2024"
	badID := validRecord(2, "CERT#002")

	result := NewValidator(nil).Check([]domain.CandidateRecord{badDate, badID})
	if len(result.Failures) != 2 {
		t.Fatalf("failures = %+v, want 2", result.Failures)
	}
	if result.Failures[0].Rule != RuleIdentifierFormat || result.Failures[1].Rule != RuleDateFormat {
		t.Fatalf("rules = [%s %s], want identifier before date", result.Failures[0].Rule, result.Failures[1].Rule)
	}
}

func TestValidatorAssignsMissingRows(t *testing.T) {
	t.Parallel()

	a := validRecord(0, "CERT000001")
	b := validRecord(0, "CERT000001")

	result := NewValidator(nil).Check([]domain.CandidateRecord{a, b})
	if !reflect.DeepEqual(result.Failures[0].Rows, []int{1, 2}) {
		t.Fatalf("rows = %v, want [1 2]", result.Failures[0].Rows)
	}
}
