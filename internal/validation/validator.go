// Package validation checks batch submissions before any work is queued.
package validation

import (
	"context"
	"fmt"
	"strings"

	"github.com/kursadbilgin/certanchor/internal/domain"
)

// FailureKind separates rule violations from identifier collisions.
type FailureKind string

const (
	KindValidation FailureKind = "VALIDATION"
	KindDuplicate  FailureKind = "DUPLICATE"
)

// Failure is one itemized reason a submission was rejected.
type Failure struct {
	Kind    FailureKind `json:"kind"`
	Rule    string      `json:"rule"`
	Rows    []int       `json:"rows"`
	Values  []string    `json:"values,omitempty"`
	Message string      `json:"message"`
}

func (f Failure) Error() string {
	return f.Message
}

// Sentinel maps the failure kind onto the domain error taxonomy.
func (f Failure) Sentinel() error {
	if f.Kind == KindDuplicate {
		return domain.ErrDuplicate
	}
	return domain.ErrValidation
}

// Result is the verdict over a whole submission. The batch is accepted only when OK is true.
type Result struct {
	OK       bool
	Failures []Failure
}

// Err returns nil for an accepted batch, otherwise the first failure wrapped in its sentinel.
func (r Result) Err() error {
	if r.OK || len(r.Failures) == 0 {
		return nil
	}
	first := r.Failures[0]
	if len(r.Failures) == 1 {
		return fmt.Errorf("%w: %s", first.Sentinel(), first.Message)
	}
	return fmt.Errorf("%w: %s (and %d more)", first.Sentinel(), first.Message, len(r.Failures)-1)
}

// Messages flattens failures into caller-facing detail lines.
func (r Result) Messages() []string {
	out := make([]string, 0, len(r.Failures))
	for _, f := range r.Failures {
		out = append(out, f.Message)
	}
	return out
}

// ExistenceChecker reports which identifiers the durable store already holds.
type ExistenceChecker interface {
	ExistingIdentifiers(ctx context.Context, identifiers []string) (map[string]bool, error)
}

type Validator struct {
	rules []Rule
	store ExistenceChecker
}

// NewValidator builds a validator running rules in order. With no rules, DefaultRules is used.
// A nil store skips the existence check.
func NewValidator(store ExistenceChecker, rules ...Rule) *Validator {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Validator{rules: rules, store: store}
}

// Check runs the structural rules only. It never touches the store.
func (v *Validator) Check(records []domain.CandidateRecord) Result {
	if len(records) == 0 {
		return Result{Failures: []Failure{{
			Kind:    KindValidation,
			Rule:    RuleEmptyBatch,
			Message: "batch must include at least one record",
		}}}
	}

	records = numbered(records)
	var failures []Failure
	for _, rule := range v.rules {
		failures = append(failures, rule.Check(records)...)
	}
	return Result{OK: len(failures) == 0, Failures: failures}
}

// Validate runs the structural rules and, when they pass, checks the store for identifiers
// that already exist. The returned error is reserved for store failures.
func (v *Validator) Validate(ctx context.Context, records []domain.CandidateRecord) (Result, error) {
	records = numbered(records)
	result := v.Check(records)
	if !result.OK || v.store == nil {
		return result, nil
	}

	ids := make([]string, 0, len(records))
	for _, r := range records {
		ids = append(ids, strings.TrimSpace(r.Identifier))
	}

	existing, err := v.store.ExistingIdentifiers(ctx, ids)
	if err != nil {
		return Result{}, fmt.Errorf("failed to check existing identifiers: %w", err)
	}

	var failures []Failure
	for _, r := range records {
		id := strings.TrimSpace(r.Identifier)
		if !existing[id] {
			continue
		}
		failures = append(failures, ExistingIdentifierFailure(r.Row, id))
	}
	if len(failures) > 0 {
		return Result{Failures: failures}, nil
	}
	return Result{OK: true}, nil
}

// ExistingIdentifierFailure reports an identifier already held by the durable store.
func ExistingIdentifierFailure(row int, identifier string) Failure {
	return Failure{
		Kind:    KindDuplicate,
		Rule:    RuleExistingIdentifier,
		Rows:    []int{row},
		Values:  []string{identifier},
		Message: fmt.Sprintf("row %d: identifier %q already exists", row, identifier),
	}
}

func numbered(records []domain.CandidateRecord) []domain.CandidateRecord {
	for _, r := range records {
		if r.Row <= 0 {
			out := make([]domain.CandidateRecord, len(records))
			copy(out, records)
			domain.NumberRows(out)
			return out
		}
	}
	return records
}
