package validation

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"github.com/kursadbilgin/certanchor/internal/domain"
)

const (
	MinIdentifierLength    = 6
	MaxIdentifierLength    = 50
	MaxHolderNameLength    = 100
	MaxDocumentLabelLength = 150
	MaxCustomFieldKey      = 50
	MaxCustomFieldValue    = 255
)

// Rule names, in the order DefaultRules runs them.
const (
	RuleRequiredFields      = "required_fields"
	RuleIdentifierFormat    = "identifier_format"
	RuleHolderNameFormat    = "holder_name_format"
	RuleDocumentLabelFormat = "document_label_format"
	RuleCustomFields        = "custom_fields"
	RuleDateFormat          = "date_format"
	RuleDateOrder           = "date_order"
	RuleDuplicateIdentifier = "duplicate_identifier"
	RuleExistingIdentifier  = "existing_identifier"
	RuleEmptyBatch          = "empty_batch"
)

var (
	identifierPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)
	datePattern       = regexp.MustCompile(`^(0[1-9]|1[0-2])/(0[1-9]|[12][0-9]|3[01])/[0-9]{4}$`)
)

// Rule is one structural check over a whole submission.
type Rule struct {
	Name  string
	Check func(records []domain.CandidateRecord) []Failure
}

// DefaultRules returns the structural rules in their fixed evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{Name: RuleRequiredFields, Check: checkRequiredFields},
		{Name: RuleIdentifierFormat, Check: checkIdentifierFormat},
		{Name: RuleHolderNameFormat, Check: checkHolderNameFormat},
		{Name: RuleDocumentLabelFormat, Check: checkDocumentLabelFormat},
		{Name: RuleCustomFields, Check: checkCustomFields},
		{Name: RuleDateFormat, Check: checkDateFormat},
		{Name: RuleDateOrder, Check: checkDateOrder},
		{Name: RuleDuplicateIdentifier, Check: checkDuplicateIdentifiers},
	}
}

// ParseDate parses an MM/DD/YYYY date. The no-expiration sentinel is not a date and is rejected here.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if !datePattern.MatchString(value) {
		return time.Time{}, fmt.Errorf("%w: date %q must match MM/DD/YYYY", domain.ErrValidation, value)
	}
	parsed, err := time.Parse(domain.DateLayout, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: date %q is not a calendar date", domain.ErrValidation, value)
	}
	return parsed, nil
}

func checkRequiredFields(records []domain.CandidateRecord) []Failure {
	var failures []Failure
	for _, r := range records {
		var missing []string
		if strings.TrimSpace(r.Identifier) == "" {
			missing = append(missing, "identifier")
		}
		if strings.TrimSpace(r.HolderName) == "" {
			missing = append(missing, "holderName")
		}
		if strings.TrimSpace(r.DocumentLabel) == "" {
			missing = append(missing, "documentLabel")
		}
		if len(missing) == 0 {
			continue
		}
		failures = append(failures, validationFailure(RuleRequiredFields, r.Row, missing,
			fmt.Sprintf("row %d: missing required fields %s", r.Row, strings.Join(missing, ", "))))
	}
	return failures
}

func checkIdentifierFormat(records []domain.CandidateRecord) []Failure {
	var failures []Failure
	for _, r := range records {
		id := strings.TrimSpace(r.Identifier)
		if id == "" {
			continue
		}
		length := utf8.RuneCountInString(id)
		switch {
		case length < MinIdentifierLength || length > MaxIdentifierLength:
			failures = append(failures, validationFailure(RuleIdentifierFormat, r.Row, []string{id},
				fmt.Sprintf("row %d: identifier %q must be %d-%d characters (got %d)",
					r.Row, id, MinIdentifierLength, MaxIdentifierLength, length)))
		case !identifierPattern.MatchString(id):
			failures = append(failures, validationFailure(RuleIdentifierFormat, r.Row, []string{id},
				fmt.Sprintf("row %d: identifier %q must not contain special characters", r.Row, id)))
		}
	}
	return failures
}

func checkHolderNameFormat(records []domain.CandidateRecord) []Failure {
	var failures []Failure
	for _, r := range records {
		name := strings.TrimSpace(r.HolderName)
		if name == "" {
			continue
		}
		if n := utf8.RuneCountInString(name); n > MaxHolderNameLength {
			failures = append(failures, validationFailure(RuleHolderNameFormat, r.Row, []string{name},
				fmt.Sprintf("row %d: holder name exceeds %d characters (got %d)", r.Row, MaxHolderNameLength, n)))
			continue
		}
		if !allRunes(name, isNameRune) {
			failures = append(failures, validationFailure(RuleHolderNameFormat, r.Row, []string{name},
				fmt.Sprintf("row %d: holder name %q contains invalid characters", r.Row, name)))
		}
	}
	return failures
}

func checkDocumentLabelFormat(records []domain.CandidateRecord) []Failure {
	var failures []Failure
	for _, r := range records {
		label := strings.TrimSpace(r.DocumentLabel)
		if label == "" {
			continue
		}
		if n := utf8.RuneCountInString(label); n > MaxDocumentLabelLength {
			failures = append(failures, validationFailure(RuleDocumentLabelFormat, r.Row, []string{label},
				fmt.Sprintf("row %d: document label exceeds %d characters (got %d)", r.Row, MaxDocumentLabelLength, n)))
			continue
		}
		if !allRunes(label, isLabelRune) {
			failures = append(failures, validationFailure(RuleDocumentLabelFormat, r.Row, []string{label},
				fmt.Sprintf("row %d: document label %q contains invalid characters", r.Row, label)))
		}
	}
	return failures
}

func checkCustomFields(records []domain.CandidateRecord) []Failure {
	var failures []Failure
	for _, r := range records {
		keys := make([]string, 0, len(r.CustomFields))
		for k := range r.CustomFields {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			v := r.CustomFields[k]
			key := strings.TrimSpace(k)
			switch {
			case key == "":
				failures = append(failures, validationFailure(RuleCustomFields, r.Row, []string{k},
					fmt.Sprintf("row %d: custom field name is empty", r.Row)))
			case utf8.RuneCountInString(key) > MaxCustomFieldKey:
				failures = append(failures, validationFailure(RuleCustomFields, r.Row, []string{k},
					fmt.Sprintf("row %d: custom field name %q exceeds %d characters", r.Row, key, MaxCustomFieldKey)))
			case utf8.RuneCountInString(v) > MaxCustomFieldValue:
				failures = append(failures, validationFailure(RuleCustomFields, r.Row, []string{k},
					fmt.Sprintf("row %d: custom field %q value exceeds %d characters", r.Row, key, MaxCustomFieldValue)))
			}
		}
	}
	return failures
}

func checkDateFormat(records []domain.CandidateRecord) []Failure {
	var failures []Failure
	for _, r := range records {
		if grant := strings.TrimSpace(r.GrantDate); grant != "" {
			if _, err := ParseDate(grant); err != nil {
				failures = append(failures, validationFailure(RuleDateFormat, r.Row, []string{grant},
					fmt.Sprintf("row %d: invalid grant date %q", r.Row, grant)))
			}
		}
		if exp := strings.TrimSpace(r.ExpirationDate); exp != "" && exp != domain.NoExpiration {
			if _, err := ParseDate(exp); err != nil {
				failures = append(failures, validationFailure(RuleDateFormat, r.Row, []string{exp},
					fmt.Sprintf("row %d: invalid expiration date %q", r.Row, exp)))
			}
		}
	}
	return failures
}

// checkDateOrder skips rows whose dates did not parse; checkDateFormat reports those.
func checkDateOrder(records []domain.CandidateRecord) []Failure {
	var failures []Failure
	for _, r := range records {
		grantRaw := strings.TrimSpace(r.GrantDate)
		expRaw := strings.TrimSpace(r.ExpirationDate)
		if grantRaw == "" || expRaw == "" || expRaw == domain.NoExpiration {
			continue
		}
		grant, err := ParseDate(grantRaw)
		if err != nil {
			continue
		}
		exp, err := ParseDate(expRaw)
		if err != nil {
			continue
		}
		if grant.After(exp) {
			failures = append(failures, validationFailure(RuleDateOrder, r.Row, []string{grantRaw, expRaw},
				fmt.Sprintf("row %d: grant date %s is after expiration date %s", r.Row, grantRaw, expRaw)))
		}
	}
	return failures
}

func checkDuplicateIdentifiers(records []domain.CandidateRecord) []Failure {
	rowsByID := make(map[string][]int, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		id := strings.TrimSpace(r.Identifier)
		if id == "" {
			continue
		}
		if _, seen := rowsByID[id]; !seen {
			order = append(order, id)
		}
		rowsByID[id] = append(rowsByID[id], r.Row)
	}

	var failures []Failure
	for _, id := range order {
		rows := rowsByID[id]
		if len(rows) < 2 {
			continue
		}
		failures = append(failures, Failure{
			Kind:    KindDuplicate,
			Rule:    RuleDuplicateIdentifier,
			Rows:    rows,
			Values:  []string{id},
			Message: fmt.Sprintf("identifier %q is repeated in rows %s", id, joinRows(rows)),
		})
	}
	return failures
}

func isNameRune(r rune) bool {
	return unicode.IsLetter(r) || r == ' ' || r == '.' || r == '\'' || r == '-'
}

func isLabelRune(r rune) bool {
	if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
		return true
	}
	return strings.ContainsRune(".,&()-/:'", r)
}

func allRunes(s string, ok func(rune) bool) bool {
	for _, r := range s {
		if !ok(r) {
			return false
		}
	}
	return true
}

func validationFailure(rule string, row int, values []string, message string) Failure {
	return Failure{
		Kind:    KindValidation,
		Rule:    rule,
		Rows:    []int{row},
		Values:  values,
		Message: message,
	}
}

func joinRows(rows []int) string {
	parts := make([]string, len(rows))
	for i, row := range rows {
		parts[i] = fmt.Sprintf("%d", row)
	}
	return strings.Join(parts, ", ")
}
