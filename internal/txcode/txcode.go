// Package txcode generates and parses the composite goal-transaction code
// that groups the per-fund legs of one goal movement.
//
// The code is "YYYY-MM-DD|accountNumber|goalNumber". Account and goal
// numbers may themselves contain hyphens, so the pipe is the only separator.
package txcode

import (
	"fmt"
	"strings"
	"time"
)

// DateLayout is the date portion of a goal-transaction code.
const DateLayout = "2006-01-02"

const separator = "|"

// Generate builds the code for a goal movement. All three parts are required.
func Generate(date time.Time, accountNumber, goalNumber string) (string, error) {
	if date.IsZero() {
		return "", fmt.Errorf("transaction date is required")
	}
	accountNumber = strings.TrimSpace(accountNumber)
	goalNumber = strings.TrimSpace(goalNumber)
	if accountNumber == "" {
		return "", fmt.Errorf("account number is required")
	}
	if goalNumber == "" {
		return "", fmt.Errorf("goal number is required")
	}
	if strings.Contains(accountNumber, separator) || strings.Contains(goalNumber, separator) {
		return "", fmt.Errorf("account and goal numbers must not contain %q", separator)
	}
	return date.Format(DateLayout) + separator + accountNumber + separator + goalNumber, nil
}

// Parse splits a code back into its parts. Parse is the inverse of Generate.
func Parse(code string) (date time.Time, accountNumber, goalNumber string, err error) {
	parts := strings.Split(code, separator)
	if len(parts) != 3 {
		return time.Time{}, "", "", fmt.Errorf("malformed goal transaction code %q: want 3 parts, got %d", code, len(parts))
	}
	date, err = time.Parse(DateLayout, parts[0])
	if err != nil {
		return time.Time{}, "", "", fmt.Errorf("malformed goal transaction code %q: %w", code, err)
	}
	if parts[1] == "" || parts[2] == "" {
		return time.Time{}, "", "", fmt.Errorf("malformed goal transaction code %q: empty account or goal number", code)
	}
	return date, parts[1], parts[2], nil
}

// Keyed is anything that carries a goal-transaction code.
type Keyed interface {
	GoalTransactionKey() string
}

// GroupByCode buckets rows by code, preserving input order within a bucket.
// The returned order slice lists codes in first-seen order so callers can
// iterate deterministically.
func GroupByCode[T Keyed](rows []T) (map[string][]T, []string) {
	groups := make(map[string][]T)
	var order []string
	for _, row := range rows {
		code := row.GoalTransactionKey()
		if _, seen := groups[code]; !seen {
			order = append(order, code)
		}
		groups[code] = append(groups[code], row)
	}
	return groups, order
}
