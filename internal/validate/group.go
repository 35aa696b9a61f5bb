package validate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/ingest"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

// expectedLegs is the number of per-fund legs a complete goal transaction
// carries. Fewer legs is a warning, not an error.
const expectedLegs = 4

// ValidateGroup enforces the per-goal-transaction invariants on the rows
// sharing one code. storedDistribution is the goal's fund distribution when
// the goal already exists, nil otherwise; when present, the per-fund amount
// shares are checked against it within the configured tolerance.
func (v *Validator) ValidateGroup(code string, rows []*ingest.FundRow, storedDistribution map[model.FundCode]decimal.Decimal) []model.RowError {
	if len(rows) == 0 {
		return nil
	}
	first := rows[0]
	var errs []model.RowError
	add := func(rowNumber int, field, errCode string, severity model.ErrSeverity, msg, value string) {
		errs = append(errs, model.RowError{
			RowNumber: rowNumber,
			Field:     field,
			Code:      errCode,
			Severity:  severity,
			Message:   msg,
			Value:     value,
		})
	}

	// Consistency: every leg of a goal transaction must agree on the
	// identifying attributes.
	type check struct {
		field string
		code  string
		get   func(*ingest.FundRow) string
	}
	checks := []check{
		{"clientName", CodeGroupSameClient, func(r *ingest.FundRow) string { return r.ClientName }},
		{"accountNumber", CodeGroupSameAccount, func(r *ingest.FundRow) string { return r.AccountNumber }},
		{"goalNumber", CodeGroupSameGoal, func(r *ingest.FundRow) string { return r.GoalNumber }},
		{"transactionDate", CodeGroupSameDate, func(r *ingest.FundRow) string { return r.TransactionDate.Format("2006-01-02") }},
		{"transactionId", CodeGroupSameTransactionID, func(r *ingest.FundRow) string { return r.TransactionID }},
		{"source", CodeGroupSameSource, func(r *ingest.FundRow) string { return r.Source }},
	}
	for _, c := range checks {
		want := c.get(first)
		for _, row := range rows[1:] {
			if got := c.get(row); got != want {
				add(row.RowNumber, c.field, c.code, model.SeverityCritical,
					fmt.Sprintf("goal transaction %s has conflicting %s values (%q vs %q)", code, c.field, want, got), got)
				break
			}
		}
	}

	// Mixed deposit/withdrawal legs within one goal transaction.
	firstType, _ := normalizeType(first.Type)
	for _, row := range rows[1:] {
		t, _ := normalizeType(row.Type)
		if t != firstType {
			add(row.RowNumber, "transactionType", CodeGroupMixedTypes, model.SeverityCritical,
				fmt.Sprintf("goal transaction %s mixes transaction types (%q vs %q)", code, first.Type, row.Type), row.Type)
			break
		}
	}

	// Completeness warnings.
	if len(rows) != expectedLegs {
		add(first.RowNumber, "", CodeGroupLegCount, model.SeverityWarning,
			fmt.Sprintf("goal transaction %s has %d legs, expected %d", code, len(rows), expectedLegs), "")
	}
	seen := map[model.FundCode]bool{}
	total := decimal.Zero
	perFund := map[model.FundCode]decimal.Decimal{}
	for _, row := range rows {
		fc := model.FundCode(row.FundCode)
		seen[fc] = true
		total = total.Add(row.Amount)
		perFund[fc] = perFund[fc].Add(row.Amount)
		if row.Amount.IsZero() {
			add(row.RowNumber, "amount", CodeZeroAmount, model.SeverityWarning,
				fmt.Sprintf("goal transaction %s has a zero-amount leg for %s", code, row.FundCode), "0")
		}
	}
	for _, fc := range model.AllFundCodes {
		if !seen[fc] {
			add(first.RowNumber, "fundCode", CodeGroupMissingFund, model.SeverityWarning,
				fmt.Sprintf("goal transaction %s has no %s leg", code, fc), string(fc))
		}
	}

	// Optional distribution check against the goal's stored distribution.
	// Skipped on zero totals; a fund missing from the group counts as zero.
	if storedDistribution != nil && !total.IsZero() {
		for _, fc := range model.AllFundCodes {
			want := storedDistribution[fc]
			got := perFund[fc].Div(total)
			if got.Sub(want).Abs().GreaterThan(v.rules.DistributionTolerance) {
				add(first.RowNumber, "amount", CodeGroupDistribution, model.SeverityWarning,
					fmt.Sprintf("goal transaction %s allocates %s to %s, stored distribution says %s",
						code, got.Round(4), fc, want.Round(4)), got.Round(4).String())
			}
		}
	}

	return errs
}
