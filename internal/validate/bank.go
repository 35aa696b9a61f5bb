package validate

import (
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/ingest"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

// ValidateBankRow applies the field rules to one parsed bank-statement row.
func (v *Validator) ValidateBankRow(row *ingest.BankRow) []model.RowError {
	errs := append([]model.RowError(nil), row.ParseErrors...)
	add := func(field, code string, severity model.ErrSeverity, msg, value string) {
		errs = append(errs, model.RowError{
			RowNumber: row.RowNumber,
			Field:     field,
			Code:      code,
			Severity:  severity,
			Message:   msg,
			Value:     value,
		})
	}

	required := []struct {
		field string
		value string
	}{
		{"accountNumber", row.AccountNumber},
		{"goalNumber", row.GoalNumber},
		{"transactionType", row.Type},
		{"transactionId", row.TransactionID},
	}
	for _, r := range required {
		if r.value == "" {
			add(r.field, CodeRequiredField, model.SeverityCritical,
				fmt.Sprintf("%s is required", r.field), "")
		}
	}
	if row.Date.IsZero() && !hasParseError(row.ParseErrors, "date") {
		add("date", CodeRequiredField, model.SeverityCritical, "date is required", "")
	}

	txType, typeOK := normalizeType(row.Type)
	if row.Type != "" && (!typeOK || txType == model.TypeRedemption) {
		add("transactionType", CodeInvalidType, model.SeverityCritical,
			fmt.Sprintf("bank statement rows must be deposit or withdrawal, got %q", row.Type), row.Type)
	}

	if !row.Date.IsZero() {
		if row.Date.After(v.now) {
			add("date", CodeDateInFuture, model.SeverityCritical,
				fmt.Sprintf("statement date %s is in the future", row.Date.Format("2006-01-02")),
				row.Date.Format("2006-01-02"))
		}
		if row.Date.Before(v.now.AddDate(-v.rules.MaxAgeYears, 0, 0)) {
			add("date", CodeDateTooOld, model.SeverityCritical,
				fmt.Sprintf("statement date %s is older than %d years", row.Date.Format("2006-01-02"), v.rules.MaxAgeYears),
				row.Date.Format("2006-01-02"))
		}
	}

	if !hasParseError(row.ParseErrors, "totalAmount") && row.Raw["totalAmount"] != "" {
		abs := row.TotalAmount.Abs()
		if abs.LessThan(v.rules.AmountMin) || abs.GreaterThan(v.rules.AmountMax) {
			add("totalAmount", CodeAmountOutOfRange, model.SeverityCritical,
				fmt.Sprintf("total amount %s is outside [%s, %s]", row.TotalAmount, v.rules.AmountMin, v.rules.AmountMax),
				row.TotalAmount.String())
		}
	}

	// Sum-to-total invariant: the four declared per-fund amounts must add
	// up to the declared total within one currency unit.
	sum := decimal.Zero
	for _, fc := range model.AllFundCodes {
		sum = sum.Add(row.Amounts[fc])
	}
	if !row.TotalAmount.IsZero() || !sum.IsZero() {
		if sum.Sub(row.TotalAmount).Abs().GreaterThan(v.rules.BankSumTolerance) {
			add("totalAmount", CodeBankAmountSum, model.SeverityCritical,
				fmt.Sprintf("per-fund amounts sum to %s but total is %s", sum, row.TotalAmount), sum.String())
		}
	}

	// Percentages must sum to 1 when any are declared.
	pctSum := decimal.Zero
	anyPct := false
	for _, fc := range model.AllFundCodes {
		p := row.Percentages[fc]
		pctSum = pctSum.Add(p)
		if !p.IsZero() {
			anyPct = true
		}
	}
	if anyPct {
		one := decimal.NewFromInt(1)
		if pctSum.Sub(one).Abs().GreaterThan(v.rules.PercentSumTolerance) {
			add("percentages", CodeBankPercentSum, model.SeverityCritical,
				fmt.Sprintf("per-fund percentages sum to %s, expected 1.00", pctSum.Round(4)), pctSum.Round(4).String())
		}
	}

	return errs
}
