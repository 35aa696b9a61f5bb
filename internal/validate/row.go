package validate

import (
	"fmt"
	"strings"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/ingest"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

// ValidateFundRow applies the field rules to one parsed fund-feed row and
// returns every failed rule. Parse errors from the ingest stage are included
// first so callers see one combined list per row.
func (v *Validator) ValidateFundRow(row *ingest.FundRow) []model.RowError {
	errs := append([]model.RowError(nil), row.ParseErrors...)
	add := func(field, code string, severity model.ErrSeverity, msg, action, value string) {
		errs = append(errs, model.RowError{
			RowNumber:       row.RowNumber,
			Field:           field,
			Code:            code,
			Severity:        severity,
			Message:         msg,
			SuggestedAction: action,
			Value:           value,
		})
	}

	required := []struct {
		field string
		value string
	}{
		{"clientName", row.ClientName},
		{"fundCode", row.FundCode},
		{"transactionType", row.Type},
		{"goalTitle", row.GoalTitle},
		{"goalNumber", row.GoalNumber},
		{"accountNumber", row.AccountNumber},
		{"accountType", row.AccountType},
		{"accountCategory", row.AccountCategory},
		{"transactionId", row.TransactionID},
		{"source", row.Source},
	}
	for _, r := range required {
		if r.value == "" {
			add(r.field, CodeRequiredField, model.SeverityCritical,
				fmt.Sprintf("%s is required", r.field), "supply a value in the source system export", "")
		}
	}
	// Numeric columns are required too; empty cells never reach the bounds
	// and identity checks below, so they are caught here.
	for _, field := range []string{"amount", "units", "bidPrice", "midPrice", "offerPrice"} {
		if row.Raw[field] == "" {
			add(field, CodeRequiredField, model.SeverityCritical,
				fmt.Sprintf("%s is required", field), "supply a value in the source system export", "")
		}
	}
	if row.TransactionDate.IsZero() && !hasParseError(row.ParseErrors, "transactionDate") {
		add("transactionDate", CodeRequiredField, model.SeverityCritical,
			"transactionDate is required", "supply a value in the source system export", "")
	}
	if row.DateCreated.IsZero() && !hasParseError(row.ParseErrors, "dateCreated") {
		add("dateCreated", CodeRequiredField, model.SeverityCritical,
			"dateCreated is required", "supply a value in the source system export", "")
	}

	if row.FundCode != "" && !model.IsValidFundCode(row.FundCode) {
		add("fundCode", CodeInvalidFundCode, model.SeverityCritical,
			fmt.Sprintf("unknown fund code %q", row.FundCode),
			"use one of XUMMF, XUBF, XUDEF, XUREF", row.FundCode)
	}
	if row.Source != "" && !model.IsValidSource(row.Source) {
		add("source", CodeInvalidSource, model.SeverityCritical,
			fmt.Sprintf("unknown source channel %q", row.Source),
			"use an enumerated channel", row.Source)
	}
	txType, typeOK := normalizeType(row.Type)
	if row.Type != "" && !typeOK {
		add("transactionType", CodeInvalidType, model.SeverityCritical,
			fmt.Sprintf("unknown transaction type %q", row.Type),
			"use deposit, withdrawal or redemption", row.Type)
	}

	if !hasParseError(row.ParseErrors, "amount") && row.Raw["amount"] != "" {
		abs := row.Amount.Abs()
		if abs.LessThan(v.rules.AmountMin) || abs.GreaterThan(v.rules.AmountMax) {
			add("amount", CodeAmountOutOfRange, model.SeverityCritical,
				fmt.Sprintf("amount %s is outside [%s, %s]", row.Amount, v.rules.AmountMin, v.rules.AmountMax),
				"confirm the amount with the source system", row.Amount.String())
		}
		if row.Amount.IsZero() {
			add("amount", CodeZeroAmount, model.SeverityWarning, "amount is zero", "", "0")
		}
	}

	if !row.TransactionDate.IsZero() {
		if row.TransactionDate.After(v.now) {
			add("transactionDate", CodeDateInFuture, model.SeverityCritical,
				fmt.Sprintf("transaction date %s is in the future", row.TransactionDate.Format("2006-01-02")),
				"correct the export date", row.TransactionDate.Format("2006-01-02"))
		}
		oldest := v.now.AddDate(-v.rules.MaxAgeYears, 0, 0)
		if row.TransactionDate.Before(oldest) {
			add("transactionDate", CodeDateTooOld, model.SeverityCritical,
				fmt.Sprintf("transaction date %s is older than %d years", row.TransactionDate.Format("2006-01-02"), v.rules.MaxAgeYears),
				"", row.TransactionDate.Format("2006-01-02"))
		}
	}

	// Price ordering: bid <= mid <= offer.
	if pricesPresent(row) {
		if row.Bid.GreaterThan(row.Mid) || row.Mid.GreaterThan(row.Offer) {
			add("bidPrice", CodePriceOrdering, model.SeverityCritical,
				fmt.Sprintf("price ordering violated: bid %s, mid %s, offer %s", row.Bid, row.Mid, row.Offer),
				"re-export the daily prices", "")
		}
	}

	// Unit-trust identity on deposits: units * offer ~= amount.
	if typeOK && txType == model.TypeDeposit && pricesPresent(row) &&
		!row.Amount.IsZero() && !hasParseError(row.ParseErrors, "units") {
		implied := row.Units.Mul(row.Offer)
		tolerance := row.Amount.Abs().Mul(v.rules.UnitTolerance)
		if implied.Sub(row.Amount).Abs().GreaterThan(tolerance) {
			add("units", CodeUnitPriceMismatch, model.SeverityCritical,
				fmt.Sprintf("units x offer = %s differs from amount %s by more than %s", implied, row.Amount, tolerance),
				"check the unit count against the offer price", row.Units.String())
		}
	}

	return errs
}

func pricesPresent(row *ingest.FundRow) bool {
	return row.Raw["bidPrice"] != "" && row.Raw["midPrice"] != "" && row.Raw["offerPrice"] != "" &&
		!hasParseError(row.ParseErrors, "bidPrice") &&
		!hasParseError(row.ParseErrors, "midPrice") &&
		!hasParseError(row.ParseErrors, "offerPrice")
}

func hasParseError(errs []model.RowError, field string) bool {
	for _, e := range errs {
		if e.Field == field {
			return true
		}
	}
	return false
}

// normalizeType maps the feed's free-case transaction type onto the enum.
func normalizeType(raw string) (model.TransactionType, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "deposit":
		return model.TypeDeposit, true
	case "withdrawal":
		return model.TypeWithdrawal, true
	case "redemption":
		return model.TypeRedemption, true
	}
	return "", false
}

// NormalizeType exposes the transaction-type mapping to the pipelines.
func NormalizeType(raw string) (model.TransactionType, bool) { return normalizeType(raw) }

// HasCritical reports whether any error in errs is critical.
func HasCritical(errs []model.RowError) bool {
	for _, e := range errs {
		if e.Severity == model.SeverityCritical {
			return true
		}
	}
	return false
}

// Split partitions errs into criticals and warnings (info counts as
// warning for surfacing purposes).
func Split(errs []model.RowError) (criticals, warnings []model.RowError) {
	for _, e := range errs {
		if e.Severity == model.SeverityCritical {
			criticals = append(criticals, e)
		} else {
			warnings = append(warnings, e)
		}
	}
	return criticals, warnings
}
