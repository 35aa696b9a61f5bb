// Package validate applies the field-level and group-level rules to parsed
// upload rows. Failed rules become typed model.RowError values; the
// pipeline decides what a critical error means for the batch.
package validate

import (
	"time"

	"github.com/shopspring/decimal"
)

// Error codes surfaced in batch summaries. Operators key runbooks off
// these, so they are stable strings.
const (
	CodeRequiredField     = "REQUIRED_FIELD"
	CodeInvalidFundCode   = "INVALID_FUND_CODE"
	CodeInvalidSource     = "INVALID_SOURCE"
	CodeInvalidType       = "INVALID_TRANSACTION_TYPE"
	CodeAmountOutOfRange  = "AMOUNT_OUT_OF_RANGE"
	CodeDateInFuture      = "DATE_IN_FUTURE"
	CodeDateTooOld        = "DATE_TOO_OLD"
	CodeUnitPriceMismatch = "UNIT_PRICE_MISMATCH"
	CodePriceOrdering     = "PRICE_ORDERING"
	CodeZeroAmount        = "ZERO_AMOUNT"

	CodeGroupSameClient        = "GOAL_TRANSACTION_SAME_CLIENT"
	CodeGroupSameAccount       = "GOAL_TRANSACTION_SAME_ACCOUNT"
	CodeGroupSameGoal          = "GOAL_TRANSACTION_SAME_GOAL"
	CodeGroupSameDate          = "GOAL_TRANSACTION_SAME_DATE"
	CodeGroupSameTransactionID = "GOAL_TRANSACTION_SAME_TRANSACTION_ID"
	CodeGroupSameSource        = "GOAL_TRANSACTION_SAME_SOURCE"
	CodeGroupMixedTypes        = "GOAL_TRANSACTION_MIXED_TYPES"
	CodeGroupLegCount          = "GOAL_TRANSACTION_LEG_COUNT"
	CodeGroupMissingFund       = "GOAL_TRANSACTION_MISSING_FUND"
	CodeGroupDistribution      = "GOAL_TRANSACTION_DISTRIBUTION_MISMATCH"

	CodeBankAmountSum  = "BANK_AMOUNT_SUM_MISMATCH"
	CodeBankPercentSum = "BANK_PERCENT_SUM_MISMATCH"
)

// Rules carries the tunable validation thresholds.
type Rules struct {
	AmountMin             decimal.Decimal
	AmountMax             decimal.Decimal
	MaxAgeYears           int
	UnitTolerance         decimal.Decimal // fraction of |amount|
	DistributionTolerance decimal.Decimal // fraction of 1
	BankSumTolerance      decimal.Decimal // absolute currency units
	PercentSumTolerance   decimal.Decimal // fraction of 1
}

// DefaultRules returns the production defaults.
func DefaultRules() Rules {
	return Rules{
		AmountMin:             decimal.NewFromInt(1000),
		AmountMax:             decimal.NewFromInt(1_000_000_000),
		MaxAgeYears:           10,
		UnitTolerance:         decimal.NewFromFloat(0.01),
		DistributionTolerance: decimal.NewFromFloat(0.01),
		BankSumTolerance:      decimal.NewFromInt(1),
		PercentSumTolerance:   decimal.NewFromFloat(0.01),
	}
}

// Validator applies Rules relative to a fixed "now", injected so boundary
// tests are deterministic.
type Validator struct {
	rules Rules
	now   time.Time
}

// New builds a Validator. A zero now means wall-clock time.
func New(rules Rules, now time.Time) *Validator {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return &Validator{rules: rules, now: now}
}
