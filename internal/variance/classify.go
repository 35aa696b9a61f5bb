// Package variance turns a matching plan into reconciliation variance
// records: it grades amount, date, and per-fund discrepancies on matched
// pairs, raises missing-counterpart records for the unmatched remainder,
// and applies the auto-approval rule.
package variance

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/match"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

// Config carries the classification thresholds.
type Config struct {
	LowBelow          decimal.Decimal // severity low when |Δ| < this
	MediumBelow       decimal.Decimal
	HighBelow         decimal.Decimal
	DateToleranceDays int             // date_mismatch beyond this many days
	FundTolerancePct  decimal.Decimal // per-fund fractional tolerance

	// EmitMissingInBank raises a record per unmatched fund-side
	// transaction. Off by default: fund transactions carry no
	// reconciliation state, so repeated matching runs would duplicate
	// these records.
	EmitMissingInBank bool
}

// DefaultConfig returns the production thresholds.
func DefaultConfig() Config {
	return Config{
		LowBelow:          decimal.NewFromInt(1000),
		MediumBelow:       decimal.NewFromInt(10000),
		HighBelow:         decimal.NewFromInt(50000),
		DateToleranceDays: 4,
		FundTolerancePct:  decimal.NewFromFloat(0.01),
	}
}

// SeverityFor grades an absolute amount difference.
func (c Config) SeverityFor(absDiff decimal.Decimal) model.VarianceSeverity {
	switch {
	case absDiff.LessThan(c.LowBelow):
		return model.VarianceLow
	case absDiff.LessThan(c.MediumBelow):
		return model.VarianceMedium
	case absDiff.LessThan(c.HighBelow):
		return model.VarianceHigh
	default:
		return model.VarianceCritical
	}
}

// Classifier derives variance records from a plan. The now hook exists for
// tests.
type Classifier struct {
	cfg Config
	now func() time.Time
}

// New returns a classifier; a zero now falls back to the wall clock.
func New(cfg Config, now func() time.Time) *Classifier {
	if now == nil {
		now = time.Now
	}
	return &Classifier{cfg: cfg, now: now}
}

// FromPlan produces the variance records for one goal's matching plan.
// Bank and fund transactions are passed by id/code so split pairs can be
// resolved. Reversal-netted transactions never appear: the plan already
// excludes them from its unmatched lists, and netted ids carry no pairs.
func (c *Classifier) FromPlan(plan match.Plan, bank map[string]match.BankTxn, fund map[string]match.FundTxn) []model.ReconciliationVariance {
	var out []model.ReconciliationVariance

	for _, pair := range plan.Pairs {
		out = append(out, c.forPair(pair, bank, fund)...)
	}
	for _, id := range plan.UnmatchedBank {
		b := bank[id]
		out = append(out, model.ReconciliationVariance{
			ID:                    uuid.New().String(),
			BankGoalTransactionID: id,
			Type:                  model.VarianceMissingInFund,
			Severity:              model.VarianceHigh,
			AmountDifference:      b.Amount,
			ResolutionStatus:      model.ResolutionOpen,
			CreatedAt:             c.now(),
		})
	}
	if !c.cfg.EmitMissingInBank {
		return out
	}
	for _, code := range plan.UnmatchedFund {
		f := fund[code]
		fc := code
		out = append(out, model.ReconciliationVariance{
			ID:                      uuid.New().String(),
			FundGoalTransactionCode: &fc,
			Type:                    model.VarianceMissingInBank,
			Severity:                c.cfg.SeverityFor(f.Amount.Abs()),
			AmountDifference:        f.Amount.Neg(),
			ResolutionStatus:        model.ResolutionOpen,
			CreatedAt:               c.now(),
		})
	}
	return out
}

// forPair classifies one matched pair. Any non-zero signed amount
// difference is recorded, graded by the severity thresholds; a perfectly
// clean pair yields nothing.
func (c *Classifier) forPair(pair match.Pair, bank map[string]match.BankTxn, fund map[string]match.FundTxn) []model.ReconciliationVariance {
	bankID := ""
	if len(pair.BankIDs) > 0 {
		bankID = pair.BankIDs[0]
	}
	var fundCode *string
	if len(pair.FundCodes) > 0 {
		code := pair.FundCodes[0]
		fundCode = &code
	}

	var out []model.ReconciliationVariance
	add := func(v model.ReconciliationVariance) {
		v.ID = uuid.New().String()
		v.BankGoalTransactionID = bankID
		v.FundGoalTransactionCode = fundCode
		v.ResolutionStatus = model.ResolutionOpen
		v.CreatedAt = c.now()
		out = append(out, v)
	}

	if !pair.AmountDiff.IsZero() {
		add(model.ReconciliationVariance{
			Type:             model.VarianceTotalAmount,
			Severity:         c.cfg.SeverityFor(pair.AmountDiff.Abs()),
			AmountDifference: pair.AmountDiff,
		})
	}
	if pair.DateDiffDays > c.cfg.DateToleranceDays {
		add(model.ReconciliationVariance{
			Type:               model.VarianceDate,
			Severity:           model.VarianceLow,
			DateDifferenceDays: pair.DateDiffDays,
		})
	}
	// Per-fund comparison only makes sense on 1:1 pairs; splits aggregate
	// several rows on one side.
	if len(pair.BankIDs) == 1 && len(pair.FundCodes) == 1 {
		b, bok := bank[pair.BankIDs[0]]
		f, fok := fund[pair.FundCodes[0]]
		if bok && fok {
			out = append(out, c.fundMismatches(b, f, bankID, fundCode)...)
		}
	}

	if autoApprove(out) {
		for i := range out {
			out[i].AutoApproved = true
			out[i].ResolutionStatus = model.ResolutionApproved
		}
	}
	return out
}

// fundMismatches compares per-fund amounts on a 1:1 pair. A fund leg that
// exists on only one side is always a mismatch.
func (c *Classifier) fundMismatches(b match.BankTxn, f match.FundTxn, bankID string, fundCode *string) []model.ReconciliationVariance {
	var out []model.ReconciliationVariance
	for _, code := range model.AllFundCodes {
		bAmt := b.FundAmounts[code]
		fAmt := f.FundAmounts[code]
		diff := bAmt.Sub(fAmt)
		if diff.IsZero() {
			continue
		}
		mismatch := fAmt.IsZero() ||
			diff.Abs().Div(fAmt.Abs()).GreaterThan(c.cfg.FundTolerancePct)
		if !mismatch {
			continue
		}
		fc := code
		out = append(out, model.ReconciliationVariance{
			ID:                      uuid.New().String(),
			BankGoalTransactionID:   bankID,
			FundGoalTransactionCode: fundCode,
			Type:                    model.VarianceFundDistribution,
			Severity:                c.cfg.SeverityFor(diff.Abs()),
			FundCode:                &fc,
			AmountDifference:        diff,
			ResolutionStatus:        model.ResolutionOpen,
			CreatedAt:               c.now(),
		})
	}
	return out
}

// autoApprove holds when every variance on the pair is low severity, which
// also guarantees no total-amount mismatch of medium or worse.
func autoApprove(vars []model.ReconciliationVariance) bool {
	if len(vars) == 0 {
		return false
	}
	for _, v := range vars {
		if v.Severity != model.VarianceLow {
			return false
		}
	}
	return true
}
