// Package match implements the three-pass smart matcher that pairs bank
// statement movements with fund-system goal transactions on one goal.
//
// The passes are pure: they read plain slices, never mutate their inputs,
// and emit a Plan. Applying the plan (statuses, tags, variances) is the
// caller's job.
package match

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

// BankTxn is the matcher's view of one bank goal transaction. FundAmounts
// is carried through untouched for downstream variance classification.
type BankTxn struct {
	ID            string
	GoalNumber    string
	Date          time.Time
	Type          model.TransactionType
	Amount        decimal.Decimal
	TransactionID string
	FundAmounts   map[model.FundCode]decimal.Decimal
}

// FundTxn is the matcher's view of one (virtual) goal transaction.
type FundTxn struct {
	Code          string
	GoalNumber    string
	Date          time.Time
	Type          model.TransactionType
	Amount        decimal.Decimal
	TransactionID string
	FundAmounts   map[model.FundCode]decimal.Decimal
}

// Kind labels how a pair was found.
type Kind string

const (
	KindExact           Kind = "exact"
	KindAmount          Kind = "amount"
	KindSplitBankToFund Kind = "split_bank_to_fund"
	KindSplitFundToBank Kind = "split_fund_to_bank"
)

// Pair is one matched bank↔fund pairing. Splits carry several ids on one
// side.
type Pair struct {
	Kind         Kind
	BankIDs      []string
	FundCodes    []string
	Confidence   decimal.Decimal
	AmountDiff   decimal.Decimal // bank minus fund, signed
	DateDiffDays int
}

// Plan is the outcome of matching one goal.
type Plan struct {
	Pairs         []Pair
	NettedBankIDs []string // reversal-netted, excluded from variance review
	UnmatchedBank []string
	UnmatchedFund []string
}

// Config carries the matcher tunables.
type Config struct {
	TolerancePct    decimal.Decimal // fraction, default 0.01
	ToleranceFloor  decimal.Decimal // currency units, default 1000
	DateWindowDays  int             // pass-2 window, default 30
	MaxSplitLegs    int             // pass-3 subset cap, default 8
	ReversalNetting bool
}

// DefaultConfig returns the production matcher configuration.
func DefaultConfig() Config {
	return Config{
		TolerancePct:    decimal.NewFromFloat(0.01),
		ToleranceFloor:  decimal.NewFromInt(1000),
		DateWindowDays:  30,
		MaxSplitLegs:    8,
		ReversalNetting: true,
	}
}

// Tolerance is τ(x) = max(pct·|x|, floor).
func (c Config) Tolerance(x decimal.Decimal) decimal.Decimal {
	pct := x.Abs().Mul(c.TolerancePct)
	if pct.GreaterThan(c.ToleranceFloor) {
		return pct
	}
	return c.ToleranceFloor
}

// MatchGoal runs the three passes plus reversal netting over one goal's
// transactions and returns the plan. Inputs are not mutated.
func MatchGoal(cfg Config, bank []BankTxn, fund []FundTxn) Plan {
	consumedBank := make(map[string]bool, len(bank))
	consumedFund := make(map[string]bool, len(fund))
	var plan Plan

	plan.Pairs = append(plan.Pairs, passExact(cfg, bank, fund, consumedBank, consumedFund)...)
	plan.Pairs = append(plan.Pairs, passAmount(cfg, bank, fund, consumedBank, consumedFund)...)
	plan.Pairs = append(plan.Pairs, passSplits(cfg, bank, fund, consumedBank, consumedFund)...)

	if cfg.ReversalNetting {
		plan.NettedBankIDs = netReversals(bank, consumedBank)
	}

	for _, b := range sortedBank(bank) {
		if !consumedBank[b.ID] {
			plan.UnmatchedBank = append(plan.UnmatchedBank, b.ID)
		}
	}
	for _, f := range sortedFund(fund) {
		if !consumedFund[f.Code] {
			plan.UnmatchedFund = append(plan.UnmatchedFund, f.Code)
		}
	}
	return plan
}

// passExact pairs on identical statement transaction ids with amounts
// inside tolerance. Confidence is always 1.
func passExact(cfg Config, bank []BankTxn, fund []FundTxn, consumedBank, consumedFund map[string]bool) []Pair {
	byTxnID := make(map[string][]FundTxn)
	for _, f := range fund {
		if f.TransactionID != "" {
			byTxnID[f.TransactionID] = append(byTxnID[f.TransactionID], f)
		}
	}
	var pairs []Pair
	for _, b := range sortedBank(bank) {
		if consumedBank[b.ID] || b.TransactionID == "" {
			continue
		}
		for _, f := range byTxnID[b.TransactionID] {
			if consumedFund[f.Code] {
				continue
			}
			diff := b.Amount.Sub(f.Amount)
			if diff.Abs().GreaterThan(cfg.Tolerance(f.Amount)) {
				continue
			}
			consumedBank[b.ID] = true
			consumedFund[f.Code] = true
			pairs = append(pairs, Pair{
				Kind:         KindExact,
				BankIDs:      []string{b.ID},
				FundCodes:    []string{f.Code},
				Confidence:   decimal.NewFromInt(1),
				AmountDiff:   diff,
				DateDiffDays: dateDiffDays(b.Date, f.Date),
			})
			break
		}
	}
	return pairs
}

// candidate is a feasible pass-2 pairing, ranked for greedy selection.
type candidate struct {
	bank       BankTxn
	fund       FundTxn
	dateDiff   int
	amountDiff decimal.Decimal
}

// passAmount greedily pairs remaining transactions of the same type whose
// dates fall within the window and whose amounts agree within tolerance.
func passAmount(cfg Config, bank []BankTxn, fund []FundTxn, consumedBank, consumedFund map[string]bool) []Pair {
	var candidates []candidate
	for _, b := range bank {
		if consumedBank[b.ID] {
			continue
		}
		for _, f := range fund {
			if consumedFund[f.Code] || b.Type != f.Type {
				continue
			}
			dd := dateDiffDays(b.Date, f.Date)
			if dd > cfg.DateWindowDays {
				continue
			}
			diff := b.Amount.Sub(f.Amount)
			if diff.Abs().GreaterThan(cfg.Tolerance(f.Amount)) {
				continue
			}
			candidates = append(candidates, candidate{bank: b, fund: f, dateDiff: dd, amountDiff: diff})
		}
	}

	// Smaller date difference wins, then smaller amount difference, then
	// the lexically smallest bank id for determinism.
	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.dateDiff != b.dateDiff {
			return a.dateDiff < b.dateDiff
		}
		if cmp := a.amountDiff.Abs().Cmp(b.amountDiff.Abs()); cmp != 0 {
			return cmp < 0
		}
		if a.bank.ID != b.bank.ID {
			return a.bank.ID < b.bank.ID
		}
		return a.fund.Code < b.fund.Code
	})

	var pairs []Pair
	for _, c := range candidates {
		if consumedBank[c.bank.ID] || consumedFund[c.fund.Code] {
			continue
		}
		consumedBank[c.bank.ID] = true
		consumedFund[c.fund.Code] = true
		pairs = append(pairs, Pair{
			Kind:         KindAmount,
			BankIDs:      []string{c.bank.ID},
			FundCodes:    []string{c.fund.Code},
			Confidence:   amountConfidence(cfg, c),
			AmountDiff:   c.amountDiff,
			DateDiffDays: c.dateDiff,
		})
	}
	return pairs
}

// amountConfidence is 1 − min(dateDiff/window,1)·0.3 − min(amountDiff/τ,1)·0.2,
// clamped to [0,1].
func amountConfidence(cfg Config, c candidate) decimal.Decimal {
	one := decimal.NewFromInt(1)

	datePenalty := decimal.NewFromInt(int64(c.dateDiff)).
		Div(decimal.NewFromInt(int64(cfg.DateWindowDays)))
	if datePenalty.GreaterThan(one) {
		datePenalty = one
	}

	tol := cfg.Tolerance(c.fund.Amount)
	amountPenalty := c.amountDiff.Abs().Div(tol)
	if amountPenalty.GreaterThan(one) {
		amountPenalty = one
	}

	conf := one.
		Sub(datePenalty.Mul(decimal.NewFromFloat(0.3))).
		Sub(amountPenalty.Mul(decimal.NewFromFloat(0.2)))
	if conf.IsNegative() {
		return decimal.Zero
	}
	if conf.GreaterThan(one) {
		return one
	}
	return conf
}

func dateDiffDays(a, b time.Time) int {
	d := a.Sub(b)
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

func sortedBank(bank []BankTxn) []BankTxn {
	out := append([]BankTxn(nil), bank...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if cmp := out[i].Amount.Cmp(out[j].Amount); cmp != 0 {
			return cmp < 0
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func sortedFund(fund []FundTxn) []FundTxn {
	out := append([]FundTxn(nil), fund...)
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.Before(out[j].Date)
		}
		if cmp := out[i].Amount.Cmp(out[j].Amount); cmp != 0 {
			return cmp < 0
		}
		return out[i].Code < out[j].Code
	})
	return out
}
