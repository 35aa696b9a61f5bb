package match

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// passSplits resolves same-day N:1 and 1:N groupings: several bank rows
// covering one goal transaction, or several goal transactions covering one
// bank row. Subsets are capped at MaxSplitLegs legs; larger groups stay
// unmatched.
func passSplits(cfg Config, bank []BankTxn, fund []FundTxn, consumedBank, consumedFund map[string]bool) []Pair {
	var pairs []Pair

	for _, day := range daysWithActivity(bank, fund) {
		var dayBank []BankTxn
		for _, b := range sortedBank(bank) {
			if !consumedBank[b.ID] && b.Date.Equal(day) {
				dayBank = append(dayBank, b)
			}
		}
		var dayFund []FundTxn
		for _, f := range sortedFund(fund) {
			if !consumedFund[f.Code] && f.Date.Equal(day) {
				dayFund = append(dayFund, f)
			}
		}

		// N bank rows -> 1 goal transaction.
		if len(dayFund) == 1 && len(dayBank) >= 2 {
			f := dayFund[0]
			subset := findSubset(bankAmounts(dayBank), f.Amount, cfg.Tolerance(f.Amount), cfg.MaxSplitLegs)
			if subset != nil {
				ids := make([]string, 0, len(subset))
				sum := decimal.Zero
				for _, i := range subset {
					ids = append(ids, dayBank[i].ID)
					sum = sum.Add(dayBank[i].Amount)
					consumedBank[dayBank[i].ID] = true
				}
				consumedFund[f.Code] = true
				pairs = append(pairs, Pair{
					Kind:       KindSplitBankToFund,
					BankIDs:    ids,
					FundCodes:  []string{f.Code},
					Confidence: splitConfidence(len(subset)),
					AmountDiff: sum.Sub(f.Amount),
				})
				continue
			}
		}

		// 1 bank row -> N goal transactions.
		if len(dayBank) == 1 && len(dayFund) >= 2 {
			b := dayBank[0]
			subset := findSubset(fundAmounts(dayFund), b.Amount, cfg.Tolerance(b.Amount), cfg.MaxSplitLegs)
			if subset != nil {
				codes := make([]string, 0, len(subset))
				sum := decimal.Zero
				for _, i := range subset {
					codes = append(codes, dayFund[i].Code)
					sum = sum.Add(dayFund[i].Amount)
					consumedFund[dayFund[i].Code] = true
				}
				consumedBank[b.ID] = true
				pairs = append(pairs, Pair{
					Kind:       KindSplitFundToBank,
					BankIDs:    []string{b.ID},
					FundCodes:  codes,
					Confidence: splitConfidence(len(subset)),
					AmountDiff: b.Amount.Sub(sum),
				})
			}
		}
	}
	return pairs
}

// splitConfidence is 0.9 minus 0.05 per leg beyond two.
func splitConfidence(legs int) decimal.Decimal {
	c := decimal.NewFromFloat(0.9)
	if legs > 2 {
		c = c.Sub(decimal.NewFromFloat(0.05).Mul(decimal.NewFromInt(int64(legs - 2))))
	}
	return c
}

// findSubset returns the indices of the smallest subset (size >= 2) whose
// amounts sum to target within tolerance, or nil. The search enumerates
// subsets up to maxLegs elements, preferring fewer legs, then the lexically
// first index set, for determinism.
func findSubset(amounts []decimal.Decimal, target, tolerance decimal.Decimal, maxLegs int) []int {
	n := len(amounts)
	if n < 2 {
		return nil
	}
	if maxLegs > n {
		maxLegs = n
	}
	for size := 2; size <= maxLegs; size++ {
		if idx := searchSubset(amounts, target, tolerance, size, 0, nil, decimal.Zero); idx != nil {
			return idx
		}
	}
	return nil
}

func searchSubset(amounts []decimal.Decimal, target, tolerance decimal.Decimal, size, start int, chosen []int, sum decimal.Decimal) []int {
	if len(chosen) == size {
		if sum.Sub(target).Abs().LessThanOrEqual(tolerance) {
			return append([]int(nil), chosen...)
		}
		return nil
	}
	// Not enough elements left to reach the requested size.
	if start >= len(amounts) || len(amounts)-start < size-len(chosen) {
		return nil
	}
	for i := start; i < len(amounts); i++ {
		if idx := searchSubset(amounts, target, tolerance, size, i+1, append(chosen, i), sum.Add(amounts[i])); idx != nil {
			return idx
		}
	}
	return nil
}

func bankAmounts(txns []BankTxn) []decimal.Decimal {
	out := make([]decimal.Decimal, len(txns))
	for i, t := range txns {
		out[i] = t.Amount
	}
	return out
}

func fundAmounts(txns []FundTxn) []decimal.Decimal {
	out := make([]decimal.Decimal, len(txns))
	for i, t := range txns {
		out[i] = t.Amount
	}
	return out
}

// daysWithActivity lists the distinct calendar days present on either side,
// ascending.
func daysWithActivity(bank []BankTxn, fund []FundTxn) []time.Time {
	seen := map[time.Time]bool{}
	for _, b := range bank {
		seen[b.Date] = true
	}
	for _, f := range fund {
		seen[f.Date] = true
	}
	days := make([]time.Time, 0, len(seen))
	for d := range seen {
		days = append(days, d)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days
}
