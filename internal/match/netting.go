package match

// netReversals pairs an unmatched bank transaction of amount +a with an
// unmatched bank transaction of amount −a and the opposite type on the same
// goal. Both are tagged and excluded from variance review. Dates are
// deliberately ignored: a reversal can land weeks after the original.
func netReversals(bank []BankTxn, consumedBank map[string]bool) []string {
	remaining := make([]BankTxn, 0, len(bank))
	for _, b := range sortedBank(bank) {
		if !consumedBank[b.ID] {
			remaining = append(remaining, b)
		}
	}

	netted := map[string]bool{}
	var out []string
	for i := 0; i < len(remaining); i++ {
		a := remaining[i]
		if netted[a.ID] {
			continue
		}
		for j := i + 1; j < len(remaining); j++ {
			b := remaining[j]
			if netted[b.ID] || a.Type == b.Type {
				continue
			}
			if !a.Amount.Add(b.Amount).IsZero() {
				continue
			}
			netted[a.ID] = true
			netted[b.ID] = true
			consumedBank[a.ID] = true
			consumedBank[b.ID] = true
			out = append(out, a.ID, b.ID)
			break
		}
	}
	return out
}
