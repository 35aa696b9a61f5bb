package match

import (
	"fmt"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func amt(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func bankTxn(id, txnID, amount string, date time.Time, t model.TransactionType) BankTxn {
	return BankTxn{ID: id, GoalNumber: "701-5558635", Date: date, Type: t, Amount: amt(amount), TransactionID: txnID}
}

func fundTxn(code, txnID, amount string, date time.Time, t model.TransactionType) FundTxn {
	return FundTxn{Code: code, GoalNumber: "701-5558635", Date: date, Type: t, Amount: amt(amount), TransactionID: txnID}
}

func TestTolerance(t *testing.T) {
	cfg := DefaultConfig()
	// Floor dominates below 100 000.
	assert.True(t, cfg.Tolerance(amt("50000")).Equal(amt("1000")))
	// One percent dominates above.
	assert.True(t, cfg.Tolerance(amt("250000")).Equal(amt("2500")))
	assert.True(t, cfg.Tolerance(amt("-250000")).Equal(amt("2500")))
}

func TestExactMatchWithinTolerance(t *testing.T) {
	// Scenario: same statement id, amounts 100 000 vs 100 050.
	bank := []BankTxn{bankTxn("b1", "S1", "100000", day(2025, 2, 1), model.TypeDeposit)}
	fund := []FundTxn{fundTxn("2025-02-01|701-555|701-5558635", "S1", "100050", day(2025, 2, 1), model.TypeDeposit)}

	plan := MatchGoal(DefaultConfig(), bank, fund)
	require.Len(t, plan.Pairs, 1)
	pair := plan.Pairs[0]
	assert.Equal(t, KindExact, pair.Kind)
	assert.True(t, pair.Confidence.Equal(decimal.NewFromInt(1)))
	assert.True(t, pair.AmountDiff.Equal(amt("-50")))
	assert.Empty(t, plan.UnmatchedBank)
	assert.Empty(t, plan.UnmatchedFund)
}

func TestExactRequiresAmountAgreement(t *testing.T) {
	bank := []BankTxn{bankTxn("b1", "S1", "100000", day(2025, 2, 1), model.TypeDeposit)}
	fund := []FundTxn{fundTxn("f1", "S1", "150000", day(2025, 2, 1), model.TypeDeposit)}

	plan := MatchGoal(DefaultConfig(), bank, fund)
	for _, p := range plan.Pairs {
		assert.NotEqual(t, KindExact, p.Kind)
	}
}

func TestAmountPassBoundary(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ReversalNetting = false

	// Diff exactly at tolerance matches.
	bank := []BankTxn{bankTxn("b1", "", "101000", day(2025, 2, 5), model.TypeDeposit)}
	fund := []FundTxn{fundTxn("f1", "", "100000", day(2025, 2, 1), model.TypeDeposit)}
	plan := MatchGoal(cfg, bank, fund)
	require.Len(t, plan.Pairs, 1)
	assert.Equal(t, KindAmount, plan.Pairs[0].Kind)

	// One cent past tolerance does not.
	bank = []BankTxn{bankTxn("b1", "", "101000.01", day(2025, 2, 5), model.TypeDeposit)}
	plan = MatchGoal(cfg, bank, fund)
	assert.Empty(t, plan.Pairs)
	assert.Equal(t, []string{"b1"}, plan.UnmatchedBank)
}

func TestAmountPassRespectsTypeAndWindow(t *testing.T) {
	cfg := DefaultConfig()

	bank := []BankTxn{bankTxn("b1", "", "100000", day(2025, 2, 1), model.TypeWithdrawal)}
	fund := []FundTxn{fundTxn("f1", "", "100000", day(2025, 2, 1), model.TypeDeposit)}
	plan := MatchGoal(cfg, bank, fund)
	assert.Empty(t, plan.Pairs, "types differ")

	bank = []BankTxn{bankTxn("b1", "", "100000", day(2025, 3, 10), model.TypeDeposit)}
	fund = []FundTxn{fundTxn("f1", "", "100000", day(2025, 2, 1), model.TypeDeposit)}
	plan = MatchGoal(cfg, bank, fund)
	assert.Empty(t, plan.Pairs, "outside the 30-day window")
}

func TestAmountPassConfidence(t *testing.T) {
	cfg := DefaultConfig()
	// 15 days of skew and half the tolerance consumed:
	// 1 - 0.5*0.3 - 0.5*0.2 = 0.75.
	bank := []BankTxn{bankTxn("b1", "", "100500", day(2025, 2, 16), model.TypeDeposit)}
	fund := []FundTxn{fundTxn("f1", "", "100000", day(2025, 2, 1), model.TypeDeposit)}

	plan := MatchGoal(cfg, bank, fund)
	require.Len(t, plan.Pairs, 1)
	assert.True(t, plan.Pairs[0].Confidence.Equal(amt("0.75")),
		"got %s", plan.Pairs[0].Confidence)
}

func TestAmountPassDeterministicTieBreak(t *testing.T) {
	// Two bank rows both eligible for one fund txn: the smaller date diff
	// wins; on equal diffs the lexically smallest id wins.
	fund := []FundTxn{fundTxn("f1", "", "100000", day(2025, 2, 10), model.TypeDeposit)}
	bank := []BankTxn{
		bankTxn("b2", "", "100000", day(2025, 2, 11), model.TypeDeposit),
		bankTxn("b1", "", "100000", day(2025, 2, 11), model.TypeDeposit),
	}
	plan := MatchGoal(DefaultConfig(), bank, fund)
	require.Len(t, plan.Pairs, 1)
	assert.Equal(t, []string{"b1"}, plan.Pairs[0].BankIDs)
	assert.Contains(t, plan.UnmatchedBank, "b2")
}

func TestSplitBankToFundSameDay(t *testing.T) {
	// Scenario: 60 000 + 40 000 bank vs one 100 000 goal transaction.
	bank := []BankTxn{
		bankTxn("b1", "", "60000", day(2025, 3, 10), model.TypeDeposit),
		bankTxn("b2", "", "40000", day(2025, 3, 10), model.TypeDeposit),
	}
	fund := []FundTxn{fundTxn("f1", "", "100000", day(2025, 3, 10), model.TypeDeposit)}

	plan := MatchGoal(DefaultConfig(), bank, fund)
	require.Len(t, plan.Pairs, 1)
	pair := plan.Pairs[0]
	assert.Equal(t, KindSplitBankToFund, pair.Kind)
	assert.ElementsMatch(t, []string{"b1", "b2"}, pair.BankIDs)
	assert.True(t, pair.Confidence.Equal(amt("0.9")), "got %s", pair.Confidence)
	assert.True(t, pair.AmountDiff.IsZero())
	assert.Empty(t, plan.UnmatchedBank)
	assert.Empty(t, plan.UnmatchedFund)
}

func TestSplitFundToBankSameDay(t *testing.T) {
	bank := []BankTxn{bankTxn("b1", "", "100000", day(2025, 3, 10), model.TypeDeposit)}
	fund := []FundTxn{
		fundTxn("f1", "", "70000", day(2025, 3, 10), model.TypeDeposit),
		fundTxn("f2", "", "30000", day(2025, 3, 10), model.TypeDeposit),
	}
	plan := MatchGoal(DefaultConfig(), bank, fund)
	require.Len(t, plan.Pairs, 1)
	assert.Equal(t, KindSplitFundToBank, plan.Pairs[0].Kind)
	assert.ElementsMatch(t, []string{"f1", "f2"}, plan.Pairs[0].FundCodes)
}

func TestSplitConfidenceDropsPerExtraLeg(t *testing.T) {
	bank := []BankTxn{
		bankTxn("b1", "", "50000", day(2025, 3, 10), model.TypeDeposit),
		bankTxn("b2", "", "30000", day(2025, 3, 10), model.TypeDeposit),
		bankTxn("b3", "", "20000", day(2025, 3, 10), model.TypeDeposit),
	}
	fund := []FundTxn{fundTxn("f1", "", "100000", day(2025, 3, 10), model.TypeDeposit)}

	plan := MatchGoal(DefaultConfig(), bank, fund)
	require.Len(t, plan.Pairs, 1)
	assert.Len(t, plan.Pairs[0].BankIDs, 3)
	assert.True(t, plan.Pairs[0].Confidence.Equal(amt("0.85")), "got %s", plan.Pairs[0].Confidence)
}

func TestSplitEnumerationCapsAtEightLegs(t *testing.T) {
	// Nine legs of 10 000 against one 90 000 goal transaction: no subset of
	// size <= 8 sums to the target, so everything stays unmatched.
	var bank []BankTxn
	for i := 0; i < 9; i++ {
		bank = append(bank, bankTxn(fmt.Sprintf("b%d", i), "", "10000", day(2025, 3, 10), model.TypeDeposit))
	}
	fund := []FundTxn{fundTxn("f1", "", "91000.01", day(2025, 3, 10), model.TypeDeposit)}

	cfg := DefaultConfig()
	cfg.ReversalNetting = false
	plan := MatchGoal(cfg, bank, fund)
	assert.Empty(t, plan.Pairs)
	assert.Len(t, plan.UnmatchedBank, 9)
	assert.Equal(t, []string{"f1"}, plan.UnmatchedFund)
}

func TestReversalNetting(t *testing.T) {
	// Scenario: unmatched deposit +50 000 and withdrawal −50 000 net out.
	bank := []BankTxn{
		bankTxn("b1", "", "50000", day(2025, 4, 1), model.TypeDeposit),
		bankTxn("b2", "", "-50000", day(2025, 4, 20), model.TypeWithdrawal),
	}
	plan := MatchGoal(DefaultConfig(), bank, nil)
	assert.ElementsMatch(t, []string{"b1", "b2"}, plan.NettedBankIDs)
	assert.Empty(t, plan.UnmatchedBank)
}

func TestReversalNettingRequiresOppositeType(t *testing.T) {
	bank := []BankTxn{
		bankTxn("b1", "", "50000", day(2025, 4, 1), model.TypeDeposit),
		bankTxn("b2", "", "-50000", day(2025, 4, 2), model.TypeDeposit),
	}
	plan := MatchGoal(DefaultConfig(), bank, nil)
	assert.Empty(t, plan.NettedBankIDs)
	assert.Len(t, plan.UnmatchedBank, 2)
}

func TestMatchGoalDoesNotMutateInputs(t *testing.T) {
	bank := []BankTxn{bankTxn("b1", "S1", "100000", day(2025, 2, 1), model.TypeDeposit)}
	fund := []FundTxn{fundTxn("f1", "S1", "100000", day(2025, 2, 1), model.TypeDeposit)}
	before := bank[0]

	_ = MatchGoal(DefaultConfig(), bank, fund)
	assert.Equal(t, before, bank[0])
}

func TestPassesRunInOrder(t *testing.T) {
	// The exact pair must be taken first even when a closer-amount fuzzy
	// candidate exists.
	bank := []BankTxn{
		bankTxn("b1", "S1", "100900", day(2025, 2, 1), model.TypeDeposit),
		bankTxn("b2", "", "100000", day(2025, 2, 1), model.TypeDeposit),
	}
	fund := []FundTxn{
		fundTxn("f1", "S1", "100000", day(2025, 2, 1), model.TypeDeposit),
	}
	plan := MatchGoal(DefaultConfig(), bank, fund)
	require.NotEmpty(t, plan.Pairs)
	assert.Equal(t, KindExact, plan.Pairs[0].Kind)
	assert.Equal(t, []string{"b1"}, plan.Pairs[0].BankIDs)
}
