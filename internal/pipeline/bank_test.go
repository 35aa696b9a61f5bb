package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/match"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

const bankHeader = "date,firstName,lastName,accNumber,goalName,goalNumber," +
	"XUMMF,XUBF,XUDEF,XUREF,totalAmount,XUMMF,XUBF,XUDEF,XUREF,type,transactionId"

func bankLine(date, goal, account, total, txnID string) string {
	return fmt.Sprintf("%s,John,Kirumira,%s,Savings,%s,60%%,30%%,5%%,5%%,%s,60000,30000,5000,5000,DEPOSIT,%s",
		date, account, goal, total, txnID)
}

func writeBankFile(t *testing.T, lines ...string) string {
	t.Helper()
	content := bankHeader + "\n"
	for _, l := range lines {
		content += l + "\n"
	}
	path := filepath.Join(t.TempDir(), "statement.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestBankUploadLinksKnownGoals(t *testing.T) {
	db := newFakeDB()
	db.addBatch("bb1", model.BatchQueued)
	db.addGoal("701-5558635", "701-555", "John Kirumira")

	path := writeBankFile(t,
		bankLine("2025-02-01", "701-5558635", "701-555", "100000", "S1"),
		bankLine("2025-02-02", "999-0000000", "999-000", "100000", "S2"), // unknown goal
	)

	p, _ := newTestPipeline(db)
	require.NoError(t, p.ProcessBankUpload(context.Background(), "bb1", path))

	batch := db.batches["bb1"]
	assert.Equal(t, model.BatchCompleted, batch.ProcessingStatus)
	require.Len(t, db.bankTxns, 2)

	linked := db.bankTxns[0]
	assert.Equal(t, model.ReconUnmatched, linked.ReconciliationStatus)
	require.NotNil(t, linked.GoalID)
	assert.Equal(t, "goal-701-5558635", *linked.GoalID)
	assert.True(t, linked.Amounts[model.FundXUMMF].Equal(decimal.NewFromInt(60000)))
	assert.True(t, linked.Percentages[model.FundXUBF].Equal(decimal.RequireFromString("0.3")))

	unlinked := db.bankTxns[1]
	assert.Equal(t, model.ReconMissingInFund, unlinked.ReconciliationStatus)
	assert.Nil(t, unlinked.GoalID)
}

func TestBankUploadRejectsBadSum(t *testing.T) {
	db := newFakeDB()
	db.addBatch("bb1", model.BatchQueued)
	db.addGoal("701-5558635", "701-555", "John Kirumira")

	// Fund amounts sum to 100 000 but the declared total is 90 000.
	path := writeBankFile(t,
		bankLine("2025-02-01", "701-5558635", "701-555", "90000", "S1"),
	)

	p, _ := newTestPipeline(db)
	require.NoError(t, p.ProcessBankUpload(context.Background(), "bb1", path))

	batch := db.batches["bb1"]
	assert.Equal(t, model.BatchFailed, batch.ProcessingStatus)
	assert.Equal(t, model.ValidationFailed, batch.ValidationStatus)
	assert.Empty(t, db.bankTxns)
	assert.Len(t, db.invalid, 1)
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRunMatchingAppliesPlan(t *testing.T) {
	db := newFakeDB()
	db.unmatchedGoals = []string{"701-5558635"}
	db.bankByGoal["701-5558635"] = []match.BankTxn{
		{ID: "b1", GoalNumber: "701-5558635", Date: day(2025, 2, 1),
			Type: model.TypeDeposit, Amount: decimal.NewFromInt(100000), TransactionID: "S1"},
		{ID: "b2", GoalNumber: "701-5558635", Date: day(2025, 2, 10),
			Type: model.TypeDeposit, Amount: decimal.NewFromInt(77777)},
	}
	db.fundByGoal["701-5558635"] = []match.FundTxn{
		{Code: "2025-02-01|701-555|701-5558635", GoalNumber: "701-5558635",
			Date: day(2025, 2, 1), Type: model.TypeDeposit,
			Amount: decimal.NewFromInt(100050), TransactionID: "S1"},
	}

	p, _ := newTestPipeline(db)
	report, err := p.RunMatching(context.Background(), MatchParams{BatchSize: 100, ApplyUpdates: true})
	require.NoError(t, err)

	assert.Equal(t, 1, report.GoalsProcessed)
	assert.Equal(t, 1, report.Pairs)
	assert.Equal(t, 1, report.MissingInFund)
	assert.True(t, report.Done)

	assert.Equal(t, "2025-02-01|701-555|701-5558635", db.matched["b1"])
	assert.Equal(t, []string{"b2"}, db.missing)

	// One auto-approved low variance for the 50-shilling diff, one high
	// missing_in_fund for b2.
	require.Len(t, db.variances, 2)
	assert.Equal(t, model.VarianceTotalAmount, db.variances[0].Type)
	assert.True(t, db.variances[0].AutoApproved)
	assert.Equal(t, model.VarianceMissingInFund, db.variances[1].Type)
}

// addUnmatchedGoal registers a goal carrying one unmatched bank deposit
// with no fund-side counterpart.
func addUnmatchedGoal(db *fakeDB, goal, bankID string) {
	db.unmatchedGoals = append(db.unmatchedGoals, goal)
	db.bankByGoal[goal] = []match.BankTxn{
		{ID: bankID, GoalNumber: goal, Date: day(2025, 2, 1),
			Type: model.TypeDeposit, Amount: decimal.NewFromInt(50000)},
	}
}

func TestRunMatchingAppliedRunsConsumeGoals(t *testing.T) {
	db := newFakeDB()
	for i := 0; i < 5; i++ {
		addUnmatchedGoal(db, fmt.Sprintf("goal-%d", i), fmt.Sprintf("b%d", i))
	}

	// Applied runs drain the unmatched set, so the offset stays put.
	p, _ := newTestPipeline(db)
	params := MatchParams{BatchSize: 2, ApplyUpdates: true}
	report, err := p.RunMatching(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 2, report.GoalsProcessed)
	assert.Equal(t, 0, report.NextOffset)
	assert.False(t, report.Done)

	params.Offset = report.NextOffset
	report, err = p.RunMatching(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 2, report.GoalsProcessed)
	assert.Equal(t, 0, report.NextOffset)
	assert.False(t, report.Done)

	params.Offset = report.NextOffset
	report, err = p.RunMatching(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 1, report.GoalsProcessed)
	assert.True(t, report.Done)
	assert.Len(t, db.missing, 5, "every goal reconciled exactly once")
	assert.Empty(t, db.unmatchedGoals)
}

func TestRunMatchingDryRunPagesByOffset(t *testing.T) {
	db := newFakeDB()
	for i := 0; i < 5; i++ {
		addUnmatchedGoal(db, fmt.Sprintf("goal-%d", i), fmt.Sprintf("b%d", i))
	}

	p, _ := newTestPipeline(db)
	params := MatchParams{BatchSize: 2}
	report, err := p.RunMatching(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 2, report.GoalsProcessed)
	assert.Equal(t, 2, report.NextOffset)
	assert.False(t, report.Done)

	params.Offset = report.NextOffset
	report, err = p.RunMatching(context.Background(), params)
	require.NoError(t, err)
	assert.Equal(t, 4, report.NextOffset)
	assert.False(t, report.Done)

	params.Offset = report.NextOffset
	report, err = p.RunMatching(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, report.Done)

	// A dry run reports what an applied run would do, but writes nothing.
	assert.Equal(t, 5, len(db.unmatchedGoals))
	assert.Empty(t, db.missing)
	assert.Empty(t, db.matched)
	assert.Empty(t, db.variances)
}

func TestRunMatchingDryRunReportsPlan(t *testing.T) {
	db := newFakeDB()
	db.unmatchedGoals = []string{"701-5558635"}
	db.bankByGoal["701-5558635"] = []match.BankTxn{
		{ID: "b1", GoalNumber: "701-5558635", Date: day(2025, 2, 1),
			Type: model.TypeDeposit, Amount: decimal.NewFromInt(100000), TransactionID: "S1"},
	}
	db.fundByGoal["701-5558635"] = []match.FundTxn{
		{Code: "c1", GoalNumber: "701-5558635", Date: day(2025, 2, 1),
			Type: model.TypeDeposit, Amount: decimal.NewFromInt(100000), TransactionID: "S1"},
	}

	p, _ := newTestPipeline(db)
	report, err := p.RunMatching(context.Background(), MatchParams{BatchSize: 100})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Pairs)
	assert.Empty(t, db.matched)
}

func TestRunMatchingDateWindowScopesBankSide(t *testing.T) {
	db := newFakeDB()
	db.unmatchedGoals = []string{"g1"}
	db.bankByGoal["g1"] = []match.BankTxn{
		{ID: "b1", GoalNumber: "g1", Date: day(2025, 1, 15),
			Type: model.TypeDeposit, Amount: decimal.NewFromInt(10000)},
		{ID: "b2", GoalNumber: "g1", Date: day(2025, 3, 15),
			Type: model.TypeDeposit, Amount: decimal.NewFromInt(20000)},
	}

	p, _ := newTestPipeline(db)
	report, err := p.RunMatching(context.Background(), MatchParams{
		BatchSize:    100,
		StartDate:    day(2025, 3, 1),
		EndDate:      day(2025, 3, 31),
		ApplyUpdates: true,
	})
	require.NoError(t, err)

	assert.Equal(t, 1, report.MissingInFund)
	assert.Equal(t, []string{"b2"}, db.missing, "out-of-window b1 untouched")
}

func TestRunMatchingHonoursCancellation(t *testing.T) {
	db := newFakeDB()
	db.unmatchedGoals = []string{"g1", "g2"}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p, _ := newTestPipeline(db)
	_, err := p.RunMatching(ctx, MatchParams{BatchSize: 100, ApplyUpdates: true})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestBankUploadTriggersMatching(t *testing.T) {
	db := newFakeDB()
	db.addBatch("bb1", model.BatchQueued)
	db.addGoal("701-5558635", "701-555", "John Kirumira")
	db.unmatchedGoals = []string{"701-5558635"}
	db.bankByGoal["701-5558635"] = []match.BankTxn{
		{ID: "b1", GoalNumber: "701-5558635", Date: day(2025, 2, 1),
			Type: model.TypeDeposit, Amount: decimal.NewFromInt(100000), TransactionID: "S1"},
	}
	db.fundByGoal["701-5558635"] = []match.FundTxn{
		{Code: "c1", GoalNumber: "701-5558635", Date: day(2025, 2, 1),
			Type: model.TypeDeposit, Amount: decimal.NewFromInt(100000), TransactionID: "S1"},
	}

	path := writeBankFile(t,
		bankLine("2025-02-01", "701-5558635", "701-555", "100000", "S1"),
	)

	p, _ := newTestPipeline(db)
	require.NoError(t, p.ProcessBankUpload(context.Background(), "bb1", path))

	assert.Equal(t, "c1", db.matched["b1"])
	assert.Empty(t, db.variances, "clean exact match yields no variances")
}
