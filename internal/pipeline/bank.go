package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/ingest"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/match"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/validate"
)

// ProcessBankUpload runs a bank statement upload: parse, validate,
// best-effort linking to master data, write, finalise, then reconcile the
// affected goals.
func (p *Pipeline) ProcessBankUpload(ctx context.Context, batchID, filePath string) error {
	ok, err := p.db.TransitionBatch(ctx, batchID, model.BatchParsing, model.BatchQueued)
	if err != nil {
		return err
	}
	if !ok {
		p.logger.Warn("bank batch not in queued state, skipping", zap.String("batch_id", batchID))
		return nil
	}

	var parsed []*ingest.BankRow
	err = ingest.StreamBank(ctx, filePath, func(r *ingest.BankRow) error {
		parsed = append(parsed, r)
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", filePath, err)
	}

	if done, err := p.canceled(ctx, batchID); done || err != nil {
		return err
	}
	if _, err := p.db.TransitionBatch(ctx, batchID, model.BatchValidating, model.BatchParsing); err != nil {
		return err
	}

	var criticals, warnings []model.RowError
	var invalid []model.InvalidFundTransaction
	var validRows []*ingest.BankRow
	validator := p.newValidator()
	for _, r := range parsed {
		errs := validator.ValidateBankRow(r)
		crit, warn := validate.Split(errs)
		warnings = append(warnings, warn...)
		if len(crit) > 0 {
			criticals = append(criticals, crit...)
			invalid = append(invalid, model.InvalidFundTransaction{
				UploadBatchID: batchID,
				RowNumber:     r.RowNumber,
				RawData:       r.Raw,
				Errors:        errs,
			})
			continue
		}
		validRows = append(validRows, r)
	}

	if done, err := p.canceled(ctx, batchID); done || err != nil {
		return err
	}
	if len(criticals) > 0 {
		if err := p.db.WriteInvalidRows(ctx, invalid); err != nil {
			return err
		}
		if err := p.db.SetBatchValidation(ctx, batchID, model.ValidationFailed, criticals, warnings); err != nil {
			return err
		}
		if err := p.db.SetBatchCounts(ctx, batchID, model.UploadBatch{
			TotalRecords:  len(parsed),
			FailedRecords: len(invalid),
		}); err != nil {
			return err
		}
		if _, err := p.db.TransitionBatch(ctx, batchID, model.BatchFailed, model.BatchValidating); err != nil {
			return err
		}
		p.logger.Warn("bank batch rejected on critical validation errors",
			zap.String("batch_id", batchID),
			zap.Int("criticals", len(criticals)),
			zap.Int("invalid_rows", len(invalid)))
		return nil
	}
	if _, err := p.db.TransitionBatch(ctx, batchID, model.BatchProcessing, model.BatchValidating); err != nil {
		return err
	}

	// Linking is best-effort: rows whose goal is unknown are still stored,
	// flagged missing_in_fund.
	goalNumbers := make([]string, 0, len(validRows))
	seen := map[string]bool{}
	for _, r := range validRows {
		if !seen[r.GoalNumber] {
			seen[r.GoalNumber] = true
			goalNumbers = append(goalNumbers, r.GoalNumber)
		}
	}
	refs, err := p.db.GoalRefsByNumber(ctx, goalNumbers)
	if err != nil {
		return err
	}

	txns := make([]model.BankGoalTransaction, 0, len(validRows))
	var totalAmount decimal.Decimal
	linked := 0
	for _, r := range validRows {
		txnType, _ := validate.NormalizeType(r.Type)
		t := model.BankGoalTransaction{
			BankUploadBatchID:    batchID,
			TransactionDate:      r.Date,
			FirstName:            r.FirstName,
			LastName:             r.LastName,
			AccountNumber:        r.AccountNumber,
			GoalName:             r.GoalName,
			GoalNumber:           r.GoalNumber,
			TotalAmount:          r.TotalAmount,
			Percentages:          r.Percentages,
			Amounts:              r.Amounts,
			Type:                 txnType,
			TransactionID:        r.TransactionID,
			ReconciliationStatus: model.ReconMissingInFund,
			RowNumber:            r.RowNumber,
		}
		if ref, ok := refs[r.GoalNumber]; ok {
			t.ClientID = &ref.ClientID
			t.AccountID = &ref.AccountID
			t.GoalID = &ref.GoalID
			t.ReconciliationStatus = model.ReconUnmatched
			linked++
		}
		txns = append(txns, t)
		totalAmount = totalAmount.Add(r.TotalAmount)
	}

	written, err := p.db.WriteBankTransactions(ctx, txns, p.opts.ChunkSize)
	if err != nil {
		return err
	}
	if err := p.db.WriteInvalidRows(ctx, invalid); err != nil {
		return err
	}

	status := model.ValidationPassed
	if len(criticals) > 0 {
		status = model.ValidationFailed
	} else if len(warnings) > 0 {
		status = model.ValidationWarning
	}
	if err := p.db.SetBatchValidation(ctx, batchID, status, criticals, warnings); err != nil {
		return err
	}
	if err := p.db.SetBatchCounts(ctx, batchID, model.UploadBatch{
		TotalRecords:     len(parsed),
		ProcessedRecords: written,
		FailedRecords:    len(invalid),
		TotalAmount:      totalAmount,
	}); err != nil {
		return err
	}
	if _, err := p.db.TransitionBatch(ctx, batchID, model.BatchCompleted, model.BatchProcessing); err != nil {
		return err
	}

	p.logger.Info("bank batch completed",
		zap.String("batch_id", batchID),
		zap.Int("written", written),
		zap.Int("linked", linked),
		zap.Int("invalid", len(invalid)))

	// Reconcile everything now outstanding. Paging until done keeps single
	// uploads simple; operator-triggered runs page explicitly.
	params := MatchParams{BatchSize: p.opts.ChunkSize, ApplyUpdates: true}
	for {
		report, err := p.RunMatching(ctx, params)
		if err != nil {
			return err
		}
		if report.Done || report.GoalsProcessed == 0 {
			break
		}
		params.Offset = report.NextOffset
	}
	return nil
}

// MatchParams scopes one reconciliation run. A zero StartDate or EndDate
// leaves that side of the bank-statement date window open. With
// ApplyUpdates false the run is a dry run: plans and variances are
// computed and counted but nothing is marked or written.
type MatchParams struct {
	BatchSize    int
	Offset       int
	StartDate    time.Time
	EndDate      time.Time
	ApplyUpdates bool
}

// MatchReport summarises one matching run.
type MatchReport struct {
	GoalsProcessed int
	Pairs          int
	Netted         int
	MissingInFund  int
	Variances      int
	NextOffset     int
	Done           bool
}

// RunMatching reconciles up to BatchSize goals that still carry unmatched
// bank transactions and returns where to resume. An applied run consumes
// the goals it reconciles, so the next page starts at the same offset plus
// any goals skipped on error; a dry run leaves the set intact and the
// offset advances past everything seen. Cancellation is honoured between
// goals via the context.
func (p *Pipeline) RunMatching(ctx context.Context, params MatchParams) (MatchReport, error) {
	if params.BatchSize <= 0 {
		params.BatchSize = 500
	}
	report := MatchReport{NextOffset: params.Offset}

	goals, err := p.db.GoalsWithUnmatchedBankTxns(ctx, params.BatchSize, params.Offset,
		params.StartDate, params.EndDate)
	if err != nil {
		return report, err
	}
	if len(goals) == 0 {
		report.Done = true
		return report, nil
	}

	skipped := 0
	for _, goal := range goals {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		if err := p.matchGoal(ctx, goal, params, &report); err != nil {
			p.logger.Error("failed to match goal, skipping",
				zap.String("goal_number", goal), zap.Error(err))
			skipped++
			continue
		}
		report.GoalsProcessed++
	}
	if params.ApplyUpdates {
		// Reconciled goals have left the unmatched set; only the skipped
		// ones remain in positions at or after the current offset.
		report.NextOffset = params.Offset + skipped
	} else {
		report.NextOffset = params.Offset + len(goals)
	}
	report.Done = len(goals) < params.BatchSize

	p.logger.Info("matching run complete",
		zap.Int("goals", report.GoalsProcessed),
		zap.Int("skipped", skipped),
		zap.Int("pairs", report.Pairs),
		zap.Int("netted", report.Netted),
		zap.Int("missing_in_fund", report.MissingInFund),
		zap.Int("variances", report.Variances),
		zap.Bool("applied", params.ApplyUpdates),
		zap.Bool("done", report.Done))
	return report, nil
}

func (p *Pipeline) matchGoal(ctx context.Context, goalNumber string, params MatchParams, report *MatchReport) error {
	bank, err := p.db.BankTxnsForGoal(ctx, goalNumber, params.StartDate, params.EndDate)
	if err != nil {
		return err
	}
	if len(bank) == 0 {
		return nil
	}
	fund, err := p.db.FundTxnsForGoal(ctx, goalNumber, p.opts.MatchWindowDays)
	if err != nil {
		return err
	}

	plan := match.MatchGoal(p.matchCfg, bank, fund)
	vars := p.classifier.FromPlan(plan, indexBank(bank), indexFund(fund))

	report.Pairs += len(plan.Pairs)
	report.Netted += len(plan.NettedBankIDs)
	report.MissingInFund += len(plan.UnmatchedBank)
	report.Variances += len(vars)

	if !params.ApplyUpdates {
		return nil
	}

	for _, pair := range plan.Pairs {
		code := ""
		if len(pair.FundCodes) > 0 {
			code = pair.FundCodes[0]
		}
		for _, bankID := range pair.BankIDs {
			if err := p.db.MarkMatched(ctx, bankID, code, pair.Confidence); err != nil {
				return err
			}
		}
	}
	if err := p.db.MarkNetted(ctx, plan.NettedBankIDs); err != nil {
		return err
	}
	if err := p.db.MarkMissingInFund(ctx, plan.UnmatchedBank); err != nil {
		return err
	}
	return p.db.InsertVariances(ctx, vars)
}

func indexBank(txns []match.BankTxn) map[string]match.BankTxn {
	out := make(map[string]match.BankTxn, len(txns))
	for _, t := range txns {
		out[t.ID] = t
	}
	return out
}

func indexFund(txns []match.FundTxn) map[string]match.FundTxn {
	out := make(map[string]match.FundTxn, len(txns))
	for _, t := range txns {
		out[t.Code] = t
	}
	return out
}
