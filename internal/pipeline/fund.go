package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/entity"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/ingest"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/txcode"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/validate"
)

// batchRows is the outcome of the parse and validate stages.
type batchRows struct {
	valid     []*ingest.FundRow
	invalid   []model.InvalidFundTransaction
	criticals []model.RowError
	warnings  []model.RowError
	total     int
}

// ProcessFundUpload runs a fresh fund upload end to end: parse, validate,
// detect new entities (pausing for approval when any are found), write,
// finalise, refresh.
func (p *Pipeline) ProcessFundUpload(ctx context.Context, batchID, filePath string) error {
	ok, err := p.db.TransitionBatch(ctx, batchID, model.BatchParsing, model.BatchQueued)
	if err != nil {
		return err
	}
	if !ok {
		// Retried job on a batch already past queued: nothing to do.
		p.logger.Warn("batch not in queued state, skipping", zap.String("batch_id", batchID))
		return nil
	}

	rows, err := p.prepare(ctx, batchID, filePath)
	if err != nil {
		return err
	}
	if rows == nil {
		return nil // canceled
	}

	if len(rows.criticals) > 0 {
		return p.reject(ctx, batchID, rows)
	}

	report, err := entity.NewDetector(p.db).Detect(ctx, rows.valid)
	if err != nil {
		return fmt.Errorf("failed to detect new entities: %w", err)
	}
	if !report.Empty() {
		if err := p.db.SetNewEntities(ctx, batchID, report, model.EntitiesPending); err != nil {
			return err
		}
		if err := p.db.SetBatchValidation(ctx, batchID, rows.validationStatus(), rows.criticals, rows.warnings); err != nil {
			return err
		}
		if _, err := p.db.TransitionBatch(ctx, batchID, model.BatchWaitingForApproval,
			model.BatchValidating); err != nil {
			return err
		}
		p.logger.Info("batch paused for entity approval",
			zap.String("batch_id", batchID),
			zap.Int("clients", len(report.Clients)),
			zap.Int("accounts", len(report.Accounts)),
			zap.Int("goals", len(report.Goals)))
		return nil
	}

	return p.write(ctx, batchID, rows)
}

// ResumeAfterApproval continues a batch whose new entities were approved:
// creates them, re-runs parse and validation, and writes.
func (p *Pipeline) ResumeAfterApproval(ctx context.Context, batchID, filePath string) error {
	batch, err := p.db.GetBatch(ctx, batchID)
	if err != nil {
		return err
	}
	if batch == nil {
		return fmt.Errorf("batch %s not found", batchID)
	}
	if batch.NewEntitiesStatus != model.EntitiesApproved {
		return fmt.Errorf("batch %s entities are %s, not approved", batchID, batch.NewEntitiesStatus)
	}

	ok, err := p.db.TransitionBatch(ctx, batchID, model.BatchParsing, model.BatchWaitingForApproval)
	if err != nil {
		return err
	}
	if !ok {
		p.logger.Warn("batch not awaiting approval, skipping", zap.String("batch_id", batchID))
		return nil
	}

	creator := entity.NewCreator(p.db, p.logger)
	counts, err := creator.CreateApproved(ctx, batch.NewEntities)
	if err != nil {
		return fmt.Errorf("failed to create approved entities: %w", err)
	}
	p.logger.Info("approved entities created",
		zap.String("batch_id", batchID),
		zap.Int("clients", counts.Clients),
		zap.Int("accounts", counts.Accounts),
		zap.Int("goals", counts.Goals))

	rows, err := p.prepare(ctx, batchID, filePath)
	if err != nil {
		return err
	}
	if rows == nil {
		return nil
	}
	return p.write(ctx, batchID, rows)
}

// prepare streams the file and validates every row and group. A nil result
// with a nil error means the batch was canceled mid-flight.
func (p *Pipeline) prepare(ctx context.Context, batchID, filePath string) (*batchRows, error) {
	var parsed []*ingest.FundRow
	err := ingest.StreamFund(ctx, filePath, func(r *ingest.FundRow) error {
		parsed = append(parsed, r)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}

	if done, err := p.canceled(ctx, batchID); done || err != nil {
		return nil, err
	}
	if _, err := p.db.TransitionBatch(ctx, batchID, model.BatchValidating, model.BatchParsing); err != nil {
		return nil, err
	}

	rows := &batchRows{total: len(parsed)}
	rowErrors := make(map[int][]model.RowError, len(parsed))

	validator := p.newValidator()
	for _, r := range parsed {
		rowErrors[r.RowNumber] = validator.ValidateFundRow(r)
	}

	groups, order := txcode.GroupByCode(parsed)
	for _, code := range order {
		if code == "" {
			// Rows whose composite code could not be built already carry
			// parse errors; cross-checking them as a group is meaningless.
			continue
		}
		group := groups[code]
		dist, err := p.db.GoalDistribution(ctx, group[0].GoalNumber)
		if err != nil {
			return nil, err
		}
		groupErrs := validator.ValidateGroup(code, group, dist)
		if len(groupErrs) == 0 {
			continue
		}
		for _, r := range group {
			rowErrors[r.RowNumber] = append(rowErrors[r.RowNumber], groupErrs...)
		}
	}

	for _, r := range parsed {
		criticals, warnings := validate.Split(rowErrors[r.RowNumber])
		rows.warnings = append(rows.warnings, warnings...)
		if len(criticals) > 0 {
			rows.criticals = append(rows.criticals, criticals...)
			rows.invalid = append(rows.invalid, model.InvalidFundTransaction{
				UploadBatchID: batchID,
				RowNumber:     r.RowNumber,
				RawData:       r.Raw,
				Errors:        rowErrors[r.RowNumber],
			})
			continue
		}
		rows.valid = append(rows.valid, r)
	}

	if done, err := p.canceled(ctx, batchID); done || err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *batchRows) validationStatus() model.ValidationStatus {
	switch {
	case len(r.criticals) > 0:
		return model.ValidationFailed
	case len(r.warnings) > 0:
		return model.ValidationWarning
	default:
		return model.ValidationPassed
	}
}

// reject fails a batch that carries critical validation errors. An upload
// is all-or-nothing: the invalid rows are stored for audit, the full error
// lists land on the batch, and no fund transactions are written.
func (p *Pipeline) reject(ctx context.Context, batchID string, rows *batchRows) error {
	if err := p.db.WriteInvalidRows(ctx, rows.invalid); err != nil {
		return err
	}
	if err := p.db.SetBatchValidation(ctx, batchID, model.ValidationFailed, rows.criticals, rows.warnings); err != nil {
		return err
	}
	if err := p.db.SetBatchCounts(ctx, batchID, model.UploadBatch{
		TotalRecords:  rows.total,
		FailedRecords: len(rows.invalid),
	}); err != nil {
		return err
	}
	if _, err := p.db.TransitionBatch(ctx, batchID, model.BatchFailed,
		model.BatchValidating, model.BatchParsing, model.BatchProcessing); err != nil {
		return err
	}
	p.logger.Warn("batch rejected on critical validation errors",
		zap.String("batch_id", batchID),
		zap.Int("criticals", len(rows.criticals)),
		zap.Int("invalid_rows", len(rows.invalid)))
	return nil
}

// write runs the processing stage: resolve references, upsert observed
// prices, insert transactions in chunks, store invalid rows, finalise the
// batch, and refresh the aggregates.
func (p *Pipeline) write(ctx context.Context, batchID string, rows *batchRows) error {
	if len(rows.criticals) > 0 {
		return p.reject(ctx, batchID, rows)
	}
	if _, err := p.db.TransitionBatch(ctx, batchID, model.BatchProcessing,
		model.BatchValidating, model.BatchParsing); err != nil {
		return err
	}

	fundIDs, err := p.db.FundIDsByCode(ctx)
	if err != nil {
		return err
	}

	goalNumbers := make([]string, 0, len(rows.valid))
	seen := map[string]bool{}
	for _, r := range rows.valid {
		if !seen[r.GoalNumber] {
			seen[r.GoalNumber] = true
			goalNumbers = append(goalNumbers, r.GoalNumber)
		}
	}
	refs, err := p.db.GoalRefsByNumber(ctx, goalNumbers)
	if err != nil {
		return err
	}

	p.upsertObservedPrices(ctx, rows.valid)

	txns := make([]model.FundTransaction, 0, len(rows.valid))
	var totalAmount, totalDeposits, totalWithdrawals decimal.Decimal
	codes := map[string]bool{}

	for _, r := range rows.valid {
		ref, ok := refs[r.GoalNumber]
		if !ok {
			rowErr := model.RowError{
				RowNumber: r.RowNumber,
				Field:     "goalNumber",
				Code:      validate.CodeRequiredField,
				Severity:  model.SeverityCritical,
				Message:   fmt.Sprintf("goal %s does not exist", r.GoalNumber),
				Value:     r.GoalNumber,
			}
			rows.criticals = append(rows.criticals, rowErr)
			rows.invalid = append(rows.invalid, model.InvalidFundTransaction{
				UploadBatchID: batchID,
				RowNumber:     r.RowNumber,
				RawData:       r.Raw,
				Errors:        []model.RowError{rowErr},
			})
			continue
		}
		txnType, _ := validate.NormalizeType(r.Type)
		txns = append(txns, model.FundTransaction{
			FundTransactionID:   r.TransactionID,
			GoalTransactionCode: r.Code,
			TransactionID:       r.TransactionID,
			Source:              model.TransactionSource(strings.ToUpper(strings.TrimSpace(r.Source))),
			ClientID:            ref.ClientID,
			AccountID:           ref.AccountID,
			GoalID:              ref.GoalID,
			FundID:              fundIDs[model.FundCode(r.FundCode)],
			UploadBatchID:       batchID,
			TransactionDate:     r.TransactionDate,
			DateCreated:         r.DateCreated,
			Type:                txnType,
			Amount:              r.Amount,
			Units:               r.Units,
			Bid:                 r.Bid,
			Mid:                 r.Mid,
			Offer:               r.Offer,
			PriceDate:           r.TransactionDate,
			RowNumber:           r.RowNumber,
		})
		totalAmount = totalAmount.Add(r.Amount)
		if txnType == model.TypeDeposit {
			totalDeposits = totalDeposits.Add(r.Amount)
		} else {
			totalWithdrawals = totalWithdrawals.Add(r.Amount)
		}
		codes[r.Code] = true
	}

	// Reference resolution can still fail after an approval race; the
	// no-partial-upload rule applies here too.
	if len(rows.criticals) > 0 {
		return p.reject(ctx, batchID, rows)
	}

	shouldStop := func(ctx context.Context) (bool, error) {
		return p.db.CancelRequested(ctx, batchID)
	}
	written, err := p.db.WriteFundTransactions(ctx, txns, p.opts.ChunkSize, shouldStop)
	if errors.Is(err, context.Canceled) {
		_, terr := p.db.TransitionBatch(ctx, batchID, model.BatchCanceled, model.BatchProcessing)
		return terr
	}
	if err != nil {
		return err
	}
	if err := p.db.WriteInvalidRows(ctx, rows.invalid); err != nil {
		return err
	}

	if err := p.db.SetBatchValidation(ctx, batchID, rows.validationStatus(), rows.criticals, rows.warnings); err != nil {
		return err
	}
	if err := p.db.SetBatchCounts(ctx, batchID, model.UploadBatch{
		TotalRecords:          rows.total,
		ProcessedRecords:      written,
		FailedRecords:         len(rows.invalid),
		TotalAmount:           totalAmount,
		TotalDeposits:         totalDeposits,
		TotalWithdrawals:      totalWithdrawals,
		TotalGoalTransactions: len(codes),
	}); err != nil {
		return err
	}
	if _, err := p.db.TransitionBatch(ctx, batchID, model.BatchCompleted, model.BatchProcessing); err != nil {
		return err
	}

	p.refresher.RefreshAll(ctx)
	p.logger.Info("fund batch completed",
		zap.String("batch_id", batchID),
		zap.Int("written", written),
		zap.Int("invalid", len(rows.invalid)),
		zap.Int("goal_transactions", len(codes)))
	return nil
}

// upsertObservedPrices records the first price seen per fund per day in
// the upload. Price rows are advisory; failures only log.
func (p *Pipeline) upsertObservedPrices(ctx context.Context, rows []*ingest.FundRow) {
	type key struct {
		fund model.FundCode
		day  time.Time
	}
	done := map[key]bool{}
	for _, r := range rows {
		if r.Bid.IsZero() && r.Mid.IsZero() && r.Offer.IsZero() {
			continue
		}
		k := key{fund: model.FundCode(r.FundCode), day: r.TransactionDate}
		if done[k] {
			continue
		}
		done[k] = true
		err := p.db.UpsertFundPrice(ctx, model.FundPrice{
			FundCode:  k.fund,
			PriceDate: k.day,
			Bid:       r.Bid,
			Mid:       r.Mid,
			Offer:     r.Offer,
		})
		if err != nil {
			p.logger.Warn("failed to record fund price",
				zap.String("fund", string(k.fund)), zap.Error(err))
		}
	}
}
