package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

// ErrBatchProcessing is returned when rollback is attempted on a batch the
// worker is still running.
var ErrBatchProcessing = errors.New("batch is still processing")

// rollbackTimeout bounds the whole rollback transaction. Generous: large
// batches cascade through four tables.
const rollbackTimeout = 2 * time.Minute

// RollbackResult reports what a rollback removed.
type RollbackResult struct {
	FundTransactions int64
	BankTransactions int64
	Goals            int64
	Accounts         int64
	Clients          int64
}

// RollbackBatch removes a batch and everything only it brought in: its
// invalid rows, its fund transactions, then any goals, accounts, and
// clients left without a single referencing row (bank transactions count
// as references to goals). Runs in one transaction; the caller triggers
// the aggregate refresh afterwards.
func (s *Store) RollbackBatch(ctx context.Context, batchID string) (RollbackResult, error) {
	ctx, cancel := context.WithTimeout(ctx, rollbackTimeout)
	defer cancel()

	var res RollbackResult

	batch, err := s.GetBatch(ctx, batchID)
	if err != nil {
		return res, err
	}
	if batch == nil {
		return res, fmt.Errorf("batch %s not found", batchID)
	}
	switch batch.ProcessingStatus {
	case model.BatchParsing, model.BatchValidating, model.BatchProcessing:
		return res, ErrBatchProcessing
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return res, fmt.Errorf("failed to begin rollback: %w", err)
	}
	defer tx.Rollback(ctx)

	res.FundTransactions, err = deleteBatchData(ctx, tx, batchID)
	if err != nil {
		return res, err
	}

	// Bank batches: drop the variances raised on this batch's rows, then
	// the rows themselves.
	_, err = tx.Exec(ctx, `
		DELETE FROM reconciliation_variances v
		WHERE v.bank_goal_transaction_id IN (
			SELECT id FROM bank_goal_transactions WHERE bank_upload_batch_id = $1)`, batchID)
	if err != nil {
		return res, fmt.Errorf("failed to delete batch variances: %w", err)
	}
	tag, err := tx.Exec(ctx,
		`DELETE FROM bank_goal_transactions WHERE bank_upload_batch_id = $1`, batchID)
	if err != nil {
		return res, fmt.Errorf("failed to delete bank transactions: %w", err)
	}
	res.BankTransactions = tag.RowsAffected()

	// Orphan cascade, leaf to root. A goal survives while any fund or bank
	// transaction still points at it.
	tag, err = tx.Exec(ctx, `
		DELETE FROM goals g
		WHERE NOT EXISTS (SELECT 1 FROM fund_transactions ft WHERE ft.goal_id = g.id)
		  AND NOT EXISTS (SELECT 1 FROM bank_goal_transactions bt WHERE bt.goal_id = g.id)`)
	if err != nil {
		return res, fmt.Errorf("failed to delete orphaned goals: %w", err)
	}
	res.Goals = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `
		DELETE FROM accounts a
		WHERE NOT EXISTS (SELECT 1 FROM goals g WHERE g.account_id = a.id)
		  AND NOT EXISTS (SELECT 1 FROM fund_transactions ft WHERE ft.account_id = a.id)
		  AND NOT EXISTS (SELECT 1 FROM bank_goal_transactions bt WHERE bt.account_id = a.id)`)
	if err != nil {
		return res, fmt.Errorf("failed to delete orphaned accounts: %w", err)
	}
	res.Accounts = tag.RowsAffected()

	tag, err = tx.Exec(ctx, `
		DELETE FROM clients c
		WHERE NOT EXISTS (SELECT 1 FROM accounts a WHERE a.client_id = c.id)
		  AND NOT EXISTS (SELECT 1 FROM fund_transactions ft WHERE ft.client_id = c.id)
		  AND NOT EXISTS (SELECT 1 FROM bank_goal_transactions bt WHERE bt.client_id = c.id)`)
	if err != nil {
		return res, fmt.Errorf("failed to delete orphaned clients: %w", err)
	}
	res.Clients = tag.RowsAffected()

	if _, err := tx.Exec(ctx, `DELETE FROM upload_batches WHERE id = $1`, batchID); err != nil {
		return res, fmt.Errorf("failed to delete batch row: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return res, fmt.Errorf("failed to commit rollback: %w", err)
	}

	s.logger.Info("batch rolled back",
		zap.String("batch_id", batchID),
		zap.Int64("fund_transactions", res.FundTransactions),
		zap.Int64("bank_transactions", res.BankTransactions),
		zap.Int64("goals", res.Goals),
		zap.Int64("accounts", res.Accounts),
		zap.Int64("clients", res.Clients))
	return res, nil
}
