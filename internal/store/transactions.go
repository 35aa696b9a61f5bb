package store

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/match"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

// DefaultChunkSize is how many fund transactions go into one insert batch.
const DefaultChunkSize = 500

// WriteFundTransactions inserts rows in chunks. A row whose
// (upload_batch_id, row_number) already exists is skipped silently, so a
// retried job never duplicates data. Returns the number actually written.
// shouldStop is polled between chunks for cooperative cancellation; a nil
// hook never stops.
func (s *Store) WriteFundTransactions(ctx context.Context, txns []model.FundTransaction, chunkSize int, shouldStop func(context.Context) (bool, error)) (int, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	written := 0
	for start := 0; start < len(txns); start += chunkSize {
		if shouldStop != nil {
			stop, err := shouldStop(ctx)
			if err != nil {
				return written, err
			}
			if stop {
				return written, context.Canceled
			}
		}
		end := start + chunkSize
		if end > len(txns) {
			end = len(txns)
		}
		n, err := s.writeChunk(ctx, txns[start:end])
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

func (s *Store) writeChunk(ctx context.Context, txns []model.FundTransaction) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin write transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	written := 0
	for _, t := range txns {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO fund_transactions (id, fund_transaction_id, goal_transaction_code,
				transaction_id, source, client_id, account_id, goal_id, fund_id,
				upload_batch_id, transaction_date, date_created, type,
				amount, units, bid, mid, offer, price_date, row_number)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
				$11, $12, $13, $14, $15, $16, $17, $18, $19, $20)
			ON CONFLICT (upload_batch_id, row_number) DO NOTHING`,
			t.ID, t.FundTransactionID, t.GoalTransactionCode,
			t.TransactionID, t.Source, t.ClientID, t.AccountID, t.GoalID, t.FundID,
			t.UploadBatchID, t.TransactionDate, t.DateCreated, t.Type,
			t.Amount, t.Units, t.Bid, t.Mid, t.Offer, t.PriceDate, t.RowNumber)
		if err != nil {
			return 0, fmt.Errorf("failed to insert fund transaction row %d: %w", t.RowNumber, err)
		}
		written += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit write chunk: %w", err)
	}
	return written, nil
}

// WriteInvalidRows stores rows that failed validation, with their raw cell
// values and error lists for later inspection.
func (s *Store) WriteInvalidRows(ctx context.Context, rows []model.InvalidFundTransaction) error {
	for _, r := range rows {
		rawJSON, err := json.Marshal(r.RawData)
		if err != nil {
			return fmt.Errorf("failed to encode raw row data: %w", err)
		}
		errsJSON, err := json.Marshal(r.Errors)
		if err != nil {
			return fmt.Errorf("failed to encode row errors: %w", err)
		}
		_, err = s.pool.Exec(ctx, `
			INSERT INTO invalid_fund_transactions (upload_batch_id, row_number, raw_data, errors, created_at)
			VALUES ($1, $2, $3, $4, now())
			ON CONFLICT (upload_batch_id, row_number) DO NOTHING`,
			r.UploadBatchID, r.RowNumber, rawJSON, errsJSON)
		if err != nil {
			return fmt.Errorf("failed to insert invalid row %d: %w", r.RowNumber, err)
		}
	}
	return nil
}

// FundTxnsForGoal assembles the matcher's fund-side view: the virtual goal
// transactions on one goal inside the date window, one per code, with
// per-fund leg amounts.
func (s *Store) FundTxnsForGoal(ctx context.Context, goalNumber string, windowDays int) ([]match.FundTxn, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT ft.goal_transaction_code,
			MIN(ft.transaction_date),
			MIN(ft.type),
			MIN(ft.transaction_id),
			SUM(ft.amount),
			SUM(ft.amount) FILTER (WHERE f.fund_code = 'XUMMF'),
			SUM(ft.amount) FILTER (WHERE f.fund_code = 'XUBF'),
			SUM(ft.amount) FILTER (WHERE f.fund_code = 'XUDEF'),
			SUM(ft.amount) FILTER (WHERE f.fund_code = 'XUREF')
		FROM fund_transactions ft
		JOIN goals g ON g.id = ft.goal_id
		JOIN funds f ON f.id = ft.fund_id
		WHERE g.goal_number = $1
		  AND ft.transaction_date >= now() - ($2 || ' days')::interval
		GROUP BY ft.goal_transaction_code`,
		goalNumber, windowDays)
	if err != nil {
		return nil, fmt.Errorf("failed to load goal transactions for %s: %w", goalNumber, err)
	}
	defer rows.Close()

	var out []match.FundTxn
	for rows.Next() {
		var f match.FundTxn
		var xummf, xubf, xudef, xuref *decimal.Decimal
		if err := rows.Scan(&f.Code, &f.Date, &f.Type, &f.TransactionID,
			&f.Amount, &xummf, &xubf, &xudef, &xuref); err != nil {
			return nil, fmt.Errorf("failed to scan goal transaction: %w", err)
		}
		f.GoalNumber = goalNumber
		f.FundAmounts = map[model.FundCode]decimal.Decimal{
			model.FundXUMMF: deref(xummf),
			model.FundXUBF:  deref(xubf),
			model.FundXUDEF: deref(xudef),
			model.FundXUREF: deref(xuref),
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func deref(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// DeleteBatchData removes the fund transactions and invalid rows of one
// batch inside the supplied transaction. Used by rollback.
func deleteBatchData(ctx context.Context, tx pgx.Tx, batchID string) (int64, error) {
	if _, err := tx.Exec(ctx, `DELETE FROM invalid_fund_transactions WHERE upload_batch_id = $1`, batchID); err != nil {
		return 0, fmt.Errorf("failed to delete invalid rows: %w", err)
	}
	tag, err := tx.Exec(ctx, `DELETE FROM fund_transactions WHERE upload_batch_id = $1`, batchID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete fund transactions: %w", err)
	}
	return tag.RowsAffected(), nil
}
