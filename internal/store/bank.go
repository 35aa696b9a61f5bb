package store

import (
	"context"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/match"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

// WriteBankTransactions inserts bank statement rows in chunks, skipping
// duplicates on (bank_upload_batch_id, row_number). Rows arrive with
// linking already attempted; unlinked rows carry the missing_in_fund
// status.
func (s *Store) WriteBankTransactions(ctx context.Context, txns []model.BankGoalTransaction, chunkSize int) (int, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	written := 0
	for start := 0; start < len(txns); start += chunkSize {
		end := start + chunkSize
		if end > len(txns) {
			end = len(txns)
		}
		n, err := s.writeBankChunk(ctx, txns[start:end])
		if err != nil {
			return written, err
		}
		written += n
	}
	return written, nil
}

func (s *Store) writeBankChunk(ctx context.Context, txns []model.BankGoalTransaction) (int, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin bank write transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	written := 0
	for _, t := range txns {
		if t.ID == "" {
			t.ID = uuid.New().String()
		}
		tag, err := tx.Exec(ctx, `
			INSERT INTO bank_goal_transactions (id, bank_upload_batch_id, transaction_date,
				first_name, last_name, account_number, goal_name, goal_number,
				total_amount,
				xummf_pct, xubf_pct, xudef_pct, xuref_pct,
				xummf_amount, xubf_amount, xudef_amount, xuref_amount,
				type, transaction_id, client_id, account_id, goal_id,
				reconciliation_status, row_number)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9,
				$10, $11, $12, $13, $14, $15, $16, $17,
				$18, $19, $20, $21, $22, $23, $24)
			ON CONFLICT (bank_upload_batch_id, row_number) DO NOTHING`,
			t.ID, t.BankUploadBatchID, t.TransactionDate,
			t.FirstName, t.LastName, t.AccountNumber, t.GoalName, t.GoalNumber,
			t.TotalAmount,
			t.Percentages[model.FundXUMMF], t.Percentages[model.FundXUBF],
			t.Percentages[model.FundXUDEF], t.Percentages[model.FundXUREF],
			t.Amounts[model.FundXUMMF], t.Amounts[model.FundXUBF],
			t.Amounts[model.FundXUDEF], t.Amounts[model.FundXUREF],
			t.Type, t.TransactionID, t.ClientID, t.AccountID, t.GoalID,
			t.ReconciliationStatus, t.RowNumber)
		if err != nil {
			return 0, fmt.Errorf("failed to insert bank transaction row %d: %w", t.RowNumber, err)
		}
		written += int(tag.RowsAffected())
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit bank write chunk: %w", err)
	}
	return written, nil
}

// BankTxnsForGoal assembles the matcher's bank-side view: unmatched bank
// transactions on one goal. A zero start or end leaves that side of the
// date window open.
func (s *Store) BankTxnsForGoal(ctx context.Context, goalNumber string, start, end time.Time) ([]match.BankTxn, error) {
	q := sq.Select("id", "transaction_date", "type", "total_amount", "transaction_id",
		"xummf_amount", "xubf_amount", "xudef_amount", "xuref_amount").
		From("bank_goal_transactions").
		PlaceholderFormat(sq.Dollar).
		Where(sq.Eq{"goal_number": goalNumber, "reconciliation_status": model.ReconUnmatched})
	if !start.IsZero() {
		q = q.Where(sq.GtOrEq{"transaction_date": start})
	}
	if !end.IsZero() {
		q = q.Where(sq.LtOrEq{"transaction_date": end})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build bank transaction query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to load bank transactions for %s: %w", goalNumber, err)
	}
	defer rows.Close()

	var out []match.BankTxn
	for rows.Next() {
		var b match.BankTxn
		var xummf, xubf, xudef, xuref decimal.Decimal
		if err := rows.Scan(&b.ID, &b.Date, &b.Type, &b.Amount, &b.TransactionID,
			&xummf, &xubf, &xudef, &xuref); err != nil {
			return nil, fmt.Errorf("failed to scan bank transaction: %w", err)
		}
		b.GoalNumber = goalNumber
		b.FundAmounts = map[model.FundCode]decimal.Decimal{
			model.FundXUMMF: xummf,
			model.FundXUBF:  xubf,
			model.FundXUDEF: xudef,
			model.FundXUREF: xuref,
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// GoalsWithUnmatchedBankTxns pages through the goal numbers that still
// carry unmatched bank transactions, for the matcher's batched runs. The
// set shrinks as applied runs reconcile goals, so callers paging an
// applied run keep their offset put.
func (s *Store) GoalsWithUnmatchedBankTxns(ctx context.Context, limit, offset int, start, end time.Time) ([]string, error) {
	q := sq.Select("DISTINCT goal_number").
		From("bank_goal_transactions").
		PlaceholderFormat(sq.Dollar).
		Where(sq.Eq{"reconciliation_status": model.ReconUnmatched}).
		Where(sq.NotEq{"goal_number": ""}).
		OrderBy("goal_number").
		Limit(uint64(limit)).
		Offset(uint64(offset))
	if !start.IsZero() {
		q = q.Where(sq.GtOrEq{"transaction_date": start})
	}
	if !end.IsZero() {
		q = q.Where(sq.LtOrEq{"transaction_date": end})
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build unmatched goal query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list goals with unmatched transactions: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var g string
		if err := rows.Scan(&g); err != nil {
			return nil, fmt.Errorf("failed to scan goal number: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// MarkMatched records a match on a bank transaction: status, the matched
// goal transaction code, and the confidence score.
func (s *Store) MarkMatched(ctx context.Context, bankID, fundCode string, score decimal.Decimal) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE bank_goal_transactions
		SET reconciliation_status = $2, matched_goal_transaction_code = $3, matching_score = $4
		WHERE id = $1`,
		bankID, model.ReconMatched, fundCode, score)
	if err != nil {
		return fmt.Errorf("failed to mark bank transaction %s matched: %w", bankID, err)
	}
	return nil
}

// MarkNetted tags a reversal-netted pair so it never reaches variance
// review.
func (s *Store) MarkNetted(ctx context.Context, bankIDs []string) error {
	if len(bankIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE bank_goal_transactions
		SET reconciliation_status = $2, review_tag = $3
		WHERE id = ANY($1)`,
		bankIDs, model.ReconMatched, model.TagReversalNetted)
	if err != nil {
		return fmt.Errorf("failed to tag netted transactions: %w", err)
	}
	return nil
}

// MarkMissingInFund flags bank transactions with no fund-side counterpart.
func (s *Store) MarkMissingInFund(ctx context.Context, bankIDs []string) error {
	if len(bankIDs) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
		UPDATE bank_goal_transactions
		SET reconciliation_status = $2
		WHERE id = ANY($1)`,
		bankIDs, model.ReconMissingInFund)
	if err != nil {
		return fmt.Errorf("failed to mark transactions missing in fund: %w", err)
	}
	return nil
}
