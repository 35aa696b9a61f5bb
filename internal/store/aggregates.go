package store

import (
	"context"
	"fmt"
)

// RefreshGoalTransactions rebuilds the goal-transaction read model. The
// delete and re-insert run in one transaction, so readers see either the
// old snapshot or the new one, never a half-built table.
func (s *Store) RefreshGoalTransactions(ctx context.Context) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin aggregate refresh: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM goal_transactions_aggregate`); err != nil {
		return 0, fmt.Errorf("failed to clear goal-transaction aggregate: %w", err)
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO goal_transactions_aggregate (goal_transaction_code, transaction_date,
			client_name, account_number, goal_number, transaction_id, source, type,
			total_amount, xummf_amount, xubf_amount, xudef_amount, xuref_amount,
			fund_count, deposit_count, withdrawal_count)
		SELECT ft.goal_transaction_code,
			MIN(ft.transaction_date),
			MIN(c.name),
			MIN(a.account_number),
			MIN(g.goal_number),
			MIN(ft.transaction_id),
			MIN(ft.source),
			MIN(ft.type),
			SUM(ft.amount),
			COALESCE(SUM(ft.amount) FILTER (WHERE f.fund_code = 'XUMMF'), 0),
			COALESCE(SUM(ft.amount) FILTER (WHERE f.fund_code = 'XUBF'), 0),
			COALESCE(SUM(ft.amount) FILTER (WHERE f.fund_code = 'XUDEF'), 0),
			COALESCE(SUM(ft.amount) FILTER (WHERE f.fund_code = 'XUREF'), 0),
			COUNT(DISTINCT ft.fund_id),
			COUNT(*) FILTER (WHERE ft.type = 'deposit'),
			COUNT(*) FILTER (WHERE ft.type IN ('withdrawal', 'redemption'))
		FROM fund_transactions ft
		JOIN clients c ON c.id = ft.client_id
		JOIN accounts a ON a.id = ft.account_id
		JOIN goals g ON g.id = ft.goal_id
		JOIN funds f ON f.id = ft.fund_id
		GROUP BY ft.goal_transaction_code`)
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild goal-transaction aggregate: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit goal-transaction aggregate: %w", err)
	}
	return tag.RowsAffected(), nil
}

// RefreshAccountUnitBalances rebuilds the per-account unit balance read
// model. Deposits add units, withdrawals and redemptions subtract them.
func (s *Store) RefreshAccountUnitBalances(ctx context.Context) (int64, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to begin balance refresh: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM account_unit_balances_aggregate`); err != nil {
		return 0, fmt.Errorf("failed to clear unit-balance aggregate: %w", err)
	}
	tag, err := tx.Exec(ctx, `
		INSERT INTO account_unit_balances_aggregate (account_id, client_name,
			account_number, account_type, account_category,
			xummf_units, xubf_units, xudef_units, xuref_units,
			total_units, last_transaction_date)
		SELECT a.id,
			MIN(c.name),
			MIN(a.account_number),
			MIN(a.account_type),
			MIN(a.account_category),
			COALESCE(SUM(signed.units) FILTER (WHERE f.fund_code = 'XUMMF'), 0),
			COALESCE(SUM(signed.units) FILTER (WHERE f.fund_code = 'XUBF'), 0),
			COALESCE(SUM(signed.units) FILTER (WHERE f.fund_code = 'XUDEF'), 0),
			COALESCE(SUM(signed.units) FILTER (WHERE f.fund_code = 'XUREF'), 0),
			COALESCE(SUM(signed.units), 0),
			MAX(signed.transaction_date)
		FROM (
			SELECT ft.account_id, ft.fund_id, ft.transaction_date,
				CASE WHEN ft.type = 'deposit' THEN ft.units ELSE -ft.units END AS units
			FROM fund_transactions ft
		) signed
		JOIN accounts a ON a.id = signed.account_id
		JOIN clients c ON c.id = a.client_id
		JOIN funds f ON f.id = signed.fund_id
		GROUP BY a.id`)
	if err != nil {
		return 0, fmt.Errorf("failed to rebuild unit-balance aggregate: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("failed to commit unit-balance aggregate: %w", err)
	}
	return tag.RowsAffected(), nil
}
