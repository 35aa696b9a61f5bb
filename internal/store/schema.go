package store

import (
	"context"
	"fmt"
)

// InitSchema creates the tables, indexes, and seed rows the processor
// needs. Safe to run on every start.
func (s *Store) InitSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS clients (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL UNIQUE,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS accounts (
			id TEXT PRIMARY KEY,
			client_id TEXT NOT NULL REFERENCES clients(id),
			account_number TEXT NOT NULL UNIQUE,
			account_type TEXT NOT NULL DEFAULT '',
			account_category TEXT NOT NULL DEFAULT '',
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS goals (
			id TEXT PRIMARY KEY,
			account_id TEXT NOT NULL REFERENCES accounts(id),
			goal_number TEXT NOT NULL UNIQUE,
			title TEXT NOT NULL DEFAULT '',
			goal_type TEXT NOT NULL DEFAULT '',
			risk_tolerance TEXT NOT NULL DEFAULT '',
			xummf_pct NUMERIC NOT NULL DEFAULT 0,
			xubf_pct NUMERIC NOT NULL DEFAULT 0,
			xudef_pct NUMERIC NOT NULL DEFAULT 0,
			xuref_pct NUMERIC NOT NULL DEFAULT 0,
			status TEXT NOT NULL DEFAULT 'active',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS funds (
			id TEXT PRIMARY KEY,
			fund_code TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL DEFAULT ''
		);

		CREATE TABLE IF NOT EXISTS fund_prices (
			fund_id TEXT NOT NULL REFERENCES funds(id),
			price_date DATE NOT NULL,
			bid NUMERIC NOT NULL DEFAULT 0,
			mid NUMERIC NOT NULL DEFAULT 0,
			offer NUMERIC NOT NULL DEFAULT 0,
			UNIQUE (fund_id, price_date)
		);

		CREATE TABLE IF NOT EXISTS upload_batches (
			id TEXT PRIMARY KEY,
			batch_number TEXT NOT NULL,
			file_name TEXT NOT NULL DEFAULT '',
			file_size BIGINT NOT NULL DEFAULT 0,
			file_path TEXT NOT NULL DEFAULT '',
			processing_status TEXT NOT NULL DEFAULT 'queued',
			validation_status TEXT NOT NULL DEFAULT 'pending',
			total_records INTEGER NOT NULL DEFAULT 0,
			processed_records INTEGER NOT NULL DEFAULT 0,
			failed_records INTEGER NOT NULL DEFAULT 0,
			validation_errors JSONB,
			validation_warnings JSONB,
			new_entities JSONB,
			new_entities_status TEXT NOT NULL DEFAULT 'none',
			total_amount NUMERIC NOT NULL DEFAULT 0,
			total_deposits NUMERIC NOT NULL DEFAULT 0,
			total_withdrawals NUMERIC NOT NULL DEFAULT 0,
			total_goal_transactions INTEGER NOT NULL DEFAULT 0,
			failure_reason TEXT NOT NULL DEFAULT '',
			cancel_requested BOOLEAN NOT NULL DEFAULT FALSE,
			processing_started_at TIMESTAMPTZ,
			processing_completed_at TIMESTAMPTZ,
			uploaded_by TEXT NOT NULL DEFAULT '',
			approved_by TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS fund_transactions (
			id TEXT PRIMARY KEY,
			fund_transaction_id TEXT NOT NULL DEFAULT '',
			goal_transaction_code TEXT NOT NULL,
			transaction_id TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL DEFAULT '',
			client_id TEXT NOT NULL REFERENCES clients(id),
			account_id TEXT NOT NULL REFERENCES accounts(id),
			goal_id TEXT NOT NULL REFERENCES goals(id),
			fund_id TEXT NOT NULL REFERENCES funds(id),
			upload_batch_id TEXT NOT NULL REFERENCES upload_batches(id),
			transaction_date DATE NOT NULL,
			date_created TIMESTAMPTZ,
			type TEXT NOT NULL,
			amount NUMERIC NOT NULL,
			units NUMERIC NOT NULL DEFAULT 0,
			bid NUMERIC NOT NULL DEFAULT 0,
			mid NUMERIC NOT NULL DEFAULT 0,
			offer NUMERIC NOT NULL DEFAULT 0,
			price_date DATE,
			row_number INTEGER NOT NULL,
			UNIQUE (upload_batch_id, row_number)
		);

		CREATE TABLE IF NOT EXISTS invalid_fund_transactions (
			upload_batch_id TEXT NOT NULL REFERENCES upload_batches(id),
			row_number INTEGER NOT NULL,
			raw_data JSONB,
			errors JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			UNIQUE (upload_batch_id, row_number)
		);

		CREATE TABLE IF NOT EXISTS bank_goal_transactions (
			id TEXT PRIMARY KEY,
			bank_upload_batch_id TEXT NOT NULL REFERENCES upload_batches(id),
			transaction_date DATE NOT NULL,
			first_name TEXT NOT NULL DEFAULT '',
			last_name TEXT NOT NULL DEFAULT '',
			account_number TEXT NOT NULL DEFAULT '',
			goal_name TEXT NOT NULL DEFAULT '',
			goal_number TEXT NOT NULL DEFAULT '',
			total_amount NUMERIC NOT NULL,
			xummf_pct NUMERIC NOT NULL DEFAULT 0,
			xubf_pct NUMERIC NOT NULL DEFAULT 0,
			xudef_pct NUMERIC NOT NULL DEFAULT 0,
			xuref_pct NUMERIC NOT NULL DEFAULT 0,
			xummf_amount NUMERIC NOT NULL DEFAULT 0,
			xubf_amount NUMERIC NOT NULL DEFAULT 0,
			xudef_amount NUMERIC NOT NULL DEFAULT 0,
			xuref_amount NUMERIC NOT NULL DEFAULT 0,
			type TEXT NOT NULL,
			transaction_id TEXT NOT NULL DEFAULT '',
			client_id TEXT REFERENCES clients(id),
			account_id TEXT REFERENCES accounts(id),
			goal_id TEXT REFERENCES goals(id),
			reconciliation_status TEXT NOT NULL DEFAULT 'unmatched',
			matched_goal_transaction_code TEXT,
			matching_score NUMERIC,
			review_tag TEXT,
			row_number INTEGER NOT NULL,
			UNIQUE (bank_upload_batch_id, row_number)
		);

		CREATE TABLE IF NOT EXISTS reconciliation_variances (
			id TEXT PRIMARY KEY,
			bank_goal_transaction_id TEXT REFERENCES bank_goal_transactions(id),
			fund_goal_transaction_code TEXT NOT NULL DEFAULT '',
			type TEXT NOT NULL,
			severity TEXT NOT NULL,
			fund_code TEXT NOT NULL DEFAULT '',
			amount_difference NUMERIC NOT NULL DEFAULT 0,
			date_difference_days INTEGER NOT NULL DEFAULT 0,
			resolution_status TEXT NOT NULL DEFAULT 'open',
			auto_approved BOOLEAN NOT NULL DEFAULT FALSE,
			reviewer TEXT NOT NULL DEFAULT '',
			notes TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE TABLE IF NOT EXISTS goal_transactions_aggregate (
			goal_transaction_code TEXT PRIMARY KEY,
			transaction_date DATE,
			client_name TEXT,
			account_number TEXT,
			goal_number TEXT,
			transaction_id TEXT,
			source TEXT,
			type TEXT,
			total_amount NUMERIC NOT NULL DEFAULT 0,
			xummf_amount NUMERIC NOT NULL DEFAULT 0,
			xubf_amount NUMERIC NOT NULL DEFAULT 0,
			xudef_amount NUMERIC NOT NULL DEFAULT 0,
			xuref_amount NUMERIC NOT NULL DEFAULT 0,
			fund_count INTEGER NOT NULL DEFAULT 0,
			deposit_count INTEGER NOT NULL DEFAULT 0,
			withdrawal_count INTEGER NOT NULL DEFAULT 0
		);

		CREATE TABLE IF NOT EXISTS account_unit_balances_aggregate (
			account_id TEXT PRIMARY KEY,
			client_name TEXT,
			account_number TEXT,
			account_type TEXT,
			account_category TEXT,
			xummf_units NUMERIC NOT NULL DEFAULT 0,
			xubf_units NUMERIC NOT NULL DEFAULT 0,
			xudef_units NUMERIC NOT NULL DEFAULT 0,
			xuref_units NUMERIC NOT NULL DEFAULT 0,
			total_units NUMERIC NOT NULL DEFAULT 0,
			last_transaction_date DATE
		);

		CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			payload JSONB NOT NULL,
			state TEXT NOT NULL DEFAULT 'pending',
			attempts INTEGER NOT NULL DEFAULT 0,
			run_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			locked_until TIMESTAMPTZ,
			started_at TIMESTAMPTZ,
			finished_at TIMESTAMPTZ,
			last_error TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);

		CREATE INDEX IF NOT EXISTS idx_fund_txns_goal ON fund_transactions(goal_id, transaction_date);
		CREATE INDEX IF NOT EXISTS idx_fund_txns_code ON fund_transactions(goal_transaction_code);
		CREATE INDEX IF NOT EXISTS idx_bank_txns_goal_status ON bank_goal_transactions(goal_number, reconciliation_status);
		CREATE INDEX IF NOT EXISTS idx_variances_review ON reconciliation_variances(resolution_status, severity);
		CREATE INDEX IF NOT EXISTS idx_jobs_claim ON jobs(state, run_at);
		CREATE INDEX IF NOT EXISTS idx_batches_created ON upload_batches(created_at DESC);
	`)
	if err != nil {
		return fmt.Errorf("failed to create tables: %w", err)
	}

	// Seed the fixed fund universe.
	_, err = s.pool.Exec(ctx, `
		INSERT INTO funds (id, fund_code, name) VALUES
			('fund-xummf', 'XUMMF', 'Money Market Fund'),
			('fund-xubf', 'XUBF', 'Bond Fund'),
			('fund-xudef', 'XUDEF', 'Domestic Equity Fund'),
			('fund-xuref', 'XUREF', 'Regional Equity Fund')
		ON CONFLICT (fund_code) DO NOTHING`)
	if err != nil {
		return fmt.Errorf("failed to seed funds: %w", err)
	}

	s.logger.Info("database schema initialized")
	return nil
}
