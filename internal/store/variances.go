package store

import (
	"context"
	"errors"
	"fmt"

	sq "github.com/Masterminds/squirrel"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

// ErrResolutionNote is returned when a variance resolution arrives without
// the mandatory note or actor.
var ErrResolutionNote = errors.New("variance resolution requires a note and an actor")

// InsertVariances persists classifier output. The fund-side code and fund
// code columns are NOT NULL with empty-string defaults, so absent values
// are bound as ” rather than NULL.
func (s *Store) InsertVariances(ctx context.Context, vars []model.ReconciliationVariance) error {
	for _, v := range vars {
		code := ""
		if v.FundGoalTransactionCode != nil {
			code = *v.FundGoalTransactionCode
		}
		fundCode := ""
		if v.FundCode != nil {
			fundCode = string(*v.FundCode)
		}
		_, err := s.pool.Exec(ctx, `
			INSERT INTO reconciliation_variances (id, bank_goal_transaction_id,
				fund_goal_transaction_code, type, severity, fund_code,
				amount_difference, date_difference_days, resolution_status,
				auto_approved, reviewer, notes, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
			v.ID, nullable(v.BankGoalTransactionID), code,
			v.Type, v.Severity, fundCode,
			v.AmountDifference, v.DateDifferenceDays, v.ResolutionStatus,
			v.AutoApproved, v.Reviewer, v.Notes, v.CreatedAt)
		if err != nil {
			return fmt.Errorf("failed to insert variance: %w", err)
		}
	}
	return nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// VarianceFilter narrows the review queue. Zero-valued fields are ignored.
type VarianceFilter struct {
	Severity         model.VarianceSeverity
	Type             model.VarianceType
	ResolutionStatus model.ResolutionStatus
	AutoApproved     *bool
	Limit            int
	Offset           int
}

// ListVariances returns the review queue, most severe and newest first.
func (s *Store) ListVariances(ctx context.Context, f VarianceFilter) ([]model.ReconciliationVariance, error) {
	q := sq.Select("id", "bank_goal_transaction_id", "fund_goal_transaction_code",
		"type", "severity", "fund_code", "amount_difference", "date_difference_days",
		"resolution_status", "auto_approved", "reviewer", "notes", "created_at").
		From("reconciliation_variances").
		PlaceholderFormat(sq.Dollar).
		OrderBy(`CASE severity
			WHEN 'critical' THEN 0 WHEN 'high' THEN 1
			WHEN 'medium' THEN 2 ELSE 3 END`, "created_at DESC")

	if f.Severity != "" {
		q = q.Where(sq.Eq{"severity": f.Severity})
	}
	if f.Type != "" {
		q = q.Where(sq.Eq{"type": f.Type})
	}
	if f.ResolutionStatus != "" {
		q = q.Where(sq.Eq{"resolution_status": f.ResolutionStatus})
	}
	if f.AutoApproved != nil {
		q = q.Where(sq.Eq{"auto_approved": *f.AutoApproved})
	}
	if f.Limit > 0 {
		q = q.Limit(uint64(f.Limit))
	}
	if f.Offset > 0 {
		q = q.Offset(uint64(f.Offset))
	}

	sql, args, err := q.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build variance query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list variances: %w", err)
	}
	defer rows.Close()

	var out []model.ReconciliationVariance
	for rows.Next() {
		var v model.ReconciliationVariance
		var bankID *string
		var code, fundCode string
		if err := rows.Scan(&v.ID, &bankID, &code,
			&v.Type, &v.Severity, &fundCode, &v.AmountDifference,
			&v.DateDifferenceDays, &v.ResolutionStatus, &v.AutoApproved,
			&v.Reviewer, &v.Notes, &v.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan variance: %w", err)
		}
		if bankID != nil {
			v.BankGoalTransactionID = *bankID
		}
		if code != "" {
			v.FundGoalTransactionCode = &code
		}
		if fundCode != "" {
			fc := model.FundCode(fundCode)
			v.FundCode = &fc
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// ResolveVariance records a review decision. The note and actor are
// mandatory; resolving an unknown or already-resolved variance returns
// false.
func (s *Store) ResolveVariance(ctx context.Context, id string, status model.ResolutionStatus, note, actor string) (bool, error) {
	if note == "" || actor == "" {
		return false, ErrResolutionNote
	}
	if status != model.ResolutionApproved && status != model.ResolutionDisputed {
		return false, fmt.Errorf("invalid resolution status %q", status)
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE reconciliation_variances
		SET resolution_status = $2, reviewer = $3, notes = $4
		WHERE id = $1 AND resolution_status = $5`,
		id, status, actor, note, model.ResolutionOpen)
	if err != nil {
		return false, fmt.Errorf("failed to resolve variance %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}
