package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

const batchColumns = `
	id, batch_number, file_name, file_size, file_path,
	processing_status, validation_status,
	total_records, processed_records, failed_records,
	validation_errors, validation_warnings,
	new_entities, new_entities_status,
	total_amount, total_deposits, total_withdrawals, total_goal_transactions,
	failure_reason, cancel_requested,
	processing_started_at, processing_completed_at,
	uploaded_by, approved_by, created_at, updated_at`

// CreateUploadBatch persists a freshly uploaded batch in the queued state
// and returns it.
func (s *Store) CreateUploadBatch(ctx context.Context, b model.UploadBatch) (model.UploadBatch, error) {
	if b.ID == "" {
		b.ID = uuid.New().String()
	}
	if b.BatchNumber == "" {
		b.BatchNumber = fmt.Sprintf("UB-%s", time.Now().UTC().Format("20060102-150405"))
	}
	b.ProcessingStatus = model.BatchQueued
	b.ValidationStatus = model.ValidationPending
	b.NewEntitiesStatus = model.EntitiesNone

	_, err := s.pool.Exec(ctx, `
		INSERT INTO upload_batches (id, batch_number, file_name, file_size, file_path,
			processing_status, validation_status, new_entities_status, uploaded_by,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())`,
		b.ID, b.BatchNumber, b.FileName, b.FileSize, b.FilePath,
		b.ProcessingStatus, b.ValidationStatus, b.NewEntitiesStatus, b.UploadedBy)
	if err != nil {
		return model.UploadBatch{}, fmt.Errorf("failed to create upload batch: %w", err)
	}
	return b, nil
}

// GetBatch loads one batch, or nil when the id is unknown.
func (s *Store) GetBatch(ctx context.Context, id string) (*model.UploadBatch, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+batchColumns+` FROM upload_batches WHERE id = $1`, id)

	var b model.UploadBatch
	var errsJSON, warnsJSON, entitiesJSON []byte
	err := row.Scan(&b.ID, &b.BatchNumber, &b.FileName, &b.FileSize, &b.FilePath,
		&b.ProcessingStatus, &b.ValidationStatus,
		&b.TotalRecords, &b.ProcessedRecords, &b.FailedRecords,
		&errsJSON, &warnsJSON,
		&entitiesJSON, &b.NewEntitiesStatus,
		&b.TotalAmount, &b.TotalDeposits, &b.TotalWithdrawals, &b.TotalGoalTransactions,
		&b.FailureReason, &b.CancelRequested,
		&b.ProcessingStartedAt, &b.ProcessingCompletedAt,
		&b.UploadedBy, &b.ApprovedBy, &b.CreatedAt, &b.UpdatedAt)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load batch %s: %w", id, err)
	}

	if len(errsJSON) > 0 {
		if err := json.Unmarshal(errsJSON, &b.ValidationErrors); err != nil {
			return nil, fmt.Errorf("failed to decode validation errors: %w", err)
		}
	}
	if len(warnsJSON) > 0 {
		if err := json.Unmarshal(warnsJSON, &b.ValidationWarnings); err != nil {
			return nil, fmt.Errorf("failed to decode validation warnings: %w", err)
		}
	}
	if len(entitiesJSON) > 0 {
		if err := json.Unmarshal(entitiesJSON, &b.NewEntities); err != nil {
			return nil, fmt.Errorf("failed to decode new-entities report: %w", err)
		}
	}
	return &b, nil
}

// TransitionBatch moves a batch between processing states, guarding the
// allowed source states so two actors cannot race a transition. It returns
// false when the batch was not in any of the expected states.
func (s *Store) TransitionBatch(ctx context.Context, id string, to model.ProcessingStatus, from ...model.ProcessingStatus) (bool, error) {
	fromStates := make([]string, len(from))
	for i, f := range from {
		fromStates[i] = string(f)
	}

	var startedClause string
	switch to {
	case model.BatchParsing:
		startedClause = `, processing_started_at = COALESCE(processing_started_at, now())`
	case model.BatchCompleted, model.BatchFailed, model.BatchCanceled:
		startedClause = `, processing_completed_at = now()`
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE upload_batches
		SET processing_status = $2, updated_at = now()`+startedClause+`
		WHERE id = $1 AND processing_status = ANY($3)`,
		id, to, fromStates)
	if err != nil {
		return false, fmt.Errorf("failed to transition batch %s to %s: %w", id, to, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetBatchValidation stores the validator outcome and the error and
// warning lists.
func (s *Store) SetBatchValidation(ctx context.Context, id string, status model.ValidationStatus, errs, warns []model.RowError) error {
	errsJSON, err := json.Marshal(errs)
	if err != nil {
		return fmt.Errorf("failed to encode validation errors: %w", err)
	}
	warnsJSON, err := json.Marshal(warns)
	if err != nil {
		return fmt.Errorf("failed to encode validation warnings: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE upload_batches
		SET validation_status = $2, validation_errors = $3, validation_warnings = $4, updated_at = now()
		WHERE id = $1`,
		id, status, errsJSON, warnsJSON)
	if err != nil {
		return fmt.Errorf("failed to store validation outcome for batch %s: %w", id, err)
	}
	return nil
}

// SetBatchCounts updates the record counters and monetary totals.
func (s *Store) SetBatchCounts(ctx context.Context, id string, b model.UploadBatch) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE upload_batches
		SET total_records = $2, processed_records = $3, failed_records = $4,
			total_amount = $5, total_deposits = $6, total_withdrawals = $7,
			total_goal_transactions = $8, updated_at = now()
		WHERE id = $1`,
		id, b.TotalRecords, b.ProcessedRecords, b.FailedRecords,
		b.TotalAmount, b.TotalDeposits, b.TotalWithdrawals, b.TotalGoalTransactions)
	if err != nil {
		return fmt.Errorf("failed to update batch counts for %s: %w", id, err)
	}
	return nil
}

// SetNewEntities stores the detection report and flips the approval flag.
func (s *Store) SetNewEntities(ctx context.Context, id string, report *model.NewEntitiesReport, status model.NewEntitiesStatus) error {
	reportJSON, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to encode new-entities report: %w", err)
	}
	_, err = s.pool.Exec(ctx, `
		UPDATE upload_batches
		SET new_entities = $2, new_entities_status = $3, updated_at = now()
		WHERE id = $1`,
		id, reportJSON, status)
	if err != nil {
		return fmt.Errorf("failed to store new-entities report for batch %s: %w", id, err)
	}
	return nil
}

// SetEntitiesDecision records approval or rejection of the pending
// entities, along with the approver.
func (s *Store) SetEntitiesDecision(ctx context.Context, id string, status model.NewEntitiesStatus, approvedBy string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE upload_batches
		SET new_entities_status = $2, approved_by = $3, updated_at = now()
		WHERE id = $1 AND new_entities_status = $4`,
		id, status, approvedBy, model.EntitiesPending)
	if err != nil {
		return false, fmt.Errorf("failed to record entities decision for batch %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// SetBatchFailure marks the batch failed with a structured reason.
func (s *Store) SetBatchFailure(ctx context.Context, id, reason string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE upload_batches
		SET processing_status = $2, failure_reason = $3,
			processing_completed_at = now(), updated_at = now()
		WHERE id = $1`,
		id, model.BatchFailed, reason)
	if err != nil {
		return fmt.Errorf("failed to mark batch %s failed: %w", id, err)
	}
	return nil
}

// RequestCancel flips the cooperative cancellation flag. The worker checks
// it between pipeline stages and between write chunks.
func (s *Store) RequestCancel(ctx context.Context, id string) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE upload_batches
		SET cancel_requested = TRUE, updated_at = now()
		WHERE id = $1 AND processing_status NOT IN ($2, $3, $4)`,
		id, model.BatchCompleted, model.BatchFailed, model.BatchCanceled)
	if err != nil {
		return false, fmt.Errorf("failed to request cancel for batch %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

// CancelRequested reads the cooperative cancellation flag.
func (s *Store) CancelRequested(ctx context.Context, id string) (bool, error) {
	var requested bool
	err := s.pool.QueryRow(ctx,
		`SELECT cancel_requested FROM upload_batches WHERE id = $1`, id).Scan(&requested)
	if isNoRows(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to read cancel flag for batch %s: %w", id, err)
	}
	return requested, nil
}

// ListBatches returns recent batches, newest first. An empty status lists
// every batch.
func (s *Store) ListBatches(ctx context.Context, status model.ProcessingStatus, limit, offset int) ([]model.UploadBatch, error) {
	if limit <= 0 {
		limit = 50
	}
	query := sq.Select("id", "batch_number", "file_name", "processing_status",
		"validation_status", "total_records", "processed_records", "failed_records",
		"new_entities_status", "total_amount", "created_at", "updated_at").
		From("upload_batches").
		OrderBy("created_at DESC").
		Limit(uint64(limit)).
		Offset(uint64(offset)).
		PlaceholderFormat(sq.Dollar)
	if status != "" {
		query = query.Where(sq.Eq{"processing_status": status})
	}
	sql, args, err := query.ToSql()
	if err != nil {
		return nil, fmt.Errorf("failed to build batch list query: %w", err)
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list batches: %w", err)
	}
	defer rows.Close()

	var out []model.UploadBatch
	for rows.Next() {
		var b model.UploadBatch
		if err := rows.Scan(&b.ID, &b.BatchNumber, &b.FileName, &b.ProcessingStatus,
			&b.ValidationStatus, &b.TotalRecords, &b.ProcessedRecords, &b.FailedRecords,
			&b.NewEntitiesStatus, &b.TotalAmount, &b.CreatedAt, &b.UpdatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
