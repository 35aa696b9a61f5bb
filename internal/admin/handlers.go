package admin

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/pipeline"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/queue"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/store"
)

// createUploadRequest registers an already-staged file for processing.
type createUploadRequest struct {
	FileName   string `json:"fileName"`
	FilePath   string `json:"filePath"`
	FileSize   int64  `json:"fileSize"`
	UploadedBy string `json:"uploadedBy"`
	Kind       string `json:"kind"` // "fund" or "bank"
}

func (s *Server) handleCreateUpload(w http.ResponseWriter, r *http.Request) {
	var req createUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.FileName == "" || req.FilePath == "" {
		s.writeError(w, http.StatusBadRequest, "fileName and filePath are required")
		return
	}
	jobName := queue.JobProcessNewUpload
	switch req.Kind {
	case "", "fund":
	case "bank":
		jobName = queue.JobProcessBankUpload
	default:
		s.writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown upload kind %q", req.Kind))
		return
	}

	batch, err := s.db.CreateUploadBatch(r.Context(), model.UploadBatch{
		FileName:   req.FileName,
		FilePath:   req.FilePath,
		FileSize:   req.FileSize,
		UploadedBy: req.UploadedBy,
	})
	if err != nil {
		s.logger.Error("failed to create upload batch", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to create upload batch")
		return
	}

	jobID, err := s.jobs.Enqueue(r.Context(), jobName, queue.Payload{
		BatchID:  batch.ID,
		FilePath: req.FilePath,
	})
	if err != nil {
		s.logger.Error("failed to enqueue upload job",
			zap.String("batch_id", batch.ID), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue processing job")
		return
	}

	s.metrics.inc(&s.metrics.uploadsCreated)
	s.writeJSON(w, http.StatusCreated, map[string]any{
		"id":          batch.ID,
		"batchNumber": batch.BatchNumber,
		"status":      batch.ProcessingStatus,
		"jobId":       jobID,
	})
}

func (s *Server) handleListBatches(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	offset := queryInt(r, "offset", 0)
	status := model.ProcessingStatus(r.URL.Query().Get("status"))
	batches, err := s.db.ListBatches(r.Context(), status, limit, offset)
	if err != nil {
		s.logger.Error("failed to list batches", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list batches")
		return
	}
	out := make([]map[string]any, 0, len(batches))
	for i := range batches {
		out = append(out, batchSummary(&batches[i]))
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"batches": out})
}

// Status-surface caps: the quick view truncates the error lists; the full
// lists stay on the summary endpoint.
const (
	maxSurfacedErrors   = 50
	maxSurfacedWarnings = 100
)

func (s *Server) handleGetBatch(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.loadBatch(w, r)
	if !ok {
		return
	}
	body := batchSummary(batch)
	body["validationErrors"] = truncateErrors(batch.ValidationErrors, maxSurfacedErrors)
	body["validationWarnings"] = truncateErrors(batch.ValidationWarnings, maxSurfacedWarnings)
	body["validationErrorCount"] = len(batch.ValidationErrors)
	body["validationWarningCount"] = len(batch.ValidationWarnings)
	body["failureReason"] = batch.FailureReason
	s.writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleBatchSummary(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.loadBatch(w, r)
	if !ok {
		return
	}
	body := batchSummary(batch)
	body["validationErrors"] = batch.ValidationErrors
	body["validationWarnings"] = batch.ValidationWarnings
	body["newEntities"] = batch.NewEntities
	body["failureReason"] = batch.FailureReason
	s.writeJSON(w, http.StatusOK, body)
}

func truncateErrors(errs []model.RowError, max int) []model.RowError {
	if len(errs) <= max {
		return errs
	}
	return errs[:max]
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	ok, err := s.db.RequestCancel(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to request cancel", zap.String("batch_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to request cancellation")
		return
	}
	if !ok {
		s.writeError(w, http.StatusConflict, "batch is already in a terminal state")
		return
	}
	s.metrics.inc(&s.metrics.cancelsRequested)
	s.writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "cancel": "requested"})
}

func (s *Server) handleRollback(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	result, err := s.runner.Rollback(r.Context(), id)
	if errors.Is(err, store.ErrBatchProcessing) {
		s.writeError(w, http.StatusConflict, "batch is still processing; cancel it first")
		return
	}
	if err != nil {
		s.logger.Error("failed to roll back batch", zap.String("batch_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "rollback failed")
		return
	}
	s.metrics.inc(&s.metrics.rollbacksRun)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":                      id,
		"fundTransactionsDeleted": result.FundTransactions,
		"bankTransactionsDeleted": result.BankTransactions,
		"goalsDeleted":            result.Goals,
		"accountsDeleted":         result.Accounts,
		"clientsDeleted":          result.Clients,
	})
}

func (s *Server) handleNewEntities(w http.ResponseWriter, r *http.Request) {
	batch, ok := s.loadBatch(w, r)
	if !ok {
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"id":       batch.ID,
		"status":   batch.NewEntitiesStatus,
		"entities": batch.NewEntities,
	})
}

// entitiesDecisionRequest records the operator's verdict on a paused batch.
type entitiesDecisionRequest struct {
	Approved bool   `json:"approved"`
	Actor    string `json:"actor"`
}

func (s *Server) handleEntitiesDecision(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req entitiesDecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Actor == "" {
		s.writeError(w, http.StatusBadRequest, "actor is required")
		return
	}

	status := model.EntitiesApproved
	if !req.Approved {
		status = model.EntitiesRejected
	}
	ok, err := s.db.SetEntitiesDecision(r.Context(), id, status, req.Actor)
	if err != nil {
		s.logger.Error("failed to record entities decision", zap.String("batch_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to record decision")
		return
	}
	if !ok {
		s.writeError(w, http.StatusConflict, "batch has no pending entity approval")
		return
	}

	if !req.Approved {
		if _, err := s.db.TransitionBatch(r.Context(), id, model.BatchFailed,
			model.BatchWaitingForApproval); err != nil {
			s.logger.Error("failed to fail rejected batch", zap.String("batch_id", id), zap.Error(err))
			s.writeError(w, http.StatusInternalServerError, "failed to update batch")
			return
		}
		s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "entities": "rejected"})
		return
	}

	batch, err := s.db.GetBatch(r.Context(), id)
	if err != nil || batch == nil {
		s.logger.Error("failed to reload batch after approval", zap.String("batch_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to reload batch")
		return
	}
	jobID, err := s.jobs.Enqueue(r.Context(), queue.JobResumeAfterApproval, queue.Payload{
		BatchID:  id,
		FilePath: batch.FilePath,
	})
	if err != nil {
		s.logger.Error("failed to enqueue resume job", zap.String("batch_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to enqueue resume job")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "entities": "approved", "jobId": jobID})
}

// matchRunRequest triggers one bounded reconciliation pass. ApplyUpdates
// defaults to true; false runs a dry run that only reports what a real run
// would do.
type matchRunRequest struct {
	StartDate    string `json:"startDate"`
	EndDate      string `json:"endDate"`
	BatchSize    int    `json:"batchSize"`
	Offset       int    `json:"offset"`
	ApplyUpdates *bool  `json:"applyUpdates"`
}

// matchBatchSizes are the goal-page sizes an operator may request.
var matchBatchSizes = map[int]bool{100: true, 500: true, 1000: true, 5000: true}

func (s *Server) handleMatchRun(w http.ResponseWriter, r *http.Request) {
	req := matchRunRequest{BatchSize: 500}
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
	}
	if !matchBatchSizes[req.BatchSize] {
		s.writeError(w, http.StatusBadRequest, "batchSize must be one of 100, 500, 1000, 5000")
		return
	}
	if req.Offset < 0 {
		s.writeError(w, http.StatusBadRequest, "offset must not be negative")
		return
	}

	params := pipeline.MatchParams{
		BatchSize:    req.BatchSize,
		Offset:       req.Offset,
		ApplyUpdates: req.ApplyUpdates == nil || *req.ApplyUpdates,
	}
	var err error
	if params.StartDate, err = parseDay(req.StartDate); err != nil {
		s.writeError(w, http.StatusBadRequest, "startDate must be YYYY-MM-DD")
		return
	}
	if params.EndDate, err = parseDay(req.EndDate); err != nil {
		s.writeError(w, http.StatusBadRequest, "endDate must be YYYY-MM-DD")
		return
	}

	report, err := s.runner.RunMatching(r.Context(), params)
	if err != nil {
		s.logger.Error("matching run failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "matching run failed")
		return
	}
	s.metrics.inc(&s.metrics.matchingRuns)
	s.writeJSON(w, http.StatusOK, map[string]any{
		"processed": report.GoalsProcessed,
		"matchBreakdown": map[string]any{
			"pairs":         report.Pairs,
			"netted":        report.Netted,
			"missingInFund": report.MissingInFund,
			"variances":     report.Variances,
		},
		"hasMore":    !report.Done,
		"nextOffset": report.NextOffset,
	})
}

func parseDay(v string) (time.Time, error) {
	if v == "" {
		return time.Time{}, nil
	}
	return time.Parse("2006-01-02", v)
}

func (s *Server) handleFundPrices(w http.ResponseWriter, r *http.Request) {
	var (
		prices map[model.FundCode]model.FundPrice
		err    error
	)
	if v := r.URL.Query().Get("date"); v != "" {
		date, perr := time.Parse("2006-01-02", v)
		if perr != nil {
			s.writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
			return
		}
		prices, err = s.prices.ForDate(r.Context(), date)
	} else {
		prices, err = s.prices.Latest(r.Context())
	}
	if err != nil {
		s.logger.Error("failed to load fund prices", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load fund prices")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"prices": prices})
}

func (s *Server) handleListVariances(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := store.VarianceFilter{
		Severity:         model.VarianceSeverity(q.Get("severity")),
		Type:             model.VarianceType(q.Get("type")),
		ResolutionStatus: model.ResolutionStatus(q.Get("resolutionStatus")),
		Limit:            queryInt(r, "limit", 100),
		Offset:           queryInt(r, "offset", 0),
	}
	if v := q.Get("autoApproved"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, "autoApproved must be true or false")
			return
		}
		filter.AutoApproved = &b
	}

	variances, err := s.db.ListVariances(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list variances", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to list variances")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"variances": variances})
}

// resolveVarianceRequest closes out one variance.
type resolveVarianceRequest struct {
	Decision string `json:"decision"` // "approved" or "disputed"
	Notes    string `json:"notes"`
	Actor    string `json:"actor"`
}

func (s *Server) handleResolveVariance(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req resolveVarianceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	var status model.ResolutionStatus
	switch req.Decision {
	case "approved":
		status = model.ResolutionApproved
	case "disputed":
		status = model.ResolutionDisputed
	default:
		s.writeError(w, http.StatusBadRequest, "decision must be approved or disputed")
		return
	}

	ok, err := s.db.ResolveVariance(r.Context(), id, status, req.Notes, req.Actor)
	if errors.Is(err, store.ErrResolutionNote) {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.logger.Error("failed to resolve variance", zap.String("variance_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to resolve variance")
		return
	}
	if !ok {
		s.writeError(w, http.StatusConflict, "variance is not open")
		return
	}
	s.metrics.inc(&s.metrics.variancesResolved)
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "resolution": req.Decision})
}

func (s *Server) loadBatch(w http.ResponseWriter, r *http.Request) (*model.UploadBatch, bool) {
	id := r.PathValue("id")
	batch, err := s.db.GetBatch(r.Context(), id)
	if err != nil {
		s.logger.Error("failed to load batch", zap.String("batch_id", id), zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "failed to load batch")
		return nil, false
	}
	if batch == nil {
		s.writeError(w, http.StatusNotFound, "batch not found")
		return nil, false
	}
	return batch, true
}

func batchSummary(b *model.UploadBatch) map[string]any {
	return map[string]any{
		"id":                    b.ID,
		"batchNumber":           b.BatchNumber,
		"fileName":              b.FileName,
		"processingStatus":      b.ProcessingStatus,
		"validationStatus":      b.ValidationStatus,
		"newEntitiesStatus":     b.NewEntitiesStatus,
		"totalRecords":          b.TotalRecords,
		"processedRecords":      b.ProcessedRecords,
		"failedRecords":         b.FailedRecords,
		"totalAmount":           b.TotalAmount,
		"totalDeposits":         b.TotalDeposits,
		"totalWithdrawals":      b.TotalWithdrawals,
		"totalGoalTransactions": b.TotalGoalTransactions,
		"uploadedBy":            b.UploadedBy,
		"createdAt":             b.CreatedAt,
		"updatedAt":             b.UpdatedAt,
	}
}

func queryInt(r *http.Request, name string, def int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return def
	}
	return n
}
