package admin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/pipeline"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/queue"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/store"
)

type fakeBatches struct {
	batches    map[string]*model.UploadBatch
	created    []model.UploadBatch
	cancelOK   bool
	decisionOK bool
	resolveOK  bool
	resolveErr error
	decisions  []model.NewEntitiesStatus
	variances  []model.ReconciliationVariance
	lastFilter store.VarianceFilter
	lastStatus model.ProcessingStatus
}

func newFakeBatches() *fakeBatches {
	return &fakeBatches{
		batches:    map[string]*model.UploadBatch{},
		cancelOK:   true,
		decisionOK: true,
		resolveOK:  true,
	}
}

func (f *fakeBatches) CreateUploadBatch(ctx context.Context, b model.UploadBatch) (model.UploadBatch, error) {
	b.ID = "batch-1"
	b.BatchNumber = "UB-20250225-120000"
	b.ProcessingStatus = model.BatchQueued
	f.created = append(f.created, b)
	f.batches[b.ID] = &b
	return b, nil
}

func (f *fakeBatches) GetBatch(ctx context.Context, id string) (*model.UploadBatch, error) {
	return f.batches[id], nil
}

func (f *fakeBatches) ListBatches(ctx context.Context, status model.ProcessingStatus, limit, offset int) ([]model.UploadBatch, error) {
	f.lastStatus = status
	var out []model.UploadBatch
	for _, b := range f.batches {
		if status != "" && b.ProcessingStatus != status {
			continue
		}
		out = append(out, *b)
	}
	return out, nil
}

func (f *fakeBatches) RequestCancel(ctx context.Context, id string) (bool, error) {
	return f.cancelOK, nil
}

func (f *fakeBatches) SetEntitiesDecision(ctx context.Context, id string, status model.NewEntitiesStatus, approvedBy string) (bool, error) {
	f.decisions = append(f.decisions, status)
	return f.decisionOK, nil
}

func (f *fakeBatches) TransitionBatch(ctx context.Context, id string, to model.ProcessingStatus, from ...model.ProcessingStatus) (bool, error) {
	if b, ok := f.batches[id]; ok {
		b.ProcessingStatus = to
	}
	return true, nil
}

func (f *fakeBatches) ListVariances(ctx context.Context, filter store.VarianceFilter) ([]model.ReconciliationVariance, error) {
	f.lastFilter = filter
	return f.variances, nil
}

func (f *fakeBatches) ResolveVariance(ctx context.Context, id string, status model.ResolutionStatus, note, actor string) (bool, error) {
	if f.resolveErr != nil {
		return false, f.resolveErr
	}
	return f.resolveOK, nil
}

type fakeRunner struct {
	report      pipeline.MatchReport
	lastParams  pipeline.MatchParams
	rollbackErr error
}

func (f *fakeRunner) RunMatching(ctx context.Context, params pipeline.MatchParams) (pipeline.MatchReport, error) {
	f.lastParams = params
	return f.report, nil
}

func (f *fakeRunner) Rollback(ctx context.Context, batchID string) (store.RollbackResult, error) {
	if f.rollbackErr != nil {
		return store.RollbackResult{}, f.rollbackErr
	}
	return store.RollbackResult{FundTransactions: 12, Goals: 1}, nil
}

type fakeEnqueuer struct {
	jobs []string
}

func (f *fakeEnqueuer) Enqueue(ctx context.Context, name string, p queue.Payload) (string, error) {
	f.jobs = append(f.jobs, name)
	return "job-1", nil
}

type fakePrices struct {
	latestCalls int
	dateCalls   int
}

func (f *fakePrices) Latest(context.Context) (map[model.FundCode]model.FundPrice, error) {
	f.latestCalls++
	return map[model.FundCode]model.FundPrice{
		model.FundXUMMF: {FundCode: model.FundXUMMF},
	}, nil
}

func (f *fakePrices) ForDate(_ context.Context, date time.Time) (map[model.FundCode]model.FundPrice, error) {
	f.dateCalls++
	return map[model.FundCode]model.FundPrice{
		model.FundXUMMF: {FundCode: model.FundXUMMF, PriceDate: date},
	}, nil
}

func newTestServer() (*Server, *fakeBatches, *fakeRunner, *fakeEnqueuer) {
	db := newFakeBatches()
	runner := &fakeRunner{}
	jobs := &fakeEnqueuer{}
	return NewServer(db, runner, jobs, &fakePrices{}, zap.NewNop()), db, runner, jobs
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestCreateUploadEnqueuesFundJob(t *testing.T) {
	s, db, _, jobs := newTestServer()
	rec := do(t, s, http.MethodPost, "/api/upload-batches",
		`{"fileName":"jan.csv","filePath":"/uploads/jan.csv","fileSize":1024,"uploadedBy":"ops"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	require.Len(t, db.created, 1)
	assert.Equal(t, "jan.csv", db.created[0].FileName)
	assert.Equal(t, []string{queue.JobProcessNewUpload}, jobs.jobs)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "batch-1", body["id"])
	assert.Equal(t, "job-1", body["jobId"])
}

func TestCreateUploadBankKindRoutesToBankJob(t *testing.T) {
	s, _, _, jobs := newTestServer()
	rec := do(t, s, http.MethodPost, "/api/upload-batches",
		`{"fileName":"stmt.csv","filePath":"/uploads/stmt.csv","kind":"bank"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, []string{queue.JobProcessBankUpload}, jobs.jobs)
}

func TestCreateUploadRejectsMissingFields(t *testing.T) {
	s, _, _, _ := newTestServer()
	rec := do(t, s, http.MethodPost, "/api/upload-batches", `{"fileName":"jan.csv"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListBatchesPassesStatusFilter(t *testing.T) {
	s, db, _, _ := newTestServer()
	db.batches["b1"] = &model.UploadBatch{ID: "b1", ProcessingStatus: model.BatchCompleted}
	db.batches["b2"] = &model.UploadBatch{ID: "b2", ProcessingStatus: model.BatchFailed}

	rec := do(t, s, http.MethodGet, "/api/upload-batches?status=failed", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.BatchFailed, db.lastStatus)

	var body map[string][]map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body["batches"], 1)
	assert.Equal(t, "b2", body["batches"][0]["id"])
}

func TestGetBatchNotFound(t *testing.T) {
	s, _, _, _ := newTestServer()
	rec := do(t, s, http.MethodGet, "/api/upload-batches/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetBatchTruncatesErrorLists(t *testing.T) {
	s, db, _, _ := newTestServer()
	batch := &model.UploadBatch{ID: "b1", ProcessingStatus: model.BatchFailed}
	for i := 0; i < 80; i++ {
		batch.ValidationErrors = append(batch.ValidationErrors,
			model.RowError{RowNumber: i + 2, Code: "AMOUNT_OUT_OF_RANGE"})
	}
	for i := 0; i < 150; i++ {
		batch.ValidationWarnings = append(batch.ValidationWarnings,
			model.RowError{RowNumber: i + 2, Code: "ZERO_AMOUNT"})
	}
	db.batches["b1"] = batch

	rec := do(t, s, http.MethodGet, "/api/upload-batches/b1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body["validationErrors"], 50)
	assert.Len(t, body["validationWarnings"], 100)
	assert.Equal(t, float64(80), body["validationErrorCount"])
	assert.Equal(t, float64(150), body["validationWarningCount"])

	// The summary endpoint keeps the full lists.
	rec = do(t, s, http.MethodGet, "/api/upload-batches/b1/summary", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body["validationErrors"], 80)
	assert.Len(t, body["validationWarnings"], 150)
}

func TestCancelConflictWhenTerminal(t *testing.T) {
	s, db, _, _ := newTestServer()
	db.cancelOK = false
	rec := do(t, s, http.MethodPost, "/api/upload-batches/b1/cancel", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRollbackConflictWhileProcessing(t *testing.T) {
	s, _, runner, _ := newTestServer()
	runner.rollbackErr = store.ErrBatchProcessing
	rec := do(t, s, http.MethodPost, "/api/upload-batches/b1/rollback", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRollbackReportsCounts(t *testing.T) {
	s, _, _, _ := newTestServer()
	rec := do(t, s, http.MethodPost, "/api/upload-batches/b1/rollback", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(12), body["fundTransactionsDeleted"])
	assert.Equal(t, float64(1), body["goalsDeleted"])
}

func TestApproveEntitiesEnqueuesResume(t *testing.T) {
	s, db, _, jobs := newTestServer()
	db.batches["b1"] = &model.UploadBatch{
		ID:                "b1",
		FilePath:          "/uploads/jan.csv",
		ProcessingStatus:  model.BatchWaitingForApproval,
		NewEntitiesStatus: model.EntitiesPending,
	}

	rec := do(t, s, http.MethodPost, "/api/upload-batches/b1/entities-decision",
		`{"approved":true,"actor":"ops"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []model.NewEntitiesStatus{model.EntitiesApproved}, db.decisions)
	assert.Equal(t, []string{queue.JobResumeAfterApproval}, jobs.jobs)
}

func TestRejectEntitiesFailsBatch(t *testing.T) {
	s, db, _, jobs := newTestServer()
	db.batches["b1"] = &model.UploadBatch{
		ID:               "b1",
		ProcessingStatus: model.BatchWaitingForApproval,
	}

	rec := do(t, s, http.MethodPost, "/api/upload-batches/b1/entities-decision",
		`{"approved":false,"actor":"ops"}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []model.NewEntitiesStatus{model.EntitiesRejected}, db.decisions)
	assert.Equal(t, model.BatchFailed, db.batches["b1"].ProcessingStatus)
	assert.Empty(t, jobs.jobs)
}

func TestEntitiesDecisionRequiresActor(t *testing.T) {
	s, _, _, _ := newTestServer()
	rec := do(t, s, http.MethodPost, "/api/upload-batches/b1/entities-decision",
		`{"approved":true}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchRunValidatesBatchSize(t *testing.T) {
	s, _, _, _ := newTestServer()
	rec := do(t, s, http.MethodPost, "/api/smart-match/run", `{"batchSize":250}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMatchRunDefaultsAndReports(t *testing.T) {
	s, _, runner, _ := newTestServer()
	runner.report = pipeline.MatchReport{GoalsProcessed: 3, Pairs: 2, NextOffset: 3, Done: true}

	rec := do(t, s, http.MethodPost, "/api/smart-match/run", `{"batchSize":1000,"offset":40}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1000, runner.lastParams.BatchSize)
	assert.Equal(t, 40, runner.lastParams.Offset)
	assert.True(t, runner.lastParams.ApplyUpdates, "updates applied unless opted out")
	assert.True(t, runner.lastParams.StartDate.IsZero())

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, float64(3), body["processed"])
	assert.Equal(t, false, body["hasMore"])
	assert.Equal(t, float64(3), body["nextOffset"])
	breakdown, ok := body["matchBreakdown"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, float64(2), breakdown["pairs"])
}

func TestMatchRunParsesWindowAndDryRun(t *testing.T) {
	s, _, runner, _ := newTestServer()

	rec := do(t, s, http.MethodPost, "/api/smart-match/run",
		`{"batchSize":100,"startDate":"2025-01-01","endDate":"2025-03-31","applyUpdates":false}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.False(t, runner.lastParams.ApplyUpdates)
	assert.Equal(t, time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC), runner.lastParams.StartDate)
	assert.Equal(t, time.Date(2025, 3, 31, 0, 0, 0, 0, time.UTC), runner.lastParams.EndDate)

	rec = do(t, s, http.MethodPost, "/api/smart-match/run",
		`{"batchSize":100,"startDate":"01/01/2025"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListVariancesParsesFilter(t *testing.T) {
	s, db, _, _ := newTestServer()
	rec := do(t, s, http.MethodGet,
		"/api/variances?severity=high&resolutionStatus=open&autoApproved=false&limit=10", "")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.VarianceHigh, db.lastFilter.Severity)
	assert.Equal(t, model.ResolutionOpen, db.lastFilter.ResolutionStatus)
	require.NotNil(t, db.lastFilter.AutoApproved)
	assert.False(t, *db.lastFilter.AutoApproved)
	assert.Equal(t, 10, db.lastFilter.Limit)
}

func TestResolveVarianceRequiresNote(t *testing.T) {
	s, db, _, _ := newTestServer()
	db.resolveErr = store.ErrResolutionNote
	rec := do(t, s, http.MethodPost, "/api/variances/v1/resolve",
		`{"decision":"approved","actor":"ops"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveVarianceRejectsUnknownDecision(t *testing.T) {
	s, _, _, _ := newTestServer()
	rec := do(t, s, http.MethodPost, "/api/variances/v1/resolve",
		`{"decision":"maybe","notes":"x","actor":"ops"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResolveVarianceConflictWhenNotOpen(t *testing.T) {
	s, db, _, _ := newTestServer()
	db.resolveOK = false
	rec := do(t, s, http.MethodPost, "/api/variances/v1/resolve",
		`{"decision":"disputed","notes":"duplicate entry","actor":"ops"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestFundPricesLatestAndByDate(t *testing.T) {
	s, _, _, _ := newTestServer()

	rec := do(t, s, http.MethodGet, "/api/fund-prices", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/fund-prices?date=2025-05-15", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, s, http.MethodGet, "/api/fund-prices?date=15-05-2025", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthAndMetrics(t *testing.T) {
	s, _, _, _ := newTestServer()

	rec := do(t, s, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])

	do(t, s, http.MethodPost, "/api/upload-batches",
		`{"fileName":"jan.csv","filePath":"/uploads/jan.csv"}`)
	rec = do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "recon_uploads_created_total 1")
}
