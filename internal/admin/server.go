// Package admin exposes the operator HTTP surface: uploads, approvals,
// cancellation, rollback, matching runs, variance review, and the health
// and metrics endpoints.
package admin

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/pipeline"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/queue"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/store"
)

// Batches is the batch-facing slice of the store the handlers use.
type Batches interface {
	CreateUploadBatch(ctx context.Context, b model.UploadBatch) (model.UploadBatch, error)
	GetBatch(ctx context.Context, id string) (*model.UploadBatch, error)
	ListBatches(ctx context.Context, status model.ProcessingStatus, limit, offset int) ([]model.UploadBatch, error)
	RequestCancel(ctx context.Context, id string) (bool, error)
	SetEntitiesDecision(ctx context.Context, id string, status model.NewEntitiesStatus, approvedBy string) (bool, error)
	TransitionBatch(ctx context.Context, id string, to model.ProcessingStatus, from ...model.ProcessingStatus) (bool, error)
	ListVariances(ctx context.Context, f store.VarianceFilter) ([]model.ReconciliationVariance, error)
	ResolveVariance(ctx context.Context, id string, status model.ResolutionStatus, note, actor string) (bool, error)
}

// Runner is the pipeline slice the handlers drive directly.
type Runner interface {
	RunMatching(ctx context.Context, params pipeline.MatchParams) (pipeline.MatchReport, error)
	Rollback(ctx context.Context, batchID string) (store.RollbackResult, error)
}

// Enqueuer schedules batch jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, p queue.Payload) (string, error)
}

// Prices serves fund price lookups, latest or as of a date.
type Prices interface {
	Latest(ctx context.Context) (map[model.FundCode]model.FundPrice, error)
	ForDate(ctx context.Context, date time.Time) (map[model.FundCode]model.FundPrice, error)
}

// metrics are the mutex-guarded counters served on /metrics.
type metrics struct {
	mu                sync.Mutex
	uploadsCreated    int64
	cancelsRequested  int64
	rollbacksRun      int64
	matchingRuns      int64
	variancesResolved int64
}

func (m *metrics) inc(field *int64) {
	m.mu.Lock()
	*field++
	m.mu.Unlock()
}

// Server is the admin HTTP server.
type Server struct {
	db      Batches
	runner  Runner
	jobs    Enqueuer
	prices  Prices
	logger  *zap.Logger
	metrics metrics
	server  *http.Server
	started time.Time
}

// NewServer wires the handlers.
func NewServer(db Batches, runner Runner, jobs Enqueuer, prices Prices, logger *zap.Logger) *Server {
	return &Server{db: db, runner: runner, jobs: jobs, prices: prices, logger: logger, started: time.Now()}
}

// Handler builds the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/upload-batches", s.handleCreateUpload)
	mux.HandleFunc("GET /api/upload-batches", s.handleListBatches)
	mux.HandleFunc("GET /api/upload-batches/{id}", s.handleGetBatch)
	mux.HandleFunc("GET /api/upload-batches/{id}/summary", s.handleBatchSummary)
	mux.HandleFunc("POST /api/upload-batches/{id}/cancel", s.handleCancel)
	mux.HandleFunc("POST /api/upload-batches/{id}/rollback", s.handleRollback)
	mux.HandleFunc("GET /api/upload-batches/{id}/new-entities", s.handleNewEntities)
	mux.HandleFunc("POST /api/upload-batches/{id}/entities-decision", s.handleEntitiesDecision)
	mux.HandleFunc("POST /api/smart-match/run", s.handleMatchRun)
	mux.HandleFunc("GET /api/fund-prices", s.handleFundPrices)
	mux.HandleFunc("GET /api/variances", s.handleListVariances)
	mux.HandleFunc("POST /api/variances/{id}/resolve", s.handleResolveVariance)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /metrics", s.handleMetrics)
	return mux
}

// Start serves in the background.
func (s *Server) Start(port int) error {
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.Handler(),
	}
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("admin server error", zap.Error(err))
		}
	}()
	s.logger.Info("admin server listening", zap.Int("port", port))
	return nil
}

// Stop closes the listener.
func (s *Server) Stop() error {
	if s.server != nil {
		return s.server.Close()
	}
	return nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{
		"status":         "healthy",
		"uptime_seconds": int64(time.Since(s.started).Seconds()),
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	s.metrics.mu.Lock()
	defer s.metrics.mu.Unlock()
	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprintf(w, "# TYPE recon_uploads_created_total counter\n")
	fmt.Fprintf(w, "recon_uploads_created_total %d\n", s.metrics.uploadsCreated)
	fmt.Fprintf(w, "# TYPE recon_cancels_requested_total counter\n")
	fmt.Fprintf(w, "recon_cancels_requested_total %d\n", s.metrics.cancelsRequested)
	fmt.Fprintf(w, "# TYPE recon_rollbacks_total counter\n")
	fmt.Fprintf(w, "recon_rollbacks_total %d\n", s.metrics.rollbacksRun)
	fmt.Fprintf(w, "# TYPE recon_matching_runs_total counter\n")
	fmt.Fprintf(w, "recon_matching_runs_total %d\n", s.metrics.matchingRuns)
	fmt.Fprintf(w, "# TYPE recon_variances_resolved_total counter\n")
	fmt.Fprintf(w, "recon_variances_resolved_total %d\n", s.metrics.variancesResolved)
}
