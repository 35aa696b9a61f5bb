// Package pipeline orchestrates batch processing: the fund upload flow
// with its approval pause, the bank upload flow, reconciliation matching,
// and rollback. All state transitions happen here, driven by the worker.
package pipeline

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/aggregate"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/match"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/queue"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/store"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/validate"
	"github.com/withObsrvr/fund-reconciliation-processor/internal/variance"
)

// Storage is the slice of the store the pipeline drives.
type Storage interface {
	GetBatch(ctx context.Context, id string) (*model.UploadBatch, error)
	TransitionBatch(ctx context.Context, id string, to model.ProcessingStatus, from ...model.ProcessingStatus) (bool, error)
	SetBatchValidation(ctx context.Context, id string, status model.ValidationStatus, errs, warns []model.RowError) error
	SetBatchCounts(ctx context.Context, id string, b model.UploadBatch) error
	SetNewEntities(ctx context.Context, id string, report *model.NewEntitiesReport, status model.NewEntitiesStatus) error
	SetBatchFailure(ctx context.Context, id, reason string) error
	CancelRequested(ctx context.Context, id string) (bool, error)

	ExistingClientNames(ctx context.Context, names []string) (map[string]bool, error)
	ExistingAccountNumbers(ctx context.Context, numbers []string) (map[string]bool, error)
	ExistingGoalNumbers(ctx context.Context, numbers []string) (map[string]bool, error)
	EnsureClient(ctx context.Context, c model.Client) (string, error)
	EnsureAccount(ctx context.Context, a model.Account) (string, error)
	EnsureGoal(ctx context.Context, g model.Goal) (string, error)

	GoalRefsByNumber(ctx context.Context, numbers []string) (map[string]store.GoalRef, error)
	GoalDistribution(ctx context.Context, goalNumber string) (map[model.FundCode]decimal.Decimal, error)
	FundIDsByCode(ctx context.Context) (map[model.FundCode]string, error)
	UpsertFundPrice(ctx context.Context, p model.FundPrice) error

	WriteFundTransactions(ctx context.Context, txns []model.FundTransaction, chunkSize int, shouldStop func(context.Context) (bool, error)) (int, error)
	WriteInvalidRows(ctx context.Context, rows []model.InvalidFundTransaction) error

	WriteBankTransactions(ctx context.Context, txns []model.BankGoalTransaction, chunkSize int) (int, error)
	BankTxnsForGoal(ctx context.Context, goalNumber string, start, end time.Time) ([]match.BankTxn, error)
	FundTxnsForGoal(ctx context.Context, goalNumber string, windowDays int) ([]match.FundTxn, error)
	GoalsWithUnmatchedBankTxns(ctx context.Context, limit, offset int, start, end time.Time) ([]string, error)
	MarkMatched(ctx context.Context, bankID, fundCode string, score decimal.Decimal) error
	MarkNetted(ctx context.Context, bankIDs []string) error
	MarkMissingInFund(ctx context.Context, bankIDs []string) error
	InsertVariances(ctx context.Context, vars []model.ReconciliationVariance) error

	RollbackBatch(ctx context.Context, batchID string) (store.RollbackResult, error)
}

// Enqueuer schedules follow-up jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, name string, p queue.Payload) (string, error)
}

// Refresher rebuilds the read models after a completed batch.
type Refresher interface {
	RefreshAll(ctx context.Context) []aggregate.Result
}

// Options tunes the pipeline.
type Options struct {
	ChunkSize       int // fund/bank write chunk, default 500
	MatchWindowDays int // fund-side lookback for matching, default 90
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = store.DefaultChunkSize
	}
	if o.MatchWindowDays <= 0 {
		o.MatchWindowDays = 90
	}
	return o
}

// Pipeline wires the parsing, validation, entity, matching, and variance
// stages over storage.
type Pipeline struct {
	db         Storage
	jobs       Enqueuer
	refresher  Refresher
	rules      validate.Rules
	matchCfg   match.Config
	classifier *variance.Classifier
	opts       Options
	logger     *zap.Logger
}

// New builds a pipeline with production defaults for any zero options.
func New(db Storage, jobs Enqueuer, refresher Refresher, logger *zap.Logger, opts Options) *Pipeline {
	return &Pipeline{
		db:         db,
		jobs:       jobs,
		refresher:  refresher,
		rules:      validate.DefaultRules(),
		matchCfg:   match.DefaultConfig(),
		classifier: variance.New(variance.DefaultConfig(), nil),
		opts:       opts.withDefaults(),
		logger:     logger,
	}
}

// newValidator returns a validator anchored at the current wall clock, so
// date-window rules hold for long-running processes.
func (p *Pipeline) newValidator() *validate.Validator {
	return validate.New(p.rules, time.Time{})
}

// canceled checks the cooperative flag and, when set, moves the batch to
// the canceled state. Called between stages and between write chunks.
func (p *Pipeline) canceled(ctx context.Context, batchID string) (bool, error) {
	requested, err := p.db.CancelRequested(ctx, batchID)
	if err != nil || !requested {
		return false, err
	}
	_, err = p.db.TransitionBatch(ctx, batchID, model.BatchCanceled,
		model.BatchParsing, model.BatchValidating, model.BatchProcessing)
	if err != nil {
		return true, err
	}
	p.logger.Info("batch canceled on request", zap.String("batch_id", batchID))
	return true, nil
}

// MarkBatchFailed is the worker's final-failure hook: after the last retry
// the batch is failed with the cause. The worker never cancels a batch.
func (p *Pipeline) MarkBatchFailed(ctx context.Context, job *queue.Job, cause string) {
	if job.Payload.BatchID == "" {
		return
	}
	if err := p.db.SetBatchFailure(ctx, job.Payload.BatchID, cause); err != nil {
		p.logger.Error("failed to mark batch failed after job exhaustion",
			zap.String("batch_id", job.Payload.BatchID), zap.Error(err))
	}
}
