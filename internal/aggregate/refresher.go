// Package aggregate rebuilds the derived read models after a batch
// completes, is rolled back, or has its entities approved.
package aggregate

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Rebuilder is the storage side of a refresh: each call atomically
// replaces one read model and returns the row count.
type Rebuilder interface {
	RefreshGoalTransactions(ctx context.Context) (int64, error)
	RefreshAccountUnitBalances(ctx context.Context) (int64, error)
}

// Invalidator drops caches made stale by a refresh.
type Invalidator interface {
	Invalidate()
}

// Result reports one aggregate's refresh.
type Result struct {
	Name     string
	Rows     int64
	Duration time.Duration
	Err      error
}

// Refresher runs both rebuilds.
type Refresher struct {
	store  Rebuilder
	caches []Invalidator
	logger *zap.Logger
}

// New returns a refresher. The caches are invalidated after every run,
// successful or not.
func New(store Rebuilder, logger *zap.Logger, caches ...Invalidator) *Refresher {
	return &Refresher{store: store, caches: caches, logger: logger}
}

// RefreshAll rebuilds both aggregates. A failure of one does not stop the
// other; both results are always returned.
func (r *Refresher) RefreshAll(ctx context.Context) []Result {
	results := []Result{
		r.run(ctx, "goal_transactions", r.store.RefreshGoalTransactions),
		r.run(ctx, "account_unit_balances", r.store.RefreshAccountUnitBalances),
	}
	for _, c := range r.caches {
		c.Invalidate()
	}
	return results
}

func (r *Refresher) run(ctx context.Context, name string, refresh func(context.Context) (int64, error)) Result {
	start := time.Now()
	rows, err := refresh(ctx)
	res := Result{Name: name, Rows: rows, Duration: time.Since(start), Err: err}
	if err != nil {
		r.logger.Error("aggregate refresh failed",
			zap.String("aggregate", name), zap.Duration("took", res.Duration), zap.Error(err))
		return res
	}
	r.logger.Info("aggregate refreshed",
		zap.String("aggregate", name), zap.Int64("rows", rows), zap.Duration("took", res.Duration))
	return res
}
