package pipeline

import (
	"context"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/store"
)

// Rollback removes a batch and its orphaned entities, then refreshes the
// aggregates so readers stop seeing the deleted data.
func (p *Pipeline) Rollback(ctx context.Context, batchID string) (store.RollbackResult, error) {
	res, err := p.db.RollbackBatch(ctx, batchID)
	if err != nil {
		return res, err
	}
	p.refresher.RefreshAll(ctx)
	return res, nil
}
