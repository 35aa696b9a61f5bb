package aggregate

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeRebuilder struct {
	goalErr    error
	balanceErr error
	goalCalls  int
	balCalls   int
}

func (f *fakeRebuilder) RefreshGoalTransactions(context.Context) (int64, error) {
	f.goalCalls++
	return 42, f.goalErr
}

func (f *fakeRebuilder) RefreshAccountUnitBalances(context.Context) (int64, error) {
	f.balCalls++
	return 7, f.balanceErr
}

type fakeCache struct{ invalidations int }

func (f *fakeCache) Invalidate() { f.invalidations++ }

func TestRefreshAllRunsBoth(t *testing.T) {
	rb := &fakeRebuilder{}
	cache := &fakeCache{}

	results := New(rb, zap.NewNop(), cache).RefreshAll(context.Background())
	require.Len(t, results, 2)
	assert.Equal(t, "goal_transactions", results[0].Name)
	assert.Equal(t, int64(42), results[0].Rows)
	assert.NoError(t, results[0].Err)
	assert.Equal(t, "account_unit_balances", results[1].Name)
	assert.Equal(t, int64(7), results[1].Rows)
	assert.Equal(t, 1, cache.invalidations)
}

func TestRefreshFailureDoesNotBlockOther(t *testing.T) {
	rb := &fakeRebuilder{goalErr: errors.New("deadlock detected")}
	cache := &fakeCache{}

	results := New(rb, zap.NewNop(), cache).RefreshAll(context.Background())
	require.Len(t, results, 2)
	assert.Error(t, results[0].Err)
	assert.NoError(t, results[1].Err)
	assert.Equal(t, 1, rb.balCalls, "balance refresh still runs")
	assert.Equal(t, 1, cache.invalidations, "caches invalidated regardless")
}
