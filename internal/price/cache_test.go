package price

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/withObsrvr/fund-reconciliation-processor/internal/model"
)

type fakeSource struct {
	calls     int
	dateCalls int
	err       error
}

func (f *fakeSource) LatestFundPrices(context.Context) (map[model.FundCode]model.FundPrice, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return map[model.FundCode]model.FundPrice{
		model.FundXUMMF: {FundCode: model.FundXUMMF, Offer: decimal.NewFromFloat(10.5)},
	}, nil
}

func (f *fakeSource) PricesForDate(_ context.Context, date time.Time) (map[model.FundCode]model.FundPrice, error) {
	f.dateCalls++
	return map[model.FundCode]model.FundPrice{
		model.FundXUMMF: {FundCode: model.FundXUMMF, PriceDate: date, Offer: decimal.NewFromFloat(10.2)},
	}, nil
}

func TestCacheServesSnapshotWithinTTL(t *testing.T) {
	src := &fakeSource{}
	clock := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cache := NewCache(src, time.Hour, func() time.Time { return clock })

	first, err := cache.Latest(context.Background())
	require.NoError(t, err)
	second, err := cache.Latest(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, src.calls)
	assert.Equal(t, first, second)
}

func TestCacheRefetchesAfterTTL(t *testing.T) {
	src := &fakeSource{}
	clock := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	cache := NewCache(src, time.Hour, func() time.Time { return clock })

	_, err := cache.Latest(context.Background())
	require.NoError(t, err)

	clock = clock.Add(61 * time.Minute)
	_, err = cache.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestCacheInvalidateForcesRefetch(t *testing.T) {
	src := &fakeSource{}
	cache := NewCache(src, time.Hour, nil)

	_, err := cache.Latest(context.Background())
	require.NoError(t, err)
	cache.Invalidate()
	_, err = cache.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, src.calls)
}

func TestForDateBypassesCache(t *testing.T) {
	src := &fakeSource{}
	cache := NewCache(src, time.Hour, nil)

	day := time.Date(2025, 5, 15, 0, 0, 0, 0, time.UTC)
	prices, err := cache.ForDate(context.Background(), day)
	require.NoError(t, err)
	assert.Equal(t, day, prices[model.FundXUMMF].PriceDate)
	assert.Equal(t, 1, src.dateCalls)
	assert.Equal(t, 0, src.calls)
}

func TestCachePropagatesSourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("connection refused")}
	cache := NewCache(src, time.Hour, nil)

	_, err := cache.Latest(context.Background())
	assert.Error(t, err)
}
