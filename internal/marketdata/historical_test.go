package marketdata

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appconfig "coinpulse/config"
	"coinpulse/internal/cache"
	"coinpulse/models"
)

type fakeFetcher struct {
	mu      sync.Mutex
	batches [][]string
	calls   []time.Time
	failOn  int
}

func (f *fakeFetcher) GetCoinsCharts(_ context.Context, ids []string, _ string) ([]models.ChartRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]string(nil), ids...))
	f.calls = append(f.calls, time.Now())
	if f.failOn > 0 && len(f.batches) == f.failOn {
		return nil, errors.New("upstream down")
	}
	out := make([]models.ChartRecord, 0, len(ids))
	for _, id := range ids {
		if id == "empty" {
			out = append(out, models.ChartRecord{CoinID: id, Error: "no chart"})
			continue
		}
		out = append(out, models.ChartRecord{CoinID: id, Chart: [][]float64{{1, 1}, {2, 2}}})
	}
	return out, nil
}

func newHistorical(f ChartFetcher, delay time.Duration) *Historical {
	return NewHistorical(f, cache.NewMemory(), appconfig.MarketConfig{
		HistoryBatch: 5,
		BatchDelay:   delay,
		CacheTTL:     time.Minute,
	})
}

func coinIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('a'+i)) + "coin"
	}
	return ids
}

func TestHistoricalBatchesOfFive(t *testing.T) {
	f := &fakeFetcher{}
	h := newHistorical(f, 20*time.Millisecond)

	res := h.GetMultipleCoinsHistorical(context.Background(), coinIDs(12), "1y")
	assert.Equal(t, models.SourceAPI, res.Source)
	assert.Empty(t, res.Error)
	assert.Len(t, res.Data, 12)

	require.Len(t, f.batches, 3)
	assert.Len(t, f.batches[0], 5)
	assert.Len(t, f.batches[1], 5)
	assert.Len(t, f.batches[2], 2)
	for i := 1; i < len(f.calls); i++ {
		assert.GreaterOrEqual(t, f.calls[i].Sub(f.calls[i-1]), 20*time.Millisecond)
	}
}

func TestHistoricalSkipsEmptyCharts(t *testing.T) {
	h := newHistorical(&fakeFetcher{}, 0)

	res := h.GetMultipleCoinsHistorical(context.Background(), []string{"bitcoin", "empty"}, "1y")
	require.Len(t, res.Data, 1)
	assert.Equal(t, "bitcoin", res.Data[0].CoinID)
}

func TestHistoricalCachesByUnorderedIDs(t *testing.T) {
	f := &fakeFetcher{}
	h := newHistorical(f, 0)
	ctx := context.Background()

	first := h.GetMultipleCoinsHistorical(ctx, []string{"ethereum", "bitcoin"}, "1y")
	assert.Equal(t, models.SourceAPI, first.Source)

	second := h.GetMultipleCoinsHistorical(ctx, []string{"bitcoin", "ethereum"}, "1y")
	assert.Equal(t, models.SourceCache, second.Source)
	assert.Equal(t, first.Data, second.Data)
	assert.Len(t, f.batches, 1)

	other := h.GetMultipleCoinsHistorical(ctx, []string{"bitcoin", "ethereum"}, "1m")
	assert.Equal(t, models.SourceAPI, other.Source)
	assert.Len(t, f.batches, 2)
}

func TestHistoricalPartialFailureFallsBack(t *testing.T) {
	f := &fakeFetcher{failOn: 2}
	h := newHistorical(f, 0)
	ctx := context.Background()

	res := h.GetMultipleCoinsHistorical(ctx, coinIDs(8), "1y")
	assert.Equal(t, models.SourceFallback, res.Source)
	assert.Contains(t, res.Error, "upstream down")
	assert.Len(t, res.Data, 5)

	// partial results are not cached
	f.failOn = 0
	again := h.GetMultipleCoinsHistorical(ctx, coinIDs(8), "1y")
	assert.Equal(t, models.SourceAPI, again.Source)
	assert.Len(t, again.Data, 8)
}

func TestHistoricalCancelledBetweenBatches(t *testing.T) {
	h := newHistorical(&fakeFetcher{}, time.Hour)
	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(20*time.Millisecond, cancel)

	res := h.GetMultipleCoinsHistorical(ctx, coinIDs(7), "1y")
	assert.Equal(t, models.SourceFallback, res.Source)
	assert.Len(t, res.Data, 5)
}

func TestHistoricalCacheKey(t *testing.T) {
	assert.Equal(t, HistoricalCacheKey([]string{"b", "a"}, "1y"), HistoricalCacheKey([]string{"a", "b"}, "1y"))
	assert.Equal(t, "historical:a,b1y", HistoricalCacheKey([]string{"b", "a"}, "1y"))
}

func TestHistoricalEmptyInput(t *testing.T) {
	f := &fakeFetcher{}
	res := newHistorical(f, 0).GetMultipleCoinsHistorical(context.Background(), []string{"", " "}, "1y")
	assert.NotNil(t, res.Data)
	assert.Empty(t, res.Data)
	assert.Empty(t, f.batches)
}
