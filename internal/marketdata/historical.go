package marketdata

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	appconfig "coinpulse/config"
	"coinpulse/internal/cache"
	"coinpulse/logger"
	"coinpulse/models"
)

// ChartFetcher loads several coin charts in one call.
type ChartFetcher interface {
	GetCoinsCharts(ctx context.Context, coinIDs []string, period string) ([]models.ChartRecord, error)
}

// Historical batches multi-coin chart requests and caches the combined
// result.
type Historical struct {
	fetcher    ChartFetcher
	cache      cache.Cache
	ttl        time.Duration
	batchSize  int
	batchDelay time.Duration
	log        *logger.Log
}

func NewHistorical(fetcher ChartFetcher, c cache.Cache, cfg appconfig.MarketConfig) *Historical {
	batch := cfg.HistoryBatch
	if batch <= 0 {
		batch = 5
	}
	return &Historical{
		fetcher:    fetcher,
		cache:      c,
		ttl:        cfg.CacheTTL,
		batchSize:  batch,
		batchDelay: cfg.BatchDelay,
		log:        logger.GetLogger(),
	}
}

// HistoricalCacheKey is the cache key for a set of coins and a period. The
// order of ids does not matter.
func HistoricalCacheKey(coinIDs []string, period string) string {
	sorted := append([]string(nil), coinIDs...)
	sort.Strings(sorted)
	return "historical:" + strings.Join(sorted, ",") + period
}

// GetMultipleCoinsHistorical fetches chart data for coinIDs in batches. It
// never fails outright: a batch error yields the data gathered so far with
// source fallback and the error text.
func (h *Historical) GetMultipleCoinsHistorical(ctx context.Context, coinIDs []string, period string) models.HistoricalResult {
	ids := dedupe(coinIDs)
	log := h.log.WithComponent("historical").WithFields(logger.Fields{"coins": len(ids), "period": period})
	if len(ids) == 0 {
		return models.HistoricalResult{Data: []models.ChartRecord{}, Source: models.SourceAPI}
	}

	key := HistoricalCacheKey(ids, period)
	if h.cache != nil {
		var cached []models.ChartRecord
		ok, err := h.cache.Get(ctx, key, &cached)
		if err != nil {
			log.WithError(err).Warn("historical cache read failed")
		} else if ok {
			log.Debug("historical cache hit")
			return models.HistoricalResult{Data: cached, Source: models.SourceCache}
		}
	}

	start := time.Now()
	data := make([]models.ChartRecord, 0, len(ids))
	for i := 0; i < len(ids); i += h.batchSize {
		if i > 0 && h.batchDelay > 0 {
			select {
			case <-ctx.Done():
				return h.fallback(log, data, ctx.Err())
			case <-time.After(h.batchDelay):
			}
		}

		end := i + h.batchSize
		if end > len(ids) {
			end = len(ids)
		}
		batch := ids[i:end]

		records, err := h.fetcher.GetCoinsCharts(ctx, batch, period)
		if err != nil {
			return h.fallback(log, data, fmt.Errorf("batch %d (%s): %w", i/h.batchSize, strings.Join(batch, ","), err))
		}
		for _, rec := range records {
			if rec.Error != "" || len(rec.Chart) == 0 {
				log.WithFields(logger.Fields{"coin_id": rec.CoinID, "reason": rec.Error}).Debug("skipping empty chart")
				continue
			}
			data = append(data, rec)
		}
	}

	logger.LogPerformanceEntry(log, "historical", "fetch_batches", time.Since(start), logger.Fields{"records": len(data)})

	if h.cache != nil {
		if err := h.cache.Set(ctx, key, data, h.ttl); err != nil {
			log.WithError(err).Warn("historical cache write failed")
		}
	}
	return models.HistoricalResult{Data: data, Source: models.SourceAPI}
}

func (h *Historical) fallback(log *logger.Entry, data []models.ChartRecord, err error) models.HistoricalResult {
	log.WithError(err).WithFields(logger.Fields{"partial_records": len(data)}).Warn("historical fetch incomplete, returning partial data")
	return models.HistoricalResult{Data: data, Source: models.SourceFallback, Error: err.Error()}
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
