package processor

import (
	"context"

	"coinpulse/internal/symbols"
	"coinpulse/logger"
	"coinpulse/models"
)

// HistoricalSource returns long-range charts for a set of coins.
type HistoricalSource interface {
	GetMultipleCoinsHistorical(ctx context.Context, coinIDs []string, period string) models.HistoricalResult
}

// ChangeService answers "how has this symbol moved" from provider charts,
// echoing the live price the aggregator holds.
type ChangeService struct {
	aggregator *Aggregator
	source     HistoricalSource
	period     string
	log        *logger.Log
}

func NewChangeService(agg *Aggregator, source HistoricalSource, period string) *ChangeService {
	if period == "" {
		period = "1y"
	}
	return &ChangeService{
		aggregator: agg,
		source:     source,
		period:     period,
		log:        logger.GetLogger(),
	}
}

// HistoricalChanges maps symbol to a coin id, loads its chart and computes
// the per-period changes. A failed fetch yields an empty fallback result.
func (s *ChangeService) HistoricalChanges(ctx context.Context, symbol string) models.ChangeResult {
	symbol = models.CanonicalSymbol(symbol)
	coinID := symbols.ToCoinID(symbol)

	var current float64
	if s.aggregator != nil {
		current, _ = s.aggregator.CurrentPrice(symbol)
	}

	log := s.log.WithComponent("changes").WithFields(logger.Fields{"symbol": symbol, "coin_id": coinID})
	if coinID == "" || s.source == nil {
		return models.ChangeResult{Changes: map[string]float64{}, Source: models.SourceNoData, CurrentPrice: current}
	}

	hist := s.source.GetMultipleCoinsHistorical(ctx, []string{coinID}, s.period)
	var record *models.ChartRecord
	for i := range hist.Data {
		if hist.Data[i].CoinID == coinID {
			record = &hist.Data[i]
			break
		}
	}

	if record == nil && hist.Source == models.SourceFallback {
		log.WithFields(logger.Fields{"error": hist.Error}).Warn("historical chart unavailable")
		return models.ChangeResult{Changes: map[string]float64{}, Source: models.SourceFallback, CurrentPrice: current}
	}

	result := CalculatePriceChangesFromChart(record, current)
	log.WithFields(logger.Fields{"source": result.Source, "periods": len(result.Changes)}).Debug("historical changes computed")
	return result
}
