package processor

import (
	"math"

	"github.com/shopspring/decimal"

	"coinpulse/models"
)

// chartPeriods are the lookbacks, in seconds, evaluated against a chart.
var chartPeriods = []struct {
	name    models.Timeframe
	seconds float64
}{
	{models.Timeframe1h, 3600},
	{models.Timeframe4h, 14400},
	{models.Timeframe24h, 86400},
	{models.Timeframe7d, 604800},
	{models.Timeframe30d, 2592000},
	{models.Timeframe180d, 15552000},
}

// percentChange is (current-base)/base*100 rounded to two decimals.
func percentChange(base, current float64) float64 {
	if base <= 0 {
		return 0
	}
	b := decimal.NewFromFloat(base)
	c := decimal.NewFromFloat(current)
	pct := c.Sub(b).Div(b).Mul(decimal.NewFromInt(100)).Round(2)
	f, _ := pct.Float64()
	return f
}

// CalculatePriceChangesFromChart computes the change of the chart's latest
// price against the sample closest to each lookback. Changes are keyed by
// period name (1h, 4h, ...). Unusable charts yield an empty no_data result.
// currentPrice is echoed back for the caller; the chart's own latest sample
// is the reference so every period is measured on the same series.
func CalculatePriceChangesFromChart(record *models.ChartRecord, currentPrice float64) models.ChangeResult {
	result := models.ChangeResult{
		Changes:      map[string]float64{},
		Source:       models.SourceNoData,
		CurrentPrice: currentPrice,
	}
	if record == nil || len(record.Chart) == 0 {
		return result
	}

	latest := record.Chart[len(record.Chart)-1]
	if len(latest) < 2 || !validNumber(latest[0]) || !validNumber(latest[1]) || latest[1] <= 0 {
		return result
	}
	latestTime, latestPrice := latest[0], latest[1]

	for _, p := range chartPeriods {
		target := latestTime - p.seconds
		if target < 0 {
			continue
		}
		point, ok := FindClosestHistoricalPoint(record.Chart, target)
		if !ok || point[1] <= 0 {
			continue
		}
		result.Changes[string(p.name)] = percentChange(point[1], latestPrice)
	}

	if len(result.Changes) > 0 {
		result.Source = models.SourceReal
	}
	return result
}

// FindClosestHistoricalPoint returns the [time, price] sample whose time is
// nearest target. Ties keep the earlier sample. Malformed samples are skipped.
func FindClosestHistoricalPoint(chart [][]float64, target float64) ([]float64, bool) {
	var (
		best     []float64
		bestDiff = math.Inf(1)
	)
	for _, point := range chart {
		if len(point) < 2 || !validNumber(point[0]) || !validNumber(point[1]) {
			continue
		}
		if diff := math.Abs(point[0] - target); diff < bestDiff {
			bestDiff = diff
			best = point[:2]
		}
	}
	if best == nil {
		return nil, false
	}
	return []float64{best[0], best[1]}, true
}

func validNumber(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
