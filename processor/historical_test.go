package processor

import (
	"context"
	"testing"

	"coinpulse/models"
)

type stubSource struct {
	result models.HistoricalResult
	gotIDs []string
	period string
}

func (s *stubSource) GetMultipleCoinsHistorical(_ context.Context, ids []string, period string) models.HistoricalResult {
	s.gotIDs = ids
	s.period = period
	return s.result
}

func TestHistoricalChangesUsesCoinID(t *testing.T) {
	agg := NewAggregator(nil, nil)
	agg.Ingest("BTC_USDT", 101, 1_700_000_000_000)

	T := float64(1_700_000_000)
	src := &stubSource{result: models.HistoricalResult{
		Source: models.SourceAPI,
		Data: []models.ChartRecord{{
			CoinID: "bitcoin",
			Chart:  [][]float64{{T - 3600, 95}, {T, 100}},
		}},
	}}
	svc := NewChangeService(agg, src, "")

	res := svc.HistoricalChanges(context.Background(), "btc_usdt")
	if len(src.gotIDs) != 1 || src.gotIDs[0] != "bitcoin" {
		t.Fatalf("expected coin id bitcoin, got %v", src.gotIDs)
	}
	if src.period != "1y" {
		t.Fatalf("expected default period 1y, got %s", src.period)
	}
	if res.Source != models.SourceReal {
		t.Fatalf("expected real, got %s", res.Source)
	}
	if res.Changes["1h"] != 5.26 {
		t.Fatalf("1h change = %v, want 5.26", res.Changes["1h"])
	}
	if res.CurrentPrice != 101 {
		t.Fatalf("current price should come from the aggregator, got %v", res.CurrentPrice)
	}
}

func TestHistoricalChangesFallback(t *testing.T) {
	src := &stubSource{result: models.HistoricalResult{Source: models.SourceFallback, Error: "boom"}}
	res := NewChangeService(nil, src, "1y").HistoricalChanges(context.Background(), "ETH_USDT")
	if res.Source != models.SourceFallback || len(res.Changes) != 0 || res.Changes == nil {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestHistoricalChangesNoChart(t *testing.T) {
	src := &stubSource{result: models.HistoricalResult{Source: models.SourceAPI, Data: []models.ChartRecord{}}}
	res := NewChangeService(nil, src, "1y").HistoricalChanges(context.Background(), "ETH_USDT")
	if res.Source != models.SourceNoData {
		t.Fatalf("expected no_data, got %+v", res)
	}
}

func TestHistoricalChangesEchoesPriceForLowercaseFeed(t *testing.T) {
	agg := NewAggregator(nil, nil)
	agg.Ingest("eth_usdt", 3000, 1_700_000_000_000)

	src := &stubSource{result: models.HistoricalResult{Source: models.SourceAPI}}
	res := NewChangeService(agg, src, "1y").HistoricalChanges(context.Background(), "ETH_USDT")
	if res.CurrentPrice != 3000 {
		t.Fatalf("current price = %v, want 3000", res.CurrentPrice)
	}
}
