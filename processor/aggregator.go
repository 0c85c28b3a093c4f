package processor

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	appconfig "coinpulse/config"
	"coinpulse/internal/metrics"
	"coinpulse/logger"
	"coinpulse/models"
)

// Aggregator keeps the current price and the bounded per-timeframe history
// of every symbol seen on the stream. All methods are safe for concurrent use.
type Aggregator struct {
	config  *appconfig.Config
	ticks   <-chan models.Tick
	ctx     context.Context
	wg      *sync.WaitGroup
	stateMu sync.Mutex
	running bool
	log     *logger.Log

	mu          sync.RWMutex
	records     map[string]*models.SymbolRecord
	lastUpdated time.Time

	// Metrics
	ticksApplied  int64
	ticksRejected int64
}

func NewAggregator(cfg *appconfig.Config, ticks <-chan models.Tick) *Aggregator {
	return &Aggregator{
		config:  cfg,
		ticks:   ticks,
		wg:      &sync.WaitGroup{},
		log:     logger.GetLogger(),
		records: make(map[string]*models.SymbolRecord),
	}
}

// Start consumes the tick channel on a single goroutine until ctx is done or
// the channel is closed.
func (a *Aggregator) Start(ctx context.Context) error {
	a.stateMu.Lock()
	if a.running {
		a.stateMu.Unlock()
		return fmt.Errorf("aggregator already running")
	}
	if a.ticks == nil {
		a.stateMu.Unlock()
		return fmt.Errorf("aggregator has no tick source")
	}
	a.running = true
	a.ctx = ctx
	a.stateMu.Unlock()

	a.log.WithComponent("aggregator").WithFields(logger.Fields{"operation": "start"}).Info("starting aggregator")

	a.wg.Add(1)
	go a.worker()
	return nil
}

func (a *Aggregator) Stop() {
	a.stateMu.Lock()
	a.running = false
	a.stateMu.Unlock()

	a.wg.Wait()

	a.mu.RLock()
	applied, rejected := a.ticksApplied, a.ticksRejected
	a.mu.RUnlock()
	a.log.WithComponent("aggregator").WithFields(logger.Fields{
		"ticks_applied":  applied,
		"ticks_rejected": rejected,
	}).Info("aggregator stopped")
}

func (a *Aggregator) worker() {
	defer a.wg.Done()

	log := a.log.WithComponent("aggregator").WithFields(logger.Fields{"worker": "ingest"})
	for {
		select {
		case <-a.ctx.Done():
			log.Info("worker stopped due to context cancellation")
			return
		case tick, ok := <-a.ticks:
			if !ok {
				log.Info("tick channel closed, worker stopping")
				return
			}
			if !a.IngestTick(tick) {
				metrics.EmitDropMetric(a.log, metrics.DropMetricRejectedTick, "", tick.Symbol)
			}
		}
	}
}

// Ingest records price at tsMillis for symbol. It reports false, without
// touching state, when the input is unusable.
func (a *Aggregator) Ingest(symbol string, price float64, tsMillis int64) bool {
	return a.apply(models.Tick{Symbol: symbol, Price: price}, tsMillis, false)
}

// IngestTick is Ingest plus the session stats carried on a stream tick.
func (a *Aggregator) IngestTick(t models.Tick) bool {
	return a.apply(t, t.TimestampMillis(), true)
}

func (a *Aggregator) apply(t models.Tick, tsMillis int64, withStats bool) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			a.log.WithComponent("aggregator").WithFields(logger.Fields{
				"symbol": t.Symbol,
				"panic":  fmt.Sprint(r),
			}).Error("ingest panicked")
			ok = false
		}
		metrics.ObserveTick(ok)
	}()

	t.Symbol = models.CanonicalSymbol(t.Symbol)
	if err := validateSample(t.Symbol, t.Price, tsMillis); err != nil {
		a.mu.Lock()
		a.ticksRejected++
		a.mu.Unlock()
		a.log.WithComponent("aggregator").WithError(err).WithFields(logger.Fields{
			"symbol": t.Symbol,
			"price":  t.Price,
		}).Warn("rejected price sample")
		return false
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	rec, exists := a.records[t.Symbol]
	if !exists {
		rec = newRecord(t.Symbol, t.Price, tsMillis)
		a.records[t.Symbol] = rec
		metrics.SetTrackedSymbols(len(a.records))
	} else {
		rec.Price = t.Price
		rec.Timestamp = tsMillis
		rec.Stats.High24h = math.Max(rec.Stats.High24h, t.Price)
		rec.Stats.Low24h = math.Min(rec.Stats.Low24h, t.Price)

		sample := models.Sample{Price: t.Price, Timestamp: tsMillis}
		for _, tf := range liveTimeframes {
			rec.History[string(tf)] = insertSample(rec.History[string(tf)], sample, boundOf(tf))
		}
		recomputeChanges(rec)
	}

	if withStats {
		applyTickStats(rec, t)
	}

	a.ticksApplied++
	// late ticks land in the buffers but never move lastUpdated back
	if ts := time.UnixMilli(tsMillis); ts.After(a.lastUpdated) {
		a.lastUpdated = ts
	}
	return true
}

func validateSample(symbol string, price float64, tsMillis int64) error {
	if symbol == "" {
		return fmt.Errorf("empty symbol")
	}
	if math.IsNaN(price) || math.IsInf(price, 0) || price <= 0 {
		return fmt.Errorf("invalid price %v", price)
	}
	if tsMillis <= 0 {
		return fmt.Errorf("invalid timestamp %d", tsMillis)
	}
	return nil
}

// liveTimeframes receive every tick; the longer windows are fed by Rollup.
var liveTimeframes = []models.Timeframe{models.Timeframe1h, models.Timeframe4h, models.Timeframe24h}

func boundOf(tf models.Timeframe) int {
	spec, _ := models.LookupTimeframe(string(tf))
	return spec.MaxSamples
}

func newRecord(symbol string, price float64, tsMillis int64) *models.SymbolRecord {
	rec := &models.SymbolRecord{
		Symbol:    symbol,
		Price:     price,
		Timestamp: tsMillis,
		History:   make(map[string][]models.Sample, len(models.Timeframes)),
		Changes:   make(map[string]float64, len(models.Timeframes)),
		Stats:     models.Stats{High24h: price, Low24h: price},
	}
	for _, tf := range models.Timeframes {
		rec.History[string(tf.Name)] = []models.Sample{{Price: price, Timestamp: tsMillis}}
		rec.Changes[models.ChangeKey(tf.Name)] = 0
	}
	return rec
}

func applyTickStats(rec *models.SymbolRecord, t models.Tick) {
	if t.Volume > 0 {
		rec.Stats.Volume = t.Volume
	}
	if t.High > 0 {
		rec.Stats.High24h = math.Max(rec.Stats.High24h, t.High)
	}
	if t.Low > 0 {
		rec.Stats.Low24h = math.Min(rec.Stats.Low24h, t.Low)
	}
}

// insertSample appends, re-sorts by timestamp and keeps the newest bound
// entries.
func insertSample(buf []models.Sample, s models.Sample, bound int) []models.Sample {
	buf = append(buf, s)
	return normalizeBuffer(buf, bound)
}

func normalizeBuffer(buf []models.Sample, bound int) []models.Sample {
	sort.SliceStable(buf, func(i, j int) bool { return buf[i].Timestamp < buf[j].Timestamp })
	if bound > 0 && len(buf) > bound {
		buf = append([]models.Sample(nil), buf[len(buf)-bound:]...)
	}
	return buf
}

// recomputeChanges derives every change_<tf> from the record's own buffers:
// the current price against the oldest sample inside [now-period, now].
func recomputeChanges(rec *models.SymbolRecord) {
	for _, tf := range models.Timeframes {
		rec.Changes[models.ChangeKey(tf.Name)] = windowChange(rec.History[string(tf.Name)], rec.Price, rec.Timestamp, tf.Period)
	}
}

func windowChange(buf []models.Sample, price float64, nowMillis int64, period time.Duration) float64 {
	start := nowMillis - period.Milliseconds()
	for _, s := range buf {
		if s.Timestamp < start || s.Timestamp > nowMillis {
			continue
		}
		if s.Price <= 0 {
			continue
		}
		return percentChange(s.Price, price)
	}
	return 0
}

// PriceData returns a copy of the full record, or nil for an unknown symbol.
func (a *Aggregator) PriceData(symbol string) *models.SymbolRecord {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.records[models.CanonicalSymbol(symbol)].Clone()
}

// PriceView projects symbol onto one timeframe. Unknown timeframes yield an
// empty history; unknown symbols yield nil.
func (a *Aggregator) PriceView(symbol, timeframe string) *models.PriceView {
	a.mu.RLock()
	defer a.mu.RUnlock()

	rec, ok := a.records[models.CanonicalSymbol(symbol)]
	if !ok {
		return nil
	}
	view := &models.PriceView{
		Symbol:       rec.Symbol,
		CurrentPrice: rec.Price,
		Timestamp:    rec.Timestamp,
		Changes:      make(map[string]float64, len(rec.Changes)),
		Stats:        rec.Stats,
		History:      append([]models.Sample{}, rec.History[timeframe]...),
	}
	for k, v := range rec.Changes {
		view.Changes[k] = v
	}
	return view
}

// CurrentPrice returns the latest price for symbol.
func (a *Aggregator) CurrentPrice(symbol string) (float64, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.records[models.CanonicalSymbol(symbol)]
	if !ok {
		return 0, false
	}
	return rec.Price, true
}

// AllData returns a deep copy of the whole state in persisted form.
func (a *Aggregator) AllData() models.Snapshot {
	a.mu.RLock()
	defer a.mu.RUnlock()

	snap := models.Snapshot{
		Prices: make(map[string]*models.SymbolRecord, len(a.records)),
	}
	for sym, rec := range a.records {
		snap.Prices[sym] = rec.Clone()
	}
	if !a.lastUpdated.IsZero() {
		snap.LastUpdated = a.lastUpdated.UTC().Format(time.RFC3339)
	}
	return snap
}

// Restore replaces the state with snap. Buffers are re-sorted and trimmed so
// a hand-edited or older document cannot break the ordering invariant.
func (a *Aggregator) Restore(snap models.Snapshot) int {
	records := make(map[string]*models.SymbolRecord, len(snap.Prices))
	for sym, rec := range snap.Prices {
		sym = models.CanonicalSymbol(sym)
		if rec == nil || sym == "" {
			continue
		}
		cp := rec.Clone()
		cp.Symbol = sym
		if cp.History == nil {
			cp.History = make(map[string][]models.Sample, len(models.Timeframes))
		}
		if cp.Changes == nil {
			cp.Changes = make(map[string]float64, len(models.Timeframes))
		}
		for _, tf := range models.Timeframes {
			name := string(tf.Name)
			cp.History[name] = normalizeBuffer(cp.History[name], tf.MaxSamples)
			if _, ok := cp.Changes[models.ChangeKey(tf.Name)]; !ok {
				cp.Changes[models.ChangeKey(tf.Name)] = 0
			}
		}
		records[sym] = cp
	}

	var last time.Time
	if snap.LastUpdated != "" {
		if ts, err := time.Parse(time.RFC3339, snap.LastUpdated); err == nil {
			last = ts
		}
	}

	a.mu.Lock()
	a.records = records
	a.lastUpdated = last
	a.mu.Unlock()

	metrics.SetTrackedSymbols(len(records))
	a.log.WithComponent("aggregator").WithFields(logger.Fields{"symbols": len(records)}).Info("restored price history")
	return len(records)
}

// Timeframes lists the supported timeframe names in display order.
func (a *Aggregator) Timeframes() []string {
	return models.TimeframeNames()
}

// Len is the number of tracked symbols.
func (a *Aggregator) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.records)
}

// Symbols returns the tracked symbols in lexical order.
func (a *Aggregator) Symbols() []string {
	a.mu.RLock()
	out := make([]string, 0, len(a.records))
	for sym := range a.records {
		out = append(out, sym)
	}
	a.mu.RUnlock()
	sort.Strings(out)
	return out
}
