package writer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	appconfig "coinpulse/config"
	"coinpulse/internal/metrics"
	"coinpulse/logger"
	"coinpulse/models"
	"coinpulse/processor"
)

// SnapshotWriter persists the aggregator as one JSON document on a fixed
// interval and restores it on startup. It is also the query surface the
// HTTP layer reads prices through.
type SnapshotWriter struct {
	config     *appconfig.Config
	store      DocumentStore
	aggregator *processor.Aggregator
	archive    *Archive
	publisher  *PricePublisher

	ctx     context.Context
	cancel  context.CancelFunc
	wg      *sync.WaitGroup
	mu      sync.Mutex
	running bool
	log     *logger.Log

	// saveMu serialises saves so a scheduled save and the shutdown save
	// never race on the document id.
	saveMu      sync.Mutex
	stateMu     sync.RWMutex
	documentID  string
	lastUpdated string
	stats       metrics.WriterStats
	now         func() time.Time
}

// NewSnapshotWriter wires a writer; store may be nil to disable persistence.
func NewSnapshotWriter(cfg *appconfig.Config, store DocumentStore, agg *processor.Aggregator, archive *Archive) *SnapshotWriter {
	id := cfg.Persistence.DocumentID
	if fixed, ok := store.(fixedIDStore); ok && id == "" {
		id = fixed.DefaultDocumentID()
	}
	return &SnapshotWriter{
		config:     cfg,
		store:      store,
		aggregator: agg,
		archive:    archive,
		wg:         &sync.WaitGroup{},
		log:        logger.GetLogger(),
		documentID: id,
		now:        time.Now,
	}
}

// SetPublisher adds a Kafka fan-out run after every successful save.
func (w *SnapshotWriter) SetPublisher(p *PricePublisher) {
	w.publisher = p
}

func (w *SnapshotWriter) backend() string {
	if w.store == nil {
		return "none"
	}
	return w.store.Backend()
}

// Load hydrates the aggregator from the configured document. Any failure is
// logged and leaves an empty state; it reports whether data was restored.
func (w *SnapshotWriter) Load(ctx context.Context) bool {
	log := w.log.WithComponent("snapshot_writer").WithFields(logger.Fields{"backend": w.backend()})

	w.stateMu.Lock()
	id := w.documentID
	w.lastUpdated = w.stamp()
	w.stateMu.Unlock()

	if w.store == nil || id == "" {
		log.Info("no stored snapshot configured, starting empty")
		return false
	}

	start := time.Now()
	doc, err := w.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			log.WithFields(logger.Fields{"document_id": id}).Warn("stored snapshot not found, starting empty")
		} else {
			log.WithError(err).WithFields(logger.Fields{"document_id": id}).Warn("failed to load snapshot, starting empty")
		}
		return false
	}

	var snap models.Snapshot
	if err := json.Unmarshal(doc.Content, &snap); err != nil {
		log.WithError(err).WithFields(logger.Fields{"document_id": id}).Warn("stored snapshot is not valid json, starting empty")
		return false
	}

	restored := w.aggregator.Restore(snap)
	if snap.LastUpdated != "" {
		w.stateMu.Lock()
		w.lastUpdated = snap.LastUpdated
		w.stateMu.Unlock()
	}
	logger.LogPerformanceEntry(log, "snapshot_writer", "load", time.Since(start), logger.Fields{"symbols": restored})
	log.WithFields(logger.Fields{
		"document_id": id,
		"symbols":     restored,
		"bytes":       len(doc.Content),
	}).Info("snapshot restored")
	return restored > 0
}

// Start saves every persistence.interval until ctx is cancelled or Stop is
// called.
func (w *SnapshotWriter) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("snapshot writer already running")
	}
	if w.store == nil {
		w.mu.Unlock()
		return fmt.Errorf("snapshot writer has no document store")
	}
	w.running = true
	w.ctx, w.cancel = context.WithCancel(ctx)
	w.mu.Unlock()

	interval := w.config.Persistence.Interval
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	w.log.WithComponent("snapshot_writer").WithFields(logger.Fields{
		"backend":  w.backend(),
		"interval": interval.String(),
	}).Info("starting snapshot writer")

	w.wg.Add(1)
	go w.saveLoop(interval)
	return nil
}

func (w *SnapshotWriter) saveLoop(interval time.Duration) {
	defer w.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			// failures are logged inside Save; the schedule keeps going
			_ = w.Save(w.ctx)
		}
	}
}

// Stop ends the schedule and performs one final save bounded by ctx.
func (w *SnapshotWriter) Stop(ctx context.Context) error {
	w.mu.Lock()
	wasRunning := w.running
	w.running = false
	cancel := w.cancel
	w.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	w.wg.Wait()

	if w.store == nil {
		return nil
	}
	err := w.Save(ctx)

	w.stateMu.RLock()
	stats := w.stats
	w.stateMu.RUnlock()
	metrics.ReportWriter(w.log, "snapshot_writer", stats)

	w.log.WithComponent("snapshot_writer").WithFields(logger.Fields{"was_running": wasRunning}).Info("snapshot writer stopped")
	return err
}

// Save writes the current state, updating the known document or creating a
// new one and remembering its id.
func (w *SnapshotWriter) Save(ctx context.Context) error {
	if w.store == nil {
		return fmt.Errorf("persistence is not configured")
	}
	w.saveMu.Lock()
	defer w.saveMu.Unlock()

	log := w.log.WithComponent("snapshot_writer").WithFields(logger.Fields{"backend": w.backend()})
	start := time.Now()

	snap := w.aggregator.AllData()
	snap.LastUpdated = w.stamp()
	content, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		w.recordSave(false, 0)
		log.WithError(err).Error("failed to encode snapshot")
		return fmt.Errorf("encode snapshot: %w", err)
	}

	w.stateMu.RLock()
	id := w.documentID
	w.stateMu.RUnlock()

	if id != "" {
		err = w.store.Update(ctx, id, content)
		if errors.Is(err, ErrNotFound) {
			log.WithFields(logger.Fields{"document_id": id}).Warn("stored snapshot vanished, creating a new one")
			id = ""
		}
	}
	if id == "" {
		id, err = w.store.Create(ctx, content)
		if err == nil {
			w.stateMu.Lock()
			w.documentID = id
			w.stateMu.Unlock()
			log.WithFields(logger.Fields{"document_id": id}).Info("created snapshot document")
		}
	}
	if err != nil {
		w.recordSave(false, 0)
		log.WithError(err).WithFields(logger.Fields{"document_id": id}).Error("failed to save snapshot")
		return fmt.Errorf("save snapshot: %w", err)
	}

	w.stateMu.Lock()
	w.lastUpdated = snap.LastUpdated
	w.stateMu.Unlock()
	w.recordSave(true, len(content))
	metrics.SetTrackedSymbols(len(snap.Prices))

	logger.LogDataFlowEntry(log, "aggregator", w.backend(), len(snap.Prices), "symbols")
	logger.LogPerformanceEntry(log, "snapshot_writer", "save", time.Since(start), logger.Fields{"bytes": len(content)})

	if w.archive != nil {
		if key, size, err := w.archive.Write(ctx, snap); err != nil {
			w.stateMu.Lock()
			w.stats.ArchivesFailed++
			w.stateMu.Unlock()
			log.WithError(err).Warn("failed to archive history")
		} else if key != "" {
			log.WithFields(logger.Fields{"key": key, "bytes": size}).Debug("history archived")
		}
	}
	if w.publisher != nil {
		n, err := w.publisher.Publish(ctx, snap)
		w.stateMu.Lock()
		if err != nil {
			w.stats.PublishFailed++
		} else {
			w.stats.Published += int64(n)
		}
		w.stateMu.Unlock()
		if err != nil {
			log.WithError(err).Warn("failed to publish price updates")
		}
	}
	return nil
}

func (w *SnapshotWriter) recordSave(ok bool, size int) {
	metrics.ObserveSnapshotSave(w.backend(), ok)
	logger.IncrementSnapshotSave(ok, size)

	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	if ok {
		w.stats.SavesSucceeded++
		w.stats.BytesWritten += int64(size)
	} else {
		w.stats.SavesFailed++
	}
	w.stats.TotalCoins = w.aggregator.Len()
}

func (w *SnapshotWriter) stamp() string {
	return w.now().UTC().Format("2006-01-02T15:04:05.000Z07:00")
}

// AllData returns the full state stamped with the last save time.
func (w *SnapshotWriter) AllData() models.Snapshot {
	snap := w.aggregator.AllData()
	w.stateMu.RLock()
	if w.lastUpdated != "" {
		snap.LastUpdated = w.lastUpdated
	}
	w.stateMu.RUnlock()
	return snap
}

func (w *SnapshotWriter) PriceData(symbol string) *models.SymbolRecord {
	return w.aggregator.PriceData(symbol)
}

func (w *SnapshotWriter) PriceView(symbol, timeframe string) *models.PriceView {
	return w.aggregator.PriceView(symbol, timeframe)
}

func (w *SnapshotWriter) Timeframes() []string {
	return w.aggregator.Timeframes()
}

// AddPrice ingests price for symbol at the current time.
func (w *SnapshotWriter) AddPrice(symbol string, price float64) bool {
	return w.aggregator.Ingest(symbol, price, w.now().UnixMilli())
}

func (w *SnapshotWriter) Status() models.PersistenceStatus {
	n := w.aggregator.Len()
	w.stateMu.RLock()
	defer w.stateMu.RUnlock()
	return models.PersistenceStatus{
		Active:      w.store != nil,
		TotalCoins:  n,
		LastUpdated: w.lastUpdated,
		HasData:     n > 0,
		DocumentID:  w.documentID,
	}
}
