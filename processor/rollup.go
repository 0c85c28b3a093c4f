package processor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"coinpulse/logger"
	"coinpulse/models"
)

// rollupTimeframes are the windows fed by the periodic rollup rather than by
// every tick.
var rollupTimeframes = []models.Timeframe{models.Timeframe7d, models.Timeframe30d, models.Timeframe180d}

// Rollup folds each symbol's current price into its long buffers once the
// newest sample there is at least one sample interval old (1h for 7d, 4h for
// 30d, 24h for 180d).
func (a *Aggregator) Rollup(now time.Time) int {
	nowMillis := now.UnixMilli()
	added := 0

	a.mu.Lock()
	defer a.mu.Unlock()

	for _, rec := range a.records {
		for _, name := range rollupTimeframes {
			spec, _ := models.LookupTimeframe(string(name))
			buf := rec.History[string(name)]
			if n := len(buf); n > 0 && nowMillis-buf[n-1].Timestamp < spec.SampleInterval().Milliseconds() {
				continue
			}
			rec.History[string(name)] = insertSample(buf, models.Sample{Price: rec.Price, Timestamp: nowMillis}, spec.MaxSamples)
			added++
		}
	}
	return added
}

// RollupJob runs Aggregator.Rollup on a fixed interval.
type RollupJob struct {
	aggregator *Aggregator
	interval   time.Duration
	now        func() time.Time
	wg         *sync.WaitGroup
	mu         sync.Mutex
	running    bool
	log        *logger.Log
}

func NewRollupJob(agg *Aggregator, interval time.Duration) *RollupJob {
	if interval <= 0 {
		interval = time.Hour
	}
	return &RollupJob{
		aggregator: agg,
		interval:   interval,
		now:        time.Now,
		wg:         &sync.WaitGroup{},
		log:        logger.GetLogger(),
	}
}

func (j *RollupJob) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return fmt.Errorf("rollup job already running")
	}
	j.running = true
	j.mu.Unlock()

	log := j.log.WithComponent("rollup").WithFields(logger.Fields{"interval": j.interval.String()})
	log.Info("starting rollup job")

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		ticker := time.NewTicker(j.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				log.Info("rollup job stopped due to context cancellation")
				return
			case <-ticker.C:
				start := time.Now()
				added := j.aggregator.Rollup(j.now())
				logger.LogPerformanceEntry(log, "rollup", "rollup", time.Since(start), logger.Fields{"samples_added": added})
			}
		}
	}()
	return nil
}

func (j *RollupJob) Stop() {
	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
	j.wg.Wait()
}
