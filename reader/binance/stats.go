package binance

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	binance "github.com/adshao/go-binance/v2"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"

	appconfig "coinpulse/config"
	"coinpulse/internal/channel"
	"coinpulse/internal/metrics"
	"coinpulse/internal/symbols"
	"coinpulse/logger"
	"coinpulse/models"
	"coinpulse/reader/tickstream"
)

const providerName = "binance"

// serveFunc opens a 24h rolling statistics stream for one symbol.
type serveFunc func(symbol string, handler binance.WsMarketStatHandler, errHandler binance.ErrHandler) (chan struct{}, chan struct{}, error)

// StatsReader feeds ticks from Binance spot 24h ticker streams, one stream
// per configured pair. Pairs use the dashboard form (BTC_USDT) everywhere
// except on the wire.
type StatsReader struct {
	config   *appconfig.Config
	channels *channel.Channels
	state    *tickstream.State
	serve    serveFunc
	ctx      context.Context
	cancel   context.CancelFunc
	wg       *sync.WaitGroup
	mu       sync.Mutex
	running  bool
	log      *logger.Log
	// open counts live streams; the reader is connected while any is up
	open atomic.Int32
}

func NewStatsReader(cfg *appconfig.Config, ch *channel.Channels) *StatsReader {
	return &StatsReader{
		config:   cfg,
		channels: ch,
		state:    tickstream.NewState(),
		serve:    binance.WsMarketStatServe,
		wg:       &sync.WaitGroup{},
		log:      logger.GetLogger(),
	}
}

func (r *StatsReader) Start(ctx context.Context) error {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		return fmt.Errorf("binance stats reader already running")
	}
	if len(r.config.Stream.Pairs) == 0 {
		r.mu.Unlock()
		return fmt.Errorf("no pairs configured for binance stats reader")
	}
	r.running = true
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.mu.Unlock()

	log := r.log.WithComponent("binance_stats_reader").WithFields(logger.Fields{"operation": "start"})
	log.WithFields(logger.Fields{"pairs": r.config.Stream.Pairs}).Info("starting binance stats reader")

	for _, pair := range r.config.Stream.Pairs {
		wire := symbols.ToBinance(pair)
		if wire == "" {
			continue
		}
		r.state.MarkSubscribed(symbols.FromBinance(wire))
		r.wg.Add(1)
		go r.streamSymbol(wire)
	}
	return nil
}

func (r *StatsReader) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	cancel := r.cancel
	r.mu.Unlock()

	cancel()
	r.wg.Wait()
	r.state.SetConnected(false)
	r.log.WithComponent("binance_stats_reader").Info("binance stats reader stopped")
}

func (r *StatsReader) Status() models.ConnectionStatus { return r.state.Status() }

func (r *StatsReader) RealtimeData() map[string]models.Tick { return r.state.RealtimeData() }

func (r *StatsReader) Realtime(symbol string) (models.Tick, bool) { return r.state.Realtime(symbol) }

// streamSymbol keeps one symbol's stream open until the reader stops.
func (r *StatsReader) streamSymbol(symbol string) {
	defer r.wg.Done()

	log := r.log.WithComponent("binance_stats_reader").WithFields(logger.Fields{
		"symbol": symbol,
		"worker": "stats_stream",
	})
	b := &backoff.Backoff{
		Min:    r.config.Stream.ReconnectDelay,
		Max:    r.config.Stream.MaxReconnect,
		Factor: 2,
		Jitter: true,
	}

	handler := func(event *binance.WsMarketStatEvent) {
		tick, err := tickFromStat(event)
		if err != nil {
			logger.IncrementTick(false, 0)
			metrics.EmitDropMetric(r.log, metrics.DropMetricMalformedFrame, providerName, symbol)
			log.WithError(err).Debug("dropping malformed stat event")
			return
		}
		logger.IncrementTick(true, 0)
		r.state.Update(tick)
		if !r.channels.SendTick(r.ctx, tick) {
			metrics.EmitDropMetric(r.log, metrics.DropMetricCancelledTick, providerName, tick.Symbol)
			return
		}
		if log.Logger.IsLevelEnabled(logrus.DebugLevel) {
			logger.LogDataFlowEntry(log, "binance_ws", "ticks", 1, "tick")
		}
	}
	errHandler := func(err error) {
		if err != nil {
			log.WithError(err).Warn("websocket error")
		}
	}

	for {
		doneC, stopC, err := r.serve(symbol, handler, errHandler)
		if err != nil {
			log.WithError(err).Warn("failed to subscribe to market stat stream")
		} else {
			opened := time.Now()
			r.streamOpened()
			select {
			case <-r.ctx.Done():
				close(stopC)
				<-doneC
				r.streamClosed()
				return
			case <-doneC:
				r.streamClosed()
				log.Warn("market stat stream ended")
			}
			// a stream that stayed up resets the backoff
			if time.Since(opened) > b.Max {
				b.Reset()
			}
		}

		timer := time.NewTimer(b.Duration())
		select {
		case <-r.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			metrics.ObserveReconnect(providerName)
			logger.IncrementReconnect()
		}
	}
}

func (r *StatsReader) streamOpened() {
	if r.open.Add(1) == 1 {
		r.state.SetConnected(true)
	}
}

func (r *StatsReader) streamClosed() {
	if r.open.Add(-1) == 0 {
		r.state.SetConnected(false)
	}
}

// tickFromStat converts a Binance 24h statistics event. Event time is in
// milliseconds; ticks carry seconds.
func tickFromStat(event *binance.WsMarketStatEvent) (models.Tick, error) {
	if event == nil || event.Symbol == "" {
		return models.Tick{}, fmt.Errorf("empty stat event")
	}
	price, err := strconv.ParseFloat(event.LastPrice, 64)
	if err != nil || price <= 0 {
		return models.Tick{}, fmt.Errorf("invalid last price %q for %s", event.LastPrice, event.Symbol)
	}
	return models.Tick{
		Symbol:     symbols.FromBinance(event.Symbol),
		Price:      price,
		High:       parseNumber(event.HighPrice),
		Low:        parseNumber(event.LowPrice),
		Volume:     parseNumber(event.BaseVolume),
		Change:     parseNumber(event.PriceChangePercent),
		ServerTime: event.Time / 1000,
	}, nil
}

func parseNumber(value string) float64 {
	if value == "" {
		return 0
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0
	}
	return parsed
}
