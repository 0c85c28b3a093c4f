package tickstream

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	appconfig "coinpulse/config"
	"coinpulse/internal/channel"
	"coinpulse/internal/metrics"
	"coinpulse/logger"
	"coinpulse/models"
)

const providerName = "generic"

// Client keeps one websocket open to the tick provider, subscribes every
// configured pair and forwards decoded ticks to the tick channel.
type Client struct {
	config   *appconfig.Config
	channels *channel.Channels
	state    *State
	ctx      context.Context
	cancel   context.CancelFunc
	mu       sync.Mutex
	running  bool
	log      *logger.Log
	pairs    []string
	wsConn   *websocket.Conn
	connMu   sync.Mutex
	wg       sync.WaitGroup
}

func NewClient(cfg *appconfig.Config, ch *channel.Channels) *Client {
	return &Client{
		config:   cfg,
		channels: ch,
		state:    NewState(),
		log:      logger.GetLogger(),
	}
}

// Start connects in the background and returns immediately.
func (c *Client) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("tick stream already running")
	}

	cfg := c.config.Stream
	if cfg.URL == "" {
		c.mu.Unlock()
		return fmt.Errorf("tick stream url is not configured")
	}
	c.pairs = normalizePairs(cfg.Pairs)
	if len(c.pairs) == 0 {
		c.mu.Unlock()
		return fmt.Errorf("no pairs configured for tick stream")
	}

	c.running = true
	c.ctx, c.cancel = context.WithCancel(ctx)
	c.mu.Unlock()

	log := c.log.WithComponent("tick_stream")
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		runWebSocket(c.ctx, session{
			url:          cfg.URL,
			provider:     providerName,
			reconnect:    cfg.ReconnectDelay,
			maxReconnect: cfg.MaxReconnect,
			keepAlive:    cfg.PingInterval,
			log:          log,
			onOpen:       c.onOpen,
			onClose:      c.onClose,
			handle:       c.handleMessage,
		})
	}()

	log.WithFields(logger.Fields{
		"url":   cfg.URL,
		"pairs": len(c.pairs),
	}).Info("tick stream started")
	return nil
}

// Stop closes the socket and waits for the loop to exit.
func (c *Client) Stop() {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return
	}
	c.running = false
	cancel := c.cancel
	c.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	c.closeActiveConn()
	c.wg.Wait()
	c.state.SetConnected(false)
	c.log.WithComponent("tick_stream").Info("tick stream stopped")
}

func (c *Client) Status() models.ConnectionStatus { return c.state.Status() }

func (c *Client) RealtimeData() map[string]models.Tick { return c.state.RealtimeData() }

func (c *Client) Realtime(symbol string) (models.Tick, bool) { return c.state.Realtime(symbol) }

func (c *Client) onOpen(ctx context.Context, conn *websocket.Conn) {
	c.connMu.Lock()
	c.wsConn = conn
	c.connMu.Unlock()
	c.state.SetConnected(true)

	c.log.WithComponent("tick_stream").Info("tick stream connected")

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.subscribeAll(ctx, conn)
	}()
}

func (c *Client) onClose() {
	c.connMu.Lock()
	c.wsConn = nil
	c.connMu.Unlock()
	c.state.SetConnected(false)
	c.log.WithComponent("tick_stream").Warn("tick stream disconnected")
}

// subscribeAll sends one subscribe frame per pair, in batches; batch i goes
// out i*stagger after the connection opened.
func (c *Client) subscribeAll(ctx context.Context, conn *websocket.Conn) {
	size := c.config.Stream.BatchSize
	if size <= 0 {
		size = 10
	}
	stagger := c.config.Stream.BatchStagger
	log := c.log.WithComponent("tick_stream")

	start := time.Now()
	for i, batch := range batches(c.pairs, size) {
		if wait := time.Until(start.Add(time.Duration(i) * stagger)); wait > 0 {
			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
		for _, pair := range batch {
			frame := models.SubscribeFrame{Action: "subscribe", Subscribe: "tick", Pair: pair}
			if err := conn.WriteJSON(frame); err != nil {
				if ctx.Err() == nil {
					log.WithError(err).WithField("pair", pair).Warn("failed to send subscribe frame")
				}
				return
			}
			c.state.MarkSubscribed(pair)
		}
		log.WithFields(logger.Fields{"batch": i, "pairs": len(batch)}).Debug("subscribed batch")
	}
	logger.LogPerformanceEntry(log, "tick_stream", "subscribe_all", time.Since(start), logger.Fields{"pairs": len(c.pairs)})
}

func (c *Client) handleMessage(raw []byte) {
	tick, ok, err := decodeTick(raw)
	if err != nil {
		logger.IncrementTick(false, len(raw))
		metrics.EmitDropMetric(c.log, metrics.DropMetricMalformedFrame, providerName, "")
		c.log.WithComponent("tick_stream").WithError(err).Debug("dropping malformed frame")
		return
	}
	if !ok {
		return
	}
	logger.IncrementTick(true, len(raw))

	c.state.Update(tick)
	if !c.channels.SendTick(c.ctx, tick) {
		metrics.EmitDropMetric(c.log, metrics.DropMetricCancelledTick, providerName, tick.Symbol)
	}
}

// decodeTick parses a provider frame. ok is false for well-formed frames that
// carry no tick (acks, pongs).
func decodeTick(raw []byte) (models.Tick, bool, error) {
	var frame models.TickFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return models.Tick{}, false, fmt.Errorf("decode frame: %w", err)
	}
	if frame.Type != "tick" {
		return models.Tick{}, false, nil
	}
	if frame.Pair == "" || frame.Tick == nil {
		return models.Tick{}, false, fmt.Errorf("tick frame missing pair or tick")
	}
	price := float64(frame.Tick.Latest)
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		return models.Tick{}, false, fmt.Errorf("tick frame for %s has invalid price %v", frame.Pair, price)
	}
	return models.Tick{
		Symbol:     models.CanonicalSymbol(frame.Pair),
		Price:      price,
		High:       float64(frame.Tick.High),
		Low:        float64(frame.Tick.Low),
		Volume:     float64(frame.Tick.Vol),
		Change:     float64(frame.Tick.Change),
		ServerTime: int64(frame.TS),
	}, true, nil
}

func (c *Client) closeActiveConn() {
	c.connMu.Lock()
	conn := c.wsConn
	c.wsConn = nil
	c.connMu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// normalizePairs trims and dedupes pairs. Pairs keep the casing they were
// configured with since that is what the provider expects on subscribe.
func normalizePairs(pairs []string) []string {
	seen := make(map[string]struct{}, len(pairs))
	out := make([]string, 0, len(pairs))
	for _, p := range pairs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		key := models.CanonicalSymbol(p)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		out = append(out, p)
	}
	return out
}

func batches(items []string, size int) [][]string {
	var out [][]string
	for i := 0; i < len(items); i += size {
		end := i + size
		if end > len(items) {
			end = len(items)
		}
		out = append(out, items[i:end])
	}
	return out
}
