package channel

import (
	"context"
	"sync"

	"coinpulse/logger"
	"coinpulse/models"
)

type ChannelStats struct {
	TicksSent    int64
	TicksBlocked int64
	TicksDropped int64
}

// Channels carries decoded ticks from the stream reader to the aggregator.
// A single consumer keeps ticks in receipt order.
type Channels struct {
	Ticks chan models.Tick

	stats      ChannelStats
	statsMutex sync.RWMutex
	closeOnce  sync.Once
	log        *logger.Log
}

func NewChannels(tickBufferSize int) *Channels {
	log := logger.GetLogger()
	c := &Channels{
		Ticks: make(chan models.Tick, tickBufferSize),
		log:   log,
	}

	log.WithComponent("channels").WithFields(logger.Fields{
		"tick_buffer_size": tickBufferSize,
	}).Info("tick channel initialized")

	return c
}

func (c *Channels) Close() {
	c.closeOnce.Do(func() {
		close(c.Ticks)
		c.log.WithComponent("channels").Info("tick channel closed")
	})
}

// SendTick enqueues t. A full buffer blocks the sender instead of dropping;
// only a cancelled ctx loses the tick.
func (c *Channels) SendTick(ctx context.Context, t models.Tick) bool {
	select {
	case c.Ticks <- t:
		c.bump(func(s *ChannelStats) { s.TicksSent++ })
		return true
	default:
	}

	c.bump(func(s *ChannelStats) { s.TicksBlocked++ })
	select {
	case c.Ticks <- t:
		c.bump(func(s *ChannelStats) { s.TicksSent++ })
		return true
	case <-ctx.Done():
		c.bump(func(s *ChannelStats) { s.TicksDropped++ })
		return false
	}
}

func (c *Channels) bump(fn func(*ChannelStats)) {
	c.statsMutex.Lock()
	fn(&c.stats)
	c.statsMutex.Unlock()
}

func (c *Channels) GetStats() ChannelStats {
	c.statsMutex.RLock()
	defer c.statsMutex.RUnlock()
	return c.stats
}

// Usage reports the current fill of the tick buffer.
func (c *Channels) Usage() (length, capacity int) {
	return len(c.Ticks), cap(c.Ticks)
}
