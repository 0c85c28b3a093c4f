package tickstream

import (
	"context"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jpillora/backoff"

	"coinpulse/internal/metrics"
	"coinpulse/logger"
)

const (
	defaultReconnectDelay = 5 * time.Second
	defaultMaxReconnect   = 60 * time.Second
	defaultKeepAlive      = 20 * time.Second
)

// session is what one connection needs from its owner.
type session struct {
	url          string
	provider     string
	reconnect    time.Duration
	maxReconnect time.Duration
	keepAlive    time.Duration
	log          *logger.Entry
	// onOpen runs once per connection before reading starts; it receives a
	// context cancelled when the connection ends.
	onOpen  func(ctx context.Context, conn *websocket.Conn)
	onClose func()
	handle  func(msg []byte)
}

// runWebSocket dials, reads until the connection drops, and redials with
// jittered exponential backoff until ctx is cancelled.
func runWebSocket(ctx context.Context, s session) {
	if s.reconnect <= 0 {
		s.reconnect = defaultReconnectDelay
	}
	if s.maxReconnect < s.reconnect {
		s.maxReconnect = defaultMaxReconnect
		if s.maxReconnect < s.reconnect {
			s.maxReconnect = s.reconnect
		}
	}
	b := &backoff.Backoff{Min: s.reconnect, Max: s.maxReconnect, Factor: 2, Jitter: true}
	dialer := websocket.DefaultDialer

	for {
		if ctx.Err() != nil {
			return
		}

		conn, _, err := dialer.DialContext(ctx, s.url, nil)
		if err != nil {
			s.log.WithError(err).WithField("url", s.url).Warn("failed to connect to tick stream")
			if waitForReconnect(ctx, b.Duration(), s.provider) {
				return
			}
			continue
		}

		connCtx, cancel := context.WithCancel(ctx)
		go func() {
			<-connCtx.Done()
			conn.Close()
		}()
		if s.onOpen != nil {
			s.onOpen(connCtx, conn)
		}
		pingCancel := startPingLoop(connCtx, conn, s.keepAlive, s.log)

		opened := time.Now()
		if err := readMessages(connCtx, conn, s.handle); err != nil && ctx.Err() == nil {
			s.log.WithError(err).WithField("url", s.url).Warn("tick stream read loop ended")
		}

		pingCancel()
		cancel()
		if s.onClose != nil {
			s.onClose()
		}
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		// a connection that stayed up resets the backoff
		if time.Since(opened) > s.maxReconnect {
			b.Reset()
		}
		if waitForReconnect(ctx, b.Duration(), s.provider) {
			return
		}
	}
}

func readMessages(ctx context.Context, conn *websocket.Conn, handler func([]byte)) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if handler != nil {
			handler(msg)
		}
	}
}

// waitForReconnect sleeps for delay and reports true if ctx ended first.
func waitForReconnect(ctx context.Context, delay time.Duration, provider string) bool {
	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return true
	case <-timer.C:
		metrics.ObserveReconnect(provider)
		logger.IncrementReconnect()
		return false
	}
}

func startPingLoop(ctx context.Context, conn *websocket.Conn, interval time.Duration, log *logger.Entry) context.CancelFunc {
	if interval <= 0 {
		interval = defaultKeepAlive
	}
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					log.WithError(err).Warn("failed to send websocket ping")
					conn.Close()
					return
				}
			}
		}
	}()
	return cancel
}
