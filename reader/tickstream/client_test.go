package tickstream

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	appconfig "coinpulse/config"
	"coinpulse/internal/channel"
	"coinpulse/models"
)

func TestDecodeTick(t *testing.T) {
	tick, ok, err := decodeTick([]byte(`{"type":"tick","pair":"BTC_USDT","tick":{"latest":"42000.5","high":43000,"low":"41000","vol":"12.5","change":"1.2"},"TS":1700000000}`))
	if err != nil || !ok {
		t.Fatalf("expected tick, got ok=%v err=%v", ok, err)
	}
	want := models.Tick{Symbol: "BTC_USDT", Price: 42000.5, High: 43000, Low: 41000, Volume: 12.5, Change: 1.2, ServerTime: 1700000000}
	if tick != want {
		t.Fatalf("got %+v want %+v", tick, want)
	}
}

func TestDecodeTickIgnoresOtherFrames(t *testing.T) {
	_, ok, err := decodeTick([]byte(`{"type":"pong"}`))
	if err != nil || ok {
		t.Fatalf("non-tick frames should be skipped silently, ok=%v err=%v", ok, err)
	}
}

func TestDecodeTickMalformed(t *testing.T) {
	cases := []string{
		`not json`,
		`{"type":"tick","tick":{"latest":1}}`,
		`{"type":"tick","pair":"BTC_USDT"}`,
		`{"type":"tick","pair":"BTC_USDT","tick":{"latest":"abc"}}`,
		`{"type":"tick","pair":"BTC_USDT","tick":{"latest":0}}`,
	}
	for _, c := range cases {
		if _, _, err := decodeTick([]byte(c)); err == nil {
			t.Errorf("expected error for %s", c)
		}
	}
}

func TestBatches(t *testing.T) {
	items := make([]string, 23)
	for i := range items {
		items[i] = "P"
	}
	got := batches(items, 10)
	if len(got) != 3 || len(got[0]) != 10 || len(got[2]) != 3 {
		t.Fatalf("unexpected batching %v", got)
	}
}

func TestNormalizePairsKeepsConfiguredCasing(t *testing.T) {
	got := normalizePairs([]string{" btc_usdt", "BTC_USDT", "", "eth_usdt"})
	if strings.Join(got, ",") != "btc_usdt,eth_usdt" {
		t.Fatalf("got %v", got)
	}
}

func TestDecodeTickUppercasesPair(t *testing.T) {
	tick, ok, err := decodeTick([]byte(`{"type":"tick","pair":"eth_usdt","tick":{"latest":3000},"TS":1700000000}`))
	if err != nil || !ok {
		t.Fatalf("expected tick, got ok=%v err=%v", ok, err)
	}
	if tick.Symbol != "ETH_USDT" {
		t.Fatalf("symbol not canonical: %q", tick.Symbol)
	}
}

type fakeProvider struct {
	t          *testing.T
	mu         sync.Mutex
	subscribed []string
	conns      int32
	// dropFirst closes the first connection right after its subscriptions
	dropFirst bool
}

func (p *fakeProvider) handler(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		p.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()
	n := atomic.AddInt32(&p.conns, 1)

	var frame models.SubscribeFrame
	if err := conn.ReadJSON(&frame); err != nil {
		return
	}
	p.mu.Lock()
	p.subscribed = append(p.subscribed, frame.Pair)
	p.mu.Unlock()

	if p.dropFirst && n == 1 {
		return
	}

	msg := `{"type":"tick","pair":"` + frame.Pair + `","tick":{"latest":"100.5","high":"101","low":"99","vol":"5","change":"0.5"},"TS":1700000000}`
	if err := conn.WriteMessage(websocket.TextMessage, []byte(`garbage`)); err != nil {
		return
	}
	if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
		return
	}
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func newStreamConfig(url string) *appconfig.Config {
	cfg := appconfig.Default()
	cfg.Stream.URL = url
	cfg.Stream.Pairs = []string{"BTC_USDT"}
	cfg.Stream.ReconnectDelay = 10 * time.Millisecond
	cfg.Stream.MaxReconnect = 20 * time.Millisecond
	cfg.Stream.BatchStagger = time.Millisecond
	return &cfg
}

func TestClientStreamsTicks(t *testing.T) {
	p := &fakeProvider{t: t}
	srv := httptest.NewServer(http.HandlerFunc(p.handler))
	defer srv.Close()

	ch := channel.NewChannels(8)
	c := NewClient(newStreamConfig("ws"+strings.TrimPrefix(srv.URL, "http")), ch)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	select {
	case tick := <-ch.Ticks:
		if tick.Symbol != "BTC_USDT" || tick.Price != 100.5 {
			t.Fatalf("unexpected tick %+v", tick)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no tick received")
	}

	status := c.Status()
	if !status.Connected || status.ActiveCoins != 1 || status.TotalSubscribed != 1 {
		t.Fatalf("unexpected status %+v", status)
	}
	if _, ok := c.Realtime("BTC_USDT"); !ok {
		t.Fatal("realtime data not tracked")
	}
}

func TestClientReconnects(t *testing.T) {
	p := &fakeProvider{t: t, dropFirst: true}
	srv := httptest.NewServer(http.HandlerFunc(p.handler))
	defer srv.Close()

	ch := channel.NewChannels(8)
	c := NewClient(newStreamConfig("ws"+strings.TrimPrefix(srv.URL, "http")), ch)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	select {
	case <-ch.Ticks:
	case <-time.After(2 * time.Second):
		t.Fatal("no tick after reconnect")
	}
	if n := atomic.LoadInt32(&p.conns); n < 2 {
		t.Fatalf("expected a reconnect, saw %d connections", n)
	}
}

func TestClientStartValidation(t *testing.T) {
	cfg := appconfig.Default()
	cfg.Stream.URL = ""
	if err := NewClient(&cfg, channel.NewChannels(1)).Start(context.Background()); err == nil {
		t.Fatal("expected error without url")
	}

	cfg.Stream.URL = "ws://localhost:1"
	cfg.Stream.Pairs = nil
	if err := NewClient(&cfg, channel.NewChannels(1)).Start(context.Background()); err == nil {
		t.Fatal("expected error without pairs")
	}
}

func TestStopWithoutStart(t *testing.T) {
	c := NewClient(newStreamConfig("ws://localhost:1"), channel.NewChannels(1))
	c.Stop()
	if c.Status().Connected {
		t.Fatal("should not be connected")
	}
}

type subscribeArrival struct {
	pair  string
	after time.Duration
}

// recordingProvider notes when each subscribe frame arrives, measured from
// the moment the connection was accepted.
type recordingProvider struct {
	t        *testing.T
	mu       sync.Mutex
	arrivals []subscribeArrival
}

func (p *recordingProvider) handler(w http.ResponseWriter, r *http.Request) {
	up := websocket.Upgrader{}
	conn, err := up.Upgrade(w, r, nil)
	if err != nil {
		p.t.Errorf("upgrade: %v", err)
		return
	}
	defer conn.Close()
	accepted := time.Now()

	for {
		var frame models.SubscribeFrame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		p.mu.Lock()
		p.arrivals = append(p.arrivals, subscribeArrival{pair: frame.Pair, after: time.Since(accepted)})
		p.mu.Unlock()
	}
}

func (p *recordingProvider) snapshot() []subscribeArrival {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]subscribeArrival(nil), p.arrivals...)
}

func TestSubscribeBatchesAreStaggered(t *testing.T) {
	p := &recordingProvider{t: t}
	srv := httptest.NewServer(http.HandlerFunc(p.handler))
	defer srv.Close()

	defaults := appconfig.Default()
	if defaults.Stream.BatchSize != 10 || defaults.Stream.BatchStagger != 100*time.Millisecond {
		t.Fatalf("unexpected default batch settings %d/%v", defaults.Stream.BatchSize, defaults.Stream.BatchStagger)
	}

	cfg := newStreamConfig("ws" + strings.TrimPrefix(srv.URL, "http"))
	stagger := defaults.Stream.BatchStagger
	cfg.Stream.BatchStagger = stagger
	cfg.Stream.Pairs = make([]string, 25)
	for i := range cfg.Stream.Pairs {
		cfg.Stream.Pairs[i] = fmt.Sprintf("c%02d_usdt", i)
	}

	c := NewClient(cfg, channel.NewChannels(1))
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer c.Stop()

	deadline := time.Now().Add(3 * time.Second)
	for len(p.snapshot()) < 25 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	got := p.snapshot()
	if len(got) != 25 {
		t.Fatalf("expected 25 subscribe frames, got %d", len(got))
	}

	for i, a := range got {
		if a.pair != cfg.Stream.Pairs[i] {
			t.Fatalf("frame %d: pair %q, want %q as configured", i, a.pair, cfg.Stream.Pairs[i])
		}
		group := i / 10
		if earliest := time.Duration(group) * stagger; a.after < earliest {
			t.Fatalf("frame %d of batch %d arrived after %v, want at least %v", i, group, a.after, earliest)
		}
	}
	for start := 0; start < len(got); start += 10 {
		end := start + 9
		if end >= len(got) {
			end = len(got) - 1
		}
		if spread := got[end].after - got[start].after; spread >= stagger {
			t.Fatalf("batch starting at %d spread over %v, should go out together", start, spread)
		}
	}
}
