package tickstream

import (
	"sort"
	"sync"

	"coinpulse/models"
)

// State is the live view of a tick feed: connection flag, subscribed pairs
// and the last tick per symbol. Feeds share it so the HTTP layer does not
// care which provider is running.
type State struct {
	mu         sync.RWMutex
	connected  bool
	subscribed map[string]struct{}
	realtime   map[string]models.Tick
}

func NewState() *State {
	return &State{
		subscribed: make(map[string]struct{}),
		realtime:   make(map[string]models.Tick),
	}
}

func (s *State) SetConnected(connected bool) {
	s.mu.Lock()
	s.connected = connected
	s.mu.Unlock()
}

func (s *State) Connected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *State) MarkSubscribed(pair string) {
	s.mu.Lock()
	s.subscribed[models.CanonicalSymbol(pair)] = struct{}{}
	s.mu.Unlock()
}

func (s *State) Update(t models.Tick) {
	s.mu.Lock()
	t.Symbol = models.CanonicalSymbol(t.Symbol)
	s.realtime[t.Symbol] = t
	s.mu.Unlock()
}

// Status summarizes the feed. Coins is sorted.
func (s *State) Status() models.ConnectionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	coins := make([]string, 0, len(s.realtime))
	for sym := range s.realtime {
		coins = append(coins, sym)
	}
	sort.Strings(coins)

	return models.ConnectionStatus{
		Connected:       s.connected,
		ActiveCoins:     len(s.realtime),
		TotalSubscribed: len(s.subscribed),
		Coins:           coins,
	}
}

// RealtimeData returns a copy of the last tick per symbol.
func (s *State) RealtimeData() map[string]models.Tick {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]models.Tick, len(s.realtime))
	for k, v := range s.realtime {
		out[k] = v
	}
	return out
}

func (s *State) Realtime(symbol string) (models.Tick, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.realtime[models.CanonicalSymbol(symbol)]
	return t, ok
}
