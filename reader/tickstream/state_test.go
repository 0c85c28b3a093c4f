package tickstream

import (
	"testing"

	"coinpulse/models"
)

func TestStateStatus(t *testing.T) {
	s := NewState()
	s.MarkSubscribed("ETH_USDT")
	s.MarkSubscribed("BTC_USDT")
	s.MarkSubscribed("BTC_USDT")
	s.Update(models.Tick{Symbol: "ETH_USDT", Price: 2})
	s.Update(models.Tick{Symbol: "BTC_USDT", Price: 1})
	s.SetConnected(true)

	st := s.Status()
	if !st.Connected || st.ActiveCoins != 2 || st.TotalSubscribed != 2 {
		t.Fatalf("unexpected status %+v", st)
	}
	if st.Coins[0] != "BTC_USDT" || st.Coins[1] != "ETH_USDT" {
		t.Fatalf("coins should be sorted: %v", st.Coins)
	}
}

func TestRealtimeDataIsCopy(t *testing.T) {
	s := NewState()
	s.Update(models.Tick{Symbol: "BTC_USDT", Price: 1})

	data := s.RealtimeData()
	data["BTC_USDT"] = models.Tick{Symbol: "BTC_USDT", Price: 999}
	delete(data, "BTC_USDT")

	if tick, ok := s.Realtime("BTC_USDT"); !ok || tick.Price != 1 {
		t.Fatalf("internal state mutated through copy: %+v %v", tick, ok)
	}
}

func TestRealtimeLookupIgnoresCase(t *testing.T) {
	s := NewState()
	s.MarkSubscribed("eth_usdt")
	s.MarkSubscribed("ETH_USDT")
	s.Update(models.Tick{Symbol: "eth_usdt", Price: 3000})

	for _, sym := range []string{"eth_usdt", "ETH_USDT"} {
		if tick, ok := s.Realtime(sym); !ok || tick.Symbol != "ETH_USDT" {
			t.Fatalf("lookup %q: %+v %v", sym, tick, ok)
		}
	}
	if st := s.Status(); st.TotalSubscribed != 1 || st.Coins[0] != "ETH_USDT" {
		t.Fatalf("unexpected status %+v", st)
	}
}
