package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// CanonicalSymbol is the form every symbol is stored and looked up under.
func CanonicalSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// Tick is one decoded price update.
type Tick struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
	High   float64 `json:"high"`
	Low    float64 `json:"low"`
	Volume float64 `json:"volume"`
	Change float64 `json:"change"`
	// ServerTime is in epoch seconds as sent by the provider.
	ServerTime int64 `json:"server_time"`
}

// TimestampMillis converts the provider time to epoch ms, falling back to now.
func (t Tick) TimestampMillis() int64 {
	if t.ServerTime > 0 {
		return t.ServerTime * 1000
	}
	return time.Now().UnixMilli()
}

// TickFrame is the streaming provider's inbound envelope.
type TickFrame struct {
	Type string      `json:"type"`
	Pair string      `json:"pair"`
	Tick *TickValues `json:"tick"`
	TS   FlexFloat   `json:"TS"`
}

type TickValues struct {
	Latest FlexFloat `json:"latest"`
	High   FlexFloat `json:"high"`
	Low    FlexFloat `json:"low"`
	Vol    FlexFloat `json:"vol"`
	Change FlexFloat `json:"change"`
}

// SubscribeFrame requests ticks for a single pair.
type SubscribeFrame struct {
	Action    string `json:"action"`
	Subscribe string `json:"subscribe"`
	Pair      string `json:"pair"`
}

// FlexFloat decodes a JSON number or a numeric string.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*f = 0
			return nil
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return fmt.Errorf("invalid numeric string %q: %w", s, err)
		}
		*f = FlexFloat(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = FlexFloat(v)
	return nil
}

// ConnectionStatus describes the live feed.
type ConnectionStatus struct {
	Connected       bool     `json:"connected"`
	ActiveCoins     int      `json:"active_coins"`
	TotalSubscribed int      `json:"total_subscribed"`
	Coins           []string `json:"coins"`
}
