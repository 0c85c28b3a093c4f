package models

// Sample is one price observation inside a history buffer.
type Sample struct {
	Price     float64 `json:"price"`
	Timestamp int64   `json:"timestamp"` // epoch ms
}

// Stats holds the session extremes and last reported volume.
type Stats struct {
	High24h float64 `json:"high_24h"`
	Low24h  float64 `json:"low_24h"`
	Volume  float64 `json:"volume"`
}

// SymbolRecord is everything known about one trading pair.
type SymbolRecord struct {
	Symbol    string              `json:"symbol"`
	Price     float64             `json:"price"`
	Timestamp int64               `json:"timestamp"`
	History   map[string][]Sample `json:"history"`
	Changes   map[string]float64  `json:"changes"`
	Stats     Stats               `json:"stats"`
}

// Clone returns a deep copy.
func (r *SymbolRecord) Clone() *SymbolRecord {
	if r == nil {
		return nil
	}
	out := &SymbolRecord{
		Symbol:    r.Symbol,
		Price:     r.Price,
		Timestamp: r.Timestamp,
		History:   make(map[string][]Sample, len(r.History)),
		Changes:   make(map[string]float64, len(r.Changes)),
		Stats:     r.Stats,
	}
	for tf, samples := range r.History {
		out.History[tf] = append([]Sample(nil), samples...)
	}
	for k, v := range r.Changes {
		out.Changes[k] = v
	}
	return out
}

// Snapshot is the persisted document body.
type Snapshot struct {
	Prices      map[string]*SymbolRecord `json:"prices"`
	LastUpdated string                   `json:"last_updated"`
}

// PriceView is a single-timeframe projection of a SymbolRecord.
type PriceView struct {
	Symbol       string             `json:"symbol"`
	CurrentPrice float64            `json:"current_price"`
	Timestamp    int64              `json:"timestamp"`
	Changes      map[string]float64 `json:"changes"`
	Stats        Stats              `json:"stats"`
	History      []Sample           `json:"history"`
}

// PersistenceStatus summarises the snapshot writer.
type PersistenceStatus struct {
	Active      bool   `json:"active"`
	TotalCoins  int    `json:"total_coins"`
	LastUpdated string `json:"last_updated"`
	HasData     bool   `json:"has_data"`
	DocumentID  string `json:"document_id,omitempty"`
}
