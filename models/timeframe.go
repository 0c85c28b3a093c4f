package models

import "time"

// Timeframe names one rolling history window.
type Timeframe string

const (
	Timeframe1h   Timeframe = "1h"
	Timeframe4h   Timeframe = "4h"
	Timeframe24h  Timeframe = "24h"
	Timeframe7d   Timeframe = "7d"
	Timeframe30d  Timeframe = "30d"
	Timeframe180d Timeframe = "180d"
)

// TimeframeSpec carries the window length and the sample bound of a buffer.
type TimeframeSpec struct {
	Name       Timeframe
	Period     time.Duration
	MaxSamples int
}

// Timeframes lists every window in presentation order.
var Timeframes = []TimeframeSpec{
	{Name: Timeframe1h, Period: time.Hour, MaxSamples: 60},
	{Name: Timeframe4h, Period: 4 * time.Hour, MaxSamples: 48},
	{Name: Timeframe24h, Period: 24 * time.Hour, MaxSamples: 96},
	{Name: Timeframe7d, Period: 7 * 24 * time.Hour, MaxSamples: 168},
	{Name: Timeframe30d, Period: 30 * 24 * time.Hour, MaxSamples: 180},
	{Name: Timeframe180d, Period: 180 * 24 * time.Hour, MaxSamples: 180},
}

// TimeframeNames returns the ordered window names.
func TimeframeNames() []string {
	names := make([]string, len(Timeframes))
	for i, tf := range Timeframes {
		names[i] = string(tf.Name)
	}
	return names
}

// LookupTimeframe returns the spec for name.
func LookupTimeframe(name string) (TimeframeSpec, bool) {
	for _, tf := range Timeframes {
		if string(tf.Name) == name {
			return tf, true
		}
	}
	return TimeframeSpec{}, false
}

// ChangeKey is the key used in SymbolRecord.Changes for tf, e.g. change_24h.
func ChangeKey(tf Timeframe) string {
	return "change_" + string(tf)
}

// SampleInterval is the spacing that fills a buffer exactly over its window.
func (s TimeframeSpec) SampleInterval() time.Duration {
	return s.Period / time.Duration(s.MaxSamples)
}
