package writer

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	kafka "github.com/segmentio/kafka-go"

	appconfig "coinpulse/config"
	"coinpulse/logger"
	"coinpulse/models"
)

// PriceUpdate is the message published per symbol after a save.
type PriceUpdate struct {
	Symbol       string             `json:"symbol"`
	Price        float64            `json:"price"`
	Timestamp    int64              `json:"timestamp"`
	Changes      map[string]float64 `json:"changes"`
	Stats        models.Stats       `json:"stats"`
	SnapshotTime string             `json:"snapshot_time"`
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// PricePublisher fans the latest price of every symbol out to a Kafka topic,
// keyed by symbol so consumers see per-symbol order.
type PricePublisher struct {
	writer messageWriter
	topic  string
	log    *logger.Log
}

// NewPricePublisher returns nil when no brokers are configured.
func NewPricePublisher(cfg appconfig.KafkaConfig) *PricePublisher {
	if len(cfg.Brokers) == 0 {
		return nil
	}
	p := newPricePublisher(&kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchTimeout: 50 * time.Millisecond,
	}, cfg.Topic)
	p.log.WithComponent("price_publisher").WithFields(logger.Fields{
		"brokers": cfg.Brokers,
		"topic":   cfg.Topic,
	}).Info("kafka publisher initialized")
	return p
}

func newPricePublisher(w messageWriter, topic string) *PricePublisher {
	return &PricePublisher{writer: w, topic: topic, log: logger.GetLogger()}
}

// Publish writes one PriceUpdate per symbol and returns how many were sent.
func (p *PricePublisher) Publish(ctx context.Context, snap models.Snapshot) (int, error) {
	msgs, err := priceMessages(snap)
	if err != nil || len(msgs) == 0 {
		return 0, err
	}
	start := time.Now()
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return 0, fmt.Errorf("publish price updates: %w", err)
	}
	log := p.log.WithComponent("price_publisher").WithFields(logger.Fields{"topic": p.topic})
	logger.LogDataFlowEntry(log, "aggregator", "kafka", len(msgs), "price_update")
	logger.LogPerformanceEntry(log, "price_publisher", "publish", time.Since(start), logger.Fields{"messages": len(msgs)})
	return len(msgs), nil
}

func (p *PricePublisher) Close() error {
	if p == nil {
		return nil
	}
	return p.writer.Close()
}

func priceMessages(snap models.Snapshot) ([]kafka.Message, error) {
	syms := make([]string, 0, len(snap.Prices))
	for sym, rec := range snap.Prices {
		if rec != nil {
			syms = append(syms, sym)
		}
	}
	sort.Strings(syms)

	msgs := make([]kafka.Message, 0, len(syms))
	for _, sym := range syms {
		rec := snap.Prices[sym]
		data, err := json.Marshal(PriceUpdate{
			Symbol:       sym,
			Price:        rec.Price,
			Timestamp:    rec.Timestamp,
			Changes:      rec.Changes,
			Stats:        rec.Stats,
			SnapshotTime: snap.LastUpdated,
		})
		if err != nil {
			return nil, fmt.Errorf("encode %s update: %w", sym, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(sym), Value: data})
	}
	return msgs, nil
}
