// Package publisher fans refreshed prices out to other systems. None of it is
// required for the watchlist itself: a failed notification only gets logged.
package publisher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/gauravprwl14/trade-watch-chrome-extension/pkg/models"
)

const (
	keyPrefix     = "watch:"
	channelPrefix = "watch.prices."
	snapshotTTL   = 1 * time.Hour
)

// RedisPublisher caches the latest price per symbol and publishes it to
// subscribers in one pipeline. An update whose SeqID is not newer than the
// last one published for its symbol is dropped.
type RedisPublisher struct {
	rdb RedisClient

	mu      sync.Mutex
	lastSeq map[string]int64
}

func NewRedisPublisher(rdb RedisClient) *RedisPublisher {
	return &RedisPublisher{rdb: rdb, lastSeq: make(map[string]int64)}
}

func (p *RedisPublisher) Notify(ctx context.Context, update models.StockUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if update.SeqID <= p.lastSeq[update.Symbol] {
		return nil
	}

	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encoding update for %s: %w", update.Symbol, err)
	}

	// SET + PUBLISH together so a subscriber never sees a price the cache lacks
	pipe := p.rdb.Pipeline()
	pipe.Set(ctx, keyPrefix+update.Symbol, payload, snapshotTTL)
	pipe.Publish(ctx, channelPrefix+update.Symbol, payload)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis pipeline for %s: %w", update.Symbol, err)
	}
	p.lastSeq[update.Symbol] = update.SeqID
	return nil
}

// KafkaPublisher writes every update to a topic, keyed by symbol so each
// symbol's updates stay ordered within a partition.
type KafkaPublisher struct {
	writer KafkaWriter
}

func NewKafkaPublisher(writer KafkaWriter) *KafkaPublisher {
	return &KafkaPublisher{writer: writer}
}

// NewKafkaWriter builds the production writer for topic.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:     kafka.TCP(brokers...),
		Topic:    topic,
		Balancer: &kafka.Hash{},
		// A cycle produces a burst of updates; batch them
		BatchSize:    100,
		BatchTimeout: 10 * time.Millisecond,
	}
}

func (p *KafkaPublisher) Notify(ctx context.Context, update models.StockUpdate) error {
	payload, err := json.Marshal(update)
	if err != nil {
		return fmt.Errorf("encoding update for %s: %w", update.Symbol, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(update.Symbol),
		Value: payload,
	})
	if err != nil {
		return fmt.Errorf("kafka write for %s: %w", update.Symbol, err)
	}
	return nil
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// Notifier is anything that accepts price updates
type Notifier interface {
	Notify(ctx context.Context, update models.StockUpdate) error
}

// Multi delivers to every notifier, even when an earlier one fails.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, update models.StockUpdate) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, update); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
