package publisher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// ErrTopicNotReady means the price topic has no partitions yet. Writes may
// still succeed once the cluster catches up.
var ErrTopicNotReady = errors.New("kafka topic not ready")

const (
	readyPolls    = 5
	readyInterval = 200 * time.Millisecond
)

// TopicCreator makes sure the price topic exists before the first write.
type TopicCreator struct {
	logger  *zap.Logger
	dialer  KafkaDialer
	sleeper Sleeper
}

func NewTopicCreator(logger *zap.Logger, dialer KafkaDialer, sleeper Sleeper) *TopicCreator {
	return &TopicCreator{
		logger:  logger,
		dialer:  dialer,
		sleeper: sleeper,
	}
}

// Ensure creates topic through the cluster controller, treating an existing
// topic as success, then waits until it reports partitions.
func (tc *TopicCreator) Ensure(ctx context.Context, brokers []string, topic string, partitions int) error {
	if partitions < 1 {
		partitions = 1
	}

	conn, err := tc.dialAny(ctx, brokers)
	if err != nil {
		return err
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("looking up kafka controller: %w", err)
	}

	addr := net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port))
	ctrl, err := tc.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("dialing kafka controller %s: %w", addr, err)
	}
	defer ctrl.Close()

	err = ctrl.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	switch {
	case errors.Is(err, kafka.TopicAlreadyExists):
		tc.logger.Debug("Topic already exists", zap.String("topic", topic))
	case err != nil:
		return fmt.Errorf("creating topic %s: %w", topic, err)
	default:
		tc.logger.Info("Topic created", zap.String("topic", topic), zap.Int("partitions", partitions))
	}

	n := tc.awaitPartitions(conn, topic)
	if n == 0 {
		return fmt.Errorf("%w: %s after %s", ErrTopicNotReady, topic, readyPolls*readyInterval)
	}
	tc.logger.Info("Topic is ready", zap.String("topic", topic), zap.Int("partitions", n))
	return nil
}

func (tc *TopicCreator) dialAny(ctx context.Context, brokers []string) (KafkaConn, error) {
	if len(brokers) == 0 {
		return nil, errors.New("no kafka brokers configured")
	}
	var errs []error
	for _, addr := range brokers {
		conn, err := tc.dialer.DialContext(ctx, "tcp", addr)
		if err == nil {
			return conn, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", addr, err))
	}
	return nil, fmt.Errorf("dialing kafka brokers: %w", errors.Join(errs...))
}

// awaitPartitions polls metadata and returns the partition count, or 0 if the
// topic never showed up.
func (tc *TopicCreator) awaitPartitions(conn KafkaConn, topic string) int {
	for i := 0; i < readyPolls; i++ {
		tc.sleeper.Sleep(readyInterval)
		parts, err := conn.ReadPartitions(topic)
		if err == nil && len(parts) > 0 {
			return len(parts)
		}
	}
	return 0
}
