// Package broker implements the lifecycle broker handle on Kafka.
package broker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"lifecycle/internal/lifecycle"
)

// UnknownOffset is the Ack offset when RequiredAcks is none.
const UnknownOffset int64 = -1

// Dialer connects to Kafka with a fixed Config.
type Dialer struct {
	config Config
	logger *zap.Logger
}

// NewDialer validates config and returns a Dialer for it.
func NewDialer(config Config, logger *zap.Logger) (*Dialer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid broker config: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Dialer{config: config, logger: logger.Named("kafka")}, nil
}

// Dial performs one metadata handshake for the configured topic. It fails if
// no broker answers, the topic does not exist or it has no partitions.
func (d *Dialer) Dial(ctx context.Context) (lifecycle.Handle, error) {
	if d.config.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.config.DialTimeout)
		defer cancel()
	}

	transport := &kafka.Transport{
		ClientID:    d.config.ClientID,
		DialTimeout: d.config.DialTimeout,
	}
	client := &kafka.Client{
		Addr:      kafka.TCP(d.config.Brokers...),
		Transport: transport,
	}

	md, err := client.Metadata(ctx, &kafka.MetadataRequest{Topics: []string{d.config.Topic}})
	if err != nil {
		transport.CloseIdleConnections()
		return nil, fmt.Errorf("failed to fetch metadata: %w", err)
	}

	partitions, err := topicPartitions(md, d.config.Topic)
	if err != nil {
		transport.CloseIdleConnections()
		return nil, err
	}

	d.logger.Debug("broker handshake complete",
		zap.String("topic", d.config.Topic),
		zap.Ints("partitions", partitions),
		zap.String("acks", d.config.RequiredAcks.String()),
		zap.Int("retries", d.config.Retries),
	)

	return &Handle{
		client:     client,
		transport:  transport,
		topic:      d.config.Topic,
		acks:       d.config.RequiredAcks.kafka(),
		attempts:   d.config.Retries + 1,
		partitions: partitions,
		balancer:   kafka.Murmur2Balancer{Consistent: true},
	}, nil
}

func topicPartitions(md *kafka.MetadataResponse, topic string) ([]int, error) {
	for _, t := range md.Topics {
		if t.Name != topic {
			continue
		}
		if t.Error != nil {
			return nil, fmt.Errorf("topic %s: %w", topic, t.Error)
		}
		ids := make([]int, 0, len(t.Partitions))
		for _, p := range t.Partitions {
			ids = append(ids, p.ID)
		}
		if len(ids) == 0 {
			return nil, fmt.Errorf("topic %s has no partitions", topic)
		}
		slices.Sort(ids)
		return ids, nil
	}

	return nil, fmt.Errorf("topic %s not found in broker metadata", topic)
}

// Handle is a Kafka-backed lifecycle.Handle. The partition set is fixed at
// dial time, so a key always maps to the same partition for the life of the
// handle.
type Handle struct {
	client     *kafka.Client
	transport  *kafka.Transport
	topic      string
	acks       kafka.RequiredAcks
	attempts   int
	partitions []int
	balancer   kafka.Murmur2Balancer

	closeOnce sync.Once
}

// PartitionFor returns the partition a key is written to.
func (h *Handle) PartitionFor(key []byte) int {
	return h.balancer.Balance(kafka.Message{Key: key}, h.partitions...)
}

// Send produces a single record and waits for its acknowledgment. Failed
// attempts are retried up to the retry count given at dial time while ctx
// allows.
func (h *Handle) Send(ctx context.Context, key, value []byte) (lifecycle.Ack, error) {
	partition := h.PartitionFor(key)

	var lastErr error
	for attempt := 0; attempt < h.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return lifecycle.Ack{}, err
		}

		res, err := h.client.Produce(ctx, &kafka.ProduceRequest{
			Topic:        h.topic,
			Partition:    partition,
			RequiredAcks: h.acks,
			Records: kafka.NewRecordReader(kafka.Record{
				Time:  time.Now(),
				Key:   kafka.NewBytes(key),
				Value: kafka.NewBytes(value),
			}),
		})
		if err == nil && res == nil {
			// acks=none: the broker sends no response, so the offset is unknown
			return lifecycle.Ack{Topic: h.topic, Partition: partition, Offset: UnknownOffset}, nil
		}
		if err == nil && res.Error != nil {
			err = res.Error
		}
		if err == nil {
			return lifecycle.Ack{Topic: h.topic, Partition: partition, Offset: res.BaseOffset}, nil
		}

		lastErr = err
		if !retriable(err) {
			break
		}
	}

	return lifecycle.Ack{}, fmt.Errorf("failed to produce to %s/%d: %w", h.topic, partition, lastErr)
}

// Close releases the handle's connections. Safe to call more than once.
func (h *Handle) Close() error {
	h.closeOnce.Do(h.transport.CloseIdleConnections)
	return nil
}

func retriable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var kerr kafka.Error
	if errors.As(err, &kerr) {
		return kerr.Temporary()
	}

	return true
}
