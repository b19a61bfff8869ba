package inbound

import (
	"context"
	"log/slog"
	"sync"

	"github.com/segmentio/kafka-go"
)

// Consumer delivers raw records from the inbound topics.
type Consumer interface {
	// Start begins consuming from the configured topics.
	Start(ctx context.Context) error
	// Records returns the channel of consumed records.
	Records() <-chan Record
	// Close stops the consumer.
	Close() error
}

// Record is one raw inbound message.
type Record struct {
	Topic string
	Key   []byte
	Value []byte
}

// KafkaConsumer implements Consumer with one segmentio/kafka-go reader per topic.
type KafkaConsumer struct {
	brokers []string
	groupID string
	topics  []string

	mu      sync.Mutex
	readers []*kafka.Reader
	wg      sync.WaitGroup
	records chan Record
}

// NewKafkaConsumer creates a consumer in group groupID for topics.
func NewKafkaConsumer(brokers []string, groupID string, topics []string) *KafkaConsumer {
	return &KafkaConsumer{
		brokers: brokers,
		groupID: groupID,
		topics:  topics,
		records: make(chan Record, 100),
	}
}

// Start launches a reader goroutine per topic.
func (c *KafkaConsumer) Start(ctx context.Context) error {
	for _, topic := range c.topics {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:  c.brokers,
			Topic:    topic,
			GroupID:  c.groupID,
			MinBytes: 1,
			MaxBytes: 10e6,
		})
		c.mu.Lock()
		c.readers = append(c.readers, reader)
		c.mu.Unlock()

		c.wg.Add(1)
		go c.read(ctx, reader, topic)
	}
	slog.Info("Inbound consumer started", "topics", c.topics, "group", c.groupID)
	return nil
}

func (c *KafkaConsumer) read(ctx context.Context, r *kafka.Reader, topic string) {
	defer c.wg.Done()
	for {
		msg, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("Inbound read failed", "topic", topic, "error", err)
			continue
		}
		select {
		case c.records <- Record{Topic: topic, Key: msg.Key, Value: msg.Value}:
		case <-ctx.Done():
			return
		}
	}
}

// Records returns the channel of consumed records.
func (c *KafkaConsumer) Records() <-chan Record { return c.records }

// Close stops all readers and closes the record channel once they exit.
func (c *KafkaConsumer) Close() error {
	c.mu.Lock()
	readers := c.readers
	c.readers = nil
	c.mu.Unlock()
	for _, r := range readers {
		if err := r.Close(); err != nil {
			slog.Warn("Inbound reader close failed", "topic", r.Config().Topic, "error", err)
		}
	}
	c.wg.Wait()
	close(c.records)
	return nil
}

// ChannelConsumer is an in-process Consumer backed by a Go channel.
type ChannelConsumer struct {
	ch   chan Record
	once sync.Once
}

// NewChannelConsumer creates an in-process consumer.
func NewChannelConsumer() *ChannelConsumer {
	return &ChannelConsumer{ch: make(chan Record, 100)}
}

// Start is a no-op.
func (c *ChannelConsumer) Start(context.Context) error { return nil }

// Records returns the record channel.
func (c *ChannelConsumer) Records() <-chan Record { return c.ch }

// Close closes the channel. It is safe to call more than once.
func (c *ChannelConsumer) Close() error {
	c.once.Do(func() { close(c.ch) })
	return nil
}

// Send pushes a record into the consumer.
func (c *ChannelConsumer) Send(r Record) { c.ch <- r }
