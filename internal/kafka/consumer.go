package kafka

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Handler processes one committed-mutation message.
type Handler func(ctx context.Context, topic string, key, value []byte) error

type messageReader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Consumer reads committed-mutation events and hands them to the emitter.
// Handler errors are logged and the message is committed anyway: a fan-out
// event that cannot be delivered is not worth blocking the partition for.
type Consumer struct {
	reader  messageReader
	handle  Handler
	backoff time.Duration
	desc    string
}

func NewConsumer(brokers, groupID, topic string, h Handler) *Consumer {
	return &Consumer{
		reader: kafka.NewReader(kafka.ReaderConfig{
			Brokers:        strings.Split(brokers, ","),
			GroupID:        groupID,
			Topic:          topic,
			MinBytes:       1,
			MaxBytes:       10e6,
			MaxWait:        500 * time.Millisecond,
			StartOffset:    kafka.LastOffset,
			CommitInterval: time.Second,
		}),
		handle:  h,
		backoff: time.Second,
		desc:    "group=" + groupID + " topic=" + topic + " brokers=" + brokers,
	}
}

func (c *Consumer) Run(ctx context.Context) error {
	defer func() {
		_ = c.reader.Close()
	}()

	log.Printf("[Kafka] Consumer started | %s", c.desc)

	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("[Kafka] Consumer shutting down...")
				return nil
			}
			log.Printf("[Kafka] Fetch error: %v", err)
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
			continue
		}

		if c.handle != nil {
			if e := c.handle(ctx, m.Topic, m.Key, m.Value); e != nil {
				log.Printf("[Kafka] Handler error (key=%s): %v", string(m.Key), e)
			}
		}

		if err := c.reader.CommitMessages(ctx, m); err != nil {
			log.Printf("[Kafka] Commit error: %v", err)
		}
	}
}
