package fanout

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Shopify/sarama"
	"go.uber.org/zap"
)

// Kafka submits job descriptors to a Kafka topic.
//
// The async producer buffers and batches internally, so Submit
// returns as soon as the message is enqueued. Delivery errors are
// logged; workers tolerate at-least-once delivery.
type Kafka struct {
	Producer sarama.AsyncProducer
	Topic    string
	Log      *zap.Logger
}

// NewKafka wraps an async producer.
// Spawns goroutines draining delivery results until the producer closes.
// With Producer.Return.Successes on, an undrained Successes channel
// backs up the producer pipeline and Input blocks.
func NewKafka(producer sarama.AsyncProducer, topic string, log *zap.Logger) *Kafka {
	k := &Kafka{Producer: producer, Topic: topic, Log: log}
	go func() {
		for range producer.Successes() {
		}
	}()
	go func() {
		for err := range producer.Errors() {
			log.Error("Failed to deliver job", zap.Error(err))
		}
	}()
	return k
}

// Submit enqueues the job descriptor on the producer.
func (k *Kafka) Submit(ctx context.Context, job Job) error {
	value, err := json.Marshal(&job)
	if err != nil {
		return fmt.Errorf("invalid job descriptor: %w", err)
	}
	msg := &sarama.ProducerMessage{
		Topic: k.Topic,
		// Keyed by job ID so retried submissions of one job stay ordered.
		Key:   sarama.StringEncoder(job.JobID),
		Value: sarama.ByteEncoder(value),
	}
	select {
	case k.Producer.Input() <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

var _ Submitter = (*Kafka)(nil)
