// Package saramamock provides hand-rolled fakes for sarama consumer groups.
package saramamock

import (
	"context"
	"sync"

	"github.com/Shopify/sarama"
)

// ConsumerGroupSession is a fake sarama.ConsumerGroupSession.
// It records marked offsets and commits for assertions.
type ConsumerGroupSession struct {
	MClaims       map[string][]int32
	MMemberID     string
	MContext      context.Context
	MGenerationID int32

	mu      sync.Mutex
	marked  map[string]int64
	commits int
}

// Claims returns what's saved.
func (m *ConsumerGroupSession) Claims() map[string][]int32 {
	return m.MClaims
}

// MemberID returns what's saved.
func (m *ConsumerGroupSession) MemberID() string {
	return m.MMemberID
}

// GenerationID returns what's saved.
func (m *ConsumerGroupSession) GenerationID() int32 {
	return m.MGenerationID
}

// MarkOffset records the highest offset marked per topic.
func (m *ConsumerGroupSession) MarkOffset(topic string, _ int32, offset int64, _ string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.marked == nil {
		m.marked = make(map[string]int64)
	}
	if offset > m.marked[topic] {
		m.marked[topic] = offset
	}
}

// Commit counts invocations.
func (m *ConsumerGroupSession) Commit() {
	m.mu.Lock()
	m.commits++
	m.mu.Unlock()
}

// MarkedOffset returns the highest offset marked for a topic.
func (m *ConsumerGroupSession) MarkedOffset(topic string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.marked[topic]
}

// Commits returns the number of Commit calls.
func (m *ConsumerGroupSession) Commits() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.commits
}

// ResetOffset does nothing.
func (*ConsumerGroupSession) ResetOffset(_ string, _ int32, _ int64, _ string) {}

// MarkMessage does nothing.
func (*ConsumerGroupSession) MarkMessage(_ *sarama.ConsumerMessage, _ string) {}

// Context returns what's saved.
func (m *ConsumerGroupSession) Context() context.Context {
	return m.MContext
}

var _ sarama.ConsumerGroupSession = (*ConsumerGroupSession)(nil)

// ConsumerGroupClaim is a fake sarama.ConsumerGroupClaim.
type ConsumerGroupClaim struct {
	// NextMessage generates a Kafka message. Does not need to be thread-safe.
	NextMessage func() *sarama.ConsumerMessage
	msgChan     chan *sarama.ConsumerMessage

	// Saved values.
	MTopic               string
	MPartition           int32
	MInitialOffset       int64
	MHighWaterMarkOffset int64
}

// Init must be called before using other methods.
func (c *ConsumerGroupClaim) Init() {
	c.msgChan = make(chan *sarama.ConsumerMessage)
}

// Topic returns the saved value.
func (c *ConsumerGroupClaim) Topic() string {
	return c.MTopic
}

// Partition returns the saved value.
func (c *ConsumerGroupClaim) Partition() int32 {
	return c.MPartition
}

// InitialOffset returns the saved value.
func (c *ConsumerGroupClaim) InitialOffset() int64 {
	return c.MInitialOffset
}

// HighWaterMarkOffset returns the saved offset.
func (c *ConsumerGroupClaim) HighWaterMarkOffset() int64 {
	return c.MHighWaterMarkOffset
}

// Messages returns the messages channel.
func (c *ConsumerGroupClaim) Messages() <-chan *sarama.ConsumerMessage {
	return c.msgChan
}

// Run generates messages until the context is closed,
// stamping topic, partition and increasing offsets on each.
// It can only be called once and will panic otherwise.
func (c *ConsumerGroupClaim) Run(ctx context.Context) error {
	defer close(c.msgChan)
	offset := c.MInitialOffset
	for {
		msg := c.NextMessage()
		msg.Topic = c.MTopic
		msg.Partition = c.MPartition
		msg.Offset = offset
		offset++
		select {
		case <-ctx.Done():
			return ctx.Err()
		case c.msgChan <- msg:
			break // continue
		}
	}
}

var _ sarama.ConsumerGroupClaim = (*ConsumerGroupClaim)(nil)
