package queue

import (
	"hash/fnv"
	"sync"
	"time"
)

// maxPollBatch bounds how many messages a single Poll returns.
const maxPollBatch = 100

// MemoryBroker is a partitioned in-process broker. It mirrors the delivery
// semantics of the real transport: per-partition ordering, keyed
// partitioning and consumer offsets that only advance on commit, so
// uncommitted messages are redelivered after a re-subscribe.
type MemoryBroker struct {
	mu         sync.Mutex
	partitions int32
	topics     map[string]map[int32][]*Message
	committed  map[string]map[int32]int64
	notify     chan struct{}
}

// NewMemoryBroker creates a broker whose topics all have the given number
// of partitions.
func NewMemoryBroker(partitions int32) *MemoryBroker {
	return &MemoryBroker{
		partitions: partitions,
		topics:     map[string]map[int32][]*Message{},
		committed:  map[string]map[int32]int64{},
		notify:     make(chan struct{}),
	}
}

// Send implements Producer. The partition is derived from the key.
func (b *MemoryBroker) Send(topic string, key, value []byte) error {
	h := fnv.New32a()
	_, _ = h.Write(key)
	partition := int32(h.Sum32() % uint32(b.partitions))

	b.produce(topic, partition, key, value)
	return nil
}

func (b *MemoryBroker) produce(topic string, partition int32, key, value []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.topics[topic] == nil {
		b.topics[topic] = map[int32][]*Message{}
	}

	msgs := b.topics[topic][partition]
	b.topics[topic][partition] = append(msgs, &Message{
		Topic:     topic,
		Partition: partition,
		Offset:    int64(len(msgs)),
		Key:       key,
		Value:     value,
	})

	close(b.notify)
	b.notify = make(chan struct{})
}

// TopicContents snapshots all messages ever published to the topic, across
// partitions, in publish order per partition.
func (b *MemoryBroker) TopicContents(topic string) []*Message {
	b.mu.Lock()
	defer b.mu.Unlock()

	var out []*Message
	for partition := int32(0); partition < b.partitions; partition++ {
		out = append(out, b.topics[topic][partition]...)
	}
	return out
}

func (b *MemoryBroker) notifyChan() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.notify
}

// NewConsumer creates an unsubscribed consumer in the given consumer group.
func (b *MemoryBroker) NewConsumer(topic, group string) *MemoryConsumer {
	return &MemoryConsumer{
		broker:    b,
		topic:     topic,
		group:     group,
		positions: map[int32]int64{},
	}
}

// MemoryConsumer consumes from a MemoryBroker.
type MemoryConsumer struct {
	broker *MemoryBroker
	topic  string
	group  string

	mu        sync.Mutex
	assigned  []int32
	positions map[int32]int64
	stopped   bool
}

// Subscribe replaces the partition assignment. Read positions restart from
// the last committed offsets, redelivering anything processed but not yet
// committed.
func (c *MemoryConsumer) Subscribe(partitions []int32) error {
	c.broker.mu.Lock()
	committed := c.broker.committed[c.group+"/"+c.topic]
	c.broker.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.assigned = append([]int32{}, partitions...)
	c.positions = map[int32]int64{}
	for _, p := range partitions {
		c.positions[p] = committed[p]
	}

	return nil
}

// Unsubscribe drops the assignment and stops the consumer.
func (c *MemoryConsumer) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.assigned = nil
	c.stopped = true
}

// IsStopped reports whether Unsubscribe was called.
func (c *MemoryConsumer) IsStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Poll returns the next batch, blocking up to timeout while the assigned
// partitions are empty.
func (c *MemoryConsumer) Poll(timeout time.Duration) ([]*Message, error) {
	deadline := time.Now().Add(timeout)

	for {
		notify := c.broker.notifyChan()

		if batch := c.fetch(); len(batch) > 0 {
			return batch, nil
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, nil
		}

		select {
		case <-notify:
		case <-time.After(remaining):
		}
	}
}

func (c *MemoryConsumer) fetch() []*Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return nil
	}

	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	var batch []*Message
	for _, p := range c.assigned {
		msgs := c.broker.topics[c.topic][p]
		for int(c.positions[p]) < len(msgs) && len(batch) < maxPollBatch {
			batch = append(batch, msgs[c.positions[p]])
			c.positions[p]++
		}
	}

	return batch
}

// Commit checkpoints the current read positions.
func (c *MemoryConsumer) Commit() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.broker.mu.Lock()
	defer c.broker.mu.Unlock()

	key := c.group + "/" + c.topic
	if c.broker.committed[key] == nil {
		c.broker.committed[key] = map[int32]int64{}
	}
	for p, pos := range c.positions {
		c.broker.committed[key][p] = pos
	}

	return nil
}
