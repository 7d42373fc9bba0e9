// Package kafka implements the queue transport on top of Kafka. Partition
// assignment is driven externally by the cluster-membership mechanism, so
// the consumer manages partitions explicitly instead of joining a Kafka
// consumer group rebalance protocol; the group is only used for offset
// storage.
package kafka

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/Shopify/sarama"
	"github.com/sirupsen/logrus"

	"gitlab.com/gitlab-org/vccoord/internal/queue"
)

// Config carries the broker connection settings.
type Config struct {
	Brokers  []string `toml:"brokers" split_words:"true"`
	ClientID string   `toml:"client_id" split_words:"true"`
	Version  string   `toml:"version"`
}

// NewClient connects to the Kafka cluster.
func NewClient(cfg Config) (sarama.Client, error) {
	config := sarama.NewConfig()
	config.Producer.Return.Successes = true
	config.Producer.RequiredAcks = sarama.WaitForAll
	config.Consumer.Return.Errors = true

	if cfg.ClientID != "" {
		config.ClientID = cfg.ClientID
	}
	if cfg.Version != "" {
		version, err := sarama.ParseKafkaVersion(cfg.Version)
		if err != nil {
			return nil, fmt.Errorf("parse kafka version: %w", err)
		}
		config.Version = version
	}

	client, err := sarama.NewClient(cfg.Brokers, config)
	if err != nil {
		return nil, fmt.Errorf("connect to kafka %q: %w", strings.Join(cfg.Brokers, ","), err)
	}

	return client, nil
}

// Consumer implements queue.Consumer over explicitly assigned partitions of
// a single topic, checkpointing offsets through the group's offset manager.
type Consumer struct {
	topic    string
	logger   *logrus.Entry
	consumer sarama.Consumer
	offsets  sarama.OffsetManager

	messages chan *queue.Message

	mu        sync.Mutex
	assigned  map[int32]*partitionState
	delivered map[int32]int64
	stopped   bool
}

type partitionState struct {
	consumer sarama.PartitionConsumer
	offsets  sarama.PartitionOffsetManager
	done     chan struct{}
}

// NewConsumer creates a consumer reading from topic, with offsets stored
// under the given group.
func NewConsumer(client sarama.Client, group, topic string, logger *logrus.Entry) (*Consumer, error) {
	consumer, err := sarama.NewConsumerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}

	offsets, err := sarama.NewOffsetManagerFromClient(group, client)
	if err != nil {
		return nil, fmt.Errorf("create kafka offset manager: %w", err)
	}

	return &Consumer{
		topic:     topic,
		logger:    logger.WithField("topic", topic),
		consumer:  consumer,
		offsets:   offsets,
		messages:  make(chan *queue.Message, 1024),
		assigned:  map[int32]*partitionState{},
		delivered: map[int32]int64{},
	}, nil
}

// Subscribe replaces the assigned partition set, closing consumers of
// revoked partitions and starting consumers for new ones at their last
// committed offset.
func (c *Consumer) Subscribe(partitions []int32) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return fmt.Errorf("consumer for %q is stopped", c.topic)
	}

	keep := map[int32]bool{}
	for _, p := range partitions {
		keep[p] = true
	}

	for p, state := range c.assigned {
		if !keep[p] {
			c.closePartition(p, state)
		}
	}

	for _, p := range partitions {
		if _, ok := c.assigned[p]; ok {
			continue
		}
		if err := c.consumePartition(p); err != nil {
			return err
		}
	}

	return nil
}

func (c *Consumer) consumePartition(partition int32) error {
	pom, err := c.offsets.ManagePartition(c.topic, partition)
	if err != nil {
		return fmt.Errorf("manage partition %d: %w", partition, err)
	}

	next, _ := pom.NextOffset()
	if next == sarama.OffsetNewest {
		next = sarama.OffsetOldest
	}

	pc, err := c.consumer.ConsumePartition(c.topic, partition, next)
	if err != nil {
		_ = pom.Close()
		return fmt.Errorf("consume partition %d: %w", partition, err)
	}

	state := &partitionState{consumer: pc, offsets: pom, done: make(chan struct{})}
	c.assigned[partition] = state

	go c.forward(partition, state)

	return nil
}

// forward funnels one partition's messages into the shared poll channel.
func (c *Consumer) forward(partition int32, state *partitionState) {
	for {
		select {
		case msg, ok := <-state.consumer.Messages():
			if !ok {
				return
			}
			select {
			case c.messages <- &queue.Message{
				Topic:     msg.Topic,
				Partition: msg.Partition,
				Offset:    msg.Offset,
				Key:       msg.Key,
				Value:     msg.Value,
			}:
			case <-state.done:
				return
			}
		case err, ok := <-state.consumer.Errors():
			if !ok {
				return
			}
			c.logger.WithError(err).WithField("partition", partition).Warn("kafka partition consumer error")
		case <-state.done:
			return
		}
	}
}

func (c *Consumer) closePartition(partition int32, state *partitionState) {
	close(state.done)
	state.consumer.AsyncClose()
	if err := state.offsets.Close(); err != nil {
		c.logger.WithError(err).WithField("partition", partition).Warn("close partition offset manager")
	}
	delete(c.assigned, partition)
	delete(c.delivered, partition)
}

// Poll returns the batch of messages accumulated so far, waiting up to
// timeout for the first one.
func (c *Consumer) Poll(timeout time.Duration) ([]*queue.Message, error) {
	var batch []*queue.Message

	select {
	case msg := <-c.messages:
		batch = append(batch, msg)
	case <-time.After(timeout):
		return nil, nil
	}

	for len(batch) < cap(c.messages) {
		select {
		case msg := <-c.messages:
			batch = append(batch, msg)
		default:
			c.markDelivered(batch)
			return batch, nil
		}
	}

	c.markDelivered(batch)
	return batch, nil
}

func (c *Consumer) markDelivered(batch []*queue.Message) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, msg := range batch {
		if offset, ok := c.delivered[msg.Partition]; !ok || msg.Offset > offset {
			c.delivered[msg.Partition] = msg.Offset
		}
	}
}

// Commit checkpoints the highest delivered offset of every assigned
// partition.
func (c *Consumer) Commit() error {
	c.mu.Lock()
	for partition, offset := range c.delivered {
		if state, ok := c.assigned[partition]; ok {
			state.offsets.MarkOffset(offset+1, "")
		}
	}
	c.mu.Unlock()

	c.offsets.Commit()
	return nil
}

// Unsubscribe closes all partition consumers and stops the consumer.
func (c *Consumer) Unsubscribe() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.stopped {
		return
	}
	c.stopped = true

	for p, state := range c.assigned {
		c.closePartition(p, state)
	}

	if err := c.consumer.Close(); err != nil {
		c.logger.WithError(err).Warn("close kafka consumer")
	}
	if err := c.offsets.Close(); err != nil {
		c.logger.WithError(err).Warn("close kafka offset manager")
	}
}

// IsStopped reports whether Unsubscribe was called.
func (c *Consumer) IsStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Producer implements queue.Producer with a synchronous Kafka producer.
type Producer struct {
	producer sarama.SyncProducer
}

// NewProducer creates a producer sharing the given client.
func NewProducer(client sarama.Client) (*Producer, error) {
	producer, err := sarama.NewSyncProducerFromClient(client)
	if err != nil {
		return nil, fmt.Errorf("create kafka producer: %w", err)
	}

	return &Producer{producer: producer}, nil
}

// Send publishes one message, partitioned by key.
func (p *Producer) Send(topic string, key, value []byte) error {
	_, _, err := p.producer.SendMessage(&sarama.ProducerMessage{
		Topic: topic,
		Key:   sarama.ByteEncoder(key),
		Value: sarama.ByteEncoder(value),
	})
	return err
}

// Close shuts the producer down.
func (p *Producer) Close() error {
	return p.producer.Close()
}
