// Package queue abstracts the partitioned message transport the coordinator
// consumes from and replies through. Implementations provide at-least-once
// delivery; deduplication happens at the protocol level.
package queue

import (
	"fmt"
	"sync"
	"time"
)

// Message is one raw queue entry.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
}

// Consumer reads batches of messages from the partitions it is subscribed
// to. Offsets advance only on Commit, so a crash between Poll and Commit
// redelivers the batch.
type Consumer interface {
	// Poll blocks up to timeout and returns the currently available batch,
	// possibly empty.
	Poll(timeout time.Duration) ([]*Message, error)

	// Commit checkpoints the offsets of all messages returned by previous
	// Poll calls.
	Commit() error

	// Subscribe replaces the assigned partition set.
	Subscribe(partitions []int32) error

	// Unsubscribe drops all partitions and stops the consumer.
	Unsubscribe()

	// IsStopped reports whether the consumer was stopped via Unsubscribe.
	IsStopped() bool
}

// Producer publishes messages. Partitioning is keyed so all messages of a
// tenant land on the same partition.
type Producer interface {
	Send(topic string, key, value []byte) error
}

// ServiceType tags the consumer role partition assignments apply to.
type ServiceType string

const (
	// ServiceCore is the role of the request-originating nodes; replies go
	// to a core node's notification topic.
	ServiceCore ServiceType = "core"
	// ServiceVersionControl is the role of the coordinator executors.
	ServiceVersionControl ServiceType = "vc-executor"
)

// NotificationsTopic returns the per-node topic replies are routed to.
func NotificationsTopic(service ServiceType, nodeID string) string {
	return fmt.Sprintf("%s.notifications.%s", service, nodeID)
}

// PartitionChangeEvent reports the full partition set a node owns for one
// service role after a cluster rebalance.
type PartitionChangeEvent struct {
	Service    ServiceType
	Partitions []int32
}

// PartitionNotifier fans partition change events out to registered
// listeners. The cluster-membership mechanism publishes into it.
type PartitionNotifier struct {
	mu        sync.Mutex
	listeners []func(PartitionChangeEvent)
}

// Listen registers a listener for future events.
func (n *PartitionNotifier) Listen(fn func(PartitionChangeEvent)) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.listeners = append(n.listeners, fn)
}

// Publish delivers the event to all listeners synchronously.
func (n *PartitionNotifier) Publish(event PartitionChangeEvent) {
	n.mu.Lock()
	listeners := append([]func(PartitionChangeEvent){}, n.listeners...)
	n.mu.Unlock()

	for _, fn := range listeners {
		fn(event)
	}
}
