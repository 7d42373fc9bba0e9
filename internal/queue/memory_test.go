package queue

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func pollAll(t *testing.T, c *MemoryConsumer, timeout time.Duration) []*Message {
	t.Helper()

	batch, err := c.Poll(timeout)
	require.NoError(t, err)
	return batch
}

func TestMemoryBrokerKeyedPartitioning(t *testing.T) {
	broker := NewMemoryBroker(4)

	for i := 0; i < 10; i++ {
		require.NoError(t, broker.Send("topic", []byte("tenant-a"), []byte(fmt.Sprintf("%d", i))))
	}

	partitions := map[int32]int{}
	for _, msg := range broker.TopicContents("topic") {
		partitions[msg.Partition]++
	}

	require.Len(t, partitions, 1, "one key must map to one partition")
}

func TestMemoryConsumerDeliversInOrder(t *testing.T) {
	broker := NewMemoryBroker(1)
	consumer := broker.NewConsumer("topic", "group")
	require.NoError(t, consumer.Subscribe([]int32{0}))

	for i := 0; i < 5; i++ {
		require.NoError(t, broker.Send("topic", []byte("k"), []byte(fmt.Sprintf("msg-%d", i))))
	}

	batch := pollAll(t, consumer, time.Second)
	require.Len(t, batch, 5)
	for i, msg := range batch {
		require.Equal(t, fmt.Sprintf("msg-%d", i), string(msg.Value))
		require.Equal(t, int64(i), msg.Offset)
	}
}

func TestMemoryConsumerRedeliversUncommitted(t *testing.T) {
	broker := NewMemoryBroker(1)
	consumer := broker.NewConsumer("topic", "group")
	require.NoError(t, consumer.Subscribe([]int32{0}))

	require.NoError(t, broker.Send("topic", []byte("k"), []byte("once")))
	require.Len(t, pollAll(t, consumer, time.Second), 1)

	// Not committed: a re-subscribe rewinds to the last checkpoint.
	require.NoError(t, consumer.Subscribe([]int32{0}))
	require.Len(t, pollAll(t, consumer, time.Second), 1)

	require.NoError(t, consumer.Commit())
	require.NoError(t, consumer.Subscribe([]int32{0}))
	require.Empty(t, pollAll(t, consumer, 10*time.Millisecond))
}

func TestMemoryConsumerPollTimesOutEmpty(t *testing.T) {
	broker := NewMemoryBroker(1)
	consumer := broker.NewConsumer("topic", "group")
	require.NoError(t, consumer.Subscribe([]int32{0}))

	start := time.Now()
	require.Empty(t, pollAll(t, consumer, 20*time.Millisecond))
	require.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestMemoryConsumerWakesOnPublish(t *testing.T) {
	broker := NewMemoryBroker(1)
	consumer := broker.NewConsumer("topic", "group")
	require.NoError(t, consumer.Subscribe([]int32{0}))

	go func() {
		time.Sleep(5 * time.Millisecond)
		_ = broker.Send("topic", []byte("k"), []byte("wake"))
	}()

	require.Len(t, pollAll(t, consumer, 5*time.Second), 1)
}

func TestMemoryConsumerUnsubscribeStops(t *testing.T) {
	broker := NewMemoryBroker(1)
	consumer := broker.NewConsumer("topic", "group")
	require.NoError(t, consumer.Subscribe([]int32{0}))
	require.False(t, consumer.IsStopped())

	consumer.Unsubscribe()
	require.True(t, consumer.IsStopped())

	require.NoError(t, broker.Send("topic", []byte("k"), []byte("late")))
	require.Empty(t, pollAll(t, consumer, 10*time.Millisecond))
}

func TestNotificationsTopic(t *testing.T) {
	require.Equal(t, "core.notifications.node-1", NotificationsTopic(ServiceCore, "node-1"))
}

func TestPartitionNotifier(t *testing.T) {
	notifier := &PartitionNotifier{}

	var events []PartitionChangeEvent
	notifier.Listen(func(event PartitionChangeEvent) {
		events = append(events, event)
	})

	notifier.Publish(PartitionChangeEvent{Service: ServiceVersionControl, Partitions: []int32{0, 1}})
	notifier.Publish(PartitionChangeEvent{Service: ServiceCore, Partitions: []int32{2}})

	require.Len(t, events, 2)
	require.Equal(t, ServiceVersionControl, events[0].Service)
	require.Equal(t, []int32{0, 1}, events[0].Partitions)
}
