package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestLockTableCreatesLazilyAndRetains(t *testing.T) {
	table := newLockTable()

	first := table.get("tenant-a")
	require.Same(t, first, table.get("tenant-a"))
	require.NotSame(t, first, table.get("tenant-b"))
	require.Equal(t, 2, table.len())
}

func TestTenantLockFIFOOrder(t *testing.T) {
	lock := &tenantLock{}
	lock.Lock()

	const waiters = 5

	var mu sync.Mutex
	var order []int

	var wg sync.WaitGroup
	for i := 0; i < waiters; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			lock.Lock()
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			lock.Unlock()
		}()

		// Wait until the goroutine is queued so arrival order is fixed.
		require.Eventually(t, func() bool {
			lock.mu.Lock()
			defer lock.mu.Unlock()
			return len(lock.waiters) == i+1
		}, 5*time.Second, time.Millisecond)
	}

	lock.Unlock()
	wg.Wait()

	require.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestTenantLocksAreIndependent(t *testing.T) {
	table := newLockTable()

	table.get("tenant-a").Lock()
	defer table.get("tenant-a").Unlock()

	acquired := make(chan struct{})
	go func() {
		table.get("tenant-b").Lock()
		close(acquired)
		table.get("tenant-b").Unlock()
	}()

	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("tenant-b's lock blocked on tenant-a's")
	}
}

func TestTenantLockUncontended(t *testing.T) {
	lock := &tenantLock{}

	for i := 0; i < 3; i++ {
		lock.Lock()
		lock.Unlock()
	}
}
