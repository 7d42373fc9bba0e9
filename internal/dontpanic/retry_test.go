package dontpanic

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTryRecoversFromPanic(t *testing.T) {
	require.False(t, Try(func() { panic("oops") }))
	require.True(t, Try(func() {}))
}

func TestForeverRetriesUntilCancelled(t *testing.T) {
	var invocations int64

	forever := NewForever(time.Microsecond)
	forever.Go(func() {
		atomic.AddInt64(&invocations, 1)
		panic("recoverable")
	})

	require.Eventually(t, func() bool {
		return atomic.LoadInt64(&invocations) >= 3
	}, 5*time.Second, time.Millisecond)

	forever.Cancel()
	settled := atomic.LoadInt64(&invocations)

	time.Sleep(10 * time.Millisecond)
	require.Equal(t, settled, atomic.LoadInt64(&invocations), "no invocations after cancel")
}
