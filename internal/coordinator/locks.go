package coordinator

import (
	"sync"

	"gitlab.com/gitlab-org/vccoord/internal/vcs"
)

// tenantLock is a mutual-exclusion lock granting access in strict
// first-come-first-served order. Fairness matters here: a tenant hammered
// by one node must not starve requests queued by another.
type tenantLock struct {
	mu      sync.Mutex
	locked  bool
	waiters []chan struct{}
}

// Lock blocks until the lock is held. Contending acquirers are granted the
// lock in the order they called Lock.
func (l *tenantLock) Lock() {
	l.mu.Lock()
	if !l.locked {
		l.locked = true
		l.mu.Unlock()
		return
	}

	wait := make(chan struct{})
	l.waiters = append(l.waiters, wait)
	l.mu.Unlock()

	<-wait
}

// Unlock releases the lock, handing it directly to the head waiter if one
// is queued.
func (l *tenantLock) Unlock() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.waiters) > 0 {
		head := l.waiters[0]
		l.waiters = l.waiters[1:]
		// Ownership transfers to the waiter; locked stays true.
		close(head)
		return
	}

	l.locked = false
}

// lockTable hands out one lock per tenant. Locks are created on first
// reference and retained for the process lifetime, bounding the table by
// the number of distinct tenants seen.
type lockTable struct {
	mu    sync.Mutex
	locks map[vcs.TenantID]*tenantLock
}

func newLockTable() *lockTable {
	return &lockTable{locks: map[vcs.TenantID]*tenantLock{}}
}

func (t *lockTable) get(tenantID vcs.TenantID) *tenantLock {
	t.mu.Lock()
	defer t.mu.Unlock()

	lock, ok := t.locks[tenantID]
	if !ok {
		lock = &tenantLock{}
		t.locks[tenantID] = lock
	}

	return lock
}

func (t *lockTable) len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.locks)
}
