package coordinator

import (
	"sync"

	"gitlab.com/gitlab-org/vccoord/internal/vcs"
)

// pendingCommits maps each tenant to its at most one in-flight staged
// transaction. The tenant lock serializes all mutation of a single entry;
// the table's own mutex only protects the map against access from
// different tenants' lock holders.
type pendingCommits struct {
	mu      sync.Mutex
	commits map[vcs.TenantID]*vcs.PendingCommit
}

func newPendingCommits() *pendingCommits {
	return &pendingCommits{commits: map[vcs.TenantID]*vcs.PendingCommit{}}
}

func (p *pendingCommits) get(tenantID vcs.TenantID) *vcs.PendingCommit {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.commits[tenantID]
}

func (p *pendingCommits) put(commit *vcs.PendingCommit) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.commits[commit.TenantID] = commit
}

func (p *pendingCommits) remove(tenantID vcs.TenantID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.commits, tenantID)
}

func (p *pendingCommits) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.commits)
}
