// Package vcproto defines the messages exchanged between cluster nodes and
// the version-control coordinator. Inbound requests form a closed sum type
// so dispatch can match variants exhaustively.
package vcproto

import (
	"github.com/google/uuid"

	"gitlab.com/gitlab-org/vccoord/internal/vcs"
)

// CoordinatorMsg is one inbound queue entry addressed to the coordinator.
type CoordinatorMsg struct {
	TenantID  vcs.TenantID
	NodeID    string
	RequestID uuid.UUID

	// Settings is the encoded repository settings blob. It is empty for
	// clear-repository requests, which do not need settings.
	Settings []byte

	Request Request
}

// Request is the closed set of request kinds the coordinator understands.
type Request interface {
	request()
}

// ClearRepositoryRequest asks the coordinator to discard the tenant's
// repository state.
type ClearRepositoryRequest struct{}

// TestRepositoryRequest asks the coordinator to verify the embedded
// settings can reach the repository.
type TestRepositoryRequest struct{}

// InitRepositoryRequest asks the coordinator to (re-)initialize the
// tenant's repository with the embedded settings.
type InitRepositoryRequest struct{}

// CommitRequest carries one operation of a staged transaction.
type CommitRequest struct {
	TxID uuid.UUID
	Op   CommitOp
}

func (ClearRepositoryRequest) request() {}
func (TestRepositoryRequest) request()  {}
func (InitRepositoryRequest) request()  {}
func (CommitRequest) request()          {}

// CommitOp is the closed set of operations within a staged transaction.
type CommitOp interface {
	commitOp()
}

// PrepareOp starts a transaction on the given branch. The coordinator does
// not acknowledge prepare; callers find out about failures through
// subsequent operations.
type PrepareOp struct {
	BranchName string
	CommitMsg  string
}

// AddOp stages content at a relative path.
type AddOp struct {
	RelativePath string
	Content      []byte
}

// DeleteOp stages the removal of the content below a relative path.
type DeleteOp struct {
	RelativePath string
}

// PushOp commits and pushes the staged tree.
type PushOp struct{}

// AbortOp cancels the transaction. Like prepare it is fire-and-forget.
type AbortOp struct{}

func (PrepareOp) commitOp() {}
func (AddOp) commitOp()     {}
func (DeleteOp) commitOp()  {}
func (PushOp) commitOp()    {}
func (AbortOp) commitOp()   {}

// ResponseMsg is the correlated reply routed to the originating node's
// notification topic.
type ResponseMsg struct {
	RequestID uuid.UUID

	// Error carries the textual message of the failure, empty on success.
	Error string

	// Commit is set for successful push responses; a nil Commit together
	// with an empty Error is a generic acknowledgment.
	Commit *CommitResponse
}

// CommitResponse describes the version created by a successful push.
type CommitResponse struct {
	CommitID string
	Name     string
	Added    int
	Modified int
	Removed  int
}
