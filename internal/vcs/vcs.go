// Package vcs holds the data model shared between the coordinator and the
// repository gateway: tenant identity, repository settings, the pending
// commit that represents an in-flight staged transaction, and the gateway
// interface itself.
package vcs

import (
	"context"

	"github.com/google/uuid"
)

// TenantID identifies the tenant owning a repository. It is the unit of
// locking, partition routing and transaction scoping.
type TenantID string

// AuthMethod tells the gateway how to authenticate against the remote
// repository.
type AuthMethod string

const (
	// AuthBasic authenticates with username and password.
	AuthBasic AuthMethod = "basic"
	// AuthSSH authenticates with a private key.
	AuthSSH AuthMethod = "ssh"
)

// RepositorySettings describes how to reach a tenant's repository. The
// struct only contains comparable fields so the coordinator can detect
// settings drift with a plain equality check.
type RepositorySettings struct {
	URI           string     `json:"uri"`
	DefaultBranch string     `json:"default_branch"`
	AuthMethod    AuthMethod `json:"auth_method"`
	Username      string     `json:"username,omitempty"`
	Password      string     `json:"password,omitempty"`
	PrivateKey    string     `json:"private_key,omitempty"`
	Passphrase    string     `json:"passphrase,omitempty"`
	ReadOnly      bool       `json:"read_only,omitempty"`
}

// StagedOpKind discriminates the staged content operations accumulated on a
// pending commit.
type StagedOpKind int

const (
	// StagedAdd materializes content at a relative path.
	StagedAdd StagedOpKind = iota
	// StagedDelete removes the content below a relative path.
	StagedDelete
)

// StagedOp is one accumulated content operation of a pending commit.
type StagedOp struct {
	Kind    StagedOpKind
	Path    string
	Content []byte
}

// PendingCommit is the in-memory representation of a staged, not-yet-pushed
// transaction. At most one exists per tenant at any time.
type PendingCommit struct {
	TenantID   TenantID
	NodeID     string
	TxID       uuid.UUID
	BranchName string
	CommitMsg  string

	// Ops accumulates the staged adds and deletes in arrival order.
	Ops []StagedOp
}

// NewPendingCommit returns a pending commit in its initial, empty state.
func NewPendingCommit(tenantID TenantID, nodeID string, txID uuid.UUID, branch, commitMsg string) *PendingCommit {
	return &PendingCommit{
		TenantID:   tenantID,
		NodeID:     nodeID,
		TxID:       txID,
		BranchName: branch,
		CommitMsg:  commitMsg,
	}
}

// CommitResult describes a successfully pushed commit.
type CommitResult struct {
	VersionID   string
	VersionName string
	Added       int
	Modified    int
	Removed     int
}

// Gateway performs the actual version-control operations for a tenant's
// repository. All methods may fail with implementation-defined errors; the
// coordinator catches them and routes them back to the originating node.
//
// Context deadlines passed by the coordinator bound how long a single
// operation may take.
type Gateway interface {
	// TestRepository verifies the given settings allow reaching the
	// repository, without changing any state.
	TestRepository(ctx context.Context, tenantID TenantID, settings RepositorySettings) error

	// InitRepository (re-)initializes the tenant's working repository with
	// the given settings. It is idempotent.
	InitRepository(ctx context.Context, tenantID TenantID, settings RepositorySettings) error

	// ClearRepository discards the tenant's working repository and its
	// stored settings.
	ClearRepository(ctx context.Context, tenantID TenantID) error

	// CurrentSettings returns the settings the tenant's repository was last
	// initialized with, if any.
	CurrentSettings(tenantID TenantID) (RepositorySettings, bool)

	// PrepareCommit acquires a working tree for the pending commit and
	// checks out its branch.
	PrepareCommit(ctx context.Context, commit *PendingCommit) error

	// Add materializes content at the relative path within the staged tree.
	Add(ctx context.Context, commit *PendingCommit, relativePath string, content []byte) error

	// DeleteFolderContent removes the staged content below the relative
	// path.
	DeleteFolderContent(ctx context.Context, commit *PendingCommit, relativePath string) error

	// Push commits and pushes the staged tree.
	Push(ctx context.Context, commit *PendingCommit) (CommitResult, error)

	// Abort discards the staged working state of the pending commit. It is
	// best-effort; the coordinator never fails an abort.
	Abort(commit *PendingCommit)
}
