package vcproto

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"

	"gitlab.com/gitlab-org/vccoord/internal/vcs"
)

// Wire kinds of the flat JSON envelope. The envelope deliberately avoids
// nested polymorphism so that other languages on the cluster can produce it
// with any JSON library.
const (
	kindClear   = "clear"
	kindTest    = "test"
	kindInit    = "init"
	kindPrepare = "commit.prepare"
	kindAdd     = "commit.add"
	kindDelete  = "commit.delete"
	kindPush    = "commit.push"
	kindAbort   = "commit.abort"
)

type wireRequest struct {
	Kind      string `json:"kind"`
	TenantID  string `json:"tenant_id"`
	NodeID    string `json:"node_id"`
	RequestID string `json:"request_id"`
	Settings  []byte `json:"settings,omitempty"`

	TxID         string `json:"tx_id,omitempty"`
	BranchName   string `json:"branch_name,omitempty"`
	CommitMsg    string `json:"commit_msg,omitempty"`
	RelativePath string `json:"relative_path,omitempty"`
	Content      []byte `json:"content,omitempty"`
}

type wireResponse struct {
	RequestID string `json:"request_id"`
	Error     string `json:"error,omitempty"`

	CommitID string `json:"commit_id,omitempty"`
	Name     string `json:"name,omitempty"`
	Added    int    `json:"added,omitempty"`
	Modified int    `json:"modified,omitempty"`
	Removed  int    `json:"removed,omitempty"`
	Generic  bool   `json:"generic,omitempty"`
}

// MarshalRequest encodes a coordinator message into its wire envelope.
func MarshalRequest(msg *CoordinatorMsg) ([]byte, error) {
	wire := wireRequest{
		TenantID:  string(msg.TenantID),
		NodeID:    msg.NodeID,
		RequestID: msg.RequestID.String(),
		Settings:  msg.Settings,
	}

	switch req := msg.Request.(type) {
	case ClearRepositoryRequest:
		wire.Kind = kindClear
	case TestRepositoryRequest:
		wire.Kind = kindTest
	case InitRepositoryRequest:
		wire.Kind = kindInit
	case CommitRequest:
		wire.TxID = req.TxID.String()

		switch op := req.Op.(type) {
		case PrepareOp:
			wire.Kind = kindPrepare
			wire.BranchName = op.BranchName
			wire.CommitMsg = op.CommitMsg
		case AddOp:
			wire.Kind = kindAdd
			wire.RelativePath = op.RelativePath
			wire.Content = op.Content
		case DeleteOp:
			wire.Kind = kindDelete
			wire.RelativePath = op.RelativePath
		case PushOp:
			wire.Kind = kindPush
		case AbortOp:
			wire.Kind = kindAbort
		default:
			return nil, fmt.Errorf("unknown commit op %T", op)
		}
	default:
		return nil, fmt.Errorf("unknown request %T", req)
	}

	return json.Marshal(wire)
}

// UnmarshalRequest decodes a wire envelope into a coordinator message.
func UnmarshalRequest(data []byte) (*CoordinatorMsg, error) {
	var wire wireRequest
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal request envelope: %w", err)
	}

	requestID, err := uuid.Parse(wire.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request id %q: %w", wire.RequestID, err)
	}

	msg := &CoordinatorMsg{
		TenantID:  vcs.TenantID(wire.TenantID),
		NodeID:    wire.NodeID,
		RequestID: requestID,
		Settings:  wire.Settings,
	}

	switch wire.Kind {
	case kindClear:
		msg.Request = ClearRepositoryRequest{}
		return msg, nil
	case kindTest:
		msg.Request = TestRepositoryRequest{}
		return msg, nil
	case kindInit:
		msg.Request = InitRepositoryRequest{}
		return msg, nil
	}

	txID, err := uuid.Parse(wire.TxID)
	if err != nil {
		return nil, fmt.Errorf("parse tx id %q: %w", wire.TxID, err)
	}
	commit := CommitRequest{TxID: txID}

	switch wire.Kind {
	case kindPrepare:
		commit.Op = PrepareOp{BranchName: wire.BranchName, CommitMsg: wire.CommitMsg}
	case kindAdd:
		commit.Op = AddOp{RelativePath: wire.RelativePath, Content: wire.Content}
	case kindDelete:
		commit.Op = DeleteOp{RelativePath: wire.RelativePath}
	case kindPush:
		commit.Op = PushOp{}
	case kindAbort:
		commit.Op = AbortOp{}
	default:
		return nil, fmt.Errorf("unknown request kind %q", wire.Kind)
	}

	msg.Request = commit
	return msg, nil
}

// MarshalResponse encodes a response into its wire envelope.
func MarshalResponse(msg *ResponseMsg) ([]byte, error) {
	wire := wireResponse{
		RequestID: msg.RequestID.String(),
		Error:     msg.Error,
	}

	if msg.Commit != nil {
		wire.CommitID = msg.Commit.CommitID
		wire.Name = msg.Commit.Name
		wire.Added = msg.Commit.Added
		wire.Modified = msg.Commit.Modified
		wire.Removed = msg.Commit.Removed
	} else {
		wire.Generic = true
	}

	return json.Marshal(wire)
}

// UnmarshalResponse decodes a wire envelope into a response.
func UnmarshalResponse(data []byte) (*ResponseMsg, error) {
	var wire wireResponse
	if err := json.Unmarshal(data, &wire); err != nil {
		return nil, fmt.Errorf("unmarshal response envelope: %w", err)
	}

	requestID, err := uuid.Parse(wire.RequestID)
	if err != nil {
		return nil, fmt.Errorf("parse request id %q: %w", wire.RequestID, err)
	}

	msg := &ResponseMsg{RequestID: requestID, Error: wire.Error}

	if !wire.Generic {
		msg.Commit = &CommitResponse{
			CommitID: wire.CommitID,
			Name:     wire.Name,
			Added:    wire.Added,
			Modified: wire.Modified,
			Removed:  wire.Removed,
		}
	}

	return msg, nil
}
