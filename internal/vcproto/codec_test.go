package vcproto

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestRequestRoundtrip(t *testing.T) {
	txID := uuid.New()

	for _, tc := range []struct {
		desc    string
		request Request
	}{
		{desc: "clear", request: ClearRepositoryRequest{}},
		{desc: "init", request: InitRepositoryRequest{}},
		{desc: "prepare", request: CommitRequest{TxID: txID, Op: PrepareOp{BranchName: "main", CommitMsg: "import"}}},
		{desc: "add", request: CommitRequest{TxID: txID, Op: AddOp{RelativePath: "a/b.json", Content: []byte(`{"a":1}`)}}},
		{desc: "delete", request: CommitRequest{TxID: txID, Op: DeleteOp{RelativePath: "a"}}},
		{desc: "push", request: CommitRequest{TxID: txID, Op: PushOp{}}},
		{desc: "abort", request: CommitRequest{TxID: txID, Op: AbortOp{}}},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			msg := &CoordinatorMsg{
				TenantID:  "tenant-a",
				NodeID:    "node-1",
				RequestID: uuid.New(),
				Settings:  []byte(`{"uri":"u"}`),
				Request:   tc.request,
			}

			payload, err := MarshalRequest(msg)
			require.NoError(t, err)

			decoded, err := UnmarshalRequest(payload)
			require.NoError(t, err)
			require.Equal(t, msg, decoded)
		})
	}
}

func TestUnmarshalRequestFailures(t *testing.T) {
	requestID := uuid.New().String()

	for _, tc := range []struct {
		desc string
		data string
	}{
		{desc: "not json", data: "nope"},
		{desc: "bad request id", data: `{"kind":"init","request_id":"zzz"}`},
		{desc: "unknown kind", data: `{"kind":"merge","request_id":"` + requestID + `","tx_id":"` + uuid.New().String() + `"}`},
		{desc: "commit without tx id", data: `{"kind":"commit.push","request_id":"` + requestID + `"}`},
	} {
		t.Run(tc.desc, func(t *testing.T) {
			_, err := UnmarshalRequest([]byte(tc.data))
			require.Error(t, err)
		})
	}
}

func TestResponseRoundtrip(t *testing.T) {
	generic := &ResponseMsg{RequestID: uuid.New()}
	failed := &ResponseMsg{RequestID: uuid.New(), Error: "it broke"}
	commit := &ResponseMsg{
		RequestID: uuid.New(),
		Commit:    &CommitResponse{CommitID: "c1", Name: "main@c1", Added: 2, Modified: 1},
	}

	for _, msg := range []*ResponseMsg{generic, failed, commit} {
		payload, err := MarshalResponse(msg)
		require.NoError(t, err)

		decoded, err := UnmarshalResponse(payload)
		require.NoError(t, err)
		require.Equal(t, msg, decoded)
	}
}
