package vcs

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var localTestSettings = RepositorySettings{
	URI:           "https://example.com/tenant/repo.git",
	DefaultBranch: "main",
	AuthMethod:    AuthBasic,
	Username:      "user",
	Password:      "secret",
}

func setupLocalGateway(t *testing.T) *LocalGateway {
	t.Helper()

	gateway, err := NewLocalGateway(t.TempDir())
	require.NoError(t, err)
	return gateway
}

func prepareTestCommit(t *testing.T, gateway *LocalGateway, tenantID TenantID) *PendingCommit {
	t.Helper()

	ctx := context.Background()
	require.NoError(t, gateway.InitRepository(ctx, tenantID, localTestSettings))

	commit := NewPendingCommit(tenantID, "node-1", uuid.New(), "main", "test commit")
	require.NoError(t, gateway.PrepareCommit(ctx, commit))
	return commit
}

func TestLocalGatewayInitAndSettings(t *testing.T) {
	gateway := setupLocalGateway(t)
	ctx := context.Background()

	_, ok := gateway.CurrentSettings("tenant-a")
	require.False(t, ok)

	require.NoError(t, gateway.InitRepository(ctx, "tenant-a", localTestSettings))

	settings, ok := gateway.CurrentSettings("tenant-a")
	require.True(t, ok)
	require.Equal(t, localTestSettings, settings)

	require.NoError(t, gateway.ClearRepository(ctx, "tenant-a"))
	_, ok = gateway.CurrentSettings("tenant-a")
	require.False(t, ok)
}

func TestLocalGatewayTestRepository(t *testing.T) {
	gateway := setupLocalGateway(t)
	ctx := context.Background()

	require.NoError(t, gateway.TestRepository(ctx, "tenant-a", localTestSettings))

	invalid := localTestSettings
	invalid.URI = ""
	require.Error(t, gateway.TestRepository(ctx, "tenant-a", invalid))

	invalid = localTestSettings
	invalid.AuthMethod = "kerberos"
	require.Error(t, gateway.TestRepository(ctx, "tenant-a", invalid))
}

func TestLocalGatewayPrepareRequiresInit(t *testing.T) {
	gateway := setupLocalGateway(t)

	commit := NewPendingCommit("tenant-a", "node-1", uuid.New(), "main", "msg")
	require.Error(t, gateway.PrepareCommit(context.Background(), commit))
}

func TestLocalGatewayCommitCycle(t *testing.T) {
	gateway := setupLocalGateway(t)
	ctx := context.Background()

	commit := prepareTestCommit(t, gateway, "tenant-a")
	require.NoError(t, gateway.Add(ctx, commit, "devices/a.json", []byte(`{"a":1}`)))
	require.NoError(t, gateway.Add(ctx, commit, "rules/chain.json", []byte(`{"rule":true}`)))

	result, err := gateway.Push(ctx, commit)
	require.NoError(t, err)
	require.Equal(t, 2, result.Added)
	require.Zero(t, result.Modified)
	require.Zero(t, result.Removed)
	require.NotEmpty(t, result.VersionID)
	require.Contains(t, result.VersionName, "main@")

	// Second transaction: modify one file, drop the other subtree.
	commit = prepareTestCommit(t, gateway, "tenant-a")
	require.NoError(t, gateway.Add(ctx, commit, "devices/a.json", []byte(`{"a":2}`)))
	require.NoError(t, gateway.DeleteFolderContent(ctx, commit, "rules"))

	result, err = gateway.Push(ctx, commit)
	require.NoError(t, err)
	require.Zero(t, result.Added)
	require.Equal(t, 1, result.Modified)
	require.Equal(t, 1, result.Removed)
}

func TestLocalGatewayUnchangedFileNotCounted(t *testing.T) {
	gateway := setupLocalGateway(t)
	ctx := context.Background()

	commit := prepareTestCommit(t, gateway, "tenant-a")
	require.NoError(t, gateway.Add(ctx, commit, "a.json", []byte(`{}`)))
	_, err := gateway.Push(ctx, commit)
	require.NoError(t, err)

	commit = prepareTestCommit(t, gateway, "tenant-a")
	require.NoError(t, gateway.Add(ctx, commit, "a.json", []byte(`{}`)))

	result, err := gateway.Push(ctx, commit)
	require.NoError(t, err)
	require.Zero(t, result.Added)
	require.Zero(t, result.Modified)
	require.Zero(t, result.Removed)
}

func TestLocalGatewayRejectsPathTraversal(t *testing.T) {
	gateway := setupLocalGateway(t)
	ctx := context.Background()

	commit := prepareTestCommit(t, gateway, "tenant-a")

	for _, path := range []string{"../escape.json", "..", "a/../../b", "/etc/passwd"} {
		require.Error(t, gateway.Add(ctx, commit, path, []byte("x")), "path %q must be rejected", path)
	}
}

func TestLocalGatewayAbortDiscardsStagedState(t *testing.T) {
	gateway := setupLocalGateway(t)
	ctx := context.Background()

	commit := prepareTestCommit(t, gateway, "tenant-a")
	require.NoError(t, gateway.Add(ctx, commit, "a.json", []byte(`{}`)))

	gateway.Abort(commit)

	_, err := gateway.Push(ctx, commit)
	require.Error(t, err)
}

func TestLocalGatewayHonorsContextCancellation(t *testing.T) {
	gateway := setupLocalGateway(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.Error(t, gateway.InitRepository(ctx, "tenant-a", localTestSettings))
}
