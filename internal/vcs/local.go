package vcs

import (
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// LocalGateway is a filesystem-backed Gateway. Each tenant gets a committed
// tree and, while a commit is staged, a working tree that starts out as a
// copy of the committed one. Push swaps the working tree in and reports the
// added/modified/removed counts. It implements the full staging protocol
// without talking to a remote; syncing the committed tree to an actual
// remote is left to the transport configured in the settings.
type LocalGateway struct {
	root string

	mu       sync.Mutex
	settings map[TenantID]RepositorySettings
}

// NewLocalGateway creates a gateway storing tenant repositories below root.
func NewLocalGateway(root string) (*LocalGateway, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("create gateway root: %w", err)
	}

	return &LocalGateway{
		root:     root,
		settings: map[TenantID]RepositorySettings{},
	}, nil
}

func (g *LocalGateway) tenantDir(tenantID TenantID) string {
	return filepath.Join(g.root, string(tenantID))
}

func (g *LocalGateway) committedDir(tenantID TenantID) string {
	return filepath.Join(g.tenantDir(tenantID), "committed")
}

func (g *LocalGateway) stagingDir(tenantID TenantID) string {
	return filepath.Join(g.tenantDir(tenantID), "staging")
}

// TestRepository checks the settings are usable without touching any state.
func (g *LocalGateway) TestRepository(ctx context.Context, tenantID TenantID, settings RepositorySettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	return validateSettings(settings)
}

// InitRepository stores the settings and sets up the tenant's committed
// tree. Re-initializing with different settings keeps existing content.
func (g *LocalGateway) InitRepository(ctx context.Context, tenantID TenantID, settings RepositorySettings) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateSettings(settings); err != nil {
		return err
	}

	if err := os.MkdirAll(g.committedDir(tenantID), 0755); err != nil {
		return fmt.Errorf("init repository: %w", err)
	}

	g.mu.Lock()
	g.settings[tenantID] = settings
	g.mu.Unlock()

	return nil
}

// ClearRepository removes all repository state of the tenant.
func (g *LocalGateway) ClearRepository(ctx context.Context, tenantID TenantID) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	delete(g.settings, tenantID)
	g.mu.Unlock()

	if err := os.RemoveAll(g.tenantDir(tenantID)); err != nil {
		return fmt.Errorf("clear repository: %w", err)
	}

	return nil
}

// CurrentSettings returns the settings of the last successful init.
func (g *LocalGateway) CurrentSettings(tenantID TenantID) (RepositorySettings, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	settings, ok := g.settings[tenantID]
	return settings, ok
}

// PrepareCommit sets up a fresh working tree seeded from the committed tree.
func (g *LocalGateway) PrepareCommit(ctx context.Context, commit *PendingCommit) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	g.mu.Lock()
	_, ok := g.settings[commit.TenantID]
	g.mu.Unlock()
	if !ok {
		return fmt.Errorf("repository of tenant %q is not initialized", commit.TenantID)
	}

	staging := g.stagingDir(commit.TenantID)
	if err := os.RemoveAll(staging); err != nil {
		return fmt.Errorf("prepare commit: %w", err)
	}

	return copyTree(g.committedDir(commit.TenantID), staging)
}

// Add writes content at the relative path within the working tree.
func (g *LocalGateway) Add(ctx context.Context, commit *PendingCommit, relativePath string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := g.stagedPath(commit, relativePath)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("add %q: %w", relativePath, err)
	}
	if err := ioutil.WriteFile(target, content, 0644); err != nil {
		return fmt.Errorf("add %q: %w", relativePath, err)
	}

	return nil
}

// DeleteFolderContent removes the file or subtree at the relative path
// within the working tree.
func (g *LocalGateway) DeleteFolderContent(ctx context.Context, commit *PendingCommit, relativePath string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	target, err := g.stagedPath(commit, relativePath)
	if err != nil {
		return err
	}

	if err := os.RemoveAll(target); err != nil {
		return fmt.Errorf("delete %q: %w", relativePath, err)
	}

	return nil
}

// Push swaps the working tree in as the new committed tree and reports what
// changed.
func (g *LocalGateway) Push(ctx context.Context, commit *PendingCommit) (CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return CommitResult{}, err
	}

	staging := g.stagingDir(commit.TenantID)
	committed := g.committedDir(commit.TenantID)

	if _, err := os.Stat(staging); err != nil {
		return CommitResult{}, fmt.Errorf("push without prepared commit: %w", err)
	}

	result, err := diffTrees(committed, staging)
	if err != nil {
		return CommitResult{}, fmt.Errorf("push: %w", err)
	}

	if err := os.RemoveAll(committed); err != nil {
		return CommitResult{}, fmt.Errorf("push: %w", err)
	}
	if err := os.Rename(staging, committed); err != nil {
		return CommitResult{}, fmt.Errorf("push: %w", err)
	}

	versionID := uuid.New().String()
	result.VersionID = versionID
	result.VersionName = fmt.Sprintf("%s@%s", commit.BranchName, versionID[:8])

	return result, nil
}

// Abort throws the working tree away. Errors are swallowed: abort is
// best-effort cleanup and a leftover staging dir is recreated from scratch
// by the next prepare.
func (g *LocalGateway) Abort(commit *PendingCommit) {
	_ = os.RemoveAll(g.stagingDir(commit.TenantID))
}

func (g *LocalGateway) stagedPath(commit *PendingCommit, relativePath string) (string, error) {
	if containsPathTraversal(relativePath) || filepath.IsAbs(relativePath) {
		return "", fmt.Errorf("relative path %q escapes the repository", relativePath)
	}

	return filepath.Join(g.stagingDir(commit.TenantID), filepath.Clean(relativePath)), nil
}

func validateSettings(settings RepositorySettings) error {
	if settings.URI == "" {
		return fmt.Errorf("repository URI is not set")
	}

	switch settings.AuthMethod {
	case AuthBasic, AuthSSH:
		return nil
	default:
		return fmt.Errorf("unsupported auth method %q", settings.AuthMethod)
	}
}

func containsPathTraversal(path string) bool {
	separator := string(os.PathSeparator)

	if path == ".." {
		return true
	}

	return strings.HasPrefix(path, ".."+separator) ||
		strings.Contains(path, separator+".."+separator) ||
		strings.HasSuffix(path, separator+"..")
}

func copyTree(src, dst string) error {
	if err := os.MkdirAll(dst, 0755); err != nil {
		return err
	}

	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		if info.IsDir() {
			return os.MkdirAll(target, 0755)
		}

		content, err := ioutil.ReadFile(path)
		if err != nil {
			return err
		}

		return ioutil.WriteFile(target, content, info.Mode().Perm())
	})
}

// diffTrees counts files added, modified and removed between the old and
// the new tree.
func diffTrees(oldDir, newDir string) (CommitResult, error) {
	oldFiles, err := listFiles(oldDir)
	if err != nil {
		return CommitResult{}, err
	}
	newFiles, err := listFiles(newDir)
	if err != nil {
		return CommitResult{}, err
	}

	var result CommitResult

	for rel := range newFiles {
		if _, ok := oldFiles[rel]; !ok {
			result.Added++
			continue
		}

		oldContent, err := ioutil.ReadFile(filepath.Join(oldDir, rel))
		if err != nil {
			return CommitResult{}, err
		}
		newContent, err := ioutil.ReadFile(filepath.Join(newDir, rel))
		if err != nil {
			return CommitResult{}, err
		}

		if !bytes.Equal(oldContent, newContent) {
			result.Modified++
		}
	}

	for rel := range oldFiles {
		if _, ok := newFiles[rel]; !ok {
			result.Removed++
		}
	}

	return result, nil
}

func listFiles(dir string) (map[string]struct{}, error) {
	files := map[string]struct{}{}

	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return files, nil
	}

	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil || info.IsDir() {
			return err
		}

		rel, err := filepath.Rel(dir, path)
		if err != nil {
			return err
		}

		files[rel] = struct{}{}
		return nil
	})

	return files, err
}
