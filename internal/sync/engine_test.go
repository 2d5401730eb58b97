package sync

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/odavl/odavl-go/internal/storage"
	"github.com/odavl/odavl-go/internal/workspace"
)

func newTestEngine(t *testing.T, strategy Strategy) (*Engine, *workspace.Service) {
	t.Helper()

	provider, err := storage.NewLocal(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { provider.Close() })

	svc, err := workspace.NewService(provider, workspace.Options{}, nil)
	require.NoError(t, err)

	return NewEngine(svc, strategy, time.Second, nil), svc
}

func writeFile(t *testing.T, root, rel, content string, mod time.Time) {
	t.Helper()

	path := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	require.NoError(t, os.Chtimes(path, mod, mod))
}

func readFile(t *testing.T, root, rel string) string {
	t.Helper()

	data, err := os.ReadFile(filepath.Join(root, filepath.FromSlash(rel)))
	require.NoError(t, err)

	return string(data)
}

func TestSyncInitialPushCommitsManifest(t *testing.T) {
	e, svc := newTestEngine(t, StrategyNewest)

	root := t.TempDir()
	writeFile(t, root, "a.txt", "one", baseTime)
	writeFile(t, root, "b.txt", "two", baseTime)

	ws := Workspace{OwnerID: "alice", Name: "proj", Root: root}

	res, err := e.Sync(context.Background(), ws)
	require.NoError(t, err)
	assert.False(t, res.NoChange)
	assert.ElementsMatch(t, []string{"a.txt", "b.txt"}, res.Uploaded)
	assert.Equal(t, int64(1), res.SyncVersion)

	m, err := svc.FetchManifest(context.Background(), "alice", "proj")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.SyncVersion)
	assert.Len(t, m.Files, 2)
}

func TestSyncNoChangeIsNoOp(t *testing.T) {
	e, _ := newTestEngine(t, StrategyNewest)

	root := t.TempDir()
	writeFile(t, root, "a.txt", "one", baseTime)

	ws := Workspace{OwnerID: "alice", Name: "proj", Root: root}

	_, err := e.Sync(context.Background(), ws)
	require.NoError(t, err)

	res, err := e.Sync(context.Background(), ws)
	require.NoError(t, err)
	assert.True(t, res.NoChange)
	assert.Equal(t, int64(1), res.SyncVersion)
}

func TestSyncDownloadsRemoteOnlyFiles(t *testing.T) {
	e, _ := newTestEngine(t, StrategyNewest)

	seedRoot := t.TempDir()
	writeFile(t, seedRoot, "shared.txt", "remote content", baseTime)

	seed := Workspace{OwnerID: "alice", Name: "proj", Root: seedRoot}
	_, err := e.Sync(context.Background(), seed)
	require.NoError(t, err)

	// A second machine with an empty tree pulls everything down. Pure
	// downloads do not bump the manifest version.
	root := t.TempDir()
	ws := Workspace{OwnerID: "alice", Name: "proj", Root: root}

	res, err := e.Sync(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, []string{"shared.txt"}, res.Downloaded)
	assert.Empty(t, res.Uploaded)
	assert.Equal(t, int64(1), res.SyncVersion)
	assert.Equal(t, "remote content", readFile(t, root, "shared.txt"))
}

func TestSyncNewestResolvesDivergence(t *testing.T) {
	e, _ := newTestEngine(t, StrategyNewest)

	rootA := t.TempDir()
	writeFile(t, rootA, "doc.txt", "old version", baseTime)

	_, err := e.Sync(context.Background(), Workspace{OwnerID: "alice", Name: "proj", Root: rootA})
	require.NoError(t, err)

	// Machine B edits the file well past the tolerance window and syncs.
	rootB := t.TempDir()
	_, err = e.Sync(context.Background(), Workspace{OwnerID: "alice", Name: "proj", Root: rootB})
	require.NoError(t, err)

	writeFile(t, rootB, "doc.txt", "new version", baseTime.Add(time.Hour))

	res, err := e.Sync(context.Background(), Workspace{OwnerID: "alice", Name: "proj", Root: rootB})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc.txt"}, res.Uploaded)
	assert.Equal(t, int64(2), res.SyncVersion)

	// Machine A now sees the remote as newer and downloads it.
	res, err = e.Sync(context.Background(), Workspace{OwnerID: "alice", Name: "proj", Root: rootA})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc.txt"}, res.Downloaded)
	assert.Equal(t, "new version", readFile(t, rootA, "doc.txt"))
}

func TestSyncSkipLeavesBothSides(t *testing.T) {
	e, _ := newTestEngine(t, StrategySkip)

	rootA := t.TempDir()
	writeFile(t, rootA, "doc.txt", "version a", baseTime)

	_, err := e.Sync(context.Background(), Workspace{OwnerID: "alice", Name: "proj", Root: rootA})
	require.NoError(t, err)

	// Same mtime, different content: a genuine conflict.
	writeFile(t, rootA, "doc.txt", "version b", baseTime)

	res, err := e.Sync(context.Background(), Workspace{OwnerID: "alice", Name: "proj", Root: rootA})
	require.NoError(t, err)
	assert.Equal(t, []string{"doc.txt"}, res.Skipped)
	assert.Empty(t, res.Uploaded)
	assert.Empty(t, res.Downloaded)

	// The local edit and the remote version both survive.
	assert.Equal(t, "version b", readFile(t, rootA, "doc.txt"))
}

func TestSyncLocalStrategyUploadsConflicts(t *testing.T) {
	e, svc := newTestEngine(t, StrategyLocal)

	root := t.TempDir()
	writeFile(t, root, "doc.txt", "original", baseTime)

	ws := Workspace{OwnerID: "alice", Name: "proj", Root: root}
	_, err := e.Sync(context.Background(), ws)
	require.NoError(t, err)

	writeFile(t, root, "doc.txt", "edited", baseTime)

	res, err := e.Sync(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc.txt"}, res.Uploaded)
	assert.Equal(t, int64(2), res.SyncVersion)

	m, err := svc.FetchManifest(context.Background(), "alice", "proj")
	require.NoError(t, err)
	assert.Equal(t, workspace.ChecksumBytes([]byte("edited")), m.FileMap()["doc.txt"].Checksum)
}

func TestPushForcesLocalVersion(t *testing.T) {
	e, svc := newTestEngine(t, StrategyNewest)

	root := t.TempDir()
	writeFile(t, root, "doc.txt", "newer remote", baseTime.Add(time.Hour))

	ws := Workspace{OwnerID: "alice", Name: "proj", Root: root}
	_, err := e.Sync(context.Background(), ws)
	require.NoError(t, err)

	// Local copy is older than remote, but push uploads it anyway.
	writeFile(t, root, "doc.txt", "stale local", baseTime)

	res, err := e.Push(context.Background(), ws, false)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc.txt"}, res.Uploaded)

	m, err := svc.FetchManifest(context.Background(), "alice", "proj")
	require.NoError(t, err)
	assert.Equal(t, workspace.ChecksumBytes([]byte("stale local")), m.FileMap()["doc.txt"].Checksum)
}

func TestPushPruneDeletesRemoteOnly(t *testing.T) {
	e, svc := newTestEngine(t, StrategyNewest)

	root := t.TempDir()
	writeFile(t, root, "keep.txt", "keep", baseTime)
	writeFile(t, root, "stale.txt", "stale", baseTime)

	ws := Workspace{OwnerID: "alice", Name: "proj", Root: root}
	_, err := e.Push(context.Background(), ws, false)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "stale.txt")))

	// Without prune the remote entry survives the push.
	res, err := e.Push(context.Background(), ws, false)
	require.NoError(t, err)
	assert.True(t, res.NoChange || len(res.Deleted) == 0)

	m, err := svc.FetchManifest(context.Background(), "alice", "proj")
	require.NoError(t, err)
	assert.Contains(t, m.FileMap(), "stale.txt")

	res, err = e.Push(context.Background(), ws, true)
	require.NoError(t, err)
	assert.Equal(t, []string{"stale.txt"}, res.Deleted)

	m, err = svc.FetchManifest(context.Background(), "alice", "proj")
	require.NoError(t, err)
	assert.NotContains(t, m.FileMap(), "stale.txt")
	assert.Contains(t, m.FileMap(), "keep.txt")
}

func TestPullForcesRemoteVersion(t *testing.T) {
	e, _ := newTestEngine(t, StrategyNewest)

	root := t.TempDir()
	writeFile(t, root, "doc.txt", "remote version", baseTime)

	ws := Workspace{OwnerID: "alice", Name: "proj", Root: root}
	_, err := e.Sync(context.Background(), ws)
	require.NoError(t, err)

	// Local edit is newer, but pull overwrites it with the remote version.
	writeFile(t, root, "doc.txt", "local edit", baseTime.Add(time.Hour))

	res, err := e.Pull(context.Background(), ws)
	require.NoError(t, err)
	assert.Equal(t, []string{"doc.txt"}, res.Downloaded)
	assert.Empty(t, res.Uploaded)
	assert.Equal(t, "remote version", readFile(t, root, "doc.txt"))
}

func TestPullNeverDeletesLocalFiles(t *testing.T) {
	e, _ := newTestEngine(t, StrategyNewest)

	root := t.TempDir()
	writeFile(t, root, "synced.txt", "content", baseTime)

	ws := Workspace{OwnerID: "alice", Name: "proj", Root: root}
	_, err := e.Sync(context.Background(), ws)
	require.NoError(t, err)

	writeFile(t, root, "local-only.txt", "untracked", baseTime)

	res, err := e.Pull(context.Background(), ws)
	require.NoError(t, err)
	assert.Empty(t, res.Deleted)
	assert.Equal(t, "untracked", readFile(t, root, "local-only.txt"))
}

func TestSyncAbortsWithoutCommitOnTransferFailure(t *testing.T) {
	provider, err := storage.NewLocal(t.TempDir(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { provider.Close() })

	// Encryption enabled but the remote content was written without it, so
	// the download fails mid-run.
	plain, err := workspace.NewService(provider, workspace.Options{}, nil)
	require.NoError(t, err)

	seedRoot := t.TempDir()
	writeFile(t, seedRoot, "a.txt", "plaintext", baseTime)

	_, err = plain.UploadWorkspace(context.Background(), "alice", "", "proj", seedRoot)
	require.NoError(t, err)

	// Corrupt the remote content so the checksum check fails on download.
	require.NoError(t, provider.Upload(context.Background(), workspace.ContentKey("alice", "proj", "a.txt"), []byte("tampered"), nil))

	e := NewEngine(plain, StrategyNewest, time.Second, nil)

	root := t.TempDir()
	writeFile(t, root, "b.txt", "local file", baseTime)

	ws := Workspace{OwnerID: "alice", Name: "proj", Root: root}

	_, err = e.Sync(context.Background(), ws)
	require.Error(t, err)

	// The manifest was not committed: still version 1 with only a.txt.
	m, err := plain.FetchManifest(context.Background(), "alice", "proj")
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.SyncVersion)
	assert.NotContains(t, m.FileMap(), "b.txt")
}

func TestSyncIdempotent(t *testing.T) {
	e, _ := newTestEngine(t, StrategyNewest)

	root := t.TempDir()
	writeFile(t, root, "a.txt", "content", baseTime)
	writeFile(t, root, "nested/b.txt", "more", baseTime)

	ws := Workspace{OwnerID: "alice", Name: "proj", Root: root}

	_, err := e.Sync(context.Background(), ws)
	require.NoError(t, err)

	for range 3 {
		res, err := e.Sync(context.Background(), ws)
		require.NoError(t, err)
		assert.True(t, res.NoChange)
		assert.Equal(t, int64(1), res.SyncVersion)
	}
}
