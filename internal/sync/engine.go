package sync

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/odavl/odavl-go/internal/workspace"
)

// defaultConcurrency bounds simultaneous transfers.
const defaultConcurrency = 4

// Workspace identifies the directory tree being synchronized.
type Workspace struct {
	OwnerID string
	OrgID   string
	Name    string
	Root    string
}

// Result summarizes one sync run.
type Result struct {
	// SyncVersion is the committed manifest version after the run. Zero when
	// nothing was committed.
	SyncVersion int64
	Uploaded    []string
	Downloaded  []string
	Deleted     []string
	// Skipped lists conflict paths the skip strategy left untouched on
	// both sides.
	Skipped []string
	// NoChange is true when the manifests already matched and no transfer
	// was needed.
	NoChange bool
}

// Engine coordinates sync runs: it scans, diffs, resolves, transfers
// concurrently, and commits the merged manifest only after every transfer
// succeeded. A failed transfer aborts the run before commit, so the remote
// manifest never describes a partially transferred state.
type Engine struct {
	svc         *workspace.Service
	strategy    Strategy
	tolerance   time.Duration
	concurrency int
	logger      *slog.Logger
}

// NewEngine creates a sync engine using the given conflict strategy and
// tolerance window.
func NewEngine(svc *workspace.Service, strategy Strategy, tolerance time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Engine{
		svc:         svc,
		strategy:    strategy,
		tolerance:   tolerance,
		concurrency: defaultConcurrency,
		logger:      logger,
	}
}

// Sync performs a bidirectional sync of the workspace. Remote-only files are
// downloaded, local-only files are uploaded, and divergent files are settled
// by the engine's strategy.
func (e *Engine) Sync(ctx context.Context, ws Workspace) (*Result, error) {
	local, remote, err := e.manifests(ctx, ws)
	if err != nil {
		return nil, err
	}

	if local.ManifestChecksum == remote.ManifestChecksum {
		e.logger.Debug("manifests already match", slog.String("workspace", ws.Name))
		return &Result{NoChange: true, SyncVersion: remote.SyncVersion}, nil
	}

	delta := CalculateDelta(local, remote, DeltaOptions{Tolerance: e.tolerance})

	skipped, err := delta.Resolve(e.strategy)
	if err != nil {
		return nil, err
	}

	return e.execute(ctx, ws, remote, delta, skipped)
}

// Push makes the remote match the local tree: every differing or local-only
// file is uploaded regardless of timestamps. With prune, remote-only files
// are deleted; otherwise they are left in place and stay in the manifest.
func (e *Engine) Push(ctx context.Context, ws Workspace, prune bool) (*Result, error) {
	local, remote, err := e.manifests(ctx, ws)
	if err != nil {
		return nil, err
	}

	if local.ManifestChecksum == remote.ManifestChecksum {
		return &Result{NoChange: true, SyncVersion: remote.SyncVersion}, nil
	}

	delta := CalculateDelta(local, remote, DeltaOptions{PruneRemote: prune})

	// Push is one-directional: local always wins. Divergent files the delta
	// classified as downloads become uploads of the local version, and
	// remote-only files that survived pruning keep their manifest entries
	// without being transferred.
	if _, err := delta.Resolve(StrategyLocal); err != nil {
		return nil, err
	}

	for _, rf := range delta.Downloads {
		delta.Uploads = appendIfLocal(delta.Uploads, local, rf.RelativePath)
	}
	delta.Downloads = nil

	return e.execute(ctx, ws, remote, delta, nil)
}

// Pull makes the local tree match the remote: every differing or remote-only
// file is downloaded regardless of timestamps. Local-only files are left in
// place; Pull never deletes local content.
func (e *Engine) Pull(ctx context.Context, ws Workspace) (*Result, error) {
	local, remote, err := e.manifests(ctx, ws)
	if err != nil {
		return nil, err
	}

	if local.ManifestChecksum == remote.ManifestChecksum {
		return &Result{NoChange: true, SyncVersion: remote.SyncVersion}, nil
	}

	delta := CalculateDelta(local, remote, DeltaOptions{})

	if _, err := delta.Resolve(StrategyRemote); err != nil {
		return nil, err
	}

	// Pull is one-directional: divergent files the delta classified as
	// uploads are downloaded as the remote version instead, and local-only
	// files stay put.
	remoteFiles := remote.FileMap()
	for _, lf := range delta.Uploads {
		if rf, ok := remoteFiles[lf.RelativePath]; ok {
			delta.Downloads = append(delta.Downloads, rf)
		}
	}
	delta.Uploads = nil

	return e.execute(ctx, ws, remote, delta, nil)
}

// manifests scans the local tree and fetches the remote manifest. A
// workspace that was never pushed yields an empty remote manifest at
// version zero.
func (e *Engine) manifests(ctx context.Context, ws Workspace) (local, remote *workspace.Manifest, err error) {
	local, err = e.svc.ScanLocal(ws.Root, ws.OwnerID, ws.OrgID, ws.Name)
	if err != nil {
		return nil, nil, err
	}

	remote, err = e.svc.FetchManifest(ctx, ws.OwnerID, ws.Name)
	if errors.Is(err, workspace.ErrNoManifest) {
		remote = &workspace.Manifest{
			OwnerID:       ws.OwnerID,
			OrgID:         ws.OrgID,
			WorkspaceName: ws.Name,
		}
		if err := remote.Normalize(); err != nil {
			return nil, nil, err
		}

		return local, remote, nil
	}

	if err != nil {
		return nil, nil, err
	}

	return local, remote, nil
}

// execute runs every transfer in the delta concurrently, then commits the
// merged manifest. The manifest commit happens only after all transfers
// succeeded; any failure aborts the run with the remote manifest unchanged.
func (e *Engine) execute(ctx context.Context, ws Workspace, remote *workspace.Manifest, delta *Delta, skipped []string) (*Result, error) {
	res := &Result{Skipped: skipped}

	if delta.Empty() {
		res.NoChange = true
		res.SyncVersion = remote.SyncVersion

		return res, nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, fm := range delta.Uploads {
		g.Go(func() error {
			return e.svc.UploadFile(gctx, ws.OwnerID, ws.Name, ws.Root, fm)
		})
	}

	for _, fm := range delta.Downloads {
		g.Go(func() error {
			return e.svc.DownloadFile(gctx, ws.OwnerID, ws.Name, ws.Root, fm)
		})
	}

	for _, fm := range delta.Deletes {
		g.Go(func() error {
			return e.svc.DeleteFile(gctx, ws.OwnerID, ws.Name, fm.RelativePath)
		})
	}

	if err := g.Wait(); err != nil {
		e.logger.Error("sync aborted before manifest commit", slog.Any("error", err))
		return nil, err
	}

	for _, fm := range delta.Uploads {
		res.Uploaded = append(res.Uploaded, fm.RelativePath)
	}

	for _, fm := range delta.Downloads {
		res.Downloaded = append(res.Downloaded, fm.RelativePath)
	}

	for _, fm := range delta.Deletes {
		res.Deleted = append(res.Deleted, fm.RelativePath)
	}

	// Downloads do not change remote state, so a pure pull commits nothing.
	if len(delta.Uploads) == 0 && len(delta.Deletes) == 0 {
		res.SyncVersion = remote.SyncVersion
		return res, nil
	}

	merged := e.mergeManifest(ws, remote, delta)
	if err := e.svc.PutManifest(ctx, merged); err != nil {
		return nil, err
	}

	res.SyncVersion = merged.SyncVersion

	e.logger.Info("sync committed",
		slog.String("workspace", ws.Name),
		slog.Int64("sync_version", merged.SyncVersion),
		slog.Int("uploaded", len(res.Uploaded)),
		slog.Int("downloaded", len(res.Downloaded)),
		slog.Int("deleted", len(res.Deleted)),
		slog.Int("skipped", len(res.Skipped)),
	)

	return res, nil
}

// mergeManifest builds the manifest describing remote state after the delta:
// the previous remote files, overlaid with every upload, minus every delete.
// Skipped conflicts keep their remote entries untouched.
func (e *Engine) mergeManifest(ws Workspace, remote *workspace.Manifest, delta *Delta) *workspace.Manifest {
	files := remote.FileMap()

	for _, fm := range delta.Uploads {
		files[fm.RelativePath] = fm
	}

	for _, fm := range delta.Deletes {
		delete(files, fm.RelativePath)
	}

	id := remote.ID
	if id == "" {
		id = uuid.NewString()
	}

	merged := &workspace.Manifest{
		ID:            id,
		OwnerID:       ws.OwnerID,
		OrgID:         ws.OrgID,
		RootPath:      ws.Root,
		WorkspaceName: ws.Name,
		SyncVersion:   remote.SyncVersion + 1,
	}

	for _, fm := range files {
		merged.Files = append(merged.Files, fm)
	}

	return merged
}

// appendIfLocal appends the local manifest's entry for path, if present.
func appendIfLocal(dst []workspace.FileMetadata, local *workspace.Manifest, path string) []workspace.FileMetadata {
	if fm, ok := local.FileMap()[path]; ok {
		dst = append(dst, fm)
	}

	return dst
}
