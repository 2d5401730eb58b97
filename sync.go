package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/odavl/odavl-go/internal/auth"
	"github.com/odavl/odavl-go/internal/storage"
	syncengine "github.com/odavl/odavl-go/internal/sync"
	"github.com/odavl/odavl-go/internal/workspace"
)

func newSyncCmd() *cobra.Command {
	var strategy string

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Synchronize the workspace in both directions",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSync(syncModeBidirectional, strategy, false)
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "", "conflict strategy: local, remote, newest, or skip")

	return cmd
}

func newPushCmd() *cobra.Command {
	var prune bool

	cmd := &cobra.Command{
		Use:   "push",
		Short: "Upload local changes, overwriting the remote",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSync(syncModePush, "", prune)
		},
	}

	cmd.Flags().BoolVar(&prune, "prune", false, "delete remote files that no longer exist locally")

	return cmd
}

func newPullCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pull",
		Short: "Download remote changes, overwriting local copies",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runSync(syncModePull, "", false)
		},
	}
}

type syncMode int

const (
	syncModeBidirectional syncMode = iota
	syncModePush
	syncModePull
)

func runSync(mode syncMode, strategyFlag string, prune bool) error {
	logger := buildLogger()
	ctx := context.Background()

	engine, ws, cleanup, err := buildEngine(logger, strategyFlag)
	if err != nil {
		return err
	}
	defer cleanup()

	var res *syncengine.Result

	switch mode {
	case syncModePush:
		res, err = engine.Push(ctx, ws, prune)
	case syncModePull:
		res, err = engine.Pull(ctx, ws)
	default:
		res, err = engine.Sync(ctx, ws)
	}

	if err != nil {
		return err
	}

	return printSyncResult(res)
}

// buildEngine wires the full sync stack: identity, storage provider,
// workspace service, and engine. The returned cleanup closes the provider.
func buildEngine(logger *slog.Logger, strategyFlag string) (*syncengine.Engine, syncengine.Workspace, func(), error) {
	var ws syncengine.Workspace

	mgr, err := newAuthManager(logger)
	if err != nil {
		return nil, ws, nil, err
	}

	orgID, userID, err := mgr.Identity()
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			return nil, ws, nil, fmt.Errorf("not logged in — run 'odavl login' first")
		}

		return nil, ws, nil, err
	}

	root := resolvedCfg.Workspace.Root
	if root == "" {
		root, err = os.Getwd()
		if err != nil {
			return nil, ws, nil, fmt.Errorf("resolving working directory: %w", err)
		}
	}

	name := resolvedCfg.Workspace.Name
	if name == "" {
		name = filepath.Base(root)
	}

	strategyName := strategyFlag
	if strategyName == "" {
		strategyName = resolvedCfg.Sync.Strategy
	}

	strategy, err := syncengine.ParseStrategy(strategyName)
	if err != nil {
		return nil, ws, nil, err
	}

	ctx := context.Background()

	provider, err := storage.NewProvider(ctx, resolvedCfg.Storage, logger)
	if err != nil {
		return nil, ws, nil, err
	}

	svc, err := workspace.NewService(provider, workspace.Options{
		Compress: resolvedCfg.Workspace.Compress,
		Encrypt:  resolvedCfg.Workspace.Encrypt,
		Secret:   resolvedCfg.Workspace.Secret,
	}, logger)
	if err != nil {
		provider.Close()
		return nil, ws, nil, err
	}

	ws = syncengine.Workspace{
		OwnerID: userID,
		OrgID:   orgID,
		Name:    name,
		Root:    root,
	}

	engine := syncengine.NewEngine(svc, strategy, resolvedCfg.Tolerance(), logger)

	return engine, ws, func() { provider.Close() }, nil
}

// syncOutput is the JSON schema for sync results.
type syncOutput struct {
	SyncVersion int64    `json:"sync_version"`
	Uploaded    []string `json:"uploaded,omitempty"`
	Downloaded  []string `json:"downloaded,omitempty"`
	Deleted     []string `json:"deleted,omitempty"`
	Skipped     []string `json:"skipped,omitempty"`
	NoChange    bool     `json:"no_change"`
}

func printSyncResult(res *syncengine.Result) error {
	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(syncOutput{
			SyncVersion: res.SyncVersion,
			Uploaded:    res.Uploaded,
			Downloaded:  res.Downloaded,
			Deleted:     res.Deleted,
			Skipped:     res.Skipped,
			NoChange:    res.NoChange,
		})
	}

	if res.NoChange && len(res.Skipped) == 0 {
		statusf("Already up to date.\n")
		return nil
	}

	for _, p := range res.Uploaded {
		fmt.Printf("uploaded   %s\n", p)
	}

	for _, p := range res.Downloaded {
		fmt.Printf("downloaded %s\n", p)
	}

	for _, p := range res.Deleted {
		fmt.Printf("deleted    %s\n", p)
	}

	for _, p := range res.Skipped {
		fmt.Printf("skipped    %s (conflict)\n", p)
	}

	if res.SyncVersion > 0 {
		statusf("Sync version %d.\n", res.SyncVersion)
	}

	return nil
}
