package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/odavl/odavl-go/internal/auth"
	"github.com/odavl/odavl-go/internal/storage"
	"github.com/odavl/odavl-go/internal/workspace"
)

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show identity, queue, quota, and workspace state",
		RunE:  runStatus,
	}
}

// statusOutput is the JSON schema for `status --json`.
type statusOutput struct {
	OrgID       string `json:"org_id,omitempty"`
	UserID      string `json:"user_id,omitempty"`
	LoggedIn    bool   `json:"logged_in"`
	QueueSize   int    `json:"queue_size"`
	SyncVersion int64  `json:"sync_version,omitempty"`
	QuotaUsed   int64  `json:"quota_used,omitempty"`
	QuotaLimit  int64  `json:"quota_limit,omitempty"`
}

func runStatus(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := context.Background()

	out := statusOutput{}

	mgr, err := newAuthManager(logger)
	if err != nil {
		return err
	}

	orgID, userID, err := mgr.Identity()
	switch {
	case err == nil:
		out.LoggedIn = true
		out.OrgID = orgID
		out.UserID = userID
	case errors.Is(err, auth.ErrNotAuthenticated):
		// Status is still useful logged out: queue state remains visible.
	default:
		return err
	}

	q, err := openQueue(logger)
	if err != nil {
		return err
	}

	out.QueueSize = q.Size()

	if out.LoggedIn {
		if v, err := remoteSyncVersion(ctx, userID); err == nil {
			out.SyncVersion = v
		} else {
			logger.Debug("remote manifest unavailable", "error", err)
		}

		client, _, err := newAPIClient(logger)
		if err != nil {
			return err
		}

		if quota, err := client.CheckQuota(ctx); err == nil {
			out.QuotaUsed = quota.Used
			out.QuotaLimit = quota.Limit
		} else {
			// Quota is best-effort: the backend may be unreachable.
			logger.Debug("quota unavailable", "error", err)
		}
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(out)
	}

	printStatusText(out)

	return nil
}

// remoteSyncVersion fetches the workspace's committed manifest version.
func remoteSyncVersion(ctx context.Context, userID string) (int64, error) {
	name := resolvedCfg.Workspace.Name
	if name == "" {
		root := resolvedCfg.Workspace.Root
		if root == "" {
			wd, err := os.Getwd()
			if err != nil {
				return 0, err
			}
			root = wd
		}

		name = filepath.Base(root)
	}

	provider, err := storage.NewProvider(ctx, resolvedCfg.Storage, buildLogger())
	if err != nil {
		return 0, err
	}
	defer provider.Close()

	svc, err := workspace.NewService(provider, workspace.Options{}, nil)
	if err != nil {
		return 0, err
	}

	m, err := svc.FetchManifest(ctx, userID, name)
	if err != nil {
		return 0, err
	}

	return m.SyncVersion, nil
}

func printStatusText(out statusOutput) {
	if out.LoggedIn {
		fmt.Printf("Logged in as: %s\n", out.UserID)

		if out.OrgID != "" {
			fmt.Printf("Organization: %s\n", out.OrgID)
		}
	} else {
		fmt.Println("Not logged in.")
	}

	fmt.Printf("Queued requests: %d\n", out.QueueSize)

	if out.SyncVersion > 0 {
		fmt.Printf("Sync version: %d\n", out.SyncVersion)
	}

	if out.QuotaLimit > 0 {
		fmt.Printf("Quota: %s / %s\n", formatSize(out.QuotaUsed), formatSize(out.QuotaLimit))
	}
}
