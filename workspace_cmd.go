package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odavl/odavl-go/internal/auth"
	"github.com/odavl/odavl-go/internal/storage"
	"github.com/odavl/odavl-go/internal/workspace"
)

func newWorkspaceCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "workspace",
		Short: "Manage remote workspaces",
	}

	cmd.AddCommand(newWorkspaceDeleteCmd())

	return cmd
}

func newWorkspaceDeleteCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a remote workspace and all its content",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			return runWorkspaceDelete(args[0], force)
		},
	}

	cmd.Flags().BoolVarP(&force, "force", "f", false, "skip the confirmation prompt")

	return cmd
}

func runWorkspaceDelete(name string, force bool) error {
	logger := buildLogger()
	ctx := context.Background()

	mgr, err := newAuthManager(logger)
	if err != nil {
		return err
	}

	_, userID, err := mgr.Identity()
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			return fmt.Errorf("not logged in — run 'odavl login' first")
		}

		return err
	}

	if !force && !confirmf("Delete remote workspace %q and all its content? [y/N] ", name) {
		statusf("Aborted.\n")
		return nil
	}

	provider, err := storage.NewProvider(ctx, resolvedCfg.Storage, logger)
	if err != nil {
		return err
	}
	defer provider.Close()

	svc, err := workspace.NewService(provider, workspace.Options{}, logger)
	if err != nil {
		return err
	}

	if err := svc.DeleteWorkspace(ctx, userID, name); err != nil {
		return err
	}

	statusf("Deleted workspace %q.\n", name)

	return nil
}

// confirmf prompts on stderr and reads a y/N answer from stdin.
func confirmf(format string, args ...any) bool {
	fmt.Fprintf(os.Stderr, format, args...)

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}

	return line == "y\n" || line == "Y\n" || line == "yes\n"
}
