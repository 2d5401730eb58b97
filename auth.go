package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/odavl/odavl-go/internal/auth"
)

func newLoginCmd() *cobra.Command {
	var apiKey string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate with the backend",
		Long:  "Authenticate with an API key (--api-key) or interactively via the device code flow.",
		RunE: func(_ *cobra.Command, _ []string) error {
			return runLogin(apiKey)
		},
	}

	cmd.Flags().StringVar(&apiKey, "api-key", "", "authenticate with an API key instead of the device flow")

	return cmd
}

func newLogoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Remove saved credentials",
		RunE:  runLogout,
	}
}

func newWhoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Display the authenticated identity",
		RunE:  runWhoami,
	}
}

func runLogin(apiKey string) error {
	logger := buildLogger()
	ctx := context.Background()

	mgr, err := newAuthManager(logger)
	if err != nil {
		return err
	}

	if apiKey != "" {
		if err := mgr.LoginWithAPIKey(ctx, apiKey); err != nil {
			if errors.Is(err, auth.ErrInvalidAPIKey) {
				return fmt.Errorf("API key was rejected by the server")
			}

			return err
		}

		statusf("Login successful.\n")

		return nil
	}

	da, err := mgr.StartDeviceLogin(ctx)
	if err != nil {
		return err
	}

	// Device code prompts must always be visible — not suppressed by --quiet.
	fmt.Fprintf(os.Stderr, "To sign in, visit: %s\n", da.VerificationURI)
	fmt.Fprintf(os.Stderr, "Enter code: %s\n", da.UserCode)

	if err := mgr.WaitForDeviceToken(ctx, da); err != nil {
		return err
	}

	statusf("Login successful.\n")

	return nil
}

func runLogout(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	mgr, err := newAuthManager(logger)
	if err != nil {
		return err
	}

	if err := mgr.Logout(); err != nil {
		return err
	}

	statusf("Logged out.\n")

	return nil
}

// whoamiOutput is the JSON schema for `whoami --json`.
type whoamiOutput struct {
	OrgID  string `json:"org_id,omitempty"`
	UserID string `json:"user_id"`
}

func runWhoami(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	mgr, err := newAuthManager(logger)
	if err != nil {
		return err
	}

	orgID, userID, err := mgr.Identity()
	if err != nil {
		if errors.Is(err, auth.ErrNotAuthenticated) {
			return fmt.Errorf("not logged in — run 'odavl login' first")
		}

		return err
	}

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(whoamiOutput{OrgID: orgID, UserID: userID})
	}

	fmt.Printf("User: %s\n", userID)

	if orgID != "" {
		fmt.Printf("Org:  %s\n", orgID)
	}

	return nil
}
