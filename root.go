package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"

	"github.com/spf13/cobra"

	"github.com/odavl/odavl-go/internal/api"
	"github.com/odavl/odavl-go/internal/auth"
	"github.com/odavl/odavl-go/internal/config"
	"github.com/odavl/odavl-go/internal/queue"
	"github.com/odavl/odavl-go/internal/vault"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath string
	flagJSON       bool
	flagVerbose    bool
	flagQuiet      bool
)

// resolvedCfg holds the effective configuration loaded by PersistentPreRunE,
// available to all subcommands after the root pre-run phase completes.
var resolvedCfg *config.Config

// resolvedDataDir is the profile directory holding the vault and queue.
var resolvedDataDir string

// newRootCmd builds and returns the fully-assembled root command with all
// subcommands registered. Called once from main().
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "odavl",
		Short:   "odavl workspace sync client",
		Long:    "A resilient, offline-capable workspace sync client.",
		Version: version,
		// Silence Cobra's default error/usage printing — we handle it ourselves.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			return loadConfig()
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	// Register subcommands.
	cmd.AddCommand(newLoginCmd())
	cmd.AddCommand(newLogoutCmd())
	cmd.AddCommand(newWhoamiCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newSyncCmd())
	cmd.AddCommand(newPushCmd())
	cmd.AddCommand(newPullCmd())
	cmd.AddCommand(newQueueCmd())
	cmd.AddCommand(newWorkspaceCmd())

	return cmd
}

// loadConfig resolves the effective configuration from the override chain
// (CLI flag > environment > config file > defaults) and stores the result
// for use by subcommands.
func loadConfig() error {
	env := config.ReadEnvOverrides()

	path := flagConfigPath
	if path == "" {
		path = env.ConfigPath
	}

	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	cfg.Resolve(env)
	resolvedCfg = cfg

	resolvedDataDir = env.DataDir
	if resolvedDataDir == "" {
		resolvedDataDir = config.DefaultDataDir()
	}

	return nil
}

// buildLogger creates an slog.Logger configured by the CLI flags.
func buildLogger() *slog.Logger {
	level := slog.LevelInfo

	if flagVerbose {
		level = slog.LevelDebug
	}

	if flagQuiet {
		level = slog.LevelError
	}

	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// openVault opens the credential vault under the profile directory.
func openVault() (*vault.Vault, error) {
	if err := os.MkdirAll(resolvedDataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating profile directory: %w", err)
	}

	return vault.Open(config.VaultPath(resolvedDataDir))
}

// openQueue opens the offline queue under the profile directory.
func openQueue(logger *slog.Logger) (*queue.Queue, error) {
	if err := os.MkdirAll(resolvedDataDir, 0o700); err != nil {
		return nil, fmt.Errorf("creating profile directory: %w", err)
	}

	return queue.Open(config.QueuePath(resolvedDataDir), logger)
}

// newAuthManager wires the auth manager against the configured backend.
func newAuthManager(logger *slog.Logger) (*auth.Manager, error) {
	v, err := openVault()
	if err != nil {
		return nil, err
	}

	httpClient := &http.Client{Timeout: resolvedCfg.HTTPTimeout()}

	return auth.NewManager(resolvedCfg.Server.URL, httpClient, v, logger), nil
}

// newAPIClient wires the resilient API client: auth manager plus offline
// queue against the configured backend. The queue is returned too so
// callers can manage it through the same instance the client writes to.
func newAPIClient(logger *slog.Logger) (*api.Client, *queue.Queue, error) {
	mgr, err := newAuthManager(logger)
	if err != nil {
		return nil, nil, err
	}

	q, err := openQueue(logger)
	if err != nil {
		return nil, nil, err
	}

	httpClient := &http.Client{Timeout: resolvedCfg.HTTPTimeout()}

	return api.NewClient(resolvedCfg.Server.URL, httpClient, mgr, q, logger), q, nil
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(1)
}
