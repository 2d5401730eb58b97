package main

import (
	"context"
	"encoding/json"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

func newQueueCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the offline request queue",
	}

	cmd.AddCommand(newQueueListCmd())
	cmd.AddCommand(newQueueFlushCmd())
	cmd.AddCommand(newQueueClearCmd())

	return cmd
}

func newQueueListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queued requests",
		RunE:  runQueueList,
	}
}

func newQueueFlushCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Replay queued requests against the backend",
		RunE:  runQueueFlush,
	}
}

func newQueueClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Discard all queued requests",
		RunE:  runQueueClear,
	}
}

func runQueueList(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	q, err := openQueue(logger)
	if err != nil {
		return err
	}

	entries := q.All()

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(entries)
	}

	if len(entries) == 0 {
		statusf("Queue is empty.\n")
		return nil
	}

	rows := make([][]string, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, []string{
			e.ID,
			e.Method,
			e.URL,
			formatTime(e.EnqueuedAt),
			strconv.Itoa(e.RetryCount) + "/" + strconv.Itoa(e.MaxRetries),
		})
	}

	printTable(os.Stdout, []string{"ID", "METHOD", "URL", "ENQUEUED", "RETRIES"}, rows)

	return nil
}

func runQueueFlush(_ *cobra.Command, _ []string) error {
	logger := buildLogger()
	ctx := context.Background()

	client, q, err := newAPIClient(logger)
	if err != nil {
		return err
	}

	// Drop entries that have aged out before replaying the rest.
	dropped, err := q.CleanOld(resolvedCfg.QueueMaxAge())
	if err != nil {
		return err
	}

	if dropped > 0 {
		statusf("Dropped %d expired request(s).\n", dropped)
	}

	res, err := client.SyncOfflineQueue(ctx)
	if err != nil {
		return err
	}

	statusf("Replayed queue: %d succeeded, %d failed permanently.\n", res.Succeeded, res.Failed)

	if flagJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")

		return enc.Encode(res)
	}

	return nil
}

func runQueueClear(_ *cobra.Command, _ []string) error {
	logger := buildLogger()

	q, err := openQueue(logger)
	if err != nil {
		return err
	}

	n := q.Size()

	if err := q.Clear(); err != nil {
		return err
	}

	statusf("Cleared %d queued request(s).\n", n)

	return nil
}
