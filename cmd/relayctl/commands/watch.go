package commands

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
)

func watchCmd() *cobra.Command {
	var interval time.Duration

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Poll the roster and transfer table until interrupted",
		Long:  "Polls the meshdrop-relay daemon's admin endpoints at the given interval and prints the roster and transfer table until interrupted (Ctrl+C).",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			ticker := time.NewTicker(interval)
			defer ticker.Stop()

			for {
				if err := printSnapshot(); err != nil {
					return err
				}

				select {
				case <-ctx.Done():
					return nil
				case <-ticker.C:
				}
			}
		},
	}

	cmd.Flags().DurationVar(&interval, "interval", 2*time.Second, "polling interval")

	return cmd
}

func printSnapshot() error {
	sessions, err := fetchSessions()
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return fmt.Errorf("fetch sessions: %w", err)
	}

	transfers, err := fetchTransfers()
	if err != nil {
		return fmt.Errorf("fetch transfers: %w", err)
	}

	sessionsOut, err := formatSessions(sessions, outputFormat)
	if err != nil {
		return fmt.Errorf("format sessions: %w", err)
	}
	transfersOut, err := formatTransfers(transfers, outputFormat)
	if err != nil {
		return fmt.Errorf("format transfers: %w", err)
	}

	fmt.Println("--- sessions ---")
	fmt.Print(sessionsOut)
	fmt.Println("--- transfers ---")
	fmt.Print(transfersOut)

	return nil
}
