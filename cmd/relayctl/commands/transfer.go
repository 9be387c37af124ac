package commands

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"

	"github.com/meshdrop/relay/internal/relay"
)

func transferCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transfer",
		Short: "Inspect in-flight file transfers",
	}

	cmd.AddCommand(transferListCmd())

	return cmd
}

func transferListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all in-flight transfers and their sync status",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			transfers, err := fetchTransfers()
			if err != nil {
				return fmt.Errorf("list transfers: %w", err)
			}

			out, err := formatTransfers(transfers, outputFormat)
			if err != nil {
				return fmt.Errorf("format transfers: %w", err)
			}

			fmt.Print(out)

			return nil
		},
	}
}

// fetchTransfers GETs the admin /v1/transfers endpoint and decodes the
// resulting sync-status list.
func fetchTransfers() ([]relay.SyncStatusData, error) {
	resp, err := httpClient.Get(adminURL("/v1/transfers"))
	if err != nil {
		return nil, fmt.Errorf("GET /v1/transfers: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET /v1/transfers: status %d", resp.StatusCode)
	}

	var transfers []relay.SyncStatusData
	if err := json.NewDecoder(resp.Body).Decode(&transfers); err != nil {
		return nil, fmt.Errorf("decode transfers: %w", err)
	}

	return transfers, nil
}
