package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/meshdrop/relay/internal/relay"
)

const (
	formatJSON  = "json"
	formatTable = "table"
)

// errUnsupportedFormat is returned when the requested output format is not supported.
var errUnsupportedFormat = errors.New("unsupported output format")

// formatSessions renders a slice of session snapshots in the requested format.
func formatSessions(sessions []relay.SessionSnapshot, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(sessions)
	case formatTable:
		return formatSessionsTable(sessions), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

// formatTransfers renders a slice of sync-status snapshots in the
// requested format.
func formatTransfers(transfers []relay.SyncStatusData, format string) (string, error) {
	switch format {
	case formatJSON:
		return formatJSONValue(transfers)
	case formatTable:
		return formatTransfersTable(transfers), nil
	default:
		return "", fmt.Errorf("%w: %q", errUnsupportedFormat, format)
	}
}

func formatJSONValue(v any) (string, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("marshal json: %w", err)
	}
	return string(b) + "\n", nil
}

func formatSessionsTable(sessions []relay.SessionSnapshot) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDEVICE\tCONNECTED\tLAST-HEARTBEAT")

	for _, s := range sessions {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			s.ID,
			s.DisplayName,
			s.ConnectTime.Format(time.RFC3339),
			s.LastHeartbeat.Format(time.RFC3339),
		)
	}

	w.Flush()
	return buf.String()
}

func formatTransfersTable(transfers []relay.SyncStatusData) string {
	var buf strings.Builder
	w := tabwriter.NewWriter(&buf, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "FILE-ID\tSENDER\tRECEIVER\tSENT%\tRECV%\tLAG\tDUPLICATES")

	for _, s := range transfers {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%d\t%d\n",
			s.FileID,
			s.SenderID,
			s.ReceiverID,
			s.SenderProgress,
			s.ReceiverProgress,
			s.SyncLag,
			s.DuplicatesRejected,
		)
	}

	w.Flush()
	return buf.String()
}
