package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/kbsession/internal/history"
)

var (
	historyLimit int
	historyJSON  bool
)

// historyRecord is the JSON shape of one history entry.
type historyRecord struct {
	ID         int64  `json:"id"`
	GUID       string `json:"guid"`
	Operation  string `json:"operation"`
	Username   string `json:"username"`
	LoggedIn   bool   `json:"logged_in"`
	Device     string `json:"device,omitempty"`
	RecordedAt string `json:"recorded_at"`
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "List recorded status changes",
	Long: `List the status snapshots kbsession recorded after each login,
logout and refresh, newest first.

Examples:
  kbsession history
  kbsession history --limit 5
  kbsession history --json | jq '.[].operation'`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if !cfg.History.Enabled {
			return fmt.Errorf("history is disabled (history.enabled: false)")
		}

		store, err := history.Open(cfg.History.Path)
		if err != nil {
			return err
		}
		defer func() { _ = store.Close() }()

		entries, err := store.List(cmd.Context(), historyLimit)
		if err != nil {
			return err
		}

		if !historyJSON {
			_, err := fmt.Fprint(cmd.OutOrStdout(), renderHistory(entries))
			return err
		}

		records := make([]historyRecord, 0, len(entries))
		for _, e := range entries {
			records = append(records, historyRecord{
				ID:         e.ID,
				GUID:       e.GUID,
				Operation:  e.Operation,
				Username:   e.Status.Username,
				LoggedIn:   e.Status.LoggedIn,
				Device:     e.Status.Device.Name,
				RecordedAt: e.RecordedAt.Format("2006-01-02T15:04:05.000Z07:00"),
			})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(records)
	},
}

func init() {
	historyCmd.Flags().IntVarP(&historyLimit, "limit", "n", 20, "number of entries to show (0 for all)")
	historyCmd.Flags().BoolVar(&historyJSON, "json", false, "print entries as JSON")
	rootCmd.AddCommand(historyCmd)
}
