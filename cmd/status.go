package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/kbsession/internal/keybase"
)

var statusJSON bool

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the keybase login status",
	Long: `Query keybase for its current login status and print it.

Examples:
  kbsession status
  kbsession status --json | jq .LoggedIn`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		return printStatus(cmd, s.Status())
	},
}

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print the status as JSON")
	rootCmd.AddCommand(statusCmd)
}

// printStatus writes st as JSON or styled text depending on --json.
func printStatus(cmd *cobra.Command, st keybase.StatusResponse) error {
	if statusJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		if err := enc.Encode(st); err != nil {
			return fmt.Errorf("encoding status: %w", err)
		}
		return nil
	}
	_, err := fmt.Fprint(cmd.OutOrStdout(), renderStatus(st))
	return err
}
