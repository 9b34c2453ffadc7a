package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/zjrosen/kbsession/internal/keybase"
)

var versionMin string

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the installed keybase version",
	Long: `Print the version reported by "keybase version -S -f s".

With --min, fail unless the installed keybase is at least that version.
The min_version config key applies the same check to every command.

Examples:
  kbsession version
  kbsession version --min 6.0.0`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, err := resolveBinary(cmd.Context())
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		if cfg.Timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, cfg.Timeout)
			defer cancel()
		}

		v, err := keybase.QueryVersion(ctx, keybase.NewRealExecutor(), path)
		if err != nil {
			return describe(err)
		}
		if _, err := fmt.Fprintln(cmd.OutOrStdout(), v); err != nil {
			return err
		}
		minVersion := versionMin
		if minVersion == "" {
			minVersion = cfg.MinVersion
		}
		return keybase.CheckVersion(v, minVersion)
	},
}

func init() {
	versionCmd.Flags().StringVar(&versionMin, "min", "", "minimum acceptable keybase version")
	rootCmd.AddCommand(versionCmd)
}
