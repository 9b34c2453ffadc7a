package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/zjrosen/kbsession/internal/config"
	"github.com/zjrosen/kbsession/internal/log"
)

var (
	initGlobal bool
	initForce  bool
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a config file",
	Long: `Write a commented default config file and record the username and
the resolved keybase binary in it.

Without --global the file is .kbsession/config.yaml in the current
directory; with --global it is ~/.config/kbsession/config.yaml.
An existing file is only updated, never overwritten, unless --force is given.

Examples:
  kbsession init -u alice
  kbsession init --global --keybase-path /opt/keybase/bin/keybase`,
	Args:        cobra.NoArgs,
	Annotations: map[string]string{configOptional: "true"},
	RunE: func(cmd *cobra.Command, _ []string) error {
		path := configTarget(initGlobal)

		_, statErr := os.Stat(path)
		if os.IsNotExist(statErr) || initForce {
			if err := config.WriteDefaultConfig(path); err != nil {
				return err
			}
		}

		values := map[string]string{}
		if cfg.Username != "" {
			values["username"] = cfg.Username
		}
		if binary, err := resolveBinary(cmd.Context()); err == nil {
			values["keybase_path"] = binary
		} else {
			log.Warn(log.CatConfig, "keybase not found, keybase_path left unset", "error", err)
			_, _ = fmt.Fprintln(cmd.ErrOrStderr(), "warning: keybase not found on PATH; set keybase_path later")
		}

		if len(values) > 0 {
			if err := config.SaveValues(path, values); err != nil {
				return fmt.Errorf("updating %s: %w", path, err)
			}
		}

		_, err := fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
		return err
	},
}

func init() {
	initCmd.Flags().BoolVar(&initGlobal, "global", false, "write the user config instead of the project config")
	initCmd.Flags().BoolVar(&initForce, "force", false, "replace an existing config file with the defaults")
	rootCmd.AddCommand(initCmd)
}
