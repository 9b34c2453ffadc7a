package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	errNoUsername = errors.New("no username: use --username, KEYBASE_USERNAME or username in the config file")
	errNoPaperkey = errors.New("no paperkey: export KEYBASE_PAPERKEY")
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in with a paperkey",
	Long: `Log the local keybase service in as the configured user.

The paperkey is read from the KEYBASE_PAPERKEY environment variable and
passed to "keybase oneshot" on stdin. It is never accepted as a flag, so
it does not end up in shell history or process listings.

After oneshot finishes, status is queried again and printed. The command
fails if keybase still reports the session as logged out.

Example:
  KEYBASE_PAPERKEY="..." kbsession login -u alice`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		if cfg.Username == "" {
			return errNoUsername
		}
		if os.Getenv(paperkeyEnv) == "" {
			return errNoPaperkey
		}

		s, err := openSession(cmd.Context(), true)
		if err != nil {
			return err
		}
		if err := s.Login(cmd.Context()); err != nil {
			return fmt.Errorf("login as %s: %w", cfg.Username, describe(err))
		}

		st := s.Status()
		if err := printStatus(cmd, st); err != nil {
			return err
		}
		if !st.LoggedIn {
			return fmt.Errorf("keybase still reports %s as logged out", cfg.Username)
		}
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Log the keybase service out",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		s, err := openSession(cmd.Context(), false)
		if err != nil {
			return err
		}
		if err := s.Logout(cmd.Context()); err != nil {
			return fmt.Errorf("logout: %w", describe(err))
		}
		return printStatus(cmd, s.Status())
	},
}

func init() {
	loginCmd.Flags().BoolVar(&statusJSON, "json", false, "print the resulting status as JSON")
	logoutCmd.Flags().BoolVar(&statusJSON, "json", false, "print the resulting status as JSON")
	rootCmd.AddCommand(loginCmd, logoutCmd)
}
