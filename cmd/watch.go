package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/zjrosen/kbsession/internal/keybase"
	"github.com/zjrosen/kbsession/internal/log"
	"github.com/zjrosen/kbsession/internal/pubsub"
	"github.com/zjrosen/kbsession/internal/watcher"
)

var watchJSON bool

// watchLine is one JSON line printed by `watch --json`.
type watchLine struct {
	Time   string                 `json:"time"`
	Event  string                 `json:"event"`
	Status keybase.StatusResponse `json:"status"`
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Print the login status whenever it changes",
	Long: `Print the current login status, then keep watching the keybase
config directory and re-query status whenever keybase rewrites its
config.json or session.json. A line is printed only when the status
differs from the last one printed.

watch.interval additionally re-queries on a fixed schedule, which catches
changes made by a keybase service running under another user.

Stop with Ctrl-C.

Examples:
  kbsession watch
  kbsession watch --json | jq -c .status.LoggedIn`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}

		dir := cfg.Watch.Dir
		if dir == "" {
			dir = watcher.KeybaseConfigDir()
		}
		wcfg := watcher.DefaultConfig(dir)
		if cfg.Watch.Debounce > 0 {
			wcfg.DebounceDur = cfg.Watch.Debounce
		}
		w, err := watcher.New(wcfg)
		if err != nil {
			return err
		}
		changes, err := w.Start()
		if err != nil {
			_ = w.Stop()
			return err
		}
		onTeardown(func() { _ = w.Stop() })

		// Subscribe before the refresher starts so no replacement is missed.
		events := s.Subscribe(ctx)
		last := s.Status()
		if err := printWatchLine(cmd, pubsub.InitializedEvent, last, time.Now()); err != nil {
			return err
		}

		if _, err := s.Go("watch", refresher(s, changes, cfg.Watch.Interval)); err != nil {
			return err
		}
		log.Info(log.CatWatch, "Watching keybase config", "dir", dir, "interval", cfg.Watch.Interval)

		for {
			select {
			case <-ctx.Done():
				return nil
			case ev, ok := <-events:
				if !ok {
					return nil
				}
				if ev.Payload == last {
					continue
				}
				last = ev.Payload
				if err := printWatchLine(cmd, ev.Type, ev.Payload, ev.Timestamp); err != nil {
					return err
				}
			}
		}
	},
}

func init() {
	watchCmd.Flags().BoolVar(&watchJSON, "json", false, "print one JSON object per change")
	rootCmd.AddCommand(watchCmd)
}

// refresher re-queries status on every change signal and, when interval is
// positive, on every tick. Failed refreshes keep the previous status.
func refresher(s *keybase.Session, changes <-chan struct{}, interval time.Duration) func(context.Context) {
	return func(ctx context.Context) {
		var tick <-chan time.Time
		if interval > 0 {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-changes:
			case <-tick:
			}
			if err := s.Refresh(ctx); err != nil && ctx.Err() == nil {
				log.ErrorErr(log.CatWatch, "Refresh failed", err)
			}
		}
	}
}

func printWatchLine(cmd *cobra.Command, op pubsub.EventType, st keybase.StatusResponse, at time.Time) error {
	if watchJSON {
		line := watchLine{Time: at.Format(time.RFC3339Nano), Event: string(op), Status: st}
		if err := json.NewEncoder(cmd.OutOrStdout()).Encode(line); err != nil {
			return fmt.Errorf("encoding status: %w", err)
		}
		return nil
	}
	_, err := fmt.Fprintf(cmd.OutOrStdout(), "%s  %-10s %s %s\n",
		subtleStyle.Render(at.Local().Format(time.TimeOnly)),
		op,
		stateText(st.LoggedIn),
		orNone(st.Username))
	return err
}
