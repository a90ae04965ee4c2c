package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/marcus/ct/internal/remote"
	"github.com/marcus/ct/internal/syncer"
	"github.com/marcus/ct/internal/tui/monitor"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:     "watch",
	Aliases: []string{"timer"},
	Short:   "Live contraction timer",
	Long: `Launch a full-screen timer. Press space when a contraction starts and
again when it ends, then rate it. Changes sync in the background and
changes from other devices appear as they arrive.

Key bindings:
  space, enter   Start or stop
  1-9, 0         Rate the contraction just stopped (0 = 10)
  u              Undo
  U, ctrl+r      Redo
  s              Sync now
  r              Reload
  ?              Toggle help
  q, esc         Quit`,
	GroupID: "core",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		interval, _ := cmd.Flags().GetDuration("interval")
		if interval < time.Second {
			interval = 5 * time.Second
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			ctx, cancel := context.WithCancel(ctx)
			defer cancel()

			var sync monitor.Syncer
			if a.adapter.Kind() != remote.KindPassive {
				sync = a.orch
			}
			model := monitor.NewModel(a.svc, sync, interval)
			p := tea.NewProgram(model, tea.WithAltScreen(), tea.WithContext(ctx))

			a.orch.OnChange(func(st syncer.State) {
				p.Send(monitor.SyncStateMsg(st))
			})
			a.orch.OnRemoteChange(func() {
				p.Send(monitor.DataChangedMsg{})
			})
			if sync != nil && AutoSyncEnabled() {
				a.svc.OnChange(func() {
					go func() {
						if _, err := a.orch.SyncNow(ctx); err != nil {
							slog.Debug("watch: sync after change", "err", err)
						}
					}()
				})
			}

			go func() {
				if err := a.orch.Start(ctx); err != nil {
					slog.Warn("watch: start sync", "err", err)
				}
			}()

			if _, err := p.Run(); err != nil {
				return fmt.Errorf("error running watch: %w", err)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().Duration("interval", 5*time.Second, "Reload interval for the local view")
}
