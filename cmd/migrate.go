package cmd

import (
	"context"
	"fmt"

	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/output"
	"github.com/marcus/ct/internal/remote"
	"github.com/marcus/ct/internal/syncconfig"
	"github.com/marcus/ct/internal/syncer"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate --to <sheets|realtime>",
	Short: "Copy every contraction to another backend and switch to it",
	Long: `Copy the full event log, merged from the current backend and this
device, into another backend, verify it by reading it back, and make it
the configured backend. Settings for the target come from the flags, then
from the saved configuration.`,
	Example: `  ct migrate --to realtime --url wss://sync.example.com --user-id 9b2c`,
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		toStr, _ := cmd.Flags().GetString("to")
		noSwitch, _ := cmd.Flags().GetBool("no-switch")

		to, err := remote.ParseKind(toStr)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if to == remote.KindPassive {
			err := apperr.Validation("--to must be sheets or realtime")
			output.Error("%v", err)
			return err
		}
		target := migrationTarget(cmd, to)

		return withApp(cmd, func(ctx context.Context, a *app) error {
			if a.adapter.Kind() == to {
				return apperr.Validation(fmt.Sprintf("already using the %s backend", to))
			}
			adapter, err := remote.New(target)
			if err != nil {
				return err
			}
			defer adapter.Close()

			res, err := syncer.Migrate(ctx, a.adapter, adapter, a.db, func(p syncer.MigrationProgress) {
				if p.Total > 0 && p.Current > 0 {
					fmt.Printf("  %s (%d/%d)\n", p.Step, p.Current, p.Total)
					return
				}
				fmt.Printf("  %s\n", p.Step)
			})
			if err != nil {
				return err
			}
			for _, e := range res.Errors {
				output.Warning("%s", e)
			}
			if !res.Success {
				return fmt.Errorf("migration incomplete: %d migrated, %d errors; the %s backend stays active", res.Migrated, len(res.Errors), a.adapter.Kind())
			}
			output.Success("Migrated %d contractions (%d verified in %s)", res.Migrated, res.Verified, to)

			if noSwitch {
				return nil
			}
			b := syncconfig.BackendConfig{Backend: to}
			switch to {
			case remote.KindPolling:
				b.Sheets = &syncconfig.SheetsConfig{URL: target.Sheets.URL, SheetName: target.Sheets.SheetName}
			case remote.KindRealtime:
				b.Realtime = &syncconfig.RealtimeConfig{URL: target.Realtime.URL, UserID: target.Realtime.UserID, Token: target.Realtime.Token}
			}
			if err := syncconfig.SetBackend(b); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			output.Success("Backend switched to %s", to)
			return nil
		})
	},
}

// migrationTarget merges the target flags over the saved settings.
func migrationTarget(cmd *cobra.Command, to remote.Kind) remote.Config {
	cfg := syncconfig.RemoteConfig()
	cfg.Kind = to

	url, _ := cmd.Flags().GetString("url")
	switch to {
	case remote.KindPolling:
		if url != "" {
			cfg.Sheets.URL = url
		}
		if sheet, _ := cmd.Flags().GetString("sheet"); sheet != "" {
			cfg.Sheets.SheetName = sheet
		}
	case remote.KindRealtime:
		if url != "" {
			cfg.Realtime.URL = url
		}
		if user, _ := cmd.Flags().GetString("user-id"); user != "" {
			cfg.Realtime.UserID = user
		}
		if token, _ := cmd.Flags().GetString("token"); token != "" {
			cfg.Realtime.Token = token
		}
	}
	return cfg
}

func init() {
	rootCmd.AddCommand(migrateCmd)

	migrateCmd.Flags().String("to", "", "Target backend: sheets or realtime (required)")
	migrateCmd.Flags().String("url", "", "Target endpoint URL")
	migrateCmd.Flags().String("sheet", "", "Target sheet name (sheets)")
	migrateCmd.Flags().String("user-id", "", "Target collection owner (realtime)")
	migrateCmd.Flags().String("token", "", "Target access token (realtime)")
	migrateCmd.Flags().Bool("no-switch", false, "Keep the current backend after migrating")
	_ = migrateCmd.MarkFlagRequired("to")
}
