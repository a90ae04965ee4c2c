package cmd

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/charmbracelet/huh"
	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/output"
	"github.com/marcus/ct/internal/remote"
	"github.com/marcus/ct/internal/syncconfig"
	"github.com/spf13/cobra"
)

const defaultShareBase = "ct://join"

var backendCmd = &cobra.Command{
	Use:     "backend",
	Short:   "Show or change the sync backend",
	GroupID: "sync",
}

var backendShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the configured backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		b := syncconfig.CurrentBackend()
		if jsonOutput, _ := cmd.Flags().GetBool("json"); jsonOutput {
			return output.JSON(b)
		}
		fmt.Printf("Backend:  %s\n", b.Backend)
		switch {
		case b.Sheets != nil:
			fmt.Printf("URL:      %s\n", b.Sheets.URL)
			if b.Sheets.SheetName != "" {
				fmt.Printf("Sheet:    %s\n", b.Sheets.SheetName)
			}
		case b.Realtime != nil:
			fmt.Printf("URL:      %s\n", b.Realtime.URL)
			fmt.Printf("User:     %s\n", b.Realtime.UserID)
		}
		if dir, err := syncconfig.ConfigDir(); err == nil {
			fmt.Printf("Config:   %s\n", filepath.Join(dir, "config.json"))
		}
		fmt.Printf("Auto:     %v (every %s)\n", syncconfig.GetAutoSyncEnabled(), syncconfig.GetSyncInterval())
		return nil
	},
}

var backendSetCmd = &cobra.Command{
	Use:   "set [none|sheets|realtime]",
	Short: "Select and configure the sync backend",
	Long: `Select the backend ct syncs with:

  none      local only; nothing leaves this device
  sheets    a spreadsheet proxy web app, polled periodically
  realtime  a document store that pushes changes as they happen

Without arguments on a terminal, ct asks interactively.`,
	Example: `  ct backend set sheets --url https://script.example.com/exec
  ct backend set realtime --url wss://sync.example.com --user-id 9b2c`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var b syncconfig.BackendConfig
		var err error
		if len(args) == 0 {
			if !interactive() {
				err = apperr.Validation("backend kind is required")
				output.Error("%v", err)
				return err
			}
			b, err = promptBackend()
		} else {
			b, err = backendFromFlags(cmd, args[0])
		}
		if err != nil {
			output.Error("%v", err)
			return err
		}

		if err := syncconfig.SetBackend(b); err != nil {
			output.Error("save config: %v", err)
			return err
		}
		output.Success("Backend set to %s", b.Backend)
		if b.Backend != remote.KindPassive {
			testBackend(cmd.Context())
		}
		return nil
	},
}

func backendFromFlags(cmd *cobra.Command, kindArg string) (syncconfig.BackendConfig, error) {
	kind, err := remote.ParseKind(kindArg)
	if err != nil {
		return syncconfig.BackendConfig{}, err
	}
	url, _ := cmd.Flags().GetString("url")
	b := syncconfig.BackendConfig{Backend: kind}
	switch kind {
	case remote.KindPolling:
		sheet, _ := cmd.Flags().GetString("sheet")
		b.Sheets = &syncconfig.SheetsConfig{URL: url, SheetName: sheet}
	case remote.KindRealtime:
		user, _ := cmd.Flags().GetString("user-id")
		token, _ := cmd.Flags().GetString("token")
		b.Realtime = &syncconfig.RealtimeConfig{URL: url, UserID: user, Token: token}
	}
	return b, nil
}

func promptBackend() (syncconfig.BackendConfig, error) {
	var kind, url, extra string
	current := syncconfig.CurrentBackend()
	kind = string(current.Backend)

	err := huh.NewForm(
		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Sync backend").
				Options(
					huh.NewOption("None (this device only)", string(remote.KindPassive)),
					huh.NewOption("Spreadsheet proxy", string(remote.KindPolling)),
					huh.NewOption("Realtime document store", string(remote.KindRealtime)),
				).
				Value(&kind),
		),
		huh.NewGroup(
			huh.NewInput().Title("Endpoint URL").Value(&url),
			huh.NewInput().
				TitleFunc(func() string {
					if kind == string(remote.KindRealtime) {
						return "User id (shared by every device)"
					}
					return "Sheet name (optional)"
				}, &kind).
				Value(&extra),
		).WithHideFunc(func() bool { return kind == string(remote.KindPassive) }),
	).WithTheme(huh.ThemeDracula()).Run()
	if err != nil {
		if errors.Is(err, huh.ErrUserAborted) {
			return syncconfig.BackendConfig{}, errors.New("cancelled")
		}
		return syncconfig.BackendConfig{}, err
	}

	b := syncconfig.BackendConfig{Backend: remote.Kind(kind)}
	switch b.Backend {
	case remote.KindPolling:
		b.Sheets = &syncconfig.SheetsConfig{URL: url, SheetName: extra}
	case remote.KindRealtime:
		b.Realtime = &syncconfig.RealtimeConfig{URL: url, UserID: extra}
	}
	return b, nil
}

var backendTestCmd = &cobra.Command{
	Use:   "test",
	Short: "Check that the backend is reachable",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := testBackend(cmd.Context()); err != nil {
			return err
		}
		return nil
	},
}

// testBackend builds the configured adapter and probes it, printing the outcome.
func testBackend(ctx context.Context) error {
	adapter, err := remote.New(syncconfig.RemoteConfig())
	if err != nil {
		output.Error("%v", err)
		return err
	}
	defer adapter.Close()

	ctx, cancel := context.WithTimeout(ctx, syncconfig.GetSyncTimeout())
	defer cancel()
	if err := adapter.TestConnection(ctx); err != nil {
		output.Error("%s: %v", adapter.Kind(), err)
		return err
	}
	output.Success("%s backend is reachable", adapter.Kind())
	return nil
}

var backendInitCmd = &cobra.Command{
	Use:   "init",
	Short: "Prepare the backend for first use",
	Long:  `Run one-time backend setup, e.g. writing the header row of an empty sheet.`,
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		adapter, err := remote.New(syncconfig.RemoteConfig())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer adapter.Close()

		initializer, ok := adapter.(remote.Initializer)
		if !ok {
			output.Info("The %s backend needs no setup", adapter.Kind())
			return nil
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), syncconfig.GetSyncTimeout())
		defer cancel()
		if err := initializer.Initialize(ctx); err != nil {
			output.Error("initialize %s: %v", adapter.Kind(), err)
			return err
		}
		output.Success("%s backend initialized", adapter.Kind())
		return nil
	},
}

var backendShareCmd = &cobra.Command{
	Use:   "share",
	Short: "Print a link that configures another device",
	Long: `Print a link that carries this device's backend settings. Open it on
another device with 'ct backend join <link>'. Access tokens are never
included. With --user, the link only carries the realtime user id.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		base, _ := cmd.Flags().GetString("base")
		userOnly, _ := cmd.Flags().GetBool("user")

		b := syncconfig.CurrentBackend()
		if b.Backend == remote.KindPassive {
			err := fmt.Errorf("nothing to share: %w", apperr.ErrBackendUnconfigured)
			output.Error("%v", err)
			return err
		}
		if userOnly {
			if b.Realtime == nil || b.Realtime.UserID == "" {
				err := apperr.Validation("--user needs a realtime backend with a user id")
				output.Error("%v", err)
				return err
			}
			fmt.Println(syncconfig.UserShareLink(base, b.Realtime.UserID))
			return nil
		}
		link, err := syncconfig.EncodeShareLink(base, b)
		if err != nil {
			output.Error("%v", err)
			return err
		}
		fmt.Println(link)
		return nil
	},
}

var backendJoinCmd = &cobra.Command{
	Use:   "join <link>",
	Short: "Configure this device from a share link",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		b, err := syncconfig.ParseShareLink(args[0])
		if err != nil {
			output.Error("%v", err)
			return err
		}
		if err := syncconfig.SetBackend(b); err != nil {
			output.Error("save config: %v", err)
			return err
		}
		output.Success("Joined %s backend", b.Backend)

		rc := syncconfig.RemoteConfig()
		if b.Backend == remote.KindRealtime && rc.Realtime.URL == "" {
			output.Warning("no realtime URL configured; run 'ct backend set realtime --url ...'")
			return nil
		}
		testBackend(cmd.Context())
		return nil
	},
}

func init() {
	rootCmd.AddCommand(backendCmd)
	backendCmd.AddCommand(backendShowCmd, backendSetCmd, backendTestCmd, backendInitCmd, backendShareCmd, backendJoinCmd)

	backendShowCmd.Flags().Bool("json", false, "Output as JSON")

	backendSetCmd.Flags().String("url", "", "Backend endpoint URL")
	backendSetCmd.Flags().String("sheet", "", "Sheet name (sheets)")
	backendSetCmd.Flags().String("user-id", "", "Collection owner shared by your devices (realtime)")
	backendSetCmd.Flags().String("token", "", "Access token (realtime)")

	backendShareCmd.Flags().String("base", defaultShareBase, "Link prefix")
	backendShareCmd.Flags().Bool("user", false, "Share only the realtime user id")
}
