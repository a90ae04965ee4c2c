package cmd

import (
	"context"
	"fmt"

	"github.com/marcus/ct/internal/models"
	"github.com/marcus/ct/internal/output"
	"github.com/spf13/cobra"
)

var undoCmd = &cobra.Command{
	Use:   "undo",
	Short: "Undo the last action",
	Long: `Undo the last action. History survives restarts and holds the most
recent actions (history.size in config, default 50).

Supported actions:
  - start/add: removes the contraction
  - stop/edit: restores the previous times, intensity and notes
  - delete/archive: brings the contraction back
  - archive-all: brings all of them back at once

Use 'ct history' to see what can be undone.`,
	GroupID: "history",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			entry, err := a.svc.Undo(ctx)
			if err != nil {
				return err
			}
			output.Success("UNDONE: %s", entry.Description)
			return nil
		})
	},
}

var redoCmd = &cobra.Command{
	Use:     "redo",
	Short:   "Redo the last undone action",
	GroupID: "history",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			entry, err := a.svc.Redo(ctx)
			if err != nil {
				return err
			}
			output.Success("REDONE: %s", entry.Description)
			return nil
		})
	},
}

var historyCmd = &cobra.Command{
	Use:     "history",
	Short:   "Show the undo history",
	GroupID: "history",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			entries, cursor := a.history.Entries()
			if jsonOutput {
				if entries == nil {
					entries = []models.HistoryEntry{}
				}
				return output.JSON(map[string]any{"entries": entries, "cursor": cursor})
			}
			if len(entries) == 0 {
				fmt.Println("No history")
				return nil
			}

			fmt.Println("HISTORY (newest first):")
			for i := len(entries) - 1; i >= 0; i-- {
				e := entries[i]
				status := ""
				if i > cursor {
					status = " [undone]"
				}
				marker := "  "
				if i == cursor {
					marker = "> "
				}
				fmt.Printf("%s%-14s %s (%s)%s\n", marker, e.ActionType, e.Description,
					output.FormatTimeAgo(e.Timestamp.Time()), status)
			}
			if desc := a.history.UndoDescription(); desc != "" {
				fmt.Println()
				fmt.Println(desc)
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(undoCmd)
	rootCmd.AddCommand(redoCmd)
	rootCmd.AddCommand(historyCmd)

	historyCmd.Flags().Bool("json", false, "Output as JSON")
}
