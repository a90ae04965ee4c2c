package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/marcus/ct/internal/apperr"
	"github.com/marcus/ct/internal/dateparse"
	"github.com/marcus/ct/internal/models"
	"github.com/marcus/ct/internal/output"
	"github.com/spf13/cobra"
)

var editIntensity intensityValue

var editCmd = &cobra.Command{
	Use:     "edit <id>",
	Aliases: []string{"update"},
	Short:   "Change a contraction's times, intensity or notes",
	Long: `Change fields of a recorded contraction. Only the flags you give are
changed. Ids may be shortened to any unique prefix.`,
	Example: `  ct edit 3f2a --intensity 7
  ct edit 3f2a --start 14:05 --end 14:06
  ct edit 3f2a --intensity 0 --notes ""`,
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := editPatch(cmd, time.Now())
		if err != nil {
			output.Error("%v", err)
			return err
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id, err := a.resolveID(ctx, args[0])
			if err != nil {
				return err
			}
			e, err := a.svc.Update(ctx, id, patch)
			if err != nil {
				return err
			}
			output.Success("UPDATED %s", output.ShortID(e.ID))
			fmt.Println(output.FormatEventLong(*e))
			return nil
		})
	},
}

// editPatch builds a patch from the flags the user actually set.
func editPatch(cmd *cobra.Command, now time.Time) (models.EventPatch, error) {
	var patch models.EventPatch
	flags := cmd.Flags()

	if flags.Changed("start") {
		s, _ := flags.GetString("start")
		t, err := dateparse.ParseTimeFrom(s, now)
		if err != nil {
			return patch, apperr.Validation(err.Error())
		}
		patch.StartTime = models.FromTime(t).Ptr()
	}
	if flags.Changed("end") {
		s, _ := flags.GetString("end")
		t, err := dateparse.ParseTimeFrom(s, now)
		if err != nil {
			return patch, apperr.Validation(err.Error())
		}
		patch.EndTime = models.FromTime(t).Ptr()
	}
	if reopen, _ := flags.GetBool("reopen"); reopen {
		if patch.EndTime != nil {
			return patch, apperr.Validation("--reopen conflicts with --end")
		}
		patch.ClearEnd = true
	}
	if flags.Changed("intensity") {
		patch.Intensity = editIntensity.ptr()
	}
	if flags.Changed("notes") {
		notes, err := notesFlag(cmd)
		if err != nil {
			return patch, err
		}
		patch.Notes = &notes
	}
	if patch.IsEmpty() {
		return patch, apperr.Validation("nothing to change; pass --start, --end, --intensity or --notes")
	}
	return patch, nil
}

var deleteCmd = &cobra.Command{
	Use:     "delete <id>...",
	Aliases: []string{"rm"},
	Short:   "Delete contractions",
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return eachID(ctx, a, args, func(id string) error {
				if err := a.svc.Delete(ctx, id); err != nil {
					return err
				}
				output.Success("DELETED %s", output.ShortID(id))
				return nil
			})
		})
	},
}

var archiveCmd = &cobra.Command{
	Use:     "archive <id>...",
	Short:   "Move contractions to the archive",
	GroupID: "core",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			return eachID(ctx, a, args, func(id string) error {
				if err := a.svc.Archive(ctx, id); err != nil {
					return err
				}
				output.Success("ARCHIVED %s", output.ShortID(id))
				return nil
			})
		})
	},
}

var archiveAllCmd = &cobra.Command{
	Use:   "archive-all",
	Short: "Archive every active contraction",
	Long: `Archive every active contraction, e.g. to start a fresh session. This
is a single action: one undo restores all of them.`,
	GroupID: "core",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		yes, _ := cmd.Flags().GetBool("yes")
		if !yes {
			ok, err := confirm("Archive all active contractions?")
			if err != nil {
				output.Error("%v", err)
				return err
			}
			if !ok {
				output.Info("Nothing archived (pass --yes to skip the question)")
				return nil
			}
		}
		return withApp(cmd, func(ctx context.Context, a *app) error {
			n, err := a.svc.ArchiveAll(ctx)
			if err != nil {
				return err
			}
			if n == 0 {
				output.Info("No active contractions")
				return nil
			}
			output.Success("ARCHIVED %d contractions", n)
			return nil
		})
	},
}

// eachID resolves every reference before acting on any of them.
func eachID(ctx context.Context, a *app, refs []string, fn func(id string) error) error {
	ids := make([]string, 0, len(refs))
	for _, ref := range refs {
		id, err := a.resolveID(ctx, ref)
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	for _, id := range ids {
		if err := fn(id); err != nil {
			return err
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(editCmd)
	rootCmd.AddCommand(deleteCmd)
	rootCmd.AddCommand(archiveCmd)
	rootCmd.AddCommand(archiveAllCmd)

	editCmd.Flags().StringP("start", "s", "", "New start time")
	editCmd.Flags().StringP("end", "e", "", "New end time")
	editCmd.Flags().Bool("reopen", false, "Clear the end time so the contraction runs again")
	editCmd.Flags().VarP(&editIntensity, "intensity", "i", "Intensity 1-10, 0 clears")
	editCmd.Flags().StringP("notes", "n", "", "Replace the notes (- reads stdin, @file reads a file)")

	archiveAllCmd.Flags().BoolP("yes", "y", false, "Do not ask for confirmation")
}
