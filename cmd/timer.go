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

var (
	stopIntensity intensityValue
	addIntensity  intensityValue
)

var startCmd = &cobra.Command{
	Use:     "start",
	Aliases: []string{"begin"},
	Short:   "Start timing a contraction",
	GroupID: "core",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			e, err := a.svc.Start(ctx)
			if err != nil {
				return err
			}
			output.Success("STARTED %s at %s", output.ShortID(e.ID), output.FormatClock(e.StartTime))
			if prev := previousEnded(ctx, a, e.ID); prev != nil {
				fmt.Printf("  %s of rest since the last one\n", output.FormatSeconds(models.Interval(*prev, *e)))
			}
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:     "stop",
	Aliases: []string{"end"},
	Short:   "Stop the running contraction",
	Long: `Stop the running contraction and record its duration.

On a terminal, ct asks for an intensity and notes unless --intensity or
--no-prompt is given.`,
	GroupID: "core",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		noPrompt, _ := cmd.Flags().GetBool("no-prompt")
		if v, _ := cmd.Flags().GetString("notes"); v == "-" {
			noPrompt = true
		}
		notes, err := notesFlag(cmd)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			intensity := stopIntensity.ptr()
			if intensity != nil && *intensity == 0 {
				intensity = nil
			}

			e, err := a.svc.Stop(ctx, intensity, notes)
			if err != nil {
				return err
			}
			output.Success("STOPPED %s after %s", output.ShortID(e.ID), output.FormatSeconds(*e.Duration))

			if stopIntensity.set || noPrompt || !interactive() {
				return nil
			}
			rating, promptNotes, err := promptRating()
			if err != nil {
				return err
			}
			patch := models.EventPatch{Intensity: rating}
			if promptNotes != "" && notes == "" {
				patch.Notes = &promptNotes
			}
			if patch.IsEmpty() {
				return nil
			}
			if _, err := a.svc.Update(ctx, e.ID, patch); err != nil {
				return err
			}
			if rating != nil {
				fmt.Printf("  intensity %s\n", output.FormatIntensity(rating))
			}
			return nil
		})
	},
}

var addCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a contraction after the fact",
	Long: `Record a completed contraction you did not time live.

Times accept "14:05", "14:05:30", "2026-03-01 14:05", RFC 3339, or offsets
such as "-10m" and "90s ago". Give either --end or --duration.`,
	Example: `  ct add --start 14:05 --duration 62s --intensity 6
  ct add --start -12m --end -11m --notes "back pain"`,
	GroupID: "core",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		startStr, _ := cmd.Flags().GetString("start")
		endStr, _ := cmd.Flags().GetString("end")
		durStr, _ := cmd.Flags().GetString("duration")
		notes, err := notesFlag(cmd)
		if err != nil {
			output.Error("%v", err)
			return err
		}

		start, end, err := parseSpan(startStr, endStr, durStr, time.Now())
		if err != nil {
			output.Error("%v", err)
			return err
		}

		return withApp(cmd, func(ctx context.Context, a *app) error {
			e, err := a.svc.AddManual(ctx, start, end, addIntensity.ptr(), notes)
			if err != nil {
				return err
			}
			output.Success("ADDED %s at %s (%s)", output.ShortID(e.ID), output.FormatClock(e.StartTime), output.FormatSeconds(*e.Duration))
			return nil
		})
	},
}

// parseSpan turns the add flags into start and end instants.
func parseSpan(startStr, endStr, durStr string, now time.Time) (models.Millis, models.Millis, error) {
	if startStr == "" {
		return 0, 0, apperr.Validation("--start is required")
	}
	if (endStr == "") == (durStr == "") {
		return 0, 0, apperr.Validation("give exactly one of --end or --duration")
	}
	start, err := dateparse.ParseTimeFrom(startStr, now)
	if err != nil {
		return 0, 0, apperr.Validation(err.Error())
	}
	var end time.Time
	if durStr != "" {
		d, err := dateparse.ParseDuration(durStr)
		if err != nil {
			return 0, 0, apperr.Validation(err.Error())
		}
		end = start.Add(d)
	} else {
		end, err = dateparse.ParseTimeFrom(endStr, now)
		if err != nil {
			return 0, 0, apperr.Validation(err.Error())
		}
	}
	return models.FromTime(start), models.FromTime(end), nil
}

// previousEnded returns the most recent completed event other than id.
func previousEnded(ctx context.Context, a *app, id string) *models.Event {
	events, err := a.svc.List(ctx, false)
	if err != nil {
		return nil
	}
	for _, e := range events {
		if e.ID != id && e.EndTime != nil {
			return &e
		}
	}
	return nil
}

func init() {
	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(addCmd)

	stopCmd.Flags().VarP(&stopIntensity, "intensity", "i", "Intensity 1-10")
	stopCmd.Flags().StringP("notes", "n", "", "Notes for this contraction (- reads stdin, @file reads a file)")
	stopCmd.Flags().Bool("no-prompt", false, "Never ask for intensity or notes")

	addCmd.Flags().StringP("start", "s", "", "When it started (required)")
	addCmd.Flags().StringP("end", "e", "", "When it ended")
	addCmd.Flags().StringP("duration", "d", "", "How long it lasted, e.g. 62s or 1m2s")
	addCmd.Flags().VarP(&addIntensity, "intensity", "i", "Intensity 1-10")
	addCmd.Flags().StringP("notes", "n", "", "Notes for this contraction (- reads stdin, @file reads a file)")
}
