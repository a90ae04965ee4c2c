package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/marcus/ct/internal/models"
	"github.com/marcus/ct/internal/output"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List contractions, newest first",
	GroupID: "core",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		archived, _ := cmd.Flags().GetBool("archived")
		limit, _ := cmd.Flags().GetInt("limit")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			events, err := a.svc.List(ctx, archived)
			if err != nil {
				return err
			}
			if limit > 0 && len(events) > limit {
				events = events[:limit]
			}
			if jsonOutput {
				if events == nil {
					events = []models.Event{}
				}
				return output.JSON(events)
			}

			if len(events) == 0 {
				if archived {
					fmt.Println("No archived contractions")
				} else {
					fmt.Println("No contractions yet. Run 'ct start' when one begins.")
				}
				return nil
			}
			width := output.TerminalWidth(100)
			for i, e := range events {
				fmt.Println(output.FormatEventShort(e, restBefore(events, i), max(width-70, 10)))
			}
			return nil
		})
	},
}

// restBefore is the rest between events[i] and the next older completed
// event, in seconds.
func restBefore(events []models.Event, i int) int64 {
	for j := i + 1; j < len(events); j++ {
		if events[j].EndTime != nil {
			return models.Interval(events[j], events[i])
		}
	}
	return 0
}

var showCmd = &cobra.Command{
	Use:     "show <id>",
	Short:   "Show one contraction in full",
	GroupID: "core",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		jsonOutput, _ := cmd.Flags().GetBool("json")
		return withApp(cmd, func(ctx context.Context, a *app) error {
			id, err := a.resolveID(ctx, args[0])
			if err != nil {
				return err
			}
			e, err := a.svc.Get(ctx, id)
			if err != nil {
				return err
			}
			if jsonOutput {
				return output.JSON(e)
			}
			fmt.Println(output.FormatEventLong(*e))
			return nil
		})
	},
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Average duration and spacing of recent contractions",
	Long: `Summarize completed, active contractions: count, average duration,
average rest between them, and whether the last three match the active
labor pattern (45-90s long, 3-5 minutes apart).`,
	GroupID: "core",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		hours, _ := cmd.Flags().GetInt("hours")
		markdown, _ := cmd.Flags().GetBool("markdown")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			st, err := a.svc.Stats(ctx, hours)
			if err != nil {
				return err
			}
			labor, err := a.svc.LaborPattern(ctx)
			if err != nil {
				return err
			}

			switch {
			case jsonOutput:
				return output.JSON(struct {
					models.Stats
					ActiveLabor bool `json:"activeLabor"`
				}{st, labor})
			case markdown:
				rendered, err := output.RenderMarkdown(output.StatsMarkdown(st, labor, time.Now()))
				if err != nil {
					return err
				}
				fmt.Println(rendered)
				return nil
			}

			if st.Total == 0 {
				fmt.Println("No completed contractions")
				return nil
			}
			fmt.Printf("Total:            %d\n", st.Total)
			fmt.Printf("Average duration: %s\n", output.FormatSeconds(st.AverageDuration))
			if st.AverageInterval > 0 {
				fmt.Printf("Average rest:     %s\n", output.FormatSeconds(st.AverageInterval))
			}
			if st.Last != nil {
				fmt.Printf("Last:             %s\n", output.FormatTimeAgo(st.Last.StartTime.Time()))
			}
			if labor {
				output.Warning("Pattern matches active labor (45-90s, 3-5 min apart)")
			}
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(statsCmd)

	listCmd.Flags().BoolP("archived", "a", false, "List archived contractions instead")
	listCmd.Flags().IntP("limit", "l", 0, "Show at most this many (0 for all)")
	listCmd.Flags().Bool("json", false, "Output as JSON")

	showCmd.Flags().Bool("json", false, "Output as JSON")

	statsCmd.Flags().Int("hours", 0, "Only count contractions from the last N hours (0 for all)")
	statsCmd.Flags().BoolP("markdown", "m", false, "Render a markdown report")
	statsCmd.Flags().Bool("json", false, "Output as JSON")
}
