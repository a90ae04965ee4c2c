package cmd

import (
	"context"
	"fmt"

	"github.com/marcus/ct/internal/models"
	"github.com/marcus/ct/internal/output"
	"github.com/marcus/ct/internal/remote"
	"github.com/marcus/ct/internal/syncer"
	"github.com/spf13/cobra"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Push queued changes and pull the remote collection",
	Long: `Drain the outbound queue, then merge the backend's full collection
into the local log (newest update wins). With --status, only report the
current sync state.`,
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		statusOnly, _ := cmd.Flags().GetBool("status")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			var st syncer.State
			if statusOnly || a.adapter.Kind() == remote.KindPassive {
				st = a.orch.Refresh(ctx)
			} else {
				var err error
				st, err = a.orch.SyncNow(ctx)
				if err != nil {
					return err
				}
			}

			if jsonOutput {
				return output.JSON(st)
			}
			printSyncState(st)
			if !statusOnly && st.Status == syncer.StatusIdle && st.Backend != remote.KindPassive {
				output.Success("Synced")
			}
			return nil
		})
	},
}

func printSyncState(st syncer.State) {
	fmt.Printf("Backend:  %s\n", st.Backend)
	fmt.Printf("Status:   %s\n", st.Status)
	if st.LastSyncTime > 0 {
		fmt.Printf("Last:     %s\n", output.FormatTimeAgo(st.LastSyncTime.Time()))
	} else if st.Backend != remote.KindPassive {
		fmt.Println("Last:     never")
	}
	fmt.Printf("Pending:  %d\n", st.PendingOperations)
	if st.FailedOperations > 0 {
		output.Warning("%d operations failed permanently; run 'ct queue --retry-failed'", st.FailedOperations)
	}
	if st.LastError != "" {
		fmt.Printf("Error:    %s\n", st.LastError)
	}
	if st.Backend == remote.KindPassive {
		fmt.Println("\nData is stored on this device only. Configure one with 'ct backend set'.")
	}
}

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Show operations waiting to be pushed",
	Long: `List outbound operations that have not reached the backend yet.
Operations that failed five times are parked; --retry-failed gives them a
fresh retry budget and syncs.`,
	GroupID: "sync",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		retry, _ := cmd.Flags().GetBool("retry-failed")
		jsonOutput, _ := cmd.Flags().GetBool("json")

		return withApp(cmd, func(ctx context.Context, a *app) error {
			if retry {
				n, err := a.queue.RetryFailed(ctx)
				if err != nil {
					return err
				}
				output.Success("Requeued %d failed operations", n)
				if n > 0 && a.adapter.Kind() != remote.KindPassive {
					if _, err := a.orch.SyncNow(ctx); err != nil {
						output.Warning("sync failed: %v", err)
					}
				}
			}

			pending, err := a.queue.Pending(ctx)
			if err != nil {
				return err
			}
			failed, err := a.queue.Failed(ctx)
			if err != nil {
				return err
			}

			if jsonOutput {
				return output.JSON(map[string][]models.SyncOperation{
					"pending": nonNil(pending),
					"failed":  nonNil(failed),
				})
			}
			if len(pending) == 0 && len(failed) == 0 {
				fmt.Println("Queue is empty")
				return nil
			}
			if len(pending) > 0 {
				fmt.Print(output.SectionHeader("pending"))
				for _, op := range pending {
					fmt.Println(formatOp(op))
				}
			}
			if len(failed) > 0 {
				fmt.Print(output.SectionHeader("failed"))
				for _, op := range failed {
					fmt.Println(formatOp(op))
				}
			}
			return nil
		})
	},
}

func formatOp(op models.SyncOperation) string {
	line := fmt.Sprintf("  %-8s %s  queued %s  tries %d", op.Type, output.ShortID(op.EventID),
		output.FormatTimeAgo(op.Timestamp.Time()), op.RetryCount)
	if op.Status == models.OpPending && op.NextAttemptAt > models.Now() {
		line += fmt.Sprintf("  next in %s", output.FormatSeconds(int64(op.NextAttemptAt-models.Now())/1000))
	}
	if op.LastError != "" {
		line += "  " + output.Plain(op.LastError)
	}
	return line
}

func nonNil(ops []models.SyncOperation) []models.SyncOperation {
	if ops == nil {
		return []models.SyncOperation{}
	}
	return ops
}

func init() {
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(queueCmd)

	syncCmd.Flags().Bool("status", false, "Only show the sync state")
	syncCmd.Flags().Bool("json", false, "Output as JSON")

	queueCmd.Flags().Bool("retry-failed", false, "Requeue operations that exhausted their retries")
	queueCmd.Flags().Bool("json", false, "Output as JSON")
}
