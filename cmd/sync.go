package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/marcus/roofsync/internal/db"
	"github.com/marcus/roofsync/internal/models"
	"github.com/marcus/roofsync/internal/output"
	syncengine "github.com/marcus/roofsync/internal/sync"
	"github.com/marcus/roofsync/internal/syncconfig"
	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var syncCmd = &cobra.Command{
	Use:     "sync",
	Short:   "Upload local changes and refresh from the server",
	GroupID: "sync",
	Long: `Runs one sync cycle: deduplicates the queue, uploads every report with local
changes, handles conflicts per the configured policy, transfers photo binaries
and pulls changes from the server.

With --watch the cycle repeats on the auto-sync interval until interrupted;
cycles are skipped while the server is unreachable. When sync.auto.enabled is
set, watching is the default and --watch=false runs a single cycle.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		bootstrapOnly, _ := cmd.Flags().GetBool("bootstrap")
		watch := watchMode(cmd, bootstrapOnly)

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		engine, err := newEngine(store)
		if err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		interactive := !jsonOutput && term.IsTerminal(int(os.Stderr.Fd()))
		liveView := interactive && !watch && !bootstrapOnly
		if !jsonOutput && !liveView {
			unsubscribe := engine.Subscribe(progressPrinter(interactive))
			defer unsubscribe()
		}

		if watch {
			interval, _ := cmd.Flags().GetDuration("interval")
			if interval <= 0 {
				interval = syncconfig.GetAutoSyncInterval()
			}
			if !jsonOutput {
				output.Info("auto-sync every %s (Ctrl-C to stop)", interval)
			}
			err := engine.RunAuto(ctx, interval)
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		if bootstrapOnly {
			n, err := engine.Bootstrap(ctx)
			if err != nil {
				return failErr("bootstrap", err)
			}
			if jsonOutput {
				return output.JSON(map[string]int{"reports": n})
			}
			output.Success("Bootstrap complete: %d report(s) refreshed.", n)
			return nil
		}

		var summary *syncengine.Summary
		if liveView {
			summary, err = runSyncWithView(ctx, engine)
		} else {
			summary, err = engine.FullSync(ctx)
		}
		if err != nil {
			return failErr("sync", err)
		}
		if jsonOutput {
			return output.JSON(summary)
		}
		printSummary(summary)
		return nil
	},
}

// watchMode reports whether sync keeps running: an explicit --watch wins,
// otherwise the sync.auto.enabled setting applies to plain sync runs
func watchMode(cmd *cobra.Command, bootstrapOnly bool) bool {
	if cmd.Flags().Changed("watch") {
		watch, _ := cmd.Flags().GetBool("watch")
		return watch
	}
	return !bootstrapOnly && syncconfig.GetAutoSyncEnabled()
}

// progressPrinter renders engine events on stderr
func progressPrinter(interactive bool) syncengine.Listener {
	return func(ev syncengine.Event) {
		switch ev.Type {
		case syncengine.EventProgress:
			if interactive {
				fmt.Fprintf(os.Stderr, "\r%-12s %d/%d", ev.Step, ev.Done, ev.Total)
				if ev.Done == ev.Total {
					fmt.Fprintln(os.Stderr)
				}
			}
		case syncengine.EventConflict:
			output.Warning("conflict on report %s (%d field(s)); run: roofsync conflicts show %s",
				output.ShortID(ev.ReportID), len(ev.Conflicts), output.ShortID(ev.ReportID))
		case syncengine.EventError:
			if !errors.Is(ev.Err, context.Canceled) {
				output.Warning("sync: %v", ev.Err)
			}
		}
	}
}

func printSummary(s *syncengine.Summary) {
	took := s.FinishedAt.Sub(s.StartedAt).Round(time.Millisecond)
	output.Success("Sync complete in %s.", took)
	fmt.Printf("  Uploaded:     %d report(s)\n", s.Uploaded)
	fmt.Printf("  Photos:       %d uploaded, %d failed\n", s.PhotosUploaded, s.PhotosFailed)
	fmt.Printf("  Refreshed:    %d report(s)\n", s.Bootstrapped)
	if s.Deduplicated > 0 {
		fmt.Printf("  Deduplicated: %d queue item(s)\n", s.Deduplicated)
	}
	if s.Resolved > 0 {
		fmt.Printf("  Resolved:     %d conflict(s)\n", s.Resolved)
	}
	if s.Conflicts > 0 {
		output.Warning("%d report(s) in conflict (run: roofsync conflicts list)", s.Conflicts)
	}
	for _, r := range s.Rejected {
		output.Error("%v", r)
	}
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show pending, conflicted and failed counts and the last sync time",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		counts, err := store.SyncCounts()
		if err != nil {
			return failErr("count sync status", err)
		}
		last, err := store.GetMetaTime(db.MetaLastSyncAt)
		if err != nil {
			return failErr("read last sync", err)
		}

		reachable := false
		probe, _ := cmd.Flags().GetBool("probe")
		if probe {
			engine, err := newEngine(store)
			if err != nil {
				return err
			}
			reachable = engine.Reachable(cmd.Context())
		}

		if jsonOutput {
			out := map[string]any{
				"counts":       counts,
				"last_sync_at": last,
				"server_url":   syncconfig.GetServerURL(),
			}
			if probe {
				out["reachable"] = reachable
			}
			return output.JSON(out)
		}

		fmt.Printf("Server:    %s\n", syncconfig.GetServerURL())
		if probe {
			if reachable {
				fmt.Println("Reachable: yes")
			} else {
				fmt.Println("Reachable: no")
			}
		}
		fmt.Printf("Last sync: %s\n", output.FormatTimeAgo(last))
		fmt.Println("Records:")
		for _, row := range []struct {
			status models.SyncStatus
			n      int
		}{
			{models.SyncSynced, counts.Synced},
			{models.SyncPending, counts.Pending},
			{models.SyncConflict, counts.Conflict},
			{models.SyncError, counts.Error},
		} {
			fmt.Printf("  %5d  %s\n", row.n, output.StatusBadge(row.status))
		}
		fmt.Printf("Queue:     %d queued, %d failed\n", counts.Queued, counts.QueueFailed)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.AddCommand(syncStatusCmd)

	syncCmd.Flags().Bool("bootstrap", false, "only pull reference data and reports from the server")
	syncCmd.Flags().BoolP("watch", "w", false, "keep syncing on an interval until interrupted")
	syncCmd.Flags().Duration("interval", 0, "auto-sync interval for --watch (default from config)")
	syncStatusCmd.Flags().Bool("probe", false, "also check whether the server is reachable")
}
