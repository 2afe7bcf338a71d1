package cmd

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/charmbracelet/huh"
	"github.com/marcus/roofsync/internal/conflict"
	"github.com/marcus/roofsync/internal/models"
	"github.com/marcus/roofsync/internal/output"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"golang.org/x/term"
)

var conflictsCmd = &cobra.Command{
	Use:     "conflicts",
	Aliases: []string{"conflict"},
	Short:   "Review and resolve reports that diverged from the server",
	GroupID: "sync",
}

var conflictsListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List reports waiting for conflict resolution",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.ListConflicts()
		if err != nil {
			return failErr("list conflicts", err)
		}
		if jsonOutput {
			return output.JSON(records)
		}
		if len(records) == 0 {
			fmt.Println("No conflicts.")
			return nil
		}
		for _, rec := range records {
			name := ""
			if r, err := store.GetReport(rec.ReportID); err == nil {
				name = r.ClientName
			}
			fmt.Printf("%s  %s  detected %s\n", output.ShortID(rec.ReportID), name, output.FormatTimeAgo(rec.DetectedAt))
		}
		return nil
	},
}

// conflictSnapshots decodes the stored local and server versions of a report
func conflictSnapshots(rec *models.ConflictRecord) (local, server *models.ReportAggregate, err error) {
	local, server = &models.ReportAggregate{}, &models.ReportAggregate{}
	if err := json.Unmarshal([]byte(rec.LocalData), local); err != nil {
		return nil, nil, fmt.Errorf("decode local snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(rec.RemoteData), server); err != nil {
		return nil, nil, fmt.Errorf("decode server snapshot: %w", err)
	}
	return local, server, nil
}

var conflictsShowCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Show the fields that differ between the local and server versions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveReportID(store, args[0])
		if err != nil {
			return err
		}
		rec, err := store.GetConflict(id)
		if err != nil {
			return failErr("load conflict", err)
		}
		_, server, err := conflictSnapshots(rec)
		if err != nil {
			return failErr("load conflict", err)
		}
		// compare with the current local copy, which may have moved on since detection
		local, err := store.GetReportAggregate(id)
		if err != nil {
			return failErr("load report", err)
		}
		infos, err := conflict.DetectAggregate(local, server)
		if err != nil {
			return failErr("compare versions", err)
		}

		if jsonOutput {
			return output.JSON(map[string]any{
				"report_id":         id,
				"server_updated_at": rec.ServerUpdatedAt,
				"detected_at":       rec.DetectedAt,
				"fields":            infos,
			})
		}
		fmt.Printf("Report %s: %d differing field(s), server version %s\n",
			output.ShortID(id), len(infos), rec.ServerUpdatedAt.Format("2006-01-02 15:04:05"))
		for _, info := range infos {
			fmt.Println("  " + output.FormatConflictInfo(info))
		}
		return nil
	},
}

var resolveStrategy conflict.Strategy

var conflictsResolveCmd = &cobra.Command{
	Use:   "resolve <report-id>",
	Short: "Resolve a conflicted report",
	Long: `Reconciles the local report with the server version.

  keep-local   keep this device's version and upload it over the server copy
  keep-server  replace the local report with the server version
  merge        take the most recently edited value of each field
  auto         newest record wins, whole record at a time

The server version is fetched fresh unless --offline is given, in which case
the snapshot stored when the conflict was detected is used.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveReportID(store, args[0])
		if err != nil {
			return err
		}

		strategy := resolveStrategy
		if strategy == "" {
			if jsonOutput || !term.IsTerminal(int(os.Stdin.Fd())) {
				return fail(output.ErrCodeInvalidInput, "--strategy is required (keep-local, keep-server, merge, auto)")
			}
			if strategy, err = promptStrategy(id); err != nil {
				return fail(output.ErrCodeInvalidInput, "choose strategy: %v", err)
			}
		}

		var outcome *conflict.Outcome
		offline, _ := cmd.Flags().GetBool("offline")
		if offline {
			rec, err := store.GetConflict(id)
			if err != nil {
				return failErr("load conflict", err)
			}
			_, server, err := conflictSnapshots(rec)
			if err != nil {
				return failErr("load conflict", err)
			}
			local, err := store.GetReportAggregate(id)
			if err != nil {
				return failErr("load report", err)
			}
			outcome, err = conflict.NewResolver(store, nil).ResolveWith(local, server, strategy)
			if err != nil {
				return failErr("resolve", err)
			}
		} else {
			engine, err := newEngine(store)
			if err != nil {
				return err
			}
			outcome, err = engine.Resolver().Resolve(cmd.Context(), id, strategy)
			if err != nil {
				return failErr("resolve", err)
			}
		}

		if jsonOutput {
			return output.JSON(outcome)
		}
		output.Success("Resolved %s with %s (%d field(s) differed).", output.ShortID(id), outcome.Strategy, len(outcome.Conflicts))
		if outcome.Reupload {
			fmt.Println("The result is queued for upload on the next sync.")
		}
		return nil
	},
}

func promptStrategy(reportID string) (conflict.Strategy, error) {
	var choice string
	form := huh.NewForm(huh.NewGroup(
		huh.NewSelect[string]().
			Title(fmt.Sprintf("Resolve report %s", output.ShortID(reportID))).
			Options(
				huh.NewOption("Keep my version", string(conflict.KeepLocal)),
				huh.NewOption("Take the server version", string(conflict.KeepServer)),
				huh.NewOption("Merge field by field (newest edit wins)", string(conflict.Merge)),
				huh.NewOption("Newest record wins", string(conflict.Auto)),
			).
			Value(&choice),
	))
	if err := form.Run(); err != nil {
		return "", err
	}
	return conflict.ParseStrategy(choice)
}

func init() {
	rootCmd.AddCommand(conflictsCmd)
	conflictsCmd.AddCommand(conflictsListCmd, conflictsShowCmd, conflictsResolveCmd)

	var strategyFlag pflag.Value = &resolveStrategy
	conflictsResolveCmd.Flags().VarP(strategyFlag, "strategy", "s", "keep-local, keep-server, merge or auto")
	conflictsResolveCmd.Flags().Bool("offline", false, "resolve against the stored server snapshot without connecting")
}
