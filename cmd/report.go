package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marcus/roofsync/internal/dateparse"
	"github.com/marcus/roofsync/internal/db"
	"github.com/marcus/roofsync/internal/models"
	"github.com/marcus/roofsync/internal/output"
	"github.com/spf13/cobra"
)

var reportCmd = &cobra.Command{
	Use:     "report",
	Aliases: []string{"r"},
	Short:   "Create and manage inspection reports",
	GroupID: "core",
}

var reportCreateCmd = &cobra.Command{
	Use:   "create <client> <site-address>",
	Short: "Create a new inspection report",
	Args:  cobra.ExactArgs(2),
	Example: `  roofsync report create "Harbour Body Corp" "12 Quay St, Auckland" --roof-type "long-run iron"
  roofsync report create "J Smith" "4 Elm Rd" --date yesterday --inspector "K Ward"`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		r := &models.Report{ClientName: args[0], SiteAddress: args[1]}
		r.InspectorName, _ = cmd.Flags().GetString("inspector")
		r.RoofType, _ = cmd.Flags().GetString("roof-type")
		r.Weather, _ = cmd.Flags().GetString("weather")
		r.Notes, _ = cmd.Flags().GetString("notes")
		if r.InspectorName == "" {
			r.InspectorName, _ = store.GetMeta(db.MetaUserName)
		}
		dateStr, _ := cmd.Flags().GetString("date")
		if r.InspectionDate, err = dateparse.Parse(dateStr); err != nil {
			return fail(output.ErrCodeInvalidInput, "invalid --date: %v", err)
		}

		if err := store.CreateReport(r); err != nil {
			return failErr("create report", err)
		}
		if jsonOutput {
			return output.JSON(r)
		}
		fmt.Printf("CREATED %s\n", r.ID)
		return nil
	},
}

var reportListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List reports",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		all, _ := cmd.Flags().GetBool("all")
		statusFilter, _ := cmd.Flags().GetString("sync-status")

		var reports []models.Report
		if statusFilter != "" {
			status := models.SyncStatus(statusFilter)
			if !models.IsValidSyncStatus(status) {
				return fail(output.ErrCodeInvalidInput, "invalid --sync-status %q", statusFilter)
			}
			reports, err = store.ListReportsByStatus(status)
		} else {
			reports, err = store.ListReports(all)
		}
		if err != nil {
			return failErr("list reports", err)
		}

		if jsonOutput {
			return output.JSON(reports)
		}
		if len(reports) == 0 {
			fmt.Println("No reports.")
			return nil
		}
		for i := range reports {
			fmt.Println(output.FormatReportShort(&reports[i]))
		}
		return nil
	},
}

var reportShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a report with its elements, defects, compliance and photos",
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
		agg, err := store.GetReportAggregate(id)
		if err != nil {
			return failErr("load report", err)
		}
		if jsonOutput {
			return output.JSON(agg)
		}

		fmt.Print(output.FormatReportLong(agg))
		if notes := strings.TrimSpace(agg.Report.Notes); notes != "" {
			fmt.Print(output.SectionHeader("Notes"))
			rendered, err := output.RenderNotes(notes)
			if err != nil {
				rendered = output.IndentString(notes, 2)
			}
			fmt.Println(rendered)
		}
		return nil
	},
}

var reportUpdateCmd = &cobra.Command{
	Use:   "update <id>",
	Short: "Change report fields",
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

		var p db.ReportPatch
		p.ClientName = stringFlag(cmd, "client")
		p.SiteAddress = stringFlag(cmd, "site")
		p.InspectorName = stringFlag(cmd, "inspector")
		p.RoofType = stringFlag(cmd, "roof-type")
		p.Weather = stringFlag(cmd, "weather")
		p.Notes = stringFlag(cmd, "notes")
		if s := stringFlag(cmd, "date"); s != nil {
			d, err := dateparse.Parse(*s)
			if err != nil {
				return fail(output.ErrCodeInvalidInput, "invalid --date: %v", err)
			}
			p.InspectionDate = &d
		}
		if s := stringFlag(cmd, "status"); s != nil {
			status := models.ReportStatus(*s)
			if !models.IsValidReportStatus(status) {
				return fail(output.ErrCodeInvalidInput, "invalid --status %q (draft, in_progress, submitted, finalised)", *s)
			}
			p.Status = &status
		}

		r, err := store.UpdateReport(id, p)
		if err != nil {
			return failErr("update report", err)
		}
		if jsonOutput {
			return output.JSON(r)
		}
		fmt.Printf("UPDATED %s\n", r.ID)
		return nil
	},
}

var reportDeleteCmd = &cobra.Command{
	Use:     "delete <id>",
	Aliases: []string{"rm"},
	Short:   "Delete a report and everything attached to it",
	Long: `Marks the report and all of its children as deleted. The deletion syncs to
the server like any other change; run 'report purge' afterwards to reclaim space.`,
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
		if err := store.DeleteReport(id); err != nil {
			return failErr("delete report", err)
		}
		if jsonOutput {
			return output.JSON(map[string]string{"deleted": id})
		}
		fmt.Printf("DELETED %s\n", id)
		return nil
	},
}

var reportPurgeCmd = &cobra.Command{
	Use:   "purge [id]",
	Short: "Physically remove deleted reports the server has acknowledged",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var ids []string
		if len(args) == 1 {
			id, err := resolveReportID(store, args[0])
			if err != nil {
				return err
			}
			ids = []string{id}
		} else {
			reports, err := store.ListReports(true)
			if err != nil {
				return failErr("list reports", err)
			}
			for _, r := range reports {
				if r.Deleted && r.SyncStatus == models.SyncSynced {
					ids = append(ids, r.ID)
				}
			}
		}

		var purged []string
		for _, id := range ids {
			if err := store.PurgeReport(id); err != nil {
				return failErr("purge "+output.ShortID(id), err)
			}
			purged = append(purged, id)
		}
		if jsonOutput {
			return output.JSON(map[string]any{"purged": purged})
		}
		fmt.Printf("Purged %d report(s).\n", len(purged))
		return nil
	},
}

var reportSummaryCmd = &cobra.Command{
	Use:   "summary <id>",
	Short: "Summarise defects, elements, photos and compliance of a report",
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
		s, err := store.ReportSummary(id)
		if err != nil {
			return failErr("summarise report", err)
		}
		if jsonOutput {
			return output.JSON(s)
		}

		fmt.Println(output.FormatReportShort(&s.Report))
		fmt.Print(output.SectionHeader("Defects"))
		for _, sev := range models.ValidSeverities() {
			fmt.Printf("  %-10s %d\n", output.FormatSeverity(sev), s.Defects[sev])
		}
		fmt.Print(output.SectionHeader("Elements"))
		for _, c := range models.ValidConditions() {
			fmt.Printf("  %-10s %d\n", c, s.Elements[c])
		}
		fmt.Print(output.SectionHeader("Photos"))
		fmt.Printf("  %d total, %d uploaded, %d pending, %d failed, %d edited (%s)\n",
			s.Photos.Total, s.Photos.Uploaded, s.Photos.Pending, s.Photos.Failed, s.Photos.Edited,
			output.FormatBytes(s.Photos.TotalBytes))
		if len(s.Compliance) > 0 {
			fmt.Print(output.SectionHeader("Compliance"))
			for _, res := range []models.ComplianceResult{models.ResultPass, models.ResultFail, models.ResultNA, models.ResultUnanswered} {
				fmt.Printf("  %-10s %d\n", res, s.Compliance[res])
			}
		}
		return nil
	},
}

// resolveReportID accepts a full report id or an unambiguous prefix
func resolveReportID(store *db.DB, ref string) (string, error) {
	return resolveID(store, models.EntityReport, ref)
}

func resolveID(store *db.DB, et models.EntityType, ref string) (string, error) {
	id, err := store.ResolveID(et, ref)
	if err != nil {
		if errors.Is(err, db.ErrAmbiguousID) {
			return "", fail(output.ErrCodeInvalidInput, "%v", err)
		}
		return "", failErr("find "+string(et), err)
	}
	return id, nil
}

// stringFlag returns the flag value only when the user set it
func stringFlag(cmd *cobra.Command, name string) *string {
	if !cmd.Flags().Changed(name) {
		return nil
	}
	v, _ := cmd.Flags().GetString(name)
	return &v
}

func init() {
	rootCmd.AddCommand(reportCmd)
	reportCmd.AddCommand(reportCreateCmd, reportListCmd, reportShowCmd, reportUpdateCmd,
		reportDeleteCmd, reportPurgeCmd, reportSummaryCmd)

	reportCreateCmd.Flags().String("inspector", "", "inspector name (defaults to the logged in user)")
	reportCreateCmd.Flags().String("date", "today", "inspection date (2026-03-01, today, yesterday, -3d, monday)")
	reportCreateCmd.Flags().String("roof-type", "", "roof type")
	reportCreateCmd.Flags().String("weather", "", "weather during the inspection")
	reportCreateCmd.Flags().String("notes", "", "free-form notes (markdown)")

	reportListCmd.Flags().BoolP("all", "a", false, "include deleted reports")
	reportListCmd.Flags().String("sync-status", "", "only reports with this sync status (pending, synced, conflict, error)")

	reportUpdateCmd.Flags().String("client", "", "client name")
	reportUpdateCmd.Flags().String("site", "", "site address")
	reportUpdateCmd.Flags().String("inspector", "", "inspector name")
	reportUpdateCmd.Flags().String("date", "", "inspection date")
	reportUpdateCmd.Flags().String("roof-type", "", "roof type")
	reportUpdateCmd.Flags().String("weather", "", "weather")
	reportUpdateCmd.Flags().String("notes", "", "notes (markdown)")
	reportUpdateCmd.Flags().String("status", "", "workflow status (draft, in_progress, submitted, finalised)")
}
