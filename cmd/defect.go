package cmd

import (
	"fmt"

	"github.com/marcus/roofsync/internal/db"
	"github.com/marcus/roofsync/internal/models"
	"github.com/marcus/roofsync/internal/output"
	"github.com/spf13/cobra"
)

var defectCmd = &cobra.Command{
	Use:     "defect",
	Aliases: []string{"d"},
	Short:   "Record numbered defects of a report",
	GroupID: "core",
}

func parseSeverity(s string) (models.Severity, error) {
	sev := models.Severity(s)
	if !models.IsValidSeverity(sev) {
		return "", fmt.Errorf("invalid severity %q (low, medium, high, critical)", s)
	}
	return sev, nil
}

var defectAddCmd = &cobra.Command{
	Use:   "add <report-id> <title>",
	Short: "Add a defect; it is numbered after the last live defect",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		reportID, err := resolveReportID(store, args[0])
		if err != nil {
			return err
		}
		d := &models.Defect{ReportID: reportID, Title: args[1]}
		d.Description, _ = cmd.Flags().GetString("description")
		d.Location, _ = cmd.Flags().GetString("location")
		d.Recommendation, _ = cmd.Flags().GetString("recommendation")
		sevStr, _ := cmd.Flags().GetString("severity")
		if d.Severity, err = parseSeverity(sevStr); err != nil {
			return fail(output.ErrCodeInvalidInput, "%v", err)
		}
		if el, _ := cmd.Flags().GetString("element"); el != "" {
			if d.ElementID, err = resolveID(store, models.EntityElement, el); err != nil {
				return err
			}
		}

		if err := store.CreateDefect(d); err != nil {
			return failErr("add defect", err)
		}
		if jsonOutput {
			return output.JSON(d)
		}
		fmt.Printf("ADDED defect #%d %s\n", d.DefectNumber, d.ID)
		return nil
	},
}

var defectListCmd = &cobra.Command{
	Use:     "list <report-id>",
	Aliases: []string{"ls"},
	Short:   "List the live defects of a report in number order",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		reportID, err := resolveReportID(store, args[0])
		if err != nil {
			return err
		}
		defects, err := store.ListDefects(reportID)
		if err != nil {
			return failErr("list defects", err)
		}
		if sevStr, _ := cmd.Flags().GetString("severity"); sevStr != "" {
			sev, err := parseSeverity(sevStr)
			if err != nil {
				return fail(output.ErrCodeInvalidInput, "%v", err)
			}
			filtered := defects[:0]
			for _, d := range defects {
				if d.Severity == sev {
					filtered = append(filtered, d)
				}
			}
			defects = filtered
		}

		if jsonOutput {
			return output.JSON(defects)
		}
		if len(defects) == 0 {
			fmt.Println("No defects.")
			return nil
		}
		for i := range defects {
			fmt.Printf("%s  %s\n", output.ShortID(defects[i].ID), output.FormatDefectShort(&defects[i]))
		}
		return nil
	},
}

var defectUpdateCmd = &cobra.Command{
	Use:   "update <defect-id>",
	Short: "Change defect fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveID(store, models.EntityDefect, args[0])
		if err != nil {
			return err
		}
		var p db.DefectPatch
		p.Title = stringFlag(cmd, "title")
		p.Description = stringFlag(cmd, "description")
		p.Location = stringFlag(cmd, "location")
		p.Recommendation = stringFlag(cmd, "recommendation")
		if s := stringFlag(cmd, "severity"); s != nil {
			sev, err := parseSeverity(*s)
			if err != nil {
				return fail(output.ErrCodeInvalidInput, "%v", err)
			}
			p.Severity = &sev
		}
		if s := stringFlag(cmd, "element"); s != nil {
			elementID := ""
			if *s != "" {
				if elementID, err = resolveID(store, models.EntityElement, *s); err != nil {
					return err
				}
			}
			p.ElementID = &elementID
		}

		d, err := store.UpdateDefect(id, p)
		if err != nil {
			return failErr("update defect", err)
		}
		if jsonOutput {
			return output.JSON(d)
		}
		fmt.Printf("UPDATED defect #%d %s\n", d.DefectNumber, d.ID)
		return nil
	},
}

var defectDeleteCmd = &cobra.Command{
	Use:     "delete <defect-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a defect; remaining numbers are kept until renumber",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveID(store, models.EntityDefect, args[0])
		if err != nil {
			return err
		}
		if err := store.DeleteDefect(id); err != nil {
			return failErr("delete defect", err)
		}
		if jsonOutput {
			return output.JSON(map[string]string{"deleted": id})
		}
		fmt.Printf("DELETED defect %s\n", id)
		return nil
	},
}

var defectRenumberCmd = &cobra.Command{
	Use:   "renumber <report-id>",
	Short: "Compact defect numbers of a report to 1..n",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		reportID, err := resolveReportID(store, args[0])
		if err != nil {
			return err
		}
		moved, err := store.RenumberDefects(reportID)
		if err != nil {
			return failErr("renumber defects", err)
		}
		if jsonOutput {
			return output.JSON(map[string]int{"renumbered": moved})
		}
		fmt.Printf("Renumbered %d defect(s).\n", moved)
		return nil
	},
}

var defectSummaryCmd = &cobra.Command{
	Use:   "summary <report-id>",
	Short: "Count live defects per severity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		reportID, err := resolveReportID(store, args[0])
		if err != nil {
			return err
		}
		counts, err := store.DefectCountsBySeverity(reportID)
		if err != nil {
			return failErr("count defects", err)
		}
		if jsonOutput {
			return output.JSON(counts)
		}
		total := 0
		for _, sev := range models.ValidSeverities() {
			fmt.Printf("%-10s %d\n", sev, counts[sev])
			total += counts[sev]
		}
		fmt.Printf("%-10s %d\n", "total", total)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(defectCmd)
	defectCmd.AddCommand(defectAddCmd, defectListCmd, defectUpdateCmd, defectDeleteCmd,
		defectRenumberCmd, defectSummaryCmd)

	defectAddCmd.Flags().StringP("severity", "s", string(models.SeverityMedium), "severity (low, medium, high, critical)")
	for _, c := range []*cobra.Command{defectAddCmd, defectUpdateCmd} {
		c.Flags().String("description", "", "description")
		c.Flags().String("location", "", "where on the roof")
		c.Flags().String("recommendation", "", "recommended remedy")
		c.Flags().String("element", "", "element the defect belongs to")
	}
	defectUpdateCmd.Flags().String("title", "", "title")
	defectUpdateCmd.Flags().StringP("severity", "s", "", "severity (low, medium, high, critical)")
	defectListCmd.Flags().StringP("severity", "s", "", "only defects of this severity")
}
