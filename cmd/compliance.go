package cmd

import (
	"encoding/json"
	"fmt"
	"maps"

	"github.com/marcus/roofsync/internal/models"
	"github.com/marcus/roofsync/internal/output"
	"github.com/spf13/cobra"
)

var complianceCmd = &cobra.Command{
	Use:     "compliance",
	Aliases: []string{"cc"},
	Short:   "Answer the compliance checklist of a report",
	GroupID: "core",
}

// checklistPayload is the shape of a cached checklist reference record
type checklistPayload struct {
	Items []string `json:"items"`
}

func parseResult(s string) (models.ComplianceResult, error) {
	switch r := models.ComplianceResult(s); r {
	case models.ResultPass, models.ResultFail, models.ResultNA, models.ResultUnanswered:
		return r, nil
	}
	return "", fmt.Errorf("invalid result %q (pass, fail, na, unanswered)", s)
}

var complianceSetCmd = &cobra.Command{
	Use:   "set <report-id> <item-id> <result>",
	Short: "Answer one checklist item (pass, fail, na, unanswered)",
	Args:  cobra.ExactArgs(3),
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
		result, err := parseResult(args[2])
		if err != nil {
			return fail(output.ErrCodeInvalidInput, "%v", err)
		}
		note, _ := cmd.Flags().GetString("note")

		c, err := store.SetComplianceItem(reportID, args[1], models.ComplianceItem{Result: result, Note: note})
		if err != nil {
			return failErr("save compliance", err)
		}
		if jsonOutput {
			return output.JSON(c)
		}
		fmt.Printf("SET %s = %s\n", args[1], result)
		return nil
	},
}

var complianceStartCmd = &cobra.Command{
	Use:   "start <report-id> <checklist-id>",
	Short: "Attach a cached checklist, adding its items as unanswered",
	Long: `Links the report's assessment to a checklist downloaded during bootstrap.
Items already answered keep their answers.`,
	Args: cobra.ExactArgs(2),
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
		ref, err := store.GetReference(models.ReferenceChecklist, args[1])
		if err != nil {
			return failErr("load checklist", err)
		}
		var list checklistPayload
		if err := json.Unmarshal(ref.Payload, &list); err != nil {
			return fail(output.ErrCodeInvalidInput, "checklist %s is malformed: %v", ref.ID, err)
		}

		results := map[string]models.ComplianceItem{}
		if existing, err := store.GetCompliance(reportID); err == nil && !existing.Deleted {
			results = maps.Clone(existing.Results)
		}
		for _, item := range list.Items {
			if _, ok := results[item]; !ok {
				results[item] = models.ComplianceItem{Result: models.ResultUnanswered}
			}
		}

		c, err := store.SaveCompliance(reportID, ref.ID, results)
		if err != nil {
			return failErr("save compliance", err)
		}
		if jsonOutput {
			return output.JSON(c)
		}
		fmt.Printf("Checklist %q attached (%d items).\n", ref.Name, len(c.Results))
		return nil
	},
}

var complianceShowCmd = &cobra.Command{
	Use:   "show <report-id>",
	Short: "Show the checklist answers of a report",
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
		c, err := store.GetCompliance(reportID)
		if err != nil {
			return failErr("load compliance", err)
		}
		if jsonOutput {
			return output.JSON(c)
		}
		if c.Deleted || len(c.Results) == 0 {
			fmt.Println("No answers recorded.")
			return nil
		}
		if c.ChecklistID != "" {
			fmt.Printf("Checklist: %s  %s\n", c.ChecklistID, output.FormatSyncStatus(c.SyncStatus))
		}
		for _, line := range output.FormatCompliance(c) {
			fmt.Println(line)
		}
		return nil
	},
}

var complianceChecklistsCmd = &cobra.Command{
	Use:   "checklists",
	Short: "List checklists cached from the server",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		refs, err := store.ListReference(models.ReferenceChecklist)
		if err != nil {
			return failErr("list checklists", err)
		}
		if jsonOutput {
			return output.JSON(refs)
		}
		if len(refs) == 0 {
			fmt.Println("No checklists cached (run: roofsync sync --bootstrap).")
			return nil
		}
		for _, r := range refs {
			var list checklistPayload
			_ = json.Unmarshal(r.Payload, &list)
			fmt.Printf("%-16s %s  (%d items)\n", r.ID, r.Name, len(list.Items))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(complianceCmd)
	complianceCmd.AddCommand(complianceSetCmd, complianceStartCmd, complianceShowCmd, complianceChecklistsCmd)

	complianceSetCmd.Flags().String("note", "", "note for this item")
}
