package cmd

import (
	"fmt"

	"github.com/marcus/roofsync/internal/db"
	"github.com/marcus/roofsync/internal/models"
	"github.com/marcus/roofsync/internal/output"
	"github.com/spf13/cobra"
)

var elementCmd = &cobra.Command{
	Use:     "element",
	Aliases: []string{"el"},
	Short:   "Record roof elements of a report",
	GroupID: "core",
}

var elementAddCmd = &cobra.Command{
	Use:   "add <report-id> <name>",
	Short: "Add a roof element",
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
		e := &models.RoofElement{ReportID: reportID, Name: args[1]}
		e.ElementType, _ = cmd.Flags().GetString("type")
		e.Material, _ = cmd.Flags().GetString("material")
		e.Location, _ = cmd.Flags().GetString("location")
		e.Notes, _ = cmd.Flags().GetString("notes")
		cond, _ := cmd.Flags().GetString("condition")
		if cond != "" {
			if !models.IsValidCondition(models.Condition(cond)) {
				return fail(output.ErrCodeInvalidInput, "invalid --condition %q (good, fair, poor, failed)", cond)
			}
			e.Condition = models.Condition(cond)
		}

		if err := store.CreateElement(e); err != nil {
			return failErr("add element", err)
		}
		if jsonOutput {
			return output.JSON(e)
		}
		fmt.Printf("ADDED element %s\n", e.ID)
		return nil
	},
}

var elementListCmd = &cobra.Command{
	Use:     "list <report-id>",
	Aliases: []string{"ls"},
	Short:   "List the elements of a report",
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
		elements, err := store.ListElements(reportID)
		if err != nil {
			return failErr("list elements", err)
		}
		all, _ := cmd.Flags().GetBool("all")
		var shown []models.RoofElement
		for _, e := range elements {
			if all || !e.Deleted {
				shown = append(shown, e)
			}
		}

		if jsonOutput {
			return output.JSON(shown)
		}
		if len(shown) == 0 {
			fmt.Println("No elements.")
			return nil
		}
		for i := range shown {
			fmt.Println(output.FormatElementShort(&shown[i]))
		}
		return nil
	},
}

var elementUpdateCmd = &cobra.Command{
	Use:   "update <element-id>",
	Short: "Change element fields",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveID(store, models.EntityElement, args[0])
		if err != nil {
			return err
		}
		var p db.ElementPatch
		p.Name = stringFlag(cmd, "name")
		p.ElementType = stringFlag(cmd, "type")
		p.Material = stringFlag(cmd, "material")
		p.Location = stringFlag(cmd, "location")
		p.Notes = stringFlag(cmd, "notes")
		if s := stringFlag(cmd, "condition"); s != nil {
			c := models.Condition(*s)
			if !models.IsValidCondition(c) {
				return fail(output.ErrCodeInvalidInput, "invalid --condition %q (good, fair, poor, failed)", *s)
			}
			p.Condition = &c
		}

		e, err := store.UpdateElement(id, p)
		if err != nil {
			return failErr("update element", err)
		}
		if jsonOutput {
			return output.JSON(e)
		}
		fmt.Printf("UPDATED element %s\n", e.ID)
		return nil
	},
}

var elementDeleteCmd = &cobra.Command{
	Use:     "delete <element-id>",
	Aliases: []string{"rm"},
	Short:   "Delete a roof element",
	Args:    cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		id, err := resolveID(store, models.EntityElement, args[0])
		if err != nil {
			return err
		}
		if err := store.DeleteElement(id); err != nil {
			return failErr("delete element", err)
		}
		if jsonOutput {
			return output.JSON(map[string]string{"deleted": id})
		}
		fmt.Printf("DELETED element %s\n", id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(elementCmd)
	elementCmd.AddCommand(elementAddCmd, elementListCmd, elementUpdateCmd, elementDeleteCmd)

	for _, c := range []*cobra.Command{elementAddCmd, elementUpdateCmd} {
		c.Flags().String("type", "", "element type (ridge, valley, gutter, flashing...)")
		c.Flags().String("material", "", "material")
		c.Flags().String("condition", "", "condition (good, fair, poor, failed)")
		c.Flags().String("location", "", "where on the roof")
		c.Flags().String("notes", "", "notes")
	}
	elementUpdateCmd.Flags().String("name", "", "element name")
	elementListCmd.Flags().BoolP("all", "a", false, "include deleted elements")
}
