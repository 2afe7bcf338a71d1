package cmd

import (
	"errors"
	"fmt"
	"strings"

	"github.com/marcus/roofsync/internal/output"
	"github.com/marcus/roofsync/internal/syncconfig"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:     "config",
	Short:   "Manage roofsync configuration",
	GroupID: "system",
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a config value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, val := args[0], args[1]

		cfg, err := syncconfig.LoadConfig()
		if err != nil {
			return fail(output.ErrCodeInvalidInput, "load config: %v", err)
		}
		if err := syncconfig.SetValue(cfg, key, val); err != nil {
			if errors.Is(err, syncconfig.ErrUnknownKey) && !jsonOutput {
				defer fmt.Println("Valid keys:", strings.Join(syncconfig.Keys(), ", "))
			}
			return fail(output.ErrCodeInvalidInput, "%v", err)
		}
		if err := syncconfig.SaveConfig(cfg); err != nil {
			return fail(output.ErrCodeDatabaseError, "save config: %v", err)
		}

		if jsonOutput {
			return output.JSON(map[string]string{key: val})
		}
		output.Success("set %s = %s", key, val)
		return nil
	},
}

var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get the effective value of a config key",
	Long:  `Prints the value in effect after environment overrides and defaults.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		val, ok := syncconfig.Effective()[args[0]]
		if !ok {
			if !jsonOutput {
				defer fmt.Println("Valid keys:", strings.Join(syncconfig.Keys(), ", "))
			}
			return fail(output.ErrCodeInvalidInput, "unknown config key: %s", args[0])
		}
		if jsonOutput {
			return output.JSON(map[string]string{args[0]: val})
		}
		fmt.Println(val)
		return nil
	},
}

var configListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all effective config values",
	RunE: func(cmd *cobra.Command, args []string) error {
		values := syncconfig.Effective()
		if jsonOutput {
			return output.JSON(values)
		}
		for _, k := range syncconfig.Keys() {
			fmt.Printf("%-24s %s\n", k, values[k])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configSetCmd, configGetCmd, configListCmd)
}
