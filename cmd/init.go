package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/marcus/roofsync/internal/db"
	"github.com/marcus/roofsync/internal/output"
	"github.com/marcus/roofsync/internal/syncconfig"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:     "init",
	Short:   "Initialize the local inspection store",
	Long:    `Creates the data directory and SQLite store, and records this device's id.`,
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := getDataDir()
		if err != nil {
			return fail(output.ErrCodeDatabaseError, "resolve data dir: %v", err)
		}

		existed := false
		if _, err := os.Stat(filepath.Join(dir, "roofsync.db")); err == nil {
			existed = true
		}

		store, err := db.Initialize(dir)
		if err != nil {
			return failErr("initialize store", err)
		}
		defer store.Close()

		deviceID, err := syncconfig.GetDeviceID()
		if err != nil {
			return fail(output.ErrCodeDatabaseError, "get device id: %v", err)
		}
		if err := store.SetMeta(db.MetaDeviceID, deviceID); err != nil {
			return failErr("record device id", err)
		}

		if jsonOutput {
			return output.JSON(map[string]any{"data_dir": dir, "device_id": deviceID, "existed": existed})
		}
		if existed {
			output.Warning("store already exists in %s (schema checked)", dir)
		} else {
			fmt.Printf("INITIALIZED %s\n", dir)
		}
		fmt.Printf("Device: %s\n", deviceID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
