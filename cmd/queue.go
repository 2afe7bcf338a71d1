package cmd

import (
	"fmt"

	"github.com/marcus/roofsync/internal/models"
	"github.com/marcus/roofsync/internal/output"
	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:     "queue",
	Aliases: []string{"q"},
	Short:   "Inspect and maintain the outbound change queue",
	GroupID: "sync",
}

func printQueue(items []models.QueueItem, empty string) error {
	if jsonOutput {
		return output.JSON(items)
	}
	if len(items) == 0 {
		fmt.Println(empty)
		return nil
	}
	for i := range items {
		fmt.Println(output.FormatQueueItem(&items[i]))
	}
	return nil
}

var queueListCmd = &cobra.Command{
	Use:     "list",
	Aliases: []string{"ls"},
	Short:   "List every queued change in upload order",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		var items []models.QueueItem
		if ref, _ := cmd.Flags().GetString("report"); ref != "" {
			reportID, err := resolveReportID(store, ref)
			if err != nil {
				return err
			}
			items, err = store.QueueItemsForReport(reportID)
			if err != nil {
				return failErr("list queue", err)
			}
		} else if items, err = store.ListQueueItems(); err != nil {
			return failErr("list queue", err)
		}
		return printQueue(items, "Queue is empty.")
	},
}

var queueNextCmd = &cobra.Command{
	Use:   "next",
	Short: "Show the next batch that would be uploaded",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n, _ := cmd.Flags().GetInt("limit")
		if n <= 0 {
			return fail(output.ErrCodeInvalidInput, "--limit must be positive")
		}
		items, err := store.NextBatch(n)
		if err != nil {
			return failErr("next batch", err)
		}
		return printQueue(items, "Nothing to upload.")
	},
}

var queueFailedCmd = &cobra.Command{
	Use:   "failed",
	Short: "List changes that exceeded the retry ceiling",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		items, err := store.ListFailedQueueItems()
		if err != nil {
			return failErr("list failed", err)
		}
		return printQueue(items, "No failed changes.")
	},
}

var queueDedupeCmd = &cobra.Command{
	Use:   "dedupe",
	Short: "Collapse the queue to the latest change per record",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.Deduplicate()
		if err != nil {
			return failErr("dedupe queue", err)
		}
		if jsonOutput {
			return output.JSON(map[string]int{"removed": n})
		}
		fmt.Printf("Removed %d duplicate item(s).\n", n)
		return nil
	},
}

var queueRequeueCmd = &cobra.Command{
	Use:   "requeue",
	Short: "Reset failed changes so the next sync retries them",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		n, err := store.RequeueFailed()
		if err != nil {
			return failErr("requeue", err)
		}
		if jsonOutput {
			return output.JSON(map[string]int{"requeued": n})
		}
		fmt.Printf("Requeued %d item(s).\n", n)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(queueCmd)
	queueCmd.AddCommand(queueListCmd, queueNextCmd, queueFailedCmd, queueDedupeCmd, queueRequeueCmd)

	queueListCmd.Flags().String("report", "", "only items of this report")
	queueNextCmd.Flags().IntP("limit", "n", 50, "batch size")
}
