package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcus/roofsync/internal/db"
	"github.com/marcus/roofsync/internal/logging"
	"github.com/marcus/roofsync/internal/output"
	syncengine "github.com/marcus/roofsync/internal/sync"
	"github.com/marcus/roofsync/internal/syncclient"
	"github.com/marcus/roofsync/internal/syncconfig"
	"github.com/spf13/cobra"
)

var (
	version     string
	dataDirFlag string
	jsonOutput  bool
	verbose     bool
	logCloser   io.Closer
)

// SetVersion sets the version string
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

var rootCmd = &cobra.Command{
	Use:   "roofsync",
	Short: "Offline-first roof inspection records with server sync",
	Long: `roofsync - capture roof inspection reports offline and sync them when a connection is available.

Reports, roof elements, defects, photos and compliance checklists are stored locally.
Every edit is queued and uploaded on the next sync; conflicting edits from other
devices are detected and can be resolved automatically or by hand.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.LoadDotEnv(); err != nil {
			return fmt.Errorf("load .env: %w", err)
		}
		dir, err := getDataDir()
		if err != nil {
			return err
		}
		logFile := syncconfig.GetLogFile()
		if logFile == "" {
			logFile = filepath.Join(dir, "logs", "roofsync.log")
		}
		level := syncconfig.GetLogLevel()
		if verbose {
			level = "debug"
		}
		_, closer, err := logging.Setup(logging.Options{
			Level:  level,
			Format: syncconfig.GetLogFormat(),
			File:   logFile,
			Stderr: verbose,
		})
		if err != nil {
			// logging is best effort; the command still runs
			fmt.Fprintf(os.Stderr, "Warning: cannot open log file: %v\n", err)
			return nil
		}
		logCloser = closer
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logCloser != nil {
			logCloser.Close()
		}
	},
}

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		if !errors.Is(err, errReported) {
			if jsonOutput {
				output.JSONError(output.ErrCodeInvalidInput, err.Error())
			} else {
				output.Error("%v", err)
			}
		}
		os.Exit(1)
	}
}

// nameWithAliases returns "name, alias1, alias2" if aliases exist, else just "name"
func nameWithAliases(cmd *cobra.Command) string {
	if len(cmd.Aliases) > 0 {
		return cmd.Name() + ", " + strings.Join(cmd.Aliases, ", ")
	}
	return cmd.Name()
}

func init() {
	cobra.AddTemplateFunc("nameWithAliases", nameWithAliases)
	cobra.AddTemplateFunc("add", func(a, b int) int { return a + b })

	usageTemplate := `Usage:{{if .Runnable}}
  {{.UseLine}}{{end}}{{if .HasAvailableSubCommands}}
  {{.CommandPath}} [command]{{end}}{{if gt (len .Aliases) 0}}

Aliases:
  {{.NameAndAliases}}{{end}}{{if .HasExample}}

Examples:
{{.Example}}{{end}}{{if .HasAvailableSubCommands}}{{$cmds := .Commands}}{{if eq (len .Groups) 0}}

Available Commands:{{range $cmds}}{{if (or .IsAvailableCommand (eq .Name "help"))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{else}}{{range $group := .Groups}}

{{.Title}}{{range $cmds}}{{if (and (eq .GroupID $group.ID) (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{if not .AllChildCommandsHaveGroup}}

Additional Commands:{{range $cmds}}{{if (and (eq .GroupID "") (or .IsAvailableCommand (eq .Name "help")))}}
  {{rpad (nameWithAliases .) (add .NamePadding 8)}} {{.Short}}{{end}}{{end}}{{end}}{{end}}{{end}}{{if .HasAvailableLocalFlags}}

Flags:
{{.LocalFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasAvailableInheritedFlags}}

Global Flags:
{{.InheritedFlags.FlagUsages | trimTrailingWhitespaces}}{{end}}{{if .HasHelpSubCommands}}

Additional help topics:{{range .Commands}}{{if .IsAdditionalHelpTopicCommand}}
  {{rpad .CommandPath .CommandPathPadding}} {{.Short}}{{end}}{{end}}{{end}}{{if .HasAvailableSubCommands}}

Use "{{.CommandPath}} [command] --help" for more information about a command.{{end}}
`
	rootCmd.SetUsageTemplate(usageTemplate)

	rootCmd.AddGroup(
		&cobra.Group{ID: "core", Title: "Inspection Commands:"},
		&cobra.Group{ID: "sync", Title: "Sync Commands:"},
		&cobra.Group{ID: "system", Title: "System Commands:"},
	)
	rootCmd.SetHelpCommandGroupID("system")
	rootCmd.SetCompletionCommandGroupID("system")

	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "directory holding the local store")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "machine-readable JSON output")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log debug output to stderr")
}

// getDataDir returns the store directory: --data-dir flag, then configuration
func getDataDir() (string, error) {
	if dataDirFlag != "" {
		return dataDirFlag, nil
	}
	return syncconfig.GetDataDir()
}

// openStore opens the initialised local store and applies the retry ceiling
func openStore() (*db.DB, error) {
	dir, err := getDataDir()
	if err != nil {
		return nil, fail(output.ErrCodeDatabaseError, "resolve data dir: %v", err)
	}
	store, err := db.Open(dir)
	if err != nil {
		return nil, fail(output.ErrCodeDatabaseError, "open store: %v", err)
	}
	store.SetMaxRetries(syncconfig.GetMaxRetries())
	return store, nil
}

// newEngine builds a sync engine for store using the effective configuration
func newEngine(store *db.DB) (*syncengine.Engine, error) {
	if !syncconfig.IsAuthenticated() {
		return nil, fail(output.ErrCodeUnauthorized, "not logged in (run: roofsync auth login --key <key>)")
	}
	deviceID, err := syncconfig.GetDeviceID()
	if err != nil {
		return nil, fail(output.ErrCodeDatabaseError, "get device id: %v", err)
	}
	client := syncclient.New(syncconfig.GetServerURL(), syncconfig.GetAPIKey(), deviceID)
	engine := syncengine.New(store, client, syncengine.Options{
		DeviceID:          deviceID,
		Policy:            syncengine.Policy(syncconfig.GetConflictPolicy()),
		UploadConcurrency: syncconfig.GetUploadConcurrency(),
		PhotoTimeout:      syncconfig.GetPhotoTimeout(),
	})
	return engine, nil
}
