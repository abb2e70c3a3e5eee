// Netpush - safe multi-device switch configuration deployment
//
// A CLI that pushes one configuration intent to many switches at once.
// Every device runs its own transaction:
//   - Backup the running configuration
//   - Apply the generated command sequence
//   - Validate the result against the intent
//   - Roll back to the backup when anything fails
//
// Examples:
//
//	netpush generate vlan.yaml --dialect standard        # Preview commands
//	netpush deploy vlan.yaml -d core-1 -d core-2          # Deploy to two devices
//	netpush deploy vlan.yaml -g access --concurrency 10   # Deploy to a group
//	netpush deploy -r "create vlan 100 named Finance" -g access
//	netpush deploy vlan.yaml -g access --job              # Run as a background job
//	netpush backup list core-1
//	netpush audit list --last 24h --failures
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/netpush-network/netpush/pkg/settings"
	"github.com/netpush-network/netpush/pkg/util"
	"github.com/netpush-network/netpush/pkg/version"
)

// App holds global state shared across commands.
type App struct {
	settingsPath string
	verbose      bool
	jsonOutput   bool
	logJSON      bool

	settings *settings.Settings
}

var app = &App{}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:               "netpush",
	Short:             "Safe multi-device switch configuration deployment",
	SilenceUsage:      true,
	SilenceErrors:     true,
	CompletionOptions: cobra.CompletionOptions{HiddenDefaultCmd: true},
	Long: `Netpush deploys one configuration intent to many switches concurrently.

Each device is backed up before any change, validated after the change,
and rolled back to its backup if the change fails.

  netpush deploy <intent-file> -d <device> [-d <device>...] [-g <group>]`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Set log level: quiet by default, verbose on -v
		if app.verbose {
			util.SetLogLevel("debug")
		} else {
			util.SetLogLevel("warn")
		}
		if app.logJSON {
			util.SetJSONFormat()
		}

		if isHelpOrVersion(cmd) {
			return nil
		}

		s, err := settings.Resolve(app.settingsPath)
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		app.settings = s
		return nil
	},
}

func isHelpOrVersion(cmd *cobra.Command) bool {
	switch cmd.Name() {
	case "help", "version", "netpush":
		return true
	}
	return false
}

func init() {
	rootCmd.PersistentFlags().StringVar(&app.settingsPath, "settings", "", "Settings file (default ~/.netpush/settings.json)")
	rootCmd.PersistentFlags().BoolVarP(&app.verbose, "verbose", "v", false, "Verbose output")
	rootCmd.PersistentFlags().BoolVar(&app.jsonOutput, "json", false, "JSON output")
	rootCmd.PersistentFlags().BoolVar(&app.logJSON, "log-json", false, "Write logs as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "deploy", Title: "Deployment:"},
		&cobra.Group{ID: "history", Title: "History:"},
		&cobra.Group{ID: "meta", Title: "Configuration & Meta:"},
	)

	for _, cmd := range []*cobra.Command{deployCmd, generateCmd} {
		cmd.GroupID = "deploy"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{backupCmd, jobCmd, auditCmd} {
		cmd.GroupID = "history"
		rootCmd.AddCommand(cmd)
	}
	for _, cmd := range []*cobra.Command{settingsCmd, versionCmd} {
		cmd.GroupID = "meta"
		rootCmd.AddCommand(cmd)
	}
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if version.Version == "dev" {
			fmt.Fprintln(cmd.OutOrStdout(), "netpush dev build")
			return
		}
		fmt.Fprintf(cmd.OutOrStdout(), "netpush %s\n", version.Info())
	},
}
