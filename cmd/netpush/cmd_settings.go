package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/netpush-network/netpush/pkg/cli"
	"github.com/netpush-network/netpush/pkg/settings"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Manage persistent settings",
	Long: `Manage persistent settings stored in ~/.netpush/settings.json.

Environment variables (NETPUSH_*) and a .env file in the working directory
override the stored values. Passwords and tokens are only read from the
environment (NETPUSH_PASSWORD, NETPUSH_SECRET, NETPUSH_PARSER_TOKEN).

Examples:
  netpush settings show
  netpush settings set inventory_file /etc/netpush/inventory.yaml
  netpush settings set concurrency 10
  netpush settings set backup_backend sqlite
  netpush settings set save_config true
  netpush settings clear`,
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := app.settings
		out := cmd.OutOrStdout()
		if app.jsonOutput {
			return json.NewEncoder(out).Encode(s)
		}

		fmt.Fprintf(out, "Settings file: %s\n\n", settingsPath())

		t := cli.NewTableTo(out, "SETTING", "VALUE")
		for _, key := range settings.Keys() {
			t.Row(key, settingValue(s, key))
		}
		t.Flush()
		return nil
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set <setting> <value>",
	Short: "Set a setting value",
	Long: `Set a persistent setting value.

Available settings:
  ` + strings.Join(settings.Keys(), "\n  "),
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := settings.LoadFrom(settingsPath())
		if err != nil {
			return fmt.Errorf("loading settings: %w", err)
		}
		if err := s.Set(args[0], args[1]); err != nil {
			return err
		}
		if err := s.SaveTo(settingsPath()); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s set to: %s\n", args[0], args[1])
		return nil
	},
}

var settingsGetCmd = &cobra.Command{
	Use:   "get <setting>",
	Short: "Get a setting value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if !isSettingKey(args[0]) {
			return fmt.Errorf("unknown setting: %s (valid: %s)", args[0], strings.Join(settings.Keys(), ", "))
		}
		fmt.Fprintln(cmd.OutOrStdout(), settingValue(app.settings, args[0]))
		return nil
	},
}

var settingsClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear all settings",
	RunE: func(cmd *cobra.Command, args []string) error {
		s := &settings.Settings{}
		if err := s.SaveTo(settingsPath()); err != nil {
			return fmt.Errorf("saving settings: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "All settings cleared.")
		return nil
	},
}

var settingsPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show settings file path",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), settingsPath())
	},
}

func settingsPath() string {
	if app.settingsPath != "" {
		return app.settingsPath
	}
	return settings.DefaultSettingsPath()
}

func isSettingKey(key string) bool {
	for _, k := range settings.Keys() {
		if k == key {
			return true
		}
	}
	return false
}

// settingValue renders the effective value of key, marking unset values.
func settingValue(s *settings.Settings, key string) string {
	var value string
	switch key {
	case "username":
		value = s.Username
	case "inventory_file":
		value = s.InventoryFile
	case "concurrency":
		value = strconv.Itoa(s.GetConcurrency())
	case "max_idle_sessions":
		value = strconv.Itoa(s.GetMaxIdle())
	case "timeout":
		value = s.GetTimeout().String()
	case "retry_attempts":
		value = strconv.Itoa(s.GetRetryAttempts())
	case "retry_interval":
		value = s.GetRetryInterval().String()
	case "backup_backend":
		value = s.GetBackupBackend()
	case "backup_location":
		value = s.GetBackupLocation()
	case "audit_log":
		value = s.GetAuditLog()
	case "known_hosts_file":
		value = s.KnownHostsFile
	case "redis_addr":
		value = s.GetRedisAddr()
	case "redis_db":
		value = strconv.Itoa(s.RedisDB)
	case "parser_url":
		value = s.ParserURL
	case "save_config":
		value = strconv.FormatBool(s.SaveConfig)
	}
	if value == "" {
		return "(not set)"
	}
	return value
}

func init() {
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
	settingsCmd.AddCommand(settingsGetCmd)
	settingsCmd.AddCommand(settingsClearCmd)
	settingsCmd.AddCommand(settingsPathCmd)
}
