package main

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/netpush-network/netpush/pkg/backup"
	"github.com/netpush-network/netpush/pkg/cli"
	"github.com/netpush-network/netpush/pkg/inventory"
)

var backupInventory string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Inspect stored configuration backups",
	Long: `Inspect the running configurations captured before each deployment.

A device may be named by its inventory name or by its address.

Examples:
  netpush backup list core-1
  netpush backup show core-1          # newest backup
  netpush backup show core-1 2        # third newest
  netpush backup show 10.0.0.1 2026-10-18T09:30:00.123456789Z`,
}

var backupListCmd = &cobra.Command{
	Use:   "list <device>",
	Short: "List backups of a device, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openBackups()
		if err != nil {
			return err
		}
		defer store.Close()

		refs, err := store.List(cmd.Context(), backupKey(args[0]))
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if app.jsonOutput {
			return json.NewEncoder(out).Encode(refs)
		}
		if len(refs) == 0 {
			fmt.Fprintln(out, "No backups found")
			return nil
		}
		t := cli.NewTableTo(out, "#", "TAKEN", "SIZE", "LOCATION")
		for i, r := range refs {
			t.Row(strconv.Itoa(i), r.TakenAt.Format(time.RFC3339Nano), strconv.Itoa(r.Size), r.Location)
		}
		t.Flush()
		return nil
	},
}

var backupShowCmd = &cobra.Command{
	Use:   "show <device> [index|time]",
	Short: "Print a stored backup",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openBackups()
		if err != nil {
			return err
		}
		defer store.Close()

		which := "0"
		if len(args) == 2 {
			which = args[1]
		}
		b, err := findBackup(cmd.Context(), store, backupKey(args[0]), which)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if app.jsonOutput {
			return json.NewEncoder(out).Encode(b)
		}
		fmt.Fprint(out, b.Config)
		return nil
	},
}

func openBackups() (backup.Store, error) {
	s := app.settings
	return backup.Open(s.GetBackupBackend(), s.GetBackupLocation())
}

// backupKey maps an inventory name to the key its backups are stored
// under. Unknown names are used as given.
func backupKey(ref string) string {
	path := backupInventory
	if path == "" {
		path = app.settings.InventoryFile
	}
	if path == "" {
		return ref
	}
	inv, err := inventory.Load(path)
	if err != nil {
		return ref
	}
	if d, ok := inv.Lookup(ref); ok {
		return d.Key()
	}
	return ref
}

// findBackup resolves which as a list index (0 is newest) or a capture time.
func findBackup(ctx context.Context, store backup.Store, key, which string) (*backup.Backup, error) {
	if t, err := time.Parse(time.RFC3339Nano, which); err == nil {
		return store.Load(ctx, key, t)
	}
	i, err := strconv.Atoi(which)
	if err != nil || i < 0 {
		return nil, fmt.Errorf("%q is neither a backup index nor an RFC 3339 time", which)
	}
	refs, err := store.List(ctx, key)
	if err != nil {
		return nil, err
	}
	if i >= len(refs) {
		return nil, fmt.Errorf("%s has %d backups, no index %d", key, len(refs), i)
	}
	return store.Load(ctx, key, refs[i].TakenAt)
}

func init() {
	backupCmd.PersistentFlags().StringVarP(&backupInventory, "inventory", "i", "", "Device inventory file")
	backupCmd.AddCommand(backupListCmd)
	backupCmd.AddCommand(backupShowCmd)
}
