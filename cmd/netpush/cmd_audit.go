package main

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/netpush-network/netpush/pkg/audit"
	"github.com/netpush-network/netpush/pkg/cli"
)

var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "View audit logs",
	Long: `View the audit log of deployments.

Every device transaction is logged with:
  - Timestamp and user
  - Deployment ID and device
  - Intent summary
  - Final status, attempts and rollback outcome

Examples:
  netpush audit list --device 10.0.0.1
  netpush audit list --last 24h
  netpush audit list --deployment 3b1f0c2e-8d4a-4a55-9c1e-0d6f3f1e2a77`,
}

var (
	auditDevice     string
	auditUser       string
	auditDeployment string
	auditLast       string
	auditLimit      int
	auditFailures   bool
)

var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit events",
	RunE: func(cmd *cobra.Command, args []string) error {
		filter := audit.Filter{
			Device:      auditDevice,
			User:        auditUser,
			Deployment:  auditDeployment,
			Limit:       auditLimit,
			FailureOnly: auditFailures,
		}

		// Parse --last duration
		if auditLast != "" {
			duration, err := time.ParseDuration(auditLast)
			if err != nil {
				return fmt.Errorf("invalid duration: %s", auditLast)
			}
			filter.StartTime = time.Now().Add(-duration)
		}

		logger, err := audit.NewFileLogger(app.settings.GetAuditLog(), audit.RotationConfig{})
		if err != nil {
			return err
		}
		defer logger.Close()

		events, err := logger.Query(filter)
		if err != nil {
			return fmt.Errorf("querying audit log: %w", err)
		}

		out := cmd.OutOrStdout()
		if app.jsonOutput {
			return json.NewEncoder(out).Encode(events)
		}
		if len(events) == 0 {
			fmt.Fprintln(out, "No audit events found")
			return nil
		}

		t := cli.NewTableTo(out, "TIMESTAMP", "USER", "DEVICE", "INTENT", "STATUS", "ATTEMPTS", "ROLLBACK")
		for _, event := range events {
			t.Row(
				event.Timestamp.Format("2006-01-02 15:04:05"),
				event.User,
				event.Device,
				cli.Truncate(event.Summary, 40),
				cli.Status(event.Status),
				strconv.Itoa(event.Attempts),
				cli.Status(event.Rollback),
			)
		}
		t.Flush()
		return nil
	},
}

func init() {
	auditListCmd.Flags().StringVar(&auditDevice, "device", "", "Filter by device")
	auditListCmd.Flags().StringVar(&auditUser, "user", "", "Filter by user")
	auditListCmd.Flags().StringVar(&auditDeployment, "deployment", "", "Filter by deployment ID")
	auditListCmd.Flags().StringVar(&auditLast, "last", "", "Show events from last duration (e.g., 24h)")
	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum events to show")
	auditListCmd.Flags().BoolVar(&auditFailures, "failures", false, "Show only failed transactions")

	auditCmd.AddCommand(auditListCmd)
}
