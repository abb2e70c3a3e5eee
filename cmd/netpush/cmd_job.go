package main

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/netpush-network/netpush/pkg/cli"
	"github.com/netpush-network/netpush/pkg/jobs"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect recorded deployment jobs",
	Long: `Inspect deployments started with 'netpush deploy --job'.

Jobs are kept in Redis for seven days.

Examples:
  netpush job show 3b1f0c2e-8d4a-4a55-9c1e-0d6f3f1e2a77`,
}

var jobShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a job and its per-device results",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s := app.settings
		store := jobs.NewStore(s.GetRedisAddr(), s.RedisDB, jobs.DefaultTTL)
		defer store.Close()

		job, err := store.Get(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		if app.jsonOutput {
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(job)
		}

		fmt.Fprintf(out, "Job:     %s\n", job.ID)
		fmt.Fprintf(out, "Status:  %s\n", cli.Status(string(job.Status)))
		fmt.Fprintf(out, "User:    %s\n", job.User)
		if job.Intent != nil {
			fmt.Fprintf(out, "Intent:  %s\n", job.Intent.Summary())
		}
		fmt.Fprintf(out, "Created: %s\n", job.CreatedAt.Format(time.RFC3339))
		if !job.FinishedAt.IsZero() {
			fmt.Fprintf(out, "Elapsed: %s\n", cli.Elapsed(job.FinishedAt.Sub(job.CreatedAt)))
		}
		if job.Error != "" {
			fmt.Fprintf(out, "Error:   %s\n", cli.Red(job.Error))
		}
		if len(job.Results) == 0 {
			return nil
		}
		fmt.Fprintln(out)
		return printResults(out, job.Results)
	},
}

func init() {
	jobCmd.AddCommand(jobShowCmd)
}
