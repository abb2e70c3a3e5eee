package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/netpush-network/netpush/pkg/cli"
	"github.com/netpush-network/netpush/pkg/deploy"
	"github.com/netpush-network/netpush/pkg/device"
	"github.com/netpush-network/netpush/pkg/intent"
	"github.com/netpush-network/netpush/pkg/jobs"
	"github.com/netpush-network/netpush/pkg/parser"
	"github.com/netpush-network/netpush/pkg/settings"
	"github.com/netpush-network/netpush/pkg/util"
)

var (
	deployInventory   string
	deployDevices     []string
	deployGroup       string
	deployRequest     string
	deployAskPass     bool
	deployConcurrency int
	deployAsJob       bool
	deployMetricsFile string
	deploySave        bool
)

var deployCmd = &cobra.Command{
	Use:   "deploy [intent-file]",
	Short: "Deploy an intent to one or more devices",
	Long: `Deploy one configuration intent to the selected devices.

Every device is handled independently: its running configuration is
backed up, the generated commands are applied, the result is validated,
and on any failure the device is rolled back to the backup. Transport
failures are retried with backoff. With --save (or the save_config
setting) each committed change is also written to startup configuration.

The intent comes from a YAML file, or from free text (--request) sent to
the parser service configured with 'netpush settings set parser_url'.

Examples:
  netpush deploy vlan.yaml -d core-1 -d core-2
  netpush deploy acl.yaml -g access --concurrency 10
  netpush deploy -r "create vlan 100 named Finance" -g access --ask-pass
  netpush deploy vlan.yaml -g access --job`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		in, err := loadIntent(ctx, app.settings, args, deployRequest)
		if err != nil {
			return err
		}
		targets, err := resolveTargets(app.settings, deployInventory, deployDevices, deployGroup, deployAskPass)
		if err != nil {
			return err
		}

		st, err := newStack(app.settings, deployConcurrency, deploySave)
		if err != nil {
			return err
		}
		defer st.Close()

		util.WithFields(map[string]interface{}{
			"intent":  in.Summary(),
			"devices": len(targets),
		}).Debug("Resolved deployment request")

		var results deploy.Results
		if deployAsJob {
			results, err = deployJob(ctx, cmd.OutOrStdout(), st, in, targets)
		} else {
			results, err = st.deployer.Deploy(ctx, in, targets)
		}
		if err != nil {
			return err
		}

		if deployMetricsFile != "" {
			if err := st.metrics.WriteTextfile(deployMetricsFile); err != nil {
				util.Warnf("Writing metrics: %v", err)
			}
		}

		if err := printResults(cmd.OutOrStdout(), results); err != nil {
			return err
		}
		if !results.OK() {
			s := results.Summary()
			return fmt.Errorf("%d of %d devices did not succeed", s.Failed+s.Cancelled, s.Total)
		}
		return nil
	},
}

// loadIntent reads the intent file, or sends request text to the parser.
func loadIntent(ctx context.Context, s *settings.Settings, args []string, request string) (*intent.Intent, error) {
	switch {
	case len(args) == 1 && request != "":
		return nil, fmt.Errorf("give either an intent file or --request, not both")
	case len(args) == 1:
		return intent.LoadFile(args[0])
	case request != "":
		if s.ParserURL == "" {
			return nil, fmt.Errorf("--request needs a parser service: 'netpush settings set parser_url <url>'")
		}
		return parser.New(s.ParserURL, s.ParserToken).Parse(ctx, request)
	}
	return nil, fmt.Errorf("intent required: give an intent file or --request")
}

// deployJob records the deployment in the job store, runs it and waits for
// the stored result.
func deployJob(ctx context.Context, out io.Writer, st *stack, in *intent.Intent, targets []device.Target) (deploy.Results, error) {
	store := jobs.NewStore(app.settings.GetRedisAddr(), app.settings.RedisDB, jobs.DefaultTTL)
	defer store.Close()
	if err := store.Ping(ctx); err != nil {
		return nil, fmt.Errorf("connecting to job store: %w", err)
	}

	runner := jobs.NewRunner(st.deployer, store, currentUser(app.settings))
	defer runner.Close()

	id, err := runner.Submit(ctx, in, targets)
	if err != nil {
		return nil, err
	}
	if !app.jsonOutput {
		fmt.Fprintf(out, "Job %s started\n", id)
	}

	job, err := runner.Wait(ctx, id)
	if err != nil {
		return nil, err
	}
	if job.Status == jobs.StatusRejected {
		return nil, fmt.Errorf("job %s rejected: %s", id, job.Error)
	}
	return job.Results, nil
}

func printResults(out io.Writer, results deploy.Results) error {
	if app.jsonOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	keys := make([]string, 0, len(results))
	for k := range results {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	t := cli.NewTableTo(out, "DEVICE", "STATUS", "ATTEMPTS", "ROLLBACK", "DURATION", "ERROR")
	for _, k := range keys {
		r := results[k]
		errText := r.Error
		if errText == "" && r.SaveError != "" {
			errText = "not saved: " + r.SaveError
		}
		t.Row(k,
			cli.Status(string(r.Status)),
			strconv.Itoa(r.Attempts),
			cli.Status(r.Rollback.Label()),
			cli.Elapsed(r.Duration),
			cli.Truncate(errText, 60),
		)
	}
	t.Flush()

	s := results.Summary()
	fmt.Fprintf(out, "\n%d devices: %s succeeded, %s failed, %s cancelled\n",
		s.Total,
		cli.Green(strconv.Itoa(s.Succeeded)),
		cli.Red(strconv.Itoa(s.Failed)),
		cli.Yellow(strconv.Itoa(s.Cancelled)),
	)
	return nil
}

func init() {
	deployCmd.Flags().StringVarP(&deployInventory, "inventory", "i", "", "Device inventory file")
	deployCmd.Flags().StringArrayVarP(&deployDevices, "device", "d", nil, "Device name or address (repeatable, comma-separated)")
	deployCmd.Flags().StringVarP(&deployGroup, "group", "g", "", "Inventory group")
	deployCmd.Flags().StringVarP(&deployRequest, "request", "r", "", "Free-text request sent to the parser service")
	deployCmd.Flags().BoolVar(&deployAskPass, "ask-pass", false, "Prompt for the device password")
	deployCmd.Flags().IntVar(&deployConcurrency, "concurrency", 0, "Devices deployed at once (default from settings)")
	deployCmd.Flags().BoolVar(&deployAsJob, "job", false, "Record the deployment in the job store")
	deployCmd.Flags().BoolVar(&deploySave, "save", false, "Save committed changes to startup configuration")
	deployCmd.Flags().StringVar(&deployMetricsFile, "metrics-file", "", "Write Prometheus metrics to this file afterwards")
}
