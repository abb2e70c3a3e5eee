package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/netpush-network/netpush/pkg/dialect"
	"github.com/netpush-network/netpush/pkg/generator"
	"github.com/netpush-network/netpush/pkg/intent"
)

var (
	generateDialect string
	generateExpect  bool
)

var generateCmd = &cobra.Command{
	Use:   "generate <intent-file>",
	Short: "Show the commands an intent produces, without touching any device",
	Long: `Validate an intent and print the command sequence it generates for a
dialect. Nothing is sent to any device.

Examples:
  netpush generate vlan.yaml
  netpush generate acl.yaml --dialect emulated --expect`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		d, err := dialect.Parse(generateDialect)
		if err != nil {
			return err
		}
		in, err := intent.LoadFile(args[0])
		if err != nil {
			return err
		}
		in, err = in.Prepare()
		if err != nil {
			return err
		}

		seq, err := generator.Generate(in, d)
		if err != nil {
			return err
		}
		if err := generator.CheckSafe(seq); err != nil {
			return err
		}
		var exps []string
		if generateExpect {
			list, err := generator.Expectations(in, d)
			if err != nil {
				return err
			}
			for _, e := range list {
				exps = append(exps, e.String())
			}
		}

		out := cmd.OutOrStdout()
		if app.jsonOutput {
			return json.NewEncoder(out).Encode(map[string]interface{}{
				"dialect":      d,
				"summary":      in.Summary(),
				"commands":     seq,
				"expectations": exps,
			})
		}

		fmt.Fprintf(out, "# %s (%s)\n", in.Summary(), d)
		for _, line := range seq {
			fmt.Fprintln(out, line)
		}
		if generateExpect {
			fmt.Fprintln(out, "\n# expected in running configuration")
			for _, e := range exps {
				fmt.Fprintln(out, e)
			}
		}
		return nil
	},
}

func init() {
	generateCmd.Flags().StringVar(&generateDialect, "dialect", string(dialect.Standard), "Device dialect (standard, emulated)")
	generateCmd.Flags().BoolVar(&generateExpect, "expect", false, "Also print what validation will look for")
}
