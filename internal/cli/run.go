package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRunCmd(rf *rootFlags) *cobra.Command {
	sf := &studyFlags{}
	rn := &runFlags{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build and run the remaining units of a level",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := sf.config(rf)
			rn.apply(&cfg)
			a, err := newApp(cmd, cfg)
			if err != nil {
				return err
			}

			plan, report, err := a.Run(cmd.Context())
			if err != nil {
				return runtimeError(err)
			}
			out := cmd.OutOrStdout()
			printPlan(out, plan)
			if report == nil {
				return nil
			}

			if report.Script != "" {
				_, _ = fmt.Fprintf(out, "Job array script: %s\n", report.Script)
				_, _ = fmt.Fprintf(out, "Manifest: %s\n", report.Manifest)
				if report.Submitted {
					_, _ = fmt.Fprintln(out, "Submitted.")
				}
			}
			if len(report.Results) > 0 {
				_, _ = fmt.Fprintf(out, "Dispatched %d units, %d failed.\n", len(report.Results), len(report.Failed()))
			}
			if err := report.Err(); err != nil {
				return runtimeError(err)
			}
			return nil
		},
	}
	sf.register(cmd)
	rn.register(cmd)
	return cmd
}
