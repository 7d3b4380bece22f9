package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
	"github.com/vk/featflow/internal/app"
	"github.com/vk/featflow/internal/workset"
)

func newPlanCmd(rf *rootFlags) *cobra.Command {
	sf := &studyFlags{}
	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Show which units of a level are done and which are left",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, sf.config(rf))
			if err != nil {
				return err
			}
			plan, err := a.Plan(cmd.Context())
			if err != nil {
				return runtimeError(err)
			}
			out := cmd.OutOrStdout()
			printPlan(out, plan)
			_, _ = out.Write(plan.IndexMapping())
			return nil
		},
	}
	sf.register(cmd)
	return cmd
}

// printPlan lists existing outputs and, when some were skipped, the residual
// hierarchy as a payload for --specificruns.
func printPlan(w io.Writer, plan *app.WorkPlan) {
	for _, e := range plan.Existing {
		_, _ = fmt.Fprintf(w, "%s\t%s\n", e.Kind, e.Path)
	}
	if plan.NothingLeft() {
		_, _ = fmt.Fprintln(w, "Nothing left to do.")
		return
	}
	if len(plan.Paths(workset.Skipped)) > 0 {
		_, _ = fmt.Fprintf(w, "Remaining work, usable as --specificruns: %s\n", plan.Residual.String())
	}
}
