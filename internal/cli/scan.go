package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newScanCmd(rf *rootFlags) *cobra.Command {
	sf := &studyFlags{}
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Print the subject, session, task and run hierarchy of a study",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd, sf.config(rf))
			if err != nil {
				return err
			}
			h, err := a.Scan(cmd.Context())
			if err != nil {
				return runtimeError(err)
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "layout: %s\n", h.Layout())
			_, _ = fmt.Fprintln(out, h.String())
			return nil
		},
	}
	sf.register(cmd)
	return cmd
}
