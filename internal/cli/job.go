package cli

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/vk/featflow/internal/app"
	"github.com/vk/featflow/internal/dispatch"
)

func newJobCmd(rf *rootFlags) *cobra.Command {
	var (
		manifestPath string
		index        int
		fslDir       string
	)
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Run one unit of a job array manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if manifestPath == "" {
				return usageError(errors.New("--manifest is required"))
			}
			m, err := dispatch.ReadManifest(manifestPath)
			if err != nil {
				return runtimeError(err)
			}
			a, err := newApp(cmd, app.Config{
				Basedir:   m.Basedir,
				StudyID:   m.StudyID,
				Model:     m.Model,
				Level:     m.Level,
				Randomise: m.Randomise,
				NoEngine:  m.NoEngine,
				FSLDir:    fslDir,
				LogLevel:  rf.logLevel,
				LogFormat: rf.logFormat,
			})
			if err != nil {
				return err
			}

			res, err := a.RunJob(cmd.Context(), m, index)
			if err != nil {
				return runtimeError(fmt.Errorf("unit %d: %w", index, err))
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "Unit %d (%s) done.\n", res.Index, res.Unit.Key)
			return nil
		},
	}
	cmd.Flags().StringVar(&manifestPath, "manifest", "", "Path to the jobs.yaml written by run --mode cluster.")
	cmd.Flags().IntVar(&index, "index", 0, "Unit index, usually $SLURM_ARRAY_TASK_ID.")
	cmd.Flags().StringVar(&fslDir, "fsldir", "", "FSL installation. Defaults to $FSLDIR.")
	return cmd
}
