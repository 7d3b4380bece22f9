package cli

import (
	"os"

	"github.com/spf13/cobra"
	"github.com/vk/featflow/internal/app"
)

// studyFlags select a study, a model and a level.
type studyFlags struct {
	basedir      string
	studyID      string
	model        string
	level        int
	specificRuns string
	subjects     []string
}

func (f *studyFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.basedir, "basedir", "", "Directory holding the studies.")
	fs.StringVar(&f.studyID, "studyid", "", "Study identifier, a directory under --basedir.")
	fs.StringVar(&f.model, "model", "1", "Model name, model/level<N>/model-<name>.")
	fs.IntVar(&f.level, "level", 1, "Analysis level: 1, 2 or 3.")
	fs.StringVar(&f.specificRuns, "specificruns", "", "JSON restriction payload; exactly these units are (re)built.")
	fs.StringSliceVar(&f.subjects, "subjects", nil, "Level 3 only: subjects to include in the group analyses.")
}

// runFlags control how units are executed.
type runFlags struct {
	mode            string
	workers         int
	noEngine        bool
	randomise       bool
	healthcheckPort int
	eventsURL       string

	account    string
	email      string
	time       string
	nodes      int
	sbatch     bool
	executable string
}

func (f *runFlags) register(cmd *cobra.Command) {
	fs := cmd.Flags()
	fs.StringVar(&f.mode, "mode", "sequential", "Dispatch mode: 'sequential', 'parallel' or 'cluster'.")
	fs.IntVar(&f.workers, "workers", 0, "Parallel workers. 0 uses one per CPU.")
	fs.BoolVar(&f.noEngine, "no-engine", false, "Write design files without calling feat.")
	fs.BoolVar(&f.randomise, "randomise", false, "Level 3 only: use randomise for inference.")
	fs.IntVar(&f.healthcheckPort, "healthcheck-port", 0, "Port for the HTTP health check server. 0 is disabled.")
	fs.StringVar(&f.eventsURL, "events-url", "", "socket.io server that receives progress events.")
	fs.StringVar(&f.account, "account", "", "Cluster mode: SLURM account.")
	fs.StringVar(&f.email, "email", "", "Cluster mode: notification address.")
	fs.StringVar(&f.time, "time", "02:00:00", "Cluster mode: time limit per array task.")
	fs.IntVar(&f.nodes, "nodes", 1, "Cluster mode: nodes per array task.")
	fs.BoolVar(&f.sbatch, "sbatch", false, "Cluster mode: submit the job array script.")
	fs.StringVar(&f.executable, "executable", "", "Cluster mode: featflow binary the array tasks call. Defaults to this binary.")
}

func (f *studyFlags) config(rf *rootFlags) app.Config {
	return app.Config{
		Basedir:      f.basedir,
		StudyID:      f.studyID,
		Model:        f.model,
		Level:        f.level,
		SpecificRuns: f.specificRuns,
		Subjects:     f.subjects,
		LogLevel:     rf.logLevel,
		LogFormat:    rf.logFormat,
	}
}

func (f *runFlags) apply(cfg *app.Config) {
	cfg.Mode = f.mode
	cfg.Workers = f.workers
	cfg.NoEngine = f.noEngine
	cfg.Randomise = f.randomise
	cfg.HealthcheckPort = f.healthcheckPort
	cfg.EventsURL = f.eventsURL
	cfg.Account = f.account
	cfg.Email = f.email
	cfg.Time = f.time
	cfg.Nodes = f.nodes
	cfg.Sbatch = f.sbatch
	cfg.Executable = f.executable
	if cfg.Executable == "" {
		if exe, err := os.Executable(); err == nil {
			cfg.Executable = exe
		}
	}
}

// newApp validates cfg and builds an App logging to the command's error
// writer.
func newApp(cmd *cobra.Command, raw app.Config) (*app.App, error) {
	cfg, err := app.NewConfig(raw)
	if err != nil {
		return nil, usageError(err)
	}
	return app.NewApp(cmd.ErrOrStderr(), cfg), nil
}
