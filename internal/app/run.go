package app

import (
	"context"
	"fmt"

	"github.com/vk/featflow/internal/dispatch"
	"github.com/vk/featflow/internal/engine"
	"github.com/vk/featflow/internal/events"
	"github.com/vk/featflow/internal/materialize"
	"github.com/vk/featflow/internal/model"
)

// Run plans the configured level and dispatches the remaining units. The
// report is nil when there is nothing left to do.
func (a *App) Run(ctx context.Context) (*WorkPlan, *dispatch.Report, error) {
	ctx = a.withLogger(ctx)
	a.logger.Debug("App.Run method started.")

	a.healthCheckServer()
	defer a.closeHealthCheckServer()

	plan, err := a.Plan(ctx)
	if err != nil {
		return nil, nil, err
	}
	if len(plan.Units) == 0 {
		a.logger.Info("Nothing left to do.", "level", a.config.Level)
		return plan, nil, nil
	}

	mode, err := dispatch.ParseMode(a.config.Mode)
	if err != nil {
		return nil, nil, err
	}

	publisher := a.publisher(ctx)
	defer publisher.Close()

	d := dispatch.New(a.materializer(plan.Model), a.runner(),
		dispatch.WithPublisher(publisher),
		dispatch.WithWorkers(a.config.Workers),
		dispatch.WithStats(a.stats),
		dispatch.WithCluster(a.clusterOptions(plan.Model)),
	)
	report, err := d.Dispatch(ctx, plan.Units, mode)
	if err != nil {
		return nil, nil, fmt.Errorf("dispatch failed: %w", err)
	}

	a.logger.Debug("App.Run method finished.")
	return plan, report, nil
}

// RunJob runs the unit at index of a job array manifest. The manifest, not
// the App config, decides study, model and level.
func (a *App) RunJob(ctx context.Context, manifest *dispatch.Manifest, index int) (dispatch.Result, error) {
	ctx = a.withLogger(ctx)

	u, err := manifest.Unit(index)
	if err != nil {
		return dispatch.Result{Index: index}, err
	}
	m, err := model.Load(ctx, a.StudyDir(), manifest.Model)
	if err != nil {
		return dispatch.Result{Index: index, Unit: u}, err
	}

	publisher := a.publisher(ctx)
	defer publisher.Close()

	d := dispatch.New(a.materializer(m), a.runner(),
		dispatch.WithPublisher(publisher),
		dispatch.WithStats(a.stats),
	)
	res := d.RunOne(ctx, manifest.Batch, index, u)
	return res, res.Err
}

func (a *App) materializer(m *model.Model) *materialize.Materializer {
	return materialize.New(m,
		materialize.WithFSLDir(a.config.FSLDir),
		materialize.WithRandomise(a.config.Randomise),
	)
}

func (a *App) runner() engine.Runner {
	if a.config.NoEngine {
		return engine.NoopRunner{}
	}
	return &engine.ExecRunner{}
}

// publisher always logs. When an events URL is configured the events are
// also streamed there; a dashboard that cannot be reached does not stop the
// run.
func (a *App) publisher(ctx context.Context) events.Publisher {
	if a.config.EventsURL == "" {
		return events.LogPublisher{}
	}
	sio, err := events.Dial(ctx, events.DialOptions{URL: a.config.EventsURL})
	if err != nil {
		a.logger.Warn("Could not connect to the events server, progress is only logged.", "url", a.config.EventsURL, "error", err)
		return events.LogPublisher{}
	}
	return events.Multi{events.LogPublisher{}, sio}
}

func (a *App) clusterOptions(m *model.Model) dispatch.ClusterOptions {
	return dispatch.ClusterOptions{
		Dir:        m.Oracle.ModelDir(a.Level()),
		Executable: a.config.Executable,
		Account:    a.config.Account,
		Email:      a.config.Email,
		Time:       a.config.Time,
		Nodes:      a.config.Nodes,
		Submit:     a.config.Sbatch,
		Base: dispatch.Manifest{
			Basedir:   a.config.Basedir,
			StudyID:   a.config.StudyID,
			Model:     m.Name,
			Level:     a.config.Level,
			Randomise: a.config.Randomise,
			NoEngine:  a.config.NoEngine,
		},
	}
}
