// Package dispatch runs an ordered list of units sequentially, in parallel,
// or as a cluster job array. A unit's position in the list is its index in
// every mode, and a failing unit never stops the others.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/vk/featflow/internal/ctxlog"
	"github.com/vk/featflow/internal/engine"
	"github.com/vk/featflow/internal/events"
	"github.com/vk/featflow/internal/materialize"
	"github.com/vk/featflow/internal/workset"
	"golang.org/x/sync/errgroup"
)

// Mode selects how units are executed.
type Mode string

const (
	Sequential Mode = "sequential"
	Parallel   Mode = "parallel"
	Cluster    Mode = "cluster"
)

// ParseMode accepts sequential, parallel or cluster.
func ParseMode(s string) (Mode, error) {
	switch m := Mode(s); m {
	case Sequential, Parallel, Cluster:
		return m, nil
	}
	return "", fmt.Errorf("invalid dispatch mode %q: must be sequential, parallel or cluster", s)
}

// Materializer resolves a unit into a runnable job.
type Materializer interface {
	Materialize(ctx context.Context, u workset.Unit) (*materialize.ResolvedJob, error)
}

// Result is the outcome of one unit.
type Result struct {
	Index int
	Unit  workset.Unit
	Job   *materialize.ResolvedJob
	Err   error
}

// Report is the outcome of a batch.
type Report struct {
	Batch   string
	Mode    Mode
	Results []Result

	// Manifest and Script are set in cluster mode.
	Manifest  string
	Script    string
	Submitted bool
}

// Failed returns the results that carry an error.
func (r *Report) Failed() []Result {
	var out []Result
	for _, res := range r.Results {
		if res.Err != nil {
			out = append(out, res)
		}
	}
	return out
}

// Err joins the per-unit errors, each attributed to its index.
func (r *Report) Err() error {
	var errs []error
	for _, res := range r.Failed() {
		errs = append(errs, fmt.Errorf("unit %d (%s): %w", res.Index, res.Unit.Key, res.Err))
	}
	return errors.Join(errs...)
}

// Stats counts unit transitions. It is safe for concurrent use.
type Stats struct {
	Total    atomic.Int64
	Started  atomic.Int64
	Finished atomic.Int64
	Failed   atomic.Int64
}

// Snapshot returns the current counters.
func (s *Stats) Snapshot() map[string]int64 {
	return map[string]int64{
		"total":    s.Total.Load(),
		"started":  s.Started.Load(),
		"finished": s.Finished.Load(),
		"failed":   s.Failed.Load(),
	}
}

// Dispatcher runs units through a Materializer and a Runner.
type Dispatcher struct {
	materializer Materializer
	runner       engine.Runner
	publisher    events.Publisher
	workers      int
	stats        *Stats
	cluster      ClusterOptions

	lookPath func(string) (string, error)
	submit   func(ctx context.Context, script string) error
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithPublisher sets where progress events go. The default logs them.
func WithPublisher(p events.Publisher) Option {
	return func(d *Dispatcher) { d.publisher = p }
}

// WithWorkers bounds parallel mode. Zero or less means one per CPU.
func WithWorkers(n int) Option {
	return func(d *Dispatcher) { d.workers = n }
}

// WithStats makes the dispatcher count into s.
func WithStats(s *Stats) Option {
	return func(d *Dispatcher) { d.stats = s }
}

// WithCluster sets the job array options used in cluster mode.
func WithCluster(c ClusterOptions) Option {
	return func(d *Dispatcher) { d.cluster = c }
}

// New returns a Dispatcher.
func New(m Materializer, r engine.Runner, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		materializer: m,
		runner:       r,
		publisher:    events.LogPublisher{},
		stats:        &Stats{},
		lookPath:     exec.LookPath,
		submit:       submitSbatch,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs units in the given mode. The returned error covers failures
// of the batch itself; per-unit failures are in the report.
func (d *Dispatcher) Dispatch(ctx context.Context, units []workset.Unit, mode Mode) (*Report, error) {
	batch := uuid.NewString()
	logger := ctxlog.FromContext(ctx).With("batch", batch, "mode", string(mode))
	ctx = ctxlog.WithLogger(ctx, logger)

	report := &Report{Batch: batch, Mode: mode}
	if len(units) == 0 {
		logger.Info("No units to dispatch.")
		return report, nil
	}
	d.stats.Total.Add(int64(len(units)))

	switch mode {
	case Sequential:
		report.Results = d.sequential(ctx, batch, units)
	case Parallel:
		report.Results = d.parallel(ctx, batch, units)
	case Cluster:
		if err := d.clusterArray(ctx, batch, units, report); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid dispatch mode %q", mode)
	}

	logger.Info("🏁 Dispatch finished.", "units", len(units), "failed", len(report.Failed()))
	return report, nil
}

// RunOne materializes and runs the unit at index. It is what a cluster array
// task executes.
func (d *Dispatcher) RunOne(ctx context.Context, batch string, index int, u workset.Unit) Result {
	logger := ctxlog.FromContext(ctx).With("index", index, "unit", u.Key.String())
	ctx = ctxlog.WithLogger(ctx, logger)

	d.stats.Started.Add(1)
	d.publish(ctx, batch, events.Started, index, u, nil)

	res := Result{Index: index, Unit: u}
	res.Job, res.Err = d.materializer.Materialize(ctx, u)
	if res.Err == nil {
		res.Err = d.runner.Run(ctx, res.Job)
	}

	if res.Err != nil {
		d.stats.Failed.Add(1)
		d.publish(ctx, batch, events.Failed, index, u, res.Err)
		return res
	}
	d.stats.Finished.Add(1)
	d.publish(ctx, batch, events.Finished, index, u, nil)
	return res
}

func (d *Dispatcher) publish(ctx context.Context, batch string, kind events.Kind, index int, u workset.Unit, err error) {
	e := events.Event{Batch: batch, Kind: kind, Index: index, Unit: u.Key.String(), Time: time.Now()}
	if err != nil {
		e.Error = err.Error()
	}
	d.publisher.Publish(ctx, e)
}

func (d *Dispatcher) sequential(ctx context.Context, batch string, units []workset.Unit) []Result {
	results := make([]Result, len(units))
	for i, u := range units {
		results[i] = d.RunOne(ctx, batch, i, u)
	}
	return results
}

// parallel runs one goroutine per unit, at most workers at a time. Each
// goroutine writes only its own result slot. Unit failures are recorded in
// the results and never cancel the group.
func (d *Dispatcher) parallel(ctx context.Context, batch string, units []workset.Unit) []Result {
	logger := ctxlog.FromContext(ctx)

	workers := d.workers
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	workers = min(workers, len(units))
	logger.Info("🚀 Starting parallel dispatch...", "workers", workers)

	results := make([]Result, len(units))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, u := range units {
		g.Go(func() error {
			results[i] = d.RunOne(ctx, batch, i, u)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func submitSbatch(ctx context.Context, script string) error {
	out, err := exec.CommandContext(ctx, "sbatch", script).CombinedOutput()
	if err != nil {
		return fmt.Errorf("sbatch failed: %w: %s", err, out)
	}
	ctxlog.FromContext(ctx).Info("Job array submitted.", "script", script, "sbatch", string(out))
	return nil
}
