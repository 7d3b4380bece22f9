package app

import (
	"context"
	"fmt"

	"github.com/vk/featflow/internal/model"
	"github.com/vk/featflow/internal/study"
	"github.com/vk/featflow/internal/workset"
)

// Source names where the hierarchy of a plan came from.
type Source string

const (
	SourceScan         Source = "scan"
	SourceRestriction  Source = "restriction"
	SourceModelRunList Source = "model"
)

// WorkPlan is a reduced hierarchy together with the model it was reduced
// against.
type WorkPlan struct {
	Model     *model.Model
	Hierarchy *study.Hierarchy
	Source    Source
	*workset.Result
}

// Scan discovers the hierarchy of the preprocessed data.
func (a *App) Scan(ctx context.Context) (*study.Hierarchy, error) {
	return study.Scan(a.withLogger(ctx), a.PreprocDir())
}

// Plan loads the model, picks the hierarchy and reduces it to the work that
// is left. A restriction given on the command line wins over one stored in
// the model, and both win over a scan. Only the command line restriction
// forces existing output to be rebuilt.
func (a *App) Plan(ctx context.Context) (*WorkPlan, error) {
	ctx = a.withLogger(ctx)
	logger := a.logger.With("level", a.config.Level)

	m, err := model.Load(ctx, a.StudyDir(), a.config.Model)
	if err != nil {
		return nil, err
	}

	plan := &WorkPlan{Model: m}
	switch {
	case a.config.SpecificRuns != "":
		h, err := study.ParseRestriction([]byte(a.config.SpecificRuns))
		if err != nil {
			return nil, err
		}
		plan.Hierarchy, plan.Source = h, SourceRestriction
	case !m.SpecificRuns.IsEmpty():
		plan.Hierarchy, plan.Source = m.SpecificRuns, SourceModelRunList
	default:
		h, err := a.Scan(ctx)
		if err != nil {
			return nil, err
		}
		plan.Hierarchy, plan.Source = h, SourceScan
	}
	logger.Debug("Hierarchy selected.", "source", string(plan.Source), "subjects", len(plan.Hierarchy.Subjects()))

	res, err := workset.Reduce(ctx, plan.Hierarchy, m.Oracle, workset.Options{
		Level:      a.Level(),
		Restricted: plan.Source == SourceRestriction,
		Copes:      m,
		Subjects:   a.config.Subjects,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to reduce work set: %w", err)
	}
	plan.Result = res

	logger.Info("Work set reduced.", "units", len(res.Units), "existing", len(res.Existing))
	return plan, nil
}
