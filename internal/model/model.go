// Package model loads the read-only description of an analysis model: its
// parameters, condition key, contrast table and custom engine stubs.
//
// A Model is built once per invocation and passed explicitly to every
// component that needs it.
package model

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/vk/featflow/internal/ctxlog"
	"github.com/vk/featflow/internal/faults"
	"github.com/vk/featflow/internal/fsf"
	"github.com/vk/featflow/internal/fsutil"
	"github.com/vk/featflow/internal/layout"
	"github.com/vk/featflow/internal/study"
)

const (
	ParamsFile       = "model_params.hcl"
	ConditionKeyFile = "condition_key.json"
	ContrastsFile    = "task_contrasts.json"
)

// Model is the immutable per-invocation view of model/level1/model-<name>.
type Model struct {
	Name   string
	Oracle layout.Oracle
	Params Params

	// SpecificRuns is the restriction stored with the model. It is empty
	// when the model does not restrict the run set.
	SpecificRuns *study.Hierarchy

	// Engine holds free-form engine settings applied at every level.
	Engine []fsf.Setting

	conditions map[string][]Condition
	// contrasts is nil when the model has no contrasts file.
	contrasts map[string][]Contrast
}

// Dir is the level-1 model directory holding the model files.
func (m *Model) Dir() string { return m.Oracle.ModelDir(layout.Level1) }

// Load reads the model named name of the study at studyDir.
func Load(ctx context.Context, studyDir, name string) (*Model, error) {
	logger := ctxlog.FromContext(ctx).With("model", name)
	m := &Model{
		Name:         name,
		Oracle:       layout.New(studyDir, name),
		Params:       DefaultParams(),
		SpecificRuns: study.New(study.WithoutSessions),
	}

	dir := m.Dir()
	if !fsutil.IsDir(dir) {
		return nil, faults.NotFound(dir, "model directory does not exist")
	}

	paramsPath := filepath.Join(dir, ParamsFile)
	if fsutil.Exists(paramsPath) {
		params, specific, engine, err := loadParams(paramsPath)
		if err != nil {
			return nil, err
		}
		restriction, err := study.FromCty(specific)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", paramsPath, err)
		}
		m.Params, m.SpecificRuns, m.Engine = params, restriction, engine
	} else {
		logger.Debug("No model parameters file, using defaults.", "path", paramsPath)
	}

	condPath := filepath.Join(dir, ConditionKeyFile)
	if !fsutil.Exists(condPath) {
		return nil, faults.NotFound(condPath, "could not find condition key")
	}
	conditions, err := parseConditionKey(condPath)
	if err != nil {
		return nil, err
	}
	m.conditions = conditions

	conPath := filepath.Join(dir, ContrastsFile)
	if fsutil.Exists(conPath) {
		contrasts, err := parseContrasts(conPath)
		if err != nil {
			return nil, err
		}
		m.contrasts = contrasts
	} else {
		logger.Warn("Could not find task contrasts file, only per-condition contrasts will be built.", "path", conPath)
	}

	logger.Debug("Model loaded.", "tasks", len(m.conditions), "engine_settings", len(m.Engine))
	return m, nil
}

// Conditions returns the ordered conditions of a task.
func (m *Model) Conditions(task string) ([]Condition, error) {
	conds, ok := m.conditions[task]
	if !ok {
		return nil, faults.NotFound(filepath.Join(m.Dir(), ConditionKeyFile), "task %q not found in condition key", task)
	}
	return conds, nil
}

// Contrasts returns the custom contrasts of a task. A model without a
// contrasts file has none; a contrasts file that lacks the task is an error.
func (m *Model) Contrasts(task string) ([]Contrast, error) {
	if m.contrasts == nil {
		return nil, nil
	}
	cons, ok := m.contrasts[task]
	if !ok {
		return nil, faults.NotFound(filepath.Join(m.Dir(), ContrastsFile), "task %q not found in contrasts", task)
	}
	return cons, nil
}

// Copes is the number of contrasts a level-1 analysis of task produces: one
// per condition, one across all conditions, and one per custom contrast.
func (m *Model) Copes(task string) (int, error) {
	conds, err := m.Conditions(task)
	if err != nil {
		return 0, err
	}
	// Aggregate levels tolerate a contrasts file without the task.
	n := len(m.contrasts[task])
	return len(conds) + 1 + n, nil
}

// CustomStubPath is model/level<N>/model-<name>/design_level<N>_custom.stub.
func (m *Model) CustomStubPath(level layout.Level) string {
	return filepath.Join(m.Oracle.ModelDir(level), fmt.Sprintf("design_level%d_custom.stub", int(level)))
}

// CustomSettings returns the engine settings followed by the settings of the
// custom stub of a level, if one exists. Later entries win.
func (m *Model) CustomSettings(level layout.Level) ([]fsf.Setting, error) {
	settings := append([]fsf.Setting{}, m.Engine...)
	path := m.CustomStubPath(level)
	if !fsutil.Exists(path) {
		return settings, nil
	}
	custom, err := fsf.ParseStubFile(path)
	if err != nil {
		return nil, err
	}
	return append(settings, custom...), nil
}
