// Package workset computes the outstanding units of work of an analysis level
// from a study hierarchy and the outputs already on disk.
package workset

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"slices"
	"strings"

	"github.com/vk/featflow/internal/ctxlog"
	"github.com/vk/featflow/internal/faults"
	"github.com/vk/featflow/internal/layout"
	"github.com/vk/featflow/internal/study"
)

// Unit is one unit of work. Runs is set at level 2 (the runs aggregated),
// Subjects at level 3 (the candidate group members).
type Unit struct {
	layout.Key
	Runs     []string `yaml:"runs,omitempty"`
	Subjects []string `yaml:"subjects,omitempty"`
}

// ExistingKind tells apart the reasons an existing output is reported.
type ExistingKind int

const (
	// Skipped outputs were found and their unit was not scheduled.
	Skipped ExistingKind = iota
	// Overwrite outputs exist although their unit was scheduled anyway.
	Overwrite
	// Variant outputs are suffixed siblings of an expected output.
	Variant
)

func (k ExistingKind) String() string {
	switch k {
	case Skipped:
		return "skipped"
	case Overwrite:
		return "overwrite"
	default:
		return "variant"
	}
}

// Existing is an output already present on disk.
type Existing struct {
	Path string
	Kind ExistingKind
}

// CopeCounter reports how many copes a task's level-1 analysis produces.
type CopeCounter interface {
	Copes(task string) (int, error)
}

// Options select the level and mode of a reduction.
type Options struct {
	Level layout.Level

	// Restricted marks a hierarchy the caller supplied explicitly. Every
	// unit in it is scheduled, existing output or not, and nothing is pruned
	// from the residual.
	Restricted bool

	// Copes is required at level 3.
	Copes CopeCounter

	// Subjects limits the group members of level-3 units. Empty means all
	// subjects of the hierarchy.
	Subjects []string
}

// Result is the outcome of a reduction.
type Result struct {
	Existing []Existing
	Residual *study.Hierarchy
	Units    []Unit
}

// NothingLeft reports that every unit of the hierarchy is already done.
func (r *Result) NothingLeft() bool { return r.Residual.IsEmpty() }

// Paths returns the existing output paths of the given kinds, or of all kinds.
func (r *Result) Paths(kinds ...ExistingKind) []string {
	var out []string
	for _, e := range r.Existing {
		if len(kinds) == 0 || slices.Contains(kinds, e.Kind) {
			out = append(out, e.Path)
		}
	}
	return out
}

// IndexMapping renders "index<TAB>unit" lines. Equal inputs produce
// byte-identical mappings, which is what ties a cluster array index to a unit.
func (r *Result) IndexMapping() []byte {
	return IndexMapping(r.Units)
}

// IndexMapping renders the index mapping of units.
func IndexMapping(units []Unit) []byte {
	var b strings.Builder
	for i, u := range units {
		fmt.Fprintf(&b, "%d\t%s\n", i, u.Key.String())
	}
	return []byte(b.String())
}

// Digest is the hex SHA-256 of the units in order, including the runs and
// subjects each unit aggregates.
func Digest(units []Unit) string {
	h := sha256.New()
	for i, u := range units {
		fmt.Fprintf(h, "%d\t%s\truns=%s\tsubjects=%s\n",
			i, u.Key.String(), strings.Join(u.Runs, ","), strings.Join(u.Subjects, ","))
	}
	return hex.EncodeToString(h.Sum(nil))
}

// Reduce walks h in lexicographic order and splits it into scheduled units
// and existing outputs. The input hierarchy is not modified.
func Reduce(ctx context.Context, h *study.Hierarchy, oracle layout.Oracle, opts Options) (*Result, error) {
	logger := ctxlog.FromContext(ctx).With("level", int(opts.Level), "restricted", opts.Restricted)

	r := &reducer{
		oracle: oracle,
		opts:   opts,
		res:    &Result{Residual: h.Clone()},
	}

	switch opts.Level {
	case layout.Level1:
		r.level1(ctx, h)
	case layout.Level2:
		r.level2(ctx, h)
	case layout.Level3:
		if opts.Copes == nil {
			return nil, fmt.Errorf("level 3 reduction needs a cope counter")
		}
		if err := r.level3(ctx, h); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("invalid analysis level %d", int(opts.Level))
	}

	if err := r.collectVariants(ctx); err != nil {
		return nil, err
	}
	r.res.Residual.Compact()

	logger.Debug("Reduction complete.",
		"units", len(r.res.Units),
		"existing", len(r.res.Existing),
		"nothing_left", r.res.NothingLeft())
	return r.res, nil
}

type reducer struct {
	oracle  layout.Oracle
	opts    Options
	res     *Result
	visited []layout.Key
}

// check consults the oracle for one unit. It returns true when the unit must
// be scheduled. prune is called when the unit is skipped.
func (r *reducer) check(ctx context.Context, k layout.Key, prune func()) bool {
	logger := ctxlog.FromContext(ctx)
	r.visited = append(r.visited, k)

	path := r.oracle.ArtifactPath(k)
	exists := r.oracle.Exists(k)

	if !r.opts.Restricted && exists {
		logger.Warn("Existing output found, skipping.", "unit", k.String(), "path", path)
		r.res.Existing = append(r.res.Existing, Existing{Path: path, Kind: Skipped})
		prune()
		return false
	}
	if exists {
		logger.Warn("Existing output found, it will be overwritten.", "unit", k.String(), "path", path)
		r.res.Existing = append(r.res.Existing, Existing{Path: path, Kind: Overwrite})
	}
	return true
}

func (r *reducer) level1(ctx context.Context, h *study.Hierarchy) {
	for _, sub := range h.Subjects() {
		for _, ses := range h.Sessions(sub) {
			for _, task := range h.Tasks(sub, ses) {
				for _, run := range h.Runs(sub, ses, task) {
					k := layout.Key{Level: layout.Level1, Subject: sub, Session: ses, Task: task, Run: run}
					if r.check(ctx, k, func() { r.res.Residual.RemoveRun(sub, ses, task, run) }) {
						r.res.Units = append(r.res.Units, Unit{Key: k})
					}
				}
			}
		}
	}
}

func (r *reducer) level2(ctx context.Context, h *study.Hierarchy) {
	for _, sub := range h.Subjects() {
		for _, ses := range h.Sessions(sub) {
			for _, task := range h.Tasks(sub, ses) {
				runs := h.Runs(sub, ses, task)
				if len(runs) == 0 {
					continue
				}
				k := layout.Key{Level: layout.Level2, Subject: sub, Session: ses, Task: task}
				if r.check(ctx, k, func() { r.res.Residual.RemoveTask(sub, ses, task) }) {
					r.res.Units = append(r.res.Units, Unit{Key: k, Runs: runs})
				}
			}
		}
	}
}

// groupSubjects applies the subject filter to the subjects of h. Filter ids
// may omit the "sub-" tag. A filter that matches no subject is an error.
func (r *reducer) groupSubjects(ctx context.Context, h *study.Hierarchy) ([]string, error) {
	all := h.Subjects()
	if len(r.opts.Subjects) == 0 {
		return all, nil
	}

	var subjects, unmatched []string
	for _, id := range r.opts.Subjects {
		sub := id
		if !strings.HasPrefix(sub, study.SubjectTag) {
			sub = study.SubjectTag + sub
		}
		switch {
		case !slices.Contains(all, sub):
			unmatched = append(unmatched, id)
		case !slices.Contains(subjects, sub):
			subjects = append(subjects, sub)
		}
	}
	slices.Sort(subjects)

	if len(subjects) == 0 {
		return nil, faults.NotFound(strings.Join(all, ", "), "no subject matches the subject filter %s", strings.Join(unmatched, ", "))
	}
	if len(unmatched) > 0 {
		ctxlog.FromContext(ctx).Warn("Subjects in the filter are not in the study, left out.", "subjects", unmatched)
	}
	return subjects, nil
}

// level3 groups by (session, task) over the union of all subjects' tasks. A
// (session, task) whose copes all exist is pruned from every subject.
func (r *reducer) level3(ctx context.Context, h *study.Hierarchy) error {
	logger := ctxlog.FromContext(ctx)

	subjects, err := r.groupSubjects(ctx, h)
	if err != nil {
		return err
	}

	sessionTasks := make(map[string][]string)
	var sessions []string
	for _, sub := range subjects {
		for _, ses := range h.Sessions(sub) {
			if _, ok := sessionTasks[ses]; !ok {
				sessions = append(sessions, ses)
			}
			for _, task := range h.Tasks(sub, ses) {
				if !slices.Contains(sessionTasks[ses], task) {
					sessionTasks[ses] = append(sessionTasks[ses], task)
				}
			}
		}
	}
	slices.Sort(sessions)

	for _, ses := range sessions {
		tasks := sessionTasks[ses]
		slices.Sort(tasks)
		for _, task := range tasks {
			n, err := r.opts.Copes.Copes(task)
			if err != nil {
				logger.Warn("Task has no condition key entry, no group analysis built.", "task", task, "error", err)
				continue
			}
			done := 0
			for cope := 1; cope <= n; cope++ {
				k := layout.Key{Level: layout.Level3, Session: ses, Task: task, Cope: cope}
				if r.check(ctx, k, func() { done++ }) {
					r.res.Units = append(r.res.Units, Unit{Key: k, Subjects: subjects})
				}
			}
			if done == n {
				for _, sub := range subjects {
					r.res.Residual.RemoveTask(sub, ses, task)
				}
			}
		}
	}
	return nil
}

// collectVariants reports suffixed siblings of every visited unit's output.
func (r *reducer) collectVariants(ctx context.Context) error {
	logger := ctxlog.FromContext(ctx)
	for _, k := range r.visited {
		variants, err := r.oracle.Variants(k)
		if err != nil {
			return fmt.Errorf("failed to list outputs next to %s: %w", r.oracle.ArtifactPath(k), err)
		}
		for _, v := range variants {
			logger.Warn("Existing output variant found.", "unit", k.String(), "path", v)
			r.res.Existing = append(r.res.Existing, Existing{Path: v, Kind: Variant})
		}
	}
	return nil
}
