// Package materialize turns a unit of work into a resolved job: a written
// design file, the output directory it targets, and the commands that run it.
package materialize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/featflow/internal/ctxlog"
	"github.com/vk/featflow/internal/fsf"
	"github.com/vk/featflow/internal/layout"
	"github.com/vk/featflow/internal/model"
	"github.com/vk/featflow/internal/workset"
)

// DefaultFSLDir is used when neither FSLDIR nor FSL_DIR is set.
const DefaultFSLDir = "/usr/local/fsl"

// ResolvedJob is everything needed to run one unit without further lookup.
type ResolvedJob struct {
	Key        layout.Key
	ConfigPath string
	OutputDir  string

	// PreCommands run in order before Command.
	PreCommands [][]string
	Command     []string

	// Inputs are the files or directories the design file references.
	Inputs []string

	// EmptyEVs are the 1-based positions of conditions whose event file was
	// missing at level 1.
	EmptyEVs []int

	// Excluded are level-3 cope inputs that were not found and left out.
	Excluded []string
}

// Materializer resolves units against one model.
type Materializer struct {
	model     *model.Model
	fslDir    string
	randomise bool
}

// Option configures a Materializer.
type Option func(*Materializer)

// WithFSLDir sets the FSL installation directory.
func WithFSLDir(dir string) Option {
	return func(m *Materializer) { m.fslDir = dir }
}

// WithRandomise switches level-3 designs to randomise.
func WithRandomise(on bool) Option {
	return func(m *Materializer) { m.randomise = on }
}

// New returns a Materializer for m.
func New(m *model.Model, opts ...Option) *Materializer {
	mat := &Materializer{model: m, fslDir: DefaultFSLDir}
	for _, opt := range opts {
		opt(mat)
	}
	return mat
}

// ResolveFSLDir returns FSLDIR, then FSL_DIR, then the default.
func ResolveFSLDir(getenv func(string) string) string {
	if v := getenv("FSLDIR"); v != "" {
		return v
	}
	if v := getenv("FSL_DIR"); v != "" {
		return v
	}
	return DefaultFSLDir
}

func (m *Materializer) regStandard() string {
	return filepath.Join(m.fslDir, "data", "standard", "MNI152_T1_2mm_brain")
}

func (m *Materializer) oracle() layout.Oracle { return m.model.Oracle }

// Materialize writes the design file of u and returns the resolved job. On
// error nothing is scheduled for u; other units are unaffected.
func (m *Materializer) Materialize(ctx context.Context, u workset.Unit) (*ResolvedJob, error) {
	logger := ctxlog.FromContext(ctx).With("unit", u.Key.String())
	ctx = ctxlog.WithLogger(ctx, logger)

	var (
		job *ResolvedJob
		doc *fsf.Document
		err error
	)
	switch u.Level {
	case layout.Level1:
		job, doc, err = m.level1(ctx, u)
	case layout.Level2:
		job, doc, err = m.level2(ctx, u)
	case layout.Level3:
		job, doc, err = m.level3(ctx, u)
	default:
		return nil, fmt.Errorf("invalid analysis level %d", int(u.Level))
	}
	if err != nil {
		return nil, err
	}

	if err := os.MkdirAll(filepath.Dir(job.ConfigPath), 0o755); err != nil {
		return nil, err
	}
	if err := doc.WriteFile(job.ConfigPath); err != nil {
		return nil, fmt.Errorf("failed to write design file: %w", err)
	}
	job.Command = []string{"feat", job.ConfigPath}

	logger.Debug("Unit materialized.", "config", job.ConfigPath, "output", job.OutputDir)
	return job, nil
}

func (m *Materializer) document(level layout.Level, extra ...fsf.Setting) (*fsf.Document, error) {
	settings, err := m.model.CustomSettings(level)
	if err != nil {
		return nil, err
	}
	return fsf.New(int(level), append(settings, extra...))
}

func newJob(o layout.Oracle, k layout.Key) *ResolvedJob {
	return &ResolvedJob{
		Key:        k,
		ConfigPath: o.ConfigPath(k),
		OutputDir:  o.ArtifactPath(k),
	}
}
