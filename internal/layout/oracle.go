// Package layout computes where each analysis level writes its output and
// answers whether that output already exists.
//
// Existence of the output directory is the only completion signal. A run of
// the engine that crashed halfway leaves a directory of the same name and is
// indistinguishable from a finished one.
package layout

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/vk/featflow/internal/fsutil"
)

// Level is an analysis stage: per run, per subject aggregate, per group.
type Level int

const (
	Level1 Level = 1
	Level2 Level = 2
	Level3 Level = 3
)

// ParseLevel accepts 1, 2 or 3.
func ParseLevel(n int) (Level, error) {
	switch Level(n) {
	case Level1, Level2, Level3:
		return Level(n), nil
	}
	return 0, fmt.Errorf("invalid analysis level %d: must be 1, 2 or 3", n)
}

func (l Level) String() string { return fmt.Sprintf("level%d", int(l)) }

// Key identifies one unit of work. Run is only set at level 1, Cope only at
// level 3, and Subject is empty at level 3. Subject and Session keep their
// tags ("sub-01", "ses-01"); Session is empty for datasets without sessions.
type Key struct {
	Level   Level
	Subject string
	Session string
	Task    string
	Run     string
	Cope    int
}

func (k Key) String() string {
	parts := make([]string, 0, 5)
	if k.Subject != "" {
		parts = append(parts, k.Subject)
	}
	if k.Session != "" {
		parts = append(parts, k.Session)
	}
	parts = append(parts, "task-"+k.Task)
	switch k.Level {
	case Level1:
		parts = append(parts, "run-"+k.Run)
	case Level3:
		parts = append(parts, fmt.Sprintf("cope-%03d", k.Cope))
	}
	return strings.Join(parts, "/")
}

// Oracle builds paths under one study directory for one model.
type Oracle struct {
	StudyDir string
	Model    string
}

// New returns an oracle rooted at studyDir for the named model.
func New(studyDir, model string) Oracle {
	return Oracle{StudyDir: studyDir, Model: model}
}

// ModelDir is <study>/model/level<N>/model-<name>.
func (o Oracle) ModelDir(level Level) string {
	return filepath.Join(o.StudyDir, "model", level.String(), "model-"+o.Model)
}

// FilePrefix is the subject tag joined with the session tag, the prefix every
// per-subject file name starts with.
func FilePrefix(subject, session string) string {
	if session == "" {
		return subject
	}
	return subject + "_" + session
}

// SubjectDir is the per-subject directory of a level, with the session
// folder when present.
func (o Oracle) SubjectDir(level Level, subject, session string) string {
	return filepath.Join(o.ModelDir(level), subject, session)
}

// UnitDir is the directory holding the configuration artifact and the output
// of one unit.
func (o Oracle) UnitDir(k Key) string {
	switch k.Level {
	case Level1:
		return filepath.Join(o.SubjectDir(Level1, k.Subject, k.Session), fmt.Sprintf("task-%s_run-%s", k.Task, k.Run))
	case Level2:
		return filepath.Join(o.SubjectDir(Level2, k.Subject, k.Session), "task-"+k.Task)
	default:
		return filepath.Join(o.ModelDir(Level3), k.Session, "task-"+k.Task)
	}
}

// Stem is the artifact file name without extension.
func (o Oracle) Stem(k Key) string {
	switch k.Level {
	case Level1:
		return fmt.Sprintf("%s_task-%s_run-%s", FilePrefix(k.Subject, k.Session), k.Task, k.Run)
	case Level2:
		return fmt.Sprintf("%s_task-%s", FilePrefix(k.Subject, k.Session), k.Task)
	default:
		return fmt.Sprintf("cope-%03d", k.Cope)
	}
}

// Extension is ".feat" at level 1 and ".gfeat" above.
func Extension(level Level) string {
	if level == Level1 {
		return ".feat"
	}
	return ".gfeat"
}

// ArtifactPath is the expected output directory of a unit. No I/O.
func (o Oracle) ArtifactPath(k Key) string {
	return filepath.Join(o.UnitDir(k), o.Stem(k)+Extension(k.Level))
}

// ConfigPath is where the configuration artifact of a unit is written.
func (o Oracle) ConfigPath(k Key) string {
	if k.Level != Level3 {
		return filepath.Join(o.UnitDir(k), o.Stem(k)+".fsf")
	}
	name := fmt.Sprintf("task-%s_cope-%03d.fsf", k.Task, k.Cope)
	if k.Session != "" {
		name = k.Session + "_" + name
	}
	return filepath.Join(o.UnitDir(k), name)
}

// Exists reports whether the output directory of a unit exists.
func (o Oracle) Exists(k Key) bool {
	return fsutil.Exists(o.ArtifactPath(k))
}

// CopeInput is the level-2 per-cope output consumed by a level-3 group unit.
func (o Oracle) CopeInput(subject, session, task string, cope int) string {
	agg := o.ArtifactPath(Key{Level: Level2, Subject: subject, Session: session, Task: task})
	return filepath.Join(agg, fmt.Sprintf("cope%d.feat", cope))
}

// Variants lists the "+" suffixed siblings of the artifact the engine creates
// when an output already exists, such as <stem>+.feat or <stem>++.feat. The
// stem must be followed by "+", so cope-100 never matches cope-1000.gfeat.
// Paths are sorted.
func (o Oracle) Variants(k Key) ([]string, error) {
	dir := o.UnitDir(k)
	prefix := o.Stem(k) + "+"
	ext := Extension(k.Level)

	names, err := fsutil.ListNames(dir, func(name string) bool {
		return strings.HasPrefix(name, prefix) && strings.HasSuffix(name, ext)
	})
	if err != nil {
		return nil, err
	}
	paths := make([]string, len(names))
	for i, n := range names {
		paths[i] = filepath.Join(dir, n)
	}
	return paths, nil
}
