package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/featflow/internal/nifti"
)

// DefaultSpace is the template space used for synthetic preprocessed files.
const DefaultSpace = "MNI152NLin2009cAsym"

// Dataset is a synthetic study directory laid out the way fmriprep and the
// model tree expect it.
type Dataset struct {
	t       *testing.T
	Basedir string
	StudyID string
}

// NewDataset creates an empty study "ds001" under a fresh temporary basedir.
func NewDataset(t *testing.T) *Dataset {
	t.Helper()
	d := &Dataset{t: t, Basedir: t.TempDir(), StudyID: "ds001"}
	require.NoError(t, os.MkdirAll(d.FmriprepDir(), 0o755))
	return d
}

// StudyDir is <basedir>/<studyid>.
func (d *Dataset) StudyDir() string { return filepath.Join(d.Basedir, d.StudyID) }

// FmriprepDir is the preprocessed data root.
func (d *Dataset) FmriprepDir() string { return filepath.Join(d.StudyDir(), "fmriprep") }

// Path joins rel onto the study directory.
func (d *Dataset) Path(rel ...string) string {
	return filepath.Join(append([]string{d.StudyDir()}, rel...)...)
}

// Mkdir creates a directory under the study directory and returns its path.
func (d *Dataset) Mkdir(rel ...string) string {
	d.t.Helper()
	p := d.Path(rel...)
	require.NoError(d.t, os.MkdirAll(p, 0o755))
	return p
}

// WriteFile writes content under the study directory, creating parents.
func (d *Dataset) WriteFile(content string, rel ...string) string {
	d.t.Helper()
	p := d.Path(rel...)
	require.NoError(d.t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(d.t, os.WriteFile(p, []byte(content), 0o644))
	return p
}

func prefix(sub, ses string) string {
	if ses == "" {
		return sub
	}
	return sub + "_" + ses
}

func subjectDir(sub, ses string) []string {
	if ses == "" {
		return []string{"fmriprep", sub}
	}
	return []string{"fmriprep", sub, ses}
}

// AddRun writes a preprocessed BOLD image with a real NIfTI header, plus its
// brain mask, for one run. ses is "" for datasets without sessions.
func (d *Dataset) AddRun(sub, ses, task, run string) string {
	d.t.Helper()
	return d.AddRunInSpace(sub, ses, task, run, DefaultSpace)
}

// AddRunInSpace is AddRun with an explicit template space.
func (d *Dataset) AddRunInSpace(sub, ses, task, run, space string) string {
	d.t.Helper()
	head := fmt.Sprintf("%s_task-%s_run-%s_bold_space-%s", prefix(sub, ses), task, run, space)
	funcDir := d.Mkdir(append(subjectDir(sub, ses), "func")...)

	bold := filepath.Join(funcDir, head+"_preproc.nii.gz")
	require.NoError(d.t, nifti.WriteFile(bold, nifti.NewHeader(4, 4, 4, 120, 2)))
	require.NoError(d.t, os.WriteFile(filepath.Join(funcDir, head+"_brainmask.nii.gz"), nil, 0o644))
	return bold
}

// AddAnat writes a preprocessed T1w image into the subject's (or session's)
// anat folder.
func (d *Dataset) AddAnat(sub, ses string) string {
	d.t.Helper()
	return d.AddAnatNamed(sub, ses, fmt.Sprintf("%s_T1w_space-%s_preproc.nii.gz", prefix(sub, ses), DefaultSpace))
}

// AddAnatNamed writes an anatomical file with an explicit name.
func (d *Dataset) AddAnatNamed(sub, ses, name string) string {
	d.t.Helper()
	dir := d.Mkdir(append(subjectDir(sub, ses), "anat")...)
	p := filepath.Join(dir, name)
	require.NoError(d.t, os.WriteFile(p, nil, 0o644))
	return p
}

// ModelDir is model/level<level>/model-<name>.
func (d *Dataset) ModelDir(level int, name string) string {
	return d.Path("model", fmt.Sprintf("level%d", level), "model-"+name)
}

// WriteModel writes the level-1 model files. Empty arguments are skipped.
func (d *Dataset) WriteModel(name, params, conditionKey, contrasts string) {
	d.t.Helper()
	dir := filepath.Join("model", "level1", "model-"+name)
	d.Mkdir(dir)
	if params != "" {
		d.WriteFile(params, dir, "model_params.hcl")
	}
	if conditionKey != "" {
		d.WriteFile(conditionKey, dir, "condition_key.json")
	}
	if contrasts != "" {
		d.WriteFile(contrasts, dir, "task_contrasts.json")
	}
}
