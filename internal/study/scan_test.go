package study

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/featflow/internal/faults"
	"github.com/vk/featflow/internal/testutil"
)

func TestParseTaskRun(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		file     string
		wantTask string
		wantRun  string
		wantOK   bool
	}{
		{"fmriprep 1.0", "sub-01_task-flanker_run-1_bold_space-MNI152NLin2009cAsym_preproc.nii.gz", "flanker", "1", true},
		{"with session", "sub-01_ses-02_task-stop-signal_run-02_bold_preproc.nii.gz", "stop-signal", "02", true},
		{"no run", "sub-01_task-rest_bold_preproc.nii.gz", "", "", false},
		{"run at end", "sub-01_task-rest_run-1", "", "", false},
		{"no task", "sub-01_run-1_bold_preproc.nii.gz", "", "", false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			task, run, ok := ParseTaskRun(tc.file)
			assert.Equal(t, tc.wantOK, ok)
			assert.Equal(t, tc.wantTask, task)
			assert.Equal(t, tc.wantRun, run)
		})
	}
}

func TestIsPreprocessedBold(t *testing.T) {
	t.Parallel()
	assert.True(t, IsPreprocessedBold("sub-01_task-a_run-1_bold_space-X_preproc.nii.gz"))
	assert.False(t, IsPreprocessedBold("sub-01_task-a_run-1_bold_space-X_brainmask.nii.gz"))
	assert.False(t, IsPreprocessedBold("sub-01_task-a_run-1_bold_space-X_preproc_brain.nii.gz"))
	assert.False(t, IsPreprocessedBold("sub-01_task-a_run-1_bold_confounds.tsv"))
}

func TestScan_WithoutSessions(t *testing.T) {
	t.Parallel()

	ds := testutil.NewDataset(t)
	ds.AddRun("sub-02", "", "flanker", "1")
	ds.AddRun("sub-01", "", "flanker", "2")
	ds.AddRun("sub-01", "", "flanker", "1")
	ds.AddRun("sub-01", "", "stroop", "1")
	// Not a subject folder.
	ds.Mkdir("fmriprep", "logs")
	ctx, _ := testutil.LogContext(t)

	h, err := Scan(ctx, ds.FmriprepDir())
	require.NoError(t, err)
	assert.False(t, h.HasSessions())

	want := map[string]any{
		"sub-01": map[string][]string{"flanker": {"1", "2"}, "stroop": {"1"}},
		"sub-02": map[string][]string{"flanker": {"1"}},
	}
	if diff := cmp.Diff(want, h.Tree()); diff != "" {
		t.Errorf("Scan() mismatch (-want +got):\n%s", diff)
	}
}

func TestScan_WithSessions(t *testing.T) {
	t.Parallel()

	ds := testutil.NewDataset(t)
	ds.AddRun("sub-01", "ses-01", "flanker", "1")
	ds.AddRun("sub-01", "ses-02", "flanker", "1")
	ds.AddRun("sub-02", "ses-01", "flanker", "1")
	ds.AddRun("sub-02", "ses-01", "flanker", "2")
	ds.AddAnat("sub-01", "")
	ctx, _ := testutil.LogContext(t)

	h, err := Scan(ctx, ds.FmriprepDir())
	require.NoError(t, err)
	assert.True(t, h.HasSessions())

	want := map[string]any{
		"sub-01": map[string]map[string][]string{
			"ses-01": {"flanker": {"1"}},
			"ses-02": {"flanker": {"1"}},
		},
		"sub-02": map[string]map[string][]string{
			"ses-01": {"flanker": {"1", "2"}},
		},
	}
	if diff := cmp.Diff(want, h.Tree()); diff != "" {
		t.Errorf("Scan() mismatch (-want +got):\n%s", diff)
	}
}

func TestScan_SubjectWithoutFuncDoesNotBreakSiblings(t *testing.T) {
	t.Parallel()

	ds := testutil.NewDataset(t)
	ds.AddRun("sub-01", "", "flanker", "1")
	ds.AddAnat("sub-02", "")
	ctx, _ := testutil.LogContext(t)

	h, err := Scan(ctx, ds.FmriprepDir())
	require.NoError(t, err)
	assert.False(t, h.HasSessions())
	assert.Equal(t, []string{"sub-01", "sub-02"}, h.Subjects())
	assert.Empty(t, h.Tasks("sub-02", ""))
}

// The probe only looks at the first subject. When that subject has no tasks,
// a dataset without sessions is misclassified as sessioned and every subject
// comes back without tasks. This is a known limitation, not desired behavior.
func TestScan_FirstSubjectWithoutTasksIsMisclassified(t *testing.T) {
	t.Parallel()

	ds := testutil.NewDataset(t)
	ds.AddAnat("sub-01", "")
	ds.AddRun("sub-02", "", "flanker", "1")
	ctx, _ := testutil.LogContext(t)

	h, err := Scan(ctx, ds.FmriprepDir())
	require.NoError(t, err)
	assert.True(t, h.HasSessions())

	h.Compact()
	assert.True(t, h.IsEmpty())
}

func TestScan_RootMissing(t *testing.T) {
	t.Parallel()
	ctx, _ := testutil.LogContext(t)

	_, err := Scan(ctx, filepath.Join(t.TempDir(), "fmriprep"))
	require.Error(t, err)
	assert.ErrorIs(t, err, faults.ErrNotFound)
}

func TestScan_StableAcrossCalls(t *testing.T) {
	t.Parallel()

	ds := testutil.NewDataset(t)
	for _, sub := range []string{"sub-10", "sub-02", "sub-01"} {
		for _, run := range []string{"3", "1", "2"} {
			ds.AddRun(sub, "", "flanker", run)
		}
	}
	require.NoError(t, os.WriteFile(filepath.Join(ds.FmriprepDir(), "sub-01.html"), nil, 0o644))
	ctx, _ := testutil.LogContext(t)

	first, err := Scan(ctx, ds.FmriprepDir())
	require.NoError(t, err)
	second, err := Scan(ctx, ds.FmriprepDir())
	require.NoError(t, err)
	assert.Equal(t, first.String(), second.String())
}
