package app

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/featflow/internal/dispatch"
	"github.com/vk/featflow/internal/faults"
	"github.com/vk/featflow/internal/fsutil"
	"github.com/vk/featflow/internal/layout"
	"github.com/vk/featflow/internal/testutil"
	"github.com/vk/featflow/internal/workset"
)

const (
	conditionKey = `{"flanker": {"1": "congruent", "2": "incongruent"}}`
	contrasts    = `{"flanker": {"inc-con": [-1, 1]}}`
)

// newDataset is a two-run, one-subject study with a model named "1".
func newDataset(t *testing.T, params string) *testutil.Dataset {
	t.Helper()
	d := testutil.NewDataset(t)
	d.AddRun("sub-01", "", "flanker", "1")
	d.AddRun("sub-01", "", "flanker", "2")
	d.AddAnat("sub-01", "")
	d.WriteModel("1", params, conditionKey, contrasts)
	return d
}

func newTestApp(t *testing.T, d *testutil.Dataset, mutate func(*Config)) (*App, *testutil.SafeBuffer) {
	t.Helper()
	raw := Config{
		Basedir:  d.Basedir,
		StudyID:  d.StudyID,
		Model:    "1",
		NoEngine: true,
		LogLevel: "debug",
		FSLDir:   t.TempDir(),
	}
	if mutate != nil {
		mutate(&raw)
	}
	cfg, err := NewConfig(raw)
	require.NoError(t, err)

	logs := &testutil.SafeBuffer{}
	t.Cleanup(func() {
		if os.Getenv("FEATFLOW_TEST_LOGS") == "true" {
			t.Logf("--- Full Log Output for %s ---\n%s", t.Name(), logs.String())
		}
	})
	return NewApp(logs, cfg), logs
}

func markDone(t *testing.T, a *App, k layout.Key) {
	t.Helper()
	o := layout.New(a.StudyDir(), a.config.Model)
	require.NoError(t, os.MkdirAll(o.ArtifactPath(k), 0o755))
}

func run1(run string) layout.Key {
	return layout.Key{Level: layout.Level1, Subject: "sub-01", Task: "flanker", Run: run}
}

func TestNewConfig(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		cfg     Config
		wantErr string
	}{
		{name: "valid", cfg: Config{Basedir: "/b", StudyID: "ds"}},
		{name: "missing basedir", cfg: Config{StudyID: "ds"}, wantErr: "basedir"},
		{name: "missing studyid", cfg: Config{Basedir: "/b"}, wantErr: "studyid"},
		{name: "bad level", cfg: Config{Basedir: "/b", StudyID: "ds", Level: 4}, wantErr: "level"},
		{name: "bad mode", cfg: Config{Basedir: "/b", StudyID: "ds", Mode: "grid"}, wantErr: "mode"},
		{name: "randomise below level 3", cfg: Config{Basedir: "/b", StudyID: "ds", Level: 2, Randomise: true}, wantErr: "randomise"},
		{name: "subjects below level 3", cfg: Config{Basedir: "/b", StudyID: "ds", Subjects: []string{"sub-01"}}, wantErr: "subjects"},
		{name: "negative workers", cfg: Config{Basedir: "/b", StudyID: "ds", Workers: -1}, wantErr: "workers"},
		{name: "bad log format", cfg: Config{Basedir: "/b", StudyID: "ds", LogFormat: "xml"}, wantErr: "log-format"},
		{name: "bad log level", cfg: Config{Basedir: "/b", StudyID: "ds", LogLevel: "loud"}, wantErr: "log-level"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			cfg, err := NewConfig(tc.cfg)
			if tc.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tc.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "1", cfg.Model)
			assert.Equal(t, 1, cfg.Level)
			assert.Equal(t, "sequential", cfg.Mode)
			assert.Equal(t, "text", cfg.LogFormat)
			assert.Equal(t, "info", cfg.LogLevel)
			assert.NotEmpty(t, cfg.FSLDir)
		})
	}
}

func TestApp_RunLevel1(t *testing.T) {
	t.Parallel()
	d := newDataset(t, "")
	a, logs := newTestApp(t, d, nil)
	ctx := context.Background()

	plan, report, err := a.Run(ctx)
	require.NoError(t, err)
	require.NotNil(t, report)
	assert.Equal(t, SourceScan, plan.Source)
	assert.Len(t, report.Results, 2)
	require.NoError(t, report.Err())
	for _, res := range report.Results {
		assert.True(t, fsutil.Exists(res.Job.ConfigPath), res.Job.ConfigPath)
	}
	assert.Equal(t, int64(2), a.Stats().Finished.Load())
	assert.Contains(t, logs.String(), "Engine disabled, design file written.")

	markDone(t, a, run1("1"))
	markDone(t, a, run1("2"))

	plan, report, err = a.Run(ctx)
	require.NoError(t, err)
	assert.Nil(t, report)
	assert.True(t, plan.NothingLeft())
	assert.Len(t, plan.Paths(workset.Skipped), 2)
	assert.Contains(t, logs.String(), "Nothing left to do.")
}

func TestApp_PlanSources(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name       string
		params     string
		restrict   string
		wantSource Source
		wantUnits  []string
		wantKinds  []workset.ExistingKind
	}{
		{
			name:       "scan skips existing output",
			wantSource: SourceScan,
			wantUnits:  []string{"sub-01/task-flanker/run-2"},
			wantKinds:  []workset.ExistingKind{workset.Skipped},
		},
		{
			name:       "command line restriction overwrites",
			params:     "specificruns = { \"sub-01\" = { flanker = [\"2\"] } }\n",
			restrict:   `{"sub-01": {"flanker": ["1"]}}`,
			wantSource: SourceRestriction,
			wantUnits:  []string{"sub-01/task-flanker/run-1"},
			wantKinds:  []workset.ExistingKind{workset.Overwrite},
		},
		{
			name:       "model run list",
			params:     "specificruns = { \"sub-01\" = { flanker = [\"1\", \"2\"] } }\n",
			wantSource: SourceModelRunList,
			wantUnits:  []string{"sub-01/task-flanker/run-2"},
			wantKinds:  []workset.ExistingKind{workset.Skipped},
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			d := newDataset(t, tc.params)
			a, _ := newTestApp(t, d, func(c *Config) { c.SpecificRuns = tc.restrict })
			markDone(t, a, run1("1"))

			plan, err := a.Plan(context.Background())
			require.NoError(t, err)
			assert.Equal(t, tc.wantSource, plan.Source)

			var units []string
			for _, u := range plan.Units {
				units = append(units, u.Key.String())
			}
			assert.Equal(t, tc.wantUnits, units)

			var kinds []workset.ExistingKind
			for _, e := range plan.Existing {
				kinds = append(kinds, e.Kind)
			}
			assert.Equal(t, tc.wantKinds, kinds)
		})
	}
}

func TestApp_PlanErrors(t *testing.T) {
	t.Parallel()

	t.Run("missing model", func(t *testing.T) {
		t.Parallel()
		d := newDataset(t, "")
		a, _ := newTestApp(t, d, func(c *Config) { c.Model = "nope" })
		_, err := a.Plan(context.Background())
		assert.True(t, errors.Is(err, faults.ErrNotFound))
	})

	t.Run("bad restriction", func(t *testing.T) {
		t.Parallel()
		d := newDataset(t, "")
		a, _ := newTestApp(t, d, func(c *Config) { c.SpecificRuns = "{not json" })
		_, err := a.Plan(context.Background())
		assert.ErrorContains(t, err, "invalid restriction payload")
	})
}

func TestApp_RunLevel2MissingDependency(t *testing.T) {
	t.Parallel()
	d := newDataset(t, "")
	a, _ := newTestApp(t, d, func(c *Config) { c.Level = 2 })

	_, report, err := a.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, report.Results, 1)
	assert.True(t, errors.Is(report.Err(), faults.ErrMissingDependency))
	assert.Equal(t, int64(1), a.Stats().Failed.Load())
}

func TestApp_ClusterThenJob(t *testing.T) {
	t.Parallel()
	d := newDataset(t, "")
	a, _ := newTestApp(t, d, func(c *Config) {
		c.Mode = "cluster"
		c.Executable = "/opt/featflow"
		c.Account = "lab"
	})
	ctx := context.Background()

	_, report, err := a.Run(ctx)
	require.NoError(t, err)
	assert.False(t, report.Submitted)
	assert.Empty(t, report.Results)
	assert.Equal(t, filepath.Join(d.ModelDir(1, "1"), "run_level1.sbatch"), report.Script)

	script, err := os.ReadFile(report.Script)
	require.NoError(t, err)
	assert.Contains(t, string(script), "#SBATCH -A lab")
	assert.Contains(t, string(script), "#SBATCH --array=0-1")

	manifest, err := dispatch.ReadManifest(report.Manifest)
	require.NoError(t, err)
	assert.Equal(t, d.StudyID, manifest.StudyID)

	res, err := a.RunJob(ctx, manifest, 1)
	require.NoError(t, err)
	assert.Equal(t, "sub-01/task-flanker/run-2", res.Unit.Key.String())
	assert.True(t, fsutil.Exists(res.Job.ConfigPath))

	_, err = a.RunJob(ctx, manifest, 2)
	assert.Error(t, err)
}

func TestApp_HealthHandler(t *testing.T) {
	t.Parallel()
	d := newDataset(t, "")
	a, _ := newTestApp(t, d, nil)
	a.stats.Total.Add(3)
	a.stats.Started.Add(1)

	rec := httptest.NewRecorder()
	a.healthHandler(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "OK\nfailed 0\nfinished 0\nstarted 1\ntotal 3\n", rec.Body.String())
}

func TestNewApp_LogsToWriter(t *testing.T) {
	t.Parallel()
	d := newDataset(t, "")
	a, logs := newTestApp(t, d, func(c *Config) { c.LogFormat = "json" })

	_, err := a.Scan(context.Background())
	require.NoError(t, err)
	assert.Contains(t, logs.String(), `"study":"ds001"`)
	assert.Contains(t, logs.String(), `"msg":"Hierarchy scan complete."`)
}
