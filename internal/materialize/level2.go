package materialize

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/vk/featflow/internal/ctxlog"
	"github.com/vk/featflow/internal/faults"
	"github.com/vk/featflow/internal/fsf"
	"github.com/vk/featflow/internal/fsutil"
	"github.com/vk/featflow/internal/layout"
	"github.com/vk/featflow/internal/workset"
)

func (m *Materializer) level2(ctx context.Context, u workset.Unit) (*ResolvedJob, *fsf.Document, error) {
	logger := ctxlog.FromContext(ctx)
	k := u.Key
	o := m.oracle()

	if len(u.Runs) == 0 {
		return nil, nil, fmt.Errorf("unit %s has no runs to aggregate", k)
	}
	ncopes, err := m.model.Copes(k.Task)
	if err != nil {
		return nil, nil, err
	}

	// Every run must have its level-1 output before anything is touched.
	runKeys := make([]layout.Key, len(u.Runs))
	for i, run := range u.Runs {
		rk := layout.Key{Level: layout.Level1, Subject: k.Subject, Session: k.Session, Task: k.Task, Run: run}
		if !o.Exists(rk) {
			return nil, nil, faults.MissingDependency(o.ArtifactPath(rk), "level 1 output for run %s does not exist", run)
		}
		runKeys[i] = rk
	}

	var empty []int
	for _, rk := range runKeys {
		evs, err := readEmptyEVs(EmptyEVsPath(o, rk))
		if err != nil {
			return nil, nil, err
		}
		for _, ev := range evs {
			if !slices.Contains(empty, ev) {
				empty = append(empty, ev)
			}
		}
	}
	slices.Sort(empty)

	doc, err := m.document(layout.Level2)
	if err != nil {
		return nil, nil, err
	}
	job := newJob(o, k)
	job.EmptyEVs = empty

	doc.SetQuoted("fmri(regstandard)", m.regStandard())
	doc.SetQuoted("fmri(outputdir)", job.OutputDir)
	doc.Setf("fmri(npts)", "%d", len(runKeys))
	doc.Setf("fmri(multiple)", "%d", len(runKeys))
	doc.Setf("fmri(ncopeinputs)", "%d", ncopes)

	for i, rk := range runKeys {
		feat := o.ArtifactPath(rk)
		variants, err := o.Variants(rk)
		if err != nil {
			return nil, nil, err
		}
		if len(variants) > 0 {
			logger.Warn("Multiple level 1 outputs found for run, using the exact match.", "run", rk.Run, "path", feat, "variants", variants)
		}
		if err := m.ensureRegistration(ctx, feat); err != nil {
			return nil, nil, err
		}
		n := i + 1
		doc.SetQuoted(fmt.Sprintf("feat_files(%d)", n), feat)
		doc.Set(fmt.Sprintf("fmri(evg%d.1)", n), "1")
		doc.Set(fmt.Sprintf("fmri(groupmem.%d)", n), "1")
		job.Inputs = append(job.Inputs, feat)
	}

	for c := 1; c <= ncopes; c++ {
		doc.SetBool(fmt.Sprintf("fmri(copeinput.%d)", c), !slices.Contains(empty, c))
	}
	return job, doc, nil
}

// readEmptyEVs reads the empty-EV record of a level-1 unit. A missing record
// means no EV was empty.
func readEmptyEVs(path string) ([]int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var evs []int
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		n, err := strconv.Atoi(line)
		if err != nil {
			return nil, fmt.Errorf("%s: invalid EV index %q", path, line)
		}
		evs = append(evs, n)
	}
	return evs, sc.Err()
}

// ensureRegistration gives a level-1 output that skipped registration an
// identity registration so that higher levels can consume it.
func (m *Materializer) ensureRegistration(ctx context.Context, feat string) error {
	reg := filepath.Join(feat, "reg")
	if fsutil.IsDir(reg) {
		return nil
	}
	logger := ctxlog.FromContext(ctx).With("path", feat)
	logger.Info("Registration was not run at level 1, applying identity registration.")

	ident := filepath.Join(m.fslDir, "etc", "flirtsch", "ident.mat")
	if !fsutil.Exists(ident) {
		return faults.NotFound(ident, "identity matrix needed for the registration workaround is missing, check FSLDIR")
	}

	if err := os.MkdirAll(reg, 0o755); err != nil {
		return err
	}
	if err := os.RemoveAll(filepath.Join(feat, "reg_standard")); err != nil {
		return err
	}
	mats, err := filepath.Glob(filepath.Join(reg, "*.mat"))
	if err != nil {
		return err
	}
	for _, mat := range mats {
		if err := os.Remove(mat); err != nil {
			return err
		}
	}
	if err := fsutil.CopyFile(ident, filepath.Join(reg, "example_func2standard.mat")); err != nil {
		return err
	}

	meanFunc := filepath.Join(feat, "mean_func.nii.gz")
	if !fsutil.Exists(meanFunc) {
		logger.Warn("No mean_func.nii.gz found, registration has no standard image.")
		return nil
	}
	return fsutil.CopyFile(meanFunc, filepath.Join(reg, "standard.nii.gz"))
}
