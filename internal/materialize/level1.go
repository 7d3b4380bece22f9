package materialize

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/vk/featflow/internal/ctxlog"
	"github.com/vk/featflow/internal/faults"
	"github.com/vk/featflow/internal/fsf"
	"github.com/vk/featflow/internal/fsutil"
	"github.com/vk/featflow/internal/layout"
	"github.com/vk/featflow/internal/model"
	"github.com/vk/featflow/internal/nifti"
	"github.com/vk/featflow/internal/workset"
)

const (
	niftiExt     = ".nii.gz"
	maskSuffix   = "_brainmask.nii.gz"
	maskedSuffix = "_preproc_brain.nii.gz"
	standardTag  = "MNI152NLin2009cAsym"
)

// preprocDir is fmriprep/<sub>[/<ses>].
func (m *Materializer) preprocDir(sub, ses string) string {
	return filepath.Join(m.oracle().StudyDir, "fmriprep", sub, ses)
}

// pickOne returns the single candidate, or the one named <head><spacetag>.nii.gz
// in one of dirs when several match.
func pickOne(what string, dirs []string, head, spacetag string, candidates []string) (string, error) {
	switch len(candidates) {
	case 0:
		return "", faults.NotFound(strings.Join(dirs, ", "), "could not find preprocessed %s file", what)
	case 1:
		return candidates[0], nil
	}
	if spacetag != "" {
		for _, dir := range dirs {
			p := filepath.Join(dir, head+spacetag+niftiExt)
			if fsutil.Exists(p) {
				return p, nil
			}
		}
	}
	return "", faults.Ambiguous(strings.Join(dirs, ", "), candidates,
		"found multiple preprocessed %s files, set spacetag to choose one", what)
}

func (m *Materializer) resolveAnat(sub, ses string) (string, error) {
	type source struct {
		dir      string
		prefixes []string
	}
	sources := []source{{dir: filepath.Join(m.preprocDir(sub, ""), "anat"), prefixes: []string{sub}}}
	if ses != "" {
		sources = append(sources, source{
			dir:      filepath.Join(m.preprocDir(sub, ses), "anat"),
			prefixes: []string{sub, layout.FilePrefix(sub, ses)},
		})
	}

	var dirs, candidates []string
	for _, src := range sources {
		dirs = append(dirs, src.dir)
		names, err := fsutil.ListNames(src.dir, func(name string) bool {
			return hasAnyPrefix(name, src.prefixes) &&
				strings.Contains(name, "space") &&
				strings.Contains(name, "preproc") &&
				strings.Contains(name, "T1w") &&
				strings.HasSuffix(name, niftiExt)
		})
		if err != nil {
			return "", err
		}
		for _, n := range names {
			candidates = append(candidates, filepath.Join(src.dir, n))
		}
	}
	return pickOne("anatomical", dirs, sub, m.model.Params.SpaceTag, candidates)
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}

// funcInputs are the functional files of one run.
type funcInputs struct {
	bold string
	// mask and masked are set when the model masks the run with its brain mask.
	mask   string
	masked string
}

func (m *Materializer) resolveFunc(k layout.Key) (funcInputs, error) {
	funcDir := filepath.Join(m.preprocDir(k.Subject, k.Session), "func")
	head := fmt.Sprintf("%s_task-%s_run-%s", layout.FilePrefix(k.Subject, k.Session), k.Task, k.Run)

	names, err := fsutil.ListNames(funcDir, func(name string) bool {
		return strings.HasPrefix(name, head) &&
			strings.Contains(name, "preproc") &&
			strings.Contains(name, "bold") &&
			!strings.Contains(name, "brain") &&
			strings.HasSuffix(name, niftiExt)
	})
	if err != nil {
		return funcInputs{}, err
	}
	candidates := make([]string, len(names))
	for i, n := range names {
		candidates[i] = filepath.Join(funcDir, n)
	}
	bold, err := pickOne("functional", []string{funcDir}, head, m.model.Params.SpaceTag, candidates)
	if err != nil {
		return funcInputs{}, err
	}
	in := funcInputs{bold: bold}
	if !m.model.Params.UseBrainMask {
		return in, nil
	}

	masks, err := fsutil.ListNames(funcDir, func(name string) bool {
		return strings.HasPrefix(name, head) && strings.HasSuffix(name, maskSuffix)
	})
	if err != nil {
		return funcInputs{}, err
	}
	if len(masks) == 0 {
		return funcInputs{}, faults.NotFound(funcDir, "usebrainmask is set but no brain mask was found for %s", head)
	}
	// The last match wins when several masks exist.
	mask := masks[len(masks)-1]
	in.mask = filepath.Join(funcDir, mask)
	in.masked = filepath.Join(funcDir, strings.TrimSuffix(mask, maskSuffix)+maskedSuffix)
	return in, nil
}

// evFile returns the event file of a condition, trying .txt then .tsv.
func evFile(onsets, stem string) (string, bool) {
	for _, ext := range []string{".txt", ".tsv"} {
		p := filepath.Join(onsets, stem+ext)
		if fsutil.Exists(p) {
			return p, true
		}
	}
	return "", false
}

func confoundFile(onsets, stem string) (string, bool) {
	for _, ext := range []string{".tsv", ".txt"} {
		p := filepath.Join(onsets, stem+"_ev-confounds"+ext)
		if fsutil.Exists(p) {
			return p, true
		}
	}
	return "", false
}

func (m *Materializer) level1(ctx context.Context, u workset.Unit) (*ResolvedJob, *fsf.Document, error) {
	logger := ctxlog.FromContext(ctx)
	k := u.Key
	o := m.oracle()
	params := m.model.Params

	subDir := m.preprocDir(k.Subject, k.Session)
	if !fsutil.IsDir(subDir) {
		return nil, nil, faults.NotFound(subDir, "no fmriprep folder for this subject")
	}

	anat, err := m.resolveAnat(k.Subject, k.Session)
	if err != nil {
		return nil, nil, err
	}
	fn, err := m.resolveFunc(k)
	if err != nil {
		return nil, nil, err
	}
	if !strings.Contains(filepath.Base(fn.bold), standardTag) && !params.DoReg {
		logger.Warn("Functional file does not appear to be in standard space, you may want to enable registration.",
			"path", fn.bold, "space", standardTag)
	}

	conditions, err := m.model.Conditions(k.Task)
	if err != nil {
		return nil, nil, err
	}
	contrasts, err := m.model.Contrasts(k.Task)
	if err != nil {
		return nil, nil, err
	}

	hdr, err := nifti.ReadFile(fn.bold)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read header of %s: %w", fn.bold, err)
	}

	doc, err := m.document(layout.Level1)
	if err != nil {
		return nil, nil, err
	}

	job := newJob(o, k)
	unitDir := o.UnitDir(k)
	onsets := filepath.Join(unitDir, "onsets")
	stem := o.Stem(k)

	anatImg := params.AnatImg
	if anatImg == "" {
		anatImg = filepath.Join(subDir, "anatomy", "highres001_brain")
	}

	doc.SetBool("fmri(regstandard_nonlinear_yn)", params.Nonlinear)
	doc.Set("fmri(ndelete)", "0")
	doc.SetBool("fmri(reg_yn)", params.DoReg)
	doc.SetBool("fmri(reginitial_highres_yn)", params.DoReg)
	doc.SetBool("fmri(reghighres_yn)", params.DoReg)
	doc.SetBool("fmri(regstandard_yn)", params.DoReg)
	doc.SetQuoted("fmri(regstandard)", m.regStandard())
	doc.SetQuoted("fmri(outputdir)", job.OutputDir)

	featInput := fn.bold
	if fn.masked != "" {
		featInput = fn.masked
		job.PreCommands = append(job.PreCommands, []string{"fslmaths", fn.bold, "-mas", fn.mask, fn.masked})
	}
	doc.SetQuoted("feat_files(1)", featInput)
	job.Inputs = append(job.Inputs, fn.bold)

	if params.UseInplane == 1 {
		doc.Set("fmri(reginitial_highres_yn)", "1")
		doc.SetQuoted("initial_highres_files(1)", anat)
		job.Inputs = append(job.Inputs, anat)
	} else {
		doc.Set("fmri(reginitial_highres_yn)", "0")
	}
	doc.SetBool("fmri(prewhiten_yn)", params.Whiten)
	doc.SetBool("fmri(temphp_yn)", params.HPF)
	doc.SetQuoted("highres_files(1)", anatImg)
	doc.Setf("fmri(npts)", "%d", hdr.Volumes())
	doc.Setf("fmri(tr)", "%0.2f", hdr.RepetitionTime())

	nevs := len(conditions)
	ncon := nevs + 1 + len(contrasts)
	doc.Setf("fmri(evs_orig)", "%d", nevs)
	doc.Setf("fmri(evs_real)", "%d", 2*nevs)
	doc.Setf("fmri(smooth)", "%d", params.Smoothing)
	doc.Setf("fmri(ncon_orig)", "%d", ncon)
	doc.Setf("fmri(ncon_real)", "%d", ncon)

	for i, cond := range conditions {
		ev := i + 1
		doc.Blank()
		doc.Blank()
		doc.SetQuoted(fmt.Sprintf("fmri(evtitle%d)", ev), cond.Name)

		evStem := fmt.Sprintf("%s_ev-%03d", stem, cond.EV)
		if path, ok := evFile(onsets, evStem); ok {
			doc.Set(fmt.Sprintf("fmri(shape%d)", ev), "3")
			doc.SetQuoted(fmt.Sprintf("fmri(custom%d)", ev), path)
			job.Inputs = append(job.Inputs, path)
		} else {
			doc.Set(fmt.Sprintf("fmri(shape%d)", ev), "10")
			logger.Warn("Event file is missing, using an empty EV.", "condition", cond.Name, "path", filepath.Join(onsets, evStem+".txt"))
			job.EmptyEVs = append(job.EmptyEVs, ev)
		}
		doc.Set(fmt.Sprintf("fmri(convolve%d)", ev), "3")
		doc.Set(fmt.Sprintf("fmri(convolve_phase%d)", ev), "0")
		doc.Set(fmt.Sprintf("fmri(tempfilt_yn%d)", ev), "1")
		doc.Set(fmt.Sprintf("fmri(deriv_yn%d)", ev), "1")
		for other := 0; other <= nevs; other++ {
			doc.Set(fmt.Sprintf("fmri(ortho%d.%d)", ev, other), "0")
		}

		doc.Set(fmt.Sprintf("fmri(conpic_real.%d)", ev), "1")
		doc.Set(fmt.Sprintf("fmri(conpic_orig.%d)", ev), "1")
		doc.SetQuoted(fmt.Sprintf("fmri(conname_real.%d)", ev), cond.Name)
		doc.SetQuoted(fmt.Sprintf("fmri(conname_orig.%d)", ev), cond.Name)
		// Real EVs interleave each condition with its temporal derivative.
		for j := 0; j < 2*nevs; j++ {
			doc.SetBool(fmt.Sprintf("fmri(con_real%d.%d)", ev, j+1), j == 2*i)
		}
		for j := 0; j < nevs; j++ {
			doc.SetBool(fmt.Sprintf("fmri(con_orig%d.%d)", ev, j+1), j == i)
		}
	}

	if len(job.EmptyEVs) > 0 {
		lines := make([]string, len(job.EmptyEVs))
		for i, ev := range job.EmptyEVs {
			lines[i] = strconv.Itoa(ev)
		}
		if err := os.MkdirAll(onsets, 0o755); err != nil {
			return nil, nil, err
		}
		if err := fsutil.WriteLines(EmptyEVsPath(o, k), lines); err != nil {
			return nil, nil, fmt.Errorf("failed to record empty EVs: %w", err)
		}
	}

	all := nevs + 1
	doc.Set(fmt.Sprintf("fmri(conpic_real.%d)", all), "1")
	doc.SetQuoted(fmt.Sprintf("fmri(conname_real.%d)", all), "all")
	doc.SetQuoted(fmt.Sprintf("fmri(conname_orig.%d)", all), "all")
	for j := 0; j < 2*nevs; j++ {
		doc.SetBool(fmt.Sprintf("fmri(con_real%d.%d)", all, j+1), j%2 == 0)
	}
	for j := 0; j < nevs; j++ {
		doc.Set(fmt.Sprintf("fmri(con_orig%d.%d)", all, j+1), "1")
	}

	writeContrasts(doc, all+1, nevs, contrasts)

	if path, ok := confoundFile(onsets, stem); ok && params.Confound {
		doc.Set("fmri(confoundevs)", "1")
		doc.SetQuoted("confoundev_files(1)", path)
		job.Inputs = append(job.Inputs, path)
	} else {
		logger.Debug("No confounds file used.", "onsets", onsets, "confound", params.Confound)
		doc.Set("fmri(confoundevs)", "0")
	}
	return job, doc, nil
}

// writeContrasts numbers custom contrasts from first. Weights beyond the
// vector's length are zero.
func writeContrasts(doc *fsf.Document, first, nevs int, contrasts []model.Contrast) {
	for i, c := range contrasts {
		n := first + i
		doc.Set(fmt.Sprintf("fmri(conpic_real.%d)", n), "1")
		doc.SetQuoted(fmt.Sprintf("fmri(conname_real.%d)", n), c.Name)
		doc.SetQuoted(fmt.Sprintf("fmri(conname_orig.%d)", n), c.Name)
		for j := 0; j < nevs; j++ {
			doc.Set(fmt.Sprintf("fmri(con_real%d.%d)", n, 2*j+1), weight(c, j))
			doc.Set(fmt.Sprintf("fmri(con_real%d.%d)", n, 2*j+2), "0")
		}
		for j := 0; j < nevs; j++ {
			doc.Set(fmt.Sprintf("fmri(con_orig%d.%d)", n, j+1), weight(c, j))
		}
	}
}

func weight(c model.Contrast, i int) string {
	if i < len(c.Weights) {
		return c.Weights[i]
	}
	return "0"
}

// EmptyEVsPath is where a level-1 unit records the positions of its empty EVs.
func EmptyEVsPath(o layout.Oracle, k layout.Key) string {
	return filepath.Join(o.UnitDir(k), "onsets", o.Stem(k)+"_empty_evs.txt")
}
