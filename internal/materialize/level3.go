package materialize

import (
	"context"
	"fmt"

	"github.com/vk/featflow/internal/ctxlog"
	"github.com/vk/featflow/internal/faults"
	"github.com/vk/featflow/internal/fsf"
	"github.com/vk/featflow/internal/fsutil"
	"github.com/vk/featflow/internal/layout"
	"github.com/vk/featflow/internal/workset"
)

const (
	mixedKey        = "fmri(mixed_yn)"
	permutationsKey = "fmri(randomisePermutations)"
	threshKey       = "fmri(thresh)"
	randomiseMixed  = "4"
)

// randomiseSettings returns the overrides that switch a group design to
// randomise, keeping permutation and threshold values the custom stub sets.
func randomiseSettings(custom []fsf.Setting) ([]fsf.Setting, error) {
	set := make(map[string]string, len(custom))
	for _, s := range custom {
		set[s.Key] = s.Value
	}
	if v, ok := set[mixedKey]; ok && v != randomiseMixed {
		return nil, fmt.Errorf("custom stub sets %s to %s, which conflicts with randomise", mixedKey, v)
	}
	out := []fsf.Setting{{Key: mixedKey, Value: randomiseMixed}}
	if _, ok := set[permutationsKey]; !ok {
		out = append(out, fsf.Setting{Key: permutationsKey, Value: "5000", Note: "Higher-level permutations"})
	}
	if _, ok := set[threshKey]; !ok {
		out = append(out, fsf.Setting{Key: threshKey, Value: "4"})
	}
	return out, nil
}

func (m *Materializer) level3(ctx context.Context, u workset.Unit) (*ResolvedJob, *fsf.Document, error) {
	logger := ctxlog.FromContext(ctx)
	k := u.Key
	o := m.oracle()

	custom, err := m.model.CustomSettings(layout.Level3)
	if err != nil {
		return nil, nil, err
	}
	if m.randomise {
		extra, err := randomiseSettings(custom)
		if err != nil {
			return nil, nil, err
		}
		custom = append(custom, extra...)
	}
	doc, err := fsf.New(int(layout.Level3), custom)
	if err != nil {
		return nil, nil, err
	}

	job := newJob(o, k)
	doc.SetQuoted("fmri(regstandard)", m.regStandard())
	doc.SetQuoted("fmri(outputdir)", job.OutputDir)

	n := 0
	for _, sub := range u.Subjects {
		input := o.CopeInput(sub, k.Session, k.Task, k.Cope)
		if !fsutil.Exists(input) {
			job.Excluded = append(job.Excluded, input)
			continue
		}
		n++
		doc.SetQuoted(fmt.Sprintf("feat_files(%d)", n), input)
		doc.Set(fmt.Sprintf("fmri(evg%d.1)", n), "1")
		doc.Set(fmt.Sprintf("fmri(groupmem.%d)", n), "1")
		job.Inputs = append(job.Inputs, input)
	}
	if n == 0 {
		return nil, nil, faults.EmptyAggregate(o.UnitDir(k), "no subject has level 2 output for cope %d", k.Cope)
	}
	for _, missing := range job.Excluded {
		logger.Warn("Subject has no output for this cope, left out of the group.", "path", missing)
	}
	doc.Setf("fmri(npts)", "%d", n)
	doc.Setf("fmri(multiple)", "%d", n)
	return job, doc, nil
}
