package study

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/vk/featflow/internal/ctxlog"
	"github.com/vk/featflow/internal/faults"
	"github.com/vk/featflow/internal/fsutil"
)

const funcDirName = "func"

// IsPreprocessedBold reports whether name is a primary preprocessed
// functional image. Brain-extracted derivatives are excluded so that a run is
// never counted twice.
func IsPreprocessedBold(name string) bool {
	return strings.Contains(name, "preproc") &&
		strings.Contains(name, "bold") &&
		!strings.Contains(name, "brain")
}

// ParseTaskRun extracts the task and run tokens embedded in a file name such
// as sub-01_task-flanker_run-1_bold_preproc.nii.gz. The run token must be
// followed by another underscore-separated field.
func ParseTaskRun(name string) (task, run string, ok bool) {
	const taskFlag, runFlag = "_task-", "_run-"

	i := strings.Index(name, taskFlag)
	if i < 0 {
		return "", "", false
	}
	rest := name[i+len(taskFlag):]
	j := strings.Index(rest, runFlag)
	if j < 0 {
		return "", "", false
	}
	task = rest[:j]
	rest = rest[j+len(runFlag):]
	k := strings.Index(rest, "_")
	if k <= 0 {
		return "", "", false
	}
	return task, rest[:k], true
}

// Scan discovers the hierarchy under root, the preprocessed data directory
// holding one sub-* folder per subject.
//
// Session detection is a two-pass probe. The first pass assumes subjects
// hold func/ directly. If the first subject comes back with no tasks, the
// data must sit one level deeper and the tree is rescanned assuming ses-*
// folders. This requires the first subject to have at least one task; a
// dataset whose first subject has none is misclassified as sessioned.
func Scan(ctx context.Context, root string) (*Hierarchy, error) {
	logger := ctxlog.FromContext(ctx).With("root", root)

	if !fsutil.IsDir(root) {
		return nil, faults.NotFound(root, "preprocessed data directory does not exist")
	}

	h, err := scanAs(ctx, root, WithoutSessions)
	if err != nil {
		return nil, err
	}
	if firstSubjectEmpty(h) {
		logger.Debug("First subject has no tasks at the top level, rescanning for sessions.")
		h, err = scanAs(ctx, root, WithSessions)
		if err != nil {
			return nil, err
		}
	}

	logger.Debug("Hierarchy scan complete.", "subjects", len(h.subjects), "layout", h.layout.String())
	return h, nil
}

func firstSubjectEmpty(h *Hierarchy) bool {
	subs := h.Subjects()
	return len(subs) > 0 && len(h.subjects[subs[0]]) == 0
}

func scanAs(ctx context.Context, root string, layout Layout) (*Hierarchy, error) {
	logger := ctxlog.FromContext(ctx)

	subjects, err := fsutil.ListDirs(root, SubjectTag)
	if err != nil {
		return nil, err
	}

	h := New(layout)
	for _, sub := range subjects {
		h.AddSubject(sub)
		subDir := filepath.Join(root, sub)

		if layout == WithoutSessions {
			if err := collectTaskRuns(h, sub, noSession, filepath.Join(subDir, funcDirName)); err != nil {
				return nil, err
			}
			continue
		}

		sessions, err := fsutil.ListDirs(subDir, SessionTag)
		if err != nil {
			logger.Debug("Skipping unreadable subject directory.", "subject", sub, "error", err)
			continue
		}
		for _, ses := range sessions {
			h.AddSession(sub, ses)
			if err := collectTaskRuns(h, sub, ses, filepath.Join(subDir, ses, funcDirName)); err != nil {
				return nil, err
			}
		}
	}
	return h, nil
}

func collectTaskRuns(h *Hierarchy, subject, session, funcDir string) error {
	names, err := fsutil.ListNames(funcDir, IsPreprocessedBold)
	if err != nil {
		return err
	}
	for _, name := range names {
		task, run, ok := ParseTaskRun(name)
		if !ok {
			continue
		}
		h.Add(subject, session, task, run)
	}
	return nil
}
