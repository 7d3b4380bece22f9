// Package study models the subject/session/task/run namespace of a
// preprocessed dataset and discovers it from disk.
package study

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
)

const (
	SubjectTag = "sub-"
	SessionTag = "ses-"
)

// Layout is decided once per hierarchy and never re-inferred.
type Layout int

const (
	WithoutSessions Layout = iota
	WithSessions
)

func (l Layout) String() string {
	if l == WithSessions {
		return "with-sessions"
	}
	return "without-sessions"
}

// noSession is the session key used by every subject of a WithoutSessions
// hierarchy.
const noSession = ""

type taskRuns map[string][]string

// Hierarchy is subject -> session -> task -> runs. Subject and session keys
// keep their tags ("sub-01", "ses-02"); tasks and runs are opaque strings.
// All accessors return lexicographically sorted results.
type Hierarchy struct {
	layout   Layout
	subjects map[string]map[string]taskRuns
}

// New returns an empty hierarchy with the given layout.
func New(layout Layout) *Hierarchy {
	return &Hierarchy{layout: layout, subjects: make(map[string]map[string]taskRuns)}
}

func (h *Hierarchy) Layout() Layout    { return h.layout }
func (h *Hierarchy) HasSessions() bool { return h.layout == WithSessions }

// IsEmpty reports whether the hierarchy has no subjects at all.
func (h *Hierarchy) IsEmpty() bool { return len(h.subjects) == 0 }

// AddSubject registers a subject even if it ends up with no tasks.
func (h *Hierarchy) AddSubject(subject string) {
	if _, ok := h.subjects[subject]; !ok {
		h.subjects[subject] = make(map[string]taskRuns)
	}
}

// AddSession registers a session of a subject even if it has no tasks.
func (h *Hierarchy) AddSession(subject, session string) {
	h.AddSubject(subject)
	key := h.sessionKey(session)
	if _, ok := h.subjects[subject][key]; !ok {
		h.subjects[subject][key] = make(taskRuns)
	}
}

// Add records runs of a task. Duplicate runs are ignored.
func (h *Hierarchy) Add(subject, session, task string, runs ...string) {
	h.AddSession(subject, session)
	tasks := h.subjects[subject][h.sessionKey(session)]
	merged := tasks[task]
	for _, r := range runs {
		if !slices.Contains(merged, r) {
			merged = append(merged, r)
		}
	}
	slices.Sort(merged)
	if merged == nil {
		merged = []string{}
	}
	tasks[task] = merged
}

func (h *Hierarchy) sessionKey(session string) string {
	switch h.layout {
	case WithSessions:
		if session == noSession {
			panic("study: session required in a hierarchy with sessions")
		}
		return session
	default:
		return noSession
	}
}

// Subjects returns the subject keys.
func (h *Hierarchy) Subjects() []string {
	return slices.Sorted(maps.Keys(h.subjects))
}

// Sessions returns the session keys of a subject. Without sessions, a subject
// that has any tasks reports the single empty session "".
func (h *Hierarchy) Sessions(subject string) []string {
	return slices.Sorted(maps.Keys(h.subjects[subject]))
}

// Tasks returns the task names under a subject and session.
func (h *Hierarchy) Tasks(subject, session string) []string {
	sessions, ok := h.subjects[subject]
	if !ok {
		return nil
	}
	return slices.Sorted(maps.Keys(sessions[session]))
}

// Runs returns a copy of the runs of one task.
func (h *Hierarchy) Runs(subject, session, task string) []string {
	sessions, ok := h.subjects[subject]
	if !ok {
		return nil
	}
	return slices.Clone(sessions[session][task])
}

// Clone returns a deep copy.
func (h *Hierarchy) Clone() *Hierarchy {
	c := New(h.layout)
	for sub, sessions := range h.subjects {
		cs := make(map[string]taskRuns, len(sessions))
		for ses, tasks := range sessions {
			ct := make(taskRuns, len(tasks))
			for task, runs := range tasks {
				ct[task] = slices.Clone(runs)
			}
			cs[ses] = ct
		}
		c.subjects[sub] = cs
	}
	return c
}

// RemoveRun deletes one run and removes every ancestor left empty by the
// deletion. It reports whether the run was present.
func (h *Hierarchy) RemoveRun(subject, session, task, run string) bool {
	runs, ok := h.subjects[subject][session][task]
	if !ok {
		return false
	}
	i := slices.Index(runs, run)
	if i < 0 {
		return false
	}
	h.subjects[subject][session][task] = slices.Delete(runs, i, i+1)
	h.prune(subject, session, task)
	return true
}

// RemoveTask deletes a task with all its runs and cascades like RemoveRun.
func (h *Hierarchy) RemoveTask(subject, session, task string) bool {
	tasks, ok := h.subjects[subject][session]
	if !ok {
		return false
	}
	if _, ok := tasks[task]; !ok {
		return false
	}
	delete(tasks, task)
	h.prune(subject, session, "")
	return true
}

func (h *Hierarchy) prune(subject, session, task string) {
	sessions := h.subjects[subject]
	tasks := sessions[session]
	if task != "" && len(tasks[task]) == 0 {
		delete(tasks, task)
	}
	if len(tasks) == 0 {
		delete(sessions, session)
	}
	if len(sessions) == 0 {
		delete(h.subjects, subject)
	}
}

// Compact removes every empty task, session and subject.
func (h *Hierarchy) Compact() {
	for sub, sessions := range h.subjects {
		for ses, tasks := range sessions {
			for task, runs := range tasks {
				if len(runs) == 0 {
					delete(tasks, task)
				}
			}
			if len(tasks) == 0 {
				delete(sessions, ses)
			}
		}
		if len(sessions) == 0 {
			delete(h.subjects, sub)
		}
	}
}

// Tree returns the hierarchy as plain nested maps, omitting the session
// level when the layout has none.
func (h *Hierarchy) Tree() map[string]any {
	out := make(map[string]any, len(h.subjects))
	for sub, sessions := range h.subjects {
		if h.layout == WithSessions {
			ss := make(map[string]map[string][]string, len(sessions))
			for ses, tasks := range sessions {
				ss[ses] = plainTasks(tasks)
			}
			out[sub] = ss
			continue
		}
		out[sub] = plainTasks(sessions[noSession])
	}
	return out
}

func plainTasks(tasks taskRuns) map[string][]string {
	out := make(map[string][]string, len(tasks))
	for task, runs := range tasks {
		out[task] = append([]string{}, runs...)
	}
	return out
}

// MarshalJSON renders the restriction payload form of the hierarchy. Keys are
// sorted, so equal hierarchies encode to identical bytes.
func (h *Hierarchy) MarshalJSON() ([]byte, error) {
	return json.Marshal(h.Tree())
}

// String returns the JSON form, or an error marker.
func (h *Hierarchy) String() string {
	b, err := h.MarshalJSON()
	if err != nil {
		return fmt.Sprintf("<invalid hierarchy: %v>", err)
	}
	return string(b)
}
