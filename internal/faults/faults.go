// Package faults defines the failure kinds shared by discovery, materialization
// and dispatch. Callers test for a kind with errors.Is.
package faults

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrAmbiguousInput    = errors.New("ambiguous input")
	ErrMissingDependency = errors.New("missing dependency")
	ErrEmptyAggregate    = errors.New("empty aggregate")
)

// Error carries a failure kind together with the path it concerns.
type Error struct {
	Kind       error
	Path       string
	Msg        string
	Candidates []string
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Msg != "" {
		b.WriteString(": ")
		b.WriteString(e.Msg)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " (%s)", e.Path)
	}
	if len(e.Candidates) > 0 {
		fmt.Fprintf(&b, " candidates: %s", strings.Join(e.Candidates, ", "))
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Kind }

// NotFound reports a missing directory or mandatory file.
func NotFound(path, format string, args ...any) error {
	return &Error{Kind: ErrNotFound, Path: path, Msg: fmt.Sprintf(format, args...)}
}

// Ambiguous reports that more than one candidate matched a single-file pattern.
func Ambiguous(dir string, candidates []string, format string, args ...any) error {
	return &Error{Kind: ErrAmbiguousInput, Path: dir, Msg: fmt.Sprintf(format, args...), Candidates: candidates}
}

// MissingDependency reports a prior-level output that does not exist.
func MissingDependency(path, format string, args ...any) error {
	return &Error{Kind: ErrMissingDependency, Path: path, Msg: fmt.Sprintf(format, args...)}
}

// EmptyAggregate reports a group aggregate with no includable members.
func EmptyAggregate(path, format string, args ...any) error {
	return &Error{Kind: ErrEmptyAggregate, Path: path, Msg: fmt.Sprintf(format, args...)}
}
