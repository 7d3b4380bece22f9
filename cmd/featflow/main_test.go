package main

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/vk/featflow/internal/cli"
)

func TestRun_Help(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	args := []string{"-h"}
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}

	// --- Act ---
	err := run(out, errOut, args)

	// --- Assert ---
	require.NoError(t, err, "run() should return a nil error when help is requested")
	require.Contains(t, out.String(), "Usage:", "Expected help text to be printed to the output buffer")
}

func TestRun_ParseError(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// An unknown flag is a usage error.
	args := []string{"scan", "--this-is-not-a-valid-flag"}
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}

	// --- Act ---
	err := run(out, errOut, args)

	// --- Assert ---
	require.Error(t, err, "run() should return an error when argument parsing fails")
	var exitErr *cli.ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 2, exitErr.Code)
	require.Contains(t, err.Error(), "unknown flag: --this-is-not-a-valid-flag")
}

func TestRun_DiscoveryError(t *testing.T) {
	t.Parallel()

	// --- Arrange ---
	// A study without preprocessed data fails before anything is scheduled.
	args := []string{"scan", "--basedir", t.TempDir(), "--studyid", "ds404"}
	out, errOut := &bytes.Buffer{}, &bytes.Buffer{}

	// --- Act ---
	err := run(out, errOut, args)

	// --- Assert ---
	require.Error(t, err)
	var exitErr *cli.ExitError
	require.True(t, errors.As(err, &exitErr))
	require.Equal(t, 1, exitErr.Code)
	require.Empty(t, out.String(), "nothing should be printed on stdout")
}
