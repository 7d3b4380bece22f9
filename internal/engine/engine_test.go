package engine

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/featflow/internal/layout"
	"github.com/vk/featflow/internal/materialize"
	"github.com/vk/featflow/internal/testutil"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExecRunner(t *testing.T) {
	t.Parallel()
	requireShell(t)

	testCases := []struct {
		name     string
		pre      [][]string
		command  []string
		wantOut  string
		wantErr  string
		wantFile bool
	}{
		{
			name:     "pre-commands run first",
			pre:      [][]string{{"sh", "-c", "echo pre > \"$0\"", "{marker}"}},
			command:  []string{"sh", "-c", "cat \"$0\"", "{marker}"},
			wantOut:  "pre\n",
			wantFile: true,
		},
		{
			name:    "failing command",
			command: []string{"sh", "-c", "exit 3"},
			wantErr: "exit status 3",
		},
		{
			name:    "failing pre-command stops the job",
			pre:     [][]string{{"sh", "-c", "exit 1"}},
			command: []string{"sh", "-c", "echo never"},
			wantErr: "exit status 1",
		},
		{
			name:    "no command",
			wantErr: "has no command",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			ctx, logs := testutil.LogContext(t)
			marker := filepath.Join(t.TempDir(), "marker")
			subst := func(argv []string) []string {
				out := make([]string, len(argv))
				for i, a := range argv {
					if a == "{marker}" {
						a = marker
					}
					out[i] = a
				}
				return out
			}

			job := &materialize.ResolvedJob{Key: layout.Key{Level: layout.Level1, Subject: "sub-01", Task: "flanker", Run: "1"}}
			for _, p := range tc.pre {
				job.PreCommands = append(job.PreCommands, subst(p))
			}
			if tc.command != nil {
				job.Command = subst(tc.command)
			}

			var out bytes.Buffer
			err := (&ExecRunner{Stdout: &out}).Run(ctx, job)
			if tc.wantErr != "" {
				require.ErrorContains(t, err, tc.wantErr)
				assert.NotContains(t, out.String(), "never")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.wantOut, out.String())
			assert.Contains(t, logs.String(), "Calling engine.")
			_, statErr := os.Stat(marker)
			assert.Equal(t, tc.wantFile, statErr == nil)
		})
	}
}

func TestExecRunner_CapturesOutputOnFailure(t *testing.T) {
	t.Parallel()
	requireShell(t)
	ctx, _ := testutil.LogContext(t)

	job := &materialize.ResolvedJob{Command: []string{"sh", "-c", "echo boom >&2; exit 2"}}
	err := (&ExecRunner{}).Run(ctx, job)
	require.ErrorContains(t, err, "boom")
}

func TestNoopRunner(t *testing.T) {
	t.Parallel()
	ctx, logs := testutil.LogContext(t)
	require.NoError(t, NoopRunner{}.Run(ctx, &materialize.ResolvedJob{ConfigPath: "/x/design.fsf"}))
	assert.Contains(t, logs.String(), "/x/design.fsf")
}
