// Package engine is the boundary to the external analysis engine. A Runner
// executes the commands of a resolved job and owns nothing else: retries,
// crash recovery and timeouts are the engine's concern.
package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/vk/featflow/internal/ctxlog"
	"github.com/vk/featflow/internal/materialize"
)

// Runner runs one resolved job to completion.
type Runner interface {
	Run(ctx context.Context, job *materialize.ResolvedJob) error
}

// ExecRunner runs the pre-commands and then the engine command of a job as
// child processes. Output of the children is copied to Stdout and Stderr when
// set; otherwise it is captured and attached to the error of a failed command.
type ExecRunner struct {
	Stdout io.Writer
	Stderr io.Writer
}

// Run implements Runner.
func (r *ExecRunner) Run(ctx context.Context, job *materialize.ResolvedJob) error {
	if len(job.Command) == 0 {
		return fmt.Errorf("job %s has no command", job.Key)
	}
	for _, argv := range append(append([][]string{}, job.PreCommands...), job.Command) {
		if err := r.run(ctx, argv); err != nil {
			return fmt.Errorf("job %s: %w", job.Key, err)
		}
	}
	return nil
}

func (r *ExecRunner) run(ctx context.Context, argv []string) error {
	logger := ctxlog.FromContext(ctx)
	logger.Info("Calling engine.", "command", strings.Join(argv, " "))

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	var captured bytes.Buffer
	cmd.Stdout = orBuffer(r.Stdout, &captured)
	cmd.Stderr = orBuffer(r.Stderr, &captured)

	if err := cmd.Run(); err != nil {
		if out := strings.TrimSpace(captured.String()); out != "" {
			return fmt.Errorf("%s failed: %w: %s", argv[0], err, out)
		}
		return fmt.Errorf("%s failed: %w", argv[0], err)
	}
	return nil
}

func orBuffer(w io.Writer, buf *bytes.Buffer) io.Writer {
	if w != nil {
		return w
	}
	return buf
}

// NoopRunner leaves the design file for the operator to run.
type NoopRunner struct{}

// Run implements Runner.
func (NoopRunner) Run(ctx context.Context, job *materialize.ResolvedJob) error {
	ctxlog.FromContext(ctx).Info("Engine disabled, design file written.", "config", job.ConfigPath)
	return nil
}
