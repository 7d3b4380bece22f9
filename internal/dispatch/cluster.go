package dispatch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/vk/featflow/internal/ctxlog"
	"github.com/vk/featflow/internal/workset"
)

// ManifestFile is the name of the manifest written next to the script.
const ManifestFile = "jobs.yaml"

// ClusterOptions describe the job array.
type ClusterOptions struct {
	// Dir receives the manifest and the script.
	Dir string
	// Executable is the featflow binary the array tasks call.
	Executable string

	Account string
	Email   string
	Time    string
	Nodes   int

	// Submit hands the script to sbatch. Without it the files are only
	// written.
	Submit bool

	// Base is copied into the manifest; units, batch and digest are filled in.
	Base Manifest
}

// ScriptName is run_level<N>.sbatch.
func ScriptName(level int) string {
	return fmt.Sprintf("run_level%d.sbatch", level)
}

func (d *Dispatcher) clusterArray(ctx context.Context, batch string, units []workset.Unit, report *Report) error {
	logger := ctxlog.FromContext(ctx)
	c := d.cluster
	if c.Dir == "" {
		return fmt.Errorf("cluster mode needs an output directory")
	}
	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return err
	}

	m := c.Base
	m.Batch = batch
	m.SetUnits(units)
	report.Manifest = filepath.Join(c.Dir, ManifestFile)
	if err := WriteManifest(report.Manifest, &m); err != nil {
		return err
	}

	report.Script = filepath.Join(c.Dir, ScriptName(m.Level))
	script := renderScript(c, m.Level, report.Manifest, len(units))
	if err := os.WriteFile(report.Script, []byte(script), 0o755); err != nil {
		return fmt.Errorf("failed to write job array script: %w", err)
	}
	logger.Info("Job array written.", "script", report.Script, "manifest", report.Manifest, "tasks", len(units))

	if !c.Submit {
		return nil
	}
	if _, err := d.lookPath("sbatch"); err != nil {
		logger.Warn("sbatch was not found, running the array tasks here one after another.", "error", err)
		report.Results = d.sequential(ctx, batch, units)
		return nil
	}
	if err := d.submit(ctx, report.Script); err != nil {
		return err
	}
	report.Submitted = true
	return nil
}

func renderScript(c ClusterOptions, level int, manifest string, n int) string {
	exe := c.Executable
	if exe == "" {
		exe = "featflow"
	}
	nodes := c.Nodes
	if nodes <= 0 {
		nodes = 1
	}
	limit := c.Time
	if limit == "" {
		limit = "02:00:00"
	}

	var b strings.Builder
	line := func(format string, args ...any) {
		fmt.Fprintf(&b, format, args...)
		b.WriteByte('\n')
	}
	line("#!/bin/sh")
	line("#")
	line("#SBATCH -J featflow_level%d", level)
	if c.Account != "" {
		line("#SBATCH -A %s", c.Account)
	}
	line("#SBATCH -N %d", nodes)
	line("#SBATCH -c 1")
	line("#SBATCH --time=%s", limit)
	if c.Email != "" {
		line("#SBATCH --mail-user=%s", c.Email)
		line("#SBATCH --mail-type=ALL")
	}
	line("#SBATCH --array=0-%d", n-1)
	line("#----------------")
	line("# Job Submission")
	line("#----------------")
	line("%s job --manifest %s --index $SLURM_ARRAY_TASK_ID", shellQuote(exe), shellQuote(manifest))
	return b.String()
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
