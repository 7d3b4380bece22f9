package cli

import (
	"context"
	"errors"
	"io"

	"github.com/spf13/cobra"
)

// ExitError is a custom error type that includes a specific exit code.
type ExitError struct {
	Code    int
	Message string
}

// Error implements the error interface for ExitError.
func (e *ExitError) Error() string {
	return e.Message
}

func usageError(err error) *ExitError {
	return &ExitError{Code: 2, Message: err.Error()}
}

func runtimeError(err error) *ExitError {
	return &ExitError{Code: 1, Message: err.Error()}
}

// rootFlags are shared by every subcommand.
type rootFlags struct {
	logLevel  string
	logFormat string
}

// NewRootCmd builds the featflow command tree. Payloads go to the command's
// output writer, logs to its error writer.
func NewRootCmd() *cobra.Command {
	rf := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "featflow",
		Short:         "featflow - discover, reduce and dispatch FSL FEAT analyses",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return usageError(err)
	})

	cmd.PersistentFlags().StringVar(&rf.logLevel, "log-level", "info", "Set the logging level. Options: 'debug', 'info', 'warn', 'error'.")
	cmd.PersistentFlags().StringVar(&rf.logFormat, "log-format", "text", "Log output format. Options: 'text' or 'json'.")

	cmd.AddCommand(newScanCmd(rf))
	cmd.AddCommand(newPlanCmd(rf))
	cmd.AddCommand(newRunCmd(rf))
	cmd.AddCommand(newJobCmd(rf))
	return cmd
}

// Execute runs the command tree with args. Any error that is not already an
// *ExitError comes from cobra itself (unknown command, bad arguments) and is
// reported as a usage error.
func Execute(ctx context.Context, args []string, outW, errW io.Writer) error {
	root := NewRootCmd()
	root.SetArgs(args)
	root.SetOut(outW)
	root.SetErr(errW)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return nil
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr
	}
	return usageError(err)
}
