// Package commands implements the CLI subcommands for the deploywait binary.
package commands

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/dwsmith1983/deploywait/pkg/types"
)

// Process exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitConfigError = 2
	ExitInterrupted = 130
)

// NewRootCmd creates the deploywait root command.
func NewRootCmd(version string) *cobra.Command {
	root := &cobra.Command{
		Use:   "deploywait",
		Short: "Block a pipeline until the deployments of a commit have succeeded",
		Long: `deploywait gates a CI/CD pipeline on deployments made by external
systems. It watches the GitHub deployments of one commit and succeeds once
every listed environment has a successful deployment status, or fails when
the time budget runs out.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(NewWaitCmd(version))
	return root
}

// ExitCode maps a command error to the process exit code.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var cfgErr *types.ConfigError
	switch {
	case errors.As(err, &cfgErr):
		return ExitConfigError
	case errors.Is(err, context.Canceled):
		return ExitInterrupted
	default:
		return ExitFailure
	}
}

// PrintError writes a command error for humans.
func PrintError(w io.Writer, err error) {
	red := color.New(color.FgRed)
	_, _ = red.Fprint(w, "Error: ")
	fmt.Fprintln(w, err)
}
