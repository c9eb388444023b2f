package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/dwsmith1983/deploywait/internal/config"
	"github.com/dwsmith1983/deploywait/internal/gate"
	"github.com/dwsmith1983/deploywait/internal/github"
	"github.com/dwsmith1983/deploywait/internal/report"
	"github.com/dwsmith1983/deploywait/internal/secrets"
	"github.com/dwsmith1983/deploywait/internal/telemetry"
	"github.com/dwsmith1983/deploywait/internal/watcher"
	"github.com/dwsmith1983/deploywait/pkg/types"
)

const telemetryFlushTimeout = 5 * time.Second

// TokenResolver turns a token reference into the token itself.
type TokenResolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// waitDeps holds the collaborators runWait builds on. Tests replace them.
type waitDeps struct {
	version        string
	stderr         io.Writer
	resolver       TokenResolver
	newClient      func(ctx context.Context, token, apiURL string) (watcher.StatusClient, error)
	reportOptions  []report.Option
	watcherOptions []watcher.Option
}

func defaultWaitDeps(version string) waitDeps {
	return waitDeps{
		version:  version,
		stderr:   os.Stderr,
		resolver: secrets.NewResolver(),
		newClient: func(ctx context.Context, token, apiURL string) (watcher.StatusClient, error) {
			return github.New(ctx, token, apiURL)
		},
	}
}

// NewWaitCmd creates the wait command.
func NewWaitCmd(version string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "wait",
		Short: "Wait until every listed environment has a successful deployment for a commit",
		Long: `Wait polls the GitHub deployments API for the given commit until each
watched environment reports a successful deployment, then emits a map of
project name to {projectName, environment, url}.

Inputs come from flags, DEPLOYWAIT_* variables, GitHub Actions INPUT_*
variables, or a YAML file given with --config.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runWait(cmd.Context(), cmd.Flags(), defaultWaitDeps(version))
		},
	}
	config.RegisterFlags(cmd.Flags())
	return cmd
}

func runWait(ctx context.Context, fs *pflag.FlagSet, deps waitDeps) error {
	v, err := config.NewViper(fs)
	if err != nil {
		return err
	}
	s, err := config.Load(v)
	if err != nil {
		return err
	}

	runID := gate.NewRunID()
	logger, err := newLogger(deps.stderr, s.LogLevel)
	if err != nil {
		return err
	}
	logger = logger.With("runID", runID)

	shutdown, err := telemetry.Setup(ctx, "deploywait", deps.version)
	if err != nil {
		logger.Warn("telemetry disabled", "error", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), telemetryFlushTimeout)
		defer cancel()
		if err := shutdown(flushCtx); err != nil {
			logger.Warn("flushing telemetry", "error", err)
		}
	}()

	token, err := deps.resolver.Resolve(ctx, s.GitHub.Token)
	if err != nil {
		return fmt.Errorf("resolving github token: %w", err)
	}
	client, err := deps.newClient(ctx, token, s.GitHub.APIURL)
	if err != nil {
		return fmt.Errorf("creating github client: %w", err)
	}
	dispatcher, err := report.FromConfig(ctx, s.Output, logger, deps.reportOptions...)
	if err != nil {
		return fmt.Errorf("configuring result sinks: %w", err)
	}
	logger.Debug("result sinks", "sinks", dispatcher.Sinks())

	res, err := gate.Run(ctx, gate.Params{
		RunID:          runID,
		Config:         s.Run,
		Client:         client,
		Reporter:       dispatcher,
		Logger:         logger,
		WatcherOptions: deps.watcherOptions,
	})
	if err == nil {
		printReady(deps.stderr, res)
	}
	return err
}

func newLogger(w io.Writer, level string) (*slog.Logger, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, &types.ConfigError{Field: config.KeyLogLevel, Err: err}
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}

func printReady(w io.Writer, res types.Result) {
	green := color.New(color.FgGreen)
	_, _ = green.Fprintf(w, "All %d deployments ready for %s/%s@%s\n", len(res.Deployments), res.Owner, res.Repo, res.SHA)

	projects := make([]string, 0, len(res.Deployments))
	for p := range res.Deployments {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	for _, p := range projects {
		rec := res.Deployments[p]
		if rec.URL != "" {
			fmt.Fprintf(w, "  %s (%s): %s\n", p, rec.Environment, rec.URL)
		} else {
			fmt.Fprintf(w, "  %s (%s)\n", p, rec.Environment)
		}
	}
}
