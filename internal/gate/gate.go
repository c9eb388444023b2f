// Package gate runs one deployment wait end to end: it waits, builds the
// project-keyed result and hands the outcome to the reporter. The CLI and
// the Lambda handler both go through Run.
package gate

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/oklog/ulid/v2"

	"github.com/dwsmith1983/deploywait/internal/watcher"
	"github.com/dwsmith1983/deploywait/pkg/types"
)

// Reporter receives the terminal outcome of a run.
type Reporter interface {
	ReportSuccess(ctx context.Context, res types.Result) error
	ReportFailure(ctx context.Context, f types.Failure) error
}

// NewRunID returns a fresh, time-ordered run identifier.
func NewRunID() string {
	return ulid.Make().String()
}

// Params are the inputs of a single run.
type Params struct {
	RunID    string
	Config   types.Config
	Client   watcher.StatusClient
	Reporter Reporter
	Logger   *slog.Logger

	// WatcherOptions are appended after the logger option.
	WatcherOptions []watcher.Option
}

// Run waits for the configured deployments and reports the outcome. The
// returned error is the wait error when the wait failed, or the reporting
// error when only delivery failed.
func Run(ctx context.Context, p Params) (types.Result, error) {
	logger := p.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if p.RunID == "" {
		p.RunID = NewRunID()
	}

	opts := append([]watcher.Option{watcher.WithLogger(logger)}, p.WatcherOptions...)
	state, err := watcher.New(p.Client, p.Config, opts...).Wait(ctx)
	if err != nil {
		f := types.Failure{
			RunID:   p.RunID,
			Owner:   p.Config.Owner,
			Repo:    p.Config.Repo,
			SHA:     p.Config.SHA,
			Outcome: types.OutcomeOf(err),
			Message: err.Error(),
		}
		logger.Error("wait failed", "outcome", f.Outcome, "error", err)
		// Deliver the failure even when the run was cancelled.
		if rerr := p.Reporter.ReportFailure(context.WithoutCancel(ctx), f); rerr != nil {
			logger.Error("failed to report failure", "error", rerr)
		}
		return types.Result{}, err
	}

	res := types.Result{
		RunID:       p.RunID,
		Owner:       p.Config.Owner,
		Repo:        p.Config.Repo,
		SHA:         p.Config.SHA,
		Deployments: types.ByProject(state.Successes),
		Elapsed:     state.Elapsed,
		Cycles:      state.Cycles,
	}
	if err := p.Reporter.ReportSuccess(ctx, res); err != nil {
		return res, fmt.Errorf("reporting result: %w", err)
	}
	return res, nil
}
