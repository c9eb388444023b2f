// Package watcher implements the deployment wait loop: it polls the hosting
// API until every watched environment has a successful deployment for the
// commit, or the time budget runs out.
package watcher

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/dwsmith1983/deploywait/internal/metrics"
	"github.com/dwsmith1983/deploywait/pkg/types"
)

// StatusClient is the read-only view of the hosting API the watcher needs.
type StatusClient interface {
	ListDeployments(ctx context.Context, owner, repo, sha string) ([]types.Deployment, error)
	ListDeploymentStatuses(ctx context.Context, owner, repo string, deploymentID int64) ([]types.DeploymentStatus, error)
}

// WaitState accumulates successes across poll cycles. It is owned by a single
// Wait call.
type WaitState struct {
	Successes map[string]types.SuccessRecord // keyed by environment
	Started   time.Time
	Elapsed   time.Duration
	Cycles    int
}

// Pending returns the watched environments that have no success yet.
func (s *WaitState) Pending(environments []string) []string {
	var out []string
	for _, env := range environments {
		if _, ok := s.Successes[env]; !ok {
			out = append(out, env)
		}
	}
	return out
}

// Watcher runs one wait against a StatusClient.
type Watcher struct {
	client StatusClient
	cfg    types.Config
	logger *slog.Logger
	tracer trace.Tracer

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// Option configures a Watcher.
type Option func(*Watcher)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Watcher) {
		if l != nil {
			w.logger = l
		}
	}
}

// WithClock replaces the wall clock and the interval sleep (useful for testing).
func WithClock(now func() time.Time, sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(w *Watcher) {
		if now != nil {
			w.now = now
		}
		if sleep != nil {
			w.sleep = sleep
		}
	}
}

// New creates a Watcher. Zero timeout and interval fall back to the defaults.
func New(client StatusClient, cfg types.Config, opts ...Option) *Watcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = types.DefaultTimeout
	}
	if cfg.Interval <= 0 {
		cfg.Interval = types.DefaultInterval
	}
	if !cfg.TimeoutCheck.Valid() {
		cfg.TimeoutCheck = types.TimeoutCheckAfterSleep
	}
	w := &Watcher{
		client: client,
		cfg:    cfg,
		logger: slog.Default(),
		tracer: otel.Tracer("github.com/dwsmith1983/deploywait/internal/watcher"),
		now:    time.Now,
		sleep:  sleepContext,
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Wait polls until all watched environments succeed, the budget elapses, or
// an unrecoverable API error occurs. On success it returns the final state;
// on any failure it returns a nil state so no partial results escape.
func (w *Watcher) Wait(ctx context.Context) (*WaitState, error) {
	ws, err := Resolve(w.cfg.Deployments, w.cfg.AllowSharedEnvironments)
	if err != nil {
		return nil, err
	}

	ctx, span := w.tracer.Start(ctx, "watcher.Wait", trace.WithAttributes(
		attribute.String("repo", w.cfg.Owner+"/"+w.cfg.Repo),
		attribute.String("sha", w.cfg.SHA),
		attribute.StringSlice("environments", ws.Environments),
	))
	defer span.End()

	state, err := w.loop(ctx, ws)

	outcome := types.OutcomeOf(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	metrics.WaitOutcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
	return state, err
}

func (w *Watcher) loop(ctx context.Context, ws WatchSet) (*WaitState, error) {
	state := &WaitState{
		Successes: make(map[string]types.SuccessRecord, len(ws.Environments)),
		Started:   w.now(),
	}
	defer func() {
		metrics.WaitDuration.Record(ctx, w.now().Sub(state.Started).Seconds())
	}()

	breaker := newAPIBreaker("deployment-status-api", w.cfg.APIFailureThreshold, w.logger)

	w.logger.Info("waiting for deployments",
		"owner", w.cfg.Owner,
		"repo", w.cfg.Repo,
		"sha", w.cfg.SHA,
		"environments", ws.Environments,
		"timeout", w.cfg.Timeout,
		"interval", w.cfg.Interval,
		"timeoutCheck", w.cfg.TimeoutCheck,
	)

	for {
		err := breaker.run(func() error { return w.pollCycle(ctx, ws, state) })
		state.Cycles++
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if breaker.exhausted() {
				return nil, err
			}
			w.logger.Warn("poll cycle failed, retrying on next cycle",
				"error", err,
				"consecutiveFailures", breaker.failures(),
				"threshold", w.cfg.APIFailureThreshold,
			)
		}

		interval := w.cfg.Interval
		if w.cfg.TimeoutCheck == types.TimeoutCheckBeforeSleep {
			done, err := w.evaluate(ws, state)
			if done || err != nil {
				return finish(state, err)
			}
			if remaining := w.cfg.Timeout - state.Elapsed; remaining < interval {
				interval = remaining
			}
		}

		w.logger.Info("sleeping", "interval", interval)
		if err := w.sleep(ctx, interval); err != nil {
			return nil, err
		}

		if w.cfg.TimeoutCheck == types.TimeoutCheckAfterSleep {
			done, err := w.evaluate(ws, state)
			if done || err != nil {
				return finish(state, err)
			}
		}
	}
}

// evaluate decides termination: success when every environment is
// recorded, timeout when the elapsed time has reached the budget.
func (w *Watcher) evaluate(ws WatchSet, state *WaitState) (bool, error) {
	state.Elapsed = w.now().Sub(state.Started)
	w.logger.Info("successful deployments so far",
		"successes", state.Successes,
		"elapsed", state.Elapsed,
	)

	pending := state.Pending(ws.Environments)
	if len(pending) == 0 {
		w.logger.Info("all environments successfully deployed", "sha", w.cfg.SHA, "cycles", state.Cycles)
		return true, nil
	}
	if state.Elapsed >= w.cfg.Timeout {
		return true, &types.TimeoutError{
			Elapsed: state.Elapsed,
			Timeout: w.cfg.Timeout,
			Pending: pending,
		}
	}
	return false, nil
}

func finish(state *WaitState, err error) (*WaitState, error) {
	if err != nil {
		return nil, err
	}
	return state, nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
