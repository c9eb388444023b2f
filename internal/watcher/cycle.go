package watcher

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"

	"github.com/dwsmith1983/deploywait/internal/metrics"
	"github.com/dwsmith1983/deploywait/pkg/types"
)

// statusCheck is one deployment whose statuses must be inspected.
type statusCheck struct {
	environment string
	deployment  types.Deployment
	statuses    []types.DeploymentStatus
}

// pollCycle lists the commit's deployments once, fetches statuses for every
// deployment in a still-pending watched environment, and records the first
// success found per environment. Any API error aborts the cycle.
func (w *Watcher) pollCycle(ctx context.Context, ws WatchSet, state *WaitState) error {
	ctx, span := w.tracer.Start(ctx, "watcher.pollCycle",
		trace.WithAttributes(attribute.Int("cycle", state.Cycles+1)))
	defer span.End()

	err := w.runCycle(ctx, ws, state)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		metrics.PollCycleErrors.Add(ctx, 1)
		return err
	}
	metrics.PollCycles.Add(ctx, 1)
	return nil
}

func (w *Watcher) runCycle(ctx context.Context, ws WatchSet, state *WaitState) error {
	deployments, err := w.listDeployments(ctx)
	if err != nil {
		return err
	}
	w.logger.Info("found deployments", "count", len(deployments), "sha", w.cfg.SHA)

	// Watched-environment order outer, deployment-list order inner.
	var checks []*statusCheck
	for _, env := range ws.Environments {
		if _, done := state.Successes[env]; done {
			continue
		}
		for _, d := range deployments {
			if d.Environment != env {
				continue
			}
			checks = append(checks, &statusCheck{environment: env, deployment: d})
		}
	}

	if err := w.fetchStatuses(ctx, checks); err != nil {
		return err
	}

	for _, c := range checks {
		w.logger.Info("checked deployment statuses",
			"environment", c.environment,
			"deploymentID", c.deployment.ID,
			"statuses", len(c.statuses),
		)

		success, ok := types.FirstSuccess(c.statuses)
		if !ok {
			w.logger.Info("no successful status yet",
				"environment", c.environment,
				"deploymentID", c.deployment.ID,
				"states", joinStates(c.statuses),
			)
			continue
		}

		if _, done := state.Successes[c.environment]; done {
			continue
		}
		rec := types.SuccessRecord{
			ProjectName:  ws.Projects[c.environment],
			Environment:  c.environment,
			URL:          success.URL(),
			DeploymentID: c.deployment.ID,
		}
		state.Successes[c.environment] = rec
		metrics.EnvironmentsSucceeded.Add(ctx, 1)
		w.logger.Info("successful deployment found",
			"environment", rec.Environment,
			"project", rec.ProjectName,
			"deploymentID", rec.DeploymentID,
			"url", rec.URL,
		)
	}
	return nil
}

// fetchStatuses fills in statuses for each check with at most
// cfg.Concurrency requests in flight. Results land in each check's own slot
// so the caller can evaluate them in the fixed nested order.
func (w *Watcher) fetchStatuses(ctx context.Context, checks []*statusCheck) error {
	limit := w.cfg.Concurrency
	if limit <= 0 {
		limit = types.DefaultConcurrency
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)
	for _, c := range checks {
		g.Go(func() error {
			w.logger.Debug("getting deployment statuses",
				"environment", c.environment,
				"deploymentID", c.deployment.ID,
			)
			statuses, err := w.listStatuses(gctx, c.deployment.ID)
			if err != nil {
				return err
			}
			c.statuses = statuses
			return nil
		})
	}
	return g.Wait()
}

func (w *Watcher) listDeployments(ctx context.Context) ([]types.Deployment, error) {
	op := attribute.String("op", "list_deployments")
	metrics.APICalls.Add(ctx, 1, metric.WithAttributes(op))

	deployments, err := w.client.ListDeployments(ctx, w.cfg.Owner, w.cfg.Repo, w.cfg.SHA)
	if err != nil {
		metrics.APIErrors.Add(ctx, 1, metric.WithAttributes(op))
		return nil, &types.APIError{Op: fmt.Sprintf("listing deployments for %s", w.cfg.SHA), Err: err}
	}
	return deployments, nil
}

func (w *Watcher) listStatuses(ctx context.Context, deploymentID int64) ([]types.DeploymentStatus, error) {
	op := attribute.String("op", "list_deployment_statuses")
	metrics.APICalls.Add(ctx, 1, metric.WithAttributes(op))

	statuses, err := w.client.ListDeploymentStatuses(ctx, w.cfg.Owner, w.cfg.Repo, deploymentID)
	if err != nil {
		metrics.APIErrors.Add(ctx, 1, metric.WithAttributes(op))
		return nil, &types.APIError{Op: fmt.Sprintf("getting statuses for deployment %d", deploymentID), Err: err}
	}
	return statuses, nil
}

func joinStates(statuses []types.DeploymentStatus) string {
	states := make([]string, 0, len(statuses))
	for _, s := range statuses {
		states = append(states, string(s.State))
	}
	return strings.Join(states, ", ")
}
