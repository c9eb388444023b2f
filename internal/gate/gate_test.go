package gate

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dwsmith1983/deploywait/internal/watcher"
	"github.com/dwsmith1983/deploywait/pkg/types"
)

// staticClient returns the same deployments and statuses on every call.
type staticClient struct {
	deployments []types.Deployment
	statuses    map[int64][]types.DeploymentStatus
	listErr     error
}

func (c *staticClient) ListDeployments(_ context.Context, _, _, _ string) ([]types.Deployment, error) {
	return c.deployments, c.listErr
}

func (c *staticClient) ListDeploymentStatuses(_ context.Context, _, _ string, id int64) ([]types.DeploymentStatus, error) {
	return c.statuses[id], nil
}

type recordReporter struct {
	results  []types.Result
	failures []types.Failure
	err      error
}

func (r *recordReporter) ReportSuccess(_ context.Context, res types.Result) error {
	r.results = append(r.results, res)
	return r.err
}

func (r *recordReporter) ReportFailure(_ context.Context, f types.Failure) error {
	r.failures = append(r.failures, f)
	return r.err
}

func instantClock() watcher.Option {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return watcher.WithClock(
		func() time.Time { return now },
		func(_ context.Context, d time.Duration) error { now = now.Add(d); return nil },
	)
}

func testConfig() types.Config {
	return types.Config{
		Owner: "acme",
		Repo:  "shop",
		SHA:   "abc123",
		Deployments: types.WatchRequest{
			{Project: "web", Environment: "prod"},
			{Project: "api", Environment: "prod-api"},
		},
		Timeout:  10 * time.Second,
		Interval: 5 * time.Second,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRun_SuccessKeyedByProject(t *testing.T) {
	client := &staticClient{
		deployments: []types.Deployment{
			{ID: 1, Environment: "prod", SHA: "abc123"},
			{ID: 2, Environment: "prod-api", SHA: "abc123"},
		},
		statuses: map[int64][]types.DeploymentStatus{
			1: {{State: types.StateSuccess, TargetURL: "https://web"}},
			2: {{State: types.StateSuccess, EnvironmentURL: "https://api"}},
		},
	}
	rep := &recordReporter{}

	res, err := Run(context.Background(), Params{
		RunID:          "run-1",
		Config:         testConfig(),
		Client:         client,
		Reporter:       rep,
		Logger:         quietLogger(),
		WatcherOptions: []watcher.Option{instantClock()},
	})
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, map[string]types.SuccessRecord{
		"web": {ProjectName: "web", Environment: "prod", URL: "https://web", DeploymentID: 1},
		"api": {ProjectName: "api", Environment: "prod-api", URL: "https://api", DeploymentID: 2},
	}, res.Deployments)
	assert.Equal(t, 1, res.Cycles)
	require.Len(t, rep.results, 1)
	assert.Empty(t, rep.failures)
}

func TestRun_TimeoutReportsFailureWithoutRecords(t *testing.T) {
	client := &staticClient{
		deployments: []types.Deployment{{ID: 1, Environment: "prod", SHA: "abc123"}},
		statuses:    map[int64][]types.DeploymentStatus{1: {{State: types.StateSuccess}}},
	}
	rep := &recordReporter{}

	_, err := Run(context.Background(), Params{
		Config:         testConfig(),
		Client:         client,
		Reporter:       rep,
		Logger:         quietLogger(),
		WatcherOptions: []watcher.Option{instantClock()},
	})

	var te *types.TimeoutError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, []string{"prod-api"}, te.Pending)
	assert.Empty(t, rep.results)
	require.Len(t, rep.failures, 1)
	assert.Equal(t, types.OutcomeTimedOut, rep.failures[0].Outcome)
	assert.NotEmpty(t, rep.failures[0].RunID)
	assert.Equal(t, err.Error(), rep.failures[0].Message)
}

func TestRun_APIErrorFails(t *testing.T) {
	rep := &recordReporter{}
	_, err := Run(context.Background(), Params{
		Config:         testConfig(),
		Client:         &staticClient{listErr: errors.New("502 bad gateway")},
		Reporter:       rep,
		Logger:         quietLogger(),
		WatcherOptions: []watcher.Option{instantClock()},
	})

	var apiErr *types.APIError
	require.True(t, errors.As(err, &apiErr))
	require.Len(t, rep.failures, 1)
	assert.Equal(t, types.OutcomeFailed, rep.failures[0].Outcome)
}

func TestRun_ReportErrorSurfaces(t *testing.T) {
	client := &staticClient{
		deployments: []types.Deployment{
			{ID: 1, Environment: "prod", SHA: "abc123"},
			{ID: 2, Environment: "prod-api", SHA: "abc123"},
		},
		statuses: map[int64][]types.DeploymentStatus{
			1: {{State: types.StateSuccess}},
			2: {{State: types.StateSuccess}},
		},
	}
	rep := &recordReporter{err: errors.New("queue unavailable")}

	res, err := Run(context.Background(), Params{
		Config:         testConfig(),
		Client:         client,
		Reporter:       rep,
		Logger:         quietLogger(),
		WatcherOptions: []watcher.Option{instantClock()},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reporting result: queue unavailable")
	assert.Len(t, res.Deployments, 2)
}

func TestNewRunID(t *testing.T) {
	a, b := NewRunID(), NewRunID()
	assert.Len(t, a, 26)
	assert.NotEqual(t, a, b)
}
