package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"

	"github.com/dwsmith1983/deploywait/internal/config"
	"github.com/dwsmith1983/deploywait/internal/report"
	"github.com/dwsmith1983/deploywait/internal/watcher"
	"github.com/dwsmith1983/deploywait/pkg/types"
)

type fakeClient struct {
	deployments []types.Deployment
	statuses    map[int64][]types.DeploymentStatus
}

func (c *fakeClient) ListDeployments(_ context.Context, _, _, _ string) ([]types.Deployment, error) {
	return c.deployments, nil
}

func (c *fakeClient) ListDeploymentStatuses(_ context.Context, _, _ string, id int64) ([]types.DeploymentStatus, error) {
	return c.statuses[id], nil
}

type fakeResolver struct {
	got string
}

func (r *fakeResolver) Resolve(_ context.Context, ref string) (string, error) {
	r.got = ref
	if strings.HasPrefix(ref, "vault://") {
		return "", errors.New("vault sealed")
	}
	return "resolved-" + ref, nil
}

func setActionEnv(t *testing.T) {
	t.Helper()
	for _, name := range []string{"GITHUB_OUTPUT", "GITHUB_STEP_SUMMARY", "GITHUB_API_URL", "OTEL_EXPORTER_OTLP_ENDPOINT"} {
		t.Setenv(name, "")
	}
	t.Setenv("INPUT_GITHUB-TOKEN", "ghp_test")
	t.Setenv("INPUT_DEPLOYMENTS-TO-WAIT-FOR", `{"web":"prod","api":"prod-api"}`)
	t.Setenv("INPUT_TIMEOUT", "10")
	t.Setenv("GITHUB_SHA", "abc123")
	t.Setenv("GITHUB_REPOSITORY", "acme/shop")
}

func testDeps(client *fakeClient, stdout, stderr *bytes.Buffer) (waitDeps, *fakeResolver, *string) {
	resolver := &fakeResolver{}
	var gotToken string
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	return waitDeps{
		version:  "test",
		stderr:   stderr,
		resolver: resolver,
		newClient: func(_ context.Context, token, _ string) (watcher.StatusClient, error) {
			gotToken = token
			return client, nil
		},
		reportOptions: []report.Option{report.WithSink(report.NewStdoutSink(stdout))},
		watcherOptions: []watcher.Option{watcher.WithClock(
			func() time.Time { return now },
			func(_ context.Context, d time.Duration) error { now = now.Add(d); return nil },
		)},
	}, resolver, &gotToken
}

func flags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("wait", pflag.ContinueOnError)
	config.RegisterFlags(fs)
	if err := fs.Parse(args); err != nil {
		t.Fatal(err)
	}
	return fs
}

func TestRunWait_Success(t *testing.T) {
	setActionEnv(t)
	outFile := filepath.Join(t.TempDir(), "output")
	t.Setenv("GITHUB_OUTPUT", outFile)

	client := &fakeClient{
		deployments: []types.Deployment{
			{ID: 1, Environment: "prod", SHA: "abc123"},
			{ID: 2, Environment: "prod-api", SHA: "abc123"},
		},
		statuses: map[int64][]types.DeploymentStatus{
			1: {{State: types.StateSuccess, TargetURL: "https://web"}},
			2: {{State: types.StateSuccess}},
		},
	}
	var stdout, stderr bytes.Buffer
	deps, _, gotToken := testDeps(client, &stdout, &stderr)

	if err := runWait(context.Background(), flags(t), deps); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if *gotToken != "resolved-ghp_test" {
		t.Errorf("expected resolved token, got %q", *gotToken)
	}

	var res types.Result
	if err := json.Unmarshal(stdout.Bytes(), &res); err != nil {
		t.Fatalf("stdout is not a result: %v", err)
	}
	if res.Deployments["web"].URL != "https://web" {
		t.Errorf("expected web url, got %+v", res.Deployments["web"])
	}
	if res.RunID == "" {
		t.Error("expected a run ID")
	}

	data, err := os.ReadFile(outFile)
	if err != nil {
		t.Fatal(err)
	}
	want := `deployments={"api":{"projectName":"api","environment":"prod-api"},"web":{"projectName":"web","environment":"prod","url":"https://web"}}` + "\n"
	if string(data) != want {
		t.Errorf("output file = %q, want %q", data, want)
	}
	if !strings.Contains(stderr.String(), `"runID":"`+res.RunID+`"`) {
		t.Error("expected log lines to carry the run ID")
	}
	if strings.Contains(stderr.String(), "ghp_test") {
		t.Error("token must not be logged")
	}
}

func TestRunWait_Timeout(t *testing.T) {
	setActionEnv(t)
	client := &fakeClient{}
	var stdout, stderr bytes.Buffer
	deps, _, _ := testDeps(client, &stdout, &stderr)

	err := runWait(context.Background(), flags(t), deps)
	var te *types.TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if ExitCode(err) != ExitFailure {
		t.Errorf("expected exit code %d, got %d", ExitFailure, ExitCode(err))
	}

	var f types.Failure
	if err := json.Unmarshal(stdout.Bytes(), &f); err != nil {
		t.Fatalf("stdout is not a failure: %v", err)
	}
	if f.Outcome != types.OutcomeTimedOut {
		t.Errorf("expected TIMED_OUT, got %s", f.Outcome)
	}
}

func TestRunWait_ConfigError(t *testing.T) {
	setActionEnv(t)
	t.Setenv("INPUT_DEPLOYMENTS-TO-WAIT-FOR", "not json")
	var stdout, stderr bytes.Buffer
	deps, resolver, _ := testDeps(&fakeClient{}, &stdout, &stderr)

	err := runWait(context.Background(), flags(t), deps)
	if ExitCode(err) != ExitConfigError {
		t.Fatalf("expected config error exit code, got %d (%v)", ExitCode(err), err)
	}
	if resolver.got != "" {
		t.Error("token must not be resolved when configuration is invalid")
	}
	if stdout.Len() != 0 {
		t.Error("no outcome should be reported for invalid configuration")
	}
}

func TestRunWait_InvalidLogLevel(t *testing.T) {
	setActionEnv(t)
	var stdout, stderr bytes.Buffer
	deps, _, _ := testDeps(&fakeClient{}, &stdout, &stderr)

	err := runWait(context.Background(), flags(t, "--log-level", "chatty"), deps)
	if ExitCode(err) != ExitConfigError {
		t.Fatalf("expected config error exit code, got %d (%v)", ExitCode(err), err)
	}
}

func TestRunWait_TokenResolutionFails(t *testing.T) {
	setActionEnv(t)
	t.Setenv("INPUT_GITHUB-TOKEN", "vault://secret/data/ci#token")
	var stdout, stderr bytes.Buffer
	deps, _, _ := testDeps(&fakeClient{}, &stdout, &stderr)

	err := runWait(context.Background(), flags(t), deps)
	if err == nil || !strings.Contains(err.Error(), "vault sealed") {
		t.Fatalf("expected resolution error, got %v", err)
	}
}
