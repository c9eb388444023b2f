// gate Lambda waits for the deployments of one commit and returns the
// project-keyed success records.
package main

import (
	"context"
	"log/slog"
	"os"
	"sync"
	"time"

	awslambda "github.com/aws/aws-lambda-go/lambda"

	"github.com/dwsmith1983/deploywait/internal/gate"
	intlambda "github.com/dwsmith1983/deploywait/internal/lambda"
	"github.com/dwsmith1983/deploywait/internal/report"
)

var (
	deps     *intlambda.Deps
	depsOnce sync.Once
	depsErr  error
)

func getDeps() (*intlambda.Deps, error) {
	depsOnce.Do(func() {
		deps, depsErr = intlambda.Init(context.Background())
	})
	return deps, depsErr
}

// handleGate implements the core gate logic.
func handleGate(ctx context.Context, d *intlambda.Deps, req intlambda.GateRequest) (intlambda.GateResponse, error) {
	cfg, err := req.Config()
	if err != nil {
		return intlambda.GateResponse{}, err
	}

	runID := gate.NewRunID()
	logger := d.Logger.With("runID", runID)
	if deadline, ok := ctx.Deadline(); ok && time.Until(deadline) < cfg.Timeout {
		logger.Warn("function deadline is shorter than the wait timeout",
			"timeout", cfg.Timeout,
			"remaining", time.Until(deadline).Round(time.Second),
		)
	}

	output := d.Output
	output.SFNTaskToken = req.TaskToken
	dispatcher, err := report.FromConfig(ctx, output, logger, d.ReportOptions...)
	if err != nil {
		return intlambda.GateResponse{}, err
	}

	res, err := gate.Run(ctx, gate.Params{
		RunID:          runID,
		Config:         cfg,
		Client:         d.Client,
		Reporter:       dispatcher,
		Logger:         logger,
		WatcherOptions: d.WatcherOptions,
	})
	if err != nil {
		return intlambda.GateResponse{}, err
	}
	return intlambda.GateResponse{RunID: res.RunID, Deployments: res.Deployments}, nil
}

func handler(ctx context.Context, req intlambda.GateRequest) (intlambda.GateResponse, error) {
	d, err := getDeps()
	if err != nil {
		return intlambda.GateResponse{}, err
	}
	return handleGate(ctx, d, req)
}

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, nil)))
	awslambda.Start(handler)
}
