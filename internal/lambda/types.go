// Package lambda provides shared types and initialization for Lambda handlers.
package lambda

import (
	"fmt"
	"strings"
	"time"

	"github.com/dwsmith1983/deploywait/pkg/types"
)

// GateRequest is the input to the gate Lambda.
//
// Timeout and Interval are whole seconds; zero or negative values fall back
// to the defaults. TaskToken, when set, completes a Step Functions
// callback task with the outcome.
type GateRequest struct {
	Owner                   string             `json:"owner"`
	Repo                    string             `json:"repo"`
	SHA                     string             `json:"sha"`
	Deployments             types.WatchRequest `json:"deployments"`
	Timeout                 int                `json:"timeout,omitempty"`
	Interval                int                `json:"interval,omitempty"`
	Concurrency             int                `json:"concurrency,omitempty"`
	APIFailureThreshold     int                `json:"apiFailureThreshold,omitempty"`
	AllowSharedEnvironments bool               `json:"allowSharedEnvironments,omitempty"`
	TimeoutCheck            types.TimeoutCheck `json:"timeoutCheck,omitempty"`
	TaskToken               string             `json:"taskToken,omitempty"`
}

// GateResponse is the output of the gate Lambda. Deployments is keyed by
// project name.
type GateResponse struct {
	RunID       string                         `json:"runID"`
	Deployments map[string]types.SuccessRecord `json:"deployments"`
}

// Config validates the request and converts it to a run configuration.
func (r GateRequest) Config() (types.Config, error) {
	if strings.TrimSpace(r.Owner) == "" || strings.TrimSpace(r.Repo) == "" {
		return types.Config{}, &types.ConfigError{Field: "repository", Err: fmt.Errorf("owner and repo are required")}
	}
	if strings.TrimSpace(r.SHA) == "" {
		return types.Config{}, &types.ConfigError{Field: "sha", Err: fmt.Errorf("a commit SHA is required")}
	}
	if len(r.Deployments) == 0 {
		return types.Config{}, &types.ConfigError{Field: "deployments", Err: fmt.Errorf("at least one project is required")}
	}

	cfg := types.Config{
		Owner:                   r.Owner,
		Repo:                    r.Repo,
		SHA:                     r.SHA,
		Deployments:             r.Deployments,
		Timeout:                 seconds(r.Timeout, types.DefaultTimeout),
		Interval:                seconds(r.Interval, types.DefaultInterval),
		Concurrency:             r.Concurrency,
		APIFailureThreshold:     r.APIFailureThreshold,
		AllowSharedEnvironments: r.AllowSharedEnvironments,
		TimeoutCheck:            r.TimeoutCheck,
	}
	if cfg.Concurrency < 1 {
		cfg.Concurrency = types.DefaultConcurrency
	}
	if cfg.APIFailureThreshold < 1 {
		cfg.APIFailureThreshold = types.DefaultAPIFailureThreshold
	}
	if cfg.TimeoutCheck == "" {
		cfg.TimeoutCheck = types.TimeoutCheckAfterSleep
	}
	if !cfg.TimeoutCheck.Valid() {
		return types.Config{}, &types.ConfigError{Field: "timeoutCheck", Err: fmt.Errorf("unknown mode %q", cfg.TimeoutCheck)}
	}
	return cfg, nil
}

func seconds(n int, def time.Duration) time.Duration {
	if n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}
