// Package github implements the deployment status client over the GitHub
// REST API.
package github

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/go-github/v59/github"
	"golang.org/x/oauth2"

	"github.com/dwsmith1983/deploywait/pkg/types"
)

const (
	// DefaultAPIURL is the public GitHub REST endpoint.
	DefaultAPIURL = "https://api.github.com/"

	maxPerPage     = 100
	requestTimeout = 30 * time.Second
)

// Client lists deployments and deployment statuses. It is read-only.
type Client struct {
	gh *github.Client
}

// New creates a client authenticated with token. A non-default apiURL
// targets a GitHub Enterprise Server instance.
func New(ctx context.Context, token, apiURL string) (*Client, error) {
	if token == "" {
		return nil, fmt.Errorf("github token is required")
	}

	httpClient := oauth2.NewClient(ctx, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token}))
	httpClient.Timeout = requestTimeout

	gh := github.NewClient(httpClient)
	if apiURL != "" && strings.TrimRight(apiURL, "/") != strings.TrimRight(DefaultAPIURL, "/") {
		var err error
		gh, err = gh.WithEnterpriseURLs(apiURL, apiURL)
		if err != nil {
			return nil, fmt.Errorf("configuring github api url %q: %w", apiURL, err)
		}
	}
	return &Client{gh: gh}, nil
}

// NewWithClient wraps an existing go-github client (useful for testing).
func NewWithClient(gh *github.Client) *Client {
	return &Client{gh: gh}
}

// ListDeployments returns every deployment created for sha, across all pages.
func (c *Client) ListDeployments(ctx context.Context, owner, repo, sha string) ([]types.Deployment, error) {
	opts := &github.DeploymentsListOptions{
		SHA:         sha,
		ListOptions: github.ListOptions{PerPage: maxPerPage},
	}

	var out []types.Deployment
	for {
		page, resp, err := c.gh.Repositories.ListDeployments(ctx, owner, repo, opts)
		if err != nil {
			return nil, classify(err, resp)
		}
		for _, d := range page {
			out = append(out, types.Deployment{
				ID:          d.GetID(),
				Environment: d.GetEnvironment(),
				SHA:         d.GetSHA(),
			})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// ListDeploymentStatuses returns the status events of a deployment, newest
// first as the API orders them, across all pages.
func (c *Client) ListDeploymentStatuses(ctx context.Context, owner, repo string, deploymentID int64) ([]types.DeploymentStatus, error) {
	opts := &github.ListOptions{PerPage: maxPerPage}

	var out []types.DeploymentStatus
	for {
		page, resp, err := c.gh.Repositories.ListDeploymentStatuses(ctx, owner, repo, deploymentID, opts)
		if err != nil {
			return nil, classify(err, resp)
		}
		for _, s := range page {
			out = append(out, types.DeploymentStatus{
				State:          types.ParseDeploymentState(s.GetState()),
				TargetURL:      s.GetTargetURL(),
				EnvironmentURL: s.GetEnvironmentURL(),
			})
		}
		if resp.NextPage == 0 {
			return out, nil
		}
		opts.Page = resp.NextPage
	}
}

// classify turns go-github errors into short, actionable messages.
func classify(err error, resp *github.Response) error {
	var rateErr *github.RateLimitError
	if errors.As(err, &rateErr) {
		return fmt.Errorf("github rate limit exceeded, resets at %s: %w",
			rateErr.Rate.Reset.Time.Format(time.RFC3339), err)
	}
	var abuseErr *github.AbuseRateLimitError
	if errors.As(err, &abuseErr) {
		return fmt.Errorf("github secondary rate limit hit, retry after %s: %w", abuseErr.GetRetryAfter(), err)
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusUnauthorized:
			return fmt.Errorf("github rejected the token (401): %w", err)
		case http.StatusForbidden:
			return fmt.Errorf("github token lacks access (403): %w", err)
		case http.StatusNotFound:
			return fmt.Errorf("repository or deployment not found (404): %w", err)
		}
	}
	return err
}
