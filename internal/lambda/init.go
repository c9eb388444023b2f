package lambda

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/dwsmith1983/deploywait/internal/github"
	"github.com/dwsmith1983/deploywait/internal/report"
	"github.com/dwsmith1983/deploywait/internal/secrets"
	"github.com/dwsmith1983/deploywait/internal/watcher"
	"github.com/dwsmith1983/deploywait/pkg/types"
)

// Deps holds shared dependencies for Lambda handlers.
type Deps struct {
	Client         watcher.StatusClient
	Output         types.OutputConfig
	ReportOptions  []report.Option
	WatcherOptions []watcher.Option
	Logger         *slog.Logger
}

// InitOption configures Init.
type InitOption func(*initOptions)

type initOptions struct {
	resolverOpts []secrets.Option
}

// WithSecretsOptions passes options to the token resolver (useful for testing).
func WithSecretsOptions(opts ...secrets.Option) InitOption {
	return func(o *initOptions) { o.resolverOpts = append(o.resolverOpts, opts...) }
}

// Init creates shared dependencies from environment variables.
// Reads: GITHUB_TOKEN (literal or secretsmanager:// / vault:// reference),
// GITHUB_API_URL, EVENTBRIDGE_BUS, SQS_QUEUE_URL, WEBHOOK_URL, LOG_LEVEL
func Init(ctx context.Context, opts ...InitOption) (*Deps, error) {
	o := &initOptions{}
	for _, opt := range opts {
		opt(o)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(envOrDefault("LOG_LEVEL", "info"))); err != nil {
		return nil, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))

	ref := os.Getenv("GITHUB_TOKEN")
	if ref == "" {
		return nil, fmt.Errorf("GITHUB_TOKEN environment variable required")
	}
	token, err := secrets.NewResolver(o.resolverOpts...).Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolving GITHUB_TOKEN: %w", err)
	}

	client, err := github.New(ctx, token, os.Getenv("GITHUB_API_URL"))
	if err != nil {
		return nil, fmt.Errorf("creating GitHub client: %w", err)
	}

	return &Deps{
		Client: client,
		Output: types.OutputConfig{
			EventBridgeBus: os.Getenv("EVENTBRIDGE_BUS"),
			SQSQueueURL:    os.Getenv("SQS_QUEUE_URL"),
			WebhookURL:     os.Getenv("WEBHOOK_URL"),
		},
		Logger: logger,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
