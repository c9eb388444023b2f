// Package report delivers the terminal outcome of a wait run to every
// configured sink.
package report

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"github.com/aws/aws-sdk-go-v2/service/sfn"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/dwsmith1983/deploywait/internal/metrics"
	"github.com/dwsmith1983/deploywait/pkg/types"
)

// Event is one terminal outcome. Exactly one of Result and Failure is set.
type Event struct {
	Result  *types.Result
	Failure *types.Failure
}

// Succeeded reports whether the event carries a Result.
func (e Event) Succeeded() bool { return e.Result != nil }

// SHA returns the commit the event is about.
func (e Event) SHA() string {
	if e.Result != nil {
		return e.Result.SHA
	}
	if e.Failure != nil {
		return e.Failure.SHA
	}
	return ""
}

// RunID returns the run the event belongs to.
func (e Event) RunID() string {
	if e.Result != nil {
		return e.Result.RunID
	}
	if e.Failure != nil {
		return e.Failure.RunID
	}
	return ""
}

// DetailType names the event for routing rules and message attributes.
func (e Event) DetailType() string {
	if e.Succeeded() {
		return "DeploymentsReady"
	}
	return "DeploymentsFailed"
}

// Payload returns the JSON body shared by the machine-readable sinks.
func (e Event) Payload() ([]byte, error) {
	var v any = e.Failure
	if e.Result != nil {
		v = e.Result
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", e.DetailType(), err)
	}
	return data, nil
}

// Sink is an outcome destination.
type Sink interface {
	Send(ctx context.Context, ev Event) error
	Name() string
}

// Dispatcher fans an outcome out to its sinks.
type Dispatcher struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewDispatcher creates a dispatcher over sinks. A nil logger uses slog.Default().
func NewDispatcher(logger *slog.Logger, sinks ...Sink) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sinks: sinks, logger: logger}
}

// AddSink appends a sink.
func (d *Dispatcher) AddSink(s Sink) {
	d.sinks = append(d.sinks, s)
}

// Sinks returns the configured sink names in dispatch order.
func (d *Dispatcher) Sinks() []string {
	names := make([]string, 0, len(d.sinks))
	for _, s := range d.sinks {
		names = append(names, s.Name())
	}
	return names
}

// Dispatch sends ev to every sink. A failing sink does not stop the others;
// all failures are logged and returned joined.
func (d *Dispatcher) Dispatch(ctx context.Context, ev Event) error {
	var errs []error
	for _, sink := range d.sinks {
		if err := sink.Send(ctx, ev); err != nil {
			d.logger.Error("failed to deliver outcome", "sink", sink.Name(), "error", err)
			metrics.ReportsFailed.Add(ctx, 1, metric.WithAttributes(attribute.String("sink", sink.Name())))
			errs = append(errs, fmt.Errorf("%s sink: %w", sink.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// ReportSuccess dispatches a successful result.
func (d *Dispatcher) ReportSuccess(ctx context.Context, res types.Result) error {
	return d.Dispatch(ctx, Event{Result: &res})
}

// ReportFailure dispatches a failed run.
func (d *Dispatcher) ReportFailure(ctx context.Context, f types.Failure) error {
	return d.Dispatch(ctx, Event{Failure: &f})
}

// clients holds injectable AWS clients. Real clients share one lazily
// loaded AWS config.
type clients struct {
	mu     sync.Mutex
	cfg    *aws.Config
	events EventBridgeAPI
	queue  SQSAPI
	states SFNAPI
}

// Option configures FromConfig.
type Option func(*options)

type options struct {
	clients clients
	sinks   []Sink
}

// WithEventBridgeClient sets a custom EventBridge client (useful for testing).
func WithEventBridgeClient(c EventBridgeAPI) Option {
	return func(o *options) { o.clients.events = c }
}

// WithSQSClient sets a custom SQS client (useful for testing).
func WithSQSClient(c SQSAPI) Option {
	return func(o *options) { o.clients.queue = c }
}

// WithSFNClient sets a custom Step Functions client (useful for testing).
func WithSFNClient(c SFNAPI) Option {
	return func(o *options) { o.clients.states = c }
}

// WithSink replaces the default stdout sink with s. May be repeated.
func WithSink(s Sink) Option {
	return func(o *options) { o.sinks = append(o.sinks, s) }
}

// FromConfig builds a dispatcher for the sinks selected by cfg. Without a
// WithSink option the dispatcher always starts with a stdout sink.
func FromConfig(ctx context.Context, cfg types.OutputConfig, logger *slog.Logger, opts ...Option) (*Dispatcher, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	d := NewDispatcher(logger)
	if len(o.sinks) == 0 {
		d.AddSink(NewStdoutSink(nil))
	}
	for _, s := range o.sinks {
		d.AddSink(s)
	}

	if cfg.OutputFile != "" {
		d.AddSink(NewActionsOutputSink(cfg.OutputFile))
	}
	if cfg.SummaryFile != "" {
		d.AddSink(NewSummarySink(cfg.SummaryFile))
	}
	if cfg.EventBridgeBus != "" {
		client, err := o.clients.eventBridge(ctx)
		if err != nil {
			return nil, err
		}
		d.AddSink(NewEventBridgeSink(cfg.EventBridgeBus, client))
	}
	if cfg.SQSQueueURL != "" {
		client, err := o.clients.sqs(ctx)
		if err != nil {
			return nil, err
		}
		d.AddSink(NewSQSSink(cfg.SQSQueueURL, client))
	}
	if cfg.SFNTaskToken != "" {
		client, err := o.clients.sfn(ctx)
		if err != nil {
			return nil, err
		}
		d.AddSink(NewSFNSink(cfg.SFNTaskToken, client))
	}
	if cfg.WebhookURL != "" {
		d.AddSink(NewWebhookSink(cfg.WebhookURL))
	}
	return d, nil
}

func (c *clients) awsConfig(ctx context.Context) (aws.Config, error) {
	if c.cfg != nil {
		return *c.cfg, nil
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	c.cfg = &cfg
	return cfg, nil
}

func (c *clients) eventBridge(ctx context.Context) (EventBridgeAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.events != nil {
		return c.events, nil
	}
	cfg, err := c.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	c.events = eventbridge.NewFromConfig(cfg)
	return c.events, nil
}

func (c *clients) sqs(ctx context.Context) (SQSAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.queue != nil {
		return c.queue, nil
	}
	cfg, err := c.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	c.queue = sqs.NewFromConfig(cfg)
	return c.queue, nil
}

func (c *clients) sfn(ctx context.Context) (SFNAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.states != nil {
		return c.states, nil
	}
	cfg, err := c.awsConfig(ctx)
	if err != nil {
		return nil, err
	}
	c.states = sfn.NewFromConfig(cfg)
	return c.states, nil
}
