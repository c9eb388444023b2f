// Package metrics exposes runtime counters as OpenTelemetry instruments.
//
// Instruments are created against the global meter provider, which delegates
// to whatever provider telemetry.Setup installs later in the process.
package metrics

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentationName = "github.com/dwsmith1983/deploywait"

var meter = otel.Meter(instrumentationName)

var (
	PollCycles            = mustCounter("deploywait.poll.cycles", "Completed poll cycles.")
	PollCycleErrors       = mustCounter("deploywait.poll.cycle_errors", "Poll cycles aborted by an API error.")
	APICalls              = mustCounter("deploywait.api.calls", "Calls issued to the deployment status API.")
	APIErrors             = mustCounter("deploywait.api.errors", "Failed calls to the deployment status API.")
	EnvironmentsSucceeded = mustCounter("deploywait.environments.succeeded", "Environments that reached a successful deployment.")
	WaitOutcomes          = mustCounter("deploywait.wait.outcomes", "Terminal wait outcomes by result.")
	ReportsFailed         = mustCounter("deploywait.report.failures", "Result sinks that failed to deliver.")
	WaitDuration          = mustHistogram("deploywait.wait.duration", "Wall-clock duration of a wait run.", "s")
)

func mustCounter(name, desc string) metric.Int64Counter {
	c, err := meter.Int64Counter(name, metric.WithDescription(desc))
	if err != nil {
		panic(err)
	}
	return c
}

func mustHistogram(name, desc, unit string) metric.Float64Histogram {
	h, err := meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit(unit))
	if err != nil {
		panic(err)
	}
	return h
}
