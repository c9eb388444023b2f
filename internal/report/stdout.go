package report

import (
	"context"
	"fmt"
	"io"
	"os"
)

// StdoutSink writes the outcome as one JSON line.
type StdoutSink struct {
	w io.Writer
}

// NewStdoutSink creates a sink writing to w, or to os.Stdout when w is nil.
func NewStdoutSink(w io.Writer) *StdoutSink {
	if w == nil {
		w = os.Stdout
	}
	return &StdoutSink{w: w}
}

// Name returns the sink identifier.
func (s *StdoutSink) Name() string { return "stdout" }

// Send writes the event payload followed by a newline.
func (s *StdoutSink) Send(_ context.Context, ev Event) error {
	data, err := ev.Payload()
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "%s\n", data); err != nil {
		return fmt.Errorf("writing outcome: %w", err)
	}
	return nil
}
