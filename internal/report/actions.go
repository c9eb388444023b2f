package report

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"
)

// OutputName is the step output that receives the deployments map.
const OutputName = "deployments"

// ActionsOutputSink appends the deployments map to a GitHub Actions output
// file. Failed runs set no output.
type ActionsOutputSink struct {
	path string
}

// NewActionsOutputSink creates a sink appending to path.
func NewActionsOutputSink(path string) *ActionsOutputSink {
	return &ActionsOutputSink{path: path}
}

// Name returns the sink identifier.
func (s *ActionsOutputSink) Name() string { return "actions-output" }

// Send writes deployments=<json>, or the heredoc form when the value spans
// lines.
func (s *ActionsOutputSink) Send(_ context.Context, ev Event) error {
	if !ev.Succeeded() {
		return nil
	}
	data, err := json.Marshal(ev.Result.Deployments)
	if err != nil {
		return fmt.Errorf("marshaling deployments: %w", err)
	}
	return appendFile(s.path, formatOutput(OutputName, string(data)))
}

func formatOutput(key, value string) string {
	if !strings.Contains(value, "\n") {
		return fmt.Sprintf("%s=%s\n", key, value)
	}
	delimiter := "EOF"
	for strings.Contains(value, delimiter) {
		delimiter += "_"
	}
	return fmt.Sprintf("%s<<%s\n%s\n%s\n", key, delimiter, value, delimiter)
}

// SummarySink appends a markdown summary to a job summary file.
type SummarySink struct {
	path string
}

// NewSummarySink creates a sink appending to path.
func NewSummarySink(path string) *SummarySink {
	return &SummarySink{path: path}
}

// Name returns the sink identifier.
func (s *SummarySink) Name() string { return "summary" }

// Send appends a results table, or the failure message.
func (s *SummarySink) Send(_ context.Context, ev Event) error {
	return appendFile(s.path, renderSummary(ev))
}

func renderSummary(ev Event) string {
	var b strings.Builder
	if !ev.Succeeded() {
		fmt.Fprintf(&b, "### Deployments not ready for `%s`\n\n", shortSHA(ev.SHA()))
		if ev.Failure != nil {
			fmt.Fprintf(&b, "%s\n\n", ev.Failure.Message)
		}
		return b.String()
	}

	res := ev.Result
	fmt.Fprintf(&b, "### Deployments ready for `%s`\n\n", shortSHA(res.SHA))
	b.WriteString("| Project | Environment | URL |\n| --- | --- | --- |\n")

	projects := make([]string, 0, len(res.Deployments))
	for p := range res.Deployments {
		projects = append(projects, p)
	}
	sort.Strings(projects)
	for _, p := range projects {
		rec := res.Deployments[p]
		url := rec.URL
		if url == "" {
			url = "-"
		}
		fmt.Fprintf(&b, "| %s | %s | %s |\n", p, rec.Environment, url)
	}
	b.WriteString("\n")
	return b.String()
}

func shortSHA(sha string) string {
	if len(sha) > 7 {
		return sha[:7]
	}
	return sha
}

func appendFile(path, content string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := f.WriteString(content); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}
