// Package types defines the public domain types for deploywait, a gate that
// blocks until named deployment environments succeed for a commit.
package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

// WatchEntry pairs a project with the environment it deploys to.
type WatchEntry struct {
	Project     string `json:"project" yaml:"project"`
	Environment string `json:"environment" yaml:"environment"`
}

// WatchRequest maps project names to environment names. Entries keep the
// order in which they were written so that log output and duplicate
// resolution are deterministic.
type WatchRequest []WatchEntry

// Projects returns the project names in request order.
func (w WatchRequest) Projects() []string {
	out := make([]string, 0, len(w))
	for _, e := range w {
		out = append(out, e.Project)
	}
	return out
}

// UnmarshalJSON decodes a JSON object of project → environment, preserving
// key order. Duplicate project keys and non-string values are rejected.
func (w *WatchRequest) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("expected a JSON object of project name to environment name")
	}

	var out WatchRequest
	seen := make(map[string]bool)
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		project, _ := tok.(string)

		var env string
		if err := dec.Decode(&env); err != nil {
			return fmt.Errorf("environment for project %q must be a string: %w", project, err)
		}
		if seen[project] {
			return fmt.Errorf("duplicate project %q", project)
		}
		seen[project] = true
		out = append(out, WatchEntry{Project: project, Environment: env})
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*w = out
	return nil
}

// MarshalJSON encodes the request back into a JSON object in request order.
func (w WatchRequest) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, e := range w {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(e.Project)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(e.Environment)
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalYAML decodes a YAML mapping of project → environment in document order.
func (w *WatchRequest) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: expected a mapping of project name to environment name", node.Line)
	}
	var out WatchRequest
	seen := make(map[string]bool)
	for i := 0; i+1 < len(node.Content); i += 2 {
		k, v := node.Content[i], node.Content[i+1]
		if v.Kind != yaml.ScalarNode {
			return fmt.Errorf("line %d: environment for project %q must be a string", v.Line, k.Value)
		}
		if seen[k.Value] {
			return fmt.Errorf("line %d: duplicate project %q", k.Line, k.Value)
		}
		seen[k.Value] = true
		out = append(out, WatchEntry{Project: k.Value, Environment: v.Value})
	}
	*w = out
	return nil
}

// Deployment is the hosting platform's record of a release of a commit to
// an environment. It is re-fetched on every poll cycle.
type Deployment struct {
	ID          int64  `json:"id"`
	Environment string `json:"environment"`
	SHA         string `json:"sha"`
}

// DeploymentStatus is one state event attached to a deployment.
type DeploymentStatus struct {
	State          DeploymentState `json:"state"`
	TargetURL      string          `json:"target_url,omitempty"`
	EnvironmentURL string          `json:"environment_url,omitempty"`
}

// URL returns the target URL when set, otherwise the environment URL.
func (s DeploymentStatus) URL() string {
	if s.TargetURL != "" {
		return s.TargetURL
	}
	return s.EnvironmentURL
}

// FirstSuccess returns the first status in the sequence whose state is
// success.
func FirstSuccess(statuses []DeploymentStatus) (DeploymentStatus, bool) {
	for _, s := range statuses {
		if s.State == StateSuccess {
			return s, true
		}
	}
	return DeploymentStatus{}, false
}

// SuccessRecord is created once per environment, the first time a successful
// deployment is observed for it. An empty URL means neither target_url nor
// environment_url was set.
type SuccessRecord struct {
	ProjectName  string `json:"projectName"`
	Environment  string `json:"environment"`
	URL          string `json:"url,omitempty"`
	DeploymentID int64  `json:"-"`
}

// Result is the success payload handed to reporters.
type Result struct {
	RunID       string                   `json:"runId"`
	Owner       string                   `json:"owner"`
	Repo        string                   `json:"repo"`
	SHA         string                   `json:"sha"`
	Deployments map[string]SuccessRecord `json:"deployments"` // keyed by project name
	Elapsed     time.Duration            `json:"-"`
	Cycles      int                      `json:"cycles"`
}

// ByProject re-keys successes from environment to project name.
func ByProject(byEnv map[string]SuccessRecord) map[string]SuccessRecord {
	out := make(map[string]SuccessRecord, len(byEnv))
	for _, rec := range byEnv {
		out[rec.ProjectName] = rec
	}
	return out
}

// Failure is the failure payload handed to reporters. It never carries
// partial success records.
type Failure struct {
	RunID   string  `json:"runId"`
	Owner   string  `json:"owner"`
	Repo    string  `json:"repo"`
	SHA     string  `json:"sha"`
	Outcome Outcome `json:"outcome"`
	Message string  `json:"message"`
}
