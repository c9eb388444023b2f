package types

import "time"

// Defaults applied when timeout or interval are absent or unparseable.
const (
	DefaultTimeout             = 300 * time.Second
	DefaultInterval            = 5 * time.Second
	DefaultConcurrency         = 1
	DefaultAPIFailureThreshold = 1
)

// Config is the immutable run configuration. It is built once at the process
// boundary and passed by value into the wait loop.
type Config struct {
	Owner       string        `yaml:"owner" json:"owner"`
	Repo        string        `yaml:"repo" json:"repo"`
	SHA         string        `yaml:"sha" json:"sha"`
	Deployments WatchRequest  `yaml:"deploymentsToWaitFor" json:"deploymentsToWaitFor"`
	Timeout     time.Duration `yaml:"-" json:"-"`
	Interval    time.Duration `yaml:"-" json:"-"`

	// Concurrency bounds in-flight status fetches within one poll cycle.
	Concurrency int `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`
	// APIFailureThreshold is the number of consecutive failed poll cycles
	// that aborts the run. 1 aborts on the first API error.
	APIFailureThreshold     int          `yaml:"apiFailureThreshold,omitempty" json:"apiFailureThreshold,omitempty"`
	AllowSharedEnvironments bool         `yaml:"allowSharedEnvironments,omitempty" json:"allowSharedEnvironments,omitempty"`
	TimeoutCheck            TimeoutCheck `yaml:"timeoutCheck,omitempty" json:"timeoutCheck,omitempty"`
}

// GitHubConfig holds hosting API connection settings. Token is kept out of
// Config so that Config can be logged.
type GitHubConfig struct {
	Token  string `yaml:"-" json:"-"`
	APIURL string `yaml:"apiUrl,omitempty" json:"apiUrl,omitempty"`
}

// OutputConfig selects where results are delivered.
type OutputConfig struct {
	OutputFile     string `yaml:"outputFile,omitempty" json:"outputFile,omitempty"`
	SummaryFile    string `yaml:"summaryFile,omitempty" json:"summaryFile,omitempty"`
	EventBridgeBus string `yaml:"eventBridgeBus,omitempty" json:"eventBridgeBus,omitempty"`
	SQSQueueURL    string `yaml:"sqsQueueUrl,omitempty" json:"sqsQueueUrl,omitempty"`
	SFNTaskToken   string `yaml:"-" json:"-"`
	WebhookURL     string `yaml:"webhookUrl,omitempty" json:"webhookUrl,omitempty"`
}

// HasAWSSinks reports whether any AWS-backed sink is configured.
func (o OutputConfig) HasAWSSinks() bool {
	return o.EventBridgeBus != "" || o.SQSQueueURL != "" || o.SFNTaskToken != ""
}
