// Package config builds the run configuration from command-line flags,
// environment variables and an optional YAML file.
//
// Precedence, lowest first: built-in defaults, YAML file, INPUT_<NAME>
// variables (GitHub Actions inputs), DEPLOYWAIT_<NAME> variables, flags.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/dwsmith1983/deploywait/pkg/types"
)

// Input keys. Each is also the flag name.
const (
	KeyConfigFile              = "config"
	KeyLogLevel                = "log-level"
	KeyGitHubToken             = "github-token"
	KeyTimeout                 = "timeout"
	KeyInterval                = "interval"
	KeyDeployments             = "deployments-to-wait-for"
	KeyHeadSHA                 = "github-head-sha"
	KeyRepository              = "repository"
	KeyAPIURL                  = "github-api-url"
	KeyConcurrency             = "concurrency"
	KeyAPIFailureThreshold     = "api-failure-threshold"
	KeyAllowSharedEnvironments = "allow-shared-environments"
	KeyTimeoutCheck            = "timeout-check"
	KeyOutputFile              = "output-file"
	KeySummaryFile             = "summary-file"
	KeyEventBridgeBus          = "eventbridge-bus"
	KeySQSQueueURL             = "sqs-queue-url"
	KeySFNTaskToken            = "sfn-task-token"
	KeyWebhookURL              = "webhook-url"
)

// runnerEnv lists the CI runner variables consulted after the explicit ones.
var runnerEnv = map[string]string{
	KeyHeadSHA:     "GITHUB_SHA",
	KeyRepository:  "GITHUB_REPOSITORY",
	KeyAPIURL:      "GITHUB_API_URL",
	KeyOutputFile:  "GITHUB_OUTPUT",
	KeySummaryFile: "GITHUB_STEP_SUMMARY",
}

var flagUsage = []struct {
	key   string
	usage string
}{
	{KeyConfigFile, "path to a YAML config file"},
	{KeyLogLevel, "log level: debug, info, warn, error"},
	{KeyGitHubToken, "GitHub token, or a secretsmanager:// or vault:// reference"},
	{KeyTimeout, "seconds to wait before giving up (default 300)"},
	{KeyInterval, "seconds between poll cycles (default 5)"},
	{KeyDeployments, `JSON object of project name to environment, e.g. {"web":"prod"}`},
	{KeyHeadSHA, "commit SHA whose deployments are awaited"},
	{KeyRepository, "repository as owner/name"},
	{KeyAPIURL, "GitHub REST API base URL"},
	{KeyConcurrency, "maximum concurrent status requests per poll cycle (default 1)"},
	{KeyAPIFailureThreshold, "consecutive failed poll cycles tolerated (default 1)"},
	{KeyAllowSharedEnvironments, "allow several projects to wait on one environment"},
	{KeyTimeoutCheck, "when the timeout is checked: after-sleep or before-sleep"},
	{KeyOutputFile, "file receiving the deployments output"},
	{KeySummaryFile, "file receiving a markdown summary"},
	{KeyEventBridgeBus, "EventBridge bus receiving the outcome event"},
	{KeySQSQueueURL, "SQS queue receiving the outcome message"},
	{KeySFNTaskToken, "Step Functions task token to complete"},
	{KeyWebhookURL, "URL receiving the outcome as a JSON POST"},
}

// Settings is everything Load produces.
type Settings struct {
	Run      types.Config
	GitHub   types.GitHubConfig
	Output   types.OutputConfig
	LogLevel string
}

// RegisterFlags adds one string flag per input key. Flags are strings so
// that every source goes through the same parsing rules.
func RegisterFlags(fs *pflag.FlagSet) {
	for _, f := range flagUsage {
		fs.String(f.key, "", f.usage)
	}
}

// NewViper binds every key to its flag and environment variables.
func NewViper(fs *pflag.FlagSet) (*viper.Viper, error) {
	v := viper.New()
	for _, f := range flagUsage {
		// The Actions runner keeps hyphens in INPUT_ names.
		envs := []string{
			envName("DEPLOYWAIT_", f.key),
			"INPUT_" + strings.ToUpper(f.key),
			envName("INPUT_", f.key),
		}
		if extra, ok := runnerEnv[f.key]; ok {
			envs = append(envs, extra)
		}
		if err := v.BindEnv(append([]string{f.key}, envs...)...); err != nil {
			return nil, fmt.Errorf("binding env for %s: %w", f.key, err)
		}
		if fs == nil {
			continue
		}
		if flag := fs.Lookup(f.key); flag != nil {
			if err := v.BindPFlag(f.key, flag); err != nil {
				return nil, fmt.Errorf("binding flag %s: %w", f.key, err)
			}
		}
	}
	return v, nil
}

func envName(prefix, key string) string {
	return prefix + strings.ToUpper(strings.ReplaceAll(key, "-", "_"))
}

// fileConfig is the YAML file layout. Keys match the flag names.
type fileConfig struct {
	LogLevel                string    `yaml:"log-level"`
	Timeout                 yaml.Node `yaml:"timeout"`
	Interval                yaml.Node `yaml:"interval"`
	Deployments             yaml.Node `yaml:"deployments-to-wait-for"`
	HeadSHA                 string    `yaml:"github-head-sha"`
	Repository              string    `yaml:"repository"`
	APIURL                  string    `yaml:"github-api-url"`
	Concurrency             yaml.Node `yaml:"concurrency"`
	APIFailureThreshold     yaml.Node `yaml:"api-failure-threshold"`
	AllowSharedEnvironments yaml.Node `yaml:"allow-shared-environments"`
	TimeoutCheck            string    `yaml:"timeout-check"`
	OutputFile              string    `yaml:"output-file"`
	SummaryFile             string    `yaml:"summary-file"`
	EventBridgeBus          string    `yaml:"eventbridge-bus"`
	SQSQueueURL             string    `yaml:"sqs-queue-url"`
	WebhookURL              string    `yaml:"webhook-url"`
}

// Load reads every source bound to v and validates the result.
func Load(v *viper.Viper) (Settings, error) {
	var fileDeployments types.WatchRequest
	if path := v.GetString(KeyConfigFile); path != "" {
		var err error
		fileDeployments, err = applyFile(v, path)
		if err != nil {
			return Settings{}, err
		}
	}

	var s Settings
	s.LogLevel = strings.ToLower(strings.TrimSpace(v.GetString(KeyLogLevel)))
	if s.LogLevel == "" {
		s.LogLevel = "info"
	}

	s.GitHub = types.GitHubConfig{
		Token:  strings.TrimSpace(v.GetString(KeyGitHubToken)),
		APIURL: strings.TrimSpace(v.GetString(KeyAPIURL)),
	}
	if s.GitHub.Token == "" {
		return Settings{}, &types.ConfigError{Field: KeyGitHubToken, Err: fmt.Errorf("a token is required")}
	}

	owner, repo, err := splitRepository(v.GetString(KeyRepository))
	if err != nil {
		return Settings{}, err
	}

	deployments := fileDeployments
	if raw := strings.TrimSpace(v.GetString(KeyDeployments)); raw != "" {
		deployments, err = ParseDeployments(raw)
		if err != nil {
			return Settings{}, err
		}
	}
	if len(deployments) == 0 {
		return Settings{}, &types.ConfigError{Field: KeyDeployments, Err: fmt.Errorf("at least one project is required")}
	}

	s.Run = types.Config{
		Owner:       owner,
		Repo:        repo,
		SHA:         strings.TrimSpace(v.GetString(KeyHeadSHA)),
		Deployments: deployments,
		Timeout:     ParseSeconds(v.GetString(KeyTimeout), types.DefaultTimeout),
		Interval:    ParseSeconds(v.GetString(KeyInterval), types.DefaultInterval),
	}
	if s.Run.SHA == "" {
		return Settings{}, &types.ConfigError{Field: KeyHeadSHA, Err: fmt.Errorf("a commit SHA is required")}
	}

	if s.Run.Concurrency, err = positiveInt(v, KeyConcurrency, types.DefaultConcurrency); err != nil {
		return Settings{}, err
	}
	if s.Run.APIFailureThreshold, err = positiveInt(v, KeyAPIFailureThreshold, types.DefaultAPIFailureThreshold); err != nil {
		return Settings{}, err
	}
	if raw := strings.TrimSpace(v.GetString(KeyAllowSharedEnvironments)); raw != "" {
		s.Run.AllowSharedEnvironments, err = strconv.ParseBool(raw)
		if err != nil {
			return Settings{}, &types.ConfigError{Field: KeyAllowSharedEnvironments, Err: err}
		}
	}

	s.Run.TimeoutCheck = types.TimeoutCheck(strings.TrimSpace(v.GetString(KeyTimeoutCheck)))
	if s.Run.TimeoutCheck == "" {
		s.Run.TimeoutCheck = types.TimeoutCheckAfterSleep
	}
	if !s.Run.TimeoutCheck.Valid() {
		return Settings{}, &types.ConfigError{
			Field: KeyTimeoutCheck,
			Err:   fmt.Errorf("must be %q or %q, got %q", types.TimeoutCheckAfterSleep, types.TimeoutCheckBeforeSleep, s.Run.TimeoutCheck),
		}
	}

	s.Output = types.OutputConfig{
		OutputFile:     v.GetString(KeyOutputFile),
		SummaryFile:    v.GetString(KeySummaryFile),
		EventBridgeBus: v.GetString(KeyEventBridgeBus),
		SQSQueueURL:    v.GetString(KeySQSQueueURL),
		SFNTaskToken:   v.GetString(KeySFNTaskToken),
		WebhookURL:     v.GetString(KeyWebhookURL),
	}
	return s, nil
}

// ParseDeployments decodes the JSON deployments input, keeping key order.
func ParseDeployments(raw string) (types.WatchRequest, error) {
	var req types.WatchRequest
	if err := json.Unmarshal([]byte(raw), &req); err != nil {
		return nil, &types.ConfigError{
			Field: KeyDeployments,
			Err:   fmt.Errorf("could not parse the JSON given, please ensure it is a valid object: %w", err),
		}
	}
	return req, nil
}

// ParseSeconds reads leading decimal digits as whole seconds, so "30" and
// "30s" both mean 30 seconds. Anything without leading digits, or a value
// of zero or less, yields def.
func ParseSeconds(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	end := 0
	if end < len(raw) && (raw[end] == '+' || raw[end] == '-') {
		end++
	}
	digits := end
	for end < len(raw) && raw[end] >= '0' && raw[end] <= '9' {
		end++
	}
	if end == digits {
		return def
	}
	n, err := strconv.ParseInt(raw[:end], 10, 64)
	if err != nil || n <= 0 {
		return def
	}
	return time.Duration(n) * time.Second
}

func positiveInt(v *viper.Viper, key string, def int) (int, error) {
	raw := strings.TrimSpace(v.GetString(key))
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, &types.ConfigError{Field: key, Err: err}
	}
	if n < 1 {
		return 0, &types.ConfigError{Field: key, Err: fmt.Errorf("must be at least 1, got %d", n)}
	}
	return n, nil
}

func splitRepository(raw string) (string, string, error) {
	raw = strings.TrimSpace(raw)
	owner, repo, ok := strings.Cut(raw, "/")
	if !ok || owner == "" || repo == "" || strings.Contains(repo, "/") {
		return "", "", &types.ConfigError{
			Field: KeyRepository,
			Err:   fmt.Errorf("expected owner/name, got %q", raw),
		}
	}
	return owner, repo, nil
}

// applyFile installs the file's values as viper defaults, below every
// environment variable and flag. The deployments map is returned
// separately because viper does not keep YAML key order.
func applyFile(v *viper.Viper, path string) (types.WatchRequest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &types.ConfigError{Field: KeyConfigFile, Err: fmt.Errorf("reading config: %w", err)}
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, &types.ConfigError{Field: KeyConfigFile, Err: fmt.Errorf("parsing config: %w", err)}
	}

	strs := map[string]string{
		KeyLogLevel:       fc.LogLevel,
		KeyHeadSHA:        fc.HeadSHA,
		KeyRepository:     fc.Repository,
		KeyAPIURL:         fc.APIURL,
		KeyTimeoutCheck:   fc.TimeoutCheck,
		KeyOutputFile:     fc.OutputFile,
		KeySummaryFile:    fc.SummaryFile,
		KeyEventBridgeBus: fc.EventBridgeBus,
		KeySQSQueueURL:    fc.SQSQueueURL,
		KeyWebhookURL:     fc.WebhookURL,
	}
	for key, node := range map[string]*yaml.Node{
		KeyTimeout:                 &fc.Timeout,
		KeyInterval:                &fc.Interval,
		KeyConcurrency:             &fc.Concurrency,
		KeyAPIFailureThreshold:     &fc.APIFailureThreshold,
		KeyAllowSharedEnvironments: &fc.AllowSharedEnvironments,
	} {
		if node.Kind == 0 {
			continue
		}
		if node.Kind != yaml.ScalarNode {
			return nil, &types.ConfigError{Field: key, Err: fmt.Errorf("line %d: expected a scalar value", node.Line)}
		}
		strs[key] = node.Value
	}
	for key, val := range strs {
		if val != "" {
			v.SetDefault(key, val)
		}
	}

	switch fc.Deployments.Kind {
	case 0:
		return nil, nil
	case yaml.ScalarNode:
		return ParseDeployments(fc.Deployments.Value)
	default:
		var req types.WatchRequest
		if err := fc.Deployments.Decode(&req); err != nil {
			return nil, &types.ConfigError{Field: KeyDeployments, Err: err}
		}
		return req, nil
	}
}
