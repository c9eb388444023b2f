package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ConfigError reports malformed or missing input. It is raised before the
// wait loop starts and is never retried.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("invalid configuration: %v", e.Err)
	}
	return fmt.Sprintf("invalid configuration for %q: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// APIError wraps a failure from the deployment status client.
type APIError struct {
	Op  string
	Err error
}

func (e *APIError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *APIError) Unwrap() error { return e.Err }

// TimeoutError reports that the wait budget elapsed with environments still
// unresolved.
type TimeoutError struct {
	Elapsed time.Duration
	Timeout time.Duration
	Pending []string
}

func (e *TimeoutError) Error() string {
	msg := fmt.Sprintf("timing out after %d seconds (%.3f elapsed)", int(e.Timeout.Seconds()), e.Elapsed.Seconds())
	if len(e.Pending) > 0 {
		msg += "; still waiting for: " + strings.Join(e.Pending, ", ")
	}
	return msg
}

// OutcomeOf classifies the error returned by a wait run.
func OutcomeOf(err error) Outcome {
	if err == nil {
		return OutcomeSucceeded
	}
	var te *TimeoutError
	if errors.As(err, &te) {
		return OutcomeTimedOut
	}
	return OutcomeFailed
}
