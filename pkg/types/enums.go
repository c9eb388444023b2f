package types

// DeploymentState is the state carried by a single deployment status event.
type DeploymentState string

// DeploymentState values mirror the states the hosting API reports. Anything
// unrecognized is normalized to StateOther.
const (
	StateSuccess    DeploymentState = "success"
	StateFailure    DeploymentState = "failure"
	StateError      DeploymentState = "error"
	StatePending    DeploymentState = "pending"
	StateQueued     DeploymentState = "queued"
	StateInProgress DeploymentState = "in_progress"
	StateInactive   DeploymentState = "inactive"
	StateOther      DeploymentState = "other"
)

// ParseDeploymentState normalizes a raw API state string.
func ParseDeploymentState(s string) DeploymentState {
	switch st := DeploymentState(s); st {
	case StateSuccess, StateFailure, StateError, StatePending,
		StateQueued, StateInProgress, StateInactive:
		return st
	default:
		return StateOther
	}
}

// TimeoutCheck selects when the wait loop compares elapsed time to the budget.
type TimeoutCheck string

// TimeoutCheck values.
const (
	// TimeoutCheckAfterSleep evaluates termination after the interval sleep,
	// so a run may overshoot the budget by up to one interval.
	TimeoutCheckAfterSleep TimeoutCheck = "after-sleep"
	// TimeoutCheckBeforeSleep evaluates termination right after each cycle
	// and never sleeps past the budget.
	TimeoutCheckBeforeSleep TimeoutCheck = "before-sleep"
)

// Valid reports whether c is a known mode.
func (c TimeoutCheck) Valid() bool {
	return c == TimeoutCheckAfterSleep || c == TimeoutCheckBeforeSleep
}

// Outcome is the terminal state of a wait run.
type Outcome string

// Outcome values.
const (
	OutcomeSucceeded Outcome = "SUCCEEDED"
	OutcomeTimedOut  Outcome = "TIMED_OUT"
	OutcomeFailed    Outcome = "FAILED"
)
