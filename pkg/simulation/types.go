// Package simulation drives acebot-d with many concurrent simulated hosts
// and checks that every caller only ever sees its own state.
package simulation

import (
	"time"
)

// SimulationResult captures the final state of the simulation for reporting
type SimulationResult struct {
	ScenarioName    string                `json:"scenario_name"`
	Duration        time.Duration         `json:"duration"`
	TotalRequests   uint64                `json:"total_requests"`
	TotalJourneys   uint64                `json:"total_journeys"`
	TotalCompleted  uint64                `json:"total_completed"`
	TotalMismatches uint64                `json:"total_mismatches"`
	TotalErrors     uint64                `json:"total_errors"`
	UserStats       map[string]*UserStats `json:"user_stats"`
	Invariants      []InvariantResult     `json:"invariants"`
	Success         bool                  `json:"success"`
}

// UserStats are the counters of one user group. Fields are updated
// atomically while the scenario runs.
type UserStats struct {
	Requests uint64 `json:"requests"`
	Journeys uint64 `json:"journeys"`
	// Completed journeys saw every view they expected.
	Completed uint64 `json:"completed"`
	// Mismatches are views carrying another caller's identity or input,
	// or missing the caller's own.
	Mismatches uint64 `json:"mismatches"`
	Errors     uint64 `json:"errors"`
}

type InvariantResult struct {
	Metric   string `json:"metric"`
	Scope    string `json:"scope"`
	Expected string `json:"expected"` // e.g. "== 0.00"
	Actual   string `json:"actual"`   // e.g. "0.0000"
	Passed   bool   `json:"passed"`
}

type Scenario struct {
	Name        string        `json:"name" yaml:"name"`
	Description string        `json:"description" yaml:"description"`
	Duration    time.Duration `json:"duration" yaml:"duration"`
	Seed        int64         `json:"seed" yaml:"seed"` // Deterministic seed
	Users       []UserConfig  `json:"users" yaml:"users"`
	Invariants  []Invariant   `json:"invariants,omitempty" yaml:"invariants,omitempty"`
}

type Invariant struct {
	Metric    string  `json:"metric" yaml:"metric"`       // "error_rate", "mismatch_rate", "completion_rate"
	Condition string  `json:"condition" yaml:"condition"` // e.g., ">", "<", ">=", "<=", "=="
	Value     float64 `json:"value" yaml:"value"`
	Scope     string  `json:"scope" yaml:"scope"` // "global" or a user group name
}

// UserConfig is a group of simulated users running the same journey. Each
// member gets its own caller id, "<name>-<n>".
type UserConfig struct {
	Name     string        `json:"name" yaml:"name"`
	Count    int           `json:"count" yaml:"count"`
	Channel  string        `json:"channel" yaml:"channel"` // default: "sim"
	Journey  JourneyType   `json:"journey" yaml:"journey"`
	Behavior BehaviorType  `json:"behavior" yaml:"behavior"`
	Rate     int           `json:"rate" yaml:"rate"` // Journeys per second
	Burst    int           `json:"burst" yaml:"burst"`
	Jitter   time.Duration `json:"jitter" yaml:"jitter"`
	// SignOutAction is the action id of the sign-out button. Default:
	// "SignOut".
	SignOutAction string `json:"sign_out_action" yaml:"sign_out_action"`
}

// JourneyType is what one iteration of a user does.
type JourneyType string

const (
	// JourneySignIn signs in through the dev provider, checks the home card
	// names the caller, then signs out.
	JourneySignIn JourneyType = "signin"
	// JourneyCapture types a unique value into the card's text input,
	// submits it and checks the next card echoes it.
	JourneyCapture JourneyType = "capture"
	// JourneyBrowse opens the card and every quick view its buttons name.
	JourneyBrowse JourneyType = "browse"
)

type BehaviorType string

const (
	BehaviorPeriodic BehaviorType = "periodic"
	BehaviorGreedy   BehaviorType = "greedy"
	BehaviorPoisson  BehaviorType = "poisson"
	BehaviorBursty   BehaviorType = "bursty"
)
