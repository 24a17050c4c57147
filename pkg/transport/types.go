package transport

import (
	"fmt"
	"strings"
	"time"
)

// TransportRequest describes one acquisition attempt. It is built from the
// effective configuration and is immutable for the lifetime of the attempt.
type TransportRequest struct {
	// Device is an explicit ALSA card identifier or "auto"
	Device          string
	SampleRate      int
	FramesPerPeriod int
	Periods         int

	// AllowSpawn permits starting a new server (vs. only attaching to an
	// existing one)
	AllowSpawn bool

	// Strategies is the ordered list of enabled strategy names
	Strategies []string

	// Per-strategy readiness poll budget
	PollAttempts int
	PollInterval time.Duration

	// EnableRemediation allows the kernel driver reload sequence when the
	// expected card is missing
	EnableRemediation bool
	DriverModule      string
}

// Outcome classifies the result of one strategy attempt
type Outcome string

const (
	OutcomeSucceeded          Outcome = "succeeded"
	OutcomeTimedOut           Outcome = "timed-out"
	OutcomePreconditionFailed Outcome = "precondition-failed"
	OutcomeStartErrored       Outcome = "start-errored"
)

// AttemptRecord is the append-only audit entry for one strategy that was
// evaluated. Records are ordered by attempt priority.
type AttemptRecord struct {
	Strategy string        `json:"strategy"`
	Outcome  Outcome       `json:"outcome"`
	Reason   string        `json:"reason,omitempty"`
	Duration time.Duration `json:"duration"`
	Polls    int           `json:"polls"`
	PID      int           `json:"pid,omitempty"`
	LogPath  string        `json:"log_path,omitempty"`
}

// TransportHandle references a live transport session
type TransportHandle struct {
	// Strategy that produced the handle, or "existing" when a server was
	// already reachable
	Strategy string `json:"strategy"`
	Existing bool   `json:"existing"`
	PID      int    `json:"pid,omitempty"`
	LogPath  string `json:"log_path,omitempty"`
}

// AcquisitionResult is the terminal value of one orchestrator invocation.
// It is immutable after return and owned by the caller.
type AcquisitionResult struct {
	Handle   *TransportHandle `json:"handle,omitempty"`
	Attempts []AttemptRecord  `json:"attempts"`
	Summary  string           `json:"summary,omitempty"`
}

// Success reports whether a transport handle was acquired
func (r *AcquisitionResult) Success() bool {
	return r.Handle != nil
}

// Summarize builds the operator-facing failure summary from the attempt trail
func Summarize(attempts []AttemptRecord) string {
	if len(attempts) == 0 {
		return "no strategies were enabled"
	}
	parts := make([]string, 0, len(attempts))
	for _, a := range attempts {
		p := fmt.Sprintf("%s: %s", a.Strategy, a.Outcome)
		if a.Reason != "" {
			p += fmt.Sprintf(" (%s)", a.Reason)
		}
		parts = append(parts, p)
	}
	return "no transport acquired: " + strings.Join(parts, "; ")
}

// DeviceCandidate is one enumerated sound card
type DeviceCandidate struct {
	Index int    `json:"index"`
	ID    string `json:"id"`
	Label string `json:"label"`

	// Score is the position of the first matching preference pattern;
	// lower is better, -1 means no pattern matched
	Score int `json:"score"`
}

// RemediationPlan is the ordered kernel module reload sequence for the
// expected sound card
type RemediationPlan struct {
	Unload       []string
	Load         []string
	SettleBefore time.Duration
	SettleAfter  time.Duration

	// HintFile is written once, if absent, so subsequent boots load the
	// stack in the right order without remediation
	HintFile    string
	HintContent string
}

// RemediationReport is the outcome of one remediation pass
type RemediationReport struct {
	AlreadyLoaded    bool `json:"already_loaded"`
	Remediated       bool `json:"remediated"`
	CardPresentAfter bool `json:"card_present_after"`
}

// SessionBusStatus reports message bus reachability
type SessionBusStatus struct {
	SystemBus  bool   `json:"system_bus"`
	UserBus    bool   `json:"user_bus"`
	BusAddress string `json:"bus_address,omitempty"`
}
