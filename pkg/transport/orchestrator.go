package transport

import (
	"context"
	"time"

	"github.com/bullen/bullend/pkg/logging"
)

// AttemptSink receives attempt records as they are produced. Persistence is
// best-effort and never blocks acquisition.
type AttemptSink interface {
	RecordAttempt(record AttemptRecord) error
}

// Orchestrator is the top-level acquisition state machine. One invocation of
// Acquire walks IDLE -> CHECKING_EXISTING -> (REMEDIATING_HARDWARE) ->
// TRYING[i] -> DONE and returns a terminal AcquisitionResult.
type Orchestrator struct {
	Runner     CommandRunner
	Clock      Clock
	Discovery  *DeviceDiscovery
	Bus        *SessionBusManager
	Remediator *HardwareRemediator

	// Plan is applied at most once per invocation, and only when the
	// expected driver is absent
	Plan RemediationPlan

	// Sink, when set, persists the attempt trail
	Sink AttemptSink
}

// NewOrchestrator wires an orchestrator over the real system
func NewOrchestrator(runner CommandRunner) *Orchestrator {
	clock := SystemClock{}
	discovery := NewDeviceDiscovery()
	return &Orchestrator{
		Runner:     runner,
		Clock:      clock,
		Discovery:  discovery,
		Bus:        NewSessionBusManager(runner),
		Remediator: NewHardwareRemediator(runner, clock, discovery),
		Plan:       DefaultOctoPlan(),
	}
}

// EstimateBudget sums the worst-case polling time across the enabled
// strategies so the caller can bound the whole invocation in advance
func (o *Orchestrator) EstimateBudget(req *TransportRequest) time.Duration {
	var total time.Duration
	for _, desc := range o.strategies(req) {
		total += desc.Budget()
	}
	return total
}

// Acquire performs one complete acquisition attempt. It blocks until a
// transport is obtained, every enabled strategy is exhausted, or ctx is
// cancelled. The result is always a value; failure is not an error.
func (o *Orchestrator) Acquire(ctx context.Context, req *TransportRequest) *AcquisitionResult {
	// CHECKING_EXISTING: re-invoking when a server is already up must
	// never start a second one
	if o.probeExisting(ctx) {
		logging.Info("transport", "transport already reachable, attaching to existing session")
		return &AcquisitionResult{
			Handle:   &TransportHandle{Strategy: "existing", Existing: true},
			Attempts: []AttemptRecord{},
		}
	}

	strategies := o.strategies(req)

	// REMEDIATING_HARDWARE: once per invocation, only when some enabled
	// strategy actually needs the hardware, and never fatal
	if req.EnableRemediation && o.anyNeedsHardware(strategies) {
		report := o.Remediator.EnsureCardLoaded(ctx, o.Plan, req.DriverModule)
		logging.Infof("transport",
			"hardware remediation: already_loaded=%t remediated=%t card_present=%t",
			report.AlreadyLoaded, report.Remediated, report.CardPresentAfter)
	}

	runner := &StrategyRunner{Clock: o.Clock}
	attempts := make([]AttemptRecord, 0, len(strategies))

	// TRYING[i]: strictly sequential, first success wins
	for _, desc := range strategies {
		if ctx.Err() != nil {
			break
		}

		record := runner.Run(ctx, desc, req)
		attempts = append(attempts, record)
		o.persist(record)

		switch record.Outcome {
		case OutcomeSucceeded:
			logging.Infof("transport", "strategy %s succeeded after %d poll(s) in %s",
				record.Strategy, record.Polls, record.Duration)
			return &AcquisitionResult{
				Handle: &TransportHandle{
					Strategy: record.Strategy,
					PID:      record.PID,
					LogPath:  record.LogPath,
				},
				Attempts: attempts,
			}
		case OutcomePreconditionFailed:
			logging.Infof("transport", "strategy %s skipped: %s", record.Strategy, record.Reason)
		default:
			logging.Warnf("transport", "strategy %s failed: %s (%s)",
				record.Strategy, record.Outcome, record.Reason)
			if record.PID != 0 {
				// The spawned process is deliberately left running
				// for operator inspection
				logging.Warnf("transport", "process %d from strategy %s left running, log: %s",
					record.PID, record.Strategy, record.LogPath)
			}
		}
	}

	result := &AcquisitionResult{
		Attempts: attempts,
		Summary:  Summarize(attempts),
	}
	if len(attempts) == 0 && ctx.Err() != nil {
		result.Summary = "acquisition interrupted before any strategy was attempted"
	}
	logging.Error("transport", result.Summary)
	return result
}

// probeExisting is the lightweight readiness probe against the default
// session
func (o *Orchestrator) probeExisting(ctx context.Context) bool {
	return o.Runner.Run(ctx, "jack_lsp").Class == ClassOK
}

func (o *Orchestrator) strategies(req *TransportRequest) []*StrategyDescriptor {
	return BuildStrategies(req, StrategyDeps{
		Runner:    o.Runner,
		Discovery: o.Discovery,
		Bus:       o.Bus,
	})
}

func (o *Orchestrator) anyNeedsHardware(strategies []*StrategyDescriptor) bool {
	for _, desc := range strategies {
		if desc.NeedsHardware {
			return true
		}
	}
	return false
}

func (o *Orchestrator) persist(record AttemptRecord) {
	if o.Sink == nil {
		return
	}
	if err := o.Sink.RecordAttempt(record); err != nil {
		logging.Warnf("transport", "failed to persist attempt record: %v", err)
	}
}
