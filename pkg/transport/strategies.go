package transport

import (
	"context"
	"fmt"
	"strconv"
)

// StrategyDeps are the collaborators the canonical strategies consult
type StrategyDeps struct {
	Runner    CommandRunner
	Discovery *DeviceDiscovery
	Bus       *SessionBusManager
}

// readyProbe is the shared readiness check: a transport is reachable when
// the port-listing client exits cleanly
func readyProbe(runner CommandRunner) func(ctx context.Context) bool {
	return func(ctx context.Context) bool {
		return runner.Run(ctx, "jack_lsp").Class == ClassOK
	}
}

// BuildStrategies resolves the request's enabled strategy names into
// descriptors, preserving the requested order. Unknown names are ignored
// (config validation catches them earlier).
func BuildStrategies(req *TransportRequest, deps StrategyDeps) []*StrategyDescriptor {
	ready := readyProbe(deps.Runner)

	available := map[string]*StrategyDescriptor{
		"direct":  directStrategy(deps, ready),
		"wrapper": wrapperStrategy(deps, ready),
		"bus":     busStrategy(deps, ready),
		"dummy":   dummyStrategy(deps, ready),
	}

	var out []*StrategyDescriptor
	for _, name := range req.Strategies {
		desc, ok := available[name]
		if !ok {
			continue
		}
		desc.MaxAttempts = req.PollAttempts
		desc.PollInterval = req.PollInterval
		out = append(out, desc)
	}
	return out
}

// directStrategy owns the detected hardware device outright: the lowest
// latency path
func directStrategy(deps StrategyDeps, ready func(context.Context) bool) *StrategyDescriptor {
	return &StrategyDescriptor{
		Name:          "direct",
		NeedsHardware: true,
		Precondition: func(ctx context.Context, req *TransportRequest) (bool, string) {
			if !req.AllowSpawn {
				return false, "spawning a new server is not permitted"
			}
			if !deps.Runner.Exists("jackd") {
				return false, "jackd not installed"
			}
			return true, ""
		},
		Start: func(ctx context.Context, req *TransportRequest) (*StartedProcess, error) {
			device := "hw:0"
			// Discovery failure is non-fatal: the strategy picks the
			// default device
			if card, err := deps.Discovery.Discover(req.Device); err == nil {
				device = "hw:" + card.ID
			}
			return deps.Runner.Start(ctx, "jackd",
				"-d", "alsa",
				"-d", device,
				"-r", strconv.Itoa(req.SampleRate),
				"-p", strconv.Itoa(req.FramesPerPeriod),
				"-n", strconv.Itoa(req.Periods),
			)
		},
		Ready: ready,
	}
}

// wrapperStrategy runs the server on a software loopback over an existing
// general-purpose audio server: the most compatible path
func wrapperStrategy(deps StrategyDeps, ready func(context.Context) bool) *StrategyDescriptor {
	return &StrategyDescriptor{
		Name: "wrapper",
		Precondition: func(ctx context.Context, req *TransportRequest) (bool, string) {
			if !req.AllowSpawn {
				return false, "spawning a new server is not permitted"
			}
			if !deps.Runner.Exists("jackd") {
				return false, "jackd not installed"
			}
			if deps.Runner.Run(ctx, "pgrep", "-x", "pipewire").Class != ClassOK &&
				deps.Runner.Run(ctx, "pgrep", "-x", "pulseaudio").Class != ClassOK {
				return false, "no general-purpose audio server running to wrap"
			}
			return true, ""
		},
		Start: func(ctx context.Context, req *TransportRequest) (*StartedProcess, error) {
			return deps.Runner.Start(ctx, "jackd",
				"-d", "alsa",
				"-d", "pulse",
				"-r", strconv.Itoa(req.SampleRate),
			)
		},
		Ready: ready,
	}
}

// busStrategy asks the bus-managed daemon to come up: the path with the most
// external dependencies
func busStrategy(deps StrategyDeps, ready func(context.Context) bool) *StrategyDescriptor {
	return &StrategyDescriptor{
		Name: "bus",
		Precondition: func(ctx context.Context, req *TransportRequest) (bool, string) {
			if !req.AllowSpawn {
				return false, "spawning a new server is not permitted"
			}
			if deps.Bus.EnsureUserBusEnv() {
				return true, ""
			}
			// One best-effort repair before giving up on the bus
			deps.Bus.Repair(ctx, "")
			if deps.Bus.EnsureUserBusEnv() {
				return true, ""
			}
			return false, "no usable user session bus"
		},
		Start: func(ctx context.Context, req *TransportRequest) (*StartedProcess, error) {
			res := deps.Runner.Run(ctx, "jack_control", "start")
			if res.Class == ClassPermanent {
				return nil, fmt.Errorf("jack_control unavailable: %v", res.Err)
			}
			// Transient failures fall through to the readiness poll;
			// the daemon may still be coming up
			return nil, nil
		},
		Ready: ready,
	}
}

// dummyStrategy starts a null backend so the console can run in degraded
// mode: guaranteed to start, useless for audio
func dummyStrategy(deps StrategyDeps, ready func(context.Context) bool) *StrategyDescriptor {
	return &StrategyDescriptor{
		Name: "dummy",
		Precondition: func(ctx context.Context, req *TransportRequest) (bool, string) {
			if !req.AllowSpawn {
				return false, "spawning a new server is not permitted"
			}
			if !deps.Runner.Exists("jackd") {
				return false, "jackd not installed"
			}
			return true, ""
		},
		Start: func(ctx context.Context, req *TransportRequest) (*StartedProcess, error) {
			return deps.Runner.Start(ctx, "jackd",
				"-d", "dummy",
				"-r", strconv.Itoa(req.SampleRate),
			)
		},
		Ready: ready,
	}
}
