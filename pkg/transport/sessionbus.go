package transport

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/bullen/bullend/pkg/logging"
)

// SessionBusManager determines whether the system and per-user message buses
// are reachable and performs best-effort repair when a strategy needs one
type SessionBusManager struct {
	// RunRoot is the runtime directory root, overridable for tests
	RunRoot string
	UID     int
	Runner  CommandRunner

	mutex sync.Mutex
	// Once a usable user bus address is found it is cached for the rest of
	// the invocation and never re-derived
	cachedAddress string
}

// NewSessionBusManager creates a bus manager for the current user
func NewSessionBusManager(runner CommandRunner) *SessionBusManager {
	return &SessionBusManager{
		RunRoot: "/run",
		UID:     os.Getuid(),
		Runner:  runner,
	}
}

func (m *SessionBusManager) systemSocket() string {
	return fmt.Sprintf("%s/dbus/system_bus_socket", m.RunRoot)
}

func (m *SessionBusManager) userSocket() string {
	return fmt.Sprintf("%s/user/%d/bus", m.RunRoot, m.UID)
}

// CheckStatus is a read-only query for bus socket presence
func (m *SessionBusManager) CheckStatus() SessionBusStatus {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	status := SessionBusStatus{BusAddress: m.cachedAddress}
	if _, err := os.Stat(m.systemSocket()); err == nil {
		status.SystemBus = true
	}
	if _, err := os.Stat(m.userSocket()); err == nil {
		status.UserBus = true
	}
	return status
}

// EnsureUserBusEnv resolves and caches a user bus address if one is
// available, exporting it for child processes. Returns whether a usable
// address is now available. Idempotent.
func (m *SessionBusManager) EnsureUserBusEnv() bool {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	if m.cachedAddress != "" {
		return true
	}

	if _, err := os.Stat(m.userSocket()); err != nil {
		return false
	}

	m.cachedAddress = fmt.Sprintf("unix:path=%s", m.userSocket())
	if os.Getenv("DBUS_SESSION_BUS_ADDRESS") == "" {
		if err := os.Setenv("DBUS_SESSION_BUS_ADDRESS", m.cachedAddress); err != nil {
			logging.Warnf("bus", "failed to export bus address: %v", err)
		}
	}

	logging.Infof("bus", "user bus address resolved: %s", m.cachedAddress)
	return true
}

// Repair is a best-effort remediation: ensure a runtime directory exists,
// keep the user session alive across logouts, nudge the session bus services
// up, then re-check. It never fails the overall flow and must not hang; each
// sub-action is fire-and-forget with its own short timeout.
func (m *SessionBusManager) Repair(ctx context.Context, user string) SessionBusStatus {
	if err := os.MkdirAll(fmt.Sprintf("%s/user/%d", m.RunRoot, m.UID), 0700); err != nil {
		logging.Debugf("bus", "runtime dir: %v", err)
	}

	if user != "" {
		if res := m.Runner.Run(ctx, "loginctl", "enable-linger", user); res.Class != ClassOK {
			logging.Warnf("bus", "enable-linger failed: %v", res.Err)
		}
	}

	if res := m.Runner.Run(ctx, "systemctl", "--user", "start", "dbus.socket"); res.Class != ClassOK {
		logging.Debugf("bus", "dbus.socket start: %v", res.Err)
	}

	m.EnsureUserBusEnv()
	return m.CheckStatus()
}
