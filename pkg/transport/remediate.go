package transport

import (
	"bufio"
	"context"
	"os"
	"strings"
	"time"

	"github.com/bullen/bullend/pkg/logging"
)

// DefaultOctoPlan is the reload sequence for the Audio Injector Octo stack.
// Unload order is dependents-first; load order is the reverse.
func DefaultOctoPlan() RemediationPlan {
	return RemediationPlan{
		Unload: []string{
			"snd_soc_audioinjector_octo_soundcard",
			"snd_soc_cs42xx8_i2c",
			"snd_soc_cs42xx8",
		},
		Load: []string{
			"snd_soc_cs42xx8",
			"snd_soc_cs42xx8_i2c",
			"snd_soc_audioinjector_octo_soundcard",
		},
		SettleBefore: 1 * time.Second,
		SettleAfter:  2 * time.Second,
		HintFile:     "/etc/modprobe.d/bullend-octo.conf",
		HintContent: "# Load order hint for the Audio Injector Octo sound card stack\n" +
			"softdep snd_soc_audioinjector_octo_soundcard pre: snd_soc_cs42xx8_i2c\n" +
			"softdep snd_soc_cs42xx8_i2c pre: snd_soc_cs42xx8\n",
	}
}

// HardwareRemediator detects whether the expected sound card driver stack is
// loaded and, if not, executes an idempotent unload/reload sequence
type HardwareRemediator struct {
	Runner CommandRunner
	Clock  Clock

	// ModulesFile is the loaded-module list, overridable for tests
	ModulesFile string

	// Discovery verifies card enumeration after a reload
	Discovery *DeviceDiscovery
}

// NewHardwareRemediator creates a remediator over the real module list
func NewHardwareRemediator(runner CommandRunner, clock Clock, discovery *DeviceDiscovery) *HardwareRemediator {
	return &HardwareRemediator{
		Runner:      runner,
		Clock:       clock,
		ModulesFile: "/proc/modules",
		Discovery:   discovery,
	}
}

// EnsureCardLoaded applies the plan if, and only if, the target driver is
// absent. A working driver is never unloaded. Remediation is best-effort:
// individual module failures are warnings, and the report tells the caller
// exactly what happened.
func (h *HardwareRemediator) EnsureCardLoaded(ctx context.Context, plan RemediationPlan, driver string) RemediationReport {
	report := RemediationReport{}

	if h.moduleLoaded(driver) {
		report.AlreadyLoaded = true
		report.CardPresentAfter = h.cardPresent()
		return report
	}

	logging.Warnf("remediate", "driver %s not loaded, applying reload sequence", driver)

	h.writeHintFile(plan)

	for _, mod := range plan.Unload {
		if !h.moduleLoaded(mod) {
			continue
		}
		if res := h.Runner.Run(ctx, "modprobe", "-r", mod); res.Class != ClassOK {
			// A module that refuses to unload is not fatal
			logging.Debugf("remediate", "unload %s: %v", mod, res.Err)
		}
	}

	if err := h.Clock.Sleep(ctx, plan.SettleBefore); err != nil {
		return report
	}

	for _, mod := range plan.Load {
		if res := h.Runner.Run(ctx, "modprobe", mod); res.Class != ClassOK {
			// A later module may still succeed; the final re-check is
			// authoritative
			logging.Warnf("remediate", "load %s failed: %v", mod, res.Err)
		}
	}

	if err := h.Clock.Sleep(ctx, plan.SettleAfter); err != nil {
		return report
	}

	report.Remediated = true
	report.CardPresentAfter = h.moduleLoaded(driver) && h.cardPresent()
	return report
}

// moduleLoaded scans the loaded-module list for name, treating '-' and '_'
// as equivalent the way modprobe does
func (h *HardwareRemediator) moduleLoaded(name string) bool {
	f, err := os.Open(h.ModulesFile)
	if err != nil {
		return false
	}
	defer f.Close()

	want := normalizeModule(name)
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		fields := strings.Fields(scanner.Text())
		if len(fields) > 0 && normalizeModule(fields[0]) == want {
			return true
		}
	}
	return false
}

// cardPresent reports whether any sound card is enumerated
func (h *HardwareRemediator) cardPresent() bool {
	if h.Discovery == nil {
		return false
	}
	cards, err := h.Discovery.Enumerate()
	return err == nil && len(cards) > 0
}

// writeHintFile persists the module-order hint, write-once-if-absent, so
// subsequent boots self-heal without remediation
func (h *HardwareRemediator) writeHintFile(plan RemediationPlan) {
	if plan.HintFile == "" {
		return
	}
	if _, err := os.Stat(plan.HintFile); err == nil {
		return
	}
	if err := os.WriteFile(plan.HintFile, []byte(plan.HintContent), 0644); err != nil {
		logging.Warnf("remediate", "failed to write module order hint: %v", err)
		return
	}
	logging.Infof("remediate", "wrote module order hint: %s", plan.HintFile)
}

func normalizeModule(name string) string {
	return strings.ReplaceAll(name, "-", "_")
}
