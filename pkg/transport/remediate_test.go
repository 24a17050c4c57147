package transport

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeModules(t *testing.T, lines ...string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "modules")
	content := strings.Join(lines, "\n") + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func testPlan(dir string) RemediationPlan {
	return RemediationPlan{
		Unload:      []string{"snd_soc_audioinjector_octo_soundcard", "snd_soc_cs42xx8"},
		Load:        []string{"snd_soc_cs42xx8", "snd_soc_audioinjector_octo_soundcard"},
		HintFile:    filepath.Join(dir, "octo.conf"),
		HintContent: "softdep test\n",
	}
}

func TestEnsureCardLoadedAlreadyLoaded(t *testing.T) {
	runner := newFakeRunner()
	h := &HardwareRemediator{
		Runner:      runner,
		Clock:       newFakeClock(),
		ModulesFile: writeModules(t, "snd_soc_audioinjector_octo_soundcard 16384 0 - Live"),
		Discovery:   &DeviceDiscovery{ProcRoot: t.TempDir()},
	}

	report := h.EnsureCardLoaded(context.Background(), testPlan(t.TempDir()),
		"snd_soc_audioinjector_octo_soundcard")

	assert.True(t, report.AlreadyLoaded)
	assert.False(t, report.Remediated)
	assert.Empty(t, runner.calls, "a working driver must never be touched")
}

func TestEnsureCardLoadedReloadsStack(t *testing.T) {
	procRoot := t.TempDir()
	writeCard(t, procRoot, 0, "audioinjectoroc", "audioinjector-octo-soundcard")

	runner := newFakeRunner()
	runner.results["modprobe"] = CommandResult{Class: ClassOK}

	// The driver is absent but a dependency lingers
	modules := writeModules(t, "snd_soc_cs42xx8 24576 1 - Live")

	h := &HardwareRemediator{
		Runner:      runner,
		Clock:       newFakeClock(),
		ModulesFile: modules,
		Discovery:   &DeviceDiscovery{ProcRoot: procRoot},
	}

	dir := t.TempDir()
	report := h.EnsureCardLoaded(context.Background(), testPlan(dir),
		"snd_soc_audioinjector_octo_soundcard")

	assert.False(t, report.AlreadyLoaded)
	assert.True(t, report.Remediated)

	// Only the lingering dependency is unloaded, both modules are loaded
	assert.Contains(t, runner.calls, "modprobe -r snd_soc_cs42xx8")
	assert.NotContains(t, runner.calls, "modprobe -r snd_soc_audioinjector_octo_soundcard")
	assert.Contains(t, runner.calls, "modprobe snd_soc_cs42xx8")
	assert.Contains(t, runner.calls, "modprobe snd_soc_audioinjector_octo_soundcard")

	// The load-order hint was persisted
	data, err := os.ReadFile(filepath.Join(dir, "octo.conf"))
	require.NoError(t, err)
	assert.Equal(t, "softdep test\n", string(data))
}

func TestEnsureCardLoadedHintFileNotOverwritten(t *testing.T) {
	dir := t.TempDir()
	hintPath := filepath.Join(dir, "octo.conf")
	require.NoError(t, os.WriteFile(hintPath, []byte("operator edited\n"), 0644))

	runner := newFakeRunner()
	runner.results["modprobe"] = CommandResult{Class: ClassOK}

	h := &HardwareRemediator{
		Runner:      runner,
		Clock:       newFakeClock(),
		ModulesFile: writeModules(t, "unrelated 4096 0 - Live"),
		Discovery:   &DeviceDiscovery{ProcRoot: t.TempDir()},
	}

	h.EnsureCardLoaded(context.Background(), testPlan(dir), "snd_soc_audioinjector_octo_soundcard")

	data, err := os.ReadFile(hintPath)
	require.NoError(t, err)
	assert.Equal(t, "operator edited\n", string(data))
}

func TestEnsureCardLoadedReportsSuccessWhenDriverComesBack(t *testing.T) {
	procRoot := t.TempDir()
	writeCard(t, procRoot, 0, "audioinjectoroc", "audioinjector-octo-soundcard")

	modules := writeModules(t, "unrelated 4096 0 - Live")

	runner := newFakeRunner()
	runner.results["modprobe"] = CommandResult{Class: ClassOK}
	// Loading the driver makes it appear in the module list, as a real
	// modprobe would
	runner.onRun = func(name string, args []string) {
		if name == "modprobe" && len(args) == 1 && args[0] == "snd_soc_audioinjector_octo_soundcard" {
			content := "unrelated 4096 0 - Live\nsnd_soc_audioinjector_octo_soundcard 16384 0 - Live\n"
			require.NoError(t, os.WriteFile(modules, []byte(content), 0644))
		}
	}

	h := &HardwareRemediator{
		Runner:      runner,
		Clock:       newFakeClock(),
		ModulesFile: modules,
		Discovery:   &DeviceDiscovery{ProcRoot: procRoot},
	}

	report := h.EnsureCardLoaded(context.Background(), testPlan(t.TempDir()),
		"snd_soc_audioinjector_octo_soundcard")

	assert.False(t, report.AlreadyLoaded)
	assert.True(t, report.Remediated)
	assert.True(t, report.CardPresentAfter, "a successful reload must be re-verified")
}

func TestEnsureCardLoadedBestEffortOnFailure(t *testing.T) {
	runner := newFakeRunner()
	runner.results["modprobe"] = CommandResult{Class: ClassTransient}

	h := &HardwareRemediator{
		Runner:      runner,
		Clock:       newFakeClock(),
		ModulesFile: writeModules(t, "unrelated 4096 0 - Live"),
		Discovery:   &DeviceDiscovery{ProcRoot: t.TempDir()},
	}

	report := h.EnsureCardLoaded(context.Background(), testPlan(t.TempDir()),
		"snd_soc_audioinjector_octo_soundcard")

	// Failure is reported, never raised
	assert.True(t, report.Remediated)
	assert.False(t, report.CardPresentAfter)
}

func TestModuleNameNormalization(t *testing.T) {
	h := &HardwareRemediator{
		ModulesFile: writeModules(t, "snd_soc_cs42xx8 24576 1 - Live"),
	}

	// modprobe treats '-' and '_' as interchangeable
	assert.True(t, h.moduleLoaded("snd-soc-cs42xx8"))
	assert.True(t, h.moduleLoaded("snd_soc_cs42xx8"))
	assert.False(t, h.moduleLoaded("snd_soc_cs42xx8_i2c"))
}
