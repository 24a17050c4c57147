package engine

import (
	"math"
	"testing"
	"time"

	"github.com/bullen/bullend/pkg/transport"
)

// stubSource delivers scripted frames for engine tests
type stubSource struct {
	frames chan [][]int16
}

func newStubSource() *stubSource {
	return &stubSource{frames: make(chan [][]int16, 16)}
}

func (s *stubSource) Start() error             { return nil }
func (s *stubSource) Frames() <-chan [][]int16 { return s.frames }
func (s *stubSource) Close() error             { close(s.frames); return nil }
func (s *stubSource) push(frame [][]int16)     { s.frames <- frame }

func testEngineConfig() Config {
	return Config{
		Inputs:          6,
		Outputs:         2,
		SampleRate:      48000,
		FramesPerPeriod: 128,
		SelectedChannel: 1,
		RecordDir:       "",
	}
}

func liveAcquisition() *transport.AcquisitionResult {
	return &transport.AcquisitionResult{
		Handle: &transport.TransportHandle{Strategy: "direct", PID: 1234},
	}
}

func TestEngineGainConversions(t *testing.T) {
	cases := []struct {
		db     float32
		linear float32
	}{
		{0, 1.0},
		{-6, 0.5011872},
		{6, 1.9952623},
		{-40, 0.01},
	}

	for _, tc := range cases {
		got := DBToLinear(tc.db)
		if math.Abs(float64(got-tc.linear)) > 1e-4 {
			t.Errorf("DBToLinear(%v): expected %v, got %v", tc.db, tc.linear, got)
		}
		back := LinearToDB(tc.linear)
		if math.Abs(float64(back-tc.db)) > 1e-3 {
			t.Errorf("LinearToDB(%v): expected %v, got %v", tc.linear, tc.db, back)
		}
	}

	// Zero gain floors instead of producing -Inf
	if db := LinearToDB(0); math.IsInf(float64(db), -1) {
		t.Error("LinearToDB(0) must not be -Inf")
	}
}

func TestEngineChannelControls(t *testing.T) {
	e := NewConsoleEngine(testEngineConfig())

	t.Run("Select Clamps To Range", func(t *testing.T) {
		e.SetSelectedChannel(3)
		if got := e.State().SelectedChannel; got != 4 {
			t.Errorf("Expected selected channel 4, got %d", got)
		}

		e.SetSelectedChannel(-5)
		if got := e.State().SelectedChannel; got != 1 {
			t.Errorf("Expected clamp to 1, got %d", got)
		}

		e.SetSelectedChannel(100)
		if got := e.State().SelectedChannel; got != 6 {
			t.Errorf("Expected clamp to 6, got %d", got)
		}
	})

	t.Run("Gain Clamps Negative To Zero", func(t *testing.T) {
		e.SetGainLinear(0, -2.5)
		if got := e.State().GainsLinear[0]; got != 0 {
			t.Errorf("Expected gain 0, got %v", got)
		}

		e.SetGainDB(1, -6)
		got := e.State().GainsLinear[1]
		if math.Abs(float64(got)-0.5011872) > 1e-4 {
			t.Errorf("Expected gain ~0.501, got %v", got)
		}
	})

	t.Run("Out Of Range Channel Ignored", func(t *testing.T) {
		e.SetGainLinear(99, 2.0)
		e.SetMute(99, true)
		state := e.State()
		if len(state.GainsLinear) != 6 || len(state.Mutes) != 6 {
			t.Fatalf("Unexpected state shape: %+v", state)
		}
	})

	t.Run("Mute", func(t *testing.T) {
		e.SetMute(2, true)
		if !e.State().Mutes[2] {
			t.Error("Expected channel 3 muted")
		}
		e.SetMute(2, false)
		if e.State().Mutes[2] {
			t.Error("Expected channel 3 unmuted")
		}
	})
}

func TestEngineStateShape(t *testing.T) {
	e := NewConsoleEngine(testEngineConfig())
	state := e.State()

	if state.SampleRate != 48000 {
		t.Errorf("Expected sample rate 48000, got %d", state.SampleRate)
	}
	if state.FramesPerPeriod != 128 {
		t.Errorf("Expected frames per period 128, got %d", state.FramesPerPeriod)
	}
	if state.SelectedChannel != 1 {
		t.Errorf("Expected selected channel 1, got %d", state.SelectedChannel)
	}
	if len(state.GainsLinear) != 6 || len(state.GainsDB) != 6 {
		t.Error("Expected 6 gain entries")
	}
	for i, g := range state.GainsLinear {
		if g != 1.0 {
			t.Errorf("Expected unity gain on channel %d, got %v", i+1, g)
		}
	}
	if !state.Degraded {
		t.Error("Engine without an acquisition must report degraded")
	}
}

func TestEngineDegradedMode(t *testing.T) {
	cfg := testEngineConfig()
	cfg.RecordDir = t.TempDir()
	e := NewConsoleEngine(cfg)

	failed := &transport.AcquisitionResult{Summary: "no transport acquired"}
	if err := e.Start(NewNullCaptureSource(), failed); err != nil {
		t.Fatalf("Degraded start failed: %v", err)
	}
	defer e.Stop()

	if !e.Degraded() {
		t.Error("Expected degraded mode")
	}

	state := e.State()
	if !state.Degraded || state.Transport != "" {
		t.Errorf("Unexpected degraded state: degraded=%v transport=%q",
			state.Degraded, state.Transport)
	}

	// Controls stay live in degraded mode
	e.SetGainDB(0, -12)
	if got := e.State().GainsDB[0]; math.Abs(float64(got)+12) > 1e-3 {
		t.Errorf("Expected -12 dB, got %v", got)
	}

	// Recording is refused without a transport
	if err := e.StartRecording(); err == nil {
		t.Error("Expected recording refusal in degraded mode")
	}
}

func TestEngineProcessesFrames(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Inputs = 2
	e := NewConsoleEngine(cfg)

	source := newStubSource()
	if err := e.Start(source, liveAcquisition()); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}

	loud := make([]int16, 128)
	for i := range loud {
		loud[i] = 16000
	}
	quiet := make([]int16, 128)

	for i := 0; i < 5; i++ {
		source.push([][]int16{loud, quiet})
	}

	// Wait for the meter loop to publish at least one snapshot
	deadline := time.After(2 * time.Second)
	for {
		levels := e.Meters().Levels()
		if levels.Peak[0] > 0.4 {
			if levels.Peak[1] != 0 {
				t.Errorf("Expected silent channel 2, got peak %v", levels.Peak[1])
			}
			break
		}
		select {
		case <-deadline:
			t.Fatal("Meter snapshot never published")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if err := e.Stop(); err != nil {
		t.Fatalf("Failed to stop engine: %v", err)
	}
}

func TestEngineMuteZeroesMeters(t *testing.T) {
	cfg := testEngineConfig()
	cfg.Inputs = 1
	e := NewConsoleEngine(cfg)
	e.SetMute(0, true)

	source := newStubSource()
	if err := e.Start(source, liveAcquisition()); err != nil {
		t.Fatalf("Failed to start engine: %v", err)
	}
	defer e.Stop()

	loud := make([]int16, 128)
	for i := range loud {
		loud[i] = 16000
	}
	source.push([][]int16{loud})

	// Give the process and meter loops a couple of cycles
	time.Sleep(150 * time.Millisecond)

	if peak := e.Meters().Levels().Peak[0]; peak != 0 {
		t.Errorf("Muted channel must meter at zero, got %v", peak)
	}
}
