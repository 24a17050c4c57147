package engine

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/bullen/bullend/pkg/audio"
	"github.com/bullen/bullend/pkg/logging"
	"github.com/bullen/bullend/pkg/protocol"
	"github.com/bullen/bullend/pkg/transport"
)

const meterFFTSize = 1024

// Config holds the console engine parameters
type Config struct {
	Inputs          int
	Outputs         int
	SampleRate      int
	FramesPerPeriod int
	SelectedChannel int // 1-based
	RecordEnabled   bool
	RecordDir       string
}

// ConsoleEngine routes one selected input channel to the monitor output,
// applies per-channel gain/mute, meters every channel and records raw input
// to disk. It attaches to whatever transport the orchestrator produced, or
// runs degraded without one.
type ConsoleEngine struct {
	config Config

	mutex    sync.RWMutex
	selected int // 0-based
	gains    []float32
	mutes    []bool
	running  bool

	meters   *audio.MeterBank
	recorder *Recorder
	source   CaptureSource

	acquisition *transport.AcquisitionResult

	stopChan chan struct{}
	wg       sync.WaitGroup
}

// NewConsoleEngine creates an engine for the given channel bank
func NewConsoleEngine(cfg Config) *ConsoleEngine {
	selected := cfg.SelectedChannel - 1
	if selected < 0 || selected >= cfg.Inputs {
		selected = 0
	}

	gains := make([]float32, cfg.Inputs)
	for i := range gains {
		gains[i] = 1.0
	}

	return &ConsoleEngine{
		config:   cfg,
		selected: selected,
		gains:    gains,
		mutes:    make([]bool, cfg.Inputs),
		meters:   audio.NewMeterBank(cfg.Inputs, cfg.SampleRate, meterFFTSize),
		recorder: NewRecorder(cfg.RecordDir, cfg.SampleRate, cfg.Inputs),
	}
}

// Start attaches the engine to a capture source and acquisition result and
// begins processing
func (e *ConsoleEngine) Start(source CaptureSource, acquisition *transport.AcquisitionResult) error {
	e.mutex.Lock()
	if e.running {
		e.mutex.Unlock()
		return fmt.Errorf("engine already started")
	}
	e.source = source
	e.acquisition = acquisition
	e.running = true
	e.stopChan = make(chan struct{})
	e.mutex.Unlock()

	if err := source.Start(); err != nil {
		return fmt.Errorf("failed to start capture source: %w", err)
	}

	if e.config.RecordEnabled && !e.Degraded() {
		if err := e.recorder.Start(); err != nil {
			logging.Warnf("engine", "recording disabled: %v", err)
		}
	}

	e.wg.Add(2)
	go e.processLoop()
	go e.meterLoop()

	if e.Degraded() {
		logging.Warn("engine", "running in degraded mode: no transport, no audio flows")
	} else {
		logging.Infof("engine", "engine started on transport strategy %q",
			e.acquisition.Handle.Strategy)
	}
	return nil
}

// Stop shuts down the processing loops, the recorder and the capture source
func (e *ConsoleEngine) Stop() error {
	e.mutex.Lock()
	if !e.running {
		e.mutex.Unlock()
		return nil
	}
	e.running = false
	close(e.stopChan)
	e.mutex.Unlock()

	if e.source != nil {
		e.source.Close()
	}
	e.wg.Wait()
	e.recorder.Stop()

	logging.Info("engine", "engine stopped")
	return nil
}

// processLoop consumes capture frames: record raw, meter post-gain, feed the
// selected channel's spectrum
func (e *ConsoleEngine) processLoop() {
	defer e.wg.Done()

	frames := e.source.Frames()
	for {
		select {
		case <-e.stopChan:
			return
		case frame, ok := <-frames:
			if !ok {
				return
			}
			e.processFrame(frame)
		}
	}
}

func (e *ConsoleEngine) processFrame(frame [][]int16) {
	e.mutex.RLock()
	selected := e.selected
	gains := make([]float32, len(e.gains))
	copy(gains, e.gains)
	mutes := make([]bool, len(e.mutes))
	copy(mutes, e.mutes)
	e.mutex.RUnlock()

	for ch := 0; ch < len(frame) && ch < e.config.Inputs; ch++ {
		raw := frame[ch]

		// Recording is pre-gain, pre-mute: level changes are never
		// destructive
		e.recorder.Enqueue(ch, raw)

		g := gains[ch]
		if mutes[ch] {
			g = 0
		}

		post := make([]int16, len(raw))
		for i, s := range raw {
			v := float32(s) * g
			if v > 32767 {
				v = 32767
			} else if v < -32768 {
				v = -32768
			}
			post[i] = int16(v)
		}

		e.meters.Process(ch, post)
		if ch == selected {
			e.meters.FeedSpectrum(post)
		}
	}
}

// meterLoop publishes meter snapshots at ~20 Hz
func (e *ConsoleEngine) meterLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopChan:
			return
		case <-ticker.C:
			e.meters.Snapshot()
		}
	}
}

// SetSelectedChannel selects the channel routed to the monitor output.
// ch is 0-based and clamped to the valid range.
func (e *ConsoleEngine) SetSelectedChannel(ch int) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if ch < 0 {
		ch = 0
	}
	if ch >= e.config.Inputs {
		ch = e.config.Inputs - 1
	}
	e.selected = ch
}

// SetGainLinear sets a channel's linear gain, clamped to >= 0
func (e *ConsoleEngine) SetGainLinear(ch int, gain float32) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if ch >= 0 && ch < e.config.Inputs {
		if gain < 0 {
			gain = 0
		}
		e.gains[ch] = gain
	}
}

// SetGainDB sets a channel's gain in decibels
func (e *ConsoleEngine) SetGainDB(ch int, gainDB float32) {
	e.SetGainLinear(ch, DBToLinear(gainDB))
}

// SetMute sets a channel's mute state
func (e *ConsoleEngine) SetMute(ch int, mute bool) {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if ch >= 0 && ch < e.config.Inputs {
		e.mutes[ch] = mute
	}
}

// Inputs returns the number of input channels
func (e *ConsoleEngine) Inputs() int {
	return e.config.Inputs
}

// Degraded reports whether the engine is running without a live transport
func (e *ConsoleEngine) Degraded() bool {
	return e.acquisition == nil || !e.acquisition.Success()
}

// Acquisition returns the transport acquisition result this engine was
// started with
func (e *ConsoleEngine) Acquisition() *transport.AcquisitionResult {
	return e.acquisition
}

// Meters exposes the meter bank for the VU publisher
func (e *ConsoleEngine) Meters() *audio.MeterBank {
	return e.meters
}

// SetSessionSink installs the recording session metadata sink. Call before
// Start.
func (e *ConsoleEngine) SetSessionSink(sink SessionSink) {
	e.recorder.SetSessionSink(sink)
}

// StartRecording opens a new recording session
func (e *ConsoleEngine) StartRecording() error {
	if e.Degraded() {
		return fmt.Errorf("cannot record in degraded mode")
	}
	return e.recorder.Start()
}

// StopRecording closes the current recording session
func (e *ConsoleEngine) StopRecording() {
	e.recorder.Stop()
}

// State returns the full console state
func (e *ConsoleEngine) State() protocol.ConsoleState {
	e.mutex.RLock()
	defer e.mutex.RUnlock()

	levels := e.meters.Levels()

	gainsLinear := make([]float32, len(e.gains))
	copy(gainsLinear, e.gains)
	gainsDB := make([]float32, len(e.gains))
	for i, g := range e.gains {
		gainsDB[i] = LinearToDB(g)
	}
	mutes := make([]bool, len(e.mutes))
	copy(mutes, e.mutes)

	strategy := ""
	if e.acquisition != nil && e.acquisition.Success() {
		strategy = e.acquisition.Handle.Strategy
	}

	return protocol.ConsoleState{
		SampleRate:      e.config.SampleRate,
		FramesPerPeriod: e.config.FramesPerPeriod,
		SelectedChannel: e.selected + 1,
		GainsLinear:     gainsLinear,
		GainsDB:         gainsDB,
		Mutes:           mutes,
		VUPeak:          levels.Peak,
		VURMS:           levels.RMS,
		Recording:       e.recorder.IsRunning(),
		RecDropped:      e.recorder.DropCounts(),
		Degraded:        e.acquisition == nil || !e.acquisition.Success(),
		Transport:       strategy,
	}
}

// DBToLinear converts decibels to linear gain
func DBToLinear(db float32) float32 {
	return float32(math.Pow(10.0, float64(db)/20.0))
}

// LinearToDB converts linear gain to decibels
func LinearToDB(lin float32) float32 {
	if lin < 1e-12 {
		lin = 1e-12
	}
	return float32(20.0 * math.Log10(float64(lin)))
}
