package audio

import (
	"math"
	"sync"
	"time"

	"github.com/mjibson/go-dsp/fft"
)

// ChannelLevels is one meter frame for the whole channel bank
type ChannelLevels struct {
	Timestamp int64     `json:"timestamp"`
	Peak      []float32 `json:"vu_peak"` // post-gain peak, linear 0..1
	RMS       []float32 `json:"vu_rms"`  // post-gain RMS, linear 0..1
	Clipping  []bool    `json:"clipping"`
}

// SpectrumData is an FFT magnitude spectrum of the selected channel
type SpectrumData struct {
	Timestamp  int64     `json:"timestamp"`
	SampleRate int       `json:"sample_rate"`
	Spectrum   []float32 `json:"spectrum"` // magnitude in dB
	FreqStep   float32   `json:"freq_step"`
}

// MeterBank tracks peak/RMS levels for a bank of input channels and an FFT
// spectrum for the selected channel. Peak tracking is cheap enough for the
// capture path; RMS and spectrum are sampled out-of-band at meter rate.
type MeterBank struct {
	mutex sync.RWMutex

	channels   int
	sampleRate int
	fftSize    int

	// Accumulated since the last Snapshot
	peakTemp  []float32
	sumSquare []float64
	count     []int64
	clipped   []bool

	// Published values
	peak []float32
	rms  []float32
	clip []bool

	// Spectrum of the selected channel
	sampleBuffer []int16
	fftBuffer    []complex128
	window       []float64
	spectrum     []float32
	spectrumTime time.Time
}

// NewMeterBank creates a meter bank for the given channel count
func NewMeterBank(channels, sampleRate, fftSize int) *MeterBank {
	return &MeterBank{
		channels:   channels,
		sampleRate: sampleRate,
		fftSize:    fftSize,
		peakTemp:   make([]float32, channels),
		sumSquare:  make([]float64, channels),
		count:      make([]int64, channels),
		clipped:    make([]bool, channels),
		peak:       make([]float32, channels),
		rms:        make([]float32, channels),
		clip:       make([]bool, channels),
		fftBuffer:  make([]complex128, fftSize),
		window:     makeHannWindow(fftSize),
		spectrum:   make([]float32, fftSize/2),
	}
}

// makeHannWindow creates a Hann window function for FFT
func makeHannWindow(size int) []float64 {
	window := make([]float64, size)
	for i := 0; i < size; i++ {
		window[i] = 0.5 * (1.0 - math.Cos(2.0*math.Pi*float64(i)/float64(size-1)))
	}
	return window
}

// Process accumulates one post-gain buffer for channel ch
func (m *MeterBank) Process(ch int, samples []int16) {
	if ch < 0 || ch >= m.channels || len(samples) == 0 {
		return
	}

	var peak int16
	var sumSquares float64
	clipping := false

	for _, sample := range samples {
		if sample < 0 {
			sample = -sample
		}
		if sample > peak {
			peak = sample
		}
		if sample >= 32000 { // ~98% of max int16
			clipping = true
		}
		sumSquares += float64(sample) * float64(sample)
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	p := float32(peak) / 32768.0
	if p > m.peakTemp[ch] {
		m.peakTemp[ch] = p
	}
	m.sumSquare[ch] += sumSquares
	m.count[ch] += int64(len(samples))
	if clipping {
		m.clipped[ch] = true
	}
}

// FeedSpectrum accumulates selected-channel samples for FFT analysis
func (m *MeterBank) FeedSpectrum(samples []int16) {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	m.sampleBuffer = append(m.sampleBuffer, samples...)
	if len(m.sampleBuffer) < m.fftSize {
		return
	}
	m.calculateSpectrumLocked()

	// Keep only the newest samples
	if len(m.sampleBuffer) > m.fftSize {
		copy(m.sampleBuffer, m.sampleBuffer[len(m.sampleBuffer)-m.fftSize:])
		m.sampleBuffer = m.sampleBuffer[:m.fftSize]
	}
}

// calculateSpectrumLocked performs FFT analysis on accumulated samples
func (m *MeterBank) calculateSpectrumLocked() {
	for i := 0; i < m.fftSize; i++ {
		sample := float64(m.sampleBuffer[i]) / 32768.0
		m.fftBuffer[i] = complex(sample*m.window[i], 0)
	}

	fftResult := fft.FFT(m.fftBuffer)

	for i := 0; i < len(m.spectrum); i++ {
		magnitude := math.Sqrt(real(fftResult[i])*real(fftResult[i]) +
			imag(fftResult[i])*imag(fftResult[i]))
		if magnitude > 0 {
			m.spectrum[i] = float32(20.0 * math.Log10(magnitude))
		} else {
			m.spectrum[i] = -100.0
		}
	}

	m.spectrumTime = time.Now()
}

// Snapshot publishes the accumulated levels and resets the accumulators.
// Called at meter rate (~20 Hz), never from the capture path.
func (m *MeterBank) Snapshot() ChannelLevels {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	for ch := 0; ch < m.channels; ch++ {
		m.peak[ch] = m.peakTemp[ch]
		if m.count[ch] > 0 {
			m.rms[ch] = float32(math.Sqrt(m.sumSquare[ch]/float64(m.count[ch])) / 32768.0)
		} else {
			m.rms[ch] = 0
		}
		m.clip[ch] = m.clipped[ch]

		m.peakTemp[ch] = 0
		m.sumSquare[ch] = 0
		m.count[ch] = 0
		m.clipped[ch] = false
	}

	levels := ChannelLevels{
		Timestamp: time.Now().UnixMilli(),
		Peak:      make([]float32, m.channels),
		RMS:       make([]float32, m.channels),
		Clipping:  make([]bool, m.channels),
	}
	copy(levels.Peak, m.peak)
	copy(levels.RMS, m.rms)
	copy(levels.Clipping, m.clip)
	return levels
}

// Levels returns the most recently published meter frame without resetting
func (m *MeterBank) Levels() ChannelLevels {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	levels := ChannelLevels{
		Timestamp: time.Now().UnixMilli(),
		Peak:      make([]float32, m.channels),
		RMS:       make([]float32, m.channels),
		Clipping:  make([]bool, m.channels),
	}
	copy(levels.Peak, m.peak)
	copy(levels.RMS, m.rms)
	copy(levels.Clipping, m.clip)
	return levels
}

// Spectrum returns the current selected-channel spectrum
func (m *MeterBank) Spectrum() SpectrumData {
	m.mutex.RLock()
	defer m.mutex.RUnlock()

	spectrum := make([]float32, len(m.spectrum))
	copy(spectrum, m.spectrum)

	return SpectrumData{
		Timestamp:  m.spectrumTime.UnixMilli(),
		SampleRate: m.sampleRate,
		Spectrum:   spectrum,
		FreqStep:   float32(m.sampleRate) / float32(m.fftSize),
	}
}
