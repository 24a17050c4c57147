package audio

import (
	"math"
	"testing"
)

func TestMeterBankPeakAndRMS(t *testing.T) {
	m := NewMeterBank(2, 48000, 256)

	// Full-scale square wave on channel 0, silence on channel 1
	block := make([]int16, 480)
	for i := range block {
		block[i] = 16384
	}
	m.Process(0, block)
	m.Process(1, make([]int16, 480))

	levels := m.Snapshot()

	wantPeak := float32(16384) / 32768.0
	if math.Abs(float64(levels.Peak[0]-wantPeak)) > 1e-6 {
		t.Errorf("Expected peak %v, got %v", wantPeak, levels.Peak[0])
	}
	// A constant signal's RMS equals its amplitude
	if math.Abs(float64(levels.RMS[0]-wantPeak)) > 1e-4 {
		t.Errorf("Expected RMS %v, got %v", wantPeak, levels.RMS[0])
	}
	if levels.Peak[1] != 0 || levels.RMS[1] != 0 {
		t.Errorf("Expected silence on channel 1, got peak=%v rms=%v",
			levels.Peak[1], levels.RMS[1])
	}
	if levels.Clipping[0] {
		t.Error("Half-scale signal must not clip")
	}
}

func TestMeterBankClipDetection(t *testing.T) {
	m := NewMeterBank(1, 48000, 256)

	block := make([]int16, 64)
	for i := range block {
		block[i] = 32700
	}
	m.Process(0, block)

	if levels := m.Snapshot(); !levels.Clipping[0] {
		t.Error("Expected clip flag for near-full-scale signal")
	}

	// Accumulators reset after snapshot
	if levels := m.Snapshot(); levels.Clipping[0] || levels.Peak[0] != 0 {
		t.Error("Expected cleared accumulators after snapshot")
	}
}

func TestMeterBankNegativePeak(t *testing.T) {
	m := NewMeterBank(1, 48000, 256)

	m.Process(0, []int16{-20000, 100, -5})
	levels := m.Snapshot()

	want := float32(20000) / 32768.0
	if math.Abs(float64(levels.Peak[0]-want)) > 1e-6 {
		t.Errorf("Expected peak %v from negative excursion, got %v", want, levels.Peak[0])
	}
}

func TestMeterBankSpectrum(t *testing.T) {
	const fftSize = 256
	m := NewMeterBank(1, 48000, fftSize)

	// A sine at bin 16 should dominate the spectrum
	bin := 16
	samples := make([]int16, fftSize)
	for i := range samples {
		samples[i] = int16(16000 * math.Sin(2*math.Pi*float64(bin)*float64(i)/fftSize))
	}
	m.FeedSpectrum(samples)

	spectrum := m.Spectrum()
	if len(spectrum.Spectrum) != fftSize/2 {
		t.Fatalf("Expected %d bins, got %d", fftSize/2, len(spectrum.Spectrum))
	}

	maxBin := 0
	for i, v := range spectrum.Spectrum {
		if v > spectrum.Spectrum[maxBin] {
			maxBin = i
		}
	}
	if maxBin != bin {
		t.Errorf("Expected spectral peak at bin %d, got %d", bin, maxBin)
	}

	wantStep := float32(48000) / fftSize
	if spectrum.FreqStep != wantStep {
		t.Errorf("Expected freq step %v, got %v", wantStep, spectrum.FreqStep)
	}
}

func TestMeterBankIgnoresBadChannel(t *testing.T) {
	m := NewMeterBank(1, 48000, 256)
	m.Process(-1, []int16{100})
	m.Process(5, []int16{100})

	if levels := m.Snapshot(); levels.Peak[0] != 0 {
		t.Error("Out-of-range channels must be ignored")
	}
}
