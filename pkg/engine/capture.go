package engine

import (
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/bullen/bullend/pkg/logging"
)

// CaptureSource delivers interleaved multi-channel capture frames
type CaptureSource interface {
	Start() error
	// Frames yields per-channel sample buffers; the outer slice is indexed
	// by channel
	Frames() <-chan [][]int16
	Close() error
}

// ExecCaptureSource pulls raw S16_LE frames from an external capture
// command's stdout and deinterleaves them into per-channel buffers
type ExecCaptureSource struct {
	command         string
	channels        int
	framesPerPeriod int

	cmd      *exec.Cmd
	stdout   io.ReadCloser
	frames   chan [][]int16
	stopChan chan struct{}
}

// NewExecCaptureSource creates a capture source over the configured command
func NewExecCaptureSource(command string, channels, framesPerPeriod int) *ExecCaptureSource {
	return &ExecCaptureSource{
		command:         command,
		channels:        channels,
		framesPerPeriod: framesPerPeriod,
		frames:          make(chan [][]int16, 8),
		stopChan:        make(chan struct{}),
	}
}

// Start launches the capture command and begins the reader
func (s *ExecCaptureSource) Start() error {
	parts := strings.Fields(s.command)
	if len(parts) == 0 {
		return fmt.Errorf("capture command is empty")
	}

	s.cmd = exec.Command(parts[0], parts[1:]...)
	stdout, err := s.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open capture pipe: %w", err)
	}
	s.stdout = stdout

	if err := s.cmd.Start(); err != nil {
		return fmt.Errorf("failed to start capture command: %w", err)
	}

	go s.reader()
	logging.Infof("capture", "capture command started: %s (pid %d)", parts[0], s.cmd.Process.Pid)
	return nil
}

// Frames returns the per-channel frame channel
func (s *ExecCaptureSource) Frames() <-chan [][]int16 {
	return s.frames
}

// Close stops the capture command
func (s *ExecCaptureSource) Close() error {
	close(s.stopChan)
	if s.cmd != nil && s.cmd.Process != nil {
		if err := s.cmd.Process.Kill(); err != nil {
			logging.Debugf("capture", "kill: %v", err)
		}
		s.cmd.Wait()
	}
	return nil
}

// reader pulls interleaved periods from the command and deinterleaves them
func (s *ExecCaptureSource) reader() {
	defer close(s.frames)

	frameBytes := s.framesPerPeriod * s.channels * 2
	buf := make([]byte, frameBytes)

	for {
		select {
		case <-s.stopChan:
			return
		default:
		}

		if _, err := io.ReadFull(s.stdout, buf); err != nil {
			select {
			case <-s.stopChan:
			default:
				logging.Warnf("capture", "capture stream ended: %v", err)
			}
			return
		}

		frame := make([][]int16, s.channels)
		for ch := 0; ch < s.channels; ch++ {
			frame[ch] = make([]int16, s.framesPerPeriod)
		}
		for i := 0; i < s.framesPerPeriod; i++ {
			base := i * s.channels * 2
			for ch := 0; ch < s.channels; ch++ {
				off := base + ch*2
				frame[ch][i] = int16(uint16(buf[off]) | uint16(buf[off+1])<<8)
			}
		}

		select {
		case s.frames <- frame:
		default:
			// Drop the frame if the engine falls behind
		}
	}
}

// NullCaptureSource produces no frames; used in degraded mode when no
// transport could be acquired
type NullCaptureSource struct {
	frames chan [][]int16
}

// NewNullCaptureSource creates an inert capture source
func NewNullCaptureSource() *NullCaptureSource {
	return &NullCaptureSource{frames: make(chan [][]int16)}
}

// Start is a no-op
func (s *NullCaptureSource) Start() error { return nil }

// Frames returns a channel that never yields
func (s *NullCaptureSource) Frames() <-chan [][]int16 { return s.frames }

// Close closes the frame channel
func (s *NullCaptureSource) Close() error {
	close(s.frames)
	return nil
}
