package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bullen/bullend/pkg/logging"
)

const recQueueDepth = 128

// SessionSink persists recording session metadata. A nil sink records
// nothing.
type SessionSink interface {
	StartSession(directory string, channels, sampleRate int) (int64, error)
	FinishSession(id int64, droppedBuffers int64) error
}

// Recorder writes raw per-channel input to WAV files in a timestamped
// session directory. Enqueueing never blocks the capture path; overflow is
// counted per channel instead.
type Recorder struct {
	baseDir    string
	sampleRate int
	channels   int

	queues     []chan []int16
	dropCounts []int64
	stopChan   chan struct{}
	wg         sync.WaitGroup

	mutex      sync.Mutex
	running    bool
	sessionDir string
	sink       SessionSink
	sessionID  int64
	startDrops int64
}

// NewRecorder creates a recorder for the given channel bank
func NewRecorder(baseDir string, sampleRate, channels int) *Recorder {
	return &Recorder{
		baseDir:    baseDir,
		sampleRate: sampleRate,
		channels:   channels,
		dropCounts: make([]int64, channels),
	}
}

// SetSessionSink installs the metadata sink. Call before Start.
func (r *Recorder) SetSessionSink(sink SessionSink) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.sink = sink
}

// Start opens a new session directory and spawns one writer per channel
func (r *Recorder) Start() error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if r.running {
		return nil
	}

	sessionDir := filepath.Join(r.baseDir, time.Now().Format("20060102_150405"))
	if err := os.MkdirAll(sessionDir, 0755); err != nil {
		return fmt.Errorf("failed to create session directory: %w", err)
	}
	r.sessionDir = sessionDir

	r.sessionID = 0
	r.startDrops = r.totalDrops()
	if r.sink != nil {
		id, err := r.sink.StartSession(sessionDir, r.channels, r.sampleRate)
		if err != nil {
			logging.Warnf("recorder", "failed to persist session start: %v", err)
		} else {
			r.sessionID = id
		}
	}

	r.stopChan = make(chan struct{})
	r.queues = make([]chan []int16, r.channels)
	for ch := 0; ch < r.channels; ch++ {
		r.queues[ch] = make(chan []int16, recQueueDepth)
		path := filepath.Join(sessionDir, fmt.Sprintf("channel_%d.wav", ch+1))
		r.wg.Add(1)
		go r.writer(ch, path)
	}

	r.running = true
	logging.Infof("recorder", "recording session started: %s", sessionDir)
	return nil
}

// Stop drains the writers and closes the session
func (r *Recorder) Stop() {
	r.mutex.Lock()
	if !r.running {
		r.mutex.Unlock()
		return
	}
	r.running = false
	close(r.stopChan)
	sink, id, startDrops := r.sink, r.sessionID, r.startDrops
	r.mutex.Unlock()

	r.wg.Wait()

	if sink != nil && id != 0 {
		if err := sink.FinishSession(id, r.totalDrops()-startDrops); err != nil {
			logging.Warnf("recorder", "failed to persist session stop: %v", err)
		}
	}
	logging.Infof("recorder", "recording session closed: %s", r.sessionDir)
}

// totalDrops sums the per-channel drop counters
func (r *Recorder) totalDrops() int64 {
	var total int64
	for ch := 0; ch < r.channels; ch++ {
		total += atomic.LoadInt64(&r.dropCounts[ch])
	}
	return total
}

// Enqueue hands one raw channel buffer to the writer without blocking.
// Buffers are dropped, and counted, when a writer falls behind.
func (r *Recorder) Enqueue(ch int, samples []int16) {
	if ch < 0 || ch >= r.channels {
		return
	}

	// The queue is picked under the lock so a concurrent Start cannot
	// swap the slice out from under the capture path
	r.mutex.Lock()
	if !r.running {
		r.mutex.Unlock()
		return
	}
	queue := r.queues[ch]
	r.mutex.Unlock()

	// Copy to decouple from the capture buffer
	block := make([]int16, len(samples))
	copy(block, samples)

	select {
	case queue <- block:
	default:
		atomic.AddInt64(&r.dropCounts[ch], 1)
	}
}

// IsRunning reports whether a session is open
func (r *Recorder) IsRunning() bool {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.running
}

// SessionDir returns the current (or last) session directory
func (r *Recorder) SessionDir() string {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	return r.sessionDir
}

// DropCounts returns the per-channel dropped-buffer counters
func (r *Recorder) DropCounts() []int64 {
	counts := make([]int64, r.channels)
	for ch := range counts {
		counts[ch] = atomic.LoadInt64(&r.dropCounts[ch])
	}
	return counts
}

// writer drains one channel queue into a WAV file
func (r *Recorder) writer(ch int, path string) {
	defer r.wg.Done()

	wav, err := NewWAVWriter(path, r.sampleRate, 1)
	if err != nil {
		logging.Errorf("recorder", "channel %d writer failed to open: %v", ch+1, err)
		// Drain until stop so the queue never backs up
		for {
			select {
			case <-r.queues[ch]:
			case <-r.stopChan:
				return
			}
		}
	}
	defer func() {
		if err := wav.Close(); err != nil {
			logging.Warnf("recorder", "channel %d close: %v", ch+1, err)
		}
	}()

	for {
		select {
		case block := <-r.queues[ch]:
			if err := wav.WriteSamples(block); err != nil {
				logging.Warnf("recorder", "channel %d write: %v", ch+1, err)
			}
		case <-r.stopChan:
			// Flush whatever is still queued
			for {
				select {
				case block := <-r.queues[ch]:
					if err := wav.WriteSamples(block); err != nil {
						logging.Warnf("recorder", "channel %d flush: %v", ch+1, err)
					}
				default:
					return
				}
			}
		}
	}
}
