package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestRecorderWritesPerChannelFiles(t *testing.T) {
	baseDir := t.TempDir()
	r := NewRecorder(baseDir, 48000, 2)

	if err := r.Start(); err != nil {
		t.Fatalf("Failed to start recorder: %v", err)
	}
	if !r.IsRunning() {
		t.Fatal("Expected recorder running")
	}

	block := make([]int16, 128)
	for i := range block {
		block[i] = int16(i)
	}
	for i := 0; i < 10; i++ {
		r.Enqueue(0, block)
		r.Enqueue(1, block)
	}

	r.Stop()
	if r.IsRunning() {
		t.Fatal("Expected recorder stopped")
	}

	sessionDir := r.SessionDir()
	for ch := 1; ch <= 2; ch++ {
		path := filepath.Join(sessionDir, "channel_1.wav")
		if ch == 2 {
			path = filepath.Join(sessionDir, "channel_2.wav")
		}
		info, err := os.Stat(path)
		if err != nil {
			t.Fatalf("Expected channel %d file: %v", ch, err)
		}
		want := int64(44 + 10*len(block)*2)
		if info.Size() != want {
			t.Errorf("Channel %d: expected %d bytes, got %d", ch, want, info.Size())
		}
	}
}

func TestRecorderDropsWhenQueueFull(t *testing.T) {
	r := NewRecorder(t.TempDir(), 48000, 1)

	// Not running: enqueues are ignored, not counted
	r.Enqueue(0, []int16{1, 2, 3})
	if counts := r.DropCounts(); counts[0] != 0 {
		t.Errorf("Expected no drops before start, got %d", counts[0])
	}

	if err := r.Start(); err != nil {
		t.Fatalf("Failed to start recorder: %v", err)
	}

	// Swamp the queue far beyond its depth; the writer cannot keep up
	// with a tight loop, so at least some buffers must be counted as
	// dropped rather than blocking the caller
	block := make([]int16, 4096)
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100000; i++ {
			r.Enqueue(0, block)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Enqueue blocked the capture path")
	}

	r.Stop()
}

func TestRecorderStartIsIdempotent(t *testing.T) {
	r := NewRecorder(t.TempDir(), 48000, 1)

	if err := r.Start(); err != nil {
		t.Fatalf("Failed to start recorder: %v", err)
	}
	first := r.SessionDir()

	if err := r.Start(); err != nil {
		t.Fatalf("Second start failed: %v", err)
	}
	if r.SessionDir() != first {
		t.Error("Second start must not open a new session")
	}

	r.Stop()
	r.Stop() // double stop is a no-op
}

type stubSessionSink struct {
	startedDir  string
	startedCh   int
	startedRate int
	startErr    error
	nextID      int64
	finishedID  int64
	finishedDrp int64
	finished    bool
}

func (s *stubSessionSink) StartSession(dir string, channels, rate int) (int64, error) {
	s.startedDir = dir
	s.startedCh = channels
	s.startedRate = rate
	return s.nextID, s.startErr
}

func (s *stubSessionSink) FinishSession(id int64, dropped int64) error {
	s.finished = true
	s.finishedID = id
	s.finishedDrp = dropped
	return nil
}

func TestRecorderPersistsSessionMetadata(t *testing.T) {
	sink := &stubSessionSink{nextID: 7}
	r := NewRecorder(t.TempDir(), 48000, 2)
	r.SetSessionSink(sink)

	if err := r.Start(); err != nil {
		t.Fatalf("Failed to start recorder: %v", err)
	}
	if sink.startedDir != r.SessionDir() {
		t.Errorf("Expected session dir %q persisted, got %q", r.SessionDir(), sink.startedDir)
	}
	if sink.startedCh != 2 || sink.startedRate != 48000 {
		t.Errorf("Expected channels=2 rate=48000, got %d/%d", sink.startedCh, sink.startedRate)
	}

	r.Enqueue(0, []int16{1, 2, 3})
	r.Stop()

	if !sink.finished {
		t.Fatal("Expected session finish to be persisted")
	}
	if sink.finishedID != 7 {
		t.Errorf("Expected finish for session 7, got %d", sink.finishedID)
	}
	if sink.finishedDrp < 0 {
		t.Errorf("Expected non-negative dropped count, got %d", sink.finishedDrp)
	}
}

func TestRecorderSinkErrorDoesNotBlockRecording(t *testing.T) {
	sink := &stubSessionSink{startErr: errors.New("database locked")}
	r := NewRecorder(t.TempDir(), 48000, 1)
	r.SetSessionSink(sink)

	if err := r.Start(); err != nil {
		t.Fatalf("Recording must survive a sink failure: %v", err)
	}
	if !r.IsRunning() {
		t.Fatal("Expected recorder running despite sink failure")
	}

	r.Stop()
	if sink.finished {
		t.Error("A session that never persisted must not be finished")
	}
}

func TestRecorderEnqueueConcurrentWithRestart(t *testing.T) {
	r := NewRecorder(t.TempDir(), 48000, 1)
	block := make([]int16, 64)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 5000; i++ {
			r.Enqueue(0, block)
		}
		close(done)
	}()

	// Cycle sessions while the capture path keeps enqueueing
	for i := 0; i < 20; i++ {
		if err := r.Start(); err != nil {
			t.Fatalf("Failed to start recorder: %v", err)
		}
		r.Stop()
	}

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Enqueue blocked during session restarts")
	}
}
