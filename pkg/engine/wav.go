package engine

import (
	"encoding/binary"
	"fmt"
	"os"
)

// WAVWriter streams 16-bit PCM to a WAV file, patching the header sizes on
// close
type WAVWriter struct {
	file       *os.File
	sampleRate int
	channels   int
	dataBytes  uint32
}

// NewWAVWriter creates a WAV file and writes a provisional header
func NewWAVWriter(path string, sampleRate, channels int) (*WAVWriter, error) {
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create wav file: %w", err)
	}

	w := &WAVWriter{
		file:       file,
		sampleRate: sampleRate,
		channels:   channels,
	}

	if err := w.writeHeader(); err != nil {
		file.Close()
		return nil, err
	}
	return w, nil
}

// writeHeader writes the 44-byte RIFF/fmt/data header with the current data
// size
func (w *WAVWriter) writeHeader() error {
	blockAlign := w.channels * 2
	byteRate := w.sampleRate * blockAlign

	header := make([]byte, 44)
	copy(header[0:4], "RIFF")
	binary.LittleEndian.PutUint32(header[4:8], 36+w.dataBytes)
	copy(header[8:12], "WAVE")
	copy(header[12:16], "fmt ")
	binary.LittleEndian.PutUint32(header[16:20], 16)
	binary.LittleEndian.PutUint16(header[20:22], 1) // PCM
	binary.LittleEndian.PutUint16(header[22:24], uint16(w.channels))
	binary.LittleEndian.PutUint32(header[24:28], uint32(w.sampleRate))
	binary.LittleEndian.PutUint32(header[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:36], 16) // bits per sample
	copy(header[36:40], "data")
	binary.LittleEndian.PutUint32(header[40:44], w.dataBytes)

	if _, err := w.file.WriteAt(header, 0); err != nil {
		return fmt.Errorf("failed to write wav header: %w", err)
	}
	return nil
}

// WriteSamples appends one block of samples
func (w *WAVWriter) WriteSamples(samples []int16) error {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}

	if _, err := w.file.WriteAt(buf, int64(44+w.dataBytes)); err != nil {
		return fmt.Errorf("failed to write wav samples: %w", err)
	}
	w.dataBytes += uint32(len(buf))
	return nil
}

// Close patches the header sizes and closes the file
func (w *WAVWriter) Close() error {
	if err := w.writeHeader(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}
