package transport

import (
	"context"
	"time"
)

// Clock abstracts time so poll bounds and ordering are testable without
// wall-clock delay
type Clock interface {
	Now() time.Time
	// Sleep waits for d or until ctx is cancelled, returning ctx.Err() in
	// the latter case
	Sleep(ctx context.Context, d time.Duration) error
}

// SystemClock is the real clock
type SystemClock struct{}

// Now returns the current time
func (SystemClock) Now() time.Time {
	return time.Now()
}

// Sleep waits for d, observing context cancellation
func (SystemClock) Sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
