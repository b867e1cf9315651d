package server

import (
	"context"
	"sync"
	"time"

	"github.com/voximux/voximux/pkg/audio"
)

// sourceBuffer is the number of frames a frameSource holds before shedding.
// At 20 ms per frame this is roughly 1.3 seconds of speech.
const sourceBuffer = 64

// frameSource adapts audio received over the network into the
// [audio.CaptureDevice] contract the relay consumes. The transport read loop
// pushes raw PCM payloads; the relay drains them as capture frames.
type frameSource struct {
	format audio.Format

	mu      sync.Mutex
	started bool
	stopped bool
	elapsed time.Duration

	frames chan audio.AudioFrame
}

func newFrameSource() *frameSource {
	return &frameSource{
		format: audio.CaptureFormat,
		frames: make(chan audio.AudioFrame, sourceBuffer),
	}
}

// Start marks the source as producing. There is no device to open; frames
// arrive whenever the client sends them.
func (f *frameSource) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = true
	return nil
}

// Push queues one PCM payload as a capture frame. It never blocks: when the
// relay falls behind, the frame is shed, same as a device capture would.
// Returns false when the frame was shed or the source is stopped.
func (f *frameSource) Push(data []byte) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return false
	}
	frame := f.format.Frame(data, f.elapsed)
	f.elapsed += frame.Duration()

	// Non-blocking send under the lock keeps Stop's close race-free.
	select {
	case f.frames <- frame:
		return true
	default:
		return false
	}
}

// Frames returns the channel on which pushed frames arrive.
func (f *frameSource) Frames() <-chan audio.AudioFrame { return f.frames }

// Err always reports nil. Transport failures surface through the connection
// handler, not through the capture path.
func (f *frameSource) Err() error { return nil }

// Stop closes the frame channel. Safe to call more than once.
func (f *frameSource) Stop() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopped {
		return nil
	}
	f.stopped = true
	close(f.frames)
	return nil
}

var _ audio.CaptureDevice = (*frameSource)(nil)
