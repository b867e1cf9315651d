// Package mock provides in-memory mock implementations of the
// [audio.CaptureDevice] and [audio.PlaybackDevice] interfaces for use in
// unit tests.
//
// All mocks are safe for concurrent use. They record every method call so
// that tests can assert on call counts and arguments, and they expose
// exported fields that the test can set to control return values.
//
// Typical usage:
//
//	capture := mock.NewCapture(16)
//	playback := &mock.Playback{}
//	// ... wire into the component under test ...
//	capture.Push(audio.CaptureFormat.Frame(pcm, 0))
package mock

import (
	"context"
	"sync"

	"github.com/voximux/voximux/pkg/audio"
)

// Compile-time assertions that the mocks satisfy the audio interfaces.
var _ audio.CaptureDevice = (*Capture)(nil)
var _ audio.PlaybackDevice = (*Playback)(nil)

// ─── Capture ──────────────────────────────────────────────────────────────────

// Capture is a mock implementation of [audio.CaptureDevice]. Tests feed it
// frames via [Capture.Push]; the component under test consumes them from
// [Capture.Frames]. Set the exported error fields before use; inspect the
// CallCount fields after.
type Capture struct {
	mu sync.Mutex

	// StartError is returned by [Capture.Start].
	StartError error

	// StopError is returned by [Capture.Stop].
	StopError error

	// ErrResult is returned by [Capture.Err] after the Frames channel closes.
	// Set via [Capture.Fail] to simulate a device failure.
	ErrResult error

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountStop records how many times Stop was called.
	CallCountStop int

	frames  chan audio.AudioFrame
	stopped bool
}

// NewCapture returns a Capture whose Frames channel has the given buffer
// capacity.
func NewCapture(buffer int) *Capture {
	return &Capture{frames: make(chan audio.AudioFrame, buffer)}
}

// Start implements [audio.CaptureDevice]. Returns StartError.
func (c *Capture) Start(_ context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStart++
	return c.StartError
}

// Frames implements [audio.CaptureDevice].
func (c *Capture) Frames() <-chan audio.AudioFrame {
	return c.frames
}

// Err implements [audio.CaptureDevice]. Returns ErrResult.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ErrResult
}

// Stop implements [audio.CaptureDevice]. The first call closes the Frames
// channel; subsequent calls are no-ops. Returns StopError.
func (c *Capture) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.CallCountStop++
	if !c.stopped {
		c.stopped = true
		close(c.frames)
	}
	return c.StopError
}

// Push delivers a frame to the Frames channel. Frames pushed after Stop are
// silently dropped, matching real device behaviour.
func (c *Capture) Push(frame audio.AudioFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.frames <- frame
}

// Fail simulates a mid-stream device failure: records err for [Capture.Err]
// and closes the Frames channel.
func (c *Capture) Fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true
	c.ErrResult = err
	close(c.frames)
}

// ─── Playback ─────────────────────────────────────────────────────────────────

// Playback is a mock implementation of [audio.PlaybackDevice].
// Set the exported error fields before use; inspect Played and the CallCount
// fields after.
type Playback struct {
	mu sync.Mutex

	// StartError is returned by [Playback.Start].
	StartError error

	// PlayError is returned by [Playback.Play].
	PlayError error

	// PauseError is returned by [Playback.Pause].
	PauseError error

	// ResumeError is returned by [Playback.Resume].
	ResumeError error

	// StopError is returned by [Playback.Stop].
	StopError error

	// Played holds every frame passed to Play, in submission order.
	Played []audio.AudioFrame

	// PlayedCh, if non-nil, additionally receives every frame passed to Play.
	// Use a buffered channel to synchronise tests on playback activity.
	PlayedCh chan audio.AudioFrame

	// CallCountStart records how many times Start was called.
	CallCountStart int

	// CallCountPlay records how many times Play was called.
	CallCountPlay int

	// CallCountPause records how many times Pause was called.
	CallCountPause int

	// CallCountResume records how many times Resume was called.
	CallCountResume int

	// CallCountStop records how many times Stop was called.
	CallCountStop int
}

// Start implements [audio.PlaybackDevice]. Returns StartError.
func (p *Playback) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountStart++
	return p.StartError
}

// Play implements [audio.PlaybackDevice]. The frame is recorded in Played
// and, when PlayedCh is non-nil, sent to it. Returns PlayError.
func (p *Playback) Play(frame audio.AudioFrame) error {
	p.mu.Lock()
	p.CallCountPlay++
	p.Played = append(p.Played, frame)
	ch := p.PlayedCh
	err := p.PlayError
	p.mu.Unlock()
	if ch != nil {
		ch <- frame
	}
	return err
}

// Pause implements [audio.PlaybackDevice]. Returns PauseError.
func (p *Playback) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountPause++
	return p.PauseError
}

// Resume implements [audio.PlaybackDevice]. Returns ResumeError.
func (p *Playback) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountResume++
	return p.ResumeError
}

// Stop implements [audio.PlaybackDevice]. Returns StopError.
func (p *Playback) Stop() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.CallCountStop++
	return p.StopError
}

// PlayedFrames returns a copy of the frames played so far.
func (p *Playback) PlayedFrames() []audio.AudioFrame {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]audio.AudioFrame, len(p.Played))
	copy(out, p.Played)
	return out
}
