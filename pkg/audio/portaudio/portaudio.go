// Package portaudio implements the audio device interfaces on top of the
// system's default input and output devices via PortAudio.
//
// Call [Init] once before opening any device and [Terminate] after the last
// device is stopped. Both capture and playback run in fixed 20 ms frames:
// 16 kHz mono s16le in, 24 kHz mono s16le out.
package portaudio

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
	"github.com/voximux/voximux/pkg/audio"
)

// Compile-time assertions that the devices satisfy the audio interfaces.
var _ audio.CaptureDevice = (*Capture)(nil)
var _ audio.PlaybackDevice = (*Playback)(nil)

const (
	frameDuration = 20 * time.Millisecond

	// queueSize bounds the playback queue. At 20 ms per frame this holds a
	// few seconds of synthesized speech, enough to absorb the burst delivery
	// of upstream audio without stalling the caller.
	queueSize = 256
)

// Init initializes the PortAudio runtime. Must be called once before any
// device is started.
func Init() error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio: initialize: %w", err)
	}
	return nil
}

// Terminate shuts the PortAudio runtime down. Call after all devices have
// been stopped.
func Terminate() error {
	if err := portaudio.Terminate(); err != nil {
		return fmt.Errorf("portaudio: terminate: %w", err)
	}
	return nil
}

// samplesPerFrame returns the per-channel sample count of one fixed-duration
// frame in the given format.
func samplesPerFrame(f audio.Format) int {
	return int(time.Duration(f.SampleRate) * frameDuration / time.Second)
}

// ── Capture ────────────────────────────────────────────────────────────────────

// Capture reads 20 ms frames from the system's default input device.
type Capture struct {
	format audio.Format

	mu      sync.Mutex
	stream  *portaudio.Stream
	started bool
	stopped bool
	err     error

	frames chan audio.AudioFrame
	done   chan struct{}
	idle   chan struct{} // closed when the read loop exits
}

// NewCapture creates a capture device producing [audio.CaptureFormat] frames.
func NewCapture() *Capture {
	return &Capture{
		format: audio.CaptureFormat,
		frames: make(chan audio.AudioFrame, 16),
		done:   make(chan struct{}),
		idle:   make(chan struct{}),
	}
}

// Start opens the default input stream and begins producing frames.
func (c *Capture) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.started {
		return fmt.Errorf("portaudio: capture already started")
	}
	if c.stopped {
		return fmt.Errorf("portaudio: capture already stopped")
	}

	buf := make([]int16, samplesPerFrame(c.format)*c.format.Channels)
	stream, err := portaudio.OpenDefaultStream(
		c.format.Channels, 0, float64(c.format.SampleRate), len(buf), buf,
	)
	if err != nil {
		return &audio.DeviceError{Device: "capture", Op: "open", Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return &audio.DeviceError{Device: "capture", Op: "start", Err: err}
	}

	c.stream = stream
	c.started = true
	go c.readLoop(stream, buf)
	return nil
}

// readLoop reads fixed-size buffers from the stream and publishes them as
// frames. It owns the frames channel and closes it on exit.
func (c *Capture) readLoop(stream *portaudio.Stream, buf []int16) {
	defer close(c.idle)
	defer close(c.frames)

	var elapsed time.Duration
	for {
		select {
		case <-c.done:
			return
		default:
		}

		if err := stream.Read(); err != nil {
			c.setErr(&audio.DeviceError{Device: "capture", Op: "read", Err: err})
			return
		}

		frame := c.format.Frame(audio.Int16ToBytes(buf), elapsed)
		elapsed += frame.Duration()

		// Never stall the device on a slow consumer; shed the frame instead.
		select {
		case c.frames <- frame:
		default:
		}
	}
}

// setErr records the terminating error unless the device was stopped
// deliberately.
func (c *Capture) setErr(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil && !c.stopped {
		c.err = err
	}
}

// Frames returns the channel on which captured frames arrive.
func (c *Capture) Frames() <-chan audio.AudioFrame { return c.frames }

// Err returns the error that terminated capture, or nil after a clean Stop.
func (c *Capture) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Stop ends capture and releases the input device. Idempotent.
func (c *Capture) Stop() error {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nil
	}
	c.stopped = true
	stream := c.stream
	started := c.started
	c.mu.Unlock()

	close(c.done)
	if !started {
		close(c.frames)
		return nil
	}

	// Abort unblocks a read in flight, then the loop exits and the stream can
	// be released.
	if err := stream.Abort(); err != nil {
		return &audio.DeviceError{Device: "capture", Op: "stop", Err: err}
	}
	<-c.idle
	if err := stream.Close(); err != nil {
		return &audio.DeviceError{Device: "capture", Op: "close", Err: err}
	}
	return nil
}

// ── Playback ───────────────────────────────────────────────────────────────────

// Playback writes queued frames to the system's default output device.
//
// Incoming frames are queued and consumed by a single writer goroutine in
// fixed 20 ms buffers, with a remainder carried between frames so arbitrary
// chunk sizes play back seamlessly.
type Playback struct {
	format audio.Format

	mu      sync.Mutex
	stream  *portaudio.Stream
	started bool
	stopped bool
	paused  bool

	queue chan audio.AudioFrame
	done  chan struct{}
	idle  chan struct{} // closed when the writer loop exits
}

// NewPlayback creates a playback device consuming [audio.PlaybackFormat]
// frames.
func NewPlayback() *Playback {
	return &Playback{
		format: audio.PlaybackFormat,
		queue:  make(chan audio.AudioFrame, queueSize),
		done:   make(chan struct{}),
		idle:   make(chan struct{}),
	}
}

// Start opens the default output stream and begins draining the queue.
func (p *Playback) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return fmt.Errorf("portaudio: playback already started")
	}
	if p.stopped {
		return fmt.Errorf("portaudio: playback already stopped")
	}

	buf := make([]int16, samplesPerFrame(p.format)*p.format.Channels)
	stream, err := portaudio.OpenDefaultStream(
		0, p.format.Channels, float64(p.format.SampleRate), len(buf), buf,
	)
	if err != nil {
		return &audio.DeviceError{Device: "playback", Op: "open", Err: err}
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return &audio.DeviceError{Device: "playback", Op: "start", Err: err}
	}

	p.stream = stream
	p.started = true
	go p.writeLoop(stream, buf)
	return nil
}

// writeLoop drains the queue into fixed-size device buffers. Samples left
// over from one frame are prepended to the next.
func (p *Playback) writeLoop(stream *portaudio.Stream, buf []int16) {
	defer close(p.idle)

	var pending []int16
	for {
		select {
		case <-p.done:
			return
		case frame := <-p.queue:
			pending = append(pending, audio.BytesToInt16(frame.Data)...)
		}

		for len(pending) >= len(buf) {
			if p.waitWhilePaused() {
				return
			}
			copy(buf, pending[:len(buf)])
			pending = pending[len(buf):]
			if err := stream.Write(); err != nil && err != portaudio.OutputUnderflowed {
				// Underflow is recoverable; anything else ends playback.
				return
			}
		}
	}
}

// waitWhilePaused blocks while the device is paused. Reports true when the
// device is stopping and the writer should exit.
func (p *Playback) waitWhilePaused() bool {
	for {
		select {
		case <-p.done:
			return true
		default:
		}

		p.mu.Lock()
		paused := p.paused
		p.mu.Unlock()
		if !paused {
			return false
		}

		select {
		case <-p.done:
			return true
		case <-time.After(frameDuration):
		}
	}
}

// Play queues one frame for playback. Frames submitted after Stop are
// dropped silently; frames that find the queue full are dropped with an
// error so the caller can count them.
func (p *Playback) Play(frame audio.AudioFrame) error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	if !p.started {
		p.mu.Unlock()
		return fmt.Errorf("portaudio: playback not started")
	}
	p.mu.Unlock()

	select {
	case p.queue <- frame:
		return nil
	default:
		return &audio.DeviceError{
			Device: "playback", Op: "play",
			Err: fmt.Errorf("queue full, frame dropped"),
		}
	}
}

// Pause suspends output between turns without releasing the device. The
// writer loop simply stops feeding buffers, so at most one device buffer of
// audio remains audible. No-op when already paused.
func (p *Playback) Pause() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = true
	return nil
}

// Resume restarts output after a Pause. No-op when not paused.
func (p *Playback) Resume() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.paused = false
	return nil
}

// Stop discards pending audio and releases the output device. Idempotent.
func (p *Playback) Stop() error {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	stream := p.stream
	started := p.started
	p.mu.Unlock()

	close(p.done)
	if !started {
		return nil
	}

	if err := stream.Abort(); err != nil {
		return &audio.DeviceError{Device: "playback", Op: "stop", Err: err}
	}
	<-p.idle
	if err := stream.Close(); err != nil {
		return &audio.DeviceError{Device: "playback", Op: "close", Err: err}
	}
	return nil
}
