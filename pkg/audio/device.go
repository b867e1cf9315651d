// Package audio defines the frame types and device interfaces for audio
// capture and playback within voximux.
//
// The two primary abstractions are:
//
//   - [CaptureDevice] produces a live stream of fixed-format audio frames
//     until stopped (a microphone, or a remote client's inbound audio).
//   - [PlaybackDevice] consumes audio frames and plays them in submission
//     order (a speaker, or an outbound network stream).
//
// The relay core never touches hardware directly; it is wired to these
// interfaces so that physical devices, network-backed sources, and test
// doubles are interchangeable. Hardware implementations live in
// audio/portaudio; test doubles in audio/mock.
//
// This package lives under pkg/ because external code (alternative device
// backends) is expected to implement these interfaces.
package audio

import (
	"context"
	"fmt"
)

// CaptureDevice produces a live sequence of audio frames in a single fixed
// format, declared once and conformed to by every frame.
//
// Implementations must be safe for concurrent use.
type CaptureDevice interface {
	// Start begins capturing. The supplied ctx governs the lifetime of the
	// start attempt only; once started, capture continues until [CaptureDevice.Stop]
	// is called. Starting an already started device is an error.
	Start(ctx context.Context) error

	// Frames returns the channel on which captured frames arrive. The channel
	// is closed when the device is stopped or fails mid-stream. After the
	// channel closes, call [CaptureDevice.Err] to check whether capture ended
	// cleanly. Consumers must drain this channel promptly; implementations may
	// drop frames rather than block when the consumer falls behind.
	Frames() <-chan AudioFrame

	// Err returns the error that caused the Frames channel to close
	// prematurely, or nil if capture ended cleanly via Stop.
	Err() error

	// Stop ends capture and closes the Frames channel. Safe to call more than
	// once; subsequent calls are no-ops.
	Stop() error
}

// PlaybackDevice consumes audio frames and plays them in submission order.
//
// Implementations must be safe for concurrent use.
type PlaybackDevice interface {
	// Start prepares the device for playback. The supplied ctx governs the
	// lifetime of the start attempt only. Starting an already started device
	// is an error.
	Start(ctx context.Context) error

	// Play submits one frame for playback. Frames play in the order submitted.
	// Play may block briefly while the device drains its buffer, but must not
	// block indefinitely; implementations drop frames once stopped.
	Play(frame AudioFrame) error

	// Pause suspends output between AI turns without releasing the device.
	// Pausing an already paused device is a no-op.
	Pause() error

	// Resume restarts output after a Pause. Resuming a device that is not
	// paused is a no-op.
	Resume() error

	// Stop flushes pending audio and releases the device. Safe to call more
	// than once; subsequent calls are no-ops.
	Stop() error
}

// DeviceError reports a capture or playback device failure. Device failures
// are session-fatal: the relay tears the session down through its regular
// stop path when one surfaces.
type DeviceError struct {
	// Device names the failing device, e.g. "capture" or "playback".
	Device string

	// Op is the operation that failed, e.g. "start", "read", "write".
	Op string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *DeviceError) Error() string {
	return fmt.Sprintf("audio: %s device: %s: %v", e.Device, e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DeviceError) Unwrap() error { return e.Err }
