package relay_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voximux/voximux/internal/relay"
	"github.com/voximux/voximux/pkg/audio"
	audiomock "github.com/voximux/voximux/pkg/audio/mock"
	"github.com/voximux/voximux/pkg/live"
	livemock "github.com/voximux/voximux/pkg/live/mock"
)

// recordingSink records every sink callback in order and signals the
// lifecycle edges tests wait on. Connected and Disconnected close their
// channels, so a contract violation (a second call) panics the test.
type recordingSink struct {
	mu      sync.Mutex
	calls   []string
	frames  []audio.AudioFrame
	tokens  []int
	errs    []error
	reasons []string

	connected    chan struct{}
	disconnected chan struct{}
}

func newRecordingSink() *recordingSink {
	return &recordingSink{
		connected:    make(chan struct{}),
		disconnected: make(chan struct{}),
	}
}

func (r *recordingSink) add(call string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)
}

func (r *recordingSink) Connected() {
	r.add("connected")
	close(r.connected)
}

func (r *recordingSink) SpeakingStarted() { r.add("speaking-started") }

func (r *recordingSink) Audio(frame audio.AudioFrame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "audio")
	r.frames = append(r.frames, frame)
}

func (r *recordingSink) SpeakingEnded() { r.add("speaking-ended") }

func (r *recordingSink) Usage(totalTokens int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "usage")
	r.tokens = append(r.tokens, totalTokens)
}

func (r *recordingSink) Error(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, "error")
	r.errs = append(r.errs, err)
}

func (r *recordingSink) Disconnected(reason string) {
	r.mu.Lock()
	r.calls = append(r.calls, "disconnected")
	r.reasons = append(r.reasons, reason)
	r.mu.Unlock()
	close(r.disconnected)
}

// Calls returns a copy of the recorded call names in order.
func (r *recordingSink) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// Count returns how many times the named callback fired.
func (r *recordingSink) Count(name string) int {
	var n int
	for _, c := range r.Calls() {
		if c == name {
			n++
		}
	}
	return n
}

// Frames returns a copy of the frames delivered via Audio.
func (r *recordingSink) Frames() []audio.AudioFrame {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]audio.AudioFrame, len(r.frames))
	copy(out, r.frames)
	return out
}

// Tokens returns a copy of the token counts delivered via Usage.
func (r *recordingSink) Tokens() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int, len(r.tokens))
	copy(out, r.tokens)
	return out
}

// Reasons returns a copy of the reasons delivered via Disconnected.
func (r *recordingSink) Reasons() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.reasons))
	copy(out, r.reasons)
	return out
}

// Errs returns a copy of the errors delivered via Error.
func (r *recordingSink) Errs() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]error, len(r.errs))
	copy(out, r.errs)
	return out
}

var _ relay.Sink = (*recordingSink)(nil)

// fixture wires a session to fresh mocks for one test.
type fixture struct {
	provider *livemock.Provider
	upstream *livemock.Session
	capture  *audiomock.Capture
	sink     *recordingSink
	sess     *relay.Session
}

func newFixture(cfg relay.Config) *fixture {
	up := livemock.NewSession()
	f := &fixture{
		provider: &livemock.Provider{Session: up},
		upstream: up,
		capture:  audiomock.NewCapture(16),
		sink:     newRecordingSink(),
	}
	f.sess = relay.New(f.provider, f.capture, f.sink, cfg)
	return f
}

// start starts the session and registers a Stop cleanup.
func (f *fixture) start(t *testing.T) {
	t.Helper()
	if err := f.sess.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = f.sess.Stop() })
}

// connect starts the session and plays the upstream handshake.
func (f *fixture) connect(t *testing.T) {
	t.Helper()
	f.start(t)
	f.upstream.Emit(live.ConnectedEvent{})
	select {
	case <-f.sink.connected:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Connected")
	}
}

// waitDisconnected waits for the sink's Disconnected callback.
func (f *fixture) waitDisconnected(t *testing.T) {
	t.Helper()
	select {
	case <-f.sink.disconnected:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Disconnected")
	}
}

// waitFor polls cond until it is true or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal(msg)
}

// captureFrame builds a 20 ms capture frame with the given fill byte.
func captureFrame(fill byte) audio.AudioFrame {
	data := make([]byte, 640)
	for i := range data {
		data[i] = fill
	}
	return audio.CaptureFormat.Frame(data, 0)
}

// chunk builds a 20 ms synthesized audio event (960 bytes at 24 kHz s16le).
func chunk() live.AudioChunkEvent {
	return live.AudioChunkEvent{
		Data:     make([]byte, 960),
		MIMEType: audio.PlaybackFormat.MIME(),
	}
}

// ─── TestStart_ConnectsWithRenderedInstruction ────────────────────────────────

func TestStart_ConnectsWithRenderedInstruction(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{
		AgentType: "support agent",
		Voice:     "Puck",
		Docs: []relay.ContextDoc{
			{Name: "Return Policy", Content: "Returns within 30 days."},
		},
	})
	f.start(t)

	got := f.provider.LastConfig()
	if got.Voice != "Puck" {
		t.Errorf("Voice = %q, want %q", got.Voice, "Puck")
	}
	if !strings.Contains(got.Instructions, "You are a voice support agent.") {
		t.Errorf("instructions missing agent line:\n%s", got.Instructions)
	}
	if !strings.Contains(got.Instructions, "## Return Policy\nReturns within 30 days.") {
		t.Errorf("instructions missing doc:\n%s", got.Instructions)
	}
	if got.InputFormat != audio.CaptureFormat {
		t.Errorf("InputFormat = %v, want %v", got.InputFormat, audio.CaptureFormat)
	}
	if got.OutputFormat != audio.PlaybackFormat {
		t.Errorf("OutputFormat = %v, want %v", got.OutputFormat, audio.PlaybackFormat)
	}
}

// ─── TestStart_Twice ──────────────────────────────────────────────────────────

func TestStart_Twice(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.start(t)

	if err := f.sess.Start(context.Background()); err == nil {
		t.Fatal("second Start returned nil, want error")
	}
}

// ─── TestStart_ConnectError ───────────────────────────────────────────────────

func TestStart_ConnectError(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.provider.ConnectErr = errors.New("dial refused")

	err := f.sess.Start(context.Background())
	if err == nil {
		t.Fatal("Start returned nil, want connection error")
	}
	var connErr *relay.ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("Start error = %v, want *relay.ConnectionError", err)
	}
	if !strings.Contains(err.Error(), "dial refused") {
		t.Errorf("error %q does not mention the cause", err)
	}

	if got := f.sess.State().Connection; got != relay.StatusClosed {
		t.Errorf("Connection = %v after failed Start, want %v", got, relay.StatusClosed)
	}
	select {
	case <-f.sess.Done():
	default:
		t.Error("Done() not closed after failed Start")
	}
	// The capture device must never have been touched.
	if f.capture.CallCountStart != 0 {
		t.Errorf("capture started %d times, want 0", f.capture.CallCountStart)
	}
}

// ─── TestStart_CaptureError ───────────────────────────────────────────────────

func TestStart_CaptureError(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.capture.StartError = &audio.DeviceError{
		Device: "capture", Op: "open", Err: errors.New("no input device"),
	}

	err := f.sess.Start(context.Background())
	var devErr *audio.DeviceError
	if !errors.As(err, &devErr) {
		t.Fatalf("Start error = %v, want *audio.DeviceError", err)
	}

	// The upstream session opened before the device failed; it must be closed.
	if got := f.upstream.CloseCount(); got != 1 {
		t.Errorf("upstream Close called %d times, want 1", got)
	}
	if got := f.sess.State().Connection; got != relay.StatusClosed {
		t.Errorf("Connection = %v, want %v", got, relay.StatusClosed)
	}
}

// ─── TestConnected_NotifiesSink ───────────────────────────────────────────────

func TestConnected_NotifiesSink(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.start(t)

	// The endpoint has not acknowledged the session yet.
	if got := f.sess.State().Connection; got != relay.StatusConnecting {
		t.Fatalf("Connection = %v before handshake, want %v", got, relay.StatusConnecting)
	}

	f.upstream.Emit(live.ConnectedEvent{})
	select {
	case <-f.sink.connected:
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for Connected")
	}
	if got := f.sess.State().Connection; got != relay.StatusConnected {
		t.Errorf("Connection = %v after handshake, want %v", got, relay.StatusConnected)
	}
}

// ─── TestSpeakingLifecycle ────────────────────────────────────────────────────

func TestSpeakingLifecycle(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.connect(t)

	f.upstream.Emit(chunk())
	f.upstream.Emit(chunk())
	f.upstream.Emit(chunk())
	f.upstream.Emit(live.TurnCompleteEvent{})
	waitFor(t, func() bool { return f.sink.Count("speaking-ended") == 1 },
		"timed out waiting for SpeakingEnded")

	want := []string{"connected", "speaking-started", "audio", "audio", "audio", "speaking-ended"}
	got := f.sink.Calls()
	if len(got) != len(want) {
		t.Fatalf("calls = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("calls = %v, want %v", got, want)
		}
	}

	// Chunks carry the playback format and a running timestamp.
	frames := f.sink.Frames()
	if frames[0].SampleRate != 24000 {
		t.Errorf("frame sample rate = %d, want 24000", frames[0].SampleRate)
	}
	if frames[0].Timestamp != 0 || frames[1].Timestamp != 20*time.Millisecond {
		t.Errorf("frame timestamps = %v, %v; want 0, 20ms", frames[0].Timestamp, frames[1].Timestamp)
	}
}

// ─── TestSpeakingLifecycle_RepeatedTurns ──────────────────────────────────────

func TestSpeakingLifecycle_RepeatedTurns(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.connect(t)

	for turn := 1; turn <= 2; turn++ {
		f.upstream.Emit(chunk())
		f.upstream.Emit(live.TurnCompleteEvent{})
		waitFor(t, func() bool { return f.sink.Count("speaking-ended") == turn },
			"timed out waiting for SpeakingEnded")
	}

	if got := f.sink.Count("speaking-started"); got != 2 {
		t.Errorf("SpeakingStarted fired %d times, want 2", got)
	}
	if got := f.sink.Count("speaking-ended"); got != 2 {
		t.Errorf("SpeakingEnded fired %d times, want 2", got)
	}
}

// ─── TestTurnComplete_WithoutAudio ────────────────────────────────────────────

func TestTurnComplete_WithoutAudio(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.connect(t)

	// A completion without any audio (a text-only or cancelled turn) must not
	// produce speaking notifications.
	f.upstream.Emit(live.TurnCompleteEvent{})
	f.upstream.Emit(live.UsageEvent{TotalTokens: 10})
	waitFor(t, func() bool { return f.sink.Count("usage") == 1 },
		"timed out waiting for Usage")

	if got := f.sink.Count("speaking-started"); got != 0 {
		t.Errorf("SpeakingStarted fired %d times, want 0", got)
	}
	if got := f.sink.Count("speaking-ended"); got != 0 {
		t.Errorf("SpeakingEnded fired %d times, want 0", got)
	}
}

// ─── TestCapture_ForwardedWhileIdle ───────────────────────────────────────────

func TestCapture_ForwardedWhileIdle(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.connect(t)

	f.capture.Push(captureFrame(0xAA))
	f.capture.Push(captureFrame(0xBB))
	waitFor(t, func() bool { return f.upstream.SendCount() == 2 },
		"timed out waiting for frames upstream")

	sent := f.upstream.SentFrames()
	if sent[0].Data[0] != 0xAA || sent[1].Data[0] != 0xBB {
		t.Error("frames forwarded out of order")
	}
	if sent[0].SampleRate != 16000 {
		t.Errorf("forwarded sample rate = %d, want 16000", sent[0].SampleRate)
	}
}

// ─── TestCapture_DroppedWhileAIResponding ─────────────────────────────────────

func TestCapture_DroppedWhileAIResponding(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.connect(t)

	// Idle: the first frame passes.
	f.capture.Push(captureFrame(0x01))
	waitFor(t, func() bool { return f.upstream.SendCount() == 1 },
		"timed out waiting for idle frame upstream")

	// Open an AI turn; the gate closes before SpeakingStarted is delivered.
	f.upstream.Emit(chunk())
	waitFor(t, func() bool { return f.sink.Count("speaking-started") == 1 },
		"timed out waiting for SpeakingStarted")
	if got := f.sess.State().Turn; got != relay.TurnAIResponding {
		t.Fatalf("Turn = %v during AI turn, want %v", got, relay.TurnAIResponding)
	}

	// Frames arriving during the turn are dropped, not buffered.
	f.capture.Push(captureFrame(0x02))
	f.capture.Push(captureFrame(0x03))
	waitFor(t, func() bool { return len(f.capture.Frames()) == 0 },
		"timed out waiting for pump to consume frames")
	time.Sleep(10 * time.Millisecond)

	f.upstream.Emit(live.TurnCompleteEvent{})
	waitFor(t, func() bool { return f.sink.Count("speaking-ended") == 1 },
		"timed out waiting for SpeakingEnded")

	// Idle again: the next frame passes. The dropped frames must never
	// surface, before or after the turn boundary.
	f.capture.Push(captureFrame(0x04))
	waitFor(t, func() bool { return f.upstream.SendCount() == 2 },
		"timed out waiting for post-turn frame upstream")

	sent := f.upstream.SentFrames()
	if sent[0].Data[0] != 0x01 || sent[1].Data[0] != 0x04 {
		t.Fatalf("upstream saw frames %#x and %#x, want 0x01 and 0x04",
			sent[0].Data[0], sent[1].Data[0])
	}
}

// ─── TestSend_QueueFullDropsAndContinues ──────────────────────────────────────

func TestSend_QueueFullDropsAndContinues(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.connect(t)

	f.upstream.SetSendErr(live.ErrSendQueueFull)
	f.capture.Push(captureFrame(0x01))
	waitFor(t, func() bool { return f.upstream.SendCount() == 1 },
		"timed out waiting for send attempt")

	// A full queue drops the frame but never kills the session.
	if got := f.sess.State().Connection; got != relay.StatusConnected {
		t.Fatalf("Connection = %v after dropped frame, want %v", got, relay.StatusConnected)
	}
	if err := f.sess.Err(); err != nil {
		t.Fatalf("Err() = %v after dropped frame, want nil", err)
	}

	// Once the queue clears, frames flow again.
	f.upstream.SetSendErr(nil)
	f.capture.Push(captureFrame(0x02))
	waitFor(t, func() bool { return f.upstream.SendCount() == 2 },
		"timed out waiting for recovery send")
}

// ─── TestSend_ErrorDropsAndContinues ──────────────────────────────────────────

func TestSend_ErrorDropsAndContinues(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.connect(t)

	f.upstream.SetSendErr(errors.New("transient write failure"))
	f.capture.Push(captureFrame(0x01))
	waitFor(t, func() bool { return f.upstream.SendCount() == 1 },
		"timed out waiting for send attempt")

	if err := f.sess.Err(); err != nil {
		t.Fatalf("Err() = %v after send failure, want nil", err)
	}

	f.upstream.SetSendErr(nil)
	f.capture.Push(captureFrame(0x02))
	waitFor(t, func() bool { return f.upstream.SendCount() == 2 },
		"timed out waiting for recovery send")
}

// ─── TestSend_SessionClosedStopsPump ──────────────────────────────────────────

func TestSend_SessionClosedStopsPump(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.connect(t)

	f.upstream.SetSendErr(live.ErrSessionClosed)
	f.capture.Push(captureFrame(0x01))
	waitFor(t, func() bool { return f.upstream.SendCount() == 1 },
		"timed out waiting for send attempt")

	// The pump exits on a closed upstream; later frames are not attempted.
	f.capture.Push(captureFrame(0x02))
	time.Sleep(20 * time.Millisecond)
	if got := f.upstream.SendCount(); got != 1 {
		t.Fatalf("SendCount = %d after closed upstream, want 1", got)
	}
}

// ─── TestUpstreamError_TerminatesSession ──────────────────────────────────────

func TestUpstreamError_TerminatesSession(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.connect(t)

	// Open a turn so the fail-safe unmute path is exercised too.
	f.upstream.Emit(chunk())
	waitFor(t, func() bool { return f.sink.Count("speaking-started") == 1 },
		"timed out waiting for SpeakingStarted")

	f.upstream.Emit(live.ErrorEvent{Cause: errors.New("quota exceeded")})
	f.waitDisconnected(t)

	var upErr *relay.UpstreamError
	if err := f.sess.Err(); !errors.As(err, &upErr) {
		t.Fatalf("Err() = %v, want *relay.UpstreamError", err)
	}
	if !strings.Contains(f.sess.Err().Error(), "quota exceeded") {
		t.Errorf("terminal error %q does not mention the cause", f.sess.Err())
	}

	// The turn cut short by the error still ends exactly once.
	if got := f.sink.Count("speaking-ended"); got != 1 {
		t.Errorf("SpeakingEnded fired %d times, want 1", got)
	}
	if got := f.sink.Count("error"); got != 1 {
		t.Errorf("Error fired %d times, want 1", got)
	}

	// Error precedes Disconnected, and the reason carries the cause.
	calls := f.sink.Calls()
	errIdx, discIdx := -1, -1
	for i, c := range calls {
		switch c {
		case "error":
			errIdx = i
		case "disconnected":
			discIdx = i
		}
	}
	if errIdx == -1 || discIdx == -1 || errIdx > discIdx {
		t.Errorf("Error must precede Disconnected, calls = %v", calls)
	}
	if reasons := f.sink.Reasons(); len(reasons) != 1 || !strings.Contains(reasons[0], "quota exceeded") {
		t.Errorf("Disconnected reasons = %v, want cause mentioned", reasons)
	}

	st := f.sess.State()
	if st.Connection != relay.StatusClosed {
		t.Errorf("Connection = %v, want %v", st.Connection, relay.StatusClosed)
	}
	if st.Turn != relay.TurnIdle {
		t.Errorf("Turn = %v after teardown, want %v", st.Turn, relay.TurnIdle)
	}

	// A failed session never reconnects on its own.
	time.Sleep(20 * time.Millisecond)
	if got := len(f.provider.ConnectCalls); got != 1 {
		t.Errorf("Connect called %d times, want 1 (no auto-reconnect)", got)
	}
	if got := f.upstream.CloseCount(); got == 0 {
		t.Error("upstream session never closed")
	}
}

// ─── TestRemoteClose_ReasonPropagates ─────────────────────────────────────────

func TestRemoteClose_ReasonPropagates(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.connect(t)

	// A turn is in flight when the remote endpoint drops the session.
	f.upstream.Emit(chunk())
	waitFor(t, func() bool { return f.sink.Count("speaking-started") == 1 },
		"timed out waiting for SpeakingStarted")

	f.upstream.Emit(live.ClosedEvent{Reason: "remote closed (status 1000)"})
	f.upstream.CloseEvents()
	f.waitDisconnected(t)

	if err := f.sess.Err(); err != nil {
		t.Errorf("Err() = %v after remote close, want nil", err)
	}
	if reasons := f.sink.Reasons(); len(reasons) != 1 || reasons[0] != "remote closed (status 1000)" {
		t.Errorf("Disconnected reasons = %v, want remote reason", reasons)
	}
	// Fail-safe: the interrupted turn still ends.
	if got := f.sink.Count("speaking-ended"); got != 1 {
		t.Errorf("SpeakingEnded fired %d times, want 1", got)
	}
	if got := f.sess.State().Turn; got != relay.TurnIdle {
		t.Errorf("Turn = %v after remote close, want %v", got, relay.TurnIdle)
	}
}

// ─── TestCaptureFailure_TerminatesSession ─────────────────────────────────────

func TestCaptureFailure_TerminatesSession(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.connect(t)

	f.capture.Fail(&audio.DeviceError{
		Device: "capture", Op: "read", Err: errors.New("stream died"),
	})
	f.waitDisconnected(t)

	var devErr *audio.DeviceError
	if err := f.sess.Err(); !errors.As(err, &devErr) {
		t.Fatalf("Err() = %v, want *audio.DeviceError", err)
	}
	if got := f.sink.Count("error"); got != 1 {
		t.Errorf("Error fired %d times, want 1", got)
	}
	if got := f.sess.State().Connection; got != relay.StatusClosed {
		t.Errorf("Connection = %v, want %v", got, relay.StatusClosed)
	}
}

// ─── TestUsage_Forwarded ──────────────────────────────────────────────────────

func TestUsage_Forwarded(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.connect(t)

	f.upstream.Emit(live.UsageEvent{TotalTokens: 250})
	f.upstream.Emit(live.UsageEvent{TotalTokens: 500})
	waitFor(t, func() bool { return f.sink.Count("usage") == 2 },
		"timed out waiting for Usage")

	got := f.sink.Tokens()
	if got[0] != 250 || got[1] != 500 {
		t.Errorf("Usage tokens = %v, want [250 500]", got)
	}
}

// ─── TestChunkFormat_FollowsMIMEType ──────────────────────────────────────────

func TestChunkFormat_FollowsMIMEType(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.connect(t)

	f.upstream.Emit(live.AudioChunkEvent{Data: make([]byte, 320), MIMEType: "audio/pcm;rate=16000"})
	f.upstream.Emit(live.AudioChunkEvent{Data: make([]byte, 960), MIMEType: ""})
	waitFor(t, func() bool { return f.sink.Count("audio") == 2 },
		"timed out waiting for audio")

	frames := f.sink.Frames()
	if frames[0].SampleRate != 16000 {
		t.Errorf("frame 0 sample rate = %d, want 16000 (from MIME type)", frames[0].SampleRate)
	}
	if frames[1].SampleRate != 24000 {
		t.Errorf("frame 1 sample rate = %d, want 24000 (playback default)", frames[1].SampleRate)
	}
}

// ─── TestStop_Idempotent ──────────────────────────────────────────────────────

func TestStop_Idempotent(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.connect(t)

	for i := range 5 {
		if err := f.sess.Stop(); err != nil {
			t.Fatalf("Stop() call %d returned error: %v", i+1, err)
		}
	}
	f.waitDisconnected(t)

	if err := f.sess.Err(); err != nil {
		t.Errorf("Err() = %v after clean stop, want nil", err)
	}
	if got := f.sess.State().Connection; got != relay.StatusClosed {
		t.Errorf("Connection = %v, want %v", got, relay.StatusClosed)
	}
	if got := f.sink.Count("disconnected"); got != 1 {
		t.Errorf("Disconnected fired %d times, want 1", got)
	}
	if reasons := f.sink.Reasons(); reasons[0] != "session closed" {
		t.Errorf("Disconnected reason = %q, want %q", reasons[0], "session closed")
	}
	if f.capture.CallCountStop == 0 {
		t.Error("capture device never stopped")
	}
	if got := f.upstream.EndInputCallCount; got != 1 {
		t.Errorf("EndInput called %d times, want 1", got)
	}
	if got := f.upstream.CloseCount(); got == 0 {
		t.Error("upstream session never closed")
	}
}

// ─── TestStop_Concurrent ──────────────────────────────────────────────────────

func TestStop_Concurrent(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	f.connect(t)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Go(func() { errs[i] = f.sess.Stop() })
	}
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("concurrent Stop %d: %v", i, err)
		}
	}
}

// ─── TestStop_BeforeStart ─────────────────────────────────────────────────────

func TestStop_BeforeStart(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	if err := f.sess.Stop(); err != nil {
		t.Fatalf("Stop before Start: %v", err)
	}
	if got := f.sess.State().Connection; got != relay.StatusClosed {
		t.Errorf("Connection = %v, want %v", got, relay.StatusClosed)
	}

	// A stopped session cannot be started.
	if err := f.sess.Start(context.Background()); err == nil {
		t.Fatal("Start after Stop returned nil, want error")
	}
	if got := len(f.provider.ConnectCalls); got != 0 {
		t.Errorf("Connect called %d times after Stop, want 0", got)
	}
}

// ─── TestState_Progression ────────────────────────────────────────────────────

func TestState_Progression(t *testing.T) {
	t.Parallel()

	f := newFixture(relay.Config{})
	if got := f.sess.State().Connection; got != relay.StatusDisconnected {
		t.Fatalf("initial Connection = %v, want %v", got, relay.StatusDisconnected)
	}
	if got := f.sess.State().Turn; got != relay.TurnIdle {
		t.Fatalf("initial Turn = %v, want %v", got, relay.TurnIdle)
	}

	f.connect(t)
	if got := f.sess.State().Connection; got != relay.StatusConnected {
		t.Fatalf("Connection = %v after handshake, want %v", got, relay.StatusConnected)
	}

	if err := f.sess.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := f.sess.State().Connection; got != relay.StatusClosed {
		t.Fatalf("Connection = %v after Stop, want %v", got, relay.StatusClosed)
	}
}
