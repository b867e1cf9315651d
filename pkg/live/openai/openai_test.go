package openai_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/voximux/voximux/pkg/audio"
	"github.com/voximux/voximux/pkg/live"
	"github.com/voximux/voximux/pkg/live/openai"
)

const eventWait = 3 * time.Second

// ── Test fixture ───────────────────────────────────────────────────────────────

// testConn is the server half of a scripted session: the accepted WebSocket
// plus the upgrade request, with deadline-bounded JSON helpers.
type testConn struct {
	t    *testing.T
	conn *websocket.Conn
	req  *http.Request
}

func (c *testConn) read(v any) {
	ctx, cancel := context.WithTimeout(context.Background(), eventWait)
	defer cancel()
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		c.t.Errorf("fake server read: %v", err)
		return
	}
	if err := json.Unmarshal(data, v); err != nil {
		c.t.Errorf("fake server decode: %v", err)
	}
}

func (c *testConn) write(v any) {
	ctx, cancel := context.WithTimeout(context.Background(), eventWait)
	defer cancel()
	data, _ := json.Marshal(v)
	// Write failures are expected when the client closed first.
	_ = c.conn.Write(ctx, websocket.MessageText, data)
}

// ackCreated consumes the client session.update and announces the session.
func (c *testConn) ackCreated() {
	var raw map[string]any
	c.read(&raw)
	c.write(map[string]any{"type": "session.created"})
}

// hold keeps the connection open (discarding further frames) until the
// client side closes.
func (c *testConn) hold() {
	<-c.conn.CloseRead(context.Background()).Done()
}

// startFake runs an in-process stand-in for the Realtime endpoint. Each
// accepted connection is handed to script; the connection closes when the
// script returns.
func startFake(t *testing.T, script func(c *testConn)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "done")
		script(&testConn{t: t, conn: conn, req: r})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func wsBase(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

// dial opens a session against the fake server and ties its lifetime to the
// test.
func dial(t *testing.T, srv *httptest.Server, cfg live.SessionConfig, opts ...openai.Option) live.Session {
	t.Helper()
	opts = append([]openai.Option{openai.WithBaseURL(wsBase(srv))}, opts...)
	sess, err := openai.New("test-api-key", opts...).Connect(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(func() { _ = sess.Close() })
	return sess
}

// waitFor pulls session events until one of type T arrives. Events of other
// types are discarded, so tests need not step over the connected ack.
func waitFor[T live.Event](t *testing.T, sess live.Session) T {
	t.Helper()
	deadline := time.After(eventWait)
	for {
		select {
		case ev, ok := <-sess.Events():
			if !ok {
				var zero T
				t.Fatalf("events channel closed while waiting for %T", zero)
			}
			if want, isT := ev.(T); isT {
				return want
			}
		case <-deadline:
			var zero T
			t.Fatalf("timeout waiting for %T", zero)
		}
	}
}

// ── Connect ────────────────────────────────────────────────────────────────────

func TestConnect_SendsSessionUpdate(t *testing.T) {
	t.Parallel()

	type sessionUpdate struct {
		Type    string `json:"type"`
		Session struct {
			Voice             string `json:"voice"`
			Instructions      string `json:"instructions"`
			InputAudioFormat  string `json:"input_audio_format"`
			OutputAudioFormat string `json:"output_audio_format"`
		} `json:"session"`
	}

	got := make(chan sessionUpdate, 1)
	srv := startFake(t, func(c *testConn) {
		var msg sessionUpdate
		c.read(&msg)
		got <- msg
		c.write(map[string]any{"type": "session.created"})
		c.hold()
	})

	dial(t, srv, live.SessionConfig{
		Instructions: "Answer briefly.",
		Voice:        "ash",
	})

	select {
	case msg := <-got:
		if msg.Type != "session.update" {
			t.Errorf("type = %q, want session.update", msg.Type)
		}
		if msg.Session.Voice != "ash" {
			t.Errorf("voice = %q, want ash", msg.Session.Voice)
		}
		if msg.Session.Instructions != "Answer briefly." {
			t.Errorf("instructions = %q", msg.Session.Instructions)
		}
		if msg.Session.InputAudioFormat != "pcm16" || msg.Session.OutputAudioFormat != "pcm16" {
			t.Errorf("audio formats = %q/%q, want pcm16/pcm16",
				msg.Session.InputAudioFormat, msg.Session.OutputAudioFormat)
		}
	case <-time.After(eventWait):
		t.Fatal("fake server never received the session.update")
	}
}

func TestConnect_SendsAuthHeaders(t *testing.T) {
	t.Parallel()

	headers := make(chan http.Header, 1)
	srv := startFake(t, func(c *testConn) {
		headers <- c.req.Header.Clone()
		c.ackCreated()
		c.hold()
	})

	sess, err := openai.New("sk-under-test", openai.WithBaseURL(wsBase(srv))).
		Connect(context.Background(), live.SessionConfig{})
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer sess.Close()

	select {
	case h := <-headers:
		if got := h.Get("Authorization"); got != "Bearer sk-under-test" {
			t.Errorf("Authorization = %q, want Bearer sk-under-test", got)
		}
		if got := h.Get("OpenAI-Beta"); got != "realtime=v1" {
			t.Errorf("OpenAI-Beta = %q, want realtime=v1", got)
		}
	case <-time.After(eventWait):
		t.Fatal("fake server never saw the upgrade request")
	}
}

func TestConnect_WithModel(t *testing.T) {
	t.Parallel()

	models := make(chan string, 1)
	srv := startFake(t, func(c *testConn) {
		models <- c.req.URL.Query().Get("model")
		c.ackCreated()
		c.hold()
	})

	dial(t, srv, live.SessionConfig{}, openai.WithModel("gpt-4o-mini-realtime"))

	select {
	case m := <-models:
		if m != "gpt-4o-mini-realtime" {
			t.Errorf("model query parameter = %q, want gpt-4o-mini-realtime", m)
		}
	case <-time.After(eventWait):
		t.Fatal("fake server never saw the upgrade request")
	}
}

// ── Event stream ───────────────────────────────────────────────────────────────

func TestEvents_ConnectedOnSessionCreated(t *testing.T) {
	t.Parallel()

	srv := startFake(t, func(c *testConn) {
		c.ackCreated()
		c.hold()
	})
	sess := dial(t, srv, live.SessionConfig{})

	select {
	case ev, ok := <-sess.Events():
		if !ok {
			t.Fatal("events channel closed before any event")
		}
		if _, isConn := ev.(live.ConnectedEvent); !isConn {
			t.Errorf("first event = %T, want live.ConnectedEvent", ev)
		}
	case <-time.After(eventWait):
		t.Fatal("timeout waiting for the first event")
	}
}

func TestEvents_AudioDelta(t *testing.T) {
	t.Parallel()

	wantPCM := []byte{0x10, 0x20, 0x30, 0x40}
	srv := startFake(t, func(c *testConn) {
		c.ackCreated()
		c.write(map[string]any{
			"type":  "response.audio.delta",
			"delta": base64.StdEncoding.EncodeToString(wantPCM),
		})
		c.hold()
	})
	sess := dial(t, srv, live.SessionConfig{})

	chunk := waitFor[live.AudioChunkEvent](t, sess)
	if string(chunk.Data) != string(wantPCM) {
		t.Errorf("audio data = %v, want %v", chunk.Data, wantPCM)
	}
	if chunk.MIMEType != "audio/pcm;rate=24000" {
		t.Errorf("mime type = %q, want the playback default", chunk.MIMEType)
	}
}

func TestEvents_ResponseDone(t *testing.T) {
	t.Parallel()

	srv := startFake(t, func(c *testConn) {
		c.ackCreated()
		c.write(map[string]any{
			"type": "response.done",
			"response": map[string]any{
				"usage": map[string]any{
					"input_tokens":  40,
					"output_tokens": 60,
					"total_tokens":  100,
				},
			},
		})
		c.hold()
	})
	sess := dial(t, srv, live.SessionConfig{})

	// Usage follows the turn completion; a reversed order would leave the
	// second wait empty-handed.
	waitFor[live.TurnCompleteEvent](t, sess)
	usage := waitFor[live.UsageEvent](t, sess)
	if usage.TotalTokens != 100 {
		t.Errorf("TotalTokens = %d, want 100", usage.TotalTokens)
	}
}

func TestEvents_ServerError(t *testing.T) {
	t.Parallel()

	srv := startFake(t, func(c *testConn) {
		c.ackCreated()
		c.write(map[string]any{
			"type": "error",
			"error": map[string]any{
				"type":    "invalid_request_error",
				"code":    "session_expired",
				"message": "session has expired",
			},
		})
		c.hold()
	})
	sess := dial(t, srv, live.SessionConfig{})

	errEv := waitFor[live.ErrorEvent](t, sess)
	if errEv.Cause == nil || !strings.Contains(errEv.Cause.Error(), "session has expired") {
		t.Errorf("error cause = %v, want the server message", errEv.Cause)
	}
}

func TestEvents_ClosedOnRemoteClose(t *testing.T) {
	t.Parallel()

	srv := startFake(t, func(c *testConn) {
		c.ackCreated()
		c.conn.Close(websocket.StatusNormalClosure, "bye")
	})
	sess := dial(t, srv, live.SessionConfig{})

	waitFor[live.ClosedEvent](t, sess)

	// After the final event the channel must close.
	select {
	case _, ok := <-sess.Events():
		if ok {
			t.Error("events channel stayed open after ClosedEvent")
		}
	case <-time.After(eventWait):
		t.Fatal("timeout waiting for events channel close")
	}
}

// ── Send / EndInput ────────────────────────────────────────────────────────────

func TestSend_EncodesAppendEvent(t *testing.T) {
	t.Parallel()

	type appendMsg struct {
		Type  string `json:"type"`
		Audio string `json:"audio"`
	}

	got := make(chan appendMsg, 1)
	srv := startFake(t, func(c *testConn) {
		c.ackCreated()
		var msg appendMsg
		c.read(&msg)
		got <- msg
		c.hold()
	})
	sess := dial(t, srv, live.SessionConfig{})

	wantPCM := []byte{0x05, 0x06, 0x07, 0x08}
	if err := sess.Send(audio.CaptureFormat.Frame(wantPCM, 0)); err != nil {
		t.Fatalf("Send: %v", err)
	}

	select {
	case msg := <-got:
		if msg.Type != "input_audio_buffer.append" {
			t.Errorf("type = %q, want input_audio_buffer.append", msg.Type)
		}
		decoded, err := base64.StdEncoding.DecodeString(msg.Audio)
		if err != nil {
			t.Fatalf("audio payload is not base64: %v", err)
		}
		if string(decoded) != string(wantPCM) {
			t.Errorf("decoded audio = %v, want %v", decoded, wantPCM)
		}
	case <-time.After(eventWait):
		t.Fatal("fake server never received the append event")
	}
}

func TestSend_AfterClose_ReturnsError(t *testing.T) {
	t.Parallel()

	srv := startFake(t, func(c *testConn) {
		c.ackCreated()
		c.hold()
	})
	sess := dial(t, srv, live.SessionConfig{})

	if err := sess.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := sess.Send(audio.CaptureFormat.Frame([]byte{1, 2}, 0))
	if !errors.Is(err, live.ErrSessionClosed) {
		t.Fatalf("Send after Close = %v, want ErrSessionClosed", err)
	}
}

func TestEndInput_CommitsBuffer(t *testing.T) {
	t.Parallel()

	types := make(chan string, 1)
	srv := startFake(t, func(c *testConn) {
		c.ackCreated()
		var msg struct {
			Type string `json:"type"`
		}
		c.read(&msg)
		types <- msg.Type
		c.hold()
	})
	sess := dial(t, srv, live.SessionConfig{})

	if err := sess.EndInput(); err != nil {
		t.Fatalf("EndInput: %v", err)
	}

	select {
	case typ := <-types:
		if typ != "input_audio_buffer.commit" {
			t.Errorf("type = %q, want input_audio_buffer.commit", typ)
		}
	case <-time.After(eventWait):
		t.Fatal("fake server never received the commit event")
	}
}

// ── Close ──────────────────────────────────────────────────────────────────────

func TestClose_Idempotent(t *testing.T) {
	t.Parallel()

	srv := startFake(t, func(c *testConn) {
		c.ackCreated()
		c.hold()
	})
	sess := dial(t, srv, live.SessionConfig{})

	if err := sess.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := sess.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}
