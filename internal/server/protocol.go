package server

// Message types sent by clients.
const (
	TypeStartSession = "start-voice-session"
	TypeAudioData    = "audio-data"
	TypeStopSession  = "stop-voice-session"
)

// Message types sent to clients.
const (
	TypeVoiceConnected    = "voice-connected"
	TypeSpeakingStart     = "ai-speaking-start"
	TypeAudioResponse     = "audio-response"
	TypeSpeakingEnd       = "ai-speaking-end"
	TypeTokenUsage        = "token-usage"
	TypeVoiceError        = "voice-error"
	TypeVoiceDisconnected = "voice-disconnected"
)

// clientMessage is the envelope for every frame a client sends. AudioData is
// base64 in the JSON encoding, which encoding/json handles for []byte.
type clientMessage struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId,omitempty"`
	AudioData []byte `json:"audioData,omitempty"`
}

// ServerMessage is the envelope for every event sent to a client. Only the
// fields relevant to the message type are populated. The same encoding is
// used on every client transport, so a client sees identical events whether
// it listens on a WebSocket or a bus subject.
type ServerMessage struct {
	Type        string `json:"type"`
	AudioData   []byte `json:"audioData,omitempty"`
	MIMEType    string `json:"mimeType,omitempty"`
	TotalTokens int    `json:"totalTokens,omitempty"`
	Message     string `json:"message,omitempty"`
	Reason      string `json:"reason,omitempty"`
}
