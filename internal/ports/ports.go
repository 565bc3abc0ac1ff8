package ports

import (
	"context"
	"encoding/json"
	"time"

	"github.com/Allenmylath/dwelling-scribe/internal/domain"
)

// TransportEventKind tags the variants of TransportEvent.
type TransportEventKind string

const (
	EventStateChanged  TransportEventKind = "state_changed"
	EventSpeechSignal  TransportEventKind = "speech_signal"
	EventTranscript    TransportEventKind = "transcript"
	EventBotReady      TransportEventKind = "bot_ready"
	EventServerMessage TransportEventKind = "server_message"
	EventTransportErr  TransportEventKind = "transport_error"
)

// TransportEvent is one inbound notification from the voice transport.
// Exactly the field matching Kind is populated.
type TransportEvent struct {
	Kind       TransportEventKind
	State      domain.ConnectionState
	Signal     domain.SpeechSignal
	Transcript domain.TranscriptEvent
	Payload    json.RawMessage
	Code       domain.ErrorCode
	Detail     string
}

// ConnectRequest carries the session parameters posted on connect.
type ConnectRequest struct {
	AgentID  string `json:"agentId"`
	Location string `json:"location,omitempty"`
}

// VoiceTransport is a live connection to the voice bot backend. Events
// delivers lifecycle and transcript notifications until the connection ends,
// then closes.
type VoiceTransport interface {
	Disconnect() error
	EnableMicrophone(enabled bool) error
	SendUserText(content string) error
	Events() <-chan TransportEvent
	Wait() error
	Close() error
}

// TransportDialer opens connections to the voice bot backend.
type TransportDialer interface {
	Dial(ctx context.Context, req ConnectRequest) (VoiceTransport, error)
}

// Timer is a cancelable pending callback.
type Timer interface {
	Stop() bool
}

// Clock abstracts wall time and timers so tests can drive them manually.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, fn func()) Timer
}

// EventSink receives session changes for the presentation layer.
type EventSink interface {
	ConversationChanged()
	ConnectionChanged(state domain.ConnectionState)
	Notice(code domain.ErrorCode, detail string)
}

// SearchResultSink receives opaque server-message payloads. The session
// engine forwards them without interpretation.
type SearchResultSink interface {
	ServerMessage(payload json.RawMessage)
}
