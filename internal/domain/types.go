package domain

import "time"

// ConnectionState models the voice transport lifecycle.
type ConnectionState string

const (
	ConnectionDisconnected   ConnectionState = "disconnected"
	ConnectionInitializing   ConnectionState = "initializing"
	ConnectionInitialized    ConnectionState = "initialized"
	ConnectionAuthenticating ConnectionState = "authenticating"
	ConnectionAuthenticated  ConnectionState = "authenticated"
	ConnectionConnecting     ConnectionState = "connecting"
	ConnectionConnected      ConnectionState = "connected"
	ConnectionReady          ConnectionState = "ready"
	ConnectionError          ConnectionState = "error"
)

// Connected reports whether the session can send and receive.
func (s ConnectionState) Connected() bool {
	return s == ConnectionConnected || s == ConnectionReady
}

// Connecting reports whether a connection attempt is in flight.
func (s ConnectionState) Connecting() bool {
	switch s {
	case ConnectionInitializing, ConnectionInitialized,
		ConnectionAuthenticating, ConnectionAuthenticated, ConnectionConnecting:
		return true
	}
	return false
}

func (s ConnectionState) Disconnected() bool { return s == ConnectionDisconnected }

func (s ConnectionState) Errored() bool { return s == ConnectionError }

// StatusText is the human-readable label shown in the status bar.
func (s ConnectionState) StatusText() string {
	switch s {
	case ConnectionReady:
		return "Ready"
	case ConnectionConnected:
		return "Connected"
	case ConnectionError:
		return "Connection error"
	case ConnectionDisconnected:
		return "Disconnected"
	default:
		return "Connecting..."
	}
}

// Speaker identifies who produced a message.
type Speaker string

const (
	SpeakerUser      Speaker = "user"
	SpeakerAssistant Speaker = "assistant"
)

// Channel identifies how a message entered the conversation.
type Channel string

const (
	ChannelTyped  Channel = "typed"
	ChannelSpoken Channel = "spoken"
)

// EntryStatus marks whether a message is still provisional.
type EntryStatus string

const (
	StatusInterim EntryStatus = "interim"
	StatusFinal   EntryStatus = "final"
)

// MessageEntry is one line of the conversation log. Identity (ID, Sequence)
// is stable across interim updates; display order follows Sequence, never
// Timestamp.
type MessageEntry struct {
	ID        string      `json:"id"`
	ThreadID  string      `json:"threadId"`
	Speaker   Speaker     `json:"speaker"`
	Channel   Channel     `json:"channel"`
	Status    EntryStatus `json:"status"`
	Content   string      `json:"content"`
	Timestamp time.Time   `json:"timestamp"`
	Sequence  uint64      `json:"sequence"`
}

// TranscriptEvent is one recognition result from the transport.
type TranscriptEvent struct {
	Speaker   Speaker   `json:"speaker"`
	Text      string    `json:"text"`
	Final     bool      `json:"final"`
	Timestamp time.Time `json:"timestamp"`
}

// SpeechSignal is a speech lifecycle notification from the transport.
type SpeechSignal string

const (
	SignalUserStartedSpeaking      SpeechSignal = "user_started_speaking"
	SignalUserStoppedSpeaking      SpeechSignal = "user_stopped_speaking"
	SignalAssistantStartedSpeaking SpeechSignal = "assistant_started_speaking"
	SignalAssistantStoppedSpeaking SpeechSignal = "assistant_stopped_speaking"
)

// ErrorCode identifies non-fatal session failures surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeTransport ErrorCode = "transport"
	ErrorCodeMicAccess ErrorCode = "mic_access"
	ErrorCodeSend      ErrorCode = "send"
)
