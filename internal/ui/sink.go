package ui

import (
	"encoding/json"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/Allenmylath/dwelling-scribe/internal/domain"
)

type conversationChangedMsg struct{}

type connectionChangedMsg struct {
	state domain.ConnectionState
}

type noticeMsg struct {
	code   domain.ErrorCode
	detail string
}

type serverMessageMsg struct {
	payload json.RawMessage
}

// Sink bridges session notifications into the running tea program. Events
// arriving before the program starts are dropped; the model pulls a fresh
// snapshot on init anyway.
type Sink struct {
	mu      sync.Mutex
	program *tea.Program
}

func NewSink() *Sink { return &Sink{} }

// SetProgram attaches the running program. Safe to call once at startup.
func (s *Sink) SetProgram(p *tea.Program) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.program = p
}

func (s *Sink) send(msg tea.Msg) {
	s.mu.Lock()
	p := s.program
	s.mu.Unlock()
	if p != nil {
		go p.Send(msg)
	}
}

func (s *Sink) ConversationChanged() { s.send(conversationChangedMsg{}) }

func (s *Sink) ConnectionChanged(state domain.ConnectionState) {
	s.send(connectionChangedMsg{state: state})
}

func (s *Sink) Notice(code domain.ErrorCode, detail string) {
	s.send(noticeMsg{code: code, detail: detail})
}

func (s *Sink) ServerMessage(payload json.RawMessage) {
	s.send(serverMessageMsg{payload: payload})
}
