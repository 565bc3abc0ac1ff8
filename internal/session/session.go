package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Allenmylath/dwelling-scribe/internal/domain"
	"github.com/Allenmylath/dwelling-scribe/internal/ports"
)

var ErrNotConnected = errors.New("transport is not connected")

const defaultWelcome = "Hi! I'm your home search assistant. Connect and start talking, or type a message below."

// Config controls session behavior.
type Config struct {
	SilenceTimeout time.Duration
	WelcomeText    string
	Connect        ports.ConnectRequest
	Ack            AckPolicy
}

// Session owns the conversation state for one client run: the connection
// tracker, the active thread, and the message log. All mutations are
// serialized through its mutex; transport callbacks, timer expiry, and UI
// commands all enter here.
type Session struct {
	dialer  ports.TransportDialer
	sink    ports.EventSink
	results ports.SearchResultSink
	clock   ports.Clock
	logger  zerolog.Logger
	cfg     Config

	mu         sync.Mutex
	tracker    *ConnectionTracker
	correlator *ThreadCorrelator
	log        *MessageLog
	rec        *Reconciler
	transport  ports.VoiceTransport
	micEnabled bool
}

func NewSession(
	dialer ports.TransportDialer,
	sink ports.EventSink,
	results ports.SearchResultSink,
	clock ports.Clock,
	logger zerolog.Logger,
	cfg Config,
) *Session {
	if cfg.WelcomeText == "" {
		cfg.WelcomeText = defaultWelcome
	}
	s := &Session{
		dialer:  dialer,
		sink:    sink,
		results: results,
		clock:   clock,
		logger:  logger,
		cfg:     cfg,
		tracker: NewConnectionTracker(),
	}
	s.correlator = NewThreadCorrelator(clock, cfg.SilenceTimeout, s.expireThread)
	s.log = NewMessageLog(sink.ConversationChanged)
	s.rec = NewReconciler(s.correlator, s.log, logger, cfg.Ack)
	s.log.Reset(s.welcomeEntry())
	return s
}

// State returns the current transport state.
func (s *Session) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.State()
}

// Connecting reports whether a connect attempt is in flight, including the
// window before the transport reports its first state.
func (s *Session) Connecting() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tracker.UserConnectPending() || s.tracker.State().Connecting()
}

// MicEnabled reports whether the microphone is on.
func (s *Session) MicEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.micEnabled
}

// Snapshot returns the conversation in display order.
func (s *Session) Snapshot() []domain.MessageEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.log.Snapshot()
}

// ToggleConnection connects when disconnected and disconnects otherwise.
// Connecting is asynchronous; the real state arrives through transport
// lifecycle events.
func (s *Session) ToggleConnection(ctx context.Context) {
	s.mu.Lock()
	if s.transport != nil || s.tracker.UserConnectPending() {
		transport := s.transport
		s.transport = nil
		s.tracker.ClearUserConnect()
		s.correlator.Close(CloseDisconnect)
		s.applyLocked(domain.ConnectionDisconnected)
		s.mu.Unlock()

		if transport != nil {
			go func() {
				if err := transport.Disconnect(); err != nil {
					s.logger.Debug().Err(err).Msg("disconnect")
				}
				_ = transport.Close()
			}()
		}
		return
	}

	s.tracker.BeginUserConnect()
	req := s.cfg.Connect
	s.mu.Unlock()
	s.sink.ConnectionChanged(s.State())

	go s.connect(ctx, req)
}

func (s *Session) connect(ctx context.Context, req ports.ConnectRequest) {
	transport, err := s.dialer.Dial(ctx, req)

	s.mu.Lock()
	if !s.tracker.UserConnectPending() {
		// Disconnected while dialing; tear the late connection down.
		s.mu.Unlock()
		if transport != nil {
			_ = transport.Close()
		}
		return
	}
	if err != nil {
		s.applyLocked(domain.ConnectionError)
		s.mu.Unlock()
		s.sink.Notice(domain.ErrorCodeTransport, err.Error())
		return
	}
	s.transport = transport
	s.mu.Unlock()

	go s.pump(transport)
}

// pump delivers transport events into the session until the connection ends.
func (s *Session) pump(transport ports.VoiceTransport) {
	for ev := range transport.Events() {
		s.HandleTransportEvent(ev)
	}

	s.mu.Lock()
	if s.transport == transport {
		s.transport = nil
		s.micEnabled = false
		if !s.tracker.State().Disconnected() && !s.tracker.State().Errored() {
			s.correlator.Close(CloseDisconnect)
			s.applyLocked(domain.ConnectionDisconnected)
		}
	}
	s.mu.Unlock()

	if err := transport.Wait(); err != nil {
		s.sink.Notice(domain.ErrorCodeTransport, err.Error())
	}
}

// HandleTransportEvent is the single ingest point for inbound transport
// notifications. State transitions take priority: transcripts arriving after
// a disconnect or error are dropped, never applied to a closed thread.
func (s *Session) HandleTransportEvent(ev ports.TransportEvent) {
	s.mu.Lock()

	switch ev.Kind {
	case ports.EventStateChanged:
		s.applyLocked(ev.State)
		s.mu.Unlock()

	case ports.EventBotReady:
		s.applyLocked(domain.ConnectionReady)
		s.mu.Unlock()

	case ports.EventSpeechSignal:
		if !s.tracker.State().Connected() {
			s.logger.Debug().Str("signal", string(ev.Signal)).Msg("dropping speech signal while not connected")
			s.mu.Unlock()
			return
		}
		s.rec.IngestSignal(ev.Signal, s.clock.Now())
		s.mu.Unlock()

	case ports.EventTranscript:
		if !s.tracker.State().Connected() {
			s.logger.Debug().Str("speaker", string(ev.Transcript.Speaker)).
				Bool("final", ev.Transcript.Final).
				Msg("dropping transcript while not connected")
			s.mu.Unlock()
			return
		}
		s.rec.IngestTranscript(ev.Transcript, s.clock.Now())
		s.mu.Unlock()

	case ports.EventServerMessage:
		payload := ev.Payload
		s.mu.Unlock()
		if s.results != nil {
			s.results.ServerMessage(payload)
		}

	case ports.EventTransportErr:
		if ev.Code == domain.ErrorCodeMicAccess {
			s.micEnabled = false
		}
		code := ev.Code
		if code == "" {
			code = domain.ErrorCodeTransport
		}
		s.mu.Unlock()
		s.sink.Notice(code, ev.Detail)

	default:
		s.logger.Debug().Str("kind", string(ev.Kind)).Msg("dropping unknown transport event")
		s.mu.Unlock()
	}
}

// SubmitTypedMessage appends a typed user message and sends it. The entry is
// visible immediately; delivery failure surfaces as a follow-up error entry.
func (s *Session) SubmitTypedMessage(content string) error {
	s.mu.Lock()
	entry, ok := s.rec.SubmitTyped(content, s.clock.Now())
	if !ok {
		s.mu.Unlock()
		return nil
	}
	transport := s.transport
	connected := s.tracker.State().Connected()
	if transport == nil || !connected {
		s.rec.SendFailure("not connected", s.clock.Now())
		s.mu.Unlock()
		return ErrNotConnected
	}
	s.mu.Unlock()

	go func() {
		if err := transport.SendUserText(entry.Content); err != nil {
			s.mu.Lock()
			s.rec.SendFailure(err.Error(), s.clock.Now())
			s.mu.Unlock()
			return
		}
		s.mu.Lock()
		s.rec.AcknowledgeTyped(entry.Content, s.clock.Now())
		s.mu.Unlock()
	}()
	return nil
}

// ToggleMicrophone flips the microphone and reports the new setting.
func (s *Session) ToggleMicrophone() (bool, error) {
	s.mu.Lock()
	transport := s.transport
	if transport == nil || !s.tracker.State().Connected() {
		s.mu.Unlock()
		return false, ErrNotConnected
	}
	desired := !s.micEnabled
	s.mu.Unlock()

	if err := transport.EnableMicrophone(desired); err != nil {
		s.sink.Notice(domain.ErrorCodeMicAccess, err.Error())
		return !desired, err
	}

	s.mu.Lock()
	s.micEnabled = desired
	s.mu.Unlock()
	return desired, nil
}

// Reset starts a brand-new conversation: the open thread closes, interim
// tracking clears, and the log returns to the welcome entry.
func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.correlator.Close(CloseReset)
	s.rec.Reset()
	s.log.Reset(s.welcomeEntry())
}

// expireThread is the silence timer callback. The timer may race a close for
// another reason, so the thread id is checked before acting.
func (s *Session) expireThread(threadID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current := s.correlator.Current()
	if current == nil || current.ID != threadID {
		return
	}
	s.correlator.Close(CloseSilence)
}

func (s *Session) applyLocked(next domain.ConnectionState) {
	tr := s.tracker.Apply(next)
	if tr.CloseThread {
		s.correlator.Close(CloseDisconnect)
	}
	if tr.Changed {
		s.logger.Debug().Str("from", string(tr.From)).Str("to", string(tr.To)).Msg("connection state")
		s.sink.ConnectionChanged(next)
	}
	if next.Disconnected() || next.Errored() {
		s.micEnabled = false
	}
}

func (s *Session) welcomeEntry() domain.MessageEntry {
	return domain.MessageEntry{
		ID:        uuid.NewString(),
		ThreadID:  uuid.NewString(),
		Speaker:   domain.SpeakerAssistant,
		Channel:   domain.ChannelTyped,
		Status:    domain.StatusFinal,
		Content:   s.cfg.WelcomeText,
		Timestamp: s.clock.Now(),
	}
}
