package session

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Allenmylath/dwelling-scribe/internal/domain"
	"github.com/Allenmylath/dwelling-scribe/internal/ports"
)

type sessionFixture struct {
	clock  *fakeClock
	sink   *fakeSink
	dialer *fakeDialer
	sess   *Session
}

func newSessionFixture(t *testing.T, dialer *fakeDialer) *sessionFixture {
	t.Helper()
	if dialer == nil {
		dialer = &fakeDialer{}
	}
	clock := newFakeClock()
	sink := &fakeSink{}
	sess := NewSession(dialer, sink, noSearchResults{}, clock, zerolog.Nop(), Config{
		SilenceTimeout: 1500 * time.Millisecond,
		WelcomeText:    "Welcome!",
	})
	return &sessionFixture{clock: clock, sink: sink, dialer: dialer, sess: sess}
}

func (f *sessionFixture) goOnline() {
	f.sess.HandleTransportEvent(ports.TransportEvent{Kind: ports.EventStateChanged, State: domain.ConnectionConnecting})
	f.sess.HandleTransportEvent(ports.TransportEvent{Kind: ports.EventBotReady})
}

func (f *sessionFixture) transcript(speaker domain.Speaker, text string, final bool) {
	f.sess.HandleTransportEvent(ports.TransportEvent{
		Kind: ports.EventTranscript,
		Transcript: domain.TranscriptEvent{
			Speaker:   speaker,
			Text:      text,
			Final:     final,
			Timestamp: f.clock.Now(),
		},
	})
}

func spokenEntries(entries []domain.MessageEntry) []domain.MessageEntry {
	var out []domain.MessageEntry
	for _, e := range entries {
		if e.Channel == domain.ChannelSpoken {
			out = append(out, e)
		}
	}
	return out
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestSessionStartsWithWelcomeEntry(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	snapshot := f.sess.Snapshot()
	if len(snapshot) != 1 || snapshot[0].Content != "Welcome!" {
		t.Fatalf("unexpected initial log: %+v", snapshot)
	}
	if f.sess.State() != domain.ConnectionDisconnected {
		t.Fatalf("expected disconnected start, got %s", f.sess.State())
	}
}

func TestSessionSpokenExchangeScenario(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	f.goOnline()
	if !f.sess.State().Connected() {
		t.Fatalf("expected connected state, got %s", f.sess.State())
	}

	f.sess.HandleTransportEvent(ports.TransportEvent{Kind: ports.EventSpeechSignal, Signal: domain.SignalUserStartedSpeaking})
	f.transcript(domain.SpeakerUser, "find", false)
	f.transcript(domain.SpeakerUser, "find me a house", true)

	spoken := spokenEntries(f.sess.Snapshot())
	if len(spoken) != 1 {
		t.Fatalf("expected exactly one user entry, got %d", len(spoken))
	}
	userEntry := spoken[0]
	if userEntry.Status != domain.StatusFinal || userEntry.Content != "find me a house" {
		t.Fatalf("unexpected user entry: %+v", userEntry)
	}

	f.transcript(domain.SpeakerAssistant, "Searching for houses near you.", true)

	spoken = spokenEntries(f.sess.Snapshot())
	if len(spoken) != 2 {
		t.Fatalf("expected user and assistant entries, got %d", len(spoken))
	}
	if spoken[0].ID != userEntry.ID {
		t.Fatalf("assistant reply changed the user entry id")
	}
	if spoken[1].Speaker != domain.SpeakerAssistant || spoken[1].Status != domain.StatusFinal {
		t.Fatalf("unexpected assistant entry: %+v", spoken[1])
	}
}

func TestSessionDisconnectDiscardsInFlight(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	f.goOnline()
	f.transcript(domain.SpeakerUser, "something with a view", false)

	f.sess.HandleTransportEvent(ports.TransportEvent{Kind: ports.EventStateChanged, State: domain.ConnectionDisconnected})

	// The late final races the disconnect and loses.
	f.transcript(domain.SpeakerUser, "something with a view of the bay", true)

	spoken := spokenEntries(f.sess.Snapshot())
	if len(spoken) != 1 {
		t.Fatalf("expected only the abandoned interim, got %d entries", len(spoken))
	}
	if spoken[0].Status != domain.StatusInterim {
		t.Fatalf("interrupted utterance was promoted: %+v", spoken[0])
	}
	if got, ok := f.sink.lastConnChange(); !ok || got != domain.ConnectionDisconnected {
		t.Fatalf("expected disconnect notification, got %v %v", got, ok)
	}
}

func TestSessionSilenceAutoClose(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	f.goOnline()
	f.transcript(domain.SpeakerUser, "anything downtown", false)
	interim := spokenEntries(f.sess.Snapshot())[0]

	f.clock.Advance(100 * time.Millisecond)
	f.transcript(domain.SpeakerUser, "anything downtown under", false)

	// Silence window elapses with no final.
	f.clock.Advance(1500 * time.Millisecond)

	f.transcript(domain.SpeakerUser, "anything downtown under 500k", true)

	spoken := spokenEntries(f.sess.Snapshot())
	if len(spoken) != 2 {
		t.Fatalf("expected abandoned interim plus new final, got %d", len(spoken))
	}
	if spoken[0].ID != interim.ID || spoken[0].Status != domain.StatusInterim {
		t.Fatalf("abandoned interim mutated: %+v", spoken[0])
	}
	if spoken[1].ThreadID == spoken[0].ThreadID {
		t.Fatalf("expired thread was reused")
	}
}

func TestSessionConnectsThroughDialer(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	f := newSessionFixture(t, &fakeDialer{transports: []*fakeTransport{transport}})

	f.sess.ToggleConnection(context.Background())
	waitFor(t, "connecting flag", f.sess.Connecting)

	transport.events <- ports.TransportEvent{Kind: ports.EventStateChanged, State: domain.ConnectionConnecting}
	transport.events <- ports.TransportEvent{Kind: ports.EventStateChanged, State: domain.ConnectionConnected}
	transport.events <- ports.TransportEvent{Kind: ports.EventBotReady}
	waitFor(t, "ready state", func() bool { return f.sess.State() == domain.ConnectionReady })

	if f.sess.Connecting() {
		t.Fatalf("connecting flag should clear on ready")
	}
}

func TestSessionToggleConnectionDialFailure(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, &fakeDialer{err: errors.New("backend down")})

	f.sess.ToggleConnection(context.Background())
	waitFor(t, "error state", func() bool { return f.sess.State().Errored() })

	notices := f.sink.snapshotNotices()
	if len(notices) == 0 || notices[len(notices)-1].code != domain.ErrorCodeTransport {
		t.Fatalf("expected transport notice, got %v", notices)
	}
}

func TestSessionExplicitDisconnect(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	f := newSessionFixture(t, &fakeDialer{transports: []*fakeTransport{transport}})

	f.sess.ToggleConnection(context.Background())
	transport.events <- ports.TransportEvent{Kind: ports.EventBotReady}
	waitFor(t, "ready state", func() bool { return f.sess.State().Connected() })

	f.transcript(domain.SpeakerUser, "still talking", false)

	f.sess.ToggleConnection(context.Background())
	if f.sess.State() != domain.ConnectionDisconnected {
		t.Fatalf("expected immediate disconnected state, got %s", f.sess.State())
	}
	if f.sess.Connecting() {
		t.Fatalf("connecting flag should be cleared by explicit disconnect")
	}
	waitFor(t, "transport disconnect", func() bool {
		transport.mu.Lock()
		defer transport.mu.Unlock()
		return transport.disconnects > 0
	})

	spoken := spokenEntries(f.sess.Snapshot())
	if len(spoken) != 1 || spoken[0].Status != domain.StatusInterim {
		t.Fatalf("in-flight utterance should remain interim: %+v", spoken)
	}
}

func TestSessionSubmitTypedMessageDelivers(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	f := newSessionFixture(t, &fakeDialer{transports: []*fakeTransport{transport}})

	f.sess.ToggleConnection(context.Background())
	transport.events <- ports.TransportEvent{Kind: ports.EventBotReady}
	waitFor(t, "ready state", func() bool { return f.sess.State().Connected() })

	f.transcript(domain.SpeakerUser, "spoken question", false)
	spokenBefore := spokenEntries(f.sess.Snapshot())

	if err := f.sess.SubmitTypedMessage("what about schools?"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	select {
	case sent := <-transport.sent:
		if sent != "what about schools?" {
			t.Fatalf("unexpected payload: %q", sent)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("message never reached transport")
	}

	snapshot := f.sess.Snapshot()
	var typed *domain.MessageEntry
	for i := range snapshot {
		if snapshot[i].Channel == domain.ChannelTyped && snapshot[i].Speaker == domain.SpeakerUser {
			typed = &snapshot[i]
		}
	}
	if typed == nil || typed.Status != domain.StatusFinal {
		t.Fatalf("typed entry missing or not final")
	}
	if typed.ThreadID == spokenBefore[0].ThreadID {
		t.Fatalf("typed message joined the spoken thread")
	}

	spokenAfter := spokenEntries(snapshot)
	if len(spokenAfter) != len(spokenBefore) || spokenAfter[0].ID != spokenBefore[0].ID {
		t.Fatalf("typed message disturbed spoken entries")
	}
}

func TestSessionSubmitTypedMessageNotConnected(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	if err := f.sess.SubmitTypedMessage("hello?"); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}

	snapshot := f.sess.Snapshot()
	// Welcome, the typed attempt, and the visible failure entry.
	if len(snapshot) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(snapshot))
	}
	failure := snapshot[2]
	if failure.Speaker != domain.SpeakerAssistant || failure.Status != domain.StatusFinal {
		t.Fatalf("unexpected failure entry: %+v", failure)
	}
}

func TestSessionSendFailureSurfacesAsEntry(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	transport.sendErr = errors.New("pipe broken")
	f := newSessionFixture(t, &fakeDialer{transports: []*fakeTransport{transport}})

	f.sess.ToggleConnection(context.Background())
	transport.events <- ports.TransportEvent{Kind: ports.EventBotReady}
	waitFor(t, "ready state", func() bool { return f.sess.State().Connected() })

	if err := f.sess.SubmitTypedMessage("is anyone there?"); err != nil {
		t.Fatalf("submit failed: %v", err)
	}

	waitFor(t, "failure entry", func() bool { return len(f.sess.Snapshot()) == 3 })
}

func TestSessionToggleMicrophone(t *testing.T) {
	t.Parallel()

	transport := newFakeTransport()
	f := newSessionFixture(t, &fakeDialer{transports: []*fakeTransport{transport}})

	if _, err := f.sess.ToggleMicrophone(); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected while offline, got %v", err)
	}

	f.sess.ToggleConnection(context.Background())
	transport.events <- ports.TransportEvent{Kind: ports.EventBotReady}
	waitFor(t, "ready state", func() bool { return f.sess.State().Connected() })

	on, err := f.sess.ToggleMicrophone()
	if err != nil || !on {
		t.Fatalf("expected mic on, got %v %v", on, err)
	}
	if !f.sess.MicEnabled() {
		t.Fatalf("mic state not recorded")
	}

	off, err := f.sess.ToggleMicrophone()
	if err != nil || off {
		t.Fatalf("expected mic off, got %v %v", off, err)
	}
}

func TestSessionMicDeniedForcesOff(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	f.goOnline()
	f.sess.HandleTransportEvent(ports.TransportEvent{
		Kind:   ports.EventTransportErr,
		Code:   domain.ErrorCodeMicAccess,
		Detail: "permission denied",
	})

	if f.sess.MicEnabled() {
		t.Fatalf("mic should be forced off on permission error")
	}
	notices := f.sink.snapshotNotices()
	if len(notices) != 1 || notices[0].code != domain.ErrorCodeMicAccess {
		t.Fatalf("expected mic notice, got %v", notices)
	}
}

func TestSessionResetRestoresWelcome(t *testing.T) {
	t.Parallel()

	f := newSessionFixture(t, nil)
	f.goOnline()
	f.transcript(domain.SpeakerUser, "old conversation", true)

	f.sess.Reset()

	snapshot := f.sess.Snapshot()
	if len(snapshot) != 1 || snapshot[0].Content != "Welcome!" {
		t.Fatalf("reset did not restore welcome entry: %+v", snapshot)
	}

	// A fresh exchange starts cleanly after the reset.
	f.transcript(domain.SpeakerUser, "new conversation", true)
	if len(spokenEntries(f.sess.Snapshot())) != 1 {
		t.Fatalf("expected one spoken entry after reset")
	}
}

func TestSessionForwardsServerMessages(t *testing.T) {
	t.Parallel()

	type payloadSink struct {
		ch chan json.RawMessage
	}
	results := payloadSink{ch: make(chan json.RawMessage, 1)}

	clock := newFakeClock()
	sess := NewSession(&fakeDialer{}, &fakeSink{}, resultFunc(func(p json.RawMessage) {
		results.ch <- p
	}), clock, zerolog.Nop(), Config{})

	sess.HandleTransportEvent(ports.TransportEvent{
		Kind:    ports.EventServerMessage,
		Payload: json.RawMessage(`{"listings":3}`),
	})

	select {
	case got := <-results.ch:
		if string(got) != `{"listings":3}` {
			t.Fatalf("unexpected payload: %s", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("server message not forwarded")
	}
}

type resultFunc func(json.RawMessage)

func (f resultFunc) ServerMessage(p json.RawMessage) { f(p) }
