package session

import "github.com/Allenmylath/dwelling-scribe/internal/domain"

// Transition describes the outcome of applying a transport state change.
type Transition struct {
	From    domain.ConnectionState
	To      domain.ConnectionState
	Changed bool

	// CloseThread is set when the open thread must be force-closed and its
	// pending interim entries abandoned.
	CloseThread bool
}

// ConnectionTracker owns the transport lifecycle state. Transitions come
// exclusively from transport notifications; the tracker never advances on
// its own.
type ConnectionTracker struct {
	state         domain.ConnectionState
	userInitiated bool
}

func NewConnectionTracker() *ConnectionTracker {
	return &ConnectionTracker{state: domain.ConnectionDisconnected}
}

// State returns the current transport state.
func (t *ConnectionTracker) State() domain.ConnectionState { return t.state }

// BeginUserConnect marks a user-initiated connect attempt in flight. The
// flag clears when the transport reaches a terminal state.
func (t *ConnectionTracker) BeginUserConnect() { t.userInitiated = true }

// ClearUserConnect drops the pending-connect flag, used on explicit
// disconnect requests.
func (t *ConnectionTracker) ClearUserConnect() { t.userInitiated = false }

// UserConnectPending reports whether a user-initiated connect is in flight.
func (t *ConnectionTracker) UserConnectPending() bool { return t.userInitiated }

// Apply records a transport-originated state change and reports what the
// session must do about it. Entering disconnected or error closes the open
// thread: an interrupted utterance was never confirmed, so its interim
// entries are abandoned rather than promoted.
func (t *ConnectionTracker) Apply(next domain.ConnectionState) Transition {
	tr := Transition{From: t.state, To: next, Changed: next != t.state}
	t.state = next

	if next.Disconnected() || next.Errored() {
		tr.CloseThread = true
		t.userInitiated = false
	}
	if next == domain.ConnectionReady {
		t.userInitiated = false
	}
	return tr
}
