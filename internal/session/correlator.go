package session

import (
	"time"

	"github.com/google/uuid"

	"github.com/Allenmylath/dwelling-scribe/internal/ports"
)

// Thread identifies one conversational exchange: a user utterance plus the
// assistant's reply to it.
type Thread struct {
	ID        string
	OpenedAt  time.Time
	ExpiresAt time.Time
}

// CloseReason records why a thread closed.
type CloseReason string

const (
	CloseAnswered   CloseReason = "answered"
	CloseSilence    CloseReason = "silence"
	CloseDisconnect CloseReason = "disconnect"
	CloseReset      CloseReason = "reset"
)

const closedRingSize = 32

// ThreadCorrelator maps speech lifecycle signals and transcripts onto a
// single active thread. At most one thread is open at a time; a silence
// timer auto-closes it when no final arrives. Not safe for concurrent use;
// the session serializes access.
type ThreadCorrelator struct {
	clock   ports.Clock
	timeout time.Duration
	expire  func(threadID string)

	open  *Thread
	timer ports.Timer

	closed   []string
	onClosed func(threadID string, reason CloseReason)
}

// NewThreadCorrelator builds a correlator. expire fires outside any lock
// when the silence window elapses; the caller re-enters through its own
// serialization point and confirms the thread is still open before closing.
func NewThreadCorrelator(clock ports.Clock, timeout time.Duration, expire func(threadID string)) *ThreadCorrelator {
	if timeout <= 0 {
		timeout = 1500 * time.Millisecond
	}
	return &ThreadCorrelator{clock: clock, timeout: timeout, expire: expire}
}

// OnClosed registers the hook invoked whenever a thread closes, with the
// reason. Used by the reconciler to abandon interim entries.
func (c *ThreadCorrelator) OnClosed(fn func(threadID string, reason CloseReason)) {
	c.onClosed = fn
}

// Current returns the open thread, or nil.
func (c *ThreadCorrelator) Current() *Thread { return c.open }

// OpenAt returns the open thread, creating one anchored at the given time
// when none exists. Creation arms the silence timer.
func (c *ThreadCorrelator) OpenAt(at time.Time) *Thread {
	if c.open != nil {
		return c.open
	}
	c.open = &Thread{
		ID:        uuid.NewString(),
		OpenedAt:  at,
		ExpiresAt: at.Add(c.timeout),
	}
	c.arm()
	return c.open
}

// Refresh extends the open thread's silence window. No-op when no thread is
// open.
func (c *ThreadCorrelator) Refresh(at time.Time) {
	if c.open == nil {
		return
	}
	c.open.ExpiresAt = at.Add(c.timeout)
	c.arm()
}

// Close ends the open thread, cancels its silence timer, and remembers its
// id so late events can be identified and dropped.
func (c *ThreadCorrelator) Close(reason CloseReason) {
	if c.open == nil {
		return
	}
	th := c.open
	c.open = nil
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}

	c.closed = append(c.closed, th.ID)
	if len(c.closed) > closedRingSize {
		c.closed = c.closed[len(c.closed)-closedRingSize:]
	}

	if c.onClosed != nil {
		c.onClosed(th.ID, reason)
	}
}

// WasThread reports whether the id belonged to a recently closed thread.
func (c *ThreadCorrelator) WasThread(id string) bool {
	for _, closed := range c.closed {
		if closed == id {
			return true
		}
	}
	return false
}

func (c *ThreadCorrelator) arm() {
	if c.timer != nil {
		c.timer.Stop()
	}
	id := c.open.ID
	wait := c.open.ExpiresAt.Sub(c.clock.Now())
	if wait < 0 {
		wait = 0
	}
	c.timer = c.clock.AfterFunc(wait, func() {
		if c.expire != nil {
			c.expire(id)
		}
	})
}
