package session

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/Allenmylath/dwelling-scribe/internal/domain"
	"github.com/Allenmylath/dwelling-scribe/internal/ports"
)

// fakeClock drives timers manually so silence windows elapse without real
// delays.
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

type fakeTimer struct {
	clock   *fakeClock
	when    time.Time
	fn      func()
	stopped bool
	fired   bool
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) AfterFunc(d time.Duration, fn func()) ports.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	timer := &fakeTimer{clock: c, when: c.now.Add(d), fn: fn}
	c.timers = append(c.timers, timer)
	return timer
}

// Advance moves the clock and fires due timers outside the clock lock.
func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	var due []*fakeTimer
	for _, timer := range c.timers {
		if !timer.stopped && !timer.fired && !timer.when.After(c.now) {
			timer.fired = true
			due = append(due, timer)
		}
	}
	c.mu.Unlock()

	for _, timer := range due {
		timer.fn()
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.fired || t.stopped {
		return false
	}
	t.stopped = true
	return true
}

type fakeSink struct {
	mu          sync.Mutex
	logChanges  int
	connChanges []domain.ConnectionState
	notices     []noticeEvent
}

type noticeEvent struct {
	code   domain.ErrorCode
	detail string
}

func (f *fakeSink) ConversationChanged() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.logChanges++
}

func (f *fakeSink) ConnectionChanged(state domain.ConnectionState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connChanges = append(f.connChanges, state)
}

func (f *fakeSink) Notice(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, noticeEvent{code: code, detail: detail})
}

func (f *fakeSink) snapshotNotices() []noticeEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]noticeEvent, len(f.notices))
	copy(out, f.notices)
	return out
}

func (f *fakeSink) lastConnChange() (domain.ConnectionState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.connChanges) == 0 {
		return "", false
	}
	return f.connChanges[len(f.connChanges)-1], true
}

type fakeTransport struct {
	events chan ports.TransportEvent
	sent   chan string

	mu          sync.Mutex
	micCalls    []bool
	sendErr     error
	micErr      error
	disconnects int
	closed      bool
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		events: make(chan ports.TransportEvent, 32),
		sent:   make(chan string, 8),
	}
}

func (f *fakeTransport) Disconnect() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.disconnects++
	return nil
}

func (f *fakeTransport) EnableMicrophone(enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.micCalls = append(f.micCalls, enabled)
	return f.micErr
}

func (f *fakeTransport) SendUserText(content string) error {
	f.mu.Lock()
	err := f.sendErr
	f.mu.Unlock()
	if err != nil {
		return err
	}
	f.sent <- content
	return nil
}

func (f *fakeTransport) Events() <-chan ports.TransportEvent { return f.events }

func (f *fakeTransport) Wait() error { return nil }

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

type fakeDialer struct {
	mu         sync.Mutex
	transports []*fakeTransport
	err        error
	calls      int
}

func (f *fakeDialer) Dial(_ context.Context, _ ports.ConnectRequest) (ports.VoiceTransport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	if f.calls >= len(f.transports) {
		return nil, errNoTransport
	}
	transport := f.transports[f.calls]
	f.calls++
	return transport, nil
}

type noSearchResults struct{}

func (noSearchResults) ServerMessage(_ json.RawMessage) {}

var errNoTransport = errors.New("no transport configured")
