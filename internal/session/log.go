package session

import (
	"github.com/Allenmylath/dwelling-scribe/internal/domain"
)

// MessageLog is the ordered store of conversation entries. Entries are
// appended or replaced in place, never reordered: display order follows the
// insertion sequence, not timestamps, so racing events cannot reshuffle the
// view. Not safe for concurrent use; the session serializes access.
type MessageLog struct {
	entries []domain.MessageEntry
	index   map[string]int
	nextSeq uint64

	onChange func()
}

func NewMessageLog(onChange func()) *MessageLog {
	return &MessageLog{index: make(map[string]int), nextSeq: 1, onChange: onChange}
}

// Append inserts a new entry, assigning its sequence number, and returns the
// stored value.
func (l *MessageLog) Append(entry domain.MessageEntry) domain.MessageEntry {
	entry.Sequence = l.nextSeq
	l.nextSeq++
	l.index[entry.ID] = len(l.entries)
	l.entries = append(l.entries, entry)
	l.notify()
	return entry
}

// Replace mutates the entry with the given id in place. Sequence and ID are
// preserved regardless of what mutate does. Returns false when the id is
// unknown.
func (l *MessageLog) Replace(id string, mutate func(*domain.MessageEntry)) bool {
	pos, ok := l.index[id]
	if !ok {
		return false
	}
	entry := &l.entries[pos]
	seq := entry.Sequence
	mutate(entry)
	entry.ID = id
	entry.Sequence = seq
	l.notify()
	return true
}

// Get returns a copy of the entry with the given id.
func (l *MessageLog) Get(id string) (domain.MessageEntry, bool) {
	pos, ok := l.index[id]
	if !ok {
		return domain.MessageEntry{}, false
	}
	return l.entries[pos], true
}

// Len returns the number of entries.
func (l *MessageLog) Len() int { return len(l.entries) }

// Snapshot returns the entries in display order.
func (l *MessageLog) Snapshot() []domain.MessageEntry {
	out := make([]domain.MessageEntry, len(l.entries))
	copy(out, l.entries)
	return out
}

// Reset clears the log back to the given initial entries. Sequence numbering
// restarts; used only when the user starts a brand-new conversation.
func (l *MessageLog) Reset(initial ...domain.MessageEntry) {
	l.entries = l.entries[:0]
	l.index = make(map[string]int)
	l.nextSeq = 1
	for _, entry := range initial {
		entry.Sequence = l.nextSeq
		l.nextSeq++
		l.index[entry.ID] = len(l.entries)
		l.entries = append(l.entries, entry)
	}
	l.notify()
}

func (l *MessageLog) notify() {
	if l.onChange != nil {
		l.onChange()
	}
}
