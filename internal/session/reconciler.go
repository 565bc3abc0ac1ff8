package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/Allenmylath/dwelling-scribe/internal/domain"
)

// AckPolicy decides whether a successfully sent typed message gets a
// synthetic assistant acknowledgment. The real reply arrives on the
// transcript channel, so the default policy is off; enabling one risks a
// double response.
type AckPolicy interface {
	Acknowledge(content string) (reply string, ok bool)
}

// NoAck never acknowledges. This is the default.
type NoAck struct{}

func (NoAck) Acknowledge(string) (string, bool) { return "", false }

// StaticAck replies with a fixed line. Demo scaffolding for running without
// a live assistant.
type StaticAck struct {
	Reply string
}

func (a StaticAck) Acknowledge(string) (string, bool) { return a.Reply, true }

type interimKey struct {
	threadID string
	speaker  domain.Speaker
}

// Reconciler merges interim/final transcripts and typed messages into the
// message log. Entry identity is resolved here and nowhere else, so
// concurrent interim+final delivery cannot mint duplicate entries. Not safe
// for concurrent use; the session serializes access.
type Reconciler struct {
	correlator *ThreadCorrelator
	log        *MessageLog
	logger     zerolog.Logger
	ack        AckPolicy

	// interim tracks the single provisional entry per (thread, speaker).
	// Typed messages never appear here.
	interim map[interimKey]string

	// lastAnswer remembers the assistant final that closed the most recent
	// thread, so a redelivery of that frame can be recognized and dropped.
	lastAnswer answerRecord
}

type answerRecord struct {
	threadID string
	content  string
}

func NewReconciler(correlator *ThreadCorrelator, log *MessageLog, logger zerolog.Logger, ack AckPolicy) *Reconciler {
	if ack == nil {
		ack = NoAck{}
	}
	r := &Reconciler{
		correlator: correlator,
		log:        log,
		logger:     logger,
		ack:        ack,
		interim:    make(map[interimKey]string),
	}
	correlator.OnClosed(r.threadClosed)
	return r
}

// IngestSignal applies a speech lifecycle signal. Only the user's
// started-speaking signal opens a thread eagerly; everything else resolves
// lazily from transcripts.
func (r *Reconciler) IngestSignal(sig domain.SpeechSignal, now time.Time) {
	if sig == domain.SignalUserStartedSpeaking {
		th := r.correlator.OpenAt(now)
		r.logger.Debug().Str("thread", th.ID).Msg("user speech opened thread")
	}
}

// IngestTranscript merges one recognition result into the log. Returns true
// when the log changed.
func (r *Reconciler) IngestTranscript(ev domain.TranscriptEvent, now time.Time) bool {
	text := strings.TrimSpace(ev.Text)
	if text == "" {
		return false
	}
	at := ev.Timestamp
	if at.IsZero() {
		at = now
	}

	th := r.correlator.Current()
	if th == nil {
		if r.isRedeliveredAnswer(ev, text) {
			r.logger.Debug().Str("thread", r.lastAnswer.threadID).
				Msg("dropping redelivered assistant final")
			return false
		}
		th = r.correlator.OpenAt(at)
	} else if !ev.Final {
		r.correlator.Refresh(now)
	}

	key := interimKey{threadID: th.ID, speaker: ev.Speaker}
	if id, ok := r.interim[key]; ok {
		r.log.Replace(id, func(e *domain.MessageEntry) {
			e.Content = text
			e.Timestamp = at
			if ev.Final {
				e.Status = domain.StatusFinal
			}
		})
		if ev.Final {
			delete(r.interim, key)
		}
	} else {
		status := domain.StatusInterim
		if ev.Final {
			status = domain.StatusFinal
		}
		entry := r.log.Append(domain.MessageEntry{
			ID:        uuid.NewString(),
			ThreadID:  th.ID,
			Speaker:   ev.Speaker,
			Channel:   domain.ChannelSpoken,
			Status:    status,
			Content:   text,
			Timestamp: at,
		})
		if !ev.Final {
			r.interim[key] = entry.ID
		}
	}

	// The assistant's final answers the exchange.
	if ev.Final && ev.Speaker == domain.SpeakerAssistant {
		r.lastAnswer = answerRecord{threadID: th.ID, content: text}
		r.correlator.Close(CloseAnswered)
	}
	return true
}

// isRedeliveredAnswer reports whether the event repeats the final that closed
// the most recent thread. Anything else arriving with no open thread starts a
// new exchange, including the assistant's answer to a silence-closed turn.
func (r *Reconciler) isRedeliveredAnswer(ev domain.TranscriptEvent, text string) bool {
	return ev.Final &&
		ev.Speaker == domain.SpeakerAssistant &&
		text == r.lastAnswer.content &&
		r.correlator.WasThread(r.lastAnswer.threadID)
}

// SubmitTyped inserts a typed user message. Typed messages are always final
// and live on a freshly minted thread, never the open spoken one.
func (r *Reconciler) SubmitTyped(content string, now time.Time) (domain.MessageEntry, bool) {
	text := strings.TrimSpace(content)
	if text == "" {
		return domain.MessageEntry{}, false
	}
	entry := r.log.Append(domain.MessageEntry{
		ID:        uuid.NewString(),
		ThreadID:  uuid.NewString(),
		Speaker:   domain.SpeakerUser,
		Channel:   domain.ChannelTyped,
		Status:    domain.StatusFinal,
		Content:   text,
		Timestamp: now,
	})
	return entry, true
}

// AcknowledgeTyped applies the ack policy after a successful send.
func (r *Reconciler) AcknowledgeTyped(content string, now time.Time) {
	reply, ok := r.ack.Acknowledge(content)
	if !ok {
		return
	}
	r.log.Append(domain.MessageEntry{
		ID:        uuid.NewString(),
		ThreadID:  uuid.NewString(),
		Speaker:   domain.SpeakerAssistant,
		Channel:   domain.ChannelTyped,
		Status:    domain.StatusFinal,
		Content:   reply,
		Timestamp: now,
	})
}

// SendFailure records a delivery failure as a visible assistant-attributed
// entry on its own one-off thread.
func (r *Reconciler) SendFailure(detail string, now time.Time) {
	content := "Your message could not be delivered. Please try again."
	if detail != "" {
		content = content + " (" + detail + ")"
	}
	r.log.Append(domain.MessageEntry{
		ID:        uuid.NewString(),
		ThreadID:  uuid.NewString(),
		Speaker:   domain.SpeakerAssistant,
		Channel:   domain.ChannelTyped,
		Status:    domain.StatusFinal,
		Content:   content,
		Timestamp: now,
	})
}

// threadClosed abandons the thread's interim entries: a close without a
// final means the utterance was never confirmed, so the entries stay
// interim and lose mutation eligibility. A later final starts a fresh
// thread instead of resolving here.
func (r *Reconciler) threadClosed(threadID string, reason CloseReason) {
	for key := range r.interim {
		if key.threadID == threadID {
			delete(r.interim, key)
		}
	}
	r.logger.Debug().Str("thread", threadID).Str("reason", string(reason)).Msg("thread closed")
}

// Reset drops all interim tracking, used when the conversation restarts.
func (r *Reconciler) Reset() {
	r.interim = make(map[interimKey]string)
	r.lastAnswer = answerRecord{}
}
