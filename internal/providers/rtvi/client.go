package rtvi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/Allenmylath/dwelling-scribe/internal/domain"
	"github.com/Allenmylath/dwelling-scribe/internal/ports"
)

// Config controls the voice bot websocket connection.
type Config struct {
	BaseURL     string
	APIKey      string
	EventBuffer int
}

// Dialer implements ports.TransportDialer for an RTVI-style voice bot
// backend.
type Dialer struct {
	cfg    Config
	logger zerolog.Logger
}

func NewDialer(cfg Config, logger zerolog.Logger) *Dialer {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.dwelling-scribe.dev/v1"
	}
	if cfg.EventBuffer < 16 {
		cfg.EventBuffer = 64
	}
	return &Dialer{cfg: cfg, logger: logger}
}

func (d *Dialer) Dial(ctx context.Context, req ports.ConnectRequest) (ports.VoiceTransport, error) {
	wsURL, err := buildSessionURL(d.cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	if strings.TrimSpace(d.cfg.APIKey) != "" {
		headers.Set("Authorization", "Bearer "+d.cfg.APIKey)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to voice backend: %w", err)
	}

	c := &client{
		conn:   conn,
		logger: d.logger,
		events: make(chan ports.TransportEvent, d.cfg.EventBuffer),
		out:    make(chan wireMessage, 16),
		done:   make(chan struct{}),
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
	go func() {
		c.wg.Wait()
		close(c.events)
		close(c.done)
		_ = conn.Close()
	}()

	go c.watchContext(ctx)

	if err := c.send(wireMessage{Type: msgSessionRequest, Data: mustMarshal(req)}); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to start session: %w", err)
	}
	return c, nil
}

const (
	msgSessionRequest = "session-request"
	msgUserText       = "user-text"
	msgMicrophone     = "microphone"
	msgDisconnect     = "disconnect"

	msgStateChanged     = "transport-state-changed"
	msgBotReady         = "bot-ready"
	msgUserStarted      = "user-started-speaking"
	msgUserStopped      = "user-stopped-speaking"
	msgAssistantStarted = "bot-started-speaking"
	msgAssistantStopped = "bot-stopped-speaking"
	msgUserTranscript   = "user-transcript"
	msgBotTranscript    = "bot-transcript"
	msgServerMessage    = "server-message"
	msgError            = "error"
)

type wireMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type transcriptData struct {
	Text        string `json:"text"`
	Final       bool   `json:"final"`
	TimestampMS int64  `json:"timestamp,omitempty"`
}

type errorData struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

type client struct {
	conn   *websocket.Conn
	logger zerolog.Logger

	events chan ports.TransportEvent
	out    chan wireMessage
	done   chan struct{}

	wg sync.WaitGroup

	errMu sync.Mutex
	err   error

	closeOnce sync.Once
	sendMu    sync.Mutex
	sendDown  bool
}

func (c *client) Disconnect() error {
	err := c.send(wireMessage{Type: msgDisconnect})
	c.stopSend()
	return err
}

func (c *client) EnableMicrophone(enabled bool) error {
	data, _ := json.Marshal(map[string]bool{"enabled": enabled})
	return c.send(wireMessage{Type: msgMicrophone, Data: data})
}

func (c *client) SendUserText(content string) error {
	if strings.TrimSpace(content) == "" {
		return nil
	}
	data, _ := json.Marshal(map[string]string{"content": content})
	return c.send(wireMessage{Type: msgUserText, Data: data})
}

func (c *client) Events() <-chan ports.TransportEvent { return c.events }

func (c *client) Wait() error {
	<-c.done
	return c.waitErr()
}

func (c *client) Close() error {
	c.closeOnce.Do(func() {
		c.stopSend()
		_ = c.conn.Close()
	})
	<-c.done
	return c.waitErr()
}

// watchContext tears the connection down when the dial context is canceled.
// It must also exit when the connection ends on its own, or a background
// context would pin the goroutine forever.
func (c *client) watchContext(ctx context.Context) {
	select {
	case <-ctx.Done():
		_ = c.Close()
	case <-c.done:
	}
}

func (c *client) send(msg wireMessage) error {
	c.sendMu.Lock()
	down := c.sendDown
	c.sendMu.Unlock()
	if down {
		return errors.New("connection is closed")
	}

	select {
	case c.out <- msg:
		return nil
	case <-c.done:
		if err := c.waitErr(); err != nil {
			return err
		}
		return errors.New("connection is closed")
	}
}

func (c *client) stopSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendDown {
		c.sendDown = true
		close(c.out)
	}
}

func (c *client) waitErr() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *client) setErr(err error) {
	if err == nil {
		return
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	) {
		return
	}

	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *client) writeLoop() {
	defer c.wg.Done()

	for msg := range c.out {
		payload, err := json.Marshal(msg)
		if err != nil {
			c.logger.Debug().Err(err).Str("type", msg.Type).Msg("skipping unencodable frame")
			continue
		}
		if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			c.setErr(fmt.Errorf("failed to send %s: %w", msg.Type, err))
			return
		}
	}

	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
}

func (c *client) readLoop() {
	defer c.wg.Done()

	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.setErr(fmt.Errorf("failed to read voice backend event: %w", err))
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			c.logger.Debug().Err(err).Msg("skipping undecodable frame")
			continue
		}

		ev, ok := decodeEvent(msg, c.logger)
		if !ok {
			continue
		}
		c.emit(ev)
	}
}

func (c *client) emit(ev ports.TransportEvent) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// decodeEvent maps one wire frame to a transport event. Unknown and
// malformed frames are skipped with a diagnostic log, never an error.
func decodeEvent(msg wireMessage, logger zerolog.Logger) (ports.TransportEvent, bool) {
	switch msg.Type {
	case msgStateChanged:
		var data struct {
			State string `json:"state"`
		}
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			logger.Debug().Err(err).Msg("skipping malformed state change")
			return ports.TransportEvent{}, false
		}
		state, ok := connectionState(data.State)
		if !ok {
			logger.Debug().Str("state", data.State).Msg("skipping unknown transport state")
			return ports.TransportEvent{}, false
		}
		return ports.TransportEvent{Kind: ports.EventStateChanged, State: state}, true

	case msgBotReady:
		return ports.TransportEvent{Kind: ports.EventBotReady}, true

	case msgUserStarted:
		return signalEvent(domain.SignalUserStartedSpeaking), true
	case msgUserStopped:
		return signalEvent(domain.SignalUserStoppedSpeaking), true
	case msgAssistantStarted:
		return signalEvent(domain.SignalAssistantStartedSpeaking), true
	case msgAssistantStopped:
		return signalEvent(domain.SignalAssistantStoppedSpeaking), true

	case msgUserTranscript:
		return transcriptEvent(domain.SpeakerUser, msg.Data, logger)
	case msgBotTranscript:
		return transcriptEvent(domain.SpeakerAssistant, msg.Data, logger)

	case msgServerMessage:
		return ports.TransportEvent{Kind: ports.EventServerMessage, Payload: msg.Data}, true

	case msgError:
		var data errorData
		if err := json.Unmarshal(msg.Data, &data); err != nil {
			logger.Debug().Err(err).Msg("skipping malformed error frame")
			return ports.TransportEvent{}, false
		}
		return ports.TransportEvent{
			Kind:   ports.EventTransportErr,
			Code:   domain.ErrorCode(data.Code),
			Detail: data.Message,
		}, true

	default:
		logger.Debug().Str("type", msg.Type).Msg("skipping unknown frame type")
		return ports.TransportEvent{}, false
	}
}

func signalEvent(sig domain.SpeechSignal) ports.TransportEvent {
	return ports.TransportEvent{Kind: ports.EventSpeechSignal, Signal: sig}
}

func transcriptEvent(speaker domain.Speaker, data json.RawMessage, logger zerolog.Logger) (ports.TransportEvent, bool) {
	var td transcriptData
	if err := json.Unmarshal(data, &td); err != nil {
		logger.Debug().Err(err).Str("speaker", string(speaker)).Msg("skipping malformed transcript")
		return ports.TransportEvent{}, false
	}
	ev := domain.TranscriptEvent{Speaker: speaker, Text: td.Text, Final: td.Final}
	if td.TimestampMS > 0 {
		ev.Timestamp = time.UnixMilli(td.TimestampMS)
	}
	return ports.TransportEvent{Kind: ports.EventTranscript, Transcript: ev}, true
}

func connectionState(raw string) (domain.ConnectionState, bool) {
	switch domain.ConnectionState(raw) {
	case domain.ConnectionDisconnected, domain.ConnectionInitializing,
		domain.ConnectionInitialized, domain.ConnectionAuthenticating,
		domain.ConnectionAuthenticated, domain.ConnectionConnecting,
		domain.ConnectionConnected, domain.ConnectionReady, domain.ConnectionError:
		return domain.ConnectionState(raw), true
	}
	return "", false
}

func buildSessionURL(base string) (string, error) {
	base = strings.TrimSpace(base)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	sessionURL, err := url.Parse(base + "/session")
	if err != nil {
		return "", fmt.Errorf("invalid voice backend base URL: %w", err)
	}
	return sessionURL.String(), nil
}

func mustMarshal(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		return json.RawMessage("{}")
	}
	return data
}
