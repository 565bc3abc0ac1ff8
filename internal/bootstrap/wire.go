package bootstrap

import (
	"github.com/rs/zerolog"

	"github.com/Allenmylath/dwelling-scribe/internal/config"
	"github.com/Allenmylath/dwelling-scribe/internal/ports"
	"github.com/Allenmylath/dwelling-scribe/internal/providers/rtvi"
	"github.com/Allenmylath/dwelling-scribe/internal/session"
)

// Services is the assembled runtime graph.
type Services struct {
	Session *session.Session
	Config  config.Config
}

// Build wires all backend dependencies for the current runtime.
func Build(sink ports.EventSink, results ports.SearchResultSink, logger zerolog.Logger) (Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return Services{}, err
	}

	dialer := rtvi.NewDialer(rtvi.Config{
		BaseURL:     cfg.Backend.BaseURL,
		APIKey:      cfg.Backend.APIKey,
		EventBuffer: cfg.Backend.EventBuffer,
	}, logger)

	var ack session.AckPolicy = session.NoAck{}
	if cfg.Session.TypedAckReply != "" {
		ack = session.StaticAck{Reply: cfg.Session.TypedAckReply}
	}

	sess := session.NewSession(dialer, sink, results, ports.SystemClock{}, logger, session.Config{
		SilenceTimeout: cfg.Session.SilenceTimeout,
		WelcomeText:    cfg.Session.WelcomeText,
		Connect: ports.ConnectRequest{
			AgentID:  cfg.Agent.AgentID,
			Location: cfg.Agent.Location,
		},
		Ack: ack,
	})

	return Services{Session: sess, Config: cfg}, nil
}
