package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"github.com/shohag/hookrelay/internal/forward"
	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/signing"
)

const (
	DefaultReconnectDelay = 3 * time.Second
	DefaultAgentWorkers   = 8
)

type AgentConfig struct {
	HubURL         string
	AgentID        string
	Secret         string
	Workers        int
	ReconnectDelay time.Duration
}

// Agent is the client side of the relay channel. It runs next to the targets
// the server cannot reach and replays forwards on its behalf.
type Agent struct {
	cfg      AgentConfig
	strategy forward.Strategy
	log      zerolog.Logger
}

func NewAgent(cfg AgentConfig, strategy forward.Strategy, log zerolog.Logger) *Agent {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultAgentWorkers
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = DefaultReconnectDelay
	}
	if cfg.AgentID == "" {
		cfg.AgentID = models.NewID("agent")
	}
	return &Agent{
		cfg:      cfg,
		strategy: strategy,
		log:      log.With().Str("component", "relay-agent").Str("agent", cfg.AgentID).Logger(),
	}
}

// Run keeps a connection to the hub open until ctx ends.
func (a *Agent) Run(ctx context.Context) error {
	for {
		err := a.serve(ctx)
		if ctx.Err() != nil {
			return nil
		}
		a.log.Warn().Err(err).Dur("retry_in", a.cfg.ReconnectDelay).Msg("relay connection lost")

		select {
		case <-ctx.Done():
			return nil
		case <-time.After(a.cfg.ReconnectDelay):
		}
	}
}

func (a *Agent) dialHeaders() http.Header {
	h := http.Header{}
	h.Set(HeaderAgentID, a.cfg.AgentID)
	if a.cfg.Secret != "" {
		sig, ts := signing.Sign(a.cfg.Secret, []byte(a.cfg.AgentID))
		h.Set(HeaderTimestamp, strconv.FormatInt(ts, 10))
		h.Set(HeaderSignature, sig)
	}
	return h
}

func (a *Agent) serve(ctx context.Context) error {
	conn, resp, err := websocket.Dial(ctx, a.cfg.HubURL, &websocket.DialOptions{HTTPHeader: a.dialHeaders()})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dialing hub: %w", err)
	}
	defer conn.CloseNow()
	conn.SetReadLimit(maxMessageBytes)

	a.log.Info().Str("hub", a.cfg.HubURL).Msg("connected to relay hub")

	// Writes from concurrent forwards share the connection.
	var writeMu sync.Mutex
	send := func(msg Message) error {
		writeMu.Lock()
		defer writeMu.Unlock()
		return wsjson.Write(ctx, conn, msg)
	}

	if err := send(Message{Type: TypeLoaded}); err != nil {
		return fmt.Errorf("announcing agent: %w", err)
	}

	var wg conc.WaitGroup
	defer func() {
		if r := wg.WaitAndRecover(); r != nil {
			a.log.Error().Str("panic", r.String()).Msg("forward worker panicked")
		}
	}()

	sem := make(chan struct{}, a.cfg.Workers)

	for {
		var msg Message
		if err := wsjson.Read(ctx, conn, &msg); err != nil {
			if websocket.CloseStatus(err) == websocket.StatusNormalClosure || errors.Is(err, context.Canceled) {
				return nil
			}
			return err
		}

		switch msg.Type {
		case TypePing:
			if err := send(Message{Type: TypeLoaded}); err != nil {
				return err
			}
		case TypeForwardRequest:
			var req models.ForwardRequest
			if err := json.Unmarshal(msg.Payload, &req); err != nil {
				a.log.Warn().Err(err).Msg("malformed forward request from hub")
				continue
			}
			// Taken inside the worker: the read loop must keep answering pings.
			wg.Go(func() {
				select {
				case sem <- struct{}{}:
				case <-ctx.Done():
					return
				}
				defer func() { <-sem }()
				a.reply(ctx, send, &req)
			})
		default:
			a.log.Debug().Str("type", string(msg.Type)).Msg("ignoring hub message")
		}
	}
}

func (a *Agent) reply(ctx context.Context, send func(Message) error, req *models.ForwardRequest) {
	result, err := a.strategy.Forward(ctx, req)
	if err != nil {
		result = &models.ForwardResult{RequestID: req.RequestID, Error: err.Error(), Via: models.ViaRelay}
	}
	result.RequestID = req.RequestID

	a.log.Debug().
		Str("request_id", req.RequestID).
		Str("target", req.TargetURL).
		Int("status_code", result.Status).
		Msg("relayed forward")

	msg, err := newMessage(TypeForwardResponse, result)
	if err != nil {
		a.log.Error().Err(err).Str("request_id", req.RequestID).Msg("failed to encode forward response")
		return
	}
	if err := send(msg); err != nil {
		a.log.Warn().Err(err).Str("request_id", req.RequestID).Msg("failed to send forward response")
	}
}
