package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"github.com/shohag/hookrelay/internal/models"
	"github.com/shohag/hookrelay/internal/signing"
)

const (
	DefaultProbeTimeout    = 500 * time.Millisecond
	DefaultHeartbeatWindow = 10 * time.Second
	DefaultForwardTimeout  = 30 * time.Second

	maxHandshakeSkew = 5 * time.Minute
)

type HubConfig struct {
	Secret          string
	ProbeTimeout    time.Duration
	HeartbeatWindow time.Duration
	ForwardTimeout  time.Duration
}

// session is one connected agent.
type session struct {
	conn    *websocket.Conn
	agentID string
	done    chan struct{}
}

// Hub is the server side of the relay channel. It accepts a single agent
// connection and implements forward.Bridge on top of it.
type Hub struct {
	cfg HubConfig
	log zerolog.Logger

	mu       sync.Mutex
	current  *session
	pending  map[string]chan *models.ForwardResult
	lastSeen time.Time
	loaded   chan struct{}

	probes singleflight.Group
	seq    atomic.Uint64
}

func NewHub(cfg HubConfig, log zerolog.Logger) *Hub {
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = DefaultProbeTimeout
	}
	if cfg.HeartbeatWindow <= 0 {
		cfg.HeartbeatWindow = DefaultHeartbeatWindow
	}
	if cfg.ForwardTimeout <= 0 {
		cfg.ForwardTimeout = DefaultForwardTimeout
	}
	return &Hub{
		cfg:     cfg,
		log:     log.With().Str("component", "relay-hub").Logger(),
		pending: make(map[string]chan *models.ForwardResult),
		loaded:  make(chan struct{}),
	}
}

// ServeHTTP upgrades an agent connection and pumps its messages until it
// disconnects. A new agent replaces the previous one.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	agentID := r.Header.Get(HeaderAgentID)
	if !h.authorized(r, agentID) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid relay signature"}`))
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("relay upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageBytes)

	s := &session{conn: conn, agentID: agentID, done: make(chan struct{})}
	h.attach(s)
	defer h.detach(s)

	h.log.Info().Str("agent", agentID).Msg("relay agent connected")
	h.readPump(r.Context(), s)
}

func (h *Hub) authorized(r *http.Request, agentID string) bool {
	if h.cfg.Secret == "" {
		return true
	}
	ts, err := strconv.ParseInt(r.Header.Get(HeaderTimestamp), 10, 64)
	if err != nil {
		return false
	}
	return signing.VerifyFresh(h.cfg.Secret, []byte(agentID), ts, r.Header.Get(HeaderSignature), maxHandshakeSkew)
}

func (h *Hub) attach(s *session) {
	h.mu.Lock()
	prev := h.current
	h.current = s
	h.lastSeen = time.Time{}
	h.mu.Unlock()

	if prev != nil {
		go prev.conn.Close(websocket.StatusPolicyViolation, "replaced by a newer agent") //nolint:errcheck
	}
}

func (h *Hub) detach(s *session) {
	close(s.done)
	_ = s.conn.CloseNow()

	h.mu.Lock()
	if h.current == s {
		h.current = nil
		h.lastSeen = time.Time{}
	}
	h.mu.Unlock()

	h.log.Info().Str("agent", s.agentID).Msg("relay agent disconnected")
}

func (h *Hub) readPump(ctx context.Context, s *session) {
	for {
		var msg Message
		if err := wsjson.Read(ctx, s.conn, &msg); err != nil {
			if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
				h.log.Debug().Err(err).Str("agent", s.agentID).Msg("relay read ended")
			}
			return
		}

		switch msg.Type {
		case TypeLoaded:
			h.markSeen()
		case TypeForwardResponse:
			var result models.ForwardResult
			if err := json.Unmarshal(msg.Payload, &result); err != nil {
				h.log.Warn().Err(err).Msg("malformed forward response from relay")
				continue
			}
			h.markSeen()
			h.deliver(&result)
		default:
			h.log.Debug().Str("type", string(msg.Type)).Msg("ignoring relay message")
		}
	}
}

func (h *Hub) markSeen() {
	h.mu.Lock()
	h.lastSeen = time.Now()
	close(h.loaded)
	h.loaded = make(chan struct{})
	h.mu.Unlock()
}

func (h *Hub) deliver(result *models.ForwardResult) {
	h.mu.Lock()
	ch, ok := h.pending[result.RequestID]
	h.mu.Unlock()
	if !ok {
		h.log.Debug().Str("request_id", result.RequestID).Msg("dropping relay response with no waiting forward")
		return
	}
	select {
	case ch <- result:
	default:
	}
}

// Connected reports whether an agent session is open.
func (h *Hub) Connected() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.current != nil
}

// Available reports whether the agent answers. A recent heartbeat counts as an
// answer; otherwise one ping is sent and concurrent callers share its result.
func (h *Hub) Available(ctx context.Context) bool {
	h.mu.Lock()
	s := h.current
	fresh := !h.lastSeen.IsZero() && time.Since(h.lastSeen) < h.cfg.HeartbeatWindow
	h.mu.Unlock()

	if s == nil {
		return false
	}
	if fresh {
		return true
	}

	ch := h.probes.DoChan("probe", func() (interface{}, error) {
		return h.probe(s), nil
	})
	select {
	case res := <-ch:
		return res.Val.(bool)
	case <-ctx.Done():
		return false
	}
}

func (h *Hub) probe(s *session) bool {
	h.mu.Lock()
	loaded := h.loaded
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.ProbeTimeout)
	defer cancel()

	if err := wsjson.Write(ctx, s.conn, Message{Type: TypePing}); err != nil {
		return false
	}

	select {
	case <-loaded:
		return true
	case <-s.done:
		return false
	case <-ctx.Done():
		h.log.Debug().Str("agent", s.agentID).Msg("relay probe timed out")
		return false
	}
}

// Forward sends req to the agent and waits for the matching response. Each
// call gets its own wire id, "<requestId>:<n>", so the same capture can be in
// flight more than once.
func (h *Hub) Forward(ctx context.Context, req *models.ForwardRequest) (*models.ForwardResult, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.ForwardTimeout)
	defer cancel()

	wire := *req
	wire.RequestID = fmt.Sprintf("%s:%d", req.RequestID, h.seq.Add(1))
	ch := make(chan *models.ForwardResult, 1)

	h.mu.Lock()
	s := h.current
	if s == nil {
		h.mu.Unlock()
		return nil, ErrNotConnected
	}
	h.pending[wire.RequestID] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, wire.RequestID)
		h.mu.Unlock()
	}()

	msg, err := newMessage(TypeForwardRequest, &wire)
	if err != nil {
		return nil, err
	}
	if err := wsjson.Write(ctx, s.conn, msg); err != nil {
		return nil, err
	}

	select {
	case result := <-ch:
		if !result.Success && result.Status == 0 {
			return nil, errors.New(result.Error)
		}
		result.RequestID = req.RequestID
		return result, nil
	case <-s.done:
		return nil, ErrAgentGone
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close disconnects the current agent, if any.
func (h *Hub) Close() {
	h.mu.Lock()
	s := h.current
	h.mu.Unlock()
	if s != nil {
		_ = s.conn.Close(websocket.StatusGoingAway, "server shutting down")
	}
}
