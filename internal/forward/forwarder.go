package forward

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/shohag/hookrelay/internal/models"
)

// Bridge is an out-of-process relay able to reach targets the server cannot.
// The relay hub implements it.
type Bridge interface {
	Available(ctx context.Context) bool
	Forward(ctx context.Context, req *models.ForwardRequest) (*models.ForwardResult, error)
}

// Recorder stores forward history.
type Recorder interface {
	CreateForwardAttempt(ctx context.Context, a *models.ForwardAttempt) error
}

// Relay hands the replay to a Bridge, tagging it with a correlation id.
type Relay struct {
	bridge Bridge
}

func NewRelay(bridge Bridge) *Relay {
	return &Relay{bridge: bridge}
}

func (r *Relay) Forward(ctx context.Context, req *models.ForwardRequest) (*models.ForwardResult, error) {
	target, err := ParseTarget(req.TargetURL)
	if err != nil {
		return nil, err
	}
	out := *req
	if out.RequestID == "" {
		out.RequestID = models.NewID("fwd")
	}
	if out.Method == "" {
		out.Method = "POST"
	}

	result, err := r.bridge.Forward(ctx, &out)
	if err != nil {
		return nil, &TransportError{Target: target.String(), Err: err}
	}
	result.Via = models.ViaRelay
	return result, nil
}

// Forwarder picks a strategy per attempt: the relay for local targets when it
// is present, the direct strategy otherwise.
type Forwarder struct {
	direct   Strategy
	relay    *Relay
	bridge   Bridge
	recorder Recorder
	log      zerolog.Logger
}

// New builds a Forwarder. bridge and recorder may be nil.
func New(direct Strategy, bridge Bridge, recorder Recorder, log zerolog.Logger) *Forwarder {
	f := &Forwarder{
		direct:   direct,
		bridge:   bridge,
		recorder: recorder,
		log:      log,
	}
	if bridge != nil {
		f.relay = NewRelay(bridge)
	}
	return f
}

// Forward replays req once. prefer may force a strategy; an empty value lets
// the target address decide. A requested relay that is absent falls back to
// the direct strategy.
func (f *Forwarder) Forward(ctx context.Context, req *models.ForwardRequest, prefer models.ForwardVia) (*models.ForwardResult, error) {
	target, err := ParseTarget(req.TargetURL)
	if err != nil {
		return nil, err
	}

	strategy, via := f.direct, models.ViaDirect
	wantRelay := prefer == models.ViaRelay || (prefer == "" && IsLocalTarget(target))
	if wantRelay && f.relay != nil {
		if f.bridge.Available(ctx) {
			strategy, via = f.relay, models.ViaRelay
		} else {
			f.log.Debug().Str("target", target.String()).Msg("relay not available, forwarding directly")
		}
	}

	start := time.Now()
	result, err := strategy.Forward(ctx, req)
	latency := time.Since(start)

	f.record(ctx, req, via, result, err, latency)

	if err != nil {
		f.log.Warn().
			Err(err).
			Str("request_id", req.RequestID).
			Str("target", target.String()).
			Str("via", string(via)).
			Msg("forward failed")
		return nil, err
	}

	f.log.Info().
		Str("request_id", req.RequestID).
		Str("target", target.String()).
		Str("via", string(via)).
		Int("status_code", result.Status).
		Dur("latency", latency).
		Msg("forward completed")
	return result, nil
}

func (f *Forwarder) record(ctx context.Context, req *models.ForwardRequest, via models.ForwardVia, result *models.ForwardResult, fwdErr error, latency time.Duration) {
	if f.recorder == nil || req.RequestID == "" {
		return
	}
	attempt := &models.ForwardAttempt{
		ID:        models.NewID("fwd"),
		RequestID: req.RequestID,
		TargetURL: req.TargetURL,
		Method:    req.Method,
		Via:       via,
		LatencyMs: latency.Milliseconds(),
		CreatedAt: time.Now().UTC(),
	}
	if attempt.Method == "" {
		attempt.Method = "POST"
	}
	if fwdErr != nil {
		attempt.Error = fwdErr.Error()
	} else {
		attempt.StatusCode = result.Status
		attempt.Error = result.Error
	}
	if err := f.recorder.CreateForwardAttempt(context.WithoutCancel(ctx), attempt); err != nil {
		f.log.Warn().Err(err).Str("request_id", req.RequestID).Msg("failed to record forward attempt")
	}
}
