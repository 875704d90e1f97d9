package presence

import (
	"PSocial/service/metrics"

	"go.uber.org/zap"
)

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "ice-candidate"
)

// Envelope is one signaling message addressed to a user id.
// Payload is forwarded unchanged.
type Envelope struct {
	From     Conn
	FromUser string
	To       string
	Kind     SignalKind
	Payload  any
}

// Relay 只做路由：按目标 userID 查注册表，找到就转发，找不到就丢（不报错给发送方）。
type Relay struct {
	registry *Registry
	log      *zap.Logger
	metrics  *metrics.Metrics
}

func NewRelay(registry *Registry, log *zap.Logger, m *metrics.Metrics) *Relay {
	if log == nil {
		log = zap.NewNop()
	}
	return &Relay{registry: registry, log: log, metrics: m}
}

// Relay delivers env to the recipient's current connection. It returns
// false when the recipient is offline, is the sender itself, or the
// connection refused the frame.
func (r *Relay) Relay(env Envelope) bool {
	target, ok := r.registry.Lookup(env.To)
	if !ok {
		r.log.Debug("signal dropped: recipient offline",
			zap.String("kind", string(env.Kind)), zap.String("to", env.To))
		r.metrics.Signal(string(env.Kind), false)
		return false
	}
	if target == env.From {
		r.log.Debug("signal dropped: addressed to sender",
			zap.String("kind", string(env.Kind)), zap.String("to", env.To))
		r.metrics.Signal(string(env.Kind), false)
		return false
	}

	if err := target.Emit(outbound(env)); err != nil {
		r.log.Warn("signal dropped: recipient queue refused",
			zap.String("kind", string(env.Kind)), zap.String("to", env.To),
			zap.String("conn", target.ID()), zap.Error(err))
		r.metrics.Signal(string(env.Kind), false)
		return false
	}
	r.metrics.Signal(string(env.Kind), true)
	return true
}

func outbound(env Envelope) Event {
	from := ""
	if env.From != nil {
		from = env.From.ID()
	}
	data := map[string]any{
		"from":       from,
		"fromUserId": env.FromUser,
	}
	var name string
	switch env.Kind {
	case SignalOffer:
		name = EventIncomingCall
		data["offer"] = env.Payload
	case SignalAnswer:
		name = EventCallAnswered
		data["answer"] = env.Payload
	default:
		name = EventIceCandidate
		data["candidate"] = env.Payload
	}
	return Event{Name: name, Data: data}
}
