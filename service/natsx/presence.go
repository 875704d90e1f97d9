package natsx

import (
	"context"
	"encoding/json"
	"time"

	"PSocial/service/presence"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const headerNode = "Psocial-Node"

// PresenceEvent 发布在 <prefix>.<status> 上
type PresenceEvent struct {
	UserID string `json:"userId"`
	Status string `json:"status"`
	Node   string `json:"node"`
	At     int64  `json:"at"`
}

func Subject(prefix string, status presence.Status) string {
	return prefix + "." + string(status)
}

type Publisher interface {
	Publish(subject string, data []byte, hdr map[string]string) error
}

// PresencePublisher implements presence.StatusWriter over NATS.
type PresencePublisher struct {
	pub    Publisher
	prefix string
	node   string
	now    func() time.Time
}

func NewPresencePublisher(pub Publisher, prefix, node string) *PresencePublisher {
	return &PresencePublisher{pub: pub, prefix: prefix, node: node, now: time.Now}
}

func (p *PresencePublisher) Name() string { return "nats" }

func (p *PresencePublisher) UpdateStatus(ctx context.Context, userID string, status presence.Status) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(PresenceEvent{
		UserID: userID,
		Status: string(status),
		Node:   p.node,
		At:     p.now().UnixMilli(),
	})
	if err != nil {
		return errors.Wrap(err, "encode presence event")
	}
	return p.pub.Publish(Subject(p.prefix, status), data, map[string]string{headerNode: p.node})
}

type Subscriber interface {
	Subscribe(subject string, h Handler) error
}

// SubscribeRemoteOnline calls fn for every online event published by another node.
func SubscribeRemoteOnline(sub Subscriber, prefix, node string, log *zap.Logger, fn func(ev PresenceEvent)) error {
	if log == nil {
		log = zap.NewNop()
	}
	return sub.Subscribe(Subject(prefix, presence.StatusOnline), func(m Message) {
		ev, ok := decodeRemote(m, node)
		if !ok {
			return
		}
		if ev.UserID == "" {
			log.Debug("presence event without user", zap.String("subject", m.Subject))
			return
		}
		fn(ev)
	})
}

func decodeRemote(m Message, node string) (PresenceEvent, bool) {
	if m.Header[headerNode] == node {
		return PresenceEvent{}, false
	}
	var ev PresenceEvent
	if err := json.Unmarshal(m.Data, &ev); err != nil {
		return PresenceEvent{}, false
	}
	if ev.Node == node {
		return PresenceEvent{}, false
	}
	return ev, true
}
