package handlers

import (
	"time"

	"PSocial/service/chat"
	"PSocial/service/presence"
)

const (
	EventPing = "ping"
	EventPong = "pong"
)

// PingHandler 应用层心跳，给拿不到协议层 ping/pong 的客户端用
type PingHandler struct {
	Now func() time.Time
}

func (PingHandler) Event() string { return EventPing }

func (h PingHandler) Handle(ctx *chat.Context, _ *chat.Frame) error {
	now := time.Now
	if h.Now != nil {
		now = h.Now
	}
	ctx.Emit(presence.Event{Name: EventPong, Data: map[string]any{"ts": now().UnixMilli()}})
	return nil
}
