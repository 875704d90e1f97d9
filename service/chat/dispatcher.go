package chat

import (
	"PSocial/service/presence"
	"PSocial/tools/errs"

	"go.uber.org/zap"
)

// Context 是一次事件处理可见的连接状态
type Context struct {
	Manager *presence.Manager
	Session *presence.Session
	Client  *Client
	// TokenUser 握手时 token 里的用户，只有开启 ws_require_token 时才有值
	TokenUser string
	Log       *zap.Logger
}

// Emit replies on the originating connection.
func (c *Context) Emit(ev presence.Event) {
	if err := c.Client.Emit(ev); err != nil {
		c.Log.Debug("reply dropped", zap.String("event", ev.Name), zap.Error(err))
	}
}

type Handler interface {
	Event() string
	Handle(ctx *Context, f *Frame) error
}

type HandlerFunc struct {
	Name string
	Fn   func(ctx *Context, f *Frame) error
}

func (h HandlerFunc) Event() string                       { return h.Name }
func (h HandlerFunc) Handle(ctx *Context, f *Frame) error { return h.Fn(ctx, f) }

type Dispatcher struct {
	handlers map[string]Handler
}

func NewDispatcher() *Dispatcher {
	return &Dispatcher{handlers: make(map[string]Handler)}
}

// Register must be called before the server starts accepting connections.
func (d *Dispatcher) Register(h Handler) { d.handlers[h.Event()] = h }

func (d *Dispatcher) GetHandler(event string) (Handler, bool) {
	h, ok := d.handlers[event]
	return h, ok
}

func (d *Dispatcher) Dispatch(ctx *Context, f *Frame) error {
	h, ok := d.handlers[f.Event]
	if !ok {
		return errs.ErrUnknownEvent.WithDetail(f.Event)
	}
	return h.Handle(ctx, f)
}
