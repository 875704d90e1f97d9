package chat

import (
	"net"
	"net/http"
	"time"

	"PSocial/middleware"
	midsec "PSocial/middleware/security"
	"PSocial/service/presence"
	"PSocial/tools/errs"
	"PSocial/tools/ids"
	"PSocial/tools/safe"
	"PSocial/tools/security"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

type ServerConf struct {
	Client          ClientConf
	IdentifyTimeout time.Duration
	AllowedOrigins  []string
	// RequireToken 为 true 时握手必须带合法 JWT，且 userOnline 的 userId 必须与 token 一致
	RequireToken bool
	Auth         security.Options
}

type Server struct {
	conf     ServerConf
	manager  *presence.Manager
	disp     *Dispatcher
	upgrader websocket.Upgrader
	log      *zap.Logger
}

func NewServer(conf ServerConf, manager *presence.Manager, disp *Dispatcher, log *zap.Logger) *Server {
	safe.MustNotNil(manager, "manager")
	if log == nil {
		log = zap.NewNop()
	}
	if disp == nil {
		disp = NewDispatcher()
	}
	return &Server{
		conf:    conf,
		manager: manager,
		disp:    disp,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     middleware.OriginChecker(conf.AllowedOrigins),
		},
		log: log,
	}
}

func (s *Server) Dispatcher() *Dispatcher { return s.disp }

// HandleWS GET /ws
func (s *Server) HandleWS(c *gin.Context) {
	var tokenUser string
	if s.conf.RequireToken {
		claims, err := security.Verify(s.conf.Auth, midsec.TokenFromRequest(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"msg": "Token is not valid"})
			return
		}
		tokenUser = claims.UserID()
	}

	ws, err := s.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		// 常见：非 WebSocket 请求/握手失败，Upgrade 已经写过响应
		s.log.Debug("upgrade failed", zap.Error(err))
		return
	}

	client := NewClient(ids.GenerateString(), ws, s.conf.Client, s.log)
	session, err := s.manager.Connect(client)
	if err != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(time.Second))
		_ = ws.Close()
		return
	}
	go client.writePump()
	s.log.Debug("conn opened", zap.String("conn", client.ID()), zap.String("remote", c.ClientIP()))

	ctx := &Context{
		Manager:   s.manager,
		Session:   session,
		Client:    client,
		TokenUser: tokenUser,
		Log:       s.log,
	}
	s.serve(ctx)
}

func (s *Server) serve(ctx *Context) {
	client := ctx.Client

	var identifyTimer *time.Timer
	if s.conf.IdentifyTimeout > 0 {
		identifyTimer = time.AfterFunc(s.conf.IdentifyTimeout, func() {
			if ctx.Session.State() == presence.StateAnonymous {
				s.log.Info("closing unidentified conn", zap.String("conn", client.ID()))
				client.Close()
			}
		})
	}

	client.prepareRead()
	s.readLoop(ctx)

	// ---- 退出阶段 ----
	if identifyTimer != nil {
		identifyTimer.Stop()
	}
	s.manager.Disconnect(ctx.Session)
	client.Close()
	<-client.done
	s.log.Debug("conn closed", zap.String("conn", client.ID()), zap.String("user", ctx.Session.UserID()))
}

func (s *Server) readLoop(ctx *Context) {
	client := ctx.Client
	for {
		mt, data, err := client.ws.ReadMessage()
		if err != nil {
			switch {
			case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived):
				s.log.Debug("peer closed", zap.String("conn", client.ID()))
			case isTimeout(err):
				s.log.Info("read timeout", zap.String("conn", client.ID()), zap.String("user", ctx.Session.UserID()))
			default:
				s.log.Debug("read error", zap.String("conn", client.ID()), zap.Error(err))
			}
			return
		}
		client.extendRead()
		if mt != websocket.TextMessage && mt != websocket.BinaryMessage {
			continue
		}

		f, err := ParseFrame(data)
		if err != nil {
			sample := data
			if len(sample) > 256 {
				sample = sample[:256]
			}
			s.log.Debug("bad frame", zap.String("conn", client.ID()), zap.ByteString("sample", sample), zap.Error(err))
			ctx.Emit(ErrorEvent("", err))
			continue
		}
		if err := s.dispatch(ctx, f); err != nil {
			ce := errs.AsCode(err)
			if ce.Code == errs.ServerInternalError {
				s.log.Error("handler failed", zap.String("event", f.Event), zap.String("conn", client.ID()), zap.Error(err))
			} else {
				s.log.Debug("event rejected", zap.String("event", f.Event), zap.String("conn", client.ID()), zap.Error(err))
			}
			ctx.Emit(ErrorEvent(f.Event, err))
		}
	}
}

// dispatch 处理器 panic 不能带走整条连接
func (s *Server) dispatch(ctx *Context, f *Frame) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errs.ErrPanic(r)
		}
	}()
	return s.disp.Dispatch(ctx, f)
}

func isTimeout(err error) bool {
	ne, ok := err.(net.Error)
	return ok && ne.Timeout()
}
