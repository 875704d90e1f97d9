package chat

import (
	"sync"
	"time"

	"PSocial/service/presence"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

var (
	ErrClientClosed  = errors.New("client closed")
	ErrSendQueueFull = errors.New("send queue full")
)

type ClientConf struct {
	PingInterval   time.Duration
	PongWait       time.Duration
	WriteWait      time.Duration
	MaxMessageSize int64
	SendQueueSize  int
}

// Client represents one WebSocket connection. It implements presence.Conn.
// All writes go through the single write pump.
type Client struct {
	id   string
	ws   *websocket.Conn
	conf ClientConf
	log  *zap.Logger

	send      chan []byte
	closed    chan struct{}
	closeOnce sync.Once
	done      chan struct{} // write pump 退出后关闭
}

func NewClient(id string, ws *websocket.Conn, conf ClientConf, log *zap.Logger) *Client {
	if conf.PongWait <= 0 {
		conf.PongWait = 60 * time.Second
	}
	if conf.PingInterval <= 0 || conf.PingInterval >= conf.PongWait {
		conf.PingInterval = conf.PongWait * 9 / 10
	}
	if conf.WriteWait <= 0 {
		conf.WriteWait = 10 * time.Second
	}
	if conf.SendQueueSize <= 0 {
		conf.SendQueueSize = 256
	}
	return &Client{
		id:     id,
		ws:     ws,
		conf:   conf,
		log:    log,
		send:   make(chan []byte, conf.SendQueueSize),
		closed: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

func (c *Client) ID() string { return c.id }

// Emit encodes ev and queues it without blocking.
func (c *Client) Emit(ev presence.Event) error {
	payload, err := Encode(ev)
	if err != nil {
		return errors.Wrapf(err, "encode %s", ev.Name)
	}
	select {
	case <-c.closed:
		return ErrClientClosed
	default:
	}
	select {
	case c.send <- payload:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close asks the write pump to send a close frame and tear the socket down.
func (c *Client) Close() {
	c.closeOnce.Do(func() { close(c.closed) })
}

func (c *Client) Closed() <-chan struct{} { return c.closed }

// writePump 唯一的写协程：业务帧 + 定时 ping；退出时关闭底层连接，读循环随之结束
func (c *Client) writePump() {
	ticker := time.NewTicker(c.conf.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
		close(c.done)
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.conf.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				c.log.Debug("write failed", zap.String("conn", c.id), zap.Error(err))
				return
			}
		case <-ticker.C:
			if err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.conf.WriteWait)); err != nil {
				c.log.Debug("ping failed", zap.String("conn", c.id), zap.Error(err))
				return
			}
		case <-c.closed:
			c.flush()
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(c.conf.WriteWait))
			return
		}
	}
}

// flush 把关闭前已入队的帧尽量写出去（比如 session-replaced）
func (c *Client) flush() {
	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.conf.WriteWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		default:
			return
		}
	}
}

func (c *Client) prepareRead() {
	if c.conf.MaxMessageSize > 0 {
		c.ws.SetReadLimit(c.conf.MaxMessageSize)
	}
	_ = c.ws.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.conf.PongWait))
	})
}

func (c *Client) extendRead() {
	_ = c.ws.SetReadDeadline(time.Now().Add(c.conf.PongWait))
}
