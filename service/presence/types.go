package presence

import (
	"context"

	"github.com/pkg/errors"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// inbound
const (
	EventUserOnline   = "userOnline"
	EventJoinRoom     = "join-room"
	EventLeaveRoom    = "leave-room"
	EventCallUser     = "call-user"
	EventAnswerCall   = "answer-call"
	EventIceCandidate = "ice-candidate"
)

// outbound
const (
	EventUserConnected    = "user-connected"
	EventUserDisconnected = "user-disconnected"
	EventIncomingCall     = "incoming-call"
	EventCallAnswered     = "call-answered"
	EventSessionReplaced  = "session-replaced"
	EventError            = "error"
)

var (
	ErrSessionClosed = errors.New("presence: session closed")
	ErrShuttingDown  = errors.New("presence: manager shutting down")
	ErrEmptyUserID   = errors.New("presence: empty user id")
)

// Event 是推给客户端的一帧：{"event": Name, "data": Data}
type Event struct {
	Name string `json:"event"`
	Data any    `json:"data,omitempty"`
}

// Conn 是一条活跃的传输连接。Emit 只入队不阻塞，队列满或已关闭时返回错误。
type Conn interface {
	ID() string
	Emit(ev Event) error
	Close()
}

// StatusWriter persists an online/offline transition for a user.
type StatusWriter interface {
	UpdateStatus(ctx context.Context, userID string, status Status) error
}
