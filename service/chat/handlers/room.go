package handlers

import (
	"PSocial/service/chat"
	"PSocial/service/presence"
	"PSocial/tools/errs"
)

type joinRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

type leaveRoomPayload struct {
	RoomID string `json:"roomId"`
}

type JoinRoomHandler struct{}

func (JoinRoomHandler) Event() string { return presence.EventJoinRoom }

func (JoinRoomHandler) Handle(ctx *chat.Context, f *chat.Frame) error {
	p, err := chat.DecodeArgs[joinRoomPayload](f, "roomId", "userId")
	if err != nil {
		return err
	}
	if p.RoomID == "" {
		return errs.ErrInvalidPayload.WithDetail("missing roomId")
	}
	// userId 缺省用连接已声明的身份
	if p.UserID == "" && ctx.Session.UserID() == "" {
		return errs.ErrInvalidPayload.WithDetail("missing userId")
	}
	_ = ctx.Manager.JoinRoom(ctx.Session, p.RoomID, p.UserID)
	return nil
}

type LeaveRoomHandler struct{}

func (LeaveRoomHandler) Event() string { return presence.EventLeaveRoom }

func (LeaveRoomHandler) Handle(ctx *chat.Context, f *chat.Frame) error {
	p, err := chat.DecodeArgs[leaveRoomPayload](f, "roomId")
	if err != nil {
		return err
	}
	if p.RoomID == "" {
		return errs.ErrInvalidPayload.WithDetail("missing roomId")
	}
	ctx.Manager.LeaveRoom(ctx.Session, p.RoomID)
	return nil
}
