package handlers

import (
	"PSocial/service/chat"
	"PSocial/service/presence"
	"PSocial/tools/errs"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type userOnlinePayload struct {
	UserID string `json:"userId"`
}

// UserOnlineHandler 处理 userOnline：把连接绑定到用户
type UserOnlineHandler struct{}

func (UserOnlineHandler) Event() string { return presence.EventUserOnline }

func (UserOnlineHandler) Handle(ctx *chat.Context, f *chat.Frame) error {
	p, err := chat.DecodeArgs[userOnlinePayload](f, "userId")
	if err != nil {
		return err
	}
	if p.UserID == "" {
		return errs.ErrInvalidPayload.WithDetail("missing userId")
	}
	if ctx.TokenUser != "" && ctx.TokenUser != p.UserID {
		ctx.Log.Warn("identify rejected", zap.String("claimed", p.UserID), zap.String("token", ctx.TokenUser))
		return errs.ErrUnauthorizedIdent.WithDetail(p.UserID)
	}

	err = ctx.Manager.Identify(ctx.Session, p.UserID)
	if errors.Is(err, presence.ErrSessionClosed) {
		return nil
	}
	return err
}
