package handlers

import (
	"PSocial/service/chat"
	"PSocial/service/presence"
	"PSocial/tools/errs"
)

type callUserPayload struct {
	RecipientID string `json:"recipientId"`
	Offer       any    `json:"offer"`
}

type answerCallPayload struct {
	To     string `json:"to"`
	Answer any    `json:"answer"`
}

type iceCandidatePayload struct {
	To        string `json:"to"`
	Candidate any    `json:"candidate"`
}

// 目标不在线时静默丢弃，不回错误
type CallUserHandler struct{}

func (CallUserHandler) Event() string { return presence.EventCallUser }

func (CallUserHandler) Handle(ctx *chat.Context, f *chat.Frame) error {
	p, err := chat.DecodeArgs[callUserPayload](f, "recipientId", "offer")
	if err != nil {
		return err
	}
	if p.RecipientID == "" {
		return errs.ErrInvalidPayload.WithDetail("missing recipientId")
	}
	ctx.Manager.Signal(ctx.Session, presence.Envelope{To: p.RecipientID, Kind: presence.SignalOffer, Payload: p.Offer})
	return nil
}

type AnswerCallHandler struct{}

func (AnswerCallHandler) Event() string { return presence.EventAnswerCall }

func (AnswerCallHandler) Handle(ctx *chat.Context, f *chat.Frame) error {
	p, err := chat.DecodeArgs[answerCallPayload](f, "to", "answer")
	if err != nil {
		return err
	}
	if p.To == "" {
		return errs.ErrInvalidPayload.WithDetail("missing to")
	}
	ctx.Manager.Signal(ctx.Session, presence.Envelope{To: p.To, Kind: presence.SignalAnswer, Payload: p.Answer})
	return nil
}

type IceCandidateHandler struct{}

func (IceCandidateHandler) Event() string { return presence.EventIceCandidate }

func (IceCandidateHandler) Handle(ctx *chat.Context, f *chat.Frame) error {
	p, err := chat.DecodeArgs[iceCandidatePayload](f, "to", "candidate")
	if err != nil {
		return err
	}
	if p.To == "" {
		return errs.ErrInvalidPayload.WithDetail("missing to")
	}
	ctx.Manager.Signal(ctx.Session, presence.Envelope{To: p.To, Kind: presence.SignalCandidate, Payload: p.Candidate})
	return nil
}
