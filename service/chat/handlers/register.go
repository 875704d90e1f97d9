package handlers

import "PSocial/service/chat"

// RegisterAll 注册全部事件处理器
func RegisterAll(d *chat.Dispatcher) {
	d.Register(UserOnlineHandler{})
	d.Register(JoinRoomHandler{})
	d.Register(LeaveRoomHandler{})
	d.Register(CallUserHandler{})
	d.Register(AnswerCallHandler{})
	d.Register(IceCandidateHandler{})
	d.Register(PingHandler{})
}
