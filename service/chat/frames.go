package chat

import (
	"bytes"
	"encoding/json"

	"PSocial/service/presence"
	"PSocial/tools/decode"
	"PSocial/tools/errs"
)

// Frame 入站帧：{"event": "...", "data": ...}
// 也接受 socket.io 风格的数组帧：["join-room", "room1", "u1"]
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, errs.ErrMalformedFrame.WithDetail("empty frame")
	}
	if raw[0] == '[' {
		return parseArrayFrame(raw)
	}
	var f Frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, errs.ErrMalformedFrame.WithDetail(err.Error())
	}
	if f.Event == "" {
		return nil, errs.ErrMalformedFrame.WithDetail("missing event")
	}
	return &f, nil
}

func parseArrayFrame(raw []byte) (*Frame, error) {
	var parts []json.RawMessage
	if err := json.Unmarshal(raw, &parts); err != nil {
		return nil, errs.ErrMalformedFrame.WithDetail(err.Error())
	}
	if len(parts) == 0 {
		return nil, errs.ErrMalformedFrame.WithDetail("missing event")
	}
	var f Frame
	if err := json.Unmarshal(parts[0], &f.Event); err != nil || f.Event == "" {
		return nil, errs.ErrMalformedFrame.WithDetail("missing event")
	}
	switch len(parts) {
	case 1:
	case 2:
		f.Data = parts[1]
	default:
		data, _ := json.Marshal(parts[1:])
		f.Data = data
	}
	return &f, nil
}

// Args 把 data 归一成 map：对象原样；数组/标量按 keys 位置命名
func (f *Frame) Args(keys ...string) (map[string]any, error) {
	out := map[string]any{}
	if len(f.Data) == 0 || bytes.Equal(bytes.TrimSpace(f.Data), []byte("null")) {
		return out, nil
	}
	var v any
	if err := json.Unmarshal(f.Data, &v); err != nil {
		return nil, errs.ErrInvalidPayload.WithDetail(err.Error())
	}
	switch t := v.(type) {
	case map[string]any:
		return t, nil
	case []any:
		for i, k := range keys {
			if i < len(t) {
				out[k] = t[i]
			}
		}
	default:
		if len(keys) > 0 {
			out[keys[0]] = t
		}
	}
	return out, nil
}

// DecodeArgs decodes the frame data into T. Interface-typed fields such as
// an SDP offer are kept as decoded, without rewriting.
func DecodeArgs[T any](f *Frame, keys ...string) (*T, error) {
	m, err := f.Args(keys...)
	if err != nil {
		return nil, err
	}
	out, err := decode.DecodeMap[T](m)
	if err != nil {
		return nil, errs.ErrInvalidPayload.WithDetail(err.Error())
	}
	return out, nil
}

func Encode(ev presence.Event) ([]byte, error) {
	return json.Marshal(ev)
}

// ErrorEvent 构造回给客户端的 error 事件
func ErrorEvent(event string, err error) presence.Event {
	ce := errs.AsCode(err)
	data := map[string]any{"code": ce.Code, "msg": ce.Msg}
	// 内部错误不把细节回给客户端
	if ce.Detail != "" && ce.Code != errs.ServerInternalError {
		data["detail"] = ce.Detail
	}
	if event != "" {
		data["event"] = event
	}
	return presence.Event{Name: presence.EventError, Data: data}
}
