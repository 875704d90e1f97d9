package chat

import (
	"encoding/json"
	"errors"
	"testing"

	"PSocial/service/presence"
	"PSocial/tools/errs"
)

func TestParseFrameObject(t *testing.T) {
	f, err := ParseFrame([]byte(` {"event":"userOnline","data":{"userId":"u1"}} `))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if f.Event != "userOnline" {
		t.Fatalf("event = %q", f.Event)
	}
	args, err := f.Args("userId")
	if err != nil {
		t.Fatalf("args: %v", err)
	}
	if args["userId"] != "u1" {
		t.Fatalf("userId = %v", args["userId"])
	}
}

func TestParseFrameArray(t *testing.T) {
	cases := []struct {
		raw  string
		keys []string
		want map[string]any
	}{
		{`["userOnline","u1"]`, []string{"userId"}, map[string]any{"userId": "u1"}},
		{`["join-room","r1","u1"]`, []string{"roomId", "userId"}, map[string]any{"roomId": "r1", "userId": "u1"}},
		{`["join-room",{"roomId":"r1"}]`, []string{"roomId", "userId"}, map[string]any{"roomId": "r1"}},
		{`["leave-room"]`, []string{"roomId"}, map[string]any{}},
	}
	for _, tc := range cases {
		f, err := ParseFrame([]byte(tc.raw))
		if err != nil {
			t.Fatalf("%s: parse: %v", tc.raw, err)
		}
		got, err := f.Args(tc.keys...)
		if err != nil {
			t.Fatalf("%s: args: %v", tc.raw, err)
		}
		if len(got) != len(tc.want) {
			t.Fatalf("%s: got %v want %v", tc.raw, got, tc.want)
		}
		for k, v := range tc.want {
			if got[k] != v {
				t.Fatalf("%s: %s = %v want %v", tc.raw, k, got[k], v)
			}
		}
	}
}

func TestParseFrameMalformed(t *testing.T) {
	for _, raw := range []string{"", "   ", "not json", `{"data":{}}`, `[]`, `[42]`, `{"event":""}`} {
		_, err := ParseFrame([]byte(raw))
		if !errors.Is(err, errs.ErrMalformedFrame) {
			t.Fatalf("%q: err = %v, want malformed", raw, err)
		}
	}
}

func TestDecodeArgsKeepsOpaquePayload(t *testing.T) {
	type call struct {
		RecipientID string `json:"recipientId"`
		Offer       any    `json:"offer"`
	}
	f, err := ParseFrame([]byte(`{"event":"call-user","data":{"recipientId":"u2","offer":{"type":"offer","sdp":"v=0\r\n"}}}`))
	if err != nil {
		t.Fatal(err)
	}
	p, err := DecodeArgs[call](f, "recipientId", "offer")
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.RecipientID != "u2" {
		t.Fatalf("recipient = %q", p.RecipientID)
	}
	offer, ok := p.Offer.(map[string]any)
	if !ok || offer["sdp"] != "v=0\r\n" || offer["type"] != "offer" {
		t.Fatalf("offer = %#v", p.Offer)
	}
}

func TestDecodeArgsInvalidPayload(t *testing.T) {
	type room struct {
		Limit int `json:"limit"`
	}
	f := &Frame{Event: "join-room", Data: json.RawMessage(`{"limit":"many"}`)}
	if _, err := DecodeArgs[room](f, "limit"); !errors.Is(err, errs.ErrInvalidPayload) {
		t.Fatalf("err = %v, want invalid payload", err)
	}

	bad := &Frame{Event: "join-room", Data: json.RawMessage(`{broken`)}
	if _, err := bad.Args("roomId"); !errors.Is(err, errs.ErrInvalidPayload) {
		t.Fatalf("err = %v, want invalid payload", err)
	}
}

func TestErrorEventHidesInternalDetail(t *testing.T) {
	ev := ErrorEvent("call-user", errs.ErrInvalidPayload.WithDetail("missing recipientId"))
	if ev.Name != presence.EventError {
		t.Fatalf("name = %q", ev.Name)
	}
	data := ev.Data.(map[string]any)
	if data["code"] != errs.InvalidPayload || data["detail"] != "missing recipientId" || data["event"] != "call-user" {
		t.Fatalf("data = %v", data)
	}

	ev = ErrorEvent("", errs.ErrInternal.WithDetail("nil pointer"))
	data = ev.Data.(map[string]any)
	if _, ok := data["detail"]; ok {
		t.Fatalf("internal detail leaked: %v", data)
	}
	if _, ok := data["event"]; ok {
		t.Fatalf("unexpected event key: %v", data)
	}
}
