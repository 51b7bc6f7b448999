package relay

import (
	"encoding/json"
	"testing"
)

func TestPortUnmarshal(t *testing.T) {
	tests := []struct {
		in      string
		want    Port
		wantErr bool
	}{
		{`{"port":22}`, 22, false},
		{`{"port":"2222"}`, 2222, false},
		{`{"port":" 2200 "}`, 2200, false},
		{`{"port":""}`, 0, false},
		{`{"port":null}`, 0, false},
		{`{}`, 0, false},
		{`{"port":"ssh"}`, 0, true},
		{`{"port":22.5}`, 0, true},
		{`{"port":true}`, 0, true},
	}
	for _, tt := range tests {
		var v struct {
			Port Port `json:"port"`
		}
		err := json.Unmarshal([]byte(tt.in), &v)
		if (err != nil) != tt.wantErr {
			t.Errorf("%s: err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && v.Port != tt.want {
			t.Errorf("%s: port = %d, want %d", tt.in, v.Port, tt.want)
		}
	}
}

func TestParseInbound(t *testing.T) {
	msg, err := parseInbound([]byte(`{"type":"connect","host":"h","port":"22","username":"u","password":"p"}`))
	if err != nil {
		t.Fatalf("parseInbound: %v", err)
	}
	if msg.Type != MsgConnect || msg.Host != "h" || msg.Port != 22 || msg.Username != "u" || msg.Password != "p" {
		t.Errorf("msg = %+v", msg)
	}

	msg, err = parseInbound([]byte(`{"type":"data","data":""}`))
	if err != nil {
		t.Fatalf("empty data should parse: %v", err)
	}
	if msg.Data == nil || *msg.Data != "" {
		t.Errorf("data = %v", msg.Data)
	}

	for _, raw := range []string{``, `[]`, `"x"`, `{}`, `{"type":""}`, `{"type":"data"}`, `{"type":"data","data":null}`} {
		if _, err := parseInbound([]byte(raw)); err == nil {
			t.Errorf("%q: expected error", raw)
		}
	}
}

func TestOutboundEncoding(t *testing.T) {
	tests := []struct {
		msg  outboundMessage
		want string
	}{
		{outboundMessage{Type: MsgConnected}, `{"type":"connected"}`},
		{outboundMessage{Type: MsgDisconnected}, `{"type":"disconnected"}`},
		{outboundMessage{Type: MsgData, Data: "a\r\n"}, `{"type":"data","data":"a\r\n"}`},
		{outboundMessage{Type: MsgError, Message: "boom"}, `{"type":"error","message":"boom"}`},
	}
	for _, tt := range tests {
		b, err := json.Marshal(tt.msg)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		if string(b) != tt.want {
			t.Errorf("got %s, want %s", b, tt.want)
		}
	}
}
