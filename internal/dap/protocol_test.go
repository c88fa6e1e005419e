package dap

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestEncodeMessageFraming(t *testing.T) {
	msg := NewRequest(1, "initialize", map[string]any{"adapterID": "test"})
	data, err := EncodeMessage(msg)
	if err != nil {
		t.Fatalf("EncodeMessage: %v", err)
	}

	idx := bytes.Index(data, []byte("\r\n\r\n"))
	if idx < 0 {
		t.Fatal("encoded message has no header separator")
	}
	header := data[:idx]
	body := data[idx+4:]

	length, err := ParseContentLength(header)
	if err != nil {
		t.Fatalf("ParseContentLength: %v", err)
	}
	if length != len(body) {
		t.Errorf("Content-Length = %d, body is %d bytes", length, len(body))
	}

	decoded, err := DecodeMessage(body)
	if err != nil {
		t.Fatalf("DecodeMessage: %v", err)
	}
	if decoded.Seq != 1 || decoded.Type != TypeRequest || decoded.Command != "initialize" {
		t.Errorf("round trip mangled message: %+v", decoded)
	}
	if decoded.Arguments["adapterID"] != "test" {
		t.Errorf("arguments lost: %v", decoded.Arguments)
	}
}

func TestParseContentLength(t *testing.T) {
	cases := []struct {
		name   string
		header string
		want   int
		ok     bool
	}{
		{"plain", "Content-Length: 119", 119, true},
		{"lowercase", "content-length: 42", 42, true},
		{"extra headers", "Content-Length: 7\r\nContent-Type: application/json", 7, true},
		{"missing", "Content-Type: application/json", 0, false},
		{"not a number", "Content-Length: abc", 0, false},
		{"negative", "Content-Length: -5", 0, false},
		{"empty", "", 0, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseContentLength([]byte(tc.header))
			if tc.ok {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				if got != tc.want {
					t.Errorf("got %d, want %d", got, tc.want)
				}
				return
			}
			if err == nil {
				t.Fatalf("expected error, got %d", got)
			}
			if !errors.Is(err, ErrProtocol) {
				t.Errorf("error not wrapped in ErrProtocol: %v", err)
			}
		})
	}
}

func TestDecodeMessageRejectsNonObjects(t *testing.T) {
	for _, content := range []string{`[1, 2, 3]`, `"hello"`, `42`, ``} {
		if _, err := DecodeMessage([]byte(content)); !errors.Is(err, ErrProtocol) {
			t.Errorf("DecodeMessage(%q) error = %v, want ErrProtocol", content, err)
		}
	}
}

func TestDecodeMessageInvalidJSON(t *testing.T) {
	if _, err := DecodeMessage([]byte(`{"seq": `)); !errors.Is(err, ErrProtocol) {
		t.Errorf("error = %v, want ErrProtocol", err)
	}
}

func TestReadMessageStream(t *testing.T) {
	var buf bytes.Buffer
	first := NewRequest(1, "threads", nil)
	second := &Message{Seq: 2, Type: TypeEvent, Event: "stopped", Body: map[string]any{"reason": "breakpoint"}}
	if err := WriteMessage(&buf, first); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	if err := WriteMessage(&buf, second); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}

	r := bufio.NewReader(&buf)
	got1, err := ReadMessage(r)
	if err != nil {
		t.Fatalf("ReadMessage first: %v", err)
	}
	if got1.Command != "threads" {
		t.Errorf("first message command = %q", got1.Command)
	}
	got2, err := ReadMessage(r)
	if err != nil {
		t.Fatalf("ReadMessage second: %v", err)
	}
	if got2.Event != "stopped" || got2.BodyString("reason") != "breakpoint" {
		t.Errorf("second message mangled: %+v", got2)
	}
}

func TestReadMessageIgnoresUnknownHeaders(t *testing.T) {
	body := `{"seq":5,"type":"event","event":"initialized"}`
	raw := fmt.Sprintf("Content-Type: application/json\r\nContent-Length: %d\r\n\r\n%s", len(body), body)
	msg, err := ReadMessage(bufio.NewReader(strings.NewReader(raw)))
	if err != nil {
		t.Fatalf("ReadMessage: %v", err)
	}
	if msg.Event != "initialized" {
		t.Errorf("event = %q, want initialized", msg.Event)
	}
}

func TestReadMessageTruncatedBody(t *testing.T) {
	raw := "Content-Length: 100\r\n\r\n{\"seq\":1"
	if _, err := ReadMessage(bufio.NewReader(strings.NewReader(raw))); err == nil {
		t.Fatal("expected error for truncated body")
	}
}

func TestBodyInt(t *testing.T) {
	msg := &Message{Body: map[string]any{"threadId": float64(3), "reason": "pause"}}
	if v, ok := msg.BodyInt("threadId"); !ok || v != 3 {
		t.Errorf("BodyInt(threadId) = %d, %v", v, ok)
	}
	if _, ok := msg.BodyInt("reason"); ok {
		t.Error("BodyInt accepted a string field")
	}
	if _, ok := msg.BodyInt("missing"); ok {
		t.Error("BodyInt accepted a missing field")
	}
}
