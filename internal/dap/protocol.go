// Package dap implements the client side of the Debug Adapter Protocol:
// Content-Length framing, the three wire message kinds, transports for
// spawning or dialing adapters, and a request/response client.
//
// DAP frames messages with HTTP-style headers:
//
//	Content-Length: <length>\r\n
//	\r\n
//	<JSON payload>
package dap

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
)

const headerSeparator = "\r\n\r\n"

// EncodeMessage serializes a message and prepends the Content-Length header.
func EncodeMessage(msg *Message) ([]byte, error) {
	content, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("%w: encode: %v", ErrProtocol, err)
	}
	var buf bytes.Buffer
	fmt.Fprintf(&buf, "Content-Length: %d%s", len(content), headerSeparator)
	buf.Write(content)
	return buf.Bytes(), nil
}

// ParseContentLength extracts the Content-Length value from raw header
// bytes (without the trailing blank line). Header names are matched
// case-insensitively, as some adapters emit lowercase headers.
func ParseContentLength(header []byte) (int, error) {
	for _, line := range strings.Split(string(header), "\r\n") {
		if !strings.HasPrefix(strings.ToLower(line), "content-length:") {
			continue
		}
		value := strings.TrimSpace(line[len("content-length:"):])
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("%w: invalid Content-Length value: %q", ErrProtocol, line)
		}
		return n, nil
	}
	return 0, fmt.Errorf("%w: missing Content-Length header", ErrProtocol)
}

// DecodeMessage parses a message body. The payload must be a JSON object.
func DecodeMessage(content []byte) (*Message, error) {
	trimmed := bytes.TrimLeft(content, " \t\r\n")
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, fmt.Errorf("%w: message must be a JSON object", ErrProtocol)
	}
	var msg Message
	if err := json.Unmarshal(content, &msg); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON in message: %v", ErrProtocol, err)
	}
	return &msg, nil
}

// ReadMessage reads one framed message from r: headers up to the blank
// line, then exactly Content-Length bytes of body.
func ReadMessage(r *bufio.Reader) (*Message, error) {
	var header bytes.Buffer
	for {
		line, err := r.ReadString('\n')
		header.WriteString(line)
		if err != nil {
			if err == io.EOF {
				return nil, fmt.Errorf("%w: connection closed while reading header", ErrConnection)
			}
			return nil, fmt.Errorf("%w: read header: %v", ErrConnection, err)
		}
		if line == "\r\n" {
			break
		}
	}

	length, err := ParseContentLength(header.Bytes())
	if err != nil {
		return nil, err
	}

	content := make([]byte, length)
	if _, err := io.ReadFull(r, content); err != nil {
		return nil, fmt.Errorf("%w: connection closed while reading content", ErrConnection)
	}
	return DecodeMessage(content)
}

// WriteMessage frames and writes one message to w.
func WriteMessage(w io.Writer, msg *Message) error {
	data, err := EncodeMessage(msg)
	if err != nil {
		return err
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("%w: write: %v", ErrConnection, err)
	}
	return nil
}
