package dap

import "encoding/json"

// Message kinds on the DAP wire.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeEvent    = "event"
)

// Message is the envelope shared by all three DAP message kinds. A request
// carries Command and Arguments; a response carries RequestSeq, Success,
// Command and Body; an event carries Event and Body. Unused fields stay
// zero and are omitted from the wire.
type Message struct {
	Seq  int    `json:"seq"`
	Type string `json:"type"`

	// Request fields.
	Command   string         `json:"command,omitempty"`
	Arguments map[string]any `json:"arguments,omitempty"`

	// Response fields. Command is shared with requests above.
	RequestSeq int    `json:"request_seq,omitempty"`
	Success    bool   `json:"success,omitempty"`
	ErrMessage string `json:"message,omitempty"`

	// Event field.
	Event string `json:"event,omitempty"`

	Body map[string]any `json:"body,omitempty"`
}

// NewRequest builds a request message. Seq is assigned by the client.
func NewRequest(seq int, command string, arguments map[string]any) *Message {
	return &Message{
		Seq:       seq,
		Type:      TypeRequest,
		Command:   command,
		Arguments: arguments,
	}
}

// BodyString returns a string field from the message body, or "" when the
// field is absent or not a string.
func (m *Message) BodyString(key string) string {
	if m.Body == nil {
		return ""
	}
	s, _ := m.Body[key].(string)
	return s
}

// BodyInt returns an integer field from the message body. JSON numbers
// decode as float64, so the value is converted.
func (m *Message) BodyInt(key string) (int, bool) {
	if m.Body == nil {
		return 0, false
	}
	f, ok := m.Body[key].(float64)
	if !ok {
		return 0, false
	}
	return int(f), true
}

// InitializeArguments mirrors the DAP initialize request arguments this
// client sends. Capability flags describe what the bridge itself supports.
type InitializeArguments struct {
	ClientID                     string `json:"clientID,omitempty"`
	ClientName                   string `json:"clientName,omitempty"`
	AdapterID                    string `json:"adapterID"`
	Locale                       string `json:"locale,omitempty"`
	LinesStartAt1                bool   `json:"linesStartAt1"`
	ColumnsStartAt1              bool   `json:"columnsStartAt1"`
	PathFormat                   string `json:"pathFormat,omitempty"`
	SupportsVariableType         bool   `json:"supportsVariableType"`
	SupportsVariablePaging       bool   `json:"supportsVariablePaging"`
	SupportsRunInTerminalRequest bool   `json:"supportsRunInTerminalRequest"`
	SupportsMemoryReferences     bool   `json:"supportsMemoryReferences"`
	SupportsProgressReporting    bool   `json:"supportsProgressReporting"`
	SupportsInvalidatedEvent     bool   `json:"supportsInvalidatedEvent"`
}

// asMap converts a typed arguments struct to the map form used on requests.
func asMap(v any) map[string]any {
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil
	}
	return m
}
