package mcp

import (
	"encoding/json"
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Direction records which way a message crossed the gateway.
type Direction int

const (
	ClientToServer Direction = iota
	ServerToClient
)

func (d Direction) String() string {
	switch d {
	case ClientToServer:
		return "client->server"
	case ServerToClient:
		return "server->client"
	default:
		return "unknown"
	}
}

// Message pairs a decoded JSON-RPC message with the raw bytes it was
// decoded from and the metadata the gateway attaches as it observes
// traffic crossing a session.
type Message struct {
	Raw       []byte
	Direction Direction
	Decoded   jsonrpc.Message
	Timestamp time.Time
}

// IsRequest reports whether the decoded message is a request or
// notification.
func (m *Message) IsRequest() bool {
	_, ok := m.Decoded.(*jsonrpc.Request)
	return ok
}

// IsResponse reports whether the decoded message is a response.
func (m *Message) IsResponse() bool {
	_, ok := m.Decoded.(*jsonrpc.Response)
	return ok
}

// Method returns the request method, or "" for responses and undecoded
// messages.
func (m *Message) Method() string {
	if req, ok := m.Decoded.(*jsonrpc.Request); ok {
		return req.Method
	}
	return ""
}

// IsToolCall reports whether this message invokes the tools/call
// method.
func (m *Message) IsToolCall() bool {
	return m.Method() == "tools/call"
}

// Request returns the decoded request, or nil if this message is not a
// request.
func (m *Message) Request() *jsonrpc.Request {
	req, _ := m.Decoded.(*jsonrpc.Request)
	return req
}

// Response returns the decoded response, or nil if this message is not
// a response.
func (m *Message) Response() *jsonrpc.Response {
	resp, _ := m.Decoded.(*jsonrpc.Response)
	return resp
}

// RawID extracts the "id" field directly from the raw bytes. The SDK's
// jsonrpc.ID type does not round-trip cleanly through interface{}, so
// callers that need the wire-level id (for example, to echo it back in
// a synthesized error reply) should use this instead of reaching into
// Decoded.
func (m *Message) RawID() json.RawMessage {
	var head struct {
		ID json.RawMessage `json:"id"`
	}
	if err := json.Unmarshal(m.Raw, &head); err != nil {
		return nil
	}
	return head.ID
}
