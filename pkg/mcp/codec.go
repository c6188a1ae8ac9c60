// Package mcp provides thin JSON-RPC codec helpers for MCP traffic, plus
// the Message wrapper carrying a decoded request/response alongside its
// raw bytes. Decoding/encoding itself is delegated to the official MCP
// SDK; this package exists so the rest of the gateway imports one stable
// local name instead of reaching into the SDK's jsonrpc package
// directly.
package mcp

import (
	"time"

	"github.com/modelcontextprotocol/go-sdk/jsonrpc"
)

// Request is a JSON-RPC 2.0 request or notification.
type Request = jsonrpc.Request

// Response is a JSON-RPC 2.0 response.
type Response = jsonrpc.Response

// EncodeMessage serializes a JSON-RPC message to its wire format.
func EncodeMessage(msg jsonrpc.Message) ([]byte, error) {
	return jsonrpc.EncodeMessage(msg)
}

// DecodeMessage deserializes wire-format bytes into a *Request or
// *Response.
func DecodeMessage(data []byte) (jsonrpc.Message, error) {
	return jsonrpc.DecodeMessage(data)
}

// WrapMessage decodes raw JSON-RPC bytes and wraps them in a Message
// with the given direction and the current timestamp. Returns an error
// if decoding fails; callers wanting to preserve undecodable bytes for
// passthrough should construct a Message directly instead.
func WrapMessage(raw []byte, dir Direction) (*Message, error) {
	decoded, err := jsonrpc.DecodeMessage(raw)
	if err != nil {
		return nil, err
	}

	return &Message{
		Raw:       raw,
		Direction: dir,
		Decoded:   decoded,
		Timestamp: time.Now(),
	}, nil
}
