package dispatch

import (
	"context"
	"encoding/json"
	"log/slog"
)

// Forwarder delivers an admitted envelope to its upstream MCP server and
// returns the raw response bytes.
type Forwarder interface {
	Forward(ctx context.Context, env *RequestContext) ([]byte, error)
}

// blockedErrorData is the structured `data` field of a synthesized
// JSON-RPC block error.
type blockedErrorData struct {
	Verdict string `json:"verdict"`
	Reason  string `json:"reason"`
}

// TerminalInterceptor is the last stage: it forwards the envelope
// upstream and relays the response, or synthesizes a JSON-RPC error and
// delivers it to the originating channel.
type TerminalInterceptor struct {
	forwarder Forwarder
	logger    *slog.Logger
}

// NewTerminalInterceptor creates a TerminalInterceptor.
func NewTerminalInterceptor(forwarder Forwarder, logger *slog.Logger) *TerminalInterceptor {
	return &TerminalInterceptor{forwarder: forwarder, logger: logger}
}

// Handle forwards or rejects rc.Env depending on rc.Verdict.Action. It
// never calls a next stage: Terminal is the end of the chain.
func (t *TerminalInterceptor) Handle(ctx context.Context, rc *RequestContext) error {
	if rc.Env.Channel.Closed() {
		return nil
	}

	if rc.Verdict == nil || rc.Verdict.Action == ActionForward {
		resp, err := t.forwarder.Forward(ctx, rc)
		if err != nil {
			t.logger.Error("upstream forward failed", "request_id", rc.Env.RequestID, "error", err)
			return t.reply(rc, t.blockedResponse(rc, "upstream_error"))
		}
		return t.reply(rc, resp)
	}

	return t.reply(rc, t.blockedResponse(rc, rc.Verdict.Reason))
}

func (t *TerminalInterceptor) reply(rc *RequestContext, data []byte) error {
	if err := rc.Env.Channel.Reply(data); err != nil {
		t.logger.Error("reply delivery failed", "request_id", rc.Env.RequestID, "error", err)
		return err
	}
	return nil
}

func (t *TerminalInterceptor) blockedResponse(rc *RequestContext, reason string) []byte {
	verdict := "block"
	if rc.Verdict != nil {
		verdict = string(rc.Verdict.PolicyVerdict)
	}

	resp := map[string]any{
		"jsonrpc": "2.0",
		"id":      rc.Env.RequestID,
		"error": map[string]any{
			"code":    RejectCode,
			"message": "request blocked by agent firewall",
			"data":    blockedErrorData{Verdict: verdict, Reason: reason},
		},
	}
	b, err := json.Marshal(resp)
	if err != nil {
		t.logger.Error("blocked response marshal failed", "request_id", rc.Env.RequestID, "error", err)
		return []byte(`{"jsonrpc":"2.0","error":{"code":-32001,"message":"request blocked"}}`)
	}
	return b
}

var _ Interceptor = (*TerminalInterceptor)(nil)
