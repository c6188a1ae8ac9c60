// Package stdio provides the newline-delimited JSON-RPC transport adapter:
// one request per line on stdin, one response per line on stdout. Each
// connecting agent process gets exactly one session for its lifetime.
package stdio

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/dispatch"
	"github.com/IsaacHuo/agent-firewall/internal/domain/envelope"
	"github.com/IsaacHuo/agent-firewall/internal/domain/session"
	"github.com/IsaacHuo/agent-firewall/internal/domain/validation"
	"github.com/IsaacHuo/agent-firewall/pkg/mcp"
)

const scannerMaxBufSize = 4 * 1024 * 1024

var messageValidator = validation.NewMessageValidator()

// replyChannel writes one JSON-RPC response line to the transport's
// output writer. Reply is called at most once by the dispatch chain's
// terminal stage; the mutex only protects interleaving with other
// in-flight requests sharing the same writer.
type replyChannel struct {
	mu     *sync.Mutex
	out    io.Writer
	closed *atomicBool
}

func (c *replyChannel) Reply(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, err := c.out.Write(data); err != nil {
		return err
	}
	_, err := c.out.Write([]byte("\n"))
	return err
}

func (c *replyChannel) Closed() bool {
	return c.closed.Load()
}

// atomicBool avoids pulling in sync/atomic.Bool's generics ceremony for a
// single flag flipped once at shutdown.
type atomicBool struct {
	mu    sync.Mutex
	value bool
}

func (b *atomicBool) Load() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.value
}

func (b *atomicBool) Store(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.value = v
}

// Transport is the inbound adapter that reads JSON-RPC requests from an
// io.Reader and writes responses to an io.Writer, dispatching each
// request through the chain concurrently so a slow escalation wait on
// one request never blocks the next.
type Transport struct {
	chain     dispatch.Interceptor
	agentID   string
	sessionID string
	logger    *slog.Logger
}

// NewTransport creates a stdio transport wrapping the given dispatch
// chain. agentID identifies the agent process behind this connection
// (used for per-agent rate limiting); if empty, "local" is used, mirroring
// how a single stdio connection has no remote address to key on.
func NewTransport(chain dispatch.Interceptor, agentID string, logger *slog.Logger) *Transport {
	if agentID == "" {
		agentID = "local"
	}
	sessionID, err := session.GenerateSessionID()
	if err != nil {
		sessionID = fmt.Sprintf("stdio-%d", time.Now().UnixNano())
	}
	return &Transport{chain: chain, agentID: agentID, sessionID: sessionID, logger: logger}
}

// Serve reads newline-delimited JSON-RPC requests from in and dispatches
// each to the chain, writing responses to out. It returns once in is
// exhausted or a read fails, after waiting for in-flight requests to
// finish replying. Cancelling ctx marks reply channels closed and reaches
// in-flight dispatches, but does not interrupt a blocked read of in.
func (t *Transport) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	writeMu := &sync.Mutex{}
	closed := &atomicBool{}

	var wg sync.WaitGroup
	defer wg.Wait()

	go func() {
		<-ctx.Done()
		closed.Store(true)
	}()

	scanner := bufio.NewScanner(in)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, scannerMaxBufSize)

	for scanner.Scan() {
		line := append([]byte(nil), scanner.Bytes()...)
		if len(line) == 0 {
			continue
		}

		channel := &replyChannel{mu: writeMu, out: out, closed: closed}

		if requestID, verr := validateRaw(line); verr != nil {
			t.logger.Warn("rejecting invalid json-rpc message", "error", verr)
			_ = channel.Reply(rejectionResponse(requestID, verr))
			continue
		}

		env, err := t.parseEnvelope(line, channel)
		if err != nil {
			t.logger.Warn("dropping unparseable request", "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			rc := &dispatch.RequestContext{Env: env}
			if err := t.chain.Handle(ctx, rc); err != nil {
				t.logger.Error("dispatch chain error", "request_id", env.RequestID, "error", err)
			}
		}()
	}
	return scanner.Err()
}

// validateRaw decodes raw as a JSON-RPC/MCP message and checks it
// against the standard structural rules before an envelope is built.
func validateRaw(raw []byte) (requestID string, verr *validation.ValidationError) {
	var head struct {
		ID any `json:"id"`
	}
	if json.Unmarshal(raw, &head) == nil && head.ID != nil {
		requestID = fmt.Sprint(head.ID)
	}

	msg, err := mcp.WrapMessage(raw, mcp.ClientToServer)
	if err != nil {
		return requestID, validation.NewValidationError(validation.ErrCodeParseError, "Parse error")
	}
	if err := messageValidator.Validate(msg); err != nil {
		ve, _ := err.(*validation.ValidationError)
		return requestID, ve
	}
	return requestID, nil
}

// rejectionResponse synthesizes a standard JSON-RPC error reply for a
// structurally invalid message rejected before dispatch.
func rejectionResponse(requestID string, verr *validation.ValidationError) []byte {
	var id any
	if requestID != "" {
		id = requestID
	}
	data, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      id,
		"error": map[string]any{
			"code":    verr.Code,
			"message": verr.Message,
		},
	})
	if err != nil {
		return []byte(`{"jsonrpc":"2.0","id":null,"error":{"code":-32700,"message":"Parse error"}}`)
	}
	return data
}

func (t *Transport) parseEnvelope(raw []byte, channel *replyChannel) (*envelope.Envelope, error) {
	var head struct {
		ID     any             `json:"id"`
		Method string          `json:"method"`
		Params json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("parse json-rpc envelope: %w", err)
	}

	requestID := ""
	if head.ID != nil {
		requestID = fmt.Sprint(head.ID)
	}

	now := time.Now()
	return &envelope.Envelope{
		RequestID:   requestID,
		SessionID:   t.sessionID,
		AgentID:     t.agentID,
		Method:      head.Method,
		Params:      head.Params,
		Raw:         raw,
		ArrivalMono: now,
		ArrivalWall: now,
		Channel:     channel,
	}, nil
}
