// Package websocket provides the bidirectional WebSocket transport
// adapter: one JSON-RPC message per frame, one connection per agent
// session.
package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/IsaacHuo/agent-firewall/internal/domain/dispatch"
	"github.com/IsaacHuo/agent-firewall/internal/domain/envelope"
	"github.com/IsaacHuo/agent-firewall/internal/domain/session"
	"github.com/IsaacHuo/agent-firewall/internal/domain/validation"
	"github.com/IsaacHuo/agent-firewall/pkg/mcp"
)

var messageValidator = validation.NewMessageValidator()

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// Agents connect directly from local/trusted tooling, not browsers
	// subject to third-party-site CSRF; origin checking is left to any
	// reverse proxy in front of this listener.
	CheckOrigin: func(r *http.Request) bool { return true },
}

type replyChannel struct {
	mu     *sync.Mutex
	conn   *websocket.Conn
	closed *atomicBool
}

func (c *replyChannel) Reply(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteMessage(websocket.TextMessage, data)
}

func (c *replyChannel) Closed() bool {
	return c.closed.Load()
}

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

// Transport serves one dispatch chain over any number of concurrent
// WebSocket connections, one session per connection.
type Transport struct {
	chain  dispatch.Interceptor
	logger *slog.Logger
	server *http.Server
}

// NewTransport creates a WebSocket transport listening on addr.
func NewTransport(addr string, chain dispatch.Interceptor, logger *slog.Logger) *Transport {
	t := &Transport{chain: chain, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleConn)
	t.server = &http.Server{Addr: addr, Handler: mux}
	return t
}

// ListenAndServe blocks serving WebSocket connections until the server is
// closed.
func (t *Transport) ListenAndServe() error {
	err := t.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops accepting new connections.
func (t *Transport) Shutdown(ctx context.Context) error {
	return t.server.Shutdown(ctx)
}

func (t *Transport) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	sessionID, err := session.GenerateSessionID()
	if err != nil {
		sessionID = fmt.Sprintf("ws-%d", time.Now().UnixNano())
	}
	agentID := r.Header.Get("X-Agent-Id")
	if agentID == "" {
		agentID = r.RemoteAddr
	}

	writeMu := &sync.Mutex{}
	closed := &atomicBool{}
	channel := &replyChannel{mu: writeMu, conn: conn, closed: closed}

	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			closed.Store(true)
			return
		}

		if requestID, verr := validateRaw(raw); verr != nil {
			t.logger.Warn("rejecting invalid json-rpc message", "error", verr)
			_ = channel.Reply(rejectionResponse(requestID, verr))
			continue
		}

		env, err := parseEnvelope(raw, sessionID, agentID, channel)
		if err != nil {
			t.logger.Warn("dropping unparseable websocket message", "error", err)
			continue
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			rc := &dispatch.RequestContext{Env: env}
			if err := t.chain.Handle(r.Context(), rc); err != nil {
				t.logger.Error("dispatch chain error", "request_id", env.RequestID, "error", err)
			}
		}()
	}
}

// validateRaw decodes raw as a JSON-RPC/MCP message and checks it against
// the standard structural rules before an envelope is ever built. The
// returned requestID, when non-empty, is echoed back in the rejection so
// the caller can correlate it; the SDK's ID type does not round-trip
// through interface{} cleanly, so it is pulled from the raw bytes
// directly rather than off the decoded message.
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

func parseEnvelope(raw []byte, sessionID, agentID string, channel *replyChannel) (*envelope.Envelope, error) {
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
		SessionID:   sessionID,
		AgentID:     agentID,
		Method:      head.Method,
		Params:      head.Params,
		Raw:         raw,
		ArrivalMono: now,
		ArrivalWall: now,
		Channel:     channel,
	}, nil
}
