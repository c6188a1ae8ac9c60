// Package sse provides the SSE + HTTP-POST transport adapter: a GET
// request opens a one-way event stream carrying responses, and each
// subsequent JSON-RPC request is a separate POST correlated to that
// stream by session id, mirroring the original MCP HTTP+SSE transport
// shape.
package sse

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/dispatch"
	"github.com/IsaacHuo/agent-firewall/internal/domain/envelope"
	"github.com/IsaacHuo/agent-firewall/internal/domain/session"
	"github.com/IsaacHuo/agent-firewall/internal/domain/validation"
	"github.com/IsaacHuo/agent-firewall/pkg/mcp"
)

const eventQueueCapacity = 256

var messageValidator = validation.NewMessageValidator()

type replyChannel struct {
	events chan<- []byte
	closed *atomicBool
}

func (c *replyChannel) Reply(data []byte) error {
	if c.closed.Load() {
		return fmt.Errorf("sse stream closed")
	}
	select {
	case c.events <- data:
		return nil
	default:
		return fmt.Errorf("sse stream backlog full")
	}
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

type stream struct {
	agentID string
	events  chan []byte
	closed  *atomicBool
}

// Transport serves the dispatch chain over SSE + HTTP POST.
type Transport struct {
	chain  dispatch.Interceptor
	logger *slog.Logger
	server *http.Server

	mu      sync.Mutex
	streams map[string]*stream
}

// NewTransport creates an SSE transport listening on addr. GET /sse opens
// an event stream; POST /message?session=<id> submits one request whose
// response arrives over that session's stream.
func NewTransport(addr string, chain dispatch.Interceptor, logger *slog.Logger) *Transport {
	t := &Transport{chain: chain, logger: logger, streams: make(map[string]*stream)}
	mux := http.NewServeMux()
	mux.HandleFunc("/sse", t.handleStream)
	mux.HandleFunc("/message", t.handleMessage)
	t.server = &http.Server{Addr: addr, Handler: mux}
	return t
}

// ListenAndServe blocks serving until the server is closed.
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

func (t *Transport) handleStream(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	sessionID, err := session.GenerateSessionID()
	if err != nil {
		sessionID = fmt.Sprintf("sse-%d", time.Now().UnixNano())
	}
	agentID := r.Header.Get("X-Agent-Id")
	if agentID == "" {
		agentID = r.RemoteAddr
	}

	st := &stream{agentID: agentID, events: make(chan []byte, eventQueueCapacity), closed: &atomicBool{}}
	t.mu.Lock()
	t.streams[sessionID] = st
	t.mu.Unlock()
	defer func() {
		st.closed.Store(true)
		t.mu.Lock()
		delete(t.streams, sessionID)
		t.mu.Unlock()
	}()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	endpoint := fmt.Sprintf("/message?session=%s", sessionID)
	fmt.Fprintf(w, "event: endpoint\ndata: %s\n\n", endpoint)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case data := <-st.events:
			fmt.Fprintf(w, "event: message\ndata: %s\n\n", data)
			flusher.Flush()
		}
	}
}

func (t *Transport) handleMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	sessionID := r.URL.Query().Get("session")
	t.mu.Lock()
	st, ok := t.streams[sessionID]
	t.mu.Unlock()
	if !ok {
		http.Error(w, "unknown or expired session", http.StatusNotFound)
		return
	}

	raw, err := io.ReadAll(io.LimitReader(r.Body, 4*1024*1024))
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	if requestID, verr := validateRaw(raw); verr != nil {
		t.logger.Warn("rejecting invalid json-rpc message", "error", verr)
		select {
		case st.events <- rejectionResponse(requestID, verr):
		default:
		}
		w.WriteHeader(http.StatusAccepted)
		return
	}

	env, err := t.parseEnvelope(raw, sessionID, st.agentID, st.events, st.closed)
	if err != nil {
		http.Error(w, "invalid json-rpc envelope", http.StatusBadRequest)
		return
	}

	go func() {
		rc := &dispatch.RequestContext{Env: env}
		if err := t.chain.Handle(context.Background(), rc); err != nil {
			t.logger.Error("dispatch chain error", "request_id", env.RequestID, "error", err)
		}
	}()

	w.WriteHeader(http.StatusAccepted)
}

// validateRaw decodes raw as a JSON-RPC/MCP message and checks it
// against the standard structural rules before an envelope is built.
// The returned requestID, when non-empty, lets the rejection be
// correlated back to the caller's request.
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

func (t *Transport) parseEnvelope(raw []byte, sessionID, agentID string, events chan<- []byte, closed *atomicBool) (*envelope.Envelope, error) {
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
		Channel:     &replyChannel{events: events, closed: closed},
	}, nil
}
