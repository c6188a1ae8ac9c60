// Package operator provides the operator-facing WebSocket surface: a
// long-lived socket per connected operator carrying pushed escalation
// events and inbound human-in-the-loop responses. The operator dashboard
// itself is out of scope; only this wire contract is implemented.
package operator

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/IsaacHuo/agent-firewall/internal/domain/escalation"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// pushEvent is the wire shape of one escalation broadcast to operators.
type pushEvent struct {
	EventType string   `json:"event_type"`
	Timestamp float64  `json:"timestamp"`
	SessionID string   `json:"session_id"`
	AgentID   string   `json:"agent_id"`
	Method    string   `json:"method"`
	RequestID string   `json:"request_id"`
	IsAlert   bool     `json:"is_alert"`
	Analysis  analysis `json:"analysis"`
}

type analysis struct {
	L1Level    string   `json:"l1_level"`
	L1Patterns []string `json:"l1_patterns,omitempty"`
	Reason     string   `json:"reason"`
}

// hitlResponse is the wire shape of an operator's inbound verdict.
type hitlResponse struct {
	Action    string `json:"action"`
	RequestID string `json:"request_id"`
}

func toPushEvent(e escalation.Event) pushEvent {
	return pushEvent{
		EventType: "request_analyzed",
		Timestamp: float64(e.CreatedAt.UnixNano()) / 1e9,
		SessionID: e.SessionID,
		AgentID:   e.AgentID,
		Method:    e.Method,
		RequestID: e.RequestID,
		IsAlert:   true,
		Analysis: analysis{
			L1Level:    e.L1Level,
			L1Patterns: e.L1Patterns,
			Reason:     e.Reason,
		},
	}
}

// Transport serves the escalation hub's operator side over WebSocket:
// GET / upgrades, pushes every broadcast event to the connection, and
// reads HITL responses off the same socket.
type Transport struct {
	hub    *escalation.Hub
	logger *slog.Logger
	server *http.Server
}

// NewTransport creates an operator transport listening on addr.
func NewTransport(addr string, hub *escalation.Hub, logger *slog.Logger) *Transport {
	t := &Transport{hub: hub, logger: logger}
	mux := http.NewServeMux()
	mux.HandleFunc("/", t.handleConn)
	t.server = &http.Server{Addr: addr, Handler: mux}
	return t
}

// ListenAndServe blocks serving operator connections until the server is
// closed.
func (t *Transport) ListenAndServe() error {
	err := t.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops accepting new operator connections.
func (t *Transport) Shutdown(ctx context.Context) error {
	return t.server.Shutdown(ctx)
}

func (t *Transport) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		t.logger.Warn("operator websocket upgrade failed", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	opID, events := t.hub.RegisterOperator()
	defer t.hub.UnregisterOperator(opID)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var resp hitlResponse
			if err := json.Unmarshal(raw, &resp); err != nil {
				continue
			}
			if resp.Action != string(escalation.ActionAllow) && resp.Action != string(escalation.ActionBlock) {
				continue
			}
			_ = t.hub.Respond(escalation.Response{
				RequestID: resp.RequestID,
				Action:    escalation.Action(resp.Action),
				Operator:  opID,
			})
		}
	}()

	for {
		select {
		case <-done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(toPushEvent(event))
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-time.After(30 * time.Second):
			_ = conn.WriteMessage(websocket.PingMessage, nil)
		}
	}
}
