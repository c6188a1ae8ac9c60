package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/IsaacHuo/agent-firewall/internal/domain/dispatch"
)

// forwarderInitialBufSize and forwarderMaxBufSize size the upstream
// message scanner: MCP messages are small, but arbitrarily large tool
// results should not overrun the buffer silently. The initial size matches
// the HTTPClient's scanner; the 4 MiB cap is larger than its 1 MiB one.
const (
	forwarderInitialBufSize = 256 * 1024
	forwarderMaxBufSize     = 4 * 1024 * 1024
)

// Client is the minimal upstream connection surface the Forwarder needs:
// a single long-lived stream of newline-delimited JSON-RPC messages.
type Client interface {
	Start(ctx context.Context) (io.WriteCloser, io.ReadCloser, error)
	Close() error
}

// Forwarder adapts a single upstream MCPClient connection into a
// dispatch.Forwarder: every admitted envelope is written to the
// upstream's request stream, and the Forwarder demultiplexes the
// response stream by JSON-RPC id to hand each caller back its own
// response, since one stdio/HTTP connection carries requests from many
// concurrent dispatch goroutines.
type Forwarder struct {
	client Client
	logger *slog.Logger

	writeMu sync.Mutex
	writer  io.WriteCloser
	reader  io.ReadCloser

	pendingMu sync.Mutex
	pending   map[string]chan json.RawMessage

	closeOnce sync.Once
	closed    chan struct{}
}

// NewForwarder starts the upstream connection and begins demultiplexing
// its response stream. The returned Forwarder is safe for concurrent use.
func NewForwarder(ctx context.Context, client Client, logger *slog.Logger) (*Forwarder, error) {
	writer, reader, err := client.Start(ctx)
	if err != nil {
		return nil, fmt.Errorf("start upstream client: %w", err)
	}

	f := &Forwarder{
		client:  client,
		logger:  logger,
		writer:  writer,
		reader:  reader,
		pending: make(map[string]chan json.RawMessage),
		closed:  make(chan struct{}),
	}
	go f.readLoop()
	return f, nil
}

// Forward writes rc.Env.Raw to the upstream stream and waits for the
// matching response, keyed by JSON-RPC id.
func (f *Forwarder) Forward(ctx context.Context, rc *dispatch.RequestContext) ([]byte, error) {
	id := rc.Env.RequestID
	replyCh := make(chan json.RawMessage, 1)

	f.pendingMu.Lock()
	f.pending[id] = replyCh
	f.pendingMu.Unlock()
	defer func() {
		f.pendingMu.Lock()
		delete(f.pending, id)
		f.pendingMu.Unlock()
	}()

	if err := f.write(rc.Env.Raw); err != nil {
		return nil, fmt.Errorf("write upstream request: %w", err)
	}

	select {
	case resp := <-replyCh:
		return resp, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-f.closed:
		return nil, errors.New("upstream connection closed")
	}
}

func (f *Forwarder) write(raw []byte) error {
	f.writeMu.Lock()
	defer f.writeMu.Unlock()
	if _, err := f.writer.Write(raw); err != nil {
		return err
	}
	_, err := f.writer.Write([]byte("\n"))
	return err
}

// readLoop scans newline-delimited responses off the upstream stream and
// routes each to the goroutine awaiting that id. A response whose id
// matches nothing pending (a notification, or a reply arriving after its
// caller gave up) is logged and dropped.
func (f *Forwarder) readLoop() {
	defer close(f.closed)

	scanner := bufio.NewScanner(f.reader)
	buf := make([]byte, 0, forwarderInitialBufSize)
	scanner.Buffer(buf, forwarderMaxBufSize)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		msg := append([]byte(nil), line...)

		id, ok := extractID(msg)
		if !ok {
			f.logger.Debug("upstream message without id dropped", "payload_len", len(msg))
			continue
		}

		f.pendingMu.Lock()
		ch, found := f.pending[id]
		f.pendingMu.Unlock()
		if !found {
			f.logger.Warn("upstream response matched no pending request", "id", id)
			continue
		}
		ch <- msg
	}
	if err := scanner.Err(); err != nil {
		f.logger.Error("upstream read loop ended with error", "error", err)
	}
}

func extractID(raw json.RawMessage) (string, bool) {
	var head struct {
		ID any `json:"id"`
	}
	if err := json.Unmarshal(raw, &head); err != nil || head.ID == nil {
		return "", false
	}
	return fmt.Sprint(head.ID), true
}

// Close tears down the upstream connection. Any Forward call still
// waiting on a response unblocks with an error.
func (f *Forwarder) Close() error {
	var err error
	f.closeOnce.Do(func() {
		err = f.client.Close()
	})
	return err
}

var _ dispatch.Forwarder = (*Forwarder)(nil)
