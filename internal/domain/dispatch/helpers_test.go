package dispatch

import (
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/envelope"
)

// fakeChannel is a minimal envelope.ReplyChannel for tests.
type fakeChannel struct {
	closed   bool
	replies  [][]byte
	replyErr error
}

func (f *fakeChannel) Reply(data []byte) error {
	f.replies = append(f.replies, data)
	return f.replyErr
}

func (f *fakeChannel) Closed() bool {
	return f.closed
}

func testEnvelope(method string) *envelope.Envelope {
	return &envelope.Envelope{
		RequestID:   "req-1",
		SessionID:   "sess-1",
		AgentID:     "agent-1",
		Method:      method,
		Raw:         []byte(`{"jsonrpc":"2.0","method":"` + method + `"}`),
		ArrivalMono: time.Now(),
		ArrivalWall: time.Now(),
		Channel:     &fakeChannel{},
	}
}
