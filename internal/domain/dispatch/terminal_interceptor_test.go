package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"testing"

	"github.com/IsaacHuo/agent-firewall/internal/domain/policy"
)

type fakeForwarder struct {
	resp []byte
	err  error
}

func (f *fakeForwarder) Forward(ctx context.Context, rc *RequestContext) ([]byte, error) {
	return f.resp, f.err
}

func TestTerminalInterceptor_ForwardsAndRelaysResponse(t *testing.T) {
	forwarder := &fakeForwarder{resp: []byte(`{"jsonrpc":"2.0","id":"req-1","result":{}}`)}
	term := NewTerminalInterceptor(forwarder, slog.Default())

	rc := testEnv("tools/list")
	if err := term.Handle(context.Background(), rc); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}

	ch := rc.Env.Channel.(*fakeChannel)
	if len(ch.replies) != 1 {
		t.Fatalf("replies = %d, want 1", len(ch.replies))
	}
	if string(ch.replies[0]) != string(forwarder.resp) {
		t.Errorf("reply = %s, want %s", ch.replies[0], forwarder.resp)
	}
}

func TestTerminalInterceptor_ForwardFailureSynthesizesError(t *testing.T) {
	forwarder := &fakeForwarder{err: errors.New("upstream unreachable")}
	term := NewTerminalInterceptor(forwarder, slog.Default())

	rc := testEnv("tools/call")
	if err := term.Handle(context.Background(), rc); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}

	ch := rc.Env.Channel.(*fakeChannel)
	var parsed struct {
		Error struct {
			Code int `json:"code"`
			Data struct {
				Verdict string `json:"verdict"`
				Reason  string `json:"reason"`
			} `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(ch.replies[0], &parsed); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if parsed.Error.Code != RejectCode {
		t.Errorf("code = %d, want %d", parsed.Error.Code, RejectCode)
	}
	if parsed.Error.Data.Reason != "upstream_error" {
		t.Errorf("reason = %q, want upstream_error", parsed.Error.Data.Reason)
	}
}

func TestTerminalInterceptor_RejectedVerdictSynthesizesBlockError(t *testing.T) {
	term := NewTerminalInterceptor(&fakeForwarder{}, slog.Default())

	rc := testEnv("tools/call")
	rc.Verdict = &Verdict{Action: ActionReject, PolicyVerdict: policy.Block, Reason: "l1_critical"}

	if err := term.Handle(context.Background(), rc); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}

	ch := rc.Env.Channel.(*fakeChannel)
	var parsed struct {
		Error struct {
			Code int `json:"code"`
			Data struct {
				Verdict string `json:"verdict"`
				Reason  string `json:"reason"`
			} `json:"data"`
		} `json:"error"`
	}
	if err := json.Unmarshal(ch.replies[0], &parsed); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if parsed.Error.Code != RejectCode {
		t.Errorf("code = %d, want %d", parsed.Error.Code, RejectCode)
	}
	if parsed.Error.Data.Verdict != "block" || parsed.Error.Data.Reason != "l1_critical" {
		t.Errorf("data = %+v, want verdict=block reason=l1_critical", parsed.Error.Data)
	}
}

func TestTerminalInterceptor_ClosedChannelIsNoop(t *testing.T) {
	term := NewTerminalInterceptor(&fakeForwarder{}, slog.Default())

	rc := testEnv("tools/call")
	rc.Env.Channel.(*fakeChannel).closed = true
	rc.Verdict = &Verdict{Action: ActionReject, PolicyVerdict: policy.Block, Reason: "l1_critical"}

	if err := term.Handle(context.Background(), rc); err != nil {
		t.Fatalf("Handle() error: %v", err)
	}
	if len(rc.Env.Channel.(*fakeChannel).replies) != 0 {
		t.Error("closed channel should not receive a reply")
	}
}
