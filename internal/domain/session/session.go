package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/envelope"
)

// DefaultIdleTimeout is how long a session may go without activity before
// the sweep evicts it.
const DefaultIdleTimeout = 30 * time.Minute

// Config holds session service configuration.
type Config struct {
	// IdleTimeout is the eviction threshold. Default: DefaultIdleTimeout.
	IdleTimeout time.Duration
	// RingCapacity is the number of recent envelopes retained per session.
	// Default: DefaultCapacity.
	RingCapacity int
}

// Service is the domain-facing entry point the Dispatcher's session-observe
// stage calls on every envelope. It does not own a goroutine; sweeping is
// driven externally on a ticker against the same Store.
type Service struct {
	store       SessionStore
	idleTimeout time.Duration
}

// NewService creates a Service over the given store.
func NewService(store SessionStore, cfg Config) *Service {
	idle := cfg.IdleTimeout
	if idle == 0 {
		idle = DefaultIdleTimeout
	}
	return &Service{store: store, idleTimeout: idle}
}

// Observe folds env into the session it belongs to, creating the session on
// first contact.
func (s *Service) Observe(ctx context.Context, env *envelope.Envelope) (*Session, error) {
	sess, err := s.store.Observe(ctx, env.SessionID, env.AgentID, env)
	if err != nil {
		return nil, fmt.Errorf("observe session: %w", err)
	}
	return sess, nil
}

// Snapshot returns a session's current state without recording new traffic.
func (s *Service) Snapshot(ctx context.Context, sessionID string) (*Session, error) {
	return s.store.Snapshot(ctx, sessionID)
}

// Sweep evicts sessions idle past the configured timeout.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	return s.store.Sweep(ctx, time.Now().UTC(), s.idleTimeout)
}

// IdleTimeout reports the configured eviction threshold.
func (s *Service) IdleTimeout() time.Duration {
	return s.idleTimeout
}

// GenerateSessionID creates a cryptographically random session ID, used by
// transport adapters when an inbound connection carries no session
// identifier of its own. Returns 64 hex characters (32 bytes).
func GenerateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}
