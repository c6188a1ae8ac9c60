package session

import (
	"context"
	"errors"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/envelope"
)

// SessionStore provides session persistence.
// This interface is defined in the domain to avoid circular imports.
type SessionStore interface {
	// Observe records env against the session it belongs to, creating the
	// session on first use, and returns the session's state after the
	// observation is applied.
	Observe(ctx context.Context, sessionID, agentID string, env *envelope.Envelope) (*Session, error)

	// Snapshot returns the current state of a session without mutating it.
	// Returns ErrSessionNotFound if the session does not exist.
	Snapshot(ctx context.Context, sessionID string) (*Session, error)

	// Sweep evicts sessions idle for longer than idleTimeout as of now,
	// returning the number evicted.
	Sweep(ctx context.Context, now time.Time, idleTimeout time.Duration) (int, error)
}

// ErrSessionNotFound is returned when a session doesn't exist.
var ErrSessionNotFound = errors.New("session not found")
