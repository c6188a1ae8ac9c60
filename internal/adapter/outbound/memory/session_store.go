// Package memory provides in-memory implementations of outbound ports.
package memory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/IsaacHuo/agent-firewall/internal/domain/envelope"
	"github.com/IsaacHuo/agent-firewall/internal/domain/session"
)

// DefaultSweepInterval is the default interval between idle-session sweeps.
const DefaultSweepInterval = 1 * time.Minute

// SessionStore implements session.SessionStore with an in-memory map,
// guarded by a single mutex. Background sweeping removes idle sessions
// periodically; it is started separately via StartSweep so the store can
// be constructed and used in tests without a goroutine running.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*sessionEntry

	capacity      int
	stopChan      chan struct{}
	wg            sync.WaitGroup
	sweepInterval time.Duration
	idleTimeout   time.Duration
	once          sync.Once
}

type sessionEntry struct {
	ring     []*envelope.Envelope
	head     int
	count    int
	agentID  string
	created  time.Time
	lastSeen time.Time
}

// NewSessionStore creates an in-memory session store. capacity is the
// per-session ring size (0 uses session.DefaultCapacity).
func NewSessionStore(capacity int) *SessionStore {
	if capacity <= 0 {
		capacity = session.DefaultCapacity
	}
	return &SessionStore{
		sessions:      make(map[string]*sessionEntry),
		capacity:      capacity,
		stopChan:      make(chan struct{}),
		sweepInterval: DefaultSweepInterval,
		idleTimeout:   session.DefaultIdleTimeout,
	}
}

// StartSweep starts the background eviction goroutine. Call Stop to shut it
// down gracefully.
func (s *SessionStore) StartSweep(ctx context.Context, interval, idleTimeout time.Duration) {
	if interval > 0 {
		s.sweepInterval = interval
	}
	if idleTimeout > 0 {
		s.idleTimeout = idleTimeout
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.sweepInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopChan:
				return
			case <-ticker.C:
				if n, err := s.Sweep(ctx, time.Now().UTC(), s.idleTimeout); err == nil && n > 0 {
					slog.Debug("swept idle sessions", "count", n)
				}
			}
		}
	}()
}

// Stop stops the background sweep goroutine. Safe to call multiple times.
func (s *SessionStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

// Observe implements session.SessionStore.
func (s *SessionStore) Observe(ctx context.Context, sessionID, agentID string, env *envelope.Envelope) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		entry = &sessionEntry{
			ring:    make([]*envelope.Envelope, s.capacity),
			agentID: agentID,
			created: time.Now().UTC(),
		}
		s.sessions[sessionID] = entry
	}

	entry.ring[entry.head] = env
	entry.head = (entry.head + 1) % len(entry.ring)
	if entry.count < len(entry.ring) {
		entry.count++
	}
	entry.lastSeen = time.Now().UTC()

	return entry.toDomain(sessionID), nil
}

// Snapshot implements session.SessionStore.
func (s *SessionStore) Snapshot(ctx context.Context, sessionID string) (*session.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[sessionID]
	if !ok {
		return nil, session.ErrSessionNotFound
	}
	return entry.toDomain(sessionID), nil
}

// Sweep implements session.SessionStore. A session is evicted only if its
// last-seen time predates now by more than idleTimeout; any Observe call
// that lands before the corresponding map entry is visited during this
// scan updates lastSeen first, under the same lock, so it cannot be
// evicted for traffic that arrived after the sweep began.
func (s *SessionStore) Sweep(ctx context.Context, now time.Time, idleTimeout time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	evicted := 0
	for id, entry := range s.sessions {
		if now.Sub(entry.lastSeen) > idleTimeout {
			delete(s.sessions, id)
			evicted++
		}
	}
	return evicted, nil
}

// Size returns the number of sessions currently stored, for tests.
func (s *SessionStore) Size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

func (e *sessionEntry) toDomain(id string) *session.Session {
	sess := session.NewSession(id, e.agentID, len(e.ring))
	start := e.head - e.count
	for i := 0; i < e.count; i++ {
		pos := ((start+i)%len(e.ring) + len(e.ring)) % len(e.ring)
		sess.RestoreEnvelope(e.ring[pos])
	}
	sess.CreatedAt = e.created
	sess.LastActive = e.lastSeen
	return sess
}

// Compile-time interface verification.
var _ session.SessionStore = (*SessionStore)(nil)
