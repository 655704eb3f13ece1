package session

import (
	"sync"
	"sync/atomic"
	"time"

	"speechbridge/internal/asr"
	"speechbridge/internal/domain"
)

// Session is one recognition conversation. Only the Registry hands it out and
// callers must not keep it across requests.
type Session struct {
	ID        string
	CreatedAt time.Time

	stream  *asr.Stream
	mailbox Mailbox

	// mu serializes writes to the stream and guards the staging buffer, so
	// chunks reach the recognizer in arrival order.
	mu     sync.Mutex
	live   bool
	staged [][]byte

	lastActive atomic.Int64
	chunks     atomic.Int64
	bytes      atomic.Int64
}

func newSession(id string, now time.Time) *Session {
	s := &Session{ID: id, CreatedAt: now}
	s.touch(now)
	return s
}

func (s *Session) touch(now time.Time) {
	s.lastActive.Store(now.UnixNano())
}

func (s *Session) LastActive() time.Time {
	return time.Unix(0, s.lastActive.Load())
}

func (s *Session) State() asr.State {
	return s.stream.State()
}

func (s *Session) Info() domain.SessionInfo {
	return domain.SessionInfo{
		SessionID:    s.ID,
		State:        s.State().String(),
		CreatedAt:    s.CreatedAt,
		LastActiveAt: s.LastActive(),
		Chunks:       s.chunks.Load(),
		Bytes:        s.bytes.Load(),
	}
}

func (s *Session) event(kind, reason, provider string, at time.Time) domain.SessionEvent {
	return domain.SessionEvent{
		SessionID: s.ID,
		Kind:      kind,
		Reason:    reason,
		Provider:  provider,
		Chunks:    s.chunks.Load(),
		Bytes:     s.bytes.Load(),
		At:        at,
	}
}
