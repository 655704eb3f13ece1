package session

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"speechbridge/internal/asr"
	"speechbridge/internal/domain"
)

const sinkTimeout = 2 * time.Second

// EventSink receives session lifecycle events.
type EventSink interface {
	RecordSessionEvent(ctx context.Context, ev domain.SessionEvent) error
}

type Config struct {
	Recognition     asr.Config
	IdleTimeout     time.Duration
	OpenTimeout     time.Duration
	MaxStagedChunks int
}

// Service implements start, audio, poll and stop on top of a Registry.
type Service struct {
	registry *Registry
	engine   asr.Engine
	cfg      Config
	sinks    []EventSink
	logger   *slog.Logger
	now      func() time.Time
}

func New(cfg Config, registry *Registry, engine asr.Engine, sinks []EventSink, logger *slog.Logger) *Service {
	if cfg.MaxStagedChunks <= 0 {
		cfg.MaxStagedChunks = 16
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		registry: registry,
		engine:   engine,
		cfg:      cfg,
		sinks:    sinks,
		logger:   logger,
		now:      time.Now,
	}
}

// Start opens a recognizer stream for sessionID, issuing a new id when it is
// empty. Starting an id that is already live closes the old stream and
// replaces the session.
func (s *Service) Start(ctx context.Context, sessionID string) (string, error) {
	sessionID = strings.TrimSpace(sessionID)
	if sessionID == "" {
		sessionID = uuid.NewString()
	}

	now := s.now()
	sess := newSession(sessionID, now)
	sess.stream = asr.NewStream(s.engine, s.cfg.Recognition, asr.Handlers{
		OnResult: func(r asr.Result) { s.deliver(sess, r) },
		OnError:  func(err error) { s.handleBroken(sess, err) },
	}, s.logger.With("session_id", sessionID))

	if prev := s.registry.Put(sess); prev != nil {
		if err := prev.stream.Close(); err != nil {
			s.logger.Warn("close replaced stream failed", "session_id", sessionID, "error", err)
		}
		s.logger.Info("session restarted", "session_id", sessionID)
		s.emit(ctx, prev.event(domain.EventRestarted, "duplicate start", s.engine.Name(), now))
	}

	openCtx := ctx
	if s.cfg.OpenTimeout > 0 {
		var cancel context.CancelFunc
		openCtx, cancel = context.WithTimeout(ctx, s.cfg.OpenTimeout)
		defer cancel()
	}
	if err := sess.stream.Open(openCtx); err != nil {
		s.registry.RemoveIf(sessionID, sess)
		if errors.Is(err, asr.ErrRecognizerUnavailable) {
			s.logger.Error("open recognizer stream failed", "session_id", sessionID, "error", err)
			return "", err
		}
		return "", fmt.Errorf("%w: stopped while opening", ErrSessionNotActive)
	}

	if err := s.goLive(sess); err != nil {
		if s.registry.RemoveIf(sessionID, sess) {
			s.closeSession(ctx, sess, domain.EventBroken, err.Error())
		}
		return "", fmt.Errorf("%w: %v", ErrSessionNotActive, err)
	}

	s.logger.Info("session started", "session_id", sessionID, "engine", s.engine.Name())
	s.emit(ctx, sess.event(domain.EventStarted, "", s.engine.Name(), now))
	return sessionID, nil
}

// goLive flushes audio staged while the stream was opening.
func (s *Service) goLive(sess *Session) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.stream.State() != asr.StateActive {
		sess.staged = nil
		return asr.ErrNotActive
	}
	staged := sess.staged
	sess.staged = nil
	sess.live = true
	for _, chunk := range staged {
		if err := sess.stream.Write(chunk); err != nil {
			return err
		}
	}
	if len(staged) > 0 {
		s.logger.Debug("flushed staged audio", "session_id", sess.ID, "chunks", len(staged))
	}
	return nil
}

// Audio decodes one base64 chunk, forwards it and drains the mailbox.
// A malformed chunk is rejected without ending the session.
func (s *Service) Audio(ctx context.Context, sessionID, audioData string) (*domain.Result, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionId required", ErrInvalidRequest)
	}
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotActive
	}
	if audioData == "" {
		return nil, fmt.Errorf("%w: audioData required", ErrInvalidRequest)
	}
	chunk, err := base64.StdEncoding.DecodeString(audioData)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrAudioDecode, err)
	}

	sess.touch(s.now())
	if err := s.write(sess, chunk); err != nil {
		if s.registry.RemoveIf(sessionID, sess) {
			s.closeSession(ctx, sess, domain.EventBroken, err.Error())
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionNotActive, err)
	}
	res, _ := s.registry.TakeLastResult(sessionID)
	return res, nil
}

func (s *Service) write(sess *Session, chunk []byte) error {
	sess.mu.Lock()
	defer sess.mu.Unlock()

	if sess.live {
		if err := sess.stream.Write(chunk); err != nil {
			return err
		}
	} else {
		// Active but not yet live means Start has not flushed the staging
		// buffer; goLive drains it under mu, so order is kept.
		if st := sess.stream.State(); st != asr.StateOpening && st != asr.StateActive {
			return asr.ErrNotActive
		}
		if len(sess.staged) >= s.cfg.MaxStagedChunks {
			sess.staged = sess.staged[1:]
			s.logger.Warn("staging buffer full, dropping oldest chunk", "session_id", sess.ID)
		}
		sess.staged = append(sess.staged, chunk)
	}
	sess.chunks.Add(1)
	sess.bytes.Add(int64(len(chunk)))
	return nil
}

// Poll drains the mailbox without sending audio.
func (s *Service) Poll(_ context.Context, sessionID string) (*domain.Result, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: sessionId required", ErrInvalidRequest)
	}
	sess, ok := s.registry.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	sess.touch(s.now())
	res, ok := s.registry.TakeLastResult(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	return res, nil
}

// Stop closes and forgets the session. Stopping an unknown id is a no-op.
func (s *Service) Stop(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return fmt.Errorf("%w: sessionId required", ErrInvalidRequest)
	}
	sess := s.registry.Remove(sessionID)
	if sess == nil {
		s.logger.Debug("stop for unknown session", "session_id", sessionID)
		return nil
	}
	s.closeSession(ctx, sess, domain.EventStopped, "")
	return nil
}

// RunIdleReaper evicts sessions that saw no audio or poll for IdleTimeout.
func (s *Service) RunIdleReaper(ctx context.Context, interval time.Duration) {
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	if interval <= 0 {
		interval = s.cfg.IdleTimeout / 2
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.ReapIdle(ctx); n > 0 {
				s.logger.Info("evicted idle sessions", "count", n, "remaining", s.registry.Len())
			}
		}
	}
}

func (s *Service) ReapIdle(ctx context.Context) int {
	cutoff := s.now().Add(-s.cfg.IdleTimeout)
	evicted := 0
	for _, sess := range s.registry.Idle(cutoff) {
		if !sess.LastActive().Before(cutoff) {
			continue
		}
		if !s.registry.RemoveIf(sess.ID, sess) {
			continue
		}
		s.closeSession(ctx, sess, domain.EventEvicted, fmt.Sprintf("idle for %s", s.cfg.IdleTimeout))
		evicted++
	}
	return evicted
}

// Shutdown closes every session. The registry is empty afterwards.
func (s *Service) Shutdown(ctx context.Context) {
	for _, sess := range s.registry.Drain() {
		s.closeSession(ctx, sess, domain.EventShutdown, "server shutdown")
	}
}

func (s *Service) Sessions() []domain.SessionInfo {
	return s.registry.Snapshot()
}

func (s *Service) ActiveCount() int {
	return s.registry.Len()
}

func (s *Service) closeSession(ctx context.Context, sess *Session, kind, reason string) {
	if err := sess.stream.Close(); err != nil {
		s.logger.Warn("close recognizer stream failed", "session_id", sess.ID, "error", err)
	}
	s.logger.Info("session closed", "session_id", sess.ID, "kind", kind, "chunks", sess.chunks.Load())
	s.emit(ctx, sess.event(kind, reason, s.engine.Name(), s.now()))
}

func (s *Service) deliver(sess *Session, r asr.Result) {
	sess.mailbox.Put(domain.Result{
		Transcript: r.Transcript,
		IsFinal:    r.IsFinal,
		Timestamp:  s.now().UnixMilli(),
	})
	s.logger.Debug("hear", "session_id", sess.ID, "final", r.IsFinal, "len", len(r.Transcript))
}

func (s *Service) handleBroken(sess *Session, err error) {
	if !s.registry.RemoveIf(sess.ID, sess) {
		return
	}
	s.logger.Error("session stream broken", "session_id", sess.ID, "error", err)
	s.emit(context.Background(), sess.event(domain.EventBroken, err.Error(), s.engine.Name(), s.now()))
}

func (s *Service) emit(ctx context.Context, ev domain.SessionEvent) {
	for _, sink := range s.sinks {
		sinkCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
		if err := sink.RecordSessionEvent(sinkCtx, ev); err != nil {
			s.logger.Warn("record session event failed", "session_id", ev.SessionID, "kind", ev.Kind, "error", err)
		}
		cancel()
	}
}
