package asr

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
)

type State int32

const (
	StateOpening State = iota
	StateActive
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpening:
		return "opening"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Handlers receive recognizer callbacks. Both run on the stream's receive
// goroutine, outside any caller's request.
type Handlers struct {
	OnResult func(Result)
	// OnError fires at most once, when an active stream breaks.
	OnError func(error)
}

// Stream is the handle of one recognizer call. It moves
// Opening -> Active -> Closing -> Closed, or straight to Closed when the open
// fails or the transport breaks.
type Stream struct {
	engine   Engine
	cfg      Config
	handlers Handlers
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	state State
	conn  Conn

	sendMu   sync.Mutex
	doneOnce sync.Once
	done     chan struct{}
}

func NewStream(engine Engine, cfg Config, handlers Handlers, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Stream{
		engine:   engine,
		cfg:      cfg,
		handlers: handlers,
		logger:   logger,
		ctx:      ctx,
		cancel:   cancel,
		state:    StateOpening,
		done:     make(chan struct{}),
	}
}

func (s *Stream) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Done is closed once the stream has fully released its transport.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Open dials the recognizer. ctx only bounds the dial; the stream itself
// lives until Close or a transport failure.
func (s *Stream) Open(ctx context.Context) error {
	if s.State() != StateOpening {
		return ErrNotActive
	}

	stop := context.AfterFunc(ctx, s.cancel)
	conn, err := s.engine.Dial(s.ctx, s.cfg)
	if !stop() && err == nil {
		err = ctx.Err()
		_ = conn.Close()
		conn = nil
	}

	s.mu.Lock()
	if s.state != StateOpening {
		s.mu.Unlock()
		if conn != nil {
			_ = conn.Close()
		}
		return fmt.Errorf("%w: closed while opening", ErrNotActive)
	}
	if err != nil {
		s.state = StateClosed
		s.mu.Unlock()
		s.cancel()
		s.finish()
		return fmt.Errorf("%w: %s: %v", ErrRecognizerUnavailable, s.engine.Name(), err)
	}
	s.conn = conn
	s.state = StateActive
	s.mu.Unlock()

	go s.receive(conn)
	return nil
}

func (s *Stream) Write(audio []byte) error {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return ErrNotActive
	}
	conn := s.conn
	s.mu.Unlock()

	s.sendMu.Lock()
	err := conn.Send(audio)
	s.sendMu.Unlock()
	if err == nil {
		return nil
	}
	if s.State() != StateActive {
		return ErrNotActive
	}
	broken := fmt.Errorf("%w: write: %v", ErrStreamBroken, err)
	s.fail(broken)
	return broken
}

// Close ends the stream and releases the transport. It is safe to call more
// than once and from any state; closing an Opening stream aborts the dial.
func (s *Stream) Close() error {
	s.mu.Lock()
	if s.state == StateClosing || s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	wasOpening := s.state == StateOpening
	s.state = StateClosing
	conn := s.conn
	s.mu.Unlock()

	var err error
	if conn != nil && s.sendMu.TryLock() {
		err = conn.CloseSend()
		s.sendMu.Unlock()
	}
	s.cancel()
	if conn != nil {
		if cerr := conn.Close(); err == nil {
			err = cerr
		}
	}

	s.mu.Lock()
	s.state = StateClosed
	s.mu.Unlock()
	if wasOpening {
		s.finish()
	}
	return err
}

func (s *Stream) receive(conn Conn) {
	defer s.finish()
	for {
		resp, err := conn.Recv()
		if err != nil {
			if s.State() != StateActive {
				return
			}
			if errors.Is(err, io.EOF) {
				s.fail(fmt.Errorf("%w: ended by recognizer", ErrStreamBroken))
				return
			}
			s.fail(fmt.Errorf("%w: %v", ErrStreamBroken, err))
			return
		}
		if s.State() != StateActive {
			return
		}
		if s.handlers.OnResult != nil {
			s.handlers.OnResult(Normalize(resp))
		}
	}
}

func (s *Stream) fail(err error) {
	s.mu.Lock()
	if s.state != StateActive {
		s.mu.Unlock()
		return
	}
	s.state = StateClosed
	conn := s.conn
	s.mu.Unlock()

	s.cancel()
	_ = conn.Close()
	s.logger.Warn("recognizer stream failed", "engine", s.engine.Name(), "error", err)
	if s.handlers.OnError != nil {
		s.handlers.OnError(err)
	}
}

func (s *Stream) finish() {
	s.doneOnce.Do(func() { close(s.done) })
}
