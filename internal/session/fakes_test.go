package session

import (
	"context"
	"io"
	"sync"
	"time"

	"speechbridge/internal/asr"
	"speechbridge/internal/domain"
)

type barrier struct{}

// fakeConn hands items to the stream's receive loop over an unbuffered
// channel. emit returns only after the result callback has run.
type fakeConn struct {
	mu        sync.Mutex
	sent      [][]byte
	items     chan any
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{items: make(chan any), closed: make(chan struct{})}
}

func (c *fakeConn) Send(audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}
	c.sent = append(c.sent, append([]byte(nil), audio...))
	return nil
}

func (c *fakeConn) Recv() (asr.Response, error) {
	for {
		select {
		case item := <-c.items:
			switch v := item.(type) {
			case barrier:
				continue
			case error:
				return asr.Response{}, v
			case asr.Response:
				return v, nil
			}
		case <-c.closed:
			return asr.Response{}, io.EOF
		}
	}
}

func (c *fakeConn) CloseSend() error { return nil }

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}

func (c *fakeConn) emit(text string, final bool) {
	c.items <- asr.Response{Results: []asr.Hypothesis{{
		Alternatives: []asr.Alternative{{Transcript: text}},
		IsFinal:      final,
	}}}
	c.items <- barrier{}
}

func (c *fakeConn) fail(err error) {
	c.items <- err
}

func (c *fakeConn) sentChunks() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.sent))
	for _, b := range c.sent {
		out = append(out, string(b))
	}
	return out
}

type fakeEngine struct {
	mu      sync.Mutex
	dialErr error
	block   chan struct{}
	conns   []*fakeConn
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Dial(ctx context.Context, _ asr.Config) (asr.Conn, error) {
	e.mu.Lock()
	block, dialErr := e.block, e.dialErr
	e.mu.Unlock()
	if block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-block:
		}
	}
	if dialErr != nil {
		return nil, dialErr
	}
	c := newFakeConn()
	e.mu.Lock()
	e.conns = append(e.conns, c)
	e.mu.Unlock()
	return c, nil
}

func (e *fakeEngine) conn(i int) *fakeConn {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conns[i]
}

func (e *fakeEngine) dials() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.conns)
}

type recordingSink struct {
	mu     sync.Mutex
	events []domain.SessionEvent
}

func (r *recordingSink) RecordSessionEvent(_ context.Context, ev domain.SessionEvent) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recordingSink) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Kind)
	}
	return out
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}
