package asr

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// MockEngine produces a result for every second of audio, marking every
// FinalEvery-th one final, and repeats the last text as final on half-close.
// Chunks are counted by bytes, so the "second" is only as accurate as the
// configured rate.
type MockEngine struct {
	// BytesPerSecond defaults to 6000, roughly a 48 kbit/s opus stream.
	BytesPerSecond int
	// FinalEvery defaults to 3.
	FinalEvery int
}

func (m *MockEngine) Name() string {
	return "mock"
}

func (m *MockEngine) Dial(ctx context.Context, _ Config) (Conn, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rate := m.BytesPerSecond
	if rate <= 0 {
		rate = 6000
	}
	finalEvery := m.FinalEvery
	if finalEvery <= 0 {
		finalEvery = 3
	}
	c := &mockConn{
		rate:       rate,
		finalEvery: finalEvery,
		responses:  make(chan Response, 16),
		closed:     make(chan struct{}),
	}
	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
	return c, nil
}

type mockConn struct {
	mu         sync.Mutex
	rate       int
	finalEvery int
	pending    int
	segment    int
	text       string
	sendDone   bool
	responses  chan Response
	closeOnce  sync.Once
	closed     chan struct{}
}

func (c *mockConn) Send(audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendDone {
		return io.ErrClosedPipe
	}
	select {
	case <-c.closed:
		return io.ErrClosedPipe
	default:
	}

	c.pending += len(audio)
	for c.pending >= c.rate {
		c.pending -= c.rate
		c.segment++
		c.text = fmt.Sprintf("mock segment %d", c.segment)
		final := c.segment%c.finalEvery == 0
		confidence := float32(0.5)
		if final {
			confidence = 0.9
		}
		c.emit(Response{Results: []Hypothesis{{
			Alternatives: []Alternative{{Transcript: c.text, Confidence: confidence}},
			IsFinal:      final,
		}}})
	}
	return nil
}

// emit drops the response when nobody is reading, like a recognizer that
// outruns its consumer.
func (c *mockConn) emit(resp Response) {
	select {
	case c.responses <- resp:
	default:
	}
}

func (c *mockConn) Recv() (Response, error) {
	select {
	case resp, ok := <-c.responses:
		if !ok {
			return Response{}, io.EOF
		}
		return resp, nil
	case <-c.closed:
		return Response{}, io.EOF
	}
}

func (c *mockConn) CloseSend() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendDone {
		return nil
	}
	c.sendDone = true
	c.emit(Response{Results: []Hypothesis{{
		Alternatives: []Alternative{{Transcript: c.text, Confidence: 0.9}},
		IsFinal:      true,
	}}})
	close(c.responses)
	return nil
}

func (c *mockConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}
