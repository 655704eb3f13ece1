package asr

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeEngine struct {
	dialErr error
	block   chan struct{}
	conn    *fakeConn
}

func (e *fakeEngine) Name() string { return "fake" }

func (e *fakeEngine) Dial(ctx context.Context, _ Config) (Conn, error) {
	if e.block != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-e.block:
		}
	}
	if e.dialErr != nil {
		return nil, e.dialErr
	}
	return e.conn, nil
}

type fakeConn struct {
	mu        sync.Mutex
	sent      [][]byte
	sendErr   error
	halfClose int

	responses chan Response
	errs      chan error
	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		responses: make(chan Response, 8),
		errs:      make(chan error, 1),
		closed:    make(chan struct{}),
	}
}

func (c *fakeConn) Send(audio []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.sent = append(c.sent, append([]byte(nil), audio...))
	return nil
}

func (c *fakeConn) Recv() (Response, error) {
	select {
	case resp := <-c.responses:
		return resp, nil
	case err := <-c.errs:
		return Response{}, err
	case <-c.closed:
		return Response{}, io.EOF
	}
}

func (c *fakeConn) CloseSend() error {
	c.mu.Lock()
	c.halfClose++
	c.mu.Unlock()
	return nil
}

func (c *fakeConn) Close() error {
	c.closeOnce.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) sentChunks() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func textResponse(text string, final bool) Response {
	return Response{Results: []Hypothesis{{
		Alternatives: []Alternative{{Transcript: text}},
		IsFinal:      final,
	}}}
}

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		resp Response
		want Result
	}{
		{name: "empty", resp: Response{}, want: Result{}},
		{name: "no alternatives", resp: Response{Results: []Hypothesis{{IsFinal: true}}}, want: Result{IsFinal: true}},
		{name: "interim", resp: textResponse("hel", false), want: Result{Transcript: "hel"}},
		{
			name: "top candidate only",
			resp: Response{Results: []Hypothesis{
				{Alternatives: []Alternative{{Transcript: "hello"}, {Transcript: "yellow"}}, IsFinal: true},
				{Alternatives: []Alternative{{Transcript: "ignored"}}},
			}},
			want: Result{Transcript: "hello", IsFinal: true},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Normalize(tt.resp))
		})
	}
}

func TestStreamDeliversNormalizedResults(t *testing.T) {
	conn := newFakeConn()
	results := make(chan Result, 2)
	s := NewStream(&fakeEngine{conn: conn}, Config{}, Handlers{
		OnResult: func(r Result) { results <- r },
	}, nil)

	require.NoError(t, s.Open(context.Background()))
	require.Equal(t, StateActive, s.State())

	require.NoError(t, s.Write([]byte("chunk-1")))
	require.NoError(t, s.Write([]byte("chunk-2")))
	assert.Equal(t, [][]byte{[]byte("chunk-1"), []byte("chunk-2")}, conn.sentChunks())

	conn.responses <- textResponse("hel", false)
	conn.responses <- Response{}

	select {
	case r := <-results:
		assert.Equal(t, Result{Transcript: "hel"}, r)
	case <-time.After(time.Second):
		t.Fatal("no result delivered")
	}
	select {
	case r := <-results:
		assert.Equal(t, Result{}, r)
	case <-time.After(time.Second):
		t.Fatal("empty event not delivered")
	}

	require.NoError(t, s.Close())
}

func TestStreamWriteRequiresActive(t *testing.T) {
	s := NewStream(&fakeEngine{conn: newFakeConn()}, Config{}, Handlers{}, nil)
	assert.ErrorIs(t, s.Write([]byte("x")), ErrNotActive)

	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.Close())
	assert.ErrorIs(t, s.Write([]byte("x")), ErrNotActive)
	assert.ErrorIs(t, s.Open(context.Background()), ErrNotActive)
}

func TestStreamCloseIsIdempotent(t *testing.T) {
	conn := newFakeConn()
	s := NewStream(&fakeEngine{conn: conn}, Config{}, Handlers{}, nil)
	require.NoError(t, s.Open(context.Background()))

	require.NoError(t, s.Close())
	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, conn.halfClose)

	select {
	case <-s.Done():
	case <-time.After(time.Second):
		t.Fatal("stream never finished")
	}
}

func TestStreamOpenFailure(t *testing.T) {
	s := NewStream(&fakeEngine{dialErr: errors.New("bad config")}, Config{}, Handlers{}, nil)
	err := s.Open(context.Background())
	require.ErrorIs(t, err, ErrRecognizerUnavailable)
	assert.Equal(t, StateClosed, s.State())
	assert.NoError(t, s.Close())
}

func TestStreamCloseCancelsOpen(t *testing.T) {
	engine := &fakeEngine{block: make(chan struct{}), conn: newFakeConn()}
	s := NewStream(engine, Config{}, Handlers{}, nil)

	errCh := make(chan error, 1)
	go func() { errCh <- s.Open(context.Background()) }()

	require.Eventually(t, func() bool { return s.State() == StateOpening }, time.Second, 5*time.Millisecond)
	require.NoError(t, s.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrNotActive)
	case <-time.After(time.Second):
		t.Fatal("open did not return after close")
	}
	assert.Equal(t, StateClosed, s.State())
}

func TestStreamOpenHonoursCallerContext(t *testing.T) {
	engine := &fakeEngine{block: make(chan struct{}), conn: newFakeConn()}
	s := NewStream(engine, Config{}, Handlers{}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := s.Open(ctx)
	require.ErrorIs(t, err, ErrRecognizerUnavailable)
	assert.Equal(t, StateClosed, s.State())
}

func TestStreamBrokenReportsOnce(t *testing.T) {
	conn := newFakeConn()
	var mu sync.Mutex
	var errs []error
	s := NewStream(&fakeEngine{conn: conn}, Config{}, Handlers{
		OnError: func(err error) {
			mu.Lock()
			errs = append(errs, err)
			mu.Unlock()
		},
	}, nil)
	require.NoError(t, s.Open(context.Background()))

	conn.errs <- errors.New("connection reset")

	require.Eventually(t, func() bool { return s.State() == StateClosed }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, s.Write([]byte("x")), ErrNotActive)
	require.NoError(t, s.Close())

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrStreamBroken)
}

func TestStreamEndedByRecognizerIsBroken(t *testing.T) {
	conn := newFakeConn()
	broken := make(chan error, 1)
	s := NewStream(&fakeEngine{conn: conn}, Config{}, Handlers{
		OnError: func(err error) { broken <- err },
	}, nil)
	require.NoError(t, s.Open(context.Background()))

	conn.errs <- io.EOF

	select {
	case err := <-broken:
		assert.ErrorIs(t, err, ErrStreamBroken)
	case <-time.After(time.Second):
		t.Fatal("end of stream not reported")
	}
}

func TestStreamWriteFailureBreaksStream(t *testing.T) {
	conn := newFakeConn()
	conn.sendErr = errors.New("broken pipe")
	broken := make(chan error, 1)
	s := NewStream(&fakeEngine{conn: conn}, Config{}, Handlers{
		OnError: func(err error) { broken <- err },
	}, nil)
	require.NoError(t, s.Open(context.Background()))

	err := s.Write([]byte("x"))
	require.ErrorIs(t, err, ErrStreamBroken)
	assert.Equal(t, StateClosed, s.State())
	assert.ErrorIs(t, <-broken, ErrStreamBroken)
}

func TestStreamIgnoresResultsAfterClose(t *testing.T) {
	conn := newFakeConn()
	var calls int
	var mu sync.Mutex
	s := NewStream(&fakeEngine{conn: conn}, Config{}, Handlers{
		OnResult: func(Result) {
			mu.Lock()
			calls++
			mu.Unlock()
		},
		OnError: func(error) { t.Error("close must not report an error") },
	}, nil)
	require.NoError(t, s.Open(context.Background()))
	require.NoError(t, s.Close())

	<-s.Done()
	mu.Lock()
	defer mu.Unlock()
	assert.Zero(t, calls)
}
