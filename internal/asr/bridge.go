package asr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	bridgeDialMaxAttempts = 3
	bridgeDialRetryDelay  = 500 * time.Millisecond
	bridgeWriteWait       = 5 * time.Second
)

// BridgeEngine talks to an ASR bridge over a websocket. The first text frame
// carries the Config, audio goes out as binary frames, and results come back
// as JSON text frames.
type BridgeEngine struct {
	BaseURL string
	Dialer  *websocket.Dialer
}

type bridgeResult struct {
	Text    string `json:"text"`
	IsFinal bool   `json:"is_final"`
	Error   string `json:"error,omitempty"`
}

type bridgeControl struct {
	Event  string  `json:"event"`
	Config *Config `json:"config,omitempty"`
}

func (e *BridgeEngine) Name() string {
	return "bridge"
}

func (e *BridgeEngine) Dial(ctx context.Context, cfg Config) (Conn, error) {
	if e.BaseURL == "" {
		return nil, errors.New("ASR bridge URL is empty")
	}
	u, err := url.Parse(e.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid ASR bridge URL: %w", err)
	}

	dialer := e.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	var conn *websocket.Conn
	for attempt := 1; attempt <= bridgeDialMaxAttempts; attempt++ {
		conn, _, err = dialer.DialContext(ctx, u.String(), nil)
		if err == nil {
			break
		}
		if attempt == bridgeDialMaxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(bridgeDialRetryDelay):
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect ASR bridge failed after %d attempts: %w", bridgeDialMaxAttempts, err)
	}

	c := &bridgeConn{conn: conn}
	if err := c.writeJSON(bridgeControl{Event: "config", Config: &cfg}); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send ASR bridge config: %w", err)
	}

	go func() {
		<-ctx.Done()
		_ = c.Close()
	}()
	return c, nil
}

type bridgeConn struct {
	conn *websocket.Conn

	writeMu sync.Mutex
	once    sync.Once
}

func (c *bridgeConn) writeJSON(v any) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(bridgeWriteWait))
	return c.conn.WriteJSON(v)
}

func (c *bridgeConn) Send(audio []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(bridgeWriteWait))
	return c.conn.WriteMessage(websocket.BinaryMessage, audio)
}

func (c *bridgeConn) Recv() (Response, error) {
	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return Response{}, io.EOF
			}
			return Response{}, err
		}
		if messageType != websocket.TextMessage {
			continue
		}
		var result bridgeResult
		if err := json.Unmarshal(payload, &result); err != nil {
			continue
		}
		if result.Error != "" {
			return Response{}, fmt.Errorf("ASR bridge: %s", result.Error)
		}
		return Response{Results: []Hypothesis{{
			Alternatives: []Alternative{{Transcript: result.Text}},
			IsFinal:      result.IsFinal,
		}}}, nil
	}
}

func (c *bridgeConn) CloseSend() error {
	return c.writeJSON(bridgeControl{Event: "flush"})
}

func (c *bridgeConn) Close() error {
	var err error
	c.once.Do(func() {
		_ = c.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"),
			time.Now().Add(time.Second),
		)
		err = c.conn.Close()
	})
	return err
}
