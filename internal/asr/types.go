package asr

import (
	"context"
	"errors"
)

var (
	ErrRecognizerUnavailable = errors.New("recognizer unavailable")
	ErrStreamBroken          = errors.New("recognizer stream broken")
	ErrNotActive             = errors.New("recognizer stream not active")
)

// Config is sent to the recognizer when a stream is opened.
type Config struct {
	Encoding                   string `json:"encoding"`
	SampleRateHertz            int    `json:"sample_rate_hertz"`
	LanguageCode               string `json:"language_code"`
	EnableAutomaticPunctuation bool   `json:"enable_automatic_punctuation"`
	Model                      string `json:"model"`
	InterimResults             bool   `json:"interim_results"`
}

type Alternative struct {
	Transcript string
	Confidence float32
}

// Hypothesis is one recognition result with its ranked alternatives.
type Hypothesis struct {
	Alternatives []Alternative
	IsFinal      bool
}

// Response is a single event emitted by the recognizer.
type Response struct {
	Results []Hypothesis
}

// Result is the normalized form of a Response: top result, top alternative.
type Result struct {
	Transcript string
	IsFinal    bool
}

// Normalize picks the top candidate of a response. Responses without
// candidates yield an empty, non-final transcript.
func Normalize(resp Response) Result {
	if len(resp.Results) == 0 {
		return Result{}
	}
	top := resp.Results[0]
	out := Result{IsFinal: top.IsFinal}
	if len(top.Alternatives) > 0 {
		out.Transcript = top.Alternatives[0].Transcript
	}
	return out
}

// Conn is one live bidirectional call to a recognizer.
// Send and Recv may be called concurrently with each other but Send is not
// safe for concurrent use.
type Conn interface {
	Send(audio []byte) error
	// Recv blocks for the next response and returns io.EOF when the
	// recognizer ends the stream cleanly.
	Recv() (Response, error)
	CloseSend() error
	Close() error
}

type Engine interface {
	Name() string
	// Dial opens a stream. ctx bounds the lifetime of the returned Conn.
	Dial(ctx context.Context, cfg Config) (Conn, error)
}
