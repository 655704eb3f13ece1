package asr

import (
	"context"
	"fmt"
	"strings"

	speech "cloud.google.com/go/speech/apiv1"
	"cloud.google.com/go/speech/apiv1/speechpb"
	"google.golang.org/api/option"
)

// GoogleEngine streams to Cloud Speech-to-Text. One client is shared by all
// sessions; each Dial opens its own StreamingRecognize call.
type GoogleEngine struct {
	client *speech.Client
}

// NewGoogleEngine uses credentialsFile when set and Application Default
// Credentials otherwise.
func NewGoogleEngine(ctx context.Context, credentialsFile string) (*GoogleEngine, error) {
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := speech.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create speech client: %w", err)
	}
	return &GoogleEngine{client: client}, nil
}

func (e *GoogleEngine) Name() string {
	return "google"
}

func (e *GoogleEngine) Close() error {
	return e.client.Close()
}

func (e *GoogleEngine) Dial(ctx context.Context, cfg Config) (Conn, error) {
	rc, err := recognitionConfig(cfg)
	if err != nil {
		return nil, err
	}
	stream, err := e.client.StreamingRecognize(ctx)
	if err != nil {
		return nil, err
	}
	err = stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_StreamingConfig{
			StreamingConfig: &speechpb.StreamingRecognitionConfig{
				Config:         rc,
				InterimResults: cfg.InterimResults,
			},
		},
	})
	if err != nil {
		_ = stream.CloseSend()
		return nil, fmt.Errorf("send streaming config: %w", err)
	}
	return &googleConn{stream: stream}, nil
}

func recognitionConfig(cfg Config) (*speechpb.RecognitionConfig, error) {
	enc, ok := speechpb.RecognitionConfig_AudioEncoding_value[strings.ToUpper(cfg.Encoding)]
	if !ok {
		return nil, fmt.Errorf("unsupported audio encoding: %s", cfg.Encoding)
	}
	return &speechpb.RecognitionConfig{
		Encoding:                   speechpb.RecognitionConfig_AudioEncoding(enc),
		SampleRateHertz:            int32(cfg.SampleRateHertz),
		LanguageCode:               cfg.LanguageCode,
		EnableAutomaticPunctuation: cfg.EnableAutomaticPunctuation,
		Model:                      cfg.Model,
	}, nil
}

type googleConn struct {
	stream speechpb.Speech_StreamingRecognizeClient
}

func (c *googleConn) Send(audio []byte) error {
	return c.stream.Send(&speechpb.StreamingRecognizeRequest{
		StreamingRequest: &speechpb.StreamingRecognizeRequest_AudioContent{
			AudioContent: audio,
		},
	})
}

func (c *googleConn) Recv() (Response, error) {
	resp, err := c.stream.Recv()
	if err != nil {
		return Response{}, err
	}
	if st := resp.GetError(); st != nil && st.GetCode() != 0 {
		return Response{}, fmt.Errorf("speech api: code %d: %s", st.GetCode(), st.GetMessage())
	}
	return fromStreamingResponse(resp), nil
}

func (c *googleConn) CloseSend() error {
	return c.stream.CloseSend()
}

// Close is a no-op: the call is torn down by cancelling the context passed to
// Dial, which the Stream owns.
func (c *googleConn) Close() error {
	return nil
}

func fromStreamingResponse(resp *speechpb.StreamingRecognizeResponse) Response {
	out := Response{Results: make([]Hypothesis, 0, len(resp.GetResults()))}
	for _, r := range resp.GetResults() {
		h := Hypothesis{IsFinal: r.GetIsFinal()}
		for _, alt := range r.GetAlternatives() {
			h.Alternatives = append(h.Alternatives, Alternative{
				Transcript: alt.GetTranscript(),
				Confidence: alt.GetConfidence(),
			})
		}
		out.Results = append(out.Results, h)
	}
	return out
}
