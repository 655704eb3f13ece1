package session

import (
	"errors"

	"speechbridge/internal/asr"
)

var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrSessionNotFound  = errors.New("session not found")
	ErrSessionNotActive = errors.New("no active stream")
	ErrAudioDecode      = errors.New("malformed audio data")

	ErrRecognizerUnavailable = asr.ErrRecognizerUnavailable
	ErrStreamBroken          = asr.ErrStreamBroken
)
