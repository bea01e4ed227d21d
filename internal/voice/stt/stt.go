// Package stt provides speech-to-text adapters.
package stt

import (
	"context"
	"strings"
)

// Transcriber converts caller audio to text.
//
// Silence is not an error: when no speech is detected the Transcript has an
// empty Text and err is nil. Errors are reserved for transport or provider failures.
type Transcriber interface {
	Transcribe(ctx context.Context, audio []byte, encoding string) (Transcript, error)
}

// Transcript is the result of transcription.
type Transcript struct {
	Text       string  // Full transcribed text, trimmed
	Confidence float64 // Provider confidence in [0,1] when reported
	Duration   float64 // Audio duration in seconds when reported
}

// Blank reports whether no speech was detected.
func (t Transcript) Blank() bool { return strings.TrimSpace(t.Text) == "" }

// Static returns a Transcriber for text already transcribed by the telephony
// provider (Twilio Gather speech results).
func Static(text string, confidence float64) Transcriber {
	return staticTranscriber{t: Transcript{Text: strings.TrimSpace(text), Confidence: confidence}}
}

type staticTranscriber struct{ t Transcript }

func (s staticTranscriber) Transcribe(ctx context.Context, audio []byte, encoding string) (Transcript, error) {
	return s.t, nil
}
