package voice

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// UnsupportedMessage is shown when no recognizer is configured.
const UnsupportedMessage = "Voice input not supported"

var (
	ErrUnsupported  = errors.New(UnsupportedMessage)
	ErrNoTranscript = errors.New("no speech recognized")
	ErrEmptyAudio   = errors.New("audio clip is empty")
)

// Recognizer turns one audio clip into candidate transcripts, best first.
type Recognizer interface {
	Transcribe(ctx context.Context, audio []byte) ([]string, error)
}

// Input delivers a single transcript per clip. No interim results.
type Input struct {
	recognizer Recognizer
}

// NewInput wraps r; a nil r yields an Input that reports ErrUnsupported.
func NewInput(r Recognizer) *Input {
	return &Input{recognizer: r}
}

func (in *Input) Supported() bool {
	return in != nil && in.recognizer != nil
}

// Listen transcribes audio once and hands the first transcript to onResult.
func (in *Input) Listen(ctx context.Context, audio []byte, onResult func(string)) error {
	if !in.Supported() {
		return ErrUnsupported
	}
	if len(audio) == 0 {
		return ErrEmptyAudio
	}
	transcripts, err := in.recognizer.Transcribe(ctx, audio)
	if err != nil {
		return fmt.Errorf("recognize speech: %w", err)
	}
	for _, t := range transcripts {
		if strings.TrimSpace(t) == "" {
			continue
		}
		if onResult != nil {
			onResult(t)
		}
		return nil
	}
	return ErrNoTranscript
}
