// Package synth turns text into decoded audio by driving the remote
// synthesis server's multi-step call protocol, with a bounded result cache in
// front of it.
package synth

import (
	"context"
	"time"
)

// Format labels the container a buffer is tagged with. The pipeline always
// produces WAV; other values are carried through for callers, not transcoded.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
	FormatOGG Format = "ogg"
)

// Request describes one synthesis. Optional fields left at their zero value
// (empty voice, nil numeric options) are treated as absent.
type Request struct {
	Text   string   `json:"text"`
	Voice  string   `json:"voice,omitempty"`
	Speed  *float64 `json:"speed,omitempty"`
	Pitch  *float64 `json:"pitch,omitempty"`
	Volume *float64 `json:"volume,omitempty"`
	Format Format   `json:"format,omitempty"`
}

// AudioBuffer is a decoded synthesis result. Bytes holds a complete audio
// container and is treated as immutable by everything that shares it.
type AudioBuffer struct {
	Bytes      []byte
	Format     Format
	Duration   time.Duration
	SampleRate int
}

// Synthesizer produces audio for a text/voice pair.
type Synthesizer interface {
	Synthesize(ctx context.Context, text, voice string) (AudioBuffer, error)
}
