// Package protocol defines the bus subjects and message shapes used to reach
// the synthesis service over NATS.
package protocol

import "time"

const (
	// SubjectSynthesize is a request/reply subject: the reply carries a
	// SynthesizeReply.
	SubjectSynthesize = "tts.synthesize.v1"
	// SubjectSynthesizeDone is published after every completed request.
	SubjectSynthesizeDone = "tts.synthesize.done"
)

// SynthesizeRequest asks the service to produce audio for text.
type SynthesizeRequest struct {
	RequestID string   `json:"request_id,omitempty"`
	Text      string   `json:"text"`
	Voice     string   `json:"voice,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
	Pitch     *float64 `json:"pitch,omitempty"`
	Volume    *float64 `json:"volume,omitempty"`
	Format    string   `json:"format,omitempty"`
}

// SynthesizeReply carries the result. Audio is a complete WAV container;
// Error is set instead when synthesis failed.
type SynthesizeReply struct {
	RequestID  string `json:"request_id"`
	Audio      []byte `json:"audio,omitempty"`
	Format     string `json:"format,omitempty"`
	SampleRate int    `json:"sample_rate,omitempty"`
	DurationMS int64  `json:"duration_ms,omitempty"`
	Error      string `json:"error,omitempty"`
}

// SynthesizeStatus is the completion notice on SubjectSynthesizeDone.
type SynthesizeStatus struct {
	RequestID  string    `json:"request_id"`
	Voice      string    `json:"voice"`
	TextChars  int       `json:"text_chars"`
	DurationMS int64     `json:"duration_ms"`
	Failed     bool      `json:"failed"`
	Timestamp  time.Time `json:"timestamp"`
}
