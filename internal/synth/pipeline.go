package synth

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"github.com/ttsmate/ttsmate-core/internal/wav"
)

// Endpoint names exposed by the synthesis server. Each is one submit/poll
// pair; the two seed endpoints are distinct server functions, not one
// endpoint called twice.
const (
	endpointVoiceChange   = "on_voice_change"
	endpointAudioSeed     = "generate_seed"
	endpointTextSeed      = "generate_seed_1"
	endpointSeedEmbedding = "on_audio_seed_change"
	endpointRefineText    = "refine_text"
	endpointGenerateAudio = "generate_audio"
)

// Transport runs one complete submit/poll call. Implemented by
// *gradio.Client.
type Transport interface {
	Call(ctx context.Context, endpoint string, args []any, out any) error
}

// Sampling holds the model sampling parameters sent with the refine and
// generate steps.
type Sampling struct {
	Temperature float64
	TopP        float64
	TopK        int
}

// PipelineConfig tunes the protocol exchange.
type PipelineConfig struct {
	RefineText bool
	Sampling   Sampling
	BatchSize  int
}

// Pipeline drives the six-step protocol for one request at a time. Steps are
// strictly sequential: each depends on server-side state set by the previous
// one. Any step failure aborts the chain; there is no partial result.
type Pipeline struct {
	transport Transport
	cfg       PipelineConfig
	log       *slog.Logger
}

// NewPipeline returns a pipeline over transport.
func NewPipeline(transport Transport, cfg PipelineConfig, log *slog.Logger) *Pipeline {
	return &Pipeline{
		transport: transport,
		cfg:       cfg,
		log:       log.With(slog.String("component", "synth-pipeline")),
	}
}

// Synthesize runs the full chain and returns the decoded audio wrapped in a
// WAV container.
func (p *Pipeline) Synthesize(ctx context.Context, text, voice string) (AudioBuffer, error) {
	p.log.Debug("selecting voice", slog.String("voice", voice))
	var voiceSeed float64
	if err := p.transport.Call(ctx, endpointVoiceChange, []any{voice}, &voiceSeed); err != nil {
		return AudioBuffer{}, fmt.Errorf("select voice: %w", err)
	}

	var audioSeed float64
	if err := p.transport.Call(ctx, endpointAudioSeed, nil, &audioSeed); err != nil {
		return AudioBuffer{}, fmt.Errorf("generate audio seed: %w", err)
	}

	var textSeed float64
	if err := p.transport.Call(ctx, endpointTextSeed, nil, &textSeed); err != nil {
		return AudioBuffer{}, fmt.Errorf("generate text seed: %w", err)
	}

	var embedding string
	if err := p.transport.Call(ctx, endpointSeedEmbedding, []any{audioSeed}, &embedding); err != nil {
		return AudioBuffer{}, fmt.Errorf("derive speaker embedding: %w", err)
	}

	sampling := p.cfg.Sampling
	var refined string
	refineArgs := []any{text, textSeed, p.cfg.RefineText, sampling.Temperature, sampling.TopP, sampling.TopK}
	if err := p.transport.Call(ctx, endpointRefineText, refineArgs, &refined); err != nil {
		return AudioBuffer{}, fmt.Errorf("refine text: %w", err)
	}
	if refined == "" {
		refined = text
	}

	generateArgs := []any{refined, sampling.Temperature, sampling.TopP, sampling.TopK, embedding, audioSeed, p.cfg.BatchSize}
	var raw json.RawMessage
	if err := p.transport.Call(ctx, endpointGenerateAudio, generateArgs, &raw); err != nil {
		return AudioBuffer{}, fmt.Errorf("generate audio: %w", err)
	}

	pcm, sampleRate, channels, err := decodeSamples(raw)
	if err != nil {
		return AudioBuffer{}, err
	}

	p.log.Debug("synthesis decoded",
		slog.Int("sample_rate", sampleRate),
		slog.Int("channels", channels),
		slog.Int("pcm_bytes", len(pcm)))

	return AudioBuffer{
		Bytes:      wav.Encode(pcm, sampleRate, channels),
		Format:     FormatWAV,
		Duration:   wav.Duration(len(pcm), sampleRate, channels),
		SampleRate: sampleRate,
	}, nil
}

// decodeSamples unpacks the generate-audio payload
// [sample_rate, [[sample, ...], ...]] into interleaved little-endian 16-bit
// PCM. Samples outside [-1, 1] clamp; they never wrap.
func decodeSamples(raw json.RawMessage) (pcm []byte, sampleRate, channels int, err error) {
	var outer []json.RawMessage
	if uerr := json.Unmarshal(raw, &outer); uerr != nil || len(outer) < 2 {
		return nil, 0, 0, &AudioFormatError{Msg: "response is not a [sample_rate, samples] pair"}
	}

	var rate float64
	if uerr := json.Unmarshal(outer[0], &rate); uerr != nil || rate <= 0 {
		return nil, 0, 0, &AudioFormatError{Msg: "missing or invalid sample rate"}
	}

	var channelData [][]float64
	if uerr := json.Unmarshal(outer[1], &channelData); uerr != nil {
		// Some server builds return a single flat channel.
		var flat []float64
		if ferr := json.Unmarshal(outer[1], &flat); ferr != nil {
			return nil, 0, 0, &AudioFormatError{Msg: "sample payload is not a numeric array"}
		}
		channelData = [][]float64{flat}
	}
	if len(channelData) == 0 || len(channelData[0]) == 0 {
		return nil, 0, 0, &AudioFormatError{Msg: "no audio samples in response"}
	}

	frames := len(channelData[0])
	for _, ch := range channelData {
		if len(ch) != frames {
			return nil, 0, 0, &AudioFormatError{Msg: "ragged channel data"}
		}
	}

	channels = len(channelData)
	pcm = make([]byte, 0, frames*channels*2)
	for frame := 0; frame < frames; frame++ {
		for _, ch := range channelData {
			pcm = binary.LittleEndian.AppendUint16(pcm, uint16(sampleToPCM(ch[frame])))
		}
	}
	return pcm, int(rate), channels, nil
}

// sampleToPCM converts one float sample to signed 16-bit. The clamp keeps the
// result symmetric in [-32767, 32767]; -32768 is never produced.
func sampleToPCM(v float64) int16 {
	if v > 1.0 {
		v = 1.0
	} else if v < -1.0 {
		v = -1.0
	}
	return int16(math.Round(v * 32767))
}
