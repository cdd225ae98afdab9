// Package wav wraps raw 16-bit PCM data into a RIFF/WAVE container.
package wav

import (
	"encoding/binary"
	"time"
)

const (
	headerSize     = 44
	bytesPerSample = 2
)

// Encode produces a complete WAV file: the 44-byte canonical header followed
// by the payload verbatim. The payload must already be little-endian 16-bit
// linear PCM with channels interleaved.
func Encode(pcm []byte, sampleRate, channels int) []byte {
	out := make([]byte, headerSize+len(pcm))

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+len(pcm)))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], 1) // linear PCM
	binary.LittleEndian.PutUint16(out[22:24], uint16(channels))
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(sampleRate*channels*bytesPerSample))
	binary.LittleEndian.PutUint16(out[32:34], uint16(channels*bytesPerSample))
	binary.LittleEndian.PutUint16(out[34:36], 16) // bits per sample

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(len(pcm)))
	copy(out[headerSize:], pcm)

	return out
}

// Duration reports the playback length of a 16-bit PCM payload.
func Duration(pcmLen, sampleRate, channels int) time.Duration {
	if sampleRate <= 0 || channels <= 0 {
		return 0
	}
	frames := pcmLen / (bytesPerSample * channels)
	return time.Duration(frames) * time.Second / time.Duration(sampleRate)
}
