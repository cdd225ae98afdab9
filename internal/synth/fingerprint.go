package synth

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint derives the cache key for a request. The digest covers the text
// and every populated option; each option is prefixed with a field tag so
// that an absent option can never collide with one set to a default value.
// The format label is excluded: it does not change the synthesized audio.
func Fingerprint(req Request) string {
	d := xxhash.New()
	_, _ = d.WriteString(req.Text)
	if req.Voice != "" {
		writeField(d, 'v')
		_, _ = d.WriteString(req.Voice)
	}
	if req.Speed != nil {
		writeFloat(d, 's', *req.Speed)
	}
	if req.Pitch != nil {
		writeFloat(d, 'p', *req.Pitch)
	}
	if req.Volume != nil {
		writeFloat(d, 'g', *req.Volume)
	}
	return fmt.Sprintf("tts_%016x", d.Sum64())
}

func writeField(d *xxhash.Digest, tag byte) {
	_, _ = d.Write([]byte{0, tag})
}

func writeFloat(d *xxhash.Digest, tag byte, v float64) {
	writeField(d, tag)
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], math.Float64bits(v))
	_, _ = d.Write(buf[:])
}
