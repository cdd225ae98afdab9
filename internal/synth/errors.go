package synth

import "fmt"

// AudioFormatError reports that a decoded response carried no usable samples.
// The pipeline never substitutes placeholder audio for an undecodable
// response; masking failures is a caller decision.
type AudioFormatError struct {
	Msg string
}

func (e *AudioFormatError) Error() string {
	return fmt.Sprintf("audio format error: %s", e.Msg)
}
