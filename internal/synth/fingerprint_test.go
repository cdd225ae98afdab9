package synth

import "testing"

func floatPtr(v float64) *float64 { return &v }

func TestFingerprintDeterministic(t *testing.T) {
	a := Request{Text: "hello world", Voice: "Timbre3", Speed: floatPtr(1.25)}
	b := Request{Text: "hello world", Voice: "Timbre3", Speed: floatPtr(1.25)}
	if Fingerprint(a) != Fingerprint(b) {
		t.Fatal("identical requests must share a fingerprint")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	base := Request{Text: "hello", Voice: "Default", Speed: floatPtr(1.0), Pitch: floatPtr(0.0), Volume: floatPtr(0.5)}
	variants := map[string]Request{
		"text":   {Text: "hello!", Voice: "Default", Speed: floatPtr(1.0), Pitch: floatPtr(0.0), Volume: floatPtr(0.5)},
		"voice":  {Text: "hello", Voice: "Timbre1", Speed: floatPtr(1.0), Pitch: floatPtr(0.0), Volume: floatPtr(0.5)},
		"speed":  {Text: "hello", Voice: "Default", Speed: floatPtr(1.5), Pitch: floatPtr(0.0), Volume: floatPtr(0.5)},
		"pitch":  {Text: "hello", Voice: "Default", Speed: floatPtr(1.0), Pitch: floatPtr(0.1), Volume: floatPtr(0.5)},
		"volume": {Text: "hello", Voice: "Default", Speed: floatPtr(1.0), Pitch: floatPtr(0.0), Volume: floatPtr(0.9)},
	}

	want := Fingerprint(base)
	for field, req := range variants {
		if Fingerprint(req) == want {
			t.Errorf("changing %s did not change the fingerprint", field)
		}
	}
}

func TestFingerprintAbsentFieldIsNotDefault(t *testing.T) {
	absent := Request{Text: "hello"}
	zeroSpeed := Request{Text: "hello", Speed: floatPtr(0.0)}
	if Fingerprint(absent) == Fingerprint(zeroSpeed) {
		t.Fatal("absent speed must not collide with explicit zero speed")
	}

	noVoice := Request{Text: "hello", Pitch: floatPtr(1.0)}
	taggedDifferently := Request{Text: "hello", Volume: floatPtr(1.0)}
	if Fingerprint(noVoice) == Fingerprint(taggedDifferently) {
		t.Fatal("same value under different fields must not collide")
	}
}

func TestFingerprintIgnoresFormat(t *testing.T) {
	wavReq := Request{Text: "hello", Format: FormatWAV}
	mp3Req := Request{Text: "hello", Format: FormatMP3}
	if Fingerprint(wavReq) != Fingerprint(mp3Req) {
		t.Fatal("format label must not affect the fingerprint")
	}
}
