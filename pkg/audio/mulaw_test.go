package audio_test

import (
	"bytes"
	"encoding/base64"
	"encoding/binary"
	"testing"

	"github.com/trunkline-ai/trunkline/pkg/audio"
)

// samplesToBytes converts int16 samples to little-endian bytes.
func samplesToBytes(samples []int16) []byte {
	buf := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(buf[i*2:], uint16(s))
	}
	return buf
}

// bytesToSamples converts little-endian bytes to int16 samples.
func bytesToSamples(b []byte) []int16 {
	samples := make([]int16, len(b)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(b[i*2:]))
	}
	return samples
}

func TestEncodeSample_KnownValues(t *testing.T) {
	t.Parallel()

	cases := []struct {
		sample int16
		want   byte
	}{
		{0, 0xFF},
		{8, 0xFE},
		{-8, 0x7E},
		{32767, 0x80},
		{-32768, 0x00},
	}
	for _, tc := range cases {
		if got := audio.EncodeSample(tc.sample); got != tc.want {
			t.Errorf("EncodeSample(%d): got 0x%02X, want 0x%02X", tc.sample, got, tc.want)
		}
	}
}

func TestDecodeSample_Extremes(t *testing.T) {
	t.Parallel()

	if got := audio.DecodeSample(0xFF); got != 0 {
		t.Errorf("DecodeSample(0xFF): got %d, want 0", got)
	}
	if got := audio.DecodeSample(0x80); got != 32124 {
		t.Errorf("DecodeSample(0x80): got %d, want 32124", got)
	}
	if got := audio.DecodeSample(0x00); got != -32124 {
		t.Errorf("DecodeSample(0x00): got %d, want -32124", got)
	}
}

// Round-tripping through the codec must stay within mu-law quantization error.
func TestRoundTrip_QuantizationBound(t *testing.T) {
	t.Parallel()

	for x := -32000; x <= 32000; x += 37 {
		s := int16(x)
		q := audio.DecodeSample(audio.EncodeSample(s))

		diff := int(s) - int(q)
		if diff < 0 {
			diff = -diff
		}
		bound := x
		if bound < 0 {
			bound = -bound
		}
		bound = bound/16 + 16
		if diff > bound {
			t.Fatalf("sample %d: quantized to %d, error %d exceeds bound %d", s, q, diff, bound)
		}
	}
}

// A second pass through the codec must be lossless: decode(encode(x)) is a
// fixed point of the companding.
func TestRoundTrip_IdempotentAfterFirstPass(t *testing.T) {
	t.Parallel()

	for x := -32768; x <= 32767; x += 13 {
		once := audio.DecodeSample(audio.EncodeSample(int16(x)))
		twice := audio.DecodeSample(audio.EncodeSample(once))
		if once != twice {
			t.Fatalf("sample %d: first pass %d, second pass %d", x, once, twice)
		}
	}
}

func TestMulawToPCM16_Length(t *testing.T) {
	t.Parallel()

	mu := []byte{0xFF, 0x80, 0x00, 0x7F}
	pcm := audio.MulawToPCM16(mu)
	if len(pcm) != len(mu)*2 {
		t.Fatalf("expected %d bytes, got %d", len(mu)*2, len(pcm))
	}
	got := bytesToSamples(pcm)
	want := []int16{0, 32124, -32124, 0}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("sample %d: got %d, want %d", i, got[i], want[i])
		}
	}
}

func TestPCM16ToMulaw_OddLength(t *testing.T) {
	t.Parallel()

	if _, err := audio.PCM16ToMulaw([]byte{0x01, 0x02, 0x03}); err == nil {
		t.Fatal("expected error for odd byte count")
	}
}

func TestDecodePayload_BadBase64(t *testing.T) {
	t.Parallel()

	if _, err := audio.DecodePayload("not!!valid@@base64"); err == nil {
		t.Fatal("expected error for malformed base64")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	t.Parallel()

	pcm := samplesToBytes([]int16{0, 1000, -1000, 8000, -8000, 32000, -32000})

	payload, err := audio.EncodePayload(pcm)
	if err != nil {
		t.Fatalf("EncodePayload: %v", err)
	}
	if _, err := base64.StdEncoding.DecodeString(payload); err != nil {
		t.Fatalf("payload is not valid base64: %v", err)
	}

	back, err := audio.DecodePayload(payload)
	if err != nil {
		t.Fatalf("DecodePayload: %v", err)
	}
	if len(back) != len(pcm) {
		t.Fatalf("length changed through round trip: got %d, want %d", len(back), len(pcm))
	}

	// One more full pass must be byte-identical (idempotent after first pass).
	payload2, err := audio.EncodePayload(back)
	if err != nil {
		t.Fatalf("EncodePayload second pass: %v", err)
	}
	back2, err := audio.DecodePayload(payload2)
	if err != nil {
		t.Fatalf("DecodePayload second pass: %v", err)
	}
	if !bytes.Equal(back, back2) {
		t.Fatal("second codec pass altered samples")
	}
}
