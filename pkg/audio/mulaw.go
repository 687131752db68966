// Package audio implements the G.711 mu-law codec used on the telephony leg.
//
// Telephony media streams carry 8 kHz mono mu-law audio, base64-encoded inside
// JSON frames. Speech services on the other side of the orchestrator work with
// 16-bit linear PCM at the same rate, so every inbound frame is expanded
// (mu-law → PCM16) and every outbound frame is companded (PCM16 → mu-law).
// All functions are pure and allocate nothing beyond the output buffer.
package audio

import (
	"encoding/base64"
	"fmt"
)

// Telephony audio is fixed at 8 kHz, 16-bit signed, mono.
const (
	SampleRate = 8000
	Channels   = 1
)

const (
	mulawBias = 0x84
	mulawClip = 32635
)

// mulawDecodeTable maps each mu-law byte to its expanded linear PCM sample.
var mulawDecodeTable = [256]int16{
	-32124, -31100, -30076, -29052, -28028, -27004, -25980, -24956,
	-23932, -22908, -21884, -20860, -19836, -18812, -17788, -16764,
	-15996, -15484, -14972, -14460, -13948, -13436, -12924, -12412,
	-11900, -11388, -10876, -10364, -9852, -9340, -8828, -8316,
	-7932, -7676, -7420, -7164, -6908, -6652, -6396, -6140,
	-5884, -5628, -5372, -5116, -4860, -4604, -4348, -4092,
	-3900, -3772, -3644, -3516, -3388, -3260, -3132, -3004,
	-2876, -2748, -2620, -2492, -2364, -2236, -2108, -1980,
	-1884, -1820, -1756, -1692, -1628, -1564, -1500, -1436,
	-1372, -1308, -1244, -1180, -1116, -1052, -988, -924,
	-876, -844, -812, -780, -748, -716, -684, -652,
	-620, -588, -556, -524, -492, -460, -428, -396,
	-372, -356, -340, -324, -308, -292, -276, -260,
	-244, -228, -212, -196, -180, -164, -148, -132,
	-120, -112, -104, -96, -88, -80, -72, -64,
	-56, -48, -40, -32, -24, -16, -8, 0,
	32124, 31100, 30076, 29052, 28028, 27004, 25980, 24956,
	23932, 22908, 21884, 20860, 19836, 18812, 17788, 16764,
	15996, 15484, 14972, 14460, 13948, 13436, 12924, 12412,
	11900, 11388, 10876, 10364, 9852, 9340, 8828, 8316,
	7932, 7676, 7420, 7164, 6908, 6652, 6396, 6140,
	5884, 5628, 5372, 5116, 4860, 4604, 4348, 4092,
	3900, 3772, 3644, 3516, 3388, 3260, 3132, 3004,
	2876, 2748, 2620, 2492, 2364, 2236, 2108, 1980,
	1884, 1820, 1756, 1692, 1628, 1564, 1500, 1436,
	1372, 1308, 1244, 1180, 1116, 1052, 988, 924,
	876, 844, 812, 780, 748, 716, 684, 652,
	620, 588, 556, 524, 492, 460, 428, 396,
	372, 356, 340, 324, 308, 292, 276, 260,
	244, 228, 212, 196, 180, 164, 148, 132,
	120, 112, 104, 96, 88, 80, 72, 64,
	56, 48, 40, 32, 24, 16, 8, 0,
}

// DecodeSample expands a single mu-law byte to a linear PCM sample.
func DecodeSample(b byte) int16 {
	return mulawDecodeTable[b]
}

// EncodeSample compands a single linear PCM sample to a mu-law byte.
func EncodeSample(s int16) byte {
	sign := byte(0)
	v := int32(s)
	if v < 0 {
		sign = 0x80
		v = -v
	}
	if v > mulawClip {
		v = mulawClip
	}
	v += mulawBias

	// Segment is the position of the highest set bit above bit 7 of the
	// biased magnitude; the mantissa is the four bits below it. These
	// boundaries are the exact inverse of mulawDecodeTable.
	var segment, mantissa byte
	switch {
	case v <= 0xFF:
		segment, mantissa = 0, byte((v>>3)&0x0F)
	case v <= 0x1FF:
		segment, mantissa = 1, byte((v>>4)&0x0F)
	case v <= 0x3FF:
		segment, mantissa = 2, byte((v>>5)&0x0F)
	case v <= 0x7FF:
		segment, mantissa = 3, byte((v>>6)&0x0F)
	case v <= 0xFFF:
		segment, mantissa = 4, byte((v>>7)&0x0F)
	case v <= 0x1FFF:
		segment, mantissa = 5, byte((v>>8)&0x0F)
	case v <= 0x3FFF:
		segment, mantissa = 6, byte((v>>9)&0x0F)
	default:
		segment, mantissa = 7, byte((v>>10)&0x0F)
	}

	return ^(sign | segment<<4 | mantissa)
}

// MulawToPCM16 expands mu-law bytes to little-endian 16-bit PCM.
// The output is exactly twice the input length.
func MulawToPCM16(mu []byte) []byte {
	out := make([]byte, len(mu)*2)
	for i, b := range mu {
		s := mulawDecodeTable[b]
		out[i*2] = byte(s)
		out[i*2+1] = byte(s >> 8)
	}
	return out
}

// PCM16ToMulaw compands little-endian 16-bit PCM to mu-law bytes.
// The input length must be even (whole int16 samples).
func PCM16ToMulaw(pcm []byte) ([]byte, error) {
	if len(pcm)%2 != 0 {
		return nil, fmt.Errorf("audio: odd PCM byte count %d", len(pcm))
	}
	out := make([]byte, len(pcm)/2)
	for i := range out {
		s := int16(pcm[i*2]) | int16(pcm[i*2+1])<<8
		out[i] = EncodeSample(s)
	}
	return out, nil
}

// DecodePayload reverses a telephony media payload: base64, then mu-law
// companding. Returns little-endian PCM16 at 8 kHz mono. An error means the
// base64 was malformed; callers drop the frame rather than fail the call.
func DecodePayload(payload string) ([]byte, error) {
	mu, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("audio: decode media payload: %w", err)
	}
	return MulawToPCM16(mu), nil
}

// EncodePayload compands little-endian PCM16 to mu-law and base64-encodes it
// for an outbound telephony media frame.
func EncodePayload(pcm []byte) (string, error) {
	mu, err := PCM16ToMulaw(pcm)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(mu), nil
}
