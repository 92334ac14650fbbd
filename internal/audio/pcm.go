// Package audio converts engine output into the representations carried in
// response documents.
package audio

import (
	"encoding/base64"
	"encoding/binary"
	"math"
)

// BytesPerSample is the width of one 16-bit PCM sample.
const BytesPerSample = 2

// QuantizeSample clamps s to [-1, 1] and scales it to int16, truncating
// toward zero. NaN maps to silence.
func QuantizeSample(s float32) int16 {
	if math.IsNaN(float64(s)) {
		return 0
	}
	if s > 1 {
		s = 1
	} else if s < -1 {
		s = -1
	}
	return int16(s * math.MaxInt16)
}

// Quantize converts float samples into 16-bit little-endian signed PCM.
func Quantize(samples []float32) []byte {
	pcm := make([]byte, len(samples)*BytesPerSample)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(pcm[i*BytesPerSample:], uint16(QuantizeSample(s)))
	}
	return pcm
}

// Encode quantizes samples and renders the PCM as padded standard base64.
// An empty input yields an empty string.
func Encode(samples []float32) string {
	return base64.StdEncoding.EncodeToString(Quantize(samples))
}

// EncodedLen is the length of Encode's output for n samples.
func EncodedLen(n int) int {
	return base64.StdEncoding.EncodedLen(n * BytesPerSample)
}

// DecodePCM reverses the base64 stage of Encode.
func DecodePCM(encoded string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(encoded)
}
