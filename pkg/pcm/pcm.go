// Package pcm converts between float32 audio samples, little-endian 16-bit
// signed PCM, and the base64 transport encoding used on the wire.
package pcm

import (
	"encoding/base64"
	"encoding/binary"
	"time"
)

// AudioBuffer is a decoded, playable mono audio buffer.
type AudioBuffer struct {
	Samples    []float32
	SampleRate int
}

// Duration returns the playback duration of the buffer.
func (b AudioBuffer) Duration() time.Duration {
	if b.SampleRate <= 0 || len(b.Samples) == 0 {
		return 0
	}
	return time.Duration(float64(len(b.Samples)) / float64(b.SampleRate) * float64(time.Second))
}

// EncodeFloat32 packs float samples in [-1, 1] into little-endian 16-bit
// signed PCM. Samples outside the range are clamped; scaling is asymmetric
// (32767 positive, 32768 negative) with truncation, matching the int16
// value range exactly.
func EncodeFloat32(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		var v int16
		if s < 0 {
			v = int16(s * 32768)
		} else {
			v = int16(s * 32767)
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

// Decode reinterprets little-endian 16-bit signed PCM as float samples in
// [-1, 1), normalized by 32768. A trailing odd byte is truncated; malformed
// input is tolerated, never an error.
func Decode(data []byte, sampleRate int) AudioBuffer {
	n := len(data) / 2
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(data[i*2:]))
		samples[i] = float32(v) / 32768
	}
	return AudioBuffer{Samples: samples, SampleRate: sampleRate}
}

// ToTransportText encodes bytes as base64 for JSON transport.
func ToTransportText(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// FromTransportText decodes base64 transport text back to bytes.
func FromTransportText(text string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(text)
}
