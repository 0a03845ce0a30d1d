package pipeline

import (
	"encoding/binary"
	"math"
)

// decodeFrame interprets payload as float32 LE iff its length is a
// multiple of 4 AND every decoded value satisfies |x| <= 1.5; otherwise as
// signed 16-bit PCM LE, each sample divided by 32768 to land in [-1, 1].
// This mirrors the client-encoding auto-detection described in §4.5; it is
// brittle for float32 streams that clip above 1.5, a known open question
// that is not addressed here (no protocol revision to declare encoding
// exists yet).
func decodeFrame(payload []byte) []float32 {
	if len(payload)%4 == 0 && looksLikeFloat32(payload) {
		return decodeFloat32LE(payload)
	}
	return decodePCM16LE(payload)
}

func looksLikeFloat32(payload []byte) bool {
	for i := 0; i+4 <= len(payload); i += 4 {
		bits := binary.LittleEndian.Uint32(payload[i : i+4])
		v := math.Float32frombits(bits)
		if v > 1.5 || v < -1.5 {
			return false
		}
	}
	return true
}

func decodeFloat32LE(payload []byte) []float32 {
	n := len(payload) / 4
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		bits := binary.LittleEndian.Uint32(payload[i*4 : i*4+4])
		out[i] = math.Float32frombits(bits)
	}
	return out
}

func decodePCM16LE(payload []byte) []float32 {
	n := len(payload) / 2
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		v := int16(binary.LittleEndian.Uint16(payload[i*2 : i*2+2]))
		out[i] = float32(v) / 32768.0
	}
	return out
}
