package admin

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"
)

// audioMeta mirrors audiolog's sidecar schema; kept as a separate type
// here since admin only ever reads the file, never writes it.
type audioMeta struct {
	Filename        string  `json:"filename"`
	SessionID       int64   `json:"session_id"`
	Timestamp       string  `json:"timestamp"`
	SampleRate      int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
	DataType        string  `json:"data_type"`
	DurationSeconds float64 `json:"duration_seconds"`
	Samples         int     `json:"samples"`
}

func metaPathFor(rawPath string) string {
	return rawPath[:len(rawPath)-len(filepath.Ext(rawPath))] + ".meta"
}

func readMeta(path string) (audioMeta, error) {
	var m audioMeta
	raw, err := os.ReadFile(path)
	if err != nil {
		return m, err
	}
	err = json.Unmarshal(raw, &m)
	return m, err
}

func readRawSamples(path string) ([]float32, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	samples := make([]float32, len(raw)/4)
	for i := range samples {
		bits := binary.LittleEndian.Uint32(raw[i*4:])
		samples[i] = math.Float32frombits(bits)
	}
	return samples, nil
}

// encodeWAV manually builds a 16-bit PCM mono WAV byte stream, the same
// way play_audio_file constructs the RIFF header by hand (Safari-safe,
// no temp file, no io.WriteSeeker requirement for an in-memory buffer).
func encodeWAV(samples []float32, sampleRate int) []byte {
	pcm := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(v*32767)))
	}

	const (
		numChannels   = 1
		bitsPerSample = 16
	)
	byteRate := sampleRate * numChannels * bitsPerSample / 8
	blockAlign := numChannels * bitsPerSample / 8

	buf := make([]byte, 0, 44+len(pcm))
	buf = append(buf, 'R', 'I', 'F', 'F')
	buf = appendUint32(buf, uint32(36+len(pcm)))
	buf = append(buf, 'W', 'A', 'V', 'E')

	buf = append(buf, 'f', 'm', 't', ' ')
	buf = appendUint32(buf, 16)
	buf = appendUint16(buf, 1) // PCM
	buf = appendUint16(buf, numChannels)
	buf = appendUint32(buf, uint32(sampleRate))
	buf = appendUint32(buf, uint32(byteRate))
	buf = appendUint16(buf, uint16(blockAlign))
	buf = appendUint16(buf, bitsPerSample)

	buf = append(buf, 'd', 'a', 't', 'a')
	buf = appendUint32(buf, uint32(len(pcm)))
	buf = append(buf, pcm...)
	return buf
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendUint16(buf []byte, v uint16) []byte {
	var b [2]byte
	binary.LittleEndian.PutUint16(b[:], v)
	return append(buf, b[:]...)
}

func sqrt(v float64) float64 {
	return math.Sqrt(v)
}
