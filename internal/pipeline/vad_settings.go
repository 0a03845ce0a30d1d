// Package pipeline implements the SessionPipeline state machine: frame
// decoding, chunk framing, the VAD state machine and utterance dispatch.
package pipeline

import "math"

// VADSettings is an immutable snapshot of the tunables a SessionPipeline
// was constructed with (or last reloaded with), mirroring vad_config.py's
// validated-setter-plus-derived-seconds-accessor shape.
type VADSettings struct {
	SampleRate int

	Threshold           float32
	MinSpeechDurationMs int
	MaxSpeechDurationS  float32
	PrefixSpeechPadMs   int
	SilenceDurationMs   int
	ChunkSize           int
}

// ClampVADSettings returns s with every field clamped to the valid range
// defined in §4.2 (used by the admin mutation path; startup config loading
// uses config.Validate's reject-with-error semantics instead).
func ClampVADSettings(s VADSettings) VADSettings {
	if s.Threshold < 0 {
		s.Threshold = 0
	}
	if s.Threshold > 1 {
		s.Threshold = 1
	}
	if s.MinSpeechDurationMs < 0 {
		s.MinSpeechDurationMs = 0
	}
	if s.PrefixSpeechPadMs < 0 {
		s.PrefixSpeechPadMs = 0
	}
	if s.SilenceDurationMs < 0 {
		s.SilenceDurationMs = 0
	}
	if s.MaxSpeechDurationS < 0.1 {
		s.MaxSpeechDurationS = 0.1
	}
	if s.ChunkSize < 1 {
		s.ChunkSize = 1
	}
	return s
}

// MinSpeechDurationSamples is the minimum utterance length, in samples,
// below which a dispatched utterance is silently discarded.
func (s VADSettings) MinSpeechDurationSamples() int {
	return int(float64(s.MinSpeechDurationMs) / 1000.0 * float64(s.SampleRate))
}

// MaxSpeechDurationSamples is the hard utterance-length ceiling, in
// samples, used for both forced end-of-speech and post-extraction
// truncation.
func (s VADSettings) MaxSpeechDurationSamples() int {
	return int(float64(s.MaxSpeechDurationS) * float64(s.SampleRate))
}

// PrefixPadSamples is how many samples of pre-speech audio are preserved
// ahead of a detected speech start.
func (s VADSettings) PrefixPadSamples() int {
	return int(float64(s.PrefixSpeechPadMs) / 1000.0 * float64(s.SampleRate))
}

// SilenceFramesLimit is the number of consecutive non-speech frames
// required to end an utterance: floor(sample_rate * silence_ms / (chunk_size * 1000)).
func (s VADSettings) SilenceFramesLimit() int {
	if s.ChunkSize <= 0 {
		return 0
	}
	limit := math.Floor(float64(s.SampleRate) * float64(s.SilenceDurationMs) / (float64(s.ChunkSize) * 1000.0))
	return int(limit)
}

// RingCapacity is the audio_ring capacity: sample_rate * (max_speech_s +
// prefix_pad_s + silence_s).
func (s VADSettings) RingCapacity() int {
	prefixPadS := float64(s.PrefixSpeechPadMs) / 1000.0
	silenceS := float64(s.SilenceDurationMs) / 1000.0
	total := float64(s.MaxSpeechDurationS) + prefixPadS + silenceS
	return int(total * float64(s.SampleRate))
}
