package vad

import (
	"os"
	"testing"
)

// TestPoolRealSileroScorerEndToEnd drives the raw ONNX-backed scorer (not
// the mock FuncScorer used elsewhere) through a real session so Score
// genuinely reports a continuous per-frame probability rather than the
// near-binary segment-boundary pulse the native VoiceActivityDetector
// wrapper used to produce. It is skipped, like the sibling engine's own
// integration tests, when the model or the ONNX Runtime shared library
// are not present in the environment.
func TestPoolRealSileroScorerEndToEnd(t *testing.T) {
	modelPath := os.Getenv("VADSTREAM_SILERO_MODEL_PATH")
	if modelPath == "" {
		t.Skip("VADSTREAM_SILERO_MODEL_PATH not set; skipping real Silero scorer integration test")
	}
	if _, err := resolveORTLibPath(); err != nil {
		t.Skipf("onnxruntime shared library not found: %v", err)
	}

	cfg := PoolConfig{
		ModelPath:  modelPath,
		SampleRate: 16000,
		WindowSize: sileroWindowSize,
		Size:       1,
	}
	pool := NewPool(cfg)
	if err := pool.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	defer pool.Shutdown()

	scorer, err := pool.Acquire()
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	defer scorer.Close()

	silence := make([]float32, sileroWindowSize)
	silenceProb, err := scorer.Score(silence, cfg.SampleRate)
	if err != nil {
		t.Fatalf("Score(silence): %v", err)
	}
	if silenceProb < 0 || silenceProb > 1 {
		t.Fatalf("Score(silence) = %v, want within [0, 1]", silenceProb)
	}

	tone := make([]float32, sileroWindowSize)
	for i := range tone {
		if i%2 == 0 {
			tone[i] = 0.8
		} else {
			tone[i] = -0.8
		}
	}
	toneProb, err := scorer.Score(tone, cfg.SampleRate)
	if err != nil {
		t.Fatalf("Score(tone): %v", err)
	}
	if toneProb < 0 || toneProb > 1 {
		t.Fatalf("Score(tone) = %v, want within [0, 1]", toneProb)
	}
	if toneProb == silenceProb {
		t.Errorf("expected distinct per-frame probabilities for silence vs a loud alternating tone, got identical %v for both", silenceProb)
	}
}

// TestScoreRejectsWrongFrameLength guards the invariant that Score expects
// exactly one Silero window per call.
func TestScoreRejectsWrongFrameLength(t *testing.T) {
	pool := &Pool{cfg: PoolConfig{WindowSize: sileroWindowSize}}
	scorer := &sileroScorer{pool: pool, inst: &instance{}}

	_, err := scorer.Score(make([]float32, sileroWindowSize-1), 16000)
	if err == nil {
		t.Fatal("expected an error for a short frame, got nil")
	}
}
