// Package vad wraps the opaque per-frame VAD scorer behind a thin,
// stateless-looking Engine, per-session pooled for instance reuse.
package vad

import "vadstream/internal/logger"

// Scorer is the opaque neural-net collaborator: it scores one frame and
// returns a speech probability in [0, 1]. Implementations are not required
// to be safe for concurrent use from multiple goroutines simultaneously;
// Engine callers are expected to serialize access (true in this codebase,
// since each session's ingestion goroutine owns its Engine exclusively).
type Scorer interface {
	// Score returns the speech probability for frame, which has exactly
	// chunk_size samples at sampleRate.
	Score(frame []float32, sampleRate int) (float32, error)
	// Close releases any resources held by the scorer (e.g. returns a
	// pooled native instance).
	Close()
}

// Engine is the VADEngine component: score(frame, sample_rate) -> probability.
// A scoring failure degrades to non-speech (0.0) rather than propagating, to
// preserve ingest liveness.
type Engine struct {
	scorer    Scorer
	sessionID string
}

// NewEngine wraps scorer for the named session (used only in log lines).
func NewEngine(scorer Scorer, sessionID string) *Engine {
	return &Engine{scorer: scorer, sessionID: sessionID}
}

// Score scores a single frame. frame.length must equal cfg.chunk_size;
// callers are responsible for that framing (see internal/pipeline/chunker.go).
func (e *Engine) Score(frame []float32, sampleRate int) float32 {
	p, err := e.scorer.Score(frame, sampleRate)
	if err != nil {
		logger.Warn("vad_scoring_failed", "session_id", e.sessionID, "error", err)
		return 0
	}
	if p < 0 {
		p = 0
	}
	if p > 1 {
		p = 1
	}
	return p
}

// Close releases the underlying scorer.
func (e *Engine) Close() {
	e.scorer.Close()
}

// FuncScorer adapts a plain function to the Scorer interface, with a no-op
// Close. Used to stub a deterministic VAD in tests.
type FuncScorer func(frame []float32, sampleRate int) (float32, error)

// Score implements Scorer.
func (f FuncScorer) Score(frame []float32, sampleRate int) (float32, error) {
	return f(frame, sampleRate)
}

// Close implements Scorer.
func (f FuncScorer) Close() {}
