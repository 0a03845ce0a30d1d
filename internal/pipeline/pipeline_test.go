package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"vadstream/internal/events"
	"vadstream/internal/recognizer"
	"vadstream/internal/vad"
)

// frameScorer scores successive frames according to a caller-supplied
// per-index predicate, letting tests script exact speech/silence patterns
// matching the frame-indexed scenarios in the specification.
func frameScorer(speech func(frameIndex int) bool) vad.Scorer {
	idx := 0
	return vad.FuncScorer(func(frame []float32, sampleRate int) (float32, error) {
		i := idx
		idx++
		if speech(i) {
			return 0.9, nil
		}
		return 0.0, nil
	})
}

func testSettings() VADSettings {
	return VADSettings{
		SampleRate:          16000,
		Threshold:           0.5,
		MinSpeechDurationMs: 250,
		MaxSpeechDurationS:  30,
		PrefixSpeechPadMs:   300,
		SilenceDurationMs:   500,
		ChunkSize:           512,
	}
}

type recordingEmitter struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recordingEmitter) emit(ev events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recordingEmitter) snapshot() []events.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Event, len(r.events))
	copy(out, r.events)
	return out
}

type recordedCall struct {
	sessionID int64
	speechID  string
	samples   int
	language  string
	prompt    string
}

// recordingEngine is a deterministic Engine stub that records every
// dispatched utterance and replies immediately. The dispatcher still calls
// it from its own goroutine, so tests use waitFor before counting calls.
type recordingEngine struct {
	mu    sync.Mutex
	calls []recordedCall
}

func (e *recordingEngine) Recognize(ctx context.Context, samples []float32, sampleRate int, language, prompt string) (recognizer.Outcome, error) {
	e.mu.Lock()
	e.calls = append(e.calls, recordedCall{samples: len(samples), language: language, prompt: prompt})
	e.mu.Unlock()
	return recognizer.Outcome{Text: "ok"}, nil
}

func (e *recordingEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func newTestPipeline(settings VADSettings, scorer vad.Scorer, engine recognizer.Engine) (*Pipeline, *recordingEmitter) {
	emitter := &recordingEmitter{}
	dispatcher := recognizer.NewDispatcher(engine, 4)
	eng := vad.NewEngine(scorer, "test-session")
	p := New(1, settings, eng, dispatcher, nil, emitter.emit, func() float64 { return 0 })
	return p, emitter
}

func feedFrames(p *Pipeline, n int) {
	samples := make([]float32, 512)
	for i := 0; i < n; i++ {
		p.Ingest(float32LEBytes(samples))
	}
}

// waitFor polls cond until it holds or a second has passed, since the
// dispatcher runs Recognize and the result callback on its own goroutines.
func waitFor(cond func() bool) {
	deadline := time.Now().Add(time.Second)
	for !cond() && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
}

func countKind(evs []events.Event, k events.Kind) int {
	n := 0
	for _, e := range evs {
		if e.Kind == k {
			n++
		}
	}
	return n
}

// Scenario 1: pure silence yields zero events and zero recognizer calls.
func TestScenarioPureSilence(t *testing.T) {
	settings := testSettings()
	engine := &recordingEngine{}
	p, emitter := newTestPipeline(settings, frameScorer(func(int) bool { return false }), engine)

	feedFrames(p, 16000*10/512) // 10s of zeros

	if got := len(emitter.snapshot()); got != 0 {
		t.Errorf("events = %d, want 0", got)
	}
	if got := engine.callCount(); got != 0 {
		t.Errorf("recognizer calls = %d, want 0", got)
	}
	maxRing := settings.PrefixPadSamples() + settings.ChunkSize
	if p.audioRing.Size() > maxRing {
		t.Errorf("audio_ring.size() = %d, want <= %d", p.audioRing.Size(), maxRing)
	}
}

// Scenario 2: a single bounded utterance dispatches exactly once and emits
// one SpeechStart/SpeechEnd pair.
func TestScenarioSingleUtterance(t *testing.T) {
	settings := testSettings()
	engine := &recordingEngine{}
	speech := func(i int) bool { return i >= 10 && i < 40 }
	p, emitter := newTestPipeline(settings, frameScorer(speech), engine)

	feedFrames(p, 80) // 10 silence, 30 speech, 40 trailing silence
	waitFor(func() bool { return engine.callCount() >= 1 })

	evs := emitter.snapshot()
	if n := countKind(evs, events.SpeechStart); n != 1 {
		t.Errorf("SpeechStart count = %d, want 1", n)
	}
	if n := countKind(evs, events.SpeechEnd); n != 1 {
		t.Errorf("SpeechEnd count = %d, want 1", n)
	}
	if got := engine.callCount(); got != 1 {
		t.Fatalf("recognizer calls = %d, want 1", got)
	}

	minSamples := settings.MinSpeechDurationSamples()
	maxSamples := settings.MaxSpeechDurationSamples()
	n := engine.calls[0].samples
	if n < minSamples || n > maxSamples {
		t.Errorf("dispatched utterance samples = %d, want within [%d, %d]", n, minSamples, maxSamples)
	}
}

// SetLanguage/SetPrompt values captured from the handshake must reach the
// recognizer at dispatch time rather than being discarded.
func TestLanguageAndPromptReachTheEngine(t *testing.T) {
	settings := testSettings()
	engine := &recordingEngine{}
	speech := func(i int) bool { return i >= 10 && i < 40 }
	p, _ := newTestPipeline(settings, frameScorer(speech), engine)

	p.SetLanguage("ja")
	p.SetPrompt("weather forecast")

	feedFrames(p, 80)
	waitFor(func() bool { return engine.callCount() >= 1 })

	if got := engine.callCount(); got != 1 {
		t.Fatalf("recognizer calls = %d, want 1", got)
	}
	if got := engine.calls[0].language; got != "ja" {
		t.Errorf("language = %q, want %q", got, "ja")
	}
	if got := engine.calls[0].prompt; got != "weather forecast" {
		t.Errorf("prompt = %q, want %q", got, "weather forecast")
	}
}

// Scenario 3: back-to-back utterances produce two pairs with distinct
// speech_ids and results delivered in order.
func TestScenarioBackToBackUtterances(t *testing.T) {
	settings := testSettings()
	engine := &recordingEngine{}
	speech := func(i int) bool { return (i >= 10 && i < 30) || (i >= 50 && i < 70) }
	p, emitter := newTestPipeline(settings, frameScorer(speech), engine)

	feedFrames(p, 100)
	waitFor(func() bool { return countKind(emitter.snapshot(), events.RecognitionResult) >= 2 })

	evs := emitter.snapshot()
	if n := countKind(evs, events.SpeechStart); n != 2 {
		t.Fatalf("SpeechStart count = %d, want 2", n)
	}
	if n := countKind(evs, events.SpeechEnd); n != 2 {
		t.Fatalf("SpeechEnd count = %d, want 2", n)
	}
	if n := countKind(evs, events.RecognitionResult); n != 2 {
		t.Fatalf("RecognitionResult count = %d, want 2", n)
	}

	var starts []string
	for _, e := range evs {
		if e.Kind == events.SpeechStart {
			starts = append(starts, *e.SpeechID)
		}
	}
	if len(starts) == 2 && starts[0] == starts[1] {
		t.Errorf("expected distinct speech_ids, got %v", starts)
	}

	var results []string
	for _, e := range evs {
		if e.Kind == events.RecognitionResult {
			results = append(results, *e.SpeechID)
		}
	}
	if len(results) == 2 && results[0] != starts[0] {
		t.Errorf("first RecognitionResult speech_id = %s, want %s (FIFO per-session order)", results[0], starts[0])
	}
}

// Scenario 4: a too-short utterance still emits SpeechStart/SpeechEnd but
// never dispatches to the recognizer.
func TestScenarioTooShortUtteranceSkipsRecognition(t *testing.T) {
	settings := testSettings()
	settings.MinSpeechDurationMs = 250 // 4000 samples at 16kHz
	// The measured utterance includes the prefix pad and the trailing
	// silence frames, so both are kept small here: no pad, and a 100ms
	// silence limit (3 frames of 512).
	settings.PrefixSpeechPadMs = 0
	settings.SilenceDurationMs = 100
	engine := &recordingEngine{}
	// 3 speech frames plus 3 trailing silence frames, less the frame that
	// ends speech = 5*512 = 2560 samples, under the 4000-sample minimum.
	speech := func(i int) bool { return i >= 10 && i < 13 }
	p, emitter := newTestPipeline(settings, frameScorer(speech), engine)

	feedFrames(p, 60)

	evs := emitter.snapshot()
	if n := countKind(evs, events.SpeechStart); n != 1 {
		t.Errorf("SpeechStart count = %d, want 1", n)
	}
	if n := countKind(evs, events.SpeechEnd); n != 1 {
		t.Errorf("SpeechEnd count = %d, want 1", n)
	}
	if n := countKind(evs, events.RecognitionResult); n != 0 {
		t.Errorf("RecognitionResult count = %d, want 0", n)
	}
	if got := engine.callCount(); got != 0 {
		t.Errorf("recognizer calls = %d, want 0", got)
	}
}

// Scenario 5: continuous speech past max_speech_s forces a truncated end.
func TestScenarioMaxDurationForcesTruncation(t *testing.T) {
	settings := testSettings()
	settings.MaxSpeechDurationS = 1.0 // small, for a fast test: 16000 samples
	engine := &recordingEngine{}
	p, emitter := newTestPipeline(settings, frameScorer(func(int) bool { return true }), engine)

	feedFrames(p, 80) // 80*512 = 40960 samples of continuous speech
	waitFor(func() bool { return engine.callCount() >= 1 })

	evs := emitter.snapshot()
	if n := countKind(evs, events.SpeechStart); n == 0 {
		t.Fatalf("expected at least one SpeechStart")
	}
	if n := countKind(evs, events.SpeechEnd); n == 0 {
		t.Fatalf("expected at least one forced SpeechEnd")
	}
	if got := engine.callCount(); got == 0 {
		t.Fatalf("expected at least one recognizer call from forced truncation")
	}

	maxSamples := settings.MaxSpeechDurationSamples()
	if engine.calls[0].samples != maxSamples {
		t.Errorf("truncated utterance samples = %d, want exactly %d", engine.calls[0].samples, maxSamples)
	}
}

// Close marks the pipeline closed and makes further Ingest calls no-ops.
func TestCloseMakesIngestANoOp(t *testing.T) {
	settings := testSettings()
	engine := &recordingEngine{}
	speech := func(i int) bool { return i >= 10 && i < 40 }
	p, _ := newTestPipeline(settings, frameScorer(speech), engine)

	feedFrames(p, 70)
	p.Close()

	if !p.IsClosed() {
		t.Fatal("expected pipeline to report closed")
	}

	sizeAtClose := p.audioRing.Size()
	feedFrames(p, 10)
	if p.audioRing.Size() != sizeAtClose {
		t.Errorf("audio_ring.size() changed after Close: %d -> %d", sizeAtClose, p.audioRing.Size())
	}
}
