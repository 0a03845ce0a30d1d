package pipeline

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"

	"vadstream/internal/events"
	"vadstream/internal/logger"
	"vadstream/internal/recognizer"
	"vadstream/internal/ringbuffer"
	"vadstream/internal/vad"
)

// Sink is the AudioSink collaborator: best-effort, non-blocking capture of
// a dispatched utterance. Implementations must not block the caller.
type Sink interface {
	Save(sessionID int64, samples []float32, sampleRate int)
}

// EmitFunc is the emit_event capability injected at construction (§9:
// "a single emit_event(Event) capability injected at pipeline
// construction").
type EmitFunc func(events.Event)

type state int

const (
	stateIdle state = iota
	stateInSpeech
)

// Pipeline is the SessionPipeline component: owns one session's VAD state
// machine exclusively from its ingest goroutine. Close may be called
// concurrently from the transport's read loop or a session-timeout
// sweep; it is the only method besides ingest safe to call from another
// goroutine.
type Pipeline struct {
	sessionID  int64
	settings   VADSettings
	vadEngine  *vad.Engine
	dispatcher *recognizer.Dispatcher
	sink       Sink
	emit       EmitFunc

	audioRing *ringbuffer.RingBuffer
	chunk     *chunker

	mu       sync.Mutex
	language string
	prompt   string

	st               state
	speechID         string
	speechStartIndex int
	silenceCounter   int

	closed int32
	ctx    context.Context
	cancel context.CancelFunc

	now func() float64
}

// New constructs a Pipeline. sink may be nil (capture disabled). now
// supplies the timestamp attached to emitted events (injected so tests do
// not depend on wall-clock time).
func New(sessionID int64, settings VADSettings, vadEngine *vad.Engine, dispatcher *recognizer.Dispatcher, sink Sink, emit EmitFunc, now func() float64) *Pipeline {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pipeline{
		sessionID:  sessionID,
		settings:   settings,
		vadEngine:  vadEngine,
		dispatcher: dispatcher,
		sink:       sink,
		emit:       emit,
		audioRing:  ringbuffer.New(settings.RingCapacity()),
		chunk:      newChunker(settings.ChunkSize),
		st:         stateIdle,
		ctx:        ctx,
		cancel:     cancel,
		now:        now,
	}
}

// SetLanguage sets the language hint used for subsequent recognitions.
// Empty string means unset/auto.
func (p *Pipeline) SetLanguage(code string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.language = code
}

// SetPrompt sets the recognition prompt used for subsequent recognitions.
// Empty string means unset.
func (p *Pipeline) SetPrompt(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prompt = text
}

// IsClosed reports whether Close has already run.
func (p *Pipeline) IsClosed() bool {
	return atomic.LoadInt32(&p.closed) == 1
}

// Close releases resources and cancels any in-flight recognition for this
// session. Late results are dropped (never delivered) rather than
// surfaced with an error, per §4.5.
func (p *Pipeline) Close() {
	if !atomic.CompareAndSwapInt32(&p.closed, 0, 1) {
		return
	}
	p.cancel()
	p.dispatcher.DropSession(p.sessionID)
	p.vadEngine.Close()
}

// Ingest decodes payload, appends it to the audio ring, frames it for the
// VAD, and steps the state machine once per frame. It never blocks on
// recognition or sink I/O.
func (p *Pipeline) Ingest(payload []byte) {
	if p.IsClosed() {
		return
	}

	samples := decodeFrame(payload)
	if len(samples) == 0 {
		return
	}

	p.audioRing.PutBulk(samples)

	for _, frame := range p.chunk.Frames(samples) {
		prob := p.vadEngine.Score(frame, p.settings.SampleRate)
		p.step(prob)
	}
}

func (p *Pipeline) step(prob float32) {
	speaking := prob > p.settings.Threshold

	switch p.st {
	case stateIdle:
		if speaking {
			p.transitionToSpeech()
		} else {
			p.audioRing.TrimToAtMost(p.settings.PrefixPadSamples())
		}
	case stateInSpeech:
		if speaking {
			p.silenceCounter = 0
		} else {
			p.silenceCounter++
			if p.silenceCounter >= p.settings.SilenceFramesLimit() {
				p.endSpeech()
				return
			}
		}
		if p.audioRing.Size() >= p.settings.MaxSpeechDurationSamples() {
			p.endSpeech()
		}
	}
}

func (p *Pipeline) transitionToSpeech() {
	p.mu.Lock()
	p.speechID = uuid.NewString()
	p.mu.Unlock()

	p.speechStartIndex = max(0, p.audioRing.Size()-p.settings.PrefixPadSamples())
	p.silenceCounter = 0
	p.st = stateInSpeech

	p.emit(events.NewSpeechStart(p.sessionID, p.currentSpeechID(), p.audioRing.Size(), p.now()))
}

func (p *Pipeline) endSpeech() {
	p.audioRing.GetBulk(p.speechStartIndex) // discard pre-speech-start samples
	utterance := p.audioRing.GetBulk(p.audioRing.Size())

	speechID := p.currentSpeechID()
	p.dispatchUtterance(utterance, speechID)

	p.emit(events.NewSpeechEnd(p.sessionID, speechID, 0, p.now()))

	p.mu.Lock()
	p.speechID = ""
	p.mu.Unlock()

	p.silenceCounter = 0
	p.st = stateIdle
	p.chunk.Clear()
}

func (p *Pipeline) dispatchUtterance(utterance []float32, speechID string) {
	minSamples := p.settings.MinSpeechDurationSamples()
	if len(utterance) < minSamples {
		logger.Debug("utterance_below_min_duration", "session_id", p.sessionID, "speech_id", speechID, "samples", len(utterance))
		return
	}

	maxSamples := p.settings.MaxSpeechDurationSamples()
	if len(utterance) > maxSamples {
		utterance = utterance[:maxSamples]
	}

	if p.sink != nil {
		p.sink.Save(p.sessionID, utterance, p.settings.SampleRate)
	}

	p.mu.Lock()
	language, prompt := p.language, p.prompt
	p.mu.Unlock()

	p.dispatcher.Submit(p.ctx, p.sessionID, speechID, utterance, p.settings.SampleRate, language, prompt, func(seq uint64, speechID string, outcome recognizer.Outcome) {
		if p.IsClosed() {
			return
		}
		result := events.Result{Text: outcome.Text, Language: language, Err: outcome.Err}
		p.emit(events.NewRecognitionResult(p.sessionID, speechID, result, p.now()))
	})
}

func (p *Pipeline) currentSpeechID() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.speechID
}
