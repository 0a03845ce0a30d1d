package recognizer

import (
	"context"
	"fmt"
	"sync"

	sherpa "github.com/k2-fsa/sherpa-onnx-go/sherpa_onnx"
)

// SherpaConfig mirrors the fields bootstrap.InitApp pulls out of
// config.Config to build a sherpa.OfflineRecognizerConfig.
type SherpaConfig struct {
	SampleRate int
	FeatureDim int

	ModelPath  string
	TokensPath string
	NumThreads int
	Provider   string
	Debug      bool
}

// SherpaEngine implements Engine over a set of sherpa-onnx SenseVoice
// offline recognizers, one per requested language. SenseVoice bakes its
// language hint into ModelConfig.SenseVoice.Language at
// sherpa.NewOfflineRecognizer construction time rather than accepting it
// per decode call, so each distinct language gets its own lazily built,
// cached native recognizer. Each recognizer is safe for concurrent Decode
// calls as long as each call uses its own OfflineStream, which this type
// does.
type SherpaEngine struct {
	cfg SherpaConfig

	mu          sync.Mutex
	recognizers map[string]*sherpa.OfflineRecognizer
}

// NewSherpaEngine constructs the default (auto-detect language) recognizer
// from cfg; further languages are built lazily as sessions request them.
func NewSherpaEngine(cfg SherpaConfig) (*SherpaEngine, error) {
	e := &SherpaEngine{cfg: cfg, recognizers: make(map[string]*sherpa.OfflineRecognizer)}
	r, err := e.buildRecognizer("")
	if err != nil {
		return nil, err
	}
	e.recognizers[""] = r
	return e, nil
}

func (e *SherpaEngine) buildRecognizer(language string) (*sherpa.OfflineRecognizer, error) {
	c := sherpa.OfflineRecognizerConfig{}
	c.FeatConfig.SampleRate = e.cfg.SampleRate
	c.FeatConfig.FeatureDim = e.cfg.FeatureDim

	c.ModelConfig.SenseVoice.Model = e.cfg.ModelPath
	c.ModelConfig.SenseVoice.Language = language
	c.ModelConfig.Tokens = e.cfg.TokensPath
	c.ModelConfig.NumThreads = e.cfg.NumThreads
	c.ModelConfig.Debug = 0
	if e.cfg.Debug {
		c.ModelConfig.Debug = 1
	}
	c.ModelConfig.Provider = e.cfg.Provider

	r := sherpa.NewOfflineRecognizer(&c)
	if r == nil {
		return nil, fmt.Errorf("failed to create offline recognizer for language %q", language)
	}
	return r, nil
}

// recognizerFor returns the cached recognizer for language (empty string
// means auto-detect), building and caching one on first use.
func (e *SherpaEngine) recognizerFor(language string) (*sherpa.OfflineRecognizer, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if r, ok := e.recognizers[language]; ok {
		return r, nil
	}
	r, err := e.buildRecognizer(language)
	if err != nil {
		return nil, err
	}
	e.recognizers[language] = r
	return r, nil
}

// Recognize decodes one utterance with the recognizer matching language.
// It cannot check ctx for cancellation mid-decode (the native call is not
// interruptible); it checks ctx before and after the native call and
// returns ctx.Err() instead of a result once ctx is cancelled.
//
// prompt is accepted to satisfy the dispatch contract but does not
// currently influence decoding: sherpa-onnx-go's SenseVoice
// OfflineRecognizerConfig exposes no word-biasing or prompt hook to bind
// it to.
func (e *SherpaEngine) Recognize(ctx context.Context, samples []float32, sampleRate int, language, prompt string) (Outcome, error) {
	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	default:
	}

	r, err := e.recognizerFor(language)
	if err != nil {
		return Outcome{}, err
	}

	stream := sherpa.NewOfflineStream(r)
	defer sherpa.DeleteOfflineStream(stream)

	stream.AcceptWaveform(sampleRate, samples)
	r.Decode(stream)
	result := stream.GetResult()

	select {
	case <-ctx.Done():
		return Outcome{}, ctx.Err()
	default:
	}

	if result == nil {
		return Outcome{}, fmt.Errorf("recognition failed")
	}
	return Outcome{Text: result.Text}, nil
}
