package vad

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	ort "github.com/yalue/onnxruntime_go"

	"vadstream/internal/logger"
)

const (
	// sileroWindowSize is the number of float32 samples per inference call.
	// Silero VAD v5 at 16 kHz requires exactly 512 samples (32 ms).
	sileroWindowSize = 512

	// sileroStateSize is the hidden state dimension per layer: a combined
	// state tensor of shape [2, 1, 128].
	sileroStateSize = 128
)

// ortInitOnce ensures the ONNX Runtime environment is initialized exactly
// once per process. ortInitErr is cached at package scope so later Pool
// instances surface the same failure instead of retrying a doomed init.
var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// PoolConfig configures a Pool of pooled Silero VAD scorers.
type PoolConfig struct {
	ModelPath          string
	Threshold          float32
	MinSilenceDuration float32
	MinSpeechDuration  float32
	MaxSpeechDuration  float32
	WindowSize         int
	BufferSizeSeconds  float32
	SampleRate         int
	NumThreads         int
	Provider           string
	Size               int
}

func (c PoolConfig) windowSize() int {
	if c.WindowSize > 0 {
		return c.WindowSize
	}
	return sileroWindowSize
}

// instance wraps one native ONNX Runtime session running the raw Silero v5
// graph, plus its reused input/output tensors and pool bookkeeping. Unlike
// the upstream VoiceActivityDetector wrapper (which only ever reports a
// segment boundary after buffering a whole utterance), this runs the model
// directly and reports the model's own per-frame speech probability.
type instance struct {
	id       int
	lastUsed int64
	inUse    int32

	session *ort.AdvancedSession

	inputTensor  *ort.Tensor[float32] // [1, windowSize]
	stateTensor  *ort.Tensor[float32] // [2, 1, 128]
	srTensor     *ort.Tensor[int64]   // scalar
	outputTensor *ort.Tensor[float32] // [1, 1]
	stateNTensor *ort.Tensor[float32] // [2, 1, 128]
}

func newInstance(id int, modelData []byte, windowSize, sampleRate int) (*instance, error) {
	inputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, int64(windowSize)))
	if err != nil {
		return nil, fmt.Errorf("silero vad: create input tensor: %w", err)
	}
	stateTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		return nil, fmt.Errorf("silero vad: create state tensor: %w", err)
	}
	srTensor, err := ort.NewTensor(ort.NewShape(1), []int64{int64(sampleRate)})
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		return nil, fmt.Errorf("silero vad: create sr tensor: %w", err)
	}
	outputTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(1, 1))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		return nil, fmt.Errorf("silero vad: create output tensor: %w", err)
	}
	stateNTensor, err := ort.NewEmptyTensor[float32](ort.NewShape(2, 1, sileroStateSize))
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		return nil, fmt.Errorf("silero vad: create stateN tensor: %w", err)
	}

	session, err := ort.NewAdvancedSessionWithONNXData(
		modelData,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{inputTensor, stateTensor, srTensor},
		[]ort.Value{outputTensor, stateNTensor},
		nil, // default session options
	)
	if err != nil {
		inputTensor.Destroy()
		stateTensor.Destroy()
		srTensor.Destroy()
		outputTensor.Destroy()
		stateNTensor.Destroy()
		return nil, fmt.Errorf("silero vad: create session: %w", err)
	}

	return &instance{
		id:           id,
		lastUsed:     time.Now().UnixNano(),
		session:      session,
		inputTensor:  inputTensor,
		stateTensor:  stateTensor,
		srTensor:     srTensor,
		outputTensor: outputTensor,
		stateNTensor: stateNTensor,
	}, nil
}

// reset clears the recurrent hidden state so the instance is safe to hand
// to a new session. The graph has no other carried state.
func (i *instance) reset() {
	clearFloat32Slice(i.stateTensor.GetData())
}

func (i *instance) infer(frame []float32) (float32, error) {
	copy(i.inputTensor.GetData(), frame)
	if err := i.session.Run(); err != nil {
		return 0, fmt.Errorf("silero vad: inference: %w", err)
	}
	prob := i.outputTensor.GetData()[0]
	copy(i.stateTensor.GetData(), i.stateNTensor.GetData())
	return prob, nil
}

func (i *instance) destroy() {
	if i.session != nil {
		i.session.Destroy()
		i.session = nil
	}
	if i.inputTensor != nil {
		i.inputTensor.Destroy()
		i.inputTensor = nil
	}
	if i.stateTensor != nil {
		i.stateTensor.Destroy()
		i.stateTensor = nil
	}
	if i.srTensor != nil {
		i.srTensor.Destroy()
		i.srTensor = nil
	}
	if i.outputTensor != nil {
		i.outputTensor.Destroy()
		i.outputTensor = nil
	}
	if i.stateNTensor != nil {
		i.stateNTensor.Destroy()
		i.stateNTensor = nil
	}
}

func clearFloat32Slice(s []float32) {
	for i := range s {
		s[i] = 0
	}
}

// Pool manages a fixed set of native Silero VAD ONNX sessions, handed out
// as Scorer values and returned on session close, following the teacher's
// channel-based acquire/release pattern.
type Pool struct {
	cfg       PoolConfig
	modelData []byte

	instances []*instance
	available chan *instance

	totalCreated int64
	totalActive  int64

	mu     sync.RWMutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewPool creates an uninitialized Pool; call Initialize before Acquire.
func NewPool(cfg PoolConfig) *Pool {
	ctx, cancel := context.WithCancel(context.Background())
	return &Pool{
		cfg:       cfg,
		available: make(chan *instance, cfg.Size),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Initialize loads the Silero model file once, initializes the ONNX
// Runtime environment, and creates cfg.Size sessions in parallel. It
// succeeds as long as at least one session was created.
func (p *Pool) Initialize() error {
	logger.Info("initializing_vad_pool", "size", p.cfg.Size)

	modelData, err := os.ReadFile(p.cfg.ModelPath)
	if err != nil {
		return fmt.Errorf("read silero vad model %q: %w", p.cfg.ModelPath, err)
	}
	p.modelData = modelData

	ortInitOnce.Do(func() {
		libPath, err := resolveORTLibPath()
		if err != nil {
			ortInitErr = fmt.Errorf("resolve onnxruntime shared library: %w", err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return fmt.Errorf("initialize onnxruntime environment: %w", ortInitErr)
	}

	windowSize := p.cfg.windowSize()

	var wg sync.WaitGroup
	errCh := make(chan error, p.cfg.Size)

	for i := 0; i < p.cfg.Size; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()

			inst, err := newInstance(id, modelData, windowSize, p.cfg.SampleRate)
			if err != nil {
				errCh <- fmt.Errorf("vad instance %d: %w", id, err)
				return
			}

			p.mu.Lock()
			p.instances = append(p.instances, inst)
			p.mu.Unlock()

			select {
			case p.available <- inst:
				atomic.AddInt64(&p.totalCreated, 1)
			default:
				inst.destroy()
				errCh <- fmt.Errorf("vad pool queue full, instance %d discarded", id)
			}
		}(i)
	}

	wg.Wait()
	close(errCh)

	var errs int
	for err := range errCh {
		errs++
		logger.Warn("vad_pool_initialization_warning", "error", err)
	}

	p.mu.RLock()
	created := len(p.instances)
	p.mu.RUnlock()

	logger.Info("vad_pool_initialized", "success_count", created, "target_size", p.cfg.Size)
	if created == 0 {
		return fmt.Errorf("failed to initialize any vad instances")
	}
	return nil
}

// Acquire hands out a pooled Scorer. On pool exhaustion (100ms timeout) it
// falls back to creating a temporary instance rather than blocking ingest.
func (p *Pool) Acquire() (Scorer, error) {
	select {
	case inst := <-p.available:
		if !atomic.CompareAndSwapInt32(&inst.inUse, 0, 1) {
			// Raced with another acquirer; retry.
			return p.Acquire()
		}
		inst.lastUsed = time.Now().UnixNano()
		atomic.AddInt64(&p.totalActive, 1)
		return &sileroScorer{pool: p, inst: inst}, nil
	case <-time.After(100 * time.Millisecond):
		logger.Warn("vad_pool_exhausted", "action", "create_temporary_instance")
		return p.createTemporary()
	case <-p.ctx.Done():
		return nil, fmt.Errorf("vad pool is shutting down")
	}
}

func (p *Pool) createTemporary() (Scorer, error) {
	inst, err := newInstance(-1, p.modelData, p.cfg.windowSize(), p.cfg.SampleRate)
	if err != nil {
		return nil, fmt.Errorf("failed to create temporary vad instance: %w", err)
	}
	inst.inUse = 1
	atomic.AddInt64(&p.totalCreated, 1)
	atomic.AddInt64(&p.totalActive, 1)
	return &sileroScorer{pool: p, inst: inst, temporary: true}, nil
}

func (p *Pool) release(inst *instance, temporary bool) {
	atomic.AddInt64(&p.totalActive, -1)

	if temporary {
		inst.destroy()
		return
	}

	if !atomic.CompareAndSwapInt32(&inst.inUse, 1, 0) {
		return
	}
	inst.lastUsed = time.Now().UnixNano()
	inst.reset()

	select {
	case p.available <- inst:
	default:
		logger.Warn("vad_pool_full_on_release", "id", inst.id)
		inst.destroy()
	}
}

// Stats returns pool utilization counters for the admin/health surface.
func (p *Pool) Stats() map[string]interface{} {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return map[string]interface{}{
		"pool_size":       p.cfg.Size,
		"total_instances": len(p.instances),
		"available_count": len(p.available),
		"active_count":    atomic.LoadInt64(&p.totalActive),
		"total_created":   atomic.LoadInt64(&p.totalCreated),
	}
}

// Shutdown destroys every session, draining the pool first.
func (p *Pool) Shutdown() {
	p.cancel()

	p.mu.Lock()
	defer p.mu.Unlock()

	for {
		select {
		case inst := <-p.available:
			inst.destroy()
		default:
			for _, inst := range p.instances {
				inst.destroy()
			}
			p.instances = nil
			return
		}
	}
}

// sileroScorer implements Scorer over one pooled (or temporary) ONNX
// Runtime session running the raw Silero v5 graph directly, so Score
// returns the model's own per-frame speech probability rather than a
// derived segment-boundary pulse.
type sileroScorer struct {
	pool      *Pool
	inst      *instance
	temporary bool
}

func (s *sileroScorer) Score(frame []float32, sampleRate int) (float32, error) {
	want := s.pool.cfg.windowSize()
	if len(frame) != want {
		return 0, fmt.Errorf("silero vad: expected %d samples, got %d", want, len(frame))
	}
	return s.inst.infer(frame)
}

func (s *sileroScorer) Close() {
	s.pool.release(s.inst, s.temporary)
}

// resolveORTLibPath returns the path to the ONNX Runtime shared library.
// Search order:
//  1. VADSTREAM_ORT_LIB_PATH environment variable (explicit override)
//  2. lib/<goos>-<goarch>/ relative to the executable
//  3. ../lib/<goos>-<goarch>/ relative to the executable (bin/ layout)
//  4. lib/<goos>-<goarch>/ and ../lib/<goos>-<goarch>/ relative to the
//     working directory, only if VADSTREAM_DEV_MODE=1
//
// CWD-based lookup is disabled by default to prevent shared library
// hijacking; set VADSTREAM_DEV_MODE=1 during development to enable it.
func resolveORTLibPath() (string, error) {
	if envPath := os.Getenv("VADSTREAM_ORT_LIB_PATH"); envPath != "" {
		info, err := os.Stat(envPath)
		if err != nil {
			return "", fmt.Errorf("VADSTREAM_ORT_LIB_PATH=%q does not exist", envPath)
		}
		if info.IsDir() {
			return "", fmt.Errorf("VADSTREAM_ORT_LIB_PATH=%q is a directory, expected a file", envPath)
		}
		return envPath, nil
	}

	filename := ortLibFilename()
	libRel := filepath.Join("lib", runtime.GOOS+"-"+runtime.GOARCH, filename)
	libRelParent := filepath.Join("..", "lib", runtime.GOOS+"-"+runtime.GOARCH, filename)

	if exePath, err := os.Executable(); err == nil {
		exeDir := filepath.Dir(exePath)
		for _, rel := range []string{libRel, libRelParent} {
			path := filepath.Join(exeDir, rel)
			if _, err := os.Stat(path); err == nil {
				return path, nil
			}
		}
	}

	if os.Getenv("VADSTREAM_DEV_MODE") == "1" {
		if dir, err := os.Getwd(); err == nil {
			for _, rel := range []string{libRel, libRelParent} {
				path := filepath.Join(dir, rel)
				if _, err := os.Stat(path); err == nil {
					return path, nil
				}
			}
		}
	}

	return "", fmt.Errorf("onnxruntime shared library not found; searched lib/<os>-<arch>/%s relative to the executable (set VADSTREAM_ORT_LIB_PATH to override, or VADSTREAM_DEV_MODE=1 to enable a working-directory fallback)", filename)
}

func ortLibFilename() string {
	switch runtime.GOOS {
	case "darwin":
		return "libonnxruntime.dylib"
	case "windows":
		return "onnxruntime.dll"
	default:
		return "libonnxruntime.so"
	}
}
