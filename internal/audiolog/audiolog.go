// Package audiolog implements the AudioSink component: best-effort
// capture of dispatched utterances to a `.raw` + `.meta` pair, plus a
// `.wav` preview, with probabilistic retention sweeps. Grounded on
// audio_logger.py / audio_log_config.py.
package audiolog

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"vadstream/internal/logger"
)

// Config mirrors audio_log_config.py's AudioLogConfig.
type Config struct {
	Enabled    bool
	OutputDir  string
	MaxFiles   int
	SampleRate int
}

type metadata struct {
	Filename        string  `json:"filename"`
	SessionID       int64   `json:"session_id"`
	Timestamp       string  `json:"timestamp"`
	SampleRate      int     `json:"sample_rate"`
	Channels        int     `json:"channels"`
	DataType        string  `json:"data_type"`
	DurationSeconds float64 `json:"duration_seconds"`
	Samples         int     `json:"samples"`
}

// Sink is the AudioSink component. Save runs its work on a background
// worker goroutine fed by a bounded channel, so a slow disk never blocks
// the caller's ingest path; a full queue drops the capture rather than
// blocking.
type Sink struct {
	mu    sync.RWMutex
	cfg   Config
	tasks chan saveTask
	done  chan struct{}
}

type saveTask struct {
	sessionID int64
	samples   []float32
}

// New starts a Sink's background worker. queueSize bounds how many
// pending captures may be buffered before Save drops one (logging a warning).
func New(cfg Config, queueSize int) *Sink {
	if queueSize <= 0 {
		queueSize = 16
	}
	s := &Sink{cfg: cfg, tasks: make(chan saveTask, queueSize), done: make(chan struct{})}
	go s.worker()
	return s
}

// Save enqueues samples for best-effort capture. Never blocks.
func (s *Sink) Save(sessionID int64, samples []float32, sampleRate int) {
	s.mu.RLock()
	enabled := s.cfg.Enabled
	s.mu.RUnlock()
	if !enabled {
		return
	}
	select {
	case s.tasks <- saveTask{sessionID: sessionID, samples: samples}:
	default:
		logger.Warn("audio_log_queue_full", "session_id", sessionID, "action", "capture_dropped")
	}
}

// Reconfigure updates enabled/output_dir/max_files live, mirroring the
// admin surface's POST /config/audio-log mutation.
func (s *Sink) Reconfigure(enabled bool, outputDir string, maxFiles int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Enabled = enabled
	s.cfg.OutputDir = outputDir
	s.cfg.MaxFiles = maxFiles
}

// Shutdown stops the worker goroutine; pending queued tasks are discarded.
func (s *Sink) Shutdown() {
	close(s.done)
}

func (s *Sink) worker() {
	for {
		select {
		case <-s.done:
			return
		case t := <-s.tasks:
			s.save(t.sessionID, t.samples)
		}
	}
}

func (s *Sink) save(sessionID int64, samples []float32) {
	s.mu.RLock()
	cfg := s.cfg
	s.mu.RUnlock()

	now := time.Now()
	timestamp := fmt.Sprintf("%s_%03d", now.Format("20060102_150405"), now.Nanosecond()/1e6) // YYYYMMDD_HHMMSS_mmm, matching the original's %f[:-3]

	filename := fmt.Sprintf("audio_%s_session_%d.raw", timestamp, sessionID)
	rawPath := filepath.Join(cfg.OutputDir, filename)

	if err := writeRaw(rawPath, samples); err != nil {
		logger.Error("audio_log_write_failed", "session_id", sessionID, "error", err)
		return
	}

	meta := metadata{
		Filename:        filename,
		SessionID:       sessionID,
		Timestamp:       timestamp,
		SampleRate:      cfg.SampleRate,
		Channels:        1,
		DataType:        "float32",
		DurationSeconds: float64(len(samples)) / float64(cfg.SampleRate),
		Samples:         len(samples),
	}
	metaPath := rawPath[:len(rawPath)-len(filepath.Ext(rawPath))] + ".meta"
	if err := writeMeta(metaPath, meta); err != nil {
		logger.Error("audio_log_meta_write_failed", "session_id", sessionID, "error", err)
	}

	wavPath := rawPath[:len(rawPath)-len(filepath.Ext(rawPath))] + ".wav"
	if err := writeWAV(wavPath, samples, cfg.SampleRate); err != nil {
		logger.Error("audio_log_wav_write_failed", "session_id", sessionID, "error", err)
	}

	logger.Info("audio_log_saved", "session_id", sessionID, "path", rawPath, "samples", len(samples),
		"duration_seconds", meta.DurationSeconds)

	if rand.Float64() < 0.1 {
		s.cleanupOldFiles(cfg)
	}
}

func writeRaw(path string, samples []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	buf := make([]byte, len(samples)*4)
	for i, v := range samples {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(v))
	}
	_, err = f.Write(buf)
	return err
}

func writeMeta(path string, m metadata) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(m)
}

// writeWAV renders samples as a 16-bit PCM mono WAV, supplementing the
// raw float32 capture with a file a human can audition directly.
func writeWAV(path string, samples []float32, sampleRate int) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, 1, 1)
	defer enc.Close()

	ints := make([]int, len(samples))
	for i, v := range samples {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		ints[i] = int(v * 32767)
	}

	buf := &audio.IntBuffer{
		Format: &audio.Format{NumChannels: 1, SampleRate: sampleRate},
		Data:   ints,
	}
	return enc.Write(buf)
}

func (s *Sink) cleanupOldFiles(cfg Config) {
	entries, err := filepath.Glob(filepath.Join(cfg.OutputDir, "*.raw"))
	if err != nil {
		logger.Error("audio_log_cleanup_glob_failed", "error", err)
		return
	}
	if len(entries) <= cfg.MaxFiles {
		return
	}

	type fileInfo struct {
		path  string
		ctime time.Time
	}
	files := make([]fileInfo, 0, len(entries))
	for _, p := range entries {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		files = append(files, fileInfo{path: p, ctime: info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool { return files[i].ctime.Before(files[j].ctime) })

	excess := len(files) - cfg.MaxFiles
	for i := 0; i < excess; i++ {
		if err := os.Remove(files[i].path); err != nil {
			logger.Error("audio_log_cleanup_delete_failed", "path", files[i].path, "error", err)
			continue
		}
		logger.Info("audio_log_cleanup_deleted", "path", files[i].path)
	}
}
