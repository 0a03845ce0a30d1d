// Package admin implements the control-plane HTTP surface: health,
// continuous-recognition introspection, the VAD/audio-log config
// round-trip, and audio-log listing/playback/download. Grounded on
// http_speech_recognition_admin_service.py and http_speech_recognition_service.py's
// health_check, with the teacher's gin handler idiom from speaker/handler.go.
package admin

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"vadstream/internal/logger"
	"vadstream/internal/pipeline"
	"vadstream/internal/session"
)

// vadDescriptions documents each tunable, echoed back on GET /config/vad
// the way the source's get_vad_config does.
var vadDescriptions = map[string]string{
	"threshold":               "Speech detection confidence threshold (0.0-1.0)",
	"min_speech_duration_ms":  "Ignore speech shorter than this (ms)",
	"max_speech_duration_s":   "Cut speech longer than this (sec)",
	"prefix_speech_pad_ms":    "Helps prevent cutting off the beginning of speech (ms)",
	"silence_duration_ms":     "Speech considered finished after this silence",
	"chunk_size":              "Number of samples per process (32ms@16kHz=512)",
}

// vadConfigFile mirrors config/vad-config.json's persisted shape: one
// canonical key set, unknown keys tolerated, missing keys default.
type vadConfigFile struct {
	Threshold           float32 `json:"threshold"`
	MinSpeechDurationMs int     `json:"min_speech_duration_ms"`
	MaxSpeechDurationS  float32 `json:"max_speech_duration_s"`
	PrefixSpeechPadMs   int     `json:"prefix_speech_pad_ms"`
	SilenceDurationMs   int     `json:"silence_duration_ms"`
	ChunkSize           int     `json:"chunk_size"`
	LastUpdated         string  `json:"last_updated,omitempty"`
}

// audioLogConfigFile mirrors config/audio-log-config.json.
type audioLogConfigFile struct {
	Enabled     bool   `json:"enabled"`
	OutputDir   string `json:"output_dir"`
	MaxFiles    int    `json:"max_files"`
	LastUpdated string `json:"last_updated,omitempty"`
}

// Handlers owns the mutable VAD/audio-log settings and serves the
// control-plane surface. The defaults arrive through Options (the caller
// builds them from config.Config); the tunables below are what GET/POST
// /config/vad and /config/audio-log round-trip.
type Handlers struct {
	mu sync.RWMutex

	registry *session.Registry

	vad        pipeline.VADSettings
	defaultVAD pipeline.VADSettings

	audioLog        audioLogConfigFile
	defaultAudioLog audioLogConfigFile

	vadConfigPath      string
	audioLogConfigPath string

	vadModelLoaded         bool
	recognitionModelLoaded bool
	continuousRecognition  bool

	onVADChange      func(pipeline.VADSettings)
	onAudioLogChange func(enabled bool, outputDir string, maxFiles int)
}

// Options configures a new Handlers instance.
type Options struct {
	Registry               *session.Registry
	DefaultVAD             pipeline.VADSettings
	DefaultAudioLog        audioLogConfigFile
	ConfigDir              string
	VADModelLoaded         bool
	RecognitionModelLoaded bool
	ContinuousRecognition  bool
	OnVADChange            func(pipeline.VADSettings)
	OnAudioLogChange       func(enabled bool, outputDir string, maxFiles int)
}

// NewAudioLogDefaults builds the audioLogConfigFile seed from plain
// fields, so callers outside this package never need the unexported type.
func NewAudioLogDefaults(enabled bool, outputDir string, maxFiles int) audioLogConfigFile {
	return audioLogConfigFile{Enabled: enabled, OutputDir: outputDir, MaxFiles: maxFiles}
}

// New constructs Handlers, loading any previously persisted
// vad-config.json/audio-log-config.json over the supplied defaults.
func New(opts Options) *Handlers {
	h := &Handlers{
		registry:               opts.Registry,
		vad:                    opts.DefaultVAD,
		defaultVAD:             opts.DefaultVAD,
		audioLog:               opts.DefaultAudioLog,
		defaultAudioLog:        opts.DefaultAudioLog,
		vadConfigPath:          filepath.Join(opts.ConfigDir, "vad-config.json"),
		audioLogConfigPath:     filepath.Join(opts.ConfigDir, "audio-log-config.json"),
		vadModelLoaded:         opts.VADModelLoaded,
		recognitionModelLoaded: opts.RecognitionModelLoaded,
		continuousRecognition:  opts.ContinuousRecognition,
		onVADChange:            opts.OnVADChange,
		onAudioLogChange:       opts.OnAudioLogChange,
	}

	if f, err := loadVADConfigFile(h.vadConfigPath); err == nil {
		h.vad = applyVADConfigFile(h.vad, f)
	}
	if f, err := loadAudioLogConfigFile(h.audioLogConfigPath); err == nil {
		h.audioLog = f
	}
	return h
}

// CurrentVADSettings returns the live VAD tunables, for a transport
// pipeline being constructed for a new session.
func (h *Handlers) CurrentVADSettings() pipeline.VADSettings {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.vad
}

// ContinuousRecognition reports whether the writer should keep a
// connection open after delivering a RecognitionResult.
func (h *Handlers) ContinuousRecognition() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.continuousRecognition
}

// RegisterRoutes wires the control-plane surface onto router.
func (h *Handlers) RegisterRoutes(router *gin.Engine) {
	router.GET("/health", h.Health)
	router.GET("/continuous", h.Continuous)

	router.GET("/config/vad", h.GetVADConfig)
	router.POST("/config/vad", h.UpdateVADConfig)
	router.POST("/config/vad/reset", h.ResetVADConfig)

	router.GET("/config/audio-log", h.GetAudioLogConfig)
	router.POST("/config/audio-log", h.UpdateAudioLogConfig)

	logs := router.Group("/audio-logs")
	{
		logs.GET("", h.ListAudioLogs)
		logs.GET("/:filename/play", h.PlayAudioFile)
		logs.GET("/:filename/info", h.AudioFileInfo)
		logs.GET("/:filename/download", h.DownloadAudioFile)
	}
}

// Health answers GET /health.
func (h *Handlers) Health(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	c.JSON(http.StatusOK, gin.H{
		"status":                    "healthy",
		"active_sessions":           h.registry.Size(),
		"vad_model_loaded":          h.vadModelLoaded,
		"recognition_model_loaded":  h.recognitionModelLoaded,
		"audio_logging_enabled":     h.audioLog.Enabled,
		"audio_log_dir":             h.audioLog.OutputDir,
		"vad_config":                h.vadConfigMap(),
		"continuous_recognition":    h.continuousRecognition,
	})
}

// Continuous answers GET /continuous.
func (h *Handlers) Continuous(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c.String(http.StatusOK, fmt.Sprintf("%t", h.continuousRecognition))
}

// GetVADConfig answers GET /config/vad.
func (h *Handlers) GetVADConfig(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{
		"config":       h.vadConfigMap(),
		"descriptions": vadDescriptions,
	})
}

// UpdateVADConfig answers POST /config/vad: clamps every supplied field
// to §4.2's valid range, persists to vad-config.json, and propagates the
// new snapshot to sessions created afterward (existing sessions keep
// their own snapshot, per §3 Ownership).
func (h *Handlers) UpdateVADConfig(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	h.mu.Lock()
	oldCfg := h.vadConfigMapLocked()
	updated := h.vad
	if v, ok := numberField(body, "threshold"); ok {
		updated.Threshold = float32(v)
	}
	if v, ok := numberField(body, "min_speech_duration_ms"); ok {
		updated.MinSpeechDurationMs = int(v)
	}
	if v, ok := numberField(body, "max_speech_duration_s"); ok {
		updated.MaxSpeechDurationS = float32(v)
	}
	if v, ok := numberField(body, "prefix_speech_pad_ms"); ok {
		updated.PrefixSpeechPadMs = int(v)
	}
	if v, ok := numberField(body, "silence_duration_ms"); ok {
		updated.SilenceDurationMs = int(v)
	}
	if v, ok := numberField(body, "chunk_size"); ok {
		updated.ChunkSize = int(v)
	}
	updated = pipeline.ClampVADSettings(updated)
	h.vad = updated
	newCfg := h.vadConfigMapLocked()
	onChange := h.onVADChange
	h.mu.Unlock()

	if err := h.saveVADConfig(); err != nil {
		logger.Error("vad_config_save_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if onChange != nil {
		onChange(updated)
	}

	logger.Info("vad_config_updated", "old", oldCfg, "new", newCfg)
	c.JSON(http.StatusOK, gin.H{
		"status":                 "success",
		"message":                "VAD configuration updated and saved",
		"old_config":             oldCfg,
		"new_config":             newCfg,
		"active_sessions_updated": h.registry.Size(),
	})
}

// ResetVADConfig answers POST /config/vad/reset.
func (h *Handlers) ResetVADConfig(c *gin.Context) {
	h.mu.Lock()
	oldCfg := h.vadConfigMapLocked()
	h.vad = h.defaultVAD
	newCfg := h.vadConfigMapLocked()
	onChange := h.onVADChange
	updated := h.vad
	h.mu.Unlock()

	if err := h.saveVADConfig(); err != nil {
		logger.Error("vad_config_save_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if onChange != nil {
		onChange(updated)
	}

	logger.Info("vad_config_reset", "old", oldCfg, "new", newCfg)
	c.JSON(http.StatusOK, gin.H{
		"status":                 "success",
		"message":                "VAD configuration reset to defaults and saved",
		"old_config":             oldCfg,
		"new_config":             newCfg,
		"active_sessions_updated": h.registry.Size(),
	})
}

// GetAudioLogConfig answers GET /config/audio-log.
func (h *Handlers) GetAudioLogConfig(c *gin.Context) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	c.JSON(http.StatusOK, gin.H{
		"enabled":    h.audioLog.Enabled,
		"output_dir": h.audioLog.OutputDir,
		"max_files":  h.audioLog.MaxFiles,
	})
}

// UpdateAudioLogConfig answers POST /config/audio-log.
func (h *Handlers) UpdateAudioLogConfig(c *gin.Context) {
	var body map[string]any
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		return
	}

	h.mu.Lock()
	if v, ok := body["enabled"].(bool); ok {
		h.audioLog.Enabled = v
	}
	if v, ok := body["output_dir"].(string); ok {
		h.audioLog.OutputDir = v
		if err := os.MkdirAll(v, 0o755); err != nil {
			logger.Warn("audio_log_output_dir_create_failed", "dir", v, "error", err)
		}
	}
	if v, ok := numberField(body, "max_files"); ok {
		h.audioLog.MaxFiles = int(v)
	}
	cfg := h.audioLog
	onChange := h.onAudioLogChange
	h.mu.Unlock()

	if err := h.saveAudioLogConfig(); err != nil {
		logger.Error("audio_log_config_save_failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if onChange != nil {
		onChange(cfg.Enabled, cfg.OutputDir, cfg.MaxFiles)
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": "Audio log configuration updated and saved",
		"config": gin.H{
			"enabled":    cfg.Enabled,
			"output_dir": cfg.OutputDir,
			"max_files":  cfg.MaxFiles,
		},
	})
}

type audioLogFileInfo struct {
	Filename        string  `json:"filename"`
	SizeBytes       int64   `json:"size_bytes"`
	CreatedAt       string  `json:"created_at"`
	ModifiedAt      string  `json:"modified_at"`
	HasMetadata     bool    `json:"has_metadata"`
	SessionID       *int64  `json:"session_id,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
	Samples         *int    `json:"samples,omitempty"`
	SampleRate      *int    `json:"sample_rate,omitempty"`
}

// ListAudioLogs answers GET /audio-logs.
func (h *Handlers) ListAudioLogs(c *gin.Context) {
	h.mu.RLock()
	enabled, dir := h.audioLog.Enabled, h.audioLog.OutputDir
	h.mu.RUnlock()

	if !enabled {
		c.JSON(http.StatusOK, gin.H{"error": "Audio logging is disabled"})
		return
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.raw"))
	if err != nil {
		c.JSON(http.StatusOK, gin.H{"files": []audioLogFileInfo{}, "total": 0})
		return
	}

	infos := make([]audioLogFileInfo, 0, len(matches))
	var totalSize int64
	for _, path := range matches {
		stat, err := os.Stat(path)
		if err != nil {
			continue
		}
		info := audioLogFileInfo{
			Filename:   filepath.Base(path),
			SizeBytes:  stat.Size(),
			CreatedAt:  stat.ModTime().Format(time.RFC3339),
			ModifiedAt: stat.ModTime().Format(time.RFC3339),
		}
		if meta, err := readMeta(metaPathFor(path)); err == nil {
			info.HasMetadata = true
			info.SessionID = &meta.SessionID
			info.DurationSeconds = &meta.DurationSeconds
			info.Samples = &meta.Samples
			info.SampleRate = &meta.SampleRate
		}
		totalSize += stat.Size()
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].CreatedAt > infos[j].CreatedAt })

	c.JSON(http.StatusOK, gin.H{
		"files":            infos,
		"total":            len(infos),
		"total_size_bytes": totalSize,
	})
}

// PlayAudioFile answers GET /audio-logs/:filename/play, converting the
// raw float32 capture to 16-bit PCM WAV bytes on the fly, the way
// play_audio_file manually builds a WAV header.
func (h *Handlers) PlayAudioFile(c *gin.Context) {
	filename := c.Param("filename")

	h.mu.RLock()
	enabled, dir := h.audioLog.Enabled, h.audioLog.OutputDir
	h.mu.RUnlock()
	if !enabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "Audio logging is disabled"})
		return
	}
	if !validRawFilename(filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filename"})
		return
	}

	rawPath := filepath.Join(dir, filename)
	samples, err := readRawSamples(rawPath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Audio file not found"})
		return
	}
	if len(samples) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Empty audio file"})
		return
	}

	sampleRate := 16000
	if meta, err := readMeta(metaPathFor(rawPath)); err == nil && meta.SampleRate > 0 {
		sampleRate = meta.SampleRate
	}

	wavBytes := encodeWAV(samples, sampleRate)
	wavName := strings.TrimSuffix(filename, ".raw") + ".wav"
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="%s"`, wavName))
	c.Header("Cache-Control", "no-cache")
	c.Header("Accept-Ranges", "bytes")
	c.Data(http.StatusOK, "audio/wav", wavBytes)
}

// AudioFileInfo answers GET /audio-logs/:filename/info.
func (h *Handlers) AudioFileInfo(c *gin.Context) {
	filename := c.Param("filename")

	h.mu.RLock()
	enabled, dir := h.audioLog.Enabled, h.audioLog.OutputDir
	h.mu.RUnlock()
	if !enabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "Audio logging is disabled"})
		return
	}
	if !validRawFilename(filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filename"})
		return
	}

	rawPath := filepath.Join(dir, filename)
	stat, err := os.Stat(rawPath)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "Audio file not found"})
		return
	}
	samples, _ := readRawSamples(rawPath)

	meta, _ := readMeta(metaPathFor(rawPath))
	sampleRate := meta.SampleRate
	if sampleRate == 0 {
		sampleRate = 16000
	}

	var minV, maxV, sum, sumSq float64
	for i, v := range samples {
		f := float64(v)
		if i == 0 || f < minV {
			minV = f
		}
		if i == 0 || f > maxV {
			maxV = f
		}
		sum += f
		sumSq += f * f
	}
	n := len(samples)
	mean, rms := 0.0, 0.0
	if n > 0 {
		mean = sum / float64(n)
		rms = sqrt(sumSq / float64(n))
	}

	c.JSON(http.StatusOK, gin.H{
		"filename":         filename,
		"file_size_bytes":  stat.Size(),
		"expected_samples": stat.Size() / 4,
		"metadata":         meta,
		"audio_stats": gin.H{
			"samples":          n,
			"duration_seconds": float64(n) / float64(sampleRate),
			"min_value":        minV,
			"max_value":        maxV,
			"mean_value":       mean,
			"rms_value":        rms,
		},
		"created_at": stat.ModTime().Format(time.RFC3339),
		"is_valid":   n > 0 && stat.Size()%4 == 0,
	})
}

// DownloadAudioFile answers GET /audio-logs/:filename/download.
func (h *Handlers) DownloadAudioFile(c *gin.Context) {
	filename := c.Param("filename")

	h.mu.RLock()
	enabled, dir := h.audioLog.Enabled, h.audioLog.OutputDir
	h.mu.RUnlock()
	if !enabled {
		c.JSON(http.StatusForbidden, gin.H{"error": "Audio logging is disabled"})
		return
	}
	if !validRawFilename(filename) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid filename"})
		return
	}

	path := filepath.Join(dir, filename)
	if _, err := os.Stat(path); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "File not found"})
		return
	}
	c.FileAttachment(path, filename)
}

// validRawFilename rejects path traversal, matching the source's
// endswith('.raw') + no '..' + no '/' check.
func validRawFilename(name string) bool {
	if name == "" || !strings.HasSuffix(name, ".raw") {
		return false
	}
	return !strings.Contains(name, "..") && !strings.ContainsAny(name, "/\\")
}

func (h *Handlers) vadConfigMap() gin.H {
	return h.vadConfigMapLocked()
}

func (h *Handlers) vadConfigMapLocked() gin.H {
	return gin.H{
		"threshold":               h.vad.Threshold,
		"min_speech_duration_ms":  h.vad.MinSpeechDurationMs,
		"max_speech_duration_s":   h.vad.MaxSpeechDurationS,
		"prefix_speech_pad_ms":    h.vad.PrefixSpeechPadMs,
		"silence_duration_ms":     h.vad.SilenceDurationMs,
		"chunk_size":              h.vad.ChunkSize,
	}
}

func (h *Handlers) saveVADConfig() error {
	h.mu.RLock()
	f := vadConfigFile{
		Threshold:           h.vad.Threshold,
		MinSpeechDurationMs: h.vad.MinSpeechDurationMs,
		MaxSpeechDurationS:  h.vad.MaxSpeechDurationS,
		PrefixSpeechPadMs:   h.vad.PrefixSpeechPadMs,
		SilenceDurationMs:   h.vad.SilenceDurationMs,
		ChunkSize:           h.vad.ChunkSize,
		LastUpdated:         time.Now().Format(time.RFC3339),
	}
	path := h.vadConfigPath
	h.mu.RUnlock()
	return writeJSONFile(path, f)
}

func (h *Handlers) saveAudioLogConfig() error {
	h.mu.RLock()
	f := h.audioLog
	f.LastUpdated = time.Now().Format(time.RFC3339)
	path := h.audioLogConfigPath
	h.mu.RUnlock()
	return writeJSONFile(path, f)
}

func applyVADConfigFile(base pipeline.VADSettings, f vadConfigFile) pipeline.VADSettings {
	base.Threshold = f.Threshold
	base.MinSpeechDurationMs = f.MinSpeechDurationMs
	base.MaxSpeechDurationS = f.MaxSpeechDurationS
	base.PrefixSpeechPadMs = f.PrefixSpeechPadMs
	base.SilenceDurationMs = f.SilenceDurationMs
	base.ChunkSize = f.ChunkSize
	return pipeline.ClampVADSettings(base)
}

func loadVADConfigFile(path string) (vadConfigFile, error) {
	var f vadConfigFile
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	err = json.Unmarshal(raw, &f)
	return f, err
}

func loadAudioLogConfigFile(path string) (audioLogConfigFile, error) {
	var f audioLogConfigFile
	raw, err := os.ReadFile(path)
	if err != nil {
		return f, err
	}
	err = json.Unmarshal(raw, &f)
	return f, err
}

func writeJSONFile(path string, v any) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, raw, 0o644)
}

func numberField(body map[string]any, key string) (float64, bool) {
	v, ok := body[key]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64) // encoding/json decodes all JSON numbers as float64
	return f, ok
}
