// Package bootstrap is the composition root: it wires config into the
// VAD pool, recognition dispatcher, session registry, audio-log sink,
// admin handlers and transport adapter, generalized from the teacher's
// InitApp (which wired a speaker manager and a factory-selected VAD pool
// behind internal/pool/internal/speaker instead).
package bootstrap

import (
	"fmt"
	"strconv"
	"time"

	"vadstream/config"
	"vadstream/internal/admin"
	"vadstream/internal/audiolog"
	"vadstream/internal/events"
	"vadstream/internal/logger"
	"vadstream/internal/middleware"
	"vadstream/internal/pipeline"
	"vadstream/internal/recognizer"
	"vadstream/internal/session"
	"vadstream/internal/transport"
	"vadstream/internal/vad"
)

// AppDependencies bundles every collaborator main.go and the router need,
// built once at startup and threaded through for the process lifetime.
type AppDependencies struct {
	Config       *config.Config
	Registry     *session.Registry
	VADPool      *vad.Pool
	Dispatcher   *recognizer.Dispatcher
	AudioLog     *audiolog.Sink
	Admin        *admin.Handlers
	Transport    *transport.Adapter
	RateLimiter  *middleware.RateLimiter
	HotReloadMgr *config.HotReloadManager
}

// InitApp initializes all core components and returns the dependency
// container. configPath is kept so the HotReloadManager can watch the
// same file cfg was loaded from.
func InitApp(cfg *config.Config, configPath string) (*AppDependencies, error) {
	logger.Info("initializing_components")

	registry := session.NewRegistry()

	logger.Info("initializing_vad_pool", "pool_size", cfg.VAD.PoolSize)
	vadPool := vad.NewPool(vadPoolConfig(cfg))
	if err := vadPool.Initialize(); err != nil {
		logger.Error("failed_to_initialize_vad_pool", "error", err)
		return nil, fmt.Errorf("failed to initialize VAD pool: %w", err)
	}

	logger.Info("initializing_recognition_engine")
	engine, err := recognizer.NewSherpaEngine(recognizer.SherpaConfig{
		SampleRate: cfg.Audio.SampleRate,
		FeatureDim: cfg.Audio.FeatureDim,
		ModelPath:  cfg.Recognition.ModelPath,
		TokensPath: cfg.Recognition.TokensPath,
		NumThreads: cfg.Recognition.NumThreads,
		Provider:   cfg.Recognition.Provider,
		Debug:      cfg.Recognition.Debug,
	})
	if err != nil {
		logger.Error("failed_to_initialize_recognition_engine", "error", err)
		return nil, fmt.Errorf("failed to initialize recognition engine: %w", err)
	}
	dispatcher := recognizer.NewDispatcher(engine, cfg.Pool.WorkerCount)

	audioSink := audiolog.New(audiolog.Config{
		Enabled:    cfg.AudioLog.Enabled,
		OutputDir:  cfg.AudioLog.OutputDir,
		MaxFiles:   cfg.AudioLog.MaxFiles,
		SampleRate: cfg.Audio.SampleRate,
	}, cfg.Pool.QueueSize)

	logger.Info("initializing_rate_limiter",
		"requests_per_second", cfg.RateLimit.RequestsPerSecond,
		"max_connections", cfg.RateLimit.MaxConnections,
	)
	rateLimiter := middleware.NewRateLimiter(
		cfg.RateLimit.Enabled,
		cfg.RateLimit.RequestsPerSecond,
		cfg.RateLimit.BurstSize,
		cfg.RateLimit.MaxConnections,
	)

	adminHandlers := admin.New(admin.Options{
		Registry:               registry,
		DefaultVAD:             vadSettingsFromConfig(cfg),
		DefaultAudioLog:        admin.NewAudioLogDefaults(cfg.AudioLog.Enabled, cfg.AudioLog.OutputDir, cfg.AudioLog.MaxFiles),
		ConfigDir:              "config",
		VADModelLoaded:         true,
		RecognitionModelLoaded: true,
		ContinuousRecognition:  cfg.Response.SendMode != "single",
		OnVADChange: func(s pipeline.VADSettings) {
			logger.Info("vad_settings_updated", "threshold", s.Threshold, "silence_duration_ms", s.SilenceDurationMs)
		},
		OnAudioLogChange: func(enabled bool, outputDir string, maxFiles int) {
			audioSink.Reconfigure(enabled, outputDir, maxFiles)
			logger.Info("audio_log_settings_updated", "enabled", enabled, "output_dir", outputDir, "max_files", maxFiles)
		},
	})

	transportAdapter := transport.NewAdapter(transport.Config{
		ReadBufferSize:    cfg.Server.WebSocket.ReadBufferSize,
		WriteBufferSize:   cfg.Server.WebSocket.WriteBufferSize,
		EnableCompression: cfg.Server.WebSocket.EnableCompression,
		ReadTimeout:       time.Duration(cfg.Server.WebSocket.ReadTimeout) * time.Second,
		MaxMessageSize:    cfg.Server.WebSocket.MaxMessageSize,
		SendQueueSize:     cfg.Session.SendQueueSize,
		ContinuousRecognition: func() bool {
			return adminHandlers.ContinuousRecognition()
		},
	})

	logger.Info("initializing_hot_reload_manager")
	hotReloadMgr := config.NewHotReloadManager(cfg, configPath)
	hotReloadMgr.OnChange(func(newCfg *config.Config) {
		logger.SetLevel(newCfg.Logging.Level)
		logger.Info("configuration_reloaded",
			"log_level", newCfg.Logging.Level,
			"vad_provider", newCfg.VAD.Provider,
			"rate_limit_enabled", newCfg.RateLimit.Enabled,
		)
	})
	if err := hotReloadMgr.StartWatching(); err != nil {
		logger.Warn("failed_to_start_config_file_watching", "error", err)
	}

	logger.Info("all_components_initialized_successfully")
	return &AppDependencies{
		Config:       cfg,
		Registry:     registry,
		VADPool:      vadPool,
		Dispatcher:   dispatcher,
		AudioLog:     audioSink,
		Admin:        adminHandlers,
		Transport:    transportAdapter,
		RateLimiter:  rateLimiter,
		HotReloadMgr: hotReloadMgr,
	}, nil
}

// NewSessionPipeline is the transport.NewPipelineFunc closure: it acquires
// a pooled VAD scorer, wraps it in an Engine named after the session, and
// builds a pipeline.Pipeline sharing the process-wide dispatcher and
// audio-log sink.
func (d *AppDependencies) NewSessionPipeline(sessionID int64, emit func(events.Event)) transport.Pipeline {
	scorer, err := d.VADPool.Acquire()
	if err != nil {
		logger.Error("vad_acquire_failed", "session_id", sessionID, "error", err)
		scorer = vad.FuncScorer(func(frame []float32, sampleRate int) (float32, error) { return 0, nil })
	}
	engine := vad.NewEngine(scorer, strconv.FormatInt(sessionID, 10))

	settings := d.Admin.CurrentVADSettings()
	settings.SampleRate = d.Config.Audio.SampleRate

	return pipeline.New(sessionID, settings, engine, d.Dispatcher, d.AudioLog, emit, nowSeconds)
}

// RegisterSession wires a newly accepted transport.Session into the
// registry, returning the deregistration callback Handle calls on close.
func (d *AppDependencies) RegisterSession(s transport.Session) func() {
	d.Registry.Insert(s.ID, s.Pipeline)
	return func() {
		d.Dispatcher.DropSession(s.ID)
		d.Registry.Remove(s.ID)
	}
}

func nowSeconds() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

func vadPoolConfig(cfg *config.Config) vad.PoolConfig {
	return vad.PoolConfig{
		ModelPath:          cfg.VAD.ModelPath,
		Threshold:          cfg.VAD.Threshold,
		MinSilenceDuration: float32(cfg.VAD.SilenceDurationMs) / 1000.0,
		MinSpeechDuration:  float32(cfg.VAD.MinSpeechDurationMs) / 1000.0,
		MaxSpeechDuration:  cfg.VAD.MaxSpeechDurationS,
		WindowSize:         cfg.VAD.WindowSize,
		BufferSizeSeconds:  cfg.VAD.BufferSizeSeconds,
		SampleRate:         cfg.Audio.SampleRate,
		NumThreads:         cfg.VAD.NumThreads,
		Provider:           cfg.VAD.Provider,
		Size:               cfg.VAD.PoolSize,
	}
}

func vadSettingsFromConfig(cfg *config.Config) pipeline.VADSettings {
	return pipeline.VADSettings{
		SampleRate:          cfg.Audio.SampleRate,
		Threshold:           cfg.VAD.Threshold,
		MinSpeechDurationMs: cfg.VAD.MinSpeechDurationMs,
		MaxSpeechDurationS:  cfg.VAD.MaxSpeechDurationS,
		PrefixSpeechPadMs:   cfg.VAD.PrefixSpeechPadMs,
		SilenceDurationMs:   cfg.VAD.SilenceDurationMs,
		ChunkSize:           cfg.VAD.ChunkSize,
	}
}
