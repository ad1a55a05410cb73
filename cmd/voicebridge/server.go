package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BaSui01/voicebridge/api/handlers"
	"github.com/BaSui01/voicebridge/config"
	"github.com/BaSui01/voicebridge/internal/cache"
	"github.com/BaSui01/voicebridge/internal/metrics"
	"github.com/BaSui01/voicebridge/internal/server"
	"github.com/BaSui01/voicebridge/internal/telemetry"
	"github.com/BaSui01/voicebridge/llm"
	"github.com/BaSui01/voicebridge/llm/providers/openai"
	"github.com/BaSui01/voicebridge/speech"
	"github.com/BaSui01/voicebridge/voice"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 VoiceBridge 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler *handlers.HealthHandler
	voiceHandler  *handlers.VoiceHandler

	// 上游依赖
	llmProvider  llm.Provider
	ttsProvider  speech.TTSProvider
	cacheManager *cache.Manager

	// 指标收集器
	metricsCollector *metrics.Collector

	// 遥测
	otelProviders *telemetry.Providers

	// Rate limiter 生命周期管理
	rateLimiterCancel context.CancelFunc

	wg sync.WaitGroup
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, logger *zap.Logger, otelProviders *telemetry.Providers) *Server {
	return &Server{
		cfg:           cfg,
		logger:        logger,
		otelProviders: otelProviders,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 启动所有服务
func (s *Server) Start() error {
	// 1. 初始化指标收集器
	s.metricsCollector = metrics.NewCollector("voicebridge", s.logger)

	// 2. 初始化上游 Provider 与 Handlers
	if err := s.initHandlers(); err != nil {
		return fmt.Errorf("failed to init handlers: %w", err)
	}

	// 3. 启动 HTTP 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}

	// 4. 启动 Metrics 服务器
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.Bool("voice_enabled", s.voiceReady()),
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHandlers 初始化上游 Provider、缓存和所有 handlers
func (s *Server) initHandlers() error {
	// 初始化 LLM Provider
	if s.cfg.LLM.APIKey != "" {
		provider, err := openai.New(openai.Config{
			APIKey:       s.cfg.LLM.APIKey,
			BaseURL:      s.cfg.LLM.BaseURL,
			DefaultModel: s.cfg.Assistant.Model,
			Timeout:      s.cfg.LLM.Timeout,
		}, s.logger)
		if err != nil {
			s.logger.Warn("Failed to create LLM provider, voice sessions disabled",
				zap.String("provider", s.cfg.LLM.DefaultProvider),
				zap.Error(err))
		} else {
			s.llmProvider = provider
			s.logger.Info("LLM provider initialized",
				zap.String("provider", provider.Name()))
		}
	} else {
		s.logger.Warn("LLM API key not configured, voice sessions disabled")
	}

	// 初始化 TTS Provider
	if s.cfg.ElevenLabs.APIKey != "" {
		tts, err := speech.NewElevenLabsProvider(s.cfg.ElevenLabs, s.logger)
		if err != nil {
			s.logger.Warn("Failed to create TTS provider, voice sessions disabled", zap.Error(err))
		} else {
			s.ttsProvider = tts
			s.logger.Info("TTS provider initialized", zap.String("provider", tts.Name()))
		}
	} else {
		s.logger.Warn("ElevenLabs API key not configured, voice sessions disabled")
	}

	// 初始化 Redis 响应缓存（可选）
	var responseCache *cache.ResponseCache
	if s.cfg.Redis.Enabled {
		manager, err := cache.NewManager(cache.Config{
			Addr:       s.cfg.Redis.Addr,
			Password:   s.cfg.Redis.Password,
			DB:         s.cfg.Redis.DB,
			DefaultTTL: s.cfg.Redis.ResponseTTL,
		}, s.logger)
		if err != nil {
			s.logger.Warn("Redis not available, response cache disabled", zap.Error(err))
		} else {
			s.cacheManager = manager
			responseCache = cache.NewResponseCache(manager, s.cfg.Redis.ResponseTTL, s.logger)
			s.logger.Info("Response cache initialized", zap.String("addr", s.cfg.Redis.Addr))
		}
	}

	// 语音 handler
	s.voiceHandler = handlers.NewVoiceHandler(
		voice.SessionConfig{
			Voice:            s.cfg.Voice,
			Deepgram:         s.cfg.Deepgram,
			SystemPrompt:     s.cfg.Assistant.SystemPrompt,
			Model:            s.cfg.Assistant.Model,
			MaxHistoryTokens: s.cfg.Assistant.MaxHistoryTokens,
		},
		voice.SessionDeps{
			Provider: s.llmProvider,
			TTS:      s.ttsProvider,
			Cache:    responseCache,
			Metrics:  s.metricsCollector,
			Logger:   s.logger,
		},
		s.logger,
	)

	// 健康检查 handler
	s.healthHandler = handlers.NewHealthHandler(
		handlers.KeyReport{
			Deepgram:   s.cfg.Deepgram.APIKey != "",
			ElevenLabs: s.cfg.ElevenLabs.APIKey != "",
			LLM:        s.cfg.LLM.APIKey != "",
		},
		s.voiceHandler.ActiveSessions,
		s.logger,
	)
	if s.cacheManager != nil {
		s.healthHandler.RegisterCheck(handlers.NewPingHealthCheck("redis", s.cacheManager.Ping))
	}

	s.logger.Info("Handlers initialized")
	return nil
}

// voiceReady 报告语音会话所需的上游依赖是否齐备
func (s *Server) voiceReady() bool {
	return s.llmProvider != nil && s.ttsProvider != nil && s.cfg.Deepgram.APIKey != ""
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

// startHTTPServer 启动 HTTP 服务器
func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	// ========================================
	// 健康检查端点
	// ========================================
	mux.HandleFunc("/health", s.healthHandler.HandleHealth)
	mux.HandleFunc("/healthz", s.healthHandler.HandleHealthz)
	mux.HandleFunc("/ready", s.healthHandler.HandleReady)
	mux.HandleFunc("/readyz", s.healthHandler.HandleReady)

	// 版本信息端点
	mux.HandleFunc("/version", s.healthHandler.HandleVersion(Version, BuildTime, GitCommit))

	// ========================================
	// 语音路由
	// ========================================
	mux.HandleFunc("/", s.voiceHandler.HandleInfo)
	if s.voiceReady() {
		mux.HandleFunc("/ws", s.voiceHandler.HandleWebSocket)
		s.logger.Info("Voice WebSocket route registered")
	} else {
		s.logger.Warn("Voice WebSocket route disabled, missing upstream credentials")
	}

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/", "/health", "/healthz", "/ready", "/readyz", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		MetricsMiddleware(s.metricsCollector),
		OTelTracing(),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		RateLimiter(rateLimiterCtx, float64(s.cfg.Server.RateLimitRPS), s.cfg.Server.RateLimitBurst, s.logger),
		APIKeyAuth(s.cfg.Server.APIKeys, skipAuthPaths, s.cfg.Server.AllowQueryAPIKey, s.logger),
	)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout, // 2x ReadTimeout
		MaxHeaderBytes:  1 << 20,                      // 1 MB
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.httpManager = server.NewManager(handler, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.httpManager.Start(); err != nil {
		return err
	}

	s.logger.Info("HTTP server started", zap.Int("port", s.cfg.Server.HTTPPort))
	return nil
}

// =============================================================================
// 📊 Metrics 服务器
// =============================================================================

// startMetricsServer 启动 Metrics 服务器
func (s *Server) startMetricsServer() error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.MetricsPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		ShutdownTimeout: s.cfg.Server.ShutdownTimeout,
	}

	s.metricsManager = server.NewManager(mux, serverConfig, s.logger)

	// 启动服务器（非阻塞）
	if err := s.metricsManager.Start(); err != nil {
		return err
	}

	s.logger.Info("Metrics server started", zap.Int("port", s.cfg.Server.MetricsPort))
	return nil
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 等待关闭信号并优雅关闭
func (s *Server) WaitForShutdown() {
	// 使用 httpManager 的 WaitForShutdown（它会监听信号）
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

	// 执行清理
	s.Shutdown()
}

// Shutdown 优雅关闭所有服务
func (s *Server) Shutdown() {
	s.logger.Info("Starting graceful shutdown...")

	ctx := context.Background()

	// 0. 停止 rate limiter 清理 goroutine
	if s.rateLimiterCancel != nil {
		s.rateLimiterCancel()
	}

	// 1. 终止全部活跃语音会话
	if s.voiceHandler != nil {
		s.voiceHandler.CloseAll()
	}

	// 2. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 4. 关闭 Redis 连接
	if s.cacheManager != nil {
		if err := s.cacheManager.Close(); err != nil {
			s.logger.Error("Cache manager shutdown error", zap.Error(err))
		}
	}

	// 5. 关闭遥测
	if s.otelProviders != nil {
		if err := s.otelProviders.Shutdown(ctx); err != nil {
			s.logger.Error("Telemetry shutdown error", zap.Error(err))
		}
	}

	// 6. 等待所有 goroutine 完成
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
