package main

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/BaSui01/llmgate/api/handlers"
	"github.com/BaSui01/llmgate/config"
	"github.com/BaSui01/llmgate/internal/metrics"
	"github.com/BaSui01/llmgate/internal/server"
	"github.com/BaSui01/llmgate/internal/telemetry"
	"github.com/BaSui01/llmgate/llm/cache"
	"github.com/BaSui01/llmgate/llm/providers/bedrock"
	"github.com/BaSui01/llmgate/llm/retry"
	"github.com/BaSui01/llmgate/service"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 LLMGate 的主服务器
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// Handlers
	healthHandler *handlers.HealthHandler
	llmHandler    *handlers.LLMHandler

	// 指标收集器
	metricsCollector *metrics.Collector

	// OTel providers
	otelProviders *telemetry.Providers

	// Redis 客户端（仅 cache.use_redis 开启时创建）
	redisClient *redis.Client

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
	s.metricsCollector = metrics.NewCollector("llmgate", s.logger)

	// 2. 初始化 Handlers
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
	)

	return nil
}

// =============================================================================
// 🔧 初始化方法
// =============================================================================

// initHandlers 初始化所有 handlers
func (s *Server) initHandlers() error {
	// 上游推理客户端
	provider := bedrock.New(bedrock.Config{
		Region:  s.cfg.Bedrock.Region,
		APIKey:  s.cfg.Bedrock.APIKey,
		BaseURL: s.cfg.Bedrock.BaseURL,
		Timeout: s.cfg.Bedrock.Timeout,
	}, s.logger)

	// 响应缓存
	if s.cfg.Cache.UseRedis {
		s.redisClient = redis.NewClient(&redis.Options{
			Addr:         s.cfg.Redis.Addr,
			Password:     s.cfg.Redis.Password,
			DB:           s.cfg.Redis.DB,
			PoolSize:     s.cfg.Redis.PoolSize,
			MinIdleConns: s.cfg.Redis.MinIdleConns,
		})
	}
	responseCache := cache.NewMultiLevelCache(s.redisClient, &cache.Config{
		LocalMaxSize: s.cfg.Cache.LocalMaxSize,
		LocalTTL:     s.cfg.Cache.LocalTTL,
		RedisTTL:     s.cfg.Cache.RedisTTL,
		EnableLocal:  true,
		EnableRedis:  s.cfg.Cache.UseRedis,
	}, s.logger)

	// 重试策略
	modelID := s.cfg.Bedrock.ModelID
	policy := &retry.RetryPolicy{
		MaxRetries:   s.cfg.Retry.MaxRetries,
		InitialDelay: s.cfg.Retry.InitialDelay,
		MaxDelay:     s.cfg.Retry.MaxDelay,
		Multiplier:   2.0,
		Jitter:       s.cfg.Retry.Jitter,
		Timeout:      s.cfg.Retry.Timeout,
		OnRetry: func(attempt int, err error, delay time.Duration) {
			s.metricsCollector.RecordLLMRetry(provider.Name(), modelID)
			s.logger.Warn("retrying upstream call",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(err),
			)
		},
	}

	// 业务服务
	svc := service.New(provider, responseCache, policy, s.logger, service.Config{
		ModelID:          s.cfg.Bedrock.ModelID,
		DefaultMaxTokens: s.cfg.Bedrock.MaxTokens,
		CacheEnabled:     s.cfg.Cache.Enabled,
	}).WithObserver(s.metricsCollector)

	s.llmHandler = handlers.NewLLMHandler(svc, handlers.Defaults{
		Temperature: float32(s.cfg.Bedrock.Temperature),
		MaxTokens:   s.cfg.Bedrock.MaxTokens,
	}, s.logger)
	s.healthHandler = handlers.NewHealthHandler(provider, Version, s.logger)
	if s.redisClient != nil {
		rdb := s.redisClient
		s.healthHandler.WithCheck("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}

	s.logger.Info("Handlers initialized",
		zap.String("model_id", s.cfg.Bedrock.ModelID),
		zap.Bool("cache_enabled", s.cfg.Cache.Enabled),
		zap.Bool("redis_tier", s.cfg.Cache.UseRedis),
	)
	return nil
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
	mux.HandleFunc("GET /health", s.healthHandler.HandleLiveness)
	mux.HandleFunc("GET /healthz", s.healthHandler.HandleLiveness)
	mux.HandleFunc("GET /health/ready", s.healthHandler.HandleReadiness)
	mux.HandleFunc("GET /ready", s.healthHandler.HandleReadiness)
	mux.HandleFunc("GET /version", s.healthHandler.HandleVersion(BuildTime, GitCommit))

	// ========================================
	// API 路由
	// ========================================
	mux.HandleFunc("POST /api/llm/generate", s.llmHandler.HandleGenerate)
	mux.HandleFunc("POST /api/llm/generate/stream", s.llmHandler.HandleGenerateStream)
	mux.HandleFunc("POST /api/llm/chat", s.llmHandler.HandleChat)
	mux.HandleFunc("POST /api/llm/analyze-code", s.llmHandler.HandleAnalyzeCode)
	mux.HandleFunc("POST /api/llm/summarize", s.llmHandler.HandleSummarize)

	// ========================================
	// 构建中间件链
	// ========================================
	skipAuthPaths := []string{"/health", "/healthz", "/health/ready", "/ready", "/version", "/metrics"}
	rateLimiterCtx, rateLimiterCancel := context.WithCancel(context.Background())
	s.rateLimiterCancel = rateLimiterCancel

	middlewares := []Middleware{
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		RequestLogger(s.logger),
		CORS(s.cfg.Server.CORSAllowedOrigins),
		OTelTracing(),
		MetricsMiddleware(s.metricsCollector),
		RateLimiter(rateLimiterCtx, s.cfg.Auth.RateLimitRPS, s.cfg.Auth.RateLimitBurst, s.logger),
	}
	if s.cfg.Auth.Enabled {
		if s.cfg.Auth.JWTSecret != "" {
			middlewares = append(middlewares, JWTAuth(s.cfg.Auth.JWTSecret, skipAuthPaths, s.logger))
		} else {
			middlewares = append(middlewares, APIKeyAuth(s.cfg.Auth.APIKeys, skipAuthPaths, s.logger))
		}
	}
	handler := Chain(mux, middlewares...)

	// ========================================
	// 使用 internal/server.Manager
	// ========================================
	serverConfig := server.Config{
		Addr:            fmt.Sprintf(":%d", s.cfg.Server.HTTPPort),
		ReadTimeout:     s.cfg.Server.ReadTimeout,
		WriteTimeout:    s.cfg.Server.WriteTimeout,
		IdleTimeout:     2 * s.cfg.Server.ReadTimeout,
		MaxHeaderBytes:  1 << 20, // 1 MB
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
	if s.httpManager != nil {
		s.httpManager.WaitForShutdown()
	}

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

	// 1. 关闭 HTTP 服务器
	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}

	// 2. 关闭 Metrics 服务器
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	// 3. 关闭 Redis 连接
	if s.redisClient != nil {
		if err := s.redisClient.Close(); err != nil {
			s.logger.Error("Redis close error", zap.Error(err))
		}
	}

	// 4. 刷新遥测数据
	if err := s.otelProviders.Shutdown(ctx); err != nil {
		s.logger.Error("Telemetry shutdown error", zap.Error(err))
	}

	// 5. 等待所有 goroutine 完成
	s.wg.Wait()

	s.logger.Info("Graceful shutdown completed")
}
