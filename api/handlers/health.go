package handlers

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/llm"
)

// =============================================================================
// ❤️ 健康检查 Handler
// =============================================================================

// DependencyCheck 是就绪探针运行的依赖检查，返回 nil 表示依赖可用
type DependencyCheck func(ctx context.Context) error

// HealthHandler 健康检查处理器
// 存活探针不依赖上游：上游降级时网关本身仍然健康。
type HealthHandler struct {
	provider  llm.Provider
	version   string
	startedAt time.Time
	logger    *zap.Logger

	checkNames []string
	checks     []DependencyCheck
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(provider llm.Provider, version string, logger *zap.Logger) *HealthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HealthHandler{
		provider:  provider,
		version:   version,
		startedAt: time.Now(),
		logger:    logger,
	}
}

// WithCheck 注册额外的就绪依赖检查（如 Redis ping），按注册顺序执行
func (h *HealthHandler) WithCheck(name string, check DependencyCheck) *HealthHandler {
	h.checkNames = append(h.checkNames, name)
	h.checks = append(h.checks, check)
	return h
}

// HandleLiveness 存活探针，只要进程在就返回 200
// @Router /health [get]
func (h *HealthHandler) HandleLiveness(w http.ResponseWriter, r *http.Request) {
	WriteJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": h.version,
		"uptime":  time.Since(h.startedAt).String(),
	})
}

// HandleVersion 返回构建信息
// @Router /version [get]
func (h *HealthHandler) HandleVersion(buildTime, gitCommit string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{
			"version":    h.version,
			"build_time": buildTime,
			"git_commit": gitCommit,
		})
	}
}

// HandleReadiness 就绪探针，探测上游推理服务与注册依赖的可达性
// @Router /health/ready [get]
func (h *HealthHandler) HandleReadiness(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ready := true
	checks := make(map[string]any, len(h.checks)+1)

	status, err := h.provider.HealthCheck(ctx)
	providerCheck := map[string]any{"status": "ok"}
	if err != nil || status == nil || !status.Healthy {
		h.logger.Warn("readiness probe failed", zap.String("check", h.provider.Name()), zap.Error(err))
		providerCheck["status"] = "degraded"
		ready = false
	}
	if status != nil {
		providerCheck["latency"] = status.Latency.String()
	}
	checks[h.provider.Name()] = providerCheck

	for i, check := range h.checks {
		name := h.checkNames[i]
		start := time.Now()
		result := map[string]any{"status": "ok"}
		if err := check(ctx); err != nil {
			h.logger.Warn("readiness probe failed", zap.String("check", name), zap.Error(err))
			result["status"] = "degraded"
			ready = false
		}
		result["latency"] = time.Since(start).String()
		checks[name] = result
	}

	body := map[string]any{
		"status": "ok",
		"checks": checks,
	}
	code := http.StatusOK
	if !ready {
		body["status"] = "degraded"
		code = http.StatusServiceUnavailable
	}
	WriteJSON(w, code, body)
}
