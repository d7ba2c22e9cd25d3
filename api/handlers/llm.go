package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/llm"
	"github.com/BaSui01/llmgate/service"
)

// =============================================================================
// 🚪 LLM 网关接口 Handler
// =============================================================================

// Defaults 请求缺省值，由配置注入
// temperature/max_tokens/use_cache 在 DTO 里是指针：
// 区分"未传"与"显式传零"，未传的在这里补齐。
type Defaults struct {
	Temperature float32
	MaxTokens   int
}

// LLMHandler LLM 网关处理器
type LLMHandler struct {
	svc      *service.Service
	defaults Defaults
	logger   *zap.Logger
}

// NewLLMHandler 创建网关处理器
func NewLLMHandler(svc *service.Service, defaults Defaults, logger *zap.Logger) *LLMHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMHandler{svc: svc, defaults: defaults, logger: logger}
}

// 请求 DTO
type generateRequestBody struct {
	Prompt       string   `json:"prompt"`
	SystemPrompt string   `json:"system_prompt,omitempty"`
	Temperature  *float32 `json:"temperature,omitempty"`
	MaxTokens    *int     `json:"max_tokens,omitempty"`
	UseCache     *bool    `json:"use_cache,omitempty"`
}

type chatRequestBody struct {
	Messages    []llm.Message `json:"messages"`
	Temperature *float32      `json:"temperature,omitempty"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	UseCache    *bool         `json:"use_cache,omitempty"`
}

type analyzeCodeRequestBody struct {
	Code    string `json:"code"`
	Context string `json:"context,omitempty"`
}

type summarizeRequestBody struct {
	Text      string `json:"text"`
	MaxLength int    `json:"max_length,omitempty"`
	Format    string `json:"format,omitempty"`
}

// HandleGenerate 处理文本生成请求
// @Router /api/llm/generate [post]
func (h *LLMHandler) HandleGenerate(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var body generateRequestBody
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}

	start := time.Now()
	result, err := h.svc.GenerateText(r.Context(), h.toGenerateRequest(&body))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("generate completed",
		zap.String("model", result.ModelID),
		zap.Bool("from_cache", result.FromCache),
		zap.Int("completion_tokens", result.Usage.CompletionTokens),
		zap.Duration("duration", time.Since(start)),
	)
	WriteSuccess(w, result)
}

// HandleGenerateStream 处理流式文本生成请求，SSE 推送增量分片
// @Router /api/llm/generate/stream [post]
func (h *LLMHandler) HandleGenerateStream(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var body generateRequestBody
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}

	stream, err := h.svc.GenerateTextStream(r.Context(), h.toGenerateRequest(&body))
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		WriteError(w, llm.NewError(llm.ErrInternal, "streaming not supported"), h.logger)
		return
	}

	// 设置 SSE 响应头
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // 禁用 nginx 缓冲

	for chunk := range stream {
		if chunk.Err != nil {
			h.logger.Error("stream error", zap.Error(chunk.Err))
			// SSE 错误事件 — 使用 json.Marshal 转义错误消息，防止 JSON 注入
			errPayload, _ := json.Marshal(map[string]string{
				"code":  string(chunk.Err.Code),
				"error": chunk.Err.Message,
			})
			w.Write([]byte("event: error\n"))
			w.Write([]byte("data: "))
			w.Write(errPayload)
			w.Write([]byte("\n\n"))
			flusher.Flush()
			return
		}

		payload, err := json.Marshal(chunk)
		if err != nil {
			h.logger.Error("failed to encode chunk", zap.Error(err))
			return
		}
		w.Write([]byte("data: "))
		w.Write(payload)
		w.Write([]byte("\n\n"))
		flusher.Flush()
	}

	// 发送结束标记
	w.Write([]byte("data: [DONE]\n\n"))
	flusher.Flush()
}

// HandleChat 处理多轮会话请求
// @Router /api/llm/chat [post]
func (h *LLMHandler) HandleChat(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var body chatRequestBody
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}

	req := &llm.ChatRequest{
		Messages:    body.Messages,
		Temperature: h.resolveTemperature(body.Temperature),
		MaxTokens:   h.resolveMaxTokens(body.MaxTokens),
		UseCache:    resolveUseCache(body.UseCache),
	}

	start := time.Now()
	result, err := h.svc.Chat(r.Context(), req)
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("chat completed",
		zap.String("model", result.ModelID),
		zap.Int("messages", len(body.Messages)),
		zap.Bool("from_cache", result.FromCache),
		zap.Duration("duration", time.Since(start)),
	)
	WriteSuccess(w, result)
}

// HandleAnalyzeCode 处理代码分析请求
// @Router /api/llm/analyze-code [post]
func (h *LLMHandler) HandleAnalyzeCode(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var body analyzeCodeRequestBody
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}

	start := time.Now()
	analysis, err := h.svc.AnalyzeCode(r.Context(), &llm.CodeAnalysisRequest{
		Code:    body.Code,
		Context: body.Context,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("code analysis completed",
		zap.Bool("parsed", analysis.Parsed),
		zap.Bool("from_cache", analysis.FromCache),
		zap.Duration("duration", time.Since(start)),
	)
	WriteSuccess(w, analysis)
}

// HandleSummarize 处理文本摘要请求
// @Router /api/llm/summarize [post]
func (h *LLMHandler) HandleSummarize(w http.ResponseWriter, r *http.Request) {
	if !ValidateContentType(w, r, h.logger) {
		return
	}
	var body summarizeRequestBody
	if err := DecodeJSONBody(w, r, &body, h.logger); err != nil {
		return
	}

	format := llm.SummaryFormat(body.Format)
	if body.Format == "" {
		format = llm.FormatBulletPoints
	}
	if format != llm.FormatPlain && format != llm.FormatBulletPoints {
		WriteErrorMessage(w, http.StatusBadRequest, llm.ErrInvalidRequest,
			"format must be one of: plain, bullet_points", h.logger)
		return
	}

	start := time.Now()
	result, err := h.svc.Summarize(r.Context(), &llm.SummarizeRequest{
		Text:      body.Text,
		MaxLength: body.MaxLength,
		Format:    format,
	})
	if err != nil {
		WriteError(w, err, h.logger)
		return
	}

	h.logger.Info("summarize completed",
		zap.String("format", string(format)),
		zap.Bool("from_cache", result.FromCache),
		zap.Duration("duration", time.Since(start)),
	)
	WriteSuccess(w, result)
}

// =============================================================================
// 🔧 缺省值解析
// =============================================================================

func (h *LLMHandler) toGenerateRequest(body *generateRequestBody) *llm.GenerateRequest {
	return &llm.GenerateRequest{
		Prompt:       body.Prompt,
		SystemPrompt: body.SystemPrompt,
		Temperature:  h.resolveTemperature(body.Temperature),
		MaxTokens:    h.resolveMaxTokens(body.MaxTokens),
		UseCache:     resolveUseCache(body.UseCache),
	}
}

func (h *LLMHandler) resolveTemperature(t *float32) float32 {
	if t == nil {
		return h.defaults.Temperature
	}
	return *t
}

func (h *LLMHandler) resolveMaxTokens(n *int) int {
	if n == nil {
		return h.defaults.MaxTokens
	}
	return *n
}

// use_cache 缺省为 true
func resolveUseCache(b *bool) bool {
	if b == nil {
		return true
	}
	return *b
}
