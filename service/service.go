// =============================================================================
// LLM 编排服务 / 🧭
// =============================================================================
// 请求到推理的管线核心：缓存检查 → 带重试的模型调用 → 缓存写入。
// 每类请求各自构造 Provider 载荷，流式请求绕过缓存，
// 重试只覆盖流的建连阶段，已送出的分片不会被透明重放。
// =============================================================================

package service

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/llm"
	"github.com/BaSui01/llmgate/llm/cache"
	"github.com/BaSui01/llmgate/llm/retry"
	"github.com/BaSui01/llmgate/llm/tokenizer"
)

// 缓存键中的操作类型标识
const (
	opGenerate    = "generate"
	opChat        = "chat"
	opAnalyzeCode = "analyze_code"
	opSummarize   = "summarize"
)

// maxAllowedTokens 是单次请求的 max_tokens 上限
const maxAllowedTokens = 8192

// Config 服务配置，全部由外部注入
type Config struct {
	ModelID          string  // 目标模型标识
	DefaultMaxTokens int     // max_tokens 未指定时的默认值
	CacheEnabled     bool    // 总开关，关闭后所有请求直连模型
}

// Observer 接收管线上的可观测事件，方法必须可安全并发调用
// *metrics.Collector 天然满足该接口。
type Observer interface {
	RecordLLMRequest(provider, model, status string, duration time.Duration, promptTokens, completionTokens int)
	RecordCacheHit(cacheType string)
	RecordCacheMiss(cacheType string)
	RecordStreamChunk(provider, model string)
	StreamStarted(provider string)
	StreamFinished(provider string)
}

// nopObserver 是未注入观察者时的空实现
type nopObserver struct{}

func (nopObserver) RecordLLMRequest(string, string, string, time.Duration, int, int) {}
func (nopObserver) RecordCacheHit(string)                                            {}
func (nopObserver) RecordCacheMiss(string)                                           {}
func (nopObserver) RecordStreamChunk(string, string)                                 {}
func (nopObserver) StreamStarted(string)                                             {}
func (nopObserver) StreamFinished(string)                                            {}

// 缓存指标的 cache_type 标签值
const cacheTypeResponse = "response"

// Service 管线编排器
type Service struct {
	provider      llm.Provider
	cache         cache.ResponseCache
	retryer       retry.Retryer
	streamRetryer retry.Retryer
	tok           tokenizer.Tokenizer
	obs           Observer
	logger        *zap.Logger
	cfg           Config
}

// New 创建编排服务
// responseCache 为 nil 时完全禁用缓存。
func New(provider llm.Provider, responseCache cache.ResponseCache, policy *retry.RetryPolicy, logger *zap.Logger, cfg Config) *Service {
	return NewWithClock(provider, responseCache, policy, logger, cfg, nil)
}

// NewWithClock 创建使用指定时钟的编排服务，测试用
func NewWithClock(provider llm.Provider, responseCache cache.ResponseCache, policy *retry.RetryPolicy, logger *zap.Logger, cfg Config, clock retry.Clock) *Service {
	if policy == nil {
		policy = retry.DefaultRetryPolicy()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.DefaultMaxTokens <= 0 {
		cfg.DefaultMaxTokens = 2048
	}

	// 流式建连不受墙钟预算约束：预算到期的取消会波及已建立的流
	streamPolicy := *policy
	streamPolicy.Timeout = 0

	return &Service{
		provider:      provider,
		cache:         responseCache,
		retryer:       retry.NewBackoffRetryerWithClock(policy, logger, clock),
		streamRetryer: retry.NewBackoffRetryerWithClock(&streamPolicy, logger, clock),
		tok:           tokenizer.Default(),
		obs:           nopObserver{},
		logger:        logger,
		cfg:           cfg,
	}
}

// WithObserver 注入观测事件接收方，传 nil 保持空实现
func (s *Service) WithObserver(obs Observer) *Service {
	if obs != nil {
		s.obs = obs
	}
	return s
}

// GenerateText 单轮文本生成
func (s *Service) GenerateText(ctx context.Context, req *llm.GenerateRequest) (*llm.InferenceResult, error) {
	if err := s.validateGenerate(req); err != nil {
		return nil, err
	}
	return s.complete(ctx, opGenerate, s.generatePayload(req), req.UseCache)
}

// GenerateTextStream 单轮文本生成的流式变体，不经过缓存
func (s *Service) GenerateTextStream(ctx context.Context, req *llm.GenerateRequest) (<-chan llm.StreamChunk, error) {
	if err := s.validateGenerate(req); err != nil {
		return nil, err
	}
	preq := s.generatePayload(req)

	upstream, err := retry.DoWithResultTyped[<-chan llm.StreamChunk](s.streamRetryer, ctx,
		func(ctx context.Context) (<-chan llm.StreamChunk, error) {
			return s.provider.InvokeStream(ctx, preq)
		})
	if err != nil {
		return nil, err
	}

	s.obs.StreamStarted(s.provider.Name())
	out := make(chan llm.StreamChunk)
	go func() {
		defer close(out)
		defer s.obs.StreamFinished(s.provider.Name())
		total := 0
		for chunk := range upstream {
			if chunk.DeltaText != "" {
				if n, err := s.tok.CountTokens(chunk.DeltaText); err == nil {
					total += n
				}
			}
			chunk.AccumulatedTokens = total
			s.obs.RecordStreamChunk(s.provider.Name(), preq.ModelID)
			select {
			case <-ctx.Done():
				return
			case out <- chunk:
			}
		}
	}()
	return out, nil
}

// Chat 多轮会话
func (s *Service) Chat(ctx context.Context, req *llm.ChatRequest) (*llm.InferenceResult, error) {
	if err := s.validateChat(req); err != nil {
		return nil, err
	}

	// Bedrock 的 system 不在消息数组里：剥离 system 角色消息，
	// 保留 user/assistant 的原始顺序
	var system []string
	messages := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		messages = append(messages, m)
	}

	preq := &llm.ProviderRequest{
		ModelID:     s.cfg.ModelID,
		System:      strings.Join(system, "\n"),
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   s.resolveMaxTokens(req.MaxTokens),
	}
	return s.complete(ctx, opChat, preq, req.UseCache)
}

// AnalyzeCode 代码分析
// 固定低温采样，模型返回合法 JSON 时解析为结构化发现，
// 否则降级为仅携带原始文本的结果。
func (s *Service) AnalyzeCode(ctx context.Context, req *llm.CodeAnalysisRequest) (*llm.CodeAnalysis, error) {
	if strings.TrimSpace(req.Code) == "" {
		return nil, llm.NewError(llm.ErrInvalidRequest, "code must not be empty").
			WithHTTPStatus(http.StatusBadRequest)
	}

	preq := &llm.ProviderRequest{
		ModelID:     s.cfg.ModelID,
		System:      codeAnalysisSystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: buildCodeAnalysisPrompt(req.Code, req.Context)}},
		Temperature: codeAnalysisTemperature,
		MaxTokens:   s.cfg.DefaultMaxTokens,
	}

	result, err := s.complete(ctx, opAnalyzeCode, preq, true)
	if err != nil {
		return nil, err
	}

	analysis := &llm.CodeAnalysis{
		Raw:       result.Text,
		Usage:     result.Usage,
		ModelID:   result.ModelID,
		FromCache: result.FromCache,
	}
	var findings map[string]any
	if err := json.Unmarshal([]byte(result.Text), &findings); err == nil {
		analysis.Findings = findings
		analysis.Parsed = true
	} else {
		s.logger.Warn("analysis response is not valid JSON, returning raw text")
	}
	return analysis, nil
}

// Summarize 文本摘要
func (s *Service) Summarize(ctx context.Context, req *llm.SummarizeRequest) (*llm.InferenceResult, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, llm.NewError(llm.ErrInvalidRequest, "text must not be empty").
			WithHTTPStatus(http.StatusBadRequest)
	}
	if req.MaxLength < 0 {
		return nil, llm.NewError(llm.ErrInvalidRequest, "max_length must be positive").
			WithHTTPStatus(http.StatusBadRequest)
	}

	preq := &llm.ProviderRequest{
		ModelID:     s.cfg.ModelID,
		System:      buildSummarizeSystemPrompt(req.Format, req.MaxLength),
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: req.Text}},
		Temperature: summarizeTemperature,
		MaxTokens:   s.cfg.DefaultMaxTokens,
	}
	return s.complete(ctx, opSummarize, preq, true)
}

// complete 执行公共管线：缓存检查 → 带重试调用 → 缓存写入
func (s *Service) complete(ctx context.Context, op string, preq *llm.ProviderRequest, useCache bool) (*llm.InferenceResult, error) {
	useCache = useCache && s.cfg.CacheEnabled && s.cache != nil
	key := cache.Key(op, preq)

	if useCache {
		if entry, err := s.cache.Get(ctx, key); err == nil && entry.Result != nil {
			s.logger.Debug("cache hit", zap.String("op", op), zap.String("key", key))
			s.obs.RecordCacheHit(cacheTypeResponse)
			result := *entry.Result
			result.FromCache = true
			return &result, nil
		}
		s.obs.RecordCacheMiss(cacheTypeResponse)
	}

	start := time.Now()
	result, err := retry.DoWithResultTyped[*llm.InferenceResult](s.retryer, ctx,
		func(ctx context.Context) (*llm.InferenceResult, error) {
			return s.provider.Invoke(ctx, preq)
		})
	if err != nil {
		s.obs.RecordLLMRequest(s.provider.Name(), preq.ModelID, "error", time.Since(start), 0, 0)
		s.logger.Warn("inference failed",
			zap.String("op", op),
			zap.String("code", string(llm.GetErrorCode(err))),
			zap.Error(err))
		return nil, err
	}
	s.obs.RecordLLMRequest(s.provider.Name(), preq.ModelID, "success", time.Since(start),
		result.Usage.PromptTokens, result.Usage.CompletionTokens)

	if useCache {
		if err := s.cache.Set(ctx, key, &cache.Entry{Result: result}); err != nil {
			s.logger.Warn("cache store failed", zap.String("key", key), zap.Error(err))
		}
	}
	return result, nil
}

// generatePayload 把生成请求映射为 Provider 载荷
func (s *Service) generatePayload(req *llm.GenerateRequest) *llm.ProviderRequest {
	return &llm.ProviderRequest{
		ModelID:     s.cfg.ModelID,
		System:      req.SystemPrompt,
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: req.Prompt}},
		Temperature: req.Temperature,
		MaxTokens:   s.resolveMaxTokens(req.MaxTokens),
	}
}

func (s *Service) resolveMaxTokens(n int) int {
	if n <= 0 {
		return s.cfg.DefaultMaxTokens
	}
	return n
}

func (s *Service) validateGenerate(req *llm.GenerateRequest) error {
	if strings.TrimSpace(req.Prompt) == "" {
		return llm.NewError(llm.ErrInvalidRequest, "prompt must not be empty").
			WithHTTPStatus(http.StatusBadRequest)
	}
	return validateSampling(req.Temperature, req.MaxTokens)
}

func (s *Service) validateChat(req *llm.ChatRequest) error {
	if len(req.Messages) == 0 {
		return llm.NewError(llm.ErrInvalidRequest, "messages must not be empty").
			WithHTTPStatus(http.StatusBadRequest)
	}
	hasConversation := false
	for i, m := range req.Messages {
		switch m.Role {
		case llm.RoleUser, llm.RoleAssistant:
			hasConversation = true
		case llm.RoleSystem:
		default:
			return llm.NewError(llm.ErrInvalidRequest, fmt.Sprintf("message %d has invalid role %q", i, m.Role)).
				WithHTTPStatus(http.StatusBadRequest)
		}
		if strings.TrimSpace(m.Content) == "" {
			return llm.NewError(llm.ErrInvalidRequest, fmt.Sprintf("message %d has empty content", i)).
				WithHTTPStatus(http.StatusBadRequest)
		}
	}
	if !hasConversation {
		return llm.NewError(llm.ErrInvalidRequest, "conversation needs at least one user or assistant message").
			WithHTTPStatus(http.StatusBadRequest)
	}
	return validateSampling(req.Temperature, req.MaxTokens)
}

func validateSampling(temperature float32, maxTokens int) error {
	if temperature < 0 || temperature > 1 {
		return llm.NewError(llm.ErrInvalidRequest, "temperature must be between 0.0 and 1.0").
			WithHTTPStatus(http.StatusBadRequest)
	}
	if maxTokens < 0 || maxTokens > maxAllowedTokens {
		return llm.NewError(llm.ErrInvalidRequest, fmt.Sprintf("max_tokens must be between 1 and %d", maxAllowedTokens)).
			WithHTTPStatus(http.StatusBadRequest)
	}
	return nil
}
