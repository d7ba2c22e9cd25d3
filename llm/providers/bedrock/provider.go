// =============================================================================
// Bedrock Model Client / 🛰️
// =============================================================================
// 通过 Bedrock Runtime HTTP API 调用托管的 Anthropic 模型。
// 认证使用 Bedrock API Key（Bearer），错误按 AWS 异常类型细化分类。
// =============================================================================

package bedrock

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/llmgate/internal/tlsutil"
	"github.com/BaSui01/llmgate/llm"
	"github.com/BaSui01/llmgate/llm/providers"
)

// Config 是 Bedrock 客户端配置
type Config struct {
	// Region 是 AWS 区域（如 us-east-1），用于拼接默认端点
	Region string

	// APIKey 是 Bedrock API Key，以 Bearer 方式携带
	APIKey string

	// BaseURL 覆盖默认端点，留空则按 Region 生成；测试时指向 httptest
	BaseURL string

	// Timeout 是单次 HTTP 调用超时，零值时默认 60s
	Timeout time.Duration

	// HealthModelID 是健康检查探测使用的模型，留空取低成本默认值
	HealthModelID string
}

// Provider 是 Bedrock 的 llm.Provider 实现
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New 创建 Bedrock Provider
func New(cfg Config, logger *zap.Logger) *Provider {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: tlsutil.SecureHTTPClient(timeout),
		logger: logger,
	}
}

// Name 返回提供商名称
func (p *Provider) Name() string { return "bedrock" }

// endpoint 拼接模型调用 URL，模型 ID 需要转义（包含 ":" 等字符）
func (p *Provider) endpoint(modelID, action string) string {
	base := p.cfg.BaseURL
	if base == "" {
		base = fmt.Sprintf("https://bedrock-runtime.%s.amazonaws.com", p.cfg.Region)
	}
	return fmt.Sprintf("%s/model/%s/%s", strings.TrimRight(base, "/"), url.PathEscape(modelID), action)
}

// buildHeaders 设置认证与内容类型头
func (p *Provider) buildHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
}

// buildPayload 把标准化请求转换为 Bedrock 信封
func buildPayload(req *llm.ProviderRequest) invokeRequest {
	messages := make([]wireMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, wireMessage{
			Role:    string(m.Role),
			Content: []contentBlock{{Type: "text", Text: m.Content}},
		})
	}
	return invokeRequest{
		AnthropicVersion: anthropicVersion,
		System:           req.System,
		Messages:         messages,
		MaxTokens:        req.MaxTokens,
		Temperature:      req.Temperature,
	}
}

// Invoke 执行一次非流式模型调用
func (p *Provider) Invoke(ctx context.Context, req *llm.ProviderRequest) (*llm.InferenceResult, error) {
	payload, err := json.Marshal(buildPayload(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint(req.ModelID, "invoke"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)

	start := time.Now()
	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	defer providers.SafeCloseBody(resp.Body)

	if resp.StatusCode >= 400 {
		return nil, p.mapAWSError(resp)
	}

	var wire invokeResponse
	if err := json.NewDecoder(resp.Body).Decode(&wire); err != nil {
		return nil, &llm.Error{
			Code: llm.ErrResponseParse, Message: fmt.Sprintf("failed to decode model response: %v", err),
			HTTPStatus: http.StatusBadGateway, Provider: p.Name(),
		}
	}
	if len(wire.Content) == 0 {
		return nil, &llm.Error{
			Code: llm.ErrResponseParse, Message: "model response has no content blocks",
			HTTPStatus: http.StatusBadGateway, Provider: p.Name(),
		}
	}

	var text strings.Builder
	for _, block := range wire.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	p.logger.Debug("bedrock invoke completed",
		zap.String("model", req.ModelID),
		zap.Int("input_tokens", wire.Usage.InputTokens),
		zap.Int("output_tokens", wire.Usage.OutputTokens),
		zap.String("stop_reason", wire.StopReason),
		zap.Duration("latency", time.Since(start)))

	return &llm.InferenceResult{
		Text: text.String(),
		Usage: llm.TokenUsage{
			PromptTokens:     wire.Usage.InputTokens,
			CompletionTokens: wire.Usage.OutputTokens,
		},
		ModelID:   req.ModelID,
		Truncated: wire.StopReason == "max_tokens",
	}, nil
}

// InvokeStream 执行流式模型调用，返回增量块通道
// 连接建立失败返回 error；连接建立后的错误以 Err 块形式发送。
func (p *Provider) InvokeStream(ctx context.Context, req *llm.ProviderRequest) (<-chan llm.StreamChunk, error) {
	payload, err := json.Marshal(buildPayload(req))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint(req.ModelID, "invoke-with-response-stream"), bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	p.buildHeaders(httpReq)
	httpReq.Header.Set("Accept", "application/vnd.amazon.eventstream")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	if resp.StatusCode >= 400 {
		defer providers.SafeCloseBody(resp.Body)
		return nil, p.mapAWSError(resp)
	}

	return streamEvents(ctx, resp.Body, p.Name()), nil
}

// HealthCheck 用单 token 调用探测可达性
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	_, err := p.Invoke(ctx, &llm.ProviderRequest{
		ModelID:   p.cfg.ModelIDForHealth(),
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "ping"}},
		MaxTokens: 1,
	})
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, err
	}
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}

// ModelIDForHealth 返回健康检查使用的模型
func (c Config) ModelIDForHealth() string {
	if c.HealthModelID != "" {
		return c.HealthModelID
	}
	return "anthropic.claude-3-haiku-20240307-v1:0"
}

// mapAWSError 按 x-amzn-errortype 细化错误分类，缺失时回退到状态码映射
func (p *Provider) mapAWSError(resp *http.Response) *llm.Error {
	msg := providers.ReadErrorMessage(resp.Body)
	errType := resp.Header.Get("X-Amzn-Errortype")
	if i := strings.IndexByte(errType, ':'); i >= 0 {
		errType = errType[:i]
	}

	switch errType {
	case "ThrottlingException", "TooManyRequestsException":
		return &llm.Error{
			Code: llm.ErrRateLimited, Message: msg,
			HTTPStatus: resp.StatusCode, Retryable: true, Provider: p.Name(),
		}
	case "ValidationException", "ResourceNotFoundException":
		return &llm.Error{
			Code: llm.ErrInvalidRequest, Message: msg,
			HTTPStatus: resp.StatusCode, Provider: p.Name(),
		}
	case "AccessDeniedException", "UnrecognizedClientException", "ExpiredTokenException":
		return &llm.Error{
			Code: llm.ErrUnauthorized, Message: msg,
			HTTPStatus: resp.StatusCode, Provider: p.Name(),
		}
	case "ModelTimeoutException", "ModelNotReadyException", "ServiceUnavailableException", "InternalServerException":
		return &llm.Error{
			Code: llm.ErrUpstreamError, Message: msg,
			HTTPStatus: resp.StatusCode, Retryable: true, Provider: p.Name(),
		}
	}
	return providers.MapHTTPError(resp.StatusCode, msg, p.Name())
}
