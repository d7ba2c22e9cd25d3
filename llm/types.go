package llm

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message 会话中的一条消息
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// SummaryFormat 摘要输出格式
type SummaryFormat string

const (
	FormatPlain        SummaryFormat = "plain"
	FormatBulletPoints SummaryFormat = "bullet_points"
)

// GenerateRequest 单轮文本生成请求
// 字段在进入管线前已经完成默认值解析（零值不再代表"未设置"），
// 构造后不可变，指纹计算依赖这一点。
type GenerateRequest struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float32 `json:"temperature"`
	MaxTokens    int     `json:"max_tokens"`
	UseCache     bool    `json:"use_cache"`
}

// ChatRequest 多轮会话请求
// Messages 的顺序参与指纹计算：重排消息即是另一个请求。
type ChatRequest struct {
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
	UseCache    bool      `json:"use_cache"`
}

// CodeAnalysisRequest 代码分析请求
type CodeAnalysisRequest struct {
	Code    string `json:"code"`
	Context string `json:"context,omitempty"`
}

// SummarizeRequest 文本摘要请求
type SummarizeRequest struct {
	Text      string        `json:"text"`
	MaxLength int           `json:"max_length,omitempty"`
	Format    SummaryFormat `json:"format"`
}

// ProviderRequest 发往远端推理服务的完整载荷
// 由编排服务根据各类请求构造，Provider 不再做默认值处理。
type ProviderRequest struct {
	ModelID     string    `json:"model_id"`
	System      string    `json:"system,omitempty"`
	Messages    []Message `json:"messages"`
	Temperature float32   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

// TokenUsage token 用量统计
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

// InferenceResult 归一化的推理结果，返回给调用方后不再修改
type InferenceResult struct {
	Text      string     `json:"text"`
	Usage     TokenUsage `json:"token_usage"`
	ModelID   string     `json:"model_id"`
	Truncated bool       `json:"truncated"`
	FromCache bool       `json:"from_cache"`
}

// StreamChunk 流式响应的增量分片
// 序列以恰好一个 IsFinal=true 的分片结束，最终分片携带完整用量；
// 流中途失败时以 Err 非空的最终分片终止。
type StreamChunk struct {
	DeltaText         string      `json:"delta_text,omitempty"`
	IsFinal           bool        `json:"is_final"`
	AccumulatedTokens int         `json:"accumulated_token_count"`
	Usage             *TokenUsage `json:"usage,omitempty"`
	Err               *Error      `json:"error,omitempty"`
}

// CodeAnalysis 代码分析结果
// 模型返回合法 JSON 时 Parsed=true 且 Findings 为解析结果，
// 否则调用方只能依赖 Raw 文本（与上游约定的降级行为一致）。
type CodeAnalysis struct {
	Raw       string         `json:"raw_response"`
	Findings  map[string]any `json:"findings,omitempty"`
	Parsed    bool           `json:"parsed"`
	Usage     TokenUsage     `json:"token_usage"`
	ModelID   string         `json:"model_id"`
	FromCache bool           `json:"from_cache"`
}
