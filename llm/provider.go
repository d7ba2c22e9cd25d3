package llm

import (
	"context"
	"time"
)

// HealthStatus Provider 健康检查结果
type HealthStatus struct {
	Healthy bool          `json:"healthy"`
	Latency time.Duration `json:"latency"`
}

// Provider 定义了统一的推理服务适配接口。
// 实现方负责构造自己的信封格式、解析响应，并把失败归类为
// *Error（认证、限流、参数、上游、解析），不得吞错。
type Provider interface {
	// Invoke 发起同步推理请求，返回完整结果
	Invoke(ctx context.Context, req *ProviderRequest) (*InferenceResult, error)

	// InvokeStream 发起流式推理请求，返回增量分片通道。
	// 通道有限且不可重放，以恰好一个 IsFinal 分片收尾；
	// 连接建立失败通过返回值报告，流中途失败通过 Err 分片报告。
	InvokeStream(ctx context.Context, req *ProviderRequest) (<-chan StreamChunk, error)

	// HealthCheck 执行轻量级探活，返回延迟与可用性信息
	HealthCheck(ctx context.Context) (*HealthStatus, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}
