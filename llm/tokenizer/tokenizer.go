// Package tokenizer 提供 token 计数能力
// 托管模型不提供本地可用的官方分词器，用 tiktoken 编码近似计数，
// 初始化失败时退回到字符比例估算。计数仅用于流式累计与日志，
// 不做计费依据。
package tokenizer

import (
	"github.com/BaSui01/llmgate/llm"
)

// Tokenizer token 计数接口
type Tokenizer interface {
	// CountTokens 统计单段文本的 token 数
	CountTokens(text string) (int, error)

	// CountMessages 统计消息列表的 token 数（含角色标记开销）
	CountMessages(messages []llm.Message) (int, error)

	// Name 返回分词器名称
	Name() string
}

// Default 返回默认分词器：tiktoken 优先，估算器兜底
func Default() Tokenizer {
	if t, err := NewTiktokenTokenizer("cl100k_base"); err == nil {
		return &fallbackTokenizer{primary: t, fallback: NewEstimatorTokenizer()}
	}
	return NewEstimatorTokenizer()
}

// fallbackTokenizer 在主分词器出错时切换到估算器
type fallbackTokenizer struct {
	primary  Tokenizer
	fallback Tokenizer
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) {
	if n, err := f.primary.CountTokens(text); err == nil {
		return n, nil
	}
	return f.fallback.CountTokens(text)
}

func (f *fallbackTokenizer) CountMessages(messages []llm.Message) (int, error) {
	if n, err := f.primary.CountMessages(messages); err == nil {
		return n, nil
	}
	return f.fallback.CountMessages(messages)
}

func (f *fallbackTokenizer) Name() string { return f.primary.Name() }
