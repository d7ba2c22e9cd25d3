package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"github.com/BaSui01/llmgate/llm"
)

// keyPrefix 是所有响应缓存键的命名空间前缀
const keyPrefix = "llm:cache:"

// fingerprint 是参与缓存键计算的全部字段
// 字段顺序固定，json.Marshal 对 struct 的输出因此是规范化的：
// 相同输入必然产生相同字节序列。消息顺序与角色变化都会改变键。
type fingerprint struct {
	Op          string        `json:"op"`
	ModelID     string        `json:"model_id"`
	System      string        `json:"system"`
	Messages    []llm.Message `json:"messages"`
	Temperature float32       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
}

// Key 基于操作类型与解析后的调用参数生成缓存键
// 键对所有语义字段敏感：同样的 prompt 在不同温度、不同模型、
// 不同 max_tokens 下各自独立缓存。
func Key(op string, req *llm.ProviderRequest) string {
	fp := fingerprint{
		Op:          op,
		ModelID:     req.ModelID,
		System:      req.System,
		Messages:    req.Messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	data, _ := json.Marshal(fp)
	hash := sha256.Sum256(data)
	return keyPrefix + hex.EncodeToString(hash[:])
}
