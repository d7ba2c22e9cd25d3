package cache

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/BaSui01/llmgate/llm"
)

func baseRequest() *llm.ProviderRequest {
	return &llm.ProviderRequest{
		ModelID:     "anthropic.claude-3-sonnet-20240229-v1:0",
		System:      "be helpful",
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hello"}},
		Temperature: 0.7,
		MaxTokens:   512,
	}
}

func TestKeyDeterministic(t *testing.T) {
	k1 := Key("generate", baseRequest())
	k2 := Key("generate", baseRequest())
	assert.Equal(t, k1, k2)
	assert.True(t, strings.HasPrefix(k1, "llm:cache:"))
}

func TestKeySensitivity(t *testing.T) {
	base := Key("generate", baseRequest())

	t.Run("operation", func(t *testing.T) {
		assert.NotEqual(t, base, Key("summarize", baseRequest()))
	})

	t.Run("model", func(t *testing.T) {
		req := baseRequest()
		req.ModelID = "anthropic.claude-3-haiku-20240307-v1:0"
		assert.NotEqual(t, base, Key("generate", req))
	})

	t.Run("system prompt", func(t *testing.T) {
		req := baseRequest()
		req.System = "be terse"
		assert.NotEqual(t, base, Key("generate", req))
	})

	t.Run("temperature", func(t *testing.T) {
		req := baseRequest()
		req.Temperature = 0.1
		assert.NotEqual(t, base, Key("generate", req))
	})

	t.Run("max tokens", func(t *testing.T) {
		req := baseRequest()
		req.MaxTokens = 256
		assert.NotEqual(t, base, Key("generate", req))
	})

	t.Run("message order", func(t *testing.T) {
		req := baseRequest()
		req.Messages = []llm.Message{
			{Role: llm.RoleUser, Content: "a"},
			{Role: llm.RoleAssistant, Content: "b"},
		}
		swapped := baseRequest()
		swapped.Messages = []llm.Message{
			{Role: llm.RoleAssistant, Content: "b"},
			{Role: llm.RoleUser, Content: "a"},
		}
		assert.NotEqual(t, Key("chat", req), Key("chat", swapped))
	})

	t.Run("message role", func(t *testing.T) {
		req := baseRequest()
		req.Messages = []llm.Message{{Role: llm.RoleAssistant, Content: "hello"}}
		assert.NotEqual(t, base, Key("generate", req))
	})
}

// 属性测试：键仅由指纹字段决定，任意等值请求产生等值键，
// 内容扰动必然改变键。
func TestKeyProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		op := rapid.SampledFrom([]string{"generate", "chat", "analyze_code", "summarize"}).Draw(t, "op")
		req := &llm.ProviderRequest{
			ModelID:     rapid.StringMatching(`[a-z0-9.:-]{1,40}`).Draw(t, "model"),
			System:      rapid.String().Draw(t, "system"),
			Temperature: rapid.Float32Range(0, 1).Draw(t, "temp"),
			MaxTokens:   rapid.IntRange(1, 8192).Draw(t, "max_tokens"),
		}
		n := rapid.IntRange(1, 5).Draw(t, "n_messages")
		for i := 0; i < n; i++ {
			role := rapid.SampledFrom([]llm.Role{llm.RoleUser, llm.RoleAssistant}).Draw(t, "role")
			req.Messages = append(req.Messages, llm.Message{
				Role:    role,
				Content: rapid.String().Draw(t, "content"),
			})
		}

		clone := *req
		clone.Messages = append([]llm.Message(nil), req.Messages...)
		assert.Equal(t, Key(op, req), Key(op, &clone))

		idx := rapid.IntRange(0, n-1).Draw(t, "idx")
		clone.Messages[idx].Content += "x"
		assert.NotEqual(t, Key(op, req), Key(op, &clone))
	})
}
