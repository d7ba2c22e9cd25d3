package tokenizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/llmgate/llm"
)

func TestEstimatorCountTokens(t *testing.T) {
	e := NewEstimatorTokenizer()

	n, err := e.CountTokens("")
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	// 纯 ASCII 大约 4 字符一个 token
	n, err = e.CountTokens("hello world, this is a test sentence")
	require.NoError(t, err)
	assert.InDelta(t, 9, n, 3)

	// CJK 密度更高
	n, err = e.CountTokens("这是一段中文文本")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, n, 5)

	// 非空文本至少 1 个 token
	n, err = e.CountTokens("a")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestEstimatorCountMessages(t *testing.T) {
	e := NewEstimatorTokenizer()

	n, err := e.CountMessages([]llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "hi there"},
	})
	require.NoError(t, err)
	// 每条消息 +4 开销，整体 +3
	assert.Greater(t, n, 11)
}

func TestDefaultTokenizer(t *testing.T) {
	tok := Default()
	require.NotNil(t, tok)

	n, err := tok.CountTokens("some text to count")
	require.NoError(t, err)
	assert.Greater(t, n, 0)
}
