package bedrock

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/llmgate/llm"
)

func newBufReader(data []byte) *bufio.Reader {
	return bufio.NewReader(bytes.NewReader(data))
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{
		Region:  "us-east-1",
		APIKey:  "test-key",
		BaseURL: srv.URL,
	}, nil)
}

func TestInvoke(t *testing.T) {
	var gotBody invokeRequest
	var gotAuth string

	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		json.NewEncoder(w).Encode(invokeResponse{
			ID:         "msg_01",
			Content:    []contentBlock{{Type: "text", Text: "hello "}, {Type: "text", Text: "world"}},
			StopReason: "end_turn",
			Usage:      wireUsage{InputTokens: 12, OutputTokens: 7},
		})
	})

	result, err := p.Invoke(context.Background(), &llm.ProviderRequest{
		ModelID:     "anthropic.claude-3-sonnet-20240229-v1:0",
		System:      "you are terse",
		Messages:    []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
		Temperature: 0.7,
		MaxTokens:   256,
	})
	require.NoError(t, err)

	assert.Equal(t, "hello world", result.Text)
	assert.Equal(t, 12, result.Usage.PromptTokens)
	assert.Equal(t, 7, result.Usage.CompletionTokens)
	assert.False(t, result.Truncated)

	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, anthropicVersion, gotBody.AnthropicVersion)
	assert.Equal(t, "you are terse", gotBody.System)
	require.Len(t, gotBody.Messages, 1)
	assert.Equal(t, "user", gotBody.Messages[0].Role)
	require.Len(t, gotBody.Messages[0].Content, 1)
	assert.Equal(t, "text", gotBody.Messages[0].Content[0].Type)
	assert.Equal(t, "hi", gotBody.Messages[0].Content[0].Text)
	assert.Equal(t, 256, gotBody.MaxTokens)
}

func TestInvokeTruncated(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(invokeResponse{
			Content:    []contentBlock{{Type: "text", Text: "partial"}},
			StopReason: "max_tokens",
			Usage:      wireUsage{InputTokens: 5, OutputTokens: 100},
		})
	})

	result, err := p.Invoke(context.Background(), &llm.ProviderRequest{
		ModelID:   "m",
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "long"}},
		MaxTokens: 100,
	})
	require.NoError(t, err)
	assert.True(t, result.Truncated)
}

func TestInvokeErrorMapping(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		errType   string
		wantCode  llm.ErrorCode
		retryable bool
	}{
		{"throttling", 429, "ThrottlingException", llm.ErrRateLimited, true},
		{"validation", 400, "ValidationException", llm.ErrInvalidRequest, false},
		{"model not found", 404, "ResourceNotFoundException", llm.ErrInvalidRequest, false},
		{"access denied", 403, "AccessDeniedException:http://internal/", llm.ErrUnauthorized, false},
		{"model timeout", 408, "ModelTimeoutException", llm.ErrUpstreamError, true},
		{"internal", 500, "InternalServerException", llm.ErrUpstreamError, true},
		{"no errortype header", 502, "", llm.ErrUpstreamError, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
				if tt.errType != "" {
					w.Header().Set("X-Amzn-Errortype", tt.errType)
				}
				w.WriteHeader(tt.status)
				json.NewEncoder(w).Encode(map[string]string{"message": "upstream says no"})
			})

			_, err := p.Invoke(context.Background(), &llm.ProviderRequest{
				ModelID:  "m",
				Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
			})
			require.Error(t, err)

			var llmErr *llm.Error
			require.ErrorAs(t, err, &llmErr)
			assert.Equal(t, tt.wantCode, llmErr.Code)
			assert.Equal(t, tt.retryable, llmErr.Retryable)
			assert.Equal(t, "upstream says no", llmErr.Message)
		})
	}
}

func TestInvokeMalformedResponse(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	})

	_, err := p.Invoke(context.Background(), &llm.ProviderRequest{
		ModelID:  "m",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrResponseParse, llmErr.Code)
	assert.False(t, llmErr.Retryable)
}

func TestInvokeEmptyContent(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(invokeResponse{StopReason: "end_turn"})
	})

	_, err := p.Invoke(context.Background(), &llm.ProviderRequest{
		ModelID:  "m",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrResponseParse, llmErr.Code)
}

func streamBody(events ...string) []byte {
	var out []byte
	for _, ev := range events {
		out = append(out, EncodeChunkEvent([]byte(ev))...)
	}
	return out
}

func TestInvokeStream(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(streamBody(
			`{"type":"message_start","message":{"usage":{"input_tokens":9}}}`,
			`{"type":"content_block_start"}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"foo"}}`,
			`{"type":"content_block_delta","delta":{"type":"text_delta","text":"bar"}}`,
			`{"type":"message_delta","usage":{"output_tokens":2}}`,
			`{"type":"message_stop"}`,
		))
	})

	ch, err := p.InvokeStream(context.Background(), &llm.ProviderRequest{
		ModelID:  "m",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var text string
	var finals int
	var usage *llm.TokenUsage
	for chunk := range ch {
		require.Nil(t, chunk.Err)
		if chunk.IsFinal {
			finals++
			usage = chunk.Usage
			continue
		}
		text += chunk.DeltaText
	}

	assert.Equal(t, "foobar", text)
	assert.Equal(t, 1, finals)
	require.NotNil(t, usage)
	assert.Equal(t, 9, usage.PromptTokens)
	assert.Equal(t, 2, usage.CompletionTokens)
}

func TestInvokeStreamException(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write(encodeFrame(map[string]string{
			":message-type":   "exception",
			":exception-type": "modelStreamErrorException",
		}, []byte(`{"message":"stream broke"}`)))
	})

	ch, err := p.InvokeStream(context.Background(), &llm.ProviderRequest{
		ModelID:  "m",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var gotErr *llm.Error
	for chunk := range ch {
		if chunk.Err != nil {
			gotErr = chunk.Err
		}
	}
	require.NotNil(t, gotErr)
	assert.Equal(t, llm.ErrUpstreamError, gotErr.Code)
	assert.Contains(t, gotErr.Message, "modelStreamErrorException")
}

func TestInvokeStreamTruncatedBody(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		full := EncodeChunkEvent([]byte(`{"type":"content_block_delta","delta":{"type":"text_delta","text":"x"}}`))
		w.Write(full)
		// 第二帧只写一半就断开
		w.Write(full[:len(full)/2])
	})

	ch, err := p.InvokeStream(context.Background(), &llm.ProviderRequest{
		ModelID:  "m",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})
	require.NoError(t, err)

	var gotErr *llm.Error
	var finals int
	for chunk := range ch {
		if chunk.Err != nil {
			gotErr = chunk.Err
		}
		if chunk.IsFinal {
			finals++
		}
	}
	require.NotNil(t, gotErr)
	assert.Equal(t, llm.ErrUpstreamError, gotErr.Code)
	assert.True(t, gotErr.Retryable)
	assert.Equal(t, 0, finals)
}

func TestInvokeStreamHTTPError(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Amzn-Errortype", "ThrottlingException")
		w.WriteHeader(http.StatusTooManyRequests)
		json.NewEncoder(w).Encode(map[string]string{"message": "slow down"})
	})

	_, err := p.InvokeStream(context.Background(), &llm.ProviderRequest{
		ModelID:  "m",
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "hi"}},
	})

	var llmErr *llm.Error
	require.ErrorAs(t, err, &llmErr)
	assert.Equal(t, llm.ErrRateLimited, llmErr.Code)
	assert.True(t, llmErr.Retryable)
}

func TestFrameRoundTrip(t *testing.T) {
	t.Run("corrupted checksum rejected", func(t *testing.T) {
		raw := EncodeChunkEvent([]byte(`{"type":"message_stop"}`))
		raw[len(raw)-1] ^= 0xFF

		_, err := readFrame(newBufReader(raw))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "checksum")
	})

	t.Run("headers preserved", func(t *testing.T) {
		raw := encodeFrame(map[string]string{":event-type": "chunk", ":message-type": "event"}, []byte(`{}`))
		fr, err := readFrame(newBufReader(raw))
		require.NoError(t, err)
		assert.Equal(t, "chunk", fr.headers[":event-type"])
		assert.Equal(t, "event", fr.headers[":message-type"])
		assert.Equal(t, `{}`, string(fr.payload))
	})
}
