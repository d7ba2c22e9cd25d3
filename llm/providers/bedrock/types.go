package bedrock

// =============================================================================
// Bedrock Anthropic Messages 线协议类型 / 📡
// =============================================================================
// Bedrock InvokeModel 的请求/响应信封。content 始终是块数组，
// 文本块的 type 固定为 "text"。

// anthropicVersion 是 Bedrock 要求的协议版本标识
const anthropicVersion = "bedrock-2023-05-31"

// contentBlock 是消息内容块（仅支持文本块）
type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// wireMessage 是发往模型的单条消息
type wireMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

// invokeRequest 是 InvokeModel 的请求体
type invokeRequest struct {
	AnthropicVersion string        `json:"anthropic_version"`
	System           string        `json:"system,omitempty"`
	Messages         []wireMessage `json:"messages"`
	MaxTokens        int           `json:"max_tokens"`
	Temperature      float32       `json:"temperature"`
}

// wireUsage 是响应中的 token 用量
type wireUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// invokeResponse 是 InvokeModel 的响应体
type invokeResponse struct {
	ID         string         `json:"id"`
	Model      string         `json:"model"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
	Usage      wireUsage      `json:"usage"`
}

// streamEvent 是流式响应帧内的事件
// 按 type 区分：message_start / content_block_delta / message_delta / message_stop
type streamEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type       string `json:"type"`
		Text       string `json:"text"`
		StopReason string `json:"stop_reason"`
	} `json:"delta"`
	Message struct {
		Usage wireUsage `json:"usage"`
	} `json:"message"`
	Usage wireUsage `json:"usage"`
}
