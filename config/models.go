package config

// =============================================================================
// 📦 模型注册表
// =============================================================================
// 可用的上游模型及其能力限制，请求中的 max_tokens 不得超过模型上限

// DefaultModelID 默认模型
const DefaultModelID = "anthropic.claude-3-sonnet-20240229-v1:0"

// ModelInfo 模型元数据
type ModelInfo struct {
	// 模型标识
	ID string
	// 展示名称
	Name string
	// 单次生成 token 上限
	MaxTokens int
	// 是否支持流式输出
	SupportsStreaming bool
}

// modelRegistry 支持的模型清单
var modelRegistry = map[string]ModelInfo{
	"anthropic.claude-3-sonnet-20240229-v1:0": {
		ID:                "anthropic.claude-3-sonnet-20240229-v1:0",
		Name:              "Claude 3 Sonnet",
		MaxTokens:         8192,
		SupportsStreaming: true,
	},
	"anthropic.claude-3-haiku-20240307-v1:0": {
		ID:                "anthropic.claude-3-haiku-20240307-v1:0",
		Name:              "Claude 3 Haiku",
		MaxTokens:         4096,
		SupportsStreaming: true,
	},
}

// validRegions 允许部署的 AWS 区域
var validRegions = map[string]struct{}{
	"us-east-1":      {},
	"us-east-2":      {},
	"us-west-1":      {},
	"us-west-2":      {},
	"eu-west-1":      {},
	"eu-west-2":      {},
	"eu-central-1":   {},
	"ap-northeast-1": {},
	"ap-southeast-1": {},
	"ap-southeast-2": {},
}

// LookupModel 按 ID 查询模型元数据
func LookupModel(id string) (ModelInfo, bool) {
	m, ok := modelRegistry[id]
	return m, ok
}

// SupportedModels 返回所有支持的模型
func SupportedModels() []ModelInfo {
	models := make([]ModelInfo, 0, len(modelRegistry))
	for _, m := range modelRegistry {
		models = append(models, m)
	}
	return models
}

// IsValidRegion 判断区域是否在允许列表内
func IsValidRegion(region string) bool {
	_, ok := validRegions[region]
	return ok
}
