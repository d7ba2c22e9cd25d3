package service

import (
	"fmt"
	"strings"

	"github.com/BaSui01/llmgate/llm"
)

// 各操作的固定采样温度
// 代码分析要求输出稳定可解析，摘要在忠实与流畅间取折中。
const (
	codeAnalysisTemperature float32 = 0.1
	summarizeTemperature    float32 = 0.3
)

// codeAnalysisSystemPrompt 约定模型以 JSON 返回分析结果
const codeAnalysisSystemPrompt = `You are an expert code reviewer. Analyze the provided code and return a JSON response with:
- issues: List of potential issues found
- suggestions: List of improvement suggestions
- best_practices: List of relevant best practices
- security_concerns: List of security considerations`

// buildCodeAnalysisPrompt 把代码与上下文包装为分析提示词
func buildCodeAnalysisPrompt(code, context string) string {
	var b strings.Builder
	b.WriteString("Code to analyze:\n```\n")
	b.WriteString(code)
	b.WriteString("\n```\n")
	if context != "" {
		b.WriteString("\nContext: ")
		b.WriteString(context)
	}
	return b.String()
}

// buildSummarizeSystemPrompt 按输出格式与长度约束生成摘要指令
func buildSummarizeSystemPrompt(format llm.SummaryFormat, maxLength int) string {
	var formatPrompt string
	switch format {
	case llm.FormatPlain:
		formatPrompt = "Provide a concise paragraph summary."
	case llm.FormatBulletPoints:
		formatPrompt = "Provide a bullet-point summary with key points."
	default:
		formatPrompt = "Provide a summary."
	}

	prompt := fmt.Sprintf("You are a skilled summarizer. %s Keep the summary clear and informative.", formatPrompt)
	if maxLength > 0 {
		prompt += fmt.Sprintf(" Limit the summary to approximately %d words.", maxLength)
	}
	return prompt
}
