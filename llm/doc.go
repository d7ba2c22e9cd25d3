// Package llm 定义推理管线的核心类型：归一化的请求/结果结构、
// 流式分片、统一错误分类以及 Provider 适配接口。
//
// 管线各层（缓存、重试、编排服务、HTTP Handler）只依赖本包的类型；
// Provider 特有的响应信封由各 Provider 包内部解析后映射到这里的
// InferenceResult / StreamChunk。
package llm
