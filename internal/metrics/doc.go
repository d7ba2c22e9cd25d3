// Package metrics provides internal metrics collection for the gateway.
//
// 收集三类指标:
//   - HTTP: 请求计数、延迟、请求/响应大小
//   - LLM: 上游调用计数、延迟、token 消耗、重试次数
//   - 缓存: 命中/未命中计数
//
// 所有指标通过 promauto 注册到默认 registry，由 metrics 端口上的
// /metrics 端点统一暴露。
//
// This package is internal and should not be imported by external projects.
package metrics
