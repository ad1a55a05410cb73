// Copyright (c) VoiceBridge Authors.
// Licensed under the MIT License.

/*
Package handlers 提供 VoiceBridge HTTP API 的请求处理器实现。

# 概述

handlers 包实现了 VoiceBridge 所有 HTTP 端点的请求处理逻辑，
包括语音 WebSocket 接入、健康检查以及统一的响应/错误处理。
所有 Handler 均遵循标准 net/http 接口。

# 核心类型

  - VoiceHandler    — WebSocket 接入，每条连接一个语音会话，维护活跃会话注册表
  - HealthHandler   — 服务健康检查（/health, /healthz, /ready, /version），
    报告上游凭据配置与活跃连接数
  - Response        — 统一 JSON 响应结构（success + data + error + timestamp）
  - ErrorInfo       — 结构化错误信息，含 code、message、retryable 标记
  - ResponseWriter  — 包装 http.ResponseWriter 以捕获状态码
  - HealthCheck     — 可插拔健康检查接口（Redis 等）

# 主要能力

  - 统一响应格式：WriteSuccess / WriteError / WriteJSON 辅助函数
  - 请求验证：DecodeJSONBody（严格模式）
  - ErrorCode → HTTP 状态码自动映射（4xx/5xx）
  - 凭据缺失时 /health 返回 503 降级状态
  - 可扩展健康检查：RegisterCheck 注册自定义 HealthCheck 实现
*/
package handlers
