// 版权所有 2024 VoiceBridge Authors. 版权所有。
// 此源代码的使用由 MIT 许可规范,该许可可以是
// 在LICENSE文件中找到。

/*
包 metrics 提供基于 Prometheus 的全链路指标采集能力，覆盖
HTTP、语音会话、转写、LLM、TTS 与缓存六大维度。

# 概述

本包通过 Collector 统一注册和记录 Prometheus 指标，使用 promauto
自动注册机制，避免手动管理 Registry。所有指标按 namespace 隔离，
支持多维度 label 分组，便于 Grafana 等工具进行可视化与告警。

# 核心类型

  - Collector：指标收集器，持有 Counter、Histogram、Gauge 等
    Prometheus 向量指标，按业务域分组管理。
  - LatencyTracker：按操作名累积延迟样本，提供 mean/median/p90/
    p95/p99 等百分位查询，用于健康端点的延迟摘要。

# 主要能力

  - HTTP 指标：请求总数、请求耗时，按 method/path/status 分组，
    状态码归类为 2xx/3xx/4xx/5xx。
  - 会话指标：会话总数 Counter、活跃会话 Gauge。
  - 轮次指标：轮次总数与端到端耗时，按 outcome 分组
    （completed/empty/failed）。
  - 转写指标：转写事件计数（interim/final/fallback）、链路重连
    计数、桥接音频字节数（inbound/outbound）。
  - LLM 指标：请求总数、请求耗时、Token 用量（prompt/completion），
    按 provider/model 分组。
  - TTS 指标：合成耗时与合成字节数，按 provider 分组。
  - 缓存指标：命中与未命中计数，按 cache_type 分组。
*/
package metrics
