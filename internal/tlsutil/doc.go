// Package tlsutil 提供集中式 TLS 加固配置（TLS 1.2+，仅 AEAD 密码套件），
// 供 voicebridge 的 HTTP 客户端与上游 WebSocket 拨号显式注入。
// 配置始终作为参数传入，不修改任何进程级 TLS 状态。
package tlsutil
