// Package tlsutil 集中出站连接的 TLS 与 HTTP 客户端设置。
//
// 补全 SDK 使用 StreamingClient，http_fetch 工具使用 NewClient，
// Redis 工作区在开启 TLS 时使用 ClientConfig。
package tlsutil
