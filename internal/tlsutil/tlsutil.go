package tlsutil

import (
	"crypto/tls"
	"net"
	"net/http"
	"time"
)

// 流式补全在首个字节之前可能要排队，响应头超时放宽到两分钟
const streamHeaderTimeout = 2 * time.Minute

// ClientConfig 出站连接的 TLS 配置：TLS 1.2 起步，仅 AEAD 套件。
// serverName 为空时由 crypto/tls 按拨号地址校验证书。
func ClientConfig(serverName string) *tls.Config {
	return &tls.Config{
		ServerName:       serverName,
		MinVersion:       tls.VersionTLS12,
		CurvePreferences: []tls.CurveID{tls.X25519, tls.CurveP256},
		CipherSuites: []uint16{
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
			tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
			tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		},
	}
}

// ServerNameFromAddr 取 host:port 中的 host，用于 Redis 等非 HTTP 连接
func ServerNameFromAddr(addr string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return addr
	}
	return host
}

// NewTransport 使用 ClientConfig 的 http.Transport。
// headerTimeout 为 0 时不限制等待响应头的时间。
func NewTransport(headerTimeout time.Duration) *http.Transport {
	return &http.Transport{
		Proxy:           http.ProxyFromEnvironment,
		TLSClientConfig: ClientConfig(""),
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: headerTimeout,
	}
}

// StreamingClient 给补全 SDK 用的客户端：没有整体超时，
// 单次调用的期限由节点的 context 决定。
func StreamingClient() *http.Client {
	return &http.Client{Transport: NewTransport(streamHeaderTimeout)}
}

// NewClient 带整体超时的客户端，用于工具等一次性请求
func NewClient(timeout time.Duration) *http.Client {
	return &http.Client{Timeout: timeout, Transport: NewTransport(timeout)}
}
