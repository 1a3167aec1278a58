package tlsutil

import (
	"crypto/tls"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientConfig(t *testing.T) {
	cfg := ClientConfig("redis.internal")
	assert.Equal(t, "redis.internal", cfg.ServerName)
	assert.Equal(t, uint16(tls.VersionTLS12), cfg.MinVersion)

	insecure := tls.InsecureCipherSuites()
	for _, cs := range cfg.CipherSuites {
		for _, bad := range insecure {
			assert.NotEqual(t, bad.ID, cs, "insecure suite %s", bad.Name)
		}
	}

	// 每次返回新实例
	ClientConfig("").MinVersion = tls.VersionTLS10
	assert.Equal(t, uint16(tls.VersionTLS12), ClientConfig("").MinVersion)
}

func TestServerNameFromAddr(t *testing.T) {
	assert.Equal(t, "redis.internal", ServerNameFromAddr("redis.internal:6380"))
	assert.Equal(t, "::1", ServerNameFromAddr("[::1]:6379"))
	assert.Equal(t, "bare-host", ServerNameFromAddr("bare-host"))
}

func TestClients(t *testing.T) {
	streaming := StreamingClient()
	assert.Zero(t, streaming.Timeout)
	assert.Equal(t, streamHeaderTimeout, streaming.Transport.(*http.Transport).ResponseHeaderTimeout)

	oneShot := NewClient(15 * time.Second)
	assert.Equal(t, 15*time.Second, oneShot.Timeout)
	tr := oneShot.Transport.(*http.Transport)
	assert.True(t, tr.ForceAttemptHTTP2)
	assert.NotNil(t, tr.Proxy)
}

func TestNewClient_TalksToTLSServer(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	client := NewClient(5 * time.Second)
	// 信任测试服务器的自签证书
	client.Transport.(*http.Transport).TLSClientConfig.RootCAs = srv.Client().Transport.(*http.Transport).TLSClientConfig.RootCAs

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	require.NotNil(t, resp.TLS)
	assert.GreaterOrEqual(t, resp.TLS.Version, uint16(tls.VersionTLS12))
}
