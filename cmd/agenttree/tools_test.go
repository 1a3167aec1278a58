package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/agenttree/llm/tools"
)

func TestRegisterBuiltinTools(t *testing.T) {
	reg := tools.NewRegistry(zap.NewNop())
	require.NoError(t, registerBuiltinTools(reg))

	list := reg.List()
	require.Len(t, list, 2)
	assert.Equal(t, "current_time", list[0].Name)
	assert.Equal(t, "http_fetch", list[1].Name)
	assert.Equal(t, "net", list[1].Permission)
	assert.Contains(t, string(list[1].Schema), `"url"`)
	assert.Contains(t, string(list[0].Schema), `"timezone"`)

	// 同名工具不可重复注册
	assert.Error(t, registerBuiltinTools(reg))
}

func TestCurrentTime(t *testing.T) {
	out, err := currentTime(context.Background(), nil)
	require.NoError(t, err)
	var res map[string]string
	require.NoError(t, json.Unmarshal(out, &res))
	assert.True(t, strings.HasSuffix(res["time"], "Z"), res["time"])

	_, err = currentTime(context.Background(), json.RawMessage(`{"timezone":"Nowhere/Atlantis"}`))
	assert.ErrorContains(t, err, "unknown timezone")

	_, err = currentTime(context.Background(), json.RawMessage(`[1]`))
	assert.ErrorContains(t, err, "invalid input")
}

func TestHTTPFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/big" {
			_, _ = w.Write([]byte(strings.Repeat("x", maxFetchBody+10)))
			return
		}
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))
	defer srv.Close()

	fetch := httpFetch(srv.Client())
	call := func(url string) (map[string]any, error) {
		in, _ := json.Marshal(map[string]string{"url": url})
		out, err := fetch(context.Background(), in)
		if err != nil {
			return nil, err
		}
		var res map[string]any
		require.NoError(t, json.Unmarshal(out, &res))
		return res, nil
	}

	res, err := call(srv.URL + "/tea")
	require.NoError(t, err)
	assert.Equal(t, float64(http.StatusTeapot), res["status"])
	assert.Equal(t, "short and stout", res["body"])
	assert.Equal(t, false, res["truncated"])

	res, err = call(srv.URL + "/big")
	require.NoError(t, err)
	assert.Equal(t, true, res["truncated"])
	assert.Len(t, res["body"], maxFetchBody)

	_, err = call("file:///etc/passwd")
	assert.ErrorContains(t, err, "absolute http(s) URL")
	_, err = call("/relative")
	assert.Error(t, err)
}

func TestHTTPFetch_RequiresPermission(t *testing.T) {
	reg := tools.NewRegistry(zap.NewNop())
	require.NoError(t, registerBuiltinTools(reg))
	inv := tools.NewLocalInvoker(reg, zap.NewNop())

	_, err := inv.Invoke(context.Background(), "http_fetch", json.RawMessage(`{"url":"http://127.0.0.1:1"}`), nil)
	var te *tools.ToolError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, tools.ToolPermissionDenied, te.Kind)

	res, err := inv.Invoke(context.Background(), "current_time", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "current_time", res.Name)
}
