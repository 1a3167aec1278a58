package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/BaSui01/agenttree/internal/tlsutil"
	"github.com/BaSui01/agenttree/llm/tools"
)

// http_fetch 返回的正文上限
const maxFetchBody = 64 << 10

type currentTimeInput struct {
	Timezone string `json:"timezone,omitempty" jsonschema:"description=IANA time zone name; defaults to UTC,example=Europe/Berlin"`
}

type httpFetchInput struct {
	URL string `json:"url" jsonschema:"required,format=uri,description=absolute http or https URL"`
}

// registerBuiltinTools 注册随二进制提供的内置工具
func registerBuiltinTools(reg *tools.Registry) error {
	if err := reg.Register("current_time", currentTime, tools.ToolMetadata{
		Description: "Returns the current time in RFC 3339.",
		Timeout:     time.Second,
		Schema:      tools.SchemaFor[currentTimeInput](),
	}); err != nil {
		return err
	}

	client := tlsutil.NewClient(15 * time.Second)
	return reg.Register("http_fetch", httpFetch(client), tools.ToolMetadata{
		Description: "Fetches a URL with GET and returns status and body (truncated to 64 KiB).",
		Permission:  "net",
		Schema:      tools.SchemaFor[httpFetchInput](),
		RateLimit:   &tools.RateLimitConfig{MaxCalls: 30, Window: time.Minute},
		Timeout:     20 * time.Second,
	})
}

func currentTime(_ context.Context, input json.RawMessage) (json.RawMessage, error) {
	var in currentTimeInput
	if len(input) > 0 {
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
	}
	loc := time.UTC
	if in.Timezone != "" {
		l, err := time.LoadLocation(in.Timezone)
		if err != nil {
			return nil, fmt.Errorf("unknown timezone %q", in.Timezone)
		}
		loc = l
	}
	return json.Marshal(map[string]string{"time": time.Now().In(loc).Format(time.RFC3339)})
}

func httpFetch(client *http.Client) tools.ToolFunc {
	return func(ctx context.Context, input json.RawMessage) (json.RawMessage, error) {
		var in httpFetchInput
		if err := json.Unmarshal(input, &in); err != nil {
			return nil, fmt.Errorf("invalid input: %w", err)
		}
		u, err := url.Parse(in.URL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("url must be an absolute http(s) URL")
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
		if err != nil {
			return nil, err
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBody+1))
		if err != nil {
			return nil, err
		}
		truncated := len(body) > maxFetchBody
		if truncated {
			body = body[:maxFetchBody]
		}
		return json.Marshal(map[string]any{
			"status":    resp.StatusCode,
			"body":      string(body),
			"truncated": truncated,
		})
	}
}
