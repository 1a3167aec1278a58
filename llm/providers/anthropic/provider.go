package claude

import (
	"context"
	"errors"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/BaSui01/agenttree/llm"
	"github.com/BaSui01/agenttree/llm/providers"
)

const (
	providerName     = "anthropic"
	fallbackModel    = "claude-sonnet-4-5"
	defaultMaxTokens = 4096
)

// ClaudeProvider 通过 Anthropic Messages API 流式补全。
type ClaudeProvider struct {
	client anthropic.Client
	cfg    providers.ClaudeConfig
	logger *zap.Logger
}

// NewClaudeProvider 创建 Provider；opts 追加在配置生成的选项之后。
func NewClaudeProvider(cfg providers.ClaudeConfig, logger *zap.Logger, opts ...option.RequestOption) *ClaudeProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	base := []option.RequestOption{option.WithMaxRetries(cfg.MaxRetries)}
	if cfg.APIKey != "" {
		base = append(base, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.BaseURL != "" {
		base = append(base, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.Timeout > 0 {
		base = append(base, option.WithRequestTimeout(cfg.Timeout))
	}
	return &ClaudeProvider{
		client: anthropic.NewClient(append(base, opts...)...),
		cfg:    cfg,
		logger: logger.With(zap.String("provider", providerName)),
	}
}

func (p *ClaudeProvider) Name() string { return providerName }

// Stream 发起流式补全。SDK 流在独立 goroutine 中消费，ctx 取消后通道关闭。
func (p *ClaudeProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "empty request", Provider: providerName}
	}
	params := p.buildParams(req)

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		start := time.Now()

		stream := p.client.Messages.NewStreaming(ctx, params)
		defer stream.Close()

		var msg anthropic.Message
		for stream.Next() {
			event := stream.Current()
			if err := msg.Accumulate(event); err != nil {
				providers.Send(ctx, ch, llm.StreamChunk{Err: providers.TransportError(providerName, err)})
				return
			}
			if v, ok := event.AsAny().(anthropic.ContentBlockDeltaEvent); ok {
				if d, ok := v.Delta.AsAny().(anthropic.TextDelta); ok && d.Text != "" {
					if !providers.Send(ctx, ch, llm.StreamChunk{Delta: d.Text}) {
						return
					}
				}
			}
		}
		if err := stream.Err(); err != nil {
			if ctx.Err() != nil {
				return
			}
			providers.Send(ctx, ch, llm.StreamChunk{Err: mapError(err)})
			return
		}

		usage := &llm.ChatUsage{
			PromptTokens:     int(msg.Usage.InputTokens),
			CompletionTokens: int(msg.Usage.OutputTokens),
		}
		usage.TotalTokens = usage.PromptTokens + usage.CompletionTokens
		p.logger.Debug("stream finished",
			zap.String("request_id", req.RequestID),
			zap.String("agent_id", req.AgentID),
			zap.String("stop_reason", string(msg.StopReason)),
			zap.Int("tokens", usage.TotalTokens),
			zap.Duration("latency", time.Since(start)))
		providers.Send(ctx, ch, llm.StreamChunk{FinishReason: string(msg.StopReason), Usage: usage})
	}()
	return ch, nil
}

func (p *ClaudeProvider) buildParams(req *llm.ChatRequest) anthropic.MessageNewParams {
	system, rest := providers.SplitSystem(req.Messages)

	messages := make([]anthropic.MessageParam, 0, len(rest))
	for _, m := range rest {
		switch m.Role {
		case llm.RoleAssistant:
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			// tool 结果在编排器中已渲染为文本，按 user 发送
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := int64(req.MaxTokens)
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(providers.ChooseModel(req, p.cfg.Model, fallbackModel)),
		MaxTokens: maxTokens,
		Messages:  messages,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(float64(req.Temperature))
	}
	return params
}

func mapError(err error) *llm.Error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		return providers.MapHTTPError(apiErr.StatusCode, apiErr.Error(), providerName)
	}
	return providers.TransportError(providerName, err)
}
