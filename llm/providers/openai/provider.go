package openai

import (
	"context"
	"errors"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"github.com/BaSui01/agenttree/llm"
	"github.com/BaSui01/agenttree/llm/providers"
)

const (
	providerName  = "openai"
	fallbackModel = "gpt-4o"
)

// OpenAIProvider 通过 Chat Completions API 流式补全。
type OpenAIProvider struct {
	client openai.Client
	cfg    providers.OpenAIConfig
	logger *zap.Logger
}

// NewOpenAIProvider 创建 Provider；opts 追加在配置生成的选项之后。
func NewOpenAIProvider(cfg providers.OpenAIConfig, logger *zap.Logger, opts ...option.RequestOption) *OpenAIProvider {
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
	if cfg.Organization != "" {
		base = append(base, option.WithOrganization(cfg.Organization))
	}
	if cfg.Timeout > 0 {
		base = append(base, option.WithRequestTimeout(cfg.Timeout))
	}
	return &OpenAIProvider{
		client: openai.NewClient(append(base, opts...)...),
		cfg:    cfg,
		logger: logger.With(zap.String("provider", providerName)),
	}
}

func (p *OpenAIProvider) Name() string { return providerName }

// Stream 发起流式补全。最后一个带 usage 的 chunk 没有 choices。
func (p *OpenAIProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	if req == nil || len(req.Messages) == 0 {
		return nil, &llm.Error{Code: llm.ErrInvalidRequest, Message: "empty request", Provider: providerName}
	}
	params := p.buildParams(req)

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		start := time.Now()

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var (
			finish string
			usage  *llm.ChatUsage
		)
		for stream.Next() {
			chunk := stream.Current()
			for _, choice := range chunk.Choices {
				if choice.FinishReason != "" {
					finish = choice.FinishReason
				}
				if choice.Delta.Content == "" {
					continue
				}
				if !providers.Send(ctx, ch, llm.StreamChunk{Delta: choice.Delta.Content}) {
					return
				}
			}
			if chunk.Usage.TotalTokens > 0 || chunk.Usage.PromptTokens > 0 {
				usage = &llm.ChatUsage{
					PromptTokens:     int(chunk.Usage.PromptTokens),
					CompletionTokens: int(chunk.Usage.CompletionTokens),
					TotalTokens:      int(chunk.Usage.TotalTokens),
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

		fields := []zap.Field{
			zap.String("request_id", req.RequestID),
			zap.String("agent_id", req.AgentID),
			zap.String("finish_reason", finish),
			zap.Duration("latency", time.Since(start)),
		}
		if usage != nil {
			fields = append(fields, zap.Int("tokens", usage.Total()))
		}
		p.logger.Debug("stream finished", fields...)
		providers.Send(ctx, ch, llm.StreamChunk{FinishReason: finish, Usage: usage})
	}()
	return ch, nil
}

func (p *OpenAIProvider) buildParams(req *llm.ChatRequest) openai.ChatCompletionNewParams {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, m := range req.Messages {
		switch m.Role {
		case llm.RoleSystem:
			messages = append(messages, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		default:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}

	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(providers.ChooseModel(req, p.cfg.Model, fallbackModel)),
		Messages: messages,
		StreamOptions: openai.ChatCompletionStreamOptionsParam{
			IncludeUsage: openai.Bool(true),
		},
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	if req.Temperature > 0 {
		params.Temperature = openai.Float(float64(req.Temperature))
	}
	if req.AgentID != "" {
		params.User = openai.String(req.AgentID)
	}
	return params
}

func mapError(err error) *llm.Error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return providers.MapHTTPError(apiErr.StatusCode, apiErr.Error(), providerName)
	}
	return providers.TransportError(providerName, err)
}
