package llm

import (
	"context"
	"strings"
)

// Completion is a drained stream.
type Completion struct {
	Content      string
	FinishReason string
	Usage        ChatUsage
}

// Collect drains ch into a Completion. It returns ctx.Err() as soon as the
// context is cancelled; the producer is expected to observe the same context
// and close the channel.
func Collect(ctx context.Context, ch <-chan StreamChunk) (*Completion, error) {
	var (
		b   strings.Builder
		out Completion
	)
	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case chunk, ok := <-ch:
			if !ok {
				// 生产者因取消而提前关闭通道
				if err := ctx.Err(); err != nil {
					return nil, err
				}
				out.Content = b.String()
				return &out, nil
			}
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			b.WriteString(chunk.Delta)
			if chunk.FinishReason != "" {
				out.FinishReason = chunk.FinishReason
			}
			if chunk.Usage != nil {
				out.Usage.Add(*chunk.Usage)
			}
		}
	}
}
