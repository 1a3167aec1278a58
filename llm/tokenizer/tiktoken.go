package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/BaSui01/agenttree/llm"
	"github.com/pkoukk/tiktoken-go"
)

// 模型前缀到 tiktoken 编码的映射；未知模型（包括 Claude 系列）使用 cl100k_base 近似。
var modelEncodings = []struct {
	prefix   string
	encoding string
}{
	{"gpt-4o", "o200k_base"},
	{"o1", "o200k_base"},
	{"o3", "o200k_base"},
	{"gpt-4", "cl100k_base"},
	{"gpt-3.5", "cl100k_base"},
}

// Tiktoken 基于 tiktoken 的计数器。编码数据在首次使用时加载，
// 加载失败（例如离线环境无法下载 BPE 文件）时退回 Estimator。
type Tiktoken struct {
	encoding string
	fallback *Estimator

	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTiktoken creates a lazily initialised tiktoken counter for model.
func NewTiktoken(model string) *Tiktoken {
	encoding := "cl100k_base"
	for _, m := range modelEncodings {
		if strings.HasPrefix(model, m.prefix) {
			encoding = m.encoding
			break
		}
	}
	return &Tiktoken{encoding: encoding, fallback: NewEstimator()}
}

func (t *Tiktoken) init() *tiktoken.Tiktoken {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.err = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.enc
}

// Err reports why the exact encoding is unavailable, nil when it loaded.
func (t *Tiktoken) Err() error {
	t.init()
	return t.err
}

func (t *Tiktoken) CountTokens(text string) int {
	enc := t.init()
	if enc == nil {
		return t.fallback.CountTokens(text)
	}
	return len(enc.Encode(text, nil, nil))
}

func (t *Tiktoken) CountMessages(messages []llm.Message) int {
	enc := t.init()
	if enc == nil {
		return t.fallback.CountMessages(messages)
	}
	total := conversationOverhead
	for _, msg := range messages {
		total += messageOverhead
		total += len(enc.Encode(msg.Content, nil, nil))
		total += len(enc.Encode(string(msg.Role), nil, nil))
	}
	return total
}

func (t *Tiktoken) Name() string {
	if t.init() == nil {
		return "estimator"
	}
	return "tiktoken[" + t.encoding + "]"
}
