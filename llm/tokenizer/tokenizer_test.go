package tokenizer

import (
	"testing"

	"github.com/BaSui01/agenttree/llm"
	"github.com/stretchr/testify/assert"
)

func TestEstimator_CountTokens(t *testing.T) {
	e := NewEstimator()

	assert.Equal(t, 0, e.CountTokens(""))
	assert.Equal(t, 1, e.CountTokens("a"))
	assert.Equal(t, 4, e.CountTokens("sixteen chars!!!"))
	assert.Equal(t, 2, e.CountTokens("你好世"))
}

func TestEstimator_CountMessages(t *testing.T) {
	e := NewEstimator()
	msgs := []llm.Message{
		{Role: llm.RoleSystem, Content: "abcdabcd"},
		{Role: llm.RoleUser, Content: "abcd"},
	}
	// 3 + (2+4) + (1+4)
	assert.Equal(t, 14, e.CountMessages(msgs))
}

func TestNewTiktoken_EncodingSelection(t *testing.T) {
	assert.Equal(t, "o200k_base", NewTiktoken("gpt-4o-mini").encoding)
	assert.Equal(t, "cl100k_base", NewTiktoken("gpt-4-turbo").encoding)
	assert.Equal(t, "cl100k_base", NewTiktoken("claude-sonnet-4-5").encoding)
}

// Works with or without the BPE data being reachable.
func TestTiktoken_CountsSomething(t *testing.T) {
	c := New("gpt-4o")
	assert.Positive(t, c.CountTokens("hello world, this is a test"))
	assert.NotEmpty(t, c.Name())
}

func TestEstimateRequest(t *testing.T) {
	e := NewEstimator()
	req := &llm.ChatRequest{
		Messages:  []llm.Message{{Role: llm.RoleUser, Content: "abcd"}},
		MaxTokens: 100,
	}
	assert.Equal(t, int64(3+1+4+100), EstimateRequest(e, req))
	assert.Equal(t, int64(0), EstimateRequest(e, nil))
}
