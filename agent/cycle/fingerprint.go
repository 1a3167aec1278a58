package cycle

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/cespare/xxhash/v2"
)

// Fingerprint 是一次 spawn 尝试 (task, input) 的归一化指纹。
type Fingerprint struct {
	Hash    uint64
	Replica int
	Text    string
	tokens  map[string]struct{}
}

// NewFingerprint 归一化 task 与 input（小写、去标点、合并空白）后计算指纹。
// replica 区分同一 spawn 请求中有意复制的多个子 Agent。
func NewFingerprint(task, input string, replica int) Fingerprint {
	normTask := normalize(task)
	normInput := normalize(input)
	text := normTask
	if normInput != "" {
		text += " | " + normInput
	}

	h := xxhash.New()
	_, _ = h.WriteString(normTask)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(normInput)
	_, _ = h.WriteString("\x00")
	_, _ = h.WriteString(strconv.Itoa(replica))

	tokens := make(map[string]struct{})
	for _, w := range strings.Fields(normTask + " " + normInput) {
		tokens[w] = struct{}{}
	}

	return Fingerprint{
		Hash:    h.Sum64(),
		Replica: replica,
		Text:    text,
		tokens:  tokens,
	}
}

// Similarity 返回两个指纹词集合的 Jaccard 相似度，取值 [0, 1]。
func (f Fingerprint) Similarity(other Fingerprint) float64 {
	if f.Hash == other.Hash {
		return 1
	}
	if len(f.tokens) == 0 || len(other.tokens) == 0 {
		return 0
	}
	small, large := f.tokens, other.tokens
	if len(small) > len(large) {
		small, large = large, small
	}
	inter := 0
	for w := range small {
		if _, ok := large[w]; ok {
			inter++
		}
	}
	union := len(f.tokens) + len(other.tokens) - inter
	return float64(inter) / float64(union)
}

func normalize(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := true
	for _, r := range strings.ToLower(s) {
		switch {
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			space = false
		case !space:
			b.WriteByte(' ')
			space = true
		}
	}
	return strings.TrimSpace(b.String())
}
