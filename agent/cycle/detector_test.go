package cycle

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/BaSui01/agenttree/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"pgregory.net/rapid"
)

func TestFingerprint_Normalization(t *testing.T) {
	a := NewFingerprint("Summarize the Report!", "  Q3   numbers ", 0)
	b := NewFingerprint("summarize the report", "q3 numbers", 0)
	c := NewFingerprint("summarize the report", "q3 numbers", 1)

	assert.Equal(t, a.Hash, b.Hash)
	assert.NotEqual(t, a.Hash, c.Hash, "replica index is part of the identity")
	assert.Equal(t, "summarize the report | q3 numbers", a.Text)
	assert.Equal(t, 1.0, a.Similarity(b))
}

func TestFingerprint_Similarity(t *testing.T) {
	a := NewFingerprint("find flights from paris to tokyo in may", "", 0)
	b := NewFingerprint("find flights from paris to tokyo in june", "", 0)
	c := NewFingerprint("write a poem about the sea", "", 0)

	// 7 shared of 9 distinct words
	assert.InDelta(t, 7.0/9.0, a.Similarity(b), 1e-9)
	assert.Less(t, a.Similarity(c), 0.2)
	assert.Equal(t, 0.0, NewFingerprint("", "", 0).Similarity(NewFingerprint("", "", 1)))
}

func TestDetector_ExactDuplicateRejected(t *testing.T) {
	d := NewDetector(DefaultConfig(), zap.NewNop())
	chain := []string{"root", "a"}
	fp := NewFingerprint("research topic", "input", 0)

	require.NoError(t, d.Admit(chain, "a", fp))
	err := d.Admit(chain, "a", fp)
	require.Error(t, err)

	assert.True(t, errors.Is(err, ErrCycleDetected))
	assert.Equal(t, types.ErrCycleDetected, types.GetErrorCode(err))
	var ce *CycleError
	require.True(t, errors.As(err, &ce))
	assert.True(t, ce.Exact)
	assert.Equal(t, "a", ce.Owner)
}

func TestDetector_NearDuplicateRejected(t *testing.T) {
	d := NewDetector(Config{Window: 8, Threshold: 0.75}, nil)
	chain := []string{"root"}

	require.NoError(t, d.Admit(chain, "root", NewFingerprint("find flights from paris to tokyo in may", "", 0)))
	err := d.Admit(chain, "root", NewFingerprint("find flights from paris to tokyo in june", "", 0))

	var ce *CycleError
	require.True(t, errors.As(err, &ce))
	assert.False(t, ce.Exact)
	assert.InDelta(t, 7.0/9.0, ce.Similarity, 1e-9)

	assert.NoError(t, d.Admit(chain, "root", NewFingerprint("write a poem about the sea", "", 0)))
}

func TestDetector_ScopedToLineage(t *testing.T) {
	d := NewDetector(DefaultConfig(), nil)
	fp := NewFingerprint("look up weather", "berlin", 0)

	// recorded by sibling branch a
	require.NoError(t, d.Admit([]string{"root", "a"}, "a", fp))

	// branch b does not see a's history
	assert.NoError(t, d.Check([]string{"root", "b"}, fp))
	// a's descendants do
	assert.Error(t, d.Check([]string{"root", "a", "a1"}, fp))
}

func TestDetector_ReplicasAreDistinct(t *testing.T) {
	d := NewDetector(DefaultConfig(), nil)
	chain := []string{"root"}
	for i := 0; i < 3; i++ {
		require.NoError(t, d.Admit(chain, "root", NewFingerprint("label images", "batch", i)))
	}
	assert.Error(t, d.Admit(chain, "root", NewFingerprint("label images", "batch", 1)))
}

func TestDetector_WindowEviction(t *testing.T) {
	d := NewDetector(Config{Window: 3, Threshold: 0.85}, nil)
	chain := []string{"root"}
	first := NewFingerprint("alpha task", "", 0)

	require.NoError(t, d.Admit(chain, "root", first))
	require.Error(t, d.Check(chain, first))

	for i := 0; i < 3; i++ {
		require.NoError(t, d.Admit(chain, "root", NewFingerprint(fmt.Sprintf("unrelated %d %d", i, i*17), fmt.Sprint(i), 0)))
	}
	assert.Equal(t, 3, d.Len("root"))
	assert.NoError(t, d.Check(chain, first), "evicted once the window moved past it")
}

func TestDetector_ConcurrentDuplicateSiblings(t *testing.T) {
	d := NewDetector(DefaultConfig(), nil)
	fp := NewFingerprint("same task", "same input", 0)

	var accepted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if d.Admit([]string{"root"}, "root", fp) == nil {
				accepted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), accepted.Load())
}

// Property: within the window the same fingerprint is always rejected; after
// Window distinct admissions it is accepted again.
func TestProperty_WindowSemantics(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		size := rapid.IntRange(1, 10).Draw(rt, "window")
		d := NewDetector(Config{Window: size, Threshold: 0.99}, nil)
		chain := []string{"root"}
		target := NewFingerprint("target", "x", 0)
		if err := d.Admit(chain, "root", target); err != nil {
			rt.Fatalf("first admit failed: %v", err)
		}

		fillers := rapid.IntRange(0, 2*size).Draw(rt, "fillers")
		for i := 0; i < fillers; i++ {
			fp := NewFingerprint(fmt.Sprintf("filler%d", i), "", 0)
			if err := d.Admit(chain, "root", fp); err != nil {
				rt.Fatalf("filler %d rejected: %v", i, err)
			}
		}

		err := d.Check(chain, target)
		if fillers < size && err == nil {
			rt.Fatalf("duplicate accepted with %d fillers in window %d", fillers, size)
		}
		if fillers >= size && err != nil {
			rt.Fatalf("duplicate rejected after eviction: %v", err)
		}
	})
}
