package agent

import (
	"testing"

	"github.com/BaSui01/agenttree/llm/tools"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAgentContext_ChildLineage(t *testing.T) {
	root := &AgentContext{
		AgentID:     "root",
		RequestID:   "req-1",
		BotID:       "bot",
		Permissions: tools.Permissions{"fs:*"},
	}
	require.True(t, root.IsRoot())

	child := root.Child("c1", nil, nil, tools.Permissions{"fs:read", "net:get"})
	grand := child.Child("g1", nil, nil, nil)

	assert.Equal(t, 2, grand.Depth)
	assert.Equal(t, "c1", grand.ParentID)
	assert.Equal(t, []string{"root", "c1"}, grand.Ancestors)
	assert.Equal(t, []string{"root", "c1", "g1"}, grand.Lineage())
	assert.Equal(t, "req-1", grand.RequestID)
	assert.Equal(t, tools.Permissions{"fs:read"}, child.Permissions)
	assert.Equal(t, tools.Permissions{"fs:read"}, grand.Permissions)

	// appending to the child's lineage must not alias the parent's
	_ = append(child.Ancestors, "x")
	assert.Equal(t, []string{"root"}, child.Ancestors)
}

func TestAgentContext_CanSpawn(t *testing.T) {
	ctx := &AgentContext{AgentID: "a"}
	for d := 0; d < MaxDepth; d++ {
		assert.True(t, ctx.CanSpawn(), "depth %d", d)
		ctx = ctx.Child("n", nil, nil, nil)
	}
	assert.Equal(t, MaxDepth, ctx.Depth)
	assert.False(t, ctx.CanSpawn())
}

func TestSpawnRequest_Validate(t *testing.T) {
	assert.NoError(t, SpawnRequest{Task: "t", Mode: ModeParallel}.Validate())
	assert.ErrorIs(t, SpawnRequest{Task: " ", Mode: ModeParallel}.Validate(), ErrInvalidSpawn)
	assert.ErrorIs(t, SpawnRequest{Task: "t", Mode: "both"}.Validate(), ErrInvalidSpawn)
	assert.ErrorIs(t, SpawnRequest{Task: "t", Mode: ModeSequential, ChildCount: -1}.Validate(), ErrInvalidSpawn)
	assert.Equal(t, 1, SpawnRequest{}.Replicas())
	assert.Equal(t, 3, SpawnRequest{ChildCount: 3}.Replicas())
}
