package agent

import "github.com/BaSui01/agenttree/types"

var (
	// ErrDepthLimitReached 在深度 3 的 Agent 尝试 spawn 时返回，不创建任何节点
	ErrDepthLimitReached = types.NewError(types.ErrDepthLimitReached, "agent at max depth cannot spawn")

	// ErrInvalidSpawn spawn 请求不合法（空任务、混合执行模式、超出扇出上限）
	ErrInvalidSpawn = types.NewError(types.ErrInvalidSpawn, "invalid spawn request")

	// ErrCancelled 节点被取消
	ErrCancelled = types.NewError(types.ErrCancelled, "agent cancelled")

	// ErrTimeout 节点执行超时
	ErrTimeout = types.NewError(types.ErrTimeout, "agent execution timed out")
)
