package handlers

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agenttree/agent/hierarchical"
	"github.com/BaSui01/agenttree/agent/persistence"
	"github.com/BaSui01/agenttree/api"
	"github.com/BaSui01/agenttree/llm/budget"
	"go.uber.org/zap"
)

// =============================================================================
// 🌲 根请求 Handler
// =============================================================================

// Orchestrator 是处理器所需的编排能力
type Orchestrator interface {
	RunRequest(ctx context.Context, botID, task string, opts ...hierarchical.RunOption) (*hierarchical.RootHandle, error)
}

// DefaultRetention 结束的请求在内存中保留的时长
const DefaultRetention = 15 * time.Minute

// RequestHandler 处理 /v1/requests 系列端点。
// 结束的请求保留 retention 时长，之后从运行记录中查询。
type RequestHandler struct {
	orch      Orchestrator
	recorder  persistence.Recorder
	retention time.Duration
	logger    *zap.Logger

	mu      sync.RWMutex
	handles map[string]*tracked
}

type tracked struct {
	handle    *hierarchical.RootHandle
	createdAt time.Time
}

// NewRequestHandler 创建请求处理器；recorder 可为 nil
func NewRequestHandler(orch Orchestrator, recorder persistence.Recorder, retention time.Duration, logger *zap.Logger) *RequestHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &RequestHandler{
		orch:      orch,
		recorder:  recorder,
		retention: retention,
		logger:    logger.With(zap.String("handler", "requests")),
		handles:   make(map[string]*tracked),
	}
}

// Register 注册路由
func (h *RequestHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/requests", h.HandleCreate)
	mux.HandleFunc("GET /v1/requests/{id}", h.HandleGet)
	mux.HandleFunc("DELETE /v1/requests/{id}", h.HandleCancel)
	mux.HandleFunc("GET /v1/requests/{id}/budget", h.HandleBudget)
	mux.HandleFunc("POST /v1/requests/{id}/budget", h.HandleBudgetAction)
}

// Lookup 返回仍在保留期内的请求句柄
func (h *RequestHandler) Lookup(id string) (*hierarchical.RootHandle, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	t, ok := h.handles[id]
	if !ok {
		return nil, false
	}
	return t.handle, true
}

// Prune 移除已结束且超过保留期的请求，返回移除数量
func (h *RequestHandler) Prune(now time.Time) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	removed := 0
	for id, t := range h.handles {
		if _, done := t.handle.Result(); !done {
			continue
		}
		if now.Sub(t.createdAt) > h.retention {
			delete(h.handles, id)
			removed++
		}
	}
	return removed
}

// =============================================================================
// 🎯 HTTP 处理程序
// =============================================================================

// HandleCreate 处理 POST /v1/requests
// @Summary 启动根请求
// @Tags 请求
// @Accept json
// @Produce json
// @Param request body api.CreateRequest true "根请求"
// @Success 202 {object} Response
// @Router /v1/requests [post]
func (h *RequestHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req api.CreateRequest
	if err := DecodeJSONBody(w, r, &req, h.logger); err != nil {
		return
	}
	if strings.TrimSpace(req.Task) == "" {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "task is required", h.logger)
		return
	}
	if req.Budget < 0 {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "budget must be positive", h.logger)
		return
	}
	if req.RequestID != "" {
		if _, exists := h.Lookup(req.RequestID); exists {
			WriteErrorMessage(w, http.StatusConflict, CodeConflict, "request id already in use", h.logger)
			return
		}
	}

	opts := []hierarchical.RunOption{hierarchical.WithInput(req.Input)}
	if req.RequestID != "" {
		opts = append(opts, hierarchical.WithRequestID(req.RequestID))
	}
	if req.Budget > 0 {
		opts = append(opts, hierarchical.WithBudget(req.Budget))
	}
	if len(req.Permissions) > 0 {
		opts = append(opts, hierarchical.WithPermissions(req.Permissions...))
	}

	h.Prune(time.Now())
	handle, err := h.orch.RunRequest(r.Context(), req.BotID, req.Task, opts...)
	if err != nil {
		if errors.Is(err, hierarchical.ErrDuplicateRequest) {
			WriteErrorMessage(w, http.StatusConflict, CodeConflict, err.Error(), h.logger)
			return
		}
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), h.logger)
		return
	}

	h.mu.Lock()
	h.handles[handle.ID()] = &tracked{handle: handle, createdAt: time.Now()}
	h.mu.Unlock()

	h.logger.Info("request accepted",
		zap.String("request_id", handle.ID()),
		zap.String("bot_id", req.BotID))
	WriteData(w, http.StatusAccepted, h.view(r.Context(), handle, false))
}

// HandleGet 处理 GET /v1/requests/{id}
// @Summary 查询根请求
// @Tags 请求
// @Produce json
// @Param id path string true "请求 ID"
// @Success 200 {object} Response
// @Failure 404 {object} Response
// @Router /v1/requests/{id} [get]
func (h *RequestHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if handle, ok := h.Lookup(id); ok {
		WriteSuccess(w, h.view(r.Context(), handle, true))
		return
	}

	// 超过保留期的请求只剩运行记录
	if h.recorder != nil {
		runs, err := h.recorder.ListRuns(r.Context(), id)
		if err != nil {
			WriteErrorMessage(w, http.StatusInternalServerError, CodeInternal, "failed to load run records", h.logger)
			return
		}
		if len(runs) > 0 {
			WriteSuccess(w, api.RequestView{
				ID:        id,
				State:     api.RequestFinished,
				Runs:      runs,
				UpdatedAt: time.Now(),
			})
			return
		}
	}
	h.notFound(w, id)
}

// HandleCancel 处理 DELETE /v1/requests/{id}
// @Summary 取消整棵 Agent 树
// @Tags 请求
// @Param id path string true "请求 ID"
// @Success 202 {object} Response
// @Router /v1/requests/{id} [delete]
func (h *RequestHandler) HandleCancel(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	handle, ok := h.Lookup(id)
	if !ok {
		h.notFound(w, id)
		return
	}
	if _, done := handle.Result(); done {
		WriteSuccess(w, h.view(r.Context(), handle, false))
		return
	}
	handle.Cancel()
	h.logger.Info("request cancelled by operator", zap.String("request_id", id))
	WriteData(w, http.StatusAccepted, h.view(r.Context(), handle, false))
}

// HandleBudget 处理 GET /v1/requests/{id}/budget
// @Summary 账本状态
// @Tags 预算
// @Param id path string true "请求 ID"
// @Success 200 {object} Response
// @Router /v1/requests/{id}/budget [get]
func (h *RequestHandler) HandleBudget(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	handle, ok := h.Lookup(id)
	if !ok {
		h.notFound(w, id)
		return
	}
	WriteSuccess(w, handle.Budget())
}

// HandleBudgetAction 处理 POST /v1/requests/{id}/budget
// @Summary 运维提高预算上限或恢复暂停的账本
// @Tags 预算
// @Accept json
// @Param id path string true "请求 ID"
// @Param action body api.BudgetAction true "预算调整"
// @Success 200 {object} Response
// @Failure 409 {object} Response "账本仍然耗尽"
// @Router /v1/requests/{id}/budget [post]
func (h *RequestHandler) HandleBudgetAction(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	handle, ok := h.Lookup(id)
	if !ok {
		h.notFound(w, id)
		return
	}

	var action api.BudgetAction
	if err := DecodeJSONBody(w, r, &action, h.logger); err != nil {
		return
	}
	if action.RaiseBy < 0 || (action.RaiseBy == 0 && !action.Resume) {
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, "raise_by must be positive or resume must be set", h.logger)
		return
	}
	if _, done := handle.Result(); done {
		WriteErrorMessage(w, http.StatusConflict, CodeConflict, "request already finished", h.logger)
		return
	}

	status := handle.Budget()
	var err error
	if action.RaiseBy > 0 {
		if status, err = handle.RaiseLimit(action.RaiseBy); err != nil {
			h.budgetError(w, err)
			return
		}
	}
	if action.Resume {
		if status, err = handle.Resume(); err != nil {
			h.budgetError(w, err)
			return
		}
	}

	h.logger.Info("budget adjusted by operator",
		zap.String("request_id", id),
		zap.Int64("raise_by", action.RaiseBy),
		zap.Bool("resume", action.Resume),
		zap.Int64("limit", status.Limit),
		zap.Bool("paused", status.Paused))
	WriteSuccess(w, status)
}

func (h *RequestHandler) budgetError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, budget.ErrStillExhausted):
		WriteErrorMessage(w, http.StatusConflict, CodeConflict, err.Error(), h.logger)
	case errors.Is(err, budget.ErrInvalidAmount):
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), h.logger)
	default:
		WriteError(w, err, h.logger)
	}
}

func (h *RequestHandler) notFound(w http.ResponseWriter, id string) {
	WriteErrorMessage(w, http.StatusNotFound, CodeNotFound, "request "+id+" not found", h.logger)
}

// view 组装请求快照；withWorkspace 为 true 时附带工作区内容
func (h *RequestHandler) view(ctx context.Context, handle *hierarchical.RootHandle, withWorkspace bool) api.RequestView {
	st := handle.Budget()
	v := api.RequestView{
		ID:          handle.ID(),
		RootAgentID: handle.RootAgentID(),
		State:       api.RequestRunning,
		Tree:        handle.Tree(),
		Budget:      &st,
		UpdatedAt:   time.Now(),
	}
	if res, done := handle.Result(); done {
		v.State = api.RequestFinished
		v.Result = &res
	}
	if withWorkspace {
		ws, err := handle.Workspace(ctx)
		if err != nil {
			h.logger.Warn("failed to read workspace", zap.String("request_id", v.ID), zap.Error(err))
		}
		v.Workspace = ws
	}
	return v
}
