package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/agenttree/agent"
	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// =============================================================================
// 📡 事件流 Handler
// =============================================================================

// EventStreamHandler 通过 websocket 推送一个根请求的事件流。
// 每条消息是一个 JSON 编码的 agent.Event；请求结束后以 1000 关闭连接。
type EventStreamHandler struct {
	requests     *RequestHandler
	writeTimeout time.Duration
	acceptOpts   *websocket.AcceptOptions
	logger       *zap.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

// NewEventStreamHandler 创建事件流处理器；originPatterns 为空时只接受同源连接
func NewEventStreamHandler(requests *RequestHandler, originPatterns []string, logger *zap.Logger) *EventStreamHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &EventStreamHandler{
		requests:     requests,
		writeTimeout: 10 * time.Second,
		acceptOpts:   &websocket.AcceptOptions{OriginPatterns: originPatterns},
		logger:       logger.With(zap.String("handler", "events")),
		closing:      make(chan struct{}),
	}
}

// Close 以 1001 结束所有打开的事件流，供服务器关闭时调用
func (h *EventStreamHandler) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// Register 注册路由
func (h *EventStreamHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /v1/requests/{id}/events", h.HandleEvents)
}

// HandleEvents 处理 GET /v1/requests/{id}/events。
// 可选查询参数 kinds=agent_spawned,agent_failed 只推送指定类型。
// @Summary 订阅请求事件（websocket）
// @Tags 事件
// @Param id path string true "请求 ID"
// @Param kinds query string false "逗号分隔的事件类型"
// @Router /v1/requests/{id}/events [get]
func (h *EventStreamHandler) HandleEvents(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	handle, ok := h.requests.Lookup(id)
	if !ok {
		WriteErrorMessage(w, http.StatusNotFound, CodeNotFound, "request "+id+" not found", h.logger)
		return
	}

	var filters []agent.Filter
	if raw := r.URL.Query().Get("kinds"); raw != "" {
		var kinds []agent.EventKind
		for _, k := range strings.Split(raw, ",") {
			if k = strings.TrimSpace(k); k != "" {
				kinds = append(kinds, agent.EventKind(k))
			}
		}
		filters = append(filters, agent.ForKinds(kinds...))
	}

	// 长连接不受服务端 WriteTimeout 限制
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	conn, err := websocket.Accept(w, r, h.acceptOpts)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.String("request_id", id), zap.Error(err))
		return
	}
	defer conn.CloseNow()

	// 订阅先于 Done 检查，避免请求恰好结束时漏掉尾部事件
	sub := handle.Subscribe(filters...)
	defer sub.Cancel()

	// 客户端只读；CloseRead 在对端关闭时取消 ctx
	ctx := conn.CloseRead(r.Context())
	sent := 0
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("event stream closed by client", zap.String("request_id", id), zap.Int("sent", sent))
			return
		case <-h.closing:
			conn.Close(websocket.StatusGoingAway, "server shutting down")
			return
		case e, ok := <-sub.C():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "event bus closed")
				return
			}
			if err := h.write(ctx, conn, e); err != nil {
				h.logger.Debug("event stream write failed", zap.String("request_id", id), zap.Error(err))
				return
			}
			sent++
		case <-handle.Done():
			n, err := h.drain(ctx, conn, sub)
			sent += n
			if err != nil {
				return
			}
			conn.Close(websocket.StatusNormalClosure, "request finished")
			h.logger.Debug("event stream finished", zap.String("request_id", id), zap.Int("sent", sent))
			return
		}
	}
}

// drain 推送请求结束时仍在缓冲中的事件
func (h *EventStreamHandler) drain(ctx context.Context, conn *websocket.Conn, sub *agent.Subscription) (int, error) {
	n := 0
	for {
		select {
		case e, ok := <-sub.C():
			if !ok {
				return n, nil
			}
			if err := h.write(ctx, conn, e); err != nil {
				return n, err
			}
			n++
		default:
			return n, nil
		}
	}
}

func (h *EventStreamHandler) write(ctx context.Context, conn *websocket.Conn, e agent.Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, h.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}
