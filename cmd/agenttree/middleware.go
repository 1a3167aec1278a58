package main

import (
	"context"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/agenttree/api/handlers"
	"github.com/BaSui01/agenttree/internal/metrics"
)

// Middleware 包装一个 http.Handler
type Middleware func(http.Handler) http.Handler

// Chain 按参数顺序由外到内套上中间件
func Chain(h http.Handler, middlewares ...Middleware) http.Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// =============================================================================
// HTTP 请求 ID
// =============================================================================

const (
	headerRequestID = "X-Request-ID"
	maxRequestIDLen = 128
)

type httpRequestIDKey struct{}

// RequestIDFromContext HTTP 请求 ID；与 Agent 树的根请求 ID 无关
func RequestIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(httpRequestIDKey{}).(string)
	return id
}

// RequestID 沿用客户端给出的 X-Request-ID，缺失或过长时生成 "http-<uuid>"
func RequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := r.Header.Get(headerRequestID)
			if id == "" || len(id) > maxRequestIDLen {
				id = "http-" + uuid.NewString()
			}
			w.Header().Set(headerRequestID, id)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), httpRequestIDKey{}, id)))
		})
	}
}

// Recovery 把 handler 的 panic 转成 500。http.ErrAbortHandler 原样抛出。
func Recovery(logger *zap.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if v == http.ErrAbortHandler {
					panic(v)
				}
				logger.Error("handler panic",
					zap.Any("panic", v),
					zap.String("path", r.URL.Path),
					zap.String("http_request_id", RequestIDFromContext(r.Context())),
					zap.Stack("stack"))
				handlers.WriteErrorMessage(w, http.StatusInternalServerError, handlers.CodeInternal, "internal server error", nil)
			}()
			next.ServeHTTP(w, r)
		})
	}
}

// SecurityHeaders API 只返回 JSON，禁止嵌入与内容嗅探
func SecurityHeaders() Middleware {
	headers := [][2]string{
		{"X-Frame-Options", "DENY"},
		{"X-Content-Type-Options", "nosniff"},
		{"Referrer-Policy", "strict-origin-when-cross-origin"},
		{"Content-Security-Policy", "default-src 'none'"},
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			h := w.Header()
			for _, kv := range headers {
				h.Set(kv[0], kv[1])
			}
			next.ServeHTTP(w, r)
		})
	}
}

// =============================================================================
// 观测：span、指标、访问日志共用一次状态码记录
// =============================================================================

// Instrument 为每个请求开一个 server span（延续调用方传入的 trace 上下文），
// 结束后记录 Prometheus 指标并写一条访问日志。collector 可为 nil。
func Instrument(logger *zap.Logger, collector *metrics.Collector) Middleware {
	tracer := otel.Tracer("agenttree/http")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			route := routeOf(r.URL.Path)

			ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
			ctx, span := tracer.Start(ctx, r.Method+" "+route,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.HTTPRoute(route),
					semconv.URLPath(r.URL.Path),
				),
			)
			defer span.End()

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r.WithContext(ctx))
			elapsed := time.Since(start)

			span.SetAttributes(attribute.Int("http.response.status_code", rec.status))
			if rec.status >= http.StatusInternalServerError {
				span.SetStatus(codes.Error, http.StatusText(rec.status))
			}
			if collector != nil {
				collector.RecordHTTPRequest(r.Method, route, rec.status, elapsed)
			}

			fields := []zap.Field{
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", rec.status),
				zap.Duration("duration", elapsed),
				zap.String("remote_addr", r.RemoteAddr),
				zap.String("http_request_id", RequestIDFromContext(r.Context())),
			}
			if sc := span.SpanContext(); sc.IsValid() {
				fields = append(fields, zap.String("trace_id", sc.TraceID().String()))
			}
			if rec.status >= http.StatusInternalServerError {
				logger.Warn("request", fields...)
			} else {
				logger.Info("request", fields...)
			}
		})
	}
}

// statusRecorder 只记第一次写入的状态码。
// Unwrap 让 ResponseController 与 websocket 升级拿到底层连接。
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	if !rw.wroteHeader {
		rw.WriteHeader(http.StatusOK)
	}
	return rw.ResponseWriter.Write(b)
}

func (rw *statusRecorder) Unwrap() http.ResponseWriter { return rw.ResponseWriter }

// routeOf 把路径折叠成路由模板，限制指标标签基数：
//
//	/v1/requests/req-42/budget -> /v1/requests/{id}/budget
//
// 不认识的路径归为 "other"。
func routeOf(path string) string {
	switch path {
	case "/health", "/healthz", "/ready", "/readyz", "/version", "/metrics", "/v1/requests":
		return path
	}
	rest, ok := strings.CutPrefix(path, "/v1/requests/")
	if !ok {
		return "other"
	}
	id, sub, _ := strings.Cut(rest, "/")
	switch {
	case id == "":
		return "other"
	case sub == "":
		return "/v1/requests/{id}"
	case sub == "budget" || sub == "events":
		return "/v1/requests/{id}/" + sub
	}
	return "other"
}

// =============================================================================
// 按来源 IP 限流
// =============================================================================

const visitorIdle = 3 * time.Minute

type ipLimiter struct {
	rps    rate.Limit
	burst  int
	logger *zap.Logger

	mu       sync.Mutex
	visitors map[string]*visitor
}

type visitor struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

func (l *ipLimiter) allow(ip string, now time.Time) bool {
	l.mu.Lock()
	v, ok := l.visitors[ip]
	if !ok {
		v = &visitor{limiter: rate.NewLimiter(l.rps, l.burst)}
		l.visitors[ip] = v
	}
	v.lastSeen = now
	l.mu.Unlock()
	return v.limiter.AllowN(now, 1)
}

// sweep 清掉空闲的 visitor，返回清理数量
func (l *ipLimiter) sweep(now time.Time) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for ip, v := range l.visitors {
		if now.Sub(v.lastSeen) > visitorIdle {
			delete(l.visitors, ip)
			n++
		}
	}
	return n
}

func (l *ipLimiter) sweepLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := l.sweep(now); n > 0 {
				l.logger.Debug("rate limiter swept idle visitors", zap.Int("count", n))
			}
		}
	}
}

// RateLimiter 每个来源 IP 一个令牌桶；rps <= 0 时不限流。
// 清理协程随 ctx 结束。
func RateLimiter(ctx context.Context, rps float64, burst int, logger *zap.Logger) Middleware {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	l := &ipLimiter{
		rps:      rate.Limit(rps),
		burst:    max(burst, 1),
		logger:   logger,
		visitors: make(map[string]*visitor),
	}
	go l.sweepLoop(ctx)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip, _, err := net.SplitHostPort(r.RemoteAddr)
			if err != nil {
				ip = r.RemoteAddr
			}
			if !l.allow(ip, time.Now()) {
				logger.Debug("rate limited", zap.String("ip", ip), zap.String("path", r.URL.Path))
				w.Header().Set("Retry-After", "1")
				handlers.WriteErrorMessage(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many requests", nil)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
