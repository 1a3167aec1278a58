package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BaSui01/agenttree/types"
	"go.uber.org/zap"
)

// =============================================================================
// 📦 通用响应结构
// =============================================================================

// Response 统一 API 响应结构
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Timestamp time.Time  `json:"timestamp"`
}

// ErrorInfo 错误信息结构
type ErrorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// API 层自身的错误码，与 types 中的编排错误码并列
const (
	CodeInvalidRequest = "INVALID_REQUEST"
	CodeNotFound       = "NOT_FOUND"
	CodeConflict       = "CONFLICT"
	CodeInternal       = "INTERNAL_ERROR"
)

// maxBodyBytes 请求体上限
const maxBodyBytes = 1 << 20

// =============================================================================
// 🎯 响应辅助函数
// =============================================================================

// WriteJSON 写入 JSON 响应
func WriteJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(status)
	// 头已写出，编码失败无法再改状态码
	_ = json.NewEncoder(w).Encode(data)
}

// WriteSuccess 写入 200 成功响应
func WriteSuccess(w http.ResponseWriter, data any) {
	WriteData(w, http.StatusOK, data)
}

// WriteData 写入指定状态码的成功响应
func WriteData(w http.ResponseWriter, status int, data any) {
	WriteJSON(w, status, Response{Success: true, Data: data, Timestamp: time.Now()})
}

// WriteErrorMessage 写入 API 层错误
func WriteErrorMessage(w http.ResponseWriter, status int, code, message string, logger *zap.Logger) {
	if logger != nil && status >= http.StatusInternalServerError {
		logger.Error("API error", zap.String("code", code), zap.String("message", message), zap.Int("status", status))
	}
	WriteJSON(w, status, Response{
		Error:     &ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now(),
	})
}

// WriteError 写入编排错误，状态码由错误码决定
func WriteError(w http.ResponseWriter, err error, logger *zap.Logger) {
	code := types.GetErrorCode(err)
	status := statusForCode(code)
	info := &ErrorInfo{Code: string(code), Message: err.Error(), Retryable: types.IsRetryable(err)}
	if code == "" {
		info.Code = CodeInternal
	}

	if logger != nil {
		logger.Warn("API error",
			zap.String("code", info.Code),
			zap.Int("status", status),
			zap.Error(err),
		)
	}
	WriteJSON(w, status, Response{Error: info, Timestamp: time.Now()})
}

// =============================================================================
// 🔄 错误码到 HTTP 状态码映射
// =============================================================================

func statusForCode(code types.ErrorCode) int {
	switch code {
	case types.ErrInvalidSpawn, types.ErrDepthLimitReached:
		return http.StatusBadRequest
	case types.ErrBudgetExceeded, types.ErrBudgetPaused:
		return http.StatusConflict
	case types.ErrCycleDetected:
		return http.StatusUnprocessableEntity
	case types.ErrTimeout:
		return http.StatusGatewayTimeout
	case types.ErrCircuitOpen:
		return http.StatusServiceUnavailable
	case types.ErrCapability, types.ErrToolFailed:
		return http.StatusBadGateway
	case types.ErrCancelled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// =============================================================================
// 🛡️ 请求验证辅助函数
// =============================================================================

// DecodeJSONBody 解码 JSON 请求体（1 MB 上限，拒绝未知字段）。
// 失败时已写出 400 响应。
func DecodeJSONBody(w http.ResponseWriter, r *http.Request, dst any, logger *zap.Logger) error {
	if r.Body == nil || r.Body == http.NoBody {
		err := errors.New("request body is empty")
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, err.Error(), logger)
		return err
	}

	decoder := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(dst); err != nil {
		msg := "invalid JSON body"
		if errors.Is(err, io.EOF) {
			msg = "request body is empty"
		}
		WriteErrorMessage(w, http.StatusBadRequest, CodeInvalidRequest, fmt.Sprintf("%s: %v", msg, err), logger)
		return err
	}
	return nil
}
