package errs

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/ldi/casegen/internal/httpclient"
	"github.com/ldi/casegen/internal/wsclient"
)

const (
	msgNetwork   = "网络连接失败，请检查网络或后端服务是否启动"
	msgTimeout   = "请求超时，请稍后重试"
	msgCancelled = "操作已取消"
	msgDefault   = "操作失败，请稍后重试"
)

var statusMessages = map[int]string{
	400: "请求参数错误，请检查输入",
	401: "未授权，请重新登录",
	403: "没有权限执行此操作",
	404: "请求的资源不存在",
	409: "数据冲突，资源已存在或已被修改",
	422: "数据验证失败，请检查输入格式",
	429: "请求过于频繁，请稍后再试",
	500: "服务器内部错误，请稍后重试",
	502: "网关错误，服务暂时不可用",
	503: "服务暂时不可用，请稍后重试",
}

// codeMessages overrides the status copy for backend error codes.
var codeMessages = map[string]string{
	"name_duplicate":          "名称已存在，请使用其他名称",
	"code_duplicate":          "业务类型编码已存在",
	"test_point_not_found":    "测试点不存在或已被删除",
	"test_case_not_found":     "测试用例不存在或已被删除",
	"business_type_not_found": "业务类型不存在",
	"business_type_inactive":  "业务类型未激活，请先激活后再生成",
	"project_not_found":       "项目不存在",
	"task_not_found":          "任务不存在或已过期",
	"prompt_not_found":        "提示词不存在",
	"invalid_generation_mode": "无效的生成模式",
	"generation_in_progress":  "该业务类型正在生成中，请等待当前任务完成",
	"no_test_points":          "没有可用的测试点，请先生成测试点",
}

// ValidationError is raised before any network call when parameters are unusable.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// StatusMessage returns the user-facing copy for an HTTP status.
func StatusMessage(status int) string {
	if msg, ok := statusMessages[status]; ok {
		return msg
	}
	switch {
	case status >= 500:
		return statusMessages[500]
	case status >= 400:
		return statusMessages[400]
	}
	return msgDefault
}

// CodeMessage returns the override for a backend error code, if any.
func CodeMessage(code string) (string, bool) {
	msg, ok := codeMessages[strings.ToLower(code)]
	return msg, ok
}

// userMessager is implemented by errors that already carry display text.
type userMessager interface {
	UserMessage() string
}

// Translate turns any error into a single string fit for display.
func Translate(err error) string {
	if err == nil {
		return ""
	}

	var ve *ValidationError
	if errors.As(err, &ve) {
		return "参数错误：" + ve.Error()
	}

	var um userMessager
	if errors.As(err, &um) {
		return um.UserMessage()
	}

	if apiErr, ok := httpclient.AsAPIError(err); ok {
		if apiErr.Network {
			switch {
			case errors.Is(apiErr.Err, context.Canceled):
				return msgCancelled
			case errors.Is(apiErr.Err, context.DeadlineExceeded):
				return msgTimeout
			}
			return msgNetwork
		}
		if msg, ok := CodeMessage(apiErr.Code); ok {
			return msg
		}
		base := StatusMessage(apiErr.StatusCode)
		if apiErr.Message != "" && (apiErr.StatusCode == 400 || apiErr.StatusCode == 409 || apiErr.StatusCode == 422) {
			return base + "：" + apiErr.Message
		}
		return base
	}

	switch {
	case errors.Is(err, wsclient.ErrMaxReconnectAttempts):
		return "实时连接已断开且重连失败，请刷新后重试"
	case errors.Is(err, context.Canceled):
		return msgCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return msgTimeout
	}

	if msg := strings.TrimSpace(err.Error()); msg != "" {
		return msg
	}
	return msgDefault
}

// IsRetryable reports whether err is worth another attempt: network failures,
// status 0, 5xx, and rate limiting.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	var ve *ValidationError
	if errors.As(err, &ve) {
		return false
	}
	if apiErr, ok := httpclient.AsAPIError(err); ok {
		if apiErr.Network || apiErr.StatusCode == 0 {
			return !errors.Is(apiErr.Err, context.Canceled)
		}
		return apiErr.StatusCode >= 500 || apiErr.StatusCode == 429
	}
	return false
}

// IsTransient reports whether the failure is worth offering a retry to the user.
func IsTransient(err error) bool {
	return IsRetryable(err) || errors.Is(err, wsclient.ErrMaxReconnectAttempts)
}
