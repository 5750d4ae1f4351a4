package zalopay

import (
	"fmt"
)

// ErrorReason 网关错误的细分原因
// 调用方通过 Reason 区分处理方式，而不是通过错误类型
type ErrorReason string

const (
	ReasonBusiness ErrorReason = "business" // 网关返回 return_code != 1
	ReasonNetwork  ErrorReason = "network"  // 连接失败、非预期的 HTTP 状态
	ReasonTimeout  ErrorReason = "timeout"  // 超时，网关侧结果未知
	ReasonFormat   ErrorReason = "format"   // 响应不是合法 JSON
)

// GatewayError 网关调用失败
type GatewayError struct {
	Op         string // create_order / query_status
	Reason     ErrorReason
	ReturnCode int    // 仅 ReasonBusiness 有意义
	Message    string // 网关的 return_message 或本地描述
	Err        error
}

func (e *GatewayError) Error() string {
	if e.Reason == ReasonBusiness {
		return fmt.Sprintf("zalopay %s rejected (return_code=%d): %s", e.Op, e.ReturnCode, e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("zalopay %s %s error: %s: %v", e.Op, e.Reason, e.Message, e.Err)
	}
	return fmt.Sprintf("zalopay %s %s error: %s", e.Op, e.Reason, e.Message)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// Retryable 网络、超时、格式错误时网关侧结果未知，可以用同一个 app_trans_id 重试
func (e *GatewayError) Retryable() bool {
	return e.Reason != ReasonBusiness
}

// ValidationError 调用方输入不满足前置条件，不重试
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "validation failed: " + e.Message
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Field, e.Message)
}
