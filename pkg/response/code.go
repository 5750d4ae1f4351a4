package response

// 业务状态码
const (
	CodeSuccess = 0
	CodeError   = 1

	// 订单/支付模块错误 300xx
	ErrOrderNotFound         = 30001
	ErrProductNotFound       = 30002
	ErrPaymentNotFound       = 30003
	ErrGatewayRejected       = 30004
	ErrGatewayUnavailable    = 30005
	ErrPendingReconciliation = 30006
	ErrStateConflict         = 30007

	// 系统错误 500xx
	ErrServerInternal  = 50001
	ErrInvalidParam    = 50002
	ErrTooManyRequests = 50003
)
