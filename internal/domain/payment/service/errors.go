package service

import (
	"errors"
	"fmt"
)

// ErrAuthentication 回调签名校验失败
var ErrAuthentication = errors.New("callback authentication failed")

// NotFoundError 商品/订单/支付不存在
type NotFoundError struct {
	Entity string
	ID     interface{}
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %v not found", e.Entity, e.ID)
}

// StateConflictError 记录已处于另一个终态，本次结果不会被应用
type StateConflictError struct {
	Entity string
	ID     int64
	From   string
	To     string
}

func (e *StateConflictError) Error() string {
	return fmt.Sprintf("%s %d is already %s, refusing transition to %s", e.Entity, e.ID, e.From, e.To)
}

// PendingReconciliationError 网关结果未知，订单保持 pending，等待回调或轮询确认
type PendingReconciliationError struct {
	OrderID    int64
	AppTransID string
	Err        error
}

func (e *PendingReconciliationError) Error() string {
	return fmt.Sprintf("order %d (app_trans_id %s) awaiting reconciliation: %v", e.OrderID, e.AppTransID, e.Err)
}

func (e *PendingReconciliationError) Unwrap() error {
	return e.Err
}
