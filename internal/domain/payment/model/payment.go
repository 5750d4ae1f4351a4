package model

import (
	baseModel "food_store_payment/pkg/model"

	"github.com/shopspring/decimal"
)

// PaymentStatus 支付状态
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
)

// IsTerminal 终态之后不再流转
func (s PaymentStatus) IsTerminal() bool {
	return s == PaymentStatusCompleted || s == PaymentStatusFailed
}

// Payment 支付记录
// Amount 创建后不可变；ZPTransID 由网关异步回填
type Payment struct {
	baseModel.BaseModel
	OrderID    int64           `gorm:"index;not null" json:"orderId"`
	Amount     decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"amount"`
	Method     string          `gorm:"type:varchar(50)" json:"method"`
	Status     PaymentStatus   `gorm:"type:varchar(20);default:'pending'" json:"status"`
	AppTransID string          `gorm:"type:varchar(40);uniqueIndex" json:"appTransId"`
	ZPTransID  *string         `gorm:"column:zp_trans_id;type:varchar(50)" json:"zpTransId,omitempty"`
}
