package model

import (
	baseModel "food_store_payment/pkg/model"

	"github.com/shopspring/decimal"
)

// OrderStatus 订单状态
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusCompleted OrderStatus = "completed"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusFailed    OrderStatus = "failed"
)

// IsTerminal 终态之后不再流转
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusCompleted || s == OrderStatusCancelled || s == OrderStatusFailed
}

// Order 订单模型
// TotalAmount 由下单时的商品实时价格计算，从不接受客户端传入
type Order struct {
	baseModel.BaseModel
	UserID        int64           `gorm:"index;not null" json:"userId"`
	TotalAmount   decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"totalAmount"`
	Status        OrderStatus     `gorm:"type:varchar(20);default:'pending'" json:"status"`
	PaymentMethod string          `gorm:"type:varchar(50)" json:"paymentMethod"`
	ReviewReason  string          `gorm:"type:varchar(255)" json:"reviewReason,omitempty"` // 非空表示需要人工核对
	Items         []OrderItem     `gorm:"foreignKey:OrderID" json:"items"`
}

// OrderItem 订单明细，UnitPrice 为下单瞬间的商品价格快照
type OrderItem struct {
	ID        int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID   int64           `gorm:"index;not null" json:"orderId"`
	ProductID int64           `gorm:"not null" json:"productId"`
	Quantity  int             `gorm:"not null" json:"quantity"`
	UnitPrice decimal.Decimal `gorm:"type:numeric(12,2);not null" json:"unitPrice"`
}

// Subtotal 单行小计
func (i OrderItem) Subtotal() decimal.Decimal {
	return i.UnitPrice.Mul(decimal.NewFromInt(int64(i.Quantity)))
}
