package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Product 商品（本服务只读，用于下单时取实时价格）
type Product struct {
	ID        int64           `gorm:"column:id;primaryKey" json:"id"`
	Name      string          `json:"name"`
	Price     decimal.Decimal `gorm:"type:numeric(12,2)" json:"price"`
	CreatedAt time.Time       `json:"createdAt"`
}
