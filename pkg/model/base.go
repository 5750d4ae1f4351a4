package model

import (
	"time"
)

// BaseModel 基础模型，替代 gorm.Model
// 支付相关记录只做状态流转，不做软删除，因此没有 DeletedAt
type BaseModel struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
