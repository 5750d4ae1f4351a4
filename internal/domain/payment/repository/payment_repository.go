package repository

import (
	"context"
	"food_store_payment/internal/domain/payment/model"
	"time"

	"gorm.io/gorm"
)

// PaymentRepository 订单/支付记录存储
// 状态流转一律为条件更新 (WHERE status = 'pending')，返回值表示本次是否生效
type PaymentRepository interface {
	ListProductsByIDs(ctx context.Context, ids []int64) ([]model.Product, error)
	CreateOrder(ctx context.Context, order *model.Order) error
	GetOrder(ctx context.Context, id int64) (*model.Order, error)
	GetPaymentByOrderID(ctx context.Context, orderID int64) (*model.Payment, error)
	GetPaymentByAppTransID(ctx context.Context, appTransID string) (*model.Payment, error)
	CreatePayment(ctx context.Context, payment *model.Payment) error
	TransitionOrder(ctx context.Context, id int64, to model.OrderStatus) (bool, error)
	TransitionPayment(ctx context.Context, id int64, to model.PaymentStatus, zpTransID *string) (bool, error)
	SetPaymentZPTransID(ctx context.Context, id int64, zpTransID string) error
	FlagOrderForReview(ctx context.Context, id int64, reason string) error
	ListStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]model.Payment, error)
	// Transaction 在同一个数据库事务中执行 fn，fn 返回错误时整体回滚
	Transaction(ctx context.Context, fn func(repo PaymentRepository) error) error
}

type paymentRepository struct {
	db *gorm.DB
}

func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) ListProductsByIDs(ctx context.Context, ids []int64) ([]model.Product, error) {
	var products []model.Product
	if len(ids) == 0 {
		return products, nil
	}
	if err := r.db.WithContext(ctx).Where("id IN ?", ids).Find(&products).Error; err != nil {
		return nil, err
	}
	return products, nil
}

// CreateOrder 订单与明细在同一事务中写入
func (r *paymentRepository) CreateOrder(ctx context.Context, order *model.Order) error {
	return r.db.WithContext(ctx).Create(order).Error
}

func (r *paymentRepository) GetOrder(ctx context.Context, id int64) (*model.Order, error) {
	var order model.Order
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&order).Error; err != nil {
		return nil, err
	}
	return &order, nil
}

func (r *paymentRepository) GetPaymentByOrderID(ctx context.Context, orderID int64) (*model.Payment, error) {
	var payment model.Payment
	if err := r.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id DESC").First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) GetPaymentByAppTransID(ctx context.Context, appTransID string) (*model.Payment, error) {
	var payment model.Payment
	if err := r.db.WithContext(ctx).Where("app_trans_id = ?", appTransID).First(&payment).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) CreatePayment(ctx context.Context, payment *model.Payment) error {
	return r.db.WithContext(ctx).Create(payment).Error
}

// TransitionOrder pending -> to，订单已不是 pending 时返回 false
func (r *paymentRepository) TransitionOrder(ctx context.Context, id int64, to model.OrderStatus) (bool, error) {
	result := r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ? AND status = ?", id, model.OrderStatusPending).
		Update("status", to)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// TransitionPayment pending -> to，zpTransID 非空时一并写入
func (r *paymentRepository) TransitionPayment(ctx context.Context, id int64, to model.PaymentStatus, zpTransID *string) (bool, error) {
	updates := map[string]interface{}{
		"status": to,
	}
	if zpTransID != nil && *zpTransID != "" {
		updates["zp_trans_id"] = *zpTransID
	}
	result := r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ? AND status = ?", id, model.PaymentStatusPending).
		Updates(updates)
	if result.Error != nil {
		return false, result.Error
	}
	return result.RowsAffected == 1, nil
}

// SetPaymentZPTransID 只修正网关交易号，不改状态
func (r *paymentRepository) SetPaymentZPTransID(ctx context.Context, id int64, zpTransID string) error {
	return r.db.WithContext(ctx).Model(&model.Payment{}).
		Where("id = ?", id).
		Update("zp_trans_id", zpTransID).Error
}

func (r *paymentRepository) FlagOrderForReview(ctx context.Context, id int64, reason string) error {
	return r.db.WithContext(ctx).Model(&model.Order{}).
		Where("id = ?", id).
		Update("review_reason", reason).Error
}

// ListStalePendingPayments 按创建时间升序返回早于 olderThan 仍为 pending 的支付
func (r *paymentRepository) ListStalePendingPayments(ctx context.Context, olderThan time.Time, limit int) ([]model.Payment, error) {
	var payments []model.Payment
	err := r.db.WithContext(ctx).
		Where("status = ? AND created_at < ? AND app_trans_id <> ''", model.PaymentStatusPending, olderThan).
		Order("created_at ASC").
		Limit(limit).
		Find(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *paymentRepository) Transaction(ctx context.Context, fn func(repo PaymentRepository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&paymentRepository{db: tx})
	})
}
