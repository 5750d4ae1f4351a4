package service

import (
	"context"
	"food_store_payment/internal/domain/payment/model"
	"food_store_payment/internal/domain/payment/repository"
	"food_store_payment/internal/domain/payment/zalopay"
	"food_store_payment/internal/pkg/events"
	baseModel "food_store_payment/pkg/model"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// memoryRepository 只实现对账用到的部分
// Transaction 全程持锁，效果等同于数据库行锁让并发事务串行提交
type memoryRepository struct {
	txMu sync.Mutex

	mu       sync.Mutex
	orders   map[int64]model.Order
	payments map[int64]model.Payment
	flagged  map[int64]string
	writes   int
}

func newMemoryRepository(order model.Order, payment model.Payment) *memoryRepository {
	return &memoryRepository{
		orders:   map[int64]model.Order{order.ID: order},
		payments: map[int64]model.Payment{payment.ID: payment},
		flagged:  map[int64]string{},
	}
}

func (r *memoryRepository) ListProductsByIDs(context.Context, []int64) ([]model.Product, error) {
	return nil, nil
}

func (r *memoryRepository) CreateOrder(context.Context, *model.Order) error { return nil }

func (r *memoryRepository) GetOrder(_ context.Context, id int64) (*model.Order, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o, ok := r.orders[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	return &o, nil
}

func (r *memoryRepository) GetPaymentByOrderID(_ context.Context, orderID int64) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.OrderID == orderID {
			return &p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepository) GetPaymentByAppTransID(_ context.Context, appTransID string) (*model.Payment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range r.payments {
		if p.AppTransID == appTransID {
			return &p, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (r *memoryRepository) CreatePayment(context.Context, *model.Payment) error { return nil }

func (r *memoryRepository) TransitionOrder(_ context.Context, id int64, to model.OrderStatus) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	o := r.orders[id]
	if o.Status != model.OrderStatusPending {
		return false, nil
	}
	o.Status = to
	o.UpdatedAt = time.Now()
	r.orders[id] = o
	r.writes++
	return true, nil
}

func (r *memoryRepository) TransitionPayment(_ context.Context, id int64, to model.PaymentStatus, zpTransID *string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.payments[id]
	if p.Status != model.PaymentStatusPending {
		return false, nil
	}
	p.Status = to
	if zpTransID != nil {
		zp := *zpTransID
		p.ZPTransID = &zp
	}
	p.UpdatedAt = time.Now()
	r.payments[id] = p
	r.writes++
	return true, nil
}

func (r *memoryRepository) SetPaymentZPTransID(_ context.Context, id int64, zpTransID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	p := r.payments[id]
	p.ZPTransID = &zpTransID
	r.payments[id] = p
	r.writes++
	return nil
}

func (r *memoryRepository) FlagOrderForReview(_ context.Context, id int64, reason string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.flagged[id] = reason
	return nil
}

func (r *memoryRepository) ListStalePendingPayments(context.Context, time.Time, int) ([]model.Payment, error) {
	return nil, nil
}

func (r *memoryRepository) Transaction(_ context.Context, fn func(repo repository.PaymentRepository) error) error {
	r.txMu.Lock()
	defer r.txMu.Unlock()
	return fn(r)
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.PaymentEvent
}

func (p *recordingPublisher) Publish(_ context.Context, e events.PaymentEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func seededMemoryRepository() *memoryRepository {
	return newMemoryRepository(
		model.Order{BaseModel: baseModel.BaseModel{ID: 11}, UserID: 7, Status: model.OrderStatusPending},
		model.Payment{
			BaseModel:  baseModel.BaseModel{ID: 3},
			OrderID:    11,
			Amount:     decimal.RequireFromString("115000.50"),
			Method:     "zalopayapp",
			Status:     model.PaymentStatusPending,
			AppTransID: "240101_123456",
		},
	)
}

// runTogether 让所有 fn 尽量同时开始
func runTogether(fns ...func()) {
	var ready, done sync.WaitGroup
	start := make(chan struct{})
	for _, fn := range fns {
		ready.Add(1)
		done.Add(1)
		go func(fn func()) {
			defer done.Done()
			ready.Done()
			<-start
			fn()
		}(fn)
	}
	ready.Wait()
	close(start)
	done.Wait()
}

func TestHandleCallback_ConcurrentDuplicates(t *testing.T) {
	for round := 0; round < 20; round++ {
		repo := seededMemoryRepository()
		pub := &recordingPublisher{}
		svc := NewReconcileService(repo, new(MockGateway), zalopay.NewCodec(testKey1, testKey2), zap.NewNop(), testConfig,
			WithPublisher(pub))

		req := signedCallback(callbackData)
		outcomes := make([]zalopay.CallbackOutcome, 2)
		runTogether(
			func() { outcomes[0] = svc.HandleCallback(context.Background(), req) },
			func() { outcomes[1] = svc.HandleCallback(context.Background(), req) },
		)

		for _, out := range outcomes {
			assert.Equal(t, 1, out.ReturnCode)
			assert.Equal(t, "success", out.ReturnMessage)
		}

		order, err := repo.GetOrder(context.Background(), 11)
		require.NoError(t, err)
		assert.Equal(t, model.OrderStatusCompleted, order.Status)

		payment, err := repo.GetPaymentByAppTransID(context.Background(), "240101_123456")
		require.NoError(t, err)
		assert.Equal(t, model.PaymentStatusCompleted, payment.Status)
		require.NotNil(t, payment.ZPTransID)
		assert.Equal(t, "230101000123", *payment.ZPTransID)

		// 一次订单写入加一次支付写入，重复回调不再写
		assert.Equal(t, 2, repo.writes)
		require.Len(t, pub.events, 1)
		assert.Equal(t, events.TypePaymentCompleted, pub.events[0].Type)
		assert.Empty(t, repo.flagged)
	}
}

func TestSettle_CallbackRacesFailedPoll(t *testing.T) {
	for round := 0; round < 20; round++ {
		repo := seededMemoryRepository()
		pub := &recordingPublisher{}
		gateway := new(MockGateway)
		gateway.On("QueryOrderStatus", mock.Anything, "240101_123456").Return(nil, &zalopay.GatewayError{
			Op: "query_status", Reason: zalopay.ReasonBusiness, ReturnCode: 2, Message: "failed",
		})
		svc := NewReconcileService(repo, gateway, zalopay.NewCodec(testKey1, testKey2), zap.NewNop(), testConfig,
			WithPublisher(pub))

		var out zalopay.CallbackOutcome
		var pollErr error
		runTogether(
			func() { out = svc.HandleCallback(context.Background(), signedCallback(callbackData)) },
			func() { _, pollErr = svc.PollStatus(context.Background(), "240101_123456") },
		)

		require.NoError(t, pollErr)
		assert.Equal(t, 1, out.ReturnCode)

		order, err := repo.GetOrder(context.Background(), 11)
		require.NoError(t, err)
		payment, err := repo.GetPaymentByAppTransID(context.Background(), "240101_123456")
		require.NoError(t, err)

		// 只有一方生效，另一方被标记人工核对
		if order.Status == model.OrderStatusCompleted {
			assert.Equal(t, model.PaymentStatusCompleted, payment.Status)
		} else {
			assert.Equal(t, model.OrderStatusFailed, order.Status)
			assert.Equal(t, model.PaymentStatusFailed, payment.Status)
		}
		assert.Equal(t, 2, repo.writes)
		assert.Len(t, repo.flagged, 1)
		require.Len(t, pub.events, 2)
	}
}
