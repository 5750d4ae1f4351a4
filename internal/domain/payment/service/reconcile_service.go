package service

import (
	"context"
	"errors"
	"fmt"
	"food_store_payment/internal/domain/payment/model"
	"food_store_payment/internal/domain/payment/repository"
	"food_store_payment/internal/domain/payment/zalopay"
	"food_store_payment/internal/pkg/config"
	"food_store_payment/internal/pkg/events"
	"food_store_payment/pkg/cache"
	"food_store_payment/pkg/metrics"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	sourceInitiate = "initiate"
	sourceCallback = "callback"
	sourcePoll     = "poll"

	// 网关查询 return_code=2 表示交易失败
	queryReturnCodeFailed = 2

	maxReviewReasonLen = 255

	// 生成 app_trans_id 时遇到已存在的值最多重新生成的次数
	maxAppTransIDAttempts = 5

	// 网关已受理后写本地记录的时限，不受调用方取消影响
	persistTimeout = 5 * time.Second
)

// Gateway 支付网关
type Gateway interface {
	CreateOrder(ctx context.Context, req zalopay.CreateOrderRequest) (*zalopay.CreateOrderResult, error)
	QueryOrderStatus(ctx context.Context, appTransID string) (*zalopay.QueryStatusResult, error)
}

// CallbackVerifier 校验回调签名
type CallbackVerifier interface {
	VerifyCallback(req zalopay.CallbackRequest) bool
}

// ReconcileService 订单/支付对账服务
type ReconcileService interface {
	Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error)
	HandleCallback(ctx context.Context, req zalopay.CallbackRequest) zalopay.CallbackOutcome
	PollStatus(ctx context.Context, appTransID string) (*zalopay.QueryStatusResult, error)
	PaymentMethods() []zalopay.MethodInfo
	StalePendingAppTransIDs(ctx context.Context) ([]string, error)
}

// CartItem 购物车条目，客户端传入的价格不参与计算
type CartItem struct {
	ProductID int64   `json:"product_id"`
	Quantity  int     `json:"quantity"`
	Price     float64 `json:"price,omitempty"`
}

// InitiateRequest 发起支付
type InitiateRequest struct {
	UserID        int64      `json:"user_id"`
	Items         []CartItem `json:"items"`
	PaymentMethod string     `json:"payment_method"`
}

// InitiateResult 发起支付结果
type InitiateResult struct {
	OrderID       int64                 `json:"order_id"`
	OrderURL      string                `json:"order_url"`
	ZPTransID     string                `json:"zp_trans_id,omitempty"`
	AppTransID    string                `json:"app_trans_id"`
	PaymentMethod zalopay.PaymentMethod `json:"payment_method"`
}

type reconcileService struct {
	repo      repository.PaymentRepository
	gateway   Gateway
	verifier  CallbackVerifier
	cache     cache.CacheService
	publisher events.Publisher
	metrics   *metrics.MetricsCollector
	log       *zap.Logger
	cfg       config.ReconcileConfig
	now       func() time.Time
	newID     func(now time.Time) string
}

// Option 服务可选项
type Option func(*reconcileService)

// WithStatusCache 网关状态查询结果缓存
func WithStatusCache(c cache.CacheService) Option {
	return func(s *reconcileService) { s.cache = c }
}

// WithPublisher 支付结果事件
func WithPublisher(p events.Publisher) Option {
	return func(s *reconcileService) { s.publisher = p }
}

func WithMetrics(m *metrics.MetricsCollector) Option {
	return func(s *reconcileService) { s.metrics = m }
}

func WithClock(now func() time.Time) Option {
	return func(s *reconcileService) { s.now = now }
}

// WithAppTransIDGenerator 替换 app_trans_id 生成函数
func WithAppTransIDGenerator(gen func(now time.Time) string) Option {
	return func(s *reconcileService) { s.newID = gen }
}

func NewReconcileService(repo repository.PaymentRepository, gateway Gateway, verifier CallbackVerifier, log *zap.Logger, cfg config.ReconcileConfig, opts ...Option) ReconcileService {
	s := &reconcileService{
		repo:      repo,
		gateway:   gateway,
		verifier:  verifier,
		publisher: events.NopPublisher{},
		log:       log,
		cfg:       cfg,
		now:       time.Now,
		newID:     zalopay.NewAppTransID,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.metrics == nil {
		s.metrics = metrics.NewMetricsCollector(prometheus.NewRegistry())
	}
	return s
}

// Initiate 创建本地订单并在网关下单
func (s *reconcileService) Initiate(ctx context.Context, req InitiateRequest) (*InitiateResult, error) {
	if len(req.Items) == 0 {
		return nil, &zalopay.ValidationError{Field: "items", Message: "items list cannot be empty"}
	}
	ids := make([]int64, 0, len(req.Items))
	seen := make(map[int64]bool, len(req.Items))
	for _, item := range req.Items {
		if item.ProductID <= 0 {
			return nil, &zalopay.ValidationError{Field: "product_id", Message: "product_id must be positive"}
		}
		if item.Quantity <= 0 {
			return nil, &zalopay.ValidationError{Field: "quantity", Message: "quantity must be greater than 0"}
		}
		if !seen[item.ProductID] {
			seen[item.ProductID] = true
			ids = append(ids, item.ProductID)
		}
	}

	products, err := s.repo.ListProductsByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load products: %w", err)
	}
	catalog := make(map[int64]model.Product, len(products))
	for _, p := range products {
		catalog[p.ID] = p
	}

	total := decimal.Zero
	orderItems := make([]model.OrderItem, 0, len(req.Items))
	gatewayItems := make([]zalopay.Item, 0, len(req.Items))
	for _, item := range req.Items {
		product, ok := catalog[item.ProductID]
		if !ok {
			return nil, &NotFoundError{Entity: "product", ID: item.ProductID}
		}
		line := model.OrderItem{ProductID: product.ID, Quantity: item.Quantity, UnitPrice: product.Price}
		total = total.Add(line.Subtotal())
		orderItems = append(orderItems, line)
		gatewayItems = append(gatewayItems, zalopay.Item{
			ID:       strconv.FormatInt(product.ID, 10),
			Name:     product.Name,
			Price:    product.Price.InexactFloat64(),
			Quantity: item.Quantity,
		})
	}
	if !total.IsPositive() {
		return nil, &zalopay.ValidationError{Field: "amount", Message: "order total must be greater than 0"}
	}

	method, downgraded := zalopay.NormalizeMethod(req.PaymentMethod)
	if downgraded {
		s.log.Warn("Invalid payment method, using default",
			zap.String("payment_method", req.PaymentMethod),
			zap.String("default", string(method)),
		)
	}

	appTransID, err := s.allocateAppTransID(ctx)
	if err != nil {
		return nil, err
	}

	order := &model.Order{
		UserID:        req.UserID,
		TotalAmount:   total,
		Status:        model.OrderStatusPending,
		PaymentMethod: string(method),
		Items:         orderItems,
	}
	if err := s.repo.CreateOrder(ctx, order); err != nil {
		return nil, fmt.Errorf("create order: %w", err)
	}

	log := s.log.With(zap.Int64("order_id", order.ID), zap.String("app_trans_id", appTransID))

	res, err := s.createWithRetry(ctx, zalopay.CreateOrderRequest{
		OrderID:       order.ID,
		UserID:        req.UserID,
		Amount:        total,
		Items:         gatewayItems,
		PaymentMethod: string(method),
		AppTransID:    appTransID,
	})

	// 网关可能已经受理，之后的本地写入不能因客户端断开而丢失
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()

	if err != nil {
		var gwErr *zalopay.GatewayError
		if errors.As(err, &gwErr) && gwErr.Retryable() {
			// 网关侧结果未知：保留 pending 订单和支付记录，等待回调或轮询
			payment := &model.Payment{
				OrderID:    order.ID,
				Amount:     total,
				Method:     string(method),
				Status:     model.PaymentStatusPending,
				AppTransID: appTransID,
			}
			if perr := s.repo.CreatePayment(persistCtx, payment); perr != nil {
				log.Error("Failed to record pending payment", zap.Error(perr))
			}
			log.Warn("Gateway outcome unknown, order left pending", zap.String("reason", string(gwErr.Reason)), zap.Error(err))
			return nil, &PendingReconciliationError{OrderID: order.ID, AppTransID: appTransID, Err: err}
		}

		if _, terr := s.repo.TransitionOrder(persistCtx, order.ID, model.OrderStatusFailed); terr != nil {
			log.Error("Failed to mark order failed", zap.Error(terr))
		} else {
			s.metrics.RecordTransition("order", string(model.OrderStatusFailed), sourceInitiate)
		}
		log.Warn("Gateway rejected order", zap.Error(err))
		return nil, err
	}

	payment := &model.Payment{
		OrderID:    order.ID,
		Amount:     total,
		Method:     string(res.PaymentMethod),
		Status:     model.PaymentStatusPending,
		AppTransID: res.AppTransID,
	}
	if res.GatewayTransID != "" {
		zp := res.GatewayTransID
		payment.ZPTransID = &zp
	}
	if err := s.repo.CreatePayment(persistCtx, payment); err != nil {
		log.Error("Gateway order created but payment record failed", zap.Error(err))
		return nil, &PendingReconciliationError{OrderID: order.ID, AppTransID: res.AppTransID, Err: err}
	}

	log.Info("Payment initiated", zap.String("amount", total.StringFixed(2)))
	return &InitiateResult{
		OrderID:       order.ID,
		OrderURL:      res.RedirectURL,
		ZPTransID:     res.GatewayTransID,
		AppTransID:    res.AppTransID,
		PaymentMethod: res.PaymentMethod,
	}, nil
}

// allocateAppTransID 生成本地未使用过的 app_trans_id
// 检查必须在调用网关之前完成，网关对重复的交易号会直接拒绝
func (s *reconcileService) allocateAppTransID(ctx context.Context) (string, error) {
	for attempt := 1; attempt <= maxAppTransIDAttempts; attempt++ {
		id := s.newID(s.now())
		_, err := s.repo.GetPaymentByAppTransID(ctx, id)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return id, nil
		}
		if err != nil {
			return "", fmt.Errorf("check app_trans_id: %w", err)
		}
		s.log.Warn("app_trans_id already used, regenerating", zap.String("app_trans_id", id), zap.Int("attempt", attempt))
	}
	return "", fmt.Errorf("no unused app_trans_id after %d attempts", maxAppTransIDAttempts)
}

// createWithRetry 结果未知的失败用同一个 app_trans_id 重试
func (s *reconcileService) createWithRetry(ctx context.Context, req zalopay.CreateOrderRequest) (*zalopay.CreateOrderResult, error) {
	attempts := s.cfg.CreateRetries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := s.gateway.CreateOrder(ctx, req)
		if err == nil {
			return res, nil
		}
		lastErr = err

		var gwErr *zalopay.GatewayError
		if !errors.As(err, &gwErr) || !gwErr.Retryable() || attempt == attempts {
			break
		}
		s.log.Warn("Retrying gateway order creation",
			zap.String("app_trans_id", req.AppTransID),
			zap.Int("attempt", attempt),
			zap.String("reason", string(gwErr.Reason)),
		)
		if err := sleepCtx(ctx, s.cfg.RetryBackoff*time.Duration(attempt)); err != nil {
			return nil, lastErr
		}
	}
	return nil, lastErr
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// HandleCallback 处理网关回调
// 返回值直接作为应答体：1 成功，0 请网关重试，-1 验签失败
func (s *reconcileService) HandleCallback(ctx context.Context, req zalopay.CallbackRequest) zalopay.CallbackOutcome {
	if !s.verifier.VerifyCallback(req) {
		s.log.Warn("Callback MAC verification failed", zap.Int("data_len", len(req.Data)), zap.Error(ErrAuthentication))
		return s.outcome(-1, "mac not equal")
	}

	data, err := zalopay.ParseCallbackData(req.Data)
	if err != nil {
		s.log.Error("Undecodable callback data", zap.Error(err))
		return s.outcome(0, "invalid callback data")
	}
	log := s.log.With(zap.String("app_trans_id", data.AppTransID), zap.String("zp_trans_id", string(data.ZPTransID)))

	orderID, err := data.OrderID()
	if err != nil {
		log.Error("Callback without order id", zap.Error(err))
		return s.outcome(0, "invalid callback data")
	}
	log = log.With(zap.Int64("order_id", orderID))

	if _, err := s.repo.GetOrder(ctx, orderID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("Callback for unknown order")
			return s.outcome(0, "order not found")
		}
		log.Error("Failed to load order", zap.Error(err))
		return s.outcome(0, "internal error")
	}

	payment, err := s.repo.GetPaymentByAppTransID(ctx, data.AppTransID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warn("Callback for unknown payment")
			return s.outcome(0, "payment not found")
		}
		log.Error("Failed to load payment", zap.Error(err))
		return s.outcome(0, "internal error")
	}
	if payment.OrderID != orderID {
		log.Error("Callback order does not match payment", zap.Int64("payment_order_id", payment.OrderID))
		return s.outcome(0, "payment not found")
	}

	err = s.settle(ctx, payment, true, string(data.ZPTransID), sourceCallback)
	var conflict *StateConflictError
	switch {
	case errors.As(err, &conflict):
		return s.outcome(1, "state conflict flagged for manual review")
	case err != nil:
		log.Error("Failed to apply callback", zap.Error(err))
		return s.outcome(0, "internal error")
	}

	log.Info("Payment completed via callback")
	return s.outcome(1, "success")
}

func (s *reconcileService) outcome(code int, msg string) zalopay.CallbackOutcome {
	s.metrics.RecordCallback(strconv.Itoa(code))
	return zalopay.CallbackOutcome{ReturnCode: code, ReturnMessage: msg}
}

// settle 在一个事务中把订单和支付从 pending 流转到终态
// 已处于相同终态时不做任何写入；处于不同终态时返回 *StateConflictError 并标记人工核对
func (s *reconcileService) settle(ctx context.Context, payment *model.Payment, paid bool, zpTransID, source string) error {
	orderTo, paymentTo := model.OrderStatusFailed, model.PaymentStatusFailed
	if paid {
		orderTo, paymentTo = model.OrderStatusCompleted, model.PaymentStatusCompleted
	}

	var changed bool
	err := s.repo.Transaction(ctx, func(tx repository.PaymentRepository) error {
		changed = false

		applied, err := tx.TransitionOrder(ctx, payment.OrderID, orderTo)
		if err != nil {
			return fmt.Errorf("transition order: %w", err)
		}
		if applied {
			changed = true
		} else {
			current, err := tx.GetOrder(ctx, payment.OrderID)
			if err != nil {
				return fmt.Errorf("reload order: %w", err)
			}
			if current.Status != orderTo {
				return &StateConflictError{Entity: "order", ID: current.ID, From: string(current.Status), To: string(orderTo)}
			}
		}

		var zp *string
		if zpTransID != "" && (source == sourceCallback || payment.ZPTransID == nil) {
			zp = &zpTransID
		}
		applied, err = tx.TransitionPayment(ctx, payment.ID, paymentTo, zp)
		if err != nil {
			return fmt.Errorf("transition payment: %w", err)
		}
		if applied {
			changed = true
			return nil
		}

		current, err := tx.GetPaymentByAppTransID(ctx, payment.AppTransID)
		if err != nil {
			return fmt.Errorf("reload payment: %w", err)
		}
		if current.Status != paymentTo {
			return &StateConflictError{Entity: "payment", ID: current.ID, From: string(current.Status), To: string(paymentTo)}
		}
		if zp != nil && (current.ZPTransID == nil || *current.ZPTransID != *zp) {
			if err := tx.SetPaymentZPTransID(ctx, current.ID, *zp); err != nil {
				return fmt.Errorf("correct zp_trans_id: %w", err)
			}
		}
		return nil
	})

	var conflict *StateConflictError
	if errors.As(err, &conflict) {
		s.flagConflict(ctx, payment, conflict, source)
		return err
	}
	if err != nil {
		return err
	}
	if !changed {
		s.log.Info("Outcome already applied",
			zap.Int64("order_id", payment.OrderID),
			zap.String("app_trans_id", payment.AppTransID),
			zap.String("source", source),
		)
		return nil
	}

	s.metrics.RecordTransition("order", string(orderTo), source)
	s.metrics.RecordTransition("payment", string(paymentTo), source)
	s.evictStatus(ctx, payment.AppTransID)

	eventType := events.TypePaymentFailed
	if paid {
		eventType = events.TypePaymentCompleted
	}
	s.publish(ctx, eventType, payment, zpTransID, string(paymentTo), source)
	return nil
}

func (s *reconcileService) flagConflict(ctx context.Context, payment *model.Payment, conflict *StateConflictError, source string) {
	s.metrics.RecordStateConflict()
	s.log.Error("State conflict, flagged for manual review",
		zap.Int64("order_id", payment.OrderID),
		zap.String("app_trans_id", payment.AppTransID),
		zap.String("source", source),
		zap.Error(conflict),
	)

	reason := fmt.Sprintf("%s: %s", source, conflict.Error())
	if len(reason) > maxReviewReasonLen {
		reason = reason[:maxReviewReasonLen]
	}
	if err := s.repo.FlagOrderForReview(ctx, payment.OrderID, reason); err != nil {
		s.log.Error("Failed to flag order for review", zap.Int64("order_id", payment.OrderID), zap.Error(err))
	}
	s.publish(ctx, events.TypeStateConflict, payment, "", conflict.From, source)
}

func (s *reconcileService) publish(ctx context.Context, eventType string, payment *model.Payment, zpTransID, status, source string) {
	event := events.PaymentEvent{
		Type:       eventType,
		OrderID:    payment.OrderID,
		PaymentID:  payment.ID,
		AppTransID: payment.AppTransID,
		ZPTransID:  zpTransID,
		Amount:     payment.Amount.StringFixed(2),
		Status:     status,
		Source:     source,
		OccurredAt: s.now().UTC(),
	}
	if err := s.publisher.Publish(ctx, event); err != nil {
		s.log.Warn("Payment event not published", zap.String("type", eventType), zap.Error(err))
	}
}

func statusCacheKey(appTransID string) string {
	return "status:" + appTransID
}

// evictStatus 本地状态变化后丢弃缓存的网关应答
func (s *reconcileService) evictStatus(ctx context.Context, appTransID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, statusCacheKey(appTransID)); err != nil {
		s.log.Warn("Failed to evict gateway status", zap.String("app_trans_id", appTransID), zap.Error(err))
	}
}

// PollStatus 查询网关状态并据此对账
// 网关确认成功或 return_code=2 时流转本地记录；超时等未知结果不改变任何状态
func (s *reconcileService) PollStatus(ctx context.Context, appTransID string) (*zalopay.QueryStatusResult, error) {
	if appTransID == "" {
		return nil, &zalopay.ValidationError{Field: "app_trans_id", Message: "app_trans_id is required"}
	}

	if s.cache != nil {
		var cached zalopay.QueryStatusResult
		err := s.cache.Get(ctx, statusCacheKey(appTransID), &cached)
		if err == nil {
			s.metrics.RecordStatusCache(true)
			return &cached, nil
		}
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.log.Warn("Status cache unavailable", zap.Error(err))
		}
		s.metrics.RecordStatusCache(false)
	}

	res, err := s.gateway.QueryOrderStatus(ctx, appTransID)
	if err != nil {
		var gwErr *zalopay.GatewayError
		if !errors.As(err, &gwErr) || gwErr.Reason != zalopay.ReasonBusiness {
			return nil, err
		}
		res = &zalopay.QueryStatusResult{ReturnCode: gwErr.ReturnCode, ReturnMessage: gwErr.Message}
		if gwErr.ReturnCode == queryReturnCodeFailed {
			if err := s.reconcilePoll(ctx, appTransID, false, ""); err != nil {
				return nil, err
			}
		}
	} else if res.Paid() {
		if err := s.reconcilePoll(ctx, appTransID, true, string(res.ZPTransID)); err != nil {
			return nil, err
		}
	}

	if s.cache != nil && s.cfg.StatusCacheTTL > 0 {
		if err := s.cache.Set(ctx, statusCacheKey(appTransID), res, s.cfg.StatusCacheTTL); err != nil {
			s.log.Warn("Failed to cache gateway status", zap.Error(err))
		}
	}
	return res, nil
}

func (s *reconcileService) reconcilePoll(ctx context.Context, appTransID string, paid bool, zpTransID string) error {
	payment, err := s.repo.GetPaymentByAppTransID(ctx, appTransID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			s.log.Info("Polled transaction unknown locally", zap.String("app_trans_id", appTransID))
			return nil
		}
		return fmt.Errorf("load payment: %w", err)
	}

	err = s.settle(ctx, payment, paid, zpTransID, sourcePoll)
	var conflict *StateConflictError
	if errors.As(err, &conflict) {
		return nil
	}
	return err
}

// StalePendingAppTransIDs 超过 pending_after 仍未确认的交易号
func (s *reconcileService) StalePendingAppTransIDs(ctx context.Context) ([]string, error) {
	payments, err := s.repo.ListStalePendingPayments(ctx, s.now().Add(-s.cfg.PendingAfter), s.cfg.SweepBatch)
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(payments))
	for _, p := range payments {
		ids = append(ids, p.AppTransID)
	}
	return ids, nil
}

func (s *reconcileService) PaymentMethods() []zalopay.MethodInfo {
	return zalopay.PaymentMethods()
}
