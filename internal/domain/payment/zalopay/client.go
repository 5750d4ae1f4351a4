package zalopay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"food_store_payment/internal/pkg/config"
	"food_store_payment/pkg/metrics"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const (
	opCreateOrder = "create_order"
	opQueryStatus = "query_status"

	maxResponseBytes = 1 << 20
)

var hundred = decimal.NewFromInt(100)

// HTTPDoer 发送 HTTP 请求，*http.Client 满足该接口
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client ZaloPay 网关客户端，每次调用无状态
type Client struct {
	appID          int
	codec          *Codec
	key1           string
	createOrderURL string
	queryURL       string
	callbackURL    string
	timeout        time.Duration
	http           HTTPDoer
	log            *zap.Logger
	metrics        *metrics.MetricsCollector
	now            func() time.Time
}

// Option 客户端可选项
type Option func(*Client)

// WithHTTPClient 替换底层 HTTP 客户端
func WithHTTPClient(doer HTTPDoer) Option {
	return func(c *Client) { c.http = doer }
}

// WithMetrics 记录网关调用指标
func WithMetrics(m *metrics.MetricsCollector) Option {
	return func(c *Client) { c.metrics = m }
}

// WithClock 替换时间源
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// NewClient 创建网关客户端
// 进程内单例，由 main 负责创建并注入
func NewClient(cfg config.ZaloPayConfig, log *zap.Logger, opts ...Option) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		appID:          cfg.AppID,
		codec:          NewCodec(cfg.Key1, cfg.Key2),
		key1:           cfg.Key1,
		createOrderURL: cfg.CreateOrderURL,
		queryURL:       cfg.QueryURL,
		callbackURL:    cfg.CallbackURL,
		timeout:        timeout,
		http:           &http.Client{Timeout: timeout},
		log:            log,
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Codec 返回客户端使用的签名编解码器
func (c *Client) Codec() *Codec {
	return c.codec
}

// CreateOrder 在网关创建支付订单
//
// 金额以最小货币单位整数传输：truncate(amount × 100)。
// 小数点后第二位之后的精度会被截断而不是四舍五入，例如 100000.509 传输为 10000050。
func (c *Client) CreateOrder(ctx context.Context, req CreateOrderRequest) (*CreateOrderResult, error) {
	if !req.Amount.IsPositive() {
		return nil, &ValidationError{Field: "amount", Message: "amount must be greater than 0"}
	}
	if len(req.Items) == 0 {
		return nil, &ValidationError{Field: "items", Message: "items list cannot be empty"}
	}

	method, downgraded := NormalizeMethod(req.PaymentMethod)
	if downgraded {
		c.log.Warn("Invalid payment method, using default",
			zap.String("payment_method", req.PaymentMethod),
			zap.String("default", string(DefaultMethod)),
		)
	}

	appTransID := req.AppTransID
	if appTransID == "" {
		appTransID = NewAppTransID(c.now())
	}

	embed, err := json.Marshal(map[string]int64{"order_id": req.OrderID})
	if err != nil {
		return nil, fmt.Errorf("marshal embed_data: %w", err)
	}
	items, err := json.Marshal(req.Items)
	if err != nil {
		return nil, fmt.Errorf("marshal items: %w", err)
	}

	appID := strconv.Itoa(c.appID)
	appUser := fmt.Sprintf("user_%d", req.UserID)
	amount := strconv.FormatInt(ToMinorUnits(req.Amount), 10)
	appTime := strconv.FormatInt(c.now().UnixMilli(), 10)

	form := url.Values{}
	form.Set("app_id", appID)
	form.Set("app_trans_id", appTransID)
	form.Set("app_user", appUser)
	form.Set("app_time", appTime)
	form.Set("embed_data", string(embed))
	form.Set("item", string(items))
	form.Set("amount", amount)
	form.Set("description", fmt.Sprintf("Payment for the order #%d", req.OrderID))
	form.Set("bank_code", string(method))
	form.Set("callback_url", c.callbackURL)
	form.Set("mac", c.codec.Sign(appID, appTransID, appUser, amount, appTime, string(embed), string(items)))

	c.log.Info("Creating ZaloPay order",
		zap.Int64("order_id", req.OrderID),
		zap.Int64("user_id", req.UserID),
		zap.String("amount", amount),
		zap.String("app_trans_id", appTransID),
		zap.String("payment_method", string(method)),
	)

	var resp createOrderResponse
	if err := c.post(ctx, opCreateOrder, c.createOrderURL, form, &resp); err != nil {
		return nil, err
	}
	if resp.ReturnCode != 1 {
		gwErr := &GatewayError{Op: opCreateOrder, Reason: ReasonBusiness, ReturnCode: resp.ReturnCode, Message: resp.ReturnMessage}
		c.log.Error("ZaloPay order creation failed",
			zap.String("app_trans_id", appTransID),
			zap.Int("return_code", resp.ReturnCode),
			zap.String("return_message", resp.ReturnMessage),
			zap.Int("sub_return_code", resp.SubReturnCode),
		)
		return nil, gwErr
	}

	// 网关通常不回传 app_trans_id，以本地生成的为准
	return &CreateOrderResult{
		RedirectURL:    resp.OrderURL,
		GatewayTransID: string(resp.ZPTransID),
		AppTransID:     appTransID,
		PaymentMethod:  method,
		ReturnMessage:  resp.ReturnMessage,
	}, nil
}

// QueryOrderStatus 查询网关侧订单状态
// 签名字段为 app_id|app_trans_id|key1，key1 既是 HMAC 密钥也是被签名的值
func (c *Client) QueryOrderStatus(ctx context.Context, appTransID string) (*QueryStatusResult, error) {
	if appTransID == "" {
		return nil, &ValidationError{Field: "app_trans_id", Message: "app_trans_id is required"}
	}

	appID := strconv.Itoa(c.appID)
	form := url.Values{}
	form.Set("app_id", appID)
	form.Set("app_trans_id", appTransID)
	form.Set("mac", c.codec.Sign(appID, appTransID, c.key1))

	c.log.Info("Querying ZaloPay order status", zap.String("app_trans_id", appTransID))

	var resp QueryStatusResult
	if err := c.post(ctx, opQueryStatus, c.queryURL, form, &resp); err != nil {
		return nil, err
	}
	if resp.ReturnCode != 1 {
		c.log.Warn("ZaloPay order status query not successful",
			zap.String("app_trans_id", appTransID),
			zap.Int("return_code", resp.ReturnCode),
			zap.String("return_message", resp.ReturnMessage),
		)
		return nil, &GatewayError{Op: opQueryStatus, Reason: ReasonBusiness, ReturnCode: resp.ReturnCode, Message: resp.ReturnMessage}
	}
	return &resp, nil
}

// post 发送表单请求并解析 JSON 响应，所有失败都映射为 *GatewayError
func (c *Client) post(ctx context.Context, op, endpoint string, form url.Values, out interface{}) (err error) {
	start := time.Now()
	defer func() {
		result := "ok"
		var gwErr *GatewayError
		if errors.As(err, &gwErr) {
			result = string(gwErr.Reason)
		}
		if c.metrics != nil {
			c.metrics.RecordGatewayCall(op, result, time.Since(start))
		}
		c.log.Info("ZaloPay call finished",
			zap.String("op", op),
			zap.String("result", result),
			zap.Duration("cost", time.Since(start)),
		)
	}()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return &GatewayError{Op: op, Reason: ReasonNetwork, Message: "build request", Err: err}
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.http.Do(req)
	if err != nil {
		return classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return classifyTransportError(op, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &GatewayError{Op: op, Reason: ReasonNetwork, Message: fmt.Sprintf("unexpected http status %d", resp.StatusCode)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		c.log.Error("Invalid JSON response from ZaloPay", zap.String("op", op), zap.Error(err))
		return &GatewayError{Op: op, Reason: ReasonFormat, Message: "invalid response format", Err: err}
	}
	return nil
}

func classifyTransportError(op string, err error) *GatewayError {
	if errors.Is(err, context.DeadlineExceeded) {
		return &GatewayError{Op: op, Reason: ReasonTimeout, Message: "request timed out", Err: err}
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &GatewayError{Op: op, Reason: ReasonTimeout, Message: "request timed out", Err: err}
	}
	return &GatewayError{Op: op, Reason: ReasonNetwork, Message: "network error", Err: err}
}

// ToMinorUnits 将金额转换为最小货币单位整数，超出两位小数的部分直接截断
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Mul(hundred).Truncate(0).IntPart()
}
