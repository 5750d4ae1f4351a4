package zalopay

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/shopspring/decimal"
)

// FlexString 兼容网关有时返回数字、有时返回字符串的字段 (zp_trans_id, order_id)
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", b)
	}
	*f = FlexString(n.String())
	return nil
}

// Item 下单请求中的商品明细
type Item struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// CreateOrderRequest 下单参数
type CreateOrderRequest struct {
	OrderID       int64
	UserID        int64
	Amount        decimal.Decimal
	Items         []Item
	PaymentMethod string
	// AppTransID 为空时由客户端生成；重试时调用方应传入首次生成的值
	AppTransID string
}

// CreateOrderResult 下单结果
type CreateOrderResult struct {
	RedirectURL    string        `json:"order_url"`
	GatewayTransID string        `json:"zp_trans_id,omitempty"`
	AppTransID     string        `json:"app_trans_id"`
	PaymentMethod  PaymentMethod `json:"payment_method"`
	ReturnMessage  string        `json:"return_message"`
}

type createOrderResponse struct {
	ReturnCode       int        `json:"return_code"`
	ReturnMessage    string     `json:"return_message"`
	SubReturnCode    int        `json:"sub_return_code"`
	SubReturnMessage string     `json:"sub_return_message"`
	OrderURL         string     `json:"order_url"`
	ZPTransToken     string     `json:"zp_trans_token"`
	ZPTransID        FlexString `json:"zp_trans_id"`
	AppTransID       string     `json:"app_trans_id"`
}

// QueryStatusResult 查询订单状态的网关原始结果
type QueryStatusResult struct {
	ReturnCode       int        `json:"return_code"`
	ReturnMessage    string     `json:"return_message"`
	SubReturnCode    int        `json:"sub_return_code"`
	SubReturnMessage string     `json:"sub_return_message"`
	IsProcessing     bool       `json:"is_processing"`
	Amount           int64      `json:"amount,omitempty"`
	ZPTransID        FlexString `json:"zp_trans_id,omitempty"`
}

// Paid 网关确认已支付
func (r *QueryStatusResult) Paid() bool {
	return r.ReturnCode == 1 && !r.IsProcessing
}

// CallbackRequest 网关回调请求体
type CallbackRequest struct {
	Data string `json:"data"`
	Mac  string `json:"mac"`
	Type int    `json:"type"`
}

// CallbackData 回调 data 字段解码后的内容
type CallbackData struct {
	AppID      int        `json:"app_id"`
	AppTransID string     `json:"app_trans_id"`
	AppTime    int64      `json:"app_time"`
	AppUser    string     `json:"app_user"`
	Amount     int64      `json:"amount"`
	EmbedData  string     `json:"embed_data"`
	Item       string     `json:"item"`
	ZPTransID  FlexString `json:"zp_trans_id"`
	ServerTime int64      `json:"server_time"`
	Channel    int        `json:"channel"`
}

type embedData struct {
	OrderID FlexString `json:"order_id"`
}

// ParseCallbackData 解码回调 data 字符串
func ParseCallbackData(data string) (*CallbackData, error) {
	var cd CallbackData
	if err := json.Unmarshal([]byte(data), &cd); err != nil {
		return nil, fmt.Errorf("decode callback data: %w", err)
	}
	return &cd, nil
}

// OrderID 从 embed_data 中取出本地订单号
func (d *CallbackData) OrderID() (int64, error) {
	if d.EmbedData == "" {
		return 0, fmt.Errorf("embed_data is empty")
	}
	var ed embedData
	if err := json.Unmarshal([]byte(d.EmbedData), &ed); err != nil {
		return 0, fmt.Errorf("decode embed_data: %w", err)
	}
	if ed.OrderID == "" {
		return 0, fmt.Errorf("embed_data has no order_id")
	}
	id, err := strconv.ParseInt(string(ed.OrderID), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid order_id %q: %w", ed.OrderID, err)
	}
	return id, nil
}

// CallbackOutcome 回调应答，HTTP 状态码始终为 200
// 1 成功；0 请网关重试；-1 验签失败
type CallbackOutcome struct {
	ReturnCode    int    `json:"return_code"`
	ReturnMessage string `json:"return_message"`
}
