package zalopay

// PaymentMethod 网关支持的支付方式，值即请求中的 bank_code
type PaymentMethod string

const (
	MethodApp        PaymentMethod = "zalopayapp"
	MethodATM        PaymentMethod = "ATM"
	MethodCreditCard PaymentMethod = "CC"
	MethodQR         PaymentMethod = "QR"

	DefaultMethod = MethodApp
)

// MethodInfo 支付方式展示信息
type MethodInfo struct {
	ID          PaymentMethod `json:"id"`
	Name        string        `json:"name"`
	Description string        `json:"description"`
	IconURL     string        `json:"icon_url"`
}

var methods = []MethodInfo{
	{
		ID:          MethodApp,
		Name:        "ZaloPay App",
		Description: "Pay directly with ZaloPay app",
		IconURL:     "https://zalopay.vn/assets/images/logo.svg",
	},
	{
		ID:          MethodATM,
		Name:        "ATM Card",
		Description: "Pay with ATM card (domestic bank cards)",
		IconURL:     "https://zalopay.vn/assets/images/atm-icon.svg",
	},
	{
		ID:          MethodCreditCard,
		Name:        "Credit Card",
		Description: "Pay with Visa, Mastercard, JCB",
		IconURL:     "https://zalopay.vn/assets/images/cc-icon.svg",
	},
	{
		ID:          MethodQR,
		Name:        "QR Code",
		Description: "Scan QR code to pay",
		IconURL:     "https://zalopay.vn/assets/images/qr-icon.svg",
	},
}

// PaymentMethods 返回四种支付方式
func PaymentMethods() []MethodInfo {
	out := make([]MethodInfo, len(methods))
	copy(out, methods)
	return out
}

// NormalizeMethod 未知的支付方式降级为默认值，第二个返回值表示是否发生了降级
func NormalizeMethod(m string) (PaymentMethod, bool) {
	for _, info := range methods {
		if string(info.ID) == m {
			return info.ID, false
		}
	}
	return DefaultMethod, true
}
