package zalopay

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Codec 计算和校验 ZaloPay 的 HMAC-SHA256 签名
// 下单/查询使用 key1 签名，回调只用 key2 校验，两个方向的密钥互不通用
type Codec struct {
	signKey   []byte
	verifyKey []byte
}

// NewCodec 创建签名编解码器
func NewCodec(key1, key2 string) *Codec {
	return &Codec{
		signKey:   []byte(key1),
		verifyKey: []byte(key2),
	}
}

// Sign 以 | 拼接字段后用 key1 计算小写十六进制摘要
func (c *Codec) Sign(fields ...string) string {
	return hexHMAC(c.signKey, strings.Join(fields, "|"))
}

// Verify 用 key2 校验回调 data 的签名
// 任一字段为空直接返回 false；比较为常量时间
func (c *Codec) Verify(data, mac string) bool {
	if data == "" || mac == "" {
		return false
	}
	expected := hexHMAC(c.verifyKey, data)
	return hmac.Equal([]byte(expected), []byte(mac))
}

// SignCallback 用 key2 为回调 data 签名，只用于模拟网关回调
func (c *Codec) SignCallback(data string) string {
	return hexHMAC(c.verifyKey, data)
}

// VerifyCallback 校验回调请求体
func (c *Codec) VerifyCallback(req CallbackRequest) bool {
	return c.Verify(req.Data, req.Mac)
}

func hexHMAC(key []byte, message string) string {
	h := hmac.New(sha256.New, key)
	h.Write([]byte(message))
	return hex.EncodeToString(h.Sum(nil))
}
