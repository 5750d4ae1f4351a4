package zalopay

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const (
	testKey1 = "trMrHtvjo6myautxDUiAcYsVtaeQ8nhf"
	testKey2 = "kLtgPl8HHhfvMuDHPwKfgfsY4Ydm9eIz"
)

func TestSign(t *testing.T) {
	codec := NewCodec(testKey1, testKey2)
	fields := []string{"2553", "240101_123456", "user_1", "10000000", "1700000000000", `{"order_id":1}`, "[]"}

	t.Run("Known vector", func(t *testing.T) {
		assert.Equal(t, "116e47ba13a71d2b835d7b467d276c78c7b65d680c497ab1f3f1d404816b43a7", codec.Sign(fields...))
	})

	t.Run("Deterministic", func(t *testing.T) {
		assert.Equal(t, codec.Sign(fields...), codec.Sign(fields...))
	})

	t.Run("Any field change changes digest", func(t *testing.T) {
		base := codec.Sign(fields...)
		for i := range fields {
			mutated := append([]string(nil), fields...)
			mutated[i] = mutated[i] + "x"
			assert.NotEqual(t, base, codec.Sign(mutated...), "field %d", i)
		}
	})

	t.Run("Delimiter is part of the message", func(t *testing.T) {
		assert.NotEqual(t, codec.Sign("ab", "c"), codec.Sign("a", "bc"))
	})
}

func TestVerify(t *testing.T) {
	codec := NewCodec(testKey1, testKey2)
	data := `{"app_trans_id":"240101_123456"}`
	mac := "e601940222e58d96cfce4c483d2365b5612bde92469b8079dc85ff35b06540ec"

	t.Run("Valid mac", func(t *testing.T) {
		assert.True(t, codec.Verify(data, mac))
	})

	t.Run("Mac computed with the outbound key is rejected", func(t *testing.T) {
		outbound := hexHMAC([]byte(testKey1), data)
		assert.False(t, codec.Verify(data, outbound))
	})

	t.Run("Single byte mutation of data", func(t *testing.T) {
		for i := range data {
			b := []byte(data)
			b[i] ^= 0x01
			assert.False(t, codec.Verify(string(b), mac), "byte %d", i)
		}
	})

	t.Run("Single byte mutation of mac", func(t *testing.T) {
		for i := range mac {
			b := []byte(mac)
			b[i] ^= 0x01
			assert.False(t, codec.Verify(data, string(b)), "byte %d", i)
		}
	})

	t.Run("Uppercase mac is not accepted", func(t *testing.T) {
		upper := []byte(mac)
		for i, c := range upper {
			if c >= 'a' && c <= 'f' {
				upper[i] = c - 32
			}
		}
		assert.False(t, codec.Verify(data, string(upper)))
	})
}

func TestSignCallback_RoundTrip(t *testing.T) {
	codec := NewCodec(testKey1, testKey2)
	data := `{"app_trans_id":"240101_123456"}`
	mac := codec.SignCallback(data)

	assert.Equal(t, "e601940222e58d96cfce4c483d2365b5612bde92469b8079dc85ff35b06540ec", mac)
	assert.True(t, codec.VerifyCallback(CallbackRequest{Data: data, Mac: mac}))
}

func TestVerifyCallback_FailClosed(t *testing.T) {
	codec := NewCodec(testKey1, testKey2)

	assert.False(t, codec.VerifyCallback(CallbackRequest{}))
	assert.False(t, codec.VerifyCallback(CallbackRequest{Data: "x"}))
	assert.False(t, codec.VerifyCallback(CallbackRequest{Mac: "y"}))
}
