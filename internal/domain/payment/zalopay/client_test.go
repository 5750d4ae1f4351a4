package zalopay

import (
	"context"
	"errors"
	"food_store_payment/internal/pkg/config"
	"net/http"
	"net/http/httptest"
	"regexp"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestClient(t *testing.T, handler http.HandlerFunc, opts ...Option) (*Client, *int32) {
	t.Helper()
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(srv.Close)

	cfg := config.ZaloPayConfig{
		AppID:          2553,
		Key1:           testKey1,
		Key2:           testKey2,
		CreateOrderURL: srv.URL + "/v2/create",
		QueryURL:       srv.URL + "/v2/query",
		CallbackURL:    "https://shop.example/api/payments/zalopay/callback",
		Timeout:        2 * time.Second,
	}
	return NewClient(cfg, zap.NewNop(), opts...), &calls
}

func sampleRequest() CreateOrderRequest {
	return CreateOrderRequest{
		OrderID:       42,
		UserID:        7,
		Amount:        decimal.RequireFromString("100000.50"),
		Items:         []Item{{ID: "1", Name: "Pho", Price: 100000.50, Quantity: 1}},
		PaymentMethod: "zalopayapp",
	}
}

func TestToMinorUnits(t *testing.T) {
	assert.Equal(t, int64(10000050), ToMinorUnits(decimal.RequireFromString("100000.50")))
	assert.Equal(t, int64(10000050), ToMinorUnits(decimal.RequireFromString("100000.509")))
	assert.Equal(t, int64(100), ToMinorUnits(decimal.NewFromInt(1)))
}

func TestClient_CreateOrder(t *testing.T) {
	t.Run("Success", func(t *testing.T) {
		var form map[string]string
		client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			require.NoError(t, r.ParseForm())
			assert.Equal(t, "application/x-www-form-urlencoded", r.Header.Get("Content-Type"))
			form = map[string]string{}
			for k := range r.PostForm {
				form[k] = r.PostForm.Get(k)
			}
			w.Write([]byte(`{"return_code":1,"return_message":"success","order_url":"https://pay/1","zp_trans_id":"ZP1"}`))
		})

		res, err := client.CreateOrder(context.Background(), sampleRequest())
		require.NoError(t, err)
		assert.Equal(t, int32(1), atomic.LoadInt32(calls))
		assert.Equal(t, "https://pay/1", res.RedirectURL)
		assert.Equal(t, "ZP1", res.GatewayTransID)
		assert.Equal(t, MethodApp, res.PaymentMethod)
		assert.Regexp(t, regexp.MustCompile(`^\d{6}_\d{6}$`), res.AppTransID)

		assert.Equal(t, "2553", form["app_id"])
		assert.Equal(t, res.AppTransID, form["app_trans_id"])
		assert.Equal(t, "user_7", form["app_user"])
		assert.Equal(t, "10000050", form["amount"])
		assert.Equal(t, `{"order_id":42}`, form["embed_data"])
		assert.Equal(t, "zalopayapp", form["bank_code"])
		assert.Equal(t, "https://shop.example/api/payments/zalopay/callback", form["callback_url"])

		expected := client.Codec().Sign(form["app_id"], form["app_trans_id"], form["app_user"],
			form["amount"], form["app_time"], form["embed_data"], form["item"])
		assert.Equal(t, expected, form["mac"])
	})

	t.Run("Supplied app_trans_id is reused", func(t *testing.T) {
		var got string
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			got = r.PostForm.Get("app_trans_id")
			w.Write([]byte(`{"return_code":1,"order_url":"https://pay/1"}`))
		})

		req := sampleRequest()
		req.AppTransID = "240101_000001"
		res, err := client.CreateOrder(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "240101_000001", got)
		assert.Equal(t, "240101_000001", res.AppTransID)
	})

	t.Run("Numeric zp_trans_id", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"return_code":1,"order_url":"https://pay/1","zp_trans_id":230101000123}`))
		})

		res, err := client.CreateOrder(context.Background(), sampleRequest())
		require.NoError(t, err)
		assert.Equal(t, "230101000123", res.GatewayTransID)
	})

	t.Run("Unknown method falls back to default", func(t *testing.T) {
		var bank string
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			bank = r.PostForm.Get("bank_code")
			w.Write([]byte(`{"return_code":1,"order_url":"https://pay/1"}`))
		})

		req := sampleRequest()
		req.PaymentMethod = "bitcoin"
		res, err := client.CreateOrder(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, "zalopayapp", bank)
		assert.Equal(t, MethodApp, res.PaymentMethod)
	})

	t.Run("Zero amount makes no request", func(t *testing.T) {
		client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"return_code":1}`))
		})

		req := sampleRequest()
		req.Amount = decimal.Zero
		_, err := client.CreateOrder(context.Background(), req)

		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "amount", vErr.Field)
		assert.Equal(t, int32(0), atomic.LoadInt32(calls))
	})

	t.Run("Empty items makes no request", func(t *testing.T) {
		client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"return_code":1}`))
		})

		req := sampleRequest()
		req.Items = nil
		_, err := client.CreateOrder(context.Background(), req)

		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, "items", vErr.Field)
		assert.Equal(t, int32(0), atomic.LoadInt32(calls))
	})

	t.Run("Business rejection", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"return_code":2,"return_message":"invalid mac","sub_return_code":-401}`))
		})

		_, err := client.CreateOrder(context.Background(), sampleRequest())

		var gwErr *GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.Equal(t, ReasonBusiness, gwErr.Reason)
		assert.Equal(t, 2, gwErr.ReturnCode)
		assert.Equal(t, "invalid mac", gwErr.Message)
		assert.False(t, gwErr.Retryable())
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`<html>bad gateway</html>`))
		})

		_, err := client.CreateOrder(context.Background(), sampleRequest())

		var gwErr *GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.Equal(t, ReasonFormat, gwErr.Reason)
		assert.True(t, gwErr.Retryable())
	})

	t.Run("Non-2xx status", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})

		_, err := client.CreateOrder(context.Background(), sampleRequest())

		var gwErr *GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.Equal(t, ReasonNetwork, gwErr.Reason)
	})

	t.Run("Timeout", func(t *testing.T) {
		release := make(chan struct{})
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			select {
			case <-release:
			case <-r.Context().Done():
			}
		}))
		defer srv.Close()
		defer close(release)

		client := NewClient(config.ZaloPayConfig{
			AppID: 1, Key1: testKey1, Key2: testKey2,
			CreateOrderURL: srv.URL, QueryURL: srv.URL,
			Timeout: 50 * time.Millisecond,
		}, zap.NewNop())

		_, err := client.CreateOrder(context.Background(), sampleRequest())

		var gwErr *GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.Equal(t, ReasonTimeout, gwErr.Reason)
		assert.True(t, gwErr.Retryable())
	})

	t.Run("Connection refused", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		url := srv.URL
		srv.Close()

		client := NewClient(config.ZaloPayConfig{
			AppID: 1, Key1: testKey1, Key2: testKey2,
			CreateOrderURL: url, QueryURL: url,
			Timeout: time.Second,
		}, zap.NewNop())

		_, err := client.CreateOrder(context.Background(), sampleRequest())

		var gwErr *GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.Equal(t, ReasonNetwork, gwErr.Reason)
	})
}

func TestClient_QueryOrderStatus(t *testing.T) {
	t.Run("Signs app_id, app_trans_id and key1", func(t *testing.T) {
		var mac, path string
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			r.ParseForm()
			mac = r.PostForm.Get("mac")
			path = r.URL.Path
			w.Write([]byte(`{"return_code":1,"return_message":"success","is_processing":false,"amount":10000050,"zp_trans_id":230101000123}`))
		})

		res, err := client.QueryOrderStatus(context.Background(), "240101_123456")
		require.NoError(t, err)
		assert.Equal(t, "/v2/query", path)
		assert.Equal(t, client.Codec().Sign("2553", "240101_123456", testKey1), mac)
		assert.True(t, res.Paid())
		assert.Equal(t, FlexString("230101000123"), res.ZPTransID)
	})

	t.Run("Processing is not paid", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"return_code":1,"is_processing":true}`))
		})

		res, err := client.QueryOrderStatus(context.Background(), "240101_123456")
		require.NoError(t, err)
		assert.False(t, res.Paid())
	})

	t.Run("Gateway reported failure", func(t *testing.T) {
		client, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(`{"return_code":2,"return_message":"failed"}`))
		})

		_, err := client.QueryOrderStatus(context.Background(), "240101_123456")

		var gwErr *GatewayError
		require.True(t, errors.As(err, &gwErr))
		assert.Equal(t, ReasonBusiness, gwErr.Reason)
		assert.Equal(t, 2, gwErr.ReturnCode)
	})

	t.Run("Empty app_trans_id", func(t *testing.T) {
		client, calls := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {})

		_, err := client.QueryOrderStatus(context.Background(), "")

		var vErr *ValidationError
		require.True(t, errors.As(err, &vErr))
		assert.Equal(t, int32(0), atomic.LoadInt32(calls))
	})
}
