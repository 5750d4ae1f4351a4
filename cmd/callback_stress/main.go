package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"food_store_payment/internal/domain/payment/zalopay"
	"food_store_payment/internal/pkg/config"
	"io"
	"log"
	"net/http"
	"sync"
	"time"
)

var httpClient *http.Client

func init() {
	// 优化 HTTP Client 配置
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConns = 500
	t.MaxIdleConnsPerHost = 500
	t.MaxConnsPerHost = 500
	httpClient = &http.Client{
		Transport: t,
		Timeout:   10 * time.Second,
	}
}

// 并发重放同一个已签名回调，验证重复回调只生效一次
// 用法：callback_stress -order 11 -app-trans-id 240101_123456 -n 200
func main() {
	baseURL := flag.String("url", "http://localhost:8080", "server base url")
	orderID := flag.Int64("order", 0, "local order id (embed_data.order_id)")
	appTransID := flag.String("app-trans-id", "", "app_trans_id of the pending payment")
	amount := flag.Int64("amount", 0, "amount in minor units")
	total := flag.Int("n", 100, "number of concurrent callbacks")
	tamper := flag.Bool("tamper", false, "send an invalid mac")
	flag.Parse()

	if *orderID == 0 || *appTransID == "" {
		log.Fatal("-order and -app-trans-id are required")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}
	codec := zalopay.NewCodec(cfg.ZaloPay.Key1, cfg.ZaloPay.Key2)

	embed, _ := json.Marshal(map[string]int64{"order_id": *orderID})
	data, _ := json.Marshal(map[string]interface{}{
		"app_id":       cfg.ZaloPay.AppID,
		"app_trans_id": *appTransID,
		"app_time":     time.Now().UnixMilli(),
		"amount":       *amount,
		"embed_data":   string(embed),
		"item":         "[]",
		"zp_trans_id":  time.Now().Unix(),
		"server_time":  time.Now().UnixMilli(),
	})
	req := zalopay.CallbackRequest{Data: string(data), Mac: codec.SignCallback(string(data))}
	if *tamper {
		req.Mac = codec.Sign(string(data))
	}
	body, _ := json.Marshal(req)

	fmt.Printf("开始压测：并发发送 %d 个回调 (app_trans_id: %s)...\n", *total, *appTransID)

	var wg sync.WaitGroup
	var mu sync.Mutex
	outcomes := make(map[int]int)
	failCount := 0

	start := time.Now()
	for i := 0; i < *total; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			code, err := sendCallback(*baseURL+"/api/payments/zalopay/callback", body)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				failCount++
				return
			}
			outcomes[code]++
		}()
	}
	wg.Wait()
	duration := time.Since(start)

	fmt.Println("--------------------------------------------------")
	fmt.Printf("压测结束，耗时: %v\n", duration)
	fmt.Printf("QPS: %.2f\n", float64(*total)/duration.Seconds())
	for code, n := range outcomes {
		fmt.Printf("return_code=%d: %d\n", code, n)
	}
	fmt.Printf("请求失败: %d\n", failCount)
	fmt.Println("--------------------------------------------------")
}

func sendCallback(url string, body []byte) (int, error) {
	resp, err := httpClient.Post(url, "application/json", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	var outcome zalopay.CallbackOutcome
	if err := json.Unmarshal(respBody, &outcome); err != nil {
		return 0, err
	}
	return outcome.ReturnCode, nil
}
