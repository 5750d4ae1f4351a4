package payment

import (
	"context"
	"food_store_payment/internal/domain/payment/handler"
	"food_store_payment/internal/domain/payment/repository"
	"food_store_payment/internal/domain/payment/service"
	"food_store_payment/internal/domain/payment/zalopay"
	"food_store_payment/internal/pkg/middleware"
	"food_store_payment/internal/pkg/registry"
	"food_store_payment/internal/pkg/worker"
	"food_store_payment/pkg/cache"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// PaymentModule 支付模块
type PaymentModule struct{}

func init() {
	registry.Register(&PaymentModule{})
}

func (m *PaymentModule) Name() string {
	return "payment"
}

func (m *PaymentModule) Priority() int {
	return 20
}

func (m *PaymentModule) Init(ctx *registry.ModuleContext) error {
	cfg := ctx.Config
	log := ctx.Logger.Named("payment")

	// 1. 依赖注入
	repo := repository.NewPaymentRepository(ctx.DB)
	client := zalopay.NewClient(cfg.ZaloPay, log.Named("zalopay"), zalopay.WithMetrics(ctx.Metrics))

	opts := []service.Option{
		service.WithMetrics(ctx.Metrics),
		service.WithPublisher(ctx.Publisher),
	}
	if ctx.Redis != nil {
		opts = append(opts, service.WithStatusCache(cache.NewRedisCache(ctx.Redis, "zalopay:")))
	}
	svc := service.NewReconcileService(repo, client, client.Codec(), log, cfg.Reconcile, opts...)
	h := handler.NewPaymentHandler(svc, log)

	// 2. 补偿轮询
	if cfg.Reconcile.SweepInterval > 0 {
		pool := worker.NewWorkerPool(func(c context.Context, appTransID string) error {
			_, err := svc.PollStatus(c, appTransID)
			return err
		}, cfg.Reconcile.Workers, cfg.Reconcile.QueueSize, cfg.Reconcile.MaxRetry, log.Named("sweeper")).
			WithReporter(ctx.Metrics)
		pool.Start(ctx.Ctx)

		sweeper := worker.NewSweeper(cfg.Reconcile.SweepInterval, svc.StalePendingAppTransIDs, pool, log.Named("sweeper"))
		sweepDone := make(chan struct{})
		go func() {
			defer close(sweepDone)
			sweeper.Run(ctx.Ctx)
		}()
		ctx.OnShutdown(func() {
			<-sweepDone
			pool.Wait()
			log.Info("Sweeper drained")
		})
	}

	// 3. 路由注册
	limiter := middleware.NewIPRateLimiter(rate.Limit(cfg.Server.RateLimit), cfg.Server.RateBurst)
	setupRoutes(ctx.Router, h, limiter)

	return nil
}

func setupRoutes(r *gin.Engine, h *handler.PaymentHandler, limiter *middleware.IPRateLimiter) {
	g := r.Group("/api/payments/zalopay")

	// 回调无需鉴权，但需验签
	g.POST("/callback", h.Callback)
	g.GET("/status/:app_trans_id", h.GetStatus)
	g.GET("/payment-methods", h.PaymentMethods)
	g.POST("/create", middleware.RateLimitMiddleware(limiter), h.CreatePayment)
}
