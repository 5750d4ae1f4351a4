package registry

import (
	"context"
	"food_store_payment/internal/pkg/config"
	"food_store_payment/internal/pkg/events"
	"food_store_payment/pkg/metrics"
	"sort"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ModuleContext 模块初始化所需的上下文
// 所有依赖由 main 创建后注入，模块内不读取全局变量
type ModuleContext struct {
	Ctx       context.Context // 进程生命周期，后台任务随之退出
	Config    *config.Config
	Logger    *zap.Logger
	DB        *gorm.DB
	Redis     *redis.Client
	Router    *gin.Engine
	Metrics   *metrics.MetricsCollector
	Publisher events.Publisher

	mu            sync.Mutex
	shutdownHooks []func()
}

// OnShutdown 注册退出时需要等待的清理函数，例如后台 worker
func (c *ModuleContext) OnShutdown(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.shutdownHooks = append(c.shutdownHooks, fn)
}

// Shutdown 按注册的逆序执行清理函数
// 调用前应先取消 Ctx，否则等待后台任务的清理函数不会返回
func (c *ModuleContext) Shutdown(ctx context.Context) error {
	c.mu.Lock()
	hooks := append([]func(){}, c.shutdownHooks...)
	c.mu.Unlock()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := len(hooks) - 1; i >= 0; i-- {
			hooks[i]()
		}
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Module 模块接口
type Module interface {
	// Name 返回模块名称
	Name() string

	// Init 初始化模块（依赖注入、路由注册等）
	Init(ctx *ModuleContext) error

	// Priority 返回初始化优先级（数字越小越先初始化）
	Priority() int
}

// moduleRegistry 全局模块注册表
var moduleRegistry = make(map[string]Module)

// Register 注册模块
func Register(module Module) {
	moduleRegistry[module.Name()] = module
}

// GetModules 获取所有已注册的模块
func GetModules() map[string]Module {
	return moduleRegistry
}

// InitModules 按优先级初始化所有模块
func InitModules(ctx *ModuleContext) error {
	modules := make([]Module, 0, len(moduleRegistry))
	for _, m := range moduleRegistry {
		modules = append(modules, m)
	}

	// 优先级相同时按名称排序，保证初始化顺序稳定
	sort.Slice(modules, func(i, j int) bool {
		if modules[i].Priority() != modules[j].Priority() {
			return modules[i].Priority() < modules[j].Priority()
		}
		return modules[i].Name() < modules[j].Name()
	})

	for _, module := range modules {
		if err := module.Init(ctx); err != nil {
			return err
		}
		if ctx.Logger != nil {
			ctx.Logger.Info("Module initialized", zap.String("module", module.Name()))
		}
	}

	return nil
}
