package worker

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Source 返回本轮需要处理的 key
type Source func(ctx context.Context) ([]string, error)

// Sweeper 定期从 Source 拉取 key 投递到 WorkerPool
type Sweeper struct {
	interval time.Duration
	source   Source
	pool     *WorkerPool
	log      *zap.Logger
}

func NewSweeper(interval time.Duration, source Source, pool *WorkerPool, log *zap.Logger) *Sweeper {
	return &Sweeper{interval: interval, source: source, pool: pool, log: log}
}

// Run 阻塞直到 ctx 取消
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.log.Info("Sweeper started", zap.Duration("interval", s.interval))
	for {
		select {
		case <-ctx.Done():
			s.log.Info("Sweeper stopped")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep 执行一轮扫描，返回入队数量
func (s *Sweeper) Sweep(ctx context.Context) int {
	keys, err := s.source(ctx)
	if err != nil {
		s.log.Error("Sweep failed", zap.Error(err))
		return 0
	}
	queued := 0
	for _, key := range keys {
		if s.pool.AddTask(Task{Key: key}) {
			queued++
		}
	}
	if len(keys) > 0 {
		s.log.Info("Sweep enqueued tasks", zap.Int("found", len(keys)), zap.Int("queued", queued))
	}
	return queued
}
