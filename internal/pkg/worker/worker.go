package worker

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Task 补偿任务，Key 为待查询的 app_trans_id
type Task struct {
	Key   string
	Retry int // 重试次数
}

// Handler 处理单个任务，返回错误时进入重试队列
type Handler func(ctx context.Context, key string) error

// DepthReporter 上报队列长度
type DepthReporter interface {
	SetSweepQueueDepth(depth int)
}

type WorkerPool struct {
	TaskQueue  chan Task
	RetryQueue chan Task // 重试队列
	WorkerNum  int
	MaxRetry   int // 最大重试次数
	Backoff    time.Duration

	handler  Handler
	log      *zap.Logger
	reporter DepthReporter

	mu       sync.Mutex
	inflight map[string]bool // 同一个 key 同时只处理一次
	wg       sync.WaitGroup
}

func NewWorkerPool(handler Handler, workerNum, bufferSize, maxRetry int, log *zap.Logger) *WorkerPool {
	if workerNum < 1 {
		workerNum = 1
	}
	if bufferSize < 2 {
		bufferSize = 2
	}
	return &WorkerPool{
		TaskQueue:  make(chan Task, bufferSize),
		RetryQueue: make(chan Task, bufferSize/2),
		WorkerNum:  workerNum,
		MaxRetry:   maxRetry,
		Backoff:    time.Second,
		handler:    handler,
		log:        log,
		inflight:   make(map[string]bool),
	}
}

// WithReporter 设置队列长度上报
func (p *WorkerPool) WithReporter(r DepthReporter) *WorkerPool {
	p.reporter = r
	return p
}

// Start 启动 worker，ctx 取消后所有协程退出
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.WorkerNum; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	// 启动重试处理协程
	p.wg.Add(1)
	go p.retryWorker(ctx)
	p.log.Info("Worker pool started", zap.Int("workers", p.WorkerNum))
}

// Wait 等待所有协程退出
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.TaskQueue:
			p.reportDepth()
			p.process(ctx, id, task)
		}
	}
}

func (p *WorkerPool) process(ctx context.Context, id int, task Task) {
	err := p.handler(ctx, task.Key)
	p.release(task.Key)
	if err == nil {
		return
	}

	log := p.log.With(zap.Int("worker", id), zap.String("key", task.Key), zap.Error(err))
	log.Warn("Failed to process task")

	// 如果未达到最大重试次数，加入重试队列
	if task.Retry >= p.MaxRetry {
		p.logFailedTask(task, err)
		return
	}
	task.Retry++
	if !p.claim(task.Key) {
		return
	}
	select {
	case p.RetryQueue <- task:
		log.Info("Task added to retry queue", zap.Int("attempt", task.Retry), zap.Int("max_retry", p.MaxRetry))
	default:
		p.release(task.Key)
		p.logFailedTask(task, err)
	}
}

func (p *WorkerPool) retryWorker(ctx context.Context) {
	defer p.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-p.RetryQueue:
			// 延迟重试，避免立即重试
			timer := time.NewTimer(time.Duration(task.Retry) * p.Backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			select {
			case p.TaskQueue <- task:
				p.reportDepth()
			default:
				p.release(task.Key)
				p.logFailedTask(task, nil)
			}
		}
	}
}

// logFailedTask 超过重试次数的任务留给下一轮扫描
func (p *WorkerPool) logFailedTask(task Task, err error) {
	p.log.Error("Task dropped", zap.String("key", task.Key), zap.Int("retry", task.Retry), zap.Error(err))
}

// AddTask 入队，队列已满或同一 key 正在处理时返回 false
func (p *WorkerPool) AddTask(task Task) bool {
	if !p.claim(task.Key) {
		return false
	}
	select {
	case p.TaskQueue <- task:
		p.reportDepth()
		return true
	default:
		p.release(task.Key)
		p.log.Warn("Worker pool queue full, dropping task", zap.String("key", task.Key))
		return false
	}
}

func (p *WorkerPool) claim(key string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.inflight[key] {
		return false
	}
	p.inflight[key] = true
	return true
}

func (p *WorkerPool) release(key string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.inflight, key)
}

func (p *WorkerPool) reportDepth() {
	if p.reporter != nil {
		p.reporter.SetSweepQueueDepth(len(p.TaskQueue))
	}
}
