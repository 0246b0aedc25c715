// Package workerpool 提供基于 ants 的有界后台任务池。
package workerpool

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"duoread-go/pkg/log"

	"github.com/panjf2000/ants/v2"
)

var (
	// ErrPoolClosed 池已关闭
	ErrPoolClosed = errors.New("worker pool is closed")
	// ErrQueueFull 等待队列已满
	ErrQueueFull = errors.New("worker pool queue is full")
)

// Config 定义任务池的配置。
type Config struct {
	// Workers 最大并发任务数
	Workers int
	// QueueSize 等待执行的任务上限
	QueueSize int
	// ExpiryDuration 空闲 worker 的回收时间
	ExpiryDuration time.Duration
}

// Stats 是任务池统计信息的快照。
type Stats struct {
	Submitted int64
	Completed int64
	Rejected  int64
	Panics    int64
	Running   int
	Queued    int
}

// Pool 由一个有界等待队列和固定容量的 ants 池组成。Submit 从不阻塞调用方。
type Pool struct {
	name  string
	pool  *ants.Pool
	queue chan func()
	wg    sync.WaitGroup // 跟踪已入队但尚未结束的任务

	submitted atomic.Int64
	completed atomic.Int64
	rejected  atomic.Int64
	panics    atomic.Int64

	closed   atomic.Bool
	closedMu sync.RWMutex
}

// New 创建任务池并启动分发协程。
func New(name string, cfg Config) (*Pool, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("workers must be positive, got %d", cfg.Workers)
	}
	if cfg.QueueSize < 0 {
		cfg.QueueSize = 0
	}
	if cfg.ExpiryDuration <= 0 {
		cfg.ExpiryDuration = time.Minute
	}

	p := &Pool{
		name:  name,
		queue: make(chan func(), cfg.QueueSize),
	}
	pool, err := ants.NewPool(cfg.Workers,
		ants.WithExpiryDuration(cfg.ExpiryDuration),
		ants.WithPanicHandler(func(v interface{}) {
			p.panics.Add(1)
			log.Errorw("Worker panic recovered", "pool", name, "panic", v)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("创建 ants 池失败: %w", err)
	}
	p.pool = pool

	go p.dispatch()

	log.Infow("Worker pool created", "name", name, "workers", cfg.Workers, "queueSize", cfg.QueueSize)
	return p, nil
}

// dispatch 把队列中的任务交给 ants，ants 满载时在这里阻塞。
func (p *Pool) dispatch() {
	for task := range p.queue {
		err := p.pool.Submit(func() {
			defer p.wg.Done()
			defer p.completed.Add(1)
			task()
		})
		if err != nil {
			p.rejected.Add(1)
			p.wg.Done()
			log.Errorw("Worker pool dropped task", "pool", p.name, "error", err)
		}
	}
}

// Submit 将任务放入等待队列，队列满时立即返回 ErrQueueFull。
func (p *Pool) Submit(task func()) error {
	p.closedMu.RLock()
	defer p.closedMu.RUnlock()
	if p.closed.Load() {
		return ErrPoolClosed
	}

	p.wg.Add(1)
	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return nil
	default:
		p.wg.Done()
		p.rejected.Add(1)
		return ErrQueueFull
	}
}

// Release 停止接收新任务，等待已提交任务完成或超时。
func (p *Pool) Release(timeout time.Duration) error {
	p.closedMu.Lock()
	if p.closed.Load() {
		p.closedMu.Unlock()
		return nil
	}
	p.closed.Store(true)
	close(p.queue)
	p.closedMu.Unlock()

	finished := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(finished)
	}()

	var err error
	select {
	case <-finished:
	case <-time.After(timeout):
		err = fmt.Errorf("worker pool %s: release timed out after %s", p.name, timeout)
	}
	p.pool.Release()
	log.Infow("Worker pool released", "name", p.name)
	return err
}

// Stats 返回统计信息快照
func (p *Pool) Stats() Stats {
	return Stats{
		Submitted: p.submitted.Load(),
		Completed: p.completed.Load(),
		Rejected:  p.rejected.Load(),
		Panics:    p.panics.Load(),
		Running:   p.pool.Running(),
		Queued:    len(p.queue),
	}
}
