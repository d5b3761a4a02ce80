// Package workerpool implements a sharded-by-key worker pool in which
// each worker drains its own bounded job queue. Jobs for the same shard key (a tenant or
// a conversation) always land on the same worker, so per-tenant
// ordering (Evaluate before Dispatch) is preserved without a mutex
// per job.
package workerpool

import (
	"context"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Job is one unit of work. ShardKey controls which worker handles it;
// jobs sharing a ShardKey are processed in submission order.
type Job struct {
	ShardKey string
	Kind     string
	Handler  func(ctx context.Context) error
}

// Stats is a point-in-time snapshot of pool throughput.
type Stats struct {
	NumWorkers      int
	QueueSize       int
	TotalDispatched int64
	TotalProcessed  int64
	TotalDropped    int64
	TotalErrors     int64
}

// Pool is a fixed set of workers, each with its own bounded queue.
type Pool struct {
	numWorkers int
	queueSize  int
	workers    []*worker
	wg         sync.WaitGroup
	stopOnce   sync.Once
	stopped    int32

	totalDispatched int64
	totalProcessed  int64
	totalDropped    int64
	totalErrors     int64
}

type worker struct {
	id       int
	jobQueue chan Job
	ctx      context.Context
	cancel   context.CancelFunc
	pool     *Pool
}

// New creates a Pool. numWorkers/queueSize default to 10/100 when <= 0.
func New(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 10
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*worker, numWorkers),
	}
}

// Start launches all workers. ctx cancellation triggers each worker to
// drain its queue and exit.
func (p *Pool) Start(ctx context.Context) {
	for i := 0; i < p.numWorkers; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		w := &worker{id: i, jobQueue: make(chan Job, p.queueSize), ctx: workerCtx, cancel: cancel, pool: p}
		p.workers[i] = w
		p.wg.Add(1)
		go w.run(&p.wg)
	}
	logrus.Infof("[WORKER_POOL] started with %d workers, queue size %d", p.numWorkers, p.queueSize)
}

// TryDispatch enqueues job on its shard's worker, non-blocking. Returns
// false (and counts a drop) if that worker's queue is full or the pool
// is stopped.
func (p *Pool) TryDispatch(job Job) bool {
	if atomic.LoadInt32(&p.stopped) == 1 {
		atomic.AddInt64(&p.totalDropped, 1)
		return false
	}

	shard := p.shardFor(job.ShardKey)
	atomic.AddInt64(&p.totalDispatched, 1)

	select {
	case p.workers[shard].jobQueue <- job:
		return true
	default:
		atomic.AddInt64(&p.totalDropped, 1)
		logrus.Warnf("[WORKER_POOL] worker %d queue full, dropping %s job for %s", shard, job.Kind, job.ShardKey)
		return false
	}
}

// Stop cancels all workers and waits for in-flight jobs to drain.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.stopped, 1)
		for _, w := range p.workers {
			w.cancel()
		}
		p.wg.Wait()
		logrus.Info("[WORKER_POOL] all workers stopped")
	})
}

// GetStats returns a snapshot of pool counters.
func (p *Pool) GetStats() Stats {
	return Stats{
		NumWorkers:      p.numWorkers,
		QueueSize:       p.queueSize,
		TotalDispatched: atomic.LoadInt64(&p.totalDispatched),
		TotalProcessed:  atomic.LoadInt64(&p.totalProcessed),
		TotalDropped:    atomic.LoadInt64(&p.totalDropped),
		TotalErrors:     atomic.LoadInt64(&p.totalErrors),
	}
}

func (p *Pool) shardFor(key string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.numWorkers))
}

func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case job, ok := <-w.jobQueue:
			if !ok {
				return
			}
			w.process(job)
		case <-w.ctx.Done():
			w.drain()
			return
		}
	}
}

func (w *worker) process(job Job) {
	defer func() {
		if r := recover(); r != nil {
			atomic.AddInt64(&w.pool.totalErrors, 1)
			logrus.Errorf("[WORKER_POOL] worker %d panic on %s job for %s: %v", w.id, job.Kind, job.ShardKey, r)
		}
		atomic.AddInt64(&w.pool.totalProcessed, 1)
	}()

	if err := job.Handler(w.ctx); err != nil {
		atomic.AddInt64(&w.pool.totalErrors, 1)
		logrus.WithError(err).Errorf("[WORKER_POOL] worker %d %s job failed for %s", w.id, job.Kind, job.ShardKey)
	}
}

func (w *worker) drain() {
	for {
		select {
		case job, ok := <-w.jobQueue:
			if !ok {
				return
			}
			w.process(job)
		default:
			return
		}
	}
}
