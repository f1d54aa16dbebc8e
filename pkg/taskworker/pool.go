package taskworker

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Job is a background task. Jobs sharing a Key run on the same worker, in
// submission order.
type Job struct {
	Key     string
	Name    string
	Handler func(ctx context.Context) error
}

// JobError is published on the pool error channel when a job fails.
type JobError struct {
	Key  string
	Name string
	Err  error
}

func (e JobError) Error() string {
	return fmt.Sprintf("%s [%s]: %v", e.Name, e.Key, e.Err)
}

func (e JobError) Unwrap() error { return e.Err }

// PoolStats holds live counters.
type PoolStats struct {
	NumWorkers      int           `json:"num_workers"`
	QueueSize       int           `json:"queue_size"`
	ActiveWorkers   int           `json:"active_workers"`
	TotalDispatched int64         `json:"total_dispatched"`
	TotalProcessed  int64         `json:"total_processed"`
	TotalDropped    int64         `json:"total_dropped"`
	TotalErrors     int64         `json:"total_errors"`
	WorkerStats     []WorkerStats `json:"worker_stats"`
}

type WorkerStats struct {
	WorkerID      int   `json:"worker_id"`
	QueueDepth    int   `json:"queue_depth"`
	IsProcessing  bool  `json:"is_processing"`
	JobsProcessed int64 `json:"jobs_processed"`
}

// Pool runs fire-and-forget jobs off the caller's path.
type Pool struct {
	numWorkers int
	queueSize  int
	workers    []*worker
	wg         sync.WaitGroup
	stopOnce   sync.Once
	started    int32
	stopped    int32
	errs       chan error

	totalDispatched int64
	totalProcessed  int64
	totalDropped    int64
	totalErrors     int64
}

type worker struct {
	id            int
	jobQueue      chan Job
	ctx           context.Context
	cancel        context.CancelFunc
	isProcessing  int32
	jobsProcessed int64
	pool          *Pool
}

// NewPool creates a pool; Start must be called before dispatching.
func NewPool(numWorkers, queueSize int) *Pool {
	if numWorkers <= 0 {
		numWorkers = 4
	}
	if queueSize <= 0 {
		queueSize = 256
	}
	return &Pool{
		numWorkers: numWorkers,
		queueSize:  queueSize,
		workers:    make([]*worker, numWorkers),
		errs:       make(chan error, queueSize),
	}
}

func (p *Pool) Start(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&p.started, 0, 1) {
		return
	}
	for i := 0; i < p.numWorkers; i++ {
		workerCtx, cancel := context.WithCancel(ctx)
		w := &worker{
			id:       i,
			jobQueue: make(chan Job, p.queueSize),
			ctx:      workerCtx,
			cancel:   cancel,
			pool:     p,
		}
		p.workers[i] = w

		p.wg.Add(1)
		go w.run(&p.wg)
	}

	logrus.Infof("[POOL] Started with %d workers, queue size: %d", p.numWorkers, p.queueSize)
}

// Errors exposes job failures. Sends never block: when nobody drains the
// channel, failures past its capacity are only logged.
func (p *Pool) Errors() <-chan error {
	return p.errs
}

// TryDispatch enqueues without blocking and reports whether the job was accepted.
func (p *Pool) TryDispatch(job Job) bool {
	if atomic.LoadInt32(&p.stopped) == 1 || atomic.LoadInt32(&p.started) == 0 {
		atomic.AddInt64(&p.totalDropped, 1)
		return false
	}

	shard := p.shardFor(job.Key)
	atomic.AddInt64(&p.totalDispatched, 1)

	sent := func() (ok bool) {
		defer func() {
			if r := recover(); r != nil {
				ok = false
			}
		}()
		select {
		case p.workers[shard].jobQueue <- job:
			return true
		default:
			return false
		}
	}()
	if sent {
		return true
	}

	atomic.AddInt64(&p.totalDropped, 1)
	logrus.Warnf("[POOL] Worker %d queue full (or stopped), dropping %s for %s", shard, job.Name, job.Key)
	return false
}

// Submit satisfies the dispatcher's background runner contract.
func (p *Pool) Submit(job Job) bool {
	return p.TryDispatch(job)
}

// Stop drains queued jobs and waits for the workers to exit.
func (p *Pool) Stop() {
	p.stopOnce.Do(func() {
		atomic.StoreInt32(&p.stopped, 1)
		if atomic.LoadInt32(&p.started) == 0 {
			return
		}
		logrus.Info("[POOL] Stopping workers...")
		for _, w := range p.workers {
			close(w.jobQueue)
		}
		p.wg.Wait()
		for _, w := range p.workers {
			w.cancel()
		}
		logrus.Info("[POOL] All workers stopped")
	})
}

func (p *Pool) shardFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(p.numWorkers))
}

func (p *Pool) GetStats() PoolStats {
	workerStats := make([]WorkerStats, 0, len(p.workers))
	activeWorkers := 0

	for _, w := range p.workers {
		if w == nil {
			continue
		}
		isProcessing := atomic.LoadInt32(&w.isProcessing) == 1
		if isProcessing {
			activeWorkers++
		}
		workerStats = append(workerStats, WorkerStats{
			WorkerID:      w.id,
			QueueDepth:    len(w.jobQueue),
			IsProcessing:  isProcessing,
			JobsProcessed: atomic.LoadInt64(&w.jobsProcessed),
		})
	}

	return PoolStats{
		NumWorkers:      p.numWorkers,
		QueueSize:       p.queueSize,
		ActiveWorkers:   activeWorkers,
		TotalDispatched: atomic.LoadInt64(&p.totalDispatched),
		TotalProcessed:  atomic.LoadInt64(&p.totalProcessed),
		TotalDropped:    atomic.LoadInt64(&p.totalDropped),
		TotalErrors:     atomic.LoadInt64(&p.totalErrors),
		WorkerStats:     workerStats,
	}
}

func (p *Pool) report(job Job, err error) {
	atomic.AddInt64(&p.totalErrors, 1)
	jobErr := JobError{Key: job.Key, Name: job.Name, Err: err}
	logrus.WithError(err).Errorf("[POOL] %s failed for %s", job.Name, job.Key)
	select {
	case p.errs <- jobErr:
	default:
	}
}

// run processes jobs until the queue is closed. Stop closes the queue, so
// everything already accepted is executed before the worker exits.
func (w *worker) run(wg *sync.WaitGroup) {
	defer wg.Done()

	logrus.Debugf("[POOL] Worker %d started", w.id)

	for job := range w.jobQueue {
		w.process(job)
	}
	logrus.Debugf("[POOL] Worker %d shutting down", w.id)
}

func (w *worker) process(job Job) {
	atomic.StoreInt32(&w.isProcessing, 1)
	defer func() {
		if r := recover(); r != nil {
			w.pool.report(job, fmt.Errorf("panic: %v", r))
		}
		atomic.StoreInt32(&w.isProcessing, 0)
		atomic.AddInt64(&w.jobsProcessed, 1)
		atomic.AddInt64(&w.pool.totalProcessed, 1)
	}()

	if err := job.Handler(w.ctx); err != nil {
		w.pool.report(job, err)
	}
}
