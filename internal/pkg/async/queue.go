package async

import (
	"context"
	"fmt"
	"hash/fnv"
	"log/slog"
	"sync"

	"visitly/internal/metrics"
)

// Job is a unit of background work routed by key.
type Job struct {
	Key  string
	Name string
	Run  func(ctx context.Context) error
}

// Queue dispatches jobs to a fixed set of workers. Jobs sharing a key land on the
// same worker and run in submission order. Each worker has a bounded buffer;
// Submit never blocks and drops the job when that buffer is full.
type Queue struct {
	logger  *slog.Logger
	shards  []chan Job
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	cond    *sync.Cond
	pending int
	started bool
	stopped bool
}

// NewQueue creates a queue with workers shards of size buffered slots each.
func NewQueue(workers, size int, logger *slog.Logger) *Queue {
	if workers < 1 {
		workers = 1
	}
	if size < 1 {
		size = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		logger: logger,
		shards: make([]chan Job, workers),
		ctx:    ctx,
		cancel: cancel,
	}
	q.cond = sync.NewCond(&q.mu)
	for i := range q.shards {
		q.shards[i] = make(chan Job, size)
	}
	return q
}

// Start launches the workers. It implements cartridge.BackgroundWorker.
func (q *Queue) Start() error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started {
		return nil
	}
	q.started = true

	for i, shard := range q.shards {
		q.wg.Add(1)
		go q.work(i, shard)
	}
	q.logger.Info("Write queue started", slog.Int("workers", len(q.shards)))
	return nil
}

// Stop stops accepting jobs, drains the buffers and waits for the workers.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	started := q.started
	q.mu.Unlock()

	for _, shard := range q.shards {
		close(shard)
	}
	if !started {
		// Nobody will read the buffers; run what is left inline.
		for _, shard := range q.shards {
			for job := range shard {
				q.execute(job)
			}
		}
	}
	q.wg.Wait()
	q.cancel()
	q.logger.Info("Write queue stopped")
}

// Submit enqueues job and reports whether it was accepted.
func (q *Queue) Submit(job Job) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.stopped {
		metrics.QueueJobs.WithLabelValues("dropped").Inc()
		q.logger.Warn("Write queue stopped, dropping job", slog.String("job", job.Name))
		return false
	}

	select {
	case q.shards[q.shardFor(job.Key)] <- job:
		q.pending++
		metrics.QueueJobs.WithLabelValues("enqueued").Inc()
		return true
	default:
		metrics.QueueJobs.WithLabelValues("dropped").Inc()
		q.logger.Warn("Write queue full, dropping job",
			slog.String("job", job.Name),
			slog.String("key", job.Key))
		return false
	}
}

// Wait blocks until every accepted job has finished.
func (q *Queue) Wait() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for q.pending > 0 {
		q.cond.Wait()
	}
}

func (q *Queue) shardFor(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(q.shards)))
}

func (q *Queue) work(id int, shard <-chan Job) {
	defer q.wg.Done()
	for job := range shard {
		q.execute(job)
	}
	q.logger.Debug("Write queue worker exited", slog.Int("worker", id))
}

func (q *Queue) execute(job Job) {
	defer func() {
		q.mu.Lock()
		q.pending--
		q.cond.Broadcast()
		q.mu.Unlock()
	}()

	if err := q.safeRun(job); err != nil {
		q.logger.Error("Write queue job failed",
			slog.String("job", job.Name),
			slog.String("key", job.Key),
			slog.Any("error", err))
	}
}

func (q *Queue) safeRun(job Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			metrics.QueueJobs.WithLabelValues("panicked").Inc()
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return job.Run(q.ctx)
}
