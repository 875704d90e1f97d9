package presence

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"PSocial/service/metrics"
	"PSocial/tools/errs"

	"go.uber.org/zap"
)

type statusJob struct {
	userID string
	status Status
}

// statusDispatcher 把状态写入从连接生命周期里剥离出来：
// 按 userID 哈希到固定 worker，保证同一用户的写入顺序；队列满就丢并记日志。
type statusDispatcher struct {
	mu      sync.RWMutex
	closed  bool
	queues  []chan statusJob
	writers []StatusWriter
	timeout time.Duration
	wg      sync.WaitGroup

	log     *zap.Logger
	metrics *metrics.Metrics
}

func newStatusDispatcher(writers []StatusWriter, workers, queue int, timeout time.Duration, log *zap.Logger, m *metrics.Metrics) *statusDispatcher {
	if workers <= 0 {
		workers = 1
	}
	if queue <= 0 {
		queue = 1
	}
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	d := &statusDispatcher{
		queues:  make([]chan statusJob, workers),
		writers: writers,
		timeout: timeout,
		log:     log,
		metrics: m,
	}
	for i := range d.queues {
		q := make(chan statusJob, queue)
		d.queues[i] = q
		d.wg.Add(1)
		go d.run(q)
	}
	return d
}

// enqueue never blocks.
func (d *statusDispatcher) enqueue(userID string, st Status) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.closed {
		return false
	}
	select {
	case d.queues[shard(userID, len(d.queues))] <- statusJob{userID: userID, status: st}:
		return true
	default:
		d.log.Warn("status write dropped: queue full",
			zap.String("user", userID), zap.String("status", string(st)))
		d.metrics.StatusDrop()
		return false
	}
}

func (d *statusDispatcher) run(q chan statusJob) {
	defer d.wg.Done()
	for job := range q {
		for _, w := range d.writers {
			d.write(w, job)
		}
	}
}

func (d *statusDispatcher) write(w StatusWriter, job statusJob) {
	name := writerName(w)
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = errs.ErrPanic(r)
			}
		}()
		err = w.UpdateStatus(ctx, job.userID, job.status)
	}()

	d.metrics.StatusWrite(name, err)
	if err != nil {
		d.log.Warn("status write failed",
			zap.String("sink", name), zap.String("user", job.userID),
			zap.String("status", string(job.status)), zap.Error(err))
	}
}

// close stops intake and waits for queued writes to drain or ctx to end.
func (d *statusDispatcher) close(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		for _, q := range d.queues {
			close(q)
		}
	}
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func shard(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

func writerName(w StatusWriter) string {
	if n, ok := w.(interface{ Name() string }); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", w)
}
