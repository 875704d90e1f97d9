package presence

import (
	"context"
	"sync"
	"time"

	"PSocial/service/metrics"

	"github.com/pkg/errors"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// OfflineMarker flips every persisted online record not in live to offline.
type OfflineMarker interface {
	MarkOfflineExcept(ctx context.Context, live []string) (int64, error)
}

// Mirror is the shared, TTL-bounded view of who is online across nodes.
type Mirror interface {
	Refresh(ctx context.Context, userIDs []string) error
	LiveUsers(ctx context.Context) ([]string, error)
}

// Reconciler 周期性修正持久化状态：进程崩溃时没写 offline 的用户会在这里被纠正。
type Reconciler struct {
	manager *Manager
	marker  OfflineMarker
	mirror  Mirror
	spec    string
	timeout time.Duration

	log     *zap.Logger
	metrics *metrics.Metrics

	mu   sync.Mutex
	cron *cron.Cron
}

// NewReconciler builds a reconciler. mirror may be nil on single-node setups.
func NewReconciler(m *Manager, marker OfflineMarker, mirror Mirror, spec string, log *zap.Logger, mt *metrics.Metrics) *Reconciler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Reconciler{
		manager: m,
		marker:  marker,
		mirror:  mirror,
		spec:    spec,
		timeout: 30 * time.Second,
		log:     log,
		metrics: mt,
	}
}

// RunOnce performs a single pass and returns how many records it flipped.
func (r *Reconciler) RunOnce(ctx context.Context) (int64, error) {
	local := r.manager.Registry().UserIDs()
	live := make(map[string]struct{}, len(local))
	for _, u := range local {
		live[u] = struct{}{}
	}

	if r.mirror != nil {
		if err := r.mirror.Refresh(ctx, local); err != nil {
			r.log.Warn("mirror refresh failed", zap.Error(err))
		}
		remote, err := r.mirror.LiveUsers(ctx)
		if err != nil {
			// 没有完整的存活集合就不能批量下线，否则会误伤其他节点的用户
			return 0, errors.Wrap(err, "reconcile: read mirror")
		}
		for _, u := range remote {
			live[u] = struct{}{}
		}
	}

	ids := make([]string, 0, len(live))
	for u := range live {
		ids = append(ids, u)
	}
	n, err := r.marker.MarkOfflineExcept(ctx, ids)
	if err != nil {
		return 0, errors.Wrap(err, "reconcile: mark offline")
	}

	// 快照之后新上线的用户可能刚被批量下线，补一次 online
	for _, u := range r.manager.Registry().UserIDs() {
		if _, ok := live[u]; !ok {
			r.manager.status.enqueue(u, StatusOnline)
		}
	}

	r.metrics.AddReconciled(n)
	if n > 0 {
		r.log.Info("reconciled stale presence", zap.Int64("flipped", n), zap.Int("live", len(ids)))
	}
	return n, nil
}

func (r *Reconciler) runScheduled() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()
	if _, err := r.RunOnce(ctx); err != nil {
		r.log.Warn("reconcile failed", zap.Error(err))
	}
}

// Start runs one pass immediately and then on the cron schedule.
// An empty schedule means the startup pass only.
func (r *Reconciler) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cron != nil {
		return nil
	}
	if r.spec == "" {
		go r.runScheduled()
		return nil
	}
	c := cron.New()
	if _, err := c.AddFunc(r.spec, r.runScheduled); err != nil {
		return errors.Wrapf(err, "reconcile: bad schedule %q", r.spec)
	}
	r.cron = c
	go r.runScheduled()
	c.Start()
	r.log.Info("reconciler started", zap.String("schedule", r.spec))
	return nil
}

// Stop halts the schedule and waits for a running pass, bounded by ctx.
func (r *Reconciler) Stop(ctx context.Context) {
	r.mu.Lock()
	c := r.cron
	r.cron = nil
	r.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
	}
}
