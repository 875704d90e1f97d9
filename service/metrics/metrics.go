package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Connections      prometheus.Gauge
	OnlineUsers      prometheus.Gauge
	SessionsReplaced prometheus.Counter
	Signals          *prometheus.CounterVec
	RoomBroadcasts   prometheus.Counter
	StatusWrites     *prometheus.CounterVec
	StatusDropped    prometheus.Counter
	Reconciled       prometheus.Counter
}

var (
	metricsOnce     sync.Once
	metricsInstance *Metrics
)

// NewMetrics registers the collectors once per process; later calls share the instance.
func NewMetrics() *Metrics {
	metricsOnce.Do(func() {
		metricsInstance = &Metrics{
			Connections: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "psocial_ws_connections",
				Help: "Current number of open WebSocket connections",
			}),
			OnlineUsers: promauto.NewGauge(prometheus.GaugeOpts{
				Name: "psocial_presence_online_users",
				Help: "Current number of users with a registered connection",
			}),
			SessionsReplaced: promauto.NewCounter(prometheus.CounterOpts{
				Name: "psocial_presence_sessions_replaced_total",
				Help: "Registrations that superseded an older connection of the same user",
			}),
			Signals: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "psocial_signaling_envelopes_total",
				Help: "Signaling envelopes by kind and result (delivered/dropped)",
			}, []string{"kind", "result"}),
			RoomBroadcasts: promauto.NewCounter(prometheus.CounterOpts{
				Name: "psocial_room_broadcast_deliveries_total",
				Help: "Room events handed to member connections",
			}),
			StatusWrites: promauto.NewCounterVec(prometheus.CounterOpts{
				Name: "psocial_presence_status_writes_total",
				Help: "Status writes by sink and result",
			}, []string{"sink", "result"}),
			StatusDropped: promauto.NewCounter(prometheus.CounterOpts{
				Name: "psocial_presence_status_dropped_total",
				Help: "Status writes dropped because the dispatcher queue was full",
			}),
			Reconciled: promauto.NewCounter(prometheus.CounterOpts{
				Name: "psocial_presence_reconciled_total",
				Help: "Stale online records flipped to offline by the reconciler",
			}),
		}
	})
	return metricsInstance
}

func (m *Metrics) ConnOpened() {
	if m == nil {
		return
	}
	m.Connections.Inc()
}

func (m *Metrics) ConnClosed() {
	if m == nil {
		return
	}
	m.Connections.Dec()
}

func (m *Metrics) SetOnline(n int) {
	if m == nil {
		return
	}
	m.OnlineUsers.Set(float64(n))
}

func (m *Metrics) SessionReplaced() {
	if m == nil {
		return
	}
	m.SessionsReplaced.Inc()
}

func (m *Metrics) Signal(kind string, delivered bool) {
	if m == nil {
		return
	}
	result := "dropped"
	if delivered {
		result = "delivered"
	}
	m.Signals.WithLabelValues(kind, result).Inc()
}

func (m *Metrics) RoomDelivered(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.RoomBroadcasts.Add(float64(n))
}

func (m *Metrics) StatusWrite(sink string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.StatusWrites.WithLabelValues(sink, result).Inc()
}

func (m *Metrics) StatusDrop() {
	if m == nil {
		return
	}
	m.StatusDropped.Inc()
}

func (m *Metrics) AddReconciled(n int64) {
	if m == nil || n <= 0 {
		return
	}
	m.Reconciled.Add(float64(n))
}
