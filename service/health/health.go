package health

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

const ServicePresence = "psocial.Presence"

// CheckFunc 返回 nil 表示依赖可用
type CheckFunc func() error

// Server 暴露 gRPC health，并周期性地根据依赖检查切换 SERVING / NOT_SERVING
type Server struct {
	hs     *health.Server
	gs     *grpc.Server
	checks map[string]CheckFunc
	every  time.Duration
	log    *zap.Logger

	mu     sync.Mutex
	status healthpb.HealthCheckResponse_ServingStatus
}

func NewServer(every time.Duration, log *zap.Logger) *Server {
	if every <= 0 {
		every = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	s := &Server{
		hs:     health.NewServer(),
		gs:     grpc.NewServer(),
		checks: make(map[string]CheckFunc),
		every:  every,
		log:    log,
		status: healthpb.HealthCheckResponse_NOT_SERVING,
	}
	healthpb.RegisterHealthServer(s.gs, s.hs)
	s.hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	s.hs.SetServingStatus(ServicePresence, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// AddCheck must be called before Run.
func (s *Server) AddCheck(name string, p CheckFunc) { s.checks[name] = p }

// Check runs every check once and updates the published status.
func (s *Server) Check() healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	for name, p := range s.checks {
		if err := p(); err != nil {
			st = healthpb.HealthCheckResponse_NOT_SERVING
			s.log.Debug("health check failed", zap.String("check", name), zap.Error(err))
		}
	}
	s.mu.Lock()
	changed := st != s.status
	s.status = st
	s.mu.Unlock()
	if changed {
		s.log.Info("health status changed", zap.String("status", st.String()))
	}
	s.hs.SetServingStatus("", st)
	s.hs.SetServingStatus(ServicePresence, st)
	return st
}

func (s *Server) Status() healthpb.HealthCheckResponse_ServingStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// Run 一直跑到 ctx 结束
func (s *Server) Run(ctx context.Context) {
	s.Check()
	t := time.NewTicker(s.every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.Check()
		}
	}
}

func (s *Server) Serve(lis net.Listener) error {
	if err := s.gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "grpc serve")
	}
	return nil
}

func (s *Server) Stop() {
	s.hs.Shutdown()
	s.gs.GracefulStop()
}
