// Package observability exposes the admin plane: a gRPC health service
// for orchestration probes and an HTTP listener with the Prometheus
// registry and a plain liveness endpoint.
package observability

import (
	"context"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"talos/metrics"
)

type Server struct {
	grpcListen string
	httpListen string

	grpcSrv   *grpc.Server
	healthSrv *health.Server
	httpSrv   *http.Server

	log *zap.Logger
}

func New(grpcListen, httpListen string, met *metrics.Metrics, log *zap.Logger) *Server {
	healthSrv := health.NewServer()
	grpcSrv := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)

	mux := http.NewServeMux()
	mux.Handle("/metrics", met.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	return &Server{
		grpcListen: grpcListen,
		httpListen: httpListen,
		grpcSrv:    grpcSrv,
		healthSrv:  healthSrv,
		httpSrv:    &http.Server{Addr: httpListen, Handler: mux, ReadHeaderTimeout: 5 * time.Second},
		log:        log,
	}
}

// Start brings both listeners up. The health status starts NOT_SERVING
// until the venue finishes replay and marks itself ready.
func (s *Server) Start() error {
	s.healthSrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)

	lis, err := net.Listen("tcp", s.grpcListen)
	if err != nil {
		return err
	}
	go func() {
		if err := s.grpcSrv.Serve(lis); err != nil {
			s.log.Error("grpc admin server stopped", zap.Error(err))
		}
	}()

	go func() {
		if err := s.httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("http admin server stopped", zap.Error(err))
		}
	}()

	s.log.Info("admin servers started",
		zap.String("grpc", s.grpcListen),
		zap.String("http", s.httpListen))
	return nil
}

// SetReady flips the health probe once the venue is accepting traffic.
func (s *Server) SetReady(ready bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ready {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.healthSrv.SetServingStatus("", status)
}

func (s *Server) Stop(ctx context.Context) {
	s.healthSrv.Shutdown()
	s.grpcSrv.GracefulStop()
	_ = s.httpSrv.Shutdown(ctx)
}
