// ABOUTME: Admin surface: gRPC health checks plus an HTTP server for Prometheus scraping and pprof
// ABOUTME: Adapted from the teacher's internal/server/observability.go, generalized from document-service RPC metrics to store-level commit/housekeeping metrics

package admin

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/arvindrathore/mvstore/internal/logger"
	"github.com/arvindrathore/mvstore/internal/metrics"
	"github.com/arvindrathore/mvstore/pkg/mvstore"
	"github.com/arvindrathore/mvstore/pkg/pagefile"
)

// NewHealthServer creates a gRPC health server reporting SERVING for the
// "mvstore" service name. cmd/mvstore's serve subcommand registers it
// against the same grpc.Server a future RPC surface would use; today it is
// the only thing that server hosts.
func NewHealthServer() *health.Server {
	h := health.NewServer()
	h.SetServingStatus("mvstore", healthpb.HealthCheckResponse_SERVING)
	return h
}

// RegisterHealth wires h into srv under the standard grpc_health_v1 service.
func RegisterHealth(srv *grpc.Server, h *health.Server) {
	healthpb.RegisterHealthServer(srv, h)
}

// GrpcMetricsInterceptor records request counts, durations, and in-flight
// gauges for every unary RPC, and logs completion via log.
func GrpcMetricsInterceptor(m *metrics.Metrics, log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		start := time.Now()
		m.GrpcRequestsInFlight.Inc()
		defer m.GrpcRequestsInFlight.Dec()

		resp, err := handler(ctx, req)

		duration := time.Since(start)
		status := "success"
		if err != nil {
			status = "error"
		}
		m.RecordGrpcRequest(info.FullMethod, status, duration)
		log.LogGrpcRequest(info.FullMethod, duration, err)

		return resp, err
	}
}

// Server is the HTTP side of the admin surface: Prometheus scrape target,
// a store-stats health check, and pprof profiling endpoints.
type Server struct {
	server *http.Server
	log    *logger.Logger
}

// NewServer builds the admin HTTP server. store is polled on every /health
// request to report current version and map count; a nil store is allowed
// (e.g. before a store has finished opening) and reports "starting".
func NewServer(port int, store *mvstore.Store, m *metrics.Metrics, log *logger.Logger) *Server {
	mux := http.NewServeMux()

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if store == nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			fmt.Fprint(w, `{"status":"starting","service":"mvstore"}`)
			return
		}
		stats := store.Stats()
		if m != nil {
			m.UpdateStoreStats(int64(stats.TotalBlocks)*pagefile.BlockSize, stats.OverallFill, stats.MapCount, stats.Version)
		}
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, `{"status":"healthy","service":"mvstore","version":%d,"maps":%d,"fill_rate":%.3f}`,
			stats.Version, stats.MapCount, stats.OverallFill)
	})

	mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, `{"status":"ready"}`)
	})

	mux.HandleFunc("/debug/pprof/", pprof.Index)
	mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
	mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
	mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
	mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
	mux.Handle("/debug/pprof/heap", pprof.Handler("heap"))
	mux.Handle("/debug/pprof/goroutine", pprof.Handler("goroutine"))
	mux.Handle("/debug/pprof/threadcreate", pprof.Handler("threadcreate"))
	mux.Handle("/debug/pprof/block", pprof.Handler("block"))
	mux.Handle("/debug/pprof/mutex", pprof.Handler("mutex"))
	mux.Handle("/debug/pprof/allocs", pprof.Handler("allocs"))

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{server: srv, log: log}
}

// Start runs the admin HTTP server; blocks until Shutdown or a listen error.
func (s *Server) Start() error {
	s.log.Info("admin server starting").Str("addr", s.server.Addr).Send()
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("admin server failed: %w", err)
	}
	return nil
}

// Shutdown gracefully stops the admin HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info("admin server shutting down").Send()
	return s.server.Shutdown(ctx)
}
