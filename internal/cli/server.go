package cli

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/gogpu/cedartoy"
	"github.com/gogpu/cedartoy/metrics"
)

// NewRouter serves the Prometheus metrics of g on /metrics and a liveness
// probe on /healthz.
func NewRouter(g prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok\n"))
	})
	r.Handle("/metrics", metrics.Handler(g))
	return r
}

// metricsServer serves NewRouter on addr until stop is called.
type metricsServer struct {
	srv  *http.Server
	done chan struct{}
}

func startMetricsServer(addr string, g prometheus.Gatherer) (*metricsServer, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, err
	}
	s := &metricsServer{
		srv: &http.Server{
			Handler:           NewRouter(g),
			ReadHeaderTimeout: 5 * time.Second,
		},
		done: make(chan struct{}),
	}
	log := cedartoy.Logger()
	log.Info("cli: metrics server listening", "addr", ln.Addr().String())
	go func() {
		defer close(s.done)
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("cli: metrics server", "error", err)
		}
	}()
	return s, nil
}

func (s *metricsServer) stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.Shutdown(ctx); err != nil {
		cedartoy.Logger().Warn("cli: metrics server shutdown", "error", err)
	}
	<-s.done
}
