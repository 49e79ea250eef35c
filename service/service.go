// Package service exposes health and Prometheus endpoints while a run is in flight.
package service

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"github.com/ethereum-optimism/infra/op-parallel/metrics"
)

const shutdownTimeout = 5 * time.Second

// Service serves /healthz, /readyz and /metrics on one listener
type Service struct {
	Healthz *HealthzServer

	log      log.Logger
	server   *http.Server
	listener net.Listener
}

// New creates a Service that is not yet listening
func New(logger log.Logger) *Service {
	return &Service{
		Healthz: &HealthzServer{log: logger},
		log:     logger.New("component", "service"),
	}
}

// Start binds addr and serves in the background. It returns once the
// listener is bound so the address is usable straight away.
func (s *Service) Start(addr string) error {
	s.log.Info("service starting", "addr", addr)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.Healthz.Handle)
	mux.HandleFunc("/readyz", s.Healthz.HandleReady)
	mux.Handle("/metrics", promhttp.Handler())
	c := cors.New(cors.Options{
		AllowedOrigins: []string{"*"},
	})

	listener, err := net.Listen("tcp", addr)
	if err != nil {
		metrics.RecordErrorDetails("service_listen", err)
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener
	s.server = &http.Server{
		Handler:           c.Handler(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("error serving http", "err", err)
			metrics.RecordErrorDetails("service_serve", err)
		}
	}()

	s.log.Info("service started", "addr", listener.Addr().String())
	return nil
}

// Addr returns the bound address, empty before Start
func (s *Service) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Shutdown stops the server, waiting briefly for in-flight requests
func (s *Service) Shutdown() {
	if s.server == nil {
		return
	}
	s.log.Info("service shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.log.Warn("service shutdown failed", "err", err)
	}
	s.log.Info("service stopped")
}
