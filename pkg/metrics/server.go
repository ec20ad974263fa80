package metrics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Server provides HTTP endpoints for health checks and metrics.
type Server struct {
	Address string
	Logger  *slog.Logger
}

// NewServer creates a new metrics server.
func NewServer(address string, logger *slog.Logger) (result *Server) {
	result = &Server{
		Address: address,
		Logger:  logger,
	}

	return result
}

// Handler returns the mux serving /healthz, /readyz and /metrics.
func (s *Server) Handler() (handler http.Handler) {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", s.LivenessHandler)
	mux.HandleFunc("/readyz", s.ReadinessHandler)
	mux.Handle("/metrics", promhttp.Handler())

	handler = mux
	return handler
}

// Start serves metrics until ctx is cancelled.
func (s *Server) Start(ctx context.Context) (err error) {
	server := &http.Server{
		Addr:              s.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.Logger.InfoContext(ctx, "starting metrics server", slog.String("address", s.Address))

		startErr := server.ListenAndServe()
		if startErr != nil && !errors.Is(startErr, http.ErrServerClosed) {
			errChan <- startErr
		}
		close(errChan)
	}()

	select {
	case startErr, ok := <-errChan:
		if ok && startErr != nil {
			err = fmt.Errorf("metrics server: %w", startErr)
			return err
		}
		return err

	case <-ctx.Done():
	}

	s.Logger.InfoContext(ctx, "shutting down metrics server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = server.Shutdown(shutdownCtx)
	if err != nil {
		err = fmt.Errorf("shutting down metrics server: %w", err)
		return err
	}

	return err
}

// LivenessHandler handles liveness probe requests.
func (s *Server) LivenessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

// ReadinessHandler handles readiness probe requests.
func (s *Server) ReadinessHandler(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}
