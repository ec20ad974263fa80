package mcp

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/mcp-servers-for-revit/revit-mcp/pkg/mcp/auth"
	"github.com/mcp-servers-for-revit/revit-mcp/pkg/metrics"
)

// HTTP paths served by the listener.
const (
	PathHealth = "/health"
	PathAuth   = "/auth"
	PathSSE    = "/sse"
	PathMCP    = "/mcp"
)

const shutdownTimeout = 5 * time.Second

// HTTPOptions configures the HTTP listener.
type HTTPOptions struct {
	Addr      string
	Transport Transport
	// AuthChain guards the MCP endpoints. Nil disables authentication.
	AuthChain *auth.Chain
	// TLSCertFile and TLSKeyFile enable HTTPS when both are set.
	TLSCertFile string
	TLSKeyFile  string
	// TLSConfig is applied to the listener, typically to request client certificates.
	TLSConfig *tls.Config
}

// HTTPServer serves MCP over SSE and/or streamable HTTP.
type HTTPServer struct {
	server     *Server
	logger     *slog.Logger
	opts       HTTPOptions
	router     *chi.Mux
	httpServer *http.Server
}

// NewHTTPServer creates the HTTP listener for an MCP server.
func NewHTTPServer(mcpServer *Server, opts HTTPOptions, logger *slog.Logger) (result *HTTPServer, err error) {
	if !opts.Transport.IsHTTP() {
		err = fmt.Errorf("transport %q is not served over HTTP", opts.Transport)
		return result, err
	}

	if (opts.TLSCertFile == "") != (opts.TLSKeyFile == "") {
		err = errors.New("TLS needs both a certificate and a key file")
		return result, err
	}

	result = &HTTPServer{
		server: mcpServer,
		logger: logger,
		opts:   opts,
		router: chi.NewRouter(),
	}

	result.routes()

	result.httpServer = &http.Server{
		Addr:              opts.Addr,
		Handler:           result.router,
		ReadHeaderTimeout: 10 * time.Second,
		TLSConfig:         opts.TLSConfig,
	}

	return result, err
}

func (h *HTTPServer) routes() {
	getServer := func(*http.Request) *mcp.Server {
		return h.server.SDK()
	}

	h.router.Use(middleware.RequestID)
	h.router.Use(middleware.RealIP)
	h.router.Use(h.requestLogger)
	h.router.Use(middleware.Recoverer)

	h.router.Get(PathHealth, h.handleHealth)
	h.router.HandleFunc(PathAuth, h.handleAuth)

	h.router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(h.opts.AuthChain, h.logger))

		if h.opts.Transport.ServesSSE() {
			r.Handle(PathSSE, countSessions(mcp.NewSSEHandler(getServer, nil)))
		}

		if h.opts.Transport.ServesStreamable() {
			r.Handle(PathMCP, mcp.NewStreamableHTTPHandler(getServer, &mcp.StreamableHTTPOptions{
				Stateless:    true,
				JSONResponse: true,
				Logger:       h.logger,
			}))
		}
	})
}

// Handler returns the router, for embedding or tests.
func (h *HTTPServer) Handler() (handler http.Handler) {
	handler = h.router
	return handler
}

// Start listens until Shutdown is called.
func (h *HTTPServer) Start(ctx context.Context) (err error) {
	useTLS := h.opts.TLSCertFile != ""

	h.logger.InfoContext(ctx, "starting MCP HTTP server",
		slog.String("addr", h.httpServer.Addr),
		slog.String("transport", string(h.opts.Transport)),
		slog.Bool("tls", useTLS),
		slog.Bool("auth", h.opts.AuthChain != nil),
	)

	if useTLS {
		err = h.httpServer.ListenAndServeTLS(h.opts.TLSCertFile, h.opts.TLSKeyFile)
	} else {
		err = h.httpServer.ListenAndServe()
	}

	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		err = fmt.Errorf("MCP HTTP server: %w", err)
		return err
	}

	err = nil
	return err
}

// Shutdown gracefully shuts down the HTTP server.
func (h *HTTPServer) Shutdown(ctx context.Context) (err error) {
	h.logger.InfoContext(ctx, "shutting down MCP HTTP server")

	err = h.httpServer.Shutdown(ctx)
	return err
}

// handleHealth returns server health status.
func (h *HTTPServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)

	response := map[string]any{
		"status":    "healthy",
		"service":   ServerName,
		"version":   h.server.Version(),
		"transport": string(h.opts.Transport),
	}

	_ = json.NewEncoder(w).Encode(response)
}

// handleAuth reports whether the request's credentials are accepted.
func (h *HTTPServer) handleAuth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	encoder := json.NewEncoder(w)

	if h.opts.AuthChain == nil {
		w.WriteHeader(http.StatusOK)
		_ = encoder.Encode(map[string]any{
			"authenticated": true,
			"message":       "Authentication disabled - no methods configured",
		})
		return
	}

	result, err := h.opts.AuthChain.Authenticate(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		_ = encoder.Encode(map[string]any{
			"authenticated": false,
			"error":         err.Error(),
		})
		return
	}

	w.WriteHeader(http.StatusOK)
	_ = encoder.Encode(result)
}

// requestLogger logs each HTTP request with its chi request id.
func (h *HTTPServer) requestLogger(next http.Handler) (wrapped http.Handler) {
	wrapped = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		h.logger.DebugContext(r.Context(), "http request",
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Duration("duration", time.Since(start)),
		)
	})

	return wrapped
}

// countSessions tracks open SSE streams in the sessions gauge.
func countSessions(next http.Handler) (wrapped http.Handler) {
	wrapped = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			metrics.SessionsActive.Inc()
			defer metrics.SessionsActive.Dec()
		}

		next.ServeHTTP(w, r)
	})

	return wrapped
}

// RunHTTP serves MCP over HTTP until ctx is cancelled, then shuts down gracefully.
func (s *Server) RunHTTP(ctx context.Context, opts HTTPOptions) (err error) {
	httpServer, err := NewHTTPServer(s, opts, s.logger)
	if err != nil {
		return err
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	err = httpServer.Start(ctx)
	return err
}
