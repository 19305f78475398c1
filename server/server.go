// Package server exposes the HTTP trigger for chat collections plus health,
// session status, run history and metrics. It injects correlation IDs into
// request contexts for consistent logging and tracing.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/streampulse/collector/telemetry"
)

// Options configures the HTTP surface.
type Options struct {
	// Token protects POST /crawler when set.
	Token     string
	RateLimit RateLimitConfig
}

// NewMux returns the HTTP handler with all routes.
// The provided context bounds the rate limiter cleanup goroutine.
func NewMux(ctx context.Context, h *Handlers, opts Options) http.Handler {
	limiter := newIPRateLimiter(ctx, opts.RateLimit)
	auth := tokenAuthConfig{token: opts.Token}
	if auth.token == "" {
		slog.Warn("COLLECTOR_TOKEN not set - POST /crawler is UNPROTECTED", slog.String("component", "http"))
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.HandleFunc("/readyz", h.HandleReadyz)

	// triggers are authenticated first, then rate limited
	mux.Handle("/crawler", tokenAuth(rateLimitMiddleware(http.HandlerFunc(h.HandleCrawler), limiter), auth))

	mux.HandleFunc("/sessions", h.HandleSessionsList)
	mux.HandleFunc("/sessions/", h.HandleSessionDetail)
	mux.HandleFunc("/runs", h.HandleRunsList)

	return withCorrelation(mux)
}

// withCorrelation reuses or assigns X-Correlation-ID and wraps the request in a span.
func withCorrelation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		corr := r.Header.Get("X-Correlation-ID")
		if corr == "" {
			corr = uuid.New().String()
		}
		ctx := telemetry.WithCorrelation(r.Context(), corr)
		w.Header().Set("X-Correlation-ID", corr)

		ctx, span := telemetry.StartSpan(ctx, "http-server", r.Method+" "+r.URL.Path,
			telemetry.HTTPMethodAttr(r.Method),
			telemetry.HTTPRouteAttr(r.URL.Path),
			telemetry.HTTPURLAttr(r.URL.String()),
		)
		defer span.End()

		telemetry.LoggerWithCorr(ctx).Debug("request start", slog.String("method", r.Method), slog.String("path", r.URL.Path), slog.String("component", "http"))

		wrappedWriter := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
		next.ServeHTTP(wrappedWriter, r.WithContext(ctx))

		telemetry.SetSpanHTTPStatus(span, wrappedWriter.statusCode)
		if wrappedWriter.statusCode >= 400 {
			code, msg := telemetry.ErrorStatus(fmt.Sprintf("HTTP %d", wrappedWriter.statusCode))
			span.SetStatus(code, msg)
		}
	})
}

// statusRecorder wraps ResponseWriter to capture status code
type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (r *statusRecorder) WriteHeader(statusCode int) {
	r.statusCode = statusCode
	r.ResponseWriter.WriteHeader(statusCode)
}

// Start runs the HTTP server and shuts down gracefully on context cancellation.
// ready, when non-nil, receives the bound address once the listener is open.
func Start(ctx context.Context, handler http.Handler, addr string, ready chan<- string) error {
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		slog.Error("http server listen error", slog.String("addr", addr), slog.Any("err", err))
		return err
	}
	if ready != nil {
		ready <- ln.Addr().String()
	}
	slog.Info("http server listening", slog.String("addr", ln.Addr().String()))

	go func() {
		<-ctx.Done()
		// WithoutCancel keeps context values but lets shutdown complete
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("http server shutdown error", slog.Any("err", err))
		}
	}()

	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("http server error", slog.Any("err", err))
		return err
	}
	return nil
}
