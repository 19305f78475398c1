// Command collector is the chat collection service.
// It:
//   - Loads configuration and initializes structured logging.
//   - Optionally connects to Postgres for run history and applies migrations.
//   - Builds the collector: join payload source, chat socket dialer and backend delivery.
//   - Exposes POST /crawler to start collections, plus /sessions, /runs, /healthz, /readyz and /metrics.
//
// Shutdown is graceful on SIGINT/SIGTERM: running sessions finalize early and still deliver.
package main

import (
	"context"
	"log/slog"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // G108: pprof endpoints enabled only when ENABLE_PPROF=1
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/streampulse/collector/chat"
	"github.com/streampulse/collector/config"
	"github.com/streampulse/collector/credential"
	"github.com/streampulse/collector/db"
	"github.com/streampulse/collector/delivery"
	"github.com/streampulse/collector/server"
	"github.com/streampulse/collector/telemetry"
)

func main() {
	// Load .env file if present (local dev convenience only; production relies on real env)
	_ = godotenv.Load()

	// Configure logging (level + format). Defaults: level=info, format=text.
	lvl := slog.LevelInfo
	switch strings.ToLower(os.Getenv("LOG_LEVEL")) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	case "info", "":
	default:
		tmp := slog.New(slog.NewTextHandler(os.Stdout, nil))
		tmp.Warn("unknown LOG_LEVEL, using info", slog.String("value", os.Getenv("LOG_LEVEL")))
	}
	format := strings.ToLower(os.Getenv("LOG_FORMAT")) // text | json
	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	default:
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: lvl})
	}
	slog.SetDefault(slog.New(handler))
	slog.Info("logger initialized", slog.String("level", lvl.String()), slog.String("format", map[bool]string{true: "json", false: "text"}[format == "json"]))

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", slog.Any("err", err))
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		slog.Error("config invalid", slog.Any("err", err))
		os.Exit(1)
	}

	telemetry.Init()

	// Tracing is optional; it stays off without OTEL_EXPORTER_OTLP_ENDPOINT
	shutdownTracing, err := telemetry.InitTracing(cfg.ServiceName, cfg.ServiceVersion, cfg.OTLPEndpoint)
	if err != nil {
		slog.Error("tracing initialization failed", slog.Any("err", err))
		os.Exit(1)
	}
	defer shutdownTracing()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run history (optional)
	var runs *db.RunStore
	if cfg.HistoryEnabled() {
		database, err := db.Connect(ctx, cfg.DBDsn)
		if err != nil {
			slog.Error("failed to open db", slog.Any("err", err))
			os.Exit(1)
		}
		defer func() {
			if err := database.Close(); err != nil {
				slog.Error("failed to close database", slog.Any("err", err))
			}
		}()
		slog.Info("running database migrations", slog.String("component", "db_migrate"))
		if err := db.Migrate(database); err != nil {
			slog.Error("failed to migrate db", slog.Any("err", err))
			os.Exit(1)
		}
		runs = db.NewRunStore(database)
		go db.StartRetentionJob(ctx, runs, db.RetentionPolicy{MaxAge: cfg.RunRetention, Interval: cfg.RunRetentionInterval})
	} else {
		slog.Info("run history disabled (DB_DSN not set)")
	}

	var source chat.JoinSource
	if cfg.JoinSourceURL != "" {
		source = credential.NewHTTPSource(cfg.JoinSourceURL, cfg.JoinTimeout)
		slog.Info("join payloads from sidecar", slog.String("url", cfg.JoinSourceURL))
	} else {
		source = credential.StaticSource{Payload: []byte(cfg.JoinPayload)}
		slog.Warn("using static JOIN_PAYLOAD for every channel (dev mode)")
	}

	collectorCfg := chat.CollectorConfig{
		Dialer:    chat.WSDialer{URL: cfg.ChatURL, Origin: cfg.ChatOrigin},
		Source:    source,
		Deliverer: delivery.New(cfg.BackendBaseURL, cfg.DeliveryTimeout),
		Session: chat.Options{
			Window:             cfg.CollectWindow,
			PingInterval:       cfg.PingInterval,
			RecentMessageCount: cfg.RecentMessageCount,
			Reconnect: chat.ReconnectPolicy{
				MaxAttempts: cfg.ReconnectMaxAttempts,
				MaxBackoff:  cfg.ReconnectMaxBackoff,
			},
		},
		JoinTimeout:     cfg.JoinTimeout,
		DeliveryTimeout: cfg.DeliveryTimeout,
		MaxConcurrent:   cfg.MaxConcurrentSessions,
		RecentOutcomes:  cfg.RecentOutcomes,
	}
	var history server.RunHistory
	if runs != nil {
		collectorCfg.Recorder = runs
		history = runs
	}
	collector := chat.NewCollector(ctx, collectorCfg)

	// Enable pprof profiling endpoints in debug mode (ENABLE_PPROF=1)
	if os.Getenv("ENABLE_PPROF") == "1" {
		pprofAddr := os.Getenv("PPROF_ADDR")
		if pprofAddr == "" {
			pprofAddr = "localhost:6060"
		}
		go func() {
			slog.Info("pprof profiling enabled", slog.String("addr", pprofAddr))
			srv := &http.Server{
				Addr:              pprofAddr,
				Handler:           nil, // default mux exposes /debug/pprof
				ReadHeaderTimeout: 5 * time.Second,
				ReadTimeout:       10 * time.Second,
				WriteTimeout:      10 * time.Second,
				IdleTimeout:       60 * time.Second,
			}
			if err := srv.ListenAndServe(); err != nil {
				slog.Error("pprof server error", slog.Any("err", err))
			}
		}()
	}

	mux := server.NewMux(ctx, server.NewHandlers(collector, history), server.Options{
		Token: cfg.CollectorToken,
		RateLimit: server.RateLimitConfig{
			Enabled:       cfg.RateLimitEnabled,
			RequestsPerIP: cfg.RateLimitPerIP,
			Window:        time.Duration(cfg.RateLimitWindow) * time.Second,
		},
	})
	go func() {
		if err := server.Start(ctx, mux, cfg.HTTPAddr, nil); err != nil {
			slog.Error("http server exited with error", slog.Any("err", err))
			stop()
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down; finalizing in-flight collections", slog.Int("in_flight", collector.InFlight()))
	collector.Wait()
	slog.Info("shutdown complete")
}
