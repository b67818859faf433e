// worker deletes expired refresh sessions at start and every SWEEP_INTERVAL.
// With REDIS_ADDR set, a redis lock lets only one replica sweep per interval.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"easybaby/backend/internal/config"
	"easybaby/backend/internal/db"
	"easybaby/backend/internal/platform/lock"
	"easybaby/backend/internal/platform/logger"
	sessionrepo "easybaby/backend/internal/session/repository"
	sessionservice "easybaby/backend/internal/session/service"
	"easybaby/backend/internal/session/sweeper"
	"easybaby/backend/internal/telemetry"
	otelsetup "easybaby/backend/internal/telemetry/otel"
)

func main() {
	metricsAddr := flag.String("metrics-addr", ":9102", "Address for /metrics; empty disables it")
	once := flag.Bool("once", false, "Sweep once and exit")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.SessionStore != config.StorePostgres {
		log.Fatal("worker: SESSION_STORE must be postgres; the memory store lives inside the server process")
	}
	lg, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()
	lg = logger.WithComponent(lg, "worker")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	providers, err := otelsetup.NewProviders(ctx, otelsetup.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: cfg.ServiceName + "-worker",
		Environment: cfg.Env,
	})
	if err != nil {
		lg.Fatal("otel", zap.Error(err))
	}
	providers.SetGlobal()
	defer func() { _ = providers.Shutdown(context.Background()) }()

	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		lg.Fatal("db", zap.Error(err))
	}
	defer sqlDB.Close()
	gdb, err := db.OpenGorm(sqlDB)
	if err != nil {
		lg.Fatal("gorm", zap.Error(err))
	}

	reg := prometheus.NewRegistry()
	metrics := telemetry.NewMetrics(reg)

	// CleanupExpired never signs or verifies tokens, so no signer is configured.
	mgr := sessionservice.NewManager(sessionrepo.NewPostgresRepository(gdb), nil,
		sessionservice.WithLogger(logger.WithComponent(lg, "session")),
		sessionservice.WithMetrics(metrics),
	)

	opts := []sweeper.Option{sweeper.WithLogger(lg), sweeper.WithMetrics(metrics)}
	if cfg.RedisAddr != "" {
		client, err := lock.Open(ctx, cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err != nil {
			lg.Fatal("redis", zap.Error(err))
		}
		defer client.Close()
		opts = append(opts, sweeper.WithLocker(lock.NewRedisLocker(client, ""), cfg.SweepLockTTL()))
		lg.Info("sweeper lock enabled", zap.String("redis_addr", cfg.RedisAddr))
	}
	sw := sweeper.New(mgr, cfg.SweepInterval(), opts...)

	if *once {
		result, n := sw.RunOnce(ctx)
		lg.Info("sweep finished", zap.String("result", result), zap.Int64("deleted", n))
		if result == sweeper.ResultError {
			os.Exit(1)
		}
		return
	}

	if *metricsAddr != "" {
		gin.SetMode(gin.ReleaseMode)
		r := gin.New()
		r.GET("/metrics", gin.WrapH(telemetry.Handler(reg)))
		srv := &http.Server{Addr: *metricsAddr, Handler: r, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				lg.Error("metrics server", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	lg.Info("sweeper started", zap.Duration("interval", cfg.SweepInterval()))
	sw.Run(ctx)
	lg.Info("sweeper stopped")
}
