// server runs the HTTP API (auth and sessions) and the gRPC health endpoint.
package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"

	"easybaby/backend/internal/audit"
	auditrepo "easybaby/backend/internal/audit/repository"
	"easybaby/backend/internal/config"
	"easybaby/backend/internal/db"
	healthhandler "easybaby/backend/internal/health/handler"
	identityservice "easybaby/backend/internal/identity/service"
	"easybaby/backend/internal/platform/logger"
	"easybaby/backend/internal/policy/engine"
	"easybaby/backend/internal/security"
	"easybaby/backend/internal/server"
	"easybaby/backend/internal/server/middleware"
	sessionrepo "easybaby/backend/internal/session/repository"
	sessionservice "easybaby/backend/internal/session/service"
	"easybaby/backend/internal/telemetry"
	otelsetup "easybaby/backend/internal/telemetry/otel"
	"easybaby/backend/internal/telemetry/producer"
	userrepo "easybaby/backend/internal/user/repository"
)

const shutdownTimeout = 15 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lg, err := logger.New(cfg.LogLevel, cfg.Env)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer func() { _ = lg.Sync() }()
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, lg); err != nil {
		lg.Fatal("server exited", zap.Error(err))
	}
}

// stores are the repositories behind the configured SESSION_STORE.
type stores struct {
	sessions sessionrepo.Repository
	users    userrepo.Repository
	audit    auditrepo.Repository // nil for the memory store
	sqlDB    *sql.DB              // nil for the memory store
}

func openStores(cfg *config.Config, lg *zap.Logger) (*stores, error) {
	if cfg.SessionStore == config.StoreMemory {
		lg.Warn("using in-memory session store; sessions are lost on restart")
		return &stores{
			sessions: sessionrepo.NewMemoryRepository(),
			users:    userrepo.NewMemoryRepository(),
		}, nil
	}
	sqlDB, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	gdb, err := db.OpenGorm(sqlDB)
	if err != nil {
		_ = sqlDB.Close()
		return nil, err
	}
	return &stores{
		sessions: sessionrepo.NewPostgresRepository(gdb),
		users:    userrepo.NewPostgresRepository(gdb),
		audit:    auditrepo.NewPostgresRepository(gdb),
		sqlDB:    sqlDB,
	}, nil
}

func run(ctx context.Context, cfg *config.Config, lg *zap.Logger) error {
	providers, err := otelsetup.NewProviders(ctx, otelsetup.Config{
		Endpoint:    cfg.OTLPEndpoint,
		Insecure:    cfg.OTLPInsecure,
		ServiceName: cfg.ServiceName,
		Environment: cfg.Env,
	})
	if err != nil {
		return err
	}
	providers.SetGlobal()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := telemetry.NewMetrics(reg)

	tokens, err := security.NewTokenProviderFromConfig(cfg.JWTSecret, cfg.JWTPrivateKey, cfg.JWTPublicKey,
		cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTTL())
	if err != nil {
		return err
	}
	lg.Info("token provider ready", zap.String("alg", tokens.Alg()), zap.Duration("access_ttl", cfg.AccessTTL()))

	st, err := openStores(cfg, lg)
	if err != nil {
		return err
	}
	var pinger healthhandler.Pinger
	if st.sqlDB != nil {
		defer st.sqlDB.Close()
		pinger = st.sqlDB
	}

	emitters := telemetry.MultiEmitter{otelsetup.NewEventEmitter(providers.LoggerProvider)}
	events := producer.Noop()
	if brokers := cfg.KafkaBrokersList(); len(brokers) > 0 {
		kp, err := producer.NewKafkaProducer(brokers, cfg.SecurityEventsTopic)
		if err != nil {
			return err
		}
		events = kp
		lg.Info("security events to kafka", zap.Strings("brokers", brokers), zap.String("topic", kp.Topic()))
	}
	emitters = append(emitters, events)
	var auditLogger audit.AuditLogger
	if st.audit != nil {
		al := audit.NewLogger(st.audit, middleware.ClientIP, logger.WithComponent(lg, "audit"))
		auditLogger = al
		emitters = append(emitters, al)
	}

	mgr := sessionservice.NewManager(st.sessions, tokens,
		sessionservice.WithTTL(cfg.RefreshTTL()),
		sessionservice.WithMaxSessions(cfg.MaxSessionsPerUser),
		sessionservice.WithLogger(logger.WithComponent(lg, "session")),
		sessionservice.WithMetrics(metrics),
		sessionservice.WithEmitter(emitters),
	)

	module, err := engine.LoadPolicyFile(cfg.SessionLimitPolicyFile)
	if err != nil {
		return err
	}
	policy, err := engine.NewOPAEvaluator(ctx, module, logger.WithComponent(lg, "policy"))
	if err != nil {
		return err
	}

	auth := identityservice.NewAuthService(st.users, mgr, tokens, security.NewHasher(cfg.BcryptCost),
		identityservice.WithPolicy(policy, cfg.SessionLimitPolicy),
		identityservice.WithAuditLogger(auditLogger),
		identityservice.WithMetrics(metrics),
		identityservice.WithEmitter(emitters),
		identityservice.WithLogger(logger.WithComponent(lg, "auth")),
	)

	grpcHealth := health.NewServer()
	healthH := healthhandler.NewHandler(pinger, policy, grpcHealth, logger.WithComponent(lg, "health"))
	if _, ok := healthH.Check(ctx); !ok {
		lg.Warn("not ready at startup")
	}

	router := server.NewRouter(server.Deps{
		Auth:        auth,
		Sessions:    mgr,
		Tokens:      tokens,
		Health:      healthH,
		AuditLogger: auditLogger,
		Metrics:     metrics,
		Gatherer:    reg,
		Logger:      logger.WithComponent(lg, "http"),
	})
	httpSrv := &http.Server{Addr: cfg.HTTPAddr, Handler: router, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 2)
	go func() {
		lg.Info("HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var grpcSrv *grpc.Server
	if cfg.GRPCAddr != "" {
		lis, err := net.Listen("tcp", cfg.GRPCAddr)
		if err != nil {
			return err
		}
		grpcSrv = server.NewGRPCServer(grpcHealth)
		go func() {
			lg.Info("gRPC health server listening", zap.String("addr", cfg.GRPCAddr))
			if err := grpcSrv.Serve(lis); err != nil {
				errCh <- err
			}
		}()
	}

	var runErr error
	select {
	case <-ctx.Done():
		lg.Info("shutting down")
	case runErr = <-errCh:
		lg.Error("server failed", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	grpcHealth.Shutdown()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		lg.Warn("http shutdown", zap.Error(err))
	}
	if grpcSrv != nil {
		grpcSrv.GracefulStop()
	}
	// Let in-flight async security events finish before closing their sinks.
	time.Sleep(telemetry.ShutdownDrainDuration)
	if err := events.Close(); err != nil {
		lg.Warn("kafka producer close", zap.Error(err))
	}
	if err := providers.Shutdown(shutdownCtx); err != nil {
		lg.Warn("otel shutdown", zap.Error(err))
	}
	return runErr
}
