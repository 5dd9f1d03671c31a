package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.uber.org/zap"
	"google.golang.org/grpc"

	"github.com/arklim/zk-tenant-iam/internal/access"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
	"github.com/arklim/zk-tenant-iam/internal/infra/config"
	"github.com/arklim/zk-tenant-iam/internal/infra/database"
	kafkainfra "github.com/arklim/zk-tenant-iam/internal/infra/kafka"
	"github.com/arklim/zk-tenant-iam/internal/infra/logger"
	redisinfra "github.com/arklim/zk-tenant-iam/internal/infra/redis"
	"github.com/arklim/zk-tenant-iam/internal/infra/security"
	"github.com/arklim/zk-tenant-iam/internal/infra/telemetry"
	"github.com/arklim/zk-tenant-iam/internal/infra/zkp"
	"github.com/arklim/zk-tenant-iam/internal/repository"
	"github.com/arklim/zk-tenant-iam/internal/repository/kv"
	"github.com/arklim/zk-tenant-iam/internal/repository/memory"
	postgresrepo "github.com/arklim/zk-tenant-iam/internal/repository/postgres"
	redisrepo "github.com/arklim/zk-tenant-iam/internal/repository/redis"
	transportgrpc "github.com/arklim/zk-tenant-iam/internal/transport/grpc"
	grpcinterceptors "github.com/arklim/zk-tenant-iam/internal/transport/grpc/interceptors"
	"github.com/arklim/zk-tenant-iam/internal/transport/http/handlers"
	"github.com/arklim/zk-tenant-iam/internal/transport/http/middleware"
	"github.com/arklim/zk-tenant-iam/internal/transport/http/routes"
	"github.com/arklim/zk-tenant-iam/internal/usecase"
)

// Version is reported in traces. Overridden at build time with -ldflags.
var Version = "dev"

// store is what every persistence backend provides: the key-value contract plus counters.
type store interface {
	port.CredentialStore
	port.CounterStore
}

type Application struct {
	cfg        *config.AppConfig
	engine     *gin.Engine
	logger     *zap.Logger
	pool       *pgxpool.Pool
	redis      *redisinfra.Client
	producer   *kafkainfra.Producer
	tracer     *telemetry.TracerProvider
	grpcServer *transportgrpc.Server
	grpcAddr   string
}

func New(ctx context.Context, cfg *config.AppConfig) (*Application, error) {
	log, err := logger.New(logger.Options{Env: cfg.App.Env, Service: cfg.App.Name, Version: Version})
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}
	a := &Application{cfg: cfg, logger: log}

	a.tracer, err = telemetry.NewTracerProvider(ctx, cfg.Telemetry, Version, log)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	authMetrics, err := telemetry.NewAuthMetrics(prometheus.DefaultRegisterer, "")
	if err != nil {
		return nil, fmt.Errorf("init auth metrics: %w", err)
	}
	httpMetrics, err := middleware.NewHTTPMetrics(middleware.HTTPMetricsOptions{Registerer: prometheus.DefaultRegisterer})
	if err != nil {
		return nil, fmt.Errorf("init http metrics: %w", err)
	}

	kvStore, err := a.openStore(ctx)
	if err != nil {
		a.close()
		return nil, err
	}

	engine, artifacts, err := buildProofEngine(ctx, cfg, log)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init proof engine: %w", err)
	}
	pooled := zkp.NewPooledEngine(engine, cfg.Proof.Workers).WithObserver(authMetrics)
	guarded := zkp.NewReplayGuardedEngine(pooled, kv.NewReplayLedger(kvStore), cfg.Proof.ReplayWindow, log)
	log.Info("proof engine ready", zap.String("engine", engine.Name()), zap.Int("workers", cfg.Proof.Workers))

	keyProvider, err := security.NewKeyProvider(cfg.App.Env, cfg.JWT.KeyDirectory, cfg.JWT.SigningKeyID)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("init key provider: %w", err)
	}
	tokens := security.NewSessionTokenManager(keyProvider, cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.SessionTTL)

	eventPublisher := a.openPublisher()

	var auditRepo port.AuditRepository
	if cfg.Postgres.Enabled {
		a.pool, err = database.NewPostgresPool(ctx, cfg.Postgres, log)
		if err != nil {
			a.close()
			return nil, fmt.Errorf("init postgres: %w", err)
		}
		if cfg.Postgres.AutoMigrate {
			if err := database.Migrate(ctx, a.pool); err != nil {
				a.close()
				return nil, fmt.Errorf("migrate postgres: %w", err)
			}
		}
		auditRepo = postgresrepo.NewAuditRepository(a.pool)
	}

	users := kv.NewUserRepository(kvStore)
	limiter := usecase.NewRateLimiter(kvStore, usecase.LockoutPolicy{
		StrikeMemory: cfg.RateLimit.StrikeMemory,
		MaxLockout:   cfg.RateLimit.MaxLockout,
	}, log).WithObserver(authMetrics)
	sessions := usecase.NewSessionService(tokens, kv.NewSessionRevocationStore(kvStore), log)
	identity := usecase.NewIdentityService(usecase.IdentityConfig{
		LoginMaxAttempts: cfg.RateLimit.LoginMaxAttempts,
		LoginWindow:      cfg.RateLimit.WindowDuration,
	}, users, guarded, limiter, sessions, eventPublisher, log).WithObserver(authMetrics)
	resets := usecase.NewPasswordResetService(usecase.PasswordResetConfig{
		TokenTTL:      cfg.Reset.TokenTTL,
		MaxAttempts:   cfg.RateLimit.ResetMaxAttempts,
		Window:        cfg.RateLimit.WindowDuration,
		RevokeOnReset: cfg.Session.RevokeOnReset,
	}, users, kv.NewResetTokenRepository(kvStore), guarded, limiter, sessions, eventPublisher, log)
	rbac := usecase.NewRBACService(kv.NewRoleRepository(kvStore), kv.NewAssignmentRepository(kvStore), users, eventPublisher, log).
		WithObserver(authMetrics)

	if err := bootstrapRoles(ctx, cfg.App.BootstrapAdmin, users, rbac, log); err != nil {
		a.close()
		return nil, err
	}

	sinks := access.MultiSink{access.NewLogSink(log), access.NewPublisherSink(eventPublisher)}
	if auditRepo != nil {
		sinks = append(sinks, access.NewRepositorySink(auditRepo))
	}
	directory := access.NewStaticDirectory(cfg.App.Tenants)
	pipeline := access.NewPipeline(sinks, log,
		access.TenantStage{Directory: directory},
		access.AuthenticationStage{Sessions: sessions},
		access.AuthorizationStage{Authorizer: rbac},
	).WithObserver(authMetrics)
	sessionPipeline := access.NewPipeline(sinks, log,
		access.TenantStage{Directory: directory, Optional: true},
		access.AuthenticationStage{Sessions: sessions},
	).WithObserver(authMetrics)

	readiness := map[string]handlers.ReadinessCheck{"store": kvStore.Ping}
	if a.pool != nil {
		readiness["postgres"] = a.pool.Ping
	}

	a.engine = routes.Register(routes.Dependencies{
		Config:          cfg,
		Logger:          log,
		RateLimiter:     middleware.NewRateLimiter(limiter, log),
		Services:        routes.ServiceSet{Identity: identity, Resets: resets, RBAC: rbac},
		Pipeline:        pipeline,
		SessionPipeline: sessionPipeline,
		Keys:            tokens,
		Artifacts:       artifacts,
		Audit:           auditRepo,
		Metrics:         httpMetrics,
		Readiness:       readiness,
	})

	if cfg.GRPC.Enabled {
		grpcMetrics, err := grpcinterceptors.NewGRPCMetrics(grpcinterceptors.GRPCMetricsOptions{Registerer: prometheus.DefaultRegisterer})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("init grpc metrics: %w", err)
		}
		a.grpcServer, err = transportgrpc.NewServer(transportgrpc.ServerDependencies{
			Sessions: sessions,
			RBAC:     rbac,
			Keys:     tokens,
			Pipeline: pipeline,
			Metrics:  grpcMetrics,
			Tracing: &grpcinterceptors.TracingOptions{
				TracerProvider: otel.GetTracerProvider(),
				Propagators:    otel.GetTextMapPropagator(),
			},
			Logger: log,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("init grpc server: %w", err)
		}
		a.grpcAddr = fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
	}

	return a, nil
}

func (a *Application) openStore(ctx context.Context) (store, error) {
	switch a.cfg.Store.Driver {
	case "memory":
		a.logger.Warn("using in-memory credential store; state is lost on restart")
		return memory.NewStore(), nil
	default:
		client, err := redisinfra.NewClient(ctx, a.cfg.Redis, a.logger)
		if err != nil {
			return nil, fmt.Errorf("init redis: %w", err)
		}
		a.redis = client
		return redisrepo.NewStore(client.Client(), a.cfg.Store.KeyPrefix), nil
	}
}

func (a *Application) openPublisher() port.EventPublisher {
	if !a.cfg.Kafka.Enabled || len(a.cfg.Kafka.Brokers) == 0 {
		a.logger.Info("kafka disabled, using stub publisher")
		return kafkainfra.NewStubPublisher(a.logger)
	}
	producer, err := kafkainfra.NewProducer(a.cfg.Kafka, a.logger)
	if err != nil {
		a.logger.Warn("failed to init kafka producer, using stub publisher", zap.Error(err))
		return kafkainfra.NewStubPublisher(a.logger)
	}
	a.producer = producer
	a.logger.Info("kafka event publisher initialized", zap.Strings("brokers", a.cfg.Kafka.Brokers))
	return kafkainfra.NewEventPublisher(producer, a.cfg.App, a.logger)
}

// buildProofEngine selects the configured engine. The groth16 engine refuses to start without its
// artifacts.
func buildProofEngine(ctx context.Context, cfg *config.AppConfig, log *zap.Logger) (port.ProofEngine, *zkp.Artifacts, error) {
	if cfg.Proof.Engine == "argon2-fallback" {
		engine, err := zkp.NewFallbackEngine(security.Argon2Config{
			Memory:      cfg.Argon2.Memory,
			Iterations:  cfg.Argon2.Iterations,
			Parallelism: cfg.Argon2.Parallelism,
			KeyLength:   cfg.Argon2.KeyLength,
		}, log)
		if err != nil {
			return nil, nil, err
		}
		return engine, nil, nil
	}

	paths := zkp.ArtifactPaths{
		Circuit:         cfg.Proof.CircuitPath,
		ProvingKey:      cfg.Proof.ProvingKeyPath,
		VerificationKey: cfg.Proof.VerificationKeyPath,
	}
	var fetcher zkp.ObjectFetcher
	if paths.NeedsS3() {
		s3Fetcher, err := zkp.NewS3Fetcher(ctx, zkp.S3Settings{
			Region:          cfg.Proof.S3.Region,
			Endpoint:        cfg.Proof.S3.Endpoint,
			AccessKeyID:     cfg.Proof.S3.AccessKeyID,
			SecretAccessKey: cfg.Proof.S3.SecretAccessKey,
			UsePathStyle:    cfg.Proof.S3.UsePathStyle,
		})
		if err != nil {
			return nil, nil, err
		}
		fetcher = s3Fetcher
	}
	artifacts, err := zkp.LoadArtifacts(ctx, paths, fetcher, log)
	if err != nil {
		return nil, nil, err
	}
	return zkp.NewGroth16Engine(artifacts.Key, log), artifacts, nil
}

// bootstrapRoles provisions the global roles and grants Platform Admin to the configured user.
func bootstrapRoles(ctx context.Context, username string, users port.UserRepository, rbac *usecase.RBACService, log *zap.Logger) error {
	if _, err := rbac.EnsureGlobalRoles(ctx); err != nil {
		return fmt.Errorf("ensure global roles: %w", err)
	}
	if username == "" {
		return nil
	}
	user, err := users.GetByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			log.Warn("bootstrap admin is not registered yet", zap.String("username", logger.MaskUsername(username)))
			return nil
		}
		return fmt.Errorf("lookup bootstrap admin: %w", err)
	}
	if err := rbac.GrantPlatformAdmin(ctx, user.ID); err != nil {
		return fmt.Errorf("grant platform admin: %w", err)
	}
	return nil
}

func (a *Application) Run(ctx context.Context) error {
	defer a.close()

	grpcErrCh := make(chan error, 1)
	if a.grpcServer != nil {
		lis, err := net.Listen("tcp", a.grpcAddr)
		if err != nil {
			return fmt.Errorf("listen grpc: %w", err)
		}
		a.logger.Info("starting gRPC server", zap.String("address", a.grpcAddr))
		go func() {
			defer func() {
				if r := recover(); r != nil {
					a.logger.Error("gRPC server panicked", zap.Any("panic", r))
					grpcErrCh <- fmt.Errorf("grpc server panicked: %v", r)
				}
			}()
			if err := a.grpcServer.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				grpcErrCh <- fmt.Errorf("run grpc server: %w", err)
			}
		}()
	}

	srv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", a.cfg.App.Host, a.cfg.App.Port),
		Handler:           a.engine,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	a.logger.Info("starting ZK IAM API",
		zap.String("env", a.cfg.App.Env),
		zap.String("address", srv.Addr),
	)

	serverErrCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- fmt.Errorf("run server: %w", err)
		}
	}()

	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if a.grpcServer != nil {
			a.grpcServer.Shutdown()
		}
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutdown server: %w", err)
		}
		return nil
	case err := <-serverErrCh:
		return err
	case err := <-grpcErrCh:
		return err
	}
}

// close releases every opened resource. Safe to call on a partially built application.
func (a *Application) close() {
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("close kafka producer", zap.Error(err))
		}
		a.producer = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	if a.redis != nil {
		_ = a.redis.Close()
		a.redis = nil
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			a.logger.Warn("shutdown tracer", zap.Error(err))
		}
		a.tracer = nil
	}
	_ = a.logger.Sync()
}
