package routes

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/arklim/zk-tenant-iam/internal/access"
	"github.com/arklim/zk-tenant-iam/internal/core/domain"
	"github.com/arklim/zk-tenant-iam/internal/core/port"
	"github.com/arklim/zk-tenant-iam/internal/infra/config"
	"github.com/arklim/zk-tenant-iam/internal/infra/zkp"
	"github.com/arklim/zk-tenant-iam/internal/transport/http/handlers"
	"github.com/arklim/zk-tenant-iam/internal/transport/http/middleware"
	"github.com/arklim/zk-tenant-iam/internal/usecase"
)

// ServiceSet groups the services the HTTP layer depends on.
type ServiceSet struct {
	Identity *usecase.IdentityService
	Resets   *usecase.PasswordResetService
	RBAC     *usecase.RBACService
}

// Dependencies encapsulates the objects required to register routes.
type Dependencies struct {
	Config      *config.AppConfig
	Logger      *zap.Logger
	RateLimiter *middleware.RateLimiter
	Services    ServiceSet
	// Pipeline guards tenant-scoped routes; SessionPipeline only needs a valid session.
	Pipeline        *access.Pipeline
	SessionPipeline *access.Pipeline
	Keys            handlers.KeySetSource
	Artifacts       *zkp.Artifacts
	Audit           port.AuditRepository
	Metrics         *middleware.HTTPMetrics
	Gatherer        prometheus.Gatherer
	Readiness       map[string]handlers.ReadinessCheck
}

// Register configures the Gin engine with routes and middleware.
func Register(deps Dependencies) *gin.Engine {
	cfg := deps.Config
	if cfg == nil {
		cfg = &config.AppConfig{}
	}
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.Tracing())
	r.Use(middleware.EnrichContext())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(deps.Logger))
	r.Use(deps.Metrics.Handler())
	r.Use(middleware.CORS(cfg.App.CORSOrigins))

	healthHandler := handlers.NewHealthHandler(deps.Readiness)
	r.GET("/healthz", healthHandler.Status)
	r.GET("/readyz", healthHandler.Ready)

	if deps.Gatherer != nil {
		r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{})))
	} else {
		r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}
	r.GET("/.well-known/jwks.json", handlers.NewJWKSHandler(deps.Keys).Keys)

	csrf := middleware.NewCSRF(cfg.CSRF)
	api := r.Group("/api/v1")
	{
		authHandler := handlers.NewAuthHandler(deps.Services.Identity, deps.Services.Resets,
			handlers.WithCSRF(csrf),
			handlers.WithArtifacts(deps.Artifacts),
			handlers.WithDevMode(cfg.App.Env == "development"),
		)

		authGroup := api.Group("/auth")
		authGroup.GET("/csrf", authHandler.CSRFToken)
		authGroup.GET("/artifacts/:name", authHandler.Artifact)
		authGroup.GET("/salt/:username", chain(saltLimit(deps, cfg), authHandler.Salt)...)
		authGroup.POST("/register", csrf.Require(), authHandler.Register)
		authGroup.POST("/verify", csrf.Require(), authHandler.Verify)
		authGroup.POST("/logout", protect(deps.SessionPipeline, "auth.logout", nil, ""), authHandler.Logout)

		resetGroup := authGroup.Group("/reset")
		resetGroup.Use(resetLimit(deps, cfg)...)
		resetGroup.POST("/request", csrf.Require(), authHandler.RequestReset)
		resetGroup.POST("/confirm", csrf.Require(), authHandler.ConfirmReset)

		roleHandler := handlers.NewRoleHandler(deps.Services.RBAC)
		roles := api.Group("/roles")
		roles.GET("", protect(deps.Pipeline, "roles.list", middleware.Require(domain.ResourceRole, domain.ActionRead), ""), roleHandler.ListRoles)
		roles.POST("", protect(deps.Pipeline, "roles.create", middleware.Require(domain.ResourceRole, domain.ActionCreate), ""), roleHandler.CreateRole)
		roles.POST("/provision", protect(deps.Pipeline, "roles.provision", middleware.Require(domain.ResourceRole, domain.ActionManage), ""), roleHandler.ProvisionRoles)
		roles.GET("/:id", protect(deps.Pipeline, "roles.get", middleware.Require(domain.ResourceRole, domain.ActionRead), "id"), roleHandler.GetRole)
		roles.PUT("/:id", protect(deps.Pipeline, "roles.update", middleware.Require(domain.ResourceRole, domain.ActionUpdate), "id"), roleHandler.UpdateRole)
		roles.DELETE("/:id", protect(deps.Pipeline, "roles.delete", middleware.Require(domain.ResourceRole, domain.ActionDelete), "id"), roleHandler.DeleteRole)
		roles.POST("/:id/assignments", protect(deps.Pipeline, "roles.assign", middleware.Require(domain.ResourceRole, domain.ActionUpdate), "id"), roleHandler.AssignRole)
		roles.DELETE("/:id/assignments/:userId", protect(deps.Pipeline, "roles.unassign", middleware.Require(domain.ResourceRole, domain.ActionUpdate), "id"), roleHandler.UnassignRole)

		permissionHandler := handlers.NewPermissionHandler(deps.Services.RBAC)
		permissions := api.Group("/permissions")
		permissions.POST("/check", protect(deps.Pipeline, "permissions.check", nil, ""), permissionHandler.Check)
		permissions.GET("/effective", protect(deps.Pipeline, "permissions.effective", nil, ""), permissionHandler.Effective)

		userHandler := handlers.NewUserHandler(deps.Services.Identity, deps.Services.RBAC)
		users := api.Group("/users")
		users.POST("/:user/lock", protect(deps.Pipeline, "users.lock", middleware.Require(domain.ResourceUser, domain.ActionUpdate), "user"), userHandler.Lock)
		users.POST("/:user/unlock", protect(deps.Pipeline, "users.unlock", middleware.Require(domain.ResourceUser, domain.ActionUpdate), "user"), userHandler.Unlock)
		users.GET("/:user/assignments", protect(deps.Pipeline, "users.assignments", middleware.Require(domain.ResourceUser, domain.ActionRead), "user"), userHandler.Assignments)

		api.GET("/audit", protect(deps.Pipeline, "audit.list", middleware.Require(domain.ResourceAudit, domain.ActionRead), ""), handlers.NewAuditHandler(deps.Audit).List)
	}

	handlers.RegisterSwagger(r)

	return r
}

func protect(pipeline *access.Pipeline, operation string, requirement *access.Requirement, param string) gin.HandlerFunc {
	return middleware.Protect(pipeline, middleware.AccessOptions{
		Operation:       operation,
		Requirement:     requirement,
		ResourceIDParam: param,
	}, handlers.RespondError)
}

func chain(pre []gin.HandlerFunc, h gin.HandlerFunc) []gin.HandlerFunc {
	return append(append([]gin.HandlerFunc{}, pre...), h)
}

func saltLimit(deps Dependencies, cfg *config.AppConfig) []gin.HandlerFunc {
	if deps.RateLimiter == nil || cfg.RateLimit.SaltMaxAttempts <= 0 {
		return nil
	}
	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(middleware.RateLimitRule{
		Name:       "salt",
		Limit:      cfg.RateLimit.SaltMaxAttempts,
		Window:     cfg.RateLimit.WindowDuration,
		Identifier: middleware.ClientIPAndParamIdentifier("username"),
	})}
}

func resetLimit(deps Dependencies, cfg *config.AppConfig) []gin.HandlerFunc {
	if deps.RateLimiter == nil || cfg.RateLimit.ResetMaxAttempts <= 0 {
		return nil
	}
	return []gin.HandlerFunc{deps.RateLimiter.RateLimit(middleware.RateLimitRule{
		Name:       "reset",
		Limit:      cfg.RateLimit.ResetMaxAttempts,
		Window:     cfg.RateLimit.WindowDuration,
		Identifier: middleware.ClientIPIdentifier(),
	})}
}
