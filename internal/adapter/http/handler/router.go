package handler

import (
	"net/http"

	"private-ledger/internal/adapter/http/middleware"
	"private-ledger/internal/core/ports"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	UserSvc        ports.UserService
	LedgerSvc      ports.LedgerService
	TokenSvc       ports.TokenService
	RateLimitStore ports.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	AuditSvc       ports.AuditService // nil = audit logging disabled
	Metrics        http.Handler       // nil = no /metrics endpoint
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.RequestID())
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20))

	if deps.AuditSvc != nil {
		r.Use(middleware.AuditLog(deps.AuditSvc))
	}

	r.GET("/health", HealthCheck(deps.HealthCheckers...))
	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics))
	}

	rules := middleware.DefaultRateLimitRules()
	rl := func(group string) gin.HandlerFunc {
		rule, ok := rules[group]
		if deps.RateLimitStore == nil || !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	v1 := r.Group("/api/v1")

	// --- Public routes (no auth) ---
	authHandler := NewAuthHandler(deps.UserSvc)
	auth := v1.Group("/auth")
	{
		auth.POST("/register", rl("auth_register"), authHandler.Register)
		auth.POST("/login", rl("auth_login"), authHandler.Login)
	}

	// --- JWT-authenticated routes ---
	jwtAuth := middleware.JWTAuth(deps.TokenSvc, deps.Logger)
	accountHandler := NewAccountHandler(deps.LedgerSvc)
	txHandler := NewTransactionHandler(deps.LedgerSvc)
	userHandler := NewUserHandler(deps.UserSvc)

	users := v1.Group("/users", jwtAuth)
	{
		users.GET("", rl("ledger_read"), userHandler.List)
		users.GET("/me", rl("ledger_read"), authHandler.Me)
		users.PUT("/:id", rl("ledger_write"), userHandler.Update)
		users.PATCH("/:id", rl("ledger_write"), userHandler.Update)
		users.DELETE("/:id", rl("ledger_write"), userHandler.Delete)
		users.GET("/:id/accounts", rl("ledger_read"), accountHandler.ListByUser)
	}

	accounts := v1.Group("/accounts", jwtAuth)
	{
		accounts.POST("", rl("accounts_open"), accountHandler.Create)
		accounts.GET("", rl("ledger_read"), accountHandler.ListMine)
		accounts.GET("/:id", rl("ledger_read"), accountHandler.Get)
		accounts.GET("/:id/balance", rl("ledger_read"), accountHandler.Balance)
		accounts.GET("/:id/transactions", rl("ledger_read"), txHandler.ListByAccount)
	}

	transactions := v1.Group("/transactions", jwtAuth)
	{
		transactions.POST("", rl("ledger_write"), txHandler.Apply)
		transactions.GET("/:id", rl("ledger_read"), txHandler.Get)
		transactions.PUT("/:id", rl("ledger_write"), txHandler.Amend)
		transactions.PATCH("/:id", rl("ledger_write"), txHandler.Amend)
		transactions.DELETE("/:id", rl("ledger_write"), txHandler.Delete)
	}

	return r
}
