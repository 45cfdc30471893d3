package http

import (
	"github.com/gin-gonic/gin"
	"github.com/layer-3/sigauth/core"
	"github.com/layer-3/sigauth/internal/metrics"
	"github.com/layer-3/sigauth/service"
	"go.uber.org/zap"
)

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, m *metrics.Metrics, logger *zap.Logger) *gin.Engine {
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery(), RequestLogger(logger.Named("http")))

	handlers := NewAuthHandlers(authService)
	authenticated := Authenticate(authService)

	router.GET("/healthz", handlers.Health)
	if m != nil {
		router.GET("/metrics", gin.WrapH(m.Handler()))
	}

	auth := router.Group("/auth")
	{
		auth.POST("/challenge", handlers.Challenge)
		auth.POST("/login", handlers.Login)
		auth.POST("/refresh", handlers.Refresh)
		auth.GET("/verify", authenticated, WithIdentity(handlers.Verify))
		auth.POST("/logout", authenticated, WithIdentity(handlers.Logout))
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(authenticated)
	{
		api.GET("/me", WithIdentity(handlers.Me))
		api.GET("/creator", RequireRole(authService, core.RoleCreator), WithIdentity(handlers.Creator))
	}

	return router
}
