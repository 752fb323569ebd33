package main

import (
	"github.com/gin-gonic/gin"
	"github.com/jobportal/identity/internal/auth"
	"github.com/jobportal/identity/internal/config"
	"github.com/jobportal/identity/internal/guard"
	"github.com/jobportal/identity/internal/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

func newRouter(cfg *config.Config, authService *auth.Service, logger *zap.Logger) *gin.Engine {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authHandler := auth.NewHandler(authService)
	router := gin.New()

	// Global middleware
	allowedOrigins := middleware.ParseAllowedOrigins(cfg.CORS.AllowedOrigins)
	router.Use(middleware.CORS(allowedOrigins))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Metrics())
	router.Use(middleware.Auth(authService, logger))

	// Public routes
	router.GET("/health", authHandler.Health)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	authGroup := router.Group("/auth")
	{
		authGroup.POST("/login", authHandler.Login)
		authGroup.POST("/register", authHandler.Register)
		authGroup.POST("/refresh", authHandler.Refresh)
		authGroup.POST("/logout", authHandler.Logout)
		authGroup.GET("/me", middleware.RequireRoles(), authHandler.Me)
	}

	api := router.Group("/api")
	{
		api.GET("/employer/dashboard", middleware.RequireRoles(guard.RoleEmployer), authHandler.Area("employer"))
		api.GET("/jobseeker/dashboard", middleware.RequireRoles(guard.RoleJobseeker), authHandler.Area("jobseeker"))
		api.GET("/account", middleware.RequireRoles(), authHandler.Area("account"))
	}

	return router
}
