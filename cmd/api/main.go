package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	_ "github.com/feedhub/feedhub-api/api/swagger"
	"github.com/feedhub/feedhub-api/internal/handler"
	"github.com/feedhub/feedhub-api/internal/middleware"
	"github.com/feedhub/feedhub-api/internal/repository"
	"github.com/feedhub/feedhub-api/internal/service"
	"github.com/feedhub/feedhub-api/pkg/cache"
	"github.com/feedhub/feedhub-api/pkg/config"
	"github.com/feedhub/feedhub-api/pkg/database"
	"github.com/feedhub/feedhub-api/pkg/jobs"
	"github.com/feedhub/feedhub-api/pkg/logger"
	"github.com/feedhub/feedhub-api/pkg/mailer"
	corsmiddleware "github.com/feedhub/feedhub-api/pkg/middleware/cors"
	reqidmiddleware "github.com/feedhub/feedhub-api/pkg/middleware/requestid"
)

// @title Feedhub API
// @version 1.0.0
// @description Multi-tenant publishing API with cookie-based session auth
// @BasePath /api
// @schemes http https

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logr, err := logger.New(cfg)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logr.Sync() //nolint:errcheck

	if cfg.Env == config.EnvProduction {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		logr.Sugar().Fatalw("failed to connect to postgres", "error", err)
	}
	defer db.Close()

	redisClient, err := cache.NewRedis(cfg.Redis)
	if err != nil {
		logr.Sugar().Warnw("redis unavailable, caching and rate limiting disabled", "error", err)
		redisClient = nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Repositories.
	userRepo := repository.NewUserRepository(db)
	tokenRepo := repository.NewRefreshTokenRepository(db)
	postRepo := repository.NewPostRepository(db)
	categoryRepo := repository.NewCategoryRepository(db)
	commentRepo := repository.NewCommentRepository(db)
	cacheRepo := repository.NewCacheRepository(redisClient, logr)

	validate := validator.New()

	// Background notification queue.
	notifications := service.NewNotificationService(mailer.NewLogSender(logr), cfg.Mailer.FromName, jobs.QueueConfig{
		Workers:    cfg.Mailer.Workers,
		MaxRetries: cfg.Mailer.MaxRetries,
		RetryDelay: cfg.Mailer.RetryDelay,
		Logger:     logr,
	}, logr)
	notifications.Start(ctx)
	defer notifications.Stop()

	// Services.
	metricsSvc := service.NewMetricsService()
	authSvc := service.NewAuthService(userRepo, tokenRepo, notifications, validate, logr, service.AuthConfig{
		AccessTokenSecret:  cfg.Auth.AccessTokenSecret,
		AccessTokenExpiry:  cfg.Auth.AccessTokenExpiry,
		RefreshTokenExpiry: cfg.Auth.RefreshTokenExpiry,
		ResetCodeExpiry:    cfg.Auth.ResetCodeExpiry,
		Issuer:             cfg.Auth.Issuer,
		BcryptCost:         cfg.Auth.BcryptCost,
	})
	userSvc := service.NewUserService(userRepo, tokenRepo, postRepo, commentRepo, notifications, validate, logr, cfg.Auth.BcryptCost)
	postSvc := service.NewPostService(postRepo, cacheRepo, cfg.Feed.CacheTTL, validate, logr)
	categorySvc := service.NewCategoryService(categoryRepo, validate, logr)
	commentSvc := service.NewCommentService(commentRepo, postRepo, validate, logr)

	// Handlers.
	sameSite := http.SameSiteLaxMode
	if cfg.Cookies.SameSiteStrict {
		sameSite = http.SameSiteStrictMode
	}
	authHandler := handler.NewAuthHandler(authSvc, metricsSvc, handler.CookieOptions{
		Domain:        cfg.Cookies.Domain,
		Secure:        cfg.Cookies.Secure,
		SameSite:      sameSite,
		AuthPath:      cfg.Cookies.AuthPath,
		APIPath:       cfg.Cookies.APIPath,
		AccessMaxAge:  cfg.Auth.AccessTokenExpiry,
		RefreshMaxAge: cfg.Auth.RefreshTokenExpiry,
	})
	userHandler := handler.NewUserHandler(userSvc)
	postHandler := handler.NewPostHandler(postSvc)
	categoryHandler := handler.NewCategoryHandler(categorySvc)
	commentHandler := handler.NewCommentHandler(commentSvc)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(reqidmiddleware.Middleware())
	r.Use(logger.GinMiddleware(logr))
	r.Use(corsmiddleware.New(cfg.CORS.AllowedOrigins))
	r.Use(middleware.Metrics(metricsSvc))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.GET("/ready", func(c *gin.Context) {
		pingCtx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()
		if err := db.PingContext(pingCtx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ready"})
	})

	r.GET("/metrics", gin.WrapH(metricsSvc.Handler()))

	if cfg.Env != config.EnvProduction {
		r.GET("/docs/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}

	api := r.Group(cfg.APIPrefix)
	authGuard := middleware.Auth(authSvc)

	auth := api.Group("/auth")
	{
		limited := auth.Group("")
		if cfg.RateLimit.Enabled {
			limited.Use(middleware.RateLimit(redisClient, cfg.RateLimit.AuthAttempts, cfg.RateLimit.AuthWindow, logr))
		}
		limited.POST("/register", authHandler.Register)
		limited.POST("/login", authHandler.Login)
		limited.POST("/reset-password/request", authHandler.RequestPasswordReset)
		limited.POST("/reset-password/confirm", authHandler.ConfirmPasswordReset)

		auth.POST("/refresh", authHandler.Refresh)
		auth.POST("/logout", authGuard, authHandler.Logout)
		auth.GET("/me", authGuard, authHandler.Me)
	}

	users := api.Group("/users")
	{
		users.GET("", userHandler.List)
		users.PATCH("/me", authGuard, userHandler.UpdateMe)
		users.DELETE("/me", authGuard, userHandler.DeleteMe)
		users.GET("/:id", userHandler.Get)
	}

	posts := api.Group("/posts")
	{
		posts.GET("", postHandler.Feed)
		posts.POST("", authGuard, postHandler.Create)
		posts.GET("/mine", authGuard, postHandler.Mine)
		posts.GET("/:id", postHandler.Get)
		posts.PATCH("/:id", authGuard, postHandler.Update)
		posts.DELETE("/:id", authGuard, postHandler.Delete)
		posts.GET("/:id/comments", commentHandler.ListByPost)
		posts.POST("/:id/comments", authGuard, commentHandler.Create)
	}

	comments := api.Group("/comments", authGuard)
	{
		comments.PATCH("/:id", commentHandler.Update)
		comments.DELETE("/:id", commentHandler.Delete)
	}

	categories := api.Group("/categories")
	{
		categories.GET("", categoryHandler.List)
		categories.GET("/:id", categoryHandler.Get)
	}

	admin := api.Group("/admin", authGuard, middleware.RequireAdmin())
	{
		admin.GET("/users", userHandler.AdminList)
		admin.POST("/users", userHandler.AdminCreate)
		admin.GET("/users/export", userHandler.Export)
		admin.PATCH("/users/:id", userHandler.AdminUpdate)
		admin.DELETE("/users/:id", userHandler.AdminDelete)

		admin.POST("/categories", categoryHandler.Create)
		admin.PATCH("/categories/:id", categoryHandler.Update)
		admin.DELETE("/categories/:id", categoryHandler.Delete)
	}

	addr := fmt.Sprintf(":%d", cfg.Port)
	srv := &http.Server{Addr: addr, Handler: r}

	go func() {
		logr.Sugar().Infow("server starting", "addr", addr, "env", cfg.Env)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logr.Sugar().Fatalw("server failed", "error", err)
		}
	}()

	<-ctx.Done()
	logr.Sugar().Infow("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logr.Sugar().Errorw("graceful shutdown failed", "error", err)
	}
}
