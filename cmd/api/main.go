package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"github.com/yourusername/medqr-api/internal/config"
	"github.com/yourusername/medqr-api/internal/handler"
	"github.com/yourusername/medqr-api/internal/logger"
	"github.com/yourusername/medqr-api/internal/metrics"
	"github.com/yourusername/medqr-api/internal/middleware"
	pgRepo "github.com/yourusername/medqr-api/internal/repository/postgres"
	"github.com/yourusername/medqr-api/internal/service"
	"github.com/yourusername/medqr-api/pkg/auth"
	"github.com/yourusername/medqr-api/pkg/database"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		// The configured logger does not exist yet.
		bootLog := zerolog.New(os.Stderr)
		bootLog.Fatal().Err(err).Msg("failed to load config")
	}

	log := logger.New(cfg.Log)
	if cfg.Server.IsRelease() {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.NewPostgresDB(ctx, cfg.Database.PostgresConnectionString(), database.DefaultPoolConfig(), log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	log.Info().Msg("connected to PostgreSQL")

	if err := database.MigrateDB(db, cfg.Database.MigrationsURL, log); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	redisClient := connectRedis(ctx, cfg.Redis, log)
	if redisClient != nil {
		defer redisClient.Close()
	}

	appMetrics := metrics.New(prometheus.DefaultRegisterer)

	// Repositories and collaborators
	userRepo := pgRepo.NewUserRepo(db)

	providerClient, err := service.NewIdentityProviderClient(cfg.IdentityProvider, log, appMetrics)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize identity provider client")
	}

	var notifier service.OverrideNotifier = &service.NoopOverrideNotifier{Logger: logger.Component(log, "OverrideNotifier")}
	if cfg.Notifier.ResendAPIKey != "" {
		resendNotifier, err := service.NewResendOverrideNotifier(cfg.Notifier.ResendAPIKey, cfg.Notifier.From, cfg.Notifier.OpsAddress)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize override notifier")
		}
		notifier = resendNotifier
	} else {
		log.Warn().Msg("RESEND_API_KEY not set, override audit mails are disabled")
	}

	// Services
	verificationService, err := service.NewVerificationService(userRepo, providerClient, notifier, appMetrics, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize verification service")
	}
	reconciliationService := service.NewReconciliationService(userRepo, log)

	operatorAuth, err := auth.NewOperatorAuthenticator(cfg.Operator)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize operator authenticator")
	}

	// Handlers
	verificationHandler := handler.NewVerificationHandler(verificationService, log)
	operatorHandler := handler.NewOperatorHandler(verificationService, reconciliationService, operatorAuth, log)
	healthHandler := handler.NewHealthHandler(map[string]handler.Pinger{
		"database":          handler.PingFunc(userRepo.Ping),
		"identity_provider": handler.PingFunc(providerClient.Probe),
	}, log)

	authMiddleware := middleware.NewAuthMiddleware(operatorAuth)

	router := gin.New()
	router.Use(middleware.RequestID(), middleware.RequestLogger(log), gin.Recovery())

	// c.ClientIP() feeds the rate limiter keys.
	trustedProxies := []string{"127.0.0.1", "::1"}
	if cfg.Server.IsRelease() {
		trustedProxies = nil
	}
	if err := router.SetTrustedProxies(trustedProxies); err != nil {
		log.Warn().Err(err).Msg("failed to set trusted proxies")
	}

	allowedOrigins := cfg.Server.AllowedOrigins
	if len(allowedOrigins) == 0 {
		allowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     allowedOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", middleware.HeaderRequestID},
		ExposeHeaders:    []string{"Content-Length", "Content-Disposition", middleware.HeaderRequestID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	verifyLimit := passThrough
	loginLimit := passThrough
	if redisClient != nil && cfg.RateLimit.Enabled {
		limiter := middleware.NewRateLimiter(redisClient, log)
		verifyLimit = limiter.Limit(middleware.VerificationRateLimitConfig(cfg.RateLimit))
		loginLimit = limiter.Limit(middleware.OperatorLoginRateLimitConfig())
	}

	router.GET("/health", healthHandler.Live)
	router.GET("/health/ready", healthHandler.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api")
	{
		authGroup := api.Group("/auth")
		{
			authGroup.POST("/register", verifyLimit, verificationHandler.Register)

			verification := authGroup.Group("/verification")
			{
				verification.POST("/resend", verifyLimit, verificationHandler.Resend)
				verification.POST("/poll", verifyLimit, verificationHandler.Poll)
				verification.POST("/confirm", verifyLimit, verificationHandler.ConfirmCode)
				verification.GET("/confirm", verifyLimit, verificationHandler.ConfirmCode)
			}
		}

		admin := api.Group("/admin")
		{
			admin.POST("/login", loginLimit, operatorHandler.Login)

			users := admin.Group("/users")
			users.Use(authMiddleware.RequireOperator())
			{
				users.GET("", operatorHandler.ListUsers)
				users.GET("/export", operatorHandler.ExportUsers)
				users.GET("/status", operatorHandler.StatusByEmail)
				users.GET("/:id", middleware.ExtractUintParam("id", handler.ContextKeyUserID), operatorHandler.StatusByID)
				users.POST("/verify", operatorHandler.VerifyUser)
				users.POST("/verify-all", operatorHandler.VerifyAll)
			}
		}
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutting down server")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	log.Info().Msg("server exited")
}

// connectRedis returns nil when Redis is not configured or unreachable.
// The API still serves requests without rate limiting in that case.
func connectRedis(ctx context.Context, cfg config.RedisConfig, log zerolog.Logger) redis.UniversalClient {
	if cfg.Addr == "" && len(cfg.Addrs) == 0 {
		log.Warn().Msg("redis not configured, rate limiting disabled")
		return nil
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	client, err := database.NewUniversalRedisClient(pingCtx, cfg)
	if err != nil {
		log.Error().Err(err).Msg("redis unavailable, rate limiting disabled")
		return nil
	}
	log.Info().Str("mode", cfg.Mode).Msg("connected to Redis")
	return client
}

func passThrough(c *gin.Context) { c.Next() }
