package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"school-access-service/internal/clients"
	"school-access-service/internal/config"
	"school-access-service/internal/events"
	"school-access-service/internal/handlers"
	"school-access-service/internal/middleware"
	"school-access-service/internal/migration"
	"school-access-service/internal/models"
	"school-access-service/internal/repository"
	"school-access-service/internal/services"
)

func main() {
	cfg := config.LoadConfig()

	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if cfg.Server.Mode == "release" {
		logger.SetLevel(logrus.InfoLevel)
	} else {
		logger.SetLevel(logrus.DebugLevel)
	}

	db, err := initDatabase(cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	if err := migration.Run(db, logger); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	redisClient := initRedis(cfg, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	notificationClient := clients.NewNotificationClient(cfg.NotificationServiceURL, logger)

	var eventsPublisher *events.Publisher
	if cfg.NATS.Enabled {
		eventsPublisher, err = events.NewPublisher(cfg.NATS.URL, logger)
		if err != nil {
			logger.WithError(err).Warn("Failed to initialize NATS publisher, continuing without audit events")
		}
	} else {
		logger.Info("NATS disabled, audit event publishing off")
	}
	defer eventsPublisher.Close()

	identityRepo := repository.NewIdentityRepository(db)
	tenantRepo := repository.NewTenantRepository(db)

	tokenService := services.NewTokenService(cfg.JWT.Secret, cfg.JWT.AccessTTL(), cfg.JWT.RefreshTTL())
	passwordService := services.NewPasswordService()
	entitlementService := services.NewEntitlementService()
	totpService := services.NewTOTPService(identityRepo, "School Access")

	authService := services.NewAuthService(
		identityRepo, tenantRepo, tokenService, passwordService, entitlementService, logger,
	)
	authService.SetLockoutPolicy(cfg.Security.LockoutThreshold, cfg.Security.LockoutDuration())
	authService.SetNotificationQueue(notificationClient)
	authService.SetTOTPService(totpService)
	if eventsPublisher != nil {
		authService.SetEvents(eventsPublisher)
	}

	authHandlers := handlers.NewAuthHandlers(authService)
	adminHandlers := handlers.NewAdminHandlers(authService)
	tenantHandlers := handlers.NewTenantHandlers(tenantRepo, entitlementService)
	totpHandlers := handlers.NewTOTPHandlers(totpService)
	healthHandlers := handlers.NewHealthHandlers(db)

	authMiddleware := middleware.NewAuthMiddleware(
		tokenService, identityRepo, tenantRepo, entitlementService, logger,
	)
	throttle := middleware.NewThrottle(redisClient, logger, middleware.ThrottleConfig{
		MaxRequests:    cfg.Security.ThrottleMaxRequests,
		Window:         cfg.Security.ThrottleWindow(),
		RedisKeyPrefix: "access:throttle:",
	})

	go runExpirySweeper(tenantRepo, notificationClient, logger)

	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(logger))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", "X-Tenant-ID"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	router.GET("/health", healthHandlers.Health)
	router.GET("/ready", healthHandlers.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")
	{
		auth := api.Group("/auth")
		{
			auth.POST("/login", throttle.Limit(), authHandlers.Login)
			auth.POST("/refresh", throttle.Limit(), authHandlers.Refresh)
			auth.POST("/logout", authHandlers.Logout)
			auth.POST("/register", throttle.Limit(), authHandlers.Register)
			auth.GET("/verify-email", authHandlers.VerifyEmail)
			auth.POST("/verify-email/resend", throttle.Limit(), authHandlers.ResendVerification)
			auth.POST("/password/forgot", throttle.Limit(), authHandlers.ForgotPassword)
			auth.POST("/password/reset", throttle.Limit(), authHandlers.ResetPassword)
		}

		protected := api.Group("/auth")
		protected.Use(authMiddleware.Authenticate())
		{
			protected.GET("/profile", authHandlers.Profile)
			protected.POST("/password/change", throttle.Limit(), authHandlers.ChangePassword)
			protected.GET("/capabilities", authHandlers.Capabilities)
			protected.GET("/capabilities/:capability", authHandlers.CheckCapability)

			totp := protected.Group("/2fa")
			{
				totp.POST("/setup", totpHandlers.Setup)
				totp.POST("/confirm", totpHandlers.Confirm)
				totp.POST("/disable", totpHandlers.Disable)
			}
		}

		tenant := api.Group("/tenant")
		tenant.Use(authMiddleware.Authenticate())
		{
			tenant.GET("/", tenantHandlers.CurrentTenant)
			tenant.GET("/entitlements", tenantHandlers.Entitlements)
			tenant.GET("/entitlements/:feature", tenantHandlers.CheckFeature)
		}

		admin := api.Group("/admin")
		admin.Use(authMiddleware.Authenticate(), authMiddleware.AdminOnly())
		{
			users := admin.Group("/users")
			{
				users.GET("/", adminHandlers.ListUsers)
				users.GET("/:id", adminHandlers.GetUser)
				users.PATCH("/:id", adminHandlers.UpdateUser)
				users.POST("/:id/unlock", adminHandlers.UnlockUser)
			}
		}

		platform := api.Group("/platform")
		platform.Use(authMiddleware.Authenticate(), authMiddleware.SuperAdminOnly())
		{
			tenants := platform.Group("/tenants")
			{
				tenants.GET("/", tenantHandlers.ListTenants)
				tenants.POST("/", tenantHandlers.CreateTenant)
				tenants.GET("/:id", tenantHandlers.GetTenant)
				tenants.PUT("/:id/status", tenantHandlers.UpdateTenantStatus)
			}
		}
	}

	serverAddr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	logger.WithFields(logrus.Fields{
		"addr": serverAddr,
		"mode": cfg.Server.Mode,
	}).Info("School access service starting")

	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.WithError(err).Fatal("Failed to start server")
	}
}

func initDatabase(cfg *config.Config, logger *logrus.Logger) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.Database.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Info("Database connected")
	return db, nil
}

func initRedis(cfg *config.Config, logger *logrus.Logger) *redis.Client {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr(),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.WithError(err).Warn("Redis unavailable, throttling falls back to in-memory counters")
		return nil
	}

	logger.Info("Redis connected")
	return rdb
}

// runExpirySweeper warns tenants whose trial or subscription window closes
// within the next week. One notification per sweep per tenant; dedup is the
// notification collaborator's concern.
func runExpirySweeper(tenants services.TenantStore, notifier services.NotificationQueue, logger *logrus.Logger) {
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	sweep := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		expiring, err := tenants.ListExpiringWithin(ctx, 7*24*time.Hour)
		if err != nil {
			logger.WithError(err).Error("Subscription expiry sweep failed")
			return
		}

		for i := range expiring {
			tenant := &expiring[i]
			endsAt := tenant.TrialEndAt
			if tenant.SubscriptionStatus != models.TenantTrial {
				endsAt = tenant.SubscriptionEndAt
			}
			if endsAt == nil {
				continue
			}

			notifier.Enqueue(services.Notification{
				Kind:     services.NotifySubscriptionExpiring,
				TenantID: tenant.ID.String(),
				Email:    tenant.Email,
				Name:     tenant.SchoolName,
				Data: map[string]string{
					"plan":      tenant.SubscriptionPlan,
					"status":    tenant.SubscriptionStatus,
					"ends_at":   endsAt.UTC().Format(time.RFC3339),
					"days_left": strconv.Itoa(int(time.Until(*endsAt).Hours() / 24)),
				},
			})
		}

		if len(expiring) > 0 {
			logger.WithField("count", len(expiring)).Info("Queued subscription expiry warnings")
		}
	}

	sweep()
	for range ticker.C {
		sweep()
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"duration": time.Since(start).String(),
			"ip":       c.ClientIP(),
		}).Info("Request handled")
	}
}
