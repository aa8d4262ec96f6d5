package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"

	"approval-workflow-service/internal/cache"
	"approval-workflow-service/internal/clients"
	"approval-workflow-service/internal/config"
	"approval-workflow-service/internal/events"
	"approval-workflow-service/internal/handlers"
	"approval-workflow-service/internal/jobs"
	"approval-workflow-service/internal/middleware"
	"approval-workflow-service/internal/models"
	"approval-workflow-service/internal/rbac"
	"approval-workflow-service/internal/repository"
	"approval-workflow-service/internal/seeders"
	"approval-workflow-service/internal/services"
)

// @title Approval Workflow API
// @version 1.0.0
// @description Multi-level approval engine for expenses, tasks, safe transactions and payroll runs

// @host localhost:8099
// @BasePath /api/v1

// @securityDefinitions.bearer BearerAuth
// @in header
// @name Authorization
// @description Type "Bearer" followed by a space and JWT token.

func main() {
	// Initialize logger
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)
	logger.SetLevel(logrus.InfoLevel)

	// Initialize configuration
	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		logger.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.Environment == "development" {
		logger.SetLevel(logrus.DebugLevel)
	}

	// Initialize database
	db, err := config.InitDB(cfg)
	if err != nil {
		logger.Fatal("Failed to connect to database:", err)
	}

	// Run database migrations
	logger.Info("Running database migrations...")
	if err := db.AutoMigrate(
		&models.OrgUnit{},
		&models.User{},
		&models.UserOrgAssignment{},
		&models.RoleThreshold{},
		&models.ApprovalWorkflow{},
		&models.ApprovalStep{},
		&models.ApprovalAuditLog{},
	); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}
	logger.Info("Database migrations completed")

	if err := seeders.SeedThresholds(db, rbac.DefaultThresholds(), logger); err != nil {
		logger.Fatalf("Failed to seed thresholds: %v", err)
	}

	// Initialize repositories
	approvalRepo := repository.NewApprovalRepository(db)
	orgRepo := repository.NewOrgRepository(db)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	policy, hierarchy, err := loadPolicyAndHierarchy(bootCtx, orgRepo)
	bootCancel()
	if err != nil {
		logger.Fatalf("Failed to load approval policy: %v", err)
	}
	hierarchyStore := rbac.NewHierarchyStore(hierarchy)
	logger.WithField("units", hierarchy.Len()).Info("Org hierarchy loaded")

	// Scope cache (optional - falls back to the in-memory hierarchy)
	redisClient := config.InitRedis(cfg, logger)
	scopeCache := cache.NewScopeCache(redisClient, cfg.ScopeCacheTTL)

	// Initialize notification publisher (optional - service works without NATS)
	publisher, err := initPublisher(cfg, logger)
	if err != nil {
		logger.Warnf("Failed to initialize notification publisher: %v. Notifications will not be published.", err)
		publisher, _ = events.NewPublisher(nil, logger)
	}

	// Entity status clients
	entityStatus, err := clients.NewEntityStatusDispatcher(clients.EntityStatusHandlers{
		Expense:         clients.NewEntityServiceClient(cfg.ExpenseServiceURL, "expenses", cfg.EntityServiceTimeout, logger),
		Task:            clients.NewEntityServiceClient(cfg.TaskServiceURL, "tasks", cfg.EntityServiceTimeout, logger),
		SafeTransaction: clients.NewEntityServiceClient(cfg.SafeTransactionServiceURL, "safe-transactions", cfg.EntityServiceTimeout, logger),
		PayrollRun:      clients.NewEntityServiceClient(cfg.PayrollServiceURL, "payroll-runs", cfg.EntityServiceTimeout, logger),
	})
	if err != nil {
		logger.Fatalf("Failed to initialize entity status dispatcher: %v", err)
	}

	// Initialize services
	scopes := services.NewCachedScopeResolver(hierarchyStore, scopeCache, logger)
	approvalService := services.NewApprovalService(services.ApprovalServiceDeps{
		Repo:         approvalRepo,
		Users:        orgRepo,
		Chains:       services.NewChainBuilder(policy, hierarchyStore),
		Guard:        services.NewAuthorizationGuard(policy, scopes),
		Scopes:       scopes,
		EntityStatus: entityStatus,
		Notifier:     publisher,
		Logger:       logger,
	})

	// Initialize handlers
	approvalHandler := handlers.NewApprovalHandler(approvalService, logger)
	optionalChecks := map[string]handlers.ReadinessCheck{
		"nats": func(context.Context) error {
			if publisher.Enabled() && !publisher.Connected() {
				return errors.New("disconnected")
			}
			return nil
		},
	}
	if scopeCache.Enabled() {
		optionalChecks["redis"] = scopeCache.Ping
	}
	healthHandler := handlers.NewHealthHandler(
		map[string]handlers.ReadinessCheck{
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		},
		optionalChecks,
	)

	// Start hierarchy refresh job
	refreshJob := jobs.NewHierarchyRefreshJob(orgRepo, hierarchyStore, scopeCache, logger, cfg.HierarchyRefreshInterval)
	jobCtx, jobCancel := context.WithCancel(context.Background())
	go refreshJob.Start(jobCtx)

	// Initialize Gin router
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.CORS(cfg.AllowedOrigins))

	handlers.RegisterRoutes(router, approvalHandler, healthHandler,
		middleware.AuthMiddleware(cfg.JWTSecret))

	// Swagger documentation
	router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Infof("Approval workflow service starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Failed to start server:", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	jobCancel()
	refreshJob.Stop()

	if err := approvalService.Drain(shutdownCtx); err != nil {
		logger.WithError(err).Warn("Pending side effects abandoned at shutdown")
	}

	publisher.Close()
	if redisClient != nil {
		_ = redisClient.Close()
	}

	logger.Info("Server shutdown complete")
}

func loadPolicyAndHierarchy(ctx context.Context, orgRepo *repository.OrgRepository) (*rbac.ThresholdPolicy, *rbac.OrgHierarchy, error) {
	rows, err := orgRepo.ListThresholds(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load thresholds: %w", err)
	}
	policy, err := rbac.NewThresholdPolicy(rows, rbac.DefaultChainRules())
	if err != nil {
		return nil, nil, err
	}

	units, err := orgRepo.ListOrgUnits(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load org units: %w", err)
	}
	hierarchy, err := rbac.NewOrgHierarchy(units)
	if err != nil {
		return nil, nil, err
	}
	return policy, hierarchy, nil
}

func initPublisher(cfg *config.Config, logger *logrus.Logger) (*events.Publisher, error) {
	if cfg.NATSURL == "" {
		logger.Info("NATS_URL not configured, notification publishing disabled")
		return events.NewPublisher(nil, logger)
	}

	conn, err := events.Connect(cfg.NATSURL, logger)
	if err != nil {
		return nil, err
	}
	publisher, err := events.NewPublisher(conn, logger)
	if err != nil {
		conn.Close()
		return nil, err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := publisher.EnsureStream(ctx); err != nil {
		logger.Warnf("Failed to ensure notification stream: %v", err)
	}
	logger.Info("Notification publisher initialized")
	return publisher, nil
}
