package main

import (
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/kim130727/eapproval/internal/api"
	"github.com/kim130727/eapproval/internal/config"
	"github.com/kim130727/eapproval/internal/db"
	"github.com/kim130727/eapproval/internal/db/models"
	"github.com/kim130727/eapproval/internal/services"
	"github.com/kim130727/eapproval/internal/storage"
	"github.com/kim130727/eapproval/internal/utils"
	"github.com/kim130727/eapproval/pkg/logger"
	"github.com/kim130727/eapproval/pkg/metrics"
)

func main() {
	cfg := config.InitializeDefaultConfig()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		var err error
		cfg, err = config.LoadConfig(path)
		if err != nil {
			log.Fatalf("Failed to load config: %v", err)
		}
	}

	zapLogger, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()
	zap.ReplaceGlobals(zapLogger)

	config.LogConfig(zapLogger)

	database, err := db.Initialize(cfg)
	if err != nil {
		zapLogger.Fatal("Failed to initialize database", zap.Error(err))
	}

	metricsCollector := metrics.NewMetricsCollector()
	fileStore := storage.NewLocalFileStore(cfg.Storage.AttachmentRoot, zapLogger)

	roleService := services.NewRoleService(database, zapLogger, cfg.Workflow.ChairGroup)
	authService := services.NewAuthService(database, roleService, cfg.Security, zapLogger)
	profileService := services.NewProfileService(database, zapLogger)
	queries := services.NewDocumentQueries(database, zapLogger)

	var notifier services.Notifier = services.NopNotifier{}
	var mailNotifier *services.MailNotifier
	if cfg.Notify.Enabled {
		mailNotifier = services.NewMailNotifier(cfg.Notify, cfg.Server.BaseURL, zapLogger, metricsCollector)
		notifier = mailNotifier
	}

	workflowService := services.NewWorkflowService(
		database, roleService, fileStore, notifier, zapLogger, metricsCollector, cfg.Workflow)

	if err := seedDatabase(database, roleService, zapLogger, cfg.Workflow.ChairGroup); err != nil {
		zapLogger.Fatal("Failed to seed database", zap.Error(err))
	}

	router := api.NewRouter(zapLogger, metricsCollector,
		authService, workflowService, queries, roleService, profileService, fileStore, database)
	router.SetupRoutes()

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.Server.Port
	}
	go func() {
		if err := router.Run(":" + port); err != nil {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()
	zapLogger.Info("Server started", zap.String("port", port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	zapLogger.Info("Shutting down server...")

	if mailNotifier != nil {
		mailNotifier.Close()
	}
	if sqlDB, err := database.DB(); err == nil {
		sqlDB.Close()
	}
	zapLogger.Info("Server gracefully stopped")
}

func seedDatabase(database *gorm.DB, roles *services.RoleService, logger *zap.Logger, chairGroup string) error {
	var count int64
	database.Model(&models.User{}).Count(&count)
	if count > 0 {
		logger.Info("Database already seeded, skipping")
		return nil
	}
	logger.Info("Seeding database with initial data")

	hash, err := utils.EncryptPassword("changeme123")
	if err != nil {
		return err
	}

	users := []models.User{
		{Username: "admin", Email: "admin@example.com", PasswordHash: hash, FullName: "Administrator", IsSuperuser: true, ActiveStatus: true},
		{Username: "chair1", Email: "chair1@example.com", PasswordHash: hash, FullName: "Chair One", ActiveStatus: true},
		{Username: "chair2", Email: "chair2@example.com", PasswordHash: hash, FullName: "Chair Two", ActiveStatus: true},
		{Username: "chair3", Email: "chair3@example.com", PasswordHash: hash, FullName: "Chair Three", ActiveStatus: true},
		{Username: "member1", Email: "member1@example.com", PasswordHash: hash, FullName: "Member One", ActiveStatus: true},
		{Username: "member2", Email: "member2@example.com", PasswordHash: hash, FullName: "Member Two", ActiveStatus: true},
	}
	if err := database.Create(&users).Error; err != nil {
		return err
	}
	logger.Info("Created initial users", zap.Int("count", len(users)))

	for _, u := range users {
		switch u.Username {
		case "chair1", "chair2", "chair3":
			if err := roles.AddToGroup(u.ID, chairGroup); err != nil {
				return err
			}
		default:
			if err := roles.EnsureProfile(u.ID); err != nil {
				return err
			}
		}
	}

	logger.Info("Database seeding completed successfully")
	return nil
}
