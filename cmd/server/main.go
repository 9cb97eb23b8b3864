package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/tkarlsen/mealcard/internal/api"
	"github.com/tkarlsen/mealcard/internal/app"
	iauth "github.com/tkarlsen/mealcard/internal/auth"
	"github.com/tkarlsen/mealcard/internal/database"
	"github.com/tkarlsen/mealcard/internal/offline"
	"github.com/tkarlsen/mealcard/internal/reader"
	"github.com/tkarlsen/mealcard/internal/realtime"
	"github.com/tkarlsen/mealcard/internal/services"
	"github.com/tkarlsen/mealcard/internal/syncer"
	"github.com/tkarlsen/mealcard/pkg/logger"
)

const shutdownTimeout = 15 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(0)
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("mealcard-server", flag.ContinueOnError)
	fs.SetOutput(os.Stdout)

	var configPath string
	fs.StringVar(&configPath, "config", "", "Path to configuration directory or file")

	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := loadApplicationConfig(configPath)
	if err != nil {
		return err
	}

	if err := app.ConfigureLogging(cfg.Server.LogLevel); err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}
	defer logger.Sync() // best effort

	log := logger.WithModule("bootstrap")

	if strings.TrimSpace(cfg.Auth.JWT.Secret) == "" {
		return errors.New("auth.jwt.secret must be configured")
	}

	db, err := initialiseDatabase(cfg)
	if err != nil {
		return err
	}
	defer closeDatabase(db, log)

	offlineDB, err := database.OpenOffline(cfg.Offline.Path)
	if err != nil {
		return fmt.Errorf("open offline database: %w", err)
	}
	defer closeDatabase(offlineDB, log)

	cache, err := offline.NewCache(offlineDB, cfg.Offline.CacheTTL)
	if err != nil {
		return fmt.Errorf("initialise offline cache: %w", err)
	}
	queue, err := offline.NewQueue(offlineDB)
	if err != nil {
		return fmt.Errorf("initialise offline queue: %w", err)
	}

	var cardReader reader.Reader
	if cfg.Reader.Enabled {
		pcsc := reader.NewPCSC()
		if err := pcsc.Connect(ctx); err != nil {
			log.Warn("reader unavailable at startup; running offline", zap.Error(err))
		}
		cardReader = pcsc
		defer pcsc.Close()
	}

	jwtService, err := iauth.NewJWTService(iauth.JWTConfig{
		Secret:         cfg.Auth.JWT.Secret,
		Issuer:         cfg.Auth.JWT.Issuer,
		AccessTokenTTL: cfg.Auth.JWT.TTL,
	})
	if err != nil {
		return fmt.Errorf("initialise jwt service: %w", err)
	}

	locks := services.NewCardLocks()

	cardSvc, err := services.NewCardService(services.CardServiceConfig{
		DB:          db,
		Cache:       cache,
		Queue:       queue,
		Reader:      cardReader,
		Locks:       locks,
		WaitTimeout: cfg.Reader.WaitTimeout,
	})
	if err != nil {
		return fmt.Errorf("initialise card service: %w", err)
	}

	syncSvc, err := services.NewSyncService(services.SyncServiceConfig{
		DB:        db,
		Cache:     cache,
		Queue:     queue,
		Locks:     locks,
		BatchSize: cfg.Sync.BatchSize,
	})
	if err != nil {
		return fmt.Errorf("initialise sync service: %w", err)
	}

	txnSvc, err := services.NewTransactionService(db, cardSvc)
	if err != nil {
		return fmt.Errorf("initialise transaction service: %w", err)
	}
	studentSvc, err := services.NewStudentService(db)
	if err != nil {
		return fmt.Errorf("initialise student service: %w", err)
	}
	menuSvc, err := services.NewMenuService(db)
	if err != nil {
		return fmt.Errorf("initialise menu service: %w", err)
	}
	reportSvc, err := services.NewReportService(db)
	if err != nil {
		return fmt.Errorf("initialise report service: %w", err)
	}
	auditSvc, err := services.NewAuditService(db)
	if err != nil {
		return fmt.Errorf("initialise audit service: %w", err)
	}
	operatorSvc, err := services.NewOperatorService(db, jwtService)
	if err != nil {
		return fmt.Errorf("initialise operator service: %w", err)
	}

	hub := realtime.NewHub()

	runner := syncer.NewRunner(syncSvc, auditSvc,
		syncer.WithSyncSchedule(cfg.Sync.Schedule),
		syncer.WithSyncedRetention(cfg.Sync.SyncedRetention),
		syncer.WithAuditRetentionDays(cfg.Sync.AuditRetentionDays),
		syncer.WithHub(hub),
	)
	if err := runner.Start(); err != nil {
		return fmt.Errorf("start sync scheduler: %w", err)
	}
	defer func() {
		stopCtx := runner.Stop()
		if err := runner.RunOnce(stopCtx); err != nil {
			log.Warn("final reconciliation pass failed", zap.Error(err))
		}
	}()

	if cfg.Reader.Enabled && cfg.Reader.Monitor {
		monitor, err := realtime.NewMonitor(cardSvc, hub)
		if err != nil {
			return fmt.Errorf("initialise reader monitor: %w", err)
		}
		go monitor.Run(ctx)
	}

	router, err := api.NewRouter(api.Services{
		DB:           db,
		JWT:          jwtService,
		Hub:          hub,
		Cards:        cardSvc,
		Transactions: txnSvc,
		Students:     studentSvc,
		Menu:         menuSvc,
		Reports:      reportSvc,
		Sync:         syncSvc,
		Operators:    operatorSvc,
		Audit:        auditSvc,
	})
	if err != nil {
		return fmt.Errorf("build api router: %w", err)
	}

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info("server listening", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received")
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("graceful shutdown: %w", err)
	}

	if err, ok := <-serverErr; ok && err != nil {
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("server stopped gracefully")
	return nil
}

func loadApplicationConfig(path string) (*app.Config, error) {
	switch {
	case strings.TrimSpace(path) == "":
		return app.LoadConfig()
	default:
		info, err := os.Stat(path)
		if err == nil {
			if info.IsDir() {
				return app.LoadConfig(path)
			}
			return app.LoadConfig(filepath.Dir(path))
		}
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("config path %q does not exist", path)
		}
		return nil, fmt.Errorf("stat config path: %w", err)
	}
}

func initialiseDatabase(cfg *app.Config) (*gorm.DB, error) {
	dbCfg := convertDatabaseConfig(cfg)
	db, err := database.Open(dbCfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	if err := database.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("auto-migrate database: %w", err)
	}

	log := logger.WithModule("database")
	log.Info("database connected", zap.String("driver", strings.ToLower(strings.TrimSpace(dbCfg.Driver))))

	return db, nil
}

func convertDatabaseConfig(cfg *app.Config) database.Config {
	dbCfg := database.Config{
		Driver: strings.ToLower(strings.TrimSpace(cfg.Database.Driver)),
		Path:   strings.TrimSpace(cfg.Database.Path),
		DSN:    strings.TrimSpace(cfg.Database.DSN),
	}

	switch dbCfg.Driver {
	case "", "sqlite":
		dbCfg.Driver = "sqlite"
	case "postgres", "postgresql":
		dbCfg.Driver = "postgres"
		dbCfg.Host = strings.TrimSpace(cfg.Database.Postgres.Host)
		dbCfg.Port = cfg.Database.Postgres.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.Postgres.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.Postgres.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.Postgres.Password)
	case "mysql":
		dbCfg.Host = strings.TrimSpace(cfg.Database.MySQL.Host)
		dbCfg.Port = cfg.Database.MySQL.Port
		dbCfg.Name = strings.TrimSpace(cfg.Database.MySQL.Database)
		dbCfg.User = strings.TrimSpace(cfg.Database.MySQL.Username)
		dbCfg.Password = strings.TrimSpace(cfg.Database.MySQL.Password)
	default:
		// Leave driver as-is to surface unsupported driver error during open.
	}

	return dbCfg
}

func closeDatabase(db *gorm.DB, log *zap.Logger) {
	if db == nil {
		return
	}

	sqlDB, err := db.DB()
	if err != nil {
		log.Warn("failed to obtain underlying sql DB for closing", zap.Error(err))
		return
	}

	if err := sqlDB.Close(); err != nil {
		log.Warn("failed to close database", zap.Error(err))
	}
}
