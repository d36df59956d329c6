package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"adminpanel/internal/activity"
	"adminpanel/internal/admin"
	"adminpanel/internal/ai"
	"adminpanel/internal/auth"
	"adminpanel/internal/config"
	"adminpanel/internal/engine"
	"adminpanel/internal/importer"
	"adminpanel/internal/logging"
	"adminpanel/internal/metadata"
	"adminpanel/internal/notify"
	"adminpanel/internal/storage"
	"adminpanel/internal/store"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Config and logger
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log.Info("config loaded",
		zap.Int("port", cfg.Server.Port),
		zap.String("driver", cfg.Database.Driver),
		zap.String("database", cfg.Database.Name))

	// 2. Database and system tables
	db, err := store.New(ctx, cfg.Database, log)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()

	if err := db.Bootstrap(ctx, cfg.Admin.Email, cfg.Admin.Password); err != nil {
		return fmt.Errorf("bootstrap system tables: %w", err)
	}
	log.Info("system tables ready")

	// 3. Entity registry
	reg := metadata.NewRegistry()
	if err := metadata.LoadAll(ctx, db.Q(), reg, log); err != nil {
		log.Warn("failed to load entity metadata", zap.Error(err))
	}

	// 4. Row activity log
	var recorder activity.Recorder = activity.Noop{}
	if cfg.Activity.Enabled {
		buf := activity.NewBuffer(db, log, cfg.Activity.BufferSize, cfg.Activity.FlushIntervalMs)
		defer buf.Stop()
		recorder = buf
	}
	if cfg.Activity.RetentionDays > 0 {
		activity.Prune(ctx, db, log, cfg.Activity.RetentionDays)
	}

	// 5. Notifications
	directory := notify.NewStoreDirectory(db)
	timeout := time.Duration(cfg.Notifications.TimeoutMs) * time.Millisecond
	var provider notify.Provider = notify.NewLogProvider(log)
	if cfg.Notifications.Provider == "novu" && cfg.Notifications.APIKey != "" {
		provider = notify.NewNovuProvider(cfg.Notifications.BaseURL, cfg.Notifications.APIKey, timeout, directory)
	}
	queue := notify.NewQueue(provider, directory, log, cfg.Notifications.QueueSize, timeout)
	queue.Start()
	defer queue.Stop()

	// 6. Engine services
	perms := engine.NewPermissionService(db)
	rows := engine.NewRowService(db, perms, recorder, log)
	workflow := engine.NewWorkflowEngine(db, engine.NewExprLangEvaluator(), queue, recorder, cfg.Notifications.Channel, log)
	engineHandler := engine.NewHandler(db, reg, rows, workflow, perms, recorder)

	// 7. Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler(log),
		BodyLimit:    int(cfg.Storage.MaxFileSize) + 1<<20,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 8. Routes. Fixed prefixes go before the dynamic /api/:entity routes.
	mw := auth.NewMiddleware(db, cfg.JWTSecret, log)
	authMW := mw.Handler()

	auth.RegisterAuthRoutes(app, auth.NewAuthHandler(db, cfg.JWTSecret), authMW)
	admin.RegisterAdminRoutes(app, admin.NewHandler(db, reg, log), authMW, auth.RequireSuperAdmin())

	fileHandler := engine.NewFileHandler(db, storage.NewLocalStorage(cfg.Storage.LocalPath), cfg.Storage.MaxFileSize, cfg.Storage.PublicURL)
	engine.RegisterFileRoutes(app, fileHandler, authMW)

	aiClient, err := ai.NewClient(cfg.AI, log)
	if err != nil {
		log.Warn("ai completions disabled", zap.Error(err))
	} else {
		ai.RegisterRoutes(app, ai.NewHandler(aiClient), authMW, auth.RequireSuperAdmin())
	}

	engine.RegisterRelationshipRoutes(app, engineHandler, authMW)

	committer := importer.NewCommitter(rows, cfg.Import.MaxConcurrency, log)
	importer.RegisterRoutes(app, importer.NewHandler(reg, committer), authMW)

	engine.RegisterDynamicRoutes(app, engineHandler, authMW)

	// 9. Serve until interrupted
	errCh := make(chan error, 1)
	go func() {
		addr := fmt.Sprintf(":%d", cfg.Server.Port)
		log.Info("starting server", zap.String("addr", addr))
		errCh <- app.Listen(addr)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return app.ShutdownWithContext(shutdownCtx)
}
