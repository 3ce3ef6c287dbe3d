package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"signalrelay/internal/anchor"
	"signalrelay/internal/config"
	cronrunner "signalrelay/internal/cron"
	"signalrelay/internal/db"
	"signalrelay/internal/delivery"
	"signalrelay/internal/executor"
	"signalrelay/internal/handler"
	"signalrelay/internal/ledger"
	"signalrelay/internal/logger"
	"signalrelay/internal/notify"
	"signalrelay/internal/recon"
	gormrepository "signalrelay/internal/repository/gorm"
)

func main() {
	cfgPath := os.Getenv("SR_CONFIG")
	if cfgPath == "" {
		cfgPath = "config/config.yaml"
	}

	envOnly := false
	if envOnlyRaw := os.Getenv("SR_ENV_ONLY"); envOnlyRaw != "" {
		envOnly = strings.EqualFold(envOnlyRaw, "true") || envOnlyRaw == "1"
	}

	cfg, err := config.Load(cfgPath, envOnly)
	if err != nil {
		panic(err)
	}

	logger, err := logger.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	dbConn, err := db.Open(cfg.DB)
	if err != nil {
		logger.Fatal("db open failed", zap.Error(err))
	}
	defer db.Close(dbConn)

	if err := db.SetTimezone(dbConn, cfg.DB.Timezone); err != nil {
		logger.Warn("failed to set timezone", zap.Error(err))
	}
	if err := db.AutoMigrate(dbConn); err != nil {
		logger.Fatal("auto-migrate failed", zap.Error(err))
	}

	store := gormrepository.New(dbConn.Gorm)

	var ledgerClient ledger.Client
	var aptosClient *ledger.AptosClient
	if cfg.Ledger.ModuleAddress != "" {
		aptosClient, err = ledger.NewAptosClient(cfg.Ledger, logger)
		if err != nil {
			logger.Fatal("ledger client init failed", zap.Error(err))
		}
		ledgerClient = aptosClient
	} else {
		logger.Info("ledger module address not configured, running simulated")
	}
	submitter := ledger.NewSubmitter(cfg.Ledger, ledgerClient, logger)

	if strings.EqualFold(cfg.App.Env, "dev") {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware())

	healthHandler := &handler.HealthHandler{DB: dbConn.Gorm}
	healthHandler.Register(engine)
	traderHandler := &handler.TraderHandler{Repo: store}
	traderHandler.Register(engine)
	signalHandler := &handler.SignalHandler{Repo: store}
	signalHandler.Register(engine)
	executionHandler := &handler.ExecutionHandler{Repo: store}
	executionHandler.Register(engine)
	pipelineHandler := &handler.PipelineHandler{Repo: store}
	pipelineHandler.Register(engine)

	srv := &http.Server{
		Addr:    cfg.Server.HTTPAddr,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Anchor.Enabled {
		pipeline := &anchor.Pipeline{
			Store:  store,
			Submit: submitter,
			Logger: logger,
			Config: cfg.Anchor,
		}
		if aptosClient != nil {
			pipeline.Reader = aptosClient
		}
		go func() {
			if err := pipeline.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("anchor pipeline stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Executor.Enabled {
		pipeline := &executor.Pipeline{
			Store:  store,
			Submit: submitter,
			Logger: logger,
			Config: cfg.Executor,
		}
		go func() {
			if err := pipeline.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("execution pipeline stopped", zap.Error(err))
			}
		}()
	}

	if cfg.Recon.Enabled && aptosClient != nil {
		reconEngine := &recon.Engine{
			Store:   store,
			Reader:  aptosClient,
			Logger:  logger,
			Config:  cfg.Recon,
			Address: aptosClient.ModuleAccount(),
		}
		go func() {
			if err := reconEngine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("reconciliation engine stopped", zap.Error(err))
			}
		}()
	} else if cfg.Recon.Enabled {
		logger.Info("reconciliation disabled: no ledger client")
	}

	if cfg.Delivery.Enabled && cfg.Telegram.BotToken != "" {
		worker := &delivery.Worker{
			Store:  store,
			Sender: notify.NewTelegramClient(cfg.Telegram, logger),
			Logger: logger,
			Config: cfg.Delivery,
		}
		go func() {
			if err := worker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("delivery worker stopped", zap.Error(err))
			}
		}()
	} else if cfg.Delivery.Enabled {
		logger.Info("delivery disabled: no bot token")
	}

	if cfg.Cron.Enabled {
		cronRunner := cronrunner.New(logger, ctx)
		_, err := cronRunner.Add(cfg.Cron.Cleanup, "delivery_prune", func(ctx context.Context) error {
			before := time.Now().UTC().Add(-cfg.Cron.Retention)
			n, err := store.PruneSettledDeliveries(ctx, before)
			if err != nil {
				return err
			}
			if n > 0 {
				logger.Info("pruned settled deliveries", zap.Int64("count", n))
			}
			return nil
		})
		if err != nil {
			logger.Warn("cron register delivery prune failed", zap.Error(err))
		}
		cronRunner.Start()
		defer cronRunner.Stop()
	}

	errCh := make(chan error, 1)

	go func() {
		logger.Info("http server starting", zap.String("addr", cfg.Server.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown requested")
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type,Authorization")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(204)
			return
		}
		c.Next()
	}
}
