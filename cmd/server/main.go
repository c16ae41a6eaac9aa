package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	gosmtp "github.com/emersion/go-smtp"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"truckboard/backend/internal/config"
	"truckboard/backend/internal/extract"
	"truckboard/backend/internal/geo"
	"truckboard/backend/internal/health"
	"truckboard/backend/internal/hub"
	"truckboard/backend/internal/logger"
	"truckboard/backend/internal/mail"
	"truckboard/backend/internal/mail/smtpsource"
	"truckboard/backend/internal/monitoring"
	"truckboard/backend/internal/pins"
	"truckboard/backend/internal/poller"
	"truckboard/backend/internal/pool"
	"truckboard/backend/internal/reconcile"
	"truckboard/backend/internal/storage"
	"truckboard/backend/internal/storage/memory"
	sqlstore "truckboard/backend/internal/storage/sql"
	httptransport "truckboard/backend/internal/transport/http"
)

// 轮询周期内的并发处理参数
const (
	poolWorkers   = 4
	poolQueueSize = 64
)

// main 启动可用性看板服务：HTTP API + WebSocket 分发 + 邮箱轮询。
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 设置 Gin 模式（基于开发环境标志）
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	// 初始化日志系统
	log, err := logger.New(logger.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		LogFile:     "",
		MaxSize:     100,
		MaxBackups:  3,
		MaxAge:      28,
		Compress:    true,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	log.Info("starting truckboard server",
		zap.String("log_level", cfg.Log.Level),
		zap.Bool("development", cfg.Log.Development),
	)

	// 初始化存储层
	var store storage.Store
	if cfg.Database.Type != "" && cfg.Database.DSN != "" {
		store, err = sqlstore.NewStore(
			cfg.Database.Type,
			cfg.Database.DSN,
			cfg.Database.MaxOpenConns,
			cfg.Database.MaxIdleConns,
			cfg.Database.ConnMaxLifetime,
		)
		if err != nil {
			panic(fmt.Sprintf("failed to initialize database storage: %v", err))
		}
		log.Info("using database storage", zap.String("type", cfg.Database.Type))
	} else {
		store = memory.NewStore()
		log.Info("using memory storage (development mode)")
	}

	// 初始化监控系统
	metrics := monitoring.NewMetrics()
	healthChecker := health.NewHealthChecker(store, log)

	alertManager := monitoring.NewAlertManager(log)
	alertManager.AddReceiver(monitoring.NewLogAlertReceiver(log))
	alertManager.AddRule(monitoring.HighMemoryUsageRule(512.0))
	alertManager.AddRule(monitoring.DatabaseConnectionRule(store))

	log.Info("monitoring system initialized")

	// Redis 二级地理缓存（可选）
	var rdb *redis.Client
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Address,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		log.Info("redis geo cache enabled", zap.String("address", cfg.Redis.Address))
	}

	// 地理解析与地图标记聚合
	geocoder := geo.NewHTTPGeocoder(cfg.Geocode.BaseURL, cfg.Geocode.APIKey, cfg.Geocode.Timeout, cfg.Geocode.RPS)
	locationCache := geo.NewLocationCache(geocoder, rdb, metrics, log)
	aggregator := pins.NewAggregator(store, locationCache, log)

	// 分发中心
	wsHub := hub.NewHub(cfg.CORS.AllowedOrigins, metrics, log)

	// 抽取、对账与轮询管线
	normalizer := extract.NewNormalizer(extract.NewHTTPClient(cfg.Extract), log)
	reconciler := reconcile.New(store, log)
	workers := pool.NewWorkerPool(poolWorkers, poolQueueSize, log)
	source := mail.NewGraphClient(cfg.Mail)

	p := poller.New(
		source,
		normalizer,
		reconciler,
		wsHub,
		store,
		workers,
		metrics,
		log,
		cfg.Mail.PollInterval,
		cfg.Mail.PageSize,
	)
	wsHub.SetForceCheck(p.Force)
	alertManager.AddRule(monitoring.ConsecutivePollFailuresRule(p.ConsecutiveFailures, 3))

	// 创建 HTTP 服务器
	httpAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	router := httptransport.NewRouter(httptransport.RouterDependencies{
		Config:     cfg,
		Store:      store,
		Aggregator: aggregator,
		Hub:        wsHub,
		Checker:    p,
		Health:     healthChecker,
		Metrics:    metrics,
		Logger:     log,
	})

	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// SMTP 直收入口（可选的第二条送达路径）
	var smtpServer *gosmtp.Server
	if cfg.SMTP.Enabled {
		backend := smtpsource.NewBackend(cfg.SMTP.Domain, p, log)
		smtpServer = smtpsource.NewServer(cfg.SMTP.BindAddr, cfg.SMTP.Domain, backend)
	}

	// 信号处理
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(ctx)

	// HTTP 服务器 goroutine
	group.Go(func() error {
		log.Info("starting HTTP server", zap.String("address", httpAddr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("HTTP server error", zap.Error(err))
			return err
		}
		return nil
	})

	// WebSocket 分发中心 goroutine
	group.Go(func() error {
		log.Info("starting distribution hub")
		wsHub.Run(groupCtx)
		return nil
	})

	// 轮询器 goroutine
	group.Go(func() error {
		workers.Start(groupCtx)
		p.Run(groupCtx)
		workers.Stop()
		return nil
	})

	// SMTP 服务器 goroutine
	if smtpServer != nil {
		group.Go(func() error {
			log.Info("starting SMTP ingest server",
				zap.String("address", cfg.SMTP.BindAddr),
				zap.String("domain", cfg.SMTP.Domain),
			)
			if err := smtpServer.ListenAndServe(); err != nil {
				log.Error("SMTP server error", zap.Error(err))
				return err
			}
			return nil
		})
	}

	// 告警巡检 goroutine
	group.Go(func() error {
		log.Info("starting alert monitoring")
		alertManager.StartMonitoring(groupCtx, 1*time.Minute)
		return nil
	})

	// 优雅关闭 goroutine
	group.Go(func() error {
		<-groupCtx.Done()
		log.Info("shutdown signal received, gracefully shutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error("HTTP server shutdown error", zap.Error(err))
		}

		if smtpServer != nil {
			if err := smtpServer.Close(); err != nil {
				log.Warn("SMTP server close warning", zap.Error(err))
			}
		}

		if rdb != nil {
			if err := rdb.Close(); err != nil {
				log.Warn("redis close warning", zap.Error(err))
			}
		}

		if err := store.Close(); err != nil {
			log.Warn("store close warning", zap.Error(err))
		}

		log.Info("servers stopped")
		return nil
	})

	// 等待所有 goroutine 完成
	if err := group.Wait(); err != nil && err != context.Canceled {
		log.Fatal("server error", zap.Error(err))
	}

	log.Info("server exited cleanly")
}
