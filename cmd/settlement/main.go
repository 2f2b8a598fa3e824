package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
	"github.com/wyfcoding/mineralchain/internal/settlement/application"
	settlementcache "github.com/wyfcoding/mineralchain/internal/settlement/infrastructure/cache"
	"github.com/wyfcoding/mineralchain/internal/settlement/infrastructure/messaging"
	"github.com/wyfcoding/mineralchain/internal/settlement/infrastructure/persistence/mysql"
	"github.com/wyfcoding/mineralchain/internal/settlement/interfaces/consumer"
	httpserver "github.com/wyfcoding/mineralchain/internal/settlement/interfaces/http"
	"github.com/wyfcoding/mineralchain/pkg/cache"
	"github.com/wyfcoding/mineralchain/pkg/config"
	"github.com/wyfcoding/mineralchain/pkg/db"
	"github.com/wyfcoding/mineralchain/pkg/idgen"
	"github.com/wyfcoding/mineralchain/pkg/logger"
	"github.com/wyfcoding/mineralchain/pkg/metrics"
	"github.com/wyfcoding/mineralchain/pkg/middleware"
	"github.com/wyfcoding/mineralchain/pkg/mq"
	"github.com/wyfcoding/mineralchain/pkg/ratelimit"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

var configPath = flag.String("config", "configs/settlement.toml", "config file path")

func main() {
	flag.Parse()

	// 1. Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	// 2. Logger
	log, err := logger.Init(logger.Config{
		Level:      cfg.Logger.Level,
		Format:     cfg.Logger.Format,
		Output:     cfg.Logger.Output,
		FilePath:   cfg.Logger.FilePath,
		MaxSize:    cfg.Logger.MaxSize,
		MaxBackups: cfg.Logger.MaxBackups,
		MaxAge:     cfg.Logger.MaxAge,
		Compress:   cfg.Logger.Compress,
		WithCaller: cfg.Logger.WithCaller,
	})
	if err != nil {
		panic(fmt.Sprintf("failed to init logger: %v", err))
	}
	log = log.With("service", cfg.ServiceName, "env", cfg.Environment)

	nodeID, err := strconv.ParseInt(config.GetEnv("NODE_ID", "1"), 10, 64)
	if err != nil {
		log.Error("invalid NODE_ID", "error", err)
		os.Exit(1)
	}
	if err := idgen.Init(nodeID); err != nil {
		log.Error("failed to init id generator", "error", err)
		os.Exit(1)
	}

	// 3. Metrics
	m := metrics.New(cfg.ServiceName)

	// 4. Infrastructure
	database, err := db.Init(db.Config{
		Driver:             cfg.Database.Driver,
		DSN:                cfg.Database.DSN,
		MaxOpenConns:       cfg.Database.MaxOpenConns,
		MaxIdleConns:       cfg.Database.MaxIdleConns,
		ConnMaxLifetime:    cfg.Database.ConnMaxLifetime,
		LogEnabled:         cfg.Database.LogEnabled,
		SlowQueryThreshold: cfg.Database.SlowQueryThreshold,
	})
	if err != nil {
		log.Error("failed to connect database", "error", err)
		os.Exit(1)
	}
	if cfg.Database.AutoMigrate {
		if err := mysql.AutoMigrate(database.DB); err != nil {
			log.Error("failed to migrate database", "error", err)
			os.Exit(1)
		}
	}

	redisCache, err := cache.New(cache.Config{
		Host:         cfg.Redis.Host,
		Port:         cfg.Redis.Port,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		MaxPoolSize:  cfg.Redis.MaxPoolSize,
		ConnTimeout:  cfg.Redis.ConnTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	if err != nil {
		log.Error("failed to connect redis", "error", err)
		os.Exit(1)
	}

	kafkaCfg := mq.KafkaConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		SessionTimeout: cfg.Kafka.SessionTimeout,
		MaxRetries:     cfg.Kafka.MaxRetries,
		RetryBackoff:   cfg.Kafka.RetryBackoff,
	}
	producer := mq.NewProducer(kafkaCfg)

	// 5. Application
	opts := settlementOptions(cfg.Settlement)
	audit := mysql.NewAuditRepo(database.DB)
	brackets := mysql.NewPriceBracketRepo(database.DB)
	rules := mysql.NewDeductionRuleRepo(database.DB)
	priceCache := settlementcache.NewPriceCache(redisCache,
		time.Duration(cfg.Settlement.PriceCacheTTL)*time.Second,
		time.Duration(cfg.Settlement.BracketLockTTL)*time.Second)

	settlementSvc := application.NewSettlementAppService(application.Dependencies{
		Settlements: mysql.NewSettlementRepo(database.DB),
		Reports:     mysql.NewLabReportRepo(database.DB),
		Brackets:    brackets,
		Rules:       rules,
		Items:       mysql.NewItemStore(database.DB),
		Notifier: messaging.NewNotificationGateway(producer, cfg.Kafka.Topics.Notifications,
			messaging.DefaultBreakerSettings("settlement-notifications", log)),
		Audit:   audit,
		Events:  messaging.NewEventPublisher(producer, cfg.Kafka.Topics.SettlementEvents),
		Metrics: m,
	}, opts, log)
	pricingSvc := application.NewPriceBracketService(brackets, priceCache, audit, m, opts, log)
	deductionSvc := application.NewDeductionCatalogService(rules, audit, log)

	// 6. Interfaces
	grpcSrv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(middleware.GRPCRecoveryInterceptor(), middleware.GRPCLoggingInterceptor()),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			MaxConnectionIdle: time.Duration(cfg.GRPC.IdleTimeout) * time.Second,
		}),
	)
	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcSrv, healthSrv)
	healthSrv.SetServingStatus(cfg.ServiceName, healthpb.HealthCheckResponse_SERVING)
	reflection.Register(grpcSrv)

	gin.SetMode(gin.ReleaseMode)
	if cfg.Environment == "dev" {
		gin.SetMode(gin.DebugMode)
	}
	r := gin.New()
	r.Use(
		middleware.GinRecoveryMiddleware(),
		middleware.GinLoggingMiddleware(),
		middleware.GinCORSMiddleware(),
		middleware.GinMetricsMiddleware(m),
	)
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(m.Handler()))
	}
	r.GET("/healthz", func(c *gin.Context) { c.Status(http.StatusOK) })

	api := r.Group("/api/v1")
	api.Use(middleware.RateLimitMiddleware(ratelimit.NewRedisRateLimiter(redisCache.GetClient()), cfg.RateLimit))
	httpserver.Register(api,
		httpserver.NewSettlementHandler(settlementSvc),
		httpserver.NewPricingHandler(pricingSvc),
		httpserver.NewDeductionHandler(deductionSvc),
	)

	processing := consumer.NewProcessingConsumer(settlementSvc, log)
	processingReader := mq.NewConsumer(kafkaCfg, cfg.Kafka.Topics.ProcessingCompleted)

	// 7. Start
	g, ctx := errgroup.WithContext(context.Background())

	g.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.GRPC.Host, cfg.GRPC.Port)
		lis, err := net.Listen("tcp", addr)
		if err != nil {
			return err
		}
		log.Info("gRPC server starting", "addr", addr)
		return grpcSrv.Serve(lis)
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      r,
		ReadTimeout:  time.Duration(cfg.HTTP.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.HTTP.WriteTimeout) * time.Second,
	}
	g.Go(func() error {
		log.Info("HTTP server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	g.Go(func() error {
		log.Info("processing consumer starting", "topic", cfg.Kafka.Topics.ProcessingCompleted)
		err := processingReader.Run(consumerCtx, processing.Handle)
		if err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		select {
		case <-quit:
			log.Info("shutting down servers...")
		case <-ctx.Done():
			log.Info("context cancelled, shutting down...")
		}

		healthSrv.Shutdown()
		stopConsumer()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error("http shutdown failed", "error", err)
		}
		grpcSrv.GracefulStop()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("server exited with error", "error", err)
	}

	if err := processingReader.Close(); err != nil {
		log.Warn("failed to close consumer", "error", err)
	}
	if err := producer.Close(); err != nil {
		log.Warn("failed to close producer", "error", err)
	}
	if err := redisCache.Close(); err != nil {
		log.Warn("failed to close redis", "error", err)
	}
	if err := database.Close(); err != nil {
		log.Warn("failed to close database", "error", err)
	}
}

// settlementOptions 配置中的业务参数覆盖默认值
func settlementOptions(sc config.SettlementConfig) application.Options {
	opts := application.DefaultOptions()
	if len(sc.TrackedMinerals) > 0 {
		opts.TrackedMinerals = sc.TrackedMinerals
	}
	if sc.BracketCeiling > 0 {
		opts.BracketCeiling = decimal.NewFromFloat(sc.BracketCeiling)
	}
	if sc.SilverDMGrams > 0 {
		opts.SilverDMGrams = decimal.NewFromFloat(sc.SilverDMGrams)
	}
	if sc.ConcentrateThreshold > 0 {
		opts.Thresholds.Concentrate = decimal.NewFromFloat(sc.ConcentrateThreshold)
	}
	if sc.ComplexLotThreshold > 0 {
		opts.Thresholds.ComplexLot = decimal.NewFromFloat(sc.ComplexLotThreshold)
	}
	return opts
}
