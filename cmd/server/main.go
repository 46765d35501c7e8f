package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/swapbid/backend/docs"
	"github.com/swapbid/backend/internal/audit"
	"github.com/swapbid/backend/internal/breaker"
	"github.com/swapbid/backend/internal/config"
	"github.com/swapbid/backend/internal/database"
	"github.com/swapbid/backend/internal/handlers"
	"github.com/swapbid/backend/internal/ledger"
	"github.com/swapbid/backend/internal/lock"
	"github.com/swapbid/backend/internal/metrics"
	mW "github.com/swapbid/backend/internal/middleware"
	"github.com/swapbid/backend/internal/notify"
	"github.com/swapbid/backend/internal/payment"
	"github.com/swapbid/backend/internal/recovery"
	"github.com/swapbid/backend/internal/repository"
	"github.com/swapbid/backend/internal/retry"
	"github.com/swapbid/backend/internal/services"
	"github.com/swapbid/backend/internal/settlement"
	httpSwagger "github.com/swaggo/http-swagger"
	"go.opentelemetry.io/otel"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// @title Auction Settlement API
// @version 1.0
// @description Winner selection, proposal rejection and settlement health for swap auctions
// @BasePath /api/v1
// @schemes http https
// @securityDefinitions.apikey BearerAuth
// @in header
// @name Authorization

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		log.Fatalf("Failed to build logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	db, err := database.InitDB(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	redisClient := database.InitRedis(ctx, cfg.Redis, logger)
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Metrics
	meterProvider := sdkmetric.NewMeterProvider()
	otel.SetMeterProvider(meterProvider)
	defer func() {
		if err := meterProvider.Shutdown(context.Background()); err != nil {
			logger.Warn("Failed to shut down meter provider", zap.Error(err))
		}
	}()

	recorder, err := metrics.NewRecorder(meterProvider)
	if err != nil {
		logger.Fatal("Failed to register metrics", zap.Error(err))
	}

	// Ledger: both callers share one breaker, each with its own retry budget
	breakers := breaker.NewManager(logger, recorder)
	ledgerBreaker := breakers.GetOrCreate(breaker.LedgerSubmit, breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		Window:           cfg.Breaker.Window,
		Cooldown:         cfg.Breaker.Cooldown,
	})

	signer, err := ledger.NewSigner(cfg.Ledger.SigningKeyID, cfg.Ledger.SigningSecret, cfg.Ledger.SigningSalt)
	if err != nil {
		logger.Fatal("Failed to initialize ledger signer", zap.Error(err))
	}
	ledgerClient := ledger.NewClient(ledger.ClientConfig{
		BaseURL: cfg.Ledger.BaseURL,
		Timeout: cfg.Ledger.Timeout,
	}, signer, logger)

	interactiveLedger := ledger.NewGateway(ledgerClient, ledgerBreaker,
		retry.NewPolicy(cfg.Retry.BaseDelay, cfg.Retry.Multiplier, cfg.Retry.InteractiveMaxDelay, logger),
		cfg.Retry.InteractiveAttempts, recorder, logger)
	recoveryLedger := ledger.NewGateway(ledgerClient, ledgerBreaker,
		retry.NewPolicy(cfg.Retry.BaseDelay, cfg.Retry.Multiplier, cfg.Retry.InteractiveMaxDelay, logger),
		cfg.Retry.RecoveryAttempts, recorder, logger)

	// Recovery queue
	auditLogger := audit.NewLogger(logger)
	pendingStore := recovery.NewPostgresStore(db)
	queue := recovery.NewQueue(pendingStore, logger)
	processor := recovery.NewProcessor(pendingStore, recoveryLedger,
		retry.NewPolicy(cfg.Retry.BaseDelay, cfg.Retry.Multiplier, cfg.Retry.RecoveryMaxDelay, logger),
		recovery.ProcessorConfig{
			Interval:    cfg.Recovery.Interval,
			BatchSize:   cfg.Recovery.BatchSize,
			MaxAttempts: cfg.Recovery.MaxAttempts,
			ClaimTTL:    cfg.Recovery.ClaimTTL,
		}, auditLogger, recorder, logger)

	// Settlement
	payments := payment.NewClient(payment.Config{
		BaseURL: cfg.Payment.BaseURL,
		Timeout: cfg.Payment.Timeout,
		APIKey:  cfg.Payment.APIKey,
	}, logger)
	fees := payment.FeeSchedule{
		PlatformPercent:   cfg.Payment.PlatformFeePercent,
		ProcessingPercent: cfg.Payment.ProcessingFeePercent,
		ProcessingFixed:   cfg.Payment.ProcessingFeeFixed,
	}
	auctions := repository.NewAuctionRepository(db)
	strategies := settlement.NewRegistry(
		settlement.NewBookingStrategy(repository.NewBookingRepository(db), logger),
		settlement.NewCashStrategy(payments, fees, logger),
	)

	var locker lock.Locker = lock.NewLocalLocker()
	if cfg.Lock.Driver == "redis" {
		if redisClient != nil {
			locker = lock.NewRedisLocker(redisClient, lock.Options{
				Expiry:     cfg.Lock.Expiry,
				Tries:      cfg.Lock.Tries,
				RetryDelay: cfg.Lock.RetryDelay,
			}, logger)
		} else {
			logger.Warn("Redis unavailable, auction locks are local to this process")
		}
	}

	publisher := notify.Nop
	switch cfg.Notify.Driver {
	case "redis":
		if redisClient != nil {
			publisher = notify.NewRedisPublisher(redisClient, cfg.Notify.RedisKey)
		} else {
			logger.Warn("Redis unavailable, notifications disabled")
		}
	case "amqp":
		amqpPublisher, closeAMQP, err := notify.DialAMQP(cfg.Notify.AMQPURL, cfg.Notify.Exchange)
		if err != nil {
			logger.Fatal("Failed to connect to message broker", zap.Error(err))
		}
		defer closeAMQP() //nolint:errcheck
		publisher = amqpPublisher
	}

	picker, err := services.NewWinnerPicker(cfg.Auction.AutoSelectStrategy)
	if err != nil {
		logger.Fatal("Invalid auto-select strategy", zap.Error(err))
	}

	resolutionService := services.NewAuctionResolutionService(services.ResolutionDeps{
		Auctions:   auctions,
		Strategies: strategies,
		Payments:   payments,
		Locker:     locker,
		Ledger:     interactiveLedger,
		Queue:      queue,
		Notifier:   notify.NewNotifier(publisher, cfg.Notify.Timeout, logger),
		Audit:      auditLogger,
		Metrics:    recorder,
		Picker:     picker,
		Logger:     logger,
	})
	selector := services.NewAutoSelector(auctions, resolutionService,
		cfg.Auction.SweepInterval, cfg.Auction.SweepBatchSize, logger)

	if err := processor.Start(ctx); err != nil {
		logger.Fatal("Failed to start recovery processor", zap.Error(err))
	}
	defer processor.Stop()

	if err := selector.Start(ctx); err != nil {
		logger.Fatal("Failed to start auto selector", zap.Error(err))
	}
	defer selector.Stop()

	auctionHandler := handlers.NewAuctionHandler(resolutionService, queue, breakers)

	docs.SwaggerInfo.Title = "Auction Settlement API"
	docs.SwaggerInfo.Version = "1.0"
	docs.SwaggerInfo.BasePath = "/api/v1"
	docs.SwaggerInfo.Schemes = []string{"http", "https"}

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(mW.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Retry-After"},
		AllowCredentials: true,
		MaxAge:           86400,
	}))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "healthy"})
	})

	// Swagger documentation
	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(mW.Auth(cfg.JWT.SecretKey))
		auctionHandler.Routes(r)
	})

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("Server starting", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()

	logger.Info("Server shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
}
