package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"safepay/internal/app/payments"
	"safepay/internal/app/reconciliation"
	"safepay/internal/app/subscriptions"
	"safepay/internal/config"
	payments_http "safepay/internal/handler/http/payments"
	kafka_handler "safepay/internal/handler/kafka"
	"safepay/internal/infrastructure/alatpay"
	"safepay/internal/infrastructure/database"
	kafka_infra "safepay/internal/infrastructure/kafka"
	"safepay/internal/jobs"
	"safepay/internal/repository/ledger_repo"
	memory_ledger "safepay/internal/repository/ledger_repo/memory"
	postgres_ledger "safepay/internal/repository/ledger_repo/postgres"
)

func newLogger(cfg *config.Config) (*zap.Logger, error) {
	zapConfig := zap.NewProductionConfig()
	if !cfg.IsProduction() {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"
	return zapConfig.Build()
}

func connectPostgres(cfg *config.Config, logger *zap.Logger) (*sql.DB, error) {
	dbConfig := database.DBConfig{
		Host:     cfg.DBConfig.Host,
		Port:     cfg.DBConfig.Port,
		User:     cfg.DBConfig.User,
		Password: cfg.DBConfig.Password,
		DBName:   cfg.DBConfig.Name,
		SSLMode:  cfg.DBConfig.SSLMode,
	}

	var (
		db  *sql.DB
		err error
	)
	maxRetries := 10
	retryDelay := 5 * time.Second

	for i := 0; i < maxRetries; i++ {
		db, err = database.NewPostgresDB(dbConfig)
		if err == nil {
			logger.Info("Successfully connected to PostgreSQL database!")
			return db, nil
		}
		logger.Warn("Failed to connect to database, retrying",
			zap.Int("attempt", i+1),
			zap.Int("max_attempts", maxRetries),
			zap.Duration("retry_in", retryDelay),
			zap.Error(err),
		)
		time.Sleep(retryDelay)
	}
	return nil, fmt.Errorf("could not connect to database after %d attempts: %w", maxRetries, err)
}

func runMigrations(cfg *config.Config, logger *zap.Logger) error {
	logger.Info("Running database migrations...", zap.String("source", cfg.MigrationsPath))
	m, err := migrate.New(cfg.MigrationsPath, cfg.GetDBMigrationConnectionString())
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run database migrations: %w", err)
	}
	logger.Info("Database migrations completed successfully (or no new migrations).")
	return nil
}

func openStore(cfg *config.Config, logger *zap.Logger) (ledger_repo.Repository, error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn("Using in-memory store, data will not survive a restart")
		return memory_ledger.NewLedgerRepository(), nil
	}

	logger.Info("Waiting for database to be available...")
	db, err := connectPostgres(cfg, logger)
	if err != nil {
		return nil, err
	}
	if err := runMigrations(cfg, logger); err != nil {
		db.Close()
		return nil, err
	}
	return postgres_ledger.NewLedgerRepository(db), nil
}

func newNotifier(cfg *config.Config, logger *zap.Logger) (subscriptions.Notifier, func()) {
	if !cfg.NotificationsEnabled {
		logger.Info("Subscription notifications disabled.")
		return subscriptions.NopNotifier{}, func() {}
	}

	kafkaBrokers := cfg.GetKafkaBrokers()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := kafka_infra.EnsureTopics(ctx, kafkaBrokers, []string{cfg.KafkaNotificationsTopic}, logger); err != nil {
		logger.Warn("Failed to ensure Kafka topics, notifications may be lost", zap.Error(err))
	}

	producer := kafka_infra.NewNotificationProducer(
		kafkaBrokers,
		cfg.KafkaNotificationsTopic,
		cfg.NotificationTimeout,
		logger.With(zap.String("component", "KafkaProducer")),
	)
	logger.Info("Kafka producer created successfully.", zap.String("topic", cfg.KafkaNotificationsTopic))
	return producer, func() {
		if err := producer.Close(); err != nil {
			logger.Error("Error closing Kafka producer", zap.Error(err))
		}
	}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	appLogger, err := newLogger(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()
	appLogger.Info("Payments service starting...", zap.String("env", cfg.Env), zap.String("store", cfg.StoreDriver))

	store, err := openStore(cfg, appLogger)
	if err != nil {
		appLogger.Fatal("Failed to open store", zap.Error(err))
	}
	defer func() {
		if err := store.Close(); err != nil {
			appLogger.Error("Error closing store", zap.Error(err))
		} else {
			appLogger.Info("Store closed.")
		}
	}()

	notifier, closeNotifier := newNotifier(cfg, appLogger)
	defer closeNotifier()

	gateway := alatpay.NewClient(alatpay.Config{
		BaseURL:    cfg.AlatPay.BaseURL,
		APIKey:     cfg.AlatPay.APIKey,
		BusinessID: cfg.AlatPay.BusinessID,
		Currency:   cfg.Payment.Currency,
		Timeout:    cfg.AlatPay.Timeout,
	}, nil, appLogger.With(zap.String("component", "AlatPayClient")))

	subscriptionService := subscriptions.NewService(
		store,
		notifier,
		cfg.Payment.SubscriptionPeriod,
		cfg.NotificationTimeout,
		appLogger.With(zap.String("component", "SubscriptionService")),
	)
	engine := reconciliation.NewEngine(
		store,
		gateway,
		subscriptionService,
		appLogger.With(zap.String("component", "ReconciliationEngine")),
	)
	paymentService := payments.NewService(
		store,
		gateway,
		engine,
		subscriptionService,
		payments.Config{
			Currency:           cfg.Payment.Currency,
			Description:        cfg.Payment.Description,
			SupportedBankCode:  cfg.Payment.SupportedBankCode,
			SupportedBankName:  cfg.Payment.SupportedBankName,
			VirtualAccountName: cfg.Payment.VirtualAccountName,
		},
		appLogger.With(zap.String("component", "PaymentService")),
	)
	appLogger.Info("Payment Service initialized.")

	router := payments_http.NewRouter(paymentService, store, payments_http.RouterConfig{
		AllowedOrigins: cfg.HTTP.AllowedOrigins,
		RequestTimeout: cfg.HTTP.RequestTimeout,
	}, appLogger.With(zap.String("component", "HTTPHandler")))

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctxMain, cancelMain := context.WithCancel(context.Background())
	defer cancelMain()

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	var jobsWG sync.WaitGroup
	if cfg.Jobs.Enabled {
		checker := jobs.NewChecker(
			engine,
			cfg.Jobs.CheckInterval,
			cfg.Jobs.CheckTimeout,
			appLogger.With(zap.String("component", "TransactionChecker")),
		)
		archiver := jobs.NewArchiver(store, jobs.ArchiverConfig{
			Retention: cfg.Jobs.ArchiveRetention,
			BatchSize: cfg.Jobs.ArchiveBatchSize,
			Hour:      cfg.Jobs.ArchiveHour,
		}, appLogger.With(zap.String("component", "Archiver")))

		jobsWG.Add(2)
		go func() {
			defer jobsWG.Done()
			checker.Start(ctxMain)
		}()
		go func() {
			defer jobsWG.Done()
			archiver.Start(ctxMain)
		}()
	} else {
		appLogger.Info("Background jobs disabled (RUN_JOBS=false).")
	}

	var paymentEventsConsumer *kafka_infra.Consumer
	if cfg.PaymentEventsEnabled {
		paymentEventsConsumer = kafka_infra.NewConsumer(
			cfg.GetKafkaBrokers(),
			cfg.KafkaPaymentEventsGroupID,
			cfg.KafkaPaymentEventsTopic,
			appLogger.With(zap.String("component", "PaymentEventsConsumer")),
		)
		notificationHandler := kafka_handler.PaymentNotificationMessageHandler(
			engine,
			appLogger.With(zap.String("component", "PaymentNotificationHandler")),
		)
		jobsWG.Add(1)
		go func() {
			defer jobsWG.Done()
			if err := paymentEventsConsumer.Consume(ctxMain, notificationHandler); err != nil {
				appLogger.Error("Payment events consumer failed", zap.Error(err))
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan
	appLogger.Info("Shutting down application...")

	cancelMain()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		appLogger.Info("HTTP server gracefully shut down.")
	}

	if paymentEventsConsumer != nil {
		if err := paymentEventsConsumer.Close(); err != nil {
			appLogger.Error("Error closing payment events consumer", zap.Error(err))
		}
	}

	stopped := make(chan struct{})
	go func() {
		jobsWG.Wait()
		subscriptionService.Wait()
		close(stopped)
	}()
	select {
	case <-stopped:
		appLogger.Info("Background jobs and notifications drained.")
	case <-shutdownCtx.Done():
		appLogger.Warn("Background work did not stop before the shutdown deadline.")
	}

	appLogger.Info("Application gracefully shut down.")
}
