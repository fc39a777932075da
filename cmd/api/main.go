package main

import (
	"context"
	"crypto/tls"
	"database/sql"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/vogohq/concierge/cmd/mainconfig"
	"github.com/vogohq/concierge/internal/api/router"
	"github.com/vogohq/concierge/internal/calendar"
	"github.com/vogohq/concierge/internal/catalog"
	appconfig "github.com/vogohq/concierge/internal/config"
	"github.com/vogohq/concierge/internal/conversation"
	"github.com/vogohq/concierge/internal/http/handlers"
	"github.com/vogohq/concierge/internal/observability/metrics"
	"github.com/vogohq/concierge/internal/ticketing"
	"github.com/vogohq/concierge/pkg/logging"
)

func main() {
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting concierge API server",
		"env", cfg.Env,
		"port", cfg.Port,
	)

	if cfg.DatabaseURL == "" {
		logger.Error("DATABASE_URL is required")
		os.Exit(1)
	}

	db, err := sql.Open("pgx", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 10*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancelPing()
		logger.Error("failed to ping database", "error", err)
		os.Exit(1)
	}
	cancelPing()

	var redisClient *redis.Client
	if cfg.RedisAddr != "" {
		opts := &redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
		}
		if cfg.RedisTLS {
			opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
		}
		redisClient = redis.NewClient(opts)
		defer func() { _ = redisClient.Close() }()
	}

	awsCfg, err := mainconfig.LoadAWSConfig(context.Background(), cfg)
	if err != nil {
		logger.Error("failed to load AWS config", "error", err)
		os.Exit(1)
	}

	llm, model, llmCleanup, err := buildLLMClient(context.Background(), cfg, awsCfg.Copy(), logger)
	if err != nil {
		logger.Error("failed to initialize LLM client", "error", err)
		os.Exit(1)
	}
	defer llmCleanup()

	timezone, err := time.LoadLocation(cfg.SchedulingTimezone)
	if err != nil {
		logger.Error("invalid scheduling timezone", "error", err, "tz", cfg.SchedulingTimezone)
		os.Exit(1)
	}

	classifier := conversation.NewClassifier(
		llm, redisClient, model, timezone, cfg.ClassifyCacheTTL, logger.Named("classifier"),
	)

	catalogStore := catalog.NewStore(db)
	ticketClient := ticketing.NewClient(
		cfg.TicketingBaseURL, cfg.TicketingAPIKey, cfg.TicketingTimeout, logger.Named("ticketing"),
	)

	var mirror calendar.Mirror
	if cfg.GoogleCredentialsJSON != "" {
		gm, err := calendar.NewGoogleMirror(
			context.Background(), []byte(cfg.GoogleCredentialsJSON), cfg.GoogleCalendarID,
		)
		if err != nil {
			logger.Warn("google calendar mirror disabled", "error", err)
		} else {
			mirror = gm
		}
	}
	calendarService := calendar.NewService(calendar.NewStore(db), mirror, logger.Named("calendar"))

	emailSender := buildEmailSender(cfg, awsCfg.Copy(), logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	convMetrics := metrics.New(reg)

	engine := conversation.NewEngine(conversation.EngineConfig{
		Store:      conversation.NewPostgresStore(db),
		Classifier: classifier,
		LLM:        llm,
		Model:      model,
		Searcher:   conversation.NewSearcher(llm, model, catalogStore, logger.Named("search")),
		Orderer:    conversation.NewOrderer(catalogStore, ticketClient, logger.Named("ordering")),
		Handoff:    conversation.NewHandoff(ticketClient, emailSender, cfg.OperatorEmail, logger.Named("handoff")),
		Calendar:   calendarService,
		Tickets:    ticketClient,
		Metrics:    convMetrics,
		Timezone:   timezone,
		Logger:     logger.Named("engine"),
	})

	var dispatcher *conversation.Orchestrator
	if cfg.UseMemoryQueue || cfg.TurnQueueURL == "" {
		logger.Info("using in-memory turn queue")
		dispatcher = conversation.NewOrchestrator(
			engine, conversation.NewMemoryQueue(0), logger.Named("orchestrator"),
			conversation.WithWorkerCount(cfg.WorkerCount),
		)
	} else {
		sqsClient := sqs.NewFromConfig(awsCfg)
		dispatcher = conversation.NewOrchestrator(
			engine, conversation.NewSQSQueue(sqsClient, cfg.TurnQueueURL), logger.Named("orchestrator"),
			conversation.WithWorkerCount(cfg.WorkerCount),
		)
	}

	chatHandler := handlers.NewChatHandler(dispatcher, engine, logger.Named("chat"))

	r := router.New(&router.Config{
		Logger:             logger,
		ChatHandler:        chatHandler,
		MetricsHandler:     promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
		JWTSecret:          cfg.JWTSecret,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		RateLimitPerSecond: cfg.RateLimitPerSecond,
		RateLimitBurst:     cfg.RateLimitBurst,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	if err := dispatcher.Shutdown(ctx); err != nil {
		logger.Error("dispatcher forced to shutdown", "error", err)
	}

	logger.Info("server stopped")
}
