package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"spacebook/internal/api"
	"spacebook/internal/availability"
	"spacebook/internal/cache"
	"spacebook/internal/config"
	"spacebook/internal/consumer"
	"spacebook/internal/database"
	"spacebook/internal/gateway"
	"spacebook/internal/metrics"
	"spacebook/internal/mq"
	"spacebook/internal/notify"
	"spacebook/internal/scheduler"
	"spacebook/internal/service"
	"spacebook/shared/access"
	"spacebook/shared/audit"
)

func main() {
	output := zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	logger := zerolog.New(output).With().Timestamp().Logger()

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn().Err(err).Msg("failed to read .env")
	}

	cfg, err := config.Load(os.Getenv("SPACEBOOK_CONFIG_PATH"))
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load config")
	}
	if cfg.Auth.JWTSecret == "" {
		logger.Warn().Msg("auth.jwt_secret is empty, admin routes will reject every token")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.NewDB(cfg.Database.Path, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("open db error")
	}
	defer db.Close()

	var rdb *redis.Client
	if cfg.Redis.Address != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Address, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
		defer rdb.Close()
	}

	policiesCfg, err := config.LoadPoliciesConfig(cfg.Policies.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load policies")
	}
	registry := config.NewPolicyRegistry(policiesCfg)
	policyCache := cache.NewPolicyCache(rdb, cfg.PolicyCacheTTL(), registry, &logger)
	registry.OnChange(func(*config.PoliciesConfig) { policyCache.Invalidate(ctx) })
	if err := config.WatchPolicies(ctx, cfg.Policies.Path, cfg.PolicyReloadInterval(), &logger, registry.Replace); err != nil {
		logger.Warn().Err(err).Msg("policy hot reload disabled")
	}

	gw, err := gateway.NewOmiseGateway(cfg.Gateway.PublicKey, cfg.Gateway.SecretKey, &logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("create payment gateway")
	}

	dispatcher := notify.NewDispatcher(notify.Options{
		RatePerSecond: cfg.Notifications.RatePerSecond,
		Burst:         cfg.Notifications.Burst,
		QueueSize:     cfg.Notifications.QueueSize,
	}, &logger)

	var telegram *notify.TelegramSink
	if cfg.Telegram.BotToken != "" && len(cfg.Telegram.StaffChatIDs) > 0 {
		bot, err := tgbotapi.NewBotAPI(cfg.Telegram.BotToken)
		if err != nil {
			logger.Fatal().Err(err).Msg("create telegram bot")
		}
		telegram = notify.NewTelegramSink(bot, cfg.Telegram.StaffChatIDs)
		dispatcher.Subscribe(telegram)
	}

	if cfg.Sheets.SpreadsheetID != "" {
		sheetsSink, err := notify.NewSheetsSink(ctx, cfg.Sheets.CredentialsFile, cfg.Sheets.SpreadsheetID, cfg.Sheets.Range)
		if err != nil {
			logger.Error().Err(err).Msg("google sheets sink disabled")
		} else {
			dispatcher.Subscribe(sheetsSink)
		}
	}

	var gatewayQueue *mq.Consumer
	if cfg.AMQP.URL != "" {
		pub, err := mq.NewPublisher(cfg.AMQP.URL, cfg.AMQP.BookingEventsExchange)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect booking events exchange")
		}
		defer pub.Close()
		dispatcher.Subscribe(notify.NewAMQPSink(pub))

		gatewayQueue, err = mq.NewConsumer(cfg.AMQP.URL, cfg.AMQP.GatewayEventsQueue, cfg.AMQP.Prefetch)
		if err != nil {
			logger.Fatal().Err(err).Msg("connect gateway events queue")
		}
		defer gatewayQueue.Close()
	}

	checker := availability.NewChecker(db, &logger)
	svc := service.NewBookingService(db, checker, gw, registry, dispatcher, service.Options{
		Location:        cfg.Location(),
		DeferredMinDays: cfg.Booking.DeferredMinDays,
	}, &logger)

	auth := access.NewService(cfg.Auth.JWTSecret, cfg.Auth.Issuer, logger)
	server := api.NewServer(svc, policyCache, checker, auth, &logger)

	if cfg.Monitoring.PrometheusEnabled {
		metrics.Register()
		go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, &logger)
	}
	go startHealthServer(ctx, cfg.Monitoring.HealthCheckPort, db, rdb, &logger)

	var wg sync.WaitGroup
	run := func(fn func()) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn()
		}()
	}

	run(func() { dispatcher.Run(ctx) })
	run(func() { database.NewBackupService(db, cfg.Backup, &logger).Start(ctx) })

	sweeper := scheduler.NewCompletionSweeper(scheduler.CompletionConfig{
		Interval: cfg.CompletionSweepInterval(),
		Location: cfg.Location(),
	}, db, svc, &logger)
	run(func() { sweeper.Start(ctx) })

	if cfg.Reports.Enabled {
		var sender audit.DocumentSender
		if telegram != nil {
			sender = telegram
		}
		reporter := audit.NewReporter(audit.Config{Dir: cfg.Reports.Dir, Location: cfg.Location()}, db, sender, &logger)
		run(func() { reporter.Start(ctx) })
	}

	if gatewayQueue != nil {
		eventConsumer := consumer.NewGatewayEventConsumer(svc, gatewayQueue, &logger)
		run(func() {
			if err := eventConsumer.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("gateway event consumer stopped")
			}
		})
	}

	grpcHealth := health.NewServer()
	run(func() { startGRPCHealth(ctx, cfg.Server.GRPCPort, grpcHealth, &logger) })

	gin.SetMode(gin.ReleaseMode)
	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.HTTPPort),
		Handler:           server.Router(cfg.Server.CORSOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		grpcHealth.Shutdown()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = httpSrv.Shutdown(ctxShutdown)
	}()

	logger.Info().Int("port", cfg.Server.HTTPPort).Msg("spacebook started")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("http server error")
		stop()
	}

	wg.Wait()
	logger.Info().Msg("spacebook stopped")
}

func startHealthServer(ctx context.Context, port int, db *database.DB, rdb *redis.Client, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		ctxPing, cancel := context.WithTimeout(ctx, time.Second)
		defer cancel()
		if err := db.PingContext(ctxPing); err != nil {
			http.Error(w, "db not ready", http.StatusServiceUnavailable)
			return
		}
		if rdb != nil {
			if err := rdb.Ping(ctxPing).Err(); err != nil {
				http.Error(w, "redis not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	serve(ctx, "health", &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}, logger)
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	serve(ctx, "metrics", &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}, logger)
}

func serve(ctx context.Context, name string, srv *http.Server, logger *zerolog.Logger) {
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Str("server", name).Msg("server error")
	}
}

// startGRPCHealth exposes the standard gRPC health service for orchestrators
// that probe over gRPC.
func startGRPCHealth(ctx context.Context, port int, hs *health.Server, logger *zerolog.Logger) {
	if port == 0 {
		return
	}
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		logger.Error().Err(err).Msg("grpc health listen failed")
		return
	}
	gs := grpc.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	hs.SetServingStatus("spacebook", healthpb.HealthCheckResponse_SERVING)

	go func() {
		<-ctx.Done()
		gs.GracefulStop()
	}()
	logger.Info().Int("port", port).Msg("grpc health listening")
	if err := gs.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		logger.Error().Err(err).Msg("grpc health server error")
	}
}
