package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/md-rashed-zaman/slotguard/libs/auth"
	"github.com/md-rashed-zaman/slotguard/libs/config"
	"github.com/md-rashed-zaman/slotguard/libs/db"
	"github.com/md-rashed-zaman/slotguard/libs/httpx"
	"github.com/md-rashed-zaman/slotguard/libs/kafkax"
	otelx "github.com/md-rashed-zaman/slotguard/libs/otel"
	"github.com/md-rashed-zaman/slotguard/libs/runtime"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/availability"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/blocks"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/consumer"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/expiry"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/handlers"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/inbox"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/outbox"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/reservation"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/settings"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/storage"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	if err := config.LoadDotEnv(".env"); err != nil {
		panic(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.Service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.Service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	var (
		store    storage.Store
		source   outbox.Source
		inboxRec consumer.Inbox
		checks   []runtime.ReadyCheck
	)
	if cfg.DatabaseURL != "" {
		pool, err := db.Open(ctx, cfg.DatabaseURL, db.Options{MaxConns: int32(cfg.DBMaxConns)})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()
		if cfg.AutoMigrate {
			if err := storage.Migrate(ctx, pool); err != nil {
				logger.Error("db migration failed", "err", err)
				panic(err)
			}
		}
		pg := storage.NewPostgres(pool, outbox.NewRepository())
		store, source = pg, pg
		inboxRec = inbox.NewRepository(pool)
		checks = append(checks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	} else {
		logger.Warn("DATABASE_URL not set; state is kept in memory and lost on restart")
		mem := storage.NewMemory()
		store, source = mem, mem
		inboxRec = inbox.NewMemory()
	}

	seed, err := settings.LoadSeed(cfg.SettingsSeedFile)
	if err != nil {
		logger.Error("settings seed invalid", "err", err)
		panic(err)
	}
	settingsSvc := settings.New(store, seed, time.Now)
	detector := availability.NewDetector(time.Now)
	reservations := reservation.New(store, settingsSvc, detector, time.Now)
	blockSvc := blocks.New(store, time.Now)

	publisher := outbox.NewPublisher(source, logger, outbox.PublisherConfig{
		Brokers:   cfg.KafkaBrokers,
		PollEvery: cfg.OutboxPollEvery,
		BatchSize: cfg.OutboxBatchSize,
	})
	go publisher.Run(ctx)

	paymentConsumer := consumer.New(logger, inboxRec, consumer.Config{
		Brokers: cfg.KafkaBrokers,
		GroupID: cfg.KafkaGroupID,
		Topics:  consumer.PaymentTopics,
	}, consumer.PaymentHandler(reservations))
	go paymentConsumer.Run(ctx)

	expiryWorker := expiry.NewWorker(reservations, logger, expiry.WorkerConfig{
		Interval: cfg.ExpiryInterval,
		TTL:      cfg.PendingTTL,
	})
	go expiryWorker.Run(ctx)

	if cfg.KafkaBrokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(kafkax.SplitBrokers(cfg.KafkaBrokers))})
	}

	var reserveLimit httpx.Middleware
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		defer func() { _ = rdb.Close() }()
		reserveLimit = httpx.NewRedisRateLimiter(rdb, cfg.RateLimit, cfg.RateLimitWindow, "reserve", httpx.HeaderKey(httpx.ActorHeader)).
			Middleware(logger, true)
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: httpx.RedisReadyCheck(rdb)})
	} else {
		reserveLimit = httpx.NewRateLimiter(cfg.RateLimit, cfg.RateLimitWindow, httpx.HeaderKey(httpx.ActorHeader)).Middleware()
	}
	isReserve := func(r *http.Request) bool {
		return r.Method == http.MethodPost && r.URL.Path == "/api/v1/reservations"
	}

	requireActor := func(next http.Handler) http.Handler { return next }
	if cfg.AuthJWTSecret != "" || cfg.AuthJWKSURL != "" {
		var jwksClient *auth.JWKSClient
		if cfg.AuthJWKSURL != "" {
			jwksClient = auth.NewJWKSClient(cfg.AuthJWKSURL, cfg.AuthJWKSTTL)
		}
		isProbe := func(r *http.Request) bool { return !strings.HasPrefix(r.URL.Path, "/api/") }
		requireActor = auth.RequireActor(auth.NewVerifier(cfg.AuthJWTSecret, jwksClient), isProbe)
	} else {
		logger.Warn("auth disabled; the actor is taken from the X-Actor-Id header as sent")
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handlers.NewAvailabilityHandler(settingsSvc, detector, store, logger).Register(mux)
	handlers.NewReservationHandler(reservations, logger).Register(mux)
	handlers.NewBlockHandler(blockSvc, logger).Register(mux)
	handlers.NewSettingsHandler(settingsSvc, logger).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithTimeout(cfg.RequestTimeout),
		httpx.WithBodyLimit(int64(cfg.BodyLimitBytes)),
		requireActor,
		httpx.Only(isReserve, reserveLimit),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "availability")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := runtime.Serve(ctx, srv, logger, 10*time.Second); err != nil {
		logger.Error("availability-service stopped with error", "err", err)
	}
}
