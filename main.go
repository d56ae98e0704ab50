package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eventtix/internal/access"
	"eventtix/internal/auth"
	"eventtix/internal/catalog"
	"eventtix/internal/catalog/event_api"
	"eventtix/internal/config"
	"eventtix/internal/database/migrations"
	"eventtix/internal/kafka"
	"eventtix/internal/ledger"
	ledger_db "eventtix/internal/ledger/db"
	"eventtix/internal/ledger/qr"
	"eventtix/internal/ledger/ticket_api"
	"eventtix/internal/logger"
	"eventtix/internal/metrics"
	"eventtix/internal/payment"
	"eventtix/internal/payment/gateway"
	"eventtix/internal/payment/payment_api"
	"eventtix/internal/payment/wallet"
	"eventtix/internal/purchase"
	"eventtix/internal/purchase/purchase_api"
	"eventtix/internal/purchase/store"
	"eventtix/internal/sse"
	"eventtix/internal/stats"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/stripe/stripe-go/v82/client"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
)

const eventCacheTTL = 5 * time.Minute

func openPostgres(cfg config.DatabaseConfig, logger *logger.Logger) (*sql.DB, error) {
	var sqldb *sql.DB
	var err error
	maxRetries := 5

	for i := 0; i < maxRetries; i++ {
		logger.Info("DATABASE", fmt.Sprintf("Attempting to connect to PostgreSQL (attempt %d/%d)", i+1, maxRetries))
		sqldb, err = sql.Open("postgres", cfg.DSN)
		if err != nil {
			logger.Error("DATABASE", fmt.Sprintf("Failed to open PostgreSQL: %v", err))
			time.Sleep(2 * time.Second)
			continue
		}

		err = sqldb.Ping()
		if err == nil {
			break
		}
		sqldb.Close()

		logger.Error("DATABASE", fmt.Sprintf("Failed to connect to PostgreSQL: %v", err))
		if i < maxRetries-1 {
			time.Sleep(2 * time.Second)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("connect to PostgreSQL after %d attempts: %w", maxRetries, err)
	}
	return sqldb, nil
}

func verifyConnections(ctx context.Context, cfg *config.Config, logger *logger.Logger) (*bun.DB, *redis.Client) {
	if cfg.Database.AutoMigrate {
		// the migrate driver closes its handle, so it gets its own
		migrateDB, err := openPostgres(cfg.Database, logger)
		if err != nil {
			logger.Fatal("DATABASE", err.Error())
		}
		runner := migrations.NewRunner(bun.NewDB(migrateDB, pgdialect.New()), migrations.DefaultOptions(), logger)
		if err := runner.RunMigrations(); err != nil {
			logger.Fatal("MIGRATE", fmt.Sprintf("Failed to run migrations: %v", err))
		}
		if err := runner.Close(); err != nil {
			logger.Warn("MIGRATE", err.Error())
		}
	}

	sqldb, err := openPostgres(cfg.Database, logger)
	if err != nil {
		logger.Fatal("DATABASE", err.Error())
	}
	sqldb.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqldb.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqldb.SetConnMaxLifetime(cfg.Database.MaxLifetime)
	logger.Info("DATABASE", "✅ PostgreSQL connection successful")

	bunDB := bun.NewDB(sqldb, pgdialect.New())

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		logger.Fatal("DATABASE", fmt.Sprintf("Redis connection error: %v", err))
	}
	logger.Info("DATABASE", fmt.Sprintf("✅ Redis connection successful to %s (DB: %d)", cfg.Redis.Addr, cfg.Redis.DB))

	return bunDB, redisClient
}

func newVerifier(ctx context.Context, cfg config.AuthConfig, redisClient *redis.Client, logger *logger.Logger) auth.Verifier {
	var next auth.Verifier
	switch cfg.Mode {
	case "hmac":
		if cfg.HMACSecret == "" {
			logger.Fatal("CONFIG", "JWT_SECRET not set")
		}
		logger.Warn("AUTH", "Using shared-secret tokens; do not run this in production")
		next = auth.NewHMACVerifier(cfg.HMACSecret)
	default:
		if cfg.Issuer == "" {
			logger.Fatal("CONFIG", "OIDC_ISSUER not set")
		}
		v, err := auth.NewOIDCVerifier(ctx, cfg.Issuer)
		if err != nil {
			logger.Fatal("AUTH", fmt.Sprintf("Failed to discover OIDC issuer %s: %v", cfg.Issuer, err))
		}
		next = v
	}
	return auth.NewCachedVerifier(next, redisClient, logger)
}

func walletChain(cfg config.WalletConfig) wallet.ChainParams {
	return wallet.ChainParams{
		ChainID: big.NewInt(cfg.ChainID),
		Name:    cfg.ChainName,
		RPCURL:  cfg.RPCURL,
		NativeCurrency: wallet.NativeCurrency{
			Name:     cfg.CurrencyName,
			Symbol:   cfg.CurrencySymbol,
			Decimals: cfg.CurrencyDecimal,
		},
		ExplorerURL: cfg.ExplorerURL,
	}
}

func main() {
	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, using environment variables")
	}
	cfg := config.Load()

	logger, err := logger.New(logger.Options{Service: "eventtix", Dir: cfg.LogDir, Level: logger.ParseLevel(cfg.LogLevel)})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()

	logger.Info("APP", "Starting ticketing service initialization")

	ctx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()

	bunDB, redisClient := verifyConnections(ctx, cfg, logger)
	defer bunDB.Close()
	defer redisClient.Close()

	// --- Catalog, access, ledger ---
	eventDB := &catalog.DB{Bun: bunDB}
	events := catalog.NewCachedProvider(eventDB, redisClient, eventCacheTTL, logger)

	users := &access.DB{Bun: bunDB}
	policy := &access.Policy{Directory: users}

	tickets := ledger.NewService(&ledger_db.DB{Bun: bunDB}, policy, logger)
	tickets.Cache = events

	if cfg.Tickets.QRSecret == "" {
		logger.Warn("CONFIG", "QR_SECRET_KEY not set; ticket QR payloads can be forged")
	}
	qrGen, err := qr.NewGenerator(cfg.Tickets.QRSecret)
	if err != nil {
		logger.Fatal("CONFIG", fmt.Sprintf("QR_SECRET_KEY: %v", err))
	}

	// --- Kafka ---
	var producer *kafka.Producer
	var notifier *kafka.Notifier
	if cfg.Kafka.Enabled {
		logger.Info("KAFKA", fmt.Sprintf("Using Kafka brokers %v", cfg.Kafka.Brokers))
		if err := kafka.EnsureTopicsExist(ctx, cfg.Kafka.Brokers, cfg.Kafka.Topics.All(), logger); err != nil {
			logger.Warn("KAFKA", fmt.Sprintf("Topic creation might have failed: %v", err))
		}
		producer = kafka.NewProducer(cfg.Kafka.Brokers, logger)
		notifier = kafka.NewNotifier(producer, cfg.Kafka.Topics, logger)
		tickets.Publisher = notifier

		consumer := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.EventUpdates, cfg.Kafka.GroupID, logger)
		defer consumer.Close()
		go func() {
			err := consumer.Run(ctx, func(ctx context.Context, u kafka.EventUpdate) error {
				return events.Invalidate(ctx, u.Target())
			})
			if err != nil {
				logger.Error("KAFKA", fmt.Sprintf("Event update consumer stopped: %v", err))
			}
		}()
	} else {
		logger.Warn("KAFKA", "Kafka disabled; ticket and purchase events will not be published")
	}

	// --- Payment rails ---
	journal := &store.Journal{Bun: bunDB, Logger: logger}
	methods := payment.NewRegistry()
	var chain *wallet.ChainParams

	var submissions wallet.Submitter
	if cfg.Wallet.Enabled {
		params := walletChain(cfg.Wallet)
		backend, err := wallet.Dial(ctx, params)
		if err != nil {
			logger.Fatal("WALLET", err.Error())
		}
		defer backend.Close()

		local := wallet.NewSubmissions()
		walletBus := wallet.NewRedisSubmissions(redisClient, local, logger)
		go func() {
			if err := walletBus.Run(ctx); err != nil {
				logger.Error("WALLET", fmt.Sprintf("Submission bus stopped: %v", err))
			}
		}()
		submissions = walletBus

		methods.Register(string(payment.RailWallet), wallet.New(backend, local, params, wallet.Options{
			SubmitTimeout:  cfg.Wallet.SubmitTimeout,
			ConfirmTimeout: cfg.Wallet.ConfirmTimeout,
		}, logger))
		chain = &params
		logger.Info("WALLET", fmt.Sprintf("Wallet payments on %s (chain %s), signed by the buyer's wallet", params.Name, params.ChainIDHex()))
	}

	var webhooks *gateway.Webhooks
	if cfg.Gateway.Enabled {
		if cfg.Gateway.SecretKey == "" {
			logger.Fatal("CONFIG", "STRIPE_SECRET_KEY not set")
		}
		waiters := gateway.NewWaiters()
		bus := gateway.NewRedisBus(redisClient, waiters, logger)
		go func() {
			if err := bus.Run(ctx); err != nil {
				logger.Error("GATEWAY", fmt.Sprintf("Resolution bus stopped: %v", err))
			}
		}()

		sessions := gateway.NewStripeSessions(client.New(cfg.Gateway.SecretKey, nil), cfg.Gateway.SuccessURL, cfg.Gateway.CancelURL)
		methods.Register(string(payment.RailGateway), gateway.New(sessions, waiters, gateway.Options{
			Currency:   cfg.Gateway.Currency,
			SessionTTL: cfg.Gateway.SessionTTL,
		}, logger))
		webhooks = &gateway.Webhooks{Secret: cfg.Gateway.WebhookSecret, Resolver: bus, Journal: journal, Logger: logger}
	}

	if len(methods.Methods()) == 0 {
		logger.Warn("PAYMENT", "No payment method is enabled; purchases will be rejected")
	}

	// --- Purchases ---
	monitor := metrics.NewMonitor()
	emitter := sse.NewAttemptEventEmitter()
	attempts := store.NewRedisStore(redisClient, cfg.Purchase.AttemptTTL, cfg.Purchase.IdempotencyTTL)
	observers := purchase.Observers{
		purchase.StoreObserver(attempts, logger),
		journal,
		emitter,
		monitor,
	}
	if notifier != nil {
		observers = append(observers, notifier)
	}

	orchestrator := purchase.NewOrchestrator(events, tickets, logger, purchase.Options{
		Observer:        observers,
		DefaultReceiver: cfg.Wallet.DefaultReceiver,
		LedgerTimeout:   cfg.Purchase.LedgerWriteTimeout,
	})
	runner := purchase.NewRunner(orchestrator, methods, attempts, logger)

	// --- Handlers ---
	purchaseHandler := &purchase_api.Handler{
		Runner:  runner,
		Events:  emitter,
		Journal: journal,
		Wallet:  submissions,
		Logger:  logger,
	}
	ticketHandler := &ticket_api.Handler{
		Service:  tickets,
		Quoter:   orchestrator,
		Payments: methods,
		QR:       qrGen,
		Logger:   logger,
	}
	eventHandler := &event_api.Handler{Catalog: events, Logger: logger}
	paymentHandler := &payment_api.Handler{Methods: methods, Chain: chain}
	statsHandler := &stats.Handler{DB: &stats.DB{Bun: bunDB}, Logger: logger}

	verifier := newVerifier(ctx, cfg.Auth, redisClient, logger)

	logger.Info("HTTP", "Setting up router and middleware")
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(monitor.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Authorization", "Content-Type", "Idempotency-Key"},
		ExposedHeaders:   []string{"Location"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	// --- Public Routes ---
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := bunDB.PingContext(r.Context()); err != nil {
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		if err := redisClient.Ping(r.Context()).Err(); err != nil {
			http.Error(w, "redis unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", monitor.Handler())
	r.Get("/tickets/count", statsHandler.GetTotalTicketsCount)
	r.Get("/events", eventHandler.ListEvents)
	r.Get("/events/{eventId}", eventHandler.GetEvent)

	r.Route("/payments", func(r chi.Router) {
		r.Get("/methods", paymentHandler.ListMethods)
		r.Get("/wallet/chain", paymentHandler.WalletChain)
		if webhooks != nil {
			r.Post("/gateway/webhook", webhooks.ServeHTTP)
			r.Get("/gateway/cancel", webhooks.CancelCallback)
		}
	})
	logger.Info("ROUTER", "Public routes registered")

	// --- Protected Routes ---
	r.Group(func(r chi.Router) {
		r.Use(auth.Middleware(verifier, logger))
		r.Use(access.SyncUsers(users, logger))
		logger.Info("AUTH", "Token middleware applied to protected routes")

		r.Route("/purchases", func(r chi.Router) {
			r.Post("/", purchaseHandler.StartPurchase)
			r.Get("/{attemptId}", purchaseHandler.GetPurchase)
			r.Get("/{attemptId}/events", purchaseHandler.StreamPurchase)
			r.Post("/{attemptId}/wallet", purchaseHandler.SubmitWalletTransaction)
		})

		r.Route("/tickets", func(r chi.Router) {
			r.Post("/", ticketHandler.CreateTicket)
			r.Get("/", ticketHandler.ListMyTickets)
			r.Post("/checkin", ticketHandler.CheckinTicket)
			r.Patch("/{ticketId}", ticketHandler.UpdateTicket)
			r.Get("/{ticketId}/qr", ticketHandler.TicketQR)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(access.RequireAdmin(policy, logger))
			r.Get("/tickets", ticketHandler.ListAllTickets)
			r.Get("/stats", statsHandler.GetStats)
			r.Get("/reconciliation", purchaseHandler.ListReconciliation)
			r.Post("/reconciliation/{attemptId}/resolve", purchaseHandler.ResolveReconciliation)
		})
		logger.Info("ROUTER", "Purchase, ticket and admin routes registered")
	})

	server := &http.Server{
		Addr:         cfg.Server.Port,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("HTTP", fmt.Sprintf("🚀 Ticketing service running on %s", cfg.Server.Port))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("HTTP", fmt.Sprintf("HTTP server error: %v", err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	logger.Info("APP", "Service started successfully, waiting for shutdown signal")
	<-stop

	logger.Info("APP", "Shutdown signal received, initiating graceful shutdown")
	ctxShutdown, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// attempts finish first so open event streams see their terminal state
	if err := runner.Shutdown(ctxShutdown); err != nil {
		logger.Warn("PURCHASE", fmt.Sprintf("Purchases cancelled during shutdown: %v", err))
	}
	if err := server.Shutdown(ctxShutdown); err != nil {
		logger.Error("HTTP", fmt.Sprintf("Server Shutdown Failed: %v", err))
	}
	stopBackground()
	if producer != nil {
		if err := producer.Close(); err != nil {
			logger.Error("KAFKA", fmt.Sprintf("Failed to flush producer: %v", err))
		}
	}
	logger.Info("APP", "✅ Ticketing service shutdown complete")
}
