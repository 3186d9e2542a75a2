package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/eventix/giftcard-api/internal/config"
	"github.com/eventix/giftcard-api/internal/domain/audit"
	"github.com/eventix/giftcard-api/internal/domain/giftcard"
	"github.com/eventix/giftcard-api/internal/domain/payment"
	"github.com/eventix/giftcard-api/internal/middleware"
	"github.com/eventix/giftcard-api/internal/pkg/database"
	"github.com/eventix/giftcard-api/internal/pkg/jwt"
	"github.com/eventix/giftcard-api/internal/pkg/logger"
	pkgresponse "github.com/eventix/giftcard-api/internal/pkg/response"
	"github.com/eventix/giftcard-api/internal/pkg/storage"
)

const requestTimeout = 60 * time.Second

func main() {
	cfg := config.Load()
	logger.Init(logger.Config{Level: cfg.LogLevel, Environment: cfg.Env})

	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Str("store", cfg.StoreDriver).
		Msg("Starting gift card API")

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	a, err := buildApp(startCtx, cfg)
	cancelStart()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize")
	}
	defer a.close()

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      newRouter(cfg, a),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: requestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", server.Addr).Msg("HTTP server listening")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("HTTP server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

// app holds the wired services and the resources to release on exit.
type app struct {
	jwt       *jwt.Service
	giftcards *giftcard.Handler
	payments  *payment.Handler
	ready     func(ctx context.Context) error
	closers   []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{
		jwt:   jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL),
		ready: func(context.Context) error { return nil },
	}

	var (
		store       giftcard.Store
		paymentRepo payment.Repository
		history     giftcard.HistoryReader
		writers     []audit.Writer
	)

	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn().Msg("Using in-memory store, data is lost on restart")
		store = giftcard.NewMemoryStore()
		paymentRepo = payment.NewMemoryRepository()
		mem := audit.NewMemoryWriter()
		writers = append(writers, mem)
		history = mem
	default:
		db, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.DefaultPoolConfig())
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		a.closers = append(a.closers, func() { database.ClosePostgres(db) })
		a.ready = db.PingContext

		store = giftcard.NewRepository(db)
		paymentRepo = payment.NewRepository(db)
		auditRepo := audit.NewRepository(db)
		writers = append(writers, auditRepo)
		history = auditRepo
	}

	opts := []giftcard.Option{
		giftcard.WithLockTimeout(cfg.LockTimeout),
		giftcard.WithSecretLength(cfg.GiftCardSecretLength),
	}

	redisClient, err := database.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("connect redis: %w", err)
	}
	if redisClient != nil {
		a.closers = append(a.closers, func() { database.CloseRedis(redisClient) })
		opts = append(opts, giftcard.WithBalanceCache(giftcard.NewRedisBalanceCache(redisClient, cfg.BalanceCacheTTL)))
	}

	if cfg.AuditArchiveEnabled() {
		objects, err := storage.NewS3Storage(ctx, storage.Config{
			Bucket:    cfg.AuditArchiveBucket,
			Region:    cfg.AuditArchiveRegion,
			Endpoint:  cfg.AuditArchiveEndpoint,
			AccessKey: cfg.AuditArchiveAccessKey,
			SecretKey: cfg.AuditArchiveSecretKey,
		})
		if err != nil {
			a.close()
			return nil, fmt.Errorf("create audit archive: %w", err)
		}
		if err := objects.CheckBucket(ctx); err != nil {
			a.close()
			return nil, fmt.Errorf("check audit archive: %w", err)
		}
		writers = append(writers, audit.NewArchiveSink(objects, cfg.AuditArchivePrefix))
		log.Info().Str("bucket", objects.Bucket()).Msg("Audit archive enabled")
	}

	payments := payment.NewService(paymentRepo, payment.NewProviderFactory())
	cards := giftcard.NewService(store, audit.NewService(writers...), payments, opts...)
	payments.Providers().Register(giftcard.NewPaymentProvider(cards))

	a.giftcards = giftcard.NewHandler(cards, history)
	a.payments = payment.NewHandler(payments)
	return a, nil
}

func newRouter(cfg *config.Config, a *app) http.Handler {
	authMiddleware := middleware.Auth(a.jwt)

	r := chi.NewRouter()

	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := a.ready(r.Context()); err != nil {
			log.Warn().Err(err).Msg("Health check failed")
			pkgresponse.ServiceUnavailable(w, "Storage is unavailable")
			return
		}
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))

		r.Get("/ping", func(w http.ResponseWriter, r *http.Request) {
			pkgresponse.OK(w, map[string]string{"message": "pong"})
		})

		r.Mount("/giftcards", a.giftcards.Routes(authMiddleware))
		r.Mount("/", a.payments.Routes(authMiddleware))
	})

	return r
}
