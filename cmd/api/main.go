package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/reach/reach-api/internal/config"
	"github.com/reach/reach-api/internal/domain/catalog"
	"github.com/reach/reach-api/internal/domain/history"
	"github.com/reach/reach-api/internal/domain/ledger"
	"github.com/reach/reach-api/internal/domain/ownership"
	"github.com/reach/reach-api/internal/domain/realtime"
	"github.com/reach/reach-api/internal/domain/redemption"
	"github.com/reach/reach-api/internal/domain/reward"
	"github.com/reach/reach-api/internal/middleware"
	"github.com/reach/reach-api/internal/pkg/database"
	"github.com/reach/reach-api/internal/pkg/jwt"
	"github.com/reach/reach-api/internal/pkg/logger"
	pkgresponse "github.com/reach/reach-api/internal/pkg/response"
	"github.com/reach/reach-api/internal/store/memory"
)

// stores groups the persistence backends selected at startup. The
// redemption store is built once the engine exists, since its purchase
// debits and refunds go through the engine.
type stores struct {
	ledger      ledger.Store
	catalog     catalog.Repository
	redemptions func(applier ledger.TxApplier) redemption.Store
	owners      ownership.Checker
}

func main() {
	cfg := config.Load()
	if err := logger.Init(logger.Config{
		Level:       cfg.LogLevel,
		Environment: cfg.Env,
		LogFile:     cfg.LogFile,
	}); err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize logger")
	}
	if err := cfg.CheckProduction(); err != nil {
		log.Fatal().Err(err).Msg("Invalid production configuration")
	}

	log.Info().
		Str("env", cfg.Env).
		Str("port", cfg.Port).
		Bool("memory_store", cfg.UsesMemoryStore()).
		Msg("Starting Reach tokens API")

	var db *sqlx.DB
	var st stores
	if cfg.UsesMemoryStore() {
		mem := memory.New()
		st = stores{
			ledger:      mem.Ledger(),
			catalog:     mem.Catalog(),
			redemptions: func(ledger.TxApplier) redemption.Store { return mem.Redemptions() },
			owners:      ownership.NewStatic(),
		}
		log.Warn().Msg("DATABASE_URL is empty, using the in-memory store; only admin and service callers can reach child data")
	} else {
		var err error
		db, err = database.NewPostgres(cfg.DatabaseURL)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer database.ClosePostgres(db)

		if cfg.AutoMigrate {
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			err := database.MigrateUp(ctx, db)
			cancel()
			if err != nil {
				log.Fatal().Err(err).Msg("Failed to apply migrations")
			}
		}

		st = stores{
			ledger:      ledger.NewRepository(db),
			catalog:     catalog.NewRepository(db),
			redemptions: func(applier ledger.TxApplier) redemption.Store {
				return redemption.NewRepository(db, applier)
			},
			owners: ownership.NewRepository(db),
		}
	}

	redis, err := database.NewRedis(cfg.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer database.CloseRedis(redis)

	// ---------- Realtime ----------
	hub := realtime.NewHub(redis)
	go hub.Run()

	router := newRouter(cfg, st, redis, hub)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
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

	hub.Shutdown()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	log.Info().Msg("Server exited properly")
}

// newRouter wires services and handlers over the selected stores.
func newRouter(cfg *config.Config, st stores, redis *goredis.Client, hub *realtime.Hub) http.Handler {
	jwtService := jwt.NewService(cfg.JWTSecret, cfg.JWTAccessTTL)

	// ---------- Services ----------
	engine := ledger.NewEngine(st.ledger, hub)
	accounts := ledger.NewAccountManager(st.ledger)
	catalogService := catalog.NewService(st.catalog, redis, cfg.ShopCacheTTL)
	rewardService := reward.NewService(engine, accounts)
	redemptionService := redemption.NewService(st.redemptions(engine), engine, accounts, catalogService, hub)
	historyService := history.NewService(st.ledger, accounts, cfg.HistoryDefaultLimit)

	// ---------- Handlers ----------
	ledgerHandler := ledger.NewHandler(engine, accounts)
	catalogHandler := catalog.NewHandler(catalogService)
	rewardHandler := reward.NewHandler(rewardService)
	redemptionHandler := redemption.NewHandler(redemptionService, st.owners)
	historyHandler := history.NewHandler(historyService, st.owners)
	realtimeHandler := realtime.NewHandler(hub, st.owners, cfg.AllowedOrigins)

	authMiddleware := middleware.Auth(jwtService)

	// ---------- Router ----------
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recover)
	r.Use(middleware.CORSHandler(cfg.AllowedOrigins))

	// WebSocket endpoint stays outside Compress; Auth also accepts ?token=
	r.With(authMiddleware).Get("/ws", realtimeHandler.WebSocket)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		pkgresponse.OK(w, map[string]string{
			"status":  "ok",
			"version": "1.0.0",
		})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(r chi.Router) {
		r.Use(chimw.Compress(5))

		r.Route("/api/v1/tokens", func(r chi.Router) {
			r.Use(authMiddleware)
			historyHandler.Register(r)
			redemptionHandler.Register(r)
			r.Mount("/shop", catalogHandler.Routes())
		})

		r.Route("/internal/tokens", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RequireService())
			r.Post("/award", rewardHandler.Award)
		})

		r.Route("/api/admin", func(r chi.Router) {
			r.Use(authMiddleware)
			r.Use(middleware.RequireAdmin())
			r.Mount("/tokens", ledgerHandler.Routes())
			r.Mount("/redemptions", redemptionHandler.AdminRoutes())
		})
	})

	return r
}
