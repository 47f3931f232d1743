package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Simplici0/epackage/internal/catalog"
	"github.com/Simplici0/epackage/internal/config"
	"github.com/Simplici0/epackage/internal/db"
	"github.com/Simplici0/epackage/internal/logging"
	"github.com/Simplici0/epackage/internal/migrations"
	"github.com/Simplici0/epackage/internal/orders"
	"github.com/Simplici0/epackage/internal/outbox"
	"github.com/Simplici0/epackage/internal/pricing"
	"github.com/Simplici0/epackage/internal/seed"
	"github.com/Simplici0/epackage/internal/session"
	"github.com/Simplici0/epackage/internal/storage"
)

const (
	maxBodyBytes     = 1 << 20
	comparisonTTL    = time.Minute
	storagePurgeTick = time.Hour
)

type server struct {
	auth       *authService
	logger     *zap.Logger
	catalog    *catalog.Repository
	engine     *pricing.Engine
	comparator *pricing.Comparator
	orders     *orders.Service
	sessions   *session.Manager
}

func main() {
	cfg := config.Load()

	logger, err := logging.New(cfg.IsDev(), cfg.LogLevel)
	if err != nil {
		log.Fatalf("failed to build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	for _, warning := range cfg.Warnings() {
		logger.Warn("configuration", zap.String("warning", warning))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	database, err := db.Open(ctx, cfg.DBPath)
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer database.Close()

	if err := migrations.Up(ctx, database); err != nil {
		logger.Fatal("failed to run database migrations", zap.Error(err))
	}

	stats, err := seed.Run(ctx, database)
	if err != nil {
		logger.Fatal("failed to seed catalog", zap.Error(err))
	}
	logger.Info("catalog seeded", zap.Int("inserts", stats.Inserts), zap.Int("updates", stats.Updates))

	store, err := openStorage(ctx, cfg, database, logger)
	if err != nil {
		logger.Fatal("failed to open session storage", zap.Error(err))
	}

	catalogRepo := catalog.NewRepository(database)
	engine := pricing.NewEngine(catalogRepo)
	comparator := pricing.NewComparator(engine, logger, comparisonTTL)
	orderService := orders.NewService(database)

	if cfg.KafkaBroker != "" {
		writer := outbox.NewKafkaWriter(cfg.KafkaBroker, cfg.KafkaTopic)
		defer writer.Close()
		go outbox.NewProcessor(outbox.NewRepository(database), writer, logger).Start(ctx)
		logger.Info("order events relayed to kafka", zap.String("broker", cfg.KafkaBroker), zap.String("topic", cfg.KafkaTopic))
	}

	manager := session.NewManager(store, comparator, orderService, session.Config{
		TTL:          cfg.SessionTTL,
		MaxSessions:  cfg.MaxSessions,
		CalcDebounce: cfg.CalcDebounce,
		PriceSettle:  cfg.PriceSettle,
		Drafts:       quoteDraftConfig(cfg),
	}, logger)
	defer manager.Close()

	srv := &server{
		auth:       newAuthService(cfg.SessionSecret, cfg.AdminToken, cfg.SessionTTL, !cfg.IsDev()),
		logger:     logger,
		catalog:    catalogRepo,
		engine:     engine,
		comparator: comparator,
		orders:     orderService,
		sessions:   manager,
	}

	httpServer := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("shutdown", zap.Error(err))
		}
	}()

	logger.Info("listening", zap.String("addr", httpServer.Addr))
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func openStorage(ctx context.Context, cfg config.Config, database *sql.DB, logger *zap.Logger) (storage.Store, error) {
	if cfg.StorageBackend == config.BackendRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return storage.NewRedis(client, cfg.SessionTTL), nil
	}

	sqliteStore := storage.NewSQLite(database)
	go purgeStorage(ctx, sqliteStore, cfg.SessionTTL, logger)
	return sqliteStore, nil
}

// purgeStorage drops session documents untouched for longer than ttl.
func purgeStorage(ctx context.Context, st *storage.SQLite, ttl time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(storagePurgeTick)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			removed, err := st.PurgeBefore(ctx, time.Now().Add(-ttl))
			if err != nil {
				logger.Error("purge session storage", zap.Error(err))
				continue
			}
			logger.Debug("purged session storage", zap.Int64("removed", removed))
		case <-ctx.Done():
			return
		}
	}
}

func (s *server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Route("/api", func(r chi.Router) {
		r.Post("/pricing/quote", s.handlePricingQuote)
		r.Post("/pricing/compare", s.handlePricingCompare)
		r.Get("/catalog/products", s.handleCatalogProducts)
		r.Get("/catalog/bag-types", s.handleCatalogBagTypes)
		r.Post("/quotes/request", s.handleQuotesRequest)
		r.Post("/orders/create", s.handleOrdersCreate)

		r.Group(func(r chi.Router) {
			r.Use(s.auth.sessionMiddleware)

			r.Get("/quote", s.handleQuoteGet)
			r.Patch("/quote", s.handleQuotePatch)
			r.Post("/quote/actions/{action}", s.handleQuoteAction)
			r.Get("/quote/validate/{step}", s.handleQuoteValidate)
			r.Post("/quote/calculate", s.handleQuoteCalculate)
			r.Get("/quote/draft", s.handleDraftLoad)
			r.Post("/quote/draft", s.handleDraftSave)
			r.Delete("/quote/draft", s.handleDraftClear)

			r.Get("/cart", s.handleCartGet)
			r.Delete("/cart", s.handleCartClear)
			r.Post("/cart/items", s.handleCartAddItem)
			r.Patch("/cart/items/{id}", s.handleCartUpdateItem)
			r.Delete("/cart/items/{id}", s.handleCartRemoveItem)
			r.Post("/cart/quote-request", s.handleCartQuoteRequest)
			r.Post("/cart/order", s.handleCartOrder)

			r.Get("/checkout", s.handleCheckoutGet)
			r.Put("/checkout/billing", s.handleCheckoutBilling)
			r.Put("/checkout/shipping", s.handleCheckoutShipping)
			r.Put("/checkout/payment", s.handleCheckoutPayment)
			r.Post("/checkout/next", s.handleCheckoutNext)
			r.Post("/checkout/back", s.handleCheckoutBack)
			r.Post("/checkout/submit", s.handleCheckoutSubmit)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(s.auth.adminMiddleware)
		r.Get("/quote-requests", s.handleAdminQuoteRequests)
		r.Put("/bag-types/{id}", s.handleAdminBagTypeUpdate)
	})

	return r
}

func (s *server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", middleware.GetReqID(r.Context())))
	})
}

// bundle returns the stores of the request's session, writing an error
// response when they cannot be loaded.
func (s *server) bundle(w http.ResponseWriter, r *http.Request) (*session.Bundle, bool) {
	b, err := s.sessions.Get(r.Context(), sessionIDFrom(r.Context()))
	if err != nil {
		s.logger.Error("load session", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to load session")
		return nil, false
	}
	return b, true
}

type errorResponse struct {
	Error string `json:"error"`
	State any    `json:"state,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads the request body into v. An empty body leaves v unchanged.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}
