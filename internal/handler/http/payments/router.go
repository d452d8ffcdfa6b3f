package payments_http

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"safepay/internal/app/payments"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type RouterConfig struct {
	AllowedOrigins []string
	RequestTimeout time.Duration
}

func NewRouter(s payments.PaymentService, store Pinger, cfg RouterConfig, l *zap.Logger) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cfg.RequestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", UserIDHeader},
		MaxAge:         300,
	}))

	RegisterRoutes(r, s, store, l)
	return r
}

func RegisterRoutes(r chi.Router, s payments.PaymentService, store Pinger, l *zap.Logger) {
	logger := l.With(zap.String("component", "PaymentHTTPHandler"))
	handler := NewPaymentHandler(s, logger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := store.Ping(ctx); err != nil {
			logger.Warn("Health check failed", zap.Error(err))
			writeFailure(w, http.StatusServiceUnavailable, "store", "Store unavailable", logger)
			return
		}
		writeData(w, http.StatusOK, "Payments service is healthy!", map[string]string{"status": "OK"}, logger)
	})

	r.Route("/api/payment", func(r chi.Router) {
		r.Use(requireUser(logger))
		r.Post("/create", handler.CreatePaymentHandler)
		r.Get("/status/{transactionId}", handler.CheckStatusHandler)
		r.Get("/transactions", handler.ListTransactionsHandler)
		r.Get("/transaction/{transactionId}", handler.GetTransactionHandler)
		r.Get("/subscription", handler.GetSubscriptionHandler)
	})
}
