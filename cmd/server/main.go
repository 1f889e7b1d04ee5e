package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/openclear/risk-engine/internal/execution"
	"github.com/openclear/risk-engine/internal/metrics"
	"github.com/openclear/risk-engine/internal/model"
	"github.com/openclear/risk-engine/internal/monitor"
	"github.com/openclear/risk-engine/internal/rates"
	"github.com/openclear/risk-engine/internal/risk"
	"github.com/openclear/risk-engine/internal/service"
	"github.com/openclear/risk-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
			opt, err := redis.ParseURL(redisURL)
			if err != nil {
				slog.Error("invalid REDIS_URL", "err", err)
				os.Exit(1)
			}
			rdb := redis.NewClient(opt)
			cleanup = append(cleanup, func() { rdb.Close() })
			st = store.NewCachedStore(st, rdb, 30*time.Second)
			slog.Info("Redis cache enabled")
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Order gateway ---
	var client risk.OrderExecutionClient
	if gatewayURL := os.Getenv("EXECUTION_URL"); gatewayURL != "" {
		client = execution.NewHTTPClient(gatewayURL)
		slog.Info("order gateway configured", "url", gatewayURL)
	} else {
		slog.Warn("EXECUTION_URL not set, cancels and flattening orders are logged only")
		client = execution.DryRunClient{}
	}

	// --- Exchange rates ---
	table, err := loadRates(os.Getenv("EXCHANGE_RATES"))
	if err != nil {
		slog.Error("invalid EXCHANGE_RATES", "err", err)
		os.Exit(1)
	}

	// --- Risk monitor ---
	riskMonitor := monitor.NewRiskMonitor(monitor.Config{
		Client:     client,
		Store:      st,
		Rates:      table,
		Venues:     model.DefaultVenues(),
		Parameters: defaultParameters(),
	})
	if err := riskMonitor.LoadAccounts(context.Background()); err != nil {
		slog.Error("account load failed", "err", err)
		os.Exit(1)
	}
	defer riskMonitor.Close()

	runCtx, stopRun := context.WithCancel(context.Background())
	defer stopRun()
	go riskMonitor.Run(runCtx)

	// --- WebSocket hub ---
	wsHub := service.NewWSHub(riskMonitor)
	go wsHub.Run(runCtx)

	// --- Ingestion service ---
	svc := service.NewService(riskMonitor, model.DefaultVenues())

	// --- HTTP router ---
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"risk-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket feed of risk-state and portfolio events.
		r.Get("/ws", wsHub.HandleWS)

		// Market data and drop-copy ingestion.
		r.Post("/quotes", svc.HandleQuote)
		r.Post("/orders", svc.HandleOrder)
		r.Post("/executions", svc.HandleExecutionReport)

		// Risk administration and queries.
		r.Put("/accounts/{account}/parameters", svc.HandleParameters)
		r.Get("/accounts/{account}/risk-state", svc.HandleRiskState)
		r.Get("/portfolios", svc.HandlePortfolios)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("risk-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down risk-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	stopRun()
	fmt.Println("risk-engine stopped")
}

// loadRates parses "BASE/COUNTER=rate" pairs separated by commas, e.g.
// "USD/CAD=0.74,USD/EUR=1.08". An empty spec yields the built-in defaults.
func loadRates(spec string) (*rates.Table, error) {
	table := rates.NewTable()
	if spec == "" {
		defaults := map[string]string{
			"USD/CAD": "0.74",
			"USD/EUR": "1.08",
			"USD/GBP": "1.27",
		}
		for pair, rate := range defaults {
			base, counter, _ := strings.Cut(pair, "/")
			table.Add(model.Currency(base), model.Currency(counter),
				decimal.RequireFromString(rate))
		}
		return table, nil
	}

	for _, entry := range strings.Split(spec, ",") {
		pair, rateText, ok := strings.Cut(strings.TrimSpace(entry), "=")
		if !ok {
			return nil, fmt.Errorf("malformed entry %q", entry)
		}
		base, counter, ok := strings.Cut(pair, "/")
		if !ok {
			return nil, fmt.Errorf("malformed pair %q", pair)
		}
		rate, err := decimal.NewFromString(rateText)
		if err != nil {
			return nil, fmt.Errorf("malformed rate %q: %w", rateText, err)
		}
		if err := table.Add(model.Currency(base), model.Currency(counter), rate); err != nil {
			return nil, err
		}
	}
	return table, nil
}

// defaultParameters builds the parameter set applied to accounts before an
// authority pushes their own, from RISK_* environment variables.
func defaultParameters() model.RiskParameters {
	return model.RiskParameters{
		Currency:           model.Currency(envString("RISK_CURRENCY", "USD")),
		BuyingPower:        envDecimal("RISK_BUYING_POWER", "1000000"),
		AllowedState:       model.RiskState{Type: model.RiskActive},
		MaxNetLoss:         envDecimal("RISK_MAX_NET_LOSS", "50000"),
		TransitionDuration: time.Duration(envInt("RISK_TRANSITION_SECONDS", 300)) * time.Second,
	}
}

func envString(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envDecimal(key, fallback string) decimal.Decimal {
	text := envString(key, fallback)
	v, err := decimal.NewFromString(text)
	if err != nil {
		slog.Error("invalid decimal in environment", "key", key, "value", text)
		os.Exit(1)
	}
	return v
}

func envInt(key string, fallback int64) int64 {
	text := os.Getenv(key)
	if text == "" {
		return fallback
	}
	v, err := strconv.ParseInt(text, 10, 64)
	if err != nil {
		slog.Error("invalid integer in environment", "key", key, "value", text)
		os.Exit(1)
	}
	return v
}
