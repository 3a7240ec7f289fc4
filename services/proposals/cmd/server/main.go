package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/devmartsuriname/agenko-proposals/pkg/db"
	"github.com/devmartsuriname/agenko-proposals/services/proposals/internal/gate"
	"github.com/devmartsuriname/agenko-proposals/services/proposals/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	pool := db.MustConnect()
	st := store.New(pool)
	if err := st.EnsureSchema(context.Background()); err != nil {
		logger.Error("schema setup failed", "err", err)
		os.Exit(1)
	}

	g := gate.New(st, st, st)

	port := os.Getenv("SERVICE_PORT")
	if port == "" {
		port = "8084"
	}
	rps := envFloat("PUBLIC_RATE_RPS", 5)
	burst := envIntDefault("PUBLIC_RATE_BURST", 10)
	limiter := newIPLimiter(rps, burst)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200) })
	r.Handle("/metrics", promhttp.Handler())

	r.Group(func(pub chi.Router) {
		pub.Use(limiter.Middleware)
		registerPublicRoutes(pub, g, logger)
	})

	adminToken := os.Getenv("ADMIN_TOKEN")
	if adminToken == "" {
		logger.Warn("ADMIN_TOKEN not set, admin surface disabled")
	} else {
		registerAdminRoutes(r, st, adminToken, logger)
	}

	logger.Info("proposals service listening", "port", port)
	if err := http.ListenAndServe(":"+port, r); err != nil {
		logger.Error("server exited", "err", err)
		os.Exit(1)
	}
}

func envFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f <= 0 {
		return fallback
	}
	return f
}

func envIntDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
