// Service xray ingests x-ray signal messages from a queue into PostgreSQL and
// serves the stored records over HTTP. The consumer and the HTTP server run
// in the same process and share one record store.
package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/hefazi/PANTOhealth/internal/api"
	"github.com/hefazi/PANTOhealth/internal/config"
	"github.com/hefazi/PANTOhealth/internal/db"
	"github.com/hefazi/PANTOhealth/internal/httpx"
	"github.com/hefazi/PANTOhealth/internal/ingest"
	"github.com/hefazi/PANTOhealth/internal/metrics"
	"github.com/hefazi/PANTOhealth/internal/models"
	"github.com/hefazi/PANTOhealth/internal/query"
	"github.com/hefazi/PANTOhealth/internal/queue"
	"github.com/hefazi/PANTOhealth/internal/store"
)

const serviceName = "xray"

// healthChecker is satisfied by the queue adapters.
type healthChecker interface {
	Healthy(ctx context.Context) error
}

func main() {
	cfg, err := config.LoadXRay()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.SlogLevel(),
	})))

	if err := run(cfg); err != nil {
		slog.Error("xray exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg config.XRay) error {
	startCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	// Record store
	st, pool, err := openStore(startCtx, cfg)
	if err != nil {
		return err
	}
	if pool != nil {
		defer pool.Close()
	}

	// Queue
	src, closeSrc, err := openSource(startCtx, cfg)
	if err != nil {
		return err
	}
	defer closeSrc()

	opts := []ingest.Option{ingest.WithMetrics(m)}
	if cfg.Queue.Backend == "http" {
		opts = append(opts, ingest.WithPollInterval(cfg.Queue.PollInterval))
	} else {
		// BLMOVE already blocks for the block timeout.
		opts = append(opts, ingest.WithPollInterval(0))
	}
	switch {
	case !cfg.Ingest.DeadLetterEnabled:
	case pool == nil:
		slog.Warn("dead letters need the postgres store, disabled", "store_backend", cfg.StoreBackend)
	default:
		opts = append(opts, ingest.WithDeadLetter(store.NewDeadLetters(pool)))
	}
	consumer := ingest.NewConsumer(src, st, cfg.Queue.Name, cfg.Ingest, opts...)

	h := api.NewHandler(st, query.NewService(st), slog.Default())

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(m.Middleware)
	r.Use(middleware.Timeout(30 * time.Second))

	// Health probes
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ok", Service: serviceName})
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if err := st.Healthy(r.Context()); err != nil {
			slog.Warn("readiness: store unhealthy", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, models.HealthResponse{Status: "unavailable", Service: serviceName})
			return
		}
		if hc, ok := src.(healthChecker); ok {
			if err := hc.Healthy(r.Context()); err != nil {
				slog.Warn("readiness: queue unhealthy", "error", err)
				writeJSON(w, http.StatusServiceUnavailable, models.HealthResponse{Status: "unavailable", Service: serviceName})
				return
			}
		}
		writeJSON(w, http.StatusOK, models.HealthResponse{Status: "ready", Service: serviceName})
	})
	r.Handle("/metrics", m.Handler())

	r.Route("/v1", h.Routes)

	return serve(cfg.Base, r, consumer)
}

// openStore returns the configured record store. The *sql.DB is nil for the
// memory backend.
func openStore(ctx context.Context, cfg config.XRay) (store.Store, *sql.DB, error) {
	if cfg.StoreBackend == "memory" {
		slog.Info("using in-memory record store")
		return store.NewMemory(), nil, nil
	}

	pool, err := db.Connect(ctx, cfg.DatabaseURL, db.Pool{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxLifetime: cfg.DBConnMaxLifetime,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("connect database: %w", err)
	}
	if cfg.MigrationsDir != "" {
		if err := db.Migrate(cfg.DatabaseURL, cfg.MigrationsDir); err != nil {
			pool.Close()
			return nil, nil, fmt.Errorf("migrate: %w", err)
		}
	}
	return store.NewPostgres(pool), pool, nil
}

// openSource returns the configured queue adapter and a func releasing it.
func openSource(ctx context.Context, cfg config.XRay) (ingest.Source, func(), error) {
	qc := cfg.Queue

	switch qc.Backend {
	case "http":
		client := httpx.NewClient(qc.UpstreamTimeout, 3)
		slog.Info("using http lease queue", "mq_url", qc.MQBaseURL, "topic", qc.Name)
		return queue.NewHTTPLease(client, qc.MQBaseURL, qc.Name, qc.ConsumerID, qc.LeaseSeconds), func() {}, nil

	default:
		client := redis.NewClient(&redis.Options{
			Addr:     qc.RedisAddr,
			Password: qc.RedisPassword,
			DB:       qc.RedisDB,
			// Must outlast BLMOVE's block timeout.
			ReadTimeout: qc.BlockTimeout + 5*time.Second,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, nil, fmt.Errorf("connect redis: %w", err)
		}

		rl := queue.NewRedisList(client, qc.Name, qc.ConsumerID, qc.BlockTimeout)
		n, err := rl.Recover(ctx)
		if err != nil {
			client.Close()
			return nil, nil, err
		}
		slog.Info("using redis list queue", "addr", qc.RedisAddr, "queue", qc.Name, "recovered", n)
		return rl, func() { client.Close() }, nil
	}
}

// serve runs the HTTP server and the consumer until a signal arrives or
// either of them fails, then shuts both down.
func serve(cfg config.Base, handler http.Handler, consumer *ingest.Consumer) error {
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		consumer.Run(gctx)
		slog.Info("consumer stopped")
		return nil
	})

	g.Go(func() error {
		slog.Info("xray listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("shutdown error", "error", err)
		}
		return nil
	})

	return g.Wait()
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
