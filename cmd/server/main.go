package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"gatehouse/internal/auth"
	"gatehouse/internal/authz"
	"gatehouse/internal/gate"
	"gatehouse/internal/platform/config"
	"gatehouse/internal/platform/database"
	"gatehouse/internal/platform/logger"
	platformredis "gatehouse/internal/platform/redis"
	"gatehouse/internal/principal"
	"gatehouse/internal/ratelimit"
	"gatehouse/internal/session"
	"gatehouse/internal/token"
	httptransport "gatehouse/internal/transport/http"
)

// main wires dependencies and keeps the server lifecycle small. Business
// logic lives in the internal packages.
func main() {
	cfg, err := config.FromEnv()
	if err != nil {
		logger.New().Error("configuration error", "error", err)
		os.Exit(1)
	}
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rdb, err := platformredis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis init failed", "error", err)
		os.Exit(1)
	}
	defer rdb.Close()

	var principals principal.Store = principal.NewMemoryStore()
	pool, err := database.New(ctx, database.DefaultConfig(cfg.DatabaseURL))
	if err != nil {
		log.Error("database init failed", "error", err)
		os.Exit(1)
	}
	if pool != nil {
		defer pool.Close()
		principals = principal.NewPostgres(pool.DB())
	} else {
		log.Warn("no database configured, using in-memory principal store")
	}

	sessions := session.NewStore(rdb.Client)

	tokens, err := token.NewService(cfg.SigningSecret, cfg.SigningAlgorithm, cfg.TokenValidity)
	if err != nil {
		log.Error("token service init failed", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.New(sessions, cfg.RateLimitThreshold, cfg.RateLimitWindow,
		ratelimit.WithLogger(log))

	pipeline := gate.New(sessions, limiter, tokens, principals, log, cfg.TrustedProxies)
	authSvc := auth.NewService(principals, sessions, tokens, log)
	handler := httptransport.NewHandler(authSvc, authz.Default(), log)
	router := httptransport.NewRouter(pipeline, handler)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		ticker := time.NewTicker(15 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-ticker.C:
				rdb.RecordPoolStats()
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
