package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/jasonw10105-ux/artflow-sub000/internal/auth"
	"github.com/jasonw10105-ux/artflow-sub000/internal/platform/config"
	"github.com/jasonw10105-ux/artflow-sub000/internal/platform/logger"
	"github.com/jasonw10105-ux/artflow-sub000/internal/platform/metrics"
	"github.com/jasonw10105-ux/artflow-sub000/internal/profile"
	"github.com/jasonw10105-ux/artflow-sub000/internal/session"
	httptransport "github.com/jasonw10105-ux/artflow-sub000/internal/transport/http"
	"github.com/jasonw10105-ux/artflow-sub000/internal/transport/ws"
)

// main wires high-level dependencies and keeps the server lifecycle small.
// Session semantics live in internal/session; main only assembles.
func main() {
	cfg := config.FromEnv()
	log := logger.New(cfg.Debug)

	log.Info("initializing artfolio session service",
		"addr", cfg.Addr,
		"postgres", cfg.PostgresDSN != "",
	)

	m := metrics.New()

	var profiles session.ProfileStore
	if cfg.PostgresDSN != "" {
		store, err := profile.NewPostgres(cfg.PostgresDSN, log)
		if err != nil {
			log.Error("postgres store initialization failed", "error", err)
			os.Exit(1)
		}
		defer store.Close()
		if err := store.Migrate(context.Background()); err != nil {
			log.Error("schema migration failed", "error", err)
			os.Exit(1)
		}
		profiles = store
	} else {
		log.Warn("no postgres dsn configured, using in-memory profile store")
		profiles = profile.NewInMemory()
	}

	directory := auth.NewDirectory(cfg.JWTSigningKey,
		auth.WithSessionTTL(cfg.SessionTTL),
		auth.WithLinkTTL(cfg.LinkTTL),
		auth.WithLogger(log),
	)

	registry := httptransport.NewRegistry(directory, profiles, log,
		httptransport.WithRegistryMetrics(m),
		httptransport.WithRegistrySignupRedirect(cfg.SignupRedirect),
	)
	defer registry.Shutdown()

	gateway := ws.NewGateway(directory, profiles, log,
		ws.WithMetrics(m),
		ws.WithSignupRedirect(cfg.SignupRedirect),
	)

	handler := httptransport.NewHandler(registry, log)
	router := httptransport.NewRouter(handler, gateway, log, m)

	srv := &http.Server{
		Addr:    cfg.Addr,
		Handler: router,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("starting http server", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down server gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		log.Error("server error", "error", err)
		os.Exit(1)
	}

	log.Info("server stopped")
}
