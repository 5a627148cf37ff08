package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Actunime/Actunime-API-sub000/modules/catalog/infrastructure/cache"
	"github.com/Actunime/Actunime-API-sub000/modules/catalog/infrastructure/persistence"
	"github.com/Actunime/Actunime-API-sub000/modules/catalog/presentation/controllers"
	"github.com/Actunime/Actunime-API-sub000/modules/catalog/services"
	"github.com/Actunime/Actunime-API-sub000/pkg/configuration"
	"github.com/Actunime/Actunime-API-sub000/pkg/eventbus"
	"github.com/Actunime/Actunime-API-sub000/pkg/middleware"
)

const (
	authorIDHeader    = "X-Author-ID"
	moderatorIDHeader = "X-Moderator-ID"

	shutdownTimeout = 10 * time.Second
)

// recordKinds lists the moderated catalog collections. Each gets its own
// RevisionService over the shared records/patches tables.
var recordKinds = []string{"Anime", "Manga", "Character", "Person", "Track", "Company"}

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context())
		},
	}
}

func serve(ctx context.Context) error {
	conf := configuration.Use()
	logger := conf.Logger()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	poolCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	pool, err := pgxpool.New(poolCtx, conf.Database.Opts)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	readCache, err := buildCache(conf, logger)
	if err != nil {
		return err
	}

	bus := eventbus.NewEventPublisher(logger)
	svcs := make(map[string]*services.RevisionService, len(recordKinds))
	patches := persistence.NewPatchRepository()
	for _, kind := range recordKinds {
		svcs[kind] = services.NewRevisionService(
			kind,
			patches,
			persistence.NewRecordRepository(kind),
			services.WithCache(readCache),
			services.WithEventBus(bus),
			services.WithLogger(logger),
		)
	}

	router := mux.NewRouter()
	router.Use(
		middleware.WithLogger(logger, conf.RequestIDHeader),
		middleware.WithPool(pool),
		middleware.ProvideActors(authorIDHeader, moderatorIDHeader),
		middleware.RequestMetrics(),
	)
	controllers.NewPatchController(svcs).Register(router)
	controllers.NewHealthController(pool).Register(router)
	if conf.Prometheus.Enabled {
		router.Handle(conf.Prometheus.Path, promhttp.Handler()).Methods(http.MethodGet)
	}

	srv := &http.Server{
		Addr:              conf.SocketAddress,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithField("address", conf.SocketAddress).Info("server listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancelShutdown()
	return srv.Shutdown(shutdownCtx)
}

func buildCache(conf *configuration.Configuration, logger *logrus.Logger) (services.Cache, error) {
	switch conf.Cache.Backend {
	case "redis":
		rdb := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs: []string{conf.Cache.RedisURL},
		})
		return cache.NewRedisCache(rdb, conf.Cache.TTL, "catalog", logger), nil
	case "memory":
		return cache.NewMemoryCache(conf.Cache.TTL), nil
	default:
		return nil, fmt.Errorf("unknown cache backend %q", conf.Cache.Backend)
	}
}
