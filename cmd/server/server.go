package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-chi/cors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stash/internal/ai"
	"stash/internal/api"
	"stash/internal/cache"
	"stash/internal/classifier"
	"stash/internal/config"
	"stash/internal/db"
	"stash/internal/enrich"
	"stash/internal/events"
	"stash/internal/files"
	"stash/internal/graphflow"
	"stash/internal/ingest"
	"stash/internal/processor"
	"stash/internal/render"
	"stash/internal/settings"
	"stash/internal/storage"
	"stash/internal/store"
)

func newLogger(cfg config.AppConfig) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	if cfg.LogFormat == "json" {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)
	return log
}

func serve(ctx context.Context, cfg *config.Config) error {
	log := newLogger(cfg.App)
	gin.SetMode(cfg.App.GinMode)

	log.WithFields(logrus.Fields{
		"addr":      cfg.App.Addr,
		"db_driver": cfg.Database.Driver,
		"bucket":    cfg.MinIO.Bucket,
		"auth":      cfg.Auth.Mode,
	}).Info("configuration loaded")

	gdb, err := db.Connect(cfg.Database)
	if err != nil {
		return err
	}
	if sqlDB, err := gdb.DB(); err == nil {
		defer sqlDB.Close()
	}

	objects, err := storage.NewMinioStore(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.Secure, cfg.MinIO.Bucket, cfg.MinIO.PublicBaseURL)
	if err != nil {
		return err
	}

	renderClient := render.NewClient(cfg.Render.BaseURL, cfg.Render.APIKey, cfg.Render.Timeout)
	assetsClient := ai.NewClient(cfg.Assets.BaseURL, cfg.Assets.APIKey, cfg.Assets.Timeout)
	if saved, err := settings.LoadServices(ctx, gdb); err != nil {
		log.WithError(err).Warn("service settings unavailable, using config")
	} else {
		renderClient.Configure(saved.RenderBaseURL, saved.RenderAPIKey)
		assetsClient.Configure(saved.AssetsBaseURL, saved.AssetsAPIKey)
		log.WithField("services", saved.Redacted()).Debug("service overrides applied")
	}

	userAgent := cfg.HTTP.UserAgent
	if userAgent == "" {
		userAgent = classifier.DefaultUserAgent
	}

	bus := events.NewBus(64)
	defer bus.Close()

	items := store.New(gdb)
	metadata := cache.New(gdb)
	fileHandler := files.NewHandler(objects, assetsClient, cfg.HTTP.ScrapeTimeout, userAgent, cfg.HTTP.MaxBodyBytes)

	normalizer, err := graphflow.NewNormalizer()
	if err != nil {
		return err
	}

	worker := &enrich.Worker{
		Store:  items,
		Cache:  metadata,
		Runner: &enrich.Runner{
			Strategies: []enrich.Strategy{
				&enrich.CacheStrategy{Cache: metadata},
				enrich.NewRedditStrategy(cfg.HTTP.ScrapeTimeout, userAgent),
				&enrich.ScrapeStrategy{Processor: processor.New(cfg.HTTP.ScrapeTimeout, userAgent, cfg.HTTP.MaxBodyBytes)},
				&enrich.RenderStrategy{Client: renderClient},
			},
			Log: log,
		},
		Normalizer: normalizer,
		Files:      fileHandler,
		Bus:        bus,
		Log:        log,
	}
	pool := enrich.NewPool(cfg.Enrich.Workers, cfg.Enrich.QueueSize, cfg.Enrich.JobTimeout, worker.Enrich, log)

	srv := &api.Server{
		DB:    gdb,
		Store: items,
		Ingest: &ingest.Service{
			Store:      items,
			Classifier: classifier.New(cfg.HTTP.ProbeTimeout, userAgent),
			Files:      fileHandler,
			Bus:        bus,
			Dispatch:   pool,
			Log:        log,
		},
		Dispatch:  pool,
		Bus:       bus,
		Render:    renderClient,
		Assets:    assetsClient,
		Auth:      cfg.Auth,
		MaxUpload: cfg.HTTP.MaxBodyBytes,
		Log:       log,
	}

	engine := gin.New()
	engine.Use(gin.Logger(), gin.Recovery())
	srv.RegisterRoutes(engine)

	origins := cfg.App.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	handler := cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{
			http.MethodGet,
			http.MethodPost,
			http.MethodPut,
			http.MethodDelete,
			http.MethodOptions,
		},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: !containsWildcard(origins),
		MaxAge:           300,
	})(engine)

	httpServer := newHTTPServer(cfg.App.Addr, handler, bus)

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		pool.Start()
		redispatchStale(gCtx, items, pool, cfg.Enrich, log)
		return nil
	})

	g.Go(func() error {
		log.WithField("addr", cfg.App.Addr).Info("starting http server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			log.WithField("signal", sig.String()).Info("received shutdown signal")
		case <-gCtx.Done():
			log.Info("context cancelled, shutting down")
		}

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.WithError(err).Error("http server shutdown")
		}

		// In-flight jobs get a full job timeout to finish; anything still
		// running afterwards is requeued by the worker.
		drainCtx, cancelDrain := context.WithTimeout(context.Background(), cfg.Enrich.JobTimeout)
		defer cancelDrain()
		if err := pool.Stop(drainCtx); err != nil {
			log.WithError(err).Warn("enrichment pool did not drain")
		}
		return nil
	})

	return g.Wait()
}

// newHTTPServer closes the event bus when shutdown begins, which ends open
// SSE streams so Shutdown is not held up by them.
func newHTTPServer(addr string, handler http.Handler, bus *events.Bus) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	srv.RegisterOnShutdown(bus.Close)
	return srv
}

// redispatchStale queues items whose enrichment was interrupted, for example
// by a restart.
func redispatchStale(ctx context.Context, items *store.Store, pool *enrich.Pool, cfg config.EnrichConfig, log logrus.FieldLogger) {
	stale, err := items.Stale(ctx, cfg.StaleAfter, cfg.QueueSize/2)
	if err != nil {
		log.WithError(err).Warn("stale item sweep failed")
		return
	}
	for _, item := range stale {
		pool.Submit(item.ID)
	}
	if len(stale) > 0 {
		log.WithField("count", len(stale)).Info("re-dispatched stale items")
	}
}

func containsWildcard(origins []string) bool {
	for _, o := range origins {
		if strings.TrimSpace(o) == "*" {
			return true
		}
	}
	return false
}
