package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/cshum/vipsgen/vips"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"slippyview/internal/cache"
	"slippyview/internal/config"
	"slippyview/internal/download"
	"slippyview/internal/engine"
	httphandlers "slippyview/internal/http"
	"slippyview/internal/logger"
	"slippyview/internal/patch"
	"slippyview/internal/tile"
	"slippyview/internal/tileserver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	if cfg.UsesVips() {
		startVips(cfg, log)
		defer vips.Shutdown()
	}

	log.Info("Starting slippyview server",
		zap.Int("port", cfg.Port),
		zap.String("tile_server", cfg.TileServer.Name),
		zap.String("cache_folder", cfg.TileServer.CacheFolder),
	)

	server, err := tileserver.New(cfg.TileServer.Name, cfg.TileServer.URL, cfg.TileServer.CacheFolder, cfg.TileServer.Path, cfg.TileServer.File)
	if err != nil {
		log.Fatal("Invalid tile server configuration", zap.Error(err))
	}

	hot, err := cache.NewCache(cfg.Cache.Type, cfg.Cache.MemoryTiles, log)
	if err != nil {
		log.Fatal("Failed to initialize cache", zap.Error(err))
	}
	store, err := cache.NewStore(server, hot, cfg.Cache.MaxBytes, log)
	if err != nil {
		log.Fatal("Failed to initialize tile store", zap.Error(err))
	}
	if err := store.Scan(); err != nil {
		log.Warn("Initial cache scan incomplete", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fetcher := download.NewHTTPFetcher(cfg.Download.Timeout, cfg.Download.Rate, cfg.Download.Burst, cfg.TileServer.UserAgent)
	coordinator := download.NewCoordinator(ctx, server, store, fetcher, cfg.Download.Workers, log)

	cropper, err := patch.NewCropper(cfg.Patch.Backend)
	if err != nil {
		log.Fatal("Failed to initialize patch backend", zap.Error(err))
	}
	placeholders, err := patch.NewPlaceholders(cfg.Map.TileSize, cfg.Patch.LoadingImage, cfg.Patch.UnavailableImage)
	if err != nil {
		log.Fatal("Failed to load placeholder images", zap.Error(err))
	}
	resolver := patch.NewResolver(store, cropper, placeholders, cfg.Map.TileSize, log)

	eng := engine.New(engine.Options{
		TileSize:         cfg.Map.TileSize,
		MinZoom:          cfg.Map.MinZoom,
		MaxZoom:          cfg.Map.MaxZoom,
		Zoom:             cfg.Map.StartZoom,
		Center:           tile.GeoCoordinate{Lon: cfg.Map.StartLon, Lat: cfg.Map.StartLat},
		DownloadsEnabled: cfg.Download.Enabled,
	}, store, coordinator, resolver, placeholders, log)

	handlers := httphandlers.New(cfg.AllowedOrigin, log, eng)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: handlers.Routes(),
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Server started", zap.Int("port", cfg.Port))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case ev, ok := <-coordinator.Events():
				if !ok {
					return nil
				}
				log.Debug("Tile download finished",
					zap.String("tile", ev.Address.String()),
					zap.Stringer("outcome", ev.Outcome),
				)
			}
		}
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error("Server stopped with error", zap.Error(err))
	}

	coordinator.Close()
	log.Info("Server stopped")
}

func startVips(cfg *config.Config, log *zap.Logger) {
	vipsConfig := &vips.Config{
		ConcurrencyLevel: cfg.Vips.Concurrency,
		MaxCacheMem:      cfg.Vips.MaxCacheMB * 1024 * 1024,
		MaxCacheFiles:    0,
		MaxCacheSize:     0,
		ReportLeaks:      false,
		CacheTrace:       false,
		VectorEnabled:    true,
	}

	vips.SetLogging(func(domain string, level vips.LogLevel, message string) {
		if level >= vips.LogLevelError {
			log.Error("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		} else if level >= vips.LogLevelWarning {
			log.Warn("vips", zap.String("domain", domain), zap.Int("level", int(level)), zap.String("message", message))
		}
	}, vips.LogLevelError)

	vips.Startup(vipsConfig)

	log.Info("VIPS initialized",
		zap.Int("max_cache_mb", cfg.Vips.MaxCacheMB),
		zap.Int("concurrency", cfg.Vips.Concurrency),
	)
}
