// Command prefetch fills the tile cache for a viewport over a range of zoom
// levels, so the map can be browsed offline later.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"go.uber.org/zap"

	"slippyview/internal/cache"
	"slippyview/internal/config"
	"slippyview/internal/download"
	"slippyview/internal/logger"
	"slippyview/internal/tile"
	"slippyview/internal/tileserver"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	lon := flag.Float64("lon", cfg.Map.StartLon, "center longitude")
	lat := flag.Float64("lat", cfg.Map.StartLat, "center latitude")
	width := flag.Int("width", 1920, "viewport width in pixels")
	height := flag.Int("height", 1080, "viewport height in pixels")
	minZoom := flag.Int("min-zoom", cfg.Map.MinZoom, "first zoom level")
	maxZoom := flag.Int("max-zoom", cfg.Map.StartZoom, "last zoom level")
	flag.Parse()

	if *minZoom < cfg.Map.MinZoom || *maxZoom > cfg.Map.MaxZoom || *minZoom > *maxZoom {
		fmt.Fprintf(os.Stderr, "zoom range [%d, %d] outside [%d, %d]\n", *minZoom, *maxZoom, cfg.Map.MinZoom, cfg.Map.MaxZoom)
		os.Exit(2)
	}

	log, err := logger.New(cfg.LogLevel)
	if err != nil {
		panic(fmt.Sprintf("failed to initialize logger: %v", err))
	}
	defer log.Sync()

	server, err := tileserver.New(cfg.TileServer.Name, cfg.TileServer.URL, cfg.TileServer.CacheFolder, cfg.TileServer.Path, cfg.TileServer.File)
	if err != nil {
		log.Fatal("Invalid tile server configuration", zap.Error(err))
	}
	store, err := cache.NewStore(server, nil, cfg.Cache.MaxBytes, log)
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
	defer coordinator.Close()

	total := 0
	center := tile.GeoCoordinate{Lon: *lon, Lat: *lat}
	for z := *minZoom; z <= *maxZoom; z++ {
		rng := tile.ComputeRange(tile.Viewport{
			Width:    *width,
			Height:   *height,
			Center:   center,
			Zoom:     z,
			TileSize: cfg.Map.TileSize,
		})
		for _, addr := range rng.Addresses() {
			if coordinator.Enqueue(addr) {
				total++
			}
		}
	}

	log.Info("Prefetching tiles",
		zap.Int("min_zoom", *minZoom),
		zap.Int("max_zoom", *maxZoom),
		zap.Int("queued", total),
		zap.Int("already_cached", store.Len()),
	)
	if total == 0 {
		return
	}

	bar := progressbar.Default(int64(total), "Downloading tiles")
	outcomes := make(map[download.Outcome]int)
	coordinator.Drain()

	// events can be dropped when the channel is full, so the queue itself
	// decides when we are done
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

loop:
	for {
		select {
		case <-ctx.Done():
			log.Warn("Prefetch interrupted")
			break loop
		case ev := <-coordinator.Events():
			outcomes[ev.Outcome]++
			bar.Add(1)
		case <-ticker.C:
			if coordinator.QueueLen() == 0 && coordinator.InFlight() == 0 {
				break loop
			}
		}
	}
	bar.Finish()

	log.Info("Prefetch finished",
		zap.Int("cached", outcomes[download.Cached]),
		zap.Int("unavailable", outcomes[download.Unavailable]),
		zap.Int("failed", outcomes[download.Failed]),
		zap.Int("cache_tiles", store.Len()),
		zap.Int64("cache_bytes", store.Size()),
	)
}
