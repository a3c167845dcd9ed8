package config

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type (
	Config struct {
		Port          int    `env:"PORT" envDefault:"8080"`
		LogLevel      string `env:"LOG_LEVEL" envDefault:"info"`
		AllowedOrigin string `env:"ALLOWED_ORIGIN"`

		TileServer TileServer `envPrefix:"TILE_SERVER_"`
		Map        Map        `envPrefix:"MAP_"`
		Download   Download   `envPrefix:"DOWNLOAD_"`
		Cache      Cache      `envPrefix:"CACHE_"`
		Patch      Patch      `envPrefix:"PATCH_"`
		Vips       Vips       `envPrefix:"VIPS_"`
	}

	TileServer struct {
		Name        string `env:"NAME" envDefault:"OpenStreetMap"`
		URL         string `env:"URL" envDefault:"https://tile.openstreetmap.org/%z/%x/%y.png"`
		CacheFolder string `env:"CACHE_FOLDER" envDefault:"map_cache"`
		Path        string `env:"PATH" envDefault:"/%z/%x/"`
		File        string `env:"FILE" envDefault:"%y.png"`
		UserAgent   string `env:"USER_AGENT" envDefault:"slippyview/1.0"`
	}

	Map struct {
		TileSize  int     `env:"TILE_SIZE" envDefault:"256"`
		MinZoom   int     `env:"MIN_ZOOM" envDefault:"0"`
		MaxZoom   int     `env:"MAX_ZOOM" envDefault:"18"`
		StartZoom int     `env:"START_ZOOM" envDefault:"14"`
		StartLon  float64 `env:"START_LON" envDefault:"30.3141"`
		StartLat  float64 `env:"START_LAT" envDefault:"59.9386"`
	}

	Download struct {
		Enabled bool          `env:"ENABLED" envDefault:"true"`
		Workers int           `env:"WORKERS" envDefault:"1"`
		Timeout time.Duration `env:"TIMEOUT" envDefault:"30s"`
		Rate    float64       `env:"RATE" envDefault:"2"`
		Burst   int           `env:"BURST" envDefault:"2"`
	}

	Cache struct {
		Type        string `env:"TYPE" envDefault:"memory"`
		MemoryTiles int    `env:"MEMORY_TILES" envDefault:"512"`
		MaxBytes    int64  `env:"MAX_BYTES" envDefault:"104857600"`
	}

	Patch struct {
		Backend          string `env:"BACKEND" envDefault:"go"`
		LoadingImage     string `env:"LOADING_IMAGE"`
		UnavailableImage string `env:"UNAVAILABLE_IMAGE"`
	}

	Vips struct {
		MaxCacheMB  int `env:"MAX_CACHE_MB" envDefault:"64"`
		Concurrency int `env:"CONCURRENCY" envDefault:"1"`
	}
)

// MaxDownloadWorkers is the upper bound for DOWNLOAD_WORKERS.
const MaxDownloadWorkers = 6

// Load reads an optional .env file and then the environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("NOTICE: .env file not found or cannot be loaded: %v\n", err)
	}

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks value ranges env tags cannot express.
func (c *Config) Validate() error {
	var errs []error

	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	if c.Map.TileSize < 64 || c.Map.TileSize&(c.Map.TileSize-1) != 0 {
		errs = append(errs, fmt.Errorf("MAP_TILE_SIZE %d must be a power of two >= 64", c.Map.TileSize))
	}
	if c.Map.MinZoom < 0 || c.Map.MaxZoom > 22 || c.Map.MinZoom > c.Map.MaxZoom {
		errs = append(errs, fmt.Errorf("zoom bounds [%d, %d] invalid", c.Map.MinZoom, c.Map.MaxZoom))
	}
	if c.Map.StartZoom < c.Map.MinZoom || c.Map.StartZoom > c.Map.MaxZoom {
		errs = append(errs, fmt.Errorf("MAP_START_ZOOM %d outside [%d, %d]", c.Map.StartZoom, c.Map.MinZoom, c.Map.MaxZoom))
	}
	if c.Download.Workers < 1 || c.Download.Workers > MaxDownloadWorkers {
		errs = append(errs, fmt.Errorf("DOWNLOAD_WORKERS %d outside [1, %d]", c.Download.Workers, MaxDownloadWorkers))
	}
	if c.Download.Timeout <= 0 {
		errs = append(errs, errors.New("DOWNLOAD_TIMEOUT must be positive"))
	}
	switch c.Cache.Type {
	case "memory", "disabled":
	default:
		errs = append(errs, fmt.Errorf("CACHE_TYPE %q not supported (memory, disabled)", c.Cache.Type))
	}
	switch c.Patch.Backend {
	case "go", "vips":
	default:
		errs = append(errs, fmt.Errorf("PATCH_BACKEND %q not supported (go, vips)", c.Patch.Backend))
	}

	return errors.Join(errs...)
}

// UsesVips reports whether libvips has to be started.
func (c *Config) UsesVips() bool {
	return c.Patch.Backend == "vips"
}
