package cache

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"slippyview/internal/metrics"
	"slippyview/internal/tile"
	"slippyview/internal/tileserver"
)

var (
	// ErrNotCached is returned by Read for an address missing from the index.
	ErrNotCached = errors.New("tile not cached")
	// ErrInconsistent is returned by Read when the index lists a tile whose
	// file is gone from disk.
	ErrInconsistent = errors.New("tile cache index out of sync with disk")
)

const tmpSuffix = ".tmp"

// Store is the persistent tile cache.
// Structure: {cacheFolder}/{z}/{x}/{y}.{ext}
//
// The directory layout is the index: Scan rebuilds the in-memory set of
// cached addresses from it, Write adds to both. Entries are never removed.
type Store struct {
	mu       sync.RWMutex
	server   *tileserver.Server
	hot      Cache
	logger   *zap.Logger
	index    map[tile.Address]int64
	size     int64
	maxBytes int64
}

// NewStore creates the cache folder if needed. maxBytes is advisory.
func NewStore(server *tileserver.Server, hot Cache, maxBytes int64, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(server.CacheFolder, 0755); err != nil {
		return nil, fmt.Errorf("failed to create cache directory: %w", err)
	}
	if hot == nil {
		hot = NewNoopCache()
	}

	return &Store{
		server:   server,
		hot:      hot,
		logger:   logger,
		index:    make(map[tile.Address]int64),
		maxBytes: maxBytes,
	}, nil
}

// Scan walks the cache folder and replaces the index with what is on disk.
// Malformed entries are skipped; leftovers of interrupted writes are removed.
// Directory read errors are collected and returned after the walk, the index
// still holds everything that could be read.
func (s *Store) Scan() error {
	index := make(map[tile.Address]int64)
	var size int64
	var errs error

	root := s.server.CacheFolder
	ext := s.server.Extension()

	zooms, err := os.ReadDir(root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			s.replace(index, 0)
			return nil
		}
		return fmt.Errorf("failed to read cache directory: %w", err)
	}

	for _, zoomEntry := range zooms {
		z, ok := parseSegment(zoomEntry)
		if !ok {
			s.logger.Debug("Skipping cache entry", zap.String("name", zoomEntry.Name()))
			continue
		}
		zoomDir := filepath.Join(root, zoomEntry.Name())
		columns, err := os.ReadDir(zoomDir)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("read %s: %w", zoomDir, err))
			continue
		}

		for _, columnEntry := range columns {
			x, ok := parseSegment(columnEntry)
			if !ok {
				s.logger.Debug("Skipping cache entry", zap.String("name", filepath.Join(zoomDir, columnEntry.Name())))
				continue
			}
			columnDir := filepath.Join(zoomDir, columnEntry.Name())
			files, err := os.ReadDir(columnDir)
			if err != nil {
				errs = multierr.Append(errs, fmt.Errorf("read %s: %w", columnDir, err))
				continue
			}

			for _, f := range files {
				name := f.Name()
				path := filepath.Join(columnDir, name)
				if f.IsDir() {
					continue
				}
				if strings.HasSuffix(name, tmpSuffix) {
					if err := os.Remove(path); err != nil {
						s.logger.Warn("Failed to remove partial tile", zap.String("path", path), zap.Error(err))
					} else {
						s.logger.Info("Removed partial tile", zap.String("path", path))
					}
					continue
				}
				if !strings.HasSuffix(name, ext) {
					continue
				}
				y, err := strconv.Atoi(strings.TrimSuffix(name, ext))
				if err != nil {
					continue
				}
				addr := tile.Address{Zoom: z, X: x, Y: y}
				if !addr.Valid() {
					s.logger.Debug("Skipping out of range tile", zap.String("path", path))
					continue
				}
				info, err := f.Info()
				if err != nil {
					errs = multierr.Append(errs, fmt.Errorf("stat %s: %w", path, err))
					continue
				}
				index[addr] = info.Size()
				size += info.Size()
			}
		}
	}

	s.replace(index, size)

	s.logger.Info("Tile cache scanned",
		zap.String("folder", root),
		zap.Int("tiles", len(index)),
		zap.Float64("size_mb", float64(size)/1024/1024),
	)

	return errs
}

func (s *Store) replace(index map[tile.Address]int64, size int64) {
	s.mu.Lock()
	s.index = index
	s.size = size
	s.mu.Unlock()

	metrics.CacheTiles.Set(float64(len(index)))
	metrics.CacheBytes.Set(float64(size))
}

// parseSegment accepts directories whose name is a non-negative integer.
func parseSegment(e fs.DirEntry) (int, bool) {
	if !e.IsDir() {
		return 0, false
	}
	n, err := strconv.Atoi(e.Name())
	if err != nil || n < 0 {
		return 0, false
	}
	return n, true
}

// Has reports whether addr is in the index.
func (s *Store) Has(addr tile.Address) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	_, ok := s.index[addr]
	return ok
}

// Write stores data for addr and adds it to the index. The file is written
// under a temporary name and renamed into place, so a tile on disk is always
// complete. On error the index is left untouched.
func (s *Store) Write(addr tile.Address, data []byte) error {
	if !addr.Valid() {
		return fmt.Errorf("invalid tile address %s", addr)
	}

	filePath := s.server.TilePath(addr.Zoom, addr.X, addr.Y)
	if err := os.MkdirAll(filepath.Dir(filePath), 0755); err != nil {
		return fmt.Errorf("failed to create tile directory: %w", err)
	}

	tmpPath := filePath + "." + uuid.New().String() + tmpSuffix
	if err := os.WriteFile(tmpPath, data, 0644); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write tile: %w", err)
	}
	if err := os.Rename(tmpPath, filePath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to move tile into place: %w", err)
	}

	s.mu.Lock()
	old := s.index[addr]
	s.index[addr] = int64(len(data))
	s.size += int64(len(data)) - old
	tiles, size := len(s.index), s.size
	s.mu.Unlock()

	s.hot.Set(addr, data)

	metrics.CacheTiles.Set(float64(tiles))
	metrics.CacheBytes.Set(float64(size))
	return nil
}

// Read returns the bytes of a cached tile.
func (s *Store) Read(addr tile.Address) ([]byte, error) {
	if !s.Has(addr) {
		return nil, fmt.Errorf("%w: %s", ErrNotCached, addr)
	}

	filePath := s.server.TilePath(addr.Zoom, addr.X, addr.Y)
	if data, ok := s.hot.Get(addr); ok {
		// the hot copy is only served while the file is still on disk
		if _, err := os.Stat(filePath); err == nil {
			metrics.MemoryHits.Inc()
			return data, nil
		} else if errors.Is(err, fs.ErrNotExist) {
			s.hot.Delete(addr)
			return nil, fmt.Errorf("%w: %s", ErrInconsistent, filePath)
		}
	}

	data, err := os.ReadFile(filePath)
	if err != nil {
		s.hot.Delete(addr)
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrInconsistent, filePath)
		}
		return nil, fmt.Errorf("failed to read tile %s: %w", addr, err)
	}

	s.hot.Set(addr, data)
	return data, nil
}

// Size returns the aggregate size in bytes of all indexed tiles.
func (s *Store) Size() int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

// Len returns the number of indexed tiles.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.index)
}

// MaxBytes returns the nominal size ceiling. It is not enforced.
func (s *Store) MaxBytes() int64 {
	return s.maxBytes
}

// OverBudget reports whether the cache has grown past MaxBytes.
func (s *Store) OverBudget() bool {
	return s.maxBytes > 0 && s.Size() > s.maxBytes
}
