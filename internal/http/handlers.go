package http

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"slippyview/internal/engine"
	"slippyview/internal/tile"
)

type Handlers struct {
	allowedOrigin string
	logger        *zap.Logger
	engine        *engine.Engine
}

func New(allowedOrigin string, logger *zap.Logger, eng *engine.Engine) *Handlers {
	return &Handlers{
		allowedOrigin: allowedOrigin,
		logger:        logger,
		engine:        eng,
	}
}

// Routes returns the full API wrapped in the CORS and logging middleware.
func (h *Handlers) Routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/view", h.HandleView)
	mux.HandleFunc("/api/pan", h.HandlePan)
	mux.HandleFunc("/api/zoom", h.HandleZoom)
	mux.HandleFunc("/api/downloads", h.HandleDownloads)
	mux.HandleFunc("/api/stats", h.HandleStats)
	mux.HandleFunc("/api/tiles/", h.HandleTile)
	mux.HandleFunc("/healthz", h.HandleHealthz)
	mux.Handle("/metrics", promhttp.Handler())

	return h.CORSMiddleware(h.RequestLoggingMiddleware(mux))
}

func (h *Handlers) RequestLoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := uuid.New().String()
		start := time.Now()

		ip := h.extractIP(r)

		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)

		h.logger.Info("request",
			zap.String("request_id", requestID),
			zap.String("ip", ip),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", wrapped.statusCode),
			zap.Int64("bytes", wrapped.bytesWritten),
			zap.Int64("duration_ms", duration.Milliseconds()),
			zap.String("user_agent", r.UserAgent()),
		)
	})
}

func (h *Handlers) CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		allowedOrigin := ""

		if h.allowedOrigin != "" {
			allowedOrigin = h.allowedOrigin
		} else {
			host := r.Host
			if origin != "" && (strings.HasPrefix(origin, "http://"+host) || strings.HasPrefix(origin, "https://"+host)) {
				allowedOrigin = origin
			} else if origin == "" {
				allowedOrigin = "*"
			}
		}

		if allowedOrigin != "" {
			w.Header().Set("Access-Control-Allow-Origin", allowedOrigin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
			w.Header().Set("Access-Control-Expose-Headers", "X-Tile-State")
		}

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

type viewRequest struct {
	Width  *int     `json:"width"`
	Height *int     `json:"height"`
	Lon    *float64 `json:"lon"`
	Lat    *float64 `json:"lat"`
	Zoom   *int     `json:"zoom"`
}

// HandleView reports the current view on GET. On POST it applies the given
// fields, runs a render pass and returns the frame.
func (h *Handlers) HandleView(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, h.engine.View())
		return
	case http.MethodPost:
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req viewRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	if req.Zoom != nil && !h.engine.SetZoom(*req.Zoom) {
		http.Error(w, "Zoom level out of range", http.StatusBadRequest)
		return
	}
	if req.Width != nil || req.Height != nil {
		v := h.engine.View()
		width, height := v.Width, v.Height
		if req.Width != nil {
			width = *req.Width
		}
		if req.Height != nil {
			height = *req.Height
		}
		if width < 0 || height < 0 {
			http.Error(w, "Viewport size must be non-negative", http.StatusBadRequest)
			return
		}
		h.engine.SetViewport(width, height)
	}
	if req.Lon != nil || req.Lat != nil {
		c := h.engine.View().Center
		if req.Lon != nil {
			c.Lon = *req.Lon
		}
		if req.Lat != nil {
			c.Lat = *req.Lat
		}
		h.engine.SetCenter(c)
	}

	writeJSON(w, h.engine.Render())
}

type panRequest struct {
	DX int `json:"dx"`
	DY int `json:"dy"`
}

func (h *Handlers) HandlePan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req panRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	h.engine.Pan(req.DX, req.DY)
	writeJSON(w, h.engine.Render())
}

type zoomRequest struct {
	Zoom  *int `json:"zoom"`
	Delta int  `json:"delta"`
	// X and Y zoom in around a pointer position instead.
	X *int `json:"x"`
	Y *int `json:"y"`
}

func (h *Handlers) HandleZoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req zoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	var ok bool
	switch {
	case req.X != nil && req.Y != nil:
		ok = h.engine.ZoomAt(*req.X, *req.Y)
	case req.Zoom != nil:
		ok = h.engine.SetZoom(*req.Zoom)
	case req.Delta > 0:
		ok = h.engine.ZoomIn()
	case req.Delta < 0:
		ok = h.engine.ZoomOut()
	}
	if !ok {
		http.Error(w, "Zoom level out of range", http.StatusBadRequest)
		return
	}

	writeJSON(w, h.engine.Render())
}

type downloadsRequest struct {
	Enabled bool `json:"enabled"`
}

func (h *Handlers) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req downloadsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	h.engine.SetDownloadsEnabled(req.Enabled)
	h.logger.Info("Tile downloads toggled", zap.Bool("enabled", req.Enabled))
	writeJSON(w, h.engine.View())
}

func (h *Handlers) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, h.engine.Stats())
}

func (h *Handlers) HandleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// HandleTile serves /api/tiles/{z}/{x}/{y}.{ext}. The X-Tile-State header
// tells a client whether it got the real tile or a stand-in worth polling
// again.
func (h *Handlers) HandleTile(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/tiles/")
	tileParts := strings.Split(strings.Trim(path, "/"), "/")
	if len(tileParts) != 3 {
		http.Error(w, "Invalid path", http.StatusBadRequest)
		return
	}

	var z, x, y int
	if _, err := fmt.Sscanf(tileParts[0], "%d", &z); err != nil {
		http.Error(w, "Invalid zoom level", http.StatusBadRequest)
		return
	}
	if _, err := fmt.Sscanf(tileParts[1], "%d", &x); err != nil {
		http.Error(w, "Invalid x coordinate", http.StatusBadRequest)
		return
	}

	tileFile := tileParts[2]
	ext := filepath.Ext(tileFile)
	if _, err := fmt.Sscanf(strings.TrimSuffix(tileFile, ext), "%d", &y); err != nil {
		http.Error(w, "Invalid y coordinate", http.StatusBadRequest)
		return
	}

	switch strings.TrimPrefix(ext, ".") {
	case "png", "jpg", "jpeg", "webp":
	default:
		http.Error(w, "Invalid format", http.StatusBadRequest)
		return
	}

	img, err := h.engine.Tile(tile.Address{Zoom: z, X: x, Y: y})
	if err != nil {
		if errors.Is(err, engine.ErrOutOfRange) {
			http.Error(w, err.Error(), http.StatusNotFound)
			return
		}
		h.logger.Error("Failed to resolve tile", zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("X-Tile-State", string(img.State))
	if img.State == engine.StateCached {
		w.Header().Set("ETag", `"`+etag(img.Data)+`"`)
		w.Header().Set("Cache-Control", "public, max-age=86400")
	} else {
		w.Header().Set("Cache-Control", "no-store")
	}
	w.Header().Set("Content-Length", fmt.Sprintf("%d", len(img.Data)))
	w.Header().Set("Content-Type", http.DetectContentType(img.Data))

	// HEAD request doesn't send body
	if r.Method == http.MethodHead {
		w.WriteHeader(http.StatusOK)
		return
	}

	w.Write(img.Data)
}

func etag(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])[:16]
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

// Not for real production use due to potential spoofing
func (h *Handlers) extractIP(r *http.Request) string {
	ip := r.Header.Get("X-Real-Ip")
	if ip != "" {
		return strings.Split(ip, ":")[0]
	}

	addr := r.RemoteAddr
	if addr != "" {
		return strings.Split(addr, ":")[0]
	}

	return "unknown"
}

type responseWriter struct {
	http.ResponseWriter
	statusCode   int
	bytesWritten int64
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	rw.bytesWritten += int64(n)
	return n, err
}
