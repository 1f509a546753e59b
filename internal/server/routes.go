package server

import (
	"log/slog"
	"net/http"
)

// DefaultMaxBodyBytes bounds JSON request bodies.
const DefaultMaxBodyBytes = 64 << 10

// Config contains server configuration options.
type Config struct {
	// AllowedOrigins is the list of allowed CORS origins.
	AllowedOrigins []string
	// MaxBodyBytes caps request bodies; zero uses DefaultMaxBodyBytes.
	MaxBodyBytes int64
}

// DefaultConfig returns a Config with default values.
func DefaultConfig() Config {
	return Config{
		AllowedOrigins: []string{"*"},
		MaxBodyBytes:   DefaultMaxBodyBytes,
	}
}

// NewRouter creates the HTTP router of the extraction API.
// Signed object serving is mounted only when the handlers have a local store.
func NewRouter(h *Handlers, logger *slog.Logger, cfg Config) http.Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.Health)
	mux.HandleFunc("GET /api/videos", h.ListVideos)
	mux.HandleFunc("GET /api/videos/{videoId}", h.GetVideo)
	mux.HandleFunc("DELETE /api/videos/{videoId}", h.DeleteVideo)
	mux.HandleFunc("POST /api/extract", h.StartExtraction)
	mux.HandleFunc("GET /api/extract/{jobId}", h.GetJob)
	mux.HandleFunc("DELETE /api/extract/{jobId}", h.CancelJob)
	mux.HandleFunc("GET /api/frames", h.ListFrames)
	mux.HandleFunc("GET /api/frames/download", h.DownloadFrames)
	if h.objects != nil {
		mux.HandleFunc("GET /storage/{key...}", h.ServeObject)
	}

	chain := ChainMiddleware(
		RecoveryMiddleware(logger),
		LoggingMiddleware(logger),
		CORSMiddleware(cfg.AllowedOrigins),
		BodyLimitMiddleware(cfg.MaxBodyBytes),
	)

	return chain(mux)
}
