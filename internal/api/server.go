package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-content-scraper/internal/crawler"
	"github.com/JakeFAU/link-content-scraper/internal/metrics"
	"github.com/JakeFAU/link-content-scraper/internal/progress"
	"github.com/JakeFAU/link-content-scraper/internal/storage/memory"
)

const (
	defaultStreamInterval = 500 * time.Millisecond
	defaultAwaitTimeout   = 30 * time.Second
	maxRequestBytes       = 1 << 20
)

// ArchiveStore resolves finished archives by job ID.
type ArchiveStore interface {
	Get(jobID string) (memory.ArchiveRecord, error)
	ScheduleRemoval(jobID string)
}

// Config controls the HTTP layer.
type Config struct {
	// APIKey enables key checks on the /api and /cancel routes when set.
	APIKey string
	// StreamInterval is the pause between progress events.
	StreamInterval time.Duration
	// AwaitTimeout bounds how long a progress stream waits for its crawl to start.
	AwaitTimeout time.Duration
}

// Server wires HTTP handlers to the crawl dispatcher, progress registry and
// archive index.
type Server struct {
	router   chi.Router
	scraper  crawler.Crawler
	registry *progress.Registry
	archives ArchiveStore
	cfg      Config
	logger   *zap.Logger
	extract  http.Handler
	ready    func(context.Context) error
}

// Option customizes a Server.
type Option func(*Server)

// WithExtractHandler mounts an in-process extraction service under /extract/.
func WithExtractHandler(h http.Handler) Option {
	return func(s *Server) {
		s.extract = h
	}
}

// WithReadiness installs the check behind /readyz.
func WithReadiness(check func(context.Context) error) Option {
	return func(s *Server) {
		s.ready = check
	}
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	scraper crawler.Crawler,
	registry *progress.Registry,
	archives ArchiveStore,
	cfg Config,
	logger *zap.Logger,
	opts ...Option,
) *Server {
	if cfg.StreamInterval <= 0 {
		cfg.StreamInterval = defaultStreamInterval
	}
	if cfg.AwaitTimeout <= 0 {
		cfg.AwaitTimeout = defaultAwaitTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		scraper:  scraper,
		registry: registry,
		archives: archives,
		cfg:      cfg,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	if s.extract != nil {
		r.Mount("/extract", http.StripPrefix("/extract", s.extract))
	}

	r.Group(func(r chi.Router) {
		if cfg.APIKey != "" {
			r.Use(apiKeyMiddleware(cfg.APIKey))
		}
		r.Route("/api", func(r chi.Router) {
			r.Post("/scrape", s.scrape)
			r.Get("/scrape/progress", s.streamProgress)
			r.Get("/progress/{tracker_id}", s.getProgress)
			r.Get("/download/{job_id}", s.download)
		})
		r.Post("/cancel/{tracker_id}", s.cancel)
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type scrapeRequest struct {
	URL string `json:"url"`
}

type scrapeResponse struct {
	Links      []string `json:"links"`
	JobID      string   `json:"jobId"`
	TrackerID  string   `json:"trackerId"`
	Successful int      `json:"successful"`
	Skipped    int      `json:"skipped"`
	Failed     int      `json:"failed"`
	Download   string   `json:"download,omitempty"`
	ArchiveURI string   `json:"archiveUri,omitempty"`
}

func (s *Server) scrape(w http.ResponseWriter, r *http.Request) {
	var req scrapeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	if !crawler.IsHTTPURL(req.URL) {
		writeError(w, http.StatusUnprocessableEntity, "url must be an absolute http(s) URL")
		return
	}

	res, err := s.scraper.Crawl(r.Context(), req.URL)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, progress.ErrJobRunning):
			status = http.StatusConflict
		case errors.Is(err, context.Canceled):
			status = http.StatusConflict
			err = errors.New("crawl cancelled")
		}
		s.logger.Warn("scrape failed",
			zap.String("url", req.URL),
			zap.Int("status", status),
			zap.Error(err),
		)
		writeError(w, status, err.Error())
		return
	}

	resp := scrapeResponse{
		Links:      res.Links,
		JobID:      res.JobID,
		TrackerID:  res.TrackerKey,
		Successful: res.Counts.Successful,
		Skipped:    res.Counts.Skipped,
		Failed:     res.Counts.Failed,
		ArchiveURI: res.Archive.URI,
	}
	if res.Archive.Path != "" {
		resp.Download = "/api/download/" + res.JobID
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) getProgress(w http.ResponseWriter, r *http.Request) {
	tracker, ok := s.registry.Get(chi.URLParam(r, "tracker_id"))
	if !ok {
		writeError(w, http.StatusNotFound, "no running crawl for tracker")
		return
	}
	writeJSON(w, http.StatusOK, tracker.Snapshot())
}

func (s *Server) cancel(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "tracker_id")
	if err := s.registry.Cancel(key); err != nil {
		writeError(w, http.StatusNotFound, "no running crawl for tracker")
		return
	}
	s.logger.Info("crawl cancelled", zap.String("tracker_key", key))
	writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled", "trackerId": key})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("json encode failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
