package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/link-content-scraper/internal/crawler"
	"github.com/JakeFAU/link-content-scraper/internal/progress"
)

// Final event names sent once a crawl ends.
const (
	eventComplete  = "complete"
	eventCancelled = "cancelled"
	eventFailed    = "failed"
)

// streamProgress sends the tracker snapshot for ?url= as server-sent events
// until the crawl ends, then one named final event.
func (s *Server) streamProgress(w http.ResponseWriter, r *http.Request) {
	seed := r.URL.Query().Get("url")
	if !crawler.IsHTTPURL(seed) {
		writeError(w, http.StatusUnprocessableEntity, "url must be an absolute http(s) URL")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	key := crawler.TrackerKey(seed)
	awaitCtx, cancel := context.WithTimeout(r.Context(), s.cfg.AwaitTimeout)
	tracker, err := s.registry.Await(awaitCtx, key, s.cfg.StreamInterval/5)
	cancel()
	if err != nil {
		writeError(w, http.StatusNotFound, "no running crawl for url")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	logger := s.logger.With(zap.String("tracker_key", key), zap.String("job_id", tracker.JobID()))
	ticker := time.NewTicker(s.cfg.StreamInterval)
	defer ticker.Stop()
	for {
		if err := writeEvent(w, "", tracker.Snapshot()); err != nil {
			logger.Debug("progress stream closed", zap.Error(err))
			return
		}
		flusher.Flush()

		select {
		case <-r.Context().Done():
			return
		case <-tracker.Done():
			if err := writeEvent(w, finalEvent(tracker), tracker.Snapshot()); err != nil {
				logger.Debug("progress stream closed", zap.Error(err))
				return
			}
			flusher.Flush()
			return
		case <-ticker.C:
		}
	}
}

func finalEvent(t *progress.Tracker) string {
	switch {
	case t.Cancelled():
		return eventCancelled
	case t.Snapshot().Complete:
		return eventComplete
	default:
		return eventFailed
	}
}

func writeEvent(w http.ResponseWriter, name string, snap progress.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if name != "" {
		if _, err := fmt.Fprintf(w, "event: %s\n", name); err != nil {
			return fmt.Errorf("write event: %w", err)
		}
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", payload); err != nil {
		return fmt.Errorf("write event: %w", err)
	}
	return nil
}
