package api

import (
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-content-scraper/internal/storage/memory"
)

// download serves the archive for {job_id} and schedules its removal.
func (s *Server) download(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	rec, err := s.archives.Get(jobID)
	if err != nil {
		if errors.Is(err, memory.ErrArchiveNotFound) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	f, err := os.Open(rec.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			writeError(w, http.StatusNotFound, "archive not found")
			return
		}
		s.logger.Error("open archive", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "open archive failed")
		return
	}
	defer func() {
		_ = f.Close()
	}()

	name := "scraped-content-" + jobID + ".zip"
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", `attachment; filename="`+name+`"`)
	http.ServeContent(w, r, name, rec.Created, f)
	s.archives.ScheduleRemoval(jobID)
}
