package memory

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultRetention is how long a downloaded archive stays on disk.
const DefaultRetention = 5 * time.Minute

// ErrArchiveNotFound is returned for unknown or expired job IDs.
var ErrArchiveNotFound = errors.New("archive not found")

// ArchiveRecord describes a finished archive available for download.
type ArchiveRecord struct {
	JobID   string    `json:"job_id"`
	SeedURL string    `json:"seed_url"`
	Path    string    `json:"-"`
	URI     string    `json:"uri,omitempty"`
	Entries int       `json:"entries"`
	Created time.Time `json:"created"`
}

// ArchiveIndex maps job IDs to archives on local disk. Records scheduled for
// removal are dropped, and their files deleted, once the retention elapses.
type ArchiveIndex struct {
	mu        sync.Mutex
	records   map[string]ArchiveRecord
	timers    map[string]*time.Timer
	retention time.Duration
	logger    *zap.Logger
}

// NewArchiveIndex creates an index. A non-positive retention uses DefaultRetention.
func NewArchiveIndex(retention time.Duration, logger *zap.Logger) *ArchiveIndex {
	if retention <= 0 {
		retention = DefaultRetention
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ArchiveIndex{
		records:   make(map[string]ArchiveRecord),
		timers:    make(map[string]*time.Timer),
		retention: retention,
		logger:    logger,
	}
}

// Put records rec, replacing any previous record for the same job.
func (i *ArchiveIndex) Put(rec ArchiveRecord) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.records[rec.JobID] = rec
}

// Get returns the record for jobID.
func (i *ArchiveIndex) Get(jobID string) (ArchiveRecord, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	rec, ok := i.records[jobID]
	if !ok {
		return ArchiveRecord{}, ErrArchiveNotFound
	}
	return rec, nil
}

// ScheduleRemoval removes jobID after the retention period. Repeated calls
// keep the first deadline.
func (i *ArchiveIndex) ScheduleRemoval(jobID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.records[jobID]; !ok {
		return
	}
	if _, pending := i.timers[jobID]; pending {
		return
	}
	i.timers[jobID] = time.AfterFunc(i.retention, func() {
		if err := i.Remove(jobID); err != nil && !errors.Is(err, ErrArchiveNotFound) {
			i.logger.Warn("archive cleanup failed", zap.String("job_id", jobID), zap.Error(err))
		}
	})
}

// Remove drops the record for jobID and deletes its file.
func (i *ArchiveIndex) Remove(jobID string) error {
	i.mu.Lock()
	rec, ok := i.records[jobID]
	delete(i.records, jobID)
	if timer, pending := i.timers[jobID]; pending {
		timer.Stop()
		delete(i.timers, jobID)
	}
	i.mu.Unlock()
	if !ok {
		return ErrArchiveNotFound
	}
	if rec.Path == "" {
		return nil
	}
	if err := os.Remove(rec.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove archive file: %w", err)
	}
	i.logger.Debug("archive removed", zap.String("job_id", jobID), zap.String("path", rec.Path))
	return nil
}

// Len returns the number of indexed archives.
func (i *ArchiveIndex) Len() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.records)
}

// Close stops pending removals. Files already scheduled stay on disk.
func (i *ArchiveIndex) Close() {
	i.mu.Lock()
	defer i.mu.Unlock()
	for id, timer := range i.timers {
		timer.Stop()
		delete(i.timers, id)
	}
}
