package progress

import (
	"errors"
	"fmt"
	"time"
)

// Stage denotes the type of milestone represented by an Event.
type Stage string

// Supported progress stages.
const (
	StageJobStart    Stage = "JOB_START"
	StageFetchDone   Stage = "FETCH_DONE"
	StageArchiveDone Stage = "ARCHIVE_DONE"
	StageJobDone     Stage = "JOB_DONE"
	StageJobError    Stage = "JOB_ERROR"
	StageJobCanceled Stage = "JOB_CANCELED"
)

// Outcome classifies how a single URL ended.
type Outcome string

// Supported per-URL outcomes.
const (
	OutcomeProvisional Outcome = "provisional"
	OutcomeSkipped     Outcome = "skipped"
	OutcomeFailed      Outcome = "failed"
	// OutcomeRejected marks content that passed fetch-time checks but failed
	// the re-check during archival.
	OutcomeRejected Outcome = "rejected"
)

// Event captures a single component of crawl progress.
type Event struct {
	// TrackerKey identifies the seed the job was started for.
	TrackerKey string
	// JobID is the generated job identifier, also used to name the archive.
	JobID string
	// TS is the UTC timestamp recorded by the emitter.
	TS time.Time
	// Stage denotes which lifecycle or fetch milestone occurred.
	Stage Stage
	// Site scopes fetch events to a host label.
	Site string
	// URL is the page URL for fetch events.
	URL string
	// Outcome is set on FETCH_DONE events.
	Outcome Outcome
	// Count carries the number of archived entries on ARCHIVE_DONE.
	Count int
	// Dur captures job wall time on terminal job events.
	Dur time.Duration
	// Note lets emitters attach low-volume context such as error text.
	Note string
}

// Validate performs coarse validation on Event payloads.
func (e Event) Validate() error {
	if e.TrackerKey == "" {
		return errors.New("tracker key is required")
	}
	if e.TS.IsZero() {
		return errors.New("timestamp is required")
	}
	switch e.Stage {
	case StageJobStart, StageArchiveDone, StageJobDone, StageJobError, StageJobCanceled:
	case StageFetchDone:
		if e.Site == "" {
			return errors.New("fetch done requires site")
		}
		if e.Outcome == "" {
			return errors.New("fetch done requires outcome")
		}
	default:
		return fmt.Errorf("unknown stage %q", e.Stage)
	}
	if e.Dur < 0 {
		return errors.New("duration must be >= 0")
	}
	return nil
}
