package progress

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"time"
)

// Snapshot is the point-in-time view of a job served to progress clients.
// Successful reports provisional successes while the job is running and the
// confirmed count once the archive has been written.
type Snapshot struct {
	TrackerKey  string `json:"tracker_key"`
	JobID       string `json:"job_id"`
	Total       int    `json:"total"`
	Processed   int    `json:"processed"`
	Successful  int    `json:"successful"`
	Skipped     int    `json:"skipped"`
	Failed      int    `json:"failed"`
	CurrentURL  string `json:"current_url"`
	Provisional int    `json:"provisional_successful"`
	Confirmed   int    `json:"confirmed_successful"`
	Complete    bool   `json:"complete"`
}

// Tracker holds the live counters for one crawl job. All methods are safe for
// concurrent use and are no-ops on a nil receiver so fetchers can be used
// outside of a job.
type Tracker struct {
	mu          sync.Mutex
	key         string
	jobID       string
	total       int
	processed   int
	provisional int
	confirmed   int
	skipped     int
	failed      int
	currentURL  string
	complete    bool
	cancelled   bool
	startedAt   time.Time

	cancel   context.CancelFunc
	done     chan struct{}
	doneOnce sync.Once
	emitter  Emitter
	now      func() time.Time
}

// NewTracker builds a standalone tracker. Jobs normally obtain trackers from a
// Registry; this constructor exists for callers that run a single crawl.
func NewTracker(key, jobID string, emitter Emitter) *Tracker {
	return newTracker(key, jobID, nil, emitter, func() time.Time { return time.Now().UTC() })
}

func newTracker(key, jobID string, cancel context.CancelFunc, emitter Emitter, now func() time.Time) *Tracker {
	return &Tracker{
		key:       key,
		jobID:     jobID,
		cancel:    cancel,
		done:      make(chan struct{}),
		emitter:   emitter,
		now:       now,
		startedAt: now(),
	}
}

// Key returns the tracker key.
func (t *Tracker) Key() string {
	if t == nil {
		return ""
	}
	return t.key
}

// JobID returns the job identifier.
func (t *Tracker) JobID() string {
	if t == nil {
		return ""
	}
	return t.jobID
}

// SetTotal records the number of URLs the job will process. Total never drops
// below the number already processed.
func (t *Tracker) SetTotal(n int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.total = max(n, t.processed)
}

// SetCurrentURL records the URL most recently picked up by a fetcher.
func (t *Tracker) SetCurrentURL(rawURL string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.currentURL = rawURL
}

// MarkSkipped counts a URL excluded by skip rules.
func (t *Tracker) MarkSkipped(rawURL string) {
	t.markProcessed(rawURL, OutcomeSkipped)
}

// MarkProvisional counts a URL whose content passed fetch-time validation.
func (t *Tracker) MarkProvisional(rawURL string) {
	t.markProcessed(rawURL, OutcomeProvisional)
}

// MarkFailed counts a URL whose retries were exhausted.
func (t *Tracker) MarkFailed(rawURL string) {
	t.markProcessed(rawURL, OutcomeFailed)
}

func (t *Tracker) markProcessed(rawURL string, outcome Outcome) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.processed++
	if t.processed > t.total {
		t.total = t.processed
	}
	switch outcome {
	case OutcomeSkipped:
		t.skipped++
	case OutcomeProvisional:
		t.provisional++
	case OutcomeFailed:
		t.failed++
	}
	t.mu.Unlock()
	t.emitFetch(rawURL, outcome)
}

// MarkArchiveRejected demotes one provisional success to a failure after the
// archival re-check rejected its content. Processed is unchanged.
func (t *Tracker) MarkArchiveRejected(rawURL string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	if t.provisional > 0 {
		t.provisional--
	}
	t.failed++
	t.mu.Unlock()
	t.emitFetch(rawURL, OutcomeRejected)
}

// SetConfirmed records the number of documents written to the archive and
// marks the job complete.
func (t *Tracker) SetConfirmed(n int) {
	if t == nil {
		return
	}
	t.mu.Lock()
	t.confirmed = n
	t.complete = true
	t.mu.Unlock()
	t.emit(Event{Stage: StageArchiveDone, Count: n})
}

// Snapshot returns a consistent copy of the counters.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	successful := t.provisional
	if t.complete {
		successful = t.confirmed
	}
	return Snapshot{
		TrackerKey:  t.key,
		JobID:       t.jobID,
		Total:       t.total,
		Processed:   t.processed,
		Successful:  successful,
		Skipped:     t.skipped,
		Failed:      t.failed,
		CurrentURL:  t.currentURL,
		Provisional: t.provisional,
		Confirmed:   t.confirmed,
		Complete:    t.complete,
	}
}

// Done is closed once the job has finished, failed or been cancelled.
func (t *Tracker) Done() <-chan struct{} {
	if t == nil {
		return nil
	}
	return t.done
}

// Cancelled reports whether the job was cancelled through its Registry.
func (t *Tracker) Cancelled() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.cancelled
}

func (t *Tracker) requestCancel() {
	t.mu.Lock()
	t.cancelled = true
	cancel := t.cancel
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

func (t *Tracker) close() {
	t.doneOnce.Do(func() { close(t.done) })
}

func (t *Tracker) emitFetch(rawURL string, outcome Outcome) {
	t.emit(Event{Stage: StageFetchDone, Site: siteOf(rawURL), URL: rawURL, Outcome: outcome})
}

func (t *Tracker) emit(evt Event) {
	if t.emitter == nil {
		return
	}
	evt.TrackerKey = t.key
	evt.JobID = t.jobID
	evt.TS = t.now()
	t.emitter.Emit(evt)
}

func siteOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

var (
	// ErrJobRunning is returned when a crawl for the same seed is already active.
	ErrJobRunning = errors.New("progress: a crawl for this seed is already running")
	// ErrJobNotFound is returned when no active crawl matches a tracker key.
	ErrJobNotFound = errors.New("progress: no running crawl for this key")
)

// Registry keys active trackers by tracker key. A record exists from Start
// until the job finishes or is cancelled.
type Registry struct {
	mu       sync.Mutex
	trackers map[string]*Tracker
	emitter  Emitter
	now      func() time.Time
}

// NewRegistry creates a Registry whose trackers emit onto emitter. A nil
// emitter disables event emission.
func NewRegistry(emitter Emitter) *Registry {
	return &Registry{
		trackers: make(map[string]*Tracker),
		emitter:  emitter,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start registers a tracker for key. cancel is invoked when the job is
// cancelled through Cancel.
func (r *Registry) Start(key, jobID string, cancel context.CancelFunc) (*Tracker, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.trackers[key]; exists {
		return nil, ErrJobRunning
	}
	t := newTracker(key, jobID, cancel, r.emitter, r.now)
	r.trackers[key] = t
	t.emit(Event{Stage: StageJobStart})
	return t, nil
}

// Get returns the active tracker for key.
func (r *Registry) Get(key string) (*Tracker, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[key]
	return t, ok
}

// Await polls until a tracker for key is registered or ctx ends. Progress
// streams use it because clients usually subscribe before the crawl starts.
func (r *Registry) Await(ctx context.Context, key string, poll time.Duration) (*Tracker, error) {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for {
		if t, ok := r.Get(key); ok {
			return t, nil
		}
		select {
		case <-ctx.Done():
			return nil, ErrJobNotFound
		case <-ticker.C:
		}
	}
}

// Cancel aborts the job registered under key and removes its record.
func (r *Registry) Cancel(key string) error {
	r.mu.Lock()
	t, ok := r.trackers[key]
	if ok {
		delete(r.trackers, key)
	}
	r.mu.Unlock()
	if !ok {
		return ErrJobNotFound
	}
	t.requestCancel()
	return nil
}

// Finish removes t from the registry and closes its Done channel. err is the
// job's terminal error, if any; it selects the emitted stage.
func (r *Registry) Finish(t *Tracker, err error) {
	if t == nil {
		return
	}
	r.mu.Lock()
	if current, ok := r.trackers[t.key]; ok && current == t {
		delete(r.trackers, t.key)
	}
	r.mu.Unlock()

	evt := Event{Stage: StageJobDone, Dur: r.now().Sub(t.startedAt)}
	switch {
	case t.Cancelled():
		evt.Stage = StageJobCanceled
	case err != nil:
		evt.Stage = StageJobError
		evt.Note = err.Error()
	}
	if evt.Dur < 0 {
		evt.Dur = 0
	}
	t.emit(evt)
	t.close()
}

// Active returns the number of registered trackers.
func (r *Registry) Active() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.trackers)
}
