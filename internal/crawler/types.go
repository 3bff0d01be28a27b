package crawler

import "time"

// FetchResult pairs a URL with the content extracted for it. Content is empty
// when the URL was skipped or every attempt failed.
type FetchResult struct {
	URL     string
	Content string
}

// Usable reports whether the result carries content worth archiving.
func (r FetchResult) Usable() bool {
	return r.Content != ""
}

// SeedPage is the raw markup of a seed and the hrefs found in it.
type SeedPage struct {
	URL          string
	StatusCode   int
	Body         []byte
	Links        []string
	UsedHeadless bool
}

// Archive describes a finished bundle of documents.
type Archive struct {
	JobID   string
	Path    string
	URI     string
	Entries int
}

// Counts are the per-job totals returned to the caller once the job ends.
// Successful is the confirmed count written by the archive builder.
type Counts struct {
	Successful int `json:"successful"`
	Skipped    int `json:"skipped"`
	Failed     int `json:"failed"`
}

// Result is returned by Engine.Crawl.
type Result struct {
	JobID      string
	TrackerKey string
	SeedURL    string
	// Links holds the seed followed by every discovered link, in order.
	Links    []string
	Archive  Archive
	Counts   Counts
	Started  time.Time
	Finished time.Time
}

// QueueItem wraps a crawl request waiting for a worker.
type QueueItem struct {
	SeedURL   string
	Submitted time.Time
	// Reply receives exactly one outcome; it must be buffered.
	Reply chan<- Outcome
}

// Outcome is delivered to the submitter of a QueueItem.
type Outcome struct {
	Result Result
	Err    error
}
