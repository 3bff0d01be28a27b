package archive

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-content-scraper/internal/crawler"
	"github.com/JakeFAU/link-content-scraper/internal/metrics"
	"github.com/JakeFAU/link-content-scraper/internal/progress"
	"github.com/JakeFAU/link-content-scraper/internal/telemetry"
)

// Config controls where archives are written and how entries are named.
type Config struct {
	// WorkDir holds per-job scratch directories and the finished zips.
	WorkDir           string
	MaxFilenameLength int
	TitleScanLines    int
	// BlobPrefix is prepended to the object path when mirroring to a BlobStore.
	BlobPrefix string
}

// Entry is one document destined for the archive.
type Entry struct {
	URL      string
	Title    string
	Filename string
	Body     []byte
}

// Builder implements crawler.ArchiveBuilder.
type Builder struct {
	cfg    Config
	store  crawler.BlobStore
	clock  crawler.Clock
	logger *zap.Logger
}

// NewBuilder creates a Builder. store may be nil to skip mirroring.
func NewBuilder(cfg Config, store crawler.BlobStore, clock crawler.Clock, logger *zap.Logger) (*Builder, error) {
	if cfg.WorkDir == "" {
		cfg.WorkDir = os.TempDir()
	}
	if err := os.MkdirAll(cfg.WorkDir, 0o750); err != nil {
		return nil, fmt.Errorf("create archive work dir: %w", err)
	}
	if cfg.MaxFilenameLength <= 0 {
		cfg.MaxFilenameLength = DefaultMaxFilenameLength
	}
	if cfg.TitleScanLines <= 0 {
		cfg.TitleScanLines = DefaultTitleScanLines
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Builder{cfg: cfg, store: store, clock: clock, logger: logger}, nil
}

// Build re-validates every non-empty result, writes the survivors to
// <WorkDir>/<jobID>.zip and records the confirmed count on tracker. Results
// rejected here are moved from provisional success to failed. It returns
// crawler.ErrNoValidContent, and writes no file, when nothing qualifies.
func (b *Builder) Build(ctx context.Context, results []crawler.FetchResult, jobID string, tracker *progress.Tracker) (crawler.Archive, error) {
	ctx, span := telemetry.StartSpan(ctx, "archive.build",
		attribute.String("job_id", jobID),
		attribute.Int("results", len(results)),
	)
	defer span.End()

	entries := b.collect(results, tracker)
	if len(entries) == 0 {
		tracker.SetConfirmed(0)
		return crawler.Archive{}, crawler.ErrNoValidContent
	}
	if err := ctx.Err(); err != nil {
		return crawler.Archive{}, fmt.Errorf("archive %s: %w", jobID, err)
	}

	zipPath, err := b.write(jobID, entries)
	if err != nil {
		telemetry.RecordError(span, err)
		return crawler.Archive{}, err
	}
	tracker.SetConfirmed(len(entries))
	metrics.ObserveArchive(len(entries))

	archive := crawler.Archive{JobID: jobID, Path: zipPath, Entries: len(entries)}
	if b.store != nil {
		uri, err := b.mirror(ctx, jobID, zipPath)
		if err != nil {
			b.logger.Warn("archive mirror failed", zap.String("job_id", jobID), zap.Error(err))
		} else {
			archive.URI = uri
		}
	}
	b.logger.Info("archive written",
		zap.String("job_id", jobID),
		zap.String("path", zipPath),
		zap.Int("entries", len(entries)),
	)
	return archive, nil
}

// collect validates results and derives titles and unique filenames.
func (b *Builder) collect(results []crawler.FetchResult, tracker *progress.Tracker) []Entry {
	entries := make([]Entry, 0, len(results))
	used := make(map[string]int)
	for _, res := range results {
		if !res.Usable() {
			continue
		}
		if err := crawler.ValidateContent(res.Content); err != nil {
			tracker.MarkArchiveRejected(res.URL)
			b.logger.Debug("archive entry rejected", zap.String("url", res.URL), zap.Error(err))
			continue
		}
		title := ExtractTitle(res.Content, b.cfg.TitleScanLines)
		name := uniqueName(SafeFilename(title, res.URL, b.cfg.MaxFilenameLength), used)
		entries = append(entries, Entry{
			URL:      res.URL,
			Title:    title,
			Filename: name,
			Body:     []byte(fmt.Sprintf("# Original URL: %s\n\n%s", res.URL, res.Content)),
		})
	}
	return entries
}

// uniqueName adds a numeric infix when name was already used in this archive.
func uniqueName(name string, used map[string]int) string {
	used[name]++
	n := used[name]
	if n == 1 {
		return name
	}
	ext := filepath.Ext(name)
	candidate := fmt.Sprintf("%s-%d%s", strings.TrimSuffix(name, ext), n, ext)
	used[candidate]++
	return candidate
}

// write stages each entry as a file in a per-job directory, zips them and
// removes the directory.
func (b *Builder) write(jobID string, entries []Entry) (string, error) {
	stage := filepath.Join(b.cfg.WorkDir, jobID)
	if err := os.MkdirAll(stage, 0o750); err != nil {
		return "", fmt.Errorf("create staging dir: %w", err)
	}
	defer func() {
		if err := os.RemoveAll(stage); err != nil {
			b.logger.Warn("remove staging dir", zap.String("dir", stage), zap.Error(err))
		}
	}()

	for _, e := range entries {
		if err := os.WriteFile(filepath.Join(stage, e.Filename), e.Body, 0o600); err != nil {
			return "", fmt.Errorf("stage %s: %w", e.Filename, err)
		}
	}

	zipPath := filepath.Join(b.cfg.WorkDir, jobID+".zip")
	if err := b.zipDir(zipPath, stage, entries); err != nil {
		_ = os.Remove(zipPath)
		return "", err
	}
	return zipPath, nil
}

func (b *Builder) zipDir(zipPath, stage string, entries []Entry) (err error) {
	f, err := os.OpenFile(zipPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("create archive: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close archive: %w", cerr)
		}
	}()

	zw := zip.NewWriter(f)
	modified := time.Now()
	if b.clock != nil {
		modified = b.clock.Now()
	}
	for _, e := range entries {
		if err := addFile(zw, filepath.Join(stage, e.Filename), e.Filename, modified); err != nil {
			return err
		}
	}
	if err := zw.Close(); err != nil {
		return fmt.Errorf("finalize archive: %w", err)
	}
	return nil
}

func addFile(zw *zip.Writer, src, name string, modified time.Time) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open staged %s: %w", name, err)
	}
	defer func() {
		_ = in.Close()
	}()
	w, err := zw.CreateHeader(&zip.FileHeader{
		Name:     name,
		Method:   zip.Deflate,
		Modified: modified,
	})
	if err != nil {
		return fmt.Errorf("add %s: %w", name, err)
	}
	if _, err := io.Copy(w, in); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (b *Builder) mirror(ctx context.Context, jobID, zipPath string) (string, error) {
	f, err := os.Open(zipPath)
	if err != nil {
		return "", fmt.Errorf("open archive: %w", err)
	}
	defer func() {
		_ = f.Close()
	}()
	uri, err := b.store.PutObject(ctx, path.Join(b.cfg.BlobPrefix, jobID+".zip"), "application/zip", f)
	if err != nil {
		return "", fmt.Errorf("mirror archive: %w", err)
	}
	return uri, nil
}

var _ crawler.ArchiveBuilder = (*Builder)(nil)
