// Package extractsvc serves the content extraction contract in-process:
// GET /<target-url> downloads the target page and returns it as markdown,
// preceded by Title, URL Source and Markdown Content headers.
package extractsvc

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	md "github.com/JohannesKaufmann/html-to-markdown"
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/link-content-scraper/internal/crawler"
)

// Config controls how target pages are downloaded.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int64
}

const (
	defaultTimeout      = 20 * time.Second
	defaultMaxBodyBytes = 10 << 20
)

var errUnsupportedType = errors.New("unsupported content type")

// Handler converts pages to markdown.
type Handler struct {
	cfg       Config
	client    *http.Client
	converter *md.Converter
	logger    *zap.Logger
}

// New builds a Handler. client may be nil to use a default client.
func New(cfg Config, client *http.Client, logger *zap.Logger) *Handler {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = defaultMaxBodyBytes
	}
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		cfg:       cfg,
		client:    client,
		converter: md.NewConverter("", true, nil),
		logger:    logger,
	}
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	target := TargetFromRequest(r)
	if !crawler.IsHTTPURL(target) {
		http.Error(w, "target must be an absolute http(s) URL", http.StatusBadRequest)
		return
	}

	doc, err := h.Extract(r.Context(), target)
	var statusErr *crawler.StatusError
	switch {
	case err == nil:
	case errors.As(err, &statusErr):
		http.Error(w, err.Error(), statusErr.StatusCode)
		return
	case errors.Is(err, errUnsupportedType):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		return
	default:
		h.logger.Debug("extraction failed", zap.String("url", target), zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	if _, err := io.WriteString(w, doc); err != nil {
		h.logger.Debug("write extraction response", zap.Error(err))
	}
}

// Extract downloads target and renders it in the extraction output format.
func (h *Handler) Extract(ctx context.Context, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, h.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	if h.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", h.cfg.UserAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.5")

	resp, err := h.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch target: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &crawler.StatusError{URL: target, StatusCode: resp.StatusCode}
	}
	if !isHTML(resp.Header.Get("Content-Type")) {
		return "", fmt.Errorf("%w: %s", errUnsupportedType, resp.Header.Get("Content-Type"))
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, h.cfg.MaxBodyBytes))
	if err != nil {
		return "", fmt.Errorf("read target: %w", err)
	}
	return h.Render(target, body)
}

// Render converts HTML markup into the extraction output format.
func (h *Handler) Render(target string, markup []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse html: %w", err)
	}
	title := strings.TrimSpace(doc.Find("title").First().Text())
	doc.Find("script, style, noscript, template, iframe").Remove()

	root := doc.Find("main, article").First()
	if root.Length() == 0 {
		root = doc.Find("body").First()
	}
	html, err := goquery.OuterHtml(root)
	if err != nil {
		return "", fmt.Errorf("serialize html: %w", err)
	}
	markdown, err := h.converter.ConvertString(html)
	if err != nil {
		return "", fmt.Errorf("convert to markdown: %w", err)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Title: %s\n\n", title)
	fmt.Fprintf(&b, "URL Source: %s\n\n", target)
	b.WriteString("Markdown Content:\n")
	b.WriteString(strings.TrimSpace(markdown))
	b.WriteString("\n")
	return b.String(), nil
}

// TargetFromRequest recovers the target URL from the request path and query.
// Proxies and routers sometimes collapse "https://" to "https:/"; that form is
// repaired.
func TargetFromRequest(r *http.Request) string {
	target := strings.TrimPrefix(r.URL.Path, "/")
	for _, scheme := range []string{"https:/", "http:/"} {
		if strings.HasPrefix(target, scheme) && !strings.HasPrefix(target, scheme+"/") {
			target = scheme + "/" + strings.TrimPrefix(target, scheme)
			break
		}
	}
	if r.URL.RawQuery != "" {
		target += "?" + r.URL.RawQuery
	}
	return target
}

func isHTML(contentType string) bool {
	if contentType == "" {
		return true
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mediaType == "text/html" || mediaType == "application/xhtml+xml"
}
