package crawler

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/link-content-scraper/internal/hash/sha256"
)

// NormalizeURL standardizes a URL to avoid duplicates.
// It lowercases the scheme and host, removes default ports, sorts query
// parameters and drops the fragment.
func NormalizeURL(rawURL string) (string, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)

	if u.Scheme == "http" && strings.HasSuffix(u.Host, ":80") {
		u.Host = strings.TrimSuffix(u.Host, ":80")
	}
	if u.Scheme == "https" && strings.HasSuffix(u.Host, ":443") {
		u.Host = strings.TrimSuffix(u.Host, ":443")
	}

	u.Fragment = ""
	u.RawQuery = u.Query().Encode()

	return u.String(), nil
}

// IsHTTPURL reports whether rawURL is an absolute http(s) URL with a host.
func IsHTTPURL(rawURL string) bool {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	scheme := strings.ToLower(u.Scheme)
	return (scheme == "http" || scheme == "https") && u.Host != ""
}

var paperPatterns = []*regexp.Regexp{
	regexp.MustCompile(`arxiv\.org/abs/(\d+\.\d+)(v\d+)?`),
	regexp.MustCompile(`arxiv\.org/pdf/(\d+\.\d+)(v\d+)?\.pdf`),
	regexp.MustCompile(`arxiv\.org/html/(\d+\.\d+)(v\d+)?`),
}

// NormalizePaperURL rewrites abstract, PDF and HTML views of an arXiv paper
// to its canonical PDF URL, keeping any version suffix. Other URLs are
// returned unchanged.
func NormalizePaperURL(rawURL string) string {
	for _, re := range paperPatterns {
		m := re.FindStringSubmatch(rawURL)
		if m == nil {
			continue
		}
		return "https://arxiv.org/pdf/" + m[1] + m[2] + ".pdf"
	}
	return rawURL
}

// IsPDFURL reports whether rawURL points at a PDF document.
func IsPDFURL(rawURL string) bool {
	lower := strings.ToLower(rawURL)
	return strings.HasSuffix(lower, ".pdf") || strings.Contains(lower, "arxiv.org/pdf")
}

// TrackerKey derives the progress key for a seed URL.
func TrackerKey(seedURL string) string {
	return sha256.Digest(seedURL)
}
