// Package detector decides when a seed page must be rendered in a browser
// before its links can be discovered.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/link-content-scraper/internal/crawler"
)

// Heuristic promotes seeds that yielded few links from static markup and look
// like client-rendered applications.
type Heuristic struct {
	BodyLengthThreshold int
	// MinLinks is the link count at or above which static markup is trusted.
	MinLinks int
}

// NewHeuristic creates a new detector.
func NewHeuristic(threshold, minLinks int) *Heuristic {
	if threshold == 0 {
		threshold = 2048
	}
	if minLinks <= 0 {
		minLinks = 1
	}
	return &Heuristic{BodyLengthThreshold: threshold, MinLinks: minLinks}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("data-v-app"),
}

// ShouldPromote decides whether a headless render is required.
func (h *Heuristic) ShouldPromote(page crawler.SeedPage) bool {
	if page.UsedHeadless || page.StatusCode != http.StatusOK {
		return false
	}
	if len(page.Links) >= h.MinLinks {
		return false
	}
	body := page.Body
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptDensityHigh(body) {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

func scriptDensityHigh(body []byte) bool {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(lower[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(lower[contentStart:], closeTag)
		nextSearch := total
		if relativeEnd != -1 {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage*100/total >= 25
}
