package crawler

import "strings"

// FilterLinks turns the raw hrefs of a seed page into the crawl list: only
// absolute http(s) links are kept, skip rules are applied, duplicates are
// dropped keeping the first occurrence, and the seed itself is excluded.
func FilterLinks(seedURL string, hrefs []string, skip SkipPolicy) []string {
	seen := newVisitSet()
	seen.MarkIfNew(dedupeKey(seedURL))

	out := make([]string, 0, len(hrefs))
	for _, href := range hrefs {
		href = strings.TrimSpace(href)
		if !IsHTTPURL(href) {
			continue
		}
		if skip != nil && skip.Skip(href) {
			continue
		}
		if !seen.MarkIfNew(dedupeKey(href)) {
			continue
		}
		out = append(out, href)
	}
	return out
}

func dedupeKey(rawURL string) string {
	if normalized, err := NormalizeURL(rawURL); err == nil {
		return normalized
	}
	return rawURL
}

type visitSet struct {
	seen map[string]struct{}
}

func newVisitSet() *visitSet {
	return &visitSet{seen: make(map[string]struct{})}
}

// MarkIfNew stores the key if it has not been seen before and returns true.
func (s *visitSet) MarkIfNew(key string) bool {
	if key == "" {
		return false
	}
	if _, ok := s.seen[key]; ok {
		return false
	}
	s.seen[key] = struct{}{}
	return true
}
