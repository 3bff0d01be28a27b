// Package skip decides which URLs are never sent to the extraction service:
// social and media hosts, CDN image hosts and raw image files.
package skip

import (
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
)

// DefaultDomains lists hosts whose pages never yield readable article text.
// Subdomains match as well.
var DefaultDomains = []string{
	"twitter.com",
	"x.com",
	"linkedin.com",
	"facebook.com",
	"instagram.com",
	"youtube.com",
	"substackcdn.com",
}

// DefaultExtensions lists image extensions matched against the URL path.
var DefaultExtensions = []string{".png", ".jpg", ".jpeg", ".gif", ".webp"}

// Config holds the skip rules. Patterns are extra regular expressions matched
// case-insensitively against the whole URL.
type Config struct {
	Domains    []string
	Extensions []string
	Patterns   []string
}

// DefaultConfig returns the built-in rule set.
func DefaultConfig() Config {
	return Config{
		Domains:    append([]string(nil), DefaultDomains...),
		Extensions: append([]string(nil), DefaultExtensions...),
	}
}

// Matcher evaluates URLs against the configured rules. It is safe for
// concurrent use once built.
type Matcher struct {
	exact      map[string]struct{}
	suffixes   []string
	extensions []string
	patterns   []*regexp.Regexp
}

// New compiles cfg into a Matcher.
func New(cfg Config) (*Matcher, error) {
	m := &Matcher{exact: make(map[string]struct{})}
	for _, raw := range cfg.Domains {
		value := strings.TrimSpace(strings.ToLower(raw))
		value = strings.TrimPrefix(strings.TrimPrefix(value, "*"), ".")
		if value == "" {
			continue
		}
		m.exact[value] = struct{}{}
		m.addSuffix(value)
	}
	for _, raw := range cfg.Extensions {
		ext := strings.TrimSpace(strings.ToLower(raw))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		m.extensions = append(m.extensions, ext)
	}
	for _, raw := range cfg.Patterns {
		re, err := regexp.Compile("(?i)" + raw)
		if err != nil {
			return nil, fmt.Errorf("compile skip pattern %q: %w", raw, err)
		}
		m.patterns = append(m.patterns, re)
	}
	return m, nil
}

func (m *Matcher) addSuffix(suffix string) {
	for _, existing := range m.suffixes {
		if existing == suffix {
			return
		}
	}
	m.suffixes = append(m.suffixes, suffix)
}

// Skip reports whether rawURL matches any rule.
func (m *Matcher) Skip(rawURL string) bool {
	if m == nil {
		return false
	}
	for _, re := range m.patterns {
		if re.MatchString(rawURL) {
			return true
		}
	}
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return false
	}
	if m.hostBlocked(u.Hostname()) {
		return true
	}
	ext := strings.ToLower(path.Ext(u.Path))
	for _, candidate := range m.extensions {
		if ext == candidate {
			return true
		}
	}
	return false
}

func (m *Matcher) hostBlocked(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	if host == "" {
		return false
	}
	if _, ok := m.exact[host]; ok {
		return true
	}
	for _, suffix := range m.suffixes {
		if strings.HasSuffix(host, "."+suffix) {
			return true
		}
	}
	return false
}
