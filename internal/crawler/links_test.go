package crawler

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

type hostSkip struct{ hosts []string }

func (s hostSkip) Skip(rawURL string) bool {
	for _, h := range s.hosts {
		if strings.Contains(rawURL, h) {
			return true
		}
	}
	return false
}

func TestFilterLinks(t *testing.T) {
	t.Parallel()

	seed := "https://blog.example.com/post"
	hrefs := []string{
		"https://a.example.com/1",
		"/relative",
		"#top",
		"mailto:me@example.com",
		"https://twitter.com/someone",
		"https://a.example.com/1#section",
		"https://blog.example.com/post",
		" https://b.example.com/2 ",
		"http://c.example.com/3",
		"https://a.example.com/1",
	}

	got := FilterLinks(seed, hrefs, hostSkip{hosts: []string{"twitter.com"}})
	require.Equal(t, []string{
		"https://a.example.com/1",
		"https://b.example.com/2",
		"http://c.example.com/3",
	}, got)
}

func TestFilterLinksNilPolicy(t *testing.T) {
	t.Parallel()

	got := FilterLinks("https://example.com", []string{"https://x.com/a"}, nil)
	require.Equal(t, []string{"https://x.com/a"}, got)
}
