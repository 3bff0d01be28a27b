package archive

import (
	"regexp"
	"strings"
)

// DefaultTitleScanLines is how many leading lines are searched for a title.
const DefaultTitleScanLines = 30

var (
	markdownLink   = regexp.MustCompile(`\[([^\]]+)\]\([^)]+\)`)
	emphasisMarks  = strings.NewReplacer("*", "", "_", "", "`", "")
	skippedTitleAt = []string{"URL Source:", "Markdown Content:", "# Original URL:", "Published:"}
)

// ExtractTitle finds a document title within the first scanLines lines.
// A level-one heading longer than three characters or a "Title:" line wins;
// otherwise the first level-two heading is used. It returns "" when nothing
// qualifies.
func ExtractTitle(content string, scanLines int) string {
	if scanLines <= 0 {
		scanLines = DefaultTitleScanLines
	}
	lines := strings.SplitN(content, "\n", scanLines+1)
	if len(lines) > scanLines {
		lines = lines[:scanLines]
	}

	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if hasAnyPrefix(line, skippedTitleAt) {
			continue
		}
		if rest, ok := strings.CutPrefix(line, "# "); ok {
			if title := cleanTitle(rest); len(title) > 3 {
				return title
			}
			continue
		}
		if rest, ok := strings.CutPrefix(line, "Title:"); ok {
			if title := cleanTitle(rest); title != "" {
				return title
			}
		}
	}
	for _, raw := range lines {
		line := strings.TrimSpace(raw)
		if rest, ok := strings.CutPrefix(line, "## "); ok {
			if title := cleanTitle(rest); title != "" {
				return title
			}
		}
	}
	return ""
}

func cleanTitle(s string) string {
	s = markdownLink.ReplaceAllString(s, "$1")
	return strings.TrimSpace(emphasisMarks.Replace(s))
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
